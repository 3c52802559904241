package stream

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/streamify/backend/internal/logging"
	"github.com/streamify/backend/internal/models"
)

// Upserter pushes identities to the provider.
type Upserter interface {
	UpsertUsers(ctx context.Context, identities ...models.ProviderIdentity) error
}

// SyncerConfig controls the concurrency characteristics of the Syncer.
type SyncerConfig struct {
	QueueSize int
	Workers   int
	Timeout   time.Duration
}

// ErrSyncerClosed is returned by Enqueue after Shutdown.
var ErrSyncerClosed = errors.New("user syncer closed")

// ErrSyncerBusy is returned by Enqueue when the queue is full. The identity is dropped.
var ErrSyncerBusy = errors.New("user syncer queue full")

// Syncer asynchronously mirrors account identities to the provider so that
// signup and onboarding never wait on, or fail because of, the provider.
type Syncer struct {
	upserter Upserter
	timeout  time.Duration
	logger   *slog.Logger

	jobs   chan models.ProviderIdentity
	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
	once   sync.Once
}

// NewSyncer starts the worker pool.
func NewSyncer(upserter Upserter, cfg SyncerConfig, logger *slog.Logger) *Syncer {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 16
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Syncer{
		upserter: upserter,
		timeout:  cfg.Timeout,
		logger:   logger,
		jobs:     make(chan models.ProviderIdentity, cfg.QueueSize),
		ctx:      ctx,
		cancel:   cancel,
	}

	s.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go s.worker()
	}
	return s
}

// Enqueue schedules identity for upsert without waiting. A full queue drops
// the identity and returns ErrSyncerBusy.
func (s *Syncer) Enqueue(ctx context.Context, identity models.ProviderIdentity) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrSyncerClosed
	}

	select {
	case s.jobs <- identity:
		return nil
	default:
		s.logger.Warn("provider user sync dropped", "userId", identity.ID, "reason", "queue full")
		return ErrSyncerBusy
	}
}

// Shutdown stops accepting work and waits for queued identities to be pushed.
func (s *Syncer) Shutdown(ctx context.Context) error {
	s.once.Do(func() {
		s.cancel()
		s.mu.Lock()
		s.closed = true
		close(s.jobs)
		s.mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (s *Syncer) worker() {
	defer s.wg.Done()
	for identity := range s.jobs {
		s.handle(identity)
	}
}

func (s *Syncer) handle(identity models.ProviderIdentity) {
	if s.upserter == nil {
		s.logger.Error("user syncer missing upserter", "userId", identity.ID)
		return
	}

	ctx, cancel := context.WithTimeout(logging.WithLogger(context.Background(), s.logger), s.timeout)
	defer cancel()
	ctx, span := logging.StartSpan(ctx, "stream.upsert_user")
	defer span.End()

	if err := s.upserter.UpsertUsers(ctx, identity); err != nil {
		logging.FromContext(ctx).Error("provider user sync failed", "userId", identity.ID, "error", err)
		return
	}
	logging.FromContext(ctx).Debug("provider user synced", "userId", identity.ID)
}
