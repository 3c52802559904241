package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/streamify/backend/internal/auth"
	"github.com/streamify/backend/internal/cache"
	"github.com/streamify/backend/internal/config"
	"github.com/streamify/backend/internal/db"
	"github.com/streamify/backend/internal/friends"
	"github.com/streamify/backend/internal/handlers"
	"github.com/streamify/backend/internal/middleware"
	"github.com/streamify/backend/internal/repositories"
	"github.com/streamify/backend/internal/storage"
	"github.com/streamify/backend/internal/stream"
)

// cleanupFunc releases resources created by buildDependencies.
type cleanupFunc func(ctx context.Context) error

// buildDependencies wires together concrete implementations used by the HTTP handlers.
func buildDependencies(ctx context.Context, pool db.Pool, cfg config.Config, logger *slog.Logger) (handlers.Dependencies, cleanupFunc, error) {
	if logger == nil {
		logger = slog.Default()
	}

	kv, err := cache.New(ctx, cache.Config{
		RedisAddr:       cfg.Cache.RedisAddr,
		RedisPassword:   cfg.Cache.RedisPassword,
		RedisDB:         cfg.Cache.RedisDB,
		LocalGCInterval: cfg.Cache.LocalGCInterval,
	})
	if err != nil {
		return handlers.Dependencies{}, nil, fmt.Errorf("init cache: %w", err)
	}

	users := repositories.NewPostgresUserRepository(pool)
	sessions := auth.NewManager([]byte(cfg.Auth.JWTSecret), cfg.Auth.AccessTTL, cfg.Auth.RefreshTTL, repositories.NewPostgresSessionStore(pool), kv)
	tokens := stream.NewTokenIssuer(cfg.Stream.APIKey, cfg.Stream.APISecret, cfg.Stream.TokenTTL)
	tokens.CallBaseURL = cfg.Stream.CallBaseURL

	deps := handlers.Dependencies{
		Users:          users,
		Sessions:       sessions,
		Friends:        friends.NewService(repositories.NewPostgresFriendRepository(pool), users),
		Tokens:         tokens,
		AvatarMaxBytes: cfg.ObjectStore.MaxBytes,
		CookieSecure:   cfg.Auth.CookieSecure,
		HealthChecks: map[string]handlers.HealthCheck{
			"database": pool.Ping,
			"cache": func(ctx context.Context) error {
				_, err := kv.Exists(ctx, "healthz")
				return err
			},
		},
	}

	if cfg.RateLimit.RequestsPerMinute > 0 {
		deps.AuthLimiter = middleware.NewKeyedRateLimiter(cfg.RateLimit.RequestsPerMinute, time.Minute, cfg.RateLimit.Burst, 10*time.Minute)
	}

	avatars, err := storage.NewS3Storage(ctx, cfg.ObjectStore)
	switch {
	case err == nil:
		deps.Avatars = avatars
	case errors.Is(err, storage.ErrNotConfigured):
		logger.Info("avatar uploads disabled: no bucket configured")
	default:
		_ = kv.Close()
		return handlers.Dependencies{}, nil, fmt.Errorf("init avatar storage: %w", err)
	}

	var syncer *stream.Syncer
	if cfg.Stream.APIKey != "" && cfg.Stream.APISecret != "" {
		client := stream.NewClient(cfg.Stream.BaseURL, cfg.Stream.APIKey, cfg.Stream.APISecret, cfg.Stream.SyncTimeout)
		syncer = stream.NewSyncer(client, stream.SyncerConfig{
			QueueSize: cfg.Stream.SyncQueue,
			Workers:   cfg.Stream.SyncWorkers,
			Timeout:   cfg.Stream.SyncTimeout,
		}, logger)
		deps.Sync = syncer
	} else {
		logger.Warn("chat provider credentials missing: token issuance and user sync disabled")
	}

	cleanup := func(ctx context.Context) error {
		var errs []error
		if syncer != nil {
			if err := syncer.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("shutdown provider sync: %w", err))
			}
		}
		if err := kv.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close cache: %w", err))
		}
		return errors.Join(errs...)
	}

	return deps, cleanup, nil
}
