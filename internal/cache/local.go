package cache

import (
	"context"
	"sync"
	"time"
)

type localEntry struct {
	value   string
	expires time.Time
}

func (e localEntry) expired(now time.Time) bool {
	return !e.expires.IsZero() && !now.Before(e.expires)
}

// Local is an in-process Cache with TTL support and periodic eviction.
type Local struct {
	mu    sync.RWMutex
	items map[string]localEntry

	now  func() time.Time
	stop chan struct{}
	once sync.Once
}

// NewLocal returns a Local cache that sweeps expired keys every gcInterval.
func NewLocal(gcInterval time.Duration) *Local {
	if gcInterval <= 0 {
		gcInterval = 30 * time.Second
	}
	c := &Local{
		items: make(map[string]localEntry),
		now:   time.Now,
		stop:  make(chan struct{}),
	}
	go c.runGC(gcInterval)
	return c
}

func (c *Local) runGC(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.evictExpired()
		case <-c.stop:
			return
		}
	}
}

func (c *Local) evictExpired() {
	now := c.now()
	c.mu.Lock()
	for key, entry := range c.items {
		if entry.expired(now) {
			delete(c.items, key)
		}
	}
	c.mu.Unlock()
}

// Get returns the value stored under key.
func (c *Local) Get(_ context.Context, key string) (string, error) {
	c.mu.RLock()
	entry, ok := c.items[key]
	c.mu.RUnlock()
	if !ok || entry.expired(c.now()) {
		return "", ErrNotFound
	}
	return entry.value, nil
}

// Set stores value under key. A non-positive ttl keeps the key until deleted.
func (c *Local) Set(_ context.Context, key, value string, ttl time.Duration) error {
	entry := localEntry{value: value}
	if ttl > 0 {
		entry.expires = c.now().Add(ttl)
	}
	c.mu.Lock()
	c.items[key] = entry
	c.mu.Unlock()
	return nil
}

// Exists reports whether key holds an unexpired value.
func (c *Local) Exists(ctx context.Context, key string) (bool, error) {
	if _, err := c.Get(ctx, key); err != nil {
		return false, nil
	}
	return true, nil
}

// Close stops the eviction loop.
func (c *Local) Close() error {
	c.once.Do(func() { close(c.stop) })
	return nil
}

var _ Cache = (*Local)(nil)
