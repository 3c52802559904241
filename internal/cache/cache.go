// Package cache provides the small key/value store used for short-lived
// server state such as revoked access tokens. Redis backs it in production;
// an in-process map serves single-instance and test deployments.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key does not exist or has expired.
var ErrNotFound = errors.New("cache: key not found")

// Cache is the subset of key/value operations the server relies on.
type Cache interface {
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Exists(ctx context.Context, key string) (bool, error)
	Close() error
}

// Config selects and tunes the cache backend.
type Config struct {
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	LocalGCInterval time.Duration
}

// New returns a Redis-backed cache when RedisAddr is set, otherwise a local one.
func New(ctx context.Context, cfg Config) (Cache, error) {
	if cfg.RedisAddr != "" {
		return NewRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	}
	return NewLocal(cfg.LocalGCInterval), nil
}
