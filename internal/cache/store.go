// Package cache provides the byte-oriented key/value stores backing the feed
// cache and request rate limiting, plus the FeedCache read-through layer.
package cache

import (
	"context"
	"time"
)

// Store represents a shared cache interface used across the application.
// Expired entries must behave as absent.
type Store interface {
	IncrementWithTTL(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, keys ...string) error
}

// Purger is implemented by stores that keep expired entries around until swept.
type Purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// Pinger is implemented by stores backed by a remote server.
type Pinger interface {
	Ping(ctx context.Context) error
}
