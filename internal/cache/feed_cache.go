package cache

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/cosmicwatch/neowatch/pkg/logger"
	"github.com/cosmicwatch/neowatch/pkg/metrics"
)

const (
	defaultFetchTimeout = 10 * time.Second
	storeTimeout        = 2 * time.Second
)

// FetchFunc loads the upstream representation for a missing key.
type FetchFunc func(ctx context.Context) ([]byte, error)

// FeedCache is a read-through cache over a Store. Concurrent misses for the
// same key share a single upstream fetch. Backend failures degrade to a miss
// and never reach the caller.
type FeedCache struct {
	store        Store
	group        singleflight.Group
	now          func() time.Time
	fetchTimeout time.Duration
	log          *zap.Logger
}

// FeedCacheOption customises a FeedCache.
type FeedCacheOption func(*FeedCache)

// WithFeedClock overrides the clock used for TTL evaluation.
func WithFeedClock(now func() time.Time) FeedCacheOption {
	return func(c *FeedCache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithFetchTimeout bounds the shared upstream fetch.
func WithFetchTimeout(timeout time.Duration) FeedCacheOption {
	return func(c *FeedCache) {
		if timeout > 0 {
			c.fetchTimeout = timeout
		}
	}
}

// NewFeedCache wraps store. A nil store falls back to a MemoryStore.
func NewFeedCache(store Store, opts ...FeedCacheOption) *FeedCache {
	c := &FeedCache{
		store:        store,
		now:          time.Now,
		fetchTimeout: defaultFetchTimeout,
		log:          logger.WithModule("feed_cache"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.store == nil {
		c.store = NewMemoryStore(c.now)
	}
	return c
}

// GetOrFetch returns the cached bytes for key, calling fetch on a miss and
// storing its result with the key's TTL. The returned slice is shared between
// concurrent callers and must not be modified.
//
// The shared fetch is detached from the first caller's cancellation so that a
// departing caller does not fail the others; each caller still stops waiting
// when its own ctx is done.
func (c *FeedCache) GetOrFetch(ctx context.Context, key Key, fetch FetchFunc) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	if data, ok := c.lookup(ctx, key); ok {
		metrics.FeedCacheLookups.WithLabelValues(key.Family, "hit").Inc()
		return data, nil
	}
	metrics.FeedCacheLookups.WithLabelValues(key.Family, "miss").Inc()

	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key.Name, func() (interface{}, error) {
		// a flight that finished between our miss and this call has already stored the value
		if data, ok, err := c.store.Get(detached, key.Name); err == nil && ok {
			return data, nil
		}

		fetchCtx, cancel := context.WithTimeout(detached, c.fetchTimeout)
		defer cancel()

		data, err := fetch(fetchCtx)
		if err != nil {
			return nil, err
		}
		c.save(detached, key, data)
		return data, nil
	})

	select {
	case res := <-ch:
		if res.Shared {
			metrics.FeedCacheSharedFetches.WithLabelValues(key.Family).Inc()
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("feed cache: waiting for %s: %w", key.Name, ctx.Err())
	}
}

// Invalidate drops cached entries for the given keys.
func (c *FeedCache) Invalidate(ctx context.Context, keys ...Key) error {
	names := make([]string, 0, len(keys))
	for _, k := range keys {
		names = append(names, k.Name)
	}
	return c.store.Delete(ctx, names...)
}

func (c *FeedCache) lookup(ctx context.Context, key Key) ([]byte, bool) {
	data, ok, err := c.store.Get(ctx, key.Name)
	if err != nil {
		metrics.FeedCacheLookups.WithLabelValues(key.Family, "error").Inc()
		c.log.Warn("cache read failed, treating as miss", zap.String("key", key.Name), zap.Error(err))
		return nil, false
	}
	return data, ok
}

func (c *FeedCache) save(ctx context.Context, key Key, data []byte) {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	ttl := key.TTL(c.now())
	if err := c.store.Set(ctx, key.Name, data, ttl); err != nil {
		metrics.FeedCacheLookups.WithLabelValues(key.Family, "error").Inc()
		c.log.Warn("cache write failed", zap.String("key", key.Name), zap.Duration("ttl", ttl), zap.Error(err))
	}
}
