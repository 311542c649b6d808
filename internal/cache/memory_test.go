package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type manualClock struct{ now time.Time }

func (c *manualClock) Now() time.Time          { return c.now }
func (c *manualClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func TestMemoryStoreExpiry(t *testing.T) {
	clock := &manualClock{now: time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)}
	store := NewMemoryStore(clock.Now)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", []byte("v"), time.Minute))
	got, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v"), got)

	clock.Advance(time.Minute)
	_, ok, err = store.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok, "entry must be absent at its expiry instant")

	removed, err := store.PurgeExpired(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, removed)
	require.Zero(t, store.Len())
}

func TestMemoryStoreIncrementWindow(t *testing.T) {
	clock := &manualClock{now: time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)}
	store := NewMemoryStore(clock.Now)
	ctx := context.Background()

	count, ttl, err := store.IncrementWithTTL(ctx, "rl", time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
	require.Equal(t, time.Minute, ttl)

	clock.Advance(20 * time.Second)
	count, ttl, err = store.IncrementWithTTL(ctx, "rl", time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 2, count)
	require.Equal(t, 40*time.Second, ttl)

	clock.Advance(time.Minute)
	count, _, err = store.IncrementWithTTL(ctx, "rl", time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
}

func TestMemoryStoreCopiesValues(t *testing.T) {
	store := NewMemoryStore(nil)
	ctx := context.Background()

	value := []byte("abc")
	require.NoError(t, store.Set(ctx, "k", value, 0))
	value[0] = 'x'

	got, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "abc", string(got))

	require.NoError(t, store.Delete(ctx, "k", "missing"))
	_, ok, _ = store.Get(ctx, "k")
	require.False(t, ok)
}
