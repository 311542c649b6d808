package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRangeTTLUntilEndOfUTCDay(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	require.Equal(t, 11*time.Hour+59*time.Minute+59*time.Second, RangeTTL(now))
}

func TestRangeTTLFloorsAtSixtySeconds(t *testing.T) {
	now := time.Date(2025, 3, 10, 23, 59, 30, 0, time.UTC)
	require.Equal(t, MinRangeTTL, RangeTTL(now))

	now = time.Date(2025, 3, 10, 23, 58, 0, 0, time.UTC)
	require.Equal(t, 119*time.Second, RangeTTL(now))
}

func TestRangeTTLUsesUTCDay(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*60*60)
	// 20:00 local is 01:00 UTC the next day.
	now := time.Date(2025, 3, 10, 20, 0, 0, 0, loc)
	require.Equal(t, 22*time.Hour+59*time.Minute+59*time.Second, RangeTTL(now))
}

func TestKeys(t *testing.T) {
	start := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	rk := RangeKey(start, start.AddDate(0, 0, 7))
	require.Equal(t, "neo:range:2025-03-10:2025-03-17", rk.Name)
	require.Equal(t, FamilyRange, rk.Family)

	ek := EntityKey("2465633")
	require.Equal(t, "neo:entity:2465633", ek.Name)
	require.Equal(t, EntityTTL, ek.TTL(start))
	require.Equal(t, 21600*time.Second, EntityTTL)
}

func TestETag(t *testing.T) {
	etag := ComputeETag([]byte("payload"))
	require.Equal(t, etag, ComputeETag([]byte("payload")))
	require.NotEqual(t, etag, ComputeETag([]byte("other")))

	require.True(t, ETagMatches(etag, etag))
	require.True(t, ETagMatches(`"abc", `+etag, etag))
	require.True(t, ETagMatches("*", etag))
	require.False(t, ETagMatches("", etag))
}
