package cache

import (
	"time"

	"github.com/cosmicwatch/neowatch/internal/neo"
)

const (
	FamilyRange  = "range"
	FamilyEntity = "entity"

	// EntityTTL is the lifetime of a single-object detail entry.
	EntityTTL = 6 * time.Hour
	// MinRangeTTL keeps range entries written just before midnight alive briefly.
	MinRangeTTL = 60 * time.Second
)

// Key identifies a feed cache entry and carries its expiry policy.
type Key struct {
	Name   string
	Family string
	ttl    func(now time.Time) time.Duration
}

// TTL evaluates the key's expiry policy at the moment of storing.
func (k Key) TTL(now time.Time) time.Duration {
	if k.ttl == nil {
		return EntityTTL
	}
	return k.ttl(now)
}

// RangeKey addresses the feed for [start, end]. Range entries expire at the end
// of the current UTC day.
func RangeKey(start, end time.Time) Key {
	return Key{
		Name:   "neo:range:" + start.UTC().Format(neo.DateLayout) + ":" + end.UTC().Format(neo.DateLayout),
		Family: FamilyRange,
		ttl:    RangeTTL,
	}
}

// EntityKey addresses the detail record of one object.
func EntityKey(id string) Key {
	return Key{
		Name:   "neo:entity:" + id,
		Family: FamilyEntity,
		ttl:    func(time.Time) time.Duration { return EntityTTL },
	}
}

// RangeTTL returns whole seconds remaining until 23:59:59.999 UTC of now's
// day, never less than MinRangeTTL.
func RangeTTL(now time.Time) time.Duration {
	endOfDay := neo.UTCMidnight(now).Add(24*time.Hour - time.Millisecond)
	remaining := endOfDay.Sub(now.UTC()).Truncate(time.Second)
	if remaining < MinRangeTTL {
		return MinRangeTTL
	}
	return remaining
}
