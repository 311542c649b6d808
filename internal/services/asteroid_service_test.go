package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cosmicwatch/neowatch/internal/cache"
	"github.com/cosmicwatch/neowatch/internal/feed"
	"github.com/cosmicwatch/neowatch/internal/neo"
	apperrors "github.com/cosmicwatch/neowatch/pkg/errors"
)

func newTestAsteroidService(t *testing.T, source *stubFeed) *AsteroidService {
	t.Helper()
	fc := cache.NewFeedCache(cache.NewMemoryStore(fixedClock), cache.WithFeedClock(fixedClock))
	svc, err := NewAsteroidService(source, fc, WithAsteroidClock(fixedClock))
	require.NoError(t, err)
	return svc
}

func TestAsteroidServiceGetEntityIsCached(t *testing.T) {
	rec := approachIn("3542519", 3, true, 0.04, 0.5)
	source := &stubFeed{entities: map[string]*neo.AsteroidRecord{rec.ID: rec}}
	svc := newTestAsteroidService(t, source)

	first, err := svc.GetEntity(context.Background(), rec.ID)
	require.NoError(t, err)
	second, err := svc.GetEntity(context.Background(), rec.ID)
	require.NoError(t, err)

	require.Equal(t, 1, source.entityCalls)
	require.Equal(t, first, second)
	require.Equal(t, neo.RiskHigh, second.RiskTier)
	require.NotNil(t, second.NextApproach)
}

func TestAsteroidServiceGetEntityRecomputesNextApproachAfterMidnight(t *testing.T) {
	current := time.Date(2024, time.June, 1, 23, 0, 0, 0, time.UTC)
	clock := func() time.Time { return current }

	rec := &neo.AsteroidRecord{
		ID:          "3542519",
		Name:        "(2010 PK9)",
		Diameter:    neo.Diameter{MinKM: 0.25, MaxKM: 0.5},
		IsHazardous: true,
		CloseApproaches: []neo.CloseApproach{
			{Date: "2024-06-01", MissDistance: neo.MissDistance{AU: 0.5}},
			{Date: "2024-06-04", MissDistance: neo.MissDistance{AU: 0.04}},
		},
	}
	rec.Annotate(current)
	require.Equal(t, neo.RiskLow, rec.RiskTier)

	source := &stubFeed{entities: map[string]*neo.AsteroidRecord{rec.ID: rec}}
	fc := cache.NewFeedCache(cache.NewMemoryStore(clock), cache.WithFeedClock(clock))
	svc, err := NewAsteroidService(source, fc, WithAsteroidClock(clock))
	require.NoError(t, err)

	before, err := svc.GetEntity(context.Background(), rec.ID)
	require.NoError(t, err)
	require.Equal(t, "2024-06-01", before.NextApproach.Date)

	current = time.Date(2024, time.June, 2, 0, 30, 0, 0, time.UTC)

	after, err := svc.GetEntity(context.Background(), rec.ID)
	require.NoError(t, err)
	require.Equal(t, 1, source.entityCalls)
	require.Len(t, after.CloseApproaches, 2)
	require.NotNil(t, after.NextApproach)
	require.Equal(t, "2024-06-04", after.NextApproach.Date)
	require.Equal(t, neo.RiskHigh, after.RiskTier)

	matcher := NewAlertMatcher(svc, WithMatcherClock(clock))
	candidates, err := matcher.Match(context.Background(), []string{rec.ID}, highOnlyPrefs())
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	require.Equal(t, 2, candidates[0].DaysAway)
	require.Equal(t, 1, source.entityCalls)
}

func TestAsteroidServiceTranslatesFeedErrors(t *testing.T) {
	svc := newTestAsteroidService(t, &stubFeed{entities: map[string]*neo.AsteroidRecord{}})
	_, err := svc.GetEntity(context.Background(), "404")
	require.ErrorIs(t, err, apperrors.ErrAsteroidNotFound)

	failing := newTestAsteroidService(t, &stubFeed{err: errors.Join(feed.ErrUpstream, errors.New("timeout"))})
	_, err = failing.GetRange(context.Background(), DateRange{Start: testNow, End: testNow})
	require.ErrorIs(t, err, apperrors.ErrUpstreamUnavailable)

	_, err = svc.GetEntity(context.Background(), "  ")
	require.ErrorIs(t, err, apperrors.ErrBadRequest)
}

func TestAsteroidServiceFailedFetchIsNotCached(t *testing.T) {
	source := &stubFeed{err: feed.ErrUpstream}
	svc := newTestAsteroidService(t, source)
	r := DateRange{Start: neo.UTCMidnight(testNow), End: neo.UTCMidnight(testNow)}

	_, err := svc.GetRange(context.Background(), r)
	require.Error(t, err)

	source.mu.Lock()
	source.err = nil
	source.ranged = []neo.AsteroidRecord{*approachIn("1", 0, false, 0.1, 0.1)}
	source.mu.Unlock()

	records, err := svc.GetRange(context.Background(), r)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, 2, source.rangeCalls)
}

func TestAsteroidServiceEmptyRangeEncodesAsList(t *testing.T) {
	svc := newTestAsteroidService(t, &stubFeed{})
	raw, err := svc.GetRangeRaw(context.Background(), DateRange{Start: testNow, End: testNow})
	require.NoError(t, err)
	require.JSONEq(t, `[]`, string(raw))
}

func TestAsteroidServiceWarm(t *testing.T) {
	rec := approachIn("2000433", 2, false, 0.15, 20)
	source := &stubFeed{entities: map[string]*neo.AsteroidRecord{rec.ID: rec}}
	svc := newTestAsteroidService(t, source)

	warmed, failed := svc.Warm(context.Background(), testNow, []string{rec.ID, "missing", rec.ID})
	require.Equal(t, 2, warmed)
	require.Equal(t, 1, failed)
	require.Equal(t, 1, source.rangeCalls)
}

func TestParseDateRange(t *testing.T) {
	r, err := ParseDateRange("2024-06-03", "", "", testNow)
	require.NoError(t, err)
	require.Equal(t, "2024-06-03", r.Start.Format(neo.DateLayout))
	require.Equal(t, r.Start, r.End)

	r, err = ParseDateRange("", "", "", testNow)
	require.NoError(t, err)
	require.Equal(t, "2024-06-01", r.Start.Format(neo.DateLayout))

	r, err = ParseDateRange("", "2024-06-01", "2024-06-08", testNow)
	require.NoError(t, err)
	require.Equal(t, 7, r.Span())

	for _, tc := range [][3]string{
		{"bad", "", ""},
		{"", "2024-06-01", ""},
		{"", "2024-06-05", "2024-06-01"},
		{"", "2024-06-01", "2024-06-09"},
		{"", "06/01/2024", "2024-06-02"},
	} {
		_, err := ParseDateRange(tc[0], tc[1], tc[2], testNow)
		require.ErrorIs(t, err, apperrors.ErrInvalidDateRange, "input %v", tc)
	}
}
