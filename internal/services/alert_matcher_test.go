package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cosmicwatch/neowatch/internal/models"
	"github.com/cosmicwatch/neowatch/internal/neo"
)

func TestMatchesHighRiskScenario(t *testing.T) {
	rec := approachIn("3542519", 3, true, 0.04, 0.5)
	require.Equal(t, neo.RiskHigh, rec.RiskTier)

	c, ok := Matches(rec, highOnlyPrefs(), testNow)
	require.True(t, ok)
	require.Equal(t, "3542519", c.AsteroidID)
	require.Equal(t, neo.RiskHigh, c.RiskLevel)
	require.Equal(t, 3, c.DaysAway)
	require.Equal(t, "2024-06-04", c.CloseApproachDate)
	require.Equal(t, highRiskMessage, c.Message)
	require.Equal(t, "/asteroid/3542519", c.AppURL)
}

func TestMatchesRequiresListedTier(t *testing.T) {
	rec := approachIn("3542519", 3, true, 0.04, 0.5)
	prefs := highOnlyPrefs()
	prefs.NotifyRiskLevels = []string{"LOW"}

	_, ok := Matches(rec, prefs, testNow)
	require.False(t, ok)
}

func TestMatchesDaysBoundaryIsInclusive(t *testing.T) {
	prefs := highOnlyPrefs()

	_, ok := Matches(approachIn("a", prefs.DaysBeforeApproach, true, 0.04, 0.5), prefs, testNow)
	require.True(t, ok)

	_, ok = Matches(approachIn("b", prefs.DaysBeforeApproach+1, true, 0.04, 0.5), prefs, testNow)
	require.False(t, ok)
}

func TestMatchesThresholds(t *testing.T) {
	prefs := models.AlertPreferences{
		DaysBeforeApproach: 7,
		MaxMissDistanceAU:  0.1,
		MinDiameterKM:      0.3,
		NotifyRiskLevels:   []string{"LOW", "MEDIUM", "HIGH"},
	}

	tests := []struct {
		name string
		rec  *neo.AsteroidRecord
		want bool
	}{
		{"medium within thresholds", approachIn("m", 2, false, 0.1, 0.3), true},
		{"too far", approachIn("f", 2, false, 0.11, 1), false},
		{"too small", approachIn("s", 2, true, 0.01, 0.29), false},
		{"no approach", &neo.AsteroidRecord{ID: "n", RiskTier: neo.RiskLow}, false},
		{"nil record", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, ok := Matches(tt.rec, prefs, testNow)
			require.Equal(t, tt.want, ok)
			if ok {
				require.Equal(t, approachMessage, c.Message)
			}
		})
	}
}

func TestMatchesIgnoresApproachThatAlreadyPassed(t *testing.T) {
	rec := approachIn("stale", 0, true, 0.04, 0.5)
	_, ok := Matches(rec, highOnlyPrefs(), testNow.AddDate(0, 0, 1))
	require.False(t, ok)
}

func TestAlertMatcherSkipsUnresolvedEntries(t *testing.T) {
	lookup := newStubLookup(
		approachIn("hit", 1, true, 0.01, 1),
		approachIn("miss", 30, true, 0.01, 1),
	)
	lookup.errs["broken"] = errors.New("upstream timeout")

	m := NewAlertMatcher(lookup, WithMatcherClock(fixedClock), WithMatcherConcurrency(2))
	got, err := m.Match(context.Background(), []string{"broken", "hit", "unknown", "miss", "hit"}, highOnlyPrefs())
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "hit", got[0].AsteroidID)
	require.Equal(t, 1, lookup.calls["hit"])
}

func TestAlertMatcherEmptyWatchlist(t *testing.T) {
	m := NewAlertMatcher(newStubLookup())
	got, err := m.Match(context.Background(), nil, highOnlyPrefs())
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestAlertMatcherHonoursCancellation(t *testing.T) {
	m := NewAlertMatcher(newStubLookup(approachIn("hit", 1, true, 0.01, 1)), WithMatcherClock(fixedClock))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Match(ctx, []string{"hit"}, highOnlyPrefs())
	require.ErrorIs(t, err, context.Canceled)
}
