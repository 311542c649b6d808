package services

import (
	"context"
	"slices"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cosmicwatch/neowatch/internal/models"
	"github.com/cosmicwatch/neowatch/internal/neo"
	"github.com/cosmicwatch/neowatch/pkg/logger"
)

const (
	highRiskMessage         = "High-risk asteroid approaching Earth"
	approachMessage         = "Upcoming close approach detected"
	defaultMatchConcurrency = 4
)

// Candidate is an alert that matched a user's preferences and has not yet
// been checked against the alerted set.
type Candidate struct {
	AsteroidID        string       `json:"asteroid_id"`
	Name              string       `json:"name"`
	RiskLevel         neo.RiskTier `json:"risk_level"`
	CloseApproachDate string       `json:"close_approach_date"`
	DaysAway          int          `json:"days_away"`
	MissDistanceAU    float64      `json:"miss_distance_au"`
	DiameterMaxKM     float64      `json:"diameter_max_km"`
	NasaJPLURL        string       `json:"nasa_jpl_url"`
	AppURL            string       `json:"app_url"`
	Message           string       `json:"message"`
}

// RecordLookup resolves one object by id.
type RecordLookup interface {
	GetEntity(ctx context.Context, id string) (*neo.AsteroidRecord, error)
}

// Matches applies the alert criteria to one record. All of them must hold:
// a next approach on or after today, within DaysBeforeApproach days
// (inclusive), no farther than MaxMissDistanceAU, a max diameter of at least
// MinDiameterKM and a tier listed in NotifyRiskLevels.
func Matches(rec *neo.AsteroidRecord, prefs models.AlertPreferences, now time.Time) (Candidate, bool) {
	if rec == nil || rec.NextApproach == nil {
		return Candidate{}, false
	}
	next := rec.NextApproach

	// entity entries live six hours and may outlast the approach they selected
	daysAway, err := neo.DaysUntil(next.Date, now)
	if err != nil || daysAway < 0 {
		return Candidate{}, false
	}

	if daysAway > prefs.DaysBeforeApproach ||
		next.MissDistance.AU > prefs.MaxMissDistanceAU ||
		rec.Diameter.MaxKM < prefs.MinDiameterKM ||
		!slices.Contains([]string(prefs.NotifyRiskLevels), string(rec.RiskTier)) {
		return Candidate{}, false
	}

	message := approachMessage
	if rec.RiskTier == neo.RiskHigh {
		message = highRiskMessage
	}

	appURL := rec.AppURL
	if appURL == "" {
		appURL = neo.AppPath(rec.ID)
	}

	return Candidate{
		AsteroidID:        rec.ID,
		Name:              rec.Name,
		RiskLevel:         rec.RiskTier,
		CloseApproachDate: next.Date,
		DaysAway:          daysAway,
		MissDistanceAU:    next.MissDistance.AU,
		DiameterMaxKM:     rec.Diameter.MaxKM,
		NasaJPLURL:        rec.NasaJPLURL,
		AppURL:            appURL,
		Message:           message,
	}, true
}

// AlertMatcher evaluates a watchlist against a user's preferences.
type AlertMatcher struct {
	lookup      RecordLookup
	now         func() time.Time
	concurrency int
	log         *zap.Logger
}

// AlertMatcherOption customises an AlertMatcher.
type AlertMatcherOption func(*AlertMatcher)

// WithMatcherClock overrides the clock used for the days-away computation.
func WithMatcherClock(now func() time.Time) AlertMatcherOption {
	return func(m *AlertMatcher) {
		if now != nil {
			m.now = now
		}
	}
}

// WithMatcherConcurrency bounds how many watchlist entries resolve at once.
func WithMatcherConcurrency(n int) AlertMatcherOption {
	return func(m *AlertMatcher) {
		if n > 0 {
			m.concurrency = n
		}
	}
}

// NewAlertMatcher constructs an AlertMatcher backed by lookup.
func NewAlertMatcher(lookup RecordLookup, opts ...AlertMatcherOption) *AlertMatcher {
	m := &AlertMatcher{
		lookup:      lookup,
		now:         time.Now,
		concurrency: defaultMatchConcurrency,
		log:         logger.WithModule("matcher"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Match resolves every watchlist id and returns the candidates in watchlist
// order. Ids that fail to resolve are logged and skipped; only a cancelled
// ctx fails the whole batch.
func (m *AlertMatcher) Match(ctx context.Context, watchlist []string, prefs models.AlertPreferences) ([]Candidate, error) {
	ctx = ensureContext(ctx)
	ids := normaliseIDs(watchlist)
	if len(ids) == 0 {
		return nil, nil
	}

	now := m.now()
	results := make([]*Candidate, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)
	for i, id := range ids {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rec, err := m.lookup.GetEntity(gctx, id)
			if err != nil {
				m.log.Warn("watchlist entry unresolved", zap.String("asteroid_id", id), zap.Error(err))
				return nil
			}
			if candidate, ok := Matches(rec, prefs, now); ok {
				results[i] = &candidate
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	candidates := make([]Candidate, 0, len(results))
	for _, c := range results {
		if c != nil {
			candidates = append(candidates, *c)
		}
	}
	return candidates, nil
}
