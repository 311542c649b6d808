package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/cosmicwatch/neowatch/internal/database/testutil"
	"github.com/cosmicwatch/neowatch/internal/feed"
	"github.com/cosmicwatch/neowatch/internal/models"
	"github.com/cosmicwatch/neowatch/internal/neo"
)

var testNow = time.Date(2024, time.June, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

// approachIn builds an annotated record whose only approach is days after testNow.
func approachIn(id string, days int, hazardous bool, missAU, diameterMaxKM float64) *neo.AsteroidRecord {
	rec := &neo.AsteroidRecord{
		ID:          id,
		Name:        "(" + id + ")",
		NasaJPLURL:  "https://ssd.jpl.nasa.gov/tools/sbdb_lookup.html#/?sstr=" + id,
		AppURL:      neo.AppPath(id),
		Diameter:    neo.Diameter{MinKM: diameterMaxKM / 2, MaxKM: diameterMaxKM},
		IsHazardous: hazardous,
		CloseApproaches: []neo.CloseApproach{{
			Date:         testNow.AddDate(0, 0, days).Format(neo.DateLayout),
			MissDistance: neo.MissDistance{AU: missAU},
			OrbitingBody: "Earth",
		}},
	}
	rec.Annotate(testNow)
	return rec
}

func highOnlyPrefs() models.AlertPreferences {
	return models.AlertPreferences{
		DaysBeforeApproach: 7,
		MaxMissDistanceAU:  0.2,
		MinDiameterKM:      0.3,
		NotifyRiskLevels:   []string{"HIGH"},
	}
}

type stubLookup struct {
	mu      sync.Mutex
	records map[string]*neo.AsteroidRecord
	errs    map[string]error
	calls   map[string]int
}

func newStubLookup(records ...*neo.AsteroidRecord) *stubLookup {
	s := &stubLookup{
		records: make(map[string]*neo.AsteroidRecord),
		errs:    make(map[string]error),
		calls:   make(map[string]int),
	}
	for _, r := range records {
		s.records[r.ID] = r
	}
	return s
}

func (s *stubLookup) GetEntity(_ context.Context, id string) (*neo.AsteroidRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[id]++
	if err, ok := s.errs[id]; ok {
		return nil, err
	}
	rec, ok := s.records[id]
	if !ok {
		return nil, feed.ErrNotFound
	}
	cpy := *rec
	return &cpy, nil
}

type stubFeed struct {
	mu          sync.Mutex
	entities    map[string]*neo.AsteroidRecord
	ranged      []neo.AsteroidRecord
	err         error
	rangeCalls  int
	entityCalls int
}

func (f *stubFeed) FetchRange(_ context.Context, _, _ time.Time) ([]neo.AsteroidRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rangeCalls++
	if f.err != nil {
		return nil, f.err
	}
	return f.ranged, nil
}

func (f *stubFeed) FetchEntity(_ context.Context, id string) (*neo.AsteroidRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entityCalls++
	if f.err != nil {
		return nil, f.err
	}
	rec, ok := f.entities[id]
	if !ok {
		return nil, feed.ErrNotFound
	}
	return rec, nil
}

func openServiceTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	return testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
}

func mustCreateUser(t *testing.T, svc *UserService, email string, watch ...string) *models.User {
	t.Helper()
	ctx := context.Background()
	user, err := svc.Create(ctx, CreateUserInput{Email: email, DisplayName: email})
	require.NoError(t, err)
	for _, id := range watch {
		_, err := svc.AddToWatchlist(ctx, user.ID, id, "")
		require.NoError(t, err)
	}
	return user
}
