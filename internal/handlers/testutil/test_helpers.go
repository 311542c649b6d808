package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/cosmicwatch/neowatch/internal/api"
	"github.com/cosmicwatch/neowatch/internal/app"
	iauth "github.com/cosmicwatch/neowatch/internal/auth"
	"github.com/cosmicwatch/neowatch/internal/cache"
	sharedtestutil "github.com/cosmicwatch/neowatch/internal/database/testutil"
	"github.com/cosmicwatch/neowatch/internal/feed"
	"github.com/cosmicwatch/neowatch/internal/monitoring"
	"github.com/cosmicwatch/neowatch/internal/neo"
	"github.com/cosmicwatch/neowatch/internal/realtime"
	"github.com/cosmicwatch/neowatch/internal/services"
	"github.com/cosmicwatch/neowatch/pkg/response"
)

// Identifiers of the objects served by the stub feed.
const (
	HazardousID = "3542519"
	DistantID   = "2000433"
)

// Env encapsulates a fully-wired API instance backed by an in-memory database
// and a stub upstream feed.
type Env struct {
	T          *testing.T
	DB         *gorm.DB
	Router     *gin.Engine
	JWT        *iauth.JWTService
	Feed       *StubFeed
	Hub        *realtime.Hub
	Monitoring *monitoring.Module
}

// NewEnv provisions a fresh handler test environment with migrations applied.
// configure may adjust the application config before the router is built.
func NewEnv(t *testing.T, configure ...func(*app.Config)) *Env {
	t.Helper()

	gin.SetMode(gin.TestMode)

	db := sharedtestutil.MustOpenTestDB(t, sharedtestutil.WithAutoMigrate())

	jwtSecret := "test-suite-super-secret-key-32-bytes!!"
	jwtSvc, err := iauth.NewJWTService(iauth.JWTConfig{
		Secret:         jwtSecret,
		Issuer:         "test-suite",
		AccessTokenTTL: time.Hour,
	})
	require.NoError(t, err)

	cfg := &app.Config{
		Auth: app.AuthConfig{
			JWT: app.JWTSettings{Secret: jwtSecret, Issuer: "test-suite", TTL: time.Hour},
		},
		Monitoring: app.MonitoringConfig{
			Prometheus: app.PrometheusConfig{Enabled: true, Endpoint: "/metrics"},
			Health:     app.HealthConfig{Enabled: true},
		},
	}
	for _, fn := range configure {
		fn(cfg)
	}

	stub := NewStubFeed(time.Now())
	asteroids, err := services.NewAsteroidService(stub, cache.NewFeedCache(cache.NewMemoryStore(nil)))
	require.NoError(t, err)
	users, err := services.NewUserService(db)
	require.NoError(t, err)
	ledger, err := services.NewAlertLedger(db)
	require.NoError(t, err)
	alerts, err := services.NewAlertService(users, services.NewAlertMatcher(asteroids), ledger)
	require.NoError(t, err)
	watchlist, err := services.NewWatchlistService(users, asteroids)
	require.NoError(t, err)

	mod := monitoring.NewModule(monitoring.WithGatherer(prometheus.NewRegistry()))
	mod.Health().RegisterLiveness(monitoring.NewCheck("process", func(context.Context) monitoring.ProbeResult {
		return monitoring.ProbeResult{Status: monitoring.StatusUp}
	}))
	hub := realtime.NewHub()

	router, err := api.NewRouter(api.Deps{
		Config:     cfg,
		JWT:        jwtSvc,
		Users:      users,
		Asteroids:  asteroids,
		Alerts:     alerts,
		Watchlist:  watchlist,
		Hub:        hub,
		Monitoring: mod,
	})
	require.NoError(t, err)

	return &Env{
		T:          t,
		DB:         db,
		Router:     router,
		JWT:        jwtSvc,
		Feed:       stub,
		Hub:        hub,
		Monitoring: mod,
	}
}

// Token issues an access token for a fresh user and returns it with the user id.
func (e *Env) Token() (token, userID string) {
	e.T.Helper()

	userID = uuid.NewString()
	token, err := e.JWT.GenerateAccessToken(iauth.AccessTokenInput{
		UserID: userID,
		Email:  "user-" + userID[:8] + "@example.com",
		Name:   "Test User",
	})
	require.NoError(e.T, err)
	return token, userID
}

// APIResponse represents the canonical API envelope returned by handlers.
type APIResponse struct {
	Success bool                `json:"success"`
	Data    json.RawMessage     `json:"data"`
	Error   *response.ErrorInfo `json:"error"`
	Meta    *response.Meta      `json:"meta"`
}

// DecodeResponse parses the standard API response object from a recorder.
func DecodeResponse(t *testing.T, w *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

// DecodeInto unmarshals the data payload into the provided destination.
func DecodeInto[T any](t *testing.T, raw json.RawMessage, dest *T) {
	t.Helper()
	if dest == nil {
		t.Fatal("destination must not be nil")
	}
	require.NoError(t, json.Unmarshal(raw, dest))
}

// Request executes an HTTP request against the test router, applying JSON encoding and auth headers automatically.
func (e *Env) Request(method, path string, body any, token string) *httptest.ResponseRecorder {
	e.T.Helper()
	return e.RequestWithHeaders(method, path, body, token, nil)
}

// RequestWithHeaders is Request with extra request headers.
func (e *Env) RequestWithHeaders(method, path string, body any, token string, headers map[string]string) *httptest.ResponseRecorder {
	e.T.Helper()

	buf := bytes.NewBuffer(nil)
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(e.T, err)
		buf = bytes.NewBuffer(data)
	}

	req, err := http.NewRequest(method, path, buf)
	require.NoError(e.T, err)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)
	return w
}

// StubFeed is an in-memory upstream serving two annotated records: a
// hazardous object passing in three days and a distant one.
type StubFeed struct {
	mu          sync.Mutex
	records     map[string]neo.AsteroidRecord
	err         error
	RangeCalls  int
	EntityCalls int
}

// NewStubFeed builds the stub records relative to now.
func NewStubFeed(now time.Time) *StubFeed {
	soon := neo.UTCMidnight(now).AddDate(0, 0, 3).Format(neo.DateLayout)
	later := neo.UTCMidnight(now).AddDate(0, 0, 5).Format(neo.DateLayout)

	hazardous := neo.AsteroidRecord{
		ID:          HazardousID,
		Name:        "(2010 PK9)",
		NasaJPLURL:  "https://ssd.jpl.nasa.gov/tools/sbdb_lookup.html#/?sstr=" + HazardousID,
		AppURL:      neo.AppPath(HazardousID),
		Diameter:    neo.Diameter{MinKM: 0.4, MaxKM: 0.9},
		IsHazardous: true,
		CloseApproaches: []neo.CloseApproach{{
			Date:         soon,
			MissDistance: neo.MissDistance{AU: 0.03},
			OrbitingBody: "Earth",
		}},
	}
	distant := neo.AsteroidRecord{
		ID:       DistantID,
		Name:     "433 Eros (A898 PA)",
		AppURL:   neo.AppPath(DistantID),
		Diameter: neo.Diameter{MinKM: 22, MaxKM: 49},
		CloseApproaches: []neo.CloseApproach{{
			Date:         later,
			MissDistance: neo.MissDistance{AU: 0.4},
			OrbitingBody: "Earth",
		}},
	}
	hazardous.Annotate(now)
	distant.Annotate(now)

	return &StubFeed{records: map[string]neo.AsteroidRecord{
		HazardousID: hazardous,
		DistantID:   distant,
	}}
}

// Fail makes every following upstream call return err; nil restores service.
func (s *StubFeed) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// FetchRange returns every stub record regardless of the window.
func (s *StubFeed) FetchRange(_ context.Context, _, _ time.Time) ([]neo.AsteroidRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.RangeCalls++
	if s.err != nil {
		return nil, s.err
	}
	return []neo.AsteroidRecord{s.records[HazardousID], s.records[DistantID]}, nil
}

// FetchEntity returns one stub record or feed.ErrNotFound.
func (s *StubFeed) FetchEntity(_ context.Context, id string) (*neo.AsteroidRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.EntityCalls++
	if s.err != nil {
		return nil, s.err
	}
	rec, ok := s.records[id]
	if !ok {
		return nil, feed.ErrNotFound
	}
	return &rec, nil
}
