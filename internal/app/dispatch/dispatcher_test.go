package dispatch

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/require"

	"github.com/cosmicwatch/neowatch/internal/database/testutil"
	"github.com/cosmicwatch/neowatch/internal/feed"
	"github.com/cosmicwatch/neowatch/internal/models"
	"github.com/cosmicwatch/neowatch/internal/monitoring"
	"github.com/cosmicwatch/neowatch/internal/neo"
	"github.com/cosmicwatch/neowatch/internal/realtime"
	"github.com/cosmicwatch/neowatch/internal/services"
	"github.com/cosmicwatch/neowatch/pkg/mail"
)

var testNow = time.Date(2024, time.June, 1, 12, 0, 0, 0, time.UTC)

type stubLookup map[string]*neo.AsteroidRecord

func (s stubLookup) GetEntity(_ context.Context, id string) (*neo.AsteroidRecord, error) {
	rec, ok := s[id]
	if !ok {
		return nil, feed.ErrNotFound
	}
	cpy := *rec
	return &cpy, nil
}

func record(id string, days int, hazardous bool, missAU, diameterMaxKM float64) *neo.AsteroidRecord {
	rec := &neo.AsteroidRecord{
		ID:          id,
		Name:        "(" + id + ")",
		AppURL:      neo.AppPath(id),
		Diameter:    neo.Diameter{MaxKM: diameterMaxKM},
		IsHazardous: hazardous,
		CloseApproaches: []neo.CloseApproach{{
			Date:         testNow.AddDate(0, 0, days).Format(neo.DateLayout),
			MissDistance: neo.MissDistance{AU: missAU},
		}},
	}
	rec.Annotate(testNow)
	return rec
}

type pushed struct {
	handle *realtime.Connection
	msg    realtime.Message
}

type fakeRegistry struct {
	mu        sync.Mutex
	handles   map[string][]*realtime.Connection
	failing   map[*realtime.Connection]bool
	delivered []pushed
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		handles: make(map[string][]*realtime.Connection),
		failing: make(map[*realtime.Connection]bool),
	}
}

func (r *fakeRegistry) Register(userID string, conn *realtime.Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handles[userID] = append(r.handles[userID], conn)
}

func (r *fakeRegistry) Unregister(conn *realtime.Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for user, hs := range r.handles {
		for i, h := range hs {
			if h == conn {
				r.handles[user] = append(hs[:i], hs[i+1:]...)
			}
		}
		if len(r.handles[user]) == 0 {
			delete(r.handles, user)
		}
	}
}

func (r *fakeRegistry) HandlesFor(userID string) []*realtime.Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*realtime.Connection(nil), r.handles[userID]...)
}

func (r *fakeRegistry) ConnectedUserIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.handles))
	for id := range r.handles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *fakeRegistry) Deliver(conn *realtime.Connection, msg realtime.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failing[conn] {
		return realtime.ErrBackpressure
	}
	r.delivered = append(r.delivered, pushed{handle: conn, msg: msg})
	return nil
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []mail.Message
	err  error
}

func (m *fakeMailer) Send(_ context.Context, msg mail.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

type fixture struct {
	users    *services.UserService
	ledger   *services.AlertLedger
	registry *fakeRegistry
	mailer   *fakeMailer
	disp     *Dispatcher
}

func newFixture(t *testing.T, lookup stubLookup, opts ...Option) *fixture {
	t.Helper()
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	users, err := services.NewUserService(db)
	require.NoError(t, err)
	ledger, err := services.NewAlertLedger(db)
	require.NoError(t, err)

	f := &fixture{users: users, ledger: ledger, registry: newFakeRegistry(), mailer: &fakeMailer{}}
	f.disp, err = NewDispatcher(Deps{
		Users:    users,
		Matcher:  services.NewAlertMatcher(lookup, services.WithMatcherClock(func() time.Time { return testNow })),
		Ledger:   ledger,
		Registry: f.registry,
		Mailer:   f.mailer,
		Composer: services.NewAlertMailComposer("https://cosmicwatch.example"),
	}, opts...)
	require.NoError(t, err)
	return f
}

func (f *fixture) user(t *testing.T, email string, watch ...string) *models.User {
	t.Helper()
	u, err := f.users.Create(context.Background(), services.CreateUserInput{Email: email})
	require.NoError(t, err)
	for _, id := range watch {
		_, err := f.users.AddToWatchlist(context.Background(), u.ID, id, "")
		require.NoError(t, err)
	}
	return u
}

func defaultLookup() stubLookup {
	return stubLookup{
		"3542519": record("3542519", 3, true, 0.04, 0.5),
		"2000433": record("2000433", 3, false, 0.3, 20),
	}
}

func TestRunLiveIsIdleWithoutConnections(t *testing.T) {
	mod := monitoring.NewModule()
	monitoring.SetModule(mod)

	f := newFixture(t, defaultLookup())
	f.user(t, "offline@example.com", "3542519")

	report, err := f.disp.RunLive(context.Background())
	require.NoError(t, err)
	require.Zero(t, report.Users)
	require.Empty(t, f.registry.delivered)

	jobs := mod.Snapshot().Jobs
	require.Len(t, jobs, 1)
	require.Equal(t, LoopLive, jobs[0].Job)
	require.Equal(t, monitoring.ResultIdle, jobs[0].LastStatus)
}

func TestRunLivePushesToEveryHandleOnce(t *testing.T) {
	f := newFixture(t, defaultLookup())
	u := f.user(t, "online@example.com", "3542519", "2000433")
	f.user(t, "offline@example.com", "3542519")

	tab1, tab2 := &realtime.Connection{}, &realtime.Connection{}
	f.registry.Register(u.ID, tab1)
	f.registry.Register(u.ID, tab2)

	report, err := f.disp.RunLive(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.Users)
	require.Equal(t, 1, report.Delivered)
	require.Len(t, f.registry.delivered, 2)

	msg := f.registry.delivered[0].msg
	require.Equal(t, realtime.StreamAlerts, msg.Stream)
	require.Equal(t, realtime.EventAsteroidAlert, msg.Event)
	require.Equal(t, "3542519", msg.Data.(services.Candidate).AsteroidID)

	report, err = f.disp.RunLive(context.Background())
	require.NoError(t, err)
	require.Zero(t, report.Delivered)
	require.Equal(t, 1, report.Skipped)
	require.Len(t, f.registry.delivered, 2)
}

func TestRunLiveFailedPushIsRetried(t *testing.T) {
	f := newFixture(t, defaultLookup())
	broken := f.user(t, "broken@example.com", "3542519")
	healthy := f.user(t, "healthy@example.com", "3542519")

	bad := &realtime.Connection{}
	f.registry.Register(broken.ID, bad)
	f.registry.Register(healthy.ID, &realtime.Connection{})
	f.registry.failing[bad] = true

	mod := monitoring.NewModule()
	monitoring.SetModule(mod)

	report, err := f.disp.RunLive(context.Background())
	require.ErrorIs(t, err, realtime.ErrBackpressure)
	require.Equal(t, 1, report.Delivered)
	require.Equal(t, 1, report.Failed)
	require.Equal(t, uint64(1), mod.Snapshot().Jobs[0].ConsecutiveFailures)

	set, err := f.ledger.AlertedSet(context.Background(), broken.ID)
	require.NoError(t, err)
	require.Empty(t, set)

	f.registry.failing[bad] = false
	report, err = f.disp.RunLive(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.Delivered)
}

func TestRunDigestMailsOptedInUsers(t *testing.T) {
	f := newFixture(t, defaultLookup())
	f.user(t, "digest@example.com", "3542519")
	quiet := f.user(t, "quiet@example.com", "3542519")
	off := false
	_, err := f.users.UpdatePreferences(context.Background(), quiet.ID, services.UpdatePreferencesInput{EmailNotifications: &off})
	require.NoError(t, err)

	report, err := f.disp.RunDigest(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.Users)
	require.Len(t, f.mailer.sent, 1)
	require.Equal(t, []string{"digest@example.com"}, f.mailer.sent[0].To)
	require.Equal(t, "🚨 Asteroid Alert: (3542519)", f.mailer.sent[0].Subject)

	set, err := f.ledger.AlertedSet(context.Background(), quiet.ID)
	require.NoError(t, err)
	require.Empty(t, set)

	_, err = f.disp.RunDigest(context.Background())
	require.NoError(t, err)
	require.Len(t, f.mailer.sent, 1)
}

func TestRunDigestMailFailureLeavesAlertPending(t *testing.T) {
	f := newFixture(t, defaultLookup())
	u := f.user(t, "pending@example.com", "3542519")
	f.mailer.err = errors.New("connection refused")

	report, err := f.disp.RunDigest(context.Background())
	require.ErrorContains(t, err, "connection refused")
	require.Equal(t, 1, report.Failed)

	set, err := f.ledger.AlertedSet(context.Background(), u.ID)
	require.NoError(t, err)
	require.Empty(t, set)
}

func TestConcurrentLoopsDeliverOnce(t *testing.T) {
	f := newFixture(t, defaultLookup())
	u := f.user(t, "both@example.com", "3542519")
	f.registry.Register(u.ID, &realtime.Connection{})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := f.disp.RunLive(context.Background())
		require.NoError(t, err)
	}()
	go func() {
		defer wg.Done()
		_, err := f.disp.RunDigest(context.Background())
		require.NoError(t, err)
	}()
	wg.Wait()

	require.Equal(t, 1, len(f.registry.delivered)+len(f.mailer.sent))
	set, err := f.ledger.AlertedSet(context.Background(), u.ID)
	require.NoError(t, err)
	require.Len(t, set, 1)
}

func TestNewDispatcherDisablesLoopsWithoutCollaborators(t *testing.T) {
	_, err := NewDispatcher(Deps{})
	require.Error(t, err)

	f := newFixture(t, defaultLookup())
	d, err := NewDispatcher(Deps{Users: f.users, Matcher: services.NewAlertMatcher(defaultLookup()), Ledger: f.ledger})
	require.NoError(t, err)
	require.False(t, d.liveEnabled)
	require.False(t, d.digestEnabled)
	require.NoError(t, d.RunOnce(context.Background()))

	_, err = d.RunLive(context.Background())
	require.Error(t, err)
}

func TestDispatcherStartRegistersJobs(t *testing.T) {
	c := cron.New()
	f := newFixture(t, defaultLookup(), WithCron(c), WithLiveSchedule("@every 1h"), WithDigestSchedule("@every 6h"))
	require.NoError(t, f.disp.Start())
	defer f.disp.Stop()
	require.Len(t, c.Entries(), 2)

	c2 := cron.New()
	f2 := newFixture(t, defaultLookup(), WithCron(c2), WithLoops(true, false))
	require.NoError(t, f2.disp.Start())
	defer f2.disp.Stop()
	require.Len(t, c2.Entries(), 1)

	bad := newFixture(t, defaultLookup(), WithCron(cron.New()), WithLiveSchedule("not a schedule"))
	require.Error(t, bad.disp.Start())
}
