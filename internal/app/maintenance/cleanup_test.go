package maintenance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/cosmicwatch/neowatch/internal/cache"
	testutil "github.com/cosmicwatch/neowatch/internal/database/testutil"
	"github.com/cosmicwatch/neowatch/internal/models"
	"github.com/cosmicwatch/neowatch/internal/monitoring"
)

type failingPurger struct{}

func (failingPurger) PurgeExpired(context.Context) (int64, error) {
	return 0, errors.New("store offline")
}

func TestCleanupDeletedUsers(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	ctx := context.Background()

	kept := seedUser(t, db, "kept")
	gone := seedUser(t, db, "gone")
	for _, u := range []*models.User{kept, gone} {
		require.NoError(t, db.Create(&models.WatchlistEntry{UserID: u.ID, AsteroidID: "3542519"}).Error)
		require.NoError(t, db.Create(&models.AlertedAsteroid{
			UserID:     u.ID,
			AsteroidID: "3542519",
			Channel:    "live",
			AlertedAt:  time.Now(),
		}).Error)
	}
	require.NoError(t, db.Delete(gone).Error)

	stats, err := CleanupDeletedUsers(ctx, db)
	require.NoError(t, err)
	require.EqualValues(t, 1, stats.Watchlist)
	require.EqualValues(t, 1, stats.Alerted)
	require.EqualValues(t, 1, stats.Users)

	var count int64
	require.NoError(t, db.Model(&models.WatchlistEntry{}).Where("user_id = ?", kept.ID).Count(&count).Error)
	require.EqualValues(t, 1, count)
	require.NoError(t, db.Model(&models.AlertedAsteroid{}).Count(&count).Error)
	require.EqualValues(t, 1, count)
	require.NoError(t, db.Unscoped().Model(&models.User{}).Count(&count).Error)
	require.EqualValues(t, 1, count)

	_, err = CleanupDeletedUsers(ctx, nil)
	require.Error(t, err)
}

func TestCleanerRunOnce(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	ctx := context.Background()

	current := time.Date(2024, 5, 20, 9, 0, 0, 0, time.UTC)
	now := func() time.Time { return current }

	dbStore := cache.NewDatabaseStore(db).WithClock(now)
	memStore := cache.NewMemoryStore(now)
	for _, s := range []cache.Store{dbStore, memStore} {
		require.NoError(t, s.Set(ctx, "neo:entity:1", []byte("{}"), time.Hour))
		require.NoError(t, s.Set(ctx, "neo:range:2024-05-20:2024-05-20", []byte("[]"), 24*time.Hour))
	}
	current = current.Add(2 * time.Hour)

	c := NewCleaner(db,
		WithPurgers(dbStore, memStore, nil),
		WithCron(cron.New(cron.WithLogger(cron.DiscardLogger))),
	)

	removed, err := c.PurgeCache(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, removed)

	var rows int64
	require.NoError(t, db.Model(&models.CacheEntry{}).Count(&rows).Error)
	require.EqualValues(t, 1, rows)

	require.NoError(t, c.RunOnce(ctx))
}

func TestCleanerAggregatesPurgeErrors(t *testing.T) {
	mod := monitoring.NewModule()
	monitoring.SetModule(mod)

	memStore := cache.NewMemoryStore(nil)
	c := NewCleaner(nil, WithPurgers(failingPurger{}, memStore, failingPurger{}))

	err := c.RunOnce(context.Background())
	require.ErrorContains(t, err, "store offline")

	jobs := mod.Snapshot().Jobs
	require.Len(t, jobs, 1)
	require.Equal(t, JobCachePurge, jobs[0].Job)
	require.Equal(t, monitoring.ResultError, jobs[0].LastStatus)
}

func TestCleanerStartRegistersJobs(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	scheduler := cron.New(cron.WithLogger(cron.DiscardLogger))

	c := NewCleaner(db,
		WithPurgers(cache.NewMemoryStore(nil)),
		WithCron(scheduler),
		WithCacheSchedule("@every 1h"),
		WithUserSchedule("@every 24h"),
	)
	require.NoError(t, c.Start())
	t.Cleanup(func() { <-c.Stop().Done() })

	require.Len(t, scheduler.Entries(), 2)
}

func TestCleanerDisabledWithoutDependencies(t *testing.T) {
	scheduler := cron.New(cron.WithLogger(cron.DiscardLogger))
	c := NewCleaner(nil, WithCron(scheduler))
	require.NoError(t, c.Start())
	require.Empty(t, scheduler.Entries())
	require.NoError(t, c.RunOnce(context.Background()))
}

func TestCleanerRejectsBadSchedule(t *testing.T) {
	c := NewCleaner(nil,
		WithPurgers(cache.NewMemoryStore(nil)),
		WithCron(cron.New(cron.WithLogger(cron.DiscardLogger))),
		WithCacheSchedule("not a schedule"),
	)
	require.Error(t, c.Start())
}

func seedUser(t *testing.T, db *gorm.DB, name string) *models.User {
	t.Helper()

	user := &models.User{
		Email:       name + "@example.com",
		DisplayName: name,
	}
	require.NoError(t, db.Create(user).Error)
	return user
}
