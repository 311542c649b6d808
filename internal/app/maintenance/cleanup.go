package maintenance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/cosmicwatch/neowatch/internal/cache"
	"github.com/cosmicwatch/neowatch/internal/models"
	"github.com/cosmicwatch/neowatch/internal/monitoring"
	"github.com/cosmicwatch/neowatch/pkg/logger"
)

const (
	defaultCacheSpec = "@hourly"
	defaultUserSpec  = "@daily"
	jobTimeout       = 5 * time.Minute

	JobCachePurge  = "cache_purge"
	JobUserCleanup = "user_cleanup"
)

// Cleaner coordinates background maintenance: sweeping expired cache rows and
// dropping watchlist and alert rows left behind by deleted users.
type Cleaner struct {
	db      *gorm.DB
	purgers []cache.Purger
	cron    *cron.Cron
	log     *zap.Logger
	enabled bool

	cacheSchedule string
	userSchedule  string
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithCacheSchedule overrides the cron specification for cache purges.
func WithCacheSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.cacheSchedule = spec
		}
	}
}

// WithUserSchedule overrides the cron specification for deleted-user cleanup.
func WithUserSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.userSchedule = spec
		}
	}
}

// WithPurgers registers stores whose expired entries should be swept.
func WithPurgers(purgers ...cache.Purger) Option {
	return func(cleaner *Cleaner) {
		for _, p := range purgers {
			if p != nil {
				cleaner.purgers = append(cleaner.purgers, p)
			}
		}
	}
}

// NewCleaner constructs a Cleaner. A nil db skips the deleted-user job and no
// purgers skips the cache job.
func NewCleaner(db *gorm.DB, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		db:            db,
		cacheSchedule: defaultCacheSpec,
		userSchedule:  defaultUserSpec,
		log:           logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	cleaner.enabled = len(cleaner.purgers) > 0 || cleaner.db != nil

	return cleaner
}

// Start registers cleanup jobs with the cron scheduler and launches it if at least one cleanup is enabled.
func (c *Cleaner) Start() error {
	if !c.enabled {
		return nil
	}

	if len(c.purgers) > 0 {
		if _, err := c.cron.AddFunc(c.cacheSchedule, func() {
			ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
			defer cancel()
			if err := c.runCachePurge(ctx); err != nil {
				c.log.Warn("cache purge failed", zap.Error(err))
			}
		}); err != nil {
			return fmt.Errorf("maintenance: schedule cache purge: %w", err)
		}
	}

	if c.db != nil {
		if _, err := c.cron.AddFunc(c.userSchedule, func() {
			ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
			defer cancel()
			if err := c.runUserCleanup(ctx); err != nil {
				c.log.Warn("deleted user cleanup failed", zap.Error(err))
			}
		}); err != nil {
			return fmt.Errorf("maintenance: schedule user cleanup: %w", err)
		}
	}

	c.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce executes all configured cleanup routines sequentially.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error

	errs = multierr.Append(errs, c.runCachePurge(ctx))
	if c.db != nil {
		errs = multierr.Append(errs, c.runUserCleanup(ctx))
	}
	return errs
}

func (c *Cleaner) runCachePurge(ctx context.Context) error {
	start := time.Now()
	_, err := c.PurgeCache(ctx)
	recordRun(JobCachePurge, start, err)
	return err
}

func (c *Cleaner) runUserCleanup(ctx context.Context) error {
	start := time.Now()
	stats, err := CleanupDeletedUsers(ctx, c.db)
	recordRun(JobUserCleanup, start, err)
	if err == nil && stats.Watchlist+stats.Alerted+stats.Users > 0 {
		c.log.Info("deleted user rows removed",
			zap.Int64("watchlist", stats.Watchlist),
			zap.Int64("alerted", stats.Alerted),
			zap.Int64("users", stats.Users))
	}
	return err
}

func recordRun(job string, start time.Time, err error) {
	if err != nil {
		monitoring.RecordJobRun(job, monitoring.ResultError, err.Error(), time.Since(start))
		return
	}
	monitoring.RecordJobRun(job, monitoring.ResultOK, "", time.Since(start))
}

// PurgeCache sweeps every registered store and returns the number of entries removed.
func (c *Cleaner) PurgeCache(ctx context.Context) (int64, error) {
	var (
		total int64
		errs  error
	)
	for _, p := range c.purgers {
		removed, err := p.PurgeExpired(ctx)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("maintenance: purge cache: %w", err))
			continue
		}
		total += removed
	}
	if total > 0 {
		c.log.Debug("expired cache entries purged", zap.Int64("removed", total))
	}
	return total, errs
}

// UserCleanupStats captures the number of rows removed per table.
type UserCleanupStats struct {
	Watchlist int64
	Alerted   int64
	Users     int64
}

// CleanupDeletedUsers removes watchlist and alert rows that belong to
// soft-deleted or missing users, then purges the soft-deleted user rows.
func CleanupDeletedUsers(ctx context.Context, db *gorm.DB) (UserCleanupStats, error) {
	if db == nil {
		return UserCleanupStats{}, errors.New("cleanup users: db is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	stats := UserCleanupStats{}
	active := db.Model(&models.User{}).Select("id")

	if result := db.WithContext(ctx).
		Where("user_id NOT IN (?)", active).
		Delete(&models.WatchlistEntry{}); result.Error != nil {
		return stats, fmt.Errorf("cleanup users: watchlist: %w", result.Error)
	} else {
		stats.Watchlist = result.RowsAffected
	}

	if result := db.WithContext(ctx).
		Where("user_id NOT IN (?)", active).
		Delete(&models.AlertedAsteroid{}); result.Error != nil {
		return stats, fmt.Errorf("cleanup users: alerted: %w", result.Error)
	} else {
		stats.Alerted = result.RowsAffected
	}

	if result := db.WithContext(ctx).Unscoped().
		Where("deleted_at IS NOT NULL").
		Delete(&models.User{}); result.Error != nil {
		return stats, fmt.Errorf("cleanup users: users: %w", result.Error)
	} else {
		stats.Users = result.RowsAffected
	}

	return stats, nil
}
