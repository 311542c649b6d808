package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/cosmicwatch/neowatch/internal/api"
	"github.com/cosmicwatch/neowatch/internal/app"
	"github.com/cosmicwatch/neowatch/internal/app/dispatch"
	"github.com/cosmicwatch/neowatch/internal/app/maintenance"
	iauth "github.com/cosmicwatch/neowatch/internal/auth"
	"github.com/cosmicwatch/neowatch/internal/cache"
	"github.com/cosmicwatch/neowatch/internal/database"
	"github.com/cosmicwatch/neowatch/internal/feed"
	"github.com/cosmicwatch/neowatch/internal/middleware"
	"github.com/cosmicwatch/neowatch/internal/monitoring"
	"github.com/cosmicwatch/neowatch/internal/monitoring/checks"
	"github.com/cosmicwatch/neowatch/internal/realtime"
	"github.com/cosmicwatch/neowatch/internal/services"
	"github.com/cosmicwatch/neowatch/pkg/logger"
	"github.com/cosmicwatch/neowatch/pkg/mail"
)

const liveJobMaxAge = 5 * time.Minute

// runtimeStack bundles long-lived services shared by the CLI commands.
type runtimeStack struct {
	DB         *gorm.DB
	Redis      *cache.RedisClient
	Store      cache.Store
	Feed       *feed.Client
	Users      *services.UserService
	Asteroids  *services.AsteroidService
	Alerts     *services.AlertService
	Watchlist  *services.WatchlistService
	Hub        *realtime.Hub
	Dispatcher *dispatch.Dispatcher
	Cleaner    *maintenance.Cleaner
	Monitoring *monitoring.Module
	Router     *gin.Engine

	background bool
}

// bootstrapRuntime initialises storage, caches, services, the alert loops and
// the HTTP router. Schedulers only start when background is set.
func bootstrapRuntime(ctx context.Context, cfg *app.Config, log *zap.Logger, background bool) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			stack.Shutdown(context.Background(), log)
		}
	}()

	// enable gin debug mod
	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack.DB, err = initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}

	dbStore := cache.NewDatabaseStore(stack.DB)
	stack.Store = dbStore

	if cfg.Cache.Redis.Enabled {
		if stack.Redis, err = cache.NewRedisClient(cfg.Cache.RedisClientConfig()); err != nil {
			log.Warn("redis unavailable; falling back to database-backed cache", zap.Error(err))
			stack.Redis = nil
		} else {
			stack.Store = stack.Redis
			log.Info("redis connected", zap.String("addr", cfg.Cache.Redis.Address))
		}
	}

	jwtSvc, err := iauth.NewJWTService(cfg.Auth.JWTServiceConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise jwt service: %w", err)
	}

	stack.Feed = feed.NewClient(cfg.Feed.ClientConfig())
	feedCache := cache.NewFeedCache(stack.Store, cache.WithFetchTimeout(cfg.Feed.FetchTimeout))

	if stack.Asteroids, err = services.NewAsteroidService(stack.Feed, feedCache); err != nil {
		return nil, fmt.Errorf("initialise asteroid service: %w", err)
	}
	if stack.Users, err = services.NewUserService(stack.DB); err != nil {
		return nil, fmt.Errorf("initialise user service: %w", err)
	}

	matcher := services.NewAlertMatcher(stack.Asteroids, services.WithMatcherConcurrency(cfg.Dispatch.LookupFanout))
	ledger, err := services.NewAlertLedger(stack.DB)
	if err != nil {
		return nil, fmt.Errorf("initialise alert ledger: %w", err)
	}
	if stack.Alerts, err = services.NewAlertService(stack.Users, matcher, ledger); err != nil {
		return nil, fmt.Errorf("initialise alert service: %w", err)
	}
	if stack.Watchlist, err = services.NewWatchlistService(stack.Users, stack.Asteroids); err != nil {
		return nil, fmt.Errorf("initialise watchlist service: %w", err)
	}

	stack.Hub = realtime.NewHub(realtime.WithAllowedOrigins(cfg.Server.CORS.AllowedOrigins...))

	deps := dispatch.Deps{
		Users:    stack.Users,
		Matcher:  matcher,
		Ledger:   ledger,
		Registry: stack.Hub,
	}
	if cfg.Email.SMTP.Enabled {
		mailer, mailErr := mail.NewSMTPMailer(cfg.Email.SMTPSettings())
		if mailErr != nil {
			return nil, fmt.Errorf("initialise mailer: %w", mailErr)
		}
		deps.Mailer = mailer
		deps.Composer = services.NewAlertMailComposer(cfg.Server.AppBaseURL)
	} else {
		log.Info("smtp disabled; digest loop will not send e-mail")
	}

	stack.Dispatcher, err = dispatch.NewDispatcher(deps,
		dispatch.WithLiveSchedule(cfg.Dispatch.Live.Schedule),
		dispatch.WithDigestSchedule(cfg.Dispatch.Digest.Schedule),
		dispatch.WithLoops(cfg.Dispatch.Live.Enabled, cfg.Dispatch.Digest.Enabled),
		dispatch.WithTimeouts(cfg.Dispatch.Live.Timeout, cfg.Dispatch.Digest.Timeout, cfg.Dispatch.MailTimeout),
		dispatch.WithUserConcurrency(cfg.Dispatch.UserConcurrency),
	)
	if err != nil {
		return nil, fmt.Errorf("initialise dispatcher: %w", err)
	}

	stack.Monitoring = monitoring.NewModule()
	monitoring.SetModule(stack.Monitoring)
	registerHealthChecks(stack, cfg)

	stack.Cleaner = maintenance.NewCleaner(stack.DB,
		maintenance.WithPurgers(dbStore),
		maintenance.WithCacheSchedule(cfg.Cache.PurgeSchedule),
	)

	stack.Router, err = api.NewRouter(api.Deps{
		Config:     cfg,
		JWT:        jwtSvc,
		Users:      stack.Users,
		Asteroids:  stack.Asteroids,
		Alerts:     stack.Alerts,
		Watchlist:  stack.Watchlist,
		Hub:        stack.Hub,
		Monitoring: stack.Monitoring,
		RateStore:  middleware.NewRateStore(stack.Store),
	})
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	if background {
		if err := stack.Cleaner.Start(); err != nil {
			return nil, fmt.Errorf("start maintenance jobs: %w", err)
		}
		if err := stack.Dispatcher.Start(); err != nil {
			return nil, fmt.Errorf("start dispatch loops: %w", err)
		}
		stack.background = true
	}

	success = true
	return stack, nil
}

func registerHealthChecks(stack *runtimeStack, cfg *app.Config) {
	health := stack.Monitoring.Health()
	health.RegisterLiveness(monitoring.NewCheck("process", func(context.Context) monitoring.ProbeResult {
		return monitoring.ProbeResult{Status: monitoring.StatusUp}
	}))

	var pinger cache.Pinger
	if stack.Redis != nil {
		pinger = stack.Redis
	}

	health.RegisterReadiness(checks.Database(stack.DB, 0))
	health.RegisterReadiness(checks.Redis(pinger, cfg.Cache.Redis.Enabled, cfg.Cache.Redis.Timeout))
	health.RegisterReadiness(checks.Feed(stack.Feed))
	health.RegisterReadiness(checks.Jobs(stack.Monitoring, map[string]time.Duration{
		dispatch.LoopLive:   liveJobMaxAge,
		dispatch.LoopDigest: 7 * time.Hour,
	}))
}

// Shutdown stops the schedulers, drains running ticks and releases resources.
func (s *runtimeStack) Shutdown(ctx context.Context, log *zap.Logger) {
	if s == nil {
		return
	}

	if s.background && s.Dispatcher != nil {
		<-s.Dispatcher.Stop().Done()
	}

	if s.background && s.Cleaner != nil {
		stopCtx := s.Cleaner.Stop()
		if stopCtx != nil {
			<-stopCtx.Done()
		}
		if err := s.Cleaner.RunOnce(ctx); err != nil {
			log.Warn("maintenance shutdown cleanup failed", zap.Error(err))
		}
	}

	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			log.Warn("redis shutdown", zap.Error(err))
		}
	}

	if s.DB != nil {
		closeDatabase(s.DB, log)
	}
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := convertDatabaseConfig(cfg)
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	log := logger.WithModule("database")
	log.Info("database connected", zap.String("driver", dbCfg.Driver))

	return db, nil
}

func convertDatabaseConfig(cfg *app.Config) database.Config {
	dbCfg := database.Config{
		Driver:          strings.ToLower(strings.TrimSpace(cfg.Database.Driver)),
		Path:            strings.TrimSpace(cfg.Database.Path),
		DSN:             strings.TrimSpace(cfg.Database.DSN),
		MaxOpenConns:    cfg.Database.Pool.MaxOpenConns,
		MaxIdleConns:    cfg.Database.Pool.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.Pool.ConnMaxLifetime,
	}

	switch dbCfg.Driver {
	case "", "sqlite":
		dbCfg.Driver = "sqlite"
	case "postgres", "postgresql":
		dbCfg.Driver = "postgres"
		dbCfg.Host = strings.TrimSpace(cfg.Database.Postgres.Host)
		dbCfg.Port = cfg.Database.Postgres.Port
		dbCfg.Name = strings.TrimSpace(cfg.Database.Postgres.Database)
		dbCfg.User = strings.TrimSpace(cfg.Database.Postgres.Username)
		dbCfg.Password = strings.TrimSpace(cfg.Database.Postgres.Password)
	case "mysql":
		dbCfg.Host = strings.TrimSpace(cfg.Database.MySQL.Host)
		dbCfg.Port = cfg.Database.MySQL.Port
		dbCfg.Name = strings.TrimSpace(cfg.Database.MySQL.Database)
		dbCfg.User = strings.TrimSpace(cfg.Database.MySQL.Username)
		dbCfg.Password = strings.TrimSpace(cfg.Database.MySQL.Password)
	default:
		// unsupported drivers surface from database.Open
	}

	return dbCfg
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	if db == nil {
		return
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Warn("failed to obtain underlying sql DB for closing", zap.Error(err))
		return
	}

	if err := sqlDB.Close(); err != nil {
		log.Warn("failed to close database", zap.Error(err))
	}
}
