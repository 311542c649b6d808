package api

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cosmicwatch/neowatch/internal/app"
	iauth "github.com/cosmicwatch/neowatch/internal/auth"
	"github.com/cosmicwatch/neowatch/internal/handlers"
	"github.com/cosmicwatch/neowatch/internal/middleware"
	"github.com/cosmicwatch/neowatch/internal/monitoring"
	"github.com/cosmicwatch/neowatch/internal/realtime"
	"github.com/cosmicwatch/neowatch/internal/services"
)

// Deps are the collaborators the HTTP surface is built from. Monitoring and
// RateStore are optional.
type Deps struct {
	Config     *app.Config
	JWT        *iauth.JWTService
	Users      *services.UserService
	Asteroids  *services.AsteroidService
	Alerts     *services.AlertService
	Watchlist  *services.WatchlistService
	Hub        *realtime.Hub
	Monitoring *monitoring.Module
	RateStore  middleware.RateStore
}

func (d Deps) validate() error {
	switch {
	case d.Config == nil:
		return fmt.Errorf("config must be provided")
	case d.JWT == nil:
		return fmt.Errorf("jwt service must be provided")
	case d.Users == nil || d.Asteroids == nil || d.Alerts == nil || d.Watchlist == nil:
		return fmt.Errorf("user, asteroid, alert and watchlist services must be provided")
	case d.Hub == nil:
		return fmt.Errorf("realtime hub must be provided")
	}
	return nil
}

// NewRouter builds the Gin engine, wires middleware and registers every route.
func NewRouter(deps Deps) (*gin.Engine, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	cfg := deps.Config

	metricsPath := strings.TrimSpace(cfg.Monitoring.Prometheus.Endpoint)
	if metricsPath == "" {
		metricsPath = "/metrics"
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger("/health", metricsPath))
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS(cfg.Server.CORS.AllowedOrigins...))

	registerHealthRoutes(r, cfg, deps.Monitoring)

	asteroidHandler, err := handlers.NewAsteroidHandler(deps.Asteroids, deps.Alerts, deps.Users)
	if err != nil {
		return nil, err
	}
	userHandler, err := handlers.NewUserHandler(deps.Users, deps.Watchlist)
	if err != nil {
		return nil, err
	}
	requireAuth := middleware.Auth(deps.JWT)

	api := r.Group("/api")
	if cfg.Server.RateLimit.Enabled {
		api.Use(middleware.RateLimit(deps.RateStore, cfg.Server.RateLimit.Requests, cfg.Server.RateLimit.Window))
	}
	registerAsteroidRoutes(api, asteroidHandler, requireAuth)
	registerUserRoutes(api, userHandler, requireAuth)
	registerMonitoringRoutes(api, handlers.NewMonitoringHandler(deps.Monitoring, cfg), requireAuth)

	// Websocket (token in query)
	realtimeHandler := handlers.NewRealtimeHandler(deps.Hub, deps.JWT, deps.Users)
	r.GET("/ws", realtimeHandler.Stream)

	// Metrics endpoint
	if cfg.Monitoring.Prometheus.Enabled {
		if deps.Monitoring != nil {
			r.GET(metricsPath, gin.WrapH(deps.Monitoring.Handler()))
		} else {
			r.GET(metricsPath, gin.WrapH(promhttp.Handler()))
		}
	}

	// NotFound fallback
	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}
