package api

import (
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"

	"github.com/cosmicwatch/neowatch/internal/handlers"
)

func registerAsteroidRoutes(api *gin.RouterGroup, handler *handlers.AsteroidHandler, requireAuth gin.HandlerFunc) {
	// a week of feed data is several hundred KB of JSON
	asteroids := api.Group("/asteroids", gzip.Gzip(gzip.DefaultCompression))
	{
		asteroids.GET("/feed", handler.Feed)
		// registered before /:id; gin prefers the static segment
		asteroids.GET("/alerts", requireAuth, handler.Alerts)
		asteroids.GET("/:id", handler.Get)
	}
}
