package api

import (
	"github.com/gin-gonic/gin"

	"github.com/cosmicwatch/neowatch/internal/handlers"
)

func registerUserRoutes(api *gin.RouterGroup, handler *handlers.UserHandler, requireAuth gin.HandlerFunc) {
	user := api.Group("/user", requireAuth)
	{
		user.GET("/profile", handler.Profile)
		user.DELETE("/profile", handler.DeleteProfile)

		user.GET("/watchlist", handler.Watchlist)
		user.POST("/watchlist", handler.AddToWatchlist)
		user.POST("/watchlist/:asteroidId", handler.AddToWatchlist)
		user.DELETE("/watchlist/:asteroidId", handler.RemoveFromWatchlist)

		user.GET("/preferences", handler.Preferences)
		user.PUT("/preferences", handler.UpdatePreferences)
	}
}
