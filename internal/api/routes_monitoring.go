package api

import (
	"github.com/gin-gonic/gin"

	"github.com/cosmicwatch/neowatch/internal/handlers"
)

func registerMonitoringRoutes(api *gin.RouterGroup, handler *handlers.MonitoringHandler, requireAuth gin.HandlerFunc) {
	if api == nil || handler == nil {
		return
	}

	group := api.Group("/monitoring", requireAuth)
	group.GET("/summary", handler.Summary)
}
