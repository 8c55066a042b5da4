package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kvizko/backend/internal/game"
	"github.com/kvizko/backend/internal/ws"
)

var startTime = time.Now()

const version = "1.3.0"

// HealthCheck returns server health status with the live game and
// connection counters.
func HealthCheck(registry *game.Registry, hub *ws.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "ok",
			"service":     "kvizko-api",
			"version":     version,
			"uptime":      time.Since(startTime).String(),
			"activeGames": registry.ActiveCount(),
			"connections": hub.ConnectionCount(),
		})
	}
}
