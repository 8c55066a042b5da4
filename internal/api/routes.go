package api

import (
	"log"

	"github.com/gin-gonic/gin"

	"github.com/kvizko/backend/internal/api/handlers"
	"github.com/kvizko/backend/internal/config"
	"github.com/kvizko/backend/internal/game"
	"github.com/kvizko/backend/internal/middleware"
	"github.com/kvizko/backend/internal/store"
	"github.com/kvizko/backend/internal/ws"
)

// SetupRoutes configures all API routes
func SetupRoutes(router *gin.Engine, registry *game.Registry, hub *ws.Hub, st *store.Store, cfg *config.Config) {
	router.Use(middleware.CORSMiddleware(cfg))

	// No-cache middleware MUST be first in development
	if cfg.Environment != "production" {
		router.Use(func(c *gin.Context) {
			c.Header("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
			c.Header("Pragma", "no-cache")
			c.Header("Expires", "0")
			c.Next()
		})
		log.Println("[DEV MODE] Aggressive no-cache headers enabled for all routes")
	}

	api := router.Group("/api")
	{
		api.GET("/health", handlers.HealthCheck(registry, hub))

		// Public pre-join lookup
		api.GET("/game/:pin", handlers.GetGame(registry, st))

		// Moderator question editor
		games := api.Group("/games")
		{
			games.GET("/:pin/questions", handlers.GetGameQuestions(st))
			games.PUT("/:pin/questions", handlers.UpdateGameQuestions(registry, st))
		}

		// Shared template bank
		templates := api.Group("/question-templates")
		{
			templates.GET("/:category", handlers.GetTemplates(st))
			templates.PUT("/:category", handlers.UpdateTemplates(st))
		}
	}

	// WebSocket endpoint for all realtime quiz traffic
	router.GET("/ws", middleware.WebSocketOriginCheck(cfg), handlers.HandleWebSocket(hub))
}
