package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/kvizko/backend/internal/ws"
)

// HandleWebSocket upgrades the request into a managed quiz socket.
func HandleWebSocket(hub *ws.Hub) gin.HandlerFunc {
	return hub.HandleWebSocket
}
