// Package handlers provides HTTP API request handlers.
package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/presence-relay/backend/internal/ws"
)

// WebSocketHandler exposes the presence WebSocket endpoint.
type WebSocketHandler struct {
	wsHandler *ws.Handler
}

// NewWebSocketHandler creates a new WebSocketHandler.
func NewWebSocketHandler(wsHandler *ws.Handler) *WebSocketHandler {
	return &WebSocketHandler{wsHandler: wsHandler}
}

// Connect handles GET /api/ws - upgrades to WebSocket and hands the
// connection to the transport.
func (h *WebSocketHandler) Connect(c *gin.Context) {
	if err := h.wsHandler.HandleConnection(c.Writer, c.Request); err != nil {
		// Upgrade failures already wrote a response.
		return
	}
}

// RegisterRoutes registers the WebSocket route on a Gin router group.
func (h *WebSocketHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/ws", h.Connect)
}
