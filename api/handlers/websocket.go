package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/claude-collab/backend/internal/ws"
)

// WebSocketHandler upgrades /ws requests onto the connection hub.
type WebSocketHandler struct {
	wsHandler *ws.Handler
}

// NewWebSocketHandler creates a new WebSocketHandler.
func NewWebSocketHandler(wsHandler *ws.Handler) *WebSocketHandler {
	return &WebSocketHandler{
		wsHandler: wsHandler,
	}
}

// Attach handles GET /ws - upgrades the request to a WebSocket.
func (h *WebSocketHandler) Attach(c *gin.Context) {
	if err := h.wsHandler.HandleConnection(c.Writer, c.Request); err != nil {
		// The upgrader has already written the HTTP error.
		return
	}
}

// RegisterRoutes registers the WebSocket route on the engine root.
func (h *WebSocketHandler) RegisterRoutes(r gin.IRoutes) {
	r.GET("/ws", h.Attach)
}
