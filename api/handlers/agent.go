package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/claude-collab/backend/internal/session"
)

// AgentHandler exposes the HTTP fallback for agent messages. Responses
// always stream over the WebSocket.
type AgentHandler struct {
	sessions *session.Manager
}

// NewAgentHandler creates a new AgentHandler.
func NewAgentHandler(sessions *session.Manager) *AgentHandler {
	return &AgentHandler{sessions: sessions}
}

// SendRequest is the body of POST /api/agent/send.
type SendRequest struct {
	Message string `json:"message"`
}

// Send handles POST /api/agent/send - acknowledges a message.
func (h *AgentHandler) Send(c *gin.Context) {
	var req SendRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Message) == "" {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "message required")
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "note": "Responses stream via WebSocket"})
}

// Interrupt handles POST /api/agent/interrupt - acknowledges an interrupt.
func (h *AgentHandler) Interrupt(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Health handles GET /health.
func (h *AgentHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"busy":   h.sessions.Busy(),
	})
}

// RegisterRoutes registers the agent routes on a Gin router group.
func (h *AgentHandler) RegisterRoutes(rg *gin.RouterGroup) {
	agent := rg.Group("/agent")
	{
		agent.POST("/send", h.Send)
		agent.POST("/interrupt", h.Interrupt)
	}
}
