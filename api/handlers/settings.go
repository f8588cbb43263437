package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/claude-collab/backend/internal/settings"
)

// SettingsHandler reads and writes the editable .env settings.
type SettingsHandler struct {
	store *settings.Store
}

// NewSettingsHandler creates a new SettingsHandler.
func NewSettingsHandler(store *settings.Store) *SettingsHandler {
	return &SettingsHandler{store: store}
}

// Get handles GET /api/settings - the schema with current, masked values.
func (h *SettingsHandler) Get(c *gin.Context) {
	list, err := h.store.List()
	if err != nil {
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to read settings: "+err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"settings": list})
}

// Update handles POST /api/settings - writes allowed keys.
func (h *SettingsHandler) Update(c *gin.Context) {
	var updates map[string]any
	if err := c.ShouldBindJSON(&updates); err != nil || updates == nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Expected object body")
		return
	}

	restartNeeded, err := h.store.Update(updates)
	if err != nil {
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to save settings: "+err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "restartNeeded": restartNeeded})
}

// RegisterRoutes registers the settings routes on a Gin router group.
func (h *SettingsHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/settings", h.Get)
	rg.POST("/settings", h.Update)
}
