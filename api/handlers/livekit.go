package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/livekit/protocol/auth"
)

// tokenTTL is how long a screen-share token stays valid.
const tokenTTL = 6 * time.Hour

// LiveKitCredentials are the server-side LiveKit settings.
type LiveKitCredentials struct {
	APIKey    string
	APISecret string
	WSURL     string
}

// LiveKitHandler issues room tokens for screen sharing.
type LiveKitHandler struct {
	credentials func() LiveKitCredentials
}

// NewLiveKitHandler creates a new LiveKitHandler. credentials is called per
// request so updated settings apply without a restart.
func NewLiveKitHandler(credentials func() LiveKitCredentials) *LiveKitHandler {
	return &LiveKitHandler{credentials: credentials}
}

// TokenRequest is the body of POST /api/livekit/token.
type TokenRequest struct {
	Room     string `json:"room" binding:"required"`
	Identity string `json:"identity" binding:"required"`
}

// Token handles POST /api/livekit/token.
func (h *LiveKitHandler) Token(c *gin.Context) {
	var req TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "room and identity required")
		return
	}

	creds := h.credentials()
	if creds.APIKey == "" || creds.APISecret == "" {
		sendError(c, http.StatusInternalServerError, "NOT_CONFIGURED",
			"LiveKit not configured. Set LIVEKIT_API_KEY and LIVEKIT_API_SECRET in .env")
		return
	}

	grant := &auth.VideoGrant{RoomJoin: true, Room: req.Room}
	grant.SetCanPublish(true)
	grant.SetCanSubscribe(true)

	at := auth.NewAccessToken(creds.APIKey, creds.APISecret)
	at.AddGrant(grant).
		SetIdentity(req.Identity).
		SetValidFor(tokenTTL)

	token, err := at.ToJWT()
	if err != nil {
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to sign token: "+err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "wsUrl": creds.WSURL})
}

// RegisterRoutes registers the LiveKit routes on a Gin router group.
func (h *LiveKitHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/livekit/token", h.Token)
}
