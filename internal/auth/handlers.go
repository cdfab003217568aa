package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/carehub/platform/internal/apperr"
	"github.com/carehub/platform/internal/respond"
)

// Handler provides session endpoints for the signed-in caller.
type Handler struct {
	sessions *SessionManager
}

// NewHandler creates a new auth handler.
func NewHandler(sessions *SessionManager) *Handler {
	return &Handler{sessions: sessions}
}

// RegisterRoutes mounts the session routes on an authenticated group.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/session", h.Current)
	r.DELETE("/session", h.Logout)
}

// Current handles GET /api/session and echoes the resolved context.
func (h *Handler) Current(c *gin.Context) {
	ac := GetContext(c)
	if ac == nil {
		respond.Error(c, apperr.Unauthorized("Authentication required"))
		return
	}
	respond.OK(c, http.StatusOK, ac)
}

// Logout handles DELETE /api/session.
func (h *Handler) Logout(c *gin.Context) {
	ac := GetContext(c)
	if ac == nil {
		respond.Error(c, apperr.Unauthorized("Authentication required"))
		return
	}
	if err := h.sessions.Revoke(c.Request.Context(), ac.SessionID); err != nil {
		respond.Error(c, err)
		return
	}
	respond.OK(c, http.StatusOK, gin.H{"revoked": true})
}
