package entitlement

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/carehub/platform/internal/apperr"
	"github.com/carehub/platform/internal/auth"
	"github.com/carehub/platform/internal/respond"
)

// Handler provides HTTP endpoints for entitlement lookups.
type Handler struct {
	evaluator *Evaluator
}

// NewHandler creates a new entitlement handler.
func NewHandler(e *Evaluator) *Handler {
	return &Handler{evaluator: e}
}

// RegisterRoutes mounts the routes on a tenant-scoped group.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	g := r.Group("/entitlements", auth.RequirePermission(auth.PermViewEntitlements))
	g.GET("", h.Summary)
	g.GET("/:feature", h.Check)
}

// Summary handles GET /api/entitlements
func (h *Handler) Summary(c *gin.Context) {
	ac := auth.GetContext(c)
	s, err := h.evaluator.Summary(c.Request.Context(), ac.TenantID)
	if err != nil {
		respond.Error(c, err)
		return
	}
	respond.OK(c, http.StatusOK, s)
}

// Check handles GET /api/entitlements/:feature
func (h *Handler) Check(c *gin.Context) {
	ac := auth.GetContext(c)
	f := Feature(c.Param("feature"))
	if !ValidFeature(f) {
		respond.Error(c, apperr.NotFound("Unknown feature").WithReason(ReasonUnknownFeature))
		return
	}
	d, err := h.evaluator.CheckFeature(c.Request.Context(), ac.TenantID, f)
	if err != nil {
		respond.Error(c, err)
		return
	}
	respond.OK(c, http.StatusOK, d)
}
