package featureflag

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/carehub/platform/internal/apperr"
	"github.com/carehub/platform/internal/auth"
	"github.com/carehub/platform/internal/entitlement"
	"github.com/carehub/platform/internal/idgen"
	"github.com/carehub/platform/internal/respond"
	"github.com/carehub/platform/internal/validation"
)

// Handler provides superadmin endpoints for overrides.
type Handler struct {
	svc *Service
}

// NewHandler creates a new feature flag handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterAdminRoutes mounts the routes on a superadmin group.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/feature-flags", h.Set)
	r.GET("/feature-flags", h.List)
	r.DELETE("/feature-flags/:organizationId/:flagKey",
		validation.IDParamMiddleware("organizationId", idgen.PrefixOrganization), h.Clear)
}

type setRequest struct {
	OrganizationID string `json:"organizationId"`
	FlagKey        string `json:"flagKey"`
	Enabled        *bool  `json:"enabled"`
}

// Set handles POST /api/admin/feature-flags
func (h *Handler) Set(c *gin.Context) {
	var req setRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, apperr.BadRequest("Invalid request body"))
		return
	}
	errs := validation.Validate(
		validation.Required("organizationId", req.OrganizationID),
		validation.Required("flagKey", req.FlagKey),
		validation.Key("flagKey", req.FlagKey),
	)
	if req.Enabled == nil {
		errs = append(errs, validation.ValidationError{Field: "enabled", Message: "is required"})
	}
	if err := errs.Err(); err != nil {
		respond.Error(c, err)
		return
	}

	res, err := h.svc.Set(c.Request.Context(), auth.GetContext(c), req.OrganizationID, entitlement.Feature(req.FlagKey), *req.Enabled)
	if err != nil {
		respond.Error(c, err)
		return
	}
	respond.OK(c, http.StatusOK, res)
}

// List handles GET /api/admin/feature-flags[?organizationId=]
func (h *Handler) List(c *gin.Context) {
	flags, err := h.svc.List(c.Request.Context(), c.Query("organizationId"))
	if err != nil {
		respond.Error(c, apperr.Internal(err))
		return
	}
	if flags == nil {
		flags = []*Flag{}
	}
	respond.OK(c, http.StatusOK, gin.H{"flags": flags, "count": len(flags)})
}

// Clear handles DELETE /api/admin/feature-flags/:organizationId/:flagKey
func (h *Handler) Clear(c *gin.Context) {
	if !validation.IsValidKey(c.Param("flagKey")) {
		respond.Error(c, apperr.BadRequest("flagKey must be a lower-case key").WithReason("invalid_flag_key"))
		return
	}
	key := entitlement.Feature(c.Param("flagKey"))
	if err := h.svc.Clear(c.Request.Context(), auth.GetContext(c), c.Param("organizationId"), key); err != nil {
		respond.Error(c, err)
		return
	}
	respond.OK(c, http.StatusOK, gin.H{"organizationId": c.Param("organizationId"), "flagKey": key, "cleared": true})
}
