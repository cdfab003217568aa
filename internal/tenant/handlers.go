package tenant

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/carehub/platform/internal/apperr"
	"github.com/carehub/platform/internal/auth"
	"github.com/carehub/platform/internal/idgen"
	"github.com/carehub/platform/internal/pagination"
	"github.com/carehub/platform/internal/respond"
	"github.com/carehub/platform/internal/validation"
)

// Handler provides HTTP endpoints for organizations and memberships.
type Handler struct {
	svc *Service
}

// NewHandler creates a new tenant handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes sets up the caller's own organization routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	org := r.Group("/organization", auth.RequireTenant())
	org.GET("", auth.RequirePermission(auth.PermViewOrganization), h.GetOrganization)
	org.PATCH("", auth.RequirePermission(auth.PermManageOrganization), h.UpdateOrganization)

	org.GET("/members", auth.RequirePermission(auth.PermViewMembers), h.ListMembers)
	org.POST("/members", auth.RequirePermission(auth.PermManageMembers), h.AddMember)

	member := org.Group("/members/:userId",
		validation.IDParamMiddleware("userId", idgen.PrefixUser),
		auth.RequirePermission(auth.PermManageMembers))
	member.PATCH("", h.ChangeRole)
	member.DELETE("", h.RemoveMember)
}

// RegisterAdminRoutes sets up superadmin organization routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/organizations", h.CreateOrganization)
	r.GET("/organizations", h.ListOrganizations)
	r.GET("/organizations/:id", validation.IDParamMiddleware("id", idgen.PrefixOrganization), h.GetOrganizationByID)
	r.POST("/organization/suspend", h.Suspend)
	r.POST("/organization/unsuspend", h.Unsuspend)
}

// ---------- Organization ----------

// GetOrganization handles GET /api/organization
func (h *Handler) GetOrganization(c *gin.Context) {
	ac := auth.GetContext(c)
	t, err := h.svc.Get(c.Request.Context(), ac, ac.TenantID)
	if err != nil {
		respond.Error(c, err)
		return
	}
	respond.OK(c, http.StatusOK, t)
}

// UpdateOrganization handles PATCH /api/organization
func (h *Handler) UpdateOrganization(c *gin.Context) {
	var req struct {
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, apperr.BadRequest("Invalid request body"))
		return
	}
	t, err := h.svc.Rename(c.Request.Context(), auth.GetContext(c), req.Name)
	if err != nil {
		respond.Error(c, err)
		return
	}
	respond.OK(c, http.StatusOK, t)
}

// ---------- Members ----------

// ListMembers handles GET /api/organization/members
func (h *Handler) ListMembers(c *gin.Context) {
	members, err := h.svc.ListMembers(c.Request.Context(), auth.GetContext(c))
	if err != nil {
		respond.Error(c, err)
		return
	}
	respond.OK(c, http.StatusOK, gin.H{"members": members, "count": len(members)})
}

// AddMember handles POST /api/organization/members
func (h *Handler) AddMember(c *gin.Context) {
	var req struct {
		UserID string    `json:"userId"`
		Role   auth.Role `json:"role"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, apperr.BadRequest("Invalid request body"))
		return
	}
	if err := validation.Validate(
		validation.Required("userId", req.UserID),
		validation.ID("userId", req.UserID, idgen.PrefixUser),
	).Err(); err != nil {
		respond.Error(c, err)
		return
	}
	if req.Role == "" {
		req.Role = auth.RoleMember
	}

	m, err := h.svc.AddMember(c.Request.Context(), auth.GetContext(c), req.UserID, req.Role)
	if err != nil {
		respond.Error(c, err)
		return
	}
	respond.OK(c, http.StatusCreated, m)
}

// ChangeRole handles PATCH /api/organization/members/:userId
func (h *Handler) ChangeRole(c *gin.Context) {
	var req struct {
		Role auth.Role `json:"role"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, apperr.BadRequest("Invalid request body"))
		return
	}
	m, err := h.svc.ChangeRole(c.Request.Context(), auth.GetContext(c), c.Param("userId"), req.Role)
	if err != nil {
		respond.Error(c, err)
		return
	}
	respond.OK(c, http.StatusOK, m)
}

// RemoveMember handles DELETE /api/organization/members/:userId
func (h *Handler) RemoveMember(c *gin.Context) {
	userID := c.Param("userId")
	if err := h.svc.RemoveMember(c.Request.Context(), auth.GetContext(c), userID); err != nil {
		respond.Error(c, err)
		return
	}
	respond.OK(c, http.StatusOK, gin.H{"userId": userID, "removed": true})
}

// ---------- Admin ----------

// CreateOrganization handles POST /api/admin/organizations
func (h *Handler) CreateOrganization(c *gin.Context) {
	var in CreateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		respond.Error(c, apperr.BadRequest("Invalid request body"))
		return
	}
	t, err := h.svc.Create(c.Request.Context(), auth.GetContext(c), in)
	if err != nil {
		respond.Error(c, err)
		return
	}
	respond.OK(c, http.StatusCreated, t)
}

// ListOrganizations handles GET /api/admin/organizations
func (h *Handler) ListOrganizations(c *gin.Context) {
	status := Status(c.Query("status"))
	if status != "" && status != StatusActive && status != StatusSuspended {
		respond.Error(c, apperr.BadRequest("status: must be one of active, suspended"))
		return
	}
	tenants, err := h.svc.List(c.Request.Context(), Query{
		Status: status,
		Search: c.Query("q"),
		Limit:  pagination.ParseLimit(c.Query("limit")),
	})
	if err != nil {
		respond.Error(c, apperr.Internal(err))
		return
	}
	if tenants == nil {
		tenants = []*Tenant{}
	}
	respond.OK(c, http.StatusOK, gin.H{"organizations": tenants, "count": len(tenants)})
}

// GetOrganizationByID handles GET /api/admin/organizations/:id
func (h *Handler) GetOrganizationByID(c *gin.Context) {
	t, err := h.svc.Get(c.Request.Context(), auth.GetContext(c), c.Param("id"))
	if err != nil {
		respond.Error(c, err)
		return
	}
	respond.OK(c, http.StatusOK, t)
}

// Suspend handles POST /api/admin/organization/suspend
func (h *Handler) Suspend(c *gin.Context) {
	var req struct {
		OrganizationID string `json:"organizationId"`
		Reason         string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, apperr.BadRequest("Invalid request body"))
		return
	}
	if err := validation.Validate(
		validation.Required("organizationId", req.OrganizationID),
		validation.ID("organizationId", req.OrganizationID, idgen.PrefixOrganization),
	).Err(); err != nil {
		respond.Error(c, err)
		return
	}
	t, err := h.svc.Suspend(c.Request.Context(), auth.GetContext(c), req.OrganizationID, req.Reason)
	if err != nil {
		respond.Error(c, err)
		return
	}
	respond.OK(c, http.StatusOK, t)
}

// Unsuspend handles POST /api/admin/organization/unsuspend
func (h *Handler) Unsuspend(c *gin.Context) {
	var req struct {
		OrganizationID string `json:"organizationId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, apperr.BadRequest("Invalid request body"))
		return
	}
	if err := validation.Validate(
		validation.Required("organizationId", req.OrganizationID),
		validation.ID("organizationId", req.OrganizationID, idgen.PrefixOrganization),
	).Err(); err != nil {
		respond.Error(c, err)
		return
	}
	t, err := h.svc.Unsuspend(c.Request.Context(), auth.GetContext(c), req.OrganizationID)
	if err != nil {
		respond.Error(c, err)
		return
	}
	respond.OK(c, http.StatusOK, t)
}
