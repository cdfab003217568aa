package admin

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/carehub/platform/internal/apperr"
	"github.com/carehub/platform/internal/audit"
	"github.com/carehub/platform/internal/auth"
	"github.com/carehub/platform/internal/idgen"
	"github.com/carehub/platform/internal/pagination"
	"github.com/carehub/platform/internal/reconciliation"
	"github.com/carehub/platform/internal/respond"
	"github.com/carehub/platform/internal/users"
	"github.com/carehub/platform/internal/validation"
)

// ReconciliationRunner runs an on-demand billing reconciliation.
type ReconciliationRunner interface {
	RunAll(ctx context.Context) (*reconciliation.Report, error)
}

// Handler provides superadmin HTTP endpoints.
type Handler struct {
	svc        *Service
	audit      *audit.Recorder
	reconciler ReconciliationRunner
}

// NewHandler creates a new admin handler.
func NewHandler(svc *Service, rec *audit.Recorder) *Handler {
	return &Handler{svc: svc, audit: rec}
}

// WithReconciler sets the runner behind POST /admin/billing/reconcile.
func (h *Handler) WithReconciler(r ReconciliationRunner) *Handler {
	h.reconciler = r
	return h
}

// RegisterRoutes sets up admin routes on a superadmin-only group.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/users", h.listUsers)
	r.POST("/users", h.createUser)

	user := r.Group("/users/:id", validation.IDParamMiddleware("id", idgen.PrefixUser))
	user.PATCH("", h.applyAction)
	user.POST("/sessions", h.issueSession)

	r.POST("/billing/reconcile", h.triggerReconciliation)
}

// listUsers handles GET /api/admin/users
func (h *Handler) listUsers(c *gin.Context) {
	list, err := h.svc.ListUsers(c.Request.Context(), users.Query{
		Search: c.Query("q"),
		Limit:  pagination.ParseLimit(c.Query("limit")),
	})
	if err != nil {
		respond.Error(c, err)
		return
	}
	if list == nil {
		list = []*users.User{}
	}
	respond.OK(c, http.StatusOK, gin.H{"users": list, "count": len(list)})
}

// createUser handles POST /api/admin/users
func (h *Handler) createUser(c *gin.Context) {
	var req struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, apperr.BadRequest("Invalid request body"))
		return
	}
	u, err := h.svc.CreateUser(c.Request.Context(), auth.GetContext(c), req.Email, req.Name)
	if err != nil {
		respond.Error(c, err)
		return
	}
	respond.OK(c, http.StatusCreated, u)
}

// applyAction handles PATCH /api/admin/users/:id
func (h *Handler) applyAction(c *gin.Context) {
	var req struct {
		Action string `json:"action"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, apperr.BadRequest("Invalid request body"))
		return
	}
	action, err := ParseAction(req.Action)
	if err != nil {
		respond.Error(c, err)
		return
	}
	res, err := h.svc.Apply(c.Request.Context(), auth.GetContext(c), c.Param("id"), action)
	if err != nil {
		respond.Error(c, err)
		return
	}
	respond.OK(c, http.StatusOK, res)
}

// issueSession handles POST /api/admin/users/:id/sessions
func (h *Handler) issueSession(c *gin.Context) {
	var req struct {
		OrganizationID string `json:"organizationId"`
	}
	// Body is optional.
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respond.Error(c, apperr.BadRequest("Invalid request body"))
			return
		}
	}
	if req.OrganizationID != "" {
		if err := validation.Validate(
			validation.ID("organizationId", req.OrganizationID, idgen.PrefixOrganization),
		).Err(); err != nil {
			respond.Error(c, err)
			return
		}
	}
	issued, err := h.svc.IssueSession(c.Request.Context(), auth.GetContext(c), c.Param("id"), req.OrganizationID)
	if err != nil {
		respond.Error(c, err)
		return
	}
	respond.OK(c, http.StatusCreated, issued)
}

// triggerReconciliation handles POST /api/admin/billing/reconcile
func (h *Handler) triggerReconciliation(c *gin.Context) {
	if h.reconciler == nil {
		respond.Error(c, apperr.Config("Billing provider is not configured"))
		return
	}

	report, err := h.reconciler.RunAll(c.Request.Context())
	if errors.Is(err, reconciliation.ErrAlreadyRunning) {
		respond.Error(c, apperr.Conflict("A reconciliation run is already in progress").WithReason("reconcile_in_progress"))
		return
	}
	if err != nil {
		respond.Error(c, apperr.Internal(err))
		return
	}

	e := audit.By(auth.GetContext(c), audit.ActionReconcileTriggered, audit.ResourceSubscription, "")
	e.Metadata = map[string]any{
		"tenants": report.Tenants,
		"synced":  report.Synced,
		"failed":  report.Failed,
	}
	h.audit.RecordRequest(c, e)

	respond.OK(c, http.StatusOK, gin.H{"report": report})
}
