package subscription

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/carehub/platform/internal/apperr"
	"github.com/carehub/platform/internal/audit"
	"github.com/carehub/platform/internal/auth"
	"github.com/carehub/platform/internal/respond"
)

// Handler provides HTTP endpoints for subscription state and MRR.
type Handler struct {
	tracker  *Tracker
	recorder *audit.Recorder
}

// NewHandler creates a new subscription handler.
func NewHandler(tracker *Tracker, recorder *audit.Recorder) *Handler {
	return &Handler{tracker: tracker, recorder: recorder}
}

// RegisterRoutes sets up tenant billing routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	billing := r.Group("/billing", auth.RequireTenant())
	billing.GET("/subscription", auth.RequirePermission(auth.PermViewBilling), h.GetSubscription)
	billing.POST("/subscription/sync", auth.RequirePermission(auth.PermManageBilling), h.Sync)
}

// RegisterAdminRoutes sets up superadmin billing routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.GET("/billing/mrr", h.PlatformMRR)
}

// GetSubscription handles GET /api/billing/subscription
func (h *Handler) GetSubscription(c *gin.Context) {
	ac := auth.GetContext(c)
	snap, err := h.tracker.Snapshot(c.Request.Context(), ac.TenantID, c.Query("refresh") == "true")
	if err != nil {
		respond.Error(c, toAppError(err))
		return
	}
	respond.OK(c, http.StatusOK, snap)
}

// Sync handles POST /api/billing/subscription/sync
func (h *Handler) Sync(c *gin.Context) {
	ac := auth.GetContext(c)
	res, err := h.tracker.Reconcile(c.Request.Context(), ac.TenantID)
	if err != nil {
		respond.Error(c, toAppError(err))
		return
	}
	if h.recorder != nil {
		e := audit.By(ac, audit.ActionSubscriptionSynced, audit.ResourceSubscription, ac.TenantID)
		e.Metadata = map[string]any{"fetched": res.Fetched, "applied": res.Applied, "skipped": res.Skipped}
		h.recorder.RecordRequest(c, e)
	}
	respond.OK(c, http.StatusOK, res)
}

// PlatformMRR handles GET /api/admin/billing/mrr
func (h *Handler) PlatformMRR(c *gin.Context) {
	m, err := h.tracker.PlatformMRR(c.Request.Context())
	if err != nil {
		respond.Error(c, apperr.Internal(err))
		return
	}
	respond.OK(c, http.StatusOK, m)
}

func toAppError(err error) error {
	var ae *apperr.Error
	switch {
	case errors.As(err, &ae):
		return ae
	case errors.Is(err, ErrNoCustomer):
		return apperr.Conflict("Organization has no billing customer").WithReason("no_billing_customer")
	case errors.Is(err, ErrProviderNotConfigured):
		return apperr.Config("Billing provider is not configured")
	case errors.Is(err, ErrProviderFailed):
		return apperr.Unavailable("Billing provider is unavailable, try again later", err)
	default:
		return apperr.Internal(err)
	}
}
