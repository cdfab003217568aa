package reporting

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/carehub/platform/internal/apperr"
	"github.com/carehub/platform/internal/auth"
	"github.com/carehub/platform/internal/idgen"
	"github.com/carehub/platform/internal/respond"
	"github.com/carehub/platform/internal/validation"
)

// Handler provides billing report endpoints.
type Handler struct {
	agg *Aggregator
}

// NewHandler creates a new reporting handler.
func NewHandler(agg *Aggregator) *Handler {
	return &Handler{agg: agg}
}

// RegisterRoutes sets up the tenant-scoped report.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/billing/report", auth.RequireTenant(), auth.RequirePermission(auth.PermViewBilling), h.TenantReport)
}

// RegisterAdminRoutes sets up the platform-wide report.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.GET("/reports/billing", h.PlatformReport)
}

// TenantReport handles GET /api/billing/report
func (h *Handler) TenantReport(c *gin.Context) {
	h.report(c, auth.GetContext(c).TenantID)
}

// PlatformReport handles GET /api/admin/reports/billing
func (h *Handler) PlatformReport(c *gin.Context) {
	orgID := c.Query("organizationId")
	if orgID != "" && !validation.IsValidID(orgID, idgen.PrefixOrganization) {
		respond.Error(c, apperr.BadRequest("organizationId: invalid organization ID"))
		return
	}
	h.report(c, orgID)
}

func (h *Handler) report(c *gin.Context, tenantID string) {
	w, err := ParseWindow(c.Query("days"), c.Query("from"), c.Query("to"), time.Now())
	if err != nil {
		respond.Error(c, err)
		return
	}
	rep, err := h.agg.Build(c.Request.Context(), Request{
		Window:    w,
		ProductID: c.Query("productId"),
		TenantID:  tenantID,
	})
	if err != nil {
		respond.Error(c, apperr.Internal(err))
		return
	}
	respond.OK(c, http.StatusOK, rep)
}
