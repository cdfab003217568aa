package audit

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/carehub/platform/internal/apperr"
	"github.com/carehub/platform/internal/auth"
	"github.com/carehub/platform/internal/pagination"
	"github.com/carehub/platform/internal/respond"
)

// Handler serves audit log listings.
type Handler struct {
	store Store
}

// NewHandler creates a new audit handler.
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes mounts the tenant-scoped listing.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/organization/audit-logs", auth.RequireTenant(), auth.RequirePermission(auth.PermViewAuditLogs), h.ListOrganization)
}

// RegisterAdminRoutes mounts the platform-wide listing on a superadmin group.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.GET("/audit-logs", h.ListAll)
}

// Page is a page of entries.
type Page struct {
	Entries    []*Entry `json:"entries"`
	NextCursor string   `json:"nextCursor,omitempty"`
	HasMore    bool     `json:"hasMore"`
}

// ListOrganization handles GET /api/organization/audit-logs
func (h *Handler) ListOrganization(c *gin.Context) {
	ac := auth.GetContext(c)
	h.list(c, ac.TenantID)
}

// ListAll handles GET /api/admin/audit-logs[?organizationId=]
func (h *Handler) ListAll(c *gin.Context) {
	h.list(c, c.Query("organizationId"))
}

func (h *Handler) list(c *gin.Context, tenantID string) {
	cursor, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		respond.Error(c, apperr.BadRequest("Invalid cursor"))
		return
	}
	limit := pagination.ParseLimit(c.Query("limit"))

	entries, err := h.store.List(c.Request.Context(), Query{
		TenantID: tenantID,
		ActorID:  c.Query("actorId"),
		Action:   c.Query("action"),
		Cursor:   cursor,
		Limit:    limit + 1,
	})
	if err != nil {
		respond.Error(c, apperr.Internal(err))
		return
	}

	entries, next, more := pagination.ComputePage(entries, limit, func(e *Entry) (time.Time, string) {
		return e.CreatedAt, e.ID
	})
	if entries == nil {
		entries = []*Entry{}
	}
	respond.OK(c, http.StatusOK, Page{Entries: entries, NextCursor: next, HasMore: more})
}
