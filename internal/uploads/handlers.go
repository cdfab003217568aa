package uploads

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/carehub/platform/internal/apperr"
	"github.com/carehub/platform/internal/auth"
	"github.com/carehub/platform/internal/pagination"
	"github.com/carehub/platform/internal/respond"
)

// Handler provides upload endpoints.
type Handler struct {
	svc *Service
}

// NewHandler creates a new upload handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes sets up tenant upload routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	g := r.Group("/uploads", auth.RequireTenant())
	g.GET("", auth.RequirePermission(auth.PermViewOrganization), h.List)
	g.POST("/:kind", auth.RequirePermission(auth.PermUploadFiles), h.Create)
}

// Create handles POST /api/uploads/:kind
func (h *Handler) Create(c *gin.Context) {
	kind := Kind(c.Param("kind"))
	if _, ok := Policies[kind]; !ok {
		respond.Error(c, apperr.NotFound("Unknown upload kind").WithReason(ReasonUnsupportedKind))
		return
	}

	fh, err := c.FormFile("file")
	if err != nil {
		respond.Error(c, apperr.BadRequest("file: multipart field is required"))
		return
	}
	src, err := fh.Open()
	if err != nil {
		respond.Error(c, apperr.BadRequest("Failed to read file"))
		return
	}
	defer func() { _ = src.Close() }()

	up, err := h.svc.Upload(c.Request.Context(), auth.GetContext(c), kind, File{
		Name:         fh.Filename,
		DeclaredType: fh.Header.Get("Content-Type"),
		Size:         fh.Size,
		Body:         src,
	})
	if err != nil {
		respond.Error(c, err)
		return
	}
	respond.OK(c, http.StatusCreated, up)
}

// List handles GET /api/uploads
func (h *Handler) List(c *gin.Context) {
	ups, err := h.svc.List(c.Request.Context(), auth.GetContext(c), pagination.ParseLimit(c.Query("limit")))
	if err != nil {
		respond.Error(c, err)
		return
	}
	respond.OK(c, http.StatusOK, gin.H{"uploads": ups, "count": len(ups)})
}
