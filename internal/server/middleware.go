package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/carehub/platform/internal/apperr"
	"github.com/carehub/platform/internal/audit"
	"github.com/carehub/platform/internal/auth"
	"github.com/carehub/platform/internal/logging"
	"github.com/carehub/platform/internal/metrics"
	"github.com/carehub/platform/internal/ratelimit"
	"github.com/carehub/platform/internal/respond"
	"github.com/carehub/platform/internal/security"
	"github.com/carehub/platform/internal/uploads"
	"github.com/carehub/platform/internal/validation"
)

// uploadPrefix carries multipart bodies far above the JSON limit.
const uploadPrefix = "/api/uploads/"

func (s *Server) setupMiddleware() {
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		respond.Abort(c, apperr.New(apperr.KindInternal, "An unexpected error occurred"))
	}))

	s.router.Use(security.HeadersMiddleware(s.cfg.IsProduction()))
	s.router.Use(security.CORSMiddleware(s.cfg.CORSAllowedOrigins))
	s.router.Use(s.bodyLimitMiddleware())

	s.rateLimiter = ratelimit.New(ratelimit.DefaultConfig())
	s.router.Use(s.rateLimiter.Middleware())

	s.router.Use(metrics.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(respond.DebugMiddleware(s.cfg.IsDevelopment()))
	s.router.Use(s.loggingMiddleware())
}

// bodyLimitMiddleware caps JSON bodies at 1MB and uploads at the largest
// per-kind cap plus multipart overhead. Per-kind caps are enforced by the
// upload service.
func (s *Server) bodyLimitMiddleware() gin.HandlerFunc {
	jsonLimit := validation.RequestSizeMiddleware(validation.MaxRequestSize)
	uploadLimit := validation.RequestSizeMiddleware(maxUploadBytes() + 1<<20)
	return func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, uploadPrefix) {
			uploadLimit(c)
			return
		}
		jsonLimit(c)
	}
}

func maxUploadBytes() int64 {
	var largest int64
	for _, p := range uploads.Policies {
		largest = max(largest, p.MaxBytes)
	}
	return largest
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Load balancers may already have assigned one.
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" || len(requestID) > 64 {
			requestID = generateRequestID()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())
		attrs := []any{
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"latency_ms", latency.Milliseconds(),
		}
		if ac := auth.GetContext(c); ac != nil {
			attrs = append(attrs, "user_id", ac.UserID)
			if ac.TenantID != "" {
				attrs = append(attrs, "organization_id", ac.TenantID)
			}
		}

		switch {
		case status >= 500:
			logger.Error("request completed", append(attrs, "client_ip", c.ClientIP())...)
		case status >= 400:
			logger.Warn("request completed", attrs...)
		default:
			logger.Info("request completed", attrs...)
		}
	}
}

// onImpersonate records superadmin access to an organization the superadmin
// does not belong to.
func (s *Server) onImpersonate(c *gin.Context, ac *auth.Context) {
	e := audit.By(ac, audit.ActionImpersonatedAccess, audit.ResourceOrganization, ac.TenantID)
	e.Metadata = map[string]any{
		"method": c.Request.Method,
		"path":   c.FullPath(),
	}
	s.recorder.RecordRequest(c, e)
}

func noRoute(c *gin.Context) {
	respond.Error(c, apperr.NotFound("Route not found"))
}

func noMethod(c *gin.Context) {
	c.JSON(http.StatusMethodNotAllowed, respond.Envelope{
		Error: &respond.ErrorBody{Code: "METHOD_NOT_ALLOWED", Message: "Method not allowed"},
	})
}
