package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/carehub/platform/internal/admin"
	"github.com/carehub/platform/internal/audit"
	"github.com/carehub/platform/internal/auth"
	"github.com/carehub/platform/internal/entitlement"
	"github.com/carehub/platform/internal/featureflag"
	"github.com/carehub/platform/internal/health"
	"github.com/carehub/platform/internal/metrics"
	"github.com/carehub/platform/internal/reporting"
	"github.com/carehub/platform/internal/subscription"
	"github.com/carehub/platform/internal/tenant"
	"github.com/carehub/platform/internal/uploads"
)

func (s *Server) setupRoutes() {
	s.router.NoRoute(noRoute)
	s.router.HandleMethodNotAllowed = true
	s.router.NoMethod(noMethod)

	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	api := s.router.Group("/api", audit.Middleware())

	// Signed by Stripe, not by a session.
	s.webhooks.RegisterRoutes(api)

	authed := api.Group("", auth.Middleware(s.resolver, s.onImpersonate))
	auth.NewHandler(s.sessions).RegisterRoutes(authed)

	tenantHandler := tenant.NewHandler(s.tenants)
	tenantHandler.RegisterRoutes(authed)
	entitlement.NewHandler(s.evaluator).RegisterRoutes(authed)

	subHandler := subscription.NewHandler(s.tracker, s.recorder)
	subHandler.RegisterRoutes(authed)

	reportHandler := reporting.NewHandler(s.aggregator)
	reportHandler.RegisterRoutes(authed)

	auditHandler := audit.NewHandler(s.auditStore)
	auditHandler.RegisterRoutes(authed)

	uploads.NewHandler(s.uploads).RegisterRoutes(authed)

	adminGroup := authed.Group("/admin", auth.RequireSuperadmin())
	tenantHandler.RegisterAdminRoutes(adminGroup)
	featureflag.NewHandler(s.flags).RegisterAdminRoutes(adminGroup)
	subHandler.RegisterAdminRoutes(adminGroup)
	reportHandler.RegisterAdminRoutes(adminGroup)
	auditHandler.RegisterAdminRoutes(adminGroup)

	adminHandler := admin.NewHandler(s.admin, s.recorder)
	if s.reconciler != nil {
		adminHandler.WithReconciler(s.reconciler)
	}
	adminHandler.RegisterRoutes(adminGroup)

	s.realtimeHub.RegisterRoutes(adminGroup)
}

// -----------------------------------------------------------------------------
// Health
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks,omitempty"`
	Realtime  map[string]any  `json:"realtime,omitempty"`
	Timestamp string          `json:"timestamp"`
}

// healthHandler reports every subsystem. Optional integrations that are
// missing degrade the status without failing it.
func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy, checks := s.health.CheckAll(ctx)

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	} else {
		for _, st := range checks {
			if !st.Healthy {
				status = "degraded"
				break
			}
		}
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   Version,
		Checks:    checks,
		Realtime:  s.realtimeHub.Stats(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()
	if healthy, _ := s.health.CheckAll(ctx); !healthy {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
