// Package server wires the CareHub platform together and serves its HTTP API.
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/carehub/platform/internal/admin"
	"github.com/carehub/platform/internal/audit"
	"github.com/carehub/platform/internal/auth"
	"github.com/carehub/platform/internal/billing"
	"github.com/carehub/platform/internal/config"
	"github.com/carehub/platform/internal/entitlement"
	"github.com/carehub/platform/internal/featureflag"
	"github.com/carehub/platform/internal/health"
	"github.com/carehub/platform/internal/logging"
	"github.com/carehub/platform/internal/metrics"
	"github.com/carehub/platform/internal/ratelimit"
	"github.com/carehub/platform/internal/realtime"
	"github.com/carehub/platform/internal/reconciliation"
	"github.com/carehub/platform/internal/reporting"
	"github.com/carehub/platform/internal/subscription"
	"github.com/carehub/platform/internal/tenant"
	"github.com/carehub/platform/internal/traces"
	"github.com/carehub/platform/internal/uploads"
	"github.com/carehub/platform/internal/users"
	"github.com/carehub/platform/migrations"
)

// Version is reported by /health and in trace resources. Set by cmd/server.
var Version = "dev"

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg *config.Config

	users      users.Store
	sessions   *auth.SessionManager
	resolver   *auth.Resolver
	auditStore audit.Store
	recorder   *audit.Recorder

	tenants    *tenant.Service
	flags      *featureflag.Service
	evaluator  *entitlement.Evaluator
	tracker    *subscription.Tracker
	webhooks   *billing.WebhookHandler
	aggregator *reporting.Aggregator
	uploads    *uploads.Service
	admin      *admin.Service

	provider subscription.Provider // nil when billing is not configured
	objects  uploads.ObjectStore

	realtimeHub    *realtime.Hub
	reconciler     *reconciliation.Runner
	reconcileTimer *reconciliation.Timer
	rateLimiter    *ratelimit.Limiter
	health         *health.Registry

	db              *sql.DB // nil if using in-memory
	router          *gin.Engine
	httpSrv         *http.Server
	logger          *slog.Logger
	cancelRunCtx    context.CancelFunc
	shutdownTracing func(context.Context) error

	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithProvider replaces the Stripe provider (for testing).
func WithProvider(p subscription.Provider) Option {
	return func(s *Server) {
		s.provider = p
	}
}

// WithObjectStore replaces the upload object store (for testing).
func WithObjectStore(o uploads.ObjectStore) Option {
	return func(s *Server) {
		s.objects = o
	}
}

// stores groups the persistence layer so Postgres and memory share wiring.
type stores struct {
	users         users.Store
	sessions      auth.SessionStore
	tenants       tenant.Store
	audit         audit.Store
	flags         featureflag.Store
	subscriptions subscription.Store
	events        billing.Store
	uploads       uploads.Store
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, cfg.LogFormat),
		health: health.NewRegistry(3 * time.Second),
	}
	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	var st stores
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err = db.PingContext(pingCtx)
		cancel()
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := migrations.Up(ctx, db); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}

		s.db = db
		st = postgresStores(db)
		s.health.Register("database", health.DBChecker(db))
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		st = memoryStores()
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	if err := s.wire(ctx, st); err != nil {
		if s.db != nil {
			_ = s.db.Close()
		}
		return nil, err
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

func postgresStores(db *sql.DB) stores {
	return stores{
		users:         users.NewPostgresStore(db),
		sessions:      auth.NewPostgresStore(db),
		tenants:       tenant.NewPostgresStore(db),
		audit:         audit.NewPostgresStore(db),
		flags:         featureflag.NewPostgresStore(db),
		subscriptions: subscription.NewPostgresStore(db),
		events:        billing.NewPostgresStore(db),
		uploads:       uploads.NewPostgresStore(db),
	}
}

func memoryStores() stores {
	return stores{
		users:         users.NewMemoryStore(),
		sessions:      auth.NewMemoryStore(),
		tenants:       tenant.NewMemoryStore(),
		audit:         audit.NewMemoryStore(),
		flags:         featureflag.NewMemoryStore(),
		subscriptions: subscription.NewMemoryStore(),
		events:        billing.NewMemoryStore(),
		uploads:       uploads.NewMemoryStore(),
	}
}

// wire builds the services on top of the stores. Order matters: the
// evaluator needs the directory and flag overrides, and the tenant service
// needs the evaluator for seat limits.
func (s *Server) wire(ctx context.Context, st stores) error {
	cfg := s.cfg

	s.realtimeHub = realtime.NewHub(s.logger)

	s.users = st.users
	s.auditStore = st.audit
	s.recorder = audit.NewRecorder(st.audit).WithPublisher(s.realtimeHub)

	s.sessions = auth.NewSessionManager(st.sessions, cfg.SessionTTL)
	dir := tenant.NewDirectory(st.tenants, st.users)
	s.resolver = auth.NewResolver(s.sessions, dir)

	s.flags = featureflag.NewService(st.flags, st.tenants, s.recorder)
	s.evaluator = entitlement.NewEvaluator(dir, s.flags, cfg.KillSwitches).
		WithUsage(entitlement.LimitSeats, tenant.SeatUsage(st.tenants)).
		WithUsage(entitlement.LimitStorageBytes, uploads.StorageUsage(st.uploads))

	s.tenants = tenant.NewService(st.tenants, st.users, s.evaluator, s.recorder)

	if s.provider == nil && cfg.BillingConfigured() {
		s.provider = billing.NewStripeProvider(cfg.StripeSecretKey, nil)
	}
	if s.provider != nil {
		if cc, ok := s.provider.(tenant.CustomerCreator); ok {
			s.tenants.WithCustomerCreator(cc)
		}
		s.logger.Info("billing provider enabled")
	} else {
		s.logger.Warn("billing provider not configured, subscription sync answers CONFIG_ERROR")
	}
	s.health.RegisterOptional("billing_provider",
		health.ConfiguredChecker(s.provider != nil, "STRIPE_SECRET_KEY not set"))
	s.health.RegisterOptional("billing_webhooks",
		health.ConfiguredChecker(cfg.StripeWebhookSecret != "", "STRIPE_WEBHOOK_SECRET not set"))

	s.tracker = subscription.NewTracker(st.subscriptions, s.tenants, s.provider, subscription.Config{
		ProviderTimeout: cfg.ProviderTimeout,
		StaleAfter:      cfg.StaleAfter,
	})
	s.webhooks = billing.NewWebhookHandler(cfg.StripeWebhookSecret, st.events, s.tracker, s.tenants, st.subscriptions).
		WithPublisher(s.realtimeHub)
	s.aggregator = reporting.NewAggregator(st.events, st.subscriptions, cfg.ReportingCurrency)

	if s.objects == nil {
		if cfg.StorageConfigured() {
			objs, err := uploads.NewS3Objects(ctx, uploads.S3Config{
				Bucket:          cfg.S3Bucket,
				Region:          cfg.S3Region,
				Endpoint:        cfg.S3Endpoint,
				AccessKeyID:     cfg.AWSAccessKeyID,
				SecretAccessKey: cfg.AWSSecretAccessKey,
			})
			if err != nil {
				return fmt.Errorf("failed to configure object storage: %w", err)
			}
			s.objects = objs
			s.logger.Info("uploads stored in S3", "bucket", cfg.S3Bucket, "region", cfg.S3Region)
		} else {
			s.objects = uploads.NewMemoryObjects()
			s.logger.Info("uploads stored in memory (S3_BUCKET not set)")
		}
	}
	s.health.RegisterOptional("object_storage",
		health.ConfiguredChecker(cfg.StorageConfigured(), "S3_BUCKET not set, using memory"))
	s.uploads = uploads.NewService(s.objects, st.uploads, s.evaluator, s.recorder)

	s.admin = admin.NewService(st.users, s.sessions, s.recorder)

	if s.provider != nil {
		s.reconciler = reconciliation.NewRunner(st.tenants, s.tracker).WithMRR(s.tracker)
		s.reconcileTimer = reconciliation.NewTimer(s.reconciler, cfg.ReconcileInterval, s.logger)
	}

	return nil
}

func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	shutdownTracing, err := traces.Init(runCtx, s.cfg.OTLPEndpoint, Version, s.logger)
	if err != nil {
		s.logger.Warn("tracing disabled", "error", err)
	} else {
		s.shutdownTracing = shutdownTracing
	}

	if err := s.bootstrapSuperadmin(runCtx); err != nil {
		cancel()
		return fmt.Errorf("bootstrap superadmin: %w", err)
	}

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       60 * time.Second, // video uploads
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"env", s.cfg.Env,
			"version", Version,
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go s.realtimeHub.Run(runCtx)

	if s.reconcileTimer != nil {
		go s.reconcileTimer.Start(runCtx)
	}

	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		cancel()
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Give load balancers time to stop sending traffic
	if s.cfg.IsProduction() {
		time.Sleep(5 * time.Second)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var shutdownErr error
	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			shutdownErr = err
		}
	}

	// Cancel background goroutines only after in-flight requests drained.
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	if s.reconcileTimer != nil {
		s.reconcileTimer.Stop()
		s.logger.Info("reconciliation timer stopped")
	}

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	if s.shutdownTracing != nil {
		if err := s.shutdownTracing(ctx); err != nil {
			s.logger.Error("tracing shutdown error", "error", err)
		}
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return shutdownErr
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
