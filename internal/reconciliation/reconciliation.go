// Package reconciliation re-syncs every organization's subscriptions with
// the billing provider, catching webhook deliveries that never arrived.
package reconciliation

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/carehub/platform/internal/logging"
	"github.com/carehub/platform/internal/subscription"
	"github.com/carehub/platform/internal/tenant"
)

// ErrAlreadyRunning is returned when a run is requested while one is in flight.
var ErrAlreadyRunning = errors.New("reconciliation: run already in progress")

// TenantLister returns organizations. tenant.Store satisfies it.
type TenantLister interface {
	List(ctx context.Context, q tenant.Query) ([]*tenant.Tenant, error)
}

// Syncer reconciles one organization against the provider.
type Syncer interface {
	Reconcile(ctx context.Context, tenantID string) (*subscription.SyncResult, error)
}

// MRRRefresher recomputes the platform MRR gauge after a run.
type MRRRefresher interface {
	PlatformMRR(ctx context.Context) (subscription.MRR, error)
}

// Failure is one organization that could not be reconciled.
type Failure struct {
	OrganizationID string `json:"organizationId"`
	Error          string `json:"error"`
}

// Report summarizes one run.
type Report struct {
	Tenants    int       `json:"tenants"`
	Synced     int       `json:"synced"`
	Failed     int       `json:"failed"`
	Applied    int       `json:"applied"`
	Skipped    int       `json:"skipped"`
	Failures   []Failure `json:"failures,omitempty"`
	Healthy    bool      `json:"healthy"`
	DurationMs int64     `json:"durationMs"`
	Timestamp  time.Time `json:"timestamp"`
}

// Runner reconciles every organization linked to a billing customer.
type Runner struct {
	tenants TenantLister
	syncer  Syncer
	mrr     MRRRefresher
	running atomic.Bool
	now     func() time.Time
}

// NewRunner creates a runner.
func NewRunner(tenants TenantLister, syncer Syncer) *Runner {
	return &Runner{tenants: tenants, syncer: syncer, now: time.Now}
}

// WithMRR refreshes the platform MRR gauge at the end of each run.
func (r *Runner) WithMRR(m MRRRefresher) *Runner {
	r.mrr = m
	return r
}

// RunAll reconciles each organization in turn. One organization failing
// does not stop the run; a cancelled context does.
func (r *Runner) RunAll(ctx context.Context) (*Report, error) {
	if !r.running.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRunning
	}
	defer r.running.Store(false)

	start := r.now()
	report := &Report{Timestamp: start}
	defer func() {
		elapsed := r.now().Sub(start)
		report.DurationMs = elapsed.Milliseconds()
		report.Healthy = report.Failed == 0
		runDuration.Observe(elapsed.Seconds())
		tenantsSynced.Set(float64(report.Synced))
		tenantsFailed.Set(float64(report.Failed))
		lastRun.Set(float64(start.Unix()))
	}()

	tenants, err := r.tenants.List(ctx, tenant.Query{WithCustomer: true})
	if err != nil {
		runErrors.Inc()
		return report, err
	}
	report.Tenants = len(tenants)

	log := logging.L(ctx)
	for _, t := range tenants {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		res, err := r.syncer.Reconcile(ctx, t.ID)
		if err != nil {
			runErrors.Inc()
			report.Failed++
			report.Failures = append(report.Failures, Failure{OrganizationID: t.ID, Error: err.Error()})
			log.Warn("reconcile organization failed", "tenant_id", t.ID, "error", err)
			continue
		}
		report.Synced++
		report.Applied += res.Applied
		report.Skipped += res.Skipped
	}

	if r.mrr != nil {
		if _, err := r.mrr.PlatformMRR(ctx); err != nil {
			log.Warn("refresh platform mrr failed", "error", err)
		}
	}

	log.Info("reconciliation run complete",
		"tenants", report.Tenants, "synced", report.Synced, "failed", report.Failed)
	return report, nil
}
