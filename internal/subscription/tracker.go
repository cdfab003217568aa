package subscription

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/carehub/platform/internal/circuitbreaker"
	"github.com/carehub/platform/internal/entitlement"
	"github.com/carehub/platform/internal/idgen"
	"github.com/carehub/platform/internal/logging"
	"github.com/carehub/platform/internal/metrics"
	"github.com/carehub/platform/internal/syncutil"
	"github.com/carehub/platform/internal/traces"
)

// Stale reasons reported by Snapshot.
const (
	StaleRefreshFailed = "refresh_failed"
	StaleNeverSynced   = "never_synced"
	StaleLastSyncError = "last_sync_failed"
	StaleOutdated      = "sync_outdated"
)

// Tenants is the slice of the tenant service the tracker needs.
type Tenants interface {
	Exists(ctx context.Context, tenantID string) (bool, error)
	CustomerID(ctx context.Context, tenantID string) (string, error)
	SetPlan(ctx context.Context, tenantID string, plan entitlement.Plan) error
}

// Provider lists a customer's subscriptions at the billing provider.
// Returned records carry ExternalID, CustomerID and the mapped Status.
type Provider interface {
	ListSubscriptions(ctx context.Context, customerID string) ([]*Subscription, error)
}

// Config tunes provider access.
type Config struct {
	ProviderTimeout  time.Duration
	StaleAfter       time.Duration
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

func (c Config) withDefaults() Config {
	if c.ProviderTimeout <= 0 {
		c.ProviderTimeout = 10 * time.Second
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 24 * time.Hour
	}
	if c.BreakerThreshold <= 0 {
		c.BreakerThreshold = 5
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = 30 * time.Second
	}
	return c
}

// Tracker keeps local subscription records in step with the provider.
type Tracker struct {
	subLocks    *syncutil.KeyedMutex // read-check-write in Apply, per external id
	tenantLocks *syncutil.KeyedMutex // one Reconcile per tenant at a time
	store       Store
	tenants     Tenants
	provider    Provider
	breaker     *circuitbreaker.Breaker
	cfg         Config
	now         func() time.Time
}

// NewTracker creates a tracker. provider may be nil when billing is not
// configured; Reconcile then fails with a config error.
func NewTracker(store Store, tenants Tenants, provider Provider, cfg Config) *Tracker {
	cfg = cfg.withDefaults()
	return &Tracker{
		subLocks:    syncutil.NewKeyedMutex(),
		tenantLocks: syncutil.NewKeyedMutex(),
		store:       store,
		tenants:     tenants,
		provider:    provider,
		breaker:     circuitbreaker.New("billing_provider", cfg.BreakerThreshold, cfg.BreakerCooldown),
		cfg:         cfg,
		now:         time.Now,
	}
}

// Store exposes the underlying store for reporting.
func (t *Tracker) Store() Store { return t.store }

var (
	// ErrProviderNotConfigured is returned by Reconcile without a provider.
	ErrProviderNotConfigured = errors.New("subscription: billing provider not configured")
	// ErrProviderFailed wraps any failure talking to the provider, including
	// timeouts and an open circuit.
	ErrProviderFailed = errors.New("subscription: provider request failed")
	// ErrUnknownTenant is returned by Apply for a tenant id with no organization.
	ErrUnknownTenant = errors.New("subscription: unknown tenant")
)

// Apply upserts sub by ExternalID, enforcing the status machine, then
// re-derives the tenant's plan. The stored record is untouched on a
// rejected transition.
func (t *Tracker) Apply(ctx context.Context, sub *Subscription) (*Subscription, error) {
	if !ValidStatus(sub.Status) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, sub.Status)
	}
	if sub.ExternalID == "" || sub.TenantID == "" {
		return nil, errors.New("subscription: external id and tenant id are required")
	}
	ok, err := t.tenants.Exists(ctx, sub.TenantID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTenant, sub.TenantID)
	}

	unlock := t.subLocks.Lock(sub.ExternalID)
	rec := *sub
	now := t.now().UTC()
	existing, err := t.store.GetByExternalID(ctx, sub.ExternalID)
	switch {
	case err == nil:
		if !CanTransition(existing.Status, sub.Status) {
			unlock()
			return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, existing.Status, sub.Status)
		}
		rec.ID = existing.ID
		rec.CreatedAt = existing.CreatedAt
	case errors.Is(err, ErrSubscriptionNotFound):
		rec.ID = idgen.WithPrefix(idgen.PrefixSubscription)
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = now
		}
	default:
		unlock()
		return nil, err
	}
	rec.Currency = strings.ToLower(rec.Currency)
	rec.UpdatedAt = now
	err = t.store.Save(ctx, &rec)
	unlock()
	if err != nil {
		return nil, err
	}

	if err := t.syncPlan(ctx, rec.TenantID); err != nil {
		return nil, err
	}
	return &rec, nil
}

// syncPlan sets the tenant plan from its current subscription, or free.
func (t *Tracker) syncPlan(ctx context.Context, tenantID string) error {
	subs, err := t.store.ListByTenant(ctx, tenantID)
	if err != nil {
		return err
	}
	plan := entitlement.PlanFree
	if cur := Current(subs)[tenantID]; cur != nil && cur.Entitled() && entitlement.ValidPlan(cur.Plan) {
		plan = cur.Plan
	}
	return t.tenants.SetPlan(ctx, tenantID, plan)
}

// SyncResult summarizes one reconciliation.
type SyncResult struct {
	TenantID string `json:"organizationId"`
	Fetched  int    `json:"fetched"`
	Applied  int    `json:"applied"`
	Skipped  int    `json:"skipped"`
}

// Reconcile pulls every provider subscription for the tenant's customer
// and applies them. The provider call is bounded by ProviderTimeout and
// guarded by a per-tenant circuit breaker.
func (t *Tracker) Reconcile(ctx context.Context, tenantID string) (res *SyncResult, err error) {
	ctx, span := traces.StartSpan(ctx, "subscription.reconcile", traces.TenantID(tenantID))
	defer func() { traces.End(span, err) }()

	if t.provider == nil {
		metrics.SubscriptionSyncsTotal.WithLabelValues("skipped").Inc()
		return nil, ErrProviderNotConfigured
	}
	customerID, err := t.tenants.CustomerID(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if customerID == "" {
		metrics.SubscriptionSyncsTotal.WithLabelValues("skipped").Inc()
		return nil, ErrNoCustomer
	}

	unlock, err := t.tenantLocks.LockContext(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	state, err := t.store.GetSyncState(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if state == nil {
		state = &SyncState{TenantID: tenantID}
	}
	state.LastAttemptAt = t.now().UTC()

	subs, err := t.fetch(ctx, tenantID, customerID)
	if err != nil {
		state.LastError = err.Error()
		if serr := t.store.SaveSyncState(ctx, state); serr != nil {
			logging.L(ctx).Error("failed to save sync state", "organization_id", tenantID, "error", serr)
		}
		metrics.SubscriptionSyncsTotal.WithLabelValues("failed").Inc()
		return nil, err
	}

	res = &SyncResult{TenantID: tenantID, Fetched: len(subs)}
	for _, s := range subs {
		s.TenantID = tenantID
		if s.CustomerID == "" {
			s.CustomerID = customerID
		}
		if _, err := t.Apply(ctx, s); err != nil {
			if errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrInvalidStatus) {
				logging.L(ctx).Warn("skipping provider subscription",
					"organization_id", tenantID, "external_id", s.ExternalID, "error", err)
				res.Skipped++
				continue
			}
			metrics.SubscriptionSyncsTotal.WithLabelValues("failed").Inc()
			return nil, err
		}
		res.Applied++
	}

	synced := t.now().UTC()
	state.LastSyncedAt = &synced
	state.LastError = ""
	if err := t.store.SaveSyncState(ctx, state); err != nil {
		return nil, err
	}
	result := "synced"
	if res.Applied == 0 {
		result = "unchanged"
	}
	metrics.SubscriptionSyncsTotal.WithLabelValues(result).Inc()
	return res, nil
}

func (t *Tracker) fetch(ctx context.Context, tenantID, customerID string) ([]*Subscription, error) {
	callCtx, cancel := context.WithTimeout(ctx, t.cfg.ProviderTimeout)
	defer cancel()

	var subs []*Subscription
	start := time.Now()
	err := t.breaker.Execute(tenantID, func() error {
		var err error
		subs, err = t.provider.ListSubscriptions(callCtx, customerID)
		return err
	}, func(err error) bool {
		// The caller going away says nothing about provider health.
		return ctx.Err() == nil
	})
	if !errors.Is(err, circuitbreaker.ErrOpen) {
		metrics.ObserveProviderCall("list_subscriptions", start, err)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProviderFailed, err)
	}
	return subs, nil
}

// Snapshot is a tenant's billing state as served to the dashboard.
type Snapshot struct {
	TenantID      string          `json:"organizationId"`
	Current       *Subscription   `json:"current"`
	Subscriptions []*Subscription `json:"subscriptions"`
	MRR           MRR             `json:"mrr"`
	LastSyncedAt  *time.Time      `json:"lastSyncedAt,omitempty"`
	Stale         bool            `json:"stale"`
	StaleReason   string          `json:"staleReason,omitempty"`
}

// Snapshot returns local records and MRR. With refresh it reconciles first;
// a failed refresh still returns local data, flagged stale. Tenants without
// a billing customer have nothing to sync and are never stale.
func (t *Tracker) Snapshot(ctx context.Context, tenantID string, refresh bool) (*Snapshot, error) {
	customerID, err := t.tenants.CustomerID(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{TenantID: tenantID}
	if refresh && customerID != "" {
		if _, err := t.Reconcile(ctx, tenantID); err != nil {
			logging.L(ctx).Warn("subscription refresh failed", "organization_id", tenantID, "error", err)
			snap.Stale = true
			snap.StaleReason = StaleRefreshFailed
		}
	}

	subs, err := t.store.ListByTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if subs == nil {
		subs = []*Subscription{}
	}
	snap.Subscriptions = subs
	snap.Current = Current(subs)[tenantID]
	snap.MRR = ComputeMRR(subs)

	state, err := t.store.GetSyncState(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if state != nil {
		snap.LastSyncedAt = state.LastSyncedAt
	}
	if customerID != "" && !snap.Stale {
		snap.StaleReason = t.staleness(state)
		snap.Stale = snap.StaleReason != ""
	}
	return snap, nil
}

func (t *Tracker) staleness(state *SyncState) string {
	switch {
	case state == nil || state.LastSyncedAt == nil:
		return StaleNeverSynced
	case state.LastError != "": // cleared on every successful sync
		return StaleLastSyncError
	case t.now().Sub(*state.LastSyncedAt) > t.cfg.StaleAfter:
		return StaleOutdated
	default:
		return ""
	}
}

// PlatformMRR aggregates MRR over every tenant and refreshes the MRR gauge.
func (t *Tracker) PlatformMRR(ctx context.Context) (MRR, error) {
	subs, err := t.store.ListAll(ctx)
	if err != nil {
		return MRR{}, err
	}
	m := ComputeMRR(subs)
	metrics.PlatformMRRCents.Reset()
	for currency, cents := range m.ByCurrency {
		metrics.PlatformMRRCents.WithLabelValues(currency).Set(float64(cents))
	}
	return m, nil
}
