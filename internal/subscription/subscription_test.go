package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carehub/platform/internal/audit"
	"github.com/carehub/platform/internal/auth"
	"github.com/carehub/platform/internal/circuitbreaker"
	"github.com/carehub/platform/internal/entitlement"
	"github.com/carehub/platform/internal/metrics"
)

type fakeTenants struct {
	mu        sync.Mutex
	customers map[string]string
	plans     map[string]entitlement.Plan
}

func newFakeTenants() *fakeTenants {
	return &fakeTenants{
		customers: map[string]string{"org_a": "cus_a", "org_b": "cus_b", "org_nocust": ""},
		plans:     map[string]entitlement.Plan{},
	}
}

func (f *fakeTenants) Exists(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.customers[id]
	return ok, nil
}

func (f *fakeTenants) CustomerID(_ context.Context, id string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.customers[id]
	if !ok {
		return "", errors.New("unknown tenant")
	}
	return c, nil
}

func (f *fakeTenants) SetPlan(_ context.Context, id string, p entitlement.Plan) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.plans[id] = p
	return nil
}

func (f *fakeTenants) plan(id string) entitlement.Plan {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.plans[id]
}

type fakeProvider struct {
	mu    sync.Mutex
	subs  map[string][]*Subscription
	err   error
	calls int
}

func (f *fakeProvider) ListSubscriptions(_ context.Context, customerID string) ([]*Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	var out []*Subscription
	for _, s := range f.subs[customerID] {
		cp := *s
		out = append(out, &cp)
	}
	return out, nil
}

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func sub(tenant, ext string, status Status, amount string, interval Interval) *Subscription {
	return &Subscription{
		TenantID:   tenant,
		ExternalID: ext,
		Status:     status,
		Plan:       entitlement.PlanProfessional,
		Amount:     amount,
		Currency:   "USD",
		Interval:   interval,
		CreatedAt:  t0,
	}
}

func newTracker(p Provider) (*Tracker, *fakeTenants) {
	ft := newFakeTenants()
	tr := NewTracker(NewMemoryStore(), ft, p, Config{BreakerThreshold: 2, BreakerCooldown: time.Minute})
	tr.now = func() time.Time { return t0 }
	return tr, ft
}

func TestMonthlyAmount(t *testing.T) {
	tests := []struct {
		amount   string
		interval Interval
		want     int64
	}{
		{"2900", IntervalMonth, 2900},
		{"29000", IntervalYear, 2417},
		{"6", IntervalYear, 1}, // 0.5 rounds up
		{"18", IntervalYear, 2},
		{"9223372036854775807", IntervalYear, 768614336404564651},
		{"9223372036854775807", IntervalMonth, math.MaxInt64},
		{"9223372036854775808", IntervalMonth, 0},
		{"5", IntervalYear, 0},
		{"abc", IntervalMonth, 0},
		{"", IntervalMonth, 0},
		{"-100", IntervalMonth, 0},
		{"1000", Interval("week"), 0},
	}
	for _, tt := range tests {
		got := MonthlyAmount(&Subscription{Amount: tt.amount, Interval: tt.interval})
		assert.Equal(t, tt.want, got, "amount %q interval %q", tt.amount, tt.interval)
	}
}

func TestComputeMRR_MixedIntervals(t *testing.T) {
	subs := []*Subscription{
		sub("org_a", "ext_1", StatusActive, "2900", IntervalMonth),
		sub("org_b", "ext_2", StatusActive, "29000", IntervalYear),
	}
	m := ComputeMRR(subs)
	assert.Equal(t, int64(5317), m.MRR)
	assert.Equal(t, int64(5317), m.ByCurrency["usd"])
	assert.Equal(t, 2, m.ActiveSubscriptions)
}

func TestComputeMRR_SaturatesInsteadOfOverflowing(t *testing.T) {
	subs := []*Subscription{
		sub("org_a", "ext_1", StatusActive, "9223372036854775807", IntervalMonth),
		sub("org_b", "ext_2", StatusActive, "9223372036854775807", IntervalYear),
		sub("org_c", "ext_3", StatusActive, "2900", IntervalMonth),
	}
	m := ComputeMRR(subs)
	assert.Equal(t, int64(math.MaxInt64), m.MRR)
	assert.Equal(t, int64(math.MaxInt64), m.ByCurrency["usd"])
	assert.Equal(t, 3, m.ActiveSubscriptions)
}

func TestComputeMRR_CountsOnlyCurrentSubscriptionPerTenant(t *testing.T) {
	monthly := sub("org_a", "ext_1", StatusActive, "2900", IntervalMonth)
	monthly.ID = "sub_1"
	yearly := sub("org_a", "ext_2", StatusActive, "29000", IntervalYear)
	yearly.ID = "sub_2"
	yearly.CreatedAt = t0.Add(time.Hour)

	m := ComputeMRR([]*Subscription{monthly, yearly})
	assert.Equal(t, int64(2417), m.MRR)
	assert.Equal(t, 1, m.ActiveSubscriptions)
}

func TestComputeMRR_IgnoresGarbageAndInactive(t *testing.T) {
	subs := []*Subscription{
		sub("org_a", "ext_1", StatusActive, "not-a-number", IntervalMonth),
		sub("org_b", "ext_2", StatusTrialing, "5000", IntervalMonth),
		sub("org_c", "ext_3", StatusActive, "1000", IntervalMonth),
	}
	m := ComputeMRR(subs)
	assert.Equal(t, int64(1000), m.MRR)
	assert.Equal(t, 2, m.ActiveSubscriptions)
}

func TestCurrent_PrefersLatestNonCanceled(t *testing.T) {
	old := sub("org_a", "ext_old", StatusActive, "1000", IntervalMonth)
	old.ID = "sub_1"
	newer := sub("org_a", "ext_new", StatusActive, "2000", IntervalMonth)
	newer.ID = "sub_2"
	newer.CreatedAt = t0.Add(time.Hour)
	canceled := sub("org_a", "ext_gone", StatusCanceled, "9000", IntervalMonth)
	canceled.ID = "sub_3"
	canceled.CreatedAt = t0.Add(2 * time.Hour)

	cur := Current([]*Subscription{old, newer, canceled})
	require.Contains(t, cur, "org_a")
	assert.Equal(t, "sub_2", cur["org_a"].ID)
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StatusTrialing, StatusActive))
	assert.True(t, CanTransition(StatusActive, StatusPastDue))
	assert.True(t, CanTransition(StatusPastDue, StatusActive))
	assert.True(t, CanTransition(StatusActive, StatusCanceled))
	assert.True(t, CanTransition(StatusActive, StatusActive))
	assert.False(t, CanTransition(StatusCanceled, StatusActive))
	assert.False(t, CanTransition(StatusActive, StatusTrialing))
	assert.False(t, CanTransition(StatusPastDue, StatusTrialing))
}

func TestHistogram_IncludesEmptyBuckets(t *testing.T) {
	h := Histogram([]*Subscription{sub("org_a", "ext_1", StatusActive, "1", IntervalMonth)})
	assert.Equal(t, map[Status]int{StatusTrialing: 0, StatusActive: 1, StatusPastDue: 0, StatusCanceled: 0}, h)
}

func TestApply_InsertsAndSyncsPlan(t *testing.T) {
	tr, ft := newTracker(nil)
	ctx := context.Background()

	got, err := tr.Apply(ctx, sub("org_a", "ext_1", StatusActive, "2900", IntervalMonth))
	require.NoError(t, err)
	assert.Regexp(t, `^sub_`, got.ID)
	assert.Equal(t, "usd", got.Currency)
	assert.Equal(t, entitlement.PlanProfessional, ft.plan("org_a"))

	canceled := sub("org_a", "ext_1", StatusCanceled, "2900", IntervalMonth)
	again, err := tr.Apply(ctx, canceled)
	require.NoError(t, err)
	assert.Equal(t, got.ID, again.ID, "upsert keeps the local id")
	assert.Equal(t, entitlement.PlanFree, ft.plan("org_a"))
}

func TestApply_RejectsInvalidTransition(t *testing.T) {
	tr, _ := newTracker(nil)
	ctx := context.Background()

	_, err := tr.Apply(ctx, sub("org_a", "ext_1", StatusCanceled, "2900", IntervalMonth))
	require.NoError(t, err)

	_, err = tr.Apply(ctx, sub("org_a", "ext_1", StatusActive, "9999", IntervalMonth))
	assert.ErrorIs(t, err, ErrInvalidTransition)

	stored, err := tr.Store().GetByExternalID(ctx, "ext_1")
	require.NoError(t, err)
	assert.Equal(t, StatusCanceled, stored.Status)
	assert.Equal(t, "2900", stored.Amount)

	_, err = tr.Apply(ctx, sub("org_a", "ext_2", Status("paused"), "1", IntervalMonth))
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestApply_UnknownTenantStoresNothing(t *testing.T) {
	tr, _ := newTracker(nil)
	ctx := context.Background()

	_, err := tr.Apply(ctx, sub("org_ghost", "ext_1", StatusActive, "2900", IntervalMonth))
	assert.ErrorIs(t, err, ErrUnknownTenant)

	_, err = tr.Store().GetByExternalID(ctx, "ext_1")
	assert.ErrorIs(t, err, ErrSubscriptionNotFound)
	mrr, err := tr.PlatformMRR(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), mrr.MRR)
}

func TestApply_PastDueKeepsPlan(t *testing.T) {
	tr, ft := newTracker(nil)
	_, err := tr.Apply(context.Background(), sub("org_a", "ext_1", StatusPastDue, "2900", IntervalMonth))
	require.NoError(t, err)
	assert.Equal(t, entitlement.PlanProfessional, ft.plan("org_a"))
}

func TestReconcile_AppliesAndSkips(t *testing.T) {
	p := &fakeProvider{subs: map[string][]*Subscription{
		"cus_a": {
			{ExternalID: "ext_1", Status: StatusActive, Plan: entitlement.PlanStarter, Amount: "4900", Currency: "usd", Interval: IntervalMonth},
			{ExternalID: "ext_2", Status: Status("unknown"), Amount: "1", Interval: IntervalMonth},
		},
	}}
	tr, ft := newTracker(p)
	ctx := context.Background()

	res, err := tr.Reconcile(ctx, "org_a")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Fetched)
	assert.Equal(t, 1, res.Applied)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, entitlement.PlanStarter, ft.plan("org_a"))

	stored, err := tr.Store().GetByExternalID(ctx, "ext_1")
	require.NoError(t, err)
	assert.Equal(t, "org_a", stored.TenantID)
	assert.Equal(t, "cus_a", stored.CustomerID)

	state, err := tr.Store().GetSyncState(ctx, "org_a")
	require.NoError(t, err)
	require.NotNil(t, state.LastSyncedAt)
	assert.Empty(t, state.LastError)
}

func TestReconcile_NoCustomer(t *testing.T) {
	tr, _ := newTracker(&fakeProvider{})
	_, err := tr.Reconcile(context.Background(), "org_nocust")
	assert.ErrorIs(t, err, ErrNoCustomer)

	tr, _ = newTracker(nil)
	_, err = tr.Reconcile(context.Background(), "org_a")
	assert.ErrorIs(t, err, ErrProviderNotConfigured)
}

func TestReconcile_BreakerOpensAfterRepeatedFailures(t *testing.T) {
	p := &fakeProvider{err: errors.New("502 bad gateway")}
	tr, _ := newTracker(p)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := tr.Reconcile(ctx, "org_a")
		assert.ErrorIs(t, err, ErrProviderFailed)
	}
	_, err := tr.Reconcile(ctx, "org_a")
	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
	assert.ErrorIs(t, err, ErrProviderFailed)
	assert.Equal(t, 2, p.calls, "open circuit must not reach the provider")

	// Other tenants are unaffected.
	_, err = tr.Reconcile(ctx, "org_b")
	assert.NotErrorIs(t, err, circuitbreaker.ErrOpen)
}

func TestReconcile_ProviderTimeout(t *testing.T) {
	tr, _ := newTracker(blockingProvider{})
	tr.cfg.ProviderTimeout = 20 * time.Millisecond

	start := time.Now()
	_, err := tr.Reconcile(context.Background(), "org_a")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

// countingProvider records the peak number of concurrent calls.
type countingProvider struct {
	inFlight, peak atomic.Int32
}

func (p *countingProvider) ListSubscriptions(context.Context, string) ([]*Subscription, error) {
	n := p.inFlight.Add(1)
	defer p.inFlight.Add(-1)
	for {
		old := p.peak.Load()
		if n <= old || p.peak.CompareAndSwap(old, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	return nil, nil
}

func TestReconcile_SerializedPerTenant(t *testing.T) {
	p := &countingProvider{}
	tr, _ := newTracker(p)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := tr.Reconcile(context.Background(), "org_a")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), p.peak.Load())
}

type blockingProvider struct{}

func (blockingProvider) ListSubscriptions(ctx context.Context, _ string) ([]*Subscription, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestSnapshot_StaleOnRefreshFailure(t *testing.T) {
	p := &fakeProvider{subs: map[string][]*Subscription{
		"cus_a": {{ExternalID: "ext_1", Status: StatusActive, Plan: entitlement.PlanStarter, Amount: "4900", Currency: "usd", Interval: IntervalMonth}},
	}}
	tr, _ := newTracker(p)
	ctx := context.Background()

	snap, err := tr.Snapshot(ctx, "org_a", true)
	require.NoError(t, err)
	assert.False(t, snap.Stale)
	require.NotNil(t, snap.Current)
	assert.Equal(t, int64(4900), snap.MRR.MRR)

	p.mu.Lock()
	p.err = errors.New("connection reset")
	p.mu.Unlock()

	snap, err = tr.Snapshot(ctx, "org_a", true)
	require.NoError(t, err, "a failed refresh still serves local data")
	assert.True(t, snap.Stale)
	assert.Equal(t, StaleRefreshFailed, snap.StaleReason)
	assert.Len(t, snap.Subscriptions, 1)

	snap, err = tr.Snapshot(ctx, "org_a", false)
	require.NoError(t, err)
	assert.Equal(t, StaleLastSyncError, snap.StaleReason)
}

func TestSnapshot_Staleness(t *testing.T) {
	tr, _ := newTracker(&fakeProvider{})
	ctx := context.Background()

	snap, err := tr.Snapshot(ctx, "org_a", false)
	require.NoError(t, err)
	assert.Equal(t, StaleNeverSynced, snap.StaleReason)

	_, err = tr.Reconcile(ctx, "org_a")
	require.NoError(t, err)
	snap, err = tr.Snapshot(ctx, "org_a", false)
	require.NoError(t, err)
	assert.False(t, snap.Stale)

	tr.now = func() time.Time { return t0.Add(25 * time.Hour) }
	snap, err = tr.Snapshot(ctx, "org_a", false)
	require.NoError(t, err)
	assert.Equal(t, StaleOutdated, snap.StaleReason)

	snap, err = tr.Snapshot(ctx, "org_nocust", true)
	require.NoError(t, err)
	assert.False(t, snap.Stale, "nothing to sync without a customer")
	assert.NotNil(t, snap.Subscriptions)
}

func TestPlatformMRR_SetsGauge(t *testing.T) {
	tr, _ := newTracker(nil)
	ctx := context.Background()
	_, err := tr.Apply(ctx, sub("org_a", "ext_1", StatusActive, "2900", IntervalMonth))
	require.NoError(t, err)
	_, err = tr.Apply(ctx, sub("org_b", "ext_2", StatusActive, "29000", IntervalYear))
	require.NoError(t, err)

	m, err := tr.PlatformMRR(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5317), m.MRR)
	assert.Equal(t, float64(5317), testutil.ToFloat64(metrics.PlatformMRRCents.WithLabelValues("usd")))
}

func TestHandlers(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tr, _ := newTracker(&fakeProvider{})
	_, err := tr.Apply(context.Background(), sub("org_a", "ext_1", StatusActive, "2900", IntervalMonth))
	require.NoError(t, err)
	store := audit.NewMemoryStore()

	router := func(ac *auth.Context) *gin.Engine {
		r := gin.New()
		api := r.Group("/api", func(c *gin.Context) {
			auth.SetContext(c, ac)
			c.Next()
		})
		h := NewHandler(tr, audit.NewRecorder(store))
		h.RegisterRoutes(api)
		h.RegisterAdminRoutes(api.Group("/admin", auth.RequireSuperadmin()))
		return r
	}
	call := func(r *gin.Engine, method, path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(method, path, nil))
		return w
	}

	owner := router(&auth.Context{UserID: "usr_1", TenantID: "org_a", Role: auth.RoleOwner})
	w := call(owner, http.MethodGet, "/api/billing/subscription")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Data Snapshot `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, int64(2900), body.Data.MRR.MRR)

	w = call(owner, http.MethodPost, "/api/billing/subscription/sync")
	require.Equal(t, http.StatusOK, w.Code)
	entries, err := store.List(context.Background(), audit.Query{TenantID: "org_a"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, audit.ActionSubscriptionSynced, entries[0].Action)

	member := router(&auth.Context{UserID: "usr_2", TenantID: "org_a", Role: auth.RoleMember})
	assert.Equal(t, http.StatusForbidden, call(member, http.MethodGet, "/api/billing/subscription").Code)

	nocust := router(&auth.Context{UserID: "usr_3", TenantID: "org_nocust", Role: auth.RoleOwner})
	assert.Equal(t, http.StatusConflict, call(nocust, http.MethodPost, "/api/billing/subscription/sync").Code)

	assert.Equal(t, http.StatusForbidden, call(owner, http.MethodGet, "/api/admin/billing/mrr").Code)
	root := router(&auth.Context{UserID: "usr_0", IsSuperadmin: true})
	assert.Equal(t, http.StatusOK, call(root, http.MethodGet, "/api/admin/billing/mrr").Code)
}
