package reconciliation

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carehub/platform/internal/subscription"
	"github.com/carehub/platform/internal/tenant"
)

type fakeLister struct {
	tenants []*tenant.Tenant
	err     error
	lastQ   tenant.Query
}

func (f *fakeLister) List(_ context.Context, q tenant.Query) ([]*tenant.Tenant, error) {
	f.lastQ = q
	return f.tenants, f.err
}

type fakeSyncer struct {
	mu      sync.Mutex
	fail    map[string]error
	calls   []string
	block   chan struct{}
	started chan struct{}
}

func (f *fakeSyncer) Reconcile(_ context.Context, tenantID string) (*subscription.SyncResult, error) {
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	f.calls = append(f.calls, tenantID)
	f.mu.Unlock()
	if err := f.fail[tenantID]; err != nil {
		return nil, err
	}
	return &subscription.SyncResult{TenantID: tenantID, Fetched: 2, Applied: 1, Skipped: 1}, nil
}

type fakeMRR struct{ calls int }

func (f *fakeMRR) PlatformMRR(context.Context) (subscription.MRR, error) {
	f.calls++
	return subscription.MRR{}, nil
}

func tenants(ids ...string) []*tenant.Tenant {
	out := make([]*tenant.Tenant, 0, len(ids))
	for _, id := range ids {
		out = append(out, &tenant.Tenant{ID: id, StripeCustomerID: "cus_" + id})
	}
	return out
}

func TestRunAll_CollectsReport(t *testing.T) {
	lister := &fakeLister{tenants: tenants("org_a", "org_b", "org_c")}
	syncer := &fakeSyncer{fail: map[string]error{"org_b": errors.New("stripe unavailable")}}
	mrr := &fakeMRR{}

	report, err := NewRunner(lister, syncer).WithMRR(mrr).RunAll(context.Background())
	require.NoError(t, err)

	assert.True(t, lister.lastQ.WithCustomer, "only organizations with a billing customer are reconciled")
	assert.Equal(t, 3, report.Tenants)
	assert.Equal(t, 2, report.Synced)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 2, report.Applied)
	assert.Equal(t, 2, report.Skipped)
	assert.False(t, report.Healthy)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "org_b", report.Failures[0].OrganizationID)
	assert.Contains(t, report.Failures[0].Error, "stripe unavailable")
	assert.Equal(t, []string{"org_a", "org_b", "org_c"}, syncer.calls)
	assert.Equal(t, 1, mrr.calls)

	assert.Equal(t, float64(2), testutil.ToFloat64(tenantsSynced))
	assert.Equal(t, float64(1), testutil.ToFloat64(tenantsFailed))
}

func TestRunAll_NoTenantsIsHealthy(t *testing.T) {
	report, err := NewRunner(&fakeLister{}, &fakeSyncer{}).RunAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Tenants)
	assert.True(t, report.Healthy)
}

func TestRunAll_ListErrorReturned(t *testing.T) {
	boom := errors.New("db down")
	_, err := NewRunner(&fakeLister{err: boom}, &fakeSyncer{}).RunAll(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestRunAll_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	syncer := &fakeSyncer{}

	report, err := NewRunner(&fakeLister{tenants: tenants("org_a")}, syncer).RunAll(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, report.Synced)
	assert.Empty(t, syncer.calls)
}

func TestRunAll_RejectsOverlappingRuns(t *testing.T) {
	syncer := &fakeSyncer{block: make(chan struct{}), started: make(chan struct{}, 1)}
	r := NewRunner(&fakeLister{tenants: tenants("org_a")}, syncer)

	done := make(chan error, 1)
	go func() {
		_, err := r.RunAll(context.Background())
		done <- err
	}()
	<-syncer.started

	_, err := r.RunAll(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	close(syncer.block)
	require.NoError(t, <-done)
}

func TestTimer_DisabledReturnsImmediately(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	timer := NewTimer(NewRunner(&fakeLister{}, &fakeSyncer{}), 0, logger)

	done := make(chan struct{})
	go func() {
		timer.Start(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("disabled timer should return immediately")
	}
	assert.False(t, timer.Running())
}

func TestTimer_RunsAndStops(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	syncer := &fakeSyncer{started: make(chan struct{}, 16)}
	timer := NewTimer(NewRunner(&fakeLister{tenants: tenants("org_a")}, syncer), 10*time.Millisecond, logger)

	done := make(chan struct{})
	go func() {
		timer.Start(context.Background())
		close(done)
	}()

	select {
	case <-syncer.started:
	case <-time.After(2 * time.Second):
		t.Fatal("timer never ran")
	}

	timer.Stop()
	timer.Stop()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timer did not stop")
	}
	assert.False(t, timer.Running())
}
