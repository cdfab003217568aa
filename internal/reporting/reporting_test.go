package reporting

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carehub/platform/internal/apperr"
	"github.com/carehub/platform/internal/auth"
	"github.com/carehub/platform/internal/billing"
	"github.com/carehub/platform/internal/subscription"
)

var now = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

func TestParseWindow(t *testing.T) {
	w, err := ParseWindow("", "", "", now)
	require.NoError(t, err)
	assert.Equal(t, now.AddDate(0, 0, -30), w.From)
	assert.Equal(t, now, w.To)

	w, err = ParseWindow("7", "", "", now)
	require.NoError(t, err)
	assert.Equal(t, now.AddDate(0, 0, -7), w.From)

	w, err = ParseWindow("", "2026-01-01", "2026-02-01", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), w.From)
	assert.Equal(t, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), w.To)

	for _, bad := range [][3]string{
		{"0", "", ""},
		{"400", "", ""},
		{"abc", "", ""},
		{"7", "2026-01-01", ""},
		{"", "yesterday", ""},
		{"", "2026-02-01", "2026-01-01"},
	} {
		_, err := ParseWindow(bad[0], bad[1], bad[2], now)
		assert.True(t, apperr.Is(err, apperr.KindBadRequest), "days=%q from=%q to=%q", bad[0], bad[1], bad[2])
	}
}

type fixture struct {
	events *billing.MemoryStore
	subs   *subscription.MemoryStore
	agg    *Aggregator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{events: billing.NewMemoryStore(), subs: subscription.NewMemoryStore()}
	f.agg = NewAggregator(f.events, f.subs, "USD")
	f.agg.now = func() time.Time { return now }
	ctx := context.Background()

	n := 0
	add := func(typ, tenant, product, name string, amount int64, currency string, at time.Time) {
		n++
		require.NoError(t, f.events.Append(ctx, &billing.Event{
			ID: fmt.Sprintf("bev_%03d", n), ExternalID: fmt.Sprintf("evt_%03d", n), Type: typ,
			TenantID: tenant, ProductID: product, ProductName: name, Amount: amount,
			Currency: currency, OccurredAt: at,
		}))
	}
	day := func(d int) time.Time { return now.AddDate(0, 0, -d) }

	add(billing.EventInvoicePaid, "org_a", "prod_pro", "CareHub Pro", 2900, "usd", day(1))
	add(billing.EventInvoicePaid, "org_a", "prod_pro", "CareHub Pro", 2900, "usd", day(5))
	add(billing.EventInvoicePaid, "org_b", "prod_ent", "CareHub Enterprise", 9900, "usd", day(3))
	add(billing.EventInvoicePaid, "org_b", "", "", 500, "usd", day(2))
	add(billing.EventInvoicePaid, "org_b", "prod_ent", "CareHub Enterprise", 7000, "eur", day(2))
	add(billing.EventInvoicePaymentFailed, "org_a", "prod_pro", "CareHub Pro", 2900, "usd", day(1))
	add(billing.EventInvoicePaid, "org_a", "prod_pro", "CareHub Pro", 2900, "usd", day(45)) // outside window

	for i, s := range []*subscription.Subscription{
		{ExternalID: "ext_1", TenantID: "org_a", Status: subscription.StatusActive, ProductID: "prod_pro", Amount: "2900", Currency: "usd", Interval: subscription.IntervalMonth},
		{ExternalID: "ext_2", TenantID: "org_b", Status: subscription.StatusActive, ProductID: "prod_ent", Amount: "29000", Currency: "usd", Interval: subscription.IntervalYear},
		{ExternalID: "ext_3", TenantID: "org_c", Status: subscription.StatusTrialing, ProductID: "prod_pro", Amount: "2900", Currency: "usd", Interval: subscription.IntervalMonth},
	} {
		s.ID = fmt.Sprintf("sub_%d", i)
		s.CreatedAt = day(60)
		require.NoError(t, f.subs.Save(ctx, s))
	}
	return f
}

func window() Window { return Window{From: now.AddDate(0, 0, -30), To: now} }

func TestBuild_PlatformWide(t *testing.T) {
	f := newFixture(t)
	rep, err := f.agg.Build(context.Background(), Request{Window: window()})
	require.NoError(t, err)

	assert.Equal(t, "usd", rep.Currency)
	assert.Equal(t, int64(9900+5800+500), rep.TotalRevenue)
	require.Len(t, rep.RevenueByProduct, 3)
	assert.Equal(t, "CareHub Enterprise", rep.RevenueByProduct[0].ProductName)
	assert.Equal(t, int64(9900), rep.RevenueByProduct[0].Revenue)
	assert.Equal(t, "CareHub Pro", rep.RevenueByProduct[1].ProductName)
	assert.Equal(t, 2, rep.RevenueByProduct[1].Invoices)
	assert.Equal(t, UnknownProduct, rep.RevenueByProduct[2].ProductName)

	assert.Len(t, rep.RecentEvents, 6)
	assert.Equal(t, "bev_006", rep.RecentEvents[0].ID, "newest first, ties by id")

	assert.Equal(t, 2, rep.ActiveSubscriptions)
	assert.Equal(t, 1, rep.TrialingSubscriptions)
	assert.Equal(t, 0, rep.StatusHistogram[subscription.StatusCanceled])
	assert.Equal(t, int64(5317), rep.MRR.MRR)
	assert.False(t, rep.HistoryAvailable)
	assert.Equal(t, []MRRPoint{{Month: "2026-03", MRR: 5317}}, rep.MRRHistory)
}

func TestRevenue_KeepsUnresolvableEventsUnderUnknown(t *testing.T) {
	a := NewAggregator(nil, nil, "usd")
	got, total := a.revenue([]*billing.Event{
		{ID: "bev_1", Amount: 100, Currency: "usd"},
		{ID: "bev_2", ProductName: "Legacy Pro", Amount: 500, Currency: "usd"},
		{ID: "bev_3", ProductName: "Legacy Pro", Amount: 250, Currency: "usd"},
		{ID: "bev_4", ProductID: "prod_pro", Amount: 40, Currency: "usd"},
		{ID: "bev_5", ProductID: "prod_pro", ProductName: "CareHub Pro", Amount: 60, Currency: "usd"},
	})

	assert.Equal(t, int64(950), total)
	assert.Equal(t, []ProductRevenue{
		{ProductName: "Legacy Pro", Revenue: 750, Invoices: 2},
		{ProductID: "prod_pro", ProductName: "CareHub Pro", Revenue: 100, Invoices: 2},
		{ProductName: UnknownProduct, Revenue: 100, Invoices: 1},
	}, got)
}

func TestBuild_TenantAndProductScope(t *testing.T) {
	f := newFixture(t)
	rep, err := f.agg.Build(context.Background(), Request{Window: window(), TenantID: "org_a"})
	require.NoError(t, err)
	assert.Equal(t, int64(5800), rep.TotalRevenue)
	assert.Equal(t, 1, rep.ActiveSubscriptions)
	for _, e := range rep.RecentEvents {
		assert.Equal(t, "org_a", e.TenantID)
	}

	rep, err = f.agg.Build(context.Background(), Request{Window: window(), ProductID: "prod_pro"})
	require.NoError(t, err)
	assert.Equal(t, int64(5800), rep.TotalRevenue)
	assert.Equal(t, 1, rep.ActiveSubscriptions)
	assert.Equal(t, 1, rep.TrialingSubscriptions)
}

func TestBuild_FeedIsCapped(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 30; i++ {
		require.NoError(t, f.events.Append(context.Background(), &billing.Event{
			ID: fmt.Sprintf("bev_x%02d", i), ExternalID: fmt.Sprintf("evt_x%02d", i),
			Type: billing.EventSubscriptionUpdated, OccurredAt: now.Add(-time.Duration(i) * time.Minute),
		}))
	}
	rep, err := f.agg.Build(context.Background(), Request{Window: window()})
	require.NoError(t, err)
	assert.Len(t, rep.RecentEvents, FeedLimit)
}

func TestHandlers(t *testing.T) {
	gin.SetMode(gin.TestMode)
	f := newFixture(t)

	router := func(ac *auth.Context) *gin.Engine {
		r := gin.New()
		api := r.Group("/api", func(c *gin.Context) {
			auth.SetContext(c, ac)
			c.Next()
		})
		h := NewHandler(f.agg)
		h.RegisterRoutes(api)
		h.RegisterAdminRoutes(api.Group("/admin", auth.RequireSuperadmin()))
		return r
	}
	get := func(r *gin.Engine, path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		return w
	}

	owner := router(&auth.Context{UserID: "usr_1", TenantID: "org_a", Role: auth.RoleOwner})
	w := get(owner, "/api/billing/report?days=400")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = get(owner, "/api/billing/report?from=2000-01-01")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Data Report `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "org_a", body.Data.OrganizationID)

	assert.Equal(t, http.StatusForbidden, get(owner, "/api/admin/reports/billing").Code)

	root := router(&auth.Context{UserID: "usr_0", IsSuperadmin: true})
	assert.Equal(t, http.StatusOK, get(root, "/api/admin/reports/billing").Code)
	assert.Equal(t, http.StatusBadRequest, get(root, "/api/admin/reports/billing?organizationId=nope").Code)
}
