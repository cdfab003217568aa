// Package reporting aggregates billing events and subscription state into
// revenue reports for organization owners and platform operators.
package reporting

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/carehub/platform/internal/apperr"
	"github.com/carehub/platform/internal/billing"
	"github.com/carehub/platform/internal/subscription"
)

const (
	DefaultWindowDays = 30
	MaxWindowDays     = 366
	FeedLimit         = 20
	UnknownProduct    = "Unknown"
)

// Window is a half-open time range [From, To).
type Window struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// ParseWindow builds a window from query values. days and from are
// mutually exclusive; to defaults to now. Dates accept RFC 3339 or
// YYYY-MM-DD.
func ParseWindow(days, from, to string, now time.Time) (Window, error) {
	w := Window{To: now.UTC()}
	if to != "" {
		t, err := parseTime(to)
		if err != nil {
			return Window{}, apperr.BadRequest("to: must be RFC 3339 or YYYY-MM-DD")
		}
		w.To = t
	}

	switch {
	case days != "" && from != "":
		return Window{}, apperr.BadRequest("days and from cannot be combined")
	case from != "":
		t, err := parseTime(from)
		if err != nil {
			return Window{}, apperr.BadRequest("from: must be RFC 3339 or YYYY-MM-DD")
		}
		w.From = t
	default:
		n := DefaultWindowDays
		if days != "" {
			v, err := strconv.Atoi(days)
			if err != nil || v < 1 || v > MaxWindowDays {
				return Window{}, apperr.BadRequest(fmt.Sprintf("days: must be between 1 and %d", MaxWindowDays))
			}
			n = v
		}
		w.From = w.To.AddDate(0, 0, -n)
	}

	if !w.From.Before(w.To) {
		return Window{}, apperr.BadRequest("from must be before to")
	}
	return w, nil
}

func parseTime(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), nil
	}
	return time.Parse("2006-01-02", v)
}

// Request scopes a report.
type Request struct {
	Window    Window
	ProductID string
	TenantID  string // empty = platform-wide
}

// ProductRevenue is paid revenue for one product.
type ProductRevenue struct {
	ProductID   string `json:"productId"`
	ProductName string `json:"productName"`
	Revenue     int64  `json:"revenue"`
	Invoices    int    `json:"invoices"`
}

// MRRPoint is MRR at the end of one calendar month.
type MRRPoint struct {
	Month string `json:"month"` // YYYY-MM
	MRR   int64  `json:"mrr"`
}

// Report is the billing report payload.
type Report struct {
	OrganizationID        string                      `json:"organizationId,omitempty"`
	Window                Window                      `json:"window"`
	Currency              string                      `json:"currency"`
	RevenueByProduct      []ProductRevenue            `json:"revenueByProduct"`
	TotalRevenue          int64                       `json:"totalRevenue"`
	RecentEvents          []*billing.Event            `json:"recentEvents"`
	StatusHistogram       map[subscription.Status]int `json:"statusHistogram"`
	ActiveSubscriptions   int                         `json:"activeSubscriptions"`
	TrialingSubscriptions int                         `json:"trialingSubscriptions"`
	MRR                   subscription.MRR            `json:"mrr"`
	MRRHistory            []MRRPoint                  `json:"mrrHistory"`
	HistoryAvailable      bool                        `json:"historyAvailable"`
}

// Aggregator builds reports.
type Aggregator struct {
	events   billing.Store
	subs     subscription.Store
	currency string
	now      func() time.Time
}

// NewAggregator creates an aggregator. Revenue is summed only for events
// in currency; other currencies are left out rather than mixed.
func NewAggregator(events billing.Store, subs subscription.Store, currency string) *Aggregator {
	return &Aggregator{
		events:   events,
		subs:     subs,
		currency: strings.ToLower(currency),
		now:      time.Now,
	}
}

// Build computes the report for req.
func (a *Aggregator) Build(ctx context.Context, req Request) (*Report, error) {
	rep := &Report{
		OrganizationID: req.TenantID,
		Window:         req.Window,
		Currency:       a.currency,
	}

	paid, err := a.events.List(ctx, billing.Query{
		From:      req.Window.From,
		To:        req.Window.To,
		Type:      billing.EventInvoicePaid,
		ProductID: req.ProductID,
		TenantID:  req.TenantID,
	})
	if err != nil {
		return nil, fmt.Errorf("reporting: list paid invoices: %w", err)
	}
	rep.RevenueByProduct, rep.TotalRevenue = a.revenue(paid)

	feed, err := a.events.List(ctx, billing.Query{
		From:      req.Window.From,
		To:        req.Window.To,
		ProductID: req.ProductID,
		TenantID:  req.TenantID,
		Limit:     FeedLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("reporting: list recent events: %w", err)
	}
	if feed == nil {
		feed = []*billing.Event{}
	}
	rep.RecentEvents = feed

	var subs []*subscription.Subscription
	if req.TenantID != "" {
		subs, err = a.subs.ListByTenant(ctx, req.TenantID)
	} else {
		subs, err = a.subs.ListAll(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("reporting: list subscriptions: %w", err)
	}
	if req.ProductID != "" {
		filtered := subs[:0:0]
		for _, s := range subs {
			if s.ProductID == req.ProductID {
				filtered = append(filtered, s)
			}
		}
		subs = filtered
	}

	rep.StatusHistogram = subscription.Histogram(subs)
	rep.ActiveSubscriptions = rep.StatusHistogram[subscription.StatusActive]
	rep.TrialingSubscriptions = rep.StatusHistogram[subscription.StatusTrialing]
	rep.MRR = subscription.ComputeMRR(subs)

	// Subscription records are kept current, not versioned, so only the
	// present month can be stated honestly.
	rep.MRRHistory = []MRRPoint{{Month: a.now().UTC().Format("2006-01"), MRR: rep.MRR.MRR}}
	rep.HistoryAvailable = false
	return rep, nil
}

func (a *Aggregator) revenue(events []*billing.Event) ([]ProductRevenue, int64) {
	byProduct := make(map[string]*ProductRevenue)
	var total int64
	for _, e := range events {
		if e.Currency != "" && !strings.EqualFold(e.Currency, a.currency) {
			continue
		}
		var key, name string
		switch {
		case e.ProductID != "":
			key, name = "id:"+e.ProductID, e.ProductName
			if name == "" {
				name = e.ProductID
			}
		case e.ProductName != "":
			key, name = "name:"+e.ProductName, e.ProductName
		default:
			key, name = "unknown", UnknownProduct
		}
		pr, ok := byProduct[key]
		if !ok {
			pr = &ProductRevenue{ProductID: e.ProductID, ProductName: name}
			byProduct[key] = pr
		} else if e.ProductID != "" && e.ProductName != "" && pr.ProductName == e.ProductID {
			pr.ProductName = e.ProductName
		}
		pr.Revenue += e.Amount
		pr.Invoices++
		total += e.Amount
	}

	out := make([]ProductRevenue, 0, len(byProduct))
	for _, pr := range byProduct {
		out = append(out, *pr)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Revenue != out[j].Revenue {
			return out[i].Revenue > out[j].Revenue
		}
		return out[i].ProductName < out[j].ProductName
	})
	return out, total
}
