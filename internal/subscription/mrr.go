package subscription

import (
	"math"
	"sort"
	"strconv"
	"strings"
)

// MonthlyAmount is a subscription's contribution to MRR in minor units.
// Yearly amounts are divided by 12 rounding half up. Unparseable or
// negative amounts and unknown intervals contribute 0.
func MonthlyAmount(s *Subscription) int64 {
	amount, err := strconv.ParseInt(strings.TrimSpace(s.Amount), 10, 64)
	if err != nil || amount < 0 {
		return 0
	}
	switch s.Interval {
	case IntervalMonth:
		return amount
	case IntervalYear:
		q, r := amount/12, amount%12
		if r >= 6 {
			q++
		}
		return q
	default:
		return 0
	}
}

// Current picks each tenant's current subscription: the latest created
// among non-canceled records. Ties break on the larger ID.
func Current(subs []*Subscription) map[string]*Subscription {
	out := make(map[string]*Subscription)
	for _, s := range subs {
		if s.Status == StatusCanceled {
			continue
		}
		cur, ok := out[s.TenantID]
		if !ok || s.CreatedAt.After(cur.CreatedAt) || (s.CreatedAt.Equal(cur.CreatedAt) && s.ID > cur.ID) {
			out[s.TenantID] = s
		}
	}
	return out
}

// MRR is the aggregate monthly recurring revenue.
type MRR struct {
	MRR                 int64            `json:"mrr"`
	ByCurrency          map[string]int64 `json:"byCurrency"`
	ActiveSubscriptions int              `json:"activeSubscriptions"`
}

// ComputeMRR sums the monthly amount of every tenant's current subscription
// that is active. It never fails.
func ComputeMRR(subs []*Subscription) MRR {
	m := MRR{ByCurrency: make(map[string]int64)}
	for _, s := range Current(subs) {
		if s.Status != StatusActive {
			continue
		}
		amount := MonthlyAmount(s)
		cur := strings.ToLower(s.Currency)
		m.MRR = addCapped(m.MRR, amount)
		m.ByCurrency[cur] = addCapped(m.ByCurrency[cur], amount)
		m.ActiveSubscriptions++
	}
	return m
}

// addCapped adds two non-negative amounts, saturating at math.MaxInt64.
func addCapped(a, b int64) int64 {
	if b > math.MaxInt64-a {
		return math.MaxInt64
	}
	return a + b
}

// Histogram counts subscriptions per status, including zero buckets.
func Histogram(subs []*Subscription) map[Status]int {
	h := make(map[Status]int, len(AllStatuses))
	for _, st := range AllStatuses {
		h[st] = 0
	}
	for _, s := range subs {
		h[s.Status]++
	}
	return h
}

// SortNewestFirst orders subscriptions by creation time, newest first.
func SortNewestFirst(subs []*Subscription) {
	sort.Slice(subs, func(i, j int) bool {
		if subs[i].CreatedAt.Equal(subs[j].CreatedAt) {
			return subs[i].ID > subs[j].ID
		}
		return subs[i].CreatedAt.After(subs[j].CreatedAt)
	})
}
