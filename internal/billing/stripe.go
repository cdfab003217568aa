package billing

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	stripe "github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"

	"github.com/carehub/platform/internal/entitlement"
	"github.com/carehub/platform/internal/metrics"
	"github.com/carehub/platform/internal/retry"
	"github.com/carehub/platform/internal/subscription"
	"github.com/carehub/platform/internal/traces"
)

// StripeProvider implements subscription.Provider and
// tenant.CustomerCreator on top of the Stripe API.
type StripeProvider struct {
	api   *client.API
	retry retry.Policy
}

// NewStripeProvider creates a provider for the given secret key.
// backends may be nil; tests pass backends pointing at a fake server.
// The SDK's own network retries are disabled in favor of retry.Policy.
func NewStripeProvider(secretKey string, backends *stripe.Backends) *StripeProvider {
	if backends == nil {
		b := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
			MaxNetworkRetries: stripe.Int64(0),
		})
		backends = &stripe.Backends{API: b, Connect: b, Uploads: b}
	}
	return &StripeProvider{
		api: client.New(secretKey, backends),
		retry: retry.Policy{
			MaxAttempts: 3,
			BaseDelay:   250 * time.Millisecond,
			MaxDelay:    2 * time.Second,
			Retryable:   transient,
		},
	}
}

// transient reports whether a failed call is worth retrying: rate limits,
// provider 5xx and network errors. The caller's own deadline is not.
func transient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *stripe.Error
	if errors.As(err, &se) {
		return se.HTTPStatusCode == http.StatusTooManyRequests || se.HTTPStatusCode >= 500
	}
	return true
}

// ListSubscriptions returns every subscription of a customer, including
// canceled ones, with price and product expanded.
func (p *StripeProvider) ListSubscriptions(ctx context.Context, customerID string) (subs []*subscription.Subscription, err error) {
	ctx, span := traces.StartSpan(ctx, "stripe.list_subscriptions", traces.ProviderOperation("list_subscriptions"))
	defer func() { traces.End(span, err) }()

	err = p.retry.Do(ctx, func(ctx context.Context) error {
		params := &stripe.SubscriptionListParams{
			Customer: stripe.String(customerID),
			Status:   stripe.String("all"),
		}
		params.Context = ctx
		params.AddExpand("data.items.data.price.product")

		subs = subs[:0]
		it := p.api.Subscriptions.List(params)
		for it.Next() {
			subs = append(subs, mapSubscription(it.Subscription()))
		}
		return it.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("billing: list stripe subscriptions: %w", err)
	}
	return subs, nil
}

// CreateCustomer opens a Stripe customer tagged with the tenant id so
// webhooks can be routed even before the id is stored locally.
func (p *StripeProvider) CreateCustomer(ctx context.Context, tenantID, name, email string) (string, error) {
	start := time.Now()
	var id string
	err := p.retry.Do(ctx, func(ctx context.Context) error {
		params := &stripe.CustomerParams{Name: stripe.String(name)}
		if email != "" {
			params.Email = stripe.String(email)
		}
		params.Context = ctx
		params.AddMetadata("tenant_id", tenantID)
		// Retries of the same tenant must not open a second customer.
		params.SetIdempotencyKey("carehub-customer-" + tenantID)

		c, err := p.api.Customers.New(params)
		if err != nil {
			return err
		}
		id = c.ID
		return nil
	})
	metrics.ObserveProviderCall("create_customer", start, err)
	if err != nil {
		return "", fmt.Errorf("billing: create stripe customer: %w", err)
	}
	return id, nil
}

// MapStatus folds Stripe's statuses onto the local state machine.
func MapStatus(s stripe.SubscriptionStatus) subscription.Status {
	switch s {
	case stripe.SubscriptionStatusTrialing:
		return subscription.StatusTrialing
	case stripe.SubscriptionStatusActive:
		return subscription.StatusActive
	case stripe.SubscriptionStatusPastDue, stripe.SubscriptionStatusUnpaid,
		stripe.SubscriptionStatusIncomplete, stripe.SubscriptionStatusPaused:
		return subscription.StatusPastDue
	case stripe.SubscriptionStatusCanceled, stripe.SubscriptionStatusIncompleteExpired:
		return subscription.StatusCanceled
	default:
		return subscription.Status(s)
	}
}

func mapSubscription(s *stripe.Subscription) *subscription.Subscription {
	out := &subscription.Subscription{
		ExternalID:         s.ID,
		Status:             MapStatus(s.Status),
		Currency:           strings.ToLower(string(s.Currency)),
		CurrentPeriodStart: unix(s.CurrentPeriodStart),
		CurrentPeriodEnd:   unix(s.CurrentPeriodEnd),
		CreatedAt:          unix(s.Created),
		Plan:               entitlement.PlanFree,
	}
	if s.Customer != nil {
		out.CustomerID = s.Customer.ID
	}
	if s.TrialEnd > 0 {
		t := unix(s.TrialEnd)
		out.TrialEnd = &t
	}
	if s.CancelAt > 0 {
		t := unix(s.CancelAt)
		out.CancelAt = &t
	}
	if s.Metadata != nil {
		out.TenantID = s.Metadata["tenant_id"]
	}

	if s.Items == nil || len(s.Items.Data) == 0 || s.Items.Data[0].Price == nil {
		return out
	}
	item := s.Items.Data[0]
	price := item.Price
	qty := item.Quantity
	if qty <= 0 {
		qty = 1
	}
	out.PriceID = price.ID
	out.Amount = fmt.Sprintf("%d", price.UnitAmount*qty)
	if out.Currency == "" {
		out.Currency = strings.ToLower(string(price.Currency))
	}
	if price.Recurring != nil {
		out.Interval = interval(price.Recurring)
	}
	if price.Product != nil {
		out.ProductID = price.Product.ID
		out.ProductName = price.Product.Name
	}
	out.Plan = planFor(price)
	return out
}

// interval keeps month and year; multi-period cadences are stored
// verbatim and contribute nothing to MRR.
func interval(r *stripe.PriceRecurring) subscription.Interval {
	if r.IntervalCount > 1 {
		return subscription.Interval(fmt.Sprintf("%d_%s", r.IntervalCount, r.Interval))
	}
	return subscription.Interval(r.Interval)
}

// planFor resolves the platform plan from price metadata, product
// metadata, the price lookup key, then the product name.
func planFor(price *stripe.Price) entitlement.Plan {
	candidates := []string{price.Metadata["plan"], price.LookupKey}
	if price.Product != nil {
		candidates = append(candidates, price.Product.Metadata["plan"], price.Product.Name)
	}
	for _, c := range candidates {
		c = strings.ToLower(strings.TrimSpace(c))
		if c == "" {
			continue
		}
		if p := entitlement.Plan(c); entitlement.ValidPlan(p) {
			return p
		}
		for _, p := range []entitlement.Plan{entitlement.PlanEnterprise, entitlement.PlanProfessional, entitlement.PlanStarter} {
			if strings.Contains(c, string(p)) {
				return p
			}
		}
	}
	return entitlement.PlanFree
}

func unix(sec int64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

var _ subscription.Provider = (*StripeProvider)(nil)
