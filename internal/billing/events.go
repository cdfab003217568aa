// Package billing talks to Stripe: it lists subscriptions for
// reconciliation, opens customers for new organizations, and ingests
// signed webhook events into the billing event log.
package billing

import (
	"context"
	"errors"
	"time"

	"github.com/carehub/platform/internal/pagination"
)

var (
	ErrDuplicateEvent = errors.New("billing: event already recorded")
	ErrEventNotFound  = errors.New("billing: event not found")
)

// Provider event types the platform records.
const (
	EventInvoicePaid          = "invoice.paid"
	EventInvoicePaymentFailed = "invoice.payment_failed"
	EventSubscriptionCreated  = "customer.subscription.created"
	EventSubscriptionUpdated  = "customer.subscription.updated"
	EventSubscriptionDeleted  = "customer.subscription.deleted"
)

// LiveEventType is the realtime event name for new billing events.
const LiveEventType = "billing_event"

// Event is one recorded provider event.
type Event struct {
	ID             string    `json:"id"`
	ExternalID     string    `json:"externalId"` // provider event id, unique
	Type           string    `json:"type"`
	TenantID       string    `json:"organizationId,omitempty"`
	CustomerID     string    `json:"customerId,omitempty"`
	SubscriptionID string    `json:"subscriptionId,omitempty"` // provider subscription id
	ProductID      string    `json:"productId,omitempty"`
	ProductName    string    `json:"productName,omitempty"`
	Amount         int64     `json:"amount"` // minor units
	Currency       string    `json:"currency,omitempty"`
	OccurredAt     time.Time `json:"occurredAt"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Query filters the event log. Zero values mean "any"; From is inclusive,
// To exclusive.
type Query struct {
	From      time.Time
	To        time.Time
	Type      string
	ProductID string
	TenantID  string
	Limit     int // 0 = unlimited
}

func (q Query) matches(e *Event) bool {
	if !q.From.IsZero() && e.OccurredAt.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && !e.OccurredAt.Before(q.To) {
		return false
	}
	if q.Type != "" && e.Type != q.Type {
		return false
	}
	if q.ProductID != "" && e.ProductID != q.ProductID {
		return false
	}
	if q.TenantID != "" && e.TenantID != q.TenantID {
		return false
	}
	return true
}

func (q Query) limit() int {
	if q.Limit <= 0 {
		return 0
	}
	if q.Limit > pagination.MaxLimit*50 {
		return pagination.MaxLimit * 50
	}
	return q.Limit
}

// Store is the append-only billing event log.
type Store interface {
	// Append records e; a repeated ExternalID returns ErrDuplicateEvent.
	Append(ctx context.Context, e *Event) error
	// List returns matching events, most recent first.
	List(ctx context.Context, q Query) ([]*Event, error)
}
