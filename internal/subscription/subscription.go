// Package subscription mirrors billing-provider subscriptions into local
// records and derives MRR from them.
package subscription

import (
	"errors"
	"time"

	"github.com/carehub/platform/internal/entitlement"
)

var (
	ErrSubscriptionNotFound = errors.New("subscription: not found")
	ErrInvalidTransition    = errors.New("subscription: invalid status transition")
	ErrInvalidStatus        = errors.New("subscription: unknown status")
	ErrNoCustomer           = errors.New("subscription: organization has no billing customer")
)

// Status is the local subscription state.
type Status string

const (
	StatusTrialing Status = "trialing"
	StatusActive   Status = "active"
	StatusPastDue  Status = "past_due"
	StatusCanceled Status = "canceled"
)

// AllStatuses lists statuses in lifecycle order.
var AllStatuses = []Status{StatusTrialing, StatusActive, StatusPastDue, StatusCanceled}

// Interval is the billing cadence.
type Interval string

const (
	IntervalMonth Interval = "month"
	IntervalYear  Interval = "year"
)

// transitions lists allowed moves. Same-status updates are always allowed;
// canceled is terminal.
var transitions = map[Status][]Status{
	StatusTrialing: {StatusActive, StatusPastDue, StatusCanceled},
	StatusActive:   {StatusPastDue, StatusCanceled},
	StatusPastDue:  {StatusActive, StatusCanceled},
}

// ValidStatus reports whether s is a known status.
func ValidStatus(s Status) bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// CanTransition reports whether a record may move from one status to another.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Subscription is the local mirror of one provider subscription.
type Subscription struct {
	ID                 string           `json:"id"`
	TenantID           string           `json:"organizationId"`
	ExternalID         string           `json:"externalId"`
	CustomerID         string           `json:"customerId"`
	Status             Status           `json:"status"`
	Plan               entitlement.Plan `json:"plan"`
	PriceID            string           `json:"priceId,omitempty"`
	ProductID          string           `json:"productId,omitempty"`
	ProductName        string           `json:"productName,omitempty"`
	Amount             string           `json:"amount"` // minor units; legacy rows may hold garbage
	Currency           string           `json:"currency"`
	Interval           Interval         `json:"interval"`
	CurrentPeriodStart time.Time        `json:"currentPeriodStart"`
	CurrentPeriodEnd   time.Time        `json:"currentPeriodEnd"`
	TrialEnd           *time.Time       `json:"trialEnd,omitempty"`
	CancelAt           *time.Time       `json:"cancelAt,omitempty"`
	CreatedAt          time.Time        `json:"createdAt"`
	UpdatedAt          time.Time        `json:"updatedAt"`
}

// Entitled reports whether the subscription still grants its plan.
func (s *Subscription) Entitled() bool {
	return s.Status == StatusActive || s.Status == StatusTrialing || s.Status == StatusPastDue
}

// SyncState tracks the last reconciliation of one tenant.
type SyncState struct {
	TenantID      string     `json:"organizationId"`
	LastSyncedAt  *time.Time `json:"lastSyncedAt,omitempty"` // last success
	LastAttemptAt time.Time  `json:"lastAttemptAt"`
	LastError     string     `json:"lastError,omitempty"`
}
