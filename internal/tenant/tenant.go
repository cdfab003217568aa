// Package tenant manages organizations and their memberships.
package tenant

import (
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/carehub/platform/internal/auth"
	"github.com/carehub/platform/internal/entitlement"
)

// Errors
var (
	ErrTenantNotFound = errors.New("tenant: not found")
	ErrSlugTaken      = errors.New("tenant: slug already taken")
	ErrMemberNotFound = errors.New("tenant: membership not found")
	ErrAlreadyMember  = errors.New("tenant: user is already a member")
)

// Status represents a tenant's lifecycle state. Tenants are never deleted.
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
)

// Suspension records why and by whom a tenant was suspended.
type Suspension struct {
	Reason  string    `json:"reason"`
	ActorID string    `json:"actorId"`
	At      time.Time `json:"at"`
}

// Tenant is an organization (clinic) using the platform.
type Tenant struct {
	ID               string           `json:"id"`
	Name             string           `json:"name"`
	Slug             string           `json:"slug"`
	Plan             entitlement.Plan `json:"plan"`
	StripeCustomerID string           `json:"stripeCustomerId,omitempty"`
	Status           Status           `json:"status"`
	Suspension       *Suspension      `json:"suspension,omitempty"`
	CreatedAt        time.Time        `json:"createdAt"`
	UpdatedAt        time.Time        `json:"updatedAt"`
}

// Suspended reports whether the tenant is suspended.
func (t *Tenant) Suspended() bool { return t.Status == StatusSuspended }

// Membership binds a user to a tenant with a role.
type Membership struct {
	TenantID  string    `json:"organizationId"`
	UserID    string    `json:"userId"`
	Role      auth.Role `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

var (
	validSlug   = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{1,62}[a-z0-9]$`)
	nonSlugChar = regexp.MustCompile(`[^a-z0-9]+`)
)

// ValidSlug checks 3-64 lowercase alphanumerics/hyphens, alphanumeric at both ends.
func ValidSlug(s string) bool { return validSlug.MatchString(s) }

// Slugify derives a slug candidate from a display name.
func Slugify(name string) string {
	s := nonSlugChar.ReplaceAllString(strings.ToLower(name), "-")
	s = strings.Trim(s, "-")
	if len(s) > 64 {
		s = strings.TrimRight(s[:64], "-")
	}
	return s
}
