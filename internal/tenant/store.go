package tenant

import "context"

// Query filters List.
type Query struct {
	Status       Status
	Search       string // case-insensitive substring of name or slug
	WithCustomer bool   // only tenants linked to a billing customer
	Limit        int    // 0 means no limit
}

// Store persists tenants and memberships.
type Store interface {
	Create(ctx context.Context, t *Tenant) error
	Get(ctx context.Context, id string) (*Tenant, error)
	GetBySlug(ctx context.Context, slug string) (*Tenant, error)
	GetByStripeCustomer(ctx context.Context, customerID string) (*Tenant, error)
	Update(ctx context.Context, t *Tenant) error
	List(ctx context.Context, q Query) ([]*Tenant, error)

	AddMember(ctx context.Context, m *Membership) error
	GetMember(ctx context.Context, tenantID, userID string) (*Membership, error)
	UpdateMember(ctx context.Context, m *Membership) error
	RemoveMember(ctx context.Context, tenantID, userID string) error
	ListMembers(ctx context.Context, tenantID string) ([]*Membership, error)
	CountMembers(ctx context.Context, tenantID string) (int, error)
	MembershipsForUser(ctx context.Context, userID string) ([]*Membership, error)
}
