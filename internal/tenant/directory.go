package tenant

import (
	"context"
	"errors"

	"github.com/carehub/platform/internal/apperr"
	"github.com/carehub/platform/internal/auth"
	"github.com/carehub/platform/internal/entitlement"
	"github.com/carehub/platform/internal/users"
)

// Directory answers the lookups the session resolver and the entitlement
// evaluator need, backed by the tenant and user stores.
type Directory struct {
	tenants Store
	users   users.Store
}

// NewDirectory creates a directory over the given stores.
func NewDirectory(tenants Store, us users.Store) *Directory {
	return &Directory{tenants: tenants, users: us}
}

func (d *Directory) Identity(ctx context.Context, userID string) (*auth.Identity, error) {
	u, err := d.users.Get(ctx, userID)
	if errors.Is(err, users.ErrUserNotFound) {
		return nil, auth.ErrUnknownUser
	}
	if err != nil {
		return nil, err
	}
	return &auth.Identity{ID: u.ID, Email: u.Email, IsSuperadmin: u.IsSuperadmin, Active: u.Active()}, nil
}

func (d *Directory) Memberships(ctx context.Context, userID string) ([]auth.Membership, error) {
	ms, err := d.tenants.MembershipsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]auth.Membership, 0, len(ms))
	for _, m := range ms {
		out = append(out, auth.Membership{TenantID: m.TenantID, Role: m.Role, CreatedAt: m.CreatedAt})
	}
	return out, nil
}

func (d *Directory) TenantState(ctx context.Context, tenantID string) (*auth.TenantState, error) {
	t, err := d.tenants.Get(ctx, tenantID)
	if errors.Is(err, ErrTenantNotFound) {
		return nil, auth.ErrUnknownTenant
	}
	if err != nil {
		return nil, err
	}
	return &auth.TenantState{ID: t.ID, Suspended: t.Suspended()}, nil
}

// TenantPlan implements entitlement.PlanSource.
func (d *Directory) TenantPlan(ctx context.Context, tenantID string) (entitlement.Plan, error) {
	t, err := d.tenants.Get(ctx, tenantID)
	if errors.Is(err, ErrTenantNotFound) {
		return "", apperr.NotFound("Organization not found")
	}
	if err != nil {
		return "", err
	}
	return t.Plan, nil
}

// SeatUsage reports the member count as the seats limit usage.
func SeatUsage(store Store) entitlement.UsageFunc {
	return func(ctx context.Context, tenantID string) (int64, error) {
		n, err := store.CountMembers(ctx, tenantID)
		return int64(n), err
	}
}

var (
	_ auth.Directory         = (*Directory)(nil)
	_ entitlement.PlanSource = (*Directory)(nil)
)
