package tenant

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/carehub/platform/internal/apperr"
	"github.com/carehub/platform/internal/audit"
	"github.com/carehub/platform/internal/auth"
	"github.com/carehub/platform/internal/entitlement"
	"github.com/carehub/platform/internal/idgen"
	"github.com/carehub/platform/internal/logging"
	"github.com/carehub/platform/internal/users"
	"github.com/carehub/platform/internal/validation"
)

// CustomerCreator opens a billing-provider customer for a new tenant.
type CustomerCreator interface {
	CreateCustomer(ctx context.Context, tenantID, name, email string) (string, error)
}

// Service implements organization and membership operations.
type Service struct {
	store        Store
	users        users.Store
	entitlements *entitlement.Evaluator
	recorder     *audit.Recorder
	customers    CustomerCreator
	now          func() time.Time
}

// NewService creates a tenant service.
func NewService(store Store, us users.Store, ev *entitlement.Evaluator, rec *audit.Recorder) *Service {
	return &Service{
		store:        store,
		users:        us,
		entitlements: ev,
		recorder:     rec,
		now:          time.Now,
	}
}

// WithCustomerCreator enables provider customer creation on Create.
func (s *Service) WithCustomerCreator(cc CustomerCreator) *Service {
	s.customers = cc
	return s
}

// Store exposes the underlying store for read-only collaborators.
func (s *Service) Store() Store { return s.store }

// Get returns a tenant the caller may see.
func (s *Service) Get(ctx context.Context, ac *auth.Context, id string) (*Tenant, error) {
	if err := ac.ScopeTenant(id); err != nil {
		return nil, err
	}
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, asAppError(err)
	}
	return t, nil
}

// List returns tenants for the platform view.
func (s *Service) List(ctx context.Context, q Query) ([]*Tenant, error) {
	return s.store.List(ctx, q)
}

// CreateInput is the superadmin request to open an organization.
type CreateInput struct {
	Name        string           `json:"name"`
	Slug        string           `json:"slug"`
	Plan        entitlement.Plan `json:"plan"`
	OwnerUserID string           `json:"ownerUserId"`
}

// Create opens a tenant with its first owner and, when billing is
// configured, a provider customer. A provider failure does not undo the
// tenant; the customer can be linked later.
func (s *Service) Create(ctx context.Context, ac *auth.Context, in CreateInput) (*Tenant, error) {
	in.Name = validation.SanitizeString(in.Name, validation.MaxNameLength)
	in.Slug = strings.ToLower(strings.TrimSpace(in.Slug))
	if in.Slug == "" {
		in.Slug = Slugify(in.Name)
	}
	if in.Plan == "" {
		in.Plan = entitlement.PlanFree
	}

	errs := validation.Validate(
		validation.Required("name", in.Name),
		validation.Required("ownerUserId", in.OwnerUserID),
		validation.ID("ownerUserId", in.OwnerUserID, idgen.PrefixUser),
	)
	if !ValidSlug(in.Slug) {
		errs = append(errs, validation.ValidationError{Field: "slug", Message: "must be 3-64 lowercase letters, digits or hyphens"})
	}
	if !entitlement.ValidPlan(in.Plan) {
		errs = append(errs, validation.ValidationError{Field: "plan", Message: "unknown plan"})
	}
	if err := errs.Err(); err != nil {
		return nil, err
	}

	owner, err := s.users.Get(ctx, in.OwnerUserID)
	if err != nil {
		return nil, asAppError(err)
	}

	now := s.now().UTC()
	t := &Tenant{
		ID:        idgen.WithPrefix(idgen.PrefixOrganization),
		Name:      in.Name,
		Slug:      in.Slug,
		Plan:      in.Plan,
		Status:    StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Create(ctx, t); err != nil {
		return nil, asAppError(err)
	}
	if err := s.store.AddMember(ctx, &Membership{
		TenantID: t.ID, UserID: owner.ID, Role: auth.RoleOwner, CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		return nil, asAppError(err)
	}

	if s.customers != nil {
		customerID, err := s.customers.CreateCustomer(ctx, t.ID, t.Name, owner.Email)
		if err != nil {
			logging.L(ctx).Warn("billing customer creation failed", "organization_id", t.ID, "error", err)
		} else {
			t.StripeCustomerID = customerID
			if err := s.store.Update(ctx, t); err != nil {
				return nil, err
			}
		}
	}

	e := audit.By(ac, audit.ActionOrganizationCreated, audit.ResourceOrganization, t.ID)
	e.TenantID = t.ID
	e.Metadata = map[string]any{"name": t.Name, "slug": t.Slug, "plan": string(t.Plan), "ownerUserId": owner.ID}
	s.recorder.Record(ctx, e)
	return t, nil
}

// Rename updates the caller's organization name.
func (s *Service) Rename(ctx context.Context, ac *auth.Context, name string) (*Tenant, error) {
	name = validation.SanitizeString(name, validation.MaxNameLength)
	if name == "" {
		return nil, apperr.BadRequest("name: is required")
	}
	t, err := s.store.Get(ctx, ac.TenantID)
	if err != nil {
		return nil, asAppError(err)
	}
	if t.Name == name {
		return t, nil
	}
	previous := t.Name
	t.Name = name
	t.UpdatedAt = s.now().UTC()
	if err := s.store.Update(ctx, t); err != nil {
		return nil, asAppError(err)
	}

	e := audit.By(ac, audit.ActionOrganizationUpdated, audit.ResourceOrganization, t.ID)
	e.Metadata = map[string]any{"name": name, "previousName": previous}
	s.recorder.Record(ctx, e)
	return t, nil
}

// Suspend blocks members of a tenant from acting on it.
func (s *Service) Suspend(ctx context.Context, ac *auth.Context, tenantID, reason string) (*Tenant, error) {
	reason = validation.SanitizeString(reason, validation.MaxNameLength*5)
	if reason == "" {
		return nil, apperr.BadRequest("reason: is required")
	}
	t, err := s.store.Get(ctx, tenantID)
	if err != nil {
		return nil, asAppError(err)
	}
	if t.Suspended() {
		return nil, apperr.Conflict("Organization is already suspended").WithReason("already_suspended")
	}

	now := s.now().UTC()
	t.Status = StatusSuspended
	t.Suspension = &Suspension{Reason: reason, ActorID: ac.UserID, At: now}
	t.UpdatedAt = now
	if err := s.store.Update(ctx, t); err != nil {
		return nil, asAppError(err)
	}

	e := audit.By(ac, audit.ActionOrganizationSuspended, audit.ResourceOrganization, t.ID)
	e.TenantID = t.ID
	e.Metadata = map[string]any{"reason": reason}
	s.recorder.Record(ctx, e)
	return t, nil
}

// Unsuspend always leaves the tenant active. Unsuspending an active tenant
// succeeds without writing or auditing anything.
func (s *Service) Unsuspend(ctx context.Context, ac *auth.Context, tenantID string) (*Tenant, error) {
	t, err := s.store.Get(ctx, tenantID)
	if err != nil {
		return nil, asAppError(err)
	}
	if !t.Suspended() {
		return t, nil
	}

	previous := t.Suspension
	t.Status = StatusActive
	t.Suspension = nil
	t.UpdatedAt = s.now().UTC()
	if err := s.store.Update(ctx, t); err != nil {
		return nil, asAppError(err)
	}

	e := audit.By(ac, audit.ActionOrganizationUnsuspended, audit.ResourceOrganization, t.ID)
	e.TenantID = t.ID
	if previous != nil {
		e.Metadata = map[string]any{"previousReason": previous.Reason}
	}
	s.recorder.Record(ctx, e)
	return t, nil
}

// CustomerID returns the tenant's billing customer, empty when unlinked.
func (s *Service) CustomerID(ctx context.Context, tenantID string) (string, error) {
	t, err := s.store.Get(ctx, tenantID)
	if err != nil {
		return "", asAppError(err)
	}
	return t.StripeCustomerID, nil
}

// Exists reports whether an organization with this id is on record.
func (s *Service) Exists(ctx context.Context, tenantID string) (bool, error) {
	if _, err := s.store.Get(ctx, tenantID); err != nil {
		if errors.Is(err, ErrTenantNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// SetPlan records the plan derived from the tenant's current subscription.
func (s *Service) SetPlan(ctx context.Context, tenantID string, plan entitlement.Plan) error {
	t, err := s.store.Get(ctx, tenantID)
	if err != nil {
		return asAppError(err)
	}
	if t.Plan == plan {
		return nil
	}
	logging.L(ctx).Info("organization plan changed", "organization_id", t.ID, "from", t.Plan, "to", plan)
	t.Plan = plan
	t.UpdatedAt = s.now().UTC()
	return s.store.Update(ctx, t)
}

// TenantForCustomer maps a billing customer back to its tenant id.
func (s *Service) TenantForCustomer(ctx context.Context, customerID string) (string, error) {
	t, err := s.store.GetByStripeCustomer(ctx, customerID)
	if err != nil {
		return "", asAppError(err)
	}
	return t.ID, nil
}

// Member is a membership joined with the user's profile.
type Member struct {
	Membership
	Email  string       `json:"email"`
	Name   string       `json:"name"`
	Status users.Status `json:"status"`
}

// ListMembers returns the caller's organization members, oldest first.
func (s *Service) ListMembers(ctx context.Context, ac *auth.Context) ([]Member, error) {
	ms, err := s.store.ListMembers(ctx, ac.TenantID)
	if err != nil {
		return nil, err
	}
	out := make([]Member, 0, len(ms))
	for _, m := range ms {
		mv := Member{Membership: *m}
		if u, err := s.users.Get(ctx, m.UserID); err == nil {
			mv.Email, mv.Name, mv.Status = u.Email, u.Name, u.Status
		}
		out = append(out, mv)
	}
	return out, nil
}

// AddMember adds an existing user to the caller's organization.
func (s *Service) AddMember(ctx context.Context, ac *auth.Context, userID string, role auth.Role) (*Membership, error) {
	if !auth.ValidRole(role) {
		return nil, apperr.BadRequest("role: must be one of owner, admin, member").WithReason("invalid_role")
	}
	if role == auth.RoleOwner {
		if err := auth.Require(ac, auth.PermManageOwners); err != nil {
			return nil, err
		}
	}
	u, err := s.users.Get(ctx, userID)
	if err != nil {
		return nil, asAppError(err)
	}
	if !u.Active() {
		return nil, apperr.BadRequest("User is deactivated").WithReason("user_deactivated")
	}
	if _, err := s.store.GetMember(ctx, ac.TenantID, u.ID); err == nil {
		return nil, asAppError(ErrAlreadyMember)
	}
	if err := s.entitlements.RequireLimit(ctx, ac.TenantID, entitlement.LimitSeats, 1); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	m := &Membership{TenantID: ac.TenantID, UserID: u.ID, Role: role, CreatedAt: now, UpdatedAt: now}
	if err := s.store.AddMember(ctx, m); err != nil {
		return nil, asAppError(err)
	}

	e := audit.By(ac, audit.ActionMemberAdded, audit.ResourceMember, u.ID)
	e.Metadata = map[string]any{"role": string(role), "email": u.Email}
	s.recorder.Record(ctx, e)
	return m, nil
}

// ChangeRole changes a member's role. Touching owners needs manage_owners,
// and the last owner cannot be demoted.
func (s *Service) ChangeRole(ctx context.Context, ac *auth.Context, userID string, role auth.Role) (*Membership, error) {
	if !auth.ValidRole(role) {
		return nil, apperr.BadRequest("role: must be one of owner, admin, member").WithReason("invalid_role")
	}
	m, err := s.store.GetMember(ctx, ac.TenantID, userID)
	if err != nil {
		return nil, asAppError(err)
	}
	if m.Role == role {
		return nil, apperr.Conflict("Member already has this role").WithReason("role_unchanged")
	}
	if m.Role == auth.RoleOwner || role == auth.RoleOwner {
		if err := auth.Require(ac, auth.PermManageOwners); err != nil {
			return nil, err
		}
	}
	if m.Role == auth.RoleOwner {
		if err := s.ensureAnotherOwner(ctx, ac.TenantID); err != nil {
			return nil, err
		}
	}

	previous := m.Role
	m.Role = role
	m.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateMember(ctx, m); err != nil {
		return nil, asAppError(err)
	}

	e := audit.By(ac, audit.ActionMemberRoleChanged, audit.ResourceMember, userID)
	e.Metadata = map[string]any{"role": string(role), "previousRole": string(previous)}
	s.recorder.Record(ctx, e)
	return m, nil
}

// RemoveMember removes a member. The last owner cannot be removed.
func (s *Service) RemoveMember(ctx context.Context, ac *auth.Context, userID string) error {
	m, err := s.store.GetMember(ctx, ac.TenantID, userID)
	if err != nil {
		return asAppError(err)
	}
	if m.Role == auth.RoleOwner {
		if err := auth.Require(ac, auth.PermManageOwners); err != nil {
			return err
		}
		if err := s.ensureAnotherOwner(ctx, ac.TenantID); err != nil {
			return err
		}
	}
	if err := s.store.RemoveMember(ctx, ac.TenantID, userID); err != nil {
		return asAppError(err)
	}

	e := audit.By(ac, audit.ActionMemberRemoved, audit.ResourceMember, userID)
	e.Metadata = map[string]any{"role": string(m.Role)}
	s.recorder.Record(ctx, e)
	return nil
}

func (s *Service) ensureAnotherOwner(ctx context.Context, tenantID string) error {
	ms, err := s.store.ListMembers(ctx, tenantID)
	if err != nil {
		return err
	}
	owners := 0
	for _, m := range ms {
		if m.Role == auth.RoleOwner {
			owners++
		}
	}
	if owners <= 1 {
		return apperr.Conflict("An organization must keep at least one owner").WithReason("last_owner")
	}
	return nil
}

// asAppError maps store sentinels onto the response taxonomy.
func asAppError(err error) error {
	switch {
	case errors.Is(err, ErrTenantNotFound):
		return apperr.NotFound("Organization not found")
	case errors.Is(err, ErrSlugTaken):
		return apperr.Conflict("Slug already in use").WithReason("slug_taken")
	case errors.Is(err, ErrMemberNotFound):
		return apperr.NotFound("Member not found")
	case errors.Is(err, ErrAlreadyMember):
		return apperr.Conflict("User is already a member").WithReason("already_member")
	case errors.Is(err, users.ErrUserNotFound):
		return apperr.NotFound("User not found")
	}
	return err
}
