package auth

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/carehub/platform/internal/apperr"
)

// Directory errors. Implementations map their own not-found errors onto these.
var (
	ErrUnknownUser   = errors.New("auth: unknown user")
	ErrUnknownTenant = errors.New("auth: unknown tenant")
)

// Identity is the slice of a user the resolver needs.
type Identity struct {
	ID           string
	Email        string
	IsSuperadmin bool
	Active       bool
}

// Membership binds a user to one organization.
type Membership struct {
	TenantID  string
	Role      Role
	CreatedAt time.Time
}

// TenantState is the slice of an organization the resolver needs.
type TenantState struct {
	ID        string
	Suspended bool
}

// Directory looks up users, memberships and organizations.
type Directory interface {
	Identity(ctx context.Context, userID string) (*Identity, error)
	Memberships(ctx context.Context, userID string) ([]Membership, error)
	TenantState(ctx context.Context, tenantID string) (*TenantState, error)
}

// Context is the resolved caller. Every tenant-scoped operation receives one.
type Context struct {
	UserID        string `json:"userId"`
	Email         string `json:"email"`
	TenantID      string `json:"tenantId,omitempty"`
	Role          Role   `json:"role,omitempty"`
	IsSuperadmin  bool   `json:"isSuperadmin"`
	Impersonating bool   `json:"impersonating,omitempty"`
	SessionID     string `json:"-"`
}

// ScopeTenant verifies a caller-supplied tenant id against the resolved
// context. A mismatch is reported as NOT_FOUND so callers cannot probe for
// other organizations. Superadmins pass.
func (c *Context) ScopeTenant(tenantID string) error {
	if c.IsSuperadmin || (tenantID != "" && tenantID == c.TenantID) {
		return nil
	}
	return apperr.NotFound("Organization not found")
}

// RequireTenant fails when the caller resolved to platform scope only
// (a superadmin without X-Organization-ID).
func (c *Context) RequireTenant() error {
	if c.TenantID == "" {
		return apperr.BadRequest("An organization must be selected (X-Organization-ID)").WithReason("organization_required")
	}
	return nil
}

// Resolver turns a session token into a Context.
type Resolver struct {
	sessions *SessionManager
	dir      Directory
}

// NewResolver creates a resolver.
func NewResolver(sessions *SessionManager, dir Directory) *Resolver {
	return &Resolver{sessions: sessions, dir: dir}
}

// Resolve validates the token and picks the organization the request acts on:
// the requested tenant if given, else the session's active tenant, else the
// caller's earliest membership. Errors are classified apperr values.
func (r *Resolver) Resolve(ctx context.Context, token, requestedTenant string) (*Context, error) {
	sess, err := r.sessions.Verify(ctx, token)
	if err != nil {
		return nil, AsAppError(err)
	}

	ident, err := r.dir.Identity(ctx, sess.UserID)
	if err != nil {
		if errors.Is(err, ErrUnknownUser) {
			return nil, apperr.Unauthorized("Session is invalid or expired").WithReason("session_invalid")
		}
		return nil, err
	}
	if !ident.Active {
		return nil, apperr.Unauthorized("Account is deactivated").WithReason("user_deactivated")
	}

	ac := &Context{
		UserID:       ident.ID,
		Email:        ident.Email,
		IsSuperadmin: ident.IsSuperadmin,
		SessionID:    sess.ID,
	}

	memberships, err := r.dir.Memberships(ctx, ident.ID)
	if err != nil {
		return nil, err
	}

	target := requestedTenant
	if target == "" {
		target = sess.ActiveTenantID
	}

	if target != "" {
		if m, ok := findMembership(memberships, target); ok {
			ac.TenantID, ac.Role = m.TenantID, m.Role
		} else if ident.IsSuperadmin {
			ac.TenantID, ac.Impersonating = target, true
		} else {
			return nil, apperr.Forbidden("You are not a member of this organization").WithReason("not_a_member")
		}
	} else {
		switch {
		case len(memberships) > 0:
			m := earliest(memberships)
			ac.TenantID, ac.Role = m.TenantID, m.Role
		case ident.IsSuperadmin:
			return ac, nil // platform scope
		default:
			return nil, apperr.Forbidden("You are not a member of any organization").WithReason("not_a_member")
		}
	}

	st, err := r.dir.TenantState(ctx, ac.TenantID)
	if err != nil {
		if errors.Is(err, ErrUnknownTenant) {
			if ac.Impersonating {
				return nil, apperr.NotFound("Organization not found")
			}
			return nil, apperr.Forbidden("You are not a member of this organization").WithReason("not_a_member")
		}
		return nil, err
	}
	if st.Suspended && !ident.IsSuperadmin {
		return nil, apperr.Forbidden("This organization is suspended").WithReason("organization_suspended")
	}

	return ac, nil
}

func findMembership(ms []Membership, tenantID string) (Membership, bool) {
	for _, m := range ms {
		if m.TenantID == tenantID {
			return m, true
		}
	}
	return Membership{}, false
}

func earliest(ms []Membership) Membership {
	sorted := make([]Membership, len(ms))
	copy(sorted, ms)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].TenantID < sorted[j].TenantID
		}
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})
	return sorted[0]
}
