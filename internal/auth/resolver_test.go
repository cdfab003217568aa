package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carehub/platform/internal/apperr"
)

type fakeDirectory struct {
	users       map[string]*Identity
	memberships map[string][]Membership
	tenants     map[string]*TenantState
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		users:       map[string]*Identity{},
		memberships: map[string][]Membership{},
		tenants:     map[string]*TenantState{},
	}
}

func (d *fakeDirectory) Identity(_ context.Context, id string) (*Identity, error) {
	u, ok := d.users[id]
	if !ok {
		return nil, ErrUnknownUser
	}
	return u, nil
}

func (d *fakeDirectory) Memberships(_ context.Context, id string) ([]Membership, error) {
	return d.memberships[id], nil
}

func (d *fakeDirectory) TenantState(_ context.Context, id string) (*TenantState, error) {
	t, ok := d.tenants[id]
	if !ok {
		return nil, ErrUnknownTenant
	}
	return t, nil
}

type resolverFixture struct {
	resolver *Resolver
	sessions *SessionManager
	dir      *fakeDirectory
}

func newResolverFixture() *resolverFixture {
	dir := newFakeDirectory()
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	dir.tenants["org_a"] = &TenantState{ID: "org_a"}
	dir.tenants["org_b"] = &TenantState{ID: "org_b"}
	dir.tenants["org_susp"] = &TenantState{ID: "org_susp", Suspended: true}

	dir.users["usr_alice"] = &Identity{ID: "usr_alice", Email: "alice@clinic.test", Active: true}
	dir.memberships["usr_alice"] = []Membership{
		{TenantID: "org_b", Role: RoleMember, CreatedAt: t0.Add(time.Hour)},
		{TenantID: "org_a", Role: RoleOwner, CreatedAt: t0},
	}

	dir.users["usr_bob"] = &Identity{ID: "usr_bob", Email: "bob@clinic.test", Active: true}
	dir.memberships["usr_bob"] = []Membership{{TenantID: "org_susp", Role: RoleAdmin, CreatedAt: t0}}

	dir.users["usr_root"] = &Identity{ID: "usr_root", Email: "root@carehub.test", Active: true, IsSuperadmin: true}
	dir.users["usr_gone"] = &Identity{ID: "usr_gone", Email: "gone@clinic.test", Active: false}
	dir.users["usr_loner"] = &Identity{ID: "usr_loner", Email: "loner@clinic.test", Active: true}

	sessions := NewSessionManager(NewMemoryStore(), time.Hour)
	return &resolverFixture{resolver: NewResolver(sessions, dir), sessions: sessions, dir: dir}
}

func (f *resolverFixture) token(t *testing.T, userID, activeTenant string) string {
	t.Helper()
	raw, _, err := f.sessions.Issue(context.Background(), userID, activeTenant)
	require.NoError(t, err)
	return raw
}

func TestResolve_NoToken(t *testing.T) {
	f := newResolverFixture()
	_, err := f.resolver.Resolve(context.Background(), "", "")
	assert.True(t, apperr.Is(err, apperr.KindUnauthorized))
}

func TestResolve_MemberOfRequestedTenant(t *testing.T) {
	f := newResolverFixture()
	ac, err := f.resolver.Resolve(context.Background(), f.token(t, "usr_alice", ""), "org_b")
	require.NoError(t, err)
	assert.Equal(t, "org_b", ac.TenantID)
	assert.Equal(t, RoleMember, ac.Role)
	assert.False(t, ac.Impersonating)
}

func TestResolve_DefaultsToEarliestMembership(t *testing.T) {
	f := newResolverFixture()
	ac, err := f.resolver.Resolve(context.Background(), f.token(t, "usr_alice", ""), "")
	require.NoError(t, err)
	assert.Equal(t, "org_a", ac.TenantID)
	assert.Equal(t, RoleOwner, ac.Role)
}

func TestResolve_SessionActiveTenant(t *testing.T) {
	f := newResolverFixture()
	ac, err := f.resolver.Resolve(context.Background(), f.token(t, "usr_alice", "org_b"), "")
	require.NoError(t, err)
	assert.Equal(t, "org_b", ac.TenantID)
}

func TestResolve_NonMemberForbidden(t *testing.T) {
	f := newResolverFixture()
	_, err := f.resolver.Resolve(context.Background(), f.token(t, "usr_alice", ""), "org_susp")
	assert.True(t, apperr.Is(err, apperr.KindForbidden))

	_, err = f.resolver.Resolve(context.Background(), f.token(t, "usr_loner", ""), "")
	assert.True(t, apperr.Is(err, apperr.KindForbidden))
}

func TestResolve_SuspendedTenant(t *testing.T) {
	f := newResolverFixture()
	_, err := f.resolver.Resolve(context.Background(), f.token(t, "usr_bob", ""), "")
	require.Error(t, err)
	assert.Equal(t, "organization_suspended", apperr.As(err).Reason)

	// Superadmins still reach suspended organizations.
	ac, err := f.resolver.Resolve(context.Background(), f.token(t, "usr_root", ""), "org_susp")
	require.NoError(t, err)
	assert.True(t, ac.Impersonating)
}

func TestResolve_Superadmin(t *testing.T) {
	f := newResolverFixture()

	t.Run("platform scope", func(t *testing.T) {
		ac, err := f.resolver.Resolve(context.Background(), f.token(t, "usr_root", ""), "")
		require.NoError(t, err)
		assert.Empty(t, ac.TenantID)
		assert.True(t, ac.IsSuperadmin)
		assert.Error(t, ac.RequireTenant())
	})

	t.Run("impersonation", func(t *testing.T) {
		ac, err := f.resolver.Resolve(context.Background(), f.token(t, "usr_root", ""), "org_a")
		require.NoError(t, err)
		assert.Equal(t, "org_a", ac.TenantID)
		assert.True(t, ac.Impersonating)
		assert.Empty(t, ac.Role)
	})

	t.Run("unknown tenant", func(t *testing.T) {
		_, err := f.resolver.Resolve(context.Background(), f.token(t, "usr_root", ""), "org_nope")
		assert.True(t, apperr.Is(err, apperr.KindNotFound))
	})
}

func TestResolve_DeactivatedUser(t *testing.T) {
	f := newResolverFixture()
	_, err := f.resolver.Resolve(context.Background(), f.token(t, "usr_gone", ""), "")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindUnauthorized))
	assert.Equal(t, "user_deactivated", apperr.As(err).Reason)
}

func TestResolve_UserDeletedFromDirectory(t *testing.T) {
	f := newResolverFixture()
	_, err := f.resolver.Resolve(context.Background(), f.token(t, "usr_ghost", ""), "")
	assert.True(t, apperr.Is(err, apperr.KindUnauthorized))
}

func TestScopeTenant(t *testing.T) {
	member := &Context{UserID: "usr_alice", TenantID: "org_a", Role: RoleOwner}
	assert.NoError(t, member.ScopeTenant("org_a"))
	assert.True(t, apperr.Is(member.ScopeTenant("org_b"), apperr.KindNotFound))
	assert.True(t, apperr.Is(member.ScopeTenant(""), apperr.KindNotFound))

	root := &Context{UserID: "usr_root", IsSuperadmin: true}
	assert.NoError(t, root.ScopeTenant("org_b"))
}
