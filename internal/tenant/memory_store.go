package tenant

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryStore is an in-memory tenant store for development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	tenants map[string]*Tenant                // by ID
	slugs   map[string]string                 // slug → ID
	members map[string]map[string]*Membership // tenantID → userID → membership
}

// NewMemoryStore creates a new in-memory tenant store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tenants: make(map[string]*Tenant),
		slugs:   make(map[string]string),
		members: make(map[string]map[string]*Membership),
	}
}

func copyTenant(t *Tenant) *Tenant {
	cp := *t
	if t.Suspension != nil {
		s := *t.Suspension
		cp.Suspension = &s
	}
	return &cp
}

func (m *MemoryStore) Create(_ context.Context, t *Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.slugs[t.Slug]; exists {
		return ErrSlugTaken
	}
	m.tenants[t.ID] = copyTenant(t)
	m.slugs[t.Slug] = t.ID
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tenants[id]
	if !ok {
		return nil, ErrTenantNotFound
	}
	return copyTenant(t), nil
}

func (m *MemoryStore) GetBySlug(_ context.Context, slug string) (*Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.slugs[slug]
	if !ok {
		return nil, ErrTenantNotFound
	}
	return copyTenant(m.tenants[id]), nil
}

func (m *MemoryStore) GetByStripeCustomer(_ context.Context, customerID string) (*Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if customerID == "" {
		return nil, ErrTenantNotFound
	}
	for _, t := range m.tenants {
		if t.StripeCustomerID == customerID {
			return copyTenant(t), nil
		}
	}
	return nil, ErrTenantNotFound
}

// Update replaces mutable fields. Slug is immutable.
func (m *MemoryStore) Update(_ context.Context, t *Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.tenants[t.ID]
	if !ok {
		return ErrTenantNotFound
	}
	cp := copyTenant(t)
	cp.Slug = existing.Slug
	m.tenants[t.ID] = cp
	return nil
}

func (m *MemoryStore) List(_ context.Context, q Query) ([]*Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	needle := strings.ToLower(q.Search)
	var out []*Tenant
	for _, t := range m.tenants {
		if q.Status != "" && t.Status != q.Status {
			continue
		}
		if q.WithCustomer && t.StripeCustomerID == "" {
			continue
		}
		if needle != "" && !strings.Contains(strings.ToLower(t.Name), needle) && !strings.Contains(t.Slug, needle) {
			continue
		}
		out = append(out, copyTenant(t))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *MemoryStore) AddMember(_ context.Context, mb *Membership) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tenants[mb.TenantID]; !ok {
		return ErrTenantNotFound
	}
	byUser, ok := m.members[mb.TenantID]
	if !ok {
		byUser = make(map[string]*Membership)
		m.members[mb.TenantID] = byUser
	}
	if _, exists := byUser[mb.UserID]; exists {
		return ErrAlreadyMember
	}
	cp := *mb
	byUser[mb.UserID] = &cp
	return nil
}

func (m *MemoryStore) GetMember(_ context.Context, tenantID, userID string) (*Membership, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	mb, ok := m.members[tenantID][userID]
	if !ok {
		return nil, ErrMemberNotFound
	}
	cp := *mb
	return &cp, nil
}

func (m *MemoryStore) UpdateMember(_ context.Context, mb *Membership) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.members[mb.TenantID][mb.UserID]
	if !ok {
		return ErrMemberNotFound
	}
	existing.Role = mb.Role
	existing.UpdatedAt = mb.UpdatedAt
	return nil
}

func (m *MemoryStore) RemoveMember(_ context.Context, tenantID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.members[tenantID][userID]; !ok {
		return ErrMemberNotFound
	}
	delete(m.members[tenantID], userID)
	return nil
}

func (m *MemoryStore) ListMembers(_ context.Context, tenantID string) ([]*Membership, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Membership, 0, len(m.members[tenantID]))
	for _, mb := range m.members[tenantID] {
		cp := *mb
		out = append(out, &cp)
	}
	sortMemberships(out)
	return out, nil
}

func (m *MemoryStore) CountMembers(_ context.Context, tenantID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.members[tenantID]), nil
}

func (m *MemoryStore) MembershipsForUser(_ context.Context, userID string) ([]*Membership, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Membership
	for _, byUser := range m.members {
		if mb, ok := byUser[userID]; ok {
			cp := *mb
			out = append(out, &cp)
		}
	}
	sortMemberships(out)
	return out, nil
}

// oldest first, matching the Postgres ORDER BY
func sortMemberships(ms []*Membership) {
	sort.Slice(ms, func(i, j int) bool {
		if ms[i].CreatedAt.Equal(ms[j].CreatedAt) {
			return ms[i].TenantID+ms[i].UserID < ms[j].TenantID+ms[j].UserID
		}
		return ms[i].CreatedAt.Before(ms[j].CreatedAt)
	})
}

var _ Store = (*MemoryStore)(nil)
