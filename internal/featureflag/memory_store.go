package featureflag

import (
	"context"
	"sort"
	"sync"

	"github.com/carehub/platform/internal/entitlement"
)

type flagKey struct {
	tenantID string
	key      entitlement.Feature
}

// MemoryStore is an in-memory flag store for development and tests.
type MemoryStore struct {
	mu    sync.RWMutex
	flags map[flagKey]*Flag
}

// NewMemoryStore creates a new in-memory flag store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{flags: make(map[flagKey]*Flag)}
}

func (m *MemoryStore) Upsert(_ context.Context, f *Flag) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := flagKey{f.TenantID, f.Key}
	existing, ok := m.flags[k]
	if ok && existing.Enabled == f.Enabled {
		return false, nil
	}
	cp := *f
	if ok {
		cp.CreatedAt = existing.CreatedAt
	}
	m.flags[k] = &cp
	return true, nil
}

func (m *MemoryStore) Get(_ context.Context, tenantID string, key entitlement.Feature) (*Flag, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	f, ok := m.flags[flagKey{tenantID, key}]
	if !ok {
		return nil, ErrFlagNotFound
	}
	cp := *f
	return &cp, nil
}

func (m *MemoryStore) Delete(_ context.Context, tenantID string, key entitlement.Feature) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := flagKey{tenantID, key}
	if _, ok := m.flags[k]; !ok {
		return ErrFlagNotFound
	}
	delete(m.flags, k)
	return nil
}

func (m *MemoryStore) List(_ context.Context, tenantID string) ([]*Flag, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Flag
	for k, f := range m.flags {
		if tenantID != "" && k.tenantID != tenantID {
			continue
		}
		cp := *f
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TenantID != out[j].TenantID {
			return out[i].TenantID < out[j].TenantID
		}
		return out[i].Key < out[j].Key
	})
	return out, nil
}

var _ Store = (*MemoryStore)(nil)
