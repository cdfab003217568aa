package uploads

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory upload metadata store.
type MemoryStore struct {
	mu      sync.RWMutex
	uploads []*Upload
}

// NewMemoryStore creates a new in-memory upload store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Create(_ context.Context, u *Upload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *u
	m.uploads = append(m.uploads, &cp)
	return nil
}

func (m *MemoryStore) List(_ context.Context, tenantID string, limit int) ([]*Upload, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Upload
	for _, u := range m.uploads {
		if u.TenantID == tenantID {
			cp := *u
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) SumBytes(_ context.Context, tenantID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var total int64
	for _, u := range m.uploads {
		if u.TenantID == tenantID {
			total += u.Size
		}
	}
	return total, nil
}

var _ Store = (*MemoryStore)(nil)
