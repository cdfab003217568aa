package audit

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory audit store for development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []*Entry
}

// NewMemoryStore creates a new in-memory audit store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Append(_ context.Context, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	cp.Metadata = cloneMetadata(e.Metadata)
	m.entries = append(m.entries, &cp)
	return nil
}

func (m *MemoryStore) List(_ context.Context, q Query) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Entry
	for _, e := range m.entries {
		if !q.matches(e) {
			continue
		}
		cp := *e
		cp.Metadata = cloneMetadata(e.Metadata)
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if n := q.limit(); len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func cloneMetadata(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}

var _ Store = (*MemoryStore)(nil)
