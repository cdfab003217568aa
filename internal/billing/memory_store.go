package billing

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory billing event log for development and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	events []*Event
	byExt  map[string]bool
}

// NewMemoryStore creates a new in-memory event store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byExt: make(map[string]bool)}
}

func (m *MemoryStore) Append(_ context.Context, e *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.byExt[e.ExternalID] {
		return ErrDuplicateEvent
	}
	cp := *e
	m.events = append(m.events, &cp)
	m.byExt[e.ExternalID] = true
	return nil
}

func (m *MemoryStore) List(_ context.Context, q Query) ([]*Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Event
	for _, e := range m.events {
		if q.matches(e) {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OccurredAt.Equal(out[j].OccurredAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].OccurredAt.After(out[j].OccurredAt)
	})
	if n := q.limit(); n > 0 && len(out) > n {
		out = out[:n]
	}
	return out, nil
}

var _ Store = (*MemoryStore)(nil)
