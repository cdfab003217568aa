package subscription

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory subscription store for development and tests.
type MemoryStore struct {
	mu    sync.RWMutex
	subs  map[string]*Subscription // by ExternalID
	syncs map[string]*SyncState    // by TenantID
}

// NewMemoryStore creates a new in-memory subscription store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		subs:  make(map[string]*Subscription),
		syncs: make(map[string]*SyncState),
	}
}

func copySub(s *Subscription) *Subscription {
	cp := *s
	if s.TrialEnd != nil {
		t := *s.TrialEnd
		cp.TrialEnd = &t
	}
	if s.CancelAt != nil {
		t := *s.CancelAt
		cp.CancelAt = &t
	}
	return &cp
}

func (m *MemoryStore) GetByExternalID(_ context.Context, externalID string) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.subs[externalID]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	return copySub(s), nil
}

func (m *MemoryStore) Save(_ context.Context, s *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[s.ExternalID] = copySub(s)
	return nil
}

func (m *MemoryStore) ListByTenant(_ context.Context, tenantID string) ([]*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Subscription
	for _, s := range m.subs {
		if s.TenantID == tenantID {
			out = append(out, copySub(s))
		}
	}
	SortNewestFirst(out)
	return out, nil
}

func (m *MemoryStore) ListAll(_ context.Context) ([]*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Subscription, 0, len(m.subs))
	for _, s := range m.subs {
		out = append(out, copySub(s))
	}
	SortNewestFirst(out)
	return out, nil
}

func (m *MemoryStore) GetSyncState(_ context.Context, tenantID string) (*SyncState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st, ok := m.syncs[tenantID]
	if !ok {
		return nil, nil
	}
	cp := *st
	if st.LastSyncedAt != nil {
		t := *st.LastSyncedAt
		cp.LastSyncedAt = &t
	}
	return &cp, nil
}

func (m *MemoryStore) SaveSyncState(_ context.Context, st *SyncState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *st
	m.syncs[st.TenantID] = &cp
	return nil
}

var _ Store = (*MemoryStore)(nil)
