package users

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/carehub/platform/internal/pagination"
)

// MemoryStore is an in-memory user store for development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	users   map[string]*User // by ID
	byEmail map[string]string
}

// NewMemoryStore creates a new in-memory user store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:   make(map[string]*User),
		byEmail: make(map[string]string),
	}
}

func (m *MemoryStore) Create(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byEmail[u.Email]; exists {
		return ErrEmailTaken
	}
	cp := *u
	m.users[u.ID] = &cp
	m.byEmail[u.Email] = u.ID
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *MemoryStore) GetByEmail(_ context.Context, email string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *m.users[id]
	return &cp, nil
}

// Update replaces mutable fields. Email is immutable.
func (m *MemoryStore) Update(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.users[u.ID]
	if !ok {
		return ErrUserNotFound
	}
	cp := *u
	cp.Email = existing.Email
	m.users[u.ID] = &cp
	return nil
}

func (m *MemoryStore) List(_ context.Context, q Query) ([]*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	limit := q.Limit
	if limit <= 0 || limit > pagination.MaxLimit {
		limit = pagination.DefaultLimit
	}
	needle := strings.ToLower(q.Search)

	var out []*User
	for _, u := range m.users {
		if needle != "" && !strings.Contains(u.Email, needle) && !strings.Contains(strings.ToLower(u.Name), needle) {
			continue
		}
		cp := *u
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

var _ Store = (*MemoryStore)(nil)
