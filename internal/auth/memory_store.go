package auth

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory SessionStore for development and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session // by ID
	byHash   map[string]string   // hash → ID
}

// NewMemoryStore creates a new in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
		byHash:   make(map[string]string),
	}
}

func (s *MemoryStore) Create(_ context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sess
	s.sessions[sess.ID] = &cp
	s.byHash[sess.Hash] = sess.ID
	return nil
}

func (s *MemoryStore) GetByHash(_ context.Context, hash string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byHash[hash]
	if !ok {
		return nil, ErrSessionNotFound
	}
	cp := *s.sessions[id]
	return &cp, nil
}

func (s *MemoryStore) Touch(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		sess.LastUsed = at
	}
	return nil
}

func (s *MemoryStore) Revoke(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	sess.Revoked = true
	return nil
}

func (s *MemoryStore) RevokeAllForUser(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, sess := range s.sessions {
		if sess.UserID == userID && !sess.Revoked {
			sess.Revoked = true
			n++
		}
	}
	return n, nil
}

var _ SessionStore = (*MemoryStore)(nil)
