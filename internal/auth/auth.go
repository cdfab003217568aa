// Package auth resolves who is calling and on behalf of which organization.
//
// Authentication model:
//   - Every /api route except the provider webhook requires a session token,
//     sent as "Authorization: Bearer cs_..." or in the __session cookie.
//   - Tokens are opaque and stored only as sha256 hashes.
//   - The resolved Context carries tenant, role, and the superadmin flag;
//     handlers never accept a caller-supplied tenant id without ScopeTenant.
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/carehub/platform/internal/apperr"
	"github.com/carehub/platform/internal/idgen"
)

// Errors
var (
	ErrNoSession       = errors.New("auth: session token required")
	ErrInvalidSession  = errors.New("auth: invalid or expired session")
	ErrSessionNotFound = errors.New("auth: session not found")
)

// TokenPrefix marks CareHub session tokens.
const TokenPrefix = "cs_"

// Session is an issued login. The raw token is never stored.
type Session struct {
	ID             string    `json:"id"`
	Hash           string    `json:"-"`
	UserID         string    `json:"userId"`
	ActiveTenantID string    `json:"activeTenantId,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	ExpiresAt      time.Time `json:"expiresAt"`
	LastUsed       time.Time `json:"lastUsed,omitempty"`
	Revoked        bool      `json:"revoked"`
}

// Expired reports whether the session is past its TTL at now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// SessionStore persists sessions.
type SessionStore interface {
	Create(ctx context.Context, s *Session) error
	GetByHash(ctx context.Context, hash string) (*Session, error)
	Touch(ctx context.Context, id string, at time.Time) error
	Revoke(ctx context.Context, id string) error
	RevokeAllForUser(ctx context.Context, userID string) (int, error)
}

// SessionManager issues and verifies session tokens.
type SessionManager struct {
	store SessionStore
	ttl   time.Duration
	now   func() time.Time
}

// NewSessionManager creates a session manager with the given token lifetime.
func NewSessionManager(store SessionStore, ttl time.Duration) *SessionManager {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &SessionManager{store: store, ttl: ttl, now: time.Now}
}

// Issue creates a session for userID. Returns the raw token (shown once)
// and the stored metadata.
func (m *SessionManager) Issue(ctx context.Context, userID, activeTenantID string) (string, *Session, error) {
	raw := TokenPrefix + idgen.Hex(32)
	now := m.now()

	s := &Session{
		ID:             idgen.WithPrefix(idgen.PrefixSession),
		Hash:           hashToken(raw),
		UserID:         userID,
		ActiveTenantID: activeTenantID,
		CreatedAt:      now,
		ExpiresAt:      now.Add(m.ttl),
	}
	if err := m.store.Create(ctx, s); err != nil {
		return "", nil, err
	}
	return raw, s, nil
}

// Verify validates a raw token and returns its session.
func (m *SessionManager) Verify(ctx context.Context, raw string) (*Session, error) {
	raw = strings.TrimSpace(strings.TrimPrefix(raw, "Bearer "))
	if raw == "" {
		return nil, ErrNoSession
	}
	if !strings.HasPrefix(raw, TokenPrefix) {
		return nil, ErrInvalidSession
	}

	s, err := m.store.GetByHash(ctx, hashToken(raw))
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, ErrInvalidSession
		}
		return nil, err
	}

	now := m.now()
	if s.Revoked || s.Expired(now) {
		return nil, ErrInvalidSession
	}

	// Last-used is advisory; never hold the request for it.
	go func(id string, at time.Time) {
		tctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = m.store.Touch(tctx, id, at)
	}(s.ID, now)

	return s, nil
}

// Revoke invalidates a single session.
func (m *SessionManager) Revoke(ctx context.Context, sessionID string) error {
	return m.store.Revoke(ctx, sessionID)
}

// RevokeAllForUser invalidates every session of a user and returns how many
// were active.
func (m *SessionManager) RevokeAllForUser(ctx context.Context, userID string) (int, error) {
	return m.store.RevokeAllForUser(ctx, userID)
}

// AsAppError maps session errors onto the platform taxonomy.
func AsAppError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNoSession):
		return apperr.Unauthorized("Authentication required").WithReason("session_required")
	case errors.Is(err, ErrInvalidSession):
		return apperr.Unauthorized("Session is invalid or expired").WithReason("session_invalid")
	default:
		return err
	}
}

func hashToken(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}
