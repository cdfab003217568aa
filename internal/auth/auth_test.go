package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(ttl time.Duration) (*SessionManager, *MemoryStore) {
	store := NewMemoryStore()
	return NewSessionManager(store, ttl), store
}

func TestIssue_ReturnsPrefixedTokenAndStoresOnlyHash(t *testing.T) {
	mgr, store := newTestManager(time.Hour)

	raw, sess, err := mgr.Issue(context.Background(), "usr_1", "org_1")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(raw, TokenPrefix))
	assert.Len(t, raw, len(TokenPrefix)+64)
	assert.NotContains(t, sess.Hash, raw)
	assert.Equal(t, "org_1", sess.ActiveTenantID)

	stored, err := store.GetByHash(context.Background(), hashToken(raw))
	require.NoError(t, err)
	assert.Equal(t, sess.ID, stored.ID)
}

func TestVerify(t *testing.T) {
	mgr, _ := newTestManager(time.Hour)
	ctx := context.Background()
	raw, sess, err := mgr.Issue(ctx, "usr_1", "")
	require.NoError(t, err)

	t.Run("valid with bearer prefix", func(t *testing.T) {
		got, err := mgr.Verify(ctx, "Bearer "+raw)
		require.NoError(t, err)
		assert.Equal(t, sess.ID, got.ID)
	})

	t.Run("empty", func(t *testing.T) {
		_, err := mgr.Verify(ctx, "")
		assert.ErrorIs(t, err, ErrNoSession)
	})

	t.Run("wrong prefix", func(t *testing.T) {
		_, err := mgr.Verify(ctx, "sk_live_abc")
		assert.ErrorIs(t, err, ErrInvalidSession)
	})

	t.Run("unknown token", func(t *testing.T) {
		_, err := mgr.Verify(ctx, TokenPrefix+"deadbeef")
		assert.ErrorIs(t, err, ErrInvalidSession)
	})
}

func TestVerify_Expired(t *testing.T) {
	mgr, _ := newTestManager(time.Minute)
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	mgr.now = func() time.Time { return now }

	raw, _, err := mgr.Issue(context.Background(), "usr_1", "")
	require.NoError(t, err)

	now = now.Add(time.Minute)
	_, err = mgr.Verify(context.Background(), raw)
	assert.ErrorIs(t, err, ErrInvalidSession)
}

func TestRevokeAllForUser(t *testing.T) {
	mgr, _ := newTestManager(time.Hour)
	ctx := context.Background()

	a, _, _ := mgr.Issue(ctx, "usr_1", "")
	b, _, _ := mgr.Issue(ctx, "usr_1", "")
	other, _, _ := mgr.Issue(ctx, "usr_2", "")

	n, err := mgr.RevokeAllForUser(ctx, "usr_1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, raw := range []string{a, b} {
		_, err := mgr.Verify(ctx, raw)
		assert.ErrorIs(t, err, ErrInvalidSession)
	}
	_, err = mgr.Verify(ctx, other)
	assert.NoError(t, err)

	n, err = mgr.RevokeAllForUser(ctx, "usr_1")
	require.NoError(t, err)
	assert.Zero(t, n, "already revoked sessions are not counted again")
}

func TestRevoke_Unknown(t *testing.T) {
	mgr, _ := newTestManager(time.Hour)
	assert.ErrorIs(t, mgr.Revoke(context.Background(), "ses_missing"), ErrSessionNotFound)
}
