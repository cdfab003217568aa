package users

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_NormalizesEmail(t *testing.T) {
	u := New("  Dr.Who@Clinic.Example ", "  Dr Who ", time.Now())
	assert.Equal(t, "dr.who@clinic.example", u.Email)
	assert.Equal(t, "Dr Who", u.Name)
	assert.True(t, u.Active())
	assert.False(t, u.IsSuperadmin)
	assert.Regexp(t, `^usr_[a-f0-9]{32}$`, u.ID)
}

func TestMemoryStore_CreateGet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	u := New("a@example.com", "A", time.Now())
	require.NoError(t, s.Create(ctx, u))

	got, err := s.Get(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, u.Email, got.Email)

	got, err = s.GetByEmail(ctx, "A@EXAMPLE.COM")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	err = s.Create(ctx, New("a@example.com", "Dup", time.Now()))
	assert.ErrorIs(t, err, ErrEmailTaken)

	_, err = s.Get(ctx, "usr_missing")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestMemoryStore_CopyOnRead(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	u := New("a@example.com", "A", time.Now())
	require.NoError(t, s.Create(ctx, u))

	got, _ := s.Get(ctx, u.ID)
	got.IsSuperadmin = true

	again, _ := s.Get(ctx, u.ID)
	assert.False(t, again.IsSuperadmin)
}

func TestMemoryStore_UpdateKeepsEmail(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	u := New("a@example.com", "A", time.Now())
	require.NoError(t, s.Create(ctx, u))

	u.Email = "other@example.com"
	u.Status = StatusDeactivated
	require.NoError(t, s.Update(ctx, u))

	got, _ := s.Get(ctx, u.ID)
	assert.Equal(t, "a@example.com", got.Email)
	assert.Equal(t, StatusDeactivated, got.Status)

	assert.ErrorIs(t, s.Update(ctx, &User{ID: "usr_missing"}), ErrUserNotFound)
}

func TestMemoryStore_ListNewestFirstWithSearch(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	t0 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, email := range []string{"ann@clinic.example", "bob@clinic.example", "cy@other.example"} {
		require.NoError(t, s.Create(ctx, New(email, "", t0.Add(time.Duration(i)*time.Hour))))
	}

	all, err := s.List(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "cy@other.example", all[0].Email)

	clinic, err := s.List(ctx, Query{Search: "CLINIC"})
	require.NoError(t, err)
	assert.Len(t, clinic, 2)

	one, err := s.List(ctx, Query{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, one, 1)
}
