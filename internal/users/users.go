// Package users holds global identities. A user exists once across the
// platform and joins organizations through memberships.
package users

import (
	"context"
	"errors"
	"time"

	"github.com/carehub/platform/internal/idgen"
	"github.com/carehub/platform/internal/validation"
)

var (
	ErrUserNotFound = errors.New("users: not found")
	ErrEmailTaken   = errors.New("users: email already registered")
)

// Status is the account lifecycle state.
type Status string

const (
	StatusActive      Status = "active"
	StatusDeactivated Status = "deactivated"
)

// User is a platform identity.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	IsSuperadmin bool      `json:"isSuperadmin"`
	Status       Status    `json:"status"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Active reports whether the user may sign in.
func (u *User) Active() bool { return u.Status == StatusActive }

// New builds an active, non-superadmin user with a normalized email.
func New(email, name string, now time.Time) *User {
	return &User{
		ID:        idgen.WithPrefix(idgen.PrefixUser),
		Email:     validation.NormalizeEmail(email),
		Name:      validation.SanitizeString(name, validation.MaxNameLength),
		Status:    StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Query filters List.
type Query struct {
	Search string // case-insensitive substring of email or name
	Limit  int
}

// Store persists users.
type Store interface {
	Create(ctx context.Context, u *User) error
	Get(ctx context.Context, id string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	Update(ctx context.Context, u *User) error
	List(ctx context.Context, q Query) ([]*User, error)
}
