package users

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/lib/pq"

	"github.com/carehub/platform/internal/pagination"
)

// PostgresStore persists users in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed user store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const userColumns = `id, email, name, is_superadmin, status, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, u *User) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		u.ID, u.Email, u.Name, u.IsSuperadmin, string(u.Status), u.CreatedAt, u.UpdatedAt,
	)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return ErrEmailTaken
	}
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*User, error) {
	return scanUser(p.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (p *PostgresStore) GetByEmail(ctx context.Context, email string) (*User, error) {
	return scanUser(p.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, strings.ToLower(email)))
}

func (p *PostgresStore) Update(ctx context.Context, u *User) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE users SET name = $1, is_superadmin = $2, status = $3, updated_at = $4
		WHERE id = $5`,
		u.Name, u.IsSuperadmin, string(u.Status), u.UpdatedAt, u.ID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (p *PostgresStore) List(ctx context.Context, q Query) ([]*User, error) {
	limit := q.Limit
	if limit <= 0 || limit > pagination.MaxLimit {
		limit = pagination.DefaultLimit
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE $1 = '' OR email ILIKE '%' || $1 || '%' OR name ILIKE '%' || $1 || '%'
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, q.Search, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (*User, error) {
	u := &User{}
	var status string
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.IsSuperadmin, &status, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	u.Status = Status(status)
	return u, nil
}

var _ Store = (*PostgresStore)(nil)
