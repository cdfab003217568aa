package auth

import (
	"context"
	"database/sql"
	"time"
)

// PostgresStore persists sessions in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed session store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, s *Session) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO sessions (id, hash, user_id, active_tenant_id, created_at, expires_at, revoked)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7)
	`, s.ID, s.Hash, s.UserID, s.ActiveTenantID, s.CreatedAt, s.ExpiresAt, s.Revoked)
	return err
}

// GetByHash returns the session regardless of state; the manager decides
// whether it is usable.
func (p *PostgresStore) GetByHash(ctx context.Context, hash string) (*Session, error) {
	s := &Session{}
	var (
		tenantID sql.NullString
		lastUsed sql.NullTime
	)
	err := p.db.QueryRowContext(ctx, `
		SELECT id, hash, user_id, active_tenant_id, created_at, expires_at, last_used, revoked
		FROM sessions WHERE hash = $1
	`, hash).Scan(&s.ID, &s.Hash, &s.UserID, &tenantID, &s.CreatedAt, &s.ExpiresAt, &lastUsed, &s.Revoked)
	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	s.ActiveTenantID = tenantID.String
	if lastUsed.Valid {
		s.LastUsed = lastUsed.Time
	}
	return s, nil
}

func (p *PostgresStore) Touch(ctx context.Context, id string, at time.Time) error {
	_, err := p.db.ExecContext(ctx, `UPDATE sessions SET last_used = $1 WHERE id = $2`, at, id)
	return err
}

func (p *PostgresStore) Revoke(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `UPDATE sessions SET revoked = TRUE WHERE id = $1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (p *PostgresStore) RevokeAllForUser(ctx context.Context, userID string) (int, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE sessions SET revoked = TRUE
		WHERE user_id = $1 AND revoked = FALSE
	`, userID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

var _ SessionStore = (*PostgresStore)(nil)
