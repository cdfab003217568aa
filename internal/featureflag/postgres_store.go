package featureflag

import (
	"context"
	"database/sql"
	"errors"

	"github.com/carehub/platform/internal/entitlement"
)

// PostgresStore persists overrides in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed flag store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Upsert only touches the row when the value differs, so RowsAffected
// doubles as the changed flag.
func (p *PostgresStore) Upsert(ctx context.Context, f *Flag) (bool, error) {
	res, err := p.db.ExecContext(ctx, `
		INSERT INTO feature_flags (tenant_id, key, enabled, set_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tenant_id, key) DO UPDATE
			SET enabled = EXCLUDED.enabled, set_by = EXCLUDED.set_by, updated_at = EXCLUDED.updated_at
			WHERE feature_flags.enabled IS DISTINCT FROM EXCLUDED.enabled`,
		f.TenantID, string(f.Key), f.Enabled, f.SetBy, f.CreatedAt, f.UpdatedAt,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (p *PostgresStore) Get(ctx context.Context, tenantID string, key entitlement.Feature) (*Flag, error) {
	f := &Flag{}
	var k string
	err := p.db.QueryRowContext(ctx, `
		SELECT tenant_id, key, enabled, set_by, created_at, updated_at
		FROM feature_flags WHERE tenant_id = $1 AND key = $2`, tenantID, string(key),
	).Scan(&f.TenantID, &k, &f.Enabled, &f.SetBy, &f.CreatedAt, &f.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrFlagNotFound
	}
	if err != nil {
		return nil, err
	}
	f.Key = entitlement.Feature(k)
	return f, nil
}

func (p *PostgresStore) Delete(ctx context.Context, tenantID string, key entitlement.Feature) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM feature_flags WHERE tenant_id = $1 AND key = $2`, tenantID, string(key))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrFlagNotFound
	}
	return nil
}

func (p *PostgresStore) List(ctx context.Context, tenantID string) ([]*Flag, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT tenant_id, key, enabled, set_by, created_at, updated_at
		FROM feature_flags WHERE $1 = '' OR tenant_id = $1
		ORDER BY tenant_id, key`, tenantID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Flag
	for rows.Next() {
		f := &Flag{}
		var k string
		if err := rows.Scan(&f.TenantID, &k, &f.Enabled, &f.SetBy, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, err
		}
		f.Key = entitlement.Feature(k)
		out = append(out, f)
	}
	return out, rows.Err()
}

var _ Store = (*PostgresStore)(nil)
