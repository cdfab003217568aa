package uploads

import (
	"context"
	"database/sql"
)

// PostgresStore persists upload metadata in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed upload store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, u *Upload) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO uploads (id, tenant_id, kind, object_key, content_type, size_bytes,
			original_name, uploaded_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		u.ID, u.TenantID, string(u.Kind), u.Key, u.ContentType, u.Size,
		u.OriginalName, u.UploadedBy, u.CreatedAt,
	)
	return err
}

func (p *PostgresStore) List(ctx context.Context, tenantID string, limit int) ([]*Upload, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, tenant_id, kind, object_key, content_type, size_bytes, original_name, uploaded_by, created_at
		FROM uploads WHERE tenant_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Upload
	for rows.Next() {
		u := &Upload{}
		var kind string
		if err := rows.Scan(&u.ID, &u.TenantID, &kind, &u.Key, &u.ContentType, &u.Size,
			&u.OriginalName, &u.UploadedBy, &u.CreatedAt); err != nil {
			return nil, err
		}
		u.Kind = Kind(kind)
		out = append(out, u)
	}
	return out, rows.Err()
}

func (p *PostgresStore) SumBytes(ctx context.Context, tenantID string) (int64, error) {
	var total int64
	err := p.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(size_bytes), 0) FROM uploads WHERE tenant_id = $1`, tenantID,
	).Scan(&total)
	return total, err
}

var _ Store = (*PostgresStore)(nil)
