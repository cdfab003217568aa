package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

// PostgresStore persists audit entries in PostgreSQL. The audit_logs table
// carries a trigger that rejects UPDATE and DELETE.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed audit store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Append(ctx context.Context, e *Entry) error {
	var meta []byte
	if len(e.Metadata) > 0 {
		var err error
		if meta, err = json.Marshal(e.Metadata); err != nil {
			return fmt.Errorf("audit: marshal metadata: %w", err)
		}
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, tenant_id, actor_id, actor_email, action, resource_type,
			resource_id, metadata, ip_address, user_agent, created_at)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		e.ID, e.TenantID, e.ActorID, e.ActorEmail, e.Action, e.ResourceType,
		e.ResourceID, nullJSON(meta), e.IPAddress, e.UserAgent, e.CreatedAt,
	)
	return err
}

func (p *PostgresStore) List(ctx context.Context, q Query) ([]*Entry, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if q.TenantID != "" {
		add("tenant_id = $%d", q.TenantID)
	}
	if q.ActorID != "" {
		add("actor_id = $%d", q.ActorID)
	}
	if q.Action != "" {
		add("action = $%d", q.Action)
	}
	if q.Cursor != nil {
		args = append(args, q.Cursor.CreatedAt, q.Cursor.ID)
		where = append(where, fmt.Sprintf("(created_at, id) < ($%d, $%d)", len(args)-1, len(args)))
	}

	query := `SELECT id, tenant_id, actor_id, actor_email, action, resource_type, resource_id,
		metadata, ip_address, user_agent, created_at FROM audit_logs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, q.limit())
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", len(args))

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Entry
	for rows.Next() {
		e := &Entry{}
		var (
			tenantID sql.NullString
			meta     []byte
		)
		if err := rows.Scan(&e.ID, &tenantID, &e.ActorID, &e.ActorEmail, &e.Action, &e.ResourceType,
			&e.ResourceID, &meta, &e.IPAddress, &e.UserAgent, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.TenantID = tenantID.String
		if len(meta) > 0 {
			_ = json.Unmarshal(meta, &e.Metadata)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

var _ Store = (*PostgresStore)(nil)
