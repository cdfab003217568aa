package billing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// PostgresStore persists billing events in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed event store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Append(ctx context.Context, e *Event) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO billing_events (id, external_id, type, tenant_id, customer_id, subscription_id,
			product_id, product_name, amount, currency, occurred_at, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, $9, $10, $11, $12)`,
		e.ID, e.ExternalID, e.Type, e.TenantID, e.CustomerID, e.SubscriptionID,
		e.ProductID, e.ProductName, e.Amount, e.Currency, e.OccurredAt, e.CreatedAt,
	)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return ErrDuplicateEvent
	}
	return err
}

func (p *PostgresStore) List(ctx context.Context, q Query) ([]*Event, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if !q.From.IsZero() {
		add("occurred_at >= $%d", q.From)
	}
	if !q.To.IsZero() {
		add("occurred_at < $%d", q.To)
	}
	if q.Type != "" {
		add("type = $%d", q.Type)
	}
	if q.ProductID != "" {
		add("product_id = $%d", q.ProductID)
	}
	if q.TenantID != "" {
		add("tenant_id = $%d", q.TenantID)
	}

	query := `SELECT id, external_id, type, COALESCE(tenant_id, ''), customer_id, subscription_id,
		product_id, product_name, amount, currency, occurred_at, created_at
		FROM billing_events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY occurred_at DESC, id DESC"
	if n := q.limit(); n > 0 {
		query += fmt.Sprintf(" LIMIT %d", n)
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Event
	for rows.Next() {
		e := &Event{}
		if err := rows.Scan(&e.ID, &e.ExternalID, &e.Type, &e.TenantID, &e.CustomerID, &e.SubscriptionID,
			&e.ProductID, &e.ProductName, &e.Amount, &e.Currency, &e.OccurredAt, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

var _ Store = (*PostgresStore)(nil)
