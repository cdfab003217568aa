package subscription

import (
	"context"
	"database/sql"
	"errors"

	"github.com/carehub/platform/internal/entitlement"
)

// PostgresStore persists subscriptions in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed subscription store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const subColumns = `id, tenant_id, external_id, customer_id, status, plan, price_id, product_id,
	product_name, amount, currency, billing_interval, current_period_start, current_period_end,
	trial_end, cancel_at, created_at, updated_at`

func (p *PostgresStore) GetByExternalID(ctx context.Context, externalID string) (*Subscription, error) {
	return scanSub(p.db.QueryRowContext(ctx, `SELECT `+subColumns+` FROM subscriptions WHERE external_id = $1`, externalID))
}

// Save upserts on external_id; id and created_at of an existing row are kept.
func (p *PostgresStore) Save(ctx context.Context, s *Subscription) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO subscriptions (`+subColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (external_id) DO UPDATE SET
			tenant_id = EXCLUDED.tenant_id,
			customer_id = EXCLUDED.customer_id,
			status = EXCLUDED.status,
			plan = EXCLUDED.plan,
			price_id = EXCLUDED.price_id,
			product_id = EXCLUDED.product_id,
			product_name = EXCLUDED.product_name,
			amount = EXCLUDED.amount,
			currency = EXCLUDED.currency,
			billing_interval = EXCLUDED.billing_interval,
			current_period_start = EXCLUDED.current_period_start,
			current_period_end = EXCLUDED.current_period_end,
			trial_end = EXCLUDED.trial_end,
			cancel_at = EXCLUDED.cancel_at,
			updated_at = EXCLUDED.updated_at`,
		s.ID, s.TenantID, s.ExternalID, s.CustomerID, string(s.Status), string(s.Plan), s.PriceID, s.ProductID,
		s.ProductName, s.Amount, s.Currency, string(s.Interval), s.CurrentPeriodStart, s.CurrentPeriodEnd,
		s.TrialEnd, s.CancelAt, s.CreatedAt, s.UpdatedAt,
	)
	return err
}

func (p *PostgresStore) ListByTenant(ctx context.Context, tenantID string) ([]*Subscription, error) {
	return p.query(ctx, `SELECT `+subColumns+` FROM subscriptions WHERE tenant_id = $1
		ORDER BY created_at DESC, id DESC`, tenantID)
}

func (p *PostgresStore) ListAll(ctx context.Context) ([]*Subscription, error) {
	return p.query(ctx, `SELECT `+subColumns+` FROM subscriptions ORDER BY created_at DESC, id DESC`)
}

func (p *PostgresStore) GetSyncState(ctx context.Context, tenantID string) (*SyncState, error) {
	st := &SyncState{TenantID: tenantID}
	var synced sql.NullTime
	err := p.db.QueryRowContext(ctx, `
		SELECT last_synced_at, last_attempt_at, last_error
		FROM subscription_sync_state WHERE tenant_id = $1`, tenantID,
	).Scan(&synced, &st.LastAttemptAt, &st.LastError)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if synced.Valid {
		st.LastSyncedAt = &synced.Time
	}
	return st, nil
}

func (p *PostgresStore) SaveSyncState(ctx context.Context, st *SyncState) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO subscription_sync_state (tenant_id, last_synced_at, last_attempt_at, last_error)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant_id) DO UPDATE SET
			last_synced_at = EXCLUDED.last_synced_at,
			last_attempt_at = EXCLUDED.last_attempt_at,
			last_error = EXCLUDED.last_error`,
		st.TenantID, st.LastSyncedAt, st.LastAttemptAt, st.LastError,
	)
	return err
}

func (p *PostgresStore) query(ctx context.Context, query string, args ...any) ([]*Subscription, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Subscription
	for rows.Next() {
		s, err := scanSub(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSub(row scanner) (*Subscription, error) {
	s := &Subscription{}
	var (
		status, plan, interval string
		trialEnd, cancelAt     sql.NullTime
	)
	err := row.Scan(&s.ID, &s.TenantID, &s.ExternalID, &s.CustomerID, &status, &plan, &s.PriceID, &s.ProductID,
		&s.ProductName, &s.Amount, &s.Currency, &interval, &s.CurrentPeriodStart, &s.CurrentPeriodEnd,
		&trialEnd, &cancelAt, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, err
	}
	s.Status = Status(status)
	s.Plan = entitlement.Plan(plan)
	s.Interval = Interval(interval)
	if trialEnd.Valid {
		s.TrialEnd = &trialEnd.Time
	}
	if cancelAt.Valid {
		s.CancelAt = &cancelAt.Time
	}
	return s, nil
}

var _ Store = (*PostgresStore)(nil)
