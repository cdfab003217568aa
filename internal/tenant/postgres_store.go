package tenant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/carehub/platform/internal/auth"
	"github.com/carehub/platform/internal/entitlement"
)

// PostgresStore persists tenants and memberships in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed tenant store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const tenantColumns = `id, name, slug, plan, stripe_customer_id, status,
	suspension_reason, suspended_by, suspended_at, created_at, updated_at`

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func (p *PostgresStore) Create(ctx context.Context, t *Tenant) error {
	reason, by, at := suspensionColumns(t)
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO tenants (`+tenantColumns+`)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $9, $10, $11)`,
		t.ID, t.Name, t.Slug, string(t.Plan), t.StripeCustomerID, string(t.Status),
		reason, by, at, t.CreatedAt, t.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrSlugTaken
	}
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Tenant, error) {
	return scanTenant(p.db.QueryRowContext(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, id))
}

func (p *PostgresStore) GetBySlug(ctx context.Context, slug string) (*Tenant, error) {
	return scanTenant(p.db.QueryRowContext(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE slug = $1`, slug))
}

func (p *PostgresStore) GetByStripeCustomer(ctx context.Context, customerID string) (*Tenant, error) {
	return scanTenant(p.db.QueryRowContext(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE stripe_customer_id = $1`, customerID))
}

func (p *PostgresStore) Update(ctx context.Context, t *Tenant) error {
	reason, by, at := suspensionColumns(t)
	result, err := p.db.ExecContext(ctx, `
		UPDATE tenants SET name = $1, plan = $2, stripe_customer_id = NULLIF($3, ''), status = $4,
			suspension_reason = $5, suspended_by = $6, suspended_at = $7, updated_at = $8
		WHERE id = $9`,
		t.Name, string(t.Plan), t.StripeCustomerID, string(t.Status),
		reason, by, at, t.UpdatedAt, t.ID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrTenantNotFound
	}
	return nil
}

func (p *PostgresStore) List(ctx context.Context, q Query) ([]*Tenant, error) {
	var (
		where []string
		args  []any
	)
	if q.Status != "" {
		args = append(args, string(q.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if q.WithCustomer {
		where = append(where, "stripe_customer_id IS NOT NULL")
	}
	if q.Search != "" {
		args = append(args, q.Search)
		where = append(where, fmt.Sprintf("(name ILIKE '%%' || $%d || '%%' OR slug ILIKE '%%' || $%d || '%%')", len(args), len(args)))
	}
	query := `SELECT ` + tenantColumns + ` FROM tenants`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (p *PostgresStore) AddMember(ctx context.Context, m *Membership) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO memberships (tenant_id, user_id, role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)`,
		m.TenantID, m.UserID, string(m.Role), m.CreatedAt, m.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrAlreadyMember
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23503" {
		return ErrTenantNotFound
	}
	return err
}

func (p *PostgresStore) GetMember(ctx context.Context, tenantID, userID string) (*Membership, error) {
	return scanMembership(p.db.QueryRowContext(ctx, `
		SELECT tenant_id, user_id, role, created_at, updated_at
		FROM memberships WHERE tenant_id = $1 AND user_id = $2`, tenantID, userID))
}

func (p *PostgresStore) UpdateMember(ctx context.Context, m *Membership) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE memberships SET role = $1, updated_at = $2
		WHERE tenant_id = $3 AND user_id = $4`,
		string(m.Role), m.UpdatedAt, m.TenantID, m.UserID,
	)
	return affectedOrNotFound(res, err)
}

func (p *PostgresStore) RemoveMember(ctx context.Context, tenantID, userID string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM memberships WHERE tenant_id = $1 AND user_id = $2`, tenantID, userID)
	return affectedOrNotFound(res, err)
}

func (p *PostgresStore) ListMembers(ctx context.Context, tenantID string) ([]*Membership, error) {
	return p.queryMemberships(ctx, `
		SELECT tenant_id, user_id, role, created_at, updated_at
		FROM memberships WHERE tenant_id = $1
		ORDER BY created_at, user_id`, tenantID)
}

func (p *PostgresStore) CountMembers(ctx context.Context, tenantID string) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memberships WHERE tenant_id = $1`, tenantID).Scan(&n)
	return n, err
}

func (p *PostgresStore) MembershipsForUser(ctx context.Context, userID string) ([]*Membership, error) {
	return p.queryMemberships(ctx, `
		SELECT tenant_id, user_id, role, created_at, updated_at
		FROM memberships WHERE user_id = $1
		ORDER BY created_at, tenant_id`, userID)
}

func (p *PostgresStore) queryMemberships(ctx context.Context, query string, arg string) ([]*Membership, error) {
	rows, err := p.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTenant(row scanner) (*Tenant, error) {
	t := &Tenant{}
	var (
		plan, status     string
		stripeID, reason sql.NullString
		by               sql.NullString
		at               sql.NullTime
	)
	err := row.Scan(&t.ID, &t.Name, &t.Slug, &plan, &stripeID, &status,
		&reason, &by, &at, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTenantNotFound
	}
	if err != nil {
		return nil, err
	}
	t.Plan = entitlement.Plan(plan)
	t.Status = Status(status)
	t.StripeCustomerID = stripeID.String
	if at.Valid {
		t.Suspension = &Suspension{Reason: reason.String, ActorID: by.String, At: at.Time}
	}
	return t, nil
}

func scanMembership(row scanner) (*Membership, error) {
	m := &Membership{}
	var role string
	err := row.Scan(&m.TenantID, &m.UserID, &role, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMemberNotFound
	}
	if err != nil {
		return nil, err
	}
	m.Role = auth.Role(role)
	return m, nil
}

func suspensionColumns(t *Tenant) (reason, by sql.NullString, at sql.NullTime) {
	if t.Suspension == nil {
		return
	}
	return sql.NullString{String: t.Suspension.Reason, Valid: true},
		sql.NullString{String: t.Suspension.ActorID, Valid: true},
		sql.NullTime{Time: t.Suspension.At, Valid: true}
}

func affectedOrNotFound(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrMemberNotFound
	}
	return nil
}

var _ Store = (*PostgresStore)(nil)
