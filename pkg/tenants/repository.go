// Package tenants implements the Tenant Counter (C3): the per-tenant
// concurrent-call budget, enforced with a conditional SQL update so the
// check and the increment happen as one atomic statement.
package tenants

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/voicegate/callgate/pkg/models"
)

// ErrNotFound is returned when a tenant_id has no subscription row.
var ErrNotFound = errors.New("tenants: subscription not found")

// Repository is the interface the Admission Controller (C4) depends on.
type Repository interface {
	// GetByID loads a tenant's subscription row.
	GetByID(ctx context.Context, tenantID int64) (*models.TenantSubscription, error)

	// ConditionalIncrement increments active_calls by one iff doing so would
	// not exceed the tenant's effective limit. It reports how many rows were
	// modified: 1 on success, 0 when the tenant is already at its limit or
	// does not exist. The check and the increment happen in one statement,
	// so two concurrent callers can never both observe room and both commit
	// (spec §4.3: "a read-then-write here is a race; it must be a single
	// conditional update").
	ConditionalIncrement(ctx context.Context, tenantID int64) (rowsModified int, err error)

	// Decrement decrements active_calls by one, floored at zero.
	Decrement(ctx context.Context, tenantID int64) error
}

// PostgresRepository is the Repository implementation backed by Postgres.
type PostgresRepository struct {
	db *sqlx.DB
}

// NewPostgresRepository wraps an existing *sqlx.DB. Callers own its
// lifecycle.
func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

var _ Repository = (*PostgresRepository)(nil)

func (r *PostgresRepository) GetByID(ctx context.Context, tenantID int64) (*models.TenantSubscription, error) {
	const query = `
		SELECT tenant_id, plan, status, concurrent_limit, active_calls
		FROM tenant_subscriptions
		WHERE tenant_id = $1
	`
	var sub models.TenantSubscription
	if err := r.db.GetContext(ctx, &sub, query, tenantID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("tenants: get %d: %w", tenantID, err)
	}
	return &sub, nil
}

// ConditionalIncrement uses the plan default as a fallback limit directly in
// the WHERE clause so that the comparison and the write are expressed in a
// single conditional UPDATE — no separate SELECT precedes it.
func (r *PostgresRepository) ConditionalIncrement(ctx context.Context, tenantID int64) (int, error) {
	const query = `
		UPDATE tenant_subscriptions
		SET active_calls = active_calls + 1
		WHERE tenant_id = $1
		  AND active_calls < COALESCE(concurrent_limit, plan_default_limit(plan))
	`
	res, err := r.db.ExecContext(ctx, query, tenantID)
	if err != nil {
		return 0, fmt.Errorf("tenants: conditional increment %d: %w", tenantID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("tenants: rows affected %d: %w", tenantID, err)
	}
	return int(n), nil
}

func (r *PostgresRepository) Decrement(ctx context.Context, tenantID int64) error {
	const query = `
		UPDATE tenant_subscriptions
		SET active_calls = GREATEST(active_calls - 1, 0)
		WHERE tenant_id = $1
	`
	if _, err := r.db.ExecContext(ctx, query, tenantID); err != nil {
		return fmt.Errorf("tenants: decrement %d: %w", tenantID, err)
	}
	return nil
}
