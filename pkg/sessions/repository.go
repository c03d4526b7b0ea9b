// Package sessions implements the Session Registry (C2): the durable
// record of every call attempt admitted by the controller, used for crash
// recovery and orphan detection.
package sessions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"

	"github.com/voicegate/callgate/pkg/models"
)

// ErrDuplicateCallID is returned when Create is called with a call_id that
// already exists (spec §4.2: call_id is unique).
var ErrDuplicateCallID = errors.New("sessions: duplicate call_id")

// ErrNotFound is returned when a call_id has no session row.
var ErrNotFound = errors.New("sessions: not found")

const pqUniqueViolation = "23505"

// Repository is the interface the Admission Controller (C4), Reconciliation
// Worker (C6), and Batch Call Aggregator (C7) depend on.
type Repository interface {
	// Create inserts a new session row with the session's own status and
	// end reason. It fails with ErrDuplicateCallID if call_id already
	// exists, which is how the Admission Controller detects two concurrent
	// first-time Acquires racing on the same call_id.
	Create(ctx context.Context, session models.Session) error

	// MarkEnded transitions a session to a terminal status. Idempotent: a
	// session already in a terminal status is left unchanged and reports no
	// error (spec §4.4: "ending a call twice must not error").
	MarkEnded(ctx context.Context, callID string, status models.SessionStatus, reason string) error

	// GetByID loads a single session row.
	GetByID(ctx context.Context, callID string) (*models.Session, error)

	// ListActive returns every session currently in SessionActive status,
	// optionally filtered to one tenant.
	ListActive(ctx context.Context, tenantID *int64) ([]models.Session, error)

	// ListOrphaned returns active sessions whose started_at predates
	// olderThan — candidates for the Reconciliation Worker's orphan sweep
	// (spec §4.6).
	ListOrphaned(ctx context.Context, olderThan time.Time) ([]models.Session, error)
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

func (r *PostgresRepository) Create(ctx context.Context, s models.Session) error {
	const query = `
		INSERT INTO sessions (call_id, tenant_id, plan, direction, status, pod_id, started_at, metadata, end_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.db.ExecContext(ctx, query,
		s.CallID, s.TenantID, s.Plan, s.Direction, s.Status, s.PodID, s.StartedAt, metadataJSON(s.Metadata), s.EndReason,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pqUniqueViolation {
			return ErrDuplicateCallID
		}
		return fmt.Errorf("sessions: create %s: %w", s.CallID, err)
	}
	return nil
}

func (r *PostgresRepository) MarkEnded(ctx context.Context, callID string, status models.SessionStatus, reason string) error {
	const query = `
		UPDATE sessions
		SET status = $2, end_reason = $3, ended_at = now()
		WHERE call_id = $1 AND status = $4
	`
	_, err := r.db.ExecContext(ctx, query, callID, status, reason, models.SessionActive)
	if err != nil {
		return fmt.Errorf("sessions: mark ended %s: %w", callID, err)
	}
	return nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, callID string) (*models.Session, error) {
	const query = `
		SELECT call_id, tenant_id, plan, direction, status, pod_id, started_at, ended_at, end_reason
		FROM sessions
		WHERE call_id = $1
	`
	var s models.Session
	if err := r.db.GetContext(ctx, &s, query, callID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("sessions: get %s: %w", callID, err)
	}
	return &s, nil
}

func (r *PostgresRepository) ListActive(ctx context.Context, tenantID *int64) ([]models.Session, error) {
	var (
		query string
		args  []interface{}
	)
	if tenantID != nil {
		query = `
			SELECT call_id, tenant_id, plan, direction, status, pod_id, started_at, ended_at, end_reason
			FROM sessions WHERE status = $1 AND tenant_id = $2
		`
		args = []interface{}{models.SessionActive, *tenantID}
	} else {
		query = `
			SELECT call_id, tenant_id, plan, direction, status, pod_id, started_at, ended_at, end_reason
			FROM sessions WHERE status = $1
		`
		args = []interface{}{models.SessionActive}
	}

	var out []models.Session
	if err := r.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("sessions: list active: %w", err)
	}
	return out, nil
}

func (r *PostgresRepository) ListOrphaned(ctx context.Context, olderThan time.Time) ([]models.Session, error) {
	const query = `
		SELECT call_id, tenant_id, plan, direction, status, pod_id, started_at, ended_at, end_reason
		FROM sessions
		WHERE status = $1 AND started_at < $2
	`
	var out []models.Session
	if err := r.db.SelectContext(ctx, &out, query, models.SessionActive, olderThan); err != nil {
		return nil, fmt.Errorf("sessions: list orphaned: %w", err)
	}
	return out, nil
}

func metadataJSON(m map[string]any) interface{} {
	if m == nil {
		return nil
	}
	return m
}
