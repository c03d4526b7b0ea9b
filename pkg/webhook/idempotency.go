package webhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"

	"github.com/voicegate/callgate/pkg/models"
)

const pqUniqueViolation = "23505"

// IdempotencyStore records which provider events have already been
// processed, keyed by (tenant_id, event_type, external_event_id) (spec §6).
type IdempotencyStore interface {
	// MarkProcessed records the event as processed. It returns
	// (false, nil) without error if the event was already recorded — the
	// caller's cue to skip reprocessing rather than treat it as a failure.
	MarkProcessed(ctx context.Context, tenantID int64, eventType models.WebhookEventType, externalEventID string) (firstTime bool, err error)
}

// PostgresIdempotencyStore is the IdempotencyStore backed by Postgres's
// unique constraint, relying on the same single-statement insert pattern as
// the Tenant Counter's conditional update: the uniqueness check and the
// write happen atomically, so two concurrent deliveries of the same event
// can never both be treated as first-time.
type PostgresIdempotencyStore struct {
	db *sqlx.DB
}

// NewPostgresIdempotencyStore wraps an existing *sqlx.DB.
func NewPostgresIdempotencyStore(db *sqlx.DB) *PostgresIdempotencyStore {
	return &PostgresIdempotencyStore{db: db}
}

var _ IdempotencyStore = (*PostgresIdempotencyStore)(nil)

func (s *PostgresIdempotencyStore) MarkProcessed(ctx context.Context, tenantID int64, eventType models.WebhookEventType, externalEventID string) (bool, error) {
	const query = `
		INSERT INTO webhook_events (tenant_id, event_type, external_event_id, processed_at)
		VALUES ($1, $2, $3, $4)
	`
	_, err := s.db.ExecContext(ctx, query, tenantID, eventType, externalEventID, time.Now())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pqUniqueViolation {
			return false, nil
		}
		return false, fmt.Errorf("webhook: mark processed: %w", err)
	}
	return true, nil
}
