package batchcall

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/voicegate/callgate/pkg/models"
)

// ErrNotFound is returned when a batch_call_id has no row.
var ErrNotFound = errors.New("batchcall: not found")

// PostgresRepository is the Repository implementation backed by Postgres.
// Recipients are stored in a child table keyed by batch_id; the aggregate
// counters on batch_calls are denormalized for cheap reads.
type PostgresRepository struct {
	db *sqlx.DB
}

// NewPostgresRepository wraps an existing *sqlx.DB.
func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

var _ Repository = (*PostgresRepository)(nil)

func (r *PostgresRepository) GetByID(ctx context.Context, batchID string) (*models.BatchCall, error) {
	var batch models.BatchCall
	const batchQuery = `
		SELECT batch_id, status, completed, failed, successful, created_at, completed_at
		FROM batch_calls WHERE batch_id = $1
	`
	if err := r.db.GetContext(ctx, &batch, batchQuery, batchID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("batchcall: get %s: %w", batchID, err)
	}

	const recipientsQuery = `
		SELECT recipient_id, external_phone_number, status, call_log_id, updated_at
		FROM batch_recipients WHERE batch_id = $1
	`
	if err := r.db.SelectContext(ctx, &batch.Recipients, recipientsQuery, batchID); err != nil {
		return nil, fmt.Errorf("batchcall: get recipients for %s: %w", batchID, err)
	}
	return &batch, nil
}

func (r *PostgresRepository) FindPendingRecipientByPhone(ctx context.Context, phone string, since time.Time) (string, string, error) {
	const query = `
		SELECT batch_id, recipient_id
		FROM batch_recipients
		WHERE external_phone_number = $1
		  AND status IN ($2, $3)
		  AND updated_at >= $4
		ORDER BY updated_at DESC
		LIMIT 1
	`
	var row struct {
		BatchID     string `db:"batch_id"`
		RecipientID string `db:"recipient_id"`
	}
	err := r.db.GetContext(ctx, &row, query, phone, models.RecipientPending, models.RecipientInProgress, since)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", "", nil
		}
		return "", "", fmt.Errorf("batchcall: find pending recipient by phone %s: %w", phone, err)
	}
	return row.BatchID, row.RecipientID, nil
}

func (r *PostgresRepository) UpdateRecipient(ctx context.Context, batchID string, recipient models.BatchRecipient) error {
	const query = `
		UPDATE batch_recipients
		SET status = $3, call_log_id = $4, updated_at = $5
		WHERE batch_id = $1 AND recipient_id = $2
	`
	_, err := r.db.ExecContext(ctx, query, batchID, recipient.RecipientID, recipient.Status, recipient.CallLogID, recipient.UpdatedAt)
	if err != nil {
		return fmt.Errorf("batchcall: update recipient %s: %w", recipient.RecipientID, err)
	}
	return nil
}

func (r *PostgresRepository) SaveAggregate(ctx context.Context, batch models.BatchCall) error {
	const query = `
		UPDATE batch_calls
		SET status = $2, completed = $3, failed = $4, successful = $5, completed_at = $6
		WHERE batch_id = $1
	`
	_, err := r.db.ExecContext(ctx, query, batch.BatchID, batch.Status, batch.Completed, batch.Failed, batch.Successful, batch.CompletedAt)
	if err != nil {
		return fmt.Errorf("batchcall: save aggregate %s: %w", batch.BatchID, err)
	}
	return nil
}
