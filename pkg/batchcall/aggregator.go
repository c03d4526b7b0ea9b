// Package batchcall implements the Batch Call Aggregator (C7): tracking
// per-recipient outcomes within a batch campaign and rolling them up into
// campaign-level status (spec §3, §4.7).
package batchcall

import (
	"context"
	"fmt"
	"time"

	"github.com/voicegate/callgate/pkg/models"
)

// matchWindow bounds how far back a phone-number fallback match may reach
// when a webhook event arrives without a direct batch_call_id/recipient_id
// pairing (spec §4.7: "match by phone number within a 24 hour window").
const matchWindow = 24 * time.Hour

// Repository is the persistence surface for batch campaigns.
type Repository interface {
	GetByID(ctx context.Context, batchID string) (*models.BatchCall, error)
	FindPendingRecipientByPhone(ctx context.Context, phone string, since time.Time) (batchID, recipientID string, err error)
	UpdateRecipient(ctx context.Context, batchID string, recipient models.BatchRecipient) error
	SaveAggregate(ctx context.Context, batch models.BatchCall) error
}

// Aggregator updates batch campaign state as call-started/call-ended
// webhook events arrive.
type Aggregator struct {
	repo  Repository
	clock func() time.Time
}

// NewAggregator builds an Aggregator.
func NewAggregator(repo Repository) *Aggregator {
	return &Aggregator{repo: repo, clock: time.Now}
}

// RecordOutcome updates the named recipient's status from a call-ended
// event and recomputes the campaign's aggregate counters. When batchID or
// recipientID is empty, it falls back to matching by phone number among
// pending/in-progress recipients within matchWindow (spec §4.7).
func (a *Aggregator) RecordOutcome(ctx context.Context, batchID, recipientID, phone, callLogID, endReason string) error {
	if batchID == "" || recipientID == "" {
		matchedBatch, matchedRecipient, err := a.repo.FindPendingRecipientByPhone(ctx, phone, a.clock().Add(-matchWindow))
		if err != nil {
			return fmt.Errorf("batchcall: phone fallback match for %s: %w", phone, err)
		}
		batchID, recipientID = matchedBatch, matchedRecipient
	}
	if batchID == "" || recipientID == "" {
		return fmt.Errorf("batchcall: no recipient could be matched for phone %s", phone)
	}

	status := models.RecipientCompleted
	if endReason == "failed" || endReason == "no_answer" || endReason == "busy" {
		status = models.RecipientFailed
	}

	recipient := models.BatchRecipient{
		RecipientID:   recipientID,
		ExternalPhone: phone,
		Status:        status,
		CallLogID:     callLogID,
		UpdatedAt:     a.clock(),
	}
	if err := a.repo.UpdateRecipient(ctx, batchID, recipient); err != nil {
		return fmt.Errorf("batchcall: update recipient %s in batch %s: %w", recipientID, batchID, err)
	}

	batch, err := a.repo.GetByID(ctx, batchID)
	if err != nil {
		return fmt.Errorf("batchcall: load batch %s: %w", batchID, err)
	}
	batch.Recompute(a.clock())
	if err := a.repo.SaveAggregate(ctx, *batch); err != nil {
		return fmt.Errorf("batchcall: save aggregate for batch %s: %w", batchID, err)
	}
	return nil
}
