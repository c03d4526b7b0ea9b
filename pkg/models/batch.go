package models

import "time"

// BatchStatus is the aggregate lifecycle state of a batch call campaign.
type BatchStatus string

// Batch call statuses (spec §3).
const (
	BatchPending    BatchStatus = "PENDING"
	BatchInProgress BatchStatus = "IN_PROGRESS"
	BatchCompleted  BatchStatus = "COMPLETED"
)

// RecipientStatus mirrors a single batch recipient's call progress.
type RecipientStatus string

// Recipient statuses (spec §3, §4.7).
const (
	RecipientPending    RecipientStatus = "pending"
	RecipientInProgress RecipientStatus = "in_progress"
	RecipientCompleted  RecipientStatus = "completed"
	RecipientFailed     RecipientStatus = "failed"
)

// BatchRecipient is one call target within a batch campaign.
type BatchRecipient struct {
	RecipientID        string          `db:"recipient_id" json:"recipient_id"`
	ExternalPhone       string          `db:"external_phone_number" json:"external_phone_number"`
	Status             RecipientStatus `db:"status" json:"status"`
	CallLogID          string          `db:"call_log_id" json:"call_log_id,omitempty"`
	UpdatedAt          time.Time       `db:"updated_at" json:"updated_at"`
}

// BatchCall is a campaign of outbound recipients tracked as one aggregate
// (C7).
type BatchCall struct {
	BatchID     string            `db:"batch_id" json:"batch_id"`
	Status      BatchStatus       `db:"status" json:"status"`
	Recipients  []BatchRecipient  `db:"recipients" json:"recipients"`
	Completed   int               `db:"completed" json:"completed"`
	Failed      int               `db:"failed" json:"failed"`
	Successful  int               `db:"successful" json:"successful"`
	CreatedAt   time.Time         `db:"created_at" json:"created_at"`
	CompletedAt *time.Time        `db:"completed_at" json:"completed_at,omitempty"`
}

// Recompute recalculates the aggregate counters and terminal status from the
// current recipient list (spec §3 invariant: completed+failed <= len(recipients);
// status = COMPLETED iff completed+failed = len(recipients)).
func (b *BatchCall) Recompute(now time.Time) {
	completed, failed, successful := 0, 0, 0
	for _, r := range b.Recipients {
		switch r.Status {
		case RecipientCompleted:
			completed++
			successful++
		case RecipientFailed:
			failed++
		}
	}
	b.Completed = completed
	b.Failed = failed
	b.Successful = successful

	switch {
	case len(b.Recipients) > 0 && completed+failed == len(b.Recipients):
		if b.Status != BatchCompleted {
			b.Status = BatchCompleted
			b.CompletedAt = &now
		}
	case completed+failed > 0:
		b.Status = BatchInProgress
	default:
		b.Status = BatchPending
	}
}
