package models

import "time"

// WebhookEventType identifies which lifecycle event a provider payload
// represents (spec §4.5).
type WebhookEventType string

// Supported webhook event types.
const (
	EventCallStarted        WebhookEventType = "call-started"
	EventCallEnded          WebhookEventType = "call-ended"
	EventPostCallTranscript WebhookEventType = "post-call-transcription"
)

// WebhookEvent is the idempotency record keyed by the provider's event id
// (spec §6: "Webhook idempotency is a table keyed by
// (tenant_id, event_type, external_event_id)").
type WebhookEvent struct {
	TenantID        int64            `db:"tenant_id" json:"tenant_id"`
	EventType       WebhookEventType `db:"event_type" json:"event_type"`
	ExternalEventID string           `db:"external_event_id" json:"external_event_id"`
	ProcessedAt     time.Time        `db:"processed_at" json:"processed_at"`
}
