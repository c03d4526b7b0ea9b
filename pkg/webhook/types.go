// Package webhook implements the provider webhook ingestion path (C5):
// signature verification, idempotent event dedupe, and dispatch to the
// Admission Controller and Batch Call Aggregator.
package webhook

import "github.com/voicegate/callgate/pkg/models"

// Payload is the common envelope every provider webhook event carries,
// regardless of event type (spec §4.5, §6).
type Payload struct {
	EventType       models.WebhookEventType `json:"event_type" validate:"required"`
	ExternalEventID string                  `json:"event_id" validate:"required"`
	TenantID        int64                   `json:"tenant_id" validate:"required"`
	CallID          string                  `json:"call_id"`
	Direction       models.Direction        `json:"direction"`
	// AssistantConfigured reports whether the called number resolves to an
	// assistant at all; AssistantActive reports whether that assistant is
	// currently enabled. The two are distinct refusal reasons (spec §4.5,
	// §6: NO_INBOUND_ASSISTANT vs INBOUND_ASSISTANT_INACTIVE).
	AssistantConfigured bool `json:"assistant_configured"`
	AssistantActive     bool `json:"assistant_active"`
	ExternalPhone   string                  `json:"external_phone_number"`
	BatchCallID     string                  `json:"batch_call_id,omitempty"`
	RecipientID     string                  `json:"recipient_id,omitempty"`
	EndReason       string                  `json:"end_reason,omitempty"`
}

// Decision is what the processor decided to do with an inbound event, used
// to build the HTTP response (spec §6 response shapes).
type Decision struct {
	Admitted    bool
	Code        string
	Current     int
	Limit       int
	RetryAfterMs int
	Duplicate   bool
}
