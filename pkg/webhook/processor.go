package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/voicegate/callgate/pkg/admission"
	"github.com/voicegate/callgate/pkg/metrics"
	"github.com/voicegate/callgate/pkg/models"
)

var payloadValidator = validator.New()

// InboundGate reports whether the platform currently accepts inbound calls
// at all. The per-tenant assistant checks come from the payload
// (AssistantConfigured, AssistantActive); the gate and both checks must pass
// before an inbound call-started event reaches the Admission Controller
// (spec §6).
type InboundGate interface {
	InboundEnabled() bool
}

// AdmissionGate is the subset of admission.Controller the processor
// depends on, narrowed to an interface so tests can substitute a fake.
type AdmissionGate interface {
	Acquire(ctx context.Context, req admission.AcquireRequest) (*admission.AcquireResponse, error)
	Release(ctx context.Context, tenantID int64, callID, reason string) error
}

// BatchOutcomeRecorder is the subset of batchcall.Aggregator the processor
// depends on.
type BatchOutcomeRecorder interface {
	RecordOutcome(ctx context.Context, batchID, recipientID, phone, callLogID, endReason string) error
}

// SessionStore is the narrow persistence surface the processor needs
// directly, for call attempts that never hold a slot: terminated_disabled
// rows (refused before the Admission Controller is consulted) and
// terminated_capacity rows (refused by it) (spec §4.5).
type SessionStore interface {
	Create(ctx context.Context, session models.Session) error
}

// Processor dispatches verified, deduped webhook events to the Admission
// Controller and Batch Call Aggregator.
type Processor struct {
	verifier    *Verifier
	idempotency IdempotencyStore
	admission   AdmissionGate
	batch       BatchOutcomeRecorder
	gate        InboundGate
	session     SessionStore
	logger      *slog.Logger
	clock       func() time.Time
}

// NewProcessor builds a Processor.
func NewProcessor(verifier *Verifier, idempotency IdempotencyStore, ctrl AdmissionGate, batch BatchOutcomeRecorder, gate InboundGate, session SessionStore, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		verifier:    verifier,
		idempotency: idempotency,
		admission:   ctrl,
		batch:       batch,
		gate:        gate,
		session:     session,
		logger:      logger,
		clock:       time.Now,
	}
}

// Process verifies, dedupes, and dispatches one webhook delivery. The
// caller is responsible for mapping the returned Decision to the provider's
// expected HTTP response shape (spec §6).
func (p *Processor) Process(ctx context.Context, timestamp, signature string, rawBody []byte, payload Payload) (Decision, error) {
	deliveryID := uuid.New().String()
	logger := p.logger.With("delivery_id", deliveryID, "tenant_id", payload.TenantID, "event_type", payload.EventType)

	if err := p.verifier.Verify(timestamp, signature, rawBody); err != nil {
		logger.Warn("webhook: signature verification failed", "error", err)
		return Decision{}, err
	}

	if err := payloadValidator.Struct(payload); err != nil {
		return Decision{}, fmt.Errorf("webhook: malformed payload: %w", err)
	}

	firstTime, err := p.idempotency.MarkProcessed(ctx, payload.TenantID, payload.EventType, payload.ExternalEventID)
	if err != nil {
		return Decision{}, fmt.Errorf("webhook: idempotency check: %w", err)
	}
	if !firstTime {
		logger.Info("webhook: duplicate event ignored", "event_id", payload.ExternalEventID)
		return Decision{Admitted: true, Duplicate: true}, nil
	}

	switch payload.EventType {
	case models.EventCallStarted:
		return p.handleCallStarted(ctx, payload)
	case models.EventCallEnded:
		return p.handleCallEnded(ctx, payload)
	case models.EventPostCallTranscript:
		return p.handlePostCallTranscript(ctx, payload)
	default:
		return Decision{}, fmt.Errorf("webhook: unrecognized event type %q", payload.EventType)
	}
}

func (p *Processor) handleCallStarted(ctx context.Context, payload Payload) (Decision, error) {
	if payload.Direction == models.DirectionInbound {
		if !p.gate.InboundEnabled() {
			p.persistTerminated(ctx, payload, models.SessionTerminatedDisabled, "phone_inbound_disabled")
			metrics.WebhookInboundDisabledTotal.Inc()
			return Decision{Code: "PHONE_INBOUND_DISABLED"}, nil
		}
		if !payload.AssistantConfigured {
			return Decision{Code: "NO_INBOUND_ASSISTANT"}, nil
		}
		if !payload.AssistantActive {
			return Decision{Code: "INBOUND_ASSISTANT_INACTIVE"}, nil
		}
	}

	resp, err := p.admission.Acquire(ctx, admission.AcquireRequest{
		TenantID:  payload.TenantID,
		Direction: payload.Direction,
		CallID:    payload.CallID,
	})
	if err != nil {
		var admErr *admission.Error
		if errors.As(err, &admErr) {
			if admErr.Code == admission.ErrCodeCapacityExceeded || admErr.Code == admission.ErrCodeTenantLimitExceeded {
				p.persistTerminated(ctx, payload, models.SessionTerminatedCapacity, string(admErr.Code))
			}
			return Decision{
				Code:         string(admErr.Code),
				Current:      admErr.Current,
				Limit:        admErr.Limit,
				RetryAfterMs: admErr.RetryAfterMs,
			}, nil
		}
		return Decision{}, fmt.Errorf("webhook: admission acquire: %w", err)
	}

	return Decision{Admitted: true, Current: resp.Current, Limit: resp.Limit}, nil
}

// persistTerminated records a call attempt that was refused before (or
// without) ever holding a slot, so the tenant has a durable record of it
// without polluting either counter (spec §4.5: "persist a terminated_*
// session so the global counter is not polluted"). A payload with no
// call_id has nothing to key a row on and is skipped.
func (p *Processor) persistTerminated(ctx context.Context, payload Payload, status models.SessionStatus, reason string) {
	if payload.CallID == "" {
		return
	}
	session := models.Session{
		CallID:    payload.CallID,
		TenantID:  payload.TenantID,
		Direction: payload.Direction,
		Status:    status,
		StartedAt: p.clock(),
		EndReason: reason,
	}
	if err := p.session.Create(ctx, session); err != nil {
		p.logger.Error("webhook: persist terminated session failed", "call_id", payload.CallID, "status", status, "error", err)
	}
}

func (p *Processor) handleCallEnded(ctx context.Context, payload Payload) (Decision, error) {
	if err := p.admission.Release(ctx, payload.TenantID, payload.CallID, payload.EndReason); err != nil {
		return Decision{}, fmt.Errorf("webhook: admission release: %w", err)
	}

	if payload.BatchCallID != "" {
		if err := p.batch.RecordOutcome(ctx, payload.BatchCallID, payload.RecipientID, payload.ExternalPhone, payload.CallID, payload.EndReason); err != nil {
			p.logger.Error("webhook: batch call outcome update failed", "batch_call_id", payload.BatchCallID, "error", err)
		}
	}

	return Decision{Admitted: true}, nil
}

func (p *Processor) handlePostCallTranscript(_ context.Context, payload Payload) (Decision, error) {
	// No admission-relevant state changes; transcripts are accepted and
	// acknowledged so the provider does not retry delivery.
	p.logger.Info("webhook: post-call transcript received", "tenant_id", payload.TenantID, "call_id", payload.CallID)
	return Decision{Admitted: true}, nil
}
