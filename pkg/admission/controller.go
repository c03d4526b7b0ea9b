// Package admission implements the Admission Controller (C4): the
// orchestration that ties the Global Capacity Store, Tenant Counter, and
// Session Registry into the two-tier Acquire/Release decision described in
// spec §4.3.
package admission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/voicegate/callgate/pkg/capacity"
	"github.com/voicegate/callgate/pkg/metrics"
	"github.com/voicegate/callgate/pkg/models"
	"github.com/voicegate/callgate/pkg/sessions"
	"github.com/voicegate/callgate/pkg/tenants"
)

// TenantLookup resolves a tenant's subscription. Narrowed from
// tenants.Repository so the controller does not depend on the increment
// method twice.
type TenantLookup interface {
	GetByID(ctx context.Context, tenantID int64) (*models.TenantSubscription, error)
	ConditionalIncrement(ctx context.Context, tenantID int64) (int, error)
	Decrement(ctx context.Context, tenantID int64) error
}

// SessionStore is the session persistence surface the controller depends on.
type SessionStore interface {
	Create(ctx context.Context, session models.Session) error
	MarkEnded(ctx context.Context, callID string, status models.SessionStatus, reason string) error
}

// Controller implements the Acquire/Release admission algorithm.
type Controller struct {
	global      capacity.Store
	tenant      TenantLookup
	session     SessionStore
	podID       string
	globalLimit int
	clock       func() time.Time
	logger      *slog.Logger
}

// New builds a Controller. podID identifies the process for session
// attribution (spec §9: "each admitted call records which pod is holding
// it"). globalLimit is the platform-wide ceiling (spec §3: a fixed hard
// cap, GLOBAL_CAP from configuration).
func New(global capacity.Store, tenant TenantLookup, session SessionStore, podID string, globalLimit int, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		global:      global,
		tenant:      tenant,
		session:     session,
		podID:       podID,
		globalLimit: globalLimit,
		clock:       time.Now,
		logger:      logger,
	}
}

// AcquireRequest is the input to Acquire.
type AcquireRequest struct {
	TenantID  int64
	Plan      models.Plan
	Direction models.Direction
	// CallID, if set, makes Acquire idempotent under retry (spec §4.3: "a
	// caller that already has a call_id must replay, not re-mint"). If
	// empty, the controller mints one.
	CallID   string
	Metadata map[string]any
}

// AcquireResponse is the successful outcome of Acquire.
type AcquireResponse struct {
	CallID  string
	Current int
	Limit   int
}

// Acquire runs the two-tier admission check: platform-wide capacity first,
// then the tenant's own budget, persisting a session row only once both
// have granted a slot. Any failure after the first successful reservation
// is rolled back so no counter is left incremented for a call that was
// never admitted (spec §4.3 steps 1-5).
func (c *Controller) Acquire(ctx context.Context, req AcquireRequest) (resp *AcquireResponse, err error) {
	defer func() { metrics.AdmissionAcquireTotal.WithLabelValues(acquireResultLabel(resp, err)).Inc() }()

	sub, err := c.tenant.GetByID(ctx, req.TenantID)
	if err != nil {
		if errors.Is(err, tenants.ErrNotFound) {
			return nil, &Error{Code: ErrCodeTenantNotFound}
		}
		return nil, fmt.Errorf("admission: load tenant %d: %w", req.TenantID, err)
	}
	if !sub.Status.Admits() {
		return nil, &Error{Code: ErrCodeSubscriptionInactive}
	}

	limit := sub.EffectiveLimit()
	if limit <= 0 {
		return nil, NewCapacityError(ErrCodeTenantLimitExceeded, sub.ActiveCalls, 0)
	}

	callID := req.CallID
	if callID == "" {
		callID = mintCallID(c.clock(), req.TenantID)
	}
	plan := req.Plan
	if plan == "" {
		plan = sub.Plan
	}

	checkRes, err := c.global.CheckCapacity(ctx, c.globalLimit)
	if err != nil {
		return nil, fmt.Errorf("admission: check global capacity: %w", err)
	}
	if !checkRes.Available {
		return nil, NewCapacityError(ErrCodeCapacityExceeded, checkRes.Current, c.globalLimit)
	}

	globalRes, err := c.global.AcquireSlot(ctx, callID, c.globalLimit)
	if err != nil {
		return nil, fmt.Errorf("admission: acquire global slot: %w", err)
	}
	if !globalRes.Success {
		return nil, NewCapacityError(ErrCodeCapacityExceeded, globalRes.Current, c.globalLimit)
	}
	if globalRes.Idempotent {
		// A retry of a call_id this controller already admitted: the global
		// slot was already held (scripts.go does not re-increment), so the
		// tenant counter and session row from the original Acquire are still
		// correct as-is. Touching either here would double-count or stomp a
		// still-active session (spec §8.4).
		return &AcquireResponse{CallID: callID, Current: globalRes.Current, Limit: c.globalLimit}, nil
	}

	tenantRows, err := c.tenant.ConditionalIncrement(ctx, req.TenantID)
	if err != nil {
		c.rollbackGlobal(ctx, callID)
		return nil, fmt.Errorf("admission: tenant increment %d: %w", req.TenantID, err)
	}
	if tenantRows == 0 {
		c.rollbackGlobal(ctx, callID)
		return nil, NewCapacityError(ErrCodeTenantLimitExceeded, sub.ActiveCalls, limit)
	}

	session := models.Session{
		CallID:    callID,
		TenantID:  req.TenantID,
		Plan:      plan,
		Direction: req.Direction,
		Status:    models.SessionActive,
		PodID:     c.podID,
		StartedAt: c.clock(),
		Metadata:  req.Metadata,
	}
	if err := c.session.Create(ctx, session); err != nil {
		if errors.Is(err, sessions.ErrDuplicateCallID) {
			// Two concurrent first-time Acquires raced on the same caller-
			// supplied call_id and both reached AcquireSlot before either
			// wrote a session row (globalRes.Idempotent was false for both).
			// The other caller's session row wins; undo the increments this
			// call just performed and return success.
			c.rollbackGlobal(ctx, callID)
			c.rollbackTenant(ctx, req.TenantID)
			return &AcquireResponse{CallID: callID, Current: globalRes.Current, Limit: c.globalLimit}, nil
		}
		c.rollbackGlobal(ctx, callID)
		c.rollbackTenant(ctx, req.TenantID)
		return nil, fmt.Errorf("admission: persist session %s: %w", callID, err)
	}

	metrics.AdmissionGlobalActive.Set(float64(globalRes.Current))
	return &AcquireResponse{CallID: callID, Current: globalRes.Current, Limit: c.globalLimit}, nil
}

// Release reverses a prior Acquire. It is idempotent: releasing a call_id
// that is already released, or was never acquired, succeeds without error
// (spec §4.3: "Release must be safe to call more than once").
func (c *Controller) Release(ctx context.Context, tenantID int64, callID, reason string) error {
	if err := c.tenant.Decrement(ctx, tenantID); err != nil {
		c.logger.Error("admission: tenant decrement failed during release", "call_id", callID, "tenant_id", tenantID, "error", err)
	}
	if relRes, err := c.global.ReleaseSlot(ctx, callID); err != nil {
		c.logger.Error("admission: global release failed", "call_id", callID, "error", err)
	} else {
		metrics.AdmissionGlobalActive.Set(float64(relRes.Current))
	}
	if err := c.session.MarkEnded(ctx, callID, models.SessionEnded, reason); err != nil {
		return fmt.Errorf("admission: mark ended %s: %w", callID, err)
	}
	return nil
}

// acquireResultLabel maps an Acquire outcome to the admission_acquire_total
// result label (spec §9 observability).
func acquireResultLabel(resp *AcquireResponse, err error) string {
	if err == nil && resp != nil {
		return "granted"
	}
	var admErr *Error
	if errors.As(err, &admErr) {
		return string(admErr.Code)
	}
	return "internal_error"
}

func (c *Controller) rollbackTenant(ctx context.Context, tenantID int64) {
	if err := c.tenant.Decrement(ctx, tenantID); err != nil {
		c.logger.Error("admission: rollback tenant decrement failed", "tenant_id", tenantID, "error", err)
	}
}

func (c *Controller) rollbackGlobal(ctx context.Context, callID string) {
	if _, err := c.global.ReleaseSlot(ctx, callID); err != nil {
		c.logger.Error("admission: rollback global release failed", "call_id", callID, "error", err)
	}
}

func mintCallID(t time.Time, tenantID int64) string {
	return fmt.Sprintf("call_%d_%d", t.UnixMilli(), tenantID)
}
