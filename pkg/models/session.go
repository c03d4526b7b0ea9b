package models

import "time"

// Direction is the call's origination direction.
type Direction string

// Supported call directions.
const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// SessionStatus is the terminal-or-not state of a call attempt admitted by
// the controller. Active is the only non-terminal status.
type SessionStatus string

// Session lifecycle states (spec §3, §4.4).
const (
	SessionActive               SessionStatus = "active"
	SessionEnded                SessionStatus = "ended"
	SessionTerminatedCapacity   SessionStatus = "terminated_capacity"
	SessionTerminatedDisabled   SessionStatus = "terminated_disabled"
)

// Terminal reports whether status is one from which no further transition
// is permitted (spec §4.4 state machine).
func (s SessionStatus) Terminal() bool {
	return s != SessionActive
}

// Session is one row per call attempt admitted by the controller — the
// Session Registry's (C2) unit of record.
type Session struct {
	CallID      string         `db:"call_id" json:"call_id"`
	TenantID    int64          `db:"tenant_id" json:"tenant_id"`
	Plan        Plan           `db:"plan" json:"plan"`
	Direction   Direction      `db:"direction" json:"direction"`
	Status      SessionStatus  `db:"status" json:"status"`
	PodID       string         `db:"pod_id" json:"pod_id,omitempty"`
	StartedAt   time.Time      `db:"started_at" json:"started_at"`
	EndedAt     *time.Time     `db:"ended_at" json:"ended_at,omitempty"`
	EndReason   string         `db:"end_reason" json:"end_reason,omitempty"`
	Metadata    map[string]any `db:"metadata" json:"metadata,omitempty"`
}

// TenantSubscription is the per-tenant row (C3) that bounds a tenant's
// concurrent-call budget.
type TenantSubscription struct {
	TenantID        int64              `db:"tenant_id" json:"tenant_id"`
	Plan            Plan               `db:"plan" json:"plan"`
	Status          SubscriptionStatus `db:"status" json:"status"`
	ConcurrentLimit *int               `db:"concurrent_limit" json:"concurrent_limit,omitempty"`
	ActiveCalls     int                `db:"active_calls" json:"active_calls"`
}

// EffectiveLimit returns the limit governing this tenant right now.
func (t TenantSubscription) EffectiveLimit() int {
	return EffectiveLimit(t.Plan, t.ConcurrentLimit)
}
