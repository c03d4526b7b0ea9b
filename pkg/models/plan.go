// Package models defines the domain types shared by every component of the
// admission controller: sessions, tenant subscriptions, webhook events, and
// batch calls.
package models

// Plan identifies a tenant's subscription tier.
type Plan string

// Supported subscription plans.
const (
	PlanPAYG       Plan = "PAYG"
	PlanSTARTER    Plan = "STARTER"
	PlanPRO        Plan = "PRO"
	PlanENTERPRISE Plan = "ENTERPRISE"
)

// defaultPlanLimits maps a plan to its default per-tenant concurrent-call
// limit. ENTERPRISE tenants commonly carry a per-tenant override instead.
var defaultPlanLimits = map[Plan]int{
	PlanPAYG:       1,
	PlanSTARTER:    1,
	PlanPRO:        3,
	PlanENTERPRISE: 10,
}

// DefaultLimit returns the plan's default concurrent-call limit, or 0 if the
// plan is unrecognized. The Admission Controller refuses every call for a
// zero limit with TENANT_LIMIT_EXCEEDED; there is no separate
// CONCURRENT_CALLS_DISABLED code.
func DefaultLimit(p Plan) int {
	return defaultPlanLimits[p]
}

// EffectiveLimit returns the limit that actually governs a tenant: the
// per-tenant override when present, otherwise the plan default.
func EffectiveLimit(p Plan, override *int) int {
	if override != nil {
		return *override
	}
	return DefaultLimit(p)
}

// SubscriptionStatus is the tenant subscription's lifecycle state.
type SubscriptionStatus string

// Subscription statuses that admit new calls.
const (
	SubscriptionActive  SubscriptionStatus = "ACTIVE"
	SubscriptionTrial   SubscriptionStatus = "TRIAL"
	SubscriptionPastDue SubscriptionStatus = "PAST_DUE"
	SubscriptionClosed  SubscriptionStatus = "CLOSED"
)

// Admits reports whether calls may be admitted for a subscription in this
// status. Only ACTIVE and TRIAL subscriptions admit new calls (spec §4.4.1).
func (s SubscriptionStatus) Admits() bool {
	return s == SubscriptionActive || s == SubscriptionTrial
}
