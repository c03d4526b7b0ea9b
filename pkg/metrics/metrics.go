// Package metrics defines the Prometheus metrics exported for operational
// visibility into admission decisions and reconciliation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Provider429Total counts how often the upstream voice-agent provider
// itself rejected a call with 429, independent of this controller's own
// admission decisions (spec §9: distinguishing provider-side throttling
// from platform-side admission refusal).
var Provider429Total = promauto.NewCounter(prometheus.CounterOpts{
	Name: "provider_429_total",
	Help: "Count of 429 responses received from the upstream voice-agent provider.",
})

// AdmissionAcquireTotal counts Acquire outcomes, labeled by result.
var AdmissionAcquireTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "admission_acquire_total",
	Help: "Count of Acquire calls by result (granted, an admission error code such as CAPACITY_EXCEEDED or TENANT_LIMIT_EXCEEDED, or internal_error).",
}, []string{"result"})

// AdmissionGlobalActive tracks the platform-wide concurrent call count as
// last observed by this pod.
var AdmissionGlobalActive = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "admission_global_active",
	Help: "Current number of concurrently active calls against the platform-wide cap.",
})

// ReconcileOrphansRecoveredTotal counts sessions recovered by the
// Reconciliation Worker's periodic sweep.
var ReconcileOrphansRecoveredTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "reconcile_orphans_recovered_total",
	Help: "Count of orphaned sessions recovered by the reconciliation sweep.",
})

// WebhookInboundDisabledTotal counts inbound call-started events refused
// because phone_inbound_enabled was off, tracked separately from ordinary
// admission refusals (spec §4.5: "a dedicated counter increment").
var WebhookInboundDisabledTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "webhook_inbound_disabled_total",
	Help: "Count of inbound call-started events refused because inbound calling is disabled.",
})
