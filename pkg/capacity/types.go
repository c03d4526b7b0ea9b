// Package capacity implements the Global Capacity Store (C1): the
// platform-wide counter of concurrently active calls, shared across every
// pod, with a hard ceiling enforced atomically in Redis.
package capacity

import "context"

// CheckResult is an advisory read of the global counter, used before a
// tenant-level decision is made (spec §4.1).
type CheckResult struct {
	Available bool
	Current   int
	Limit     int
	Remaining int
}

// AcquireResult is the outcome of an atomic check-and-increment against the
// global counter.
type AcquireResult struct {
	// Success is false when the global cap was already saturated.
	Success bool
	// Current is the counter value after the attempt (post-increment on
	// success, unchanged on failure).
	Current int
	// Idempotent is true when call_id already held a slot and the script
	// short-circuited without incrementing again (spec §4.1: "Acquire and
	// Release are idempotent keyed by call_id").
	Idempotent bool
}

// ReleaseResult is the outcome of an atomic decrement-floored-at-zero.
type ReleaseResult struct {
	Success bool
	Current int
}

// GlobalStatus is a snapshot of the Global Capacity Store for operational
// visibility (spec §6 internal admin surface).
type GlobalStatus struct {
	Current   int      `json:"current"`
	Limit     int      `json:"limit"`
	Remaining int       `json:"remaining"`
	CallIDs   []string `json:"call_ids"`
}

// Store is the interface the Admission Controller (C4) and Reconciliation
// Worker (C6) depend on, so tests can substitute a fake without a real
// Redis server.
type Store interface {
	// CheckCapacity returns an advisory read of the current counter against
	// limit without mutating state.
	CheckCapacity(ctx context.Context, limit int) (CheckResult, error)

	// AcquireSlot atomically checks-and-increments the global counter,
	// recording callID as holding a slot. It is idempotent: a call already
	// holding a slot never double-increments.
	AcquireSlot(ctx context.Context, callID string, limit int) (AcquireResult, error)

	// ReleaseSlot atomically removes callID's slot and decrements the
	// counter, floored at zero. Releasing a call_id that holds no slot is a
	// no-op success (spec §4.1 idempotence law).
	ReleaseSlot(ctx context.Context, callID string) (ReleaseResult, error)

	// GlobalStatus returns a snapshot of the counter and the call_ids
	// presently holding a slot.
	GlobalStatus(ctx context.Context, limit int) (GlobalStatus, error)

	// ForceReset clears the counter unconditionally. Operator escape hatch
	// only; never called from the request path.
	ForceReset(ctx context.Context) error

	// CleanupStuck removes call_ids from the held set that are not present
	// in liveCallIDs, decrementing the counter accordingly. Used by the
	// Reconciliation Worker (C6) to repair drift between C1 and C2.
	CleanupStuck(ctx context.Context, liveCallIDs []string) (removed int, err error)
}
