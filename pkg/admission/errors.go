package admission

import "fmt"

// ErrorCode is the closed set of admission decision outcomes surfaced to
// callers of Acquire (spec §6, §7).
type ErrorCode string

// Admission error codes.
const (
	ErrCodeCapacityExceeded     ErrorCode = "CAPACITY_EXCEEDED"
	ErrCodeTenantLimitExceeded  ErrorCode = "TENANT_LIMIT_EXCEEDED"
	ErrCodeNoInboundAssistant   ErrorCode = "NO_INBOUND_ASSISTANT"
	ErrCodeInboundAssistantOff  ErrorCode = "INBOUND_ASSISTANT_INACTIVE"
	ErrCodePhoneInboundDisabled ErrorCode = "PHONE_INBOUND_DISABLED"
	ErrCodeSubscriptionInactive ErrorCode = "SUBSCRIPTION_INACTIVE"
	ErrCodeTenantNotFound       ErrorCode = "TENANT_NOT_FOUND"
)

// Error is the structured failure an Acquire call returns when a call is
// refused. It carries enough context for the caller to build the provider's
// required 403/429 response body (spec §6).
type Error struct {
	Code         ErrorCode
	Current      int
	Limit        int
	RetryAfterMs int
}

func (e *Error) Error() string {
	return fmt.Sprintf("admission: %s (current=%d limit=%d)", e.Code, e.Current, e.Limit)
}

// NewCapacityError builds the error returned when either the global or the
// tenant counter is saturated.
func NewCapacityError(code ErrorCode, current, limit int) *Error {
	return &Error{Code: code, Current: current, Limit: limit, RetryAfterMs: retryAfterMs}
}

// retryAfterMs is a fixed backoff hint (spec §6: "a small fixed value is
// acceptable; the source does not compute this dynamically").
const retryAfterMs = 2000
