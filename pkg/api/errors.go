package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/voicegate/callgate/pkg/admission"
)

// writeAdmissionError maps an admission.Error to the provider's documented
// response shapes (spec §6). Capacity errors are 429 with a retry hint;
// subscription/assistant/inbound-gate errors are 403; anything else that
// reaches here is a 500.
func writeAdmissionError(c *gin.Context, err error) {
	var admErr *admission.Error
	if !errors.As(err, &admErr) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	switch admErr.Code {
	case admission.ErrCodeCapacityExceeded, admission.ErrCodeTenantLimitExceeded:
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":          string(admErr.Code),
			"currentActive":  admErr.Current,
			"limit":          admErr.Limit,
			"retry_after_ms": admErr.RetryAfterMs,
		})
	case admission.ErrCodeNoInboundAssistant, admission.ErrCodeInboundAssistantOff, admission.ErrCodePhoneInboundDisabled:
		c.JSON(http.StatusForbidden, gin.H{"error": string(admErr.Code), "action": "reject_call"})
	case admission.ErrCodeSubscriptionInactive, admission.ErrCodeTenantNotFound:
		c.JSON(http.StatusForbidden, gin.H{"error": string(admErr.Code)})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": string(admErr.Code)})
	}
}
