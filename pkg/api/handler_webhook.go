package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/voicegate/callgate/pkg/models"
	"github.com/voicegate/callgate/pkg/webhook"
)

const providerSignatureHeader = "X-Provider-Signature"

func (s *Server) callStartedHandler(c *gin.Context) {
	s.handleWebhook(c, models.EventCallStarted)
}

func (s *Server) callEndedHandler(c *gin.Context) {
	s.handleWebhook(c, models.EventCallEnded)
}

func (s *Server) postCallHandler(c *gin.Context) {
	s.handleWebhook(c, models.EventPostCallTranscript)
}

func (s *Server) handleWebhook(c *gin.Context, eventType models.WebhookEventType) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed body"})
		return
	}

	var payload webhook.Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed body"})
		return
	}
	payload.EventType = eventType

	ts, sig := parseSignatureHeader(c.GetHeader(providerSignatureHeader))

	decision, err := s.processor.Process(c.Request.Context(), ts, sig, body, payload)
	if err != nil {
		if errors.Is(err, webhook.ErrInvalidSignature) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed body"})
		return
	}

	if decision.Duplicate {
		c.JSON(http.StatusOK, gin.H{"success": true})
		return
	}

	if !decision.Admitted {
		switch decision.Code {
		case "PHONE_INBOUND_DISABLED", "NO_INBOUND_ASSISTANT", "INBOUND_ASSISTANT_INACTIVE":
			c.JSON(http.StatusForbidden, gin.H{"error": decision.Code, "action": "reject_call"})
		default:
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":          decision.Code,
				"currentActive":  decision.Current,
				"limit":          decision.Limit,
				"retry_after_ms": decision.RetryAfterMs,
			})
		}
		return
	}

	switch eventType {
	case models.EventCallStarted:
		c.JSON(http.StatusOK, gin.H{"success": true, "activeCalls": decision.Current, "limit": decision.Limit})
	default:
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

// parseSignatureHeader splits "t=<unix_seconds>,v0=<hex_hmac>" into its two
// components (spec §6).
func parseSignatureHeader(header string) (timestamp, signature string) {
	for _, part := range strings.Split(header, ",") {
		switch {
		case strings.HasPrefix(part, "t="):
			timestamp = strings.TrimPrefix(part, "t=")
		case strings.HasPrefix(part, "v0="):
			signature = strings.TrimPrefix(part, "v0=")
		}
	}
	return timestamp, signature
}
