package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/voicegate/callgate/pkg/admission"
	"github.com/voicegate/callgate/pkg/models"
	"github.com/voicegate/callgate/pkg/provider"
)

type acquireRequest struct {
	TenantID  int64            `json:"tenant_id" binding:"required"`
	Plan      models.Plan      `json:"plan" binding:"required"`
	Direction models.Direction `json:"direction" binding:"required"`
	CallID    string           `json:"call_id"`
	Metadata  map[string]any   `json:"metadata"`
}

type releaseRequest struct {
	TenantID int64  `json:"tenant_id" binding:"required"`
	CallID   string `json:"call_id" binding:"required"`
	Reason   string `json:"reason"`
}

type outboundCallRequest struct {
	TenantID           int64       `json:"tenant_id" binding:"required"`
	Plan               models.Plan `json:"plan" binding:"required"`
	AgentID            string      `json:"agent_id" binding:"required"`
	ExternalNumber     string      `json:"external_number" binding:"required"`
	AgentPhoneNumberID string      `json:"agent_phone_number_id"`
}

func (s *Server) acquireHandler(c *gin.Context) {
	var req acquireRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := s.controller.Acquire(c.Request.Context(), admission.AcquireRequest{
		TenantID:  req.TenantID,
		Plan:      req.Plan,
		Direction: req.Direction,
		CallID:    req.CallID,
		Metadata:  req.Metadata,
	})
	if err != nil {
		writeAdmissionError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"call_id": resp.CallID, "current": resp.Current, "limit": resp.Limit})
}

func (s *Server) releaseHandler(c *gin.Context) {
	var req releaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.controller.Release(c.Request.Context(), req.TenantID, req.CallID, req.Reason); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// outboundCallHandler implements the outbound admission path in full:
// reserve a slot, then place the call with the upstream provider. A 429
// from the provider releases the slot immediately rather than leaving it
// held until the next reconciliation sweep (spec §7, Scenario C).
func (s *Server) outboundCallHandler(c *gin.Context) {
	var req outboundCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := s.controller.Acquire(c.Request.Context(), admission.AcquireRequest{
		TenantID:  req.TenantID,
		Plan:      req.Plan,
		Direction: models.DirectionOutbound,
	})
	if err != nil {
		writeAdmissionError(c, err)
		return
	}

	err = s.providerC.InitiateCall(c.Request.Context(), provider.InitiateCallRequest{
		AgentID:            req.AgentID,
		ExternalNumber:     req.ExternalNumber,
		AgentPhoneNumberID: req.AgentPhoneNumberID,
		CallID:             resp.CallID,
	})
	if err != nil {
		if errors.Is(err, provider.ErrRateLimited) {
			if relErr := s.controller.Release(c.Request.Context(), req.TenantID, resp.CallID, "provider_429"); relErr != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
				return
			}
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "PROVIDER_RATE_LIMITED"})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": "provider_unreachable"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"call_id": resp.CallID, "current": resp.Current, "limit": resp.Limit})
}
