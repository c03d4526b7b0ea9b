// Package provider wraps outbound calls to the upstream voice-agent
// provider's call-initiation API behind a circuit breaker, so a provider
// outage degrades to fast failures instead of hanging admission requests.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/voicegate/callgate/pkg/metrics"
)

// ErrRateLimited is returned when the provider responds 429 to a call
// initiation request (spec §7: "Provider rate-limit (HTTP 429) during
// outbound initiation").
var ErrRateLimited = fmt.Errorf("provider: rate limited")

// InitiateCallRequest is the body sent to the provider to start an outbound
// call.
type InitiateCallRequest struct {
	AgentID            string `json:"agent_id"`
	ExternalNumber     string `json:"external_number"`
	AgentPhoneNumberID string `json:"agent_phone_number_id"`
	CallID             string `json:"call_id"`
}

// Client initiates outbound calls against the upstream provider.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	breaker    *gobreaker.CircuitBreaker
}

// NewClient builds a Client. The breaker trips after consecutive
// failures so a provider outage fails fast rather than stacking up hung
// outbound requests.
func NewClient(baseURL, apiKey string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "provider-call-initiation",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return &Client{httpClient: httpClient, baseURL: baseURL, apiKey: apiKey, breaker: breaker}
}

// InitiateCall places an outbound call. It returns ErrRateLimited on a 429
// response so the caller can release the admission slot it already holds
// (spec §7, Scenario C).
func (c *Client) InitiateCall(ctx context.Context, req InitiateCallRequest) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.doInitiate(ctx, req)
	})
	return err
}

func (c *Client) doInitiate(ctx context.Context, req InitiateCallRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("provider: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/calls", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("provider: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("provider: initiate call: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		metrics.Provider429Total.Inc()
		return ErrRateLimited
	case resp.StatusCode >= 300:
		return fmt.Errorf("provider: initiate call: unexpected status %d", resp.StatusCode)
	default:
		return nil
	}
}
