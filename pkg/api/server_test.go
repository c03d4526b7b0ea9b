package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/voicegate/callgate/pkg/admission"
	"github.com/voicegate/callgate/pkg/capacity"
	"github.com/voicegate/callgate/pkg/config"
	"github.com/voicegate/callgate/pkg/models"
	"github.com/voicegate/callgate/pkg/provider"
	"github.com/voicegate/callgate/pkg/reconcile"
	"github.com/voicegate/callgate/pkg/sessions"
	"github.com/voicegate/callgate/pkg/tenants"
	"github.com/voicegate/callgate/pkg/webhook"
)

// fakeGlobalStore is a minimal in-memory capacity.Store used to exercise
// the HTTP layer without a real Redis instance.
type fakeGlobalStore struct {
	mu   sync.Mutex
	held map[string]bool
}

func newFakeGlobalStore() *fakeGlobalStore { return &fakeGlobalStore{held: map[string]bool{}} }

var _ capacity.Store = (*fakeGlobalStore)(nil)

func (f *fakeGlobalStore) CheckCapacity(_ context.Context, limit int) (capacity.CheckResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur := len(f.held)
	return capacity.CheckResult{Available: cur < limit, Current: cur, Limit: limit, Remaining: limit - cur}, nil
}

func (f *fakeGlobalStore) AcquireSlot(_ context.Context, callID string, limit int) (capacity.AcquireResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held[callID] {
		return capacity.AcquireResult{Success: true, Current: len(f.held), Idempotent: true}, nil
	}
	if len(f.held) >= limit {
		return capacity.AcquireResult{Success: false, Current: len(f.held)}, nil
	}
	f.held[callID] = true
	return capacity.AcquireResult{Success: true, Current: len(f.held)}, nil
}

func (f *fakeGlobalStore) ReleaseSlot(_ context.Context, callID string) (capacity.ReleaseResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.held, callID)
	return capacity.ReleaseResult{Success: true, Current: len(f.held)}, nil
}

func (f *fakeGlobalStore) GlobalStatus(_ context.Context, limit int) (capacity.GlobalStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.held))
	for id := range f.held {
		ids = append(ids, id)
	}
	return capacity.GlobalStatus{Current: len(f.held), Limit: limit, Remaining: limit - len(f.held), CallIDs: ids}, nil
}

func (f *fakeGlobalStore) ForceReset(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.held = map[string]bool{}
	return nil
}

func (f *fakeGlobalStore) CleanupStuck(_ context.Context, liveCallIDs []string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	live := map[string]bool{}
	for _, id := range liveCallIDs {
		live[id] = true
	}
	removed := 0
	for id := range f.held {
		if !live[id] {
			delete(f.held, id)
			removed++
		}
	}
	return removed, nil
}

// fakeTenantLookup implements both admission.TenantLookup and
// reconcile.TenantStore against a single in-memory row.
type fakeTenantLookup struct {
	mu   sync.Mutex
	subs map[int64]*models.TenantSubscription
}

func (f *fakeTenantLookup) GetByID(_ context.Context, tenantID int64) (*models.TenantSubscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.subs[tenantID]
	if !ok {
		return nil, tenants.ErrNotFound
	}
	cp := *sub
	return &cp, nil
}

func (f *fakeTenantLookup) ConditionalIncrement(_ context.Context, tenantID int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.subs[tenantID]
	if !ok {
		return 0, nil
	}
	if sub.ActiveCalls >= sub.EffectiveLimit() {
		return 0, nil
	}
	sub.ActiveCalls++
	return 1, nil
}

func (f *fakeTenantLookup) Decrement(_ context.Context, tenantID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if sub, ok := f.subs[tenantID]; ok && sub.ActiveCalls > 0 {
		sub.ActiveCalls--
	}
	return nil
}

// fakeSessionStore implements admission.SessionStore and reconcile.SessionStore.
type fakeSessionStore struct {
	mu       sync.Mutex
	sessions map[string]models.Session
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{sessions: map[string]models.Session{}}
}

func (f *fakeSessionStore) Create(_ context.Context, s models.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.sessions[s.CallID]; exists {
		return sessions.ErrDuplicateCallID
	}
	f.sessions[s.CallID] = s
	return nil
}

func (f *fakeSessionStore) MarkEnded(_ context.Context, callID string, status models.SessionStatus, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[callID]
	if !ok || s.Status != models.SessionActive {
		return nil
	}
	s.Status = status
	s.EndReason = reason
	f.sessions[callID] = s
	return nil
}

func (f *fakeSessionStore) ListActive(_ context.Context, tenantID *int64) ([]models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Session
	for _, s := range f.sessions {
		if s.Status == models.SessionActive && (tenantID == nil || s.TenantID == *tenantID) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeSessionStore) ListOrphaned(context.Context, time.Time) ([]models.Session, error) {
	return nil, nil
}

type fakeIdempotencyStore struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newFakeIdempotencyStore() *fakeIdempotencyStore {
	return &fakeIdempotencyStore{seen: map[string]bool{}}
}

func (f *fakeIdempotencyStore) MarkProcessed(_ context.Context, tenantID int64, eventType models.WebhookEventType, externalEventID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := string(eventType) + "|" + externalEventID
	if f.seen[key] {
		return false, nil
	}
	f.seen[key] = true
	return true, nil
}

type alwaysInboundEnabled struct{}

func (alwaysInboundEnabled) InboundEnabled() bool { return true }

type noopBatchRecorder struct{}

func (noopBatchRecorder) RecordOutcome(context.Context, string, string, string, string, string) error {
	return nil
}

func newTestServer(t *testing.T) (*Server, *fakeGlobalStore) {
	t.Helper()

	global := newFakeGlobalStore()
	tenantLookup := &fakeTenantLookup{subs: map[int64]*models.TenantSubscription{
		1: {TenantID: 1, Plan: models.PlanPRO, Status: models.SubscriptionActive, ActiveCalls: 0},
	}}
	sessionStore := newFakeSessionStore()

	controller := admission.New(global, tenantLookup, sessionStore, "pod-test", 5, nil)
	verifier := webhook.NewVerifier("", true)
	processor := webhook.NewProcessor(verifier, newFakeIdempotencyStore(), controller, noopBatchRecorder{}, alwaysInboundEnabled{}, sessionStore, nil)
	reconciler := reconcile.New(global, sessionStore, tenantLookup, reconcile.Config{
		Mode:         reconcile.ModeRebuild,
		Interval:     time.Hour,
		StuckCallAge: time.Hour,
		PodID:        "pod-test",
	}, nil)
	providerClient := provider.NewClient("http://127.0.0.1:0", "test-key", nil)

	cfg := &config.Config{GlobalCap: 5}
	srv := NewServer(cfg, nil, processor, controller, global, reconciler, providerClient)
	return srv, global
}

func TestCallStartedWebhook_AdmitsAndIncrementsGlobalStore(t *testing.T) {
	srv, global := newTestServer(t)

	body, err := json.Marshal(map[string]any{
		"event_id":             "evt-1",
		"tenant_id":            1,
		"call_id":              "call_1000_1",
		"direction":            "inbound",
		"assistant_configured": true,
		"assistant_active":     true,
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/call-started", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	srv.Engine().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	status, err := global.GlobalStatus(req.Context(), 5)
	require.NoError(t, err)
	require.Equal(t, 1, status.Current)
}

func TestCallStartedWebhook_RefusedWhenAssistantInactive(t *testing.T) {
	srv, _ := newTestServer(t)

	body, err := json.Marshal(map[string]any{
		"event_id":             "evt-2",
		"tenant_id":            1,
		"call_id":              "call_1001_1",
		"direction":            "inbound",
		"assistant_configured": true,
		"assistant_active":     false,
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/call-started", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	srv.Engine().ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCapacityStatusEndpoint_ReportsHeldSlots(t *testing.T) {
	srv, global := newTestServer(t)
	_, err := global.AcquireSlot(context.Background(), "call_1002_1", 5)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/internal/capacity/status", nil)
	rec := httptest.NewRecorder()

	srv.Engine().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Equal(t, float64(1), out["current"])
}
