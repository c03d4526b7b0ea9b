package admission

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/voicegate/callgate/pkg/capacity"
	"github.com/voicegate/callgate/pkg/models"
	"github.com/voicegate/callgate/pkg/sessions"
	"github.com/voicegate/callgate/pkg/tenants"
)

// fakeGlobal is an in-memory capacity.Store for controller tests that don't
// need the Lua scripting details exercised by pkg/capacity's own tests.
type fakeGlobal struct {
	mu    sync.Mutex
	limit int
	held  map[string]bool
}

func newFakeGlobal(limit int) *fakeGlobal {
	return &fakeGlobal{limit: limit, held: map[string]bool{}}
}

func (f *fakeGlobal) CheckCapacity(context.Context, int) (capacity.CheckResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return capacity.CheckResult{Current: len(f.held), Available: len(f.held) < f.limit}, nil
}

func (f *fakeGlobal) AcquireSlot(_ context.Context, callID string, limit int) (capacity.AcquireResult, error) {
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

func (f *fakeGlobal) ReleaseSlot(_ context.Context, callID string) (capacity.ReleaseResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.held, callID)
	return capacity.ReleaseResult{Success: true, Current: len(f.held)}, nil
}

func (f *fakeGlobal) GlobalStatus(context.Context, int) (capacity.GlobalStatus, error) {
	return capacity.GlobalStatus{}, nil
}
func (f *fakeGlobal) ForceReset(context.Context) error { return nil }
func (f *fakeGlobal) CleanupStuck(context.Context, []string) (int, error) { return 0, nil }

// fakeTenant is an in-memory TenantLookup.
type fakeTenant struct {
	mu   sync.Mutex
	subs map[int64]*models.TenantSubscription
}

func newFakeTenant(subs ...*models.TenantSubscription) *fakeTenant {
	m := map[int64]*models.TenantSubscription{}
	for _, s := range subs {
		m[s.TenantID] = s
	}
	return &fakeTenant{subs: m}
}

func (f *fakeTenant) GetByID(_ context.Context, tenantID int64) (*models.TenantSubscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.subs[tenantID]
	if !ok {
		return nil, tenants.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (f *fakeTenant) ConditionalIncrement(_ context.Context, tenantID int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.subs[tenantID]
	if !ok {
		return 0, tenants.ErrNotFound
	}
	if s.ActiveCalls >= s.EffectiveLimit() {
		return 0, nil
	}
	s.ActiveCalls++
	return 1, nil
}

func (f *fakeTenant) Decrement(_ context.Context, tenantID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.subs[tenantID]; ok && s.ActiveCalls > 0 {
		s.ActiveCalls--
	}
	return nil
}

// fakeSessions is an in-memory SessionStore.
type fakeSessions struct {
	mu       sync.Mutex
	byCallID map[string]models.Session
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{byCallID: map[string]models.Session{}}
}

func (f *fakeSessions) Create(_ context.Context, s models.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.byCallID[s.CallID]; exists {
		return sessions.ErrDuplicateCallID
	}
	f.byCallID[s.CallID] = s
	return nil
}

func (f *fakeSessions) MarkEnded(_ context.Context, callID string, status models.SessionStatus, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.byCallID[callID]
	if !ok || s.Status.Terminal() {
		return nil
	}
	s.Status = status
	s.EndReason = reason
	f.byCallID[callID] = s
	return nil
}

func proTenant(id int64) *models.TenantSubscription {
	return &models.TenantSubscription{TenantID: id, Plan: models.PlanPRO, Status: models.SubscriptionActive}
}

func TestAcquire_GrantsWithinTenantAndGlobalLimits(t *testing.T) {
	ctrl := New(newFakeGlobal(5), newFakeTenant(proTenant(1)), newFakeSessions(), "pod-a", 5, nil)

	resp, err := ctrl.Acquire(context.Background(), AcquireRequest{TenantID: 1, Plan: models.PlanPRO, Direction: models.DirectionOutbound})
	require.NoError(t, err)
	require.NotEmpty(t, resp.CallID)
}

func TestAcquire_RefusesWhenTenantAtLimit(t *testing.T) {
	sub := proTenant(1) // PRO default limit 3
	sub.ActiveCalls = 3
	ctrl := New(newFakeGlobal(5), newFakeTenant(sub), newFakeSessions(), "pod-a", 5, nil)

	_, err := ctrl.Acquire(context.Background(), AcquireRequest{TenantID: 1, Plan: models.PlanPRO, Direction: models.DirectionOutbound})
	var admErr *Error
	require.ErrorAs(t, err, &admErr)
	require.Equal(t, ErrCodeTenantLimitExceeded, admErr.Code)
}

func TestAcquire_RefusesWhenGlobalCapSaturatedAndRollsBackTenant(t *testing.T) {
	global := newFakeGlobal(1)
	tenant := newFakeTenant(proTenant(1), proTenant(2))
	ctrl := New(global, tenant, newFakeSessions(), "pod-a", 1, nil)
	ctx := context.Background()

	_, err := ctrl.Acquire(ctx, AcquireRequest{TenantID: 1, Plan: models.PlanPRO, Direction: models.DirectionOutbound})
	require.NoError(t, err)

	_, err = ctrl.Acquire(ctx, AcquireRequest{TenantID: 2, Plan: models.PlanPRO, Direction: models.DirectionOutbound})
	var admErr *Error
	require.ErrorAs(t, err, &admErr)
	require.Equal(t, ErrCodeCapacityExceeded, admErr.Code)

	sub, _ := tenant.GetByID(ctx, 2)
	require.Equal(t, 0, sub.ActiveCalls, "tenant counter must be rolled back when the global cap refuses the call")
}

func TestAcquire_TenGlobalConcurrentAttemptsGrantExactlyFive(t *testing.T) {
	global := newFakeGlobal(5)
	subs := make([]*models.TenantSubscription, 10)
	for i := range subs {
		subs[i] = proTenant(int64(i + 1))
	}
	tenant := newFakeTenant(subs...)
	ctrl := New(global, tenant, newFakeSessions(), "pod-a", 5, nil)

	var wg sync.WaitGroup
	successes := make([]bool, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := ctrl.Acquire(context.Background(), AcquireRequest{TenantID: int64(i + 1), Plan: models.PlanPRO, Direction: models.DirectionOutbound})
			successes[i] = err == nil
		}(i)
	}
	wg.Wait()

	count := 0
	for _, ok := range successes {
		if ok {
			count++
		}
	}
	require.Equal(t, 5, count)
}

func TestRelease_IsIdempotent(t *testing.T) {
	global := newFakeGlobal(5)
	tenant := newFakeTenant(proTenant(1))
	sess := newFakeSessions()
	ctrl := New(global, tenant, sess, "pod-a", 5, nil)
	ctx := context.Background()

	resp, err := ctrl.Acquire(ctx, AcquireRequest{TenantID: 1, Plan: models.PlanPRO, Direction: models.DirectionOutbound})
	require.NoError(t, err)

	require.NoError(t, ctrl.Release(ctx, 1, resp.CallID, "caller_hangup"))
	require.NoError(t, ctrl.Release(ctx, 1, resp.CallID, "caller_hangup"))

	sub, _ := tenant.GetByID(ctx, 1)
	require.Equal(t, 0, sub.ActiveCalls)
}

func TestAcquire_RetryWithSameCallIDIsIdempotent(t *testing.T) {
	global := newFakeGlobal(5)
	tenant := newFakeTenant(proTenant(1))
	sess := newFakeSessions()
	ctrl := New(global, tenant, sess, "pod-a", 5, nil)
	ctrl.clock = func() time.Time { return time.Unix(0, 0) }
	ctx := context.Background()

	req := AcquireRequest{TenantID: 1, Plan: models.PlanPRO, Direction: models.DirectionOutbound, CallID: "call_fixed"}
	first, err := ctrl.Acquire(ctx, req)
	require.NoError(t, err)

	second, err := ctrl.Acquire(ctx, req)
	require.NoError(t, err)
	require.Equal(t, first.CallID, second.CallID)

	sub, _ := tenant.GetByID(ctx, 1)
	require.Equal(t, 1, sub.ActiveCalls, "a retried Acquire must not double-count the tenant")
	require.Equal(t, 1, len(global.held), "a retried Acquire must not release the slot the original call still holds")
}
