package reconcile

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/voicegate/callgate/pkg/capacity"
	"github.com/voicegate/callgate/pkg/models"
)

type fakeGlobal struct {
	mu   sync.Mutex
	held map[string]bool
}

func newFakeGlobal(held ...string) *fakeGlobal {
	m := map[string]bool{}
	for _, id := range held {
		m[id] = true
	}
	return &fakeGlobal{held: m}
}

var _ capacity.Store = (*fakeGlobal)(nil)

func (f *fakeGlobal) CheckCapacity(context.Context, int) (capacity.CheckResult, error) {
	return capacity.CheckResult{}, nil
}

func (f *fakeGlobal) AcquireSlot(_ context.Context, callID string, limit int) (capacity.AcquireResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
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

func (f *fakeGlobal) ForceReset(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.held = map[string]bool{}
	return nil
}

func (f *fakeGlobal) CleanupStuck(_ context.Context, live []string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	liveSet := map[string]bool{}
	for _, id := range live {
		liveSet[id] = true
	}
	removed := 0
	for id := range f.held {
		if !liveSet[id] {
			delete(f.held, id)
			removed++
		}
	}
	return removed, nil
}

func (f *fakeGlobal) heldCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.held)
}

type fakeSessions struct {
	active   []models.Session
	orphaned []models.Session
	ended    map[string]models.SessionStatus
}

func (f *fakeSessions) ListActive(context.Context, *int64) ([]models.Session, error) { return f.active, nil }
func (f *fakeSessions) ListOrphaned(context.Context, time.Time) ([]models.Session, error) {
	return f.orphaned, nil
}
func (f *fakeSessions) MarkEnded(_ context.Context, callID string, status models.SessionStatus, _ string) error {
	if f.ended == nil {
		f.ended = map[string]models.SessionStatus{}
	}
	f.ended[callID] = status
	return nil
}

type fakeTenant struct {
	decremented []int64
}

func (f *fakeTenant) Decrement(_ context.Context, tenantID int64) error {
	f.decremented = append(f.decremented, tenantID)
	return nil
}

func TestStartupReconcile_RebuildReacquiresActiveSlots(t *testing.T) {
	global := newFakeGlobal()
	sess := &fakeSessions{active: []models.Session{
		{CallID: "call_1", TenantID: 1, Status: models.SessionActive},
		{CallID: "call_2", TenantID: 2, Status: models.SessionActive},
	}}
	w := New(global, sess, &fakeTenant{}, Config{Mode: ModeRebuild}, nil)

	require.NoError(t, w.StartupReconcile(context.Background()))
	require.Equal(t, 2, global.heldCount())
}

func TestStartupReconcile_ResetClearsStore(t *testing.T) {
	global := newFakeGlobal("call_stale")
	sess := &fakeSessions{}
	w := New(global, sess, &fakeTenant{}, Config{Mode: ModeReset}, nil)

	require.NoError(t, w.StartupReconcile(context.Background()))
	require.Equal(t, 0, global.heldCount())
}

func TestSweep_RecoversOrphanedSessionAndReleasesSlot(t *testing.T) {
	global := newFakeGlobal("call_orphan")
	sess := &fakeSessions{
		orphaned: []models.Session{{CallID: "call_orphan", TenantID: 1, Status: models.SessionActive, StartedAt: time.Now().Add(-time.Hour)}},
	}
	tenant := &fakeTenant{}
	w := New(global, sess, tenant, Config{StuckCallAge: 15 * time.Minute}, nil)

	require.NoError(t, w.Sweep(context.Background()))

	require.Equal(t, models.SessionEnded, sess.ended["call_orphan"])
	require.Equal(t, []int64{1}, tenant.decremented)
	require.Equal(t, 0, global.heldCount())

	_, recovered := w.Stats()
	require.Equal(t, 1, recovered)
}

func TestSweep_CleansUpStuckGlobalSlotsWithNoLiveSession(t *testing.T) {
	global := newFakeGlobal("call_live", "call_stuck")
	sess := &fakeSessions{active: []models.Session{{CallID: "call_live", TenantID: 1, Status: models.SessionActive}}}
	w := New(global, sess, &fakeTenant{}, Config{StuckCallAge: 15 * time.Minute}, nil)

	require.NoError(t, w.Sweep(context.Background()))
	require.Equal(t, 1, global.heldCount())
}
