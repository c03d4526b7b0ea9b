// Package reconcile implements the Reconciliation Worker (C6): startup
// rebuild of the Global Capacity Store from durable session state, and a
// periodic sweep that recovers calls orphaned by a pod crash (spec §4.6).
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/voicegate/callgate/pkg/capacity"
	"github.com/voicegate/callgate/pkg/metrics"
	"github.com/voicegate/callgate/pkg/models"
)

// Mode selects how Startup rebuilds the Global Capacity Store.
type Mode string

// Supported startup modes.
const (
	ModeRebuild Mode = "rebuild"
	ModeReset   Mode = "reset"
)

// SessionStore is the subset of sessions.Repository the worker depends on.
type SessionStore interface {
	ListActive(ctx context.Context, tenantID *int64) ([]models.Session, error)
	ListOrphaned(ctx context.Context, olderThan time.Time) ([]models.Session, error)
	MarkEnded(ctx context.Context, callID string, status models.SessionStatus, reason string) error
}

// TenantStore is the subset of tenants.Repository the worker depends on.
type TenantStore interface {
	Decrement(ctx context.Context, tenantID int64) error
}

// Config configures the worker's sweep cadence and orphan threshold.
type Config struct {
	Mode              Mode
	Interval          time.Duration
	StuckCallAge      time.Duration
	PodID             string
}

// Worker runs startup reconciliation once, then a periodic orphan sweep for
// the lifetime of the process. Its lifecycle mirrors the queue package's
// worker pool: Start spawns one goroutine, Stop drains it via a close
// channel and WaitGroup.
type Worker struct {
	global  capacity.Store
	session SessionStore
	tenant  TenantStore
	cfg     Config
	logger  *slog.Logger

	mu               sync.Mutex
	lastSweep        time.Time
	orphansRecovered int

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	wg       sync.WaitGroup
}

// New builds a Worker.
func New(global capacity.Store, session SessionStore, tenant TenantStore, cfg Config, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		global:  global,
		session: session,
		tenant:  tenant,
		cfg:     cfg,
		logger:  logger,
		stopCh:  make(chan struct{}),
	}
}

// StartupReconcile repairs the Global Capacity Store against the Session
// Registry before the process accepts traffic. In rebuild mode it
// re-acquires a slot for every row the registry still reports active,
// preserving counters across a restart. In reset mode it clears the store
// outright, trading a brief under-count for the unconditional invariant
// that the store starts empty (spec §4.6, the Open Question on startup
// semantics).
func (w *Worker) StartupReconcile(ctx context.Context) error {
	switch w.cfg.Mode {
	case ModeReset:
		if err := w.global.ForceReset(ctx); err != nil {
			return fmt.Errorf("reconcile: startup reset: %w", err)
		}
		w.logger.Warn("reconcile: global capacity store reset at startup", "mode", w.cfg.Mode)
		return nil
	case ModeRebuild, "":
		return w.rebuildFromRegistry(ctx)
	default:
		return fmt.Errorf("reconcile: unknown startup mode %q", w.cfg.Mode)
	}
}

func (w *Worker) rebuildFromRegistry(ctx context.Context) error {
	active, err := w.session.ListActive(ctx, nil)
	if err != nil {
		return fmt.Errorf("reconcile: list active sessions: %w", err)
	}

	limit := len(active) // rebuild never refuses its own recovered calls
	recovered := 0
	for _, s := range active {
		res, err := w.global.AcquireSlot(ctx, s.CallID, limit+1)
		if err != nil {
			w.logger.Error("reconcile: failed to re-acquire slot during rebuild", "call_id", s.CallID, "error", err)
			continue
		}
		if res.Success {
			recovered++
		}
	}
	w.logger.Info("reconcile: startup rebuild complete", "active_sessions", len(active), "slots_recovered", recovered)
	return nil
}

// Start launches the periodic orphan sweep. Safe to call once; a second
// call is a no-op.
func (w *Worker) Start(ctx context.Context) {
	w.startOnce.Do(func() {
		w.wg.Add(1)
		go w.loop(ctx)
	})
}

// Stop signals the sweep loop to exit and waits for it to finish.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

func (w *Worker) loop(ctx context.Context) {
	defer w.wg.Done()

	interval := w.cfg.Interval
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			if err := w.Sweep(ctx); err != nil {
				w.logger.Error("reconcile: sweep failed", "error", err)
			}
		}
	}
}

// Sweep finds sessions the registry still reports active past
// StuckCallAge, terminates them, and reconciles the Global Capacity Store
// against the set of call_ids the registry considers genuinely live (spec
// §4.6: "the sweep must also repair the shared store, not only the
// registry").
func (w *Worker) Sweep(ctx context.Context) error {
	threshold := time.Now().Add(-w.cfg.StuckCallAge)

	orphans, err := w.session.ListOrphaned(ctx, threshold)
	if err != nil {
		return fmt.Errorf("reconcile: list orphaned: %w", err)
	}

	recovered := 0
	for _, s := range orphans {
		if err := w.recoverOrphan(ctx, s); err != nil {
			w.logger.Error("reconcile: failed to recover orphan", "call_id", s.CallID, "error", err)
			continue
		}
		recovered++
	}

	live, err := w.session.ListActive(ctx, nil)
	if err != nil {
		return fmt.Errorf("reconcile: list active for cleanup: %w", err)
	}
	liveIDs := make([]string, len(live))
	for i, s := range live {
		liveIDs[i] = s.CallID
	}
	stuckRemoved, err := w.global.CleanupStuck(ctx, liveIDs)
	if err != nil {
		return fmt.Errorf("reconcile: cleanup stuck: %w", err)
	}

	w.mu.Lock()
	w.lastSweep = time.Now()
	w.orphansRecovered += recovered
	w.mu.Unlock()

	if recovered > 0 {
		metrics.ReconcileOrphansRecoveredTotal.Add(float64(recovered))
	}

	if recovered > 0 || stuckRemoved > 0 {
		w.logger.Warn("reconcile: sweep recovered orphans", "orphans_recovered", recovered, "stuck_slots_removed", stuckRemoved)
	}
	return nil
}

func (w *Worker) recoverOrphan(ctx context.Context, s models.Session) error {
	reason := fmt.Sprintf("orphaned: no terminal event from pod %s since %s", s.PodID, s.StartedAt.Format(time.RFC3339))
	if err := w.session.MarkEnded(ctx, s.CallID, models.SessionEnded, reason); err != nil {
		return fmt.Errorf("mark ended: %w", err)
	}
	if err := w.tenant.Decrement(ctx, s.TenantID); err != nil {
		w.logger.Error("reconcile: tenant decrement failed during orphan recovery", "tenant_id", s.TenantID, "error", err)
	}
	if _, err := w.global.ReleaseSlot(ctx, s.CallID); err != nil {
		w.logger.Error("reconcile: global release failed during orphan recovery", "call_id", s.CallID, "error", err)
	}
	return nil
}

// Stats reports sweep metrics for operational visibility.
func (w *Worker) Stats() (lastSweep time.Time, orphansRecovered int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastSweep, w.orphansRecovered
}
