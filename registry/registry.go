package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"pulse.dev/rtcore/classify"
	"pulse.dev/rtcore/common"
	"pulse.dev/rtcore/store"
)

// Registry is the in-memory, thread-safe map of active and recently
// finished runs. It carries no package-level instance; callers construct
// one explicitly (spec's "replace global mutable singletons" guidance) and
// pass it through an application context alongside the Store, Trust
// Tracker, and Metrics Store it is wired next to.
type Registry struct {
	mu   sync.RWMutex
	runs map[string]*RunHandle
	log  *common.ContextLogger
}

// New constructs an empty registry.
func New() *Registry {
	return &Registry{
		runs: make(map[string]*RunHandle),
		log:  common.ComponentLogger(common.Logger, "registry"),
	}
}

// Register records a new run and returns a context that is cancelled when
// Cancel is called for this run ID.
func (r *Registry) Register(ctx context.Context, runID string) (context.Context, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.runs[runID]; exists {
		return nil, classify.New(classify.DataInvalidInput, fmt.Sprintf("run %q is already registered", runID), nil)
	}

	runCtx, cancel := context.WithCancel(ctx)
	now := time.Now()
	r.runs[runID] = &RunHandle{
		RunID:     runID,
		Status:    RunRegistered,
		StartedAt: now,
		UpdatedAt: now,
		cancel:    cancel,
	}
	return runCtx, nil
}

// Lookup returns a copy of the handle for runID.
func (r *Registry) Lookup(runID string) (RunHandle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.runs[runID]
	if !ok {
		return RunHandle{}, false
	}
	return *h, true
}

// List returns a snapshot of every tracked run.
func (r *Registry) List() []RunHandle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]RunHandle, 0, len(r.runs))
	for _, h := range r.runs {
		out = append(out, *h)
	}
	return out
}

// MarkRunning transitions a registered run into the running state.
func (r *Registry) MarkRunning(runID string) error {
	return r.transition(runID, RunRunning)
}

// RecordBatch updates a run's stats counters in place.
func (r *Registry) RecordBatch(runID string, completed, failed, deferred int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.runs[runID]
	if !ok {
		return classify.New(classify.DataInvalidInput, fmt.Sprintf("run %q is not registered", runID), nil)
	}
	h.Stats.BatchesCompleted += completed
	h.Stats.BatchesFailed += failed
	h.Stats.BatchesDeferred += deferred
	h.UpdatedAt = time.Now()
	return nil
}

// Complete marks a run finished with the given terminal status.
func (r *Registry) Complete(runID string, status RunStatus) error {
	return r.transition(runID, status)
}

// Cancel invokes the run's cancellation token and marks it cancelled.
func (r *Registry) Cancel(runID string) error {
	r.mu.Lock()
	h, ok := r.runs[runID]
	if !ok {
		r.mu.Unlock()
		return classify.New(classify.DataInvalidInput, fmt.Sprintf("run %q is not registered", runID), nil)
	}
	h.Status = RunCancelled
	h.UpdatedAt = time.Now()
	cancel := h.cancel
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return nil
}

func (r *Registry) transition(runID string, status RunStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.runs[runID]
	if !ok {
		return classify.New(classify.DataInvalidInput, fmt.Sprintf("run %q is not registered", runID), nil)
	}
	h.Status = status
	h.UpdatedAt = time.Now()
	return nil
}

// Reconcile rebuilds registry entries for runIDs known from prior
// operation after a process restart. A run whose latest checkpoint is
// newer than orphanAfter is restored as running (ready to resume); a run
// with no checkpoint, or one older than orphanAfter, is surfaced as
// orphaned rather than silently dropped, per spec's "runs without a
// recent checkpoint are marked orphaned and surfaced".
func (r *Registry) Reconcile(ctx context.Context, s *store.Store, runIDs []string, orphanAfter time.Duration) {
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, runID := range runIDs {
		if _, exists := r.runs[runID]; exists {
			continue
		}

		status := RunOrphaned
		startedAt := now
		cp, ok, err := s.LatestCheckpoint(runID)
		if err == nil && ok {
			startedAt = cp.At
			if now.Sub(cp.At) < orphanAfter {
				status = RunRunning
			}
		}

		_, cancel := context.WithCancel(ctx)
		r.runs[runID] = &RunHandle{
			RunID:     runID,
			Status:    status,
			StartedAt: startedAt,
			UpdatedAt: now,
			cancel:    cancel,
		}
		if status == RunOrphaned {
			r.log.WithField("run_id", runID).Warn("run restored without a recent checkpoint, marked orphaned")
		}
	}
}
