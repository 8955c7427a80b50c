package coordinator

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"pulse.dev/rtcore/classify"
	"pulse.dev/rtcore/common"
	"pulse.dev/rtcore/metrics"
	"pulse.dev/rtcore/retrodiction"
	"pulse.dev/rtcore/store"
)

// BatchRunner executes one retrodiction batch, satisfied by
// *retrodiction.Worker.
type BatchRunner interface {
	Run(ctx context.Context, runID string, transition retrodiction.TransitionFunc, in retrodiction.BatchInput) retrodiction.BatchResult
}

// CostController gates batch dispatch against the remaining run budget,
// satisfied by the Process Registry & Cost Controller.
type CostController interface {
	Admit(ctx context.Context, runID, category string, estimatedUnits float64) error
}

// TrustSnapshotter produces a point-in-time snapshot of the trust tracker
// for checkpointing, satisfied by *trust.Tracker.
type TrustSnapshotter interface {
	Snapshot() ([]byte, error)
}

// metricsSink is the narrow surface needed from the Async Metrics
// Collector.
type metricsSink interface {
	Submit(e metrics.Event)
}

// PressureFunc reports current backpressure signal in [0, 1]; the
// coordinator pauses dispatch when it is at or above HighWaterMark and
// resumes once it falls back below LowWaterMark.
type PressureFunc func() float64

const checkpointDataset = "rtcore_trust_snapshots"

// SchedulerConfig tunes pressure thresholds and polling cadence. RunSpec carries
// the per-run scheduling parameters (concurrency, retry policy, fail-fast).
type SchedulerConfig struct {
	HighWaterMark  float64
	LowWaterMark   float64
	PressurePoll   time.Duration
	BatchCostUnits float64
}

func (c SchedulerConfig) withDefaults() SchedulerConfig {
	if c.HighWaterMark <= 0 {
		c.HighWaterMark = 0.85
	}
	if c.LowWaterMark <= 0 {
		c.LowWaterMark = 0.5
	}
	if c.PressurePoll <= 0 {
		c.PressurePoll = 200 * time.Millisecond
	}
	if c.BatchCostUnits <= 0 {
		c.BatchCostUnits = 1
	}
	return c
}

// RunCoordinator is the Parallel Training Coordinator: it schedules batches
// across a bounded worker pool, checkpoints progress, and applies
// backpressure and cost gating between dispatches.
type RunCoordinator struct {
	cfg      SchedulerConfig
	store    *store.Store
	runner   BatchRunner
	cost     CostController
	mx       metricsSink
	trust    TrustSnapshotter
	pressure PressureFunc
	log      *common.ContextLogger
}

func New(s *store.Store, runner BatchRunner, cost CostController, mx metricsSink, trust TrustSnapshotter, pressure PressureFunc, cfg SchedulerConfig) *RunCoordinator {
	return &RunCoordinator{
		cfg:      cfg.withDefaults(),
		store:    s,
		runner:   runner,
		cost:     cost,
		mx:       mx,
		trust:    trust,
		pressure: pressure,
		log:      common.ComponentLogger(common.Logger, "coordinator"),
	}
}

// Run schedules every batch in spec across a bounded worker pool,
// resuming from the latest checkpoint if one exists, and returns once all
// dispatched batches have finished, been deferred for budget, or the run
// was aborted.
func (c *RunCoordinator) Run(ctx context.Context, spec RunSpec, transition retrodiction.TransitionFunc) (RunSummary, error) {
	spec = spec.withDefaults()
	log := c.log.WithField("run_id", spec.RunID)

	resumeFrom := -1
	if cp, ok, err := c.store.LatestCheckpoint(spec.RunID); err != nil {
		return RunSummary{}, classify.Wrap(err, "failed to load checkpoint", nil)
	} else if ok {
		resumeFrom = cp.BatchIndex
		log.WithField("resume_from", resumeFrom).Info("resuming run from checkpoint")
	}

	all := splitIntoBatches(spec)
	var pending []Batch
	for _, b := range all {
		if b.BatchIndex > resumeFrom {
			pending = append(pending, b)
		}
	}

	summary := RunSummary{Results: make(map[int]retrodiction.BatchResult)}
	var mu sync.Mutex
	highestCompleted := resumeFrom

	eg, egctx := errgroup.WithContext(ctx)
	eg.SetLimit(spec.Concurrency)

dispatch:
	for _, b := range pending {
		b := b

		if !c.waitForPressure(egctx) {
			break dispatch
		}

		if err := c.cost.Admit(egctx, spec.RunID, "training", c.cfg.BatchCostUnits); err != nil {
			c.mx.Submit(metrics.Event{RunID: spec.RunID, Name: "training.budget_pressure", Value: 1, At: time.Now()})
			mu.Lock()
			summary.Deferred++
			mu.Unlock()
			continue
		}

		eg.Go(func() error {
			result := c.runBatchWithRetry(egctx, spec, b, transition)

			mu.Lock()
			summary.Results[b.BatchIndex] = result
			switch result.Status {
			case retrodiction.StatusCompleted:
				summary.Completed++
				if b.BatchIndex > highestCompleted {
					highestCompleted = b.BatchIndex
				}
			case retrodiction.StatusFailed:
				summary.Failed++
			}
			// The checkpoint is written while mu is held, so checkpoints land
			// in order and the latest one carries highestCompleted.
			if result.Status == retrodiction.StatusCompleted {
				if err := c.checkpoint(egctx, spec, highestCompleted); err != nil {
					log.WithError(err).Warn("failed to persist checkpoint")
				}
			}
			mu.Unlock()

			if result.Status == retrodiction.StatusFailed {
				strategy := classify.StrategyFor(result.FailureClass)
				if strategy == classify.StrategyAbortRun || spec.FailFast {
					return classify.New(result.FailureClass, "batch failure aborted run", nil)
				}
			}
			return nil
		})
	}

	err := eg.Wait()
	return summary, err
}

// waitForPressure blocks dispatch while pressure is at or above
// HighWaterMark, only releasing once it has dropped back below
// LowWaterMark (spec's stop-at-high-resume-at-low hysteresis). Returns
// false if ctx was cancelled while waiting.
func (c *RunCoordinator) waitForPressure(ctx context.Context) bool {
	if c.pressure == nil {
		return true
	}
	if c.pressure() < c.cfg.HighWaterMark {
		return true
	}
	for c.pressure() >= c.cfg.LowWaterMark {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(c.cfg.PressurePoll):
		}
	}
	return true
}

func (c *RunCoordinator) runBatchWithRetry(ctx context.Context, spec RunSpec, b Batch, transition retrodiction.TransitionFunc) retrodiction.BatchResult {
	in := b.toInput(spec)
	delay := spec.RetryPolicy.BaseDelay

	var last retrodiction.BatchResult
	for attempt := 1; attempt <= spec.RetryPolicy.MaxAttempts; attempt++ {
		last = c.runner.Run(ctx, spec.RunID, transition, in)
		if last.Status != retrodiction.StatusFailed {
			return last
		}
		if classify.StrategyFor(last.FailureClass) != classify.StrategyRetry {
			return last
		}
		if attempt == spec.RetryPolicy.MaxAttempts {
			break
		}

		jitter := time.Duration(rand.Int63n(int64(delay) + 1))
		wait := delay + jitter
		if wait > spec.RetryPolicy.MaxDelay {
			wait = spec.RetryPolicy.MaxDelay
		}
		select {
		case <-ctx.Done():
			return retrodiction.BatchResult{Status: retrodiction.StatusCancelled}
		case <-time.After(wait):
		}
		delay *= 2
		if delay > spec.RetryPolicy.MaxDelay {
			delay = spec.RetryPolicy.MaxDelay
		}
	}
	return last
}

func (c *RunCoordinator) checkpoint(ctx context.Context, spec RunSpec, batchIndex int) error {
	snapshot, err := c.trust.Snapshot()
	if err != nil {
		return classify.Wrap(err, "failed to snapshot trust tracker", nil)
	}
	snapshotID, err := c.store.PutItem(ctx, checkpointDataset, "coordinator", map[string]interface{}{"run_id": spec.RunID}, snapshot)
	if err != nil {
		return classify.Wrap(err, "failed to persist trust snapshot", nil)
	}

	cp := store.Checkpoint{
		RunID:                 spec.RunID,
		BatchIndex:            batchIndex,
		StoreVersionsConsumed: map[string]int{spec.Dataset: spec.DatasetVersion},
		TrustSnapshotID:       snapshotID,
		MetricsWatermark:      time.Now(),
		At:                    time.Now(),
	}
	if err := c.store.PutCheckpoint(spec.RunID, cp); err != nil {
		return classify.Wrap(err, "failed to persist checkpoint", nil)
	}
	return nil
}
