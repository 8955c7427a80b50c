package retrodiction

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"pulse.dev/rtcore/classify"
	"pulse.dev/rtcore/common"
	"pulse.dev/rtcore/metrics"
	"pulse.dev/rtcore/store"
	"pulse.dev/rtcore/trust"
)

// defaultWindowBatchRows bounds how many rows loadWindow buffers per
// stream_dataset batch; the full window is still accumulated in memory
// before sorting, this only caps the streaming chunk size.
const defaultWindowBatchRows = 500

// BaselineLoader resolves baseline_features_ref to the starting
// reconstructed state. Satisfied in production by a thin wrapper over the
// feature processor's cache lookup.
type BaselineLoader interface {
	Load(ctx context.Context, ref string) (store.Row, error)
}

// trustSink is the narrow surface the worker needs from the Trust Update
// Buffer.
type trustSink interface {
	Enqueue(entityID string, u trust.Update) error
}

// metricsSink is the narrow surface the worker needs from the Async
// Metrics Collector.
type metricsSink interface {
	Submit(e metrics.Event)
}

// costRecorder is the narrow surface the worker needs to persist cost
// events, satisfied directly by *metrics.Store.
type costRecorder interface {
	PutCostEvents(ctx context.Context, events []metrics.CostEvent) error
}

// Worker executes retrodiction batches. It reads exclusively from the
// Store's streaming API and a caller-supplied transition function; it
// never mutates stored data directly.
type Worker struct {
	store    *store.Store
	baseline BaselineLoader
	trust    trustSink
	metrics  metricsSink
	costs    costRecorder
	log      *common.ContextLogger
}

func New(s *store.Store, baseline BaselineLoader, trust trustSink, mx metricsSink, costs costRecorder) *Worker {
	return &Worker{
		store:    s,
		baseline: baseline,
		trust:    trust,
		metrics:  mx,
		costs:    costs,
		log:      common.ComponentLogger(common.Logger, "retrodiction"),
	}
}

// Run executes one batch. On success, trust updates and metric events are
// published; on failure or cancellation, nothing is published except cost
// events already incurred before the failure, per the no-partial-work
// contract.
func (w *Worker) Run(ctx context.Context, runID string, transition TransitionFunc, in BatchInput) BatchResult {
	log := w.log.WithFields(map[string]interface{}{"run_id": runID, "batch_index": in.BatchIndex})

	var incurredCosts []metrics.CostEvent
	flushCosts := func() {
		if len(incurredCosts) == 0 {
			return
		}
		if err := w.costs.PutCostEvents(ctx, incurredCosts); err != nil {
			log.WithError(err).Warn("failed to persist retrodiction cost events")
		}
	}

	if ctx.Err() != nil {
		flushCosts()
		return BatchResult{Status: StatusCancelled}
	}

	rows, err := w.loadWindow(ctx, in)
	if err != nil {
		if ctx.Err() != nil {
			flushCosts()
			return BatchResult{Status: StatusCancelled}
		}
		log.WithError(err).Error("failed to load retrodiction window")
		flushCosts()
		return BatchResult{Status: StatusFailed, Warnings: []string{err.Error()}, FailureClass: classify.Classify(err)}
	}
	incurredCosts = append(incurredCosts, metrics.CostEvent{RunID: runID, Category: "retrodiction.load", Units: float64(len(rows)), At: time.Now()})

	state, err := w.baseline.Load(ctx, in.BaselineFeaturesRef)
	if err != nil {
		log.WithError(err).Error("failed to load baseline state")
		flushCosts()
		return BatchResult{Status: StatusFailed, Warnings: []string{err.Error()}, FailureClass: classify.Classify(err)}
	}

	stats := make(map[string]*variableStats, len(in.Variables))
	for _, v := range in.Variables {
		stats[v] = &variableStats{}
	}

	type pendingUpdate struct {
		ruleID string
		variable string
		success  bool
	}
	var pending []pendingUpdate
	var warnings []string

	for _, row := range rows {
		if ctx.Err() != nil {
			flushCosts()
			return BatchResult{Status: StatusCancelled}
		}

		t, err := rowTime(row)
		if err != nil {
			flushCosts()
			return BatchResult{Status: StatusFailed, Warnings: []string{err.Error()}, FailureClass: classify.Classify(err)}
		}

		predicted, fired, err := transition(state, row, t)
		if err != nil {
			cerr := classify.Wrap(err, "transition function failed", nil)
			log.WithError(cerr).Error("retrodiction step failed")
			flushCosts()
			return BatchResult{Status: StatusFailed, Warnings: []string{cerr.Error()}, FailureClass: cerr.Class}
		}
		incurredCosts = append(incurredCosts, metrics.CostEvent{RunID: runID, Category: "retrodiction.step", Units: 1, At: time.Now()})

		for _, variable := range in.Variables {
			predictedVal, ok1 := toFloat(predicted[variable])
			observedVal, ok2 := toFloat(row[variable])
			if !ok1 || !ok2 {
				warnings = append(warnings, fmt.Sprintf("variable %q missing at step %s", variable, t.Format(time.RFC3339)))
				continue
			}
			improved := stats[variable].add(predictedVal, observedVal)

			for _, rule := range fired {
				if !containsString(rule.Variables, variable) {
					continue
				}
				pending = append(pending, pendingUpdate{ruleID: rule.RuleID, variable: variable, success: improved})
			}
		}

		state = predicted
	}

	summary := MetricsSummary{
		RMSE:     map[string]float64{},
		MAE:      map[string]float64{},
		R2:       map[string]float64{},
		Coverage: map[string]float64{},
	}
	for variable, s := range stats {
		summary.RMSE[variable] = s.rmse()
		summary.MAE[variable] = s.mae()
		summary.R2[variable] = s.r2()
		summary.Coverage[variable] = s.coverage(len(rows))
	}

	for _, u := range pending {
		successes, failures := 1.0, 0.0
		if !u.success {
			successes, failures = 0.0, 1.0
		}
		entityID := u.ruleID + "|" + u.variable
		if err := w.trust.Enqueue(entityID, trust.Update{Successes: successes, Failures: failures, Weight: 1}); err != nil {
			warnings = append(warnings, fmt.Sprintf("trust update dropped for %s: %v", entityID, err))
		}
	}

	for variable, s := range stats {
		emitMetric(w.metrics, runID, "retrodiction.rmse", variable, s.rmse())
		emitMetric(w.metrics, runID, "retrodiction.mae", variable, s.mae())
		emitMetric(w.metrics, runID, "retrodiction.r2", variable, s.r2())
		emitMetric(w.metrics, runID, "retrodiction.coverage", variable, s.coverage(len(rows)))
	}

	flushCosts()

	log.WithFields(map[string]interface{}{"trust_updates": len(pending), "rows": len(rows)}).Info("retrodiction batch completed")
	return BatchResult{
		Status:            StatusCompleted,
		MetricsSummary:    summary,
		TrustUpdatesCount: len(pending),
		Warnings:          warnings,
	}
}

func (w *Worker) loadWindow(ctx context.Context, in BatchInput) ([]store.Row, error) {
	var rows []store.Row
	batches, errs := w.store.StreamDataset(ctx, in.Dataset, in.DatasetVersion, nil, func(r store.Row) bool {
		t, err := rowTime(r)
		if err != nil {
			return false
		}
		return !t.Before(in.WindowStart) && t.Before(in.WindowEnd)
	}, defaultWindowBatchRows)
	for batches != nil || errs != nil {
		select {
		case b, ok := <-batches:
			if !ok {
				batches = nil
				continue
			}
			rows = append(rows, b.Rows...)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil {
				return nil, classify.Wrap(err, "failed to stream retrodiction window", nil)
			}
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		ti, _ := rowTime(rows[i])
		tj, _ := rowTime(rows[j])
		return ti.Before(tj)
	})
	return rows, nil
}

func emitMetric(sink metricsSink, runID, name, variable string, value float64) {
	sink.Submit(metrics.Event{
		MetricID: uuid.New().String(),
		RunID:    runID,
		Name:     name,
		Value:    value,
		Tags:     map[string]string{"variable": variable},
		At:       time.Now(),
	})
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
