package ingestion

import (
	"context"
	"fmt"
	"time"

	"pulse.dev/rtcore/classify"
	"pulse.dev/rtcore/common"
	"pulse.dev/rtcore/metrics"
	"pulse.dev/rtcore/store"
)

// CostController is the budget admission gate a run must clear before an
// adapter is polled, and the sink its actually-incurred cost is reported
// to. The Process Registry & Cost Controller is the production
// implementation; Manager depends only on this narrow contract.
type CostController interface {
	Admit(ctx context.Context, runID, category string, estimatedUnits float64) error
	RecordCost(ctx context.Context, ev metrics.CostEvent) error
}

// eventSubmitter is the subset of *metrics.Collector the manager needs.
type eventSubmitter interface {
	Submit(e metrics.Event)
}

// Result summarizes one Run call.
type Result struct {
	AdapterID string
	Accepted  int
	Dropped   int
}

// ManagerConfig tunes the per-adapter throughput and poll-frequency caps.
type ManagerConfig struct {
	ItemsPerSecond float64
	Burst          int
	MinPollPeriod  time.Duration
	AdmitBackoff   time.Duration
}

func (c ManagerConfig) withDefaults() ManagerConfig {
	if c.ItemsPerSecond <= 0 {
		c.ItemsPerSecond = 50
	}
	if c.Burst <= 0 {
		c.Burst = 100
	}
	if c.MinPollPeriod <= 0 {
		c.MinPollPeriod = time.Minute
	}
	if c.AdmitBackoff <= 0 {
		c.AdmitBackoff = 2 * time.Second
	}
	return c
}

// Manager drives registered source adapters against the Store under
// per-adapter rate/poll-frequency limits and a run-level cost budget.
type Manager struct {
	cfg   ManagerConfig
	store *store.Store
	cost  CostController
	mx    eventSubmitter
	gate  *pollGate
	log   *common.ContextLogger
}

func New(s *store.Store, cost CostController, mx eventSubmitter, cfg ManagerConfig) *Manager {
	cfg = cfg.withDefaults()
	return &Manager{
		cfg:   cfg,
		store: s,
		cost:  cost,
		mx:    mx,
		gate:  newPollGate(cfg.ItemsPerSecond, cfg.Burst, cfg.MinPollPeriod),
		log:   common.ComponentLogger(common.Logger, "ingestion"),
	}
}

// Run polls adapter once for window, validating and storing each item that
// passes schema validation and is admitted under the adapter's rate limit.
// Items that fail validation are dropped and counted, never partially
// stored. Run blocks, retrying admission on a fixed backoff, until the
// Cost Controller admits the run or ctx is cancelled.
func (m *Manager) Run(ctx context.Context, runID string, adapter SourceAdapter, window Window, params map[string]interface{}) (Result, error) {
	result := Result{AdapterID: adapter.ID()}
	log := m.log.WithFields(map[string]interface{}{"run_id": runID, "adapter": adapter.ID()})

	if !m.gate.allowPoll(adapter.ID(), time.Now()) {
		return result, classify.New(classify.SystemResource, fmt.Sprintf("adapter %s polled before its minimum period elapsed", adapter.ID()), nil)
	}

	estimate := adapter.EstimatedCost(window, params)
	if err := m.awaitAdmission(ctx, runID, estimate, log); err != nil {
		return result, err
	}

	schema := adapter.DescribeSchema()
	limiter := m.gate.limiterFor(adapter.ID())

	items, errs := adapter.Fetch(ctx, window, params)
	for items != nil || errs != nil {
		select {
		case <-ctx.Done():
			return result, classify.New(classify.SystemCancelled, "ingestion run cancelled", ctx.Err())
		case item, ok := <-items:
			if !ok {
				items = nil
				continue
			}
			if err := limiter.Wait(ctx); err != nil {
				return result, classify.New(classify.SystemCancelled, "rate limiter wait cancelled", err)
			}
			if err := validate(schema, item.Payload); err != nil {
				result.Dropped++
				m.mx.Submit(metrics.Event{
					RunID: runID,
					Name:  "ingestion.validation_error",
					Value: 1,
					Tags:  map[string]string{"adapter": adapter.ID()},
					At:    time.Now(),
				})
				log.WithError(err).Warn("dropped item failing schema validation")
				continue
			}
			if _, err := m.store.PutItem(ctx, adapter.ID(), "ingestion."+adapter.ID(), item.Metadata, item.Payload); err != nil {
				return result, classify.Wrap(err, "failed to store ingested item", nil)
			}
			result.Accepted++
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil {
				return result, classify.Wrap(err, "adapter fetch failed", nil)
			}
		}
	}

	if err := m.cost.RecordCost(ctx, metrics.CostEvent{
		RunID:    runID,
		Category: estimate.Category,
		Units:    estimate.Units,
		At:       time.Now(),
	}); err != nil {
		log.WithError(err).Warn("failed to record ingestion cost")
	}

	log.WithFields(map[string]interface{}{"accepted": result.Accepted, "dropped": result.Dropped}).Info("ingestion run complete")
	return result, nil
}

// awaitAdmission blocks, retrying on a fixed backoff, until the Cost
// Controller admits the run or ctx is cancelled.
func (m *Manager) awaitAdmission(ctx context.Context, runID string, estimate CostEstimate, log *common.ContextLogger) error {
	for {
		err := m.cost.Admit(ctx, runID, estimate.Category, estimate.Units)
		if err == nil {
			return nil
		}
		if ce, ok := classify.As(err); !ok || ce.Class != classify.SystemBudgetExceeded {
			return err
		}
		log.Info("ingestion paused, budget exceeded")
		select {
		case <-ctx.Done():
			return classify.New(classify.SystemCancelled, "ingestion admission wait cancelled", ctx.Err())
		case <-time.After(m.cfg.AdmitBackoff):
		}
	}
}
