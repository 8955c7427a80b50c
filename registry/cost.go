package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"pulse.dev/rtcore/classify"
	"pulse.dev/rtcore/common"
	"pulse.dev/rtcore/metrics"
)

// metricsSink is the narrow surface the cost controller needs from the
// Async Metrics Collector to emit budget-pressure warnings.
type metricsSink interface {
	Submit(e metrics.Event)
}

// costRecorder is the narrow surface the cost controller needs to persist
// cost events, satisfied directly by *metrics.Store.
type costRecorder interface {
	PutCostEvents(ctx context.Context, events []metrics.CostEvent) error
}

// runCategoryKey identifies one run's accumulated cost in one category.
type runCategoryKey struct {
	runID    string
	category CostCategory
}

// CostController tracks per-run, per-category cumulative cost, blocks new
// work once a hard threshold is reached, and rate-limits acquisitions
// per category via a token bucket. It is the concrete type satisfying
// both ingestion.CostController and coordinator.CostController's narrower
// interfaces.
type CostController struct {
	mu       sync.Mutex
	budgets  map[CostCategory]Budget
	totals   map[runCategoryKey]float64
	limiters map[CostCategory]*rate.Limiter
	blocked  map[string]bool

	mx    metricsSink
	costs costRecorder
	log   *common.ContextLogger
}

// NewCostController builds a controller with the given per-category
// budgets. Categories absent from budgets are unthrottled and unbudgeted.
func NewCostController(budgets map[CostCategory]Budget, mx metricsSink, costs costRecorder) *CostController {
	limiters := make(map[CostCategory]*rate.Limiter, len(budgets))
	for category, b := range budgets {
		if b.RatePerSecond > 0 {
			burst := b.RateBurst
			if burst <= 0 {
				burst = 1
			}
			limiters[category] = rate.NewLimiter(rate.Limit(b.RatePerSecond), burst)
		}
	}
	return &CostController{
		budgets:  budgets,
		totals:   make(map[runCategoryKey]float64),
		limiters: limiters,
		blocked:  make(map[string]bool),
		mx:       mx,
		costs:    costs,
		log:      common.ComponentLogger(common.Logger, "registry"),
	}
}

// Admit blocks until the category's rate-limit token is available, then
// checks the run's cumulative cost in that category against its budget.
// A run explicitly unblocked via Unblock, or whose hard threshold has not
// been reached, is admitted; otherwise Admit returns a
// classify.SystemBudgetExceeded error so callers can pause and retry.
func (c *CostController) Admit(ctx context.Context, runID, category string, estimatedUnits float64) error {
	cat := CostCategory(category)
	if limiter, ok := c.limiters[cat]; ok {
		if err := limiter.Wait(ctx); err != nil {
			return classify.Wrap(err, "cost controller rate limit wait cancelled", nil)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.blocked[runID] {
		return classify.New(classify.SystemBudgetExceeded, fmt.Sprintf("run %q is blocked pending operator unblock", runID), nil)
	}

	budget, hasBudget := c.budgets[cat]
	if !hasBudget {
		return nil
	}

	key := runCategoryKey{runID: runID, category: cat}
	projected := c.totals[key] + estimatedUnits

	if budget.HardThreshold > 0 && projected > budget.HardThreshold {
		c.blocked[runID] = true
		return classify.New(classify.SystemBudgetExceeded, fmt.Sprintf("run %q exceeded hard threshold for %s", runID, category), nil)
	}

	if budget.SoftThreshold > 0 && projected > budget.SoftThreshold && c.mx != nil {
		c.mx.Submit(metrics.Event{
			RunID: runID,
			Name:  "cost.soft_threshold_exceeded",
			Value: projected,
			Tags:  map[string]string{"category": category},
			At:    time.Now(),
		})
	}

	return nil
}

// RecordCost persists a cost event and folds its units into the run's
// cumulative total for the category, so future Admit calls see it.
func (c *CostController) RecordCost(ctx context.Context, ev metrics.CostEvent) error {
	c.mu.Lock()
	key := runCategoryKey{runID: ev.RunID, category: CostCategory(ev.Category)}
	c.totals[key] += ev.Units
	c.mu.Unlock()

	if c.costs == nil {
		return nil
	}
	if err := c.costs.PutCostEvents(ctx, []metrics.CostEvent{ev}); err != nil {
		return classify.Wrap(err, "failed to persist cost event", nil)
	}
	return nil
}

// Unblock clears a run's hard-threshold block, per spec's "blocks new work
// until the run is unblocked by operator action or policy".
func (c *CostController) Unblock(runID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.blocked, runID)
}

// RunCost reports the current cumulative cost for a run across every
// tracked category.
func (c *CostController) RunCost(runID string) metrics.RunCost {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := metrics.RunCost{RunID: runID, CostByCategory: make(map[string]float64)}
	for key, units := range c.totals {
		if key.runID != runID {
			continue
		}
		out.CostByCategory[string(key.category)] = units
		out.TotalCost += units
	}
	return out
}
