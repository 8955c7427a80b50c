package registry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulse.dev/rtcore/classify"
	"pulse.dev/rtcore/metrics"
)

type fakeMetricsSink struct {
	mu     sync.Mutex
	events []metrics.Event
}

func (f *fakeMetricsSink) Submit(e metrics.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
}

func (f *fakeMetricsSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

type fakeCostRecorder struct {
	mu     sync.Mutex
	events []metrics.CostEvent
}

func (f *fakeCostRecorder) PutCostEvents(ctx context.Context, events []metrics.CostEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, events...)
	return nil
}

func TestAdmitAllowsRunUnderBudget(t *testing.T) {
	c := NewCostController(map[CostCategory]Budget{
		CategoryComputeUnits: {SoftThreshold: 50, HardThreshold: 100},
	}, &fakeMetricsSink{}, &fakeCostRecorder{})

	err := c.Admit(context.Background(), "run-1", string(CategoryComputeUnits), 10)
	assert.NoError(t, err)
}

func TestAdmitBlocksRunOverHardThreshold(t *testing.T) {
	c := NewCostController(map[CostCategory]Budget{
		CategoryComputeUnits: {HardThreshold: 10},
	}, &fakeMetricsSink{}, &fakeCostRecorder{})

	err := c.Admit(context.Background(), "run-1", string(CategoryComputeUnits), 20)
	require.Error(t, err)
	ce, ok := classify.As(err)
	require.True(t, ok)
	assert.Equal(t, classify.SystemBudgetExceeded, ce.Class)
}

func TestAdmitEmitsSoftThresholdMetricWithoutBlocking(t *testing.T) {
	mx := &fakeMetricsSink{}
	c := NewCostController(map[CostCategory]Budget{
		CategoryComputeUnits: {SoftThreshold: 5, HardThreshold: 1000},
	}, mx, &fakeCostRecorder{})

	err := c.Admit(context.Background(), "run-1", string(CategoryComputeUnits), 10)
	assert.NoError(t, err)
	assert.Equal(t, 1, mx.count())
}

func TestRecordCostAccumulatesTowardFutureAdmitChecks(t *testing.T) {
	costs := &fakeCostRecorder{}
	c := NewCostController(map[CostCategory]Budget{
		CategoryComputeUnits: {HardThreshold: 15},
	}, &fakeMetricsSink{}, costs)

	require.NoError(t, c.RecordCost(context.Background(), metrics.CostEvent{RunID: "run-1", Category: string(CategoryComputeUnits), Units: 10, At: time.Now()}))

	err := c.Admit(context.Background(), "run-1", string(CategoryComputeUnits), 10)
	require.Error(t, err)
	assert.Len(t, costs.events, 1)
}

func TestUnblockClearsHardThresholdBlock(t *testing.T) {
	c := NewCostController(map[CostCategory]Budget{
		CategoryComputeUnits: {HardThreshold: 10},
	}, &fakeMetricsSink{}, &fakeCostRecorder{})

	err := c.Admit(context.Background(), "run-1", string(CategoryComputeUnits), 20)
	require.Error(t, err)

	c.Unblock("run-1")
	err = c.Admit(context.Background(), "run-1", string(CategoryComputeUnits), 1)
	assert.NoError(t, err)
}

func TestAdmitIsUnbudgetedForUnknownCategory(t *testing.T) {
	c := NewCostController(map[CostCategory]Budget{}, &fakeMetricsSink{}, &fakeCostRecorder{})
	err := c.Admit(context.Background(), "run-1", "unknown_category", 1_000_000)
	assert.NoError(t, err)
}

func TestAdmitEnforcesPerCategoryRateLimit(t *testing.T) {
	c := NewCostController(map[CostCategory]Budget{
		CategoryAPICalls: {RatePerSecond: 1000, RateBurst: 1},
	}, &fakeMetricsSink{}, &fakeCostRecorder{})

	require.NoError(t, c.Admit(context.Background(), "run-1", string(CategoryAPICalls), 1))

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	err := c.Admit(ctx, "run-1", string(CategoryAPICalls), 1)
	assert.Error(t, err)
}

func TestRunCostReportsCumulativeTotalsPerCategory(t *testing.T) {
	costs := &fakeCostRecorder{}
	c := NewCostController(nil, &fakeMetricsSink{}, costs)

	require.NoError(t, c.RecordCost(context.Background(), metrics.CostEvent{RunID: "run-1", Category: "api_calls", Units: 3, At: time.Now()}))
	require.NoError(t, c.RecordCost(context.Background(), metrics.CostEvent{RunID: "run-1", Category: "compute_units", Units: 4, At: time.Now()}))

	rc := c.RunCost("run-1")
	assert.Equal(t, 7.0, rc.TotalCost)
	assert.Equal(t, 3.0, rc.CostByCategory["api_calls"])
}
