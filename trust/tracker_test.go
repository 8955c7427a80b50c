package trust

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTracker() *Tracker {
	return New(Config{PriorAlpha: 1, PriorBeta: 1})
}

func TestUpdateCreatesEntityLazilyWithPrior(t *testing.T) {
	tr := newTestTracker()

	_, ok := tr.Get("e1")
	assert.False(t, ok)

	require.NoError(t, tr.Update("e1", 3, 1, 1))

	e, ok := tr.Get("e1")
	require.True(t, ok)
	assert.Equal(t, 1+3.0, e.Alpha)
	assert.Equal(t, 1+1.0, e.Beta)
	assert.Equal(t, int64(1), e.SampleCount)
}

func TestUpdateRejectsNegativeCounts(t *testing.T) {
	tr := newTestTracker()
	err := tr.Update("e1", -1, 0, 1)
	assert.Error(t, err)
}

func TestUpdateRejectsZeroObservations(t *testing.T) {
	tr := newTestTracker()
	err := tr.Update("e1", 0, 0, 1)
	assert.Error(t, err)
}

func TestUpdateRejectsNonPositiveWeight(t *testing.T) {
	tr := newTestTracker()
	err := tr.Update("e1", 1, 0, -1)
	assert.Error(t, err)
}

func TestBatchUpdateAggregatesPerEntity(t *testing.T) {
	tr := newTestTracker()
	err := tr.BatchUpdate([]Update{
		{EntityID: "e1", Successes: 1, Weight: 1},
		{EntityID: "e1", Successes: 1, Weight: 1},
		{EntityID: "e2", Failures: 1, Weight: 1},
	})
	require.NoError(t, err)

	e1, _ := tr.Get("e1")
	assert.Equal(t, 1+2.0, e1.Alpha)
	e2, _ := tr.Get("e2")
	assert.Equal(t, 1+1.0, e2.Beta)
}

func TestMeanUsesPriorForUnknownEntity(t *testing.T) {
	tr := New(Config{PriorAlpha: 2, PriorBeta: 2})
	assert.InDelta(t, 0.5, tr.Mean("never-seen"), 1e-9)
}

func TestConfidenceIntervalNarrowsWithMoreSamples(t *testing.T) {
	tr := newTestTracker()
	require.NoError(t, tr.Update("e1", 5, 5, 1))
	loFew, hiFew := tr.ConfidenceInterval("e1", 0.95)

	require.NoError(t, tr.Update("e1", 500, 500, 1))
	loMany, hiMany := tr.ConfidenceInterval("e1", 0.95)

	assert.Less(t, hiMany-loMany, hiFew-loFew)
}

func TestDecayPreservesPriorFloor(t *testing.T) {
	tr := newTestTracker()
	require.NoError(t, tr.Update("e1", 10, 0, 1))

	require.NoError(t, tr.Decay("e1", 0.5))
	e, _ := tr.Get("e1")
	assert.InDelta(t, 1+(10.0)*0.5, e.Alpha, 1e-9)
}

func TestDecayRejectsOutOfRangeFactor(t *testing.T) {
	tr := newTestTracker()
	assert.Error(t, tr.Decay("e1", 0))
	assert.Error(t, tr.Decay("e1", 1.5))
}

func TestSnapshotRestoreRoundTrips(t *testing.T) {
	tr := newTestTracker()
	require.NoError(t, tr.Update("e1", 3, 1, 1))
	require.NoError(t, tr.Update("e2", 0, 2, 1))

	data, err := tr.Snapshot()
	require.NoError(t, err)

	tr2 := New(Config{PriorAlpha: 1, PriorBeta: 1})
	require.NoError(t, tr2.Restore(data))

	e1, ok := tr2.Get("e1")
	require.True(t, ok)
	assert.Equal(t, 1+3.0, e1.Alpha)

	e2, ok := tr2.Get("e2")
	require.True(t, ok)
	assert.Equal(t, 1+2.0, e2.Beta)
}

func TestReportSummarizesAllEntities(t *testing.T) {
	tr := newTestTracker()
	require.NoError(t, tr.Update("e1", 3, 1, 1))
	require.NoError(t, tr.Update("e2", 1, 1, 1))

	rep := tr.Report()
	assert.Len(t, rep.Entities, 2)
	assert.Greater(t, rep.Entities["e1"].Mean, 0.0)
}

func TestBatchUpdateConcurrentSafe(t *testing.T) {
	tr := newTestTracker()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = tr.Update("shared", 1, 0, 1)
		}()
	}
	wg.Wait()

	e, ok := tr.Get("shared")
	require.True(t, ok)
	assert.Equal(t, int64(50), e.SampleCount)
	assert.Equal(t, 1+50.0, e.Alpha)
}
