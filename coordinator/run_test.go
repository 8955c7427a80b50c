package coordinator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSplitIntoBatchesSlicesWindowSequentially(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	spec := RunSpec{
		StartTime: start,
		EndTime:   start.Add(90 * time.Minute),
		BatchSize: 30 * time.Minute,
	}

	batches := splitIntoBatches(spec)
	if assert.Len(t, batches, 3) {
		assert.Equal(t, 0, batches[0].BatchIndex)
		assert.Equal(t, start, batches[0].WindowStart)
		assert.Equal(t, start.Add(30*time.Minute), batches[0].WindowEnd)
		assert.Equal(t, 2, batches[2].BatchIndex)
		assert.Equal(t, spec.EndTime, batches[2].WindowEnd)
	}
}

func TestSplitIntoBatchesTruncatesFinalPartialWindow(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	spec := RunSpec{
		StartTime: start,
		EndTime:   start.Add(45 * time.Minute),
		BatchSize: 30 * time.Minute,
	}

	batches := splitIntoBatches(spec)
	if assert.Len(t, batches, 2) {
		assert.Equal(t, spec.EndTime, batches[1].WindowEnd)
		assert.True(t, batches[1].WindowEnd.Sub(batches[1].WindowStart) < spec.BatchSize)
	}
}

func TestBatchToInputCarriesRunLevelFields(t *testing.T) {
	spec := RunSpec{
		Variables:           []string{"gdp", "inflation"},
		PipelineID:          "pipeline-1",
		BaselineFeaturesRef: "features-ref-1",
		Dataset:             "macro",
		DatasetVersion:      7,
	}
	b := Batch{BatchIndex: 3, WindowStart: time.Unix(0, 0), WindowEnd: time.Unix(3600, 0)}

	in := b.toInput(spec)
	assert.Equal(t, 3, in.BatchIndex)
	assert.Equal(t, spec.Variables, in.Variables)
	assert.Equal(t, spec.PipelineID, in.PipelineID)
	assert.Equal(t, spec.BaselineFeaturesRef, in.BaselineFeaturesRef)
	assert.Equal(t, spec.Dataset, in.Dataset)
	assert.Equal(t, spec.DatasetVersion, in.DatasetVersion)
}

func TestRunSpecWithDefaultsFillsConcurrencyAndRetryPolicy(t *testing.T) {
	spec := RunSpec{}.withDefaults()
	assert.Equal(t, 4, spec.Concurrency)
	assert.Equal(t, 3, spec.RetryPolicy.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, spec.RetryPolicy.BaseDelay)
	assert.Equal(t, 30*time.Second, spec.RetryPolicy.MaxDelay)
}
