// Package coordinator implements the Parallel Training Coordinator: it
// turns a RunSpec into independent time-sliced batches, schedules a bounded
// worker pool over them, checkpoints progress into the Store, and keeps a
// run progressing through per-batch failures.
package coordinator

import (
	"time"

	"pulse.dev/rtcore/retrodiction"
)

// RetryPolicy bounds per-batch retry attempts with exponential backoff and
// jitter.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func (r RetryPolicy) withDefaults() RetryPolicy {
	if r.MaxAttempts <= 0 {
		r.MaxAttempts = 3
	}
	if r.BaseDelay <= 0 {
		r.BaseDelay = 500 * time.Millisecond
	}
	if r.MaxDelay <= 0 {
		r.MaxDelay = 30 * time.Second
	}
	return r
}

// RunSpec describes one training run to schedule across batches.
type RunSpec struct {
	RunID               string
	StartTime           time.Time
	EndTime             time.Time
	BatchSize           time.Duration
	Variables           []string
	Concurrency         int
	RetryPolicy         RetryPolicy
	FailFast            bool
	Dataset             string
	DatasetVersion      int
	PipelineID          string
	BaselineFeaturesRef string
}

func (s RunSpec) withDefaults() RunSpec {
	if s.Concurrency <= 0 {
		s.Concurrency = 4
	}
	s.RetryPolicy = s.RetryPolicy.withDefaults()
	return s
}

// Batch is one independent time slice of a run.
type Batch struct {
	BatchIndex  int
	WindowStart time.Time
	WindowEnd   time.Time
}

// splitIntoBatches slices [StartTime, EndTime) into fixed BatchSize
// windows, indexed from zero in chronological order.
func splitIntoBatches(spec RunSpec) []Batch {
	var batches []Batch
	idx := 0
	for t := spec.StartTime; t.Before(spec.EndTime); t = t.Add(spec.BatchSize) {
		end := t.Add(spec.BatchSize)
		if end.After(spec.EndTime) {
			end = spec.EndTime
		}
		batches = append(batches, Batch{BatchIndex: idx, WindowStart: t, WindowEnd: end})
		idx++
	}
	return batches
}

func (b Batch) toInput(spec RunSpec) retrodiction.BatchInput {
	return retrodiction.BatchInput{
		BatchIndex:          b.BatchIndex,
		WindowStart:         b.WindowStart,
		WindowEnd:           b.WindowEnd,
		Variables:           spec.Variables,
		PipelineID:          spec.PipelineID,
		BaselineFeaturesRef: spec.BaselineFeaturesRef,
		Dataset:             spec.Dataset,
		DatasetVersion:      spec.DatasetVersion,
	}
}

// RunSummary aggregates the outcome of every batch in a run.
type RunSummary struct {
	Completed int
	Failed    int
	Deferred  int
	Results   map[int]retrodiction.BatchResult
}
