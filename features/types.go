// Package features implements the Feature Processor: deterministic,
// cacheable transforms from stored items into numeric feature records.
package features

import (
	"time"

	"pulse.dev/rtcore/store"
)

// Record is one computed, cached feature batch: the pipeline's output
// rows for a given set of source items. Named "values" per spec's
// FeatureRecord, generalized here from a single dense vector to a row
// batch since rtcore's standard steps (rolling aggregates, rate of
// change) are inherently multi-row transforms over a time-ordered input.
type Record struct {
	FeatureID       string      `json:"feature_id"`
	SourceItemIDs   []string    `json:"source_item_ids"`
	PipelineID      string      `json:"pipeline_id"`
	PipelineVersion string      `json:"pipeline_version"`
	Values          []store.Row `json:"values"`
	CreatedAt       time.Time   `json:"created_at"`
}

// StepSpec identifies one pipeline step and its parameters.
type StepSpec struct {
	StepID      string                 `json:"step_id"`
	StepVersion string                 `json:"step_version"`
	Params      map[string]interface{} `json:"params"`
}

// StepFunc is a pure transform: batch in, batch out. Steps never mutate
// their input rows in place so a failed step never corrupts the pipeline
// state for a retry.
type StepFunc func(rows []store.Row, params map[string]interface{}) ([]store.Row, error)

// Pipeline is an ordered sequence of steps.
type Pipeline struct {
	Steps []StepSpec
}

// registry maps a step_id to its implementation. Populated by init() in
// steps.go and advanced.go.
var registry = map[string]StepFunc{}

// RegisterStep adds a step implementation under step_id, for steps
// outside the standard/advanced sets built into this package (custom
// per-deployment transforms).
func RegisterStep(stepID string, fn StepFunc) {
	registry[stepID] = fn
}
