// Package retrodiction implements the Retrodiction Worker: it executes a
// single training batch — reconstructing historical state, running a
// backward simulation across a time window, and producing trust updates,
// metric events, and cost events from the residuals.
package retrodiction

import (
	"time"

	"pulse.dev/rtcore/classify"
	"pulse.dev/rtcore/store"
)

// BatchInput is one unit of work handed to a worker.
type BatchInput struct {
	BatchIndex         int
	WindowStart        time.Time
	WindowEnd          time.Time
	Variables          []string
	PipelineID         string
	BaselineFeaturesRef string
	Dataset            string
	DatasetVersion     int
}

// Status is a BatchResult's terminal outcome.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// MetricsSummary aggregates residual statistics across the batch's time
// steps, per variable.
type MetricsSummary struct {
	RMSE     map[string]float64
	MAE      map[string]float64
	R2       map[string]float64
	Coverage map[string]float64
}

// BatchResult is what a worker returns for one batch. FailureClass is only
// set when Status is StatusFailed, so the coordinator can look up a retry
// strategy via classify.StrategyFor without re-parsing Warnings.
type BatchResult struct {
	Status            Status
	MetricsSummary    MetricsSummary
	TrustUpdatesCount int
	Warnings          []string
	FailureClass      classify.Class
}

// Rule is the minimal shape a retrodiction step needs to know about a
// scoring rule: its identifier and which variables it fired on for a given
// time step.
type Rule struct {
	RuleID    string
	Variables []string
}

// TransitionFunc runs the model's inverse/transition step: given the
// current reconstructed state and the row observed at t, it returns the
// predicted state for t and the rules that fired.
type TransitionFunc func(state store.Row, observed store.Row, t time.Time) (predicted store.Row, fired []Rule, err error)
