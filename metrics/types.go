// Package metrics implements the Metrics Store (an append-only,
// Postgres-backed index for training metrics and cost events) and the
// Async Metrics Collector that batches submissions into it.
package metrics

import "time"

// Event is a single training metric observation.
type Event struct {
	MetricID string            `json:"metric_id"`
	RunID    string            `json:"run_id"`
	Name     string            `json:"name"`
	Value    float64           `json:"value"`
	Tags     map[string]string `json:"tags"`
	At       time.Time         `json:"at"`
}

// CostEvent is a single cost observation counted toward a run's budget.
type CostEvent struct {
	RunID    string    `json:"run_id"`
	Category string    `json:"category"`
	Units    float64   `json:"units"`
	Cost     float64   `json:"cost"`
	At       time.Time `json:"at"`
}

// Aggregation is one of the summary operators range/summary supports.
type Aggregation string

const (
	AggMean  Aggregation = "mean"
	AggSum   Aggregation = "sum"
	AggMin   Aggregation = "min"
	AggMax   Aggregation = "max"
	AggP50   Aggregation = "p50"
	AggP90   Aggregation = "p90"
	AggP99   Aggregation = "p99"
	AggCount Aggregation = "count"
)

// RunCost is the running per-run cumulative cost, grouped by category.
type RunCost struct {
	RunID          string             `json:"run_id"`
	TotalCost      float64            `json:"total_cost"`
	CostByCategory map[string]float64 `json:"cost_by_category"`
}
