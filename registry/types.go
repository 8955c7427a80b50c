// Package registry implements the Process Registry & Cost Controller: it
// tracks active runs, their cancellation tokens, and their accumulated cost
// across categories, enforcing budget thresholds and per-category rate
// caps. Unlike the registry this is adapted from, there is no package-level
// singleton; callers construct a *Registry explicitly and pass it through.
package registry

import (
	"context"
	"time"
)

// RunStatus is a run's lifecycle state in the registry.
type RunStatus string

const (
	RunRegistered RunStatus = "registered"
	RunRunning    RunStatus = "running"
	RunCompleted  RunStatus = "completed"
	RunFailed     RunStatus = "failed"
	RunCancelled  RunStatus = "cancelled"
	RunOrphaned   RunStatus = "orphaned"
)

// RunStats is the mutable counters a RunHandle accumulates over its life.
type RunStats struct {
	BatchesCompleted int
	BatchesFailed    int
	BatchesDeferred  int
}

// RunHandle is the registry's record for one active or finished run.
type RunHandle struct {
	RunID     string
	Status    RunStatus
	StartedAt time.Time
	UpdatedAt time.Time
	Stats     RunStats

	cancel context.CancelFunc
}

// CostCategory names one of the budgeted cost dimensions.
type CostCategory string

const (
	CategoryAPICalls     CostCategory = "api_calls"
	CategoryComputeUnits CostCategory = "compute_units"
	CategoryStorageOps   CostCategory = "storage_ops"
)

// Budget configures the soft/hard thresholds and rate cap for one category.
type Budget struct {
	SoftThreshold float64
	HardThreshold float64
	RatePerSecond float64
	RateBurst     int
}
