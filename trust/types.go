// Package trust maintains Beta-distributed reliability estimates per
// entity, updated in high-throughput batches and snapshot/restorable as a
// unit.
package trust

import "time"

// Entity is a point-in-time reliability estimate for one entity_id.
type Entity struct {
	EntityID    string    `json:"entity_id"`
	Alpha       float64   `json:"alpha"`
	Beta        float64   `json:"beta"`
	SampleCount int64     `json:"sample_count"`
	LastUpdateAt time.Time `json:"last_update_at"`
}

// Mean is the point estimate of reliability, alpha/(alpha+beta).
func (e Entity) Mean() float64 {
	return e.Alpha / (e.Alpha + e.Beta)
}

// Update is one observation to fold into an entity's posterior.
type Update struct {
	EntityID string
	Successes float64
	Failures  float64
	Weight    float64
}

// Report summarizes the tracker's current state for observability.
type Report struct {
	Entities map[string]EntitySummary
}

// EntitySummary is one row of Report.
type EntitySummary struct {
	Mean         float64   `json:"mean"`
	Samples      int64     `json:"samples"`
	CIWidth      float64   `json:"ci_width"`
	LastUpdateAt time.Time `json:"last_update_at"`
}
