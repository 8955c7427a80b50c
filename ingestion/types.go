// Package ingestion implements the Ingestion Manager: it drives pluggable
// source adapters under per-adapter rate/poll-frequency limits and a
// run-level cost budget, validating and writing accepted items into the
// Store.
package ingestion

import (
	"context"
	"time"
)

// Window is the half-open time range an adapter is asked to fetch.
type Window struct {
	Start time.Time
	End   time.Time
}

// Item is a raw fetched record, not yet content-addressed; the Store
// assigns its item_id on PutItem.
type Item struct {
	Metadata map[string]interface{}
	Payload  []byte
}

// SchemaSpec describes the shape an adapter's items must conform to.
type SchemaSpec struct {
	RequiredFields []string
	FieldTypes     map[string]string // field -> "number"|"string"|"bool"
}

// CostEstimate is an adapter's projection of what a fetch will cost,
// consulted by the Cost Controller before a run is admitted.
type CostEstimate struct {
	Category string
	Units    float64
}

// SourceAdapter is the pluggable ingestion source contract (spec §6).
// Adapters must be idempotent at the item_id level: replaying the same
// window must not create duplicate stored items (the Store's
// content-addressing already guarantees this as long as an adapter
// reports the same metadata/payload for the same logical record).
type SourceAdapter interface {
	ID() string
	DescribeSchema() SchemaSpec
	Fetch(ctx context.Context, window Window, params map[string]interface{}) (<-chan Item, <-chan error)
	EstimatedCost(window Window, params map[string]interface{}) CostEstimate
}
