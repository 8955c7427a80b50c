// Package adapters defines the narrow traits the core depends on to reach
// host systems it does not own: a read-only rule repository, an
// at-least-once regime event sink, and an optional model artifact
// registry. Concrete transports (Redis, WebSocket, S3) are collaborators
// behind these traits, never imported by core packages directly.
package adapters

import (
	"context"

	"pulse.dev/rtcore/drift"
	"pulse.dev/rtcore/retrodiction"
)

// RuleSummary is the minimal shape list_active streams; it is the same
// fields as retrodiction.Rule since the core never needs more than
// id+variables to attribute a firing.
type RuleSummary = retrodiction.Rule

// RuleRepository is read-only from the core's perspective: rules are
// authored and maintained by a host system, not mutated here.
type RuleRepository interface {
	GetRule(ctx context.Context, id string) (retrodiction.Rule, error)
	ListActive(ctx context.Context) (<-chan RuleSummary, <-chan error)
}

// RegimeEventSink publishes drift events to external consumers with
// at-least-once delivery; consumers are responsible for de-duplication.
type RegimeEventSink interface {
	Publish(ctx context.Context, event drift.RegimeEvent) error
}

// ArtifactRef identifies a previously registered model artifact.
type ArtifactRef struct {
	Key string
}

// ModelRegistry persists trained parameters or snapshots a worker wants to
// keep beyond a single run. Optional per spec: components that don't use
// it are never forced to depend on this package.
type ModelRegistry interface {
	RegisterArtifact(ctx context.Context, runID, name string, data []byte, metadata map[string]interface{}) (ArtifactRef, error)
	GetArtifact(ctx context.Context, ref ArtifactRef) ([]byte, error)
}
