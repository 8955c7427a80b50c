// Package drift implements the Drift/Regime Detector: it compares a
// reference window of feature values against a current window, per
// feature, and emits a debounced RegimeEvent when the aggregate weighted
// change score crosses a threshold with hysteresis.
package drift

import "time"

// FeatureKind selects which statistical test a feature is compared with.
type FeatureKind string

const (
	KindContinuous FeatureKind = "continuous"
	KindCategorical FeatureKind = "categorical"
)

// FeatureSpec names a feature column, its kind, its statistical
// significance threshold, the minimum sample size the test requires to be
// trusted, and its weight in the aggregate score.
type FeatureSpec struct {
	Column    string
	Kind      FeatureKind
	Threshold float64 // p-value below this flags the feature
	MinSamples int
	Weight    float64
}

// FeatureResult is one feature's per-window test outcome.
type FeatureResult struct {
	Column  string
	PValue  float64
	Flagged bool
}

// RegimeEvent is emitted when the aggregate score crosses EventThreshold
// with hysteresis, debounced by (Dataset, Kind) cooldown.
type RegimeEvent struct {
	Dataset   string
	Kind      string
	Score     float64
	Features  []FeatureResult
	DetectedAt time.Time
}
