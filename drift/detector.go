package drift

import (
	"context"
	"fmt"
	"time"

	"pulse.dev/rtcore/classify"
	"pulse.dev/rtcore/common"
	"pulse.dev/rtcore/store"
)

// Config tunes the aggregate score threshold and debounce behavior shared
// across every (dataset, kind) the Detector evaluates.
type Config struct {
	EventThreshold   float64
	HysteresisMargin float64
	CooldownPeriod   time.Duration
}

func (c Config) withDefaults() Config {
	if c.EventThreshold <= 0 {
		c.EventThreshold = 0.3
	}
	if c.HysteresisMargin <= 0 {
		c.HysteresisMargin = 0.05
	}
	if c.CooldownPeriod <= 0 {
		c.CooldownPeriod = 5 * time.Minute
	}
	return c
}

// Detector compares a reference dataset version against a current one,
// per registered FeatureSpec, and emits a debounced RegimeEvent when the
// importance-weighted fraction of flagged features crosses threshold. It
// only reads from the Store, via StreamDataset, and never mutates stored
// data.
type Detector struct {
	store *store.Store
	cfg   Config
	debounce *debouncer
	log   *common.ContextLogger
}

func New(s *store.Store, cfg Config) *Detector {
	return &Detector{
		store:    s,
		cfg:      cfg.withDefaults(),
		debounce: newDebouncer(),
		log:      common.ComponentLogger(common.Logger, "drift"),
	}
}

// Evaluate streams the reference and current versions of dataset, runs
// each FeatureSpec's test, and returns a non-nil RegimeEvent only when the
// aggregate score crosses Config.EventThreshold and the (dataset, kind)
// debounce gate allows it.
func (d *Detector) Evaluate(ctx context.Context, dataset string, referenceVersion, currentVersion int, kind string, specs []FeatureSpec) (*RegimeEvent, error) {
	columns := make([]string, 0, len(specs))
	seen := make(map[string]bool, len(specs))
	for _, spec := range specs {
		if !seen[spec.Column] {
			seen[spec.Column] = true
			columns = append(columns, spec.Column)
		}
	}

	reference, err := d.loadColumns(ctx, dataset, referenceVersion, columns)
	if err != nil {
		return nil, err
	}
	current, err := d.loadColumns(ctx, dataset, currentVersion, columns)
	if err != nil {
		return nil, err
	}

	results := make([]FeatureResult, 0, len(specs))
	var weightedFlagged, totalWeight float64

	for _, spec := range specs {
		refVals := reference[spec.Column]
		curVals := current[spec.Column]
		if len(refVals) < spec.MinSamples || len(curVals) < spec.MinSamples {
			continue
		}

		var pValue float64
		switch spec.Kind {
		case KindContinuous:
			refFloats, err := toFloats(refVals)
			if err != nil {
				return nil, classify.New(classify.DataSchemaMismatch, fmt.Sprintf("column %q is not numeric", spec.Column), err)
			}
			curFloats, err := toFloats(curVals)
			if err != nil {
				return nil, classify.New(classify.DataSchemaMismatch, fmt.Sprintf("column %q is not numeric", spec.Column), err)
			}
			_, pValue = ksTest(refFloats, curFloats)
		case KindCategorical:
			_, pValue, _ = chiSquaredTest(toCounts(refVals), toCounts(curVals))
		default:
			return nil, classify.New(classify.DataInvalidInput, fmt.Sprintf("unknown feature kind %q", spec.Kind), nil)
		}

		flagged := pValue < spec.Threshold
		results = append(results, FeatureResult{Column: spec.Column, PValue: pValue, Flagged: flagged})

		weight := spec.Weight
		if weight <= 0 {
			weight = 1
		}
		totalWeight += weight
		if flagged {
			weightedFlagged += weight
		}
	}

	var score float64
	if totalWeight > 0 {
		score = weightedFlagged / totalWeight
	}

	key := dataset + "|" + kind
	now := time.Now()
	if !d.debounce.allow(key, score, d.cfg, now) {
		return nil, nil
	}

	event := &RegimeEvent{
		Dataset:    dataset,
		Kind:       kind,
		Score:      score,
		Features:   results,
		DetectedAt: now,
	}
	d.log.WithFields(map[string]interface{}{
		"dataset": dataset,
		"kind":    kind,
		"score":   score,
	}).Warn("regime event detected")
	return event, nil
}

func (d *Detector) loadColumns(ctx context.Context, dataset string, version int, cols []string) (map[string][]interface{}, error) {
	columns := make(map[string][]interface{})
	batches, errs := d.store.StreamDataset(ctx, dataset, version, cols, nil, 0)
	for batches != nil || errs != nil {
		select {
		case b, ok := <-batches:
			if !ok {
				batches = nil
				continue
			}
			for _, row := range b.Rows {
				for col, v := range row {
					columns[col] = append(columns[col], v)
				}
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil {
				return nil, classify.Wrap(err, "failed to stream dataset for drift detection", nil)
			}
		}
	}
	return columns, nil
}

func toFloats(values []interface{}) ([]float64, error) {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if v == nil {
			continue
		}
		f, err := toFloat(v)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

func toFloat(v interface{}) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	default:
		return 0, fmt.Errorf("unsupported numeric type %T", v)
	}
}

func toCounts(values []interface{}) map[string]int {
	counts := make(map[string]int)
	for _, v := range values {
		if v == nil {
			continue
		}
		counts[fmt.Sprintf("%v", v)]++
	}
	return counts
}
