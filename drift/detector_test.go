package drift

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"pulse.dev/rtcore/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(store.Config{Path: t.TempDir(), Compression: store.CompressionNone})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func putDatasetVersion(t *testing.T, s *store.Store, name string, rows []store.Row) int {
	t.Helper()
	itemID, err := s.PutRowBatch(context.Background(), name, "test", nil, rows)
	require.NoError(t, err)
	ds, err := s.PutDataset(name, []string{itemID}, "", store.CompressionNone)
	require.NoError(t, err)
	return ds.Version
}

func TestEvaluateFiresRegimeEventOnLargeShift(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	var refRows, curRows []store.Row
	for i := 0; i < 20; i++ {
		refRows = append(refRows, store.Row{"x": float64(i)})
		curRows = append(curRows, store.Row{"x": float64(i) + 1000})
	}
	refVersion := putDatasetVersion(t, s, "prices", refRows)
	curVersion := putDatasetVersion(t, s, "prices", curRows)

	d := New(s, Config{EventThreshold: 0.3, HysteresisMargin: 0.05})
	specs := []FeatureSpec{{Column: "x", Kind: KindContinuous, Threshold: 0.05, MinSamples: 5, Weight: 1}}

	event, err := d.Evaluate(ctx, "prices", refVersion, curVersion, "batch", specs)
	require.NoError(t, err)
	require.NotNil(t, event)
	require.Len(t, event.Features, 1)
	require.True(t, event.Features[0].Flagged)
}

func TestEvaluateNoShiftProducesNoEvent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	var rows []store.Row
	for i := 0; i < 20; i++ {
		rows = append(rows, store.Row{"x": float64(i)})
	}
	refVersion := putDatasetVersion(t, s, "stable", rows)
	curVersion := putDatasetVersion(t, s, "stable", rows)

	d := New(s, Config{EventThreshold: 0.3, HysteresisMargin: 0.05})
	specs := []FeatureSpec{{Column: "x", Kind: KindContinuous, Threshold: 0.05, MinSamples: 5, Weight: 1}}

	event, err := d.Evaluate(ctx, "stable", refVersion, curVersion, "batch", specs)
	require.NoError(t, err)
	require.Nil(t, event)
}

func TestEvaluateSkipsFeatureBelowMinSamples(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	refVersion := putDatasetVersion(t, s, "sparse", []store.Row{{"x": 1.0}})
	curVersion := putDatasetVersion(t, s, "sparse", []store.Row{{"x": 500.0}})

	d := New(s, Config{EventThreshold: 0.3, HysteresisMargin: 0.05})
	specs := []FeatureSpec{{Column: "x", Kind: KindContinuous, Threshold: 0.05, MinSamples: 10, Weight: 1}}

	event, err := d.Evaluate(ctx, "sparse", refVersion, curVersion, "batch", specs)
	require.NoError(t, err)
	require.Nil(t, event)
}

func TestEvaluateCategoricalFeature(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	var refRows, curRows []store.Row
	for i := 0; i < 50; i++ {
		refRows = append(refRows, store.Row{"c": "a"})
		curRows = append(curRows, store.Row{"c": "b"})
	}
	refVersion := putDatasetVersion(t, s, "cats", refRows)
	curVersion := putDatasetVersion(t, s, "cats", curRows)

	d := New(s, Config{EventThreshold: 0.3, HysteresisMargin: 0.05})
	specs := []FeatureSpec{{Column: "c", Kind: KindCategorical, Threshold: 0.05, MinSamples: 5, Weight: 1}}

	event, err := d.Evaluate(ctx, "cats", refVersion, curVersion, "batch", specs)
	require.NoError(t, err)
	require.NotNil(t, event)
	require.True(t, event.Features[0].Flagged)
}
