package features

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulse.dev/rtcore/classify"
	"pulse.dev/rtcore/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(store.Config{Path: t.TempDir(), Compression: store.CompressionNone})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func putRowItem(t *testing.T, s *store.Store, row store.Row) string {
	t.Helper()
	payload, err := json.Marshal(row)
	require.NoError(t, err)
	id, err := s.PutItem(context.Background(), "", "test", nil, payload)
	require.NoError(t, err)
	return id
}

func TestProcessComputesAndCachesFeature(t *testing.T) {
	s := openTestStore(t)
	p := New(s)
	ctx := context.Background()

	id1 := putRowItem(t, s, store.Row{"x": 1.0})
	id2 := putRowItem(t, s, store.Row{"x": 3.0})

	pipeline := Pipeline{Steps: []StepSpec{{StepID: "normalize.zscore", StepVersion: "v1", Params: map[string]interface{}{"column": "x"}}}}

	fID1, err := p.Process(ctx, []string{id1, id2}, pipeline)
	require.NoError(t, err)
	assert.NotEmpty(t, fID1)

	fID2, err := p.Process(ctx, []string{id1, id2}, pipeline)
	require.NoError(t, err)
	assert.Equal(t, fID1, fID2)

	record, err := p.Get(ctx, fID1)
	require.NoError(t, err)
	assert.Equal(t, []string{id1, id2}, record.SourceItemIDs)
	assert.Len(t, record.Values, 2)
}

func TestProcessDifferentParamsProduceDifferentFeatureID(t *testing.T) {
	s := openTestStore(t)
	p := New(s)
	ctx := context.Background()

	id := putRowItem(t, s, store.Row{"x": 5.0})

	p1 := Pipeline{Steps: []StepSpec{{StepID: "normalize.minmax", StepVersion: "v1", Params: map[string]interface{}{"column": "x"}}}}
	p2 := Pipeline{Steps: []StepSpec{{StepID: "normalize.minmax", StepVersion: "v1", Params: map[string]interface{}{"column": "y"}}}}

	f1, err := p.Process(ctx, []string{id}, p1)
	require.NoError(t, err)
	f2, err := p.Process(ctx, []string{id}, p2)
	require.NoError(t, err)

	assert.NotEqual(t, f1, f2)
}

func TestGetUnknownFeatureIDReturnsNotFound(t *testing.T) {
	s := openTestStore(t)
	p := New(s)

	_, err := p.Get(context.Background(), "nonexistent")
	require.Error(t, err)
	cerr, ok := classify.As(err)
	require.True(t, ok)
	assert.Equal(t, classify.StorageNotFound, cerr.Class)
}

func TestInvalidateRemovesCacheEntry(t *testing.T) {
	s := openTestStore(t)
	p := New(s)
	ctx := context.Background()

	id := putRowItem(t, s, store.Row{"x": 1.0})
	pipeline := Pipeline{Steps: []StepSpec{{StepID: "normalize.minmax", StepVersion: "v1", Params: map[string]interface{}{"column": "x"}}}}

	fID, err := p.Process(ctx, []string{id}, pipeline)
	require.NoError(t, err)

	pipelineID, _ := pipeline.PipelineID()
	pipelineVersion, _ := pipeline.PipelineVersion()
	n, err := p.Invalidate(pipelineID, pipelineVersion)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = p.Get(ctx, fID)
	assert.Error(t, err)
}

func TestProcessUnknownStepIDErrors(t *testing.T) {
	s := openTestStore(t)
	p := New(s)
	ctx := context.Background()

	id := putRowItem(t, s, store.Row{"x": 1.0})
	pipeline := Pipeline{Steps: []StepSpec{{StepID: "nonexistent.step", StepVersion: "v1"}}}

	_, err := p.Process(ctx, []string{id}, pipeline)
	assert.Error(t, err)
}
