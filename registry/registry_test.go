package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulse.dev/rtcore/store"
)

func TestRegisterThenLookupReturnsRegisteredRun(t *testing.T) {
	r := New()
	runCtx, err := r.Register(context.Background(), "run-1")
	require.NoError(t, err)
	require.NotNil(t, runCtx)

	h, ok := r.Lookup("run-1")
	require.True(t, ok)
	assert.Equal(t, RunRegistered, h.Status)
}

func TestRegisterRejectsDuplicateRunID(t *testing.T) {
	r := New()
	_, err := r.Register(context.Background(), "run-1")
	require.NoError(t, err)

	_, err = r.Register(context.Background(), "run-1")
	assert.Error(t, err)
}

func TestCancelInvokesRunContextCancellation(t *testing.T) {
	r := New()
	runCtx, err := r.Register(context.Background(), "run-1")
	require.NoError(t, err)

	require.NoError(t, r.Cancel("run-1"))

	select {
	case <-runCtx.Done():
	case <-time.After(time.Second):
		t.Fatal("expected run context to be cancelled")
	}

	h, ok := r.Lookup("run-1")
	require.True(t, ok)
	assert.Equal(t, RunCancelled, h.Status)
}

func TestRecordBatchAccumulatesStats(t *testing.T) {
	r := New()
	_, err := r.Register(context.Background(), "run-1")
	require.NoError(t, err)

	require.NoError(t, r.RecordBatch("run-1", 2, 1, 0))
	require.NoError(t, r.RecordBatch("run-1", 1, 0, 1))

	h, _ := r.Lookup("run-1")
	assert.Equal(t, 3, h.Stats.BatchesCompleted)
	assert.Equal(t, 1, h.Stats.BatchesFailed)
	assert.Equal(t, 1, h.Stats.BatchesDeferred)
}

func TestCompleteTransitionsStatus(t *testing.T) {
	r := New()
	_, err := r.Register(context.Background(), "run-1")
	require.NoError(t, err)

	require.NoError(t, r.Complete("run-1", RunCompleted))
	h, _ := r.Lookup("run-1")
	assert.Equal(t, RunCompleted, h.Status)
}

func TestListReturnsAllTrackedRuns(t *testing.T) {
	r := New()
	_, _ = r.Register(context.Background(), "run-1")
	_, _ = r.Register(context.Background(), "run-2")

	assert.Len(t, r.List(), 2)
}

func TestReconcileMarksRunWithoutCheckpointOrphaned(t *testing.T) {
	s := openTestStore(t)
	r := New()

	r.Reconcile(context.Background(), s, []string{"run-stale"}, time.Hour)

	h, ok := r.Lookup("run-stale")
	require.True(t, ok)
	assert.Equal(t, RunOrphaned, h.Status)
}

func TestReconcileRestoresRunWithRecentCheckpointAsRunning(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.PutCheckpoint("run-fresh", store.Checkpoint{RunID: "run-fresh", BatchIndex: 2, At: time.Now()}))

	r := New()
	r.Reconcile(context.Background(), s, []string{"run-fresh"}, time.Hour)

	h, ok := r.Lookup("run-fresh")
	require.True(t, ok)
	assert.Equal(t, RunRunning, h.Status)
}

func TestReconcileSkipsRunsAlreadyTracked(t *testing.T) {
	s := openTestStore(t)
	r := New()
	_, err := r.Register(context.Background(), "run-1")
	require.NoError(t, err)
	require.NoError(t, r.MarkRunning("run-1"))

	r.Reconcile(context.Background(), s, []string{"run-1"}, time.Hour)

	h, _ := r.Lookup("run-1")
	assert.Equal(t, RunRunning, h.Status)
}

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(store.Config{Path: t.TempDir(), Compression: store.CompressionNone})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}
