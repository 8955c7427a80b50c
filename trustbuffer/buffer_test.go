package trustbuffer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulse.dev/rtcore/trust"
)

func newTestTracker() *trust.Tracker {
	return trust.New(trust.Config{PriorAlpha: 1, PriorBeta: 1})
}

func TestFlushThresholdTriggersImmediateApply(t *testing.T) {
	tracker := newTestTracker()
	buf := New(tracker, Config{Capacity: 10, FlushThreshold: 2, MaxLinger: time.Hour, EnqueueTimeout: time.Second})
	defer buf.Shutdown()

	require.NoError(t, buf.Enqueue("e1", trust.Update{Successes: 1, Weight: 1}))
	require.NoError(t, buf.Enqueue("e1", trust.Update{Successes: 1, Weight: 1}))

	assert.Eventually(t, func() bool {
		e, ok := tracker.Get("e1")
		return ok && e.SampleCount == 1
	}, time.Second, time.Millisecond)
}

func TestMaxLingerFlushesEvenBelowThreshold(t *testing.T) {
	tracker := newTestTracker()
	buf := New(tracker, Config{Capacity: 10, FlushThreshold: 100, MaxLinger: 10 * time.Millisecond, EnqueueTimeout: time.Second})
	defer buf.Shutdown()

	require.NoError(t, buf.Enqueue("e1", trust.Update{Successes: 1, Weight: 1}))

	assert.Eventually(t, func() bool {
		_, ok := tracker.Get("e1")
		return ok
	}, time.Second, time.Millisecond)
}

func TestExplicitFlushAppliesPendingImmediately(t *testing.T) {
	tracker := newTestTracker()
	buf := New(tracker, Config{Capacity: 10, FlushThreshold: 100, MaxLinger: time.Hour, EnqueueTimeout: time.Second})
	defer buf.Shutdown()

	require.NoError(t, buf.Enqueue("e1", trust.Update{Successes: 1, Weight: 1}))
	_, ok := tracker.Get("e1")
	assert.False(t, ok)

	buf.Flush()

	_, ok = tracker.Get("e1")
	assert.True(t, ok)
}

func TestShutdownFlushesPending(t *testing.T) {
	tracker := newTestTracker()
	buf := New(tracker, Config{Capacity: 10, FlushThreshold: 100, MaxLinger: time.Hour, EnqueueTimeout: time.Second})

	require.NoError(t, buf.Enqueue("e1", trust.Update{Successes: 1, Weight: 1}))
	buf.Shutdown()

	_, ok := tracker.Get("e1")
	assert.True(t, ok)
}

func TestEnqueueAfterShutdownErrors(t *testing.T) {
	tracker := newTestTracker()
	buf := New(tracker, Config{Capacity: 1, FlushThreshold: 1, MaxLinger: time.Hour, EnqueueTimeout: time.Millisecond})
	buf.Shutdown()

	err := buf.Enqueue("e1", trust.Update{Successes: 1, Weight: 1})
	assert.Error(t, err)
}

func TestEnqueueBlocksAndTimesOutWhenFull(t *testing.T) {
	tracker := newTestTracker()
	buf := New(tracker, Config{Capacity: 1, FlushThreshold: 100, MaxLinger: time.Hour, EnqueueTimeout: 20 * time.Millisecond})
	defer buf.Shutdown()

	require.NoError(t, buf.Enqueue("e1", trust.Update{Successes: 1, Weight: 1}))
	err := buf.Enqueue("e1", trust.Update{Successes: 1, Weight: 1})
	assert.ErrorIs(t, err, ErrBufferFull)
}

func TestCrossEntityIndependence(t *testing.T) {
	tracker := newTestTracker()
	buf := New(tracker, Config{Capacity: 10, FlushThreshold: 1, MaxLinger: time.Hour, EnqueueTimeout: time.Second})
	defer buf.Shutdown()

	require.NoError(t, buf.Enqueue("a", trust.Update{Successes: 1, Weight: 1}))
	require.NoError(t, buf.Enqueue("b", trust.Update{Failures: 1, Weight: 1}))

	assert.Eventually(t, func() bool {
		_, okA := tracker.Get("a")
		_, okB := tracker.Get("b")
		return okA && okB
	}, time.Second, time.Millisecond)
}
