package adapters

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulse.dev/rtcore/drift"
)

func TestRedisRegimeEventSinkPublishesToChannel(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	sink, err := NewRedisRegimeEventSink("redis://"+mr.Addr(), "rtcore.regime_events")
	require.NoError(t, err)
	defer sink.Close()

	event := drift.RegimeEvent{Dataset: "macro", Kind: "distribution", Score: 0.9, DetectedAt: time.Now()}
	require.NoError(t, sink.Publish(context.Background(), event))
}

func TestRedisRegimeEventSinkFailsOnUnparseableURL(t *testing.T) {
	_, err := NewRedisRegimeEventSink("not-a-url", "channel")
	assert.Error(t, err)
}

func TestRedisRegimeEventSinkFailsWhenUnreachable(t *testing.T) {
	_, err := NewRedisRegimeEventSink("redis://127.0.0.1:1", "channel")
	assert.Error(t, err)
}

func TestRegimeEventMarshalsToJSON(t *testing.T) {
	event := drift.RegimeEvent{Dataset: "macro", Kind: "distribution", Score: 0.5, DetectedAt: time.Now()}
	data, err := json.Marshal(event)
	require.NoError(t, err)
	assert.Contains(t, string(data), "macro")
}
