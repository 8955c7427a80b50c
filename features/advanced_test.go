package features

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulse.dev/rtcore/store"
)

func TestAdvancedStepsDisabledByEnv(t *testing.T) {
	t.Setenv("RTCORE_FEATURES_ADVANCED", "0")
	_, err := stepSTFT(rowsOf(1, 2, 3, 4), map[string]interface{}{"column": "x", "window": 2.0})
	assert.Error(t, err)
}

func TestStepSTFTProducesMagnitudeBins(t *testing.T) {
	t.Setenv("RTCORE_FEATURES_ADVANCED", "1")
	out, err := stepSTFT(rowsOf(1, 2, 3, 4), map[string]interface{}{"column": "x", "window": 2.0})
	require.NoError(t, err)
	_, ok := out[1]["x_stft_0"]
	assert.True(t, ok)
}

func TestStepComovementGraphProducesScore(t *testing.T) {
	t.Setenv("RTCORE_FEATURES_ADVANCED", "1")
	rows := []store.Row{
		{"a": 1.0, "b": 2.0},
		{"a": 2.0, "b": 4.0},
		{"a": 3.0, "b": 6.0},
	}
	out, err := stepComovementGraph(rows, map[string]interface{}{
		"columns": []interface{}{"a", "b"},
		"window":  3.0,
	})
	require.NoError(t, err)
	score, ok := out[2]["comovement"].(float64)
	require.True(t, ok)
	assert.InDelta(t, 1.0, score, 1e-6)
}

func TestStepEmbeddingProducesDims(t *testing.T) {
	t.Setenv("RTCORE_FEATURES_ADVANCED", "1")
	rows := []store.Row{{"a": 1.0, "b": 2.0, "c": 3.0}}
	out, err := stepEmbedding(rows, map[string]interface{}{
		"columns": []interface{}{"a", "b", "c"},
		"dims":    2.0,
	})
	require.NoError(t, err)
	_, ok0 := out[0]["embedding_0"]
	_, ok1 := out[0]["embedding_1"]
	assert.True(t, ok0)
	assert.True(t, ok1)
}
