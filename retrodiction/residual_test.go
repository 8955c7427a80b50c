package retrodiction

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulse.dev/rtcore/store"
)

func TestRowTimeParsesRFC3339(t *testing.T) {
	row := store.Row{"t": "2026-01-01T00:00:00Z"}
	tm, err := rowTime(row)
	require.NoError(t, err)
	assert.Equal(t, 2026, tm.Year())
}

func TestRowTimeRejectsMissingColumn(t *testing.T) {
	_, err := rowTime(store.Row{})
	assert.Error(t, err)
}

func TestVariableStatsPerfectPredictionsZeroError(t *testing.T) {
	s := &variableStats{}
	s.add(1.0, 1.0)
	s.add(2.0, 2.0)
	assert.Equal(t, 0.0, s.rmse())
	assert.Equal(t, 0.0, s.mae())
}

func TestVariableStatsDetectsImprovement(t *testing.T) {
	s := &variableStats{}
	s.add(5.0, 1.0) // err=4
	improved := s.add(2.0, 1.0) // err=1, improved
	assert.True(t, improved)
}

func TestVariableStatsCoverage(t *testing.T) {
	s := &variableStats{}
	s.add(1.0, 1.0)
	assert.Equal(t, 0.5, s.coverage(2))
	assert.Equal(t, 1.0, s.coverage(0))
}

func TestVariableStatsR2ConstantObservedIsZero(t *testing.T) {
	s := &variableStats{}
	s.add(1.0, 1.0)
	s.add(1.0, 1.0)
	assert.Equal(t, 0.0, s.r2())
}
