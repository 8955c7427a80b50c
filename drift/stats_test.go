package drift

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKSTestIdenticalDistributionsHighPValue(t *testing.T) {
	a := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	b := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	_, p := ksTest(a, b)
	assert.Greater(t, p, 0.9)
}

func TestKSTestShiftedDistributionLowPValue(t *testing.T) {
	a := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	b := []float64{101, 102, 103, 104, 105, 106, 107, 108, 109, 110}
	_, p := ksTest(a, b)
	assert.Less(t, p, 0.01)
}

func TestKSTestEmptySampleReturnsPValueOne(t *testing.T) {
	_, p := ksTest(nil, []float64{1, 2, 3})
	assert.Equal(t, 1.0, p)
}

func TestChiSquaredIdenticalDistributionsHighPValue(t *testing.T) {
	ref := map[string]int{"a": 50, "b": 50}
	cur := map[string]int{"a": 50, "b": 50}
	_, p, df := chiSquaredTest(ref, cur)
	assert.Equal(t, 1, df)
	assert.Greater(t, p, 0.9)
}

func TestChiSquaredShiftedDistributionLowPValue(t *testing.T) {
	ref := map[string]int{"a": 95, "b": 5}
	cur := map[string]int{"a": 5, "b": 95}
	_, p, _ := chiSquaredTest(ref, cur)
	assert.Less(t, p, 0.01)
}

func TestChiSquaredSingleCategoryReturnsNoSignal(t *testing.T) {
	ref := map[string]int{"a": 10}
	cur := map[string]int{"a": 10}
	_, p, df := chiSquaredTest(ref, cur)
	assert.Equal(t, 0, df)
	assert.Equal(t, 1.0, p)
}
