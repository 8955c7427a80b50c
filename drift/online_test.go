package drift

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOnlineDetectorStableStreamNoChange(t *testing.T) {
	d := NewOnlineDetector(0.01, 500)
	changed := false
	for i := 0; i < 200; i++ {
		v := 1.0
		if i%2 == 0 {
			v = -1.0
		}
		if d.Update(v) {
			changed = true
		}
	}
	assert.False(t, changed)
}

func TestOnlineDetectorDetectsMeanShift(t *testing.T) {
	d := NewOnlineDetector(0.01, 500)
	changed := false
	for i := 0; i < 100; i++ {
		if d.Update(0.0) {
			changed = true
		}
	}
	for i := 0; i < 100; i++ {
		if d.Update(100.0) {
			changed = true
		}
	}
	assert.True(t, changed)
}
