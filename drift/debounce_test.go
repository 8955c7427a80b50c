package drift

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func testCfg() Config {
	return Config{EventThreshold: 0.5, HysteresisMargin: 0.1, CooldownPeriod: time.Minute}
}

func TestDebouncerFiresOnFirstCrossing(t *testing.T) {
	d := newDebouncer()
	now := time.Now()
	assert.True(t, d.allow("ds|kind", 0.6, testCfg(), now))
}

func TestDebouncerSuppressesRepeatedCrossingDuringCooldown(t *testing.T) {
	d := newDebouncer()
	now := time.Now()
	assert.True(t, d.allow("ds|kind", 0.6, testCfg(), now))
	assert.False(t, d.allow("ds|kind", 0.6, testCfg(), now.Add(time.Second)))
}

func TestDebouncerRequiresDropBelowResetThresholdToRearm(t *testing.T) {
	d := newDebouncer()
	cfg := testCfg()
	now := time.Now()
	assert.True(t, d.allow("ds|kind", 0.6, cfg, now))

	later := now.Add(2 * time.Minute)
	assert.False(t, d.allow("ds|kind", 0.55, cfg, later))

	assert.False(t, d.allow("ds|kind", 0.3, cfg, later))

	assert.True(t, d.allow("ds|kind", 0.6, cfg, later.Add(time.Second)))
}

func TestDebouncerKeysAreIndependent(t *testing.T) {
	d := newDebouncer()
	now := time.Now()
	assert.True(t, d.allow("a|kind", 0.6, testCfg(), now))
	assert.True(t, d.allow("b|kind", 0.6, testCfg(), now))
}

func TestDebouncerBelowThresholdNeverFires(t *testing.T) {
	d := newDebouncer()
	assert.False(t, d.allow("ds|kind", 0.2, testCfg(), time.Now()))
}
