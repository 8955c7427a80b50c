package ingestion

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPollGateBypassesCapOnFirstPoll(t *testing.T) {
	g := newPollGate(10, 10, time.Hour)
	assert.True(t, g.allowPoll("a", time.Now()))
}

func TestPollGateRejectsSecondPollWithinMinPeriod(t *testing.T) {
	g := newPollGate(10, 10, time.Hour)
	now := time.Now()
	assert.True(t, g.allowPoll("a", now))
	assert.False(t, g.allowPoll("a", now.Add(time.Minute)))
}

func TestPollGateAllowsPollAfterMinPeriodElapses(t *testing.T) {
	g := newPollGate(10, 10, time.Minute)
	now := time.Now()
	assert.True(t, g.allowPoll("a", now))
	assert.True(t, g.allowPoll("a", now.Add(2*time.Minute)))
}

func TestPollGateTracksAdaptersIndependently(t *testing.T) {
	g := newPollGate(10, 10, time.Hour)
	now := time.Now()
	assert.True(t, g.allowPoll("a", now))
	assert.True(t, g.allowPoll("b", now))
}

func TestLimiterForReturnsSameLimiterForAdapter(t *testing.T) {
	g := newPollGate(10, 10, time.Hour)
	l1 := g.limiterFor("a")
	l2 := g.limiterFor("a")
	assert.Same(t, l1, l2)
}
