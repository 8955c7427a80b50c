package drift

import (
	"sync"
	"time"
)

type debounceState struct {
	armed       bool
	lastEventAt time.Time
}

// debouncer implements the hysteresis + cooldown gate shared across
// (dataset, kind) keys: a RegimeEvent only fires when the score crosses
// EventThreshold, the gate is armed, and at least CooldownPeriod has
// elapsed since the last event for that key. The gate disarms on firing
// and only re-arms once the score has dropped back below
// EventThreshold-HysteresisMargin, preventing rapid re-firing while the
// score oscillates around the threshold.
type debouncer struct {
	mu     sync.Mutex
	states map[string]*debounceState
}

func newDebouncer() *debouncer {
	return &debouncer{states: make(map[string]*debounceState)}
}

func (d *debouncer) allow(key string, score float64, cfg Config, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	s, ok := d.states[key]
	if !ok {
		s = &debounceState{armed: true}
		d.states[key] = s
	}

	resetThreshold := cfg.EventThreshold - cfg.HysteresisMargin
	if !s.armed && score <= resetThreshold {
		s.armed = true
	}

	if score < cfg.EventThreshold || !s.armed {
		return false
	}
	if !s.lastEventAt.IsZero() && now.Sub(s.lastEventAt) < cfg.CooldownPeriod {
		return false
	}

	s.armed = false
	s.lastEventAt = now
	return true
}
