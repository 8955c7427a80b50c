package ingestion

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// pollGate enforces two independent per-adapter controls: a token-bucket
// limiter over item throughput, and a minimum wall-clock gap between
// successive polls of the same adapter. A first-ever poll of an adapter
// always bypasses the poll-frequency cap so newly discovered variables are
// picked up immediately.
type pollGate struct {
	mu         sync.Mutex
	limiters   map[string]*rate.Limiter
	minPeriod  time.Duration
	lastPollAt map[string]time.Time

	limiterRPS   rate.Limit
	limiterBurst int
}

func newPollGate(itemsPerSecond float64, burst int, minPollPeriod time.Duration) *pollGate {
	return &pollGate{
		limiters:     make(map[string]*rate.Limiter),
		minPeriod:    minPollPeriod,
		lastPollAt:   make(map[string]time.Time),
		limiterRPS:   rate.Limit(itemsPerSecond),
		limiterBurst: burst,
	}
}

func (g *pollGate) limiterFor(adapterID string) *rate.Limiter {
	g.mu.Lock()
	defer g.mu.Unlock()
	l, ok := g.limiters[adapterID]
	if !ok {
		l = rate.NewLimiter(g.limiterRPS, g.limiterBurst)
		g.limiters[adapterID] = l
	}
	return l
}

// allowPoll reports whether adapterID may start a new poll right now. The
// first call for a given adapterID always returns true.
func (g *pollGate) allowPoll(adapterID string, now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	last, seen := g.lastPollAt[adapterID]
	if !seen {
		g.lastPollAt[adapterID] = now
		return true
	}
	if now.Sub(last) < g.minPeriod {
		return false
	}
	g.lastPollAt[adapterID] = now
	return true
}
