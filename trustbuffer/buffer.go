// Package trustbuffer coalesces high-rate trust updates per entity before
// they reach the Trust Tracker, trading a bounded amount of staleness for
// far less lock contention on the tracker's hot path. Structured as one
// goroutine per entity reading off a buffered channel, generalizing the
// worker-over-bounded-channel shape used for async trace export, but with
// one queue per entity instead of one shared queue, since ordering must be
// preserved within an entity and is not required across entities.
package trustbuffer

import (
	"errors"
	"sync"
	"time"

	"pulse.dev/rtcore/common"
	"pulse.dev/rtcore/trust"
)

// ErrBufferFull is returned by Enqueue when an entity's queue is at
// capacity and EnqueueTimeout elapses before space frees up.
var ErrBufferFull = errors.New("trustbuffer: queue full")

// Config controls per-entity queue capacity and flush cadence.
type Config struct {
	Capacity       int
	FlushThreshold int
	MaxLinger      time.Duration
	EnqueueTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Capacity <= 0 {
		c.Capacity = 256
	}
	if c.FlushThreshold <= 0 || c.FlushThreshold > c.Capacity {
		c.FlushThreshold = c.Capacity
	}
	if c.MaxLinger <= 0 {
		c.MaxLinger = 50 * time.Millisecond
	}
	if c.EnqueueTimeout <= 0 {
		c.EnqueueTimeout = time.Second
	}
	return c
}

type entityQueue struct {
	ch      chan trust.Update
	flushCh chan chan struct{}
	stopCh  chan struct{}
	done    chan struct{}
}

// Buffer is the Trust Update Buffer.
type Buffer struct {
	cfg     Config
	tracker *trust.Tracker
	log     *common.ContextLogger

	mu     sync.Mutex
	queues map[string]*entityQueue
	closed bool
}

// New constructs a Buffer that flushes coalesced updates into tracker.
func New(tracker *trust.Tracker, cfg Config) *Buffer {
	return &Buffer{
		cfg:     cfg.withDefaults(),
		tracker: tracker,
		log:     common.ComponentLogger(common.Logger, "trustbuffer"),
		queues:  make(map[string]*entityQueue),
	}
}

func (b *Buffer) queueFor(entityID string) (*entityQueue, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, false
	}
	q, ok := b.queues[entityID]
	if !ok {
		q = &entityQueue{
			ch:      make(chan trust.Update, b.cfg.Capacity),
			flushCh: make(chan chan struct{}),
			stopCh:  make(chan struct{}),
			done:    make(chan struct{}),
		}
		b.queues[entityID] = q
		go b.run(entityID, q)
	}
	return q, true
}

// Enqueue adds u to entityID's pending queue, blocking up to
// cfg.EnqueueTimeout if the queue is full. Returns ErrBufferFull on
// timeout; the caller decides whether to drop or retry.
func (b *Buffer) Enqueue(entityID string, u trust.Update) error {
	q, ok := b.queueFor(entityID)
	if !ok {
		return errors.New("trustbuffer: buffer is shut down")
	}
	u.EntityID = entityID

	select {
	case q.ch <- u:
		return nil
	default:
	}

	timer := time.NewTimer(b.cfg.EnqueueTimeout)
	defer timer.Stop()
	select {
	case q.ch <- u:
		return nil
	case <-timer.C:
		return ErrBufferFull
	}
}

// Flush forces an immediate flush of every entity's pending queue and
// waits for all of them to complete.
func (b *Buffer) Flush() {
	b.mu.Lock()
	queues := make([]*entityQueue, 0, len(b.queues))
	for _, q := range b.queues {
		queues = append(queues, q)
	}
	b.mu.Unlock()

	for _, q := range queues {
		done := make(chan struct{})
		select {
		case q.flushCh <- done:
			<-done
		case <-q.done:
		}
	}
}

// Shutdown flushes and stops every entity goroutine. No further Enqueue
// calls are accepted once Shutdown returns.
func (b *Buffer) Shutdown() {
	b.mu.Lock()
	b.closed = true
	queues := make([]*entityQueue, 0, len(b.queues))
	for _, q := range b.queues {
		queues = append(queues, q)
	}
	b.mu.Unlock()

	for _, q := range queues {
		close(q.stopCh)
		<-q.done
	}
}

// run owns one entity's pending batch end to end: it is the only goroutine
// that ever appends to or flushes that entity's batch, which is what makes
// per-entity enqueue order survive into the tracker untouched.
func (b *Buffer) run(entityID string, q *entityQueue) {
	defer close(q.done)

	batch := make([]trust.Update, 0, b.cfg.FlushThreshold)
	linger := time.NewTimer(b.cfg.MaxLinger)
	defer linger.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := b.tracker.BatchUpdate(batch); err != nil {
			b.log.WithError(err).WithField("entity_id", entityID).Warn("buffered flush rejected by tracker")
		}
		batch = batch[:0]
	}

	for {
		select {
		case u := <-q.ch:
			if len(batch) == 0 {
				if !linger.Stop() {
					select {
					case <-linger.C:
					default:
					}
				}
				linger.Reset(b.cfg.MaxLinger)
			}

			batch = append(batch, u)
			if len(batch) >= b.cfg.FlushThreshold {
				flush()
			}

		case <-linger.C:
			flush()
			linger.Reset(b.cfg.MaxLinger)

		case done := <-q.flushCh:
			flush()
			close(done)

		case <-q.stopCh:
			flush()
			return
		}
	}
}
