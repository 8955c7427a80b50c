package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"pulse.dev/rtcore/classify"
	"pulse.dev/rtcore/common"
)

// DeadLetterSink receives metric events that exhausted retries and were
// not consumed by any registered error callback. The default
// implementation writes them as a row batch into a reserved dataset in
// the Store; see NewStoreDeadLetterSink.
type DeadLetterSink interface {
	WriteDeadLetter(ctx context.Context, events []Event) error
}

// ErrorCallback is invoked with a batch that exhausted retries. If it
// returns true, the batch is considered consumed and is not forwarded to
// the dead-letter sink.
type ErrorCallback func(events []Event, cause error) (consumed bool)

// CollectorConfig configures the Async Metrics Collector, generalizing
// tracing/async.go's AsyncExporterConfig to a single background worker
// per spec, with per-batch retry added.
type CollectorConfig struct {
	QueueSize      int
	BatchSize      int
	FlushPeriod    time.Duration
	MaxRetries     uint64
	ShutdownGrace  time.Duration
}

func (c CollectorConfig) withDefaults() CollectorConfig {
	if c.QueueSize <= 0 {
		c.QueueSize = 10000
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.FlushPeriod <= 0 {
		c.FlushPeriod = 5 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 5
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = 5 * time.Second
	}
	return c
}

// eventWriter is the durable sink a Collector flushes batches into; *Store
// satisfies it, and tests substitute a fake to avoid a live Postgres.
type eventWriter interface {
	PutMany(ctx context.Context, events []Event) error
}

// Collector is the Async Metrics Collector: a single background worker
// draining a multi-producer queue, batching by size or time, retrying
// failed flushes with exponential backoff, and routing exhausted batches
// to error callbacks or a dead-letter sink.
type Collector struct {
	cfg     CollectorConfig
	store   eventWriter
	sink    DeadLetterSink
	prom    *PromMetrics
	log     *common.ContextLogger
	queue   chan Event
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}

	mu        sync.Mutex
	callbacks []ErrorCallback
}

// NewCollector constructs a Collector writing through store, with failed
// batches routed to sink when no callback consumes them.
func NewCollector(store eventWriter, sink DeadLetterSink, prom *PromMetrics, cfg CollectorConfig) *Collector {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Collector{
		cfg:    cfg.withDefaults(),
		store:  store,
		sink:   sink,
		prom:   prom,
		log:    common.ComponentLogger(common.Logger, "metrics.collector"),
		queue:  make(chan Event, cfg.withDefaults().QueueSize),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go c.run()
	return c
}

// OnError registers a callback consulted when a batch exhausts retries.
func (c *Collector) OnError(cb ErrorCallback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callbacks = append(c.callbacks, cb)
}

// Submit enqueues a metric event for asynchronous persistence. Blocks the
// caller only if the queue is momentarily full; callers on a hot path
// should size QueueSize generously rather than rely on backpressure here.
func (c *Collector) Submit(e Event) {
	select {
	case c.queue <- e:
	case <-c.ctx.Done():
	}
	if c.prom != nil {
		c.prom.EventsSubmitted.Inc()
		c.prom.QueueDepth.Set(float64(len(c.queue)))
	}
}

func (c *Collector) run() {
	defer close(c.done)

	batch := make([]Event, 0, c.cfg.BatchSize)
	ticker := time.NewTicker(c.cfg.FlushPeriod)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		c.flushBatch(batch)
		batch = batch[:0]
	}

	for {
		select {
		case <-c.ctx.Done():
			c.drain(batch)
			return

		case e := <-c.queue:
			batch = append(batch, e)
			if len(batch) >= c.cfg.BatchSize {
				flush()
			}

		case <-ticker.C:
			flush()
		}
	}
}

// flushBatch persists batch with exponential backoff up to MaxRetries. On
// final failure it consults registered callbacks, falling back to the
// dead-letter sink if none consume the batch.
func (c *Collector) flushBatch(batch []Event) {
	if len(batch) == 0 {
		return
	}
	events := append([]Event(nil), batch...)
	start := time.Now()

	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.cfg.MaxRetries)
	err := backoff.Retry(func() error {
		return c.store.PutMany(c.ctx, events)
	}, bo)

	if c.prom != nil {
		c.prom.BatchDuration.Observe(time.Since(start).Seconds())
	}
	if err == nil {
		return
	}

	cerr := classify.Wrap(err, "metrics batch flush exhausted retries", nil)
	c.log.WithError(cerr).WithField("batch_size", len(events)).Warn("metric batch failed after retries")
	if c.prom != nil {
		c.prom.EventsFailed.WithLabelValues(string(classify.Classify(cerr))).Add(float64(len(events)))
	}

	c.mu.Lock()
	callbacks := append([]ErrorCallback(nil), c.callbacks...)
	c.mu.Unlock()

	for _, cb := range callbacks {
		if cb(events, cerr) {
			return
		}
	}

	if c.sink == nil {
		return
	}
	if err := c.sink.WriteDeadLetter(c.ctx, events); err != nil {
		c.log.WithError(err).Error("failed to write dead-letter metric batch")
		return
	}
	if c.prom != nil {
		c.prom.DeadLettered.Add(float64(len(events)))
	}
}

// drain flushes batch and empties whatever is currently queued, bounded
// by ShutdownGrace. It returns as soon as the queue runs dry rather than
// always waiting out the full grace period; the deadline only matters
// when the queue keeps yielding items faster than they can be flushed.
func (c *Collector) drain(batch []Event) {
	c.flushBatch(batch)

	deadline := time.Now().Add(c.cfg.ShutdownGrace)
	pending := make([]Event, 0, c.cfg.BatchSize)
	for time.Now().Before(deadline) {
		select {
		case e := <-c.queue:
			pending = append(pending, e)
			if len(pending) >= c.cfg.BatchSize {
				c.flushBatch(pending)
				pending = pending[:0]
			}
		default:
			c.flushBatch(pending)
			return
		}
	}
	c.flushBatch(pending)
	c.drainRemainderToDeadLetter()
}

// drainRemainderToDeadLetter non-blockingly grabs whatever is still
// sitting in the queue past the shutdown deadline and routes it to the
// dead-letter sink.
func (c *Collector) drainRemainderToDeadLetter() {
	var remaining []Event
drainLoop:
	for {
		select {
		case e := <-c.queue:
			remaining = append(remaining, e)
		default:
			break drainLoop
		}
	}
	if len(remaining) == 0 || c.sink == nil {
		return
	}
	if err := c.sink.WriteDeadLetter(context.Background(), remaining); err != nil {
		c.log.WithError(err).Error("failed to dead-letter remainder at shutdown")
	}
}

// Shutdown stops accepting new work and drains the queue within
// ShutdownGrace, routing anything undelivered to the dead-letter sink.
func (c *Collector) Shutdown() {
	c.cancel()
	<-c.done
}
