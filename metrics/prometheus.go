package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PromMetrics is the process-local scrape surface for the Metrics Store
// and Async Metrics Collector, adapted from tracing/metrics.go's exporter
// gauges/counters and re-labeled for training metrics.
type PromMetrics struct {
	BatchDuration   prometheus.Histogram
	EventsSubmitted prometheus.Counter
	EventsFailed    *prometheus.CounterVec
	QueueDepth      prometheus.Gauge
	DeadLettered    prometheus.Counter
	CostUnitsTotal  *prometheus.CounterVec
}

// NewPromMetrics registers the collector's Prometheus instrumentation
// under namespace (default "rtcore" if empty).
func NewPromMetrics(namespace string) *PromMetrics {
	if namespace == "" {
		namespace = "rtcore"
	}
	return &PromMetrics{
		BatchDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Duration of metric batch flushes to the store.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),
		EventsSubmitted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "metric_events_submitted_total",
			Help:      "Total metric events accepted by the collector queue.",
		}),
		EventsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "metric_events_failed_total",
			Help:      "Total metric events that exhausted retries.",
		}, []string{"reason"}),
		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "metric_collector_queue_depth",
			Help:      "Current depth of the collector's submission queue.",
		}),
		DeadLettered: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "metric_events_dead_lettered_total",
			Help:      "Total metric events written to the dead-letter sink.",
		}),
		CostUnitsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cost_units_total",
			Help:      "Total cost units accounted per run/category.",
		}, []string{"run_id", "category"}),
	}
}
