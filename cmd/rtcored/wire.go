package main

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"pulse.dev/rtcore/adapters"
	"pulse.dev/rtcore/classify"
	"pulse.dev/rtcore/common"
	"pulse.dev/rtcore/config"
	"pulse.dev/rtcore/coordinator"
	"pulse.dev/rtcore/drift"
	"pulse.dev/rtcore/features"
	"pulse.dev/rtcore/ingestion"
	"pulse.dev/rtcore/metrics"
	"pulse.dev/rtcore/registry"
	"pulse.dev/rtcore/retrodiction"
	rtstorage "pulse.dev/rtcore/storage"
	"pulse.dev/rtcore/store"
	"pulse.dev/rtcore/trust"
	"pulse.dev/rtcore/trustbuffer"
)

// app is the process composition root: every long-lived component, built
// once at startup in the init order Config -> Store -> Trust Tracker ->
// Metrics Store -> Collector -> Registry -> Coordinator, and held here
// rather than behind any package-level singleton. main constructs exactly
// one app per process.
type app struct {
	store      *store.Store
	tracker    *trust.Tracker
	buffer     *trustbuffer.Buffer
	metrics    *metrics.Store
	prom       *metrics.PromMetrics
	collector  *metrics.Collector
	features   *features.Processor
	ingest     *ingestion.Manager
	detector   *drift.Detector
	worker     *retrodiction.Worker
	cost       *registry.CostController
	reg        *registry.Registry
	run        *coordinator.RunCoordinator
	regimeSink adapters.RegimeEventSink
	models     adapters.ModelRegistry
	rules      adapters.RuleRepository

	log *common.ContextLogger
}

// baselineLoader adapts the Feature Processor's cache lookup to
// retrodiction.BaselineLoader, taking the first row of the cached record
// as the reconstructed starting state.
type baselineLoader struct {
	processor *features.Processor
}

func (b *baselineLoader) Load(ctx context.Context, ref string) (store.Row, error) {
	record, err := b.processor.Get(ctx, ref)
	if err != nil {
		return nil, err
	}
	if len(record.Values) == 0 {
		return nil, classify.New(classify.DataInvalidInput, fmt.Sprintf("baseline feature record %s has no rows", ref), nil)
	}
	return record.Values[0], nil
}

// newApp wires every component from cfg, in the documented init order.
// Callers must call Close once the process is shutting down.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	log := common.ComponentLogger(common.Logger, "rtcored")

	objects, err := remoteObjectStore(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("rtcored: remote object store: %w", err)
	}

	s, err := store.Open(store.Config{
		Path:          cfg.Store.Path,
		Compression:   store.Compression(cfg.Store.Compression),
		RemoteBacked:  cfg.Store.RemoteBacked,
		Objects:       objects,
		CacheMaxBytes: cfg.Store.LocalCacheMaxSize,
		PrefetchPages: cfg.Store.PrefetchBatches,
	})
	if err != nil {
		return nil, fmt.Errorf("rtcored: open store: %w", err)
	}

	tracker := trust.New(trust.Config{PriorAlpha: cfg.Trust.PriorAlpha, PriorBeta: cfg.Trust.PriorBeta})
	buffer := trustbuffer.New(tracker, trustbuffer.Config{
		FlushThreshold: cfg.TrustBuffer.FlushThreshold,
		MaxLinger:      cfg.TrustBuffer.MaxLinger,
		Capacity:       cfg.TrustBuffer.QueueCapacity,
		EnqueueTimeout: cfg.TrustBuffer.EnqueueTimeout,
	})

	metricsStore, err := metrics.Open(metrics.Config{DSN: cfg.Metrics.PostgresDSN})
	if err != nil {
		return nil, fmt.Errorf("rtcored: open metrics store: %w", err)
	}
	prom := metrics.NewPromMetrics(cfg.Metrics.Namespace)
	collector := metrics.NewCollector(metricsStore, metrics.NewStoreDeadLetterSink(s), prom, metrics.CollectorConfig{
		QueueSize:     cfg.Collector.QueueCapacity,
		BatchSize:     cfg.Collector.BatchSize,
		FlushPeriod:   cfg.Collector.FlushPeriod,
		MaxRetries:    uint64(cfg.Collector.MaxRetries),
		ShutdownGrace: cfg.Collector.ShutdownDeadline,
	})

	featureProcessor := features.New(s)

	reg := registry.New()
	cost := registry.NewCostController(costBudgets(cfg.CostControl), collector, metricsStore)

	ingest := ingestion.New(s, cost, collector, ingestion.ManagerConfig{
		ItemsPerSecond: cfg.Ingestion.DefaultRatePerSecond,
		Burst:          cfg.Ingestion.DefaultBurst,
		MinPollPeriod:  cfg.Ingestion.MinPollInterval,
	})

	detector := drift.New(s, drift.Config{
		EventThreshold:   cfg.Drift.EventThreshold,
		HysteresisMargin: cfg.Drift.HysteresisMargin,
		CooldownPeriod:   cfg.Drift.CooldownSeconds,
	})

	worker := retrodiction.New(s, &baselineLoader{processor: featureProcessor}, buffer, collector, metricsStore)

	runCoordinator := coordinator.New(s, worker, cost, collector, tracker, nil, coordinator.SchedulerConfig{
		HighWaterMark:  float64(cfg.Coordinator.BackpressureHigh),
		LowWaterMark:   float64(cfg.Coordinator.BackpressureLow),
		PressurePoll:   cfg.Collector.FlushPeriod,
		BatchCostUnits: 1,
	})

	regimeSink, err := regimeEventSink(cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("rtcored: regime event sink: %w", err)
	}

	return &app{
		store:      s,
		tracker:    tracker,
		buffer:     buffer,
		metrics:    metricsStore,
		prom:       prom,
		collector:  collector,
		features:   featureProcessor,
		ingest:     ingest,
		detector:   detector,
		worker:     worker,
		cost:       cost,
		reg:        reg,
		run:        runCoordinator,
		regimeSink: regimeSink,
		models:     adapters.NewObjectStoreModelRegistry(storeObjects(objects)),
		rules:      adapters.NewInMemoryRuleRepository(nil),
		log:        log,
	}, nil
}

// storeObjects falls back to an in-memory object store for the model
// registry when the Store itself is not remote-backed, so artifact
// registration always has somewhere durable-within-process to land.
func storeObjects(objects store.ObjectStore) store.ObjectStore {
	if objects != nil {
		return objects
	}
	return store.NewMemoryObjectStore()
}

// remoteObjectStore constructs the optional S3-compatible backing for
// remote-backed Store mode. Returns a nil ObjectStore, not an error, when
// remote backing is disabled.
func remoteObjectStore(ctx context.Context, cfg config.StoreConfig) (store.ObjectStore, error) {
	if !cfg.RemoteBacked {
		return nil, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.S3Region))
	if err != nil {
		return nil, err
	}
	client := s3.NewFromConfig(awsCfg)
	return store.NewS3ObjectStore(rtstorage.S3Client(client), cfg.S3Bucket), nil
}

// regimeEventSink builds the default Redis-backed RegimeEventSink. Deployments
// that already run an orchestrator link construct
// adapters.NewWebSocketRegimeEventSink directly instead; that wiring lives
// outside this minimal entry point per the host-specific connection
// details it needs.
func regimeEventSink(cfg config.RedisConfig) (adapters.RegimeEventSink, error) {
	url := fmt.Sprintf("redis://%s/%d", cfg.Addr, cfg.DB)
	return adapters.NewRedisRegimeEventSink(url, "rtcore.regime_events")
}

// costBudgets converts the config layer's string-keyed category limits
// into the registry package's typed Budget map.
func costBudgets(cfg config.CostControllerConfig) map[registry.CostCategory]registry.Budget {
	out := make(map[registry.CostCategory]registry.Budget, len(cfg.Categories))
	for category, limit := range cfg.Categories {
		out[registry.CostCategory(category)] = registry.Budget{
			SoftThreshold: limit.SoftThreshold,
			HardThreshold: limit.HardThreshold,
			RatePerSecond: limit.RatePerSecond,
			RateBurst:     limit.Burst,
		}
	}
	return out
}

// Close releases every component holding a resource, in roughly the
// reverse of construction order. Errors are logged rather than
// aggregated since shutdown must make a best effort through every
// component regardless of earlier failures.
func (a *app) Close() {
	a.collector.Shutdown()
	a.buffer.Shutdown()
	if closer, ok := a.regimeSink.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			a.log.WithError(err).Warn("closing regime event sink")
		}
	}
	if err := a.metrics.Close(); err != nil {
		a.log.WithError(err).Warn("closing metrics store")
	}
	if err := a.store.Close(); err != nil {
		a.log.WithError(err).Warn("closing store")
	}
}
