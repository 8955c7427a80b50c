// Package config loads, validates, and hot-reloads the typed configuration
// tree shared by every rtcore component.
//
// Layers, lowest to highest precedence: built-in defaults, a YAML file,
// environment variables (uppercase, dot-to-underscore mapped, e.g.
// store.path -> STORE_PATH), then runtime overrides applied by Manager.Set.
// Validation runs on every load; an invalid configuration is rejected
// atomically, never partially applied.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// StoreConfig configures the Store component.
type StoreConfig struct {
	Path              string        `mapstructure:"path"`
	Compression       string        `mapstructure:"compression"` // none|snappy|zstd
	PrefetchBatches   int           `mapstructure:"prefetch_batches"`
	RemoteBacked      bool          `mapstructure:"remote_backed"`
	S3Bucket          string        `mapstructure:"s3_bucket"`
	S3Region          string        `mapstructure:"s3_region"`
	LocalCacheMaxSize int64         `mapstructure:"local_cache_max_bytes"`
	MaxItemSize       int64         `mapstructure:"max_item_size_bytes"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
}

// TrustConfig configures the Trust Tracker's Beta prior.
type TrustConfig struct {
	PriorAlpha float64 `mapstructure:"prior_alpha"`
	PriorBeta  float64 `mapstructure:"prior_beta"`
	Shards     int     `mapstructure:"shards"`
}

// TrustBufferConfig configures the Trust Update Buffer.
type TrustBufferConfig struct {
	FlushThreshold int           `mapstructure:"flush_threshold"`
	MaxLinger      time.Duration `mapstructure:"max_linger"`
	QueueCapacity  int           `mapstructure:"queue_capacity"`
	EnqueueTimeout time.Duration `mapstructure:"enqueue_timeout"`
}

// MetricsConfig configures the Metrics Store and its Postgres backend.
type MetricsConfig struct {
	PostgresDSN string `mapstructure:"postgres_dsn"`
	Namespace   string `mapstructure:"namespace"`
}

// CollectorConfig configures the Async Metrics Collector.
type CollectorConfig struct {
	QueueCapacity   int           `mapstructure:"queue_capacity"`
	BatchSize       int           `mapstructure:"batch_size"`
	FlushPeriod     time.Duration `mapstructure:"flush_period"`
	MaxRetries      int           `mapstructure:"max_retries"`
	ShutdownDeadline time.Duration `mapstructure:"shutdown_deadline"`
}

// IngestionConfig configures the Ingestion Manager's scheduling defaults.
type IngestionConfig struct {
	DefaultRatePerSecond float64       `mapstructure:"default_rate_per_second"`
	DefaultBurst         int           `mapstructure:"default_burst"`
	MinPollInterval      time.Duration `mapstructure:"min_poll_interval"`
	FetchTimeout         time.Duration `mapstructure:"fetch_timeout"`
}

// DriftConfig configures the Drift/Regime Detector.
type DriftConfig struct {
	PValueThreshold  float64       `mapstructure:"p_value_threshold"`
	EventThreshold   float64       `mapstructure:"event_threshold"`
	HysteresisMargin float64       `mapstructure:"hysteresis_margin"`
	MinSampleSize    int           `mapstructure:"min_sample_size"`
	CooldownSeconds  time.Duration `mapstructure:"cooldown_seconds"`
}

// RetryPolicyConfig configures batch-retry behavior.
type RetryPolicyConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseBackoff time.Duration `mapstructure:"base_backoff"`
	MaxBackoff  time.Duration `mapstructure:"max_backoff"`
}

// CoordinatorConfig configures the Parallel Training Coordinator.
type CoordinatorConfig struct {
	Concurrency        int               `mapstructure:"concurrency"`
	BatchSize          time.Duration     `mapstructure:"batch_size"`
	RetryPolicy        RetryPolicyConfig `mapstructure:"retry_policy"`
	FailFast           bool              `mapstructure:"fail_fast"`
	BackpressureHigh   int               `mapstructure:"backpressure_high_water"`
	BackpressureLow    int               `mapstructure:"backpressure_low_water"`
	ShutdownDeadline   time.Duration     `mapstructure:"shutdown_deadline"`
}

// CostCategoryLimit bounds one cost category's soft/hard thresholds and
// token-bucket rate.
type CostCategoryLimit struct {
	SoftThreshold float64 `mapstructure:"soft_threshold"`
	HardThreshold float64 `mapstructure:"hard_threshold"`
	RatePerSecond float64 `mapstructure:"rate_per_second"`
	Burst         int     `mapstructure:"burst"`
}

// CostControllerConfig configures per-category budget enforcement.
type CostControllerConfig struct {
	Categories map[string]CostCategoryLimit `mapstructure:"categories"`
}

// ServiceConfig is generic process identity, reused from the ambient stack.
type ServiceConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"log_level"`
	LogFormat   string `mapstructure:"log_format"`
}

// RegistryConfig configures the Process Registry's persistence path.
type RegistryConfig struct {
	StatePath       string        `mapstructure:"state_path"`
	OrphanThreshold time.Duration `mapstructure:"orphan_threshold"`
}

// RedisConfig is shared by any component backed by Redis (trust buffer
// counters, the regime event sink).
type RedisConfig struct {
	Addr string `mapstructure:"addr"`
	DB   int    `mapstructure:"db"`
}

// Config is the full typed configuration tree.
type Config struct {
	Service      ServiceConfig        `mapstructure:"service"`
	Store        StoreConfig          `mapstructure:"store"`
	Trust        TrustConfig          `mapstructure:"trust"`
	TrustBuffer  TrustBufferConfig    `mapstructure:"trust_buffer"`
	Metrics      MetricsConfig        `mapstructure:"metrics"`
	Collector    CollectorConfig      `mapstructure:"collector"`
	Ingestion    IngestionConfig      `mapstructure:"ingestion"`
	Drift        DriftConfig          `mapstructure:"drift"`
	Coordinator  CoordinatorConfig    `mapstructure:"coordinator"`
	CostControl  CostControllerConfig `mapstructure:"cost_control"`
	Registry     RegistryConfig       `mapstructure:"registry"`
	Redis        RedisConfig          `mapstructure:"redis"`
}

// Defaults returns the built-in, lowest-precedence configuration layer.
func Defaults() Config {
	return Config{
		Service: ServiceConfig{
			Name:        "rtcore",
			Environment: "development",
			LogLevel:    "info",
			LogFormat:   "text",
		},
		Store: StoreConfig{
			Path:              "./data/store",
			Compression:       "zstd",
			PrefetchBatches:   2,
			LocalCacheMaxSize: 1 << 30,
			MaxItemSize:       64 << 20,
			WriteTimeout:      30 * time.Second,
		},
		Trust: TrustConfig{
			PriorAlpha: 1,
			PriorBeta:  1,
			Shards:     32,
		},
		TrustBuffer: TrustBufferConfig{
			FlushThreshold: 100,
			MaxLinger:      50 * time.Millisecond,
			QueueCapacity:  10000,
			EnqueueTimeout: 1 * time.Second,
		},
		Metrics: MetricsConfig{
			Namespace: "rtcore",
		},
		Collector: CollectorConfig{
			QueueCapacity:    10000,
			BatchSize:        200,
			FlushPeriod:      5 * time.Second,
			MaxRetries:       5,
			ShutdownDeadline: 10 * time.Second,
		},
		Ingestion: IngestionConfig{
			DefaultRatePerSecond: 10,
			DefaultBurst:         20,
			MinPollInterval:      0,
			FetchTimeout:         30 * time.Second,
		},
		Drift: DriftConfig{
			PValueThreshold:  0.01,
			EventThreshold:   0.3,
			HysteresisMargin: 0.05,
			MinSampleSize:    30,
			CooldownSeconds:  60 * time.Second,
		},
		Coordinator: CoordinatorConfig{
			Concurrency: 4,
			BatchSize:   24 * time.Hour,
			RetryPolicy: RetryPolicyConfig{
				MaxAttempts: 3,
				BaseBackoff: 500 * time.Millisecond,
				MaxBackoff:  30 * time.Second,
			},
			BackpressureHigh: 1000,
			BackpressureLow:  200,
			ShutdownDeadline: 30 * time.Second,
		},
		CostControl: CostControllerConfig{
			Categories: map[string]CostCategoryLimit{
				"api_calls":      {HardThreshold: 100000, RatePerSecond: 50, Burst: 100},
				"compute_units":  {HardThreshold: 100000, RatePerSecond: 1000, Burst: 1000},
				"storage_ops":    {HardThreshold: 1000000, RatePerSecond: 500, Burst: 500},
			},
		},
		Registry: RegistryConfig{
			StatePath:       "./data/registry.json",
			OrphanThreshold: 5 * time.Minute,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
	}
}

// Validator accumulates configuration validation errors.
type Validator struct {
	errors []string
}

func NewValidator() *Validator { return &Validator{} }

func (v *Validator) RequireString(field, value string) {
	if value == "" {
		v.errors = append(v.errors, fmt.Sprintf("%s is required", field))
	}
}

func (v *Validator) RequirePositiveInt(field string, value int) {
	if value <= 0 {
		v.errors = append(v.errors, fmt.Sprintf("%s must be positive", field))
	}
}

func (v *Validator) RequirePositiveDuration(field string, value time.Duration) {
	if value <= 0 {
		v.errors = append(v.errors, fmt.Sprintf("%s must be positive", field))
	}
}

func (v *Validator) RequireOneOf(field, value string, allowed []string) {
	if value == "" {
		v.errors = append(v.errors, fmt.Sprintf("%s is required", field))
		return
	}
	for _, option := range allowed {
		if value == option {
			return
		}
	}
	v.errors = append(v.errors, fmt.Sprintf("%s must be one of: %s", field, strings.Join(allowed, ", ")))
}

func (v *Validator) RequireRange(field string, value, min, max float64) {
	if value < min || value > max {
		v.errors = append(v.errors, fmt.Sprintf("%s must be between %v and %v", field, min, max))
	}
}

func (v *Validator) IsValid() bool { return len(v.errors) == 0 }

func (v *Validator) Errors() []string { return v.errors }

func (v *Validator) ErrorString() string { return strings.Join(v.errors, "; ") }

func (v *Validator) Validate() error {
	if !v.IsValid() {
		return fmt.Errorf("configuration validation failed: %s", v.ErrorString())
	}
	return nil
}

// validate checks a fully-merged Config for internal consistency. Called on
// every load; a failure here rejects the whole load atomically.
func validate(c *Config) error {
	v := NewValidator()

	v.RequireString("service.name", c.Service.Name)
	v.RequireOneOf("service.environment", c.Service.Environment, []string{"development", "staging", "production"})
	v.RequireOneOf("service.log_level", c.Service.LogLevel, []string{"debug", "info", "warn", "error"})

	v.RequireString("store.path", c.Store.Path)
	v.RequireOneOf("store.compression", c.Store.Compression, []string{"none", "snappy", "zstd"})
	if c.Store.RemoteBacked {
		v.RequireString("store.s3_bucket", c.Store.S3Bucket)
	}

	v.RequireRange("trust.prior_alpha", c.Trust.PriorAlpha, 1, 1e9)
	v.RequireRange("trust.prior_beta", c.Trust.PriorBeta, 1, 1e9)

	v.RequirePositiveInt("trust_buffer.flush_threshold", c.TrustBuffer.FlushThreshold)
	v.RequirePositiveDuration("trust_buffer.max_linger", c.TrustBuffer.MaxLinger)

	v.RequirePositiveInt("collector.batch_size", c.Collector.BatchSize)
	v.RequirePositiveDuration("collector.flush_period", c.Collector.FlushPeriod)

	v.RequireRange("drift.p_value_threshold", c.Drift.PValueThreshold, 0, 1)
	v.RequireRange("drift.event_threshold", c.Drift.EventThreshold, 0, 1)

	v.RequirePositiveInt("coordinator.concurrency", c.Coordinator.Concurrency)
	v.RequirePositiveDuration("coordinator.batch_size", c.Coordinator.BatchSize)
	v.RequirePositiveInt("coordinator.retry_policy.max_attempts", c.Coordinator.RetryPolicy.MaxAttempts)

	return v.Validate()
}

// Load layers defaults, an optional file at path, and environment variables
// (prefixed, uppercase, dot-to-underscore) using viper, then validates the
// merged result. path may be empty, in which case only defaults and env
// apply.
func Load(path string, envPrefix string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := Defaults()
	setDefaults(v, &defaults)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	cfg := Defaults()
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults seeds viper's default layer from a Config so that fields left
// unset by file/env still resolve to Defaults() rather than the zero value.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("service.name", d.Service.Name)
	v.SetDefault("service.environment", d.Service.Environment)
	v.SetDefault("service.log_level", d.Service.LogLevel)
	v.SetDefault("service.log_format", d.Service.LogFormat)

	v.SetDefault("store.path", d.Store.Path)
	v.SetDefault("store.compression", d.Store.Compression)
	v.SetDefault("store.prefetch_batches", d.Store.PrefetchBatches)
	v.SetDefault("store.remote_backed", d.Store.RemoteBacked)
	v.SetDefault("store.local_cache_max_bytes", d.Store.LocalCacheMaxSize)
	v.SetDefault("store.max_item_size_bytes", d.Store.MaxItemSize)
	v.SetDefault("store.write_timeout", d.Store.WriteTimeout)

	v.SetDefault("trust.prior_alpha", d.Trust.PriorAlpha)
	v.SetDefault("trust.prior_beta", d.Trust.PriorBeta)
	v.SetDefault("trust.shards", d.Trust.Shards)

	v.SetDefault("trust_buffer.flush_threshold", d.TrustBuffer.FlushThreshold)
	v.SetDefault("trust_buffer.max_linger", d.TrustBuffer.MaxLinger)
	v.SetDefault("trust_buffer.queue_capacity", d.TrustBuffer.QueueCapacity)
	v.SetDefault("trust_buffer.enqueue_timeout", d.TrustBuffer.EnqueueTimeout)

	v.SetDefault("collector.queue_capacity", d.Collector.QueueCapacity)
	v.SetDefault("collector.batch_size", d.Collector.BatchSize)
	v.SetDefault("collector.flush_period", d.Collector.FlushPeriod)
	v.SetDefault("collector.max_retries", d.Collector.MaxRetries)
	v.SetDefault("collector.shutdown_deadline", d.Collector.ShutdownDeadline)

	v.SetDefault("ingestion.default_rate_per_second", d.Ingestion.DefaultRatePerSecond)
	v.SetDefault("ingestion.default_burst", d.Ingestion.DefaultBurst)
	v.SetDefault("ingestion.fetch_timeout", d.Ingestion.FetchTimeout)

	v.SetDefault("drift.p_value_threshold", d.Drift.PValueThreshold)
	v.SetDefault("drift.event_threshold", d.Drift.EventThreshold)
	v.SetDefault("drift.hysteresis_margin", d.Drift.HysteresisMargin)
	v.SetDefault("drift.min_sample_size", d.Drift.MinSampleSize)
	v.SetDefault("drift.cooldown_seconds", d.Drift.CooldownSeconds)

	v.SetDefault("coordinator.concurrency", d.Coordinator.Concurrency)
	v.SetDefault("coordinator.batch_size", d.Coordinator.BatchSize)
	v.SetDefault("coordinator.retry_policy.max_attempts", d.Coordinator.RetryPolicy.MaxAttempts)
	v.SetDefault("coordinator.retry_policy.base_backoff", d.Coordinator.RetryPolicy.BaseBackoff)
	v.SetDefault("coordinator.retry_policy.max_backoff", d.Coordinator.RetryPolicy.MaxBackoff)
	v.SetDefault("coordinator.backpressure_high_water", d.Coordinator.BackpressureHigh)
	v.SetDefault("coordinator.backpressure_low_water", d.Coordinator.BackpressureLow)
	v.SetDefault("coordinator.shutdown_deadline", d.Coordinator.ShutdownDeadline)

	v.SetDefault("registry.state_path", d.Registry.StatePath)
	v.SetDefault("registry.orphan_threshold", d.Registry.OrphanThreshold)

	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.db", d.Redis.DB)
}
