package metrics

import (
	"context"
	"fmt"
	"sort"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"pulse.dev/rtcore/classify"
	"pulse.dev/rtcore/common"
)

// metricEventRow is the GORM model backing Event, adapted from
// db/postgres.go's RabbitLog: gorm.Model for timestamps/soft-delete plus
// indexed columns for the access patterns range/summary actually need.
type metricEventRow struct {
	gorm.Model
	MetricID string    `gorm:"uniqueIndex"`
	RunID    string    `gorm:"index:idx_metric_run_name"`
	Name     string    `gorm:"index:idx_metric_run_name"`
	Value    float64
	Tags     string `gorm:"type:text"` // JSON-encoded key->string map
	At       time.Time `gorm:"index"`
}

// costEventRow mirrors metricEventRow for CostEvent.
type costEventRow struct {
	gorm.Model
	RunID    string `gorm:"index:idx_cost_run_category"`
	Category string `gorm:"index:idx_cost_run_category"`
	Units    float64
	Cost     float64
	At       time.Time `gorm:"index"`
}

// Config configures the Postgres-backed Metrics Store.
type Config struct {
	DSN string
}

// Store is the append-only Metrics Store.
type Store struct {
	db  *gorm.DB
	log *common.ContextLogger
}

// Open connects to Postgres and migrates the metric/cost event tables,
// following the connection pool settings from db/postgres.go's PGInfo.
func Open(cfg Config) (*Store, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, classify.New(classify.StorageIO, "open metrics store", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, classify.New(classify.StorageIO, "acquire sql.DB handle", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&metricEventRow{}, &costEventRow{}); err != nil {
		return nil, classify.New(classify.StorageIO, "migrate metrics schema", err)
	}

	log := common.ComponentLogger(common.Logger, "metrics")
	log.Info("metrics store opened")
	return &Store{db: db, log: log}, nil
}

// PutMany appends events atomically: either every event in the call is
// durably written, or none are.
func (s *Store) PutMany(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}
	rows := make([]metricEventRow, 0, len(events))
	for _, e := range events {
		tags, err := encodeTags(e.Tags)
		if err != nil {
			return classify.New(classify.DataInvalidInput, "encode metric tags", err)
		}
		rows = append(rows, metricEventRow{
			MetricID: e.MetricID,
			RunID:    e.RunID,
			Name:     e.Name,
			Value:    e.Value,
			Tags:     tags,
			At:       e.At,
		})
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&rows).Error
	})
	if err != nil {
		return classify.New(classify.StorageIO, "put_many metric events", err)
	}
	return nil
}

// PutCostEvents appends cost events atomically, mirroring PutMany.
func (s *Store) PutCostEvents(ctx context.Context, events []CostEvent) error {
	if len(events) == 0 {
		return nil
	}
	rows := make([]costEventRow, 0, len(events))
	for _, e := range events {
		rows = append(rows, costEventRow{
			RunID:    e.RunID,
			Category: e.Category,
			Units:    e.Units,
			Cost:     e.Cost,
			At:       e.At,
		})
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&rows).Error
	})
	if err != nil {
		return classify.New(classify.StorageIO, "put cost events", err)
	}
	return nil
}

// Range returns metric events for runID (optionally filtered by name and a
// half-open [from, to) time window) in non-decreasing `at` order.
func (s *Store) Range(ctx context.Context, runID, name string, from, to time.Time) ([]Event, error) {
	q := s.db.WithContext(ctx).Model(&metricEventRow{}).Where("run_id = ?", runID)
	if name != "" {
		q = q.Where("name = ?", name)
	}
	if !from.IsZero() {
		q = q.Where("at >= ?", from)
	}
	if !to.IsZero() {
		q = q.Where("at < ?", to)
	}
	var rows []metricEventRow
	if err := q.Order("at ASC").Find(&rows).Error; err != nil {
		return nil, classify.New(classify.StorageIO, "range metric events", err)
	}
	events := make([]Event, 0, len(rows))
	for _, r := range rows {
		tags, err := decodeTags(r.Tags)
		if err != nil {
			return nil, classify.New(classify.DataIntegrity, "decode metric tags", err)
		}
		events = append(events, Event{MetricID: r.MetricID, RunID: r.RunID, Name: r.Name, Value: r.Value, Tags: tags, At: r.At})
	}
	return events, nil
}

// Summary computes agg over runID/name's full value set.
func (s *Store) Summary(ctx context.Context, runID, name string, agg Aggregation) (float64, error) {
	var rows []metricEventRow
	err := s.db.WithContext(ctx).Model(&metricEventRow{}).
		Where("run_id = ? AND name = ?", runID, name).
		Order("at ASC").Find(&rows).Error
	if err != nil {
		return 0, classify.New(classify.StorageIO, "summary query", err)
	}
	if len(rows) == 0 {
		return 0, classify.New(classify.StorageNotFound, fmt.Sprintf("no metric events for %s/%s", runID, name), nil)
	}
	values := make([]float64, len(rows))
	for i, r := range rows {
		values[i] = r.Value
	}
	return summarize(values, agg)
}

func summarize(values []float64, agg Aggregation) (float64, error) {
	switch agg {
	case AggCount:
		return float64(len(values)), nil
	case AggSum:
		var sum float64
		for _, v := range values {
			sum += v
		}
		return sum, nil
	case AggMean:
		var sum float64
		for _, v := range values {
			sum += v
		}
		return sum / float64(len(values)), nil
	case AggMin:
		m := values[0]
		for _, v := range values[1:] {
			if v < m {
				m = v
			}
		}
		return m, nil
	case AggMax:
		m := values[0]
		for _, v := range values[1:] {
			if v > m {
				m = v
			}
		}
		return m, nil
	case AggP50:
		return percentile(values, 0.50), nil
	case AggP90:
		return percentile(values, 0.90), nil
	case AggP99:
		return percentile(values, 0.99), nil
	default:
		return 0, classify.New(classify.DataInvalidInput, fmt.Sprintf("unknown aggregation %q", agg), nil)
	}
}

// percentile linearly interpolates between the two nearest ranks of a
// sorted copy of values.
func percentile(values []float64, p float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := p * float64(len(sorted)-1)
	lo := int(rank)
	hi := lo + 1
	if hi >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	frac := rank - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// RunCostTotal returns the running per-run cumulative cost by category,
// used by the Cost Controller to enforce budget thresholds.
func (s *Store) RunCostTotal(ctx context.Context, runID string) (RunCost, error) {
	var rows []costEventRow
	if err := s.db.WithContext(ctx).Where("run_id = ?", runID).Find(&rows).Error; err != nil {
		return RunCost{}, classify.New(classify.StorageIO, "run cost total query", err)
	}
	rc := RunCost{RunID: runID, CostByCategory: make(map[string]float64)}
	for _, r := range rows {
		rc.TotalCost += r.Cost
		rc.CostByCategory[r.Category] += r.Cost
	}
	return rc, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
