package retrodiction

import (
	"fmt"
	"math"
	"time"

	"pulse.dev/rtcore/classify"
	"pulse.dev/rtcore/store"
)

// timeColumn is the well-known column every dataset row projected for
// retrodiction carries, an RFC3339 timestamp string.
const timeColumn = "t"

func rowTime(row store.Row) (time.Time, error) {
	raw, ok := row[timeColumn]
	if !ok {
		return time.Time{}, classify.New(classify.DataSchemaMismatch, fmt.Sprintf("row missing %q column", timeColumn), nil)
	}
	s, ok := raw.(string)
	if !ok {
		return time.Time{}, classify.New(classify.DataSchemaMismatch, fmt.Sprintf("%q column is not a string", timeColumn), nil)
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, classify.New(classify.DataSchemaMismatch, fmt.Sprintf("%q column is not RFC3339", timeColumn), err)
	}
	return t, nil
}

func toFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	default:
		return 0, false
	}
}

// variableStats accumulates the running sums needed for RMSE/MAE/R2/
// coverage without retaining every residual in memory.
type variableStats struct {
	count        int
	sumSqErr     float64
	sumAbsErr    float64
	sumObserved  float64
	sumSqObserved float64
	sumObservedSq float64 // sum of observed^2, for variance
	lastAbsErr   float64
	hasLast      bool
}

func (s *variableStats) add(predicted, observed float64) (improved bool) {
	err := predicted - observed
	absErr := math.Abs(err)

	improved = s.hasLast && absErr < s.lastAbsErr
	s.lastAbsErr = absErr
	s.hasLast = true

	s.count++
	s.sumSqErr += err * err
	s.sumAbsErr += absErr
	s.sumObserved += observed
	s.sumObservedSq += observed * observed
	return improved
}

func (s *variableStats) rmse() float64 {
	if s.count == 0 {
		return 0
	}
	return math.Sqrt(s.sumSqErr / float64(s.count))
}

func (s *variableStats) mae() float64 {
	if s.count == 0 {
		return 0
	}
	return s.sumAbsErr / float64(s.count)
}

// r2 computes the coefficient of determination against the observed
// series' own mean, the standard definition (1 - SSres/SStot).
func (s *variableStats) r2() float64 {
	if s.count == 0 {
		return 0
	}
	mean := s.sumObserved / float64(s.count)
	ssTot := s.sumObservedSq - float64(s.count)*mean*mean
	if ssTot <= 0 {
		return 0
	}
	return 1 - s.sumSqErr/ssTot
}

func (s *variableStats) coverage(expected int) float64 {
	if expected == 0 {
		return 1
	}
	return float64(s.count) / float64(expected)
}
