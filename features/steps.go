package features

import (
	"fmt"
	"math"
	"sort"

	"pulse.dev/rtcore/classify"
	"pulse.dev/rtcore/store"
)

func init() {
	RegisterStep("normalize.zscore", stepZScore)
	RegisterStep("normalize.minmax", stepMinMax)
	RegisterStep("impute.mean", stepImputeMean)
	RegisterStep("impute.median", stepImputeMedian)
	RegisterStep("impute.forward_fill", stepImputeForwardFill)
	RegisterStep("encode.categorical", stepCategoricalEncode)
	RegisterStep("aggregate.rolling", stepRollingAggregate)
	RegisterStep("transform.rate_of_change", stepRateOfChange)
	RegisterStep("transform.log", stepLogTransform)
	RegisterStep("project.schema", stepSchemaProjection)
}

func column(params map[string]interface{}) (string, error) {
	col, ok := params["column"].(string)
	if !ok || col == "" {
		return "", classify.New(classify.DataInvalidInput, "step requires a \"column\" parameter", nil)
	}
	return col, nil
}

func numericValues(rows []store.Row, col string) ([]float64, []bool, error) {
	values := make([]float64, len(rows))
	present := make([]bool, len(rows))
	for i, r := range rows {
		v, ok := r[col]
		if !ok || v == nil {
			continue
		}
		f, err := toFloat(v)
		if err != nil {
			return nil, nil, classify.New(classify.DataSchemaMismatch, fmt.Sprintf("column %q is not numeric", col), err)
		}
		values[i] = f
		present[i] = true
	}
	return values, present, nil
}

func toFloat(v interface{}) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	default:
		return 0, fmt.Errorf("unsupported numeric type %T", v)
	}
}

func cloneRows(rows []store.Row) []store.Row {
	out := make([]store.Row, len(rows))
	for i, r := range rows {
		clone := make(store.Row, len(r))
		for k, v := range r {
			clone[k] = v
		}
		out[i] = clone
	}
	return out
}

// stepZScore normalizes column to zero mean, unit variance.
func stepZScore(rows []store.Row, params map[string]interface{}) ([]store.Row, error) {
	col, err := column(params)
	if err != nil {
		return nil, err
	}
	values, present, err := numericValues(rows, col)
	if err != nil {
		return nil, err
	}
	var sum float64
	var n int
	for i, ok := range present {
		if ok {
			sum += values[i]
			n++
		}
	}
	if n == 0 {
		return nil, classify.New(classify.DataMissingFeatures, fmt.Sprintf("no values present in column %q", col), nil)
	}
	mean := sum / float64(n)
	var variance float64
	for i, ok := range present {
		if ok {
			d := values[i] - mean
			variance += d * d
		}
	}
	variance /= float64(n)
	stddev := math.Sqrt(variance)

	out := cloneRows(rows)
	for i, ok := range present {
		if !ok {
			continue
		}
		if stddev == 0 {
			out[i][col] = 0.0
		} else {
			out[i][col] = (values[i] - mean) / stddev
		}
	}
	return out, nil
}

// stepMinMax rescales column into [0, 1].
func stepMinMax(rows []store.Row, params map[string]interface{}) ([]store.Row, error) {
	col, err := column(params)
	if err != nil {
		return nil, err
	}
	values, present, err := numericValues(rows, col)
	if err != nil {
		return nil, err
	}
	min, max := math.Inf(1), math.Inf(-1)
	for i, ok := range present {
		if !ok {
			continue
		}
		if values[i] < min {
			min = values[i]
		}
		if values[i] > max {
			max = values[i]
		}
	}
	if math.IsInf(min, 1) {
		return nil, classify.New(classify.DataMissingFeatures, fmt.Sprintf("no values present in column %q", col), nil)
	}

	out := cloneRows(rows)
	span := max - min
	for i, ok := range present {
		if !ok {
			continue
		}
		if span == 0 {
			out[i][col] = 0.0
		} else {
			out[i][col] = (values[i] - min) / span
		}
	}
	return out, nil
}

// stepImputeMean fills missing values in column with the column mean.
func stepImputeMean(rows []store.Row, params map[string]interface{}) ([]store.Row, error) {
	col, err := column(params)
	if err != nil {
		return nil, err
	}
	values, present, err := numericValues(rows, col)
	if err != nil {
		return nil, err
	}
	var sum float64
	var n int
	for i, ok := range present {
		if ok {
			sum += values[i]
			n++
		}
	}
	if n == 0 {
		return nil, classify.New(classify.DataMissingFeatures, fmt.Sprintf("no values present in column %q", col), nil)
	}
	mean := sum / float64(n)

	out := cloneRows(rows)
	for i, ok := range present {
		if !ok {
			out[i][col] = mean
		}
	}
	return out, nil
}

// stepImputeMedian fills missing values in column with the column median.
func stepImputeMedian(rows []store.Row, params map[string]interface{}) ([]store.Row, error) {
	col, err := column(params)
	if err != nil {
		return nil, err
	}
	values, present, err := numericValues(rows, col)
	if err != nil {
		return nil, err
	}
	var observed []float64
	for i, ok := range present {
		if ok {
			observed = append(observed, values[i])
		}
	}
	if len(observed) == 0 {
		return nil, classify.New(classify.DataMissingFeatures, fmt.Sprintf("no values present in column %q", col), nil)
	}
	sort.Float64s(observed)
	median := observed[len(observed)/2]
	if len(observed)%2 == 0 {
		median = (observed[len(observed)/2-1] + observed[len(observed)/2]) / 2
	}

	out := cloneRows(rows)
	for i, ok := range present {
		if !ok {
			out[i][col] = median
		}
	}
	return out, nil
}

// stepImputeForwardFill fills a missing value with the prior row's value.
// Requires the first row to have a value.
func stepImputeForwardFill(rows []store.Row, params map[string]interface{}) ([]store.Row, error) {
	col, err := column(params)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return rows, nil
	}
	if rows[0][col] == nil {
		return nil, classify.New(classify.DataMissingFeatures, "forward_fill requires the first row to have a value", nil)
	}

	out := cloneRows(rows)
	var last interface{} = out[0][col]
	for i := range out {
		if out[i][col] == nil {
			out[i][col] = last
		} else {
			last = out[i][col]
		}
	}
	return out, nil
}

// stepCategoricalEncode one-hot encodes column's distinct string values
// into new "<column>=<value>" boolean columns.
func stepCategoricalEncode(rows []store.Row, params map[string]interface{}) ([]store.Row, error) {
	col, err := column(params)
	if err != nil {
		return nil, err
	}
	categories := map[string]bool{}
	for _, r := range rows {
		if s, ok := r[col].(string); ok {
			categories[s] = true
		}
	}
	names := make([]string, 0, len(categories))
	for c := range categories {
		names = append(names, c)
	}
	sort.Strings(names)

	out := cloneRows(rows)
	for i, r := range rows {
		s, _ := r[col].(string)
		for _, c := range names {
			out[i][fmt.Sprintf("%s=%s", col, c)] = s == c
		}
	}
	return out, nil
}

// stepRollingAggregate computes a trailing window aggregate ("mean" or
// "sum", default mean) over column into "<column>_rolling".
func stepRollingAggregate(rows []store.Row, params map[string]interface{}) ([]store.Row, error) {
	col, err := column(params)
	if err != nil {
		return nil, err
	}
	window, _ := params["window"].(float64)
	w := int(window)
	if w <= 0 {
		return nil, classify.New(classify.DataInvalidInput, "rolling aggregate requires a positive \"window\" parameter", nil)
	}
	if len(rows) < w {
		return nil, classify.New(classify.DataMissingFeatures, fmt.Sprintf("rolling window %d exceeds %d available rows", w, len(rows)), nil)
	}
	agg, _ := params["agg"].(string)
	if agg == "" {
		agg = "mean"
	}

	values, present, err := numericValues(rows, col)
	if err != nil {
		return nil, err
	}
	out := cloneRows(rows)
	outCol := col + "_rolling"
	for i := range rows {
		if i+1 < w {
			continue
		}
		var sum float64
		var n int
		for j := i - w + 1; j <= i; j++ {
			if present[j] {
				sum += values[j]
				n++
			}
		}
		if n == 0 {
			continue
		}
		switch agg {
		case "sum":
			out[i][outCol] = sum
		default:
			out[i][outCol] = sum / float64(n)
		}
	}
	return out, nil
}

// stepRateOfChange computes value[i]-value[i-1] into "<column>_roc".
func stepRateOfChange(rows []store.Row, params map[string]interface{}) ([]store.Row, error) {
	col, err := column(params)
	if err != nil {
		return nil, err
	}
	values, present, err := numericValues(rows, col)
	if err != nil {
		return nil, err
	}
	out := cloneRows(rows)
	outCol := col + "_roc"
	for i := 1; i < len(rows); i++ {
		if present[i] && present[i-1] {
			out[i][outCol] = values[i] - values[i-1]
		}
	}
	return out, nil
}

// stepLogTransform replaces column with its natural log; values <= 0
// are left untouched rather than producing -Inf/NaN.
func stepLogTransform(rows []store.Row, params map[string]interface{}) ([]store.Row, error) {
	col, err := column(params)
	if err != nil {
		return nil, err
	}
	values, present, err := numericValues(rows, col)
	if err != nil {
		return nil, err
	}
	out := cloneRows(rows)
	for i, ok := range present {
		if ok && values[i] > 0 {
			out[i][col] = math.Log(values[i])
		}
	}
	return out, nil
}

// stepSchemaProjection keeps only the columns listed in params["columns"].
func stepSchemaProjection(rows []store.Row, params map[string]interface{}) ([]store.Row, error) {
	raw, ok := params["columns"].([]interface{})
	if !ok || len(raw) == 0 {
		return nil, classify.New(classify.DataInvalidInput, "schema projection requires a \"columns\" parameter", nil)
	}
	keep := make([]string, 0, len(raw))
	for _, c := range raw {
		if s, ok := c.(string); ok {
			keep = append(keep, s)
		}
	}

	out := make([]store.Row, len(rows))
	for i, r := range rows {
		projected := make(store.Row, len(keep))
		for _, k := range keep {
			if v, ok := r[k]; ok {
				projected[k] = v
			}
		}
		out[i] = projected
	}
	return out, nil
}
