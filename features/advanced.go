package features

import (
	"fmt"
	"math"
	"os"

	"pulse.dev/rtcore/classify"
	"pulse.dev/rtcore/store"
)

func init() {
	RegisterStep("advanced.stft", stepSTFT)
	RegisterStep("advanced.comovement_graph", stepComovementGraph)
	RegisterStep("advanced.embedding", stepEmbedding)
}

// advancedEnabled reports whether the advanced step set may run. The steps
// are on by default; setting RTCORE_FEATURES_ADVANCED=0 turns them off,
// since they are heavier and not every deployment wants them on the hot
// path of every pipeline run.
func advancedEnabled() bool {
	return os.Getenv("RTCORE_FEATURES_ADVANCED") != "0"
}

func requireAdvanced() error {
	if !advancedEnabled() {
		return classify.New(classify.DataInvalidInput, "advanced feature steps are disabled (RTCORE_FEATURES_ADVANCED=0)", nil)
	}
	return nil
}

// stepSTFT computes a short-time Fourier transform magnitude spectrum
// over column using a naive DFT per window (no external FFT library in
// the pack; windows here are small enough that O(w^2) is acceptable).
// Output columns are "<column>_stft_<bin>" for each frequency bin.
func stepSTFT(rows []store.Row, params map[string]interface{}) ([]store.Row, error) {
	if err := requireAdvanced(); err != nil {
		return nil, err
	}
	col, err := column(params)
	if err != nil {
		return nil, err
	}
	window, _ := params["window"].(float64)
	w := int(window)
	if w <= 1 {
		return nil, classify.New(classify.DataInvalidInput, "stft requires a \"window\" parameter > 1", nil)
	}
	values, present, err := numericValues(rows, col)
	if err != nil {
		return nil, err
	}
	if len(rows) < w {
		return nil, classify.New(classify.DataMissingFeatures, fmt.Sprintf("stft window %d exceeds %d available rows", w, len(rows)), nil)
	}

	out := cloneRows(rows)
	nBins := w/2 + 1
	for i := w - 1; i < len(rows); i++ {
		segment := values[i-w+1 : i+1]
		segPresent := present[i-w+1 : i+1]
		for k := 0; k < nBins; k++ {
			var re, im float64
			for n, v := range segment {
				if !segPresent[n] {
					continue
				}
				theta := -2 * math.Pi * float64(k) * float64(n) / float64(w)
				re += v * math.Cos(theta)
				im += v * math.Sin(theta)
			}
			out[i][fmt.Sprintf("%s_stft_%d", col, k)] = math.Hypot(re, im)
		}
	}
	return out, nil
}

// stepComovementGraph computes, over a sliding window of size w, the
// pairwise Pearson correlation between columns named in params["columns"]
// and emits the mean absolute correlation as "comovement" — a coarse
// graph-connectivity proxy without pulling in a graph library the pack
// never uses for anything numeric.
func stepComovementGraph(rows []store.Row, params map[string]interface{}) ([]store.Row, error) {
	if err := requireAdvanced(); err != nil {
		return nil, err
	}
	raw, ok := params["columns"].([]interface{})
	if !ok || len(raw) < 2 {
		return nil, classify.New(classify.DataInvalidInput, "comovement_graph requires a \"columns\" parameter with at least 2 columns", nil)
	}
	cols := make([]string, 0, len(raw))
	for _, c := range raw {
		if s, ok := c.(string); ok {
			cols = append(cols, s)
		}
	}
	window, _ := params["window"].(float64)
	w := int(window)
	if w <= 1 {
		return nil, classify.New(classify.DataInvalidInput, "comovement_graph requires a \"window\" parameter > 1", nil)
	}
	if len(rows) < w {
		return nil, classify.New(classify.DataMissingFeatures, fmt.Sprintf("comovement window %d exceeds %d available rows", w, len(rows)), nil)
	}

	series := make(map[string][]float64, len(cols))
	presence := make(map[string][]bool, len(cols))
	for _, c := range cols {
		values, present, err := numericValues(rows, c)
		if err != nil {
			return nil, err
		}
		series[c] = values
		presence[c] = present
	}

	out := cloneRows(rows)
	for i := w - 1; i < len(rows); i++ {
		var sumAbs float64
		var pairs int
		for a := 0; a < len(cols); a++ {
			for b := a + 1; b < len(cols); b++ {
				r := windowCorrelation(series[cols[a]], presence[cols[a]], series[cols[b]], presence[cols[b]], i-w+1, i)
				sumAbs += math.Abs(r)
				pairs++
			}
		}
		if pairs > 0 {
			out[i]["comovement"] = sumAbs / float64(pairs)
		}
	}
	return out, nil
}

func windowCorrelation(a []float64, aPresent []bool, b []float64, bPresent []bool, lo, hi int) float64 {
	var sumA, sumB, sumAB, sumA2, sumB2 float64
	var n float64
	for i := lo; i <= hi; i++ {
		if !aPresent[i] || !bPresent[i] {
			continue
		}
		sumA += a[i]
		sumB += b[i]
		sumAB += a[i] * b[i]
		sumA2 += a[i] * a[i]
		sumB2 += b[i] * b[i]
		n++
	}
	if n < 2 {
		return 0
	}
	numerator := n*sumAB - sumA*sumB
	denominator := math.Sqrt(n*sumA2-sumA*sumA) * math.Sqrt(n*sumB2-sumB*sumB)
	if denominator == 0 {
		return 0
	}
	return numerator / denominator
}

// stepEmbedding produces a low-dimensional projection of params["columns"]
// by averaging each column's normalized value into "dims" buckets (a
// fixed, deterministic reducer standing in for a trained autoencoder when
// the runtime environment cannot run one) into "embedding_<k>" columns.
func stepEmbedding(rows []store.Row, params map[string]interface{}) ([]store.Row, error) {
	if err := requireAdvanced(); err != nil {
		return nil, err
	}
	raw, ok := params["columns"].([]interface{})
	if !ok || len(raw) == 0 {
		return nil, classify.New(classify.DataInvalidInput, "embedding requires a \"columns\" parameter", nil)
	}
	cols := make([]string, 0, len(raw))
	for _, c := range raw {
		if s, ok := c.(string); ok {
			cols = append(cols, s)
		}
	}
	dims, _ := params["dims"].(float64)
	d := int(dims)
	if d <= 0 {
		d = 4
	}

	out := cloneRows(rows)
	for i, r := range rows {
		buckets := make([]float64, d)
		counts := make([]int, d)
		for ci, c := range cols {
			v, ok := r[c]
			if !ok {
				continue
			}
			f, err := toFloat(v)
			if err != nil {
				continue
			}
			bucket := ci % d
			buckets[bucket] += f
			counts[bucket]++
		}
		for k := 0; k < d; k++ {
			if counts[k] > 0 {
				out[i][fmt.Sprintf("embedding_%d", k)] = buckets[k] / float64(counts[k])
			}
		}
	}
	return out, nil
}
