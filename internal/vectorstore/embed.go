package vectorstore

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Embedding widths
const (
	PriceFeatures       = 20
	CorrelationFeatures = 18
	RegimeFeatures      = 10
)

// PriceEmbedding describes a price series by its return distribution,
// rolling statistics, momentum and volatility ratio.
func PriceEmbedding(prices []float64) []float64 {
	out := make([]float64, 0, PriceFeatures)
	var rets []float64
	for i := 1; i < len(prices); i++ {
		if prices[i-1] != 0 {
			rets = append(rets, prices[i]/prices[i-1]-1)
		}
	}
	if len(rets) < 2 {
		return make([]float64, PriceFeatures)
	}

	mean, std := stat.MeanStdDev(rets, nil)
	out = append(out,
		mean,
		std,
		stat.Skew(rets, nil),
		stat.ExKurtosis(rets, nil),
		floats.Min(rets),
		floats.Max(rets),
	)
	for _, w := range []int{5, 10, 20} {
		if len(rets) >= w {
			m, s := stat.MeanStdDev(rets[len(rets)-w:], nil)
			out = append(out, m, s)
		} else {
			out = append(out, 0, 0)
		}
	}
	if n := len(prices); n >= 21 {
		last := prices[n-1]
		out = append(out, last/prices[n-6]-1, last/prices[n-11]-1, last/prices[n-21]-1)
	} else {
		out = append(out, 0, 0, 0)
	}
	if len(rets) >= 10 {
		var vols []float64
		for i := 10; i <= len(rets); i++ {
			vols = append(vols, stat.StdDev(rets[i-10:i], nil))
		}
		current := vols[len(vols)-1]
		ratio := 1.0
		if avg := stat.Mean(vols, nil); avg > 0 {
			ratio = current / avg
		}
		out = append(out, current, ratio)
	} else {
		out = append(out, 0, 1)
	}
	return pad(out, PriceFeatures)
}

// CorrelationEmbedding describes a correlation matrix by the distribution of
// its off-diagonal coefficients and the ten largest of them.
func CorrelationEmbedding(matrix map[string]map[string]float64) []float64 {
	symbols := make([]string, 0, len(matrix))
	for s := range matrix {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	var corrs []float64
	for i, a := range symbols {
		for _, b := range symbols[i+1:] {
			if v, ok := matrix[a][b]; ok && !math.IsNaN(v) {
				corrs = append(corrs, v)
			}
		}
	}
	if len(corrs) == 0 {
		return make([]float64, CorrelationFeatures)
	}

	var strongPos, strongNeg, weak float64
	for _, c := range corrs {
		switch {
		case c > 0.5:
			strongPos++
		case c < -0.5:
			strongNeg++
		}
		if math.Abs(c) < 0.1 {
			weak++
		}
	}
	sorted := append([]float64(nil), corrs...)
	sort.Float64s(sorted)
	mean, std := stat.Mean(sorted, nil), 0.0
	if len(sorted) > 1 {
		std = stat.StdDev(sorted, nil)
	}
	out := []float64{
		mean,
		std,
		sorted[0],
		sorted[len(sorted)-1],
		stat.Quantile(0.5, stat.LinInterp, sorted, nil),
		strongPos,
		strongNeg,
		weak,
	}
	for i := len(sorted) - 1; i >= 0 && len(out) < CorrelationFeatures; i-- {
		out = append(out, sorted[i])
	}
	return pad(out, CorrelationFeatures)
}

// RegimeState is the input of RegimeEmbedding
type RegimeState struct {
	Probabilities     map[string]float64 `json:"probabilities"`
	Volatility        float64            `json:"volatility_level"`
	Correlation       float64            `json:"correlation_level"`
	Stress            float64            `json:"market_stress_index"`
	ChangeProbability float64            `json:"change_probability"`
	MeanReturn        float64            `json:"mean_return"`
	TransitionRate    float64            `json:"transition_rate"`
}

// RegimeEmbedding encodes regime probabilities and market characteristics
func RegimeEmbedding(s RegimeState) []float64 {
	out := make([]float64, 0, RegimeFeatures)
	for _, label := range []string{"bull", "bear", "sideways"} {
		out = append(out, s.Probabilities[label])
	}
	out = append(out,
		s.Volatility,
		s.Correlation,
		s.Stress,
		s.ChangeProbability,
		s.MeanReturn,
		s.TransitionRate,
	)
	return pad(out, RegimeFeatures)
}

func pad(v []float64, n int) []float64 {
	out := make([]float64, n)
	copy(out, v)
	for i, x := range out {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			out[i] = 0
		}
	}
	return out
}
