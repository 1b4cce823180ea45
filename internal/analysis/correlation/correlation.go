// Package correlation computes correlation matrices, their significance and rolling forecasts.
package correlation

import (
	"fmt"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/Alias1177/Correlator/internal/analysis/series"
	"github.com/Alias1177/Correlator/models"
)

// Method names
const (
	Pearson  = "pearson"
	Spearman = "spearman"
	Kendall  = "kendall"
)

// MinObservations is the shortest return series a matrix is computed for
const MinObservations = 30

// Matrix is a symmetric correlation matrix with unit diagonal
type Matrix struct {
	Method  string
	Symbols []string
	N       int
	Values  *mat.SymDense
}

// At returns the coefficient between symbols i and j
func (m *Matrix) At(i, j int) float64 { return m.Values.At(i, j) }

// Get returns the coefficient of a named pair
func (m *Matrix) Get(a, b string) (float64, bool) {
	i, j := m.index(a), m.index(b)
	if i < 0 || j < 0 {
		return 0, false
	}
	return m.At(i, j), true
}

func (m *Matrix) index(symbol string) int {
	for i, s := range m.Symbols {
		if s == symbol {
			return i
		}
	}
	return -1
}

// Rows exports the matrix as nested slices for JSON responses
func (m *Matrix) Rows() map[string]map[string]float64 {
	out := make(map[string]map[string]float64, len(m.Symbols))
	for i, a := range m.Symbols {
		row := make(map[string]float64, len(m.Symbols))
		for j, b := range m.Symbols {
			row[b] = round(m.At(i, j), 4)
		}
		out[a] = row
	}
	return out
}

// Mean returns the average off-diagonal coefficient
func (m *Matrix) Mean() float64 {
	n := len(m.Symbols)
	if n < 2 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			sum += m.At(i, j)
		}
	}
	return sum / float64(n*(n-1)/2)
}

// Compute builds the correlation matrix of a return panel
func Compute(p *series.Panel, method string) (*Matrix, error) {
	if err := p.Require(MinObservations, 2); err != nil {
		return nil, err
	}

	var corr func(x, y []float64) float64
	switch method {
	case Pearson, "":
		method = Pearson
		corr = func(x, y []float64) float64 { return stat.Correlation(x, y, nil) }
	case Spearman:
		corr = SpearmanRho
	case Kendall:
		corr = KendallTau
	default:
		return nil, fmt.Errorf("unknown correlation method %q", method)
	}

	n := p.Width()
	sym := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		sym.SetSym(i, i, 1)
		for j := i + 1; j < n; j++ {
			r := corr(p.Values[i], p.Values[j])
			if math.IsNaN(r) {
				r = 0
			}
			sym.SetSym(i, j, r)
		}
	}
	return &Matrix{Method: method, Symbols: append([]string(nil), p.Symbols...), N: p.Len(), Values: sym}, nil
}

// SpearmanRho is Pearson correlation of average ranks
func SpearmanRho(x, y []float64) float64 {
	return stat.Correlation(ranks(x), ranks(y), nil)
}

func ranks(x []float64) []float64 {
	idx := make([]int, len(x))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return x[idx[a]] < x[idx[b]] })

	out := make([]float64, len(x))
	for i := 0; i < len(idx); {
		j := i
		for j+1 < len(idx) && x[idx[j+1]] == x[idx[i]] {
			j++
		}
		avg := float64(i+j)/2 + 1
		for k := i; k <= j; k++ {
			out[idx[k]] = avg
		}
		i = j + 1
	}
	return out
}

// KendallTau computes tau-b, which corrects for ties in either series
func KendallTau(x, y []float64) float64 {
	n := len(x)
	var concordant, discordant, tiesX, tiesY float64
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			dx := x[i] - x[j]
			dy := y[i] - y[j]
			switch {
			case dx == 0 && dy == 0:
			case dx == 0:
				tiesX++
			case dy == 0:
				tiesY++
			case dx*dy > 0:
				concordant++
			default:
				discordant++
			}
		}
	}
	denom := math.Sqrt((concordant + discordant + tiesX) * (concordant + discordant + tiesY))
	if denom == 0 {
		return 0
	}
	return (concordant - discordant) / denom
}

// PValue is the two-sided p-value of a coefficient r estimated from n observations
func PValue(r float64, n int, method string) float64 {
	if n < 3 {
		return 1
	}
	if method == Kendall {
		z := 3 * r * math.Sqrt(float64(n*(n-1))) / math.Sqrt(float64(2*(2*n+5)))
		return 2 * (1 - distuv.UnitNormal.CDF(math.Abs(z)))
	}
	if math.Abs(r) >= 1 {
		return 0
	}
	df := float64(n - 2)
	t := r * math.Sqrt(df/(1-r*r))
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
	return 2 * (1 - dist.CDF(math.Abs(t)))
}

// ConfidenceInterval is the 95% interval of r from the Fisher z transform
func ConfidenceInterval(r float64, n int) (float64, float64) {
	if n <= 3 {
		return -1, 1
	}
	r = math.Max(math.Min(r, 0.999999), -0.999999)
	z := math.Atanh(r)
	se := 1 / math.Sqrt(float64(n-3))
	return math.Tanh(z - 1.96*se), math.Tanh(z + 1.96*se)
}

// Pair is one significant coefficient
type Pair struct {
	Symbol1  string  `json:"symbol1"`
	Symbol2  string  `json:"symbol2"`
	Value    float64 `json:"correlation"`
	PValue   float64 `json:"p_value"`
	Strength string  `json:"strength"`
}

// SignificantPairs lists pairs with |r| >= threshold, strongest first
func SignificantPairs(m *Matrix, threshold float64) []Pair {
	var out []Pair
	for i := range m.Symbols {
		for j := i + 1; j < len(m.Symbols); j++ {
			r := m.At(i, j)
			if math.Abs(r) < threshold {
				continue
			}
			strength := "moderate"
			if math.Abs(r) >= 0.8 {
				strength = "strong"
			}
			out = append(out, Pair{
				Symbol1:  m.Symbols[i],
				Symbol2:  m.Symbols[j],
				Value:    r,
				PValue:   PValue(r, m.N, m.Method),
				Strength: strength,
			})
		}
	}
	sort.SliceStable(out, func(a, b int) bool { return math.Abs(out[a].Value) > math.Abs(out[b].Value) })
	return out
}

// Records converts the upper triangle into storable rows
func Records(m *Matrix, p *series.Panel, window int, now time.Time) []models.CorrelationRecord {
	var out []models.CorrelationRecord
	start, end := time.Time{}, time.Time{}
	if p != nil && p.Len() > 0 {
		start, end = p.Dates[0], p.Last()
	}
	for i := range m.Symbols {
		for j := i + 1; j < len(m.Symbols); j++ {
			r := m.At(i, j)
			lo, hi := ConfidenceInterval(r, m.N)
			out = append(out, models.CorrelationRecord{
				Symbol1:         m.Symbols[i],
				Symbol2:         m.Symbols[j],
				Method:          m.Method,
				Value:           r,
				PValue:          PValue(r, m.N, m.Method),
				ConfidenceLow:   lo,
				ConfidenceHigh:  hi,
				SampleSize:      m.N,
				WindowSize:      window,
				StartDate:       start,
				EndDate:         end,
				CalculationDate: now,
			})
		}
	}
	return out
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
