package portfolio

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"

	"github.com/Alias1177/Correlator/internal/analysis/series"
)

// Optimisation methods
const (
	MeanVariance = "mean_variance"
	MinVariance  = "min_variance"
	RiskParity   = "risk_parity"
	EqualWeight  = "equal_weight"
)

// OptimizeOptions configures an optimisation
type OptimizeOptions struct {
	Method       string
	TargetReturn *float64 // annualised; mean_variance only
	RiskFree     float64
}

// Optimization is an optimal allocation with its metrics
type Optimization struct {
	Method    string             `json:"method"`
	Weights   map[string]float64 `json:"optimal_weights"`
	Metrics   *Metrics           `json:"portfolio_metrics"`
	Converged bool               `json:"converged"`
}

// Optimize finds long-only weights summing to one over every panel column
func Optimize(returns *series.Panel, opts OptimizeOptions) (*Optimization, error) {
	if err := returns.Require(2, 1); err != nil {
		return nil, err
	}
	if opts.Method == "" {
		opts.Method = MeanVariance
	}
	n := returns.Width()

	mu := make([]float64, n)
	for j, vals := range returns.Values {
		mu[j] = stat.Mean(vals, nil) * TradingDays
	}
	cov := covariance(returns)
	cov.ScaleSym(TradingDays, cov)

	var (
		w         []float64
		converged = true
	)
	switch opts.Method {
	case EqualWeight:
		w = equalWeights(n)
	case MinVariance:
		w, converged = minimizeSoftmax(n, func(w []float64) float64 {
			return quadForm(cov, w)
		})
	case MeanVariance:
		w, converged = minimizeSoftmax(n, func(w []float64) float64 {
			ret := floats.Dot(mu, w)
			vol := math.Sqrt(quadForm(cov, w))
			obj := 0.0
			if vol > 0 {
				obj = -(ret - opts.RiskFree) / vol
			}
			if opts.TargetReturn != nil {
				d := ret - *opts.TargetReturn
				obj += 100 * d * d
			}
			return obj
		})
	case RiskParity:
		w, converged = riskParity(cov)
	default:
		return nil, fmt.Errorf("unknown optimization method %q", opts.Method)
	}

	res := &Optimization{
		Method:    opts.Method,
		Weights:   make(map[string]float64, n),
		Converged: converged,
		Metrics:   metricsFor(returns, w, opts.RiskFree),
	}
	for j, s := range returns.Symbols {
		res.Weights[s] = w[j]
	}
	return res, nil
}

func equalWeights(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 1 / float64(n)
	}
	return w
}

// softmax maps unconstrained parameters onto the simplex
func softmax(theta []float64) []float64 {
	hi := floats.Max(theta)
	w := make([]float64, len(theta))
	var sum float64
	for i, t := range theta {
		w[i] = math.Exp(t - hi)
		sum += w[i]
	}
	floats.Scale(1/sum, w)
	return w
}

func minimizeSoftmax(n int, objective func(w []float64) float64) ([]float64, bool) {
	if n == 1 {
		return []float64{1}, true
	}
	problem := optimize.Problem{
		Func: func(theta []float64) float64 {
			v := objective(softmax(theta))
			if math.IsNaN(v) {
				return math.MaxFloat64
			}
			return v
		},
	}
	settings := &optimize.Settings{MajorIterations: 5000, FuncEvaluations: 50000}
	res, err := optimize.Minimize(problem, make([]float64, n), settings, &optimize.NelderMead{})
	if res == nil {
		return equalWeights(n), false
	}
	return softmax(res.X), err == nil
}

func quadForm(cov *mat.SymDense, w []float64) float64 {
	v := mat.NewVecDense(len(w), w)
	return mat.Inner(v, cov, v)
}

// riskParity iterates towards equal risk contributions
func riskParity(cov *mat.SymDense) ([]float64, bool) {
	n, _ := cov.Dims()
	w := equalWeights(n)
	target := 1 / float64(n)
	for iter := 0; iter < 1000; iter++ {
		var sigmaW mat.VecDense
		sigmaW.MulVec(cov, mat.NewVecDense(n, w))
		variance := floats.Dot(w, sigmaW.RawVector().Data)
		if variance <= 0 {
			return w, false
		}
		maxGap := 0.0
		for i := range w {
			rc := w[i] * sigmaW.AtVec(i) / variance
			maxGap = math.Max(maxGap, math.Abs(rc-target))
			if rc > 0 {
				w[i] *= math.Sqrt(target / rc)
			}
		}
		floats.Scale(1/floats.Sum(w), w)
		if maxGap < 1e-8 {
			return w, true
		}
	}
	return w, false
}
