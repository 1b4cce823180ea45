// Package volatility fits GARCH(1,1) models and derives volatility forecasts and regimes.
package volatility

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"

	"github.com/Alias1177/Correlator/internal/analysis/series"
)

// MinObservations is the shortest return series a model is fitted to
const MinObservations = 100

// TradingDays annualises daily variance
const TradingDays = 252

// Regime labels
const (
	RegimeHigh   = "high"
	RegimeNormal = "normal"
	RegimeLow    = "low"
)

// GARCH is a fitted GARCH(1,1) model
type GARCH struct {
	Mu                    float64 `json:"mu"`
	Omega                 float64 `json:"omega"`
	Alpha                 float64 `json:"alpha"`
	Beta                  float64 `json:"beta"`
	Persistence           float64 `json:"persistence"`
	UnconditionalVariance float64 `json:"unconditional_variance"`
	LogLikelihood         float64 `json:"log_likelihood"`
	AIC                   float64 `json:"aic"`
	BIC                   float64 `json:"bic"`
	Observations          int     `json:"observations"`
	LastVariance          float64 `json:"last_variance"`
	NextVariance          float64 `json:"next_variance"`
	Converged             bool    `json:"converged"`

	conditional []float64
}

// FitGARCH estimates a GARCH(1,1) by Gaussian maximum likelihood on demeaned returns
func FitGARCH(returns []float64) (*GARCH, error) {
	if len(returns) < MinObservations {
		return nil, fmt.Errorf("%d returns, need %d: %w", len(returns), MinObservations, series.ErrInsufficientData)
	}

	mu, variance := stat.MeanVariance(returns, nil)
	if variance <= 0 || math.IsNaN(variance) {
		return nil, fmt.Errorf("returns have no variance")
	}
	eps := make([]float64, len(returns))
	for i, r := range returns {
		eps[i] = r - mu
	}

	problem := optimize.Problem{
		Func: func(theta []float64) float64 {
			omega, alpha, beta := transform(theta)
			ll, _ := logLikelihood(eps, variance, omega, alpha, beta)
			if math.IsNaN(ll) || math.IsInf(ll, 0) {
				return math.MaxFloat64
			}
			return -ll
		},
	}

	start := []float64{math.Log(variance * 0.05), math.Log(0.1 / 0.05), math.Log(0.85 / 0.05)}
	settings := &optimize.Settings{MajorIterations: 2000, FuncEvaluations: 20000}
	res, err := optimize.Minimize(problem, start, settings, &optimize.NelderMead{})
	if res == nil {
		return nil, fmt.Errorf("garch optimisation: %w", err)
	}

	omega, alpha, beta := transform(res.X)
	ll, cond := logLikelihood(eps, variance, omega, alpha, beta)

	n := float64(len(eps))
	k := 4.0
	g := &GARCH{
		Mu:            mu,
		Omega:         omega,
		Alpha:         alpha,
		Beta:          beta,
		Persistence:   alpha + beta,
		LogLikelihood: ll,
		AIC:           2*k - 2*ll,
		BIC:           k*math.Log(n) - 2*ll,
		Observations:  len(eps),
		Converged:     err == nil,
		conditional:   cond,
	}
	g.UnconditionalVariance = omega / (1 - g.Persistence)
	g.LastVariance = cond[len(cond)-1]
	last := eps[len(eps)-1]
	g.NextVariance = omega + alpha*last*last + beta*g.LastVariance
	return g, nil
}

// transform maps unconstrained parameters to omega > 0, alpha, beta > 0 with alpha + beta < 1
func transform(theta []float64) (float64, float64, float64) {
	omega := math.Exp(theta[0])
	a, b := math.Exp(theta[1]), math.Exp(theta[2])
	denom := 1 + a + b
	return omega, a / denom, b / denom
}

func logLikelihood(eps []float64, initVar, omega, alpha, beta float64) (float64, []float64) {
	cond := make([]float64, len(eps))
	sigma2 := initVar
	var ll float64
	for t, e := range eps {
		if t > 0 {
			prev := eps[t-1]
			sigma2 = omega + alpha*prev*prev + beta*sigma2
		}
		if sigma2 <= 0 {
			return math.Inf(-1), cond
		}
		cond[t] = sigma2
		ll += -0.5 * (math.Log(2*math.Pi) + math.Log(sigma2) + e*e/sigma2)
	}
	return ll, cond
}

// ConditionalVolatility returns the in-sample daily conditional standard deviations
func (g *GARCH) ConditionalVolatility() []float64 {
	out := make([]float64, len(g.conditional))
	for i, v := range g.conditional {
		out[i] = math.Sqrt(v)
	}
	return out
}

// Forecast returns the variance path for the next h days
func (g *GARCH) Forecast(h int) []float64 {
	out := make([]float64, h)
	v := g.UnconditionalVariance
	for k := 1; k <= h; k++ {
		out[k-1] = v + math.Pow(g.Persistence, float64(k-1))*(g.NextVariance-v)
	}
	return out
}

// AnnualizedForecast returns the annualised volatility path for the next h days
func (g *GARCH) AnnualizedForecast(h int) []float64 {
	path := g.Forecast(h)
	for i, v := range path {
		path[i] = math.Sqrt(v * TradingDays)
	}
	return path
}

// Regime compares the current conditional volatility with the long-run level
func (g *GARCH) Regime() string {
	longRun := math.Sqrt(g.UnconditionalVariance)
	current := math.Sqrt(g.LastVariance)
	return ClassifyRegime(current, longRun)
}

// ClassifyRegime labels current volatility against a long-run reference
func ClassifyRegime(current, longRun float64) string {
	switch {
	case longRun <= 0:
		return RegimeNormal
	case current > 1.5*longRun:
		return RegimeHigh
	case current < 0.7*longRun:
		return RegimeLow
	default:
		return RegimeNormal
	}
}

// Realized returns the annualised sample volatility of the last window returns
func Realized(returns []float64, window int) float64 {
	if window > 0 && len(returns) > window {
		returns = returns[len(returns)-window:]
	}
	if len(returns) < 2 {
		return 0
	}
	return stat.StdDev(returns, nil) * math.Sqrt(TradingDays)
}
