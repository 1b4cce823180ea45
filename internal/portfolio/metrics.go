// Package portfolio computes portfolio metrics, optimises allocations and
// produces rebalancing and asset recommendations.
package portfolio

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/Alias1177/Correlator/internal/analysis/series"
)

// TradingDays annualises daily statistics
const TradingDays = 252

// ErrEmptyPortfolio is returned when no weight maps onto available data
var ErrEmptyPortfolio = errors.New("portfolio has no assets with data")

// AssetContribution breaks portfolio return and risk down per holding
type AssetContribution struct {
	Symbol             string  `json:"symbol"`
	Weight             float64 `json:"weight"`
	AnnualReturn       float64 `json:"annual_return"`
	Volatility         float64 `json:"volatility"`
	ReturnContribution float64 `json:"return_contribution"`
	RiskContribution   float64 `json:"risk_contribution"`
}

// Metrics describes a weighted portfolio over a return panel
type Metrics struct {
	Weights              map[string]float64  `json:"weights"`
	Observations         int                 `json:"observations"`
	AnnualReturn         float64             `json:"annual_return"`
	AnnualVolatility     float64             `json:"annual_volatility"`
	SharpeRatio          float64             `json:"sharpe_ratio"`
	MaxDrawdown          float64             `json:"max_drawdown"`
	CurrentDrawdown      float64             `json:"current_drawdown"`
	VaR95                float64             `json:"var_95"`
	VaR99                float64             `json:"var_99"`
	CVaR95               float64             `json:"cvar_95"`
	AverageCorrelation   float64             `json:"average_correlation"`
	DiversificationRatio float64             `json:"diversification_ratio"`
	EffectiveAssets      float64             `json:"effective_assets"`
	Concentration        float64             `json:"concentration_risk"`
	SystematicRisk       float64             `json:"systematic_risk"`
	IdiosyncraticRisk    float64             `json:"idiosyncratic_risk"`
	Assets               []AssetContribution `json:"asset_contributions"`

	returns []float64
}

// Align maps a weight map onto the panel's symbols, dropping unknown symbols and
// rescaling the rest to sum to one. The panel is narrowed to the held symbols.
func Align(returns *series.Panel, weights map[string]float64) (*series.Panel, []float64, error) {
	var symbols []string
	for _, s := range returns.Symbols {
		if w, ok := weights[s]; ok && w > 0 {
			symbols = append(symbols, s)
		}
	}
	if len(symbols) == 0 {
		return nil, nil, ErrEmptyPortfolio
	}
	sub, err := returns.Select(symbols...)
	if err != nil {
		return nil, nil, err
	}
	var total float64
	for _, s := range symbols {
		total += weights[s]
	}
	w := make([]float64, len(symbols))
	for i, s := range symbols {
		w[i] = weights[s] / total
	}
	return sub, w, nil
}

// Compute derives portfolio metrics from daily returns and weights
func Compute(returns *series.Panel, weights map[string]float64, riskFree float64) (*Metrics, error) {
	p, w, err := Align(returns, weights)
	if err != nil {
		return nil, err
	}
	if err := p.Require(2, 1); err != nil {
		return nil, err
	}
	return metricsFor(p, w, riskFree), nil
}

func metricsFor(p *series.Panel, w []float64, riskFree float64) *Metrics {
	n := p.Width()
	m := &Metrics{
		Weights:      make(map[string]float64, n),
		Observations: p.Len(),
		returns:      portfolioReturns(p, w),
	}
	for i, s := range p.Symbols {
		m.Weights[s] = w[i]
	}

	mean, sd := stat.MeanStdDev(m.returns, nil)
	m.AnnualReturn = mean * TradingDays
	m.AnnualVolatility = sd * math.Sqrt(TradingDays)
	if m.AnnualVolatility > 0 {
		m.SharpeRatio = (m.AnnualReturn - riskFree) / m.AnnualVolatility
	}
	m.MaxDrawdown, m.CurrentDrawdown = drawdowns(m.returns)

	sorted := append([]float64(nil), m.returns...)
	sort.Float64s(sorted)
	m.VaR95 = stat.Quantile(0.05, stat.LinInterp, sorted, nil)
	m.VaR99 = stat.Quantile(0.01, stat.LinInterp, sorted, nil)
	m.CVaR95 = tailMean(sorted, m.VaR95)

	var hhi float64
	for _, wi := range w {
		hhi += wi * wi
		m.Concentration = math.Max(m.Concentration, wi)
	}
	m.EffectiveAssets = 1 / hhi

	if n > 1 {
		var sum float64
		for i := 0; i < n; i++ {
			for j := i + 1; j < n; j++ {
				sum += nanZero(stat.Correlation(p.Values[i], p.Values[j], nil))
			}
		}
		m.AverageCorrelation = sum / float64(n*(n-1)/2)
	}
	m.DiversificationRatio = 1 - m.AverageCorrelation

	// share of portfolio variance explained by the equal weighted market of the panel
	market := p.EqualWeighted()
	if n > 1 && stat.Variance(market, nil) > 0 && sd > 0 {
		alpha, beta := stat.LinearRegression(market, m.returns, nil, false)
		m.SystematicRisk = math.Max(0, math.Min(1, stat.RSquared(market, m.returns, nil, alpha, beta)))
	} else {
		m.SystematicRisk = 1
	}
	m.IdiosyncraticRisk = 1 - m.SystematicRisk

	cov := covariance(p)
	var sigmaW mat.VecDense
	sigmaW.MulVec(cov, mat.NewVecDense(n, w))
	variance := mat.Dot(mat.NewVecDense(n, w), &sigmaW)
	for i, s := range p.Symbols {
		assetMean, assetSD := stat.MeanStdDev(p.Values[i], nil)
		c := AssetContribution{
			Symbol:             s,
			Weight:             w[i],
			AnnualReturn:       assetMean * TradingDays,
			Volatility:         assetSD * math.Sqrt(TradingDays),
			ReturnContribution: w[i] * assetMean * TradingDays,
		}
		if variance > 0 {
			c.RiskContribution = w[i] * sigmaW.AtVec(i) / variance
		}
		m.Assets = append(m.Assets, c)
	}
	return m
}

// Returns is the daily return series of the weighted portfolio
func (m *Metrics) Returns() []float64 { return m.returns }

func portfolioReturns(p *series.Panel, w []float64) []float64 {
	out := make([]float64, p.Len())
	for j, vals := range p.Values {
		for i, v := range vals {
			out[i] += w[j] * v
		}
	}
	return out
}

// drawdowns returns the worst and the latest drawdown of the compounded series as negative fractions
func drawdowns(returns []float64) (float64, float64) {
	equity, peak := 1.0, 1.0
	var worst, current float64
	for _, r := range returns {
		equity *= 1 + r
		if equity > peak {
			peak = equity
		}
		current = (equity - peak) / peak
		if current < worst {
			worst = current
		}
	}
	return worst, current
}

func tailMean(sorted []float64, cutoff float64) float64 {
	var sum float64
	n := 0
	for _, v := range sorted {
		if v > cutoff {
			break
		}
		sum += v
		n++
	}
	if n == 0 {
		return cutoff
	}
	return sum / float64(n)
}

// covariance is the sample covariance matrix of the panel columns
func covariance(p *series.Panel) *mat.SymDense {
	var cov mat.SymDense
	stat.CovarianceMatrix(&cov, p.Dense(), nil)
	return &cov
}

func nanZero(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return v
}

func checkWeights(w map[string]float64) error {
	for s, v := range w {
		if v < 0 || math.IsNaN(v) {
			return fmt.Errorf("invalid weight %v for %s", v, s)
		}
	}
	return nil
}
