// Package varmodel fits vector autoregressions and runs Granger causality tests.
package varmodel

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/Alias1177/Correlator/internal/analysis/series"
)

// MinObservations is the shortest return panel a VAR is fitted to
const MinObservations = 100

// DefaultMaxLags bounds lag order selection
const DefaultMaxLags = 5

// SignificanceLevel for Granger tests
const SignificanceLevel = 0.05

var errSingular = errors.New("design matrix is singular")

// Model is a fitted VAR(p) with intercept
type Model struct {
	Symbols      []string    `json:"symbols"`
	Lags         int         `json:"lags"`
	Observations int         `json:"observations"`
	Intercepts   []float64   `json:"intercepts"`
	Coefficients [][]float64 `json:"coefficients"` // per equation: lag1 vars..., lag2 vars...
	SigmaU       [][]float64 `json:"residual_covariance"`
	AIC          float64     `json:"aic"`
	BIC          float64     `json:"bic"`

	history [][]float64 // last Lags rows, oldest first
}

// Fit estimates VAR(lags) by equation-wise OLS
func Fit(p *series.Panel, lags int) (*Model, error) {
	if err := p.Require(MinObservations, 2); err != nil {
		return nil, err
	}
	if lags < 1 {
		return nil, fmt.Errorf("lag order must be positive")
	}
	return fitFrom(p, lags, 0)
}

// fitFrom estimates on observations offset.. so that several lag orders share a sample
func fitFrom(p *series.Panel, lags, offset int) (*Model, error) {
	k := p.Width()
	data := p.Values
	T := p.Len() - offset
	n := T - lags
	cols := 1 + k*lags
	if n <= cols {
		return nil, fmt.Errorf("%d observations for %d regressors: %w", n, cols, series.ErrInsufficientData)
	}

	X := mat.NewDense(n, cols, nil)
	Y := mat.NewDense(n, k, nil)
	for r := 0; r < n; r++ {
		t := offset + lags + r
		X.Set(r, 0, 1)
		for l := 1; l <= lags; l++ {
			for j := 0; j < k; j++ {
				X.Set(r, 1+(l-1)*k+j, data[j][t-l])
			}
		}
		for j := 0; j < k; j++ {
			Y.Set(r, j, data[j][t])
		}
	}

	var B mat.Dense
	if err := B.Solve(X, Y); err != nil {
		return nil, fmt.Errorf("var ols: %w", errSingular)
	}

	var fitted, resid mat.Dense
	fitted.Mul(X, &B)
	resid.Sub(Y, &fitted)

	var sigma mat.Dense
	sigma.Mul(resid.T(), &resid)
	sigma.Scale(1/float64(n), &sigma)

	m := &Model{
		Symbols:      append([]string(nil), p.Symbols...),
		Lags:         lags,
		Observations: n,
		Intercepts:   make([]float64, k),
		Coefficients: make([][]float64, k),
		SigmaU:       make([][]float64, k),
	}
	for eq := 0; eq < k; eq++ {
		m.Intercepts[eq] = B.At(0, eq)
		m.Coefficients[eq] = make([]float64, k*lags)
		for c := 1; c < cols; c++ {
			m.Coefficients[eq][c-1] = B.At(c, eq)
		}
		m.SigmaU[eq] = mat.Row(nil, eq, &sigma)
	}

	logDet, _ := mat.LogDet(&sigma)
	params := float64(k * cols)
	m.AIC = logDet + 2*params/float64(n)
	m.BIC = logDet + math.Log(float64(n))*params/float64(n)

	full := p.Len()
	for t := full - lags; t < full; t++ {
		row := make([]float64, k)
		for j := 0; j < k; j++ {
			row[j] = data[j][t]
		}
		m.history = append(m.history, row)
	}
	return m, nil
}

// LagSelection reports the AIC of each candidate order
type LagSelection struct {
	Selected int             `json:"selected_lag"`
	AIC      map[int]float64 `json:"aic"`
}

// SelectLag picks the order with minimum AIC over a common sample
func SelectLag(p *series.Panel, maxLags int) (LagSelection, error) {
	if err := p.Require(MinObservations, 2); err != nil {
		return LagSelection{}, err
	}
	if maxLags < 1 {
		maxLags = DefaultMaxLags
	}
	sel := LagSelection{AIC: map[int]float64{}}
	best := math.Inf(1)
	for lags := 1; lags <= maxLags; lags++ {
		m, err := fitFrom(p, lags, maxLags-lags)
		if err != nil {
			continue
		}
		sel.AIC[lags] = m.AIC
		if m.AIC < best {
			best, sel.Selected = m.AIC, lags
		}
	}
	if sel.Selected == 0 {
		return sel, fmt.Errorf("no lag order could be estimated: %w", series.ErrInsufficientData)
	}
	return sel, nil
}

// Forecast iterates the model steps ahead; result[s][j] is symbol j at step s+1
func (m *Model) Forecast(steps int) [][]float64 {
	k := len(m.Symbols)
	hist := make([][]float64, len(m.history))
	copy(hist, m.history)

	out := make([][]float64, 0, steps)
	for s := 0; s < steps; s++ {
		next := make([]float64, k)
		for eq := 0; eq < k; eq++ {
			v := m.Intercepts[eq]
			for l := 1; l <= m.Lags; l++ {
				lagged := hist[len(hist)-l]
				for j := 0; j < k; j++ {
					v += m.Coefficients[eq][(l-1)*k+j] * lagged[j]
				}
			}
			next[eq] = v
		}
		out = append(out, next)
		hist = append(hist, next)
	}
	return out
}

// GrangerResult is one directional causality test
type GrangerResult struct {
	Cause       string  `json:"cause"`
	Effect      string  `json:"effect"`
	Lags        int     `json:"lags"`
	FStatistic  float64 `json:"f_statistic"`
	PValue      float64 `json:"p_value"`
	Significant bool    `json:"significant"`
}

// Granger tests whether lags of cause improve the prediction of effect beyond effect's own lags
func Granger(p *series.Panel, cause, effect string, lags int) (GrangerResult, error) {
	res := GrangerResult{Cause: cause, Effect: effect, Lags: lags}
	if err := p.Require(MinObservations, 2); err != nil {
		return res, err
	}
	x, ok := p.Column(cause)
	if !ok {
		return res, fmt.Errorf("symbol %s not in panel", cause)
	}
	y, ok := p.Column(effect)
	if !ok {
		return res, fmt.Errorf("symbol %s not in panel", effect)
	}
	if lags < 1 {
		lags = 1
	}

	n := len(y) - lags
	df := n - 2*lags - 1
	if df <= 0 {
		return res, fmt.Errorf("granger with %d lags: %w", lags, series.ErrInsufficientData)
	}

	restricted := mat.NewDense(n, 1+lags, nil)
	unrestricted := mat.NewDense(n, 1+2*lags, nil)
	target := mat.NewVecDense(n, nil)
	for r := 0; r < n; r++ {
		t := lags + r
		restricted.Set(r, 0, 1)
		unrestricted.Set(r, 0, 1)
		for l := 1; l <= lags; l++ {
			restricted.Set(r, l, y[t-l])
			unrestricted.Set(r, l, y[t-l])
			unrestricted.Set(r, lags+l, x[t-l])
		}
		target.SetVec(r, y[t])
	}

	rssR, err := rss(restricted, target)
	if err != nil {
		return res, err
	}
	rssU, err := rss(unrestricted, target)
	if err != nil {
		return res, err
	}
	if rssU <= 0 {
		return res, fmt.Errorf("granger: %w", errSingular)
	}

	res.FStatistic = ((rssR - rssU) / float64(lags)) / (rssU / float64(df))
	if res.FStatistic < 0 {
		res.FStatistic = 0
	}
	dist := distuv.F{D1: float64(lags), D2: float64(df)}
	res.PValue = 1 - dist.CDF(res.FStatistic)
	res.Significant = res.PValue < SignificanceLevel
	return res, nil
}

func rss(X *mat.Dense, y *mat.VecDense) (float64, error) {
	var beta mat.VecDense
	if err := beta.SolveVec(X, y); err != nil {
		return 0, errSingular
	}
	var fitted mat.VecDense
	fitted.MulVec(X, &beta)
	var resid mat.VecDense
	resid.SubVec(y, &fitted)
	return mat.Dot(&resid, &resid), nil
}

// GrangerMatrix tests every ordered pair of symbols, significant results first
func GrangerMatrix(p *series.Panel, lags int) ([]GrangerResult, error) {
	if err := p.Require(MinObservations, 2); err != nil {
		return nil, err
	}
	var out []GrangerResult
	for _, cause := range p.Symbols {
		for _, effect := range p.Symbols {
			if cause == effect {
				continue
			}
			r, err := Granger(p, cause, effect, lags)
			if err != nil {
				return nil, fmt.Errorf("%s -> %s: %w", cause, effect, err)
			}
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].PValue < out[j].PValue })
	return out, nil
}
