package analysis

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/Alias1177/Correlator/internal/analysis/correlation"
	"github.com/Alias1177/Correlator/internal/analysis/network"
	"github.com/Alias1177/Correlator/internal/analysis/regime"
	"github.com/Alias1177/Correlator/internal/analysis/series"
	"github.com/Alias1177/Correlator/internal/analysis/varmodel"
	"github.com/Alias1177/Correlator/internal/analysis/volatility"
	"github.com/Alias1177/Correlator/internal/anomaly"
	"github.com/Alias1177/Correlator/internal/quality"
	"github.com/Alias1177/Correlator/models"
)

// CorrelationResult is the outcome of a correlation analysis
type CorrelationResult struct {
	Method           string                        `json:"method"`
	Symbols          []string                      `json:"symbols"`
	Observations     int                           `json:"observations"`
	Start            time.Time                     `json:"start_date"`
	End              time.Time                     `json:"end_date"`
	Matrix           map[string]map[string]float64 `json:"correlation_matrix"`
	MeanCorrelation  float64                       `json:"mean_correlation"`
	SignificantPairs []correlation.Pair            `json:"significant_pairs"`

	matrix *correlation.Matrix
}

func (a *Analyzer) correlation(ctx context.Context, ds *dataset, req Request) (*CorrelationResult, error) {
	m, err := correlation.Compute(ds.returns, req.Method)
	if err != nil {
		return nil, err
	}
	threshold := req.Threshold
	if threshold <= 0 {
		threshold = a.cfg.CorrelationThreshold
	}
	res := &CorrelationResult{
		Method:           m.Method,
		Symbols:          m.Symbols,
		Observations:     m.N,
		Start:            ds.returns.Dates[0],
		End:              ds.returns.Last(),
		Matrix:           m.Rows(),
		MeanCorrelation:  m.Mean(),
		SignificantPairs: correlation.SignificantPairs(m, threshold),
		matrix:           m,
	}
	if res.SignificantPairs == nil {
		res.SignificantPairs = []correlation.Pair{}
	}

	if err := a.store.SaveCorrelations(ctx, correlation.Records(m, ds.returns, ds.returns.Len(), a.now().UTC())); err != nil {
		a.logger.Error().Err(err).Msg("Failed to store correlations")
	}
	for _, p := range res.SignificantPairs {
		a.alerts.Correlation(ctx, p.Symbol1, p.Symbol2, p.Value)
	}
	return res, nil
}

// VolatilityResult holds per-symbol GARCH assessments, highest current volatility first
type VolatilityResult struct {
	Horizon  int                 `json:"horizon"`
	Reports  []volatility.Report `json:"reports"`
	Failures map[string]string   `json:"failures,omitempty"`
}

func (a *Analyzer) volatility(ctx context.Context, ds *dataset, req Request) (*VolatilityResult, error) {
	if err := ds.returns.Require(volatility.MinObservations, 1); err != nil {
		return nil, err
	}
	horizon := req.Horizon
	if horizon <= 0 {
		horizon = a.cfg.VolatilityHorizon
	}
	reports, failures := volatility.Analyze(ds.returns, horizon)
	if len(reports) == 0 {
		var errs []error
		for sym, err := range failures {
			errs = append(errs, fmt.Errorf("%s: %w", sym, err))
		}
		return nil, fmt.Errorf("no volatility model could be fitted: %w", errors.Join(errs...))
	}

	res := &VolatilityResult{Horizon: horizon, Reports: volatility.Ranked(reports)}
	if len(failures) > 0 {
		res.Failures = make(map[string]string, len(failures))
		for sym, err := range failures {
			res.Failures[sym] = err.Error()
		}
	}
	for _, r := range res.Reports {
		a.saveModel(ctx, "garch", []string{r.Symbol}, r.Model, map[string]interface{}{
			"current_volatility":  r.CurrentAnnualized,
			"long_run_volatility": r.LongRunAnnualized,
			"forecast":            r.Forecast,
			"regime":              r.Regime,
		})
		if len(r.Forecast) > 0 {
			a.alerts.Volatility(ctx, r.Symbol, r.Forecast[0])
		}
	}
	return res, nil
}

// CausalityResult summarises the VAR fit and the Granger tests
type CausalityResult struct {
	LagSelection varmodel.LagSelection    `json:"lag_selection"`
	Lags         int                      `json:"lags"`
	Observations int                      `json:"observations"`
	AIC          float64                  `json:"aic"`
	BIC          float64                  `json:"bic"`
	Tests        []varmodel.GrangerResult `json:"granger_tests"`
	Significant  []varmodel.GrangerResult `json:"significant_relationships"`
	Forecast     map[string][]float64     `json:"forecast"`
}

func (a *Analyzer) causality(ctx context.Context, ds *dataset, req Request) (*CausalityResult, error) {
	if err := ds.returns.Require(varmodel.MinObservations, 2); err != nil {
		return nil, err
	}
	res := &CausalityResult{Lags: req.Lags}
	if res.Lags <= 0 {
		sel, err := varmodel.SelectLag(ds.returns, a.cfg.MaxLags)
		if err != nil {
			return nil, err
		}
		res.LagSelection = sel
		res.Lags = sel.Selected
	}

	model, err := varmodel.Fit(ds.returns, res.Lags)
	if err != nil {
		return nil, fmt.Errorf("fitting VAR(%d): %w", res.Lags, err)
	}
	res.Observations = model.Observations
	res.AIC = model.AIC
	res.BIC = model.BIC

	tests, err := varmodel.GrangerMatrix(ds.returns, res.Lags)
	if err != nil {
		return nil, err
	}
	res.Tests = tests
	res.Significant = []varmodel.GrangerResult{}
	for _, t := range tests {
		if t.Significant {
			res.Significant = append(res.Significant, t)
		}
	}

	horizon := req.Horizon
	if horizon <= 0 {
		horizon = a.cfg.VolatilityHorizon
	}
	path := model.Forecast(horizon)
	res.Forecast = make(map[string][]float64, len(model.Symbols))
	for j, sym := range model.Symbols {
		for _, step := range path {
			res.Forecast[sym] = append(res.Forecast[sym], step[j])
		}
	}

	a.saveModel(ctx, "var", model.Symbols, model, map[string]interface{}{
		"aic":         model.AIC,
		"bic":         model.BIC,
		"significant": len(res.Significant),
	})
	return res, nil
}

// RegimeResult is the detected regime sequence and its summary
type RegimeResult struct {
	*regime.Result
	Universe string `json:"universe"`
	Summary  string `json:"summary"`
}

func (a *Analyzer) regime(ctx context.Context, ds *dataset, req Request) (*RegimeResult, error) {
	n := req.Regimes
	if n <= 0 {
		n = a.cfg.Regimes
	}
	r, err := regime.Detect(ds.returns, regime.Options{Regimes: n})
	if err != nil {
		return nil, err
	}
	res := &RegimeResult{Result: r, Universe: a.cfg.Universe, Summary: r.Summary()}

	if err := a.store.SaveRegimes(ctx, regime.Records(r, a.cfg.Universe, a.now().UTC())); err != nil {
		a.logger.Error().Err(err).Msg("Failed to store regimes")
	}
	a.alerts.RegimeChange(ctx, a.cfg.Universe, r.Current, r.ChangeProbability)
	return res, nil
}

// NetworkResult is the correlation network with its risk bucket
type NetworkResult struct {
	*network.Network
	RiskLevel string `json:"risk_level"`
}

func (a *Analyzer) network(_ context.Context, ds *dataset, req Request) (*NetworkResult, error) {
	m, err := correlation.Compute(ds.returns, req.Method)
	if err != nil {
		return nil, err
	}
	threshold := req.Threshold
	if threshold <= 0 {
		threshold = a.cfg.NetworkThreshold
	}
	n := network.Build(m, threshold)
	return &NetworkResult{Network: n, RiskLevel: n.RiskLevel()}, nil
}

// PairForecast is the rolling correlation forecast of one pair
type PairForecast struct {
	Symbol1  string               `json:"symbol1"`
	Symbol2  string               `json:"symbol2"`
	Forecast correlation.Forecast `json:"forecast"`
}

// PredictionResult holds rolling correlation forecasts per pair
type PredictionResult struct {
	Window   int               `json:"window"`
	Horizon  int               `json:"horizon"`
	Pairs    []PairForecast    `json:"pairs"`
	Failures map[string]string `json:"failures,omitempty"`
}

func (a *Analyzer) prediction(ctx context.Context, ds *dataset, req Request) (*PredictionResult, error) {
	if err := ds.returns.Require(correlation.MinObservations, 2); err != nil {
		return nil, err
	}
	res := &PredictionResult{Window: a.cfg.RollingWindow, Horizon: req.Horizon}
	if res.Horizon <= 0 {
		res.Horizon = a.cfg.VolatilityHorizon
	}
	p := ds.returns
	for i := 0; i < p.Width(); i++ {
		for j := i + 1; j < p.Width(); j++ {
			key := p.Symbols[i] + "_" + p.Symbols[j]
			fc, err := forecastPair(p.Values[i], p.Values[j], res.Window, res.Horizon)
			if err != nil {
				if res.Failures == nil {
					res.Failures = map[string]string{}
				}
				res.Failures[key] = err.Error()
				continue
			}
			res.Pairs = append(res.Pairs, PairForecast{Symbol1: p.Symbols[i], Symbol2: p.Symbols[j], Forecast: fc})
		}
	}
	if len(res.Pairs) == 0 {
		return nil, fmt.Errorf("no pair could be forecast with window %d: %w", res.Window, series.ErrInsufficientData)
	}
	sort.SliceStable(res.Pairs, func(x, y int) bool {
		return math.Abs(res.Pairs[x].Forecast.Current) > math.Abs(res.Pairs[y].Forecast.Current)
	})
	a.saveModel(ctx, "correlation_forecast", p.Symbols,
		map[string]int{"window": res.Window, "horizon": res.Horizon},
		res.Pairs)
	return res, nil
}

func forecastPair(x, y []float64, window, horizon int) (correlation.Forecast, error) {
	rolling, err := correlation.Rolling(x, y, window)
	if err != nil {
		return correlation.Forecast{}, err
	}
	return correlation.ForecastRolling(rolling, horizon)
}

// AnomalyResult holds the latest anomaly scores and market conditions per symbol
type AnomalyResult struct {
	Detections []models.AnomalyDetection `json:"detections"`
	Anomalous  int                       `json:"anomalous"`
	Conditions []anomaly.Condition       `json:"conditions"`
}

func (a *Analyzer) anomalies(ctx context.Context, ds *dataset, _ Request) (*AnomalyResult, error) {
	bySymbol := quality.GroupBySymbol(ds.rows)
	detector := anomaly.NewDetector(anomaly.DefaultConfig())

	res := &AnomalyResult{Detections: detector.DetectAll(bySymbol)}
	if res.Detections == nil {
		res.Detections = []models.AnomalyDetection{}
	}
	symbols := make([]string, 0, len(bySymbol))
	for sym := range bySymbol {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	for _, sym := range symbols {
		res.Conditions = append(res.Conditions, anomaly.Classify(sym, bySymbol[sym]))
	}
	for _, d := range res.Detections {
		if d.IsAnomaly {
			res.Anomalous++
			a.alerts.Anomaly(ctx, d)
		}
	}
	return res, nil
}
