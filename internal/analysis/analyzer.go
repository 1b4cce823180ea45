// Package analysis runs the statistical analyses over stored market data,
// persists their results and raises alerts from them.
package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Alias1177/Correlator/internal/alert"
	"github.com/Alias1177/Correlator/internal/analysis/correlation"
	"github.com/Alias1177/Correlator/internal/analysis/series"
	"github.com/Alias1177/Correlator/internal/database"
	"github.com/Alias1177/Correlator/internal/metrics"
	"github.com/Alias1177/Correlator/models"
)

// Analysis types, also used as metric labels and model result types
const (
	TypeCorrelation   = "correlation"
	TypeVolatility    = "volatility"
	TypeCausality     = "causality"
	TypeRegime        = "regime"
	TypeNetwork       = "network"
	TypePrediction    = "prediction"
	TypeAnomaly       = "anomaly"
	TypeComprehensive = "comprehensive"
)

// Store is the persistence the analyzer reads from and writes to
type Store interface {
	MarketData(ctx context.Context, f database.MarketDataFilter) ([]models.MarketData, error)
	SaveCorrelations(ctx context.Context, records []models.CorrelationRecord) error
	SaveRegimes(ctx context.Context, records []models.RegimeRecord) error
	SaveModelResult(ctx context.Context, r models.ModelResult) error
}

// Config holds analysis defaults
type Config struct {
	Symbols              []string
	LookbackDays         int
	CorrelationThreshold float64
	NetworkThreshold     float64
	MaxLags              int
	Regimes              int
	VolatilityHorizon    int
	RollingWindow        int
	Universe             string
}

func (c *Config) setDefaults() {
	if c.LookbackDays <= 0 {
		c.LookbackDays = 365
	}
	if c.CorrelationThreshold <= 0 {
		c.CorrelationThreshold = 0.7
	}
	if c.NetworkThreshold <= 0 {
		c.NetworkThreshold = 0.5
	}
	if c.MaxLags <= 0 {
		c.MaxLags = 5
	}
	if c.Regimes < 2 {
		c.Regimes = 3
	}
	if c.VolatilityHorizon <= 0 {
		c.VolatilityHorizon = 5
	}
	if c.RollingWindow <= 0 {
		c.RollingWindow = 30
	}
	if c.Universe == "" {
		c.Universe = "default"
	}
}

// Request selects the data an analysis runs on. Zero values take the analyzer defaults.
type Request struct {
	Symbols   []string  `json:"symbols" validate:"omitempty,max=50,dive,required"`
	Start     time.Time `json:"start_date"`
	End       time.Time `json:"end_date"`
	Method    string    `json:"method" validate:"omitempty,oneof=pearson spearman kendall"`
	Window    int       `json:"window" validate:"omitempty,min=2"`
	Lags      int       `json:"lags" validate:"omitempty,min=1,max=20"`
	Regimes   int       `json:"regimes" validate:"omitempty,min=2,max=6"`
	Horizon   int       `json:"horizon" validate:"omitempty,min=1,max=60"`
	Threshold float64   `json:"threshold" validate:"omitempty,gt=0,lte=1"`
}

// Analyzer runs analyses against the store
type Analyzer struct {
	store   Store
	alerts  *alert.Manager
	metrics *metrics.Registry
	cfg     Config
	now     func() time.Time
	logger  zerolog.Logger
}

// New creates an analyzer. alerts and m may be nil.
func New(store Store, alerts *alert.Manager, m *metrics.Registry, cfg Config) *Analyzer {
	cfg.setDefaults()
	return &Analyzer{
		store:   store,
		alerts:  alerts,
		metrics: m,
		cfg:     cfg,
		now:     time.Now,
		logger:  log.With().Str("component", "analyzer").Logger(),
	}
}

// dataset is market data loaded once and shared by every analysis of a request
type dataset struct {
	symbols []string
	rows    []models.MarketData
	prices  *series.Panel
	returns *series.Panel
}

func (a *Analyzer) normalize(req Request) Request {
	if len(req.Symbols) == 0 {
		req.Symbols = a.cfg.Symbols
	}
	symbols := make([]string, 0, len(req.Symbols))
	seen := map[string]bool{}
	for _, s := range req.Symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		symbols = append(symbols, s)
	}
	req.Symbols = symbols
	if req.End.IsZero() {
		req.End = a.now().UTC()
	}
	if req.Start.IsZero() {
		req.Start = req.End.AddDate(0, 0, -a.cfg.LookbackDays)
	}
	if req.Method == "" {
		req.Method = correlation.Pearson
	}
	return req
}

func (a *Analyzer) load(ctx context.Context, req Request) (*dataset, error) {
	rows, err := a.store.MarketData(ctx, database.MarketDataFilter{
		Symbols: req.Symbols,
		Start:   req.Start,
		End:     req.End,
	})
	if err != nil {
		return nil, fmt.Errorf("loading market data: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("no market data for %v: %w", req.Symbols, series.ErrInsufficientData)
	}

	prices, err := series.FromMarketData(rows, series.Options{})
	if err != nil {
		return nil, err
	}
	returns, err := prices.Returns(series.SimpleReturns)
	if err != nil {
		return nil, err
	}
	if req.Window > 0 && returns.Len() > req.Window {
		if returns, err = returns.Window(req.Window); err != nil {
			return nil, err
		}
	}
	return &dataset{symbols: prices.Symbols, rows: rows, prices: prices, returns: returns}, nil
}

// run loads data, executes fn and records its duration
func run[T any](ctx context.Context, a *Analyzer, kind string, req Request, fn func(context.Context, *dataset, Request) (T, error)) (T, error) {
	start := time.Now()
	req = a.normalize(req)

	var zero T
	ds, err := a.load(ctx, req)
	if err == nil {
		var res T
		res, err = fn(ctx, ds, req)
		if err == nil {
			a.metrics.ObserveAnalysis(kind, nil, time.Since(start))
			a.logger.Info().Str("type", kind).Int("symbols", len(ds.symbols)).Dur("took", time.Since(start)).Msg("Analysis completed")
			return res, nil
		}
	}
	a.metrics.ObserveAnalysis(kind, err, time.Since(start))
	a.logger.Error().Err(err).Str("type", kind).Msg("Analysis failed")
	return zero, err
}

// Correlation computes the correlation matrix and its significant pairs
func (a *Analyzer) Correlation(ctx context.Context, req Request) (*CorrelationResult, error) {
	return run(ctx, a, TypeCorrelation, req, a.correlation)
}

// Volatility fits GARCH(1,1) per symbol
func (a *Analyzer) Volatility(ctx context.Context, req Request) (*VolatilityResult, error) {
	return run(ctx, a, TypeVolatility, req, a.volatility)
}

// Causality fits a VAR and runs pairwise Granger tests
func (a *Analyzer) Causality(ctx context.Context, req Request) (*CausalityResult, error) {
	return run(ctx, a, TypeCausality, req, a.causality)
}

// Regime clusters the market into regimes
func (a *Analyzer) Regime(ctx context.Context, req Request) (*RegimeResult, error) {
	return run(ctx, a, TypeRegime, req, a.regime)
}

// Network builds the correlation network
func (a *Analyzer) Network(ctx context.Context, req Request) (*NetworkResult, error) {
	return run(ctx, a, TypeNetwork, req, a.network)
}

// Prediction forecasts rolling pairwise correlations
func (a *Analyzer) Prediction(ctx context.Context, req Request) (*PredictionResult, error) {
	return run(ctx, a, TypePrediction, req, a.prediction)
}

// Anomalies scores the latest observation of each symbol
func (a *Analyzer) Anomalies(ctx context.Context, req Request) (*AnomalyResult, error) {
	return run(ctx, a, TypeAnomaly, req, a.anomalies)
}

func (a *Analyzer) saveModel(ctx context.Context, modelType string, symbols []string, params, metrics interface{}) {
	p, err := json.Marshal(params)
	if err != nil {
		a.logger.Error().Err(err).Str("model", modelType).Msg("Failed to encode model params")
		return
	}
	m, err := json.Marshal(metrics)
	if err != nil {
		a.logger.Error().Err(err).Str("model", modelType).Msg("Failed to encode model metrics")
		return
	}
	sorted := append([]string(nil), symbols...)
	sort.Strings(sorted)
	err = a.store.SaveModelResult(ctx, models.ModelResult{
		ModelType: modelType,
		Symbols:   strings.Join(sorted, ","),
		Params:    string(p),
		Metrics:   string(m),
		CreatedAt: a.now().UTC(),
	})
	if err != nil {
		a.logger.Error().Err(err).Str("model", modelType).Msg("Failed to store model result")
	}
}
