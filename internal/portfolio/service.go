package portfolio

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/Alias1177/Correlator/internal/analysis/series"
	"github.com/Alias1177/Correlator/internal/database"
	"github.com/Alias1177/Correlator/models"
)

// Store is the market data source of the service
type Store interface {
	MarketData(ctx context.Context, f database.MarketDataFilter) ([]models.MarketData, error)
}

// Config holds portfolio defaults
type Config struct {
	LookbackDays       int
	RiskFreeRate       float64
	RebalanceThreshold float64
}

// Request describes a portfolio and what to do with it
type Request struct {
	Portfolio    map[string]float64 `json:"portfolio" validate:"omitempty,dive,keys,required,endkeys,gte=0"`
	Universe     []string           `json:"universe" validate:"omitempty,max=100,dive,required"`
	Strategy     string             `json:"strategy" validate:"omitempty,oneof=conservative balanced aggressive diversified"`
	Method       string             `json:"method" validate:"omitempty,oneof=mean_variance min_variance risk_parity equal_weight"`
	TargetReturn *float64           `json:"target_return"`
	RiskMeasures []string           `json:"risk_measures" validate:"omitempty,dive,oneof=var cvar max_drawdown"`
	LookbackDays int                `json:"lookback_days" validate:"omitempty,min=30,max=3650"`
}

// RebalanceRequest compares current holdings against targets
type RebalanceRequest struct {
	Current   map[string]float64 `json:"current_portfolio" validate:"required,min=1"`
	Target    map[string]float64 `json:"target_portfolio" validate:"required,min=1"`
	Threshold float64            `json:"threshold" validate:"omitempty,gt=0,lt=1"`
	Value     decimal.Decimal    `json:"portfolio_value"`
}

// QuickRequest asks for an allocation of cash over a few symbols
type QuickRequest struct {
	Symbols  []string `json:"symbols" validate:"omitempty,max=50,dive,required"`
	Strategy string   `json:"strategy" validate:"omitempty,oneof=conservative balanced aggressive diversified"`
	Cash     float64  `json:"cash" validate:"omitempty,gt=0"`
}

// QuickRecommendation is a condensed recommendation with position sizes
type QuickRecommendation struct {
	Strategy     string         `json:"strategy"`
	TopPicks     []AssetScore   `json:"top_picks"`
	Positions    []Position     `json:"positions"`
	Risk         RiskAssessment `json:"risk_assessment"`
	Summary      string         `json:"summary"`
	AssetsScored int            `json:"assets_scored"`
	Generated    time.Time      `json:"generated_at"`
}

// RiskReport pairs the risk assessment with the metrics behind it
type RiskReport struct {
	Assessment RiskAssessment `json:"assessment"`
	Metrics    *Metrics       `json:"metrics"`
}

// Service runs portfolio operations over stored market data
type Service struct {
	store   Store
	cfg     Config
	history *History
	now     func() time.Time
	logger  zerolog.Logger
}

// NewService creates a portfolio service
func NewService(store Store, cfg Config) *Service {
	if cfg.LookbackDays <= 0 {
		cfg.LookbackDays = 365
	}
	if cfg.RebalanceThreshold <= 0 {
		cfg.RebalanceThreshold = DefaultRebalanceThreshold
	}
	return &Service{
		store:   store,
		cfg:     cfg,
		history: &History{},
		now:     time.Now,
		logger:  log.With().Str("component", "portfolio").Logger(),
	}
}

// History exposes the recommendation history
func (s *Service) History() *History { return s.history }

// returns loads daily returns for symbols over the lookback window. Symbols with
// much shorter history than the rest are dropped so they do not shrink the join.
func (s *Service) returns(ctx context.Context, symbols []string, lookback int) (*series.Panel, error) {
	if lookback <= 0 {
		lookback = s.cfg.LookbackDays
	}
	end := s.now().UTC()
	rows, err := s.store.MarketData(ctx, database.MarketDataFilter{
		Symbols: symbols,
		Start:   end.AddDate(0, 0, -lookback),
		End:     end,
	})
	if err != nil {
		return nil, fmt.Errorf("loading market data: %w", err)
	}

	counts := map[string]int{}
	most := 0
	for _, r := range rows {
		counts[r.Symbol]++
		most = max(most, counts[r.Symbol])
	}
	kept := rows[:0:0]
	for _, r := range rows {
		if counts[r.Symbol]*2 >= most {
			kept = append(kept, r)
		}
	}
	if len(kept) == 0 {
		return nil, fmt.Errorf("no market data for %v: %w", symbols, series.ErrInsufficientData)
	}
	prices, err := series.FromMarketData(kept, series.Options{})
	if err != nil {
		return nil, err
	}
	return prices.Returns(series.SimpleReturns)
}

func upperKeys(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[strings.ToUpper(strings.TrimSpace(k))] += v
	}
	return out
}

func upperAll(symbols []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// Generate scores the universe plus current holdings under a strategy and records the result
func (s *Service) Generate(ctx context.Context, req Request) (*Recommendation, error) {
	if req.Strategy == "" {
		req.Strategy = Balanced
	}
	holdings := upperKeys(req.Portfolio)
	universe := req.Universe
	if len(universe) == 0 {
		universe = DefaultUniverse()
	}
	universe = upperAll(append(universe, sortedKeys(holdings)...))

	returns, err := s.returns(ctx, universe, req.LookbackDays)
	if err != nil {
		return nil, err
	}
	rec, err := Recommend(returns, holdings, req.Strategy, s.cfg.RiskFreeRate)
	if err != nil {
		return nil, err
	}
	rec.GeneratedAt = s.now().UTC()
	s.history.Add(*rec)
	s.logger.Info().
		Str("strategy", rec.Strategy).
		Int("buy", len(rec.BuySignals)).
		Int("sell", len(rec.SellSignals)).
		Str("risk", rec.Risk.Level).
		Msg("Recommendations generated")
	return rec, nil
}

// Optimize finds optimal weights over the portfolio's symbols, or the universe when empty
func (s *Service) Optimize(ctx context.Context, req Request) (*Optimization, error) {
	symbols := sortedKeys(upperKeys(req.Portfolio))
	if len(symbols) == 0 {
		symbols = upperAll(req.Universe)
	}
	if len(symbols) < 2 {
		return nil, fmt.Errorf("optimization needs at least 2 symbols: %w", series.ErrInsufficientData)
	}
	returns, err := s.returns(ctx, symbols, req.LookbackDays)
	if err != nil {
		return nil, err
	}
	return Optimize(returns, OptimizeOptions{
		Method:       req.Method,
		TargetReturn: req.TargetReturn,
		RiskFree:     s.cfg.RiskFreeRate,
	})
}

// Analyze computes metrics for the given weights
func (s *Service) Analyze(ctx context.Context, req Request) (*Metrics, error) {
	holdings := upperKeys(req.Portfolio)
	if err := checkWeights(holdings); err != nil {
		return nil, err
	}
	if len(holdings) == 0 {
		return nil, ErrEmptyPortfolio
	}
	returns, err := s.returns(ctx, sortedKeys(holdings), req.LookbackDays)
	if err != nil {
		return nil, err
	}
	return Compute(returns, holdings, s.cfg.RiskFreeRate)
}

// AssessRisk scores the portfolio's risk on the requested measures
func (s *Service) AssessRisk(ctx context.Context, req Request) (*RiskReport, error) {
	m, err := s.Analyze(ctx, req)
	if err != nil {
		return nil, err
	}
	return &RiskReport{Assessment: AssessRisk(m, req.RiskMeasures), Metrics: m}, nil
}

// CheckRebalance reports the drift between current and target weights
func (s *Service) CheckRebalance(req RebalanceRequest) RebalanceCheck {
	threshold := req.Threshold
	if threshold <= 0 {
		threshold = s.cfg.RebalanceThreshold
	}
	return CheckRebalance(upperKeys(req.Current), upperKeys(req.Target), threshold, req.Value)
}

// Quick scores a short symbol list and sizes positions for the given cash
func (s *Service) Quick(ctx context.Context, req QuickRequest) (*QuickRecommendation, error) {
	if req.Cash <= 0 {
		req.Cash = 10000
	}
	rec, err := s.Generate(ctx, Request{Universe: req.Symbols, Strategy: req.Strategy})
	if err != nil {
		return nil, err
	}
	top := rec.BuySignals
	if len(top) > 5 {
		top = top[:5]
	}
	out := &QuickRecommendation{
		Strategy:     rec.Strategy,
		TopPicks:     top,
		Positions:    PositionSizes(req.Cash, rec.Allocation),
		Risk:         rec.Risk,
		Summary:      rec.Summary,
		AssetsScored: len(rec.Scores),
		Generated:    rec.GeneratedAt,
	}
	sort.SliceStable(out.Positions, func(i, j int) bool { return out.Positions[i].Weight > out.Positions[j].Weight })
	return out, nil
}

// Performance summarises recorded recommendations over [start, end]
func (s *Service) Performance(start, end time.Time) (PerformanceReport, error) {
	if end.IsZero() {
		end = s.now().UTC()
	}
	if start.IsZero() {
		start = end.AddDate(0, 0, -30)
	}
	return s.history.Performance(start, end)
}
