package portfolio

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"

	"github.com/Alias1177/Correlator/internal/analysis/series"
	"github.com/Alias1177/Correlator/internal/database"
	"github.com/Alias1177/Correlator/models"
)

type asset struct {
	symbol   string
	mean, sd float64
}

var start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func returnPanel(n int, seed uint64, assets ...asset) *series.Panel {
	r := rand.New(rand.NewPCG(seed, seed+1))
	p := &series.Panel{}
	for i := 0; i < n; i++ {
		p.Dates = append(p.Dates, start.AddDate(0, 0, i))
	}
	for _, a := range assets {
		vals := make([]float64, n)
		for i := range vals {
			vals[i] = a.mean + a.sd*r.NormFloat64()
		}
		p.Symbols = append(p.Symbols, a.symbol)
		p.Values = append(p.Values, vals)
	}
	return p
}

func TestComputeMetrics(t *testing.T) {
	p := returnPanel(500, 1, asset{"AAA", 0.0005, 0.01}, asset{"BBB", 0.0003, 0.015}, asset{"CCC", 0, 0.02})

	m, err := Compute(p, map[string]float64{"AAA": 2, "BBB": 1, "CCC": 1}, 0.02)
	require.NoError(t, err)
	assert.Equal(t, 500, m.Observations)
	assert.InDelta(t, 0.5, m.Weights["AAA"], 1e-12)
	assert.InDelta(t, 0.5, m.Concentration, 1e-12)
	assert.InDelta(t, 1/(0.25+0.0625+0.0625), m.EffectiveAssets, 1e-9)
	assert.InDelta(t, 1-m.AverageCorrelation, m.DiversificationRatio, 1e-12)
	assert.InDelta(t, 1, m.SystematicRisk+m.IdiosyncraticRisk, 1e-12)
	assert.Less(t, m.VaR95, 0.0)
	assert.LessOrEqual(t, m.VaR99, m.VaR95)
	assert.LessOrEqual(t, m.CVaR95, m.VaR95)
	assert.LessOrEqual(t, m.MaxDrawdown, m.CurrentDrawdown)
	assert.Greater(t, m.AnnualVolatility, 0.0)

	var riskSum, retSum float64
	require.Len(t, m.Assets, 3)
	for _, a := range m.Assets {
		riskSum += a.RiskContribution
		retSum += a.ReturnContribution
	}
	assert.InDelta(t, 1, riskSum, 1e-9)
	assert.InDelta(t, m.AnnualReturn, retSum, 1e-9)
}

func TestComputeIgnoresUnknownSymbols(t *testing.T) {
	p := returnPanel(50, 2, asset{"AAA", 0, 0.01})
	m, err := Compute(p, map[string]float64{"AAA": 3, "ZZZ": 1}, 0)
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"AAA": 1}, m.Weights)

	_, err = Compute(p, map[string]float64{"ZZZ": 1}, 0)
	assert.ErrorIs(t, err, ErrEmptyPortfolio)
}

func TestDrawdowns(t *testing.T) {
	worst, current := drawdowns([]float64{0.1, -0.5, 0.2})
	assert.InDelta(t, -0.5, worst, 1e-12)
	assert.InDelta(t, -0.4, current, 1e-12)
}

func TestOptimizeMinVariance(t *testing.T) {
	p := returnPanel(2000, 3, asset{"AAA", 0, 0.01}, asset{"BBB", 0, 0.02})
	res, err := Optimize(p, OptimizeOptions{Method: MinVariance})
	require.NoError(t, err)

	s11 := stat.Variance(p.Values[0], nil)
	s22 := stat.Variance(p.Values[1], nil)
	s12 := stat.Covariance(p.Values[0], p.Values[1], nil)
	want := (s22 - s12) / (s11 + s22 - 2*s12)
	assert.InDelta(t, want, res.Weights["AAA"], 0.01)
	assert.InDelta(t, 1, res.Weights["AAA"]+res.Weights["BBB"], 1e-9)
}

func TestOptimizeRiskParity(t *testing.T) {
	p := returnPanel(1000, 4, asset{"AAA", 0, 0.01}, asset{"BBB", 0, 0.03})
	res, err := Optimize(p, OptimizeOptions{Method: RiskParity})
	require.NoError(t, err)
	assert.True(t, res.Converged)

	// two assets at equal risk hold weights inversely proportional to volatility
	sd1 := stat.StdDev(p.Values[0], nil)
	sd2 := stat.StdDev(p.Values[1], nil)
	assert.InDelta(t, sd2/(sd1+sd2), res.Weights["AAA"], 1e-6)
	for _, a := range res.Metrics.Assets {
		assert.InDelta(t, 0.5, a.RiskContribution, 1e-6)
	}
}

func TestOptimizeMeanVariance(t *testing.T) {
	p := returnPanel(750, 5, asset{"AAA", 0.001, 0.01}, asset{"BBB", 0.0002, 0.02}, asset{"CCC", 0.0005, 0.012})
	res, err := Optimize(p, OptimizeOptions{RiskFree: 0.02})
	require.NoError(t, err)
	assert.Equal(t, MeanVariance, res.Method)

	var sum float64
	for _, w := range res.Weights {
		assert.GreaterOrEqual(t, w, 0.0)
		sum += w
	}
	assert.InDelta(t, 1, sum, 1e-9)

	eq, err := Optimize(p, OptimizeOptions{Method: EqualWeight, RiskFree: 0.02})
	require.NoError(t, err)
	assert.InDelta(t, 1.0/3, eq.Weights["BBB"], 1e-12)
	assert.GreaterOrEqual(t, res.Metrics.SharpeRatio, eq.Metrics.SharpeRatio-1e-6)

	_, err = Optimize(p, OptimizeOptions{Method: "black_litterman"})
	assert.Error(t, err)
}

func TestAssessRisk(t *testing.T) {
	high := AssessRisk(&Metrics{AnnualVolatility: 0.5, VaR95: -0.05, MaxDrawdown: -0.3}, nil)
	assert.InDelta(t, 1, high.Score, 1e-12)
	assert.Equal(t, RiskHigh, high.Level)
	assert.Equal(t, RiskHigh, high.VolatilityRank)
	assert.Equal(t, []string{
		"Consider reducing portfolio risk through diversification",
		"Implement stop-loss orders to limit downside risk",
		"High volatility detected - consider defensive assets",
		"Large drawdown risk - implement risk management rules",
	}, high.Recommendations)

	low := AssessRisk(&Metrics{AnnualVolatility: 0.1, VaR95: -0.01, MaxDrawdown: -0.05}, nil)
	assert.InDelta(t, 0.19, low.Score, 1e-9)
	assert.Equal(t, RiskLow, low.Level)
	assert.Equal(t, []string{"Risk levels are within acceptable ranges"}, low.Recommendations)

	varOnly := AssessRisk(&Metrics{AnnualVolatility: 0.1, VaR95: -0.01, MaxDrawdown: -0.05}, []string{MeasureVaR})
	assert.InDelta(t, 0.14/0.7, varOnly.Score, 1e-9)
	assert.Nil(t, varOnly.MaxDrawdown)
	assert.NotNil(t, varOnly.VaR95)
}

func TestCheckRebalance(t *testing.T) {
	check := CheckRebalance(
		map[string]float64{"AAA": 0.5, "BBB": 0.3, "CCC": 0.2},
		map[string]float64{"AAA": 0.4, "BBB": 0.3, "DDD": 0.3},
		0.05, decimal.NewFromInt(100000))

	assert.True(t, check.NeedsRebalancing)
	assert.Equal(t, "rebalance_now", check.Recommendation)
	assert.Equal(t, RiskHigh, check.Urgency)
	assert.InDelta(t, 0.6, check.TotalDrift, 1e-12)
	assert.InDelta(t, 0.003, check.EstimatedCost, 1e-12)

	require.Len(t, check.Actions, 3)
	assert.Equal(t, "DDD", check.Actions[0].Symbol)
	assert.Equal(t, ActionNewPosition, check.Actions[0].Action)
	assert.Equal(t, RiskHigh, check.Actions[0].Urgency)
	assert.Equal(t, "$30,000.00", check.Actions[0].TradeValue)
	assert.Equal(t, ActionExitPosition, check.Actions[1].Action)
	assert.Equal(t, ActionSell, check.Actions[2].Action)
	assert.Equal(t, RiskMedium, check.Actions[2].Urgency)

	calm := CheckRebalance(map[string]float64{"AAA": 0.5, "BBB": 0.5}, map[string]float64{"AAA": 0.51, "BBB": 0.49}, 0, decimal.Zero)
	assert.False(t, calm.NeedsRebalancing)
	assert.Equal(t, "monitor", calm.Recommendation)
	assert.Equal(t, RiskLow, calm.Urgency)
	assert.Empty(t, calm.Actions)
	assert.Zero(t, calm.EstimatedCost)

	// drift on each side is below the threshold even though the total exceeds it
	split := CheckRebalance(
		map[string]float64{"AAA": 0.46, "BBB": 0.54},
		map[string]float64{"AAA": 0.5, "BBB": 0.5},
		0.05, decimal.NewFromInt(100000))
	assert.True(t, split.NeedsRebalancing)
	assert.Empty(t, split.Actions)
	assert.Zero(t, split.EstimatedCost)
}

func TestPositionSizes(t *testing.T) {
	pos := PositionSizes(10000, map[string]float64{"BBB": 0.4, "AAA": 0.6})
	require.Len(t, pos, 2)
	assert.Equal(t, "AAA", pos[0].Symbol)
	assert.Equal(t, 6000.0, pos[0].Amount)
	assert.Equal(t, "$6,000.00", pos[0].Value)
}

func TestAdjustForVolatility(t *testing.T) {
	assert.InDelta(t, 0.5, AdjustForVolatility(1, 2), 1e-12)
	assert.InDelta(t, 1.2, AdjustForVolatility(1, 0.5), 1e-12)
	assert.Equal(t, 1.0, AdjustForVolatility(1, 1))
}

func TestCapWeights(t *testing.T) {
	w := capWeights(map[string]float64{"AAA": 10, "BBB": 1, "CCC": 1, "DDD": 1}, 0.3)
	assert.InDelta(t, 0.3, w["AAA"], 1e-12)
	assert.InDelta(t, 0.7/3, w["BBB"], 1e-12)

	// a limit below 1/n is raised to equal weight
	w = capWeights(map[string]float64{"AAA": 5, "BBB": 1}, 0.1)
	assert.InDelta(t, 0.5, w["AAA"], 1e-12)
}

func recommendPanel() *series.Panel {
	return returnPanel(250, 6,
		asset{"GOOD", 0.003, 0.005},
		asset{"BAD", -0.003, 0.03},
		asset{"N1", 0, 0.01},
		asset{"N2", 0, 0.01},
		asset{"N3", 0, 0.01},
		asset{"N4", 0, 0.01},
	)
}

func TestRecommend(t *testing.T) {
	rec, err := Recommend(recommendPanel(), map[string]float64{"BAD": 0.5, "N1": 0.5}, Balanced, 0.02)
	require.NoError(t, err)

	require.NotEmpty(t, rec.BuySignals)
	assert.Equal(t, "GOOD", rec.BuySignals[0].Symbol)
	assert.NotEmpty(t, rec.BuySignals[0].Reason)
	var sold []string
	for _, s := range rec.SellSignals {
		sold = append(sold, s.Symbol)
	}
	assert.Contains(t, sold, "BAD")
	assert.Len(t, rec.Scores, 6)

	var sum float64
	limit := math.Max(strategies[Balanced].MaxWeight, 1/float64(len(rec.Allocation)))
	for sym, w := range rec.Allocation {
		assert.NotEqual(t, "BAD", sym)
		assert.LessOrEqual(t, w, limit+1e-9)
		sum += w
	}
	assert.InDelta(t, 1, sum, 1e-9)
	assert.NotEmpty(t, rec.Risk.Level)
	assert.Contains(t, rec.Summary, "balanced")

	_, err = Recommend(recommendPanel(), nil, "yolo", 0)
	assert.Error(t, err)
}

func TestCatalogues(t *testing.T) {
	s := Strategies()
	assert.Len(t, s, 4)
	assert.Equal(t, "Low-Medium", s[Diversified].RiskLevel)

	u := Universe()
	assert.Len(t, u, 7)
	assert.Contains(t, u["etfs"], "SPY")
	assert.Len(t, DefaultUniverse(), 15)
}

func TestHistoryPerformance(t *testing.T) {
	h := &History{}
	for i := 0; i < 105; i++ {
		h.Add(Recommendation{
			Strategy:    Balanced,
			GeneratedAt: start.Add(time.Duration(i) * time.Hour),
			BuySignals:  make([]AssetScore, 2),
			SellSignals: make([]AssetScore, i%2),
			Risk:        RiskAssessment{Level: RiskLow},
		})
	}
	assert.Equal(t, 100, h.Len())
	last, ok := h.Last()
	require.True(t, ok)
	assert.Equal(t, start.Add(104*time.Hour), last.GeneratedAt)

	rep, err := h.Performance(start.Add(100*time.Hour), start.Add(103*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 4, rep.Total)
	assert.InDelta(t, 2, rep.AvgBuySignals, 1e-12)
	assert.InDelta(t, 0.5, rep.AvgSellSignals, 1e-12)
	assert.Equal(t, 4, rep.RiskDistribution[RiskLow])

	_, err = h.Performance(start.AddDate(1, 0, 0), start.AddDate(2, 0, 0))
	assert.ErrorIs(t, err, ErrNoHistory)
}

type fakeStore struct {
	rows []models.MarketData
}

func (s fakeStore) MarketData(_ context.Context, f database.MarketDataFilter) ([]models.MarketData, error) {
	want := map[string]bool{}
	for _, sym := range f.Symbols {
		want[sym] = true
	}
	var out []models.MarketData
	for _, r := range s.rows {
		if want[r.Symbol] && !r.Date.Before(f.Start) && !r.Date.After(f.End) {
			out = append(out, r)
		}
	}
	return out, nil
}

// pricesFrom compounds a return panel into stored rows
func pricesFrom(p *series.Panel) []models.MarketData {
	var rows []models.MarketData
	for j, sym := range p.Symbols {
		price := 100.0
		for i, r := range p.Values[j] {
			price *= 1 + r
			rows = append(rows, models.MarketData{
				Symbol:      sym,
				AssetClass:  models.AssetClassEquity,
				Date:        p.Dates[i],
				Open:        price,
				High:        price,
				Low:         price,
				Close:       price,
				Source:      models.SourceYahooFinance,
				CollectedAt: p.Dates[i],
			})
		}
	}
	return rows
}

func TestService(t *testing.T) {
	p := recommendPanel()
	rows := pricesFrom(p)
	// a symbol with a short history must not shrink the join
	rows = append(rows, models.MarketData{Symbol: "THIN", Date: p.Last(), Close: 10, Source: models.SourceYahooFinance})

	svc := NewService(fakeStore{rows: rows}, Config{RiskFreeRate: 0.02, LookbackDays: 3650})
	now := p.Last().Add(time.Hour)
	svc.now = func() time.Time { return now }
	ctx := context.Background()

	rec, err := svc.Generate(ctx, Request{
		Portfolio: map[string]float64{"bad": 0.5, "n1": 0.5},
		Universe:  []string{"GOOD", "N2", "N3", "N4", "THIN"},
	})
	require.NoError(t, err)
	assert.Equal(t, Balanced, rec.Strategy)
	assert.Len(t, rec.Scores, 6)
	assert.Equal(t, now.UTC(), rec.GeneratedAt)

	m, err := svc.Analyze(ctx, Request{Portfolio: map[string]float64{"GOOD": 0.5, "N1": 0.5}})
	require.NoError(t, err)
	assert.Equal(t, 249, m.Observations)

	risk, err := svc.AssessRisk(ctx, Request{Portfolio: map[string]float64{"GOOD": 1}})
	require.NoError(t, err)
	assert.Equal(t, RiskLow, risk.Assessment.VolatilityRank)

	opt, err := svc.Optimize(ctx, Request{Universe: []string{"N1", "N2"}, Method: EqualWeight})
	require.NoError(t, err)
	assert.InDelta(t, 0.5, opt.Weights["N1"], 1e-12)

	_, err = svc.Optimize(ctx, Request{Universe: []string{"N1"}})
	assert.True(t, errors.Is(err, series.ErrInsufficientData))

	quick, err := svc.Quick(ctx, QuickRequest{Symbols: []string{"GOOD", "N1", "N2", "N3"}, Cash: 5000})
	require.NoError(t, err)
	var total float64
	for _, pos := range quick.Positions {
		total += pos.Amount
	}
	assert.InDelta(t, 5000, total, 0.05)

	perf, err := svc.Performance(time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 2, perf.Total)

	check := svc.CheckRebalance(RebalanceRequest{
		Current: map[string]float64{"aaa": 1},
		Target:  map[string]float64{"AAA": 0.5, "BBB": 0.5},
	})
	assert.True(t, check.NeedsRebalancing)
}
