package portfolio

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"

	"github.com/Alias1177/Correlator/internal/analysis/series"
)

// Strategy names
const (
	Conservative = "conservative"
	Balanced     = "balanced"
	Aggressive   = "aggressive"
	Diversified  = "diversified"
)

// Signals
const (
	SignalBuy  = "buy"
	SignalSell = "sell"
	SignalHold = "hold"
)

const (
	historyLimit   = 100
	momentumWindow = 60
	signalCutoff   = 0.5
)

// ErrNoHistory is returned by Performance when nothing was recommended in the window
var ErrNoHistory = errors.New("no recommendations in period")

// Strategy weights the per-asset factors when scoring
type Strategy struct {
	Name            string   `json:"name"`
	Description     string   `json:"description"`
	Characteristics []string `json:"characteristics"`
	RiskLevel       string   `json:"risk_level"`

	Factors      FactorWeights `json:"-"`
	MaxPositions int           `json:"-"`
	MaxWeight    float64       `json:"-"`
}

// FactorWeights are the score weights; volatility and correlation count against an asset
type FactorWeights struct {
	Momentum, Sharpe, Volatility, Correlation float64
}

var strategies = map[string]Strategy{
	Conservative: {
		Name:            Conservative,
		Description:     "Low-risk, stable returns with focus on capital preservation",
		Characteristics: []string{"Low volatility", "High diversification", "Defensive assets"},
		RiskLevel:       "Low",
		Factors:         FactorWeights{0.1, 0.3, 0.4, 0.2},
		MaxPositions:    10,
		MaxWeight:       0.15,
	},
	Balanced: {
		Name:            Balanced,
		Description:     "Balanced approach between growth and stability",
		Characteristics: []string{"Moderate risk", "Diversified allocation", "Growth and value mix"},
		RiskLevel:       "Medium",
		Factors:         FactorWeights{0.25, 0.35, 0.2, 0.2},
		MaxPositions:    8,
		MaxWeight:       0.2,
	},
	Aggressive: {
		Name:            Aggressive,
		Description:     "High-growth potential with higher risk tolerance",
		Characteristics: []string{"High growth potential", "Higher volatility", "Growth-focused"},
		RiskLevel:       "High",
		Factors:         FactorWeights{0.5, 0.3, 0.1, 0.1},
		MaxPositions:    5,
		MaxWeight:       0.35,
	},
	Diversified: {
		Name:            Diversified,
		Description:     "Maximum diversification across asset classes",
		Characteristics: []string{"Low correlation", "Broad diversification", "Risk reduction"},
		RiskLevel:       "Low-Medium",
		Factors:         FactorWeights{0.15, 0.25, 0.2, 0.4},
		MaxPositions:    12,
		MaxWeight:       0.12,
	},
}

// Strategies returns the strategy catalogue keyed by name
func Strategies() map[string]Strategy {
	out := make(map[string]Strategy, len(strategies))
	for k, v := range strategies {
		out[k] = v
	}
	return out
}

// LookupStrategy returns a strategy by name
func LookupStrategy(name string) (Strategy, error) {
	s, ok := strategies[name]
	if !ok {
		return Strategy{}, fmt.Errorf("unknown strategy %q", name)
	}
	return s, nil
}

// Universe returns the asset universe grouped by category
func Universe() map[string][]string {
	return map[string][]string{
		"large_cap_tech": {"AAPL", "MSFT", "GOOGL", "AMZN", "META", "NVDA", "TSLA"},
		"financials":     {"JPM", "BAC", "WFC", "GS", "MS", "V", "MA"},
		"healthcare":     {"JNJ", "UNH", "PFE", "ABBV", "TMO", "ABT"},
		"consumer":       {"WMT", "PG", "KO", "PEP", "MCD", "NKE"},
		"industrials":    {"BA", "CAT", "GE", "HON", "UPS", "LMT"},
		"energy":         {"XOM", "CVX", "COP", "EOG", "SLB"},
		"etfs":           {"SPY", "QQQ", "IWM", "GLD", "TLT", "VTI"},
	}
}

// DefaultUniverse is scored when a request names no universe
func DefaultUniverse() []string {
	return []string{"AAPL", "MSFT", "GOOGL", "AMZN", "TSLA", "META", "NVDA",
		"JPM", "JNJ", "V", "WMT", "PG", "HD", "MA", "UNH"}
}

// AssetScore is the factor breakdown of one asset
type AssetScore struct {
	Symbol      string  `json:"symbol"`
	Score       float64 `json:"score"`
	Momentum    float64 `json:"momentum"`
	Sharpe      float64 `json:"sharpe_ratio"`
	Volatility  float64 `json:"volatility"`
	Correlation float64 `json:"correlation_to_portfolio"`
	Signal      string  `json:"signal"`
	Reason      string  `json:"reason"`
	Held        bool    `json:"held"`
}

// Recommendation is the output of one scoring pass
type Recommendation struct {
	ID          string             `json:"id"`
	Strategy    string             `json:"strategy"`
	GeneratedAt time.Time          `json:"generated_at"`
	BuySignals  []AssetScore       `json:"buy_signals"`
	SellSignals []AssetScore       `json:"sell_signals"`
	Hold        []string           `json:"hold"`
	Allocation  map[string]float64 `json:"suggested_allocation"`
	Risk        RiskAssessment     `json:"risk_assessment"`
	Scores      []AssetScore       `json:"asset_scores"`
	Summary     string             `json:"summary"`
}

// Recommend scores every panel symbol under a strategy against the current
// portfolio weights. Held symbols missing from the panel are ignored.
func Recommend(returns *series.Panel, portfolio map[string]float64, strategyName string, riskFree float64) (*Recommendation, error) {
	strategy, err := LookupStrategy(strategyName)
	if err != nil {
		return nil, err
	}
	if err := checkWeights(portfolio); err != nil {
		return nil, err
	}
	if err := returns.Require(20, 2); err != nil {
		return nil, err
	}

	// current portfolio series, or the equal weighted market when nothing is held
	benchmark := returns.EqualWeighted()
	if sub, w, err := Align(returns, portfolio); err == nil {
		benchmark = portfolioReturns(sub, w)
	}

	scores := make([]AssetScore, returns.Width())
	for j, sym := range returns.Symbols {
		vals := returns.Values[j]
		mean, sd := stat.MeanStdDev(vals, nil)
		vol := sd * math.Sqrt(TradingDays)
		s := AssetScore{
			Symbol:      sym,
			Momentum:    momentum(vals),
			Volatility:  vol,
			Correlation: nanZero(stat.Correlation(vals, benchmark, nil)),
			Held:        portfolio[sym] > 0,
		}
		if vol > 0 {
			s.Sharpe = (mean*TradingDays - riskFree) / vol
		}
		scores[j] = s
	}

	// cross-sectional z-scores so factors are comparable
	zm := zscores(scores, func(s AssetScore) float64 { return s.Momentum })
	zs := zscores(scores, func(s AssetScore) float64 { return s.Sharpe })
	zv := zscores(scores, func(s AssetScore) float64 { return s.Volatility })
	zc := zscores(scores, func(s AssetScore) float64 { return s.Correlation })
	for i := range scores {
		f := strategy.Factors
		scores[i].Score = f.Momentum*zm[i] + f.Sharpe*zs[i] - f.Volatility*zv[i] - f.Correlation*zc[i]
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].Score > scores[j].Score })

	rec := &Recommendation{
		ID:          uuid.NewString(),
		Strategy:    strategy.Name,
		GeneratedAt: time.Now().UTC(),
		BuySignals:  []AssetScore{},
		SellSignals: []AssetScore{},
		Hold:        []string{},
	}
	for i := range scores {
		s := &scores[i]
		switch {
		case s.Score > signalCutoff && len(rec.BuySignals) < strategy.MaxPositions:
			s.Signal = SignalBuy
			s.Reason = reason(*s, true)
			rec.BuySignals = append(rec.BuySignals, *s)
		case s.Score < -signalCutoff && s.Held:
			s.Signal = SignalSell
			s.Reason = reason(*s, false)
			rec.SellSignals = append(rec.SellSignals, *s)
		default:
			s.Signal = SignalHold
			if s.Held {
				rec.Hold = append(rec.Hold, s.Symbol)
			}
		}
	}
	rec.Scores = scores
	rec.Allocation = allocate(scores, strategy)

	if m, err := Compute(returns, rec.Allocation, riskFree); err == nil {
		rec.Risk = AssessRisk(m, nil)
	}
	rec.Summary = fmt.Sprintf("%s strategy: %d buy, %d sell, %d hold signals; portfolio risk %s",
		strategy.Name, len(rec.BuySignals), len(rec.SellSignals), len(rec.Hold), rec.Risk.Level)
	return rec, nil
}

// momentum is the compounded return over the trailing window
func momentum(returns []float64) float64 {
	start := 0
	if len(returns) > momentumWindow {
		start = len(returns) - momentumWindow
	}
	cum := 1.0
	for _, r := range returns[start:] {
		cum *= 1 + r
	}
	return cum - 1
}

func zscores(scores []AssetScore, f func(AssetScore) float64) []float64 {
	vals := make([]float64, len(scores))
	for i, s := range scores {
		vals[i] = f(s)
	}
	mean, sd := stat.MeanStdDev(vals, nil)
	out := make([]float64, len(vals))
	if sd == 0 || math.IsNaN(sd) {
		return out
	}
	for i, v := range vals {
		out[i] = (v - mean) / sd
	}
	return out
}

func reason(s AssetScore, buy bool) string {
	if buy {
		if s.Momentum > 0 && s.Sharpe > 0 {
			return fmt.Sprintf("Positive momentum (%.1f%%) with Sharpe %.2f", s.Momentum*100, s.Sharpe)
		}
		return fmt.Sprintf("Diversifies the portfolio (correlation %.2f)", s.Correlation)
	}
	if s.Volatility > 0.4 {
		return fmt.Sprintf("High volatility (%.0f%% annualised)", s.Volatility*100)
	}
	return fmt.Sprintf("Weak risk-adjusted performance (Sharpe %.2f)", s.Sharpe)
}

// allocate weights buy signals and kept holdings by score, adjusted for relative
// volatility and capped per strategy
func allocate(scores []AssetScore, strategy Strategy) map[string]float64 {
	var picks []AssetScore
	for _, s := range scores {
		if s.Signal == SignalBuy || (s.Held && s.Signal != SignalSell) {
			picks = append(picks, s)
		}
	}
	if len(picks) == 0 {
		// nothing stands out; spread across the top scorers
		n := min(strategy.MaxPositions, len(scores))
		picks = scores[:n]
	}

	vols := make([]float64, len(scores))
	for i, s := range scores {
		vols[i] = s.Volatility
	}
	sort.Float64s(vols)
	median := stat.Quantile(0.5, stat.Empirical, vols, nil)

	raw := make(map[string]float64, len(picks))
	for _, s := range picks {
		base := math.Max(s.Score, 0) + 1
		ratio := 1.0
		if median > 0 {
			ratio = s.Volatility / median
		}
		raw[s.Symbol] = AdjustForVolatility(base, ratio)
	}
	return capWeights(raw, strategy.MaxWeight)
}

// capWeights normalises weights to one with no weight above limit, redistributing
// the excess pro rata. The limit is raised to 1/n when it cannot be met.
func capWeights(raw map[string]float64, limit float64) map[string]float64 {
	n := len(raw)
	if n == 0 {
		return map[string]float64{}
	}
	limit = math.Max(limit, 1/float64(n))
	w := normalize(raw)
	for iter := 0; iter < n; iter++ {
		var excess, free float64
		for _, v := range w {
			if v > limit {
				excess += v - limit
			} else if v < limit {
				free += v
			}
		}
		if excess < 1e-12 || free == 0 {
			break
		}
		for s, v := range w {
			if v >= limit {
				w[s] = limit
			} else {
				w[s] = v + excess*v/free
			}
		}
	}
	return w
}

func normalize(raw map[string]float64) map[string]float64 {
	var total float64
	for _, v := range raw {
		total += v
	}
	out := make(map[string]float64, len(raw))
	for s, v := range raw {
		out[s] = v / total
	}
	return out
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// PerformanceReport summarises the recommendation history in a period
type PerformanceReport struct {
	Start            time.Time      `json:"start"`
	End              time.Time      `json:"end"`
	Total            int            `json:"total_recommendations"`
	AvgBuySignals    float64        `json:"avg_buy_signals"`
	AvgSellSignals   float64        `json:"avg_sell_signals"`
	RiskDistribution map[string]int `json:"risk_distribution"`
	Strategies       map[string]int `json:"strategy_usage"`
}

// History keeps the most recent recommendations
type History struct {
	mu      sync.RWMutex
	entries []Recommendation
}

// Add records a recommendation, dropping the oldest past the limit
func (h *History) Add(r Recommendation) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, r)
	if len(h.entries) > historyLimit {
		h.entries = append([]Recommendation(nil), h.entries[len(h.entries)-historyLimit:]...)
	}
}

// Len is the number of stored recommendations
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}

// Last returns the newest recommendation
func (h *History) Last() (Recommendation, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.entries) == 0 {
		return Recommendation{}, false
	}
	return h.entries[len(h.entries)-1], true
}

// Performance aggregates recommendations generated within [start, end]
func (h *History) Performance(start, end time.Time) (PerformanceReport, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	rep := PerformanceReport{
		Start:            start,
		End:              end,
		RiskDistribution: map[string]int{},
		Strategies:       map[string]int{},
	}
	var buys, sells int
	for _, r := range h.entries {
		if r.GeneratedAt.Before(start) || r.GeneratedAt.After(end) {
			continue
		}
		rep.Total++
		buys += len(r.BuySignals)
		sells += len(r.SellSignals)
		if r.Risk.Level != "" {
			rep.RiskDistribution[r.Risk.Level]++
		}
		rep.Strategies[r.Strategy]++
	}
	if rep.Total == 0 {
		return rep, ErrNoHistory
	}
	rep.AvgBuySignals = float64(buys) / float64(rep.Total)
	rep.AvgSellSignals = float64(sells) / float64(rep.Total)
	return rep, nil
}
