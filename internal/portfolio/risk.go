package portfolio

import (
	"math"

	"github.com/Rhymond/go-money"
)

// Risk measures accepted by AssessRisk
const (
	MeasureVaR         = "var"
	MeasureCVaR        = "cvar"
	MeasureMaxDrawdown = "max_drawdown"
)

// Risk levels
const (
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"
)

// RiskAssessment scores a portfolio's risk on a 0..1 scale
type RiskAssessment struct {
	Score            float64  `json:"risk_score"`
	Level            string   `json:"risk_level"`
	VolatilityRank   string   `json:"volatility_rank"`
	AnnualVolatility float64  `json:"annual_volatility"`
	VaR95            *float64 `json:"var_95,omitempty"`
	VaR99            *float64 `json:"var_99,omitempty"`
	CVaR95           *float64 `json:"cvar_95,omitempty"`
	MaxDrawdown      *float64 `json:"max_drawdown,omitempty"`
	CurrentDrawdown  *float64 `json:"current_drawdown,omitempty"`
	Recommendations  []string `json:"recommendations"`
}

// AssessRisk blends volatility with the requested tail measures into a composite score.
// An empty measure list means all of them.
func AssessRisk(m *Metrics, measures []string) RiskAssessment {
	want := map[string]bool{}
	for _, s := range measures {
		want[s] = true
	}
	all := len(want) == 0

	ra := RiskAssessment{AnnualVolatility: m.AnnualVolatility}

	// Volatility always counts, scaled so 50% annual volatility is maximal
	score := math.Min(m.AnnualVolatility/0.5, 1) * 0.4
	weight := 0.4
	if all || want[MeasureVaR] {
		v95, v99 := m.VaR95, m.VaR99
		ra.VaR95, ra.VaR99 = &v95, &v99
		score += math.Min(math.Abs(v95)/0.05, 1) * 0.3
		weight += 0.3
	}
	if all || want[MeasureCVaR] {
		c := m.CVaR95
		ra.CVaR95 = &c
	}
	if all || want[MeasureMaxDrawdown] {
		dd, cur := m.MaxDrawdown, m.CurrentDrawdown
		ra.MaxDrawdown, ra.CurrentDrawdown = &dd, &cur
		score += math.Min(math.Abs(dd)/0.3, 1) * 0.3
		weight += 0.3
	}
	ra.Score = score / weight

	switch {
	case ra.Score > 0.7:
		ra.Level = RiskHigh
	case ra.Score > 0.4:
		ra.Level = RiskMedium
	default:
		ra.Level = RiskLow
	}
	ra.VolatilityRank = volatilityRank(m.AnnualVolatility)
	ra.Recommendations = riskRecommendations(ra.Level, m.AnnualVolatility, m.MaxDrawdown)
	return ra
}

func volatilityRank(vol float64) string {
	switch {
	case vol > 0.25:
		return RiskHigh
	case vol > 0.15:
		return RiskMedium
	default:
		return RiskLow
	}
}

func riskRecommendations(level string, vol, maxDrawdown float64) []string {
	var recs []string
	if level == RiskHigh {
		recs = append(recs,
			"Consider reducing portfolio risk through diversification",
			"Implement stop-loss orders to limit downside risk")
	}
	if vol > 0.25 {
		recs = append(recs, "High volatility detected - consider defensive assets")
	}
	if math.Abs(maxDrawdown) > 0.2 {
		recs = append(recs, "Large drawdown risk - implement risk management rules")
	}
	if len(recs) == 0 {
		recs = append(recs, "Risk levels are within acceptable ranges")
	}
	return recs
}

// Position is a cash allocation to one asset
type Position struct {
	Symbol string  `json:"symbol"`
	Weight float64 `json:"weight"`
	Amount float64 `json:"amount"`
	Value  string  `json:"value"`
}

// PositionSizes splits cash across weights, in whole cents
func PositionSizes(cash float64, weights map[string]float64) []Position {
	out := make([]Position, 0, len(weights))
	for _, sym := range sortedKeys(weights) {
		w := weights[sym]
		// Allocation in minor units so the amounts display exactly
		amt := money.New(int64(math.Round(cash*w*100)), money.USD)
		out = append(out, Position{
			Symbol: sym,
			Weight: w,
			Amount: amt.AsMajorUnits(),
			Value:  amt.Display(),
		})
	}
	return out
}

// AdjustForVolatility shrinks a weight in volatile markets and grows it slightly in calm ones.
// volatilityRatio is the asset's volatility relative to the universe median.
func AdjustForVolatility(base, volatilityRatio float64) float64 {
	// Reduce exposure when the asset is much more volatile than its peers
	if volatilityRatio > 1.5 {
		return base / volatilityRatio
	}
	// Increase exposure slightly for low-volatility assets
	if volatilityRatio < 0.7 {
		return base * 1.2
	}
	return base
}
