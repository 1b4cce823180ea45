package anomaly

import (
	"math"

	"github.com/Alias1177/Correlator/internal/analysis/technical"
	"github.com/Alias1177/Correlator/models"
)

// Condition is a per-symbol description of the current price action
type Condition struct {
	Symbol           string  `json:"symbol"`
	Direction        string  `json:"direction"` // BULLISH, BEARISH, NEUTRAL
	MomentumScore    float64 `json:"momentum_score"`
	MomentumStrength float64 `json:"momentum_strength"`
	VolatilityLevel  string  `json:"volatility_level"` // HIGH, NORMAL, LOW
	VolatilityRatio  float64 `json:"volatility_ratio"`
	Structure        string  `json:"structure"` // TRENDING, RANGING, CHOPPY, VOLATILE, UNKNOWN
}

// Classify summarises momentum, volatility and structure of a date-ordered series
func Classify(symbol string, rows []models.MarketData) Condition {
	c := Condition{
		Symbol:          symbol,
		Direction:       "NEUTRAL",
		VolatilityLevel: "NORMAL",
		VolatilityRatio: 1,
		Structure:       "UNKNOWN",
	}
	if len(rows) < 21 {
		return c
	}

	closes := technical.Closes(rows)

	// Weight shorter term changes more heavily
	c.MomentumScore = technical.Momentum(closes, 5)*0.5 +
		technical.Momentum(closes, 10)*0.3 +
		technical.Momentum(closes, 20)*0.2
	c.MomentumStrength = math.Min(math.Abs(c.MomentumScore)*10, 1.0)
	switch {
	case c.MomentumScore > 0:
		c.Direction = "BULLISH"
	case c.MomentumScore < 0:
		c.Direction = "BEARISH"
	}

	if rows[len(rows)-1].HasOHLC() {
		c.VolatilityRatio = technical.VolatilityRatio(rows, 10, 30)
	}
	switch {
	case c.VolatilityRatio > 1.5:
		c.VolatilityLevel = "HIGH"
	case c.VolatilityRatio < 0.7:
		c.VolatilityLevel = "LOW"
	}

	var changes int
	prevUp := closes[len(closes)-20] > closes[len(closes)-21]
	for i := len(closes) - 19; i < len(closes); i++ {
		up := closes[i] > closes[i-1]
		if up != prevUp {
			changes++
			prevUp = up
		}
	}

	switch {
	case changes > 8:
		c.Structure = "CHOPPY"
	case c.VolatilityRatio > 1.8:
		c.Structure = "VOLATILE"
	case c.MomentumStrength > 0.3:
		c.Structure = "TRENDING"
	default:
		c.Structure = "RANGING"
	}
	return c
}
