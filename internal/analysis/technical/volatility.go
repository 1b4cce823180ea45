package technical

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/Alias1177/Correlator/models"
)

// TradingDays is the annualisation factor for daily series
const TradingDays = 252

// Bollinger calculates Bollinger Bands over the last period values
func Bollinger(values []float64, period int, k float64) (float64, float64, float64) {
	if len(values) == 0 {
		return 0, 0, 0
	}
	if len(values) < period {
		last := values[len(values)-1]
		return last, last, last
	}

	middle, sd := stat.PopMeanStdDev(values[len(values)-period:], nil)
	return middle + sd*k, middle, middle - sd*k
}

// TrueRanges returns the true range of every row after the first
func TrueRanges(rows []models.MarketData) []float64 {
	if len(rows) < 2 {
		return nil
	}
	out := make([]float64, 0, len(rows)-1)
	for i := 1; i < len(rows); i++ {
		highLow := rows[i].High - rows[i].Low
		highPrevClose := math.Abs(rows[i].High - rows[i-1].Close)
		lowPrevClose := math.Abs(rows[i].Low - rows[i-1].Close)
		out = append(out, math.Max(highLow, math.Max(highPrevClose, lowPrevClose)))
	}
	return out
}

// ATR calculates the Average True Range over the last period rows
func ATR(rows []models.MarketData, period int) float64 {
	if len(rows) < period+1 || period <= 0 {
		return 0
	}
	ranges := TrueRanges(rows)
	return stat.Mean(ranges[len(ranges)-period:], nil)
}

// VolatilityRatio is the short ATR divided by the long ATR; 1 when history is insufficient
func VolatilityRatio(rows []models.MarketData, shortPeriod, longPeriod int) float64 {
	if len(rows) < longPeriod+1 {
		return 1.0
	}
	long := ATR(rows, longPeriod)
	if long == 0 {
		return 1.0
	}
	return ATR(rows, shortPeriod) / long
}

// Returns converts prices to simple returns
func Returns(values []float64) []float64 {
	if len(values) < 2 {
		return nil
	}
	out := make([]float64, 0, len(values)-1)
	for i := 1; i < len(values); i++ {
		if values[i-1] == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, values[i]/values[i-1]-1)
	}
	return out
}

// AnnualizedVolatility is the sample deviation of the last window returns scaled by sqrt(252)
func AnnualizedVolatility(values []float64, window int) float64 {
	rets := Returns(values)
	if len(rets) < 2 {
		return 0
	}
	if window > 0 && len(rets) > window {
		rets = rets[len(rets)-window:]
	}
	return stat.StdDev(rets, nil) * math.Sqrt(TradingDays)
}
