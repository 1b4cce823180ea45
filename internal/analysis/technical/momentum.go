package technical

// SMA returns the simple moving average of the last period values
func SMA(values []float64, period int) float64 {
	if len(values) == 0 {
		return 0
	}
	if len(values) < period {
		period = len(values)
	}
	var sum float64
	for _, v := range values[len(values)-period:] {
		sum += v
	}
	return sum / float64(period)
}

// EMASeries returns the exponential moving average seeded with the SMA of the first period values.
// Element i corresponds to values[period-1+i].
func EMASeries(values []float64, period int) []float64 {
	if period <= 0 || len(values) < period {
		return nil
	}

	var sum float64
	for i := 0; i < period; i++ {
		sum += values[i]
	}
	ema := sum / float64(period)

	multiplier := 2.0 / float64(period+1)
	out := make([]float64, 0, len(values)-period+1)
	out = append(out, ema)
	for i := period; i < len(values); i++ {
		ema = (values[i]-ema)*multiplier + ema
		out = append(out, ema)
	}
	return out
}

// EMA returns the latest exponential moving average, or the last value when history is short
func EMA(values []float64, period int) float64 {
	if len(values) == 0 {
		return 0
	}
	series := EMASeries(values, period)
	if len(series) == 0 {
		return values[len(values)-1]
	}
	return series[len(series)-1]
}

// MACD returns the MACD line, its signal line and the histogram
func MACD(values []float64, fastPeriod, slowPeriod, signalPeriod int) (float64, float64, float64) {
	if len(values) < slowPeriod+signalPeriod {
		return 0, 0, 0
	}

	fast := EMASeries(values, fastPeriod)
	slow := EMASeries(values, slowPeriod)

	// align both series on the slow EMA's first point
	offset := slowPeriod - fastPeriod
	line := make([]float64, len(slow))
	for i := range slow {
		line[i] = fast[i+offset] - slow[i]
	}

	macd := line[len(line)-1]
	signal := EMA(line, signalPeriod)
	return macd, signal, macd - signal
}

// RSI computes the Relative Strength Index with Wilder smoothing
func RSI(values []float64, period int) float64 {
	if len(values) < period+1 {
		return 50.0
	}

	var gains, losses float64
	for i := 1; i <= period; i++ {
		change := values[i] - values[i-1]
		if change > 0 {
			gains += change
		} else {
			losses -= change
		}
	}

	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)

	for i := period + 1; i < len(values); i++ {
		change := values[i] - values[i-1]
		if change > 0 {
			avgGain = (avgGain*float64(period-1) + change) / float64(period)
			avgLoss = (avgLoss * float64(period-1)) / float64(period)
		} else {
			avgGain = (avgGain * float64(period-1)) / float64(period)
			avgLoss = (avgLoss*float64(period-1) - change) / float64(period)
		}
	}

	if avgLoss == 0 {
		return 100.0
	}
	rs := avgGain / avgLoss
	return 100.0 - (100.0 / (1.0 + rs))
}

// Momentum is the relative change over the last period values
func Momentum(values []float64, period int) float64 {
	if len(values) <= period || period <= 0 {
		return 0
	}
	base := values[len(values)-1-period]
	if base == 0 {
		return 0
	}
	return values[len(values)-1]/base - 1
}
