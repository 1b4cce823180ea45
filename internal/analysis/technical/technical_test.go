package technical

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alias1177/Correlator/models"
)

func linear(n int, start, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out
}

func rowsFrom(closes []float64) []models.MarketData {
	rows := make([]models.MarketData, len(closes))
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, c := range closes {
		rows[i] = models.MarketData{
			Symbol: "TEST",
			Date:   base.AddDate(0, 0, i),
			Open:   c,
			High:   c + 1,
			Low:    c - 1,
			Close:  c,
			Volume: 1000,
		}
	}
	return rows
}

func TestSMAAndEMA(t *testing.T) {
	values := linear(30, 1, 1)

	assert.InDelta(t, 28.0, SMA(values, 5), 1e-9)
	assert.InDelta(t, 15.5, SMA(values, 100), 1e-9)

	series := EMASeries(values, 10)
	require.Len(t, series, 21)
	assert.InDelta(t, 5.5, series[0], 1e-9)

	// an EMA of a straight line lags it by (period-1)/2
	assert.InDelta(t, 30-4.5, EMA(values, 10), 1e-6)
	assert.Equal(t, 3.0, EMA([]float64{1, 2, 3}, 10))
}

func TestRSI(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		want   float64
	}{
		{name: "short history", values: []float64{1, 2}, want: 50},
		{name: "only gains", values: linear(20, 10, 1), want: 100},
		{name: "only losses", values: linear(20, 30, -1), want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, RSI(tt.values, 14), 1e-9)
		})
	}
}

func TestMACDTrend(t *testing.T) {
	macd, signal, hist := MACD(linear(10, 1, 1), 12, 26, 9)
	assert.Zero(t, macd)
	assert.Zero(t, signal)
	assert.Zero(t, hist)

	macd, signal, _ = MACD(linear(80, 100, 1), 12, 26, 9)
	// for a linear series both EMAs settle at a constant lag, so MACD converges to 7
	assert.InDelta(t, 7.0, macd, 0.05)
	assert.InDelta(t, 7.0, signal, 0.1)
}

func TestBollinger(t *testing.T) {
	flat := make([]float64, 25)
	for i := range flat {
		flat[i] = 50
	}
	upper, middle, lower := Bollinger(flat, 20, 2)
	assert.Equal(t, 50.0, upper)
	assert.Equal(t, 50.0, middle)
	assert.Equal(t, 50.0, lower)

	upper, middle, lower = Bollinger([]float64{1, 3, 1, 3}, 4, 2)
	assert.InDelta(t, 2.0, middle, 1e-9)
	assert.InDelta(t, 4.0, upper, 1e-9)
	assert.InDelta(t, 0.0, lower, 1e-9)
}

func TestATRAndRatio(t *testing.T) {
	rows := rowsFrom(linear(40, 100, 0))
	assert.InDelta(t, 2.0, ATR(rows, 10), 1e-9)
	assert.InDelta(t, 1.0, VolatilityRatio(rows, 10, 30), 1e-9)
	assert.Equal(t, 0.0, ATR(rows[:5], 10))

	// widen the last ten bars
	for i := 30; i < 40; i++ {
		rows[i].High += 3
		rows[i].Low -= 3
	}
	assert.Greater(t, VolatilityRatio(rows, 10, 30), 1.5)
}

func TestCompute(t *testing.T) {
	_, err := Compute("X", rowsFrom(linear(10, 1, 1)))
	assert.True(t, errors.Is(err, ErrInsufficientData))

	rows := rowsFrom(linear(60, 100, 0.5))
	ind, err := Compute("X", rows)
	require.NoError(t, err)
	assert.Equal(t, "X", ind.Symbol)
	assert.Equal(t, rows[59].Date, ind.Date)
	assert.InDelta(t, SMA(Closes(rows), 50), ind.SMA50, 1e-9)
	assert.Equal(t, 100.0, ind.RSI)
	assert.Greater(t, ind.BBUpper, ind.BBLower)
	assert.False(t, math.IsNaN(ind.Volatility))
	assert.Greater(t, ind.OBV, 0.0)
}
