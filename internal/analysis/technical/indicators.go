// Package technical computes price indicators over daily market data.
package technical

import (
	"errors"
	"fmt"

	"github.com/Alias1177/Correlator/models"
)

// MinRows is the shortest history indicators are computed for
const MinRows = 20

// ErrInsufficientData is returned when a symbol has fewer than MinRows rows
var ErrInsufficientData = errors.New("insufficient data for indicators")

// Closes extracts close prices, preferring the adjusted close when present
func Closes(rows []models.MarketData) []float64 {
	out := make([]float64, len(rows))
	for i, r := range rows {
		if r.AdjustedClose > 0 {
			out[i] = r.AdjustedClose
		} else {
			out[i] = r.Close
		}
	}
	return out
}

// Compute returns the indicator snapshot for the latest row of a date-ordered series
func Compute(symbol string, rows []models.MarketData) (models.TechnicalIndicators, error) {
	if len(rows) < MinRows {
		return models.TechnicalIndicators{}, fmt.Errorf("%s: %d rows: %w", symbol, len(rows), ErrInsufficientData)
	}

	closes := Closes(rows)
	macd, signal, _ := MACD(closes, 12, 26, 9)
	upper, middle, lower := Bollinger(closes, 20, 2)

	ind := models.TechnicalIndicators{
		Symbol:     symbol,
		Date:       rows[len(rows)-1].Date,
		SMA20:      SMA(closes, 20),
		EMA12:      EMA(closes, 12),
		EMA26:      EMA(closes, 26),
		MACD:       macd,
		MACDSignal: signal,
		RSI:        RSI(closes, 14),
		BBUpper:    upper,
		BBMiddle:   middle,
		BBLower:    lower,
		Volatility: AnnualizedVolatility(closes, 20),
		OBV:        OBV(rows),
	}
	if len(closes) >= 50 {
		ind.SMA50 = SMA(closes, 50)
	}
	return ind, nil
}
