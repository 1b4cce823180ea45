package etl

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alias1177/Correlator/internal/database"
	"github.com/Alias1177/Correlator/models"
)

type stubCollector struct {
	source string
	rows   []models.MarketData
	err    error
}

func (s stubCollector) Source() string { return s.source }

func (s stubCollector) Collect(_ context.Context, _ []string, _, _ time.Time) ([]models.MarketData, error) {
	return s.rows, s.err
}

var base = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func series(symbol string, n int, class models.AssetClass, source string) []models.MarketData {
	out := make([]models.MarketData, n)
	for i := range out {
		c := 100 + float64(i%5)
		out[i] = models.MarketData{
			Symbol:        symbol,
			AssetClass:    class,
			Date:          base.AddDate(0, 0, i),
			Open:          c,
			High:          c + 1,
			Low:           c - 1,
			Close:         c,
			AdjustedClose: c,
			Volume:        1000,
			Source:        source,
			CollectedAt:   base.AddDate(0, 0, n),
		}
	}
	return out
}

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.New(context.Background(), database.DefaultConfig(database.DriverSQLite, ":memory:"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestTransform(t *testing.T) {
	rows := series("aapl", 25, models.AssetClassEquity, models.SourceYahooFinance)
	rows[10].Close = 10000 // outlier
	dup := rows[3]
	dup.Close = 104
	rows = append(rows, dup)
	rows = append(rows, models.MarketData{Symbol: "", Date: base, Close: 1})
	rows = append(rows, models.MarketData{Symbol: "MSFT", Close: 1})
	rows = append(rows, series("BTC", 3, models.AssetClassCryptocurrency, models.SourceCoinGecko)...)

	out, outliers := Transform(rows)
	assert.Equal(t, 1, outliers)
	require.Len(t, out, 24+3)
	assert.Equal(t, "AAPL", out[0].Symbol)
	assert.Equal(t, "BTC", out[len(out)-1].Symbol)
	for i := 1; i < 24; i++ {
		assert.True(t, out[i].Date.After(out[i-1].Date))
	}
	assert.Equal(t, 104.0, out[3].Close)
}

func TestTransformSkipsOutliersOnShortSeries(t *testing.T) {
	rows := series("AAPL", 10, models.AssetClassEquity, models.SourceYahooFinance)
	rows[5].Close = 10000
	out, outliers := Transform(rows)
	assert.Zero(t, outliers)
	assert.Len(t, out, 10)
}

func TestEnrich(t *testing.T) {
	rows := append(series("AAPL", 30, models.AssetClassEquity, models.SourceYahooFinance),
		series("GDP", 30, models.AssetClassEconomicIndicator, models.SourceFRED)...)
	rows = append(rows, series("SHORT", 5, models.AssetClassEquity, models.SourceYahooFinance)...)

	ind := Enrich(rows)
	require.Contains(t, ind, "AAPL")
	assert.NotContains(t, ind, "GDP")
	assert.NotContains(t, ind, "SHORT")
	assert.Greater(t, ind["AAPL"].SMA20, 0.0)
}

func TestRunPartial(t *testing.T) {
	db := newTestDB(t)
	p := New(db, []Source{
		{Collector: stubCollector{source: "yahoo_finance", rows: series("AAPL", 30, models.AssetClassEquity, models.SourceYahooFinance)}, Symbols: []string{"AAPL"}},
		{Collector: stubCollector{source: "fred", err: errors.New("FRED API key not configured")}, Symbols: []string{"GDP"}},
	}, Config{})
	p.now = func() time.Time { return base.AddDate(0, 0, 30) }

	run, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusPartial, run.Status)
	assert.Equal(t, 30, run.RecordsCollected)
	assert.Equal(t, 30, run.RecordsLoaded)
	require.Len(t, run.Errors, 1)
	assert.Contains(t, run.Errors[0], "fred")
	require.NotNil(t, run.Quality)
	assert.Greater(t, run.QualityScore, 0.5)

	runs, err := db.ETLRuns(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)

	reports, err := db.QualityReports(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, run.ID, reports[0].RunID)

	assert.Contains(t, p.Indicators(), "AAPL")
	last, ok := p.LastRun()
	assert.True(t, ok)
	assert.Equal(t, run.ID, last.ID)
}

func TestRunFailed(t *testing.T) {
	db := newTestDB(t)
	p := New(db, []Source{
		{Collector: stubCollector{source: "coingecko", err: errors.New("HTTP 503")}, Symbols: []string{"bitcoin"}},
	}, Config{})

	run, err := p.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, models.RunStatusFailed, run.Status)
	assert.Zero(t, run.RecordsLoaded)
}

func TestPrune(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	_, err := db.UpsertMarketData(ctx, series("AAPL", 200, models.AssetClassEquity, models.SourceYahooFinance))
	require.NoError(t, err)

	p := New(db, nil, Config{RawRetentionDays: 90})
	p.now = func() time.Time { return base.AddDate(0, 0, 199) }
	n, err := p.Prune(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(109), n)
}
