package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alias1177/Correlator/models"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(context.Background(), DefaultConfig(DriverSQLite, ":memory:"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func day(d int) time.Time {
	return time.Date(2024, 3, d, 0, 0, 0, 0, time.UTC)
}

func bar(symbol string, d int, close float64) models.MarketData {
	return models.MarketData{
		Symbol:        symbol,
		AssetClass:    models.AssetClassEquity,
		Date:          day(d),
		Open:          close - 1,
		High:          close + 1,
		Low:           close - 2,
		Close:         close,
		AdjustedClose: close,
		Volume:        1000,
		Source:        models.SourceYahooFinance,
		QualityScore:  1,
		CollectedAt:   day(d),
	}
}

func TestNewRejectsUnknownDriver(t *testing.T) {
	_, err := New(context.Background(), DefaultConfig("mysql", ""))
	assert.Error(t, err)
}

func TestUpsertMarketData(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	n, err := db.UpsertMarketData(ctx, []models.MarketData{bar("AAPL", 1, 100), bar("AAPL", 2, 101), bar("MSFT", 1, 400)})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// same key refreshes the existing row
	_, err = db.UpsertMarketData(ctx, []models.MarketData{bar("AAPL", 2, 105)})
	require.NoError(t, err)

	rows, err := db.MarketData(ctx, MarketDataFilter{Symbols: []string{"AAPL"}})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 100.0, rows[0].Close)
	assert.Equal(t, 105.0, rows[1].Close)
	assert.True(t, rows[1].Date.Equal(day(2)))
	assert.Equal(t, models.AssetClassEquity, rows[1].AssetClass)

	n, err = db.UpsertMarketData(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMarketDataFilterByDate(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	var rows []models.MarketData
	for d := 1; d <= 10; d++ {
		rows = append(rows, bar("SPY", d, float64(500+d)))
	}
	_, err := db.UpsertMarketData(ctx, rows)
	require.NoError(t, err)

	got, err := db.MarketData(ctx, MarketDataFilter{Start: day(3), End: day(5)})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, 503.0, got[0].Close)
	assert.Equal(t, 505.0, got[2].Close)

	latest, err := db.LatestDate(ctx, "SPY")
	require.NoError(t, err)
	assert.True(t, latest.Equal(day(10)))

	_, err = db.LatestDate(ctx, "NOPE")
	assert.ErrorIs(t, err, ErrNotFound)

	removed, err := db.DeleteMarketDataBefore(ctx, day(6))
	require.NoError(t, err)
	assert.Equal(t, int64(5), removed)

	symbols, err := db.Symbols(ctx)
	require.NoError(t, err)
	require.Len(t, symbols, 1)
	assert.Equal(t, "SPY", symbols[0].Symbol)
	assert.Equal(t, int64(5), symbols[0].Records)
}

func TestCorrelationsAndRegimes(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	records := []models.CorrelationRecord{
		{Symbol1: "AAPL", Symbol2: "MSFT", Method: "pearson", Value: 0.82, PValue: 0.001, SampleSize: 100, StartDate: day(1), EndDate: day(20), CalculationDate: day(21)},
		{Symbol1: "GLD", Symbol2: "SPY", Method: "pearson", Value: -0.1, PValue: 0.4, SampleSize: 100, StartDate: day(1), EndDate: day(20), CalculationDate: day(21)},
		{Symbol1: "AAPL", Symbol2: "GLD", Method: "spearman", Value: 0.2, PValue: 0.05, SampleSize: 100, StartDate: day(1), EndDate: day(20), CalculationDate: day(22)},
	}
	require.NoError(t, db.SaveCorrelations(ctx, records))

	got, err := db.Correlations(ctx, CorrelationFilter{Symbol: "AAPL"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "spearman", got[0].Method)

	got, err = db.Correlations(ctx, CorrelationFilter{Method: "pearson"})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	regimes := []models.RegimeRecord{
		{Date: day(1), Regime: "bull", Probability: 0.7, Method: "kmeans", Universe: "default", CreatedAt: day(1)},
		{Date: day(2), Regime: "bear", Probability: 0.6, Method: "kmeans", Universe: "default", CreatedAt: day(2)},
	}
	require.NoError(t, db.SaveRegimes(ctx, regimes))
	regimes[1].Regime = "sideways"
	require.NoError(t, db.SaveRegimes(ctx, regimes[1:]))

	stored, err := db.Regimes(ctx, "default", 10)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, "sideways", stored[0].Regime)
	assert.Equal(t, "bull", stored[1].Regime)
}

func TestETLRunsAndQuality(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	run := models.ETLRun{
		ID:               "run-1",
		StartedAt:        day(1),
		FinishedAt:       day(1).Add(time.Minute),
		Status:           models.RunStatusPartial,
		RecordsCollected: 10,
		RecordsLoaded:    8,
		QualityScore:     0.9,
		Errors:           []string{"fred: missing api key", "TSLA: timeout"},
	}
	require.NoError(t, db.SaveETLRun(ctx, run))

	runs, err := db.ETLRuns(ctx, 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, run.Errors, runs[0].Errors)
	assert.Equal(t, models.RunStatusPartial, runs[0].Status)

	report := models.QualityReport{RunID: "run-1", Completeness: 1, Accuracy: 0.9, Timeliness: 0.8, Consistency: 1, Overall: 0.925, TotalRecords: 10, CreatedAt: day(1)}
	require.NoError(t, db.SaveQualityReport(ctx, report))

	reports, err := db.QualityReports(ctx, 5)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Empty(t, reports[0].ValidationErrors)
	assert.InDelta(t, 0.925, reports[0].Overall, 1e-9)

	stats, err := db.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats["etl_runs"])
	assert.Equal(t, int64(1), stats["data_quality"])
}

func TestAlertsReportsSubscriptions(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.SaveAlert(ctx, models.Alert{ID: "a1", Type: models.AlertHighCorrelation, Severity: models.SeverityMedium, Subject: "AAPL/MSFT", Value: 0.85, Threshold: 0.8, CreatedAt: day(5)}))
	require.NoError(t, db.SaveAlert(ctx, models.Alert{ID: "a2", Type: models.AlertAnomaly, Severity: models.SeverityHigh, Subject: "TSLA", Value: 0.9, Threshold: 0.7, CreatedAt: day(1)}))

	alerts, err := db.Alerts(ctx, day(2), 0)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "a1", alerts[0].ID)

	require.NoError(t, db.SaveReport(ctx, models.Report{ID: "r1", Type: "daily_summary", Title: "Daily", Path: "/tmp/r1.md", CreatedAt: day(3)}))
	r, err := db.Report(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "Daily", r.Title)
	_, err = db.Report(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	deleted, err := db.DeleteReportsBefore(ctx, day(4))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	sub := models.Subscription{Email: "a@b.c", CustomerID: "cus_1", SubscriptionID: "sub_1", Tier: "pro", Active: true, CurrentPeriodEnd: day(30)}
	require.NoError(t, db.UpsertSubscription(ctx, sub))
	got, err := db.Subscription(ctx, "a@b.c")
	require.NoError(t, err)
	assert.True(t, got.Active)
	assert.Equal(t, "pro", got.Tier)

	require.NoError(t, db.DeactivateSubscription(ctx, "sub_1"))
	got, err = db.Subscription(ctx, "a@b.c")
	require.NoError(t, err)
	assert.False(t, got.Active)

	assert.ErrorIs(t, db.DeactivateSubscription(ctx, "sub_x"), ErrNotFound)
	_, err = db.Subscription(ctx, "nobody@b.c")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresPlaceholders(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	db := Wrap(sqlx.NewDb(conn, "postgres"), DriverPostgres, time.Second)

	mock.ExpectExec(`INSERT INTO alerts .* VALUES \(\$1, \$2, \$3, \$4, \$5, \$6, \$7, \$8\)`).
		WillReturnError(errors.New("connection reset"))

	err = db.SaveAlert(context.Background(), models.Alert{ID: "x", CreatedAt: day(1)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "inserting alert")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveCorrelationsRollsBack(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	db := Wrap(sqlx.NewDb(conn, "postgres"), DriverPostgres, time.Second)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO correlation_data`).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO correlation_data`).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err = db.SaveCorrelations(context.Background(), []models.CorrelationRecord{
		{Symbol1: "A", Symbol2: "B", Method: "pearson"},
		{Symbol1: "A", Symbol2: "C", Method: "pearson"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "A/C")
	assert.NoError(t, mock.ExpectationsWereMet())
}
