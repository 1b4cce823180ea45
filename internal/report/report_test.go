package report

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/Alias1177/Correlator/internal/agent"
	"github.com/Alias1177/Correlator/internal/analysis"
	"github.com/Alias1177/Correlator/internal/analysis/correlation"
	"github.com/Alias1177/Correlator/internal/analysis/series"
	"github.com/Alias1177/Correlator/internal/analysis/volatility"
	"github.com/Alias1177/Correlator/internal/database"
	"github.com/Alias1177/Correlator/internal/portfolio"
	"github.com/Alias1177/Correlator/models"
)

var now = time.Date(2024, 5, 2, 7, 0, 0, 0, time.UTC)

type fakeAnalyzer struct {
	err error
}

func (f fakeAnalyzer) corr() *analysis.CorrelationResult {
	return &analysis.CorrelationResult{
		Method:          "pearson",
		Symbols:         []string{"AAPL", "MSFT", "BTC"},
		Observations:    250,
		Start:           now.AddDate(-1, 0, 0),
		End:             now,
		MeanCorrelation: 0.41,
		Matrix: map[string]map[string]float64{
			"AAPL": {"AAPL": 1, "MSFT": 0.82, "BTC": 0.2},
			"MSFT": {"AAPL": 0.82, "MSFT": 1, "BTC": 0.21},
			"BTC":  {"AAPL": 0.2, "MSFT": 0.21, "BTC": 1},
		},
		SignificantPairs: []correlation.Pair{{Symbol1: "AAPL", Symbol2: "MSFT", Value: 0.82, Strength: "strong"}},
	}
}

func (f fakeAnalyzer) vol() *analysis.VolatilityResult {
	return &analysis.VolatilityResult{Horizon: 5, Reports: []volatility.Report{
		{Symbol: "BTC", CurrentAnnualized: 0.65, LongRunAnnualized: 0.6, Forecast: []float64{0.64}, Regime: "high"},
		{Symbol: "AAPL", CurrentAnnualized: 0.22, LongRunAnnualized: 0.25, Forecast: []float64{0.23}, Regime: "normal"},
	}}
}

func (f fakeAnalyzer) Comprehensive(context.Context, analysis.Request) (*analysis.ComprehensiveResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &analysis.ComprehensiveResult{
		Symbols:     []string{"AAPL", "MSFT", "BTC"},
		Correlation: f.corr(),
		Volatility:  f.vol(),
		Errors:      map[string]string{"causality": "not enough lags"},
	}, nil
}

func (f fakeAnalyzer) Correlation(context.Context, analysis.Request) (*analysis.CorrelationResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.corr(), nil
}

func (f fakeAnalyzer) Volatility(context.Context, analysis.Request) (*analysis.VolatilityResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.vol(), nil
}

type fakeRisk struct{}

func (fakeRisk) AssessRisk(_ context.Context, req portfolio.Request) (*portfolio.RiskReport, error) {
	if len(req.Portfolio) == 0 {
		return nil, portfolio.ErrEmptyPortfolio
	}
	return &portfolio.RiskReport{
		Assessment: portfolio.RiskAssessment{Score: 0.55, Level: portfolio.RiskMedium, AnnualVolatility: 0.3, Recommendations: []string{"Consider reducing position sizes"}},
		Metrics:    &portfolio.Metrics{VaR95: -0.025, VaR99: -0.04, CVaR95: -0.035, MaxDrawdown: -0.2, SharpeRatio: 1.1},
	}, nil
}

type fakeNotifier struct {
	sent    []string
	failure error
}

func (n *fakeNotifier) SendReport(_ context.Context, r models.Report, summary string) error {
	n.sent = append(n.sent, r.Type+": "+summary)
	return n.failure
}

func newGenerator(t *testing.T, a Analyzer, opts Options) (*Generator, *database.DB) {
	t.Helper()
	db, err := database.New(context.Background(), database.DefaultConfig(database.DriverSQLite, ":memory:"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	g := New(db, a, opts, Config{Dir: t.TempDir(), Symbols: []string{"AAPL", "MSFT", "BTC"}})
	g.now = func() time.Time { return now }
	return g, db
}

func TestDailySummary(t *testing.T) {
	n := &fakeNotifier{}
	health := func() []agent.Snapshot {
		return []agent.Snapshot{{Name: agent.Collector, Status: agent.StatusRunning, Healthy: true, Stats: agent.Stats{Completed: 4}}}
	}
	g, db := newGenerator(t, fakeAnalyzer{}, Options{Notifier: n, Health: health})
	ctx := context.Background()
	require.NoError(t, db.SaveAlert(ctx, models.Alert{ID: "a1", Type: models.AlertHighVolatility, Severity: models.SeverityHigh, Subject: "BTC", Message: "BTC volatility 65%", CreatedAt: now.Add(-time.Hour)}))
	require.NoError(t, db.SaveAlert(ctx, models.Alert{ID: "a0", Type: models.AlertAnomaly, Severity: models.SeverityLow, Subject: "AAPL", Message: "stale", CreatedAt: now.AddDate(0, 0, -3)}))

	res, err := g.Generate(ctx, Request{Notify: true})
	require.NoError(t, err)
	assert.Equal(t, DailySummary, res.Report.Type)
	assert.Equal(t, "Daily Summary Report", res.Report.Title)
	assert.Equal(t, "3 assets, 1/3 significant pairs, 1 high-volatility assets, 1 alerts", res.Summary)
	assert.Equal(t, []string{"Executive Summary", "Market Overview", "Correlation Analysis", "Volatility Analysis", "Alerts", "System Health"}, res.Sections)
	assert.Equal(t, []string{"causality: not enough lags"}, res.Warnings)
	assert.Contains(t, res.Markdown, "| AAPL / MSFT | 0.820 | strong |")
	assert.Contains(t, res.Markdown, "BTC volatility 65%")
	assert.NotContains(t, res.Markdown, "stale")
	assert.Contains(t, res.Markdown, "| AAPL | n/a | Unknown |")

	html, err := os.ReadFile(res.Report.Path)
	require.NoError(t, err)
	assert.Contains(t, string(html), "<title>Daily Summary Report</title>")
	assert.Contains(t, string(html), "<table>")
	assert.Contains(t, string(html), "<h2>Executive Summary</h2>")

	assert.Equal(t, []string{"daily_summary: " + res.Summary}, n.sent)

	list, err := g.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	rep, md, err := g.Markdown(ctx, list[0].ID)
	require.NoError(t, err)
	assert.Equal(t, res.Report.ID, rep.ID)
	assert.Equal(t, res.Markdown, md)
}

func TestGenerateWithFailures(t *testing.T) {
	n := &fakeNotifier{failure: errors.New("telegram down")}
	g, _ := newGenerator(t, fakeAnalyzer{err: series.ErrInsufficientData}, Options{Notifier: n})

	res, err := g.Generate(context.Background(), Request{Type: WeeklySummary, Notify: true})
	require.NoError(t, err)
	assert.Contains(t, res.Markdown, "No significant correlations detected.")
	assert.Contains(t, res.Markdown, "No volatility analysis data available.")
	assert.NotContains(t, res.Sections, "System Health")
	require.Len(t, res.Warnings, 2)
	assert.Contains(t, res.Warnings[1], "telegram down")

	_, err = g.Generate(context.Background(), Request{Type: "monthly"})
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestCorrelationAndRiskReports(t *testing.T) {
	g, _ := newGenerator(t, fakeAnalyzer{}, Options{Risk: fakeRisk{}})
	ctx := context.Background()

	res, err := g.Generate(ctx, Request{Type: Correlation})
	require.NoError(t, err)
	assert.Contains(t, res.Markdown, "| | AAPL | MSFT | BTC |")
	assert.Contains(t, res.Markdown, "| **MSFT** | 0.82 | 1.00 | 0.21 |")
	assert.Equal(t, "pearson correlation over 3 assets: mean 0.410, 1 significant pairs", res.Summary)

	res, err = g.Generate(ctx, Request{Type: Risk, Symbols: []string{"AAPL", "BTC"}})
	require.NoError(t, err)
	assert.Contains(t, res.Markdown, "| Measure | Value | On $100,000.00 |")
	assert.Contains(t, res.Markdown, "| VaR 95% (daily) | -2.50% | $2,500.00 |")
	assert.Contains(t, res.Markdown, "| Max drawdown | -20.00% | $20,000.00 |")
	assert.Contains(t, res.Markdown, "- Consider reducing position sizes")
	assert.Contains(t, res.Markdown, "**Most volatile:** BTC at 65.00% annualized")
	assert.Equal(t, "AAPL,BTC", res.Report.Symbols)
}

func TestSystemStatusReport(t *testing.T) {
	health := func() []agent.Snapshot {
		return []agent.Snapshot{
			{Name: agent.Collector, Status: agent.StatusRunning, Healthy: true, Stats: agent.Stats{Completed: 10, Failed: 1}},
			{Name: agent.Analyzer, Status: agent.StatusError, Healthy: false, Stats: agent.Stats{Completed: 2, Failed: 3}},
		}
	}
	g, db := newGenerator(t, fakeAnalyzer{}, Options{Health: health})
	require.NoError(t, db.SaveQualityReport(context.Background(), models.QualityReport{RunID: "r1", Overall: 0.91, TotalRecords: 500, CreatedAt: now}))

	res, err := g.Generate(context.Background(), Request{Type: SystemStatus})
	require.NoError(t, err)
	assert.Equal(t, "1/2 agents healthy, 12 tasks completed, 4 failed", res.Summary)
	assert.Contains(t, res.Markdown, "| analyzer | error | false |")
	assert.Contains(t, res.Markdown, "| 500 | 0.91 |")
}

func TestExport(t *testing.T) {
	g, db := newGenerator(t, fakeAnalyzer{}, Options{})
	ctx := context.Background()
	for i, sym := range []string{"AAPL", "BTC"} {
		require.NoError(t, db.SaveAlert(ctx, models.Alert{ID: sym, Type: models.AlertHighCorrelation, Severity: models.SeverityMedium, Subject: sym, Message: "msg, with comma", Value: 0.9, Threshold: 0.8, CreatedAt: now.Add(time.Duration(i) * time.Minute)}))
	}

	res, err := g.Export(ctx, ExportRequest{Source: SourceAlerts})
	require.NoError(t, err)
	assert.Equal(t, FormatCSV, res.Format)
	assert.Equal(t, 2, res.Records)
	b, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "id,type,severity,subject,message,value,threshold,created_at", lines[0])
	assert.Equal(t, `BTC,high_correlation,medium,BTC,"msg, with comma",0.9,0.8,2024-05-02T07:01:00Z`, lines[1])

	res, err = g.Export(ctx, ExportRequest{Source: SourceAlerts, Format: FormatJSON})
	require.NoError(t, err)
	b, err = os.ReadFile(res.Path)
	require.NoError(t, err)
	var alerts []models.Alert
	require.NoError(t, json.Unmarshal(b, &alerts))
	assert.Len(t, alerts, 2)

	res, err = g.Export(ctx, ExportRequest{Source: SourceAlerts, Format: FormatXLSX})
	require.NoError(t, err)
	f, err := excelize.OpenFile(res.Path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(SourceAlerts)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "severity", rows[0][2])
	assert.Equal(t, "AAPL", rows[2][0])

	res, err = g.Export(ctx, ExportRequest{Source: SourceReports, Format: FormatJSON})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Records)

	_, err = g.Export(ctx, ExportRequest{Source: "trades"})
	assert.Error(t, err)
	_, err = g.Export(ctx, ExportRequest{Source: SourceAlerts, Format: "pdf"})
	assert.Error(t, err)
}

func TestCleanup(t *testing.T) {
	g, _ := newGenerator(t, fakeAnalyzer{}, Options{})
	ctx := context.Background()
	res, err := g.Generate(ctx, Request{Type: Correlation})
	require.NoError(t, err)

	old := filepath.Join(g.Dir(), "daily_summary_old.html")
	require.NoError(t, os.WriteFile(old, []byte("old"), 0o644))
	stamp := now.AddDate(0, 0, -400)
	require.NoError(t, os.Chtimes(old, stamp, stamp))

	out, err := g.Cleanup(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, 1, out.Files)
	assert.Equal(t, int64(0), out.Records)
	assert.NoFileExists(t, old)
	assert.FileExists(t, res.Report.Path)
}

func TestTerminal(t *testing.T) {
	out, err := Terminal("# Weekly\n\nCorrelator output", 80)
	require.NoError(t, err)
	assert.Contains(t, out, "Correlator")
}
