package report

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/Rhymond/go-money"

	"github.com/Alias1177/Correlator/internal/agent"
	"github.com/Alias1177/Correlator/internal/analysis"
	"github.com/Alias1177/Correlator/internal/portfolio"
	"github.com/Alias1177/Correlator/models"
)

const (
	topPairs         = 10
	alertRows        = 10
	highVolatility   = 0.4
	nominalPortfolio = 100_000_00 // cents
)

// builder accumulates report sections
type builder struct {
	now      time.Time
	body     strings.Builder
	sections []string
	warnings []string
	summary  string
}

func (b *builder) section(title string) {
	b.sections = append(b.sections, title)
	fmt.Fprintf(&b.body, "## %s\n\n", title)
}

func (b *builder) line(format string, args ...any) {
	fmt.Fprintf(&b.body, format+"\n", args...)
}

func (b *builder) warn(format string, args ...any) {
	b.warnings = append(b.warnings, fmt.Sprintf(format, args...))
}

func (b *builder) document(title string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n\n", title)
	fmt.Fprintf(&sb, "_Generated %s UTC_\n\n", b.now.Format("2006-01-02 15:04"))
	sb.WriteString(b.body.String())
	return sb.String()
}

func (g *Generator) summary(ctx context.Context, b *builder, symbols []string, lookbackDays int, alertWindow time.Duration) {
	req := analysis.Request{Symbols: symbols, Start: b.now.AddDate(0, 0, -lookbackDays), End: b.now}
	res, err := g.analyzer.Comprehensive(ctx, req)
	if err != nil {
		b.warn("analysis unavailable: %v", err)
	}
	alerts := g.alerts(ctx, b, alertWindow)

	var corr *analysis.CorrelationResult
	var vol *analysis.VolatilityResult
	if res != nil {
		corr, vol = res.Correlation, res.Volatility
		symbols = res.Symbols
		for section, msg := range res.Errors {
			b.warn("%s: %s", section, msg)
		}
	}

	b.section("Executive Summary")
	total := len(symbols) * (len(symbols) - 1) / 2
	significant := 0
	if corr != nil {
		significant = len(corr.SignificantPairs)
	}
	highVol := 0
	if vol != nil {
		for _, r := range vol.Reports {
			if r.CurrentAnnualized > highVolatility {
				highVol++
			}
		}
	}
	b.line("- **Assets analyzed:** %d", len(symbols))
	b.line("- **Significant correlation pairs:** %d/%d", significant, total)
	b.line("- **High volatility assets:** %d", highVol)
	b.line("- **Alerts in period:** %d", len(alerts))
	if res != nil && res.Regime != nil {
		b.line("- **Market regime:** %s", res.Regime.Current)
	}
	b.line("")
	b.summary = fmt.Sprintf("%d assets, %d/%d significant pairs, %d high-volatility assets, %d alerts",
		len(symbols), significant, total, highVol, len(alerts))

	g.marketOverview(ctx, b, symbols)
	correlationSection(b, corr)
	volatilitySection(b, vol)
	if res != nil && res.Regime != nil {
		b.section("Market Regime")
		b.line("%s", res.Regime.Summary)
		b.line("")
	}
	alertsSection(b, alerts)
	g.healthSection(b)
}

func (g *Generator) correlation(ctx context.Context, b *builder, symbols []string) {
	res, err := g.analyzer.Correlation(ctx, analysis.Request{Symbols: symbols, Start: b.now.AddDate(0, 0, -365), End: b.now})
	if err != nil {
		b.warn("correlation analysis unavailable: %v", err)
	}
	b.section("Executive Summary")
	if res == nil {
		b.line("No correlation analysis could be computed.")
		b.line("")
		b.summary = "correlation analysis unavailable"
		return
	}
	b.line("- **Method:** %s", res.Method)
	b.line("- **Observations:** %d (%s to %s)", res.Observations, res.Start.Format("2006-01-02"), res.End.Format("2006-01-02"))
	b.line("- **Mean correlation:** %.3f", res.MeanCorrelation)
	b.line("- **Significant pairs:** %d", len(res.SignificantPairs))
	b.line("")
	b.summary = fmt.Sprintf("%s correlation over %d assets: mean %.3f, %d significant pairs",
		res.Method, len(res.Symbols), res.MeanCorrelation, len(res.SignificantPairs))

	correlationSection(b, res)

	b.section("Correlation Matrix")
	b.line("| | %s |", strings.Join(res.Symbols, " | "))
	b.line("|---|%s", strings.Repeat("---|", len(res.Symbols)))
	for _, a := range res.Symbols {
		cells := make([]string, len(res.Symbols))
		for i, c := range res.Symbols {
			cells[i] = fmt.Sprintf("%.2f", res.Matrix[a][c])
		}
		b.line("| **%s** | %s |", a, strings.Join(cells, " | "))
	}
	b.line("")
}

func (g *Generator) riskReport(ctx context.Context, b *builder, symbols []string) {
	vol, err := g.analyzer.Volatility(ctx, analysis.Request{Symbols: symbols, Start: b.now.AddDate(0, 0, -365), End: b.now})
	if err != nil {
		b.warn("volatility analysis unavailable: %v", err)
	}

	var risk *portfolio.RiskReport
	if g.risk != nil && len(symbols) > 0 {
		weights := make(map[string]float64, len(symbols))
		for _, s := range symbols {
			weights[s] = 1 / float64(len(symbols))
		}
		risk, err = g.risk.AssessRisk(ctx, portfolio.Request{Portfolio: weights})
		if err != nil {
			b.warn("portfolio risk unavailable: %v", err)
		}
	}

	b.section("Executive Summary")
	if risk != nil {
		a := risk.Assessment
		b.line("- **Equal-weight portfolio risk:** %s (score %.2f)", a.Level, a.Score)
		b.line("- **Annual volatility:** %.2f%%", a.AnnualVolatility*100)
		b.summary = fmt.Sprintf("equal-weight risk %s (score %.2f) over %d assets", a.Level, a.Score, len(symbols))
	} else {
		b.summary = fmt.Sprintf("volatility review of %d assets", len(symbols))
	}
	if vol != nil && len(vol.Reports) > 0 {
		top := vol.Reports[0]
		b.line("- **Most volatile:** %s at %.2f%% annualized", top.Symbol, top.CurrentAnnualized*100)
	}
	b.line("")

	if risk != nil {
		m := risk.Metrics
		nominal := money.New(nominalPortfolio, money.USD)
		b.section("Portfolio Risk")
		b.line("| Measure | Value | On %s |", nominal.Display())
		b.line("|---|---|---|")
		b.line("| VaR 95%% (daily) | %.2f%% | %s |", m.VaR95*100, lossOn(m.VaR95))
		b.line("| VaR 99%% (daily) | %.2f%% | %s |", m.VaR99*100, lossOn(m.VaR99))
		b.line("| CVaR 95%% (daily) | %.2f%% | %s |", m.CVaR95*100, lossOn(m.CVaR95))
		b.line("| Max drawdown | %.2f%% | %s |", m.MaxDrawdown*100, lossOn(m.MaxDrawdown))
		b.line("| Sharpe ratio | %.2f | |", m.SharpeRatio)
		b.line("| Diversification ratio | %.2f | |", m.DiversificationRatio)
		b.line("")
		if len(risk.Assessment.Recommendations) > 0 {
			b.line("**Recommendations**")
			b.line("")
			for _, r := range risk.Assessment.Recommendations {
				b.line("- %s", r)
			}
			b.line("")
		}
	}
	volatilitySection(b, vol)
	alertsSection(b, g.alerts(ctx, b, 7*24*time.Hour))
}

// lossOn expresses a return fraction as a loss on the nominal portfolio
func lossOn(fraction float64) string {
	cents := int64(math.Round(math.Abs(fraction) * nominalPortfolio))
	return money.New(cents, money.USD).Display()
}

func (g *Generator) systemStatus(ctx context.Context, b *builder) {
	snaps := g.snapshots()
	healthy, completed, failed := 0, 0, 0
	for _, s := range snaps {
		if s.Healthy {
			healthy++
		}
		completed += s.Stats.Completed
		failed += s.Stats.Failed
	}
	b.section("System Overview")
	b.line("- **Agents:** %d (%d healthy)", len(snaps), healthy)
	b.line("- **Tasks completed:** %d", completed)
	b.line("- **Tasks failed:** %d", failed)
	b.line("")
	b.summary = fmt.Sprintf("%d/%d agents healthy, %d tasks completed, %d failed", healthy, len(snaps), completed, failed)

	g.healthSection(b)

	quality, err := g.store.QualityReports(ctx, 5)
	if err != nil {
		b.warn("quality reports unavailable: %v", err)
	}
	b.section("Data Quality")
	if len(quality) == 0 {
		b.line("No quality reports recorded.")
	} else {
		b.line("| Assessed | Records | Overall | Completeness | Accuracy | Timeliness |")
		b.line("|---|---|---|---|---|---|")
		for _, q := range quality {
			b.line("| %s | %d | %.2f | %.2f | %.2f | %.2f |", q.CreatedAt.Format("2006-01-02 15:04"), q.TotalRecords, q.Overall, q.Completeness, q.Accuracy, q.Timeliness)
		}
	}
	b.line("")
}

func (g *Generator) snapshots() []agent.Snapshot {
	if g.health == nil {
		return nil
	}
	return g.health()
}

func (g *Generator) marketOverview(ctx context.Context, b *builder, symbols []string) {
	b.section("Market Overview")
	quality, err := g.store.QualityReports(ctx, 1)
	if err != nil {
		b.warn("quality reports unavailable: %v", err)
	}
	score := -1.0
	if len(quality) > 0 {
		score = quality[0].Overall
	}
	if len(symbols) == 0 {
		b.line("No symbols analyzed.")
		b.line("")
		return
	}
	b.line("| Symbol | Data Quality | Status |")
	b.line("|---|---|---|")
	for _, s := range symbols {
		if score < 0 {
			b.line("| %s | n/a | Unknown |", s)
			continue
		}
		b.line("| %s | %.2f | %s |", s, score, qualityStatus(score))
	}
	b.line("")
}

func qualityStatus(q float64) string {
	switch {
	case q > 0.8:
		return "Good"
	case q > 0.5:
		return "Fair"
	}
	return "Poor"
}

func correlationSection(b *builder, res *analysis.CorrelationResult) {
	b.section("Correlation Analysis")
	if res == nil || len(res.SignificantPairs) == 0 {
		b.line("No significant correlations detected.")
		b.line("")
		return
	}
	b.line("| Asset Pair | Correlation | Strength |")
	b.line("|---|---|---|")
	for i, p := range res.SignificantPairs {
		if i == topPairs {
			break
		}
		b.line("| %s / %s | %.3f | %s |", p.Symbol1, p.Symbol2, p.Value, p.Strength)
	}
	b.line("")
}

func volatilitySection(b *builder, res *analysis.VolatilityResult) {
	b.section("Volatility Analysis")
	if res == nil || len(res.Reports) == 0 {
		b.line("No volatility analysis data available.")
		b.line("")
		return
	}
	b.line("| Symbol | Current | Long Run | Next Forecast | Regime |")
	b.line("|---|---|---|---|---|")
	for _, r := range res.Reports {
		next := 0.0
		if len(r.Forecast) > 0 {
			next = r.Forecast[0]
		}
		b.line("| %s | %.3f | %.3f | %.3f | %s |", r.Symbol, r.CurrentAnnualized, r.LongRunAnnualized, next, r.Regime)
	}
	b.line("")
}

func (g *Generator) alerts(ctx context.Context, b *builder, window time.Duration) []models.Alert {
	alerts, err := g.store.Alerts(ctx, b.now.Add(-window), 100)
	if err != nil {
		b.warn("alerts unavailable: %v", err)
	}
	return alerts
}

func alertsSection(b *builder, alerts []models.Alert) {
	b.section("Alerts")
	if len(alerts) == 0 {
		b.line("No recent alerts. System operating normally.")
		b.line("")
		return
	}
	sorted := append([]models.Alert(nil), alerts...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].CreatedAt.After(sorted[j].CreatedAt) })
	if len(sorted) > alertRows {
		sorted = sorted[:alertRows]
	}
	for _, a := range sorted {
		b.line("- **%s** (%s, %s): %s", titleCase(a.Type), a.Severity, a.CreatedAt.Format("2006-01-02 15:04"), a.Message)
	}
	b.line("")
}

func (g *Generator) healthSection(b *builder) {
	snaps := g.snapshots()
	if snaps == nil {
		return
	}
	b.section("System Health")
	b.line("| Agent | Status | Healthy | Queue | Completed | Failed | Last Activity |")
	b.line("|---|---|---|---|---|---|---|")
	for _, s := range snaps {
		last := "never"
		if !s.Stats.LastActivity.IsZero() {
			last = s.Stats.LastActivity.UTC().Format("2006-01-02 15:04")
		}
		b.line("| %s | %s | %t | %d | %d | %d | %s |", s.Name, s.Status, s.Healthy, s.QueueDepth, s.Stats.Completed, s.Stats.Failed, last)
	}
	b.line("")
}
