// Package report builds markdown market reports, renders them to HTML and
// exports stored data.
package report

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/Alias1177/Correlator/internal/agent"
	"github.com/Alias1177/Correlator/internal/analysis"
	"github.com/Alias1177/Correlator/internal/database"
	"github.com/Alias1177/Correlator/internal/portfolio"
	"github.com/Alias1177/Correlator/models"
)

// Report types
const (
	DailySummary  = "daily_summary"
	WeeklySummary = "weekly_summary"
	Correlation   = "correlation"
	Risk          = "risk"
	SystemStatus  = "system_status"
)

// Types lists the supported report types
var Types = []string{DailySummary, WeeklySummary, Correlation, Risk, SystemStatus}

// ErrUnknownType is returned for unsupported report types
var ErrUnknownType = errors.New("unknown report type")

// Analyzer runs the analyses a report summarises
type Analyzer interface {
	Comprehensive(ctx context.Context, req analysis.Request) (*analysis.ComprehensiveResult, error)
	Correlation(ctx context.Context, req analysis.Request) (*analysis.CorrelationResult, error)
	Volatility(ctx context.Context, req analysis.Request) (*analysis.VolatilityResult, error)
}

// RiskAssessor scores portfolio risk
type RiskAssessor interface {
	AssessRisk(ctx context.Context, req portfolio.Request) (*portfolio.RiskReport, error)
}

// Store is where reports are recorded and report inputs are read
type Store interface {
	SaveReport(ctx context.Context, r models.Report) error
	Reports(ctx context.Context, limit int) ([]models.Report, error)
	Report(ctx context.Context, id string) (models.Report, error)
	DeleteReportsBefore(ctx context.Context, cutoff time.Time) (int64, error)
	QualityReports(ctx context.Context, limit int) ([]models.QualityReport, error)
	Alerts(ctx context.Context, since time.Time, limit int) ([]models.Alert, error)
	Correlations(ctx context.Context, f database.CorrelationFilter) ([]models.CorrelationRecord, error)
}

// Notifier delivers report summaries
type Notifier interface {
	SendReport(ctx context.Context, r models.Report, summary string) error
}

// HealthSource returns the current agent snapshots
type HealthSource func() []agent.Snapshot

// Config controls where reports go and what they cover
type Config struct {
	Dir           string
	RetentionDays int
	Symbols       []string
}

// Request asks for one report
type Request struct {
	Type    string   `json:"report_type" validate:"omitempty,oneof=daily_summary weekly_summary correlation risk system_status"`
	Symbols []string `json:"symbols" validate:"omitempty,max=50,dive,required"`
	Notify  bool     `json:"notify"`
}

// Result is a generated report
type Result struct {
	Report   models.Report `json:"report"`
	Summary  string        `json:"summary"`
	Markdown string        `json:"-"`
	Sections []string      `json:"sections"`
	Warnings []string      `json:"warnings,omitempty"`
}

// Generator builds, stores and sends reports
type Generator struct {
	store    Store
	analyzer Analyzer
	risk     RiskAssessor
	notifier Notifier
	health   HealthSource
	cfg      Config
	md       goldmark.Markdown
	now      func() time.Time
	logger   zerolog.Logger
}

// Options wires optional collaborators
type Options struct {
	Risk     RiskAssessor
	Notifier Notifier
	Health   HealthSource
}

// New creates a generator writing into cfg.Dir
func New(store Store, analyzer Analyzer, opts Options, cfg Config) *Generator {
	if cfg.Dir == "" {
		cfg.Dir = "reports"
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 30
	}
	return &Generator{
		store:    store,
		analyzer: analyzer,
		risk:     opts.Risk,
		notifier: opts.Notifier,
		health:   opts.Health,
		cfg:      cfg,
		md:       goldmark.New(goldmark.WithExtensions(extension.GFM)),
		now:      time.Now,
		logger:   log.With().Str("component", "report").Logger(),
	}
}

// Dir returns the report directory
func (g *Generator) Dir() string { return g.cfg.Dir }

// Generate builds the requested report, saves markdown and HTML files,
// records it in the store and optionally notifies.
func (g *Generator) Generate(ctx context.Context, req Request) (*Result, error) {
	if req.Type == "" {
		req.Type = DailySummary
	}
	symbols := req.Symbols
	if len(symbols) == 0 {
		symbols = g.cfg.Symbols
	}
	now := g.now().UTC()

	b := &builder{now: now}
	switch req.Type {
	case DailySummary:
		g.summary(ctx, b, symbols, 90, 24*time.Hour)
	case WeeklySummary:
		g.summary(ctx, b, symbols, 180, 7*24*time.Hour)
	case Correlation:
		g.correlation(ctx, b, symbols)
	case Risk:
		g.riskReport(ctx, b, symbols)
	case SystemStatus:
		g.systemStatus(ctx, b)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, req.Type)
	}

	title := fmt.Sprintf("%s Report", titleCase(req.Type))
	markdown := b.document(title)
	rep := models.Report{
		ID:        uuid.NewString(),
		Type:      req.Type,
		Title:     title,
		Symbols:   strings.Join(symbols, ","),
		CreatedAt: now,
	}
	path, err := g.write(rep, markdown, now)
	if err != nil {
		return nil, err
	}
	rep.Path = path
	if err := g.store.SaveReport(ctx, rep); err != nil {
		return nil, fmt.Errorf("recording report: %w", err)
	}

	res := &Result{Report: rep, Summary: b.summary, Markdown: markdown, Sections: b.sections, Warnings: b.warnings}
	g.logger.Info().Str("type", rep.Type).Str("path", path).Strs("sections", b.sections).Int("warnings", len(b.warnings)).Msg("Report generated")

	if req.Notify && g.notifier != nil {
		if err := g.notifier.SendReport(ctx, rep, b.summary); err != nil {
			g.logger.Error().Err(err).Str("report", rep.ID).Msg("Failed to send report")
			res.Warnings = append(res.Warnings, "notification failed: "+err.Error())
		}
	}
	return res, nil
}

// write saves the markdown source and its HTML rendering side by side
func (g *Generator) write(rep models.Report, markdown string, now time.Time) (string, error) {
	if err := os.MkdirAll(g.cfg.Dir, 0o755); err != nil {
		return "", fmt.Errorf("creating report dir: %w", err)
	}
	base := filepath.Join(g.cfg.Dir, fmt.Sprintf("%s_%s_%s", rep.Type, now.Format("20060102_150405"), rep.ID[:8]))
	if err := os.WriteFile(base+".md", []byte(markdown), 0o644); err != nil {
		return "", fmt.Errorf("writing report: %w", err)
	}
	html, err := g.HTML(rep.Title, markdown)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(base+".html", html, 0o644); err != nil {
		return "", fmt.Errorf("writing report: %w", err)
	}
	return base + ".html", nil
}

const htmlTemplate = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>%s</title>
<style>
body { font-family: sans-serif; margin: 2em; }
table { border-collapse: collapse; }
th, td { border: 1px solid #ccc; padding: 4px 8px; text-align: left; }
</style>
</head>
<body>
%s
</body>
</html>
`

// HTML renders markdown into a standalone HTML page
func (g *Generator) HTML(title, markdown string) ([]byte, error) {
	var body bytes.Buffer
	if err := g.md.Convert([]byte(markdown), &body); err != nil {
		return nil, fmt.Errorf("rendering report: %w", err)
	}
	return []byte(fmt.Sprintf(htmlTemplate, title, body.String())), nil
}

// List returns recorded reports, newest first
func (g *Generator) List(ctx context.Context, limit int) ([]models.Report, error) {
	if limit <= 0 {
		limit = 50
	}
	return g.store.Reports(ctx, limit)
}

// Markdown loads the markdown source of a recorded report
func (g *Generator) Markdown(ctx context.Context, id string) (models.Report, string, error) {
	rep, err := g.store.Report(ctx, id)
	if err != nil {
		return models.Report{}, "", err
	}
	b, err := os.ReadFile(strings.TrimSuffix(rep.Path, ".html") + ".md")
	if err != nil {
		return rep, "", fmt.Errorf("reading report %s: %w", id, err)
	}
	return rep, string(b), nil
}

// CleanupResult reports what Cleanup removed
type CleanupResult struct {
	Files   int       `json:"cleaned_files"`
	Records int64     `json:"cleaned_records"`
	Cutoff  time.Time `json:"cutoff_date"`
}

// Cleanup deletes report files and records older than the retention period.
// retentionDays <= 0 uses the configured retention.
func (g *Generator) Cleanup(ctx context.Context, retentionDays int) (CleanupResult, error) {
	if retentionDays <= 0 {
		retentionDays = g.cfg.RetentionDays
	}
	res := CleanupResult{Cutoff: g.now().UTC().AddDate(0, 0, -retentionDays)}

	entries, err := os.ReadDir(g.cfg.Dir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return res, fmt.Errorf("listing report dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(res.Cutoff) {
			if err := os.Remove(filepath.Join(g.cfg.Dir, e.Name())); err != nil {
				g.logger.Warn().Err(err).Str("file", e.Name()).Msg("Failed to remove report file")
				continue
			}
			res.Files++
		}
	}
	n, err := g.store.DeleteReportsBefore(ctx, res.Cutoff)
	if err != nil {
		return res, fmt.Errorf("deleting report records: %w", err)
	}
	res.Records = n
	g.logger.Info().Int("files", res.Files).Int64("records", n).Time("cutoff", res.Cutoff).Msg("Old reports cleaned up")
	return res, nil
}

func titleCase(s string) string {
	words := strings.Split(s, "_")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}
