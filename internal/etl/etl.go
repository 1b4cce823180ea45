// Package etl collects market data from every source, cleans it, scores its
// quality and loads it into the store.
package etl

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"

	"github.com/Alias1177/Correlator/internal/analysis/technical"
	"github.com/Alias1177/Correlator/internal/quality"
	"github.com/Alias1177/Correlator/models"
)

const (
	outlierSigma   = 3.0
	minOutlierRows = 20
)

// Collector fetches daily rows for a list of identifiers from one source
type Collector interface {
	Source() string
	Collect(ctx context.Context, symbols []string, start, end time.Time) ([]models.MarketData, error)
}

// Source binds a collector to the identifiers it is asked for
type Source struct {
	Collector Collector
	Symbols   []string
}

// Store receives loaded rows and the run log
type Store interface {
	UpsertMarketData(ctx context.Context, rows []models.MarketData) (int, error)
	SaveQualityReport(ctx context.Context, r models.QualityReport) error
	SaveETLRun(ctx context.Context, run models.ETLRun) error
	DeleteMarketDataBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Config controls the collection window and retention
type Config struct {
	LookbackDays     int
	RawRetentionDays int
}

// Pipeline runs collect, transform, assess and load
type Pipeline struct {
	store   Store
	sources []Source
	cfg     Config
	now     func() time.Time
	logger  zerolog.Logger

	mu         sync.RWMutex
	indicators map[string]models.TechnicalIndicators
	lastRun    *models.ETLRun
}

// New creates a pipeline over the given sources
func New(store Store, sources []Source, cfg Config) *Pipeline {
	if cfg.LookbackDays <= 0 {
		cfg.LookbackDays = 365
	}
	if cfg.RawRetentionDays <= 0 {
		cfg.RawRetentionDays = 90
	}
	return &Pipeline{
		store:      store,
		sources:    sources,
		cfg:        cfg,
		now:        time.Now,
		logger:     log.With().Str("component", "etl").Logger(),
		indicators: map[string]models.TechnicalIndicators{},
	}
}

// Run collects the configured lookback window ending now
func (p *Pipeline) Run(ctx context.Context) (models.ETLRun, error) {
	end := p.now().UTC()
	return p.RunWindow(ctx, end.AddDate(0, 0, -p.cfg.LookbackDays), end)
}

// RunWindow executes one pipeline run over [start, end]. The run is persisted
// whatever its outcome; the error is non-nil only when nothing was loaded.
func (p *Pipeline) RunWindow(ctx context.Context, start, end time.Time) (models.ETLRun, error) {
	run := models.ETLRun{
		ID:        uuid.NewString(),
		StartedAt: p.now().UTC(),
		Status:    models.RunStatusSuccess,
	}
	logger := p.logger.With().Str("run_id", run.ID).Logger()
	logger.Info().Time("start", start).Time("end", end).Int("sources", len(p.sources)).Msg("ETL run started")

	raw, collectErrs := p.collect(ctx, start, end)
	for _, err := range collectErrs {
		run.Errors = append(run.Errors, err.Error())
	}
	run.RecordsCollected = len(raw)

	rows, outliers := Transform(raw)
	if outliers > 0 {
		logger.Warn().Int("outliers", outliers).Msg("Removed 3-sigma outliers")
	}

	report := AssessQuality(rows, p.now().UTC())
	report.RunID = run.ID
	run.Quality = &report
	run.QualityScore = report.Overall

	enriched := Enrich(rows)
	p.mu.Lock()
	for sym, ind := range enriched {
		p.indicators[sym] = ind
	}
	p.mu.Unlock()

	var loadErr error
	if len(rows) > 0 {
		n, err := p.store.UpsertMarketData(ctx, rows)
		if err != nil {
			loadErr = fmt.Errorf("loading market data: %w", err)
			run.Errors = append(run.Errors, loadErr.Error())
		}
		run.RecordsLoaded = n
	}
	if err := p.store.SaveQualityReport(ctx, report); err != nil {
		logger.Error().Err(err).Msg("Failed to store quality report")
	}

	switch {
	case run.RecordsLoaded == 0:
		run.Status = models.RunStatusFailed
	case len(run.Errors) > 0:
		run.Status = models.RunStatusPartial
	}
	run.FinishedAt = p.now().UTC()

	if err := p.store.SaveETLRun(ctx, run); err != nil {
		logger.Error().Err(err).Msg("Failed to store ETL run")
	}
	p.mu.Lock()
	last := run
	p.lastRun = &last
	p.mu.Unlock()

	logger.Info().
		Str("status", run.Status).
		Int("collected", run.RecordsCollected).
		Int("loaded", run.RecordsLoaded).
		Float64("quality", run.QualityScore).
		Dur("took", run.FinishedAt.Sub(run.StartedAt)).
		Msg("ETL run finished")

	if run.Status == models.RunStatusFailed {
		if loadErr != nil {
			return run, loadErr
		}
		return run, fmt.Errorf("no records loaded: %w", errors.Join(collectErrs...))
	}
	return run, nil
}

// collect queries every source concurrently; failures are collected, not fatal
func (p *Pipeline) collect(ctx context.Context, start, end time.Time) ([]models.MarketData, []error) {
	var (
		mu   sync.Mutex
		rows []models.MarketData
		errs []error
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, src := range p.sources {
		if src.Collector == nil || len(src.Symbols) == 0 {
			continue
		}
		g.Go(func() error {
			got, err := src.Collector.Collect(gctx, src.Symbols, start, end)
			mu.Lock()
			defer mu.Unlock()
			rows = append(rows, got...)
			if err != nil {
				p.logger.Error().Err(err).Str("source", src.Collector.Source()).Msg("Collection errors")
				errs = append(errs, fmt.Errorf("%s: %w", src.Collector.Source(), err))
			}
			return nil
		})
	}
	_ = g.Wait()
	return rows, errs
}

// Transform normalises symbols, drops unusable rows, sorts by symbol and date,
// removes duplicate (symbol, date, source) keys and 3-sigma close outliers.
// It returns the cleaned rows and the number of outliers removed.
func Transform(rows []models.MarketData) ([]models.MarketData, int) {
	type key struct {
		symbol, source string
		date           time.Time
	}
	seen := make(map[key]int, len(rows))
	out := make([]models.MarketData, 0, len(rows))
	for _, r := range rows {
		r.Symbol = strings.ToUpper(strings.TrimSpace(r.Symbol))
		if r.Symbol == "" || r.Date.IsZero() || r.Close == 0 || math.IsNaN(r.Close) {
			continue
		}
		r.Date = time.Date(r.Date.Year(), r.Date.Month(), r.Date.Day(), 0, 0, 0, 0, time.UTC)
		k := key{r.Symbol, r.Source, r.Date}
		if i, ok := seen[k]; ok {
			// keep the latest collected copy
			out[i] = r
			continue
		}
		seen[k] = len(out)
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Symbol != out[j].Symbol {
			return out[i].Symbol < out[j].Symbol
		}
		return out[i].Date.Before(out[j].Date)
	})

	removed := 0
	cleaned := out[:0]
	for start := 0; start < len(out); {
		end := start
		for end < len(out) && out[end].Symbol == out[start].Symbol {
			end++
		}
		group := out[start:end]
		kept := group
		if len(group) >= minOutlierRows {
			kept = dropSigmaOutliers(group)
			removed += len(group) - len(kept)
		}
		cleaned = append(cleaned, kept...)
		start = end
	}
	return cleaned, removed
}

func dropSigmaOutliers(rows []models.MarketData) []models.MarketData {
	closes := make([]float64, len(rows))
	for i, r := range rows {
		closes[i] = r.Close
	}
	mean, sd := stat.MeanStdDev(closes, nil)
	if sd == 0 || math.IsNaN(sd) {
		return rows
	}
	kept := make([]models.MarketData, 0, len(rows))
	for _, r := range rows {
		if math.Abs(r.Close-mean) <= outlierSigma*sd {
			kept = append(kept, r)
		}
	}
	return kept
}

// Enrich computes technical indicators for every symbol with enough history
func Enrich(rows []models.MarketData) map[string]models.TechnicalIndicators {
	out := map[string]models.TechnicalIndicators{}
	for sym, group := range quality.GroupBySymbol(rows) {
		if group[0].AssetClass == models.AssetClassEconomicIndicator {
			continue
		}
		ind, err := technical.Compute(sym, group)
		if err != nil {
			continue
		}
		out[sym] = ind
	}
	return out
}

// AssessQuality scores a batch of rows
func AssessQuality(rows []models.MarketData, now time.Time) models.QualityReport {
	return quality.Assess(rows, now)
}

// Indicators returns the indicators computed by the latest runs
func (p *Pipeline) Indicators() map[string]models.TechnicalIndicators {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]models.TechnicalIndicators, len(p.indicators))
	for k, v := range p.indicators {
		out[k] = v
	}
	return out
}

// LastRun returns the most recent run, if any
func (p *Pipeline) LastRun() (models.ETLRun, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.lastRun == nil {
		return models.ETLRun{}, false
	}
	return *p.lastRun, true
}

// Prune deletes raw market data older than the retention window
func (p *Pipeline) Prune(ctx context.Context) (int64, error) {
	cutoff := p.now().UTC().AddDate(0, 0, -p.cfg.RawRetentionDays)
	n, err := p.store.DeleteMarketDataBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning market data: %w", err)
	}
	p.logger.Info().Int64("deleted", n).Time("cutoff", cutoff).Msg("Pruned market data")
	return n, nil
}
