package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Alias1177/Correlator/models"
)

// SaveCorrelations stores a batch of pairwise coefficients
func (db *DB) SaveCorrelations(ctx context.Context, records []models.CorrelationRecord) error {
	if len(records) == 0 {
		return nil
	}
	ctx, cancel := db.ctx(ctx)
	defer cancel()

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := db.q(`
		INSERT INTO correlation_data (
			symbol1, symbol2, method, value, p_value, confidence_low, confidence_high,
			sample_size, window_size, start_date, end_date, calculation_date
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	for _, r := range records {
		if _, err := tx.ExecContext(ctx, query,
			r.Symbol1, r.Symbol2, r.Method, r.Value, r.PValue, r.ConfidenceLow, r.ConfidenceHigh,
			r.SampleSize, r.WindowSize, r.StartDate.UTC(), r.EndDate.UTC(), r.CalculationDate.UTC(),
		); err != nil {
			return fmt.Errorf("inserting correlation %s/%s: %w", r.Symbol1, r.Symbol2, err)
		}
	}
	return tx.Commit()
}

// CorrelationFilter narrows a correlation query
type CorrelationFilter struct {
	Symbol string
	Method string
	Since  time.Time
	Limit  int
}

// Correlations returns stored coefficients, newest first
func (db *DB) Correlations(ctx context.Context, f CorrelationFilter) ([]models.CorrelationRecord, error) {
	ctx, cancel := db.ctx(ctx)
	defer cancel()

	var (
		where []string
		args  []interface{}
	)
	if f.Symbol != "" {
		where = append(where, "(symbol1 = ? OR symbol2 = ?)")
		args = append(args, f.Symbol, f.Symbol)
	}
	if f.Method != "" {
		where = append(where, "method = ?")
		args = append(args, f.Method)
	}
	if !f.Since.IsZero() {
		where = append(where, "calculation_date >= ?")
		args = append(args, f.Since.UTC())
	}
	if f.Limit <= 0 {
		f.Limit = 500
	}

	query := "SELECT * FROM correlation_data"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY calculation_date DESC, id DESC LIMIT %d", f.Limit)

	var out []models.CorrelationRecord
	if err := db.SelectContext(ctx, &out, db.q(query), args...); err != nil {
		return nil, fmt.Errorf("querying correlations: %w", err)
	}
	return out, nil
}

// SaveRegimes upserts detected regimes keyed by date, method and universe
func (db *DB) SaveRegimes(ctx context.Context, records []models.RegimeRecord) error {
	if len(records) == 0 {
		return nil
	}
	ctx, cancel := db.ctx(ctx)
	defer cancel()

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := db.q(`
		INSERT INTO regime_data (date, regime, probability, method, universe, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (date, method, universe)
		DO UPDATE SET
			regime = excluded.regime,
			probability = excluded.probability,
			created_at = excluded.created_at`)

	for _, r := range records {
		if _, err := tx.ExecContext(ctx, query,
			r.Date.UTC(), r.Regime, r.Probability, r.Method, r.Universe, r.CreatedAt.UTC(),
		); err != nil {
			return fmt.Errorf("upserting regime %s: %w", r.Date.Format("2006-01-02"), err)
		}
	}
	return tx.Commit()
}

// Regimes returns the most recent regime records for a universe
func (db *DB) Regimes(ctx context.Context, universe string, limit int) ([]models.RegimeRecord, error) {
	ctx, cancel := db.ctx(ctx)
	defer cancel()
	if limit <= 0 {
		limit = 100
	}

	var out []models.RegimeRecord
	err := db.SelectContext(ctx, &out,
		db.q(fmt.Sprintf("SELECT * FROM regime_data WHERE universe = ? ORDER BY date DESC LIMIT %d", limit)),
		universe)
	if err != nil {
		return nil, fmt.Errorf("querying regimes: %w", err)
	}
	return out, nil
}

// SaveModelResult stores a fitted model summary
func (db *DB) SaveModelResult(ctx context.Context, r models.ModelResult) error {
	ctx, cancel := db.ctx(ctx)
	defer cancel()

	_, err := db.ExecContext(ctx, db.q(`
		INSERT INTO model_results (model_type, symbols, params, metrics, created_at)
		VALUES (?, ?, ?, ?, ?)`),
		r.ModelType, r.Symbols, r.Params, r.Metrics, r.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("inserting model result: %w", err)
	}
	return nil
}

// ModelResults returns the latest results of a model type
func (db *DB) ModelResults(ctx context.Context, modelType string, limit int) ([]models.ModelResult, error) {
	ctx, cancel := db.ctx(ctx)
	defer cancel()
	if limit <= 0 {
		limit = 20
	}

	var out []models.ModelResult
	err := db.SelectContext(ctx, &out,
		db.q(fmt.Sprintf("SELECT * FROM model_results WHERE model_type = ? ORDER BY created_at DESC, id DESC LIMIT %d", limit)),
		modelType)
	if err != nil {
		return nil, fmt.Errorf("querying model results: %w", err)
	}
	return out, nil
}
