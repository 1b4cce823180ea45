package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/Alias1177/Correlator/models"
)

// SaveQualityReport stores the quality assessment of a run
func (db *DB) SaveQualityReport(ctx context.Context, r models.QualityReport) error {
	ctx, cancel := db.ctx(ctx)
	defer cancel()

	_, err := db.ExecContext(ctx, db.q(`
		INSERT INTO data_quality (
			run_id, completeness, accuracy, timeliness, consistency, overall,
			total_records, missing_values, outliers_detected, validation_errors, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		r.RunID, r.Completeness, r.Accuracy, r.Timeliness, r.Consistency, r.Overall,
		r.TotalRecords, r.MissingValues, r.OutliersDetected, strings.Join(r.ValidationErrors, "\n"), r.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("inserting quality report: %w", err)
	}
	return nil
}

// QualityReports returns the latest quality assessments
func (db *DB) QualityReports(ctx context.Context, limit int) ([]models.QualityReport, error) {
	ctx, cancel := db.ctx(ctx)
	defer cancel()
	if limit <= 0 {
		limit = 20
	}

	var out []models.QualityReport
	if err := db.SelectContext(ctx, &out,
		fmt.Sprintf("SELECT * FROM data_quality ORDER BY created_at DESC, id DESC LIMIT %d", limit)); err != nil {
		return nil, fmt.Errorf("querying quality reports: %w", err)
	}
	for i := range out {
		out[i].ValidationErrors = splitLines(out[i].ValidationSummary)
	}
	return out, nil
}

// SaveETLRun records a pipeline execution
func (db *DB) SaveETLRun(ctx context.Context, run models.ETLRun) error {
	ctx, cancel := db.ctx(ctx)
	defer cancel()

	_, err := db.ExecContext(ctx, db.q(`
		INSERT INTO etl_runs (
			id, started_at, finished_at, status, records_collected, records_loaded, quality_score, errors
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		run.ID, run.StartedAt.UTC(), run.FinishedAt.UTC(), run.Status,
		run.RecordsCollected, run.RecordsLoaded, run.QualityScore, strings.Join(run.Errors, "\n"))
	if err != nil {
		return fmt.Errorf("inserting etl run: %w", err)
	}
	return nil
}

// ETLRuns returns the latest pipeline executions
func (db *DB) ETLRuns(ctx context.Context, limit int) ([]models.ETLRun, error) {
	ctx, cancel := db.ctx(ctx)
	defer cancel()
	if limit <= 0 {
		limit = 20
	}

	var out []models.ETLRun
	if err := db.SelectContext(ctx, &out,
		fmt.Sprintf("SELECT * FROM etl_runs ORDER BY started_at DESC LIMIT %d", limit)); err != nil {
		return nil, fmt.Errorf("querying etl runs: %w", err)
	}
	for i := range out {
		out[i].Errors = splitLines(out[i].ErrorSummary)
	}
	return out, nil
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}
