package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Alias1177/Correlator/models"
)

// SaveAlert stores a raised alert
func (db *DB) SaveAlert(ctx context.Context, a models.Alert) error {
	ctx, cancel := db.ctx(ctx)
	defer cancel()

	_, err := db.ExecContext(ctx, db.q(`
		INSERT INTO alerts (id, type, severity, subject, message, value, threshold, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		a.ID, a.Type, a.Severity, a.Subject, a.Message, a.Value, a.Threshold, a.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("inserting alert: %w", err)
	}
	return nil
}

// Alerts returns alerts raised since t, newest first
func (db *DB) Alerts(ctx context.Context, since time.Time, limit int) ([]models.Alert, error) {
	ctx, cancel := db.ctx(ctx)
	defer cancel()
	if limit <= 0 {
		limit = 100
	}

	var out []models.Alert
	err := db.SelectContext(ctx, &out,
		db.q(fmt.Sprintf("SELECT * FROM alerts WHERE created_at >= ? ORDER BY created_at DESC LIMIT %d", limit)),
		since.UTC())
	if err != nil {
		return nil, fmt.Errorf("querying alerts: %w", err)
	}
	return out, nil
}

// SaveReport records a generated report
func (db *DB) SaveReport(ctx context.Context, r models.Report) error {
	ctx, cancel := db.ctx(ctx)
	defer cancel()

	_, err := db.ExecContext(ctx, db.q(`
		INSERT INTO reports (id, type, title, path, symbols, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`),
		r.ID, r.Type, r.Title, r.Path, r.Symbols, r.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("inserting report: %w", err)
	}
	return nil
}

// Reports lists generated reports, newest first
func (db *DB) Reports(ctx context.Context, limit int) ([]models.Report, error) {
	ctx, cancel := db.ctx(ctx)
	defer cancel()
	if limit <= 0 {
		limit = 50
	}

	var out []models.Report
	if err := db.SelectContext(ctx, &out,
		fmt.Sprintf("SELECT * FROM reports ORDER BY created_at DESC LIMIT %d", limit)); err != nil {
		return nil, fmt.Errorf("querying reports: %w", err)
	}
	return out, nil
}

// Report fetches one report by id
func (db *DB) Report(ctx context.Context, id string) (models.Report, error) {
	ctx, cancel := db.ctx(ctx)
	defer cancel()

	var r models.Report
	if err := db.GetContext(ctx, &r, db.q("SELECT * FROM reports WHERE id = ?"), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Report{}, ErrNotFound
		}
		return models.Report{}, fmt.Errorf("querying report: %w", err)
	}
	return r, nil
}

// DeleteReportsBefore removes report records older than cutoff
func (db *DB) DeleteReportsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, cancel := db.ctx(ctx)
	defer cancel()

	res, err := db.ExecContext(ctx, db.q("DELETE FROM reports WHERE created_at < ?"), cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("pruning reports: %w", err)
	}
	return res.RowsAffected()
}
