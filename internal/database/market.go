package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/Alias1177/Correlator/models"
)

const upsertMarketData = `
	INSERT INTO market_data (
		symbol, asset_class, date, open, high, low, close, adjusted_close,
		volume, market_cap, source, quality_score, collected_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (symbol, date, source)
	DO UPDATE SET
		asset_class = excluded.asset_class,
		open = excluded.open,
		high = excluded.high,
		low = excluded.low,
		close = excluded.close,
		adjusted_close = excluded.adjusted_close,
		volume = excluded.volume,
		market_cap = excluded.market_cap,
		quality_score = excluded.quality_score,
		collected_at = excluded.collected_at`

// UpsertMarketData inserts or refreshes rows in a single transaction and returns how many were written
func (db *DB) UpsertMarketData(ctx context.Context, rows []models.MarketData) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	ctx, cancel := context.WithTimeout(ctx, db.queryTimeout*6)
	defer cancel()

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, db.q(upsertMarketData))
	if err != nil {
		return 0, fmt.Errorf("preparing upsert: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		_, err := stmt.ExecContext(ctx,
			r.Symbol, string(r.AssetClass), r.Date.UTC(), r.Open, r.High, r.Low, r.Close, r.AdjustedClose,
			r.Volume, r.MarketCap, r.Source, r.QualityScore, r.CollectedAt.UTC(),
		)
		if err != nil {
			return 0, fmt.Errorf("upserting %s %s: %w", r.Symbol, r.Date.Format("2006-01-02"), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return len(rows), nil
}

// MarketDataFilter narrows a market data query
type MarketDataFilter struct {
	Symbols []string
	Source  string
	Start   time.Time
	End     time.Time
	Limit   int
}

// MarketData returns rows ordered by symbol and date
func (db *DB) MarketData(ctx context.Context, f MarketDataFilter) ([]models.MarketData, error) {
	ctx, cancel := db.ctx(ctx)
	defer cancel()

	var (
		where []string
		args  []interface{}
	)
	if len(f.Symbols) > 0 {
		in, inArgs, err := sqlx.In("symbol IN (?)", f.Symbols)
		if err != nil {
			return nil, err
		}
		where = append(where, in)
		args = append(args, inArgs...)
	}
	if f.Source != "" {
		where = append(where, "source = ?")
		args = append(args, f.Source)
	}
	if !f.Start.IsZero() {
		where = append(where, "date >= ?")
		args = append(args, f.Start.UTC())
	}
	if !f.End.IsZero() {
		where = append(where, "date <= ?")
		args = append(args, f.End.UTC())
	}

	query := "SELECT * FROM market_data"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY symbol, date"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	var rows []models.MarketData
	if err := db.SelectContext(ctx, &rows, db.q(query), args...); err != nil {
		return nil, fmt.Errorf("querying market data: %w", err)
	}
	return rows, nil
}

// LatestDate returns the most recent stored date for a symbol
func (db *DB) LatestDate(ctx context.Context, symbol string) (time.Time, error) {
	ctx, cancel := db.ctx(ctx)
	defer cancel()

	var latest models.MarketData
	err := db.GetContext(ctx, &latest, db.q("SELECT * FROM market_data WHERE symbol = ? ORDER BY date DESC LIMIT 1"), symbol)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, ErrNotFound
		}
		return time.Time{}, fmt.Errorf("latest date: %w", err)
	}
	return latest.Date, nil
}

// SymbolSummary describes the stored coverage of one symbol
type SymbolSummary struct {
	Symbol     string `db:"symbol" json:"symbol"`
	AssetClass string `db:"asset_class" json:"asset_class"`
	Records    int64  `db:"records" json:"records"`
}

// Symbols lists stored symbols with their record counts
func (db *DB) Symbols(ctx context.Context) ([]SymbolSummary, error) {
	ctx, cancel := db.ctx(ctx)
	defer cancel()

	var out []SymbolSummary
	err := db.SelectContext(ctx, &out, `
		SELECT symbol, MIN(asset_class) AS asset_class, COUNT(*) AS records
		FROM market_data
		GROUP BY symbol
		ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("listing symbols: %w", err)
	}
	return out, nil
}

// DeleteMarketDataBefore removes raw rows older than cutoff
func (db *DB) DeleteMarketDataBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, cancel := db.ctx(ctx)
	defer cancel()

	res, err := db.ExecContext(ctx, db.q("DELETE FROM market_data WHERE date < ?"), cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("pruning market data: %w", err)
	}
	return res.RowsAffected()
}
