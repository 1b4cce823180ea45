package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a lookup matches no row
var ErrNotFound = errors.New("not found")

// Supported drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// DB represents a database connection
type DB struct {
	*sqlx.DB
	driver       string
	queryTimeout time.Duration
	logger       zerolog.Logger
}

// Config holds connection parameters
type Config struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	QueryTimeout    time.Duration
}

// DefaultConfig returns pool settings suitable for the service
func DefaultConfig(driver, dsn string) Config {
	return Config{
		Driver:          driver,
		DSN:             dsn,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		QueryTimeout:    10 * time.Second,
	}
}

// New opens the database, checks the connection and creates missing tables
func New(ctx context.Context, cfg Config) (*DB, error) {
	if cfg.Driver != DriverPostgres && cfg.Driver != DriverSQLite {
		return nil, fmt.Errorf("unsupported driver %q", cfg.Driver)
	}
	if cfg.QueryTimeout == 0 {
		cfg.QueryTimeout = 10 * time.Second
	}

	conn, err := sqlx.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if cfg.Driver == DriverSQLite {
		// sqlite serialises writers and in-memory databases live per connection
		conn.SetMaxOpenConns(1)
	} else {
		conn.SetMaxOpenConns(cfg.MaxOpenConns)
		conn.SetMaxIdleConns(cfg.MaxIdleConns)
		conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	db := Wrap(conn, cfg.Driver, cfg.QueryTimeout)

	if err := db.Ping(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	if err := db.createTables(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	db.logger.Info().Str("driver", cfg.Driver).Msg("Database ready")
	return db, nil
}

// Wrap builds a DB around an existing connection without touching the schema
func Wrap(conn *sqlx.DB, driver string, queryTimeout time.Duration) *DB {
	if queryTimeout == 0 {
		queryTimeout = 10 * time.Second
	}
	return &DB{
		DB:           conn,
		driver:       driver,
		queryTimeout: queryTimeout,
		logger:       log.With().Str("component", "database").Logger(),
	}
}

// Ping checks connectivity
func (db *DB) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, db.queryTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping: %w", err)
	}
	return nil
}

// Driver returns the SQL dialect in use
func (db *DB) Driver() string { return db.driver }

func (db *DB) ctx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, db.queryTimeout)
}

// q rewrites ? placeholders for the active driver
func (db *DB) q(query string) string {
	if db.driver == DriverPostgres {
		return sqlx.Rebind(sqlx.DOLLAR, query)
	}
	return query
}

func (db *DB) createTables(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	idColumn := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if db.driver == DriverPostgres {
		idColumn = "BIGSERIAL PRIMARY KEY"
	}

	for _, stmt := range schema {
		stmt = strings.ReplaceAll(stmt, "{{id}}", idColumn)
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("creating schema: %w", err)
		}
	}
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS market_data (
		id {{id}},
		symbol TEXT NOT NULL,
		asset_class TEXT NOT NULL,
		date TIMESTAMP NOT NULL,
		open DOUBLE PRECISION NOT NULL DEFAULT 0,
		high DOUBLE PRECISION NOT NULL DEFAULT 0,
		low DOUBLE PRECISION NOT NULL DEFAULT 0,
		close DOUBLE PRECISION NOT NULL,
		adjusted_close DOUBLE PRECISION NOT NULL DEFAULT 0,
		volume DOUBLE PRECISION NOT NULL DEFAULT 0,
		market_cap DOUBLE PRECISION NOT NULL DEFAULT 0,
		source TEXT NOT NULL,
		quality_score DOUBLE PRECISION NOT NULL DEFAULT 0,
		collected_at TIMESTAMP NOT NULL,
		UNIQUE (symbol, date, source)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_market_data_symbol_date ON market_data (symbol, date)`,
	`CREATE TABLE IF NOT EXISTS correlation_data (
		id {{id}},
		symbol1 TEXT NOT NULL,
		symbol2 TEXT NOT NULL,
		method TEXT NOT NULL,
		value DOUBLE PRECISION NOT NULL,
		p_value DOUBLE PRECISION NOT NULL DEFAULT 1,
		confidence_low DOUBLE PRECISION NOT NULL DEFAULT 0,
		confidence_high DOUBLE PRECISION NOT NULL DEFAULT 0,
		sample_size INTEGER NOT NULL,
		window_size INTEGER NOT NULL DEFAULT 0,
		start_date TIMESTAMP NOT NULL,
		end_date TIMESTAMP NOT NULL,
		calculation_date TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_correlation_pair ON correlation_data (symbol1, symbol2, calculation_date)`,
	`CREATE TABLE IF NOT EXISTS regime_data (
		id {{id}},
		date TIMESTAMP NOT NULL,
		regime TEXT NOT NULL,
		probability DOUBLE PRECISION NOT NULL,
		method TEXT NOT NULL,
		universe TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		UNIQUE (date, method, universe)
	)`,
	`CREATE TABLE IF NOT EXISTS model_results (
		id {{id}},
		model_type TEXT NOT NULL,
		symbols TEXT NOT NULL,
		params TEXT NOT NULL,
		metrics TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS data_quality (
		id {{id}},
		run_id TEXT NOT NULL,
		completeness DOUBLE PRECISION NOT NULL,
		accuracy DOUBLE PRECISION NOT NULL,
		timeliness DOUBLE PRECISION NOT NULL,
		consistency DOUBLE PRECISION NOT NULL,
		overall DOUBLE PRECISION NOT NULL,
		total_records INTEGER NOT NULL,
		missing_values INTEGER NOT NULL,
		outliers_detected INTEGER NOT NULL,
		validation_errors TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS etl_runs (
		id TEXT PRIMARY KEY,
		started_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP NOT NULL,
		status TEXT NOT NULL,
		records_collected INTEGER NOT NULL,
		records_loaded INTEGER NOT NULL,
		quality_score DOUBLE PRECISION NOT NULL,
		errors TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS alerts (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		severity TEXT NOT NULL,
		subject TEXT NOT NULL,
		message TEXT NOT NULL,
		value DOUBLE PRECISION NOT NULL,
		threshold DOUBLE PRECISION NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_alerts_created ON alerts (created_at)`,
	`CREATE TABLE IF NOT EXISTS reports (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		title TEXT NOT NULL,
		path TEXT NOT NULL,
		symbols TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS subscriptions (
		email TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL DEFAULT '',
		subscription_id TEXT NOT NULL DEFAULT '',
		tier TEXT NOT NULL,
		active BOOLEAN NOT NULL,
		current_period_end TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
}

// Stats returns row counts per table for health reporting
func (db *DB) Stats(ctx context.Context) (map[string]int64, error) {
	ctx, cancel := db.ctx(ctx)
	defer cancel()

	tables := []string{"market_data", "correlation_data", "regime_data", "model_results", "data_quality", "etl_runs", "alerts", "reports"}
	out := make(map[string]int64, len(tables))
	for _, table := range tables {
		var n int64
		if err := db.GetContext(ctx, &n, "SELECT COUNT(*) FROM "+table); err != nil {
			return nil, fmt.Errorf("counting %s: %w", table, err)
		}
		out[table] = n
	}
	return out, nil
}
