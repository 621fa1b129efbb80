// Package sqlite persists candles and indicator values in a single
// SQLite database. Both tables carry natural-key primary keys, so the
// idempotent insert paths lean on INSERT OR IGNORE rather than
// read-before-write.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"crypto-streamv1/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// Config configures the SQLite store.
type Config struct {
	DBPath string // path to SQLite database file, e.g. "data/stream.db"
}

// Store is the SQLite-backed candle and indicator store.
type Store struct {
	db *sql.DB
}

// DB returns the underlying sql.DB for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// New opens the database in WAL mode, applies the schema and returns
// the store. The pool is capped at one connection: SQLite allows one
// writer at a time and the ingest path is effectively serial anyway.
func New(cfg Config) (*Store, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", cfg.DBPath)
	return &Store{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS candles (
			pair      TEXT    NOT NULL,
			interval  TEXT    NOT NULL,
			open_time INTEGER NOT NULL,
			open      REAL    NOT NULL,
			high      REAL    NOT NULL,
			low       REAL    NOT NULL,
			close     REAL    NOT NULL,
			volume    REAL    NOT NULL,
			PRIMARY KEY (pair, interval, open_time)
		);

		CREATE TABLE IF NOT EXISTS indicator_values (
			pair          TEXT    NOT NULL,
			timeframe     TEXT    NOT NULL,
			period        INTEGER NOT NULL,
			kind          TEXT    NOT NULL,
			value         REAL    NOT NULL,
			calculated_at INTEGER NOT NULL,
			PRIMARY KEY (pair, timeframe, period, kind, calculated_at)
		);
	`)
	return err
}

// InsertIfAbsent stores the candle unless its natural key already
// exists, then returns the stored row. Duplicate klines for the same
// bar are a normal occurrence after reconnects, never an error, and
// never overwrite the first-written bar.
func (s *Store) InsertIfAbsent(ctx context.Context, c model.Candle) (model.Candle, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO candles (pair, interval, open_time, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, c.Pair, c.Interval, c.OpenTime.UTC().Unix(), c.Open, c.High, c.Low, c.Close, c.Volume)
	if err != nil {
		return model.Candle{}, fmt.Errorf("sqlite insert candle %s: %w", c.Key(), err)
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT pair, interval, open_time, open, high, low, close, volume
		FROM candles
		WHERE pair = ? AND interval = ? AND open_time = ?
	`, c.Pair, c.Interval, c.OpenTime.UTC().Unix())

	stored, err := scanCandle(row)
	if err != nil {
		return model.Candle{}, fmt.Errorf("sqlite select candle %s: %w", c.Key(), err)
	}
	return stored, nil
}

// Recent returns up to limit candles for (pair, interval) ordered
// oldest to newest.
func (s *Store) Recent(ctx context.Context, pair, interval string, limit int) ([]model.Candle, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT pair, interval, open_time, open, high, low, close, volume
		FROM (
			SELECT * FROM candles
			WHERE pair = ? AND interval = ?
			ORDER BY open_time DESC
			LIMIT ?
		)
		ORDER BY open_time ASC
	`, pair, interval, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite query candles: %w", err)
	}
	defer rows.Close()

	var candles []model.Candle
	for rows.Next() {
		c, err := scanCandle(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite scan candle: %w", err)
		}
		candles = append(candles, c)
	}
	return candles, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCandle(row rowScanner) (model.Candle, error) {
	var c model.Candle
	var openUnix int64
	if err := row.Scan(&c.Pair, &c.Interval, &openUnix, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
		return model.Candle{}, err
	}
	c.OpenTime = time.Unix(openUnix, 0).UTC()
	return c, nil
}

// InsertIfAbsent stores the indicator value unless the same sample
// already exists. Re-deliveries of the trigger candle re-derive the
// same (key, calculated_at) and land here as no-ops.
func (s *Store) InsertIndicatorIfAbsent(ctx context.Context, v model.IndicatorValue) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO indicator_values (pair, timeframe, period, kind, value, calculated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, v.Pair, v.Timeframe, v.Period, string(v.Kind), v.Value, v.CalculatedAt.UTC().Unix())
	if err != nil {
		return fmt.Errorf("sqlite insert indicator %s %s: %w", v.Kind, v.Pair, err)
	}
	return nil
}

// Latest returns the most recent indicator sample for the key, or nil
// when none exists. No freshness cutoff: the nearest stored value is
// returned even when the market has moved on.
func (s *Store) Latest(ctx context.Context, pair, timeframe string, period int, kind model.IndicatorKind) (*model.IndicatorValue, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT pair, timeframe, period, kind, value, calculated_at
		FROM indicator_values
		WHERE pair = ? AND timeframe = ? AND period = ? AND kind = ?
		ORDER BY calculated_at DESC
		LIMIT 1
	`, pair, timeframe, period, string(kind))

	v, err := scanIndicator(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("sqlite latest indicator: %w", err)
	}
	return &v, nil
}

// History returns up to limit indicator samples ordered oldest to newest.
func (s *Store) History(ctx context.Context, pair, timeframe string, period int, kind model.IndicatorKind, limit int) ([]model.IndicatorValue, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT pair, timeframe, period, kind, value, calculated_at
		FROM (
			SELECT * FROM indicator_values
			WHERE pair = ? AND timeframe = ? AND period = ? AND kind = ?
			ORDER BY calculated_at DESC
			LIMIT ?
		)
		ORDER BY calculated_at ASC
	`, pair, timeframe, period, string(kind), limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite query indicators: %w", err)
	}
	defer rows.Close()

	var values []model.IndicatorValue
	for rows.Next() {
		v, err := scanIndicator(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite scan indicator: %w", err)
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

func scanIndicator(row rowScanner) (model.IndicatorValue, error) {
	var v model.IndicatorValue
	var kind string
	var calcUnix int64
	if err := row.Scan(&v.Pair, &v.Timeframe, &v.Period, &kind, &v.Value, &calcUnix); err != nil {
		return model.IndicatorValue{}, err
	}
	v.Kind = model.IndicatorKind(kind)
	v.CalculatedAt = time.Unix(calcUnix, 0).UTC()
	return v, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
