// Package sqlitestore is a reference implementation of store.Store
// backed by a pure-Go SQLite driver (WAL mode, bounded connection pool).
// It exists so the scheduler and integration tests have a real store to
// run against.
package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure Go SQLite driver

	"github.com/aristath/arduino-trader/internal/market"
	"github.com/aristath/arduino-trader/internal/store"
)

// Store wraps a sqlite connection implementing store.Store.
type Store struct {
	db   *sql.DB
	path string
}

// Open creates (if needed) and opens the database at path, in WAL mode,
// and ensures the schema exists.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	s := &Store{db: db, path: path}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ohlc (
			asset_id TEXT NOT NULL,
			timestamp_ms INTEGER NOT NULL,
			date TEXT NOT NULL,
			open REAL NOT NULL,
			high REAL NOT NULL,
			low REAL NOT NULL,
			close REAL NOT NULL,
			volume REAL NOT NULL,
			PRIMARY KEY (asset_id, timestamp_ms)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ohlc_asset_ts ON ohlc(asset_id, timestamp_ms)`,
		`CREATE TABLE IF NOT EXISTS macro (
			indicator_id TEXT NOT NULL,
			date TEXT NOT NULL,
			value REAL,
			has_value INTEGER NOT NULL,
			is_interpolated INTEGER NOT NULL DEFAULT 0,
			is_forward_filled INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (indicator_id, date)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// InsertOHLC inserts rows, silently skipping duplicates on
// (asset_id, timestamp_ms).
func (s *Store) InsertOHLC(ctx context.Context, rows []market.OHLCRow) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO ohlc (asset_id, timestamp_ms, date, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	inserted := 0
	for _, r := range rows {
		res, err := stmt.ExecContext(ctx, r.AssetID, r.TimestampMS, r.Date, r.Open, r.High, r.Low, r.Close, r.Volume)
		if err != nil {
			return 0, err
		}
		n, _ := res.RowsAffected()
		inserted += int(n)
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return inserted, nil
}

// InsertMacro inserts rows, silently skipping duplicates on
// (indicator_id, date).
func (s *Store) InsertMacro(ctx context.Context, rows []market.MacroRow) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO macro (indicator_id, date, value, has_value, is_interpolated, is_forward_filled)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	inserted := 0
	for _, r := range rows {
		var value interface{}
		hasValue := 0
		if r.Value != nil {
			value = *r.Value
			hasValue = 1
		}
		res, err := stmt.ExecContext(ctx, r.IndicatorID, r.Date, value, hasValue, boolToInt(r.IsInterpolated), boolToInt(r.IsForwardFilled))
		if err != nil {
			return 0, err
		}
		n, _ := res.RowsAffected()
		inserted += int(n)
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return inserted, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// LatestTimestamp returns the max stored timestamp_ms for assetID, or nil
// if no rows exist.
func (s *Store) LatestTimestamp(ctx context.Context, assetID string) (*int64, error) {
	var ts sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(timestamp_ms) FROM ohlc WHERE asset_id = ?`, assetID).Scan(&ts)
	if err != nil {
		return nil, err
	}
	if !ts.Valid {
		return nil, nil
	}
	v := ts.Int64
	return &v, nil
}

// LatestDate returns the max stored date for indicatorID, or nil if no
// rows exist.
func (s *Store) LatestDate(ctx context.Context, indicatorID string) (*string, error) {
	var d sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT MAX(date) FROM macro WHERE indicator_id = ?`, indicatorID).Scan(&d)
	if err != nil {
		return nil, err
	}
	if !d.Valid {
		return nil, nil
	}
	v := d.String
	return &v, nil
}

// ReadOHLCWindow returns rows for assetID with timestamp >= now - days,
// sorted ascending by timestamp. now is the caller's reference time, not
// recomputed here, so a multi-asset/indicator read (ReadMarketBundle)
// can share one consistent window boundary across every call.
func (s *Store) ReadOHLCWindow(ctx context.Context, assetID string, now time.Time, days int) ([]market.OHLCRow, error) {
	cutoff := now.UTC().AddDate(0, 0, -days).UnixMilli()
	rows, err := s.db.QueryContext(ctx, `
		SELECT asset_id, timestamp_ms, date, open, high, low, close, volume
		FROM ohlc WHERE asset_id = ? AND timestamp_ms >= ?
		ORDER BY timestamp_ms ASC`, assetID, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []market.OHLCRow
	for rows.Next() {
		var r market.OHLCRow
		if err := rows.Scan(&r.AssetID, &r.TimestampMS, &r.Date, &r.Open, &r.High, &r.Low, &r.Close, &r.Volume); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// readMacroWindow returns macro rows for indicatorID with date >=
// now - days, sorted ascending by date. now is the caller's reference
// time, shared with ReadOHLCWindow within one ReadMarketBundle call.
func (s *Store) readMacroWindow(ctx context.Context, indicatorID string, now time.Time, days int) ([]market.MacroRow, error) {
	cutoff := now.UTC().AddDate(0, 0, -days).Format("2006-01-02")
	rows, err := s.db.QueryContext(ctx, `
		SELECT indicator_id, date, value, has_value, is_interpolated, is_forward_filled
		FROM macro WHERE indicator_id = ? AND date >= ?
		ORDER BY date ASC`, indicatorID, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []market.MacroRow
	for rows.Next() {
		var r market.MacroRow
		var value sql.NullFloat64
		var hasValue, isInterp, isFF int
		if err := rows.Scan(&r.IndicatorID, &r.Date, &value, &hasValue, &isInterp, &isFF); err != nil {
			return nil, err
		}
		if hasValue == 1 && value.Valid {
			v := value.Float64
			r.Value = &v
		}
		r.IsInterpolated = isInterp == 1
		r.IsForwardFilled = isFF == 1
		out = append(out, r)
	}
	return out, rows.Err()
}

// ReadMarketBundle computes a single consistent "now" so every asset and
// indicator shares the same window boundary.
func (s *Store) ReadMarketBundle(ctx context.Context, assetIDs []string, indicatorIDs []string, days int) (market.Bundle, error) {
	now := time.Now().UTC()
	bundle := market.Bundle{
		Now:   now,
		OHLC:  make(map[string][]market.OHLCRow, len(assetIDs)),
		Macro: make(map[string][]market.MacroRow, len(indicatorIDs)),
	}
	for _, assetID := range assetIDs {
		rows, err := s.ReadOHLCWindow(ctx, assetID, now, days)
		if err != nil {
			return market.Bundle{}, err
		}
		bundle.OHLC[assetID] = rows
	}
	for _, indicatorID := range indicatorIDs {
		rows, err := s.readMacroWindow(ctx, indicatorID, now, days)
		if err != nil {
			return market.Bundle{}, err
		}
		bundle.Macro[indicatorID] = rows
	}
	return bundle, nil
}

// HealthSnapshot reports per-asset and per-indicator row counts and
// latest dates, plus the on-disk file size.
func (s *Store) HealthSnapshot(ctx context.Context) (store.HealthSnapshot, error) {
	snap := store.HealthSnapshot{
		OHLCRowCounts:   make(map[string]int),
		OHLCLatestDate:  make(map[string]string),
		MacroRowCounts:  make(map[string]int),
		MacroLatestDate: make(map[string]string),
	}

	rows, err := s.db.QueryContext(ctx, `SELECT asset_id, COUNT(*), MAX(date) FROM ohlc GROUP BY asset_id`)
	if err != nil {
		return store.HealthSnapshot{}, err
	}
	for rows.Next() {
		var id, maxDate string
		var n int
		if err := rows.Scan(&id, &n, &maxDate); err != nil {
			rows.Close()
			return store.HealthSnapshot{}, err
		}
		snap.OHLCRowCounts[id] = n
		snap.OHLCLatestDate[id] = maxDate
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return store.HealthSnapshot{}, err
	}

	mrows, err := s.db.QueryContext(ctx, `SELECT indicator_id, COUNT(*), MAX(date) FROM macro GROUP BY indicator_id`)
	if err != nil {
		return store.HealthSnapshot{}, err
	}
	for mrows.Next() {
		var id, maxDate string
		var n int
		if err := mrows.Scan(&id, &n, &maxDate); err != nil {
			mrows.Close()
			return store.HealthSnapshot{}, err
		}
		snap.MacroRowCounts[id] = n
		snap.MacroLatestDate[id] = maxDate
	}
	mrows.Close()
	if err := mrows.Err(); err != nil {
		return store.HealthSnapshot{}, err
	}

	if info, statErr := os.Stat(s.path); statErr == nil {
		snap.FootprintBytes = info.Size()
	}
	return snap, nil
}
