// Package store defines the narrow Store contract the core depends on.
// Package sqlitestore provides a reference implementation so the
// scheduler and its tests can run end-to-end.
package store

import (
	"context"
	"time"

	"github.com/aristath/arduino-trader/internal/market"
)

// HealthSnapshot reports per-asset/indicator row counts and the overall
// on-disk footprint.
type HealthSnapshot struct {
	OHLCRowCounts   map[string]int
	OHLCLatestDate  map[string]string
	MacroRowCounts  map[string]int
	MacroLatestDate map[string]string
	FootprintBytes  int64
}

// Store is the append-only time-series persistence contract. Inserts are
// idempotent (duplicate keys are silently skipped); reads never block
// writers for more than one batch.
type Store interface {
	InsertOHLC(ctx context.Context, rows []market.OHLCRow) (inserted int, err error)
	InsertMacro(ctx context.Context, rows []market.MacroRow) (inserted int, err error)

	LatestTimestamp(ctx context.Context, assetID string) (*int64, error)
	LatestDate(ctx context.Context, indicatorID string) (*string, error)

	ReadOHLCWindow(ctx context.Context, assetID string, now time.Time, days int) ([]market.OHLCRow, error)
	ReadMarketBundle(ctx context.Context, assetIDs []string, indicatorIDs []string, days int) (market.Bundle, error)

	HealthSnapshot(ctx context.Context) (HealthSnapshot, error)

	Close() error
}
