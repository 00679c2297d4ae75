// Package collector adapts upstream price/macro providers into the
// canonical row shapes the Store persists. Concrete HTTP clients for
// upstream providers plug in via the PriceProvider/MacroProvider
// interfaces; this package defines the narrow interface the core
// consumes and the translation/validation/error-classification logic
// around it.
package collector

import (
	"context"
	"time"

	"github.com/aristath/arduino-trader/internal/coreerr"
	"github.com/aristath/arduino-trader/internal/market"
)

// Result is the terse outcome of one collector invocation, reported
// verbatim to the scheduler for retry/failure-budget decisions.
type Result struct {
	Success          bool
	RecordsCollected int
	ErrKind          coreerr.Kind
	ErrDetail        string
	RetryAfter       time.Duration // advisory wait before the scheduler's next attempt, set on rate_limit
}

// Collector fetches rows for one identifier over a lookback window and
// hands surviving rows to the Store. It performs at most one upstream
// call per invocation; retries are the scheduler's responsibility.
type Collector interface {
	Collect(ctx context.Context, id string, days int) Result
}

// PriceProvider is the narrow interface onto the upstream crypto price
// feed: given an asset id and a lookback window, return OHLC candles,
// each carrying its volume. Volume is optional and defaults to 0.
type PriceProvider interface {
	GetOHLC(ctx context.Context, assetID string, days int) ([]PriceBar, error)
}

// PriceBar is one upstream OHLC observation before translation/validation.
type PriceBar struct {
	TimestampMS int64
	Open        float64
	High        float64
	Low         float64
	Close       float64
	Volume      float64 // 0 if the provider didn't report volume
}

// MacroProvider is the narrow interface onto the upstream macro feed:
// given a series id and a date range, return daily observations. A
// missing value is represented as a nil *float64, never a zero.
type MacroProvider interface {
	GetSeries(ctx context.Context, seriesID string, startDate, endDate string) ([]MacroPoint, error)
}

// MacroPoint is one upstream macro observation before translation.
type MacroPoint struct {
	Date  string
	Value *float64
}

// Store is the narrow write surface a collector needs (the full Store
// contract lives in package store; this avoids an import cycle and
// documents exactly what collectors depend on).
type Store interface {
	InsertOHLC(ctx context.Context, rows []market.OHLCRow) (int, error)
	InsertMacro(ctx context.Context, rows []market.MacroRow) (int, error)
}
