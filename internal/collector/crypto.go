package collector

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/arduino-trader/internal/coreerr"
	"github.com/aristath/arduino-trader/internal/market"
)

// CryptoCollector fetches OHLC candles for one crypto asset per
// invocation and persists validated rows to the Store.
type CryptoCollector struct {
	provider PriceProvider
	store    Store
	log      zerolog.Logger
}

// NewCryptoCollector builds a collector bound to one upstream price
// provider and the Store.
func NewCryptoCollector(provider PriceProvider, store Store, log zerolog.Logger) *CryptoCollector {
	return &CryptoCollector{
		provider: provider,
		store:    store,
		log:      log.With().Str("collector", "crypto").Logger(),
	}
}

// Collect fetches and persists OHLC rows for assetID over the last days.
func (c *CryptoCollector) Collect(ctx context.Context, assetID string, days int) Result {
	bars, err := c.provider.GetOHLC(ctx, assetID, days)
	if err != nil {
		ce := classifyProviderError(err)
		c.log.Warn().Err(err).Str("asset", assetID).Str("kind", string(ce.Kind)).Msg("upstream price fetch failed")
		return Result{ErrKind: ce.Kind, ErrDetail: ce.Detail, RetryAfter: ce.RetryAfter}
	}

	rows := make([]market.OHLCRow, 0, len(bars))
	dropped := 0
	for _, bar := range bars {
		row := market.OHLCRow{
			AssetID:     assetID,
			TimestampMS: bar.TimestampMS,
			Date:        market.DateFromTimestampMS(bar.TimestampMS),
			Open:        bar.Open,
			High:        bar.High,
			Low:         bar.Low,
			Close:       bar.Close,
			Volume:      bar.Volume,
		}
		if !row.Valid() {
			dropped++
			continue
		}
		rows = append(rows, row)
	}

	if len(bars) > 0 && len(rows) == 0 {
		return Result{ErrKind: coreerr.Validation, ErrDetail: fmt.Sprintf("all %d rows failed invariants", len(bars))}
	}

	inserted, err := c.store.InsertOHLC(ctx, rows)
	if err != nil {
		return Result{ErrKind: coreerr.Storage, ErrDetail: err.Error()}
	}

	if dropped > 0 {
		c.log.Warn().Str("asset", assetID).Int("dropped", dropped).Msg("rows failed invariants and were dropped")
	}

	return Result{Success: true, RecordsCollected: inserted}
}

// classifyProviderError maps a provider-returned error into the core
// taxonomy. If the provider already returns a *coreerr.CoreError (e.g.
// from a test double), that classification is used as-is.
func classifyProviderError(err error) *coreerr.CoreError {
	if ce, ok := coreerr.As(err); ok {
		return ce
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return coreerr.New(coreerr.Network, "upstream call timed out or was canceled", err)
	}
	return coreerr.New(coreerr.Unexpected, "unclassified provider error", err)
}
