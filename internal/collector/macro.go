package collector

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/arduino-trader/internal/coreerr"
	"github.com/aristath/arduino-trader/internal/market"
)

// MacroCollector fetches daily observations for one macro indicator per
// invocation and persists them to the Store. A missing observation is
// preserved as "no value", never synthesized as zero.
type MacroCollector struct {
	provider MacroProvider
	store    Store
	log      zerolog.Logger
}

// NewMacroCollector builds a collector bound to one upstream macro
// provider and the Store.
func NewMacroCollector(provider MacroProvider, store Store, log zerolog.Logger) *MacroCollector {
	return &MacroCollector{
		provider: provider,
		store:    store,
		log:      log.With().Str("collector", "macro").Logger(),
	}
}

// Collect fetches and persists macro rows for indicatorID over the last
// days, ending today (UTC).
func (c *MacroCollector) Collect(ctx context.Context, indicatorID string, days int) Result {
	end := time.Now().UTC()
	start := end.AddDate(0, 0, -days)
	points, err := c.provider.GetSeries(ctx, indicatorID, start.Format("2006-01-02"), end.Format("2006-01-02"))
	if err != nil {
		ce := classifyProviderError(err)
		c.log.Warn().Err(err).Str("indicator", indicatorID).Str("kind", string(ce.Kind)).Msg("upstream macro fetch failed")
		return Result{ErrKind: ce.Kind, ErrDetail: ce.Detail, RetryAfter: ce.RetryAfter}
	}

	rows := make([]market.MacroRow, 0, len(points))
	for _, p := range points {
		if p.Date == "" {
			continue
		}
		rows = append(rows, market.MacroRow{
			IndicatorID: indicatorID,
			Date:        p.Date,
			Value:       p.Value,
		})
	}

	if len(points) > 0 && len(rows) == 0 {
		return Result{ErrKind: coreerr.Validation, ErrDetail: fmt.Sprintf("all %d observations lacked a usable date", len(points))}
	}

	inserted, err := c.store.InsertMacro(ctx, rows)
	if err != nil {
		return Result{ErrKind: coreerr.Storage, ErrDetail: err.Error()}
	}

	return Result{Success: true, RecordsCollected: inserted}
}
