package alert

import (
	"github.com/google/uuid"

	"github.com/aristath/arduino-trader/internal/clock"
	"github.com/aristath/arduino-trader/internal/signal"
)

// Builder turns signals into alert records, applying the asset
// whitelist, a configured percentile threshold, and the
// direction/percentile → PositionDirection mapping.
type Builder struct {
	kind      string
	threshold float64
	clk       clock.Clock
}

// NewBuilder returns a Builder tagging every record it produces with
// kind (e.g. "aggregate" or a strategy name). threshold is the minimum
// percentile_rank a signal's metric must reach to produce an alert at
// all; the direction/percentile mapping table below is applied
// independently to choose the alert's conviction tier.
func NewBuilder(kind string, threshold float64, clk clock.Clock) *Builder {
	return &Builder{kind: kind, threshold: threshold, clk: clk}
}

// Build emits one Record per signal that names a whitelisted asset,
// carries a percentile_rank metric in its Analysis payload, and meets
// the configured percentile threshold. Signals failing any of these
// produce no record.
func (b *Builder) Build(signals []signal.Signal, whitelist map[string]bool) []Record {
	now := b.clk.Now()
	var out []Record
	for _, s := range signals {
		if !whitelist[s.AssetID] {
			continue
		}
		percentile, ok := s.PercentileRank()
		if !ok || percentile < b.threshold {
			continue
		}
		metricValue, _ := s.MetricValue() // 0 if the strategy didn't report a raw metric

		dir := classify(s.Direction, percentile)

		out = append(out, Record{
			ID:                uuid.NewString(),
			Kind:              b.kind,
			AssetID:           s.AssetID,
			GeneratedAt:       now,
			CurrentPrice:      s.ReferencePrice,
			MetricValue:       metricValue,
			ThresholdValue:    b.threshold,
			PercentileRank:    percentile,
			SourceDirection:   string(s.Direction),
			PositionDirection: dir,
			ThresholdExceeded: true,
		})
	}
	return out
}

// classify maps (direction, percentile) to a PositionDirection per the
// conviction-tier table: LONG ≥95 STRONG_BUY, ≥90 BUY, else WEAK_BUY;
// SHORT ≥98 STRONG_SELL, ≥95 SELL, else WEAK_SELL; HOLD always HOLD.
func classify(dir signal.Direction, percentile float64) PositionDirection {
	switch dir {
	case signal.Long:
		switch {
		case percentile >= 95:
			return StrongBuy
		case percentile >= 90:
			return Buy
		default:
			return WeakBuy
		}
	case signal.Short:
		switch {
		case percentile >= 98:
			return StrongSell
		case percentile >= 95:
			return Sell
		default:
			return WeakSell
		}
	default:
		return Hold
	}
}
