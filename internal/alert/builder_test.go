package alert

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/arduino-trader/internal/clock"
	"github.com/aristath/arduino-trader/internal/signal"
)

func sigWithPercentile(asset string, dir signal.Direction, pct float64) signal.Signal {
	return signal.Signal{
		AssetID:        asset,
		Direction:      dir,
		ReferencePrice: 100,
		Confidence:     0.7,
		PositionSize:   0.1,
		Analysis:       map[string]interface{}{"percentile_rank": pct, "metric_value": pct / 100},
	}
}

func TestBuild_ClassifiesAndFiltersByWhitelist(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	b := NewBuilder("aggregate", 80, clk)

	signals := []signal.Signal{
		sigWithPercentile("bitcoin", signal.Long, 96),
		sigWithPercentile("bitcoin", signal.Long, 91),
		sigWithPercentile("bitcoin", signal.Long, 85),
		sigWithPercentile("ethereum", signal.Short, 99),
		sigWithPercentile("solana", signal.Long, 99), // not whitelisted
	}
	whitelist := map[string]bool{"bitcoin": true, "ethereum": true}

	records := b.Build(signals, whitelist)
	require.Len(t, records, 4)
	assert.Equal(t, StrongBuy, records[0].PositionDirection)
	assert.Equal(t, Buy, records[1].PositionDirection)
	assert.Equal(t, WeakBuy, records[2].PositionDirection)
	assert.Equal(t, StrongSell, records[3].PositionDirection)
}

func TestBuild_MetricValueDistinctFromPercentileRank(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	b := NewBuilder("aggregate", 80, clk)
	signals := []signal.Signal{sigWithPercentile("bitcoin", signal.Long, 96)}

	records := b.Build(signals, map[string]bool{"bitcoin": true})
	require.Len(t, records, 1)
	assert.Equal(t, 96.0, records[0].PercentileRank)
	assert.Equal(t, 0.96, records[0].MetricValue)
	assert.NotEqual(t, records[0].MetricValue, records[0].PercentileRank)
}

func TestBuild_BelowThresholdDropped(t *testing.T) {
	clk := clock.NewFake(time.Now())
	b := NewBuilder("aggregate", 90, clk)
	signals := []signal.Signal{sigWithPercentile("bitcoin", signal.Long, 50)}
	records := b.Build(signals, map[string]bool{"bitcoin": true})
	assert.Empty(t, records)
}

func TestBuild_MissingPercentileDropped(t *testing.T) {
	clk := clock.NewFake(time.Now())
	b := NewBuilder("aggregate", 0, clk)
	signals := []signal.Signal{{AssetID: "bitcoin", Direction: signal.Long}}
	records := b.Build(signals, map[string]bool{"bitcoin": true})
	assert.Empty(t, records)
}

func TestBuild_HoldClassifiedAsHold(t *testing.T) {
	clk := clock.NewFake(time.Now())
	b := NewBuilder("aggregate", 0, clk)
	signals := []signal.Signal{sigWithPercentile("bitcoin", signal.Hold, 99)}
	records := b.Build(signals, map[string]bool{"bitcoin": true})
	require.Len(t, records, 1)
	assert.Equal(t, Hold, records[0].PositionDirection)
}
