package aggregator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/arduino-trader/internal/signal"
)

func TestAggregate_AgreeingSignalsCombine(t *testing.T) {
	agg := New(Config{
		StrategyWeights: map[string]float64{"a": 0.6, "b": 0.4},
		ConfidenceFloor: 0.2,
		MaxPositionSize: 0.5,
	})

	input := map[string][]signal.Signal{
		"a": {{AssetID: "bitcoin", Direction: signal.Long, Confidence: 0.8, PositionSize: 0.2, ReferencePrice: 100, Strength: signal.Strong}},
		"b": {{AssetID: "bitcoin", Direction: signal.Long, Confidence: 0.6, PositionSize: 0.2, ReferencePrice: 110, Strength: signal.Weak}},
	}

	aggregated, original := agg.Aggregate(input)
	require.Len(t, original, 2)
	require.Contains(t, aggregated, "bitcoin")

	out := aggregated["bitcoin"]
	assert.Equal(t, signal.Long, out.Direction)
	assert.Equal(t, signal.Strong, out.Strength)
	assert.InDelta(t, 0.8*0.6+0.6*0.4, out.Confidence, 1e-9)
	assert.LessOrEqual(t, out.PositionSize, 0.5)
}

func TestAggregate_ConfidenceFloorDropsSignal(t *testing.T) {
	agg := New(Config{ConfidenceFloor: 0.5})
	input := map[string][]signal.Signal{
		"a": {{AssetID: "bitcoin", Direction: signal.Long, Confidence: 0.1, PositionSize: 0.1, ReferencePrice: 100}},
	}
	aggregated, original := agg.Aggregate(input)
	assert.Empty(t, original)
	assert.Empty(t, aggregated)
}

func TestAggregate_WeightedAverageConflictBelowFloorHolds(t *testing.T) {
	agg := New(Config{
		StrategyWeights: map[string]float64{"a": 0.5, "b": 0.5},
		ConfidenceFloor: 0.5,
		Resolution:      WeightedAverage,
	})
	input := map[string][]signal.Signal{
		"a": {{AssetID: "eth", Direction: signal.Long, Confidence: 0.55, PositionSize: 0.1, ReferencePrice: 100}},
		"b": {{AssetID: "eth", Direction: signal.Short, Confidence: 0.55, PositionSize: 0.1, ReferencePrice: 100}},
	}
	aggregated, _ := agg.Aggregate(input)
	out := aggregated["eth"]
	assert.Equal(t, signal.Hold, out.Direction)
}

func TestAggregate_WeightedAverageConflictAboveFloorPicksSide(t *testing.T) {
	agg := New(Config{
		StrategyWeights: map[string]float64{"a": 0.8, "b": 0.2},
		ConfidenceFloor: 0.1,
		Resolution:      WeightedAverage,
	})
	input := map[string][]signal.Signal{
		"a": {{AssetID: "eth", Direction: signal.Long, Confidence: 0.9, PositionSize: 0.1, ReferencePrice: 100}},
		"b": {{AssetID: "eth", Direction: signal.Short, Confidence: 0.9, PositionSize: 0.1, ReferencePrice: 100}},
	}
	aggregated, _ := agg.Aggregate(input)
	out := aggregated["eth"]
	assert.Equal(t, signal.Long, out.Direction)
	assert.Greater(t, out.Confidence, 0.0)
}

func TestAggregate_UnknownResolutionTreatedAsWeightedAverage(t *testing.T) {
	agg := New(Config{Resolution: "nonsense", ConfidenceFloor: 0.1})
	assert.Equal(t, WeightedAverage, agg.cfg.Resolution)
}
