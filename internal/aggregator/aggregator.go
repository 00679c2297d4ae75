// Package aggregator combines multiple strategies' per-asset signals
// into a single aggregated signal per asset, following configurable
// per-strategy weights and a conflict-resolution rule.
package aggregator

import (
	"gonum.org/v1/gonum/stat"

	"github.com/aristath/arduino-trader/internal/signal"
)

// Resolution names a conflict-resolution strategy for disagreeing
// directional signals within one asset group.
type Resolution string

const (
	WeightedAverage   Resolution = "weighted_average"
	Majority          Resolution = "majority"
	HighestConfidence Resolution = "highest_confidence"
)

// Config holds the aggregator's tunables.
type Config struct {
	// StrategyWeights maps strategy name to its weight. Weights need
	// not sum to 1; they are renormalized over the contributors present
	// in each group.
	StrategyWeights map[string]float64
	Resolution      Resolution
	ConfidenceFloor float64
	MaxPositionSize float64
}

// Aggregator combines per-strategy signals into one aggregated signal
// per asset.
type Aggregator struct {
	cfg Config
}

// New builds an Aggregator. An unknown or empty Resolution is treated
// as WeightedAverage.
func New(cfg Config) *Aggregator {
	if cfg.Resolution != WeightedAverage && cfg.Resolution != Majority && cfg.Resolution != HighestConfidence {
		cfg.Resolution = WeightedAverage
	}
	return &Aggregator{cfg: cfg}
}

// Aggregate groups strategySignals by asset_id, drops signals below the
// confidence floor, and produces at most one aggregated signal per
// asset alongside the flattened original per-strategy signals (the
// latter preserved for per-strategy dispatch).
func (a *Aggregator) Aggregate(strategySignals map[string][]signal.Signal) (aggregated map[string]signal.Signal, original []signal.Signal) {
	groups := map[string][]signal.Signal{}
	for strategyName, sigs := range strategySignals {
		for _, s := range sigs {
			if s.Confidence < a.cfg.ConfidenceFloor {
				continue
			}
			s.StrategyName = strategyName
			groups[s.AssetID] = append(groups[s.AssetID], s)
			original = append(original, s)
		}
	}

	aggregated = make(map[string]signal.Signal, len(groups))
	for assetID, group := range groups {
		if len(group) == 0 {
			continue
		}
		aggregated[assetID] = a.aggregateGroup(assetID, group)
	}
	return aggregated, original
}

func (a *Aggregator) weightOf(strategyName string) float64 {
	if w, ok := a.cfg.StrategyWeights[strategyName]; ok {
		return w
	}
	return 1
}

// weightsFor returns each signal's configured strategy weight, in order.
// stat.Mean renormalizes internally, so these need not sum to 1. If every
// weight is zero (e.g. an all-zero StrategyWeights override), falls back
// to an unweighted (equal-weight) mean rather than dividing by zero.
func (a *Aggregator) weightsFor(group []signal.Signal) []float64 {
	weights := make([]float64, len(group))
	var total float64
	for i, s := range group {
		weights[i] = a.weightOf(s.StrategyName)
		total += weights[i]
	}
	if total == 0 {
		for i := range weights {
			weights[i] = 1
		}
	}
	return weights
}

func (a *Aggregator) aggregateGroup(assetID string, group []signal.Signal) signal.Signal {
	if agreeing, ok := allAgree(group); ok {
		return a.combineAgreeing(assetID, agreeing)
	}

	switch a.cfg.Resolution {
	case Majority:
		return a.resolveMajority(assetID, group)
	case HighestConfidence:
		return a.resolveHighestConfidence(assetID, group)
	default:
		return a.resolveWeightedAverage(assetID, group)
	}
}

// allAgree reports whether every non-HOLD signal in the group shares a
// direction; if so it returns the contributing (non-HOLD) signals.
func allAgree(group []signal.Signal) ([]signal.Signal, bool) {
	var nonHold []signal.Signal
	var dir signal.Direction
	for _, s := range group {
		if s.Direction == signal.Hold {
			continue
		}
		if dir == "" {
			dir = s.Direction
		} else if dir != s.Direction {
			return nil, false
		}
		nonHold = append(nonHold, s)
	}
	if len(nonHold) == 0 {
		return nil, false
	}
	return nonHold, true
}

func (a *Aggregator) combineAgreeing(assetID string, contributors []signal.Signal) signal.Signal {
	weights := a.weightsFor(contributors)

	confidences := make([]float64, len(contributors))
	prices := make([]float64, len(contributors))
	var positionSize float64
	var strength signal.Strength = signal.Weak
	var names []string
	var latestTS int64
	for i, s := range contributors {
		confidences[i] = s.Confidence
		prices[i] = s.ReferencePrice
		positionSize += s.PositionSize
		strength = signal.MaxStrength(strength, s.Strength)
		names = append(names, s.StrategyName)
		if s.TimestampMS > latestTS {
			latestTS = s.TimestampMS
		}
	}
	confidence := stat.Mean(confidences, weights)
	price := stat.Mean(prices, weights)
	if positionSize > a.cfg.MaxPositionSize && a.cfg.MaxPositionSize > 0 {
		positionSize = a.cfg.MaxPositionSize
	}

	return signal.Signal{
		AssetID:        assetID,
		Direction:      contributors[0].Direction,
		TimestampMS:    latestTS,
		ReferencePrice: price,
		StrategyName:   "aggregate",
		Strength:       strength,
		Confidence:     confidence,
		PositionSize:   positionSize,
		Analysis: map[string]interface{}{
			"contributing_strategies": names,
		},
	}
}

func (a *Aggregator) resolveWeightedAverage(assetID string, group []signal.Signal) signal.Signal {
	weights := a.weightsFor(group)

	signedConfidences := make([]float64, len(group))
	prices := make([]float64, len(group))
	var strength signal.Strength = signal.Weak
	var names []string
	var latestTS int64
	for i, s := range group {
		signedConfidences[i] = s.Confidence * s.Direction.Sign()
		prices[i] = s.ReferencePrice
		strength = signal.MaxStrength(strength, s.Strength)
		names = append(names, s.StrategyName)
		if s.TimestampMS > latestTS {
			latestTS = s.TimestampMS
		}
	}
	signed := stat.Mean(signedConfidences, weights)
	price := stat.Mean(prices, weights)

	dir := signal.Hold
	confidence := signed
	if confidence < 0 {
		confidence = -confidence
	}
	if confidence >= a.cfg.ConfidenceFloor {
		if signed > 0 {
			dir = signal.Long
		} else if signed < 0 {
			dir = signal.Short
		}
	} else {
		dir = signal.Hold
	}

	positionSize := a.averagePositionSize(group)

	return signal.Signal{
		AssetID:        assetID,
		Direction:      dir,
		TimestampMS:    latestTS,
		ReferencePrice: price,
		StrategyName:   "aggregate",
		Strength:       strength,
		Confidence:     confidence,
		PositionSize:   positionSize,
		Analysis: map[string]interface{}{
			"contributing_strategies": names,
			"resolution":              string(WeightedAverage),
		},
	}
}

func (a *Aggregator) resolveMajority(assetID string, group []signal.Signal) signal.Signal {
	counts := map[signal.Direction]int{}
	for _, s := range group {
		counts[s.Direction]++
	}
	winner := signal.Hold
	best := -1
	for dir, n := range counts {
		if n > best {
			best = n
			winner = dir
		}
	}

	var contributors []signal.Signal
	for _, s := range group {
		if s.Direction == winner {
			contributors = append(contributors, s)
		}
	}
	if winner == signal.Hold || len(contributors) == 0 {
		return a.holdSignal(assetID, group, "majority")
	}
	out := a.combineAgreeing(assetID, contributors)
	out.Analysis["resolution"] = string(Majority)
	return out
}

func (a *Aggregator) resolveHighestConfidence(assetID string, group []signal.Signal) signal.Signal {
	best := group[0]
	for _, s := range group[1:] {
		if s.Confidence > best.Confidence {
			best = s
		}
	}
	out := best
	out.AssetID = assetID
	out.StrategyName = "aggregate"
	names := make([]string, 0, len(group))
	for _, s := range group {
		names = append(names, s.StrategyName)
	}
	out.Analysis = map[string]interface{}{
		"contributing_strategies": names,
		"resolution":              string(HighestConfidence),
		"selected_strategy":       best.StrategyName,
	}
	return out
}

func (a *Aggregator) holdSignal(assetID string, group []signal.Signal, resolution string) signal.Signal {
	var price float64
	var latestTS int64
	names := make([]string, 0, len(group))
	for _, s := range group {
		price += s.ReferencePrice / float64(len(group))
		names = append(names, s.StrategyName)
		if s.TimestampMS > latestTS {
			latestTS = s.TimestampMS
		}
	}
	return signal.Signal{
		AssetID:        assetID,
		Direction:      signal.Hold,
		TimestampMS:    latestTS,
		ReferencePrice: price,
		StrategyName:   "aggregate",
		Strength:       signal.Weak,
		Confidence:     0,
		PositionSize:   0,
		Analysis: map[string]interface{}{
			"contributing_strategies": names,
			"resolution":              resolution,
		},
	}
}

func (a *Aggregator) averagePositionSize(group []signal.Signal) float64 {
	total := 0.0
	for _, s := range group {
		total += s.PositionSize
	}
	size := total / float64(len(group))
	if a.cfg.MaxPositionSize > 0 && size > a.cfg.MaxPositionSize {
		size = a.cfg.MaxPositionSize
	}
	return size
}
