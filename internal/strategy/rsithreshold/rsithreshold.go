// Package rsithreshold provides an illustrative reference strategy
// exercising the registry/runner/aggregator/alert chain end-to-end. It
// is not an authoritative trading strategy, just a minimal real
// implementation to exercise the rest of the core, built on
// pkg/formulas (RSI via go-talib, dispersion via gonum/stat).
package rsithreshold

import (
	"fmt"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/aristath/arduino-trader/internal/market"
	"github.com/aristath/arduino-trader/internal/signal"
	"github.com/aristath/arduino-trader/internal/strategy"
	"github.com/aristath/arduino-trader/pkg/formulas"
)

const Name = "rsi_threshold"

func init() {
	strategy.Register(Name, func() strategy.Strategy { return &Strategy{} })
}

// Strategy emits LONG when RSI falls below its oversold band, SHORT when
// it rises above its overbought band, and HOLD otherwise, for each
// configured asset. Confidence scales with how far RSI has moved past
// the band edge. The emitted analysis carries a volatility percentile
// rank (return dispersion percentile among the window) the Alert
// Builder reads to decide whether a signal crosses its alert threshold.
type Strategy struct {
	assets     []string
	period     int
	oversold   float64
	overbought float64
	positionSize float64
}

// Analysis is the opaque per-asset result handed from Analyze to
// GenerateSignals.
type Analysis struct {
	PerAsset map[string]assetAnalysis
}

type assetAnalysis struct {
	ok                   bool
	latestRSI            float64
	latestClose          float64
	latestTS             int64
	latestDispersion     float64
	percentileRank       float64
	annualizedVolatility float64
}

// Configure reads the strategy's assets, RSI period, and threshold bands
// from its configuration document. Unset fields fall back to defaults.
func (s *Strategy) Configure(doc strategy.ConfigDocument) error {
	s.period = 14
	s.oversold = 30
	s.overbought = 70
	s.positionSize = 0.1

	if v, ok := doc["assets"].([]string); ok {
		s.assets = v
	} else if v, ok := doc["assets"].([]interface{}); ok {
		for _, a := range v {
			if str, ok := a.(string); ok {
				s.assets = append(s.assets, str)
			}
		}
	}
	if len(s.assets) == 0 {
		return fmt.Errorf("rsi_threshold: at least one asset is required")
	}

	if v, ok := doc["period"].(int); ok {
		s.period = v
	}
	if v, ok := doc["oversold"].(float64); ok {
		s.oversold = v
	}
	if v, ok := doc["overbought"].(float64); ok {
		s.overbought = v
	}
	if v, ok := doc["position_size"].(float64); ok {
		s.positionSize = v
	}
	return nil
}

// DeclaredAssets reports which assets this strategy will read from the
// bundle.
func (s *Strategy) DeclaredAssets() []string {
	return s.assets
}

// Analyze computes the latest RSI and a volatility-percentile rank for
// each declared asset over the bundle's window. Window semantics live in
// the strategy, not the scheduler.
func (s *Strategy) Analyze(bundle market.Bundle) (interface{}, error) {
	result := Analysis{PerAsset: make(map[string]assetAnalysis, len(s.assets))}
	for _, asset := range s.assets {
		rows := bundle.OHLC[asset]
		if len(rows) < s.period+1 {
			result.PerAsset[asset] = assetAnalysis{ok: false}
			continue
		}
		closes := make([]float64, len(rows))
		for i, r := range rows {
			closes[i] = r.Close
		}
		rsi := formulas.CalculateRSI(closes, s.period)
		if rsi == nil {
			result.PerAsset[asset] = assetAnalysis{ok: false}
			continue
		}

		returns := formulas.CalculateReturns(closes)
		absReturns := make([]float64, len(returns))
		for i, r := range returns {
			if r < 0 {
				r = -r
			}
			absReturns[i] = r
		}
		latestDispersion := 0.0
		if len(absReturns) > 0 {
			latestDispersion = absReturns[len(absReturns)-1]
		}
		percentile := percentileRank(absReturns, latestDispersion)

		result.PerAsset[asset] = assetAnalysis{
			ok:                   true,
			latestRSI:            *rsi,
			latestClose:          rows[len(rows)-1].Close,
			latestTS:             rows[len(rows)-1].TimestampMS,
			latestDispersion:     latestDispersion,
			percentileRank:       percentile,
			annualizedVolatility: formulas.AnnualizedVolatility(returns),
		}
	}
	return result, nil
}

// GenerateSignals turns the per-asset analysis into trading signals.
func (s *Strategy) GenerateSignals(raw interface{}) []signal.Signal {
	analysis, ok := raw.(Analysis)
	if !ok {
		return nil
	}

	now := time.Now().UTC().UnixMilli()
	var out []signal.Signal
	for asset, a := range analysis.PerAsset {
		if !a.ok {
			continue
		}

		dir := signal.Hold
		confidence := 0.3
		strength := signal.Weak
		switch {
		case a.latestRSI <= s.oversold:
			dir = signal.Long
			confidence = clamp01(0.5 + (s.oversold-a.latestRSI)/s.oversold)
		case a.latestRSI >= s.overbought:
			dir = signal.Short
			confidence = clamp01(0.5 + (a.latestRSI-s.overbought)/(100-s.overbought))
		}
		switch {
		case confidence >= 0.85:
			strength = signal.Strong
		case confidence >= 0.6:
			strength = signal.Moderate
		}

		ts := a.latestTS
		if ts == 0 {
			ts = now
		}

		out = append(out, signal.Signal{
			AssetID:        asset,
			Direction:      dir,
			TimestampMS:    ts,
			ReferencePrice: a.latestClose,
			StrategyName:   Name,
			Strength:       strength,
			Confidence:     confidence,
			PositionSize:   s.positionSize,
			Analysis: map[string]interface{}{
				"rsi":                   a.latestRSI,
				"metric_value":          a.latestDispersion,
				"percentile_rank":       a.percentileRank,
				"annualized_volatility": a.annualizedVolatility,
			},
		})
	}
	return out
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// percentileRank returns the percentage of samples in data that are <=
// value, using gonum/stat's empirical CDF.
func percentileRank(data []float64, value float64) float64 {
	if len(data) == 0 {
		return 0
	}
	sorted := make([]float64, len(data))
	copy(sorted, data)
	sortFloats(sorted)
	return stat.CDF(value, stat.Empirical, sorted, nil) * 100
}

func sortFloats(data []float64) {
	for i := 1; i < len(data); i++ {
		for j := i; j > 0 && data[j-1] > data[j]; j-- {
			data[j-1], data[j] = data[j], data[j-1]
		}
	}
}
