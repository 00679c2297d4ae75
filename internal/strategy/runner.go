package strategy

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/arduino-trader/internal/market"
	"github.com/aristath/arduino-trader/internal/signal"
)

// MarketReader is the narrow Store surface the runner needs: a single
// windowed bundle read covering every loaded strategy's declared assets.
type MarketReader interface {
	ReadMarketBundle(ctx context.Context, assetIDs []string, indicatorIDs []string, days int) (market.Bundle, error)
}

// Runner executes the registry's loaded strategies against one market
// data bundle per invocation. It shares no mutable state across
// invocations: every Run call re-reads the bundle and re-invokes each
// strategy fresh.
type Runner struct {
	strategies  map[string]Strategy
	windowDays  int
	perCallTimeout time.Duration
	log         zerolog.Logger
}

// NewRunner builds a Runner over the given loaded strategies.
func NewRunner(strategies map[string]Strategy, windowDays int, perCallTimeout time.Duration, log zerolog.Logger) *Runner {
	return &Runner{
		strategies:     strategies,
		windowDays:     windowDays,
		perCallTimeout: perCallTimeout,
		log:            log.With().Str("component", "strategy_runner").Logger(),
	}
}

// Run unions the declared assets across loaded strategies, reads one
// market bundle, analyzes and generates signals in isolation per
// strategy, and returns the per-strategy signal lists. Ordering across
// strategies is unspecified and the map iteration here does not
// guarantee one; strategies must not observe each other's state.
func (r *Runner) Run(ctx context.Context, reader MarketReader) map[string][]signal.Signal {
	assetSet := map[string]struct{}{}
	for _, s := range r.strategies {
		for _, a := range s.DeclaredAssets() {
			assetSet[a] = struct{}{}
		}
	}
	assets := make([]string, 0, len(assetSet))
	for a := range assetSet {
		assets = append(assets, a)
	}

	bundle, err := reader.ReadMarketBundle(ctx, assets, nil, r.windowDays)
	if err != nil {
		r.log.Error().Err(err).Msg("failed to read market bundle, skipping this run")
		return map[string][]signal.Signal{}
	}

	results := make(map[string][]signal.Signal, len(r.strategies))
	for name, s := range r.strategies {
		results[name] = r.runOne(ctx, name, s, bundle)
	}
	return results
}

// runOne calls Analyze then GenerateSignals for one strategy, isolating
// both panics and context-deadline timeouts: any failure yields an empty
// signal list for that strategy and is logged, never propagated to the
// other strategies or to the caller.
func (r *Runner) runOne(ctx context.Context, name string, s Strategy, bundle market.Bundle) (signals []signal.Signal) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error().Str("strategy", name).Interface("panic", rec).Msg("strategy panicked, isolating")
			signals = nil
		}
	}()

	callCtx, cancel := context.WithTimeout(ctx, r.perCallTimeout)
	defer cancel()

	done := make(chan struct{})
	var generated []signal.Signal
	var runErr error
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				runErr = fmt.Errorf("panic in Analyze or GenerateSignals: %v", rec)
			}
			close(done)
		}()
		analysis, err := s.Analyze(bundle)
		if err != nil {
			runErr = err
			return
		}
		generated = s.GenerateSignals(analysis)
	}()

	select {
	case <-done:
	case <-callCtx.Done():
		r.log.Error().Str("strategy", name).Msg("strategy timed out, isolating")
		return nil
	}

	if runErr != nil {
		r.log.Error().Err(runErr).Str("strategy", name).Msg("strategy failed, isolating")
		return nil
	}

	return generated
}
