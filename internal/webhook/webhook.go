// Package webhook dispatches signal and alert payloads to configured
// HTTP sinks, applying per-sink filters and a rate limit.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/rs/zerolog"

	"github.com/aristath/arduino-trader/internal/signal"
)

// SinkConfig describes one webhook destination.
type SinkConfig struct {
	Name            string
	URL             string
	MinConfidence   float64
	MinStrength     signal.Strength
	AllowedAssets   map[string]bool // empty/nil means all assets allowed
	RateLimitWindow time.Duration   // minimum seconds between successive deliveries
}

// Sink holds one destination's live dispatch state: its rate limiter
// and failure counter. The limiter's token is advanced only on
// confirmed delivery success.
type Sink struct {
	cfg      SinkConfig
	limiter  *rate.Limiter
	mu       sync.Mutex
	failures int
	lastSent time.Time
}

func newSink(cfg SinkConfig) *Sink {
	window := cfg.RateLimitWindow
	if window <= 0 {
		window = time.Second
	}
	return &Sink{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Every(window), 1),
	}
}

func strengthRank(s signal.Strength) int {
	switch s {
	case signal.Strong:
		return 3
	case signal.Moderate:
		return 2
	default:
		return 1
	}
}

// passesFilters reports whether s clears this sink's confidence,
// strength, and asset-whitelist filters.
func (sink *Sink) passesFilters(s signal.Signal) bool {
	if s.Confidence < sink.cfg.MinConfidence {
		return false
	}
	if strengthRank(s.Strength) < strengthRank(sink.cfg.MinStrength) {
		return false
	}
	if len(sink.cfg.AllowedAssets) > 0 && !sink.cfg.AllowedAssets[s.AssetID] {
		return false
	}
	return true
}

// Failures returns the sink's lifetime count of failed deliveries.
func (sink *Sink) Failures() int {
	sink.mu.Lock()
	defer sink.mu.Unlock()
	return sink.failures
}

// LastSent returns the timestamp of the sink's last confirmed delivery.
func (sink *Sink) LastSent() time.Time {
	sink.mu.Lock()
	defer sink.mu.Unlock()
	return sink.lastSent
}

// Restore seeds a sink's last-sent timestamp from a persisted snapshot,
// so the rate limiter's window carries across a restart instead of
// resetting.
func (sink *Sink) Restore(lastSent time.Time) {
	sink.mu.Lock()
	sink.lastSent = lastSent
	sink.mu.Unlock()
	if !lastSent.IsZero() {
		// Spend the token at the restored send time, so the next
		// delivery is allowed only once the window has elapsed since it.
		sink.limiter.ReserveN(lastSent, 1)
	}
}

// Dispatcher owns the aggregate sink and the per-strategy sinks and
// performs one bounded HTTP POST per delivery.
type Dispatcher struct {
	client       *http.Client
	aggregate    *Sink
	perStrategy  map[string]*Sink
	log          zerolog.Logger
}

// NewDispatcher builds a Dispatcher. aggregateCfg may be the zero value
// (URL == "") to disable the aggregate channel; perStrategyCfgs maps
// strategy name to sink config for the per-strategy channel.
func NewDispatcher(aggregateCfg SinkConfig, perStrategyCfgs map[string]SinkConfig, sendTimeout time.Duration, log zerolog.Logger) *Dispatcher {
	d := &Dispatcher{
		client:      &http.Client{Timeout: sendTimeout},
		perStrategy: make(map[string]*Sink, len(perStrategyCfgs)),
		log:         log.With().Str("component", "webhook_dispatcher").Logger(),
	}
	if aggregateCfg.URL != "" {
		d.aggregate = newSink(aggregateCfg)
	}
	for name, cfg := range perStrategyCfgs {
		if cfg.URL != "" {
			d.perStrategy[name] = newSink(cfg)
		}
	}
	return d
}

// Snapshot returns each configured sink's last-confirmed-delivery
// timestamp, keyed by sink name, for persistence across restarts.
func (d *Dispatcher) Snapshot() map[string]time.Time {
	out := make(map[string]time.Time, len(d.perStrategy)+1)
	if d.aggregate != nil {
		out[d.aggregate.cfg.Name] = d.aggregate.LastSent()
	}
	for name, sink := range d.perStrategy {
		out[name] = sink.LastSent()
	}
	return out
}

// Restore seeds each configured sink's last-sent timestamp from a
// persisted snapshot, keyed by sink name. Unknown keys are ignored.
func (d *Dispatcher) Restore(lastSent map[string]time.Time) {
	if d.aggregate != nil {
		if ts, ok := lastSent[d.aggregate.cfg.Name]; ok {
			d.aggregate.Restore(ts)
		}
	}
	for name, sink := range d.perStrategy {
		if ts, ok := lastSent[name]; ok {
			sink.Restore(ts)
		}
	}
}

// DispatchAggregate sends the aggregated alert-worthy signals to the
// single aggregate sink, if configured.
func (d *Dispatcher) DispatchAggregate(ctx context.Context, signals []signal.Signal) {
	if d.aggregate == nil {
		return
	}
	d.dispatchToSink(ctx, d.aggregate, signals)
}

// DispatchPerStrategy sends each strategy's own signals to that
// strategy's sink, if configured.
func (d *Dispatcher) DispatchPerStrategy(ctx context.Context, strategySignals map[string][]signal.Signal) {
	for name, sigs := range strategySignals {
		sink, ok := d.perStrategy[name]
		if !ok {
			continue
		}
		d.dispatchToSink(ctx, sink, sigs)
	}
}

func (d *Dispatcher) dispatchToSink(ctx context.Context, sink *Sink, signals []signal.Signal) {
	for _, s := range signals {
		if !sink.passesFilters(s) {
			d.log.Debug().Str("sink", sink.cfg.Name).Str("asset", s.AssetID).Msg("signal suppressed by sink filters")
			continue
		}

		// Reserve a token without yet spending it: if the window hasn't
		// elapsed, cancel the reservation immediately and suppress. If
		// it has, hold the reservation through the send attempt and
		// only let it stick on success, so a failed delivery doesn't
		// burn the window.
		res := sink.limiter.Reserve()
		if !res.OK() {
			d.log.Warn().Str("sink", sink.cfg.Name).Msg("rate limiter cannot reserve a token for this sink")
			continue
		}
		if delay := res.Delay(); delay > 0 {
			res.Cancel()
			d.log.Debug().Str("sink", sink.cfg.Name).Str("asset", s.AssetID).Msg("signal suppressed by rate limit")
			continue
		}

		if err := d.send(ctx, sink, s); err != nil {
			res.Cancel()
			sink.mu.Lock()
			sink.failures++
			sink.mu.Unlock()
			d.log.Warn().Err(err).Str("sink", sink.cfg.Name).Str("asset", s.AssetID).Msg("webhook delivery failed")
			continue
		}
		sink.mu.Lock()
		sink.lastSent = time.Now().UTC()
		sink.mu.Unlock()
	}
}

func (d *Dispatcher) send(ctx context.Context, sink *Sink, s signal.Signal) error {
	body, err := json.Marshal(signalPayload(s))
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sink.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook transport error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook non-2xx response: %d", resp.StatusCode)
	}
	return nil
}

func signalPayload(s signal.Signal) map[string]interface{} {
	payload := map[string]interface{}{
		"asset":         s.AssetID,
		"direction":     s.Direction,
		"timestamp":     s.TimestampMS,
		"price":         s.ReferencePrice,
		"strategy_name": s.StrategyName,
		"strength":      s.Strength,
		"confidence":    s.Confidence,
		"position_size": s.PositionSize,
	}
	if s.Analysis != nil {
		payload["analysis"] = s.Analysis
	}
	if names, ok := s.Analysis["contributing_strategies"]; ok {
		payload["strategy_list"] = names
	}
	return payload
}
