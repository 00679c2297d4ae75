// Package scheduler drives the single background worker that wakes on
// a fixed tick, selects due tasks, runs collectors tier by tier, and
// periodically runs the signal-generation pipeline.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/aristath/arduino-trader/internal/aggregator"
	"github.com/aristath/arduino-trader/internal/alert"
	"github.com/aristath/arduino-trader/internal/clock"
	"github.com/aristath/arduino-trader/internal/collector"
	"github.com/aristath/arduino-trader/internal/signal"
	"github.com/aristath/arduino-trader/internal/state"
	"github.com/aristath/arduino-trader/internal/strategy"
	"github.com/aristath/arduino-trader/internal/task"
	"github.com/aristath/arduino-trader/internal/webhook"
)

// MarketStore is the narrow surface the scheduler needs from the Store:
// writes via the registered collectors, reads via the strategy runner.
type MarketStore interface {
	collector.Store
	strategy.MarketReader
}

// Config holds the scheduler's tunables, plain values copied out of
// internal/config at wiring time so this package has no dependency on
// it.
type Config struct {
	TickInterval             time.Duration
	MaxRetriesPerTask        int
	UpstreamConcurrency      int
	CollectorTimeout         time.Duration
	SignalGenerationEnabled  bool
	SignalGenerationInterval time.Duration
	MarketDataWindowDays     int
	AlertGenerationEnabled   bool
	AlertWhitelist           map[string]bool
	MacroTimeOfDay           time.Duration
	ShutdownTimeout          time.Duration
	SignalPassTimeout        time.Duration
}

// Scheduler is the single top-level driver described by the component
// design: one tick loop, ordered tier execution, bounded retries, and a
// periodic signal-generation pass feeding the aggregator, alert
// builder, and webhook dispatcher.
type Scheduler struct {
	cfg Config
	clk clock.Clock

	registry   *task.Registry
	collectors map[task.Kind]collector.Collector
	store      MarketStore

	runner     *strategy.Runner
	aggregator *aggregator.Aggregator
	alertBuilder *alert.Builder
	alertWriter  *alert.Writer
	dispatcher   *webhook.Dispatcher

	stateStore *state.Store

	log zerolog.Logger

	cron *cron.Cron

	mu                sync.Mutex
	lastSignalRun     *time.Time
	totalUpstreamCall int64
	signalsGenerated  int64
	alertsGenerated   int64
	webhookAlertsSent int64
	collectionStats   map[task.Tier]state.TierStats

	tickMu sync.Mutex // serializes ticks; guards against overlap if a tick overruns
}

// New builds a Scheduler. Collectors maps task.Kind to the collector
// invoked for tasks of that kind.
func New(
	cfg Config,
	clk clock.Clock,
	registry *task.Registry,
	collectors map[task.Kind]collector.Collector,
	store MarketStore,
	runner *strategy.Runner,
	agg *aggregator.Aggregator,
	alertBuilder *alert.Builder,
	alertWriter *alert.Writer,
	dispatcher *webhook.Dispatcher,
	stateStore *state.Store,
	log zerolog.Logger,
) *Scheduler {
	return &Scheduler{
		cfg:             cfg,
		clk:             clk,
		registry:        registry,
		collectors:      collectors,
		store:           store,
		runner:          runner,
		aggregator:      agg,
		alertBuilder:    alertBuilder,
		alertWriter:     alertWriter,
		dispatcher:      dispatcher,
		stateStore:      stateStore,
		log:             log.With().Str("component", "scheduler").Logger(),
		cron:            cron.New(cron.WithSeconds()),
		collectionStats: make(map[task.Tier]state.TierStats),
	}
}

// LoadState reads the persisted snapshot (if any) and overlays it onto
// the task registry plus the scheduler's own cumulative counters.
func (s *Scheduler) LoadState() error {
	snap, err := s.stateStore.Load()
	if err != nil {
		s.log.Warn().Err(err).Msg("state snapshot unreadable, starting from defaults")
	}
	s.registry.Overlay(snap.ToOverlay())
	if s.dispatcher != nil {
		lastSent := make(map[string]time.Time, len(snap.Sinks))
		for name, sinkState := range snap.Sinks {
			lastSent[name] = sinkState.LastSent
		}
		s.dispatcher.Restore(lastSent)
	}
	s.mu.Lock()
	s.lastSignalRun = snap.LastSignalRun
	s.totalUpstreamCall = snap.TotalUpstreamCalls
	s.signalsGenerated = snap.SignalsGenerated
	s.alertsGenerated = snap.AlertsGenerated
	s.webhookAlertsSent = snap.WebhookAlertsSent
	s.collectionStats = make(map[task.Tier]state.TierStats, len(snap.CollectionStats))
	for tier, stats := range snap.CollectionStats {
		s.collectionStats[task.Tier(tier)] = stats
	}
	s.mu.Unlock()
	return nil
}

// Start registers the tick job and starts the cron driver. Cron runs
// each invocation on its own goroutine; runTick holds tickMu for the
// whole tick, so an invocation that fires while a long tick is still
// running waits for it to finish instead of overlapping it.
func (s *Scheduler) Start(ctx context.Context) error {
	spec := "@every " + s.cfg.TickInterval.String()
	_, err := s.cron.AddFunc(spec, func() {
		s.runTick(ctx)
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	s.log.Info().Str("interval", s.cfg.TickInterval.String()).Msg("scheduler started")
	return nil
}

// Stop halts the cron driver, waiting for any in-flight tick to finish,
// bounded by the configured shutdown timeout, then persists a final
// state snapshot.
func (s *Scheduler) Stop() {
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(s.cfg.ShutdownTimeout):
		s.log.Warn().Msg("shutdown timeout elapsed before in-flight tick finished")
	}
	if err := s.saveState(); err != nil {
		s.log.Error().Err(err).Msg("failed to persist final state snapshot")
	}
	s.log.Info().Msg("scheduler stopped")
}

// runTick performs one complete scheduling cycle: select due tasks,
// execute them tier by tier, optionally run the signal-generation
// pipeline, and persist the updated state snapshot.
func (s *Scheduler) runTick(ctx context.Context) {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	now := s.clk.Now()
	s.log.Debug().Time("now", now).Msg("tick")

	for _, tier := range []task.Tier{task.HighFrequency, task.Hourly, task.Macro} {
		s.runTier(ctx, tier, now)
	}

	if s.cfg.SignalGenerationEnabled && s.signalGenerationDue(now) {
		s.runSignalPass(ctx, now)
		s.mu.Lock()
		s.lastSignalRun = &now
		s.mu.Unlock()
	}

	if err := s.saveState(); err != nil {
		s.log.Error().Err(err).Msg("failed to persist state snapshot")
	}
}

func (s *Scheduler) signalGenerationDue(now time.Time) bool {
	s.mu.Lock()
	last := s.lastSignalRun
	s.mu.Unlock()
	if last == nil {
		return true
	}
	return now.Sub(*last) >= s.cfg.SignalGenerationInterval
}

// runTier selects the due tasks in tier and executes them, bounded by
// the upstream concurrency cap. Tier order across calls within one tick
// is the caller's responsibility; within a tier, execution order is
// unspecified.
func (s *Scheduler) runTier(ctx context.Context, tier task.Tier, now time.Time) {
	var due []*task.Task
	for _, t := range s.registry.ByTier(tier) {
		if t.Due(now, s.cfg.MacroTimeOfDay) {
			due = append(due, t)
		}
	}
	if len(due) == 0 {
		return
	}

	concurrency := s.cfg.UpstreamConcurrency
	if concurrency <= 0 || concurrency > len(due) {
		concurrency = len(due)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(concurrency)
	for _, t := range due {
		t := t
		group.Go(func() error {
			s.executeTask(groupCtx, t, now)
			return nil
		})
	}
	_ = group.Wait()
}

// executeTask runs a task's collector, applying the in-tick retry
// policy, and records the outcome on the task registry.
func (s *Scheduler) executeTask(ctx context.Context, t *task.Task, now time.Time) {
	coll, ok := s.collectors[t.Kind]
	if !ok {
		s.log.Error().Str("task", t.ID).Str("kind", string(t.Kind)).Msg("no collector registered for task kind")
		s.registry.RecordResult(t.ID, now, false)
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.CollectorTimeout)
	defer cancel()

	result := coll.Collect(callCtx, t.AssetOrIndicatorID, s.cfg.MarketDataWindowDays)
	s.mu.Lock()
	s.totalUpstreamCall++
	s.mu.Unlock()

	attempts := 1
	for !result.Success && result.ErrKind.RetryRecommended() && attempts <= s.cfg.MaxRetriesPerTask {
		if result.RetryAfter > 0 {
			s.log.Warn().Str("task", t.ID).Str("kind", string(result.ErrKind)).Dur("retry_after", result.RetryAfter).Msg("waiting before retrying task within tick")
			timer := time.NewTimer(result.RetryAfter)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				s.recordTierStats(t.Tier, false)
				s.registry.RecordResult(t.ID, now, false)
				return
			}
		}
		s.log.Warn().Str("task", t.ID).Str("kind", string(result.ErrKind)).Int("attempt", attempts).Msg("retrying task within tick")
		callCtx, cancel := context.WithTimeout(ctx, s.cfg.CollectorTimeout)
		result = coll.Collect(callCtx, t.AssetOrIndicatorID, s.cfg.MarketDataWindowDays)
		cancel()
		s.mu.Lock()
		s.totalUpstreamCall++
		s.mu.Unlock()
		attempts++
	}

	if !result.Success {
		s.log.Warn().Str("task", t.ID).Str("kind", string(result.ErrKind)).Str("detail", result.ErrDetail).Msg("task failed")
	}

	s.recordTierStats(t.Tier, result.Success)
	s.registry.RecordResult(t.ID, now, result.Success)
}

// recordTierStats tallies one task execution outcome against its tier's
// lifetime success/failure counters.
func (s *Scheduler) recordTierStats(tier task.Tier, success bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := s.collectionStats[tier]
	if success {
		stats.Success++
	} else {
		stats.Failure++
	}
	s.collectionStats[tier] = stats
}

// runSignalPass invokes the strategy runner, feeds its output to the
// aggregator, builds and persists alerts, and dispatches webhooks. It
// is bounded by the signal-pass timeout so a misbehaving strategy or
// slow store read can never stall future ticks indefinitely (the
// runner itself also isolates individual strategy failures).
func (s *Scheduler) runSignalPass(ctx context.Context, now time.Time) {
	passCtx, cancel := context.WithTimeout(ctx, s.cfg.SignalPassTimeout)
	defer cancel()

	perStrategy := s.runner.Run(passCtx, s.store)

	var totalSignals int
	for _, sigs := range perStrategy {
		totalSignals += len(sigs)
	}
	if totalSignals == 0 {
		return
	}

	aggregated, original := s.aggregator.Aggregate(perStrategy)

	s.mu.Lock()
	s.signalsGenerated += int64(totalSignals)
	s.mu.Unlock()

	if !s.cfg.AlertGenerationEnabled {
		s.dispatchOnly(passCtx, aggregated, perStrategy)
		return
	}

	aggregatedList := make([]signal.Signal, 0, len(aggregated))
	for _, sig := range aggregated {
		aggregatedList = append(aggregatedList, sig)
	}

	records := s.alertBuilder.Build(append(aggregatedList, original...), s.cfg.AlertWhitelist)
	if len(records) > 0 {
		if err := s.alertWriter.Write(records); err != nil {
			s.log.Error().Err(err).Msg("failed to persist alert records")
		}
		if err := s.alertWriter.Sweep(now); err != nil {
			s.log.Warn().Err(err).Msg("failed to sweep expired alert files")
		}
		s.mu.Lock()
		s.alertsGenerated += int64(len(records))
		s.mu.Unlock()
	}

	s.dispatchOnly(passCtx, aggregated, perStrategy)
}

func (s *Scheduler) dispatchOnly(ctx context.Context, aggregated map[string]signal.Signal, perStrategy map[string][]signal.Signal) {
	if s.dispatcher == nil {
		return
	}
	aggregatedList := make([]signal.Signal, 0, len(aggregated))
	for _, sig := range aggregated {
		aggregatedList = append(aggregatedList, sig)
	}
	s.dispatcher.DispatchAggregate(ctx, aggregatedList)
	s.dispatcher.DispatchPerStrategy(ctx, perStrategy)
	s.mu.Lock()
	s.webhookAlertsSent += int64(len(aggregatedList))
	s.mu.Unlock()
}

// saveState builds and persists the current state snapshot.
func (s *Scheduler) saveState() error {
	sinks := map[string]state.SinkState{}
	if s.dispatcher != nil {
		for name, lastSent := range s.dispatcher.Snapshot() {
			sinks[name] = state.SinkState{LastSent: lastSent}
		}
	}

	s.mu.Lock()
	collectionStats := make(map[string]state.TierStats, len(s.collectionStats))
	for tier, stats := range s.collectionStats {
		collectionStats[string(tier)] = stats
	}
	snap := state.Snapshot{
		Tasks:              state.FromOverlay(s.registry.Snapshot()),
		Sinks:              sinks,
		CollectionStats:    collectionStats,
		LastSignalRun:      s.lastSignalRun,
		TotalUpstreamCalls: s.totalUpstreamCall,
		SignalsGenerated:   s.signalsGenerated,
		AlertsGenerated:    s.alertsGenerated,
		WebhookAlertsSent:  s.webhookAlertsSent,
		LastSaved:          s.clk.Now(),
	}
	s.mu.Unlock()
	return s.stateStore.Save(snap)
}
