package main

import (
	"context"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/aristath/arduino-trader/internal/aggregator"
	"github.com/aristath/arduino-trader/internal/alert"
	"github.com/aristath/arduino-trader/internal/clock"
	"github.com/aristath/arduino-trader/internal/collector"
	"github.com/aristath/arduino-trader/internal/config"
	"github.com/aristath/arduino-trader/internal/providers"
	"github.com/aristath/arduino-trader/internal/scheduler"
	"github.com/aristath/arduino-trader/internal/signal"
	"github.com/aristath/arduino-trader/internal/state"
	"github.com/aristath/arduino-trader/internal/store/sqlitestore"
	"github.com/aristath/arduino-trader/internal/strategy"
	_ "github.com/aristath/arduino-trader/internal/strategy/rsithreshold"
	"github.com/aristath/arduino-trader/internal/task"
	"github.com/aristath/arduino-trader/internal/webhook"
	"github.com/aristath/arduino-trader/pkg/logger"
)

func main() {
	log := logger.New(logger.Config{
		Level:  "info",
		Pretty: true,
	})
	logger.SetGlobalLogger(log)

	log.Info().Msg("starting market data and signal service")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	log = logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.DevMode})

	db, err := sqlitestore.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open store")
	}
	defer db.Close()

	registry := task.NewRegistry(buildSeeds(cfg))

	collectors := map[task.Kind]collector.Collector{
		task.KindCrypto: collector.NewCryptoCollector(providers.NotConfigured{}, db, log),
		task.KindMacro:  collector.NewMacroCollector(providers.NotConfigured{}, db, log),
	}

	strategies, err := strategy.Load([]strategy.Definition{
		{Name: "rsi_threshold", Config: strategy.ConfigDocument{
			"assets": append(append([]string{}, cfg.HighFrequencyAssets...), cfg.HourlyAssets...),
		}},
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load strategies")
	}
	runner := strategy.NewRunner(strategies, cfg.MarketDataWindowDays, cfg.StrategyTimeout, log)

	agg := aggregator.New(aggregator.Config{
		StrategyWeights: cfg.AggregatorStrategyWeights,
		Resolution:      aggregator.Resolution(cfg.AggregatorResolution),
		ConfidenceFloor: cfg.AggregatorConfidenceFloor,
		MaxPositionSize: cfg.AggregatorMaxPositionSize,
	})

	whitelist := make(map[string]bool, len(cfg.AlertWhitelist))
	for _, a := range cfg.AlertWhitelist {
		whitelist[a] = true
	}

	systemClock := clock.System{}
	alertBuilder := alert.NewBuilder("aggregate", 90, systemClock)
	alertWriter := alert.NewWriter(cfg.AlertDir, cfg.AlertRetention, log)

	var dispatcher *webhook.Dispatcher
	if cfg.WebhookDispatchEnabled {
		dispatcher = webhook.NewDispatcher(webhook.SinkConfig{
			Name:            "aggregate",
			URL:             cfg.WebhookURL,
			MinConfidence:   cfg.WebhookMinConfidence,
			MinStrength:     signal.Strength(cfg.WebhookMinStrength),
			RateLimitWindow: time.Duration(cfg.WebhookRateLimitSeconds) * time.Second,
		}, nil, cfg.WebhookSendTimeout, log)
	}

	stateStore := state.NewStore(cfg.StateFilePath)

	sched := scheduler.New(scheduler.Config{
		TickInterval:             cfg.TickInterval,
		MaxRetriesPerTask:        cfg.MaxRetriesPerTask,
		UpstreamConcurrency:      cfg.UpstreamConcurrency,
		CollectorTimeout:         cfg.CollectorTimeout,
		SignalGenerationEnabled:  cfg.SignalGenerationEnabled,
		SignalGenerationInterval: cfg.SignalGenerationInterval,
		MarketDataWindowDays:     cfg.MarketDataWindowDays,
		AlertGenerationEnabled:   cfg.AlertGenerationEnabled,
		AlertWhitelist:           whitelist,
		MacroTimeOfDay:           macroTimeOfDay(cfg.MacroCollectionTime),
		ShutdownTimeout:          cfg.ShutdownTimeout,
		SignalPassTimeout:        cfg.SignalPassTimeout,
	}, systemClock, registry, collectors, db, runner, agg, alertBuilder, alertWriter, dispatcher, stateStore, log)

	if err := sched.LoadState(); err != nil {
		log.Fatal().Err(err).Msg("failed to load scheduler state")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := sched.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start scheduler")
	}
	log.Info().Msg("scheduler started")

	quit := make(chan os.Signal, 1)
	ossignal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	cancel()
	sched.Stop()
	log.Info().Msg("stopped")
}

func buildSeeds(cfg *config.Config) []task.Seed {
	var seeds []task.Seed
	for _, asset := range cfg.HighFrequencyAssets {
		seeds = append(seeds, task.Seed{Kind: task.KindCrypto, AssetOrIndicatorID: asset, Tier: task.HighFrequency, Cadence: cfg.HighFrequencyCadence})
	}
	for _, asset := range cfg.HourlyAssets {
		seeds = append(seeds, task.Seed{Kind: task.KindCrypto, AssetOrIndicatorID: asset, Tier: task.Hourly, Cadence: cfg.HourlyCadence})
	}
	for _, indicator := range cfg.MacroIndicators {
		seeds = append(seeds, task.Seed{Kind: task.KindMacro, AssetOrIndicatorID: indicator, Tier: task.Macro, Cadence: cfg.MacroCadence})
	}
	return seeds
}

func macroTimeOfDay(hhmm string) time.Duration {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return 23 * time.Hour
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute
}
