package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration, loaded from environment
// variables (with an optional .env file) and sensible defaults.
type Config struct {
	// Logging
	LogLevel string
	DevMode  bool

	// Store
	DatabasePath string

	// Upstream providers
	UpstreamAPIKey string
	MacroAPIKey    string

	// Universe
	HighFrequencyAssets []string
	HourlyAssets        []string
	MacroIndicators     []string

	// Scheduling
	TickInterval         time.Duration
	HighFrequencyCadence time.Duration
	HourlyCadence        time.Duration
	MacroCadence         time.Duration
	MacroCollectionTime  string // "HH:MM" UTC
	MaxRetriesPerTask    int
	UpstreamConcurrency  int
	CollectorTimeout     time.Duration

	// Signal generation
	SignalGenerationEnabled  bool
	SignalGenerationInterval time.Duration
	MarketDataWindowDays     int
	StrategyTimeout          time.Duration

	// Signal aggregation
	AggregatorConfidenceFloor float64
	AggregatorMaxPositionSize float64
	AggregatorResolution      string
	AggregatorStrategyWeights map[string]float64

	// Alerts
	AlertGenerationEnabled bool
	AlertDir               string
	AlertRetention         time.Duration
	AlertWhitelist         []string

	// Webhooks
	WebhookDispatchEnabled  bool
	WebhookURL              string
	WebhookMinConfidence    float64
	WebhookMinStrength      string
	WebhookRateLimitSeconds int
	WebhookSendTimeout      time.Duration

	// State persistence
	StateFilePath     string
	ShutdownTimeout   time.Duration
	SignalPassTimeout time.Duration
}

// Load reads configuration from environment variables. An optional .env
// file in the working directory is loaded first; real environment
// variables always win over it.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		DevMode:      getEnvAsBool("DEV_MODE", false),
		DatabasePath: getEnv("DATABASE_PATH", "./data/market.db"),

		UpstreamAPIKey: getEnv("UPSTREAM_API_KEY", ""),
		MacroAPIKey:    getEnv("MACRO_API_KEY", ""),

		HighFrequencyAssets: getEnvAsList("ASSETS_HIGH_FREQUENCY", []string{"bitcoin", "ethereum"}),
		HourlyAssets:        getEnvAsList("ASSETS_HOURLY", []string{"solana", "cardano"}),
		MacroIndicators:     getEnvAsList("MACRO_INDICATORS", []string{"VIXCLS", "DFF"}),

		TickInterval:         getEnvAsDuration("TICK_INTERVAL", 60*time.Second),
		HighFrequencyCadence: getEnvAsDuration("CADENCE_HIGH_FREQUENCY", 15*time.Minute),
		HourlyCadence:        getEnvAsDuration("CADENCE_HOURLY", 60*time.Minute),
		MacroCadence:         getEnvAsDuration("CADENCE_MACRO", 24*time.Hour),
		MacroCollectionTime:  getEnv("MACRO_COLLECTION_TIME", "23:00"),
		MaxRetriesPerTask:    getEnvAsInt("MAX_RETRIES_PER_TASK", 1),
		UpstreamConcurrency:  getEnvAsInt("UPSTREAM_CONCURRENCY", 4),
		CollectorTimeout:     getEnvAsDuration("COLLECTOR_TIMEOUT", 30*time.Second),

		SignalGenerationEnabled:  getEnvAsBool("SIGNAL_GENERATION_ENABLED", true),
		SignalGenerationInterval: getEnvAsDuration("SIGNAL_GENERATION_INTERVAL", time.Hour),
		MarketDataWindowDays:     getEnvAsInt("MARKET_DATA_WINDOW_DAYS", 90),
		StrategyTimeout:          getEnvAsDuration("STRATEGY_TIMEOUT", 10*time.Second),

		AggregatorConfidenceFloor: getEnvAsFloat("AGGREGATOR_CONFIDENCE_FLOOR", 0.5),
		AggregatorMaxPositionSize: getEnvAsFloat("AGGREGATOR_MAX_POSITION_SIZE", 1.0),
		AggregatorResolution:      getEnv("AGGREGATOR_RESOLUTION", "weighted_average"),
		AggregatorStrategyWeights: getEnvAsWeightMap("AGGREGATOR_STRATEGY_WEIGHTS", nil),

		AlertGenerationEnabled: getEnvAsBool("ALERT_GENERATION_ENABLED", true),
		AlertDir:               getEnv("ALERT_DIR", "./data/alerts"),
		AlertRetention:         getEnvAsDuration("ALERT_RETENTION", 7*24*time.Hour),
		AlertWhitelist:         getEnvAsList("ALERT_ASSET_WHITELIST", nil),

		WebhookURL:              getEnv("WEBHOOK_URL", ""),
		WebhookMinConfidence:    getEnvAsFloat("WEBHOOK_MIN_CONFIDENCE", 0.6),
		WebhookMinStrength:      getEnv("WEBHOOK_MIN_STRENGTH", "WEAK"),
		WebhookRateLimitSeconds: getEnvAsInt("WEBHOOK_RATE_LIMIT_SECONDS", 60),
		WebhookSendTimeout:      getEnvAsDuration("WEBHOOK_SEND_TIMEOUT", 10*time.Second),

		StateFilePath:     getEnv("STATE_FILE_PATH", "./data/state.json"),
		ShutdownTimeout:   getEnvAsDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		SignalPassTimeout: getEnvAsDuration("SIGNAL_PASS_TIMEOUT", 60*time.Second),
	}
	cfg.WebhookDispatchEnabled = cfg.WebhookURL != ""
	if len(cfg.AlertWhitelist) == 0 {
		cfg.AlertWhitelist = append(append([]string{}, cfg.HighFrequencyAssets...), cfg.HourlyAssets...)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return fmt.Errorf("DATABASE_PATH is required")
	}
	if c.StateFilePath == "" {
		return fmt.Errorf("STATE_FILE_PATH is required")
	}
	if _, err := time.Parse("15:04", c.MacroCollectionTime); err != nil {
		return fmt.Errorf("MACRO_COLLECTION_TIME must be HH:MM: %w", err)
	}
	if c.MaxRetriesPerTask < 0 {
		return fmt.Errorf("MAX_RETRIES_PER_TASK must be >= 0")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvAsWeightMap parses a comma-separated "name:weight,name:weight"
// string into a map. Entries that aren't valid "name:float" pairs are
// skipped rather than failing the whole parse.
func getEnvAsWeightMap(key string, defaultValue map[string]float64) map[string]float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	out := make(map[string]float64)
	for _, pair := range strings.Split(value, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, weightStr, ok := strings.Cut(pair, ":")
		if !ok {
			continue
		}
		weight, err := strconv.ParseFloat(strings.TrimSpace(weightStr), 64)
		if err != nil {
			continue
		}
		out[strings.TrimSpace(name)] = weight
	}
	return out
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
