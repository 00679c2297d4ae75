package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/arduino-trader/internal/aggregator"
	"github.com/aristath/arduino-trader/internal/alert"
	"github.com/aristath/arduino-trader/internal/clock"
	"github.com/aristath/arduino-trader/internal/collector"
	"github.com/aristath/arduino-trader/internal/coreerr"
	"github.com/aristath/arduino-trader/internal/market"
	"github.com/aristath/arduino-trader/internal/state"
	"github.com/aristath/arduino-trader/internal/strategy"
	"github.com/aristath/arduino-trader/internal/task"
)

// rateLimitedThenOK fails once with an advisory RetryAfter, then
// succeeds on the scheduler's in-tick retry.
type rateLimitedThenOK struct {
	retryAfter time.Duration
	calls      int
}

func (c *rateLimitedThenOK) Collect(ctx context.Context, id string, days int) collector.Result {
	c.calls++
	if c.calls == 1 {
		return collector.Result{ErrKind: coreerr.RateLimit, ErrDetail: "rate limited", RetryAfter: c.retryAfter}
	}
	return collector.Result{Success: true, RecordsCollected: 1}
}

type fakePriceProvider struct{ bars []collector.PriceBar }

func (p fakePriceProvider) GetOHLC(ctx context.Context, assetID string, days int) ([]collector.PriceBar, error) {
	return p.bars, nil
}

type memoryStore struct {
	ohlc map[string][]market.OHLCRow
}

func newMemoryStore() *memoryStore { return &memoryStore{ohlc: map[string][]market.OHLCRow{}} }

func (m *memoryStore) InsertOHLC(ctx context.Context, rows []market.OHLCRow) (int, error) {
	for _, r := range rows {
		m.ohlc[r.AssetID] = append(m.ohlc[r.AssetID], r)
	}
	return len(rows), nil
}

func (m *memoryStore) InsertMacro(ctx context.Context, rows []market.MacroRow) (int, error) {
	return len(rows), nil
}

func (m *memoryStore) ReadMarketBundle(ctx context.Context, assetIDs, indicatorIDs []string, days int) (market.Bundle, error) {
	bundle := market.Bundle{Now: time.Now().UTC(), OHLC: map[string][]market.OHLCRow{}}
	for _, id := range assetIDs {
		bundle.OHLC[id] = m.ohlc[id]
	}
	return bundle, nil
}

func TestScheduler_TickRunsDueTasksAndPersistsState(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	registry := task.NewRegistry([]task.Seed{
		{Kind: task.KindCrypto, AssetOrIndicatorID: "bitcoin", Tier: task.HighFrequency, Cadence: 15 * time.Minute},
	})

	store := newMemoryStore()
	cryptoCollector := collector.NewCryptoCollector(fakePriceProvider{bars: []collector.PriceBar{
		{TimestampMS: clk.Now().UnixMilli(), Open: 100, High: 110, Low: 90, Close: 105, Volume: 10},
	}}, store, zerolog.Nop())

	stateStore := state.NewStore(t.TempDir() + "/state.json")
	runner := strategy.NewRunner(map[string]strategy.Strategy{}, 90, time.Second, zerolog.Nop())
	agg := aggregator.New(aggregator.Config{ConfidenceFloor: 0.1})
	builder := alert.NewBuilder("aggregate", 90, clk)
	writer := alert.NewWriter(t.TempDir(), time.Hour, zerolog.Nop())

	sched := New(Config{
		TickInterval:             time.Minute,
		MaxRetriesPerTask:        1,
		UpstreamConcurrency:      4,
		CollectorTimeout:         time.Second,
		SignalGenerationEnabled:  true,
		SignalGenerationInterval: time.Hour,
		MarketDataWindowDays:     90,
		AlertGenerationEnabled:   true,
		AlertWhitelist:           map[string]bool{"bitcoin": true},
		ShutdownTimeout:          time.Second,
		SignalPassTimeout:        time.Second,
	}, clk, registry, map[task.Kind]collector.Collector{task.KindCrypto: cryptoCollector}, store, runner, agg, builder, writer, nil, stateStore, zerolog.Nop())

	require.NoError(t, sched.LoadState())
	sched.runTick(context.Background())

	assert.Len(t, store.ohlc["bitcoin"], 1)

	snap, err := stateStore.Load()
	require.NoError(t, err)
	taskState, ok := snap.Tasks["crypto_bitcoin"]
	require.True(t, ok)
	assert.Equal(t, 0, taskState.ConsecutiveFailures)
	assert.True(t, taskState.Enabled)
	assert.NotNil(t, snap.LastSignalRun)
	assert.Equal(t, int64(1), snap.CollectionStats["HIGH_FREQUENCY"].Success)
	assert.Equal(t, int64(0), snap.CollectionStats["HIGH_FREQUENCY"].Failure)
}

func TestScheduler_ExecuteTaskWaitsRetryAfterBeforeRetrying(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	registry := task.NewRegistry([]task.Seed{
		{Kind: task.KindCrypto, AssetOrIndicatorID: "bitcoin", Tier: task.HighFrequency, Cadence: 15 * time.Minute},
	})

	store := newMemoryStore()
	coll := &rateLimitedThenOK{retryAfter: 20 * time.Millisecond}
	stateStore := state.NewStore(t.TempDir() + "/state.json")
	runner := strategy.NewRunner(map[string]strategy.Strategy{}, 90, time.Second, zerolog.Nop())
	agg := aggregator.New(aggregator.Config{ConfidenceFloor: 0.1})
	builder := alert.NewBuilder("aggregate", 90, clk)
	writer := alert.NewWriter(t.TempDir(), time.Hour, zerolog.Nop())

	sched := New(Config{
		TickInterval:             time.Minute,
		MaxRetriesPerTask:        1,
		UpstreamConcurrency:      4,
		CollectorTimeout:         time.Second,
		SignalGenerationEnabled:  false,
		SignalGenerationInterval: time.Hour,
		MarketDataWindowDays:     90,
		ShutdownTimeout:          time.Second,
		SignalPassTimeout:        time.Second,
	}, clk, registry, map[task.Kind]collector.Collector{task.KindCrypto: coll}, store, runner, agg, builder, writer, nil, stateStore, zerolog.Nop())

	require.NoError(t, sched.LoadState())

	start := time.Now()
	tk, ok := registry.Get("crypto_bitcoin")
	require.True(t, ok)
	sched.executeTask(context.Background(), tk, clk.Now())
	elapsed := time.Since(start)

	assert.Equal(t, 2, coll.calls)
	assert.GreaterOrEqual(t, elapsed, 20*time.Millisecond)
	assert.Equal(t, 0, tk.ConsecutiveFailures)
	assert.Equal(t, int64(1), sched.collectionStats[task.HighFrequency].Success)
	assert.Equal(t, int64(0), sched.collectionStats[task.HighFrequency].Failure)
}

func TestScheduler_MacroTimeOfDayGate(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC))
	registry := task.NewRegistry([]task.Seed{
		{Kind: task.KindMacro, AssetOrIndicatorID: "VIXCLS", Tier: task.Macro, Cadence: 24 * time.Hour},
	})

	tasks := registry.ByTier(task.Macro)
	require.Len(t, tasks, 1)

	macroTime := 23 * time.Hour // 23:00 UTC
	assert.False(t, tasks[0].Due(clk.Now(), macroTime))

	clk.Set(time.Date(2026, 1, 1, 23, 30, 0, 0, time.UTC))
	assert.True(t, tasks[0].Due(clk.Now(), macroTime))
}

func TestScheduler_ConsecutiveFailuresDisableTask(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	registry := task.NewRegistry([]task.Seed{
		{Kind: task.KindCrypto, AssetOrIndicatorID: "bitcoin", Tier: task.HighFrequency, Cadence: 15 * time.Minute},
	})

	for i := 0; i < 3; i++ {
		registry.RecordResult("crypto_bitcoin", clk.Now(), false)
		clk.Advance(15 * time.Minute)
	}

	tk, ok := registry.Get("crypto_bitcoin")
	require.True(t, ok)
	assert.False(t, tk.Enabled)
	assert.Equal(t, 3, tk.ConsecutiveFailures)
}
