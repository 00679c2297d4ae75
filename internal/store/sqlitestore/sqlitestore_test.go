package sqlitestore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/arduino-trader/internal/market"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "market.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestInsertOHLC_DedupesOnAssetAndTimestamp(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	row := market.OHLCRow{AssetID: "bitcoin", TimestampMS: 1000, Date: "2026-01-01", Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10}

	inserted, err := s.InsertOHLC(ctx, []market.OHLCRow{row})
	require.NoError(t, err)
	assert.Equal(t, 1, inserted)

	inserted, err = s.InsertOHLC(ctx, []market.OHLCRow{row})
	require.NoError(t, err)
	assert.Equal(t, 0, inserted, "duplicate (asset_id, timestamp_ms) should be ignored")
}

func TestInsertMacro_DedupesOnIndicatorAndDate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	v := 42.0
	row := market.MacroRow{IndicatorID: "VIXCLS", Date: "2026-01-01", Value: &v}

	inserted, err := s.InsertMacro(ctx, []market.MacroRow{row})
	require.NoError(t, err)
	assert.Equal(t, 1, inserted)

	inserted, err = s.InsertMacro(ctx, []market.MacroRow{row})
	require.NoError(t, err)
	assert.Equal(t, 0, inserted, "duplicate (indicator_id, date) should be ignored")
}

func TestReadOHLCWindow_UsesCallerSuppliedNow(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	now := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	inWindow := market.OHLCRow{AssetID: "bitcoin", TimestampMS: now.AddDate(0, 0, -1).UnixMilli(), Date: "2026-01-09", Open: 1, High: 1, Low: 1, Close: 1, Volume: 0}
	outOfWindow := market.OHLCRow{AssetID: "bitcoin", TimestampMS: now.AddDate(0, 0, -30).UnixMilli(), Date: "2025-12-11", Open: 1, High: 1, Low: 1, Close: 1, Volume: 0}

	_, err := s.InsertOHLC(ctx, []market.OHLCRow{inWindow, outOfWindow})
	require.NoError(t, err)

	rows, err := s.ReadOHLCWindow(ctx, "bitcoin", now, 5)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, inWindow.TimestampMS, rows[0].TimestampMS)

	// A different caller-supplied now changes what's in-window, proving
	// the cutoff isn't recomputed internally from the wall clock.
	laterNow := now.AddDate(0, 0, 40)
	rows, err = s.ReadOHLCWindow(ctx, "bitcoin", laterNow, 5)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestReadMarketBundle_SharesOneNowAcrossAssetsAndIndicators(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	v := 1.0
	_, err := s.InsertOHLC(ctx, []market.OHLCRow{
		{AssetID: "bitcoin", TimestampMS: time.Now().UTC().UnixMilli(), Date: "2026-01-01", Open: 1, High: 1, Low: 1, Close: 1, Volume: 0},
	})
	require.NoError(t, err)
	_, err = s.InsertMacro(ctx, []market.MacroRow{
		{IndicatorID: "VIXCLS", Date: time.Now().UTC().Format("2006-01-02"), Value: &v},
	})
	require.NoError(t, err)

	bundle, err := s.ReadMarketBundle(ctx, []string{"bitcoin"}, []string{"VIXCLS"}, 90)
	require.NoError(t, err)
	assert.Len(t, bundle.OHLC["bitcoin"], 1)
	assert.Len(t, bundle.Macro["VIXCLS"], 1)
	assert.False(t, bundle.Now.IsZero())
}

func TestHealthSnapshot_ReportsCountsAndFootprint(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.InsertOHLC(ctx, []market.OHLCRow{
		{AssetID: "bitcoin", TimestampMS: 1000, Date: "2026-01-01", Open: 1, High: 1, Low: 1, Close: 1, Volume: 0},
	})
	require.NoError(t, err)

	snap, err := s.HealthSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.OHLCRowCounts["bitcoin"])
	assert.Equal(t, "2026-01-01", snap.OHLCLatestDate["bitcoin"])
	assert.Greater(t, snap.FootprintBytes, int64(0))
}
