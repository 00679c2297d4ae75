package state

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/arduino-trader/internal/task"
)

func TestStore_SaveThenLoadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	st := NewStore(path)

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := Empty()
	snap.Tasks["crypto_bitcoin"] = TaskState{LastRun: &now, ConsecutiveFailures: 1, Enabled: true}
	snap.TotalUpstreamCalls = 42
	snap.LastSaved = now

	require.NoError(t, st.Save(snap))

	loaded, err := st.Load()
	require.NoError(t, err)
	assert.Equal(t, int64(42), loaded.TotalUpstreamCalls)
	assert.True(t, loaded.Tasks["crypto_bitcoin"].LastRun.Equal(now))
	assert.Equal(t, 1, loaded.Tasks["crypto_bitcoin"].ConsecutiveFailures)
}

func TestStore_SaveThenLoadRoundTripsCollectionStats(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	st := NewStore(path)

	snap := Empty()
	snap.CollectionStats["HIGH_FREQUENCY"] = TierStats{Success: 10, Failure: 2}
	snap.CollectionStats["MACRO"] = TierStats{Success: 1}

	require.NoError(t, st.Save(snap))

	loaded, err := st.Load()
	require.NoError(t, err)
	assert.Equal(t, int64(10), loaded.CollectionStats["HIGH_FREQUENCY"].Success)
	assert.Equal(t, int64(2), loaded.CollectionStats["HIGH_FREQUENCY"].Failure)
	assert.Equal(t, int64(1), loaded.CollectionStats["MACRO"].Success)
}

func TestStore_LoadMissingFileReturnsDefaults(t *testing.T) {
	st := NewStore(filepath.Join(t.TempDir(), "missing.json"))
	snap, err := st.Load()
	require.NoError(t, err)
	assert.Empty(t, snap.Tasks)
}

func TestStore_LoadCorruptFileReturnsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	st := NewStore(path)
	snap, err := st.Load()
	assert.Error(t, err)
	assert.Empty(t, snap.Tasks)
}

func TestOverlayRoundTrip(t *testing.T) {
	now := time.Now().UTC()
	overlay := map[string]task.OverlayEntry{
		"crypto_bitcoin": {LastRun: &now, ConsecutiveFailures: 2, Enabled: false},
	}
	snap := Empty()
	snap.Tasks = FromOverlay(overlay)
	roundTripped := snap.ToOverlay()
	assert.Equal(t, overlay["crypto_bitcoin"].ConsecutiveFailures, roundTripped["crypto_bitcoin"].ConsecutiveFailures)
	assert.Equal(t, overlay["crypto_bitcoin"].Enabled, roundTripped["crypto_bitcoin"].Enabled)
}
