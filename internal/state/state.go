// Package state persists the scheduler's task table and cumulative
// counters to a single JSON document, so scheduling progress survives a
// restart without consulting the store.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aristath/arduino-trader/internal/task"
)

// TaskState is the persisted view of one task, matching
// task.OverlayEntry but with a wire-friendly nullable LastRun.
type TaskState struct {
	LastRun             *time.Time `json:"last_collection"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	Enabled             bool       `json:"enabled"`
}

// SinkState is the persisted view of one webhook sink's rate-limit
// clock.
type SinkState struct {
	LastSent time.Time `json:"last_sent"`
}

// TierStats is the lifetime success/failure tally for one scheduling
// tier, across every task in it.
type TierStats struct {
	Success int64 `json:"success"`
	Failure int64 `json:"failure"`
}

// Snapshot is the full persisted document.
type Snapshot struct {
	Tasks              map[string]TaskState `json:"tasks"`
	Sinks              map[string]SinkState `json:"sinks"`
	CollectionStats    map[string]TierStats `json:"collection_stats"`
	LastSignalRun      *time.Time           `json:"last_signal_run"`
	TotalUpstreamCalls int64                `json:"total_api_calls"`
	SignalsGenerated   int64                `json:"signals_generated"`
	AlertsGenerated    int64                `json:"alerts_generated"`
	WebhookAlertsSent  int64                `json:"webhook_alerts_sent"`
	LastSaved          time.Time            `json:"last_save"`
}

// Empty returns a freshly initialized, default Snapshot.
func Empty() Snapshot {
	return Snapshot{
		Tasks:           make(map[string]TaskState),
		Sinks:           make(map[string]SinkState),
		CollectionStats: make(map[string]TierStats),
	}
}

// ToOverlay converts the snapshot's task states into the overlay map
// the task registry expects.
func (s Snapshot) ToOverlay() map[string]task.OverlayEntry {
	out := make(map[string]task.OverlayEntry, len(s.Tasks))
	for id, ts := range s.Tasks {
		out[id] = task.OverlayEntry{
			LastRun:             ts.LastRun,
			ConsecutiveFailures: ts.ConsecutiveFailures,
			Enabled:             ts.Enabled,
		}
	}
	return out
}

// FromOverlay builds the persisted task-state map from the registry's
// current snapshot.
func FromOverlay(overlay map[string]task.OverlayEntry) map[string]TaskState {
	out := make(map[string]TaskState, len(overlay))
	for id, e := range overlay {
		out[id] = TaskState{
			LastRun:             e.LastRun,
			ConsecutiveFailures: e.ConsecutiveFailures,
			Enabled:             e.Enabled,
		}
	}
	return out
}

// Store persists and loads Snapshot documents to a single path on disk,
// using an atomic write-then-rename so a reader never observes a
// partially-written file.
type Store struct {
	path string
}

// NewStore returns a Store writing to path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load reads the snapshot from disk. A missing file returns a fresh
// default Snapshot and no error. An unreadable or corrupt file also
// returns a fresh default Snapshot, together with a non-nil error the
// caller can log before starting from defaults.
func (st *Store) Load() (Snapshot, error) {
	body, err := os.ReadFile(st.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Empty(), nil
		}
		return Empty(), fmt.Errorf("failed to read state file: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return Empty(), fmt.Errorf("state file is corrupt: %w", err)
	}
	if snap.Tasks == nil {
		snap.Tasks = make(map[string]TaskState)
	}
	if snap.Sinks == nil {
		snap.Sinks = make(map[string]SinkState)
	}
	if snap.CollectionStats == nil {
		snap.CollectionStats = make(map[string]TierStats)
	}
	return snap, nil
}

// Save writes the snapshot to disk atomically: write to a temp file in
// the same directory, then rename over the target path.
func (st *Store) Save(snap Snapshot) error {
	dir := filepath.Dir(st.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	body, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state snapshot: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".state-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp state file: %w", err)
	}
	if err := os.Rename(tmpPath, st.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp state file into place: %w", err)
	}
	return nil
}
