package alert

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// Writer persists alert records as one JSON document per alert under a
// configured directory, and sweeps files older than a retention horizon.
type Writer struct {
	dir       string
	retention time.Duration
	log       zerolog.Logger
}

// NewWriter returns a Writer rooted at dir. retention of 0 defaults to
// seven days.
func NewWriter(dir string, retention time.Duration, log zerolog.Logger) *Writer {
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	return &Writer{dir: dir, retention: retention, log: log.With().Str("component", "alert_writer").Logger()}
}

// Write persists each record as dir/{kind}_alert_{asset}_{timestamp}.json.
func (w *Writer) Write(records []Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create alert directory: %w", err)
	}
	for _, r := range records {
		path := filepath.Join(w.dir, r.FileName())
		body, err := json.MarshalIndent(r, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal alert record: %w", err)
		}
		if err := os.WriteFile(path, body, 0o644); err != nil {
			return fmt.Errorf("failed to write alert file %s: %w", path, err)
		}
	}
	return nil
}

// Sweep deletes alert files under dir older than the retention horizon,
// measured against now.
func (w *Writer) Sweep(now time.Time) error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to list alert directory: %w", err)
	}

	cutoff := now.Add(-w.retention)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			path := filepath.Join(w.dir, entry.Name())
			if err := os.Remove(path); err != nil {
				w.log.Warn().Err(err).Str("file", path).Msg("failed to remove expired alert file")
				continue
			}
		}
	}
	return nil
}
