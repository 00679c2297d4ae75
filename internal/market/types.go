// Package market defines the OHLC/macro row shapes and the windowed
// market data bundle the Store hands to the Strategy Runner.
package market

import "time"

// OHLCRow is one candle for an asset, keyed by (AssetID, TimestampMS).
type OHLCRow struct {
	AssetID     string  `json:"asset_id"`
	TimestampMS int64   `json:"timestamp_ms"`
	Date        string  `json:"date"` // YYYY-MM-DD, UTC, derived from TimestampMS
	Open        float64 `json:"open"`
	High        float64 `json:"high"`
	Low         float64 `json:"low"`
	Close       float64 `json:"close"`
	Volume      float64 `json:"volume"`
}

// Valid reports whether the row satisfies the row-level invariants:
// low <= open <= high, low <= close <= high, volume >= 0.
func (r OHLCRow) Valid() bool {
	if r.Volume < 0 {
		return false
	}
	if r.Low > r.High {
		return false
	}
	if r.Low > r.Open || r.Open > r.High {
		return false
	}
	if r.Low > r.Close || r.Close > r.High {
		return false
	}
	return true
}

// DateFromTimestampMS derives the UTC YYYY-MM-DD date string for a
// millisecond epoch timestamp.
func DateFromTimestampMS(ts int64) string {
	return time.UnixMilli(ts).UTC().Format("2006-01-02")
}

// MacroRow is one observation for a macro indicator, keyed by
// (IndicatorID, Date). Value is nil when the observation is missing.
type MacroRow struct {
	IndicatorID      string   `json:"indicator_id"`
	Date             string   `json:"date"` // YYYY-MM-DD, UTC
	Value            *float64 `json:"value"`
	IsInterpolated   bool     `json:"is_interpolated"`
	IsForwardFilled  bool     `json:"is_forward_filled"`
}

// Bundle is the transient, read-only snapshot the Store produces for the
// Strategy Runner: OHLC rows per asset and macro rows per indicator, all
// deduplicated and sorted ascending, sharing one consistent "now" window
// boundary.
type Bundle struct {
	Now    time.Time
	OHLC   map[string][]OHLCRow
	Macro  map[string][]MacroRow
}

// Closes extracts the close prices, in time order, for an asset.
func (b Bundle) Closes(assetID string) []float64 {
	rows := b.OHLC[assetID]
	out := make([]float64, len(rows))
	for i, r := range rows {
		out[i] = r.Close
	}
	return out
}
