// Package alert builds and persists alert records from trading signals
// crossing a configured percentile threshold, and sweeps expired alert
// files from disk.
package alert

import (
	"time"
)

// PositionDirection is the alert's recommended action, distinct from a
// signal's raw Direction: it also encodes conviction (STRONG_BUY vs
// WEAK_BUY, etc.).
type PositionDirection string

const (
	StrongBuy  PositionDirection = "STRONG_BUY"
	Buy        PositionDirection = "BUY"
	WeakBuy    PositionDirection = "WEAK_BUY"
	StrongSell PositionDirection = "STRONG_SELL"
	Sell       PositionDirection = "SELL"
	WeakSell   PositionDirection = "WEAK_SELL"
	Hold       PositionDirection = "HOLD"
)

// Record is one self-contained alert document.
type Record struct {
	ID                string
	Kind              string // e.g. "aggregate" or a strategy name
	AssetID           string
	GeneratedAt       time.Time
	CurrentPrice      float64
	MetricValue       float64
	ThresholdValue    float64
	PercentileRank    float64
	SourceDirection   string
	PositionDirection PositionDirection
	ThresholdExceeded bool
}

// FileName returns the alert's on-disk filename:
// {kind}_alert_{asset}_{YYYYMMDD_HHMMSS}.json.
func (r Record) FileName() string {
	return r.Kind + "_alert_" + r.AssetID + "_" + r.GeneratedAt.UTC().Format("20060102_150405") + ".json"
}
