package model

import (
	"encoding/json"
	"time"
)

// BarEvent is one bar-close payload pushed by the charting host bridge.
// It carries the raw triplet for the currently-forming period and, when the
// host study exposes it, the previous period's triplet too.
type BarEvent struct {
	Symbol   string    `json:"symbol"`
	Chart    int       `json:"chart"`
	BarIndex int       `json:"bar_index"`

	Current  RawTriplet  `json:"current"`
	Previous *RawTriplet `json:"previous,omitempty"`

	LastPrice float64   `json:"last_price,omitempty"`
	HasPrice  bool      `json:"has_price,omitempty"`
	TS        time.Time `json:"ts"`
}

// Key returns "symbol:chart", matching Feed.Key().
func (e *BarEvent) Key() string {
	return e.Symbol + ":" + Itoa(e.Chart)
}

// JSON returns the JSON-encoded event.
func (e *BarEvent) JSON() []byte {
	b, _ := json.Marshal(e)
	return b
}

// StreamKey returns the Redis stream the host bridge publishes to:
// "bar:{symbol}:{chart}".
func (e *BarEvent) StreamKey() string {
	return "bar:" + e.Symbol + ":" + Itoa(e.Chart)
}
