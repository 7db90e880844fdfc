package model

// Feed identifies one instrument/chart stream exported by the charting host.
// Created at configuration time, immutable afterwards.
type Feed struct {
	Symbol string  `json:"symbol" yaml:"symbol"` // e.g. "ESZ5"
	Chart  int     `json:"chart" yaml:"chart"`   // host chart number
	Name   string  `json:"name,omitempty" yaml:"name,omitempty"`

	// TickSize is the minimum price movement. Prices are snapped onto
	// this grid by the normalizer.
	TickSize float64 `json:"tick_size" yaml:"tick_size"`

	// RescaleThreshold guards against a known host mis-scaling bug:
	// a raw price above this value is divided once by RescaleDivisor
	// before rounding. Zero disables the heuristic for this feed.
	RescaleThreshold float64 `json:"rescale_threshold,omitempty" yaml:"rescale_threshold,omitempty"`
	RescaleDivisor   float64 `json:"rescale_divisor,omitempty" yaml:"rescale_divisor,omitempty"`
}

// Key returns a unique key for this feed: "symbol:chart".
func (f *Feed) Key() string {
	return f.Symbol + ":" + Itoa(f.Chart)
}
