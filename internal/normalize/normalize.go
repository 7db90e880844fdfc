// Package normalize maps raw host prices onto a feed's tick grid and
// screens out clearly mis-scaled inputs. The charting host has a known bug
// where some study arrays arrive multiplied by a fixed factor; the rescale
// heuristic here divides once by the feed's configured divisor when a raw
// price exceeds the feed's implausibility threshold. The heuristic is
// per-feed configurable and every firing is surfaced to the caller so a
// diagnostic can be emitted — it is never applied silently.
package normalize

import (
	"math"

	"snapsig/internal/model"
)

// Result describes one normalized price.
type Result struct {
	Price    float64
	Rescaled bool // true when the mis-scaling heuristic fired
}

// Price normalizes a single raw price for the given feed.
// ok=false means the value is unusable (zero or negative after rescaling)
// and must be treated as unavailable.
func Price(f model.Feed, raw float64) (Result, bool) {
	v := raw

	if f.RescaleThreshold > 0 && v > f.RescaleThreshold {
		div := f.RescaleDivisor
		if div <= 0 {
			div = 100
		}
		v /= div
		if v <= 0 {
			return Result{}, false
		}
		return Result{Price: snap(v, f.TickSize), Rescaled: true}, true
	}

	if v <= 0 {
		return Result{}, false
	}
	return Result{Price: snap(v, f.TickSize)}, true
}

// Triplet normalizes all three triplet components. ok=false when any
// component is unusable; Rescaled is true when the heuristic fired on any.
func Triplet(f model.Feed, raw model.RawTriplet) (model.RawTriplet, bool, bool) {
	ref, okR := Price(f, raw.Reference)
	up, okU := Price(f, raw.Upper)
	lo, okL := Price(f, raw.Lower)
	if !okR || !okU || !okL {
		return model.RawTriplet{}, false, false
	}
	return model.RawTriplet{
		Reference: ref.Price,
		Upper:     up.Price,
		Lower:     lo.Price,
	}, ref.Rescaled || up.Rescaled || lo.Rescaled, true
}

// snap rounds v to the nearest multiple of tick. A non-positive tick
// disables rounding (the feed is treated as continuously priced).
func snap(v, tick float64) float64 {
	if tick <= 0 {
		return v
	}
	return math.Round(v/tick) * tick
}
