// Package bias derives a directional bias signal from a corrected snapshot
// and the feed's latest trade price. Pure and stateless: no I/O, no clocks.
package bias

import (
	"math"

	"snapsig/internal/model"
)

// Signal is the derived classification with targets and a bounded confidence.
type Signal struct {
	Kind       model.BiasKind
	Primary    float64 // the band anchor, first target in all cases
	Secondary  float64 // crossed edge on breakouts; anchor otherwise
	Confidence float64 // in [0,1]
}

// Generate classifies lastPrice against the snapshot band.
//
// Boundary tie-break is explicit: a price sitting exactly on an edge is
// InsideBand (breakouts use strict inequality).
//
// Confidence: inside the band it decays linearly from 1 at the anchor to 0
// half a band-width away; on breakouts it grows with the distance beyond the
// crossed edge, saturating at one full band-width. The band width is floored
// at one tick so a degenerate band cannot divide by zero.
func Generate(snap model.CorrectedSnapshot, lastPrice, tickSize float64) Signal {
	width := snap.Upper - snap.Lower
	if width < tickSize {
		width = tickSize
	}

	// A collapsed band on a tickless feed leaves no width to scale by.
	// Classify against the single level directly; any separation from it
	// is maximal relative to a zero-width band.
	if width <= 0 {
		switch {
		case lastPrice > snap.Upper:
			return Signal{Kind: model.BreakoutUp, Primary: snap.Reference, Secondary: snap.Upper, Confidence: 1}
		case lastPrice < snap.Lower:
			return Signal{Kind: model.BreakoutDown, Primary: snap.Reference, Secondary: snap.Lower, Confidence: 1}
		}
		return Signal{Kind: model.InsideBand, Primary: snap.Reference, Secondary: snap.Reference, Confidence: 1}
	}

	switch {
	case lastPrice > snap.Upper:
		return Signal{
			Kind:       model.BreakoutUp,
			Primary:    snap.Reference,
			Secondary:  snap.Upper,
			Confidence: math.Min(1, (lastPrice-snap.Upper)/width),
		}
	case lastPrice < snap.Lower:
		return Signal{
			Kind:       model.BreakoutDown,
			Primary:    snap.Reference,
			Secondary:  snap.Lower,
			Confidence: math.Min(1, (snap.Lower-lastPrice)/width),
		}
	}

	return Signal{
		Kind:       model.InsideBand,
		Primary:    snap.Reference,
		Secondary:  snap.Reference,
		Confidence: clamp01(1 - math.Abs(lastPrice-snap.Reference)/(0.5*width)),
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
