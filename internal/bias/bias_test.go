package bias

import (
	"math"
	"testing"

	"snapsig/internal/model"
)

const tick = 0.25

func band(ref, upper, lower float64) model.CorrectedSnapshot {
	return model.CorrectedSnapshot{Reference: ref, Upper: upper, Lower: lower}
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestGenerate_BreakoutUp(t *testing.T) {
	s := Generate(band(6430.75, 6454, 6430), 6460, tick)

	if s.Kind != model.BreakoutUp {
		t.Fatalf("kind: %v", s.Kind)
	}
	if s.Primary != 6430.75 {
		t.Errorf("primary target is the anchor: got %v", s.Primary)
	}
	if s.Secondary != 6454 {
		t.Errorf("secondary target is the crossed edge: got %v", s.Secondary)
	}
	// (6460 - 6454) / (6454 - 6430) = 0.25
	if !approx(s.Confidence, 0.25) {
		t.Errorf("confidence: got %v, want 0.25", s.Confidence)
	}
}

func TestGenerate_BreakoutDown(t *testing.T) {
	s := Generate(band(6440, 6454, 6430), 6418, tick)

	if s.Kind != model.BreakoutDown {
		t.Fatalf("kind: %v", s.Kind)
	}
	if s.Secondary != 6430 {
		t.Errorf("secondary: got %v", s.Secondary)
	}
	// (6430 - 6418) / 24 = 0.5
	if !approx(s.Confidence, 0.5) {
		t.Errorf("confidence: got %v, want 0.5", s.Confidence)
	}
}

func TestGenerate_BreakoutConfidenceSaturates(t *testing.T) {
	// Far beyond one band-width past the edge: clamp to 1.
	s := Generate(band(6440, 6454, 6430), 6600, tick)
	if s.Confidence != 1 {
		t.Errorf("confidence: got %v, want 1", s.Confidence)
	}
}

func TestGenerate_InsideBand(t *testing.T) {
	s := Generate(band(6440, 6454, 6430), 6440, tick)

	if s.Kind != model.InsideBand {
		t.Fatalf("kind: %v", s.Kind)
	}
	if s.Primary != 6440 || s.Secondary != 6440 {
		t.Errorf("inside band has no distinct second target: %v/%v", s.Primary, s.Secondary)
	}
	if s.Confidence != 1 {
		t.Errorf("at the anchor confidence is 1, got %v", s.Confidence)
	}

	// Half a band-width from the anchor: confidence decays to 0.
	s = Generate(band(6440, 6454, 6430), 6452, tick)
	if !approx(s.Confidence, 0) {
		t.Errorf("confidence at half-width: got %v, want 0", s.Confidence)
	}
}

func TestGenerate_InsideConfidenceClamped(t *testing.T) {
	// An off-center anchor can put an in-band price more than half a width
	// away; confidence clamps at 0 instead of going negative.
	s := Generate(band(6452, 6454, 6430), 6431, tick)
	if s.Kind != model.InsideBand {
		t.Fatalf("kind: %v", s.Kind)
	}
	if s.Confidence != 0 {
		t.Errorf("confidence: got %v, want 0", s.Confidence)
	}
}

func TestGenerate_EdgeEqualityIsInside(t *testing.T) {
	for _, price := range []float64{6454, 6430} {
		s := Generate(band(6440, 6454, 6430), price, tick)
		if s.Kind != model.InsideBand {
			t.Errorf("price %v on edge: got %v, want InsideBand", price, s.Kind)
		}
	}
}

func TestGenerate_DegenerateBandUsesTickFloor(t *testing.T) {
	// Zero-width band: range floors at one tick, no division by zero.
	s := Generate(band(6430, 6430, 6430), 6430.25, tick)
	if s.Kind != model.BreakoutUp {
		t.Fatalf("kind: %v", s.Kind)
	}
	// distance beyond edge = 0.25, range = tick = 0.25
	if s.Confidence != 1 {
		t.Errorf("confidence: got %v, want 1", s.Confidence)
	}

	s = Generate(band(6430, 6430, 6430), 6430, tick)
	if s.Kind != model.InsideBand || s.Confidence != 1 {
		t.Errorf("on-anchor degenerate band: %+v", s)
	}
}

func TestGenerate_CollapsedBandZeroTick(t *testing.T) {
	// A tickless feed can deliver an all-equal triplet (the validator
	// accepts it); with no tick to floor the width there is nothing to
	// scale by, and confidence must still land in [0,1], never NaN.
	s := Generate(band(6430, 6430, 6430), 6430, 0)
	if s.Kind != model.InsideBand {
		t.Fatalf("kind: %v", s.Kind)
	}
	if s.Confidence != 1 {
		t.Errorf("on-anchor confidence: got %v, want 1", s.Confidence)
	}
	if math.IsNaN(s.Confidence) {
		t.Fatal("confidence is NaN")
	}

	// Any separation from the single level is a maximal-confidence breakout.
	s = Generate(band(6430, 6430, 6430), 6431, 0)
	if s.Kind != model.BreakoutUp || s.Confidence != 1 {
		t.Errorf("above collapsed band: %+v", s)
	}
	s = Generate(band(6430, 6430, 6430), 6429, 0)
	if s.Kind != model.BreakoutDown || s.Confidence != 1 {
		t.Errorf("below collapsed band: %+v", s)
	}
}

func TestGenerate_ConfidenceAlwaysBounded(t *testing.T) {
	bands := []model.CorrectedSnapshot{
		band(6440, 6454, 6430),
		band(6430, 6430, 6430),
		band(6452, 6454, 6430),
	}
	prices := []float64{6400, 6429, 6430, 6430.25, 6440, 6454, 6460, 7000}
	for _, ticksz := range []float64{0, tick} {
		for _, b := range bands {
			for _, p := range prices {
				s := Generate(b, p, ticksz)
				if math.IsNaN(s.Confidence) || s.Confidence < 0 || s.Confidence > 1 {
					t.Errorf("confidence out of [0,1]: %v (band %+v price %v tick %v)",
						s.Confidence, b, p, ticksz)
				}
			}
		}
	}
}

func TestGenerate_IsPure(t *testing.T) {
	snap := band(6440, 6454, 6430)
	a := Generate(snap, 6460, tick)
	b := Generate(snap, 6460, tick)
	if a != b {
		t.Errorf("same inputs, different signals: %+v vs %+v", a, b)
	}
	if snap.Reference != 6440 || snap.Upper != 6454 || snap.Lower != 6430 {
		t.Errorf("input snapshot mutated: %+v", snap)
	}
}
