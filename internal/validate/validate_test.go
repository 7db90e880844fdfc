package validate

import (
	"math"
	"testing"

	"snapsig/internal/model"
)

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestCorrect_CleanTriplet(t *testing.T) {
	snap, ok := Correct(model.RawTriplet{Reference: 6440, Upper: 6454.0, Lower: 6430.75}, 812)
	if !ok {
		t.Fatal("expected valid snapshot")
	}
	if snap.Corrected {
		t.Error("clean triplet must not be marked corrected")
	}
	if len(snap.Violations) != 0 {
		t.Errorf("unexpected violations: %v", snap.Violations)
	}
	if snap.BarIndex != 812 {
		t.Errorf("bar index: got %d", snap.BarIndex)
	}
}

func TestCorrect_OrderInverted(t *testing.T) {
	// Host delivered the band bounds swapped.
	snap, ok := Correct(model.RawTriplet{Reference: 6440, Upper: 6430.75, Lower: 6454.0}, 1)
	if !ok {
		t.Fatal("expected valid snapshot")
	}
	if snap.Upper != 6454.0 || snap.Lower != 6430.75 {
		t.Errorf("band after swap: upper=%v lower=%v", snap.Upper, snap.Lower)
	}
	if snap.Reference != 6440 {
		t.Errorf("reference must be untouched, got %v", snap.Reference)
	}
	if !snap.Corrected {
		t.Error("expected corrected=true")
	}
	if len(snap.Violations) != 1 || snap.Violations[0] != model.OrderInverted {
		t.Errorf("violations: %v", snap.Violations)
	}
}

func TestCorrect_ReferenceAboveUpper(t *testing.T) {
	snap, ok := Correct(model.RawTriplet{Reference: 6500, Upper: 6454, Lower: 6430}, 2)
	if !ok {
		t.Fatal("expected valid snapshot")
	}
	// Pulled 10% of the band width inside the crossed edge.
	if want := 6454 - 0.1*(6454.0-6430.0); !approx(snap.Reference, want) {
		t.Errorf("reference: got %v, want %v", snap.Reference, want)
	}
	if !approx(snap.Reference, 6451.6) {
		t.Errorf("reference: got %v, want 6451.6", snap.Reference)
	}
	if len(snap.Violations) != 1 || snap.Violations[0] != model.ReferenceAboveUpper {
		t.Errorf("violations: %v", snap.Violations)
	}
}

func TestCorrect_ReferenceBelowLower(t *testing.T) {
	snap, ok := Correct(model.RawTriplet{Reference: 6400, Upper: 6454, Lower: 6430}, 3)
	if !ok {
		t.Fatal("expected valid snapshot")
	}
	if want := 6430 + 0.1*(6454.0-6430.0); !approx(snap.Reference, want) {
		t.Errorf("reference: got %v, want %v", snap.Reference, want)
	}
	if len(snap.Violations) != 1 || snap.Violations[0] != model.ReferenceBelowLower {
		t.Errorf("violations: %v", snap.Violations)
	}
}

func TestCorrect_OrderThenContainment(t *testing.T) {
	// Inverted band AND escaped reference: the swap resolves first, then
	// containment runs against the repaired band.
	snap, ok := Correct(model.RawTriplet{Reference: 6500, Upper: 6430, Lower: 6454}, 4)
	if !ok {
		t.Fatal("expected valid snapshot")
	}
	if snap.Upper != 6454 || snap.Lower != 6430 {
		t.Errorf("band: upper=%v lower=%v", snap.Upper, snap.Lower)
	}
	if !approx(snap.Reference, 6451.6) {
		t.Errorf("reference: got %v, want 6451.6", snap.Reference)
	}
	want := []model.ViolationKind{model.OrderInverted, model.ReferenceAboveUpper}
	if len(snap.Violations) != 2 || snap.Violations[0] != want[0] || snap.Violations[1] != want[1] {
		t.Errorf("violations order: %v, want %v", snap.Violations, want)
	}
}

func TestCorrect_InvariantAlwaysHolds(t *testing.T) {
	cases := []model.RawTriplet{
		{Reference: 6440, Upper: 6454, Lower: 6430},
		{Reference: 6440, Upper: 6430, Lower: 6454},
		{Reference: 9999, Upper: 6454, Lower: 6430},
		{Reference: 1, Upper: 6430, Lower: 6454},
		{Reference: 6430, Upper: 6430, Lower: 6430}, // degenerate zero-width band
	}
	for _, raw := range cases {
		snap, ok := Correct(raw, 0)
		if !ok {
			t.Fatalf("unexpectedly invalid: %+v", raw)
		}
		if !(snap.Lower <= snap.Reference && snap.Reference <= snap.Upper) {
			t.Errorf("invariant broken for %+v: %+v", raw, snap)
		}
	}
}

func TestCorrect_NonPositiveDiscarded(t *testing.T) {
	cases := []model.RawTriplet{
		{},                                         // all zero: study not found on host
		{Reference: 6440, Upper: 6454, Lower: 0},   // one component missing
		{Reference: -6440, Upper: 6454, Lower: 6430},
	}
	for _, raw := range cases {
		if _, ok := Correct(raw, 0); ok {
			t.Errorf("expected discard for %+v", raw)
		}
	}
}

func TestCorrect_BoundaryEquality(t *testing.T) {
	// Reference sitting exactly on an edge is contained, not a violation.
	for _, ref := range []float64{6430.0, 6454.0} {
		snap, ok := Correct(model.RawTriplet{Reference: ref, Upper: 6454, Lower: 6430}, 0)
		if !ok {
			t.Fatal("expected valid")
		}
		if snap.Corrected {
			t.Errorf("reference %v on edge must not be corrected", ref)
		}
	}
}
