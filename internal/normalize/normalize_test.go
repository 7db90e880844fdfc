package normalize

import (
	"math"
	"testing"

	"snapsig/internal/model"
)

func esFeed() model.Feed {
	return model.Feed{
		Symbol:           "ESZ5",
		Chart:            3,
		TickSize:         0.25,
		RescaleThreshold: 100000,
		RescaleDivisor:   100,
	}
}

func TestPrice_TickRounding(t *testing.T) {
	f := esFeed()

	cases := []struct {
		raw  float64
		want float64
	}{
		{6430.75, 6430.75},
		{6430.80, 6430.75},
		{6430.88, 6431.00},
		{6430.625, 6430.75}, // midpoint rounds away from zero
	}
	for _, c := range cases {
		r, ok := Price(f, c.raw)
		if !ok {
			t.Fatalf("Price(%v) not ok", c.raw)
		}
		if r.Price != c.want {
			t.Errorf("Price(%v) = %v, want %v", c.raw, r.Price, c.want)
		}
		if r.Rescaled {
			t.Errorf("Price(%v) unexpectedly rescaled", c.raw)
		}
	}
}

func TestPrice_RescaleHeuristic(t *testing.T) {
	f := esFeed()

	// 643075 looks like 6430.75 multiplied by 100 by the host bug.
	r, ok := Price(f, 643075)
	if !ok {
		t.Fatal("rescaled price should be usable")
	}
	if !r.Rescaled {
		t.Error("expected rescale heuristic to fire")
	}
	if r.Price != 6430.75 {
		t.Errorf("expected 6430.75 after rescale, got %v", r.Price)
	}

	// Below the threshold the value passes through untouched.
	r, ok = Price(f, 99999)
	if !ok || r.Rescaled {
		t.Errorf("price below threshold must not rescale: %+v ok=%v", r, ok)
	}
}

func TestPrice_RescaleDisabled(t *testing.T) {
	f := esFeed()
	f.RescaleThreshold = 0 // disabled per feed config

	r, ok := Price(f, 643075)
	if !ok {
		t.Fatal("not ok")
	}
	if r.Rescaled {
		t.Error("heuristic must not fire when threshold is zero")
	}
	if r.Price != 643075 {
		t.Errorf("expected pass-through 643075, got %v", r.Price)
	}
}

func TestPrice_RejectsNonPositive(t *testing.T) {
	f := esFeed()
	for _, raw := range []float64{0, -1, -6430.75} {
		if _, ok := Price(f, raw); ok {
			t.Errorf("Price(%v) should be rejected", raw)
		}
	}
}

func TestPrice_DefaultDivisor(t *testing.T) {
	f := esFeed()
	f.RescaleDivisor = 0 // unset in config — falls back to 100

	r, ok := Price(f, 643075)
	if !ok || r.Price != 6430.75 {
		t.Errorf("expected default divisor 100: got %+v ok=%v", r, ok)
	}
}

func TestPrice_NoTickSize(t *testing.T) {
	f := esFeed()
	f.TickSize = 0

	r, ok := Price(f, 6430.803)
	if !ok {
		t.Fatal("not ok")
	}
	if r.Price != 6430.803 {
		t.Errorf("tickless feed must pass value through, got %v", r.Price)
	}
}

func TestTriplet(t *testing.T) {
	f := esFeed()

	tr, rescaled, ok := Triplet(f, model.RawTriplet{Reference: 6440.1, Upper: 6454.0, Lower: 6430.75})
	if !ok || rescaled {
		t.Fatalf("ok=%v rescaled=%v", ok, rescaled)
	}
	if tr.Reference != 6440.0 {
		t.Errorf("reference: got %v, want 6440.0", tr.Reference)
	}
	if tr.Upper != 6454.0 || tr.Lower != 6430.75 {
		t.Errorf("band: got %v/%v", tr.Upper, tr.Lower)
	}

	// One mis-scaled component rescales without poisoning the others.
	tr, rescaled, ok = Triplet(f, model.RawTriplet{Reference: 644000, Upper: 6454.0, Lower: 6430.75})
	if !ok || !rescaled {
		t.Fatalf("ok=%v rescaled=%v", ok, rescaled)
	}
	if tr.Reference != 6440.0 {
		t.Errorf("rescaled reference: got %v", tr.Reference)
	}

	// A non-positive component makes the whole triplet unavailable.
	if _, _, ok := Triplet(f, model.RawTriplet{Reference: 6440, Upper: 0, Lower: 6430.75}); ok {
		t.Error("triplet with zero component must be rejected")
	}
}

func TestSnapIsExact(t *testing.T) {
	// Snapped prices must land exactly on the grid so band comparisons
	// downstream can use equality.
	f := model.Feed{Symbol: "NQZ5", Chart: 4, TickSize: 0.25}
	r, _ := Price(f, 23999.874999)
	if rem := math.Mod(r.Price, 0.25); rem != 0 {
		t.Errorf("price %v not on tick grid (rem=%v)", r.Price, rem)
	}
}
