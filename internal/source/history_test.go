package source

import (
	"testing"
	"time"

	"snapsig/internal/model"
)

var testFeed = model.Feed{Symbol: "ESZ5", Chart: 3, TickSize: 0.25}

func event(bar int, ref, upper, lower float64) model.BarEvent {
	return model.BarEvent{
		Symbol:   "ESZ5",
		Chart:    3,
		BarIndex: bar,
		Current:  model.RawTriplet{Reference: ref, Upper: upper, Lower: lower},
		TS:       time.Unix(int64(1700000000+bar*1800), 0).UTC(),
	}
}

func TestHistory_ReadCurrent(t *testing.T) {
	h := NewHistory()
	h.Append(event(10, 6440, 6454, 6430))
	h.Append(event(11, 6442, 6456, 6432))

	tr, ok := h.ReadTriplet(testFeed, model.ScopeCurrent, 11)
	if !ok || tr.Reference != 6442 {
		t.Fatalf("got %+v ok=%v", tr, ok)
	}
	tr, ok = h.ReadTriplet(testFeed, model.ScopeCurrent, 10)
	if !ok || tr.Reference != 6440 {
		t.Fatalf("got %+v ok=%v", tr, ok)
	}
}

func TestHistory_ClampsBarIndex(t *testing.T) {
	h := NewHistory()
	h.Append(event(10, 6440, 6454, 6430))
	h.Append(event(11, 6442, 6456, 6432))

	// Beyond the newest bar: clamp high.
	tr, ok := h.ReadTriplet(testFeed, model.ScopeCurrent, 999)
	if !ok || tr.Reference != 6442 {
		t.Errorf("clamp high: %+v ok=%v", tr, ok)
	}

	// Before the oldest bar: clamp low.
	tr, ok = h.ReadTriplet(testFeed, model.ScopeCurrent, -5)
	if !ok || tr.Reference != 6440 {
		t.Errorf("clamp low: %+v ok=%v", tr, ok)
	}
}

func TestHistory_GapClampsToOlderBar(t *testing.T) {
	h := NewHistory()
	h.Append(event(10, 6440, 6454, 6430))
	h.Append(event(14, 6448, 6460, 6436))

	tr, ok := h.ReadTriplet(testFeed, model.ScopeCurrent, 12)
	if !ok || tr.Reference != 6440 {
		t.Errorf("gap read: %+v ok=%v", tr, ok)
	}
}

func TestHistory_UnknownFeedNotAvailable(t *testing.T) {
	h := NewHistory()
	if _, ok := h.ReadTriplet(testFeed, model.ScopeCurrent, 0); ok {
		t.Error("empty feed must report not-available")
	}
	if _, ok := h.LastPrice(testFeed); ok {
		t.Error("empty feed must have no last price")
	}
}

func TestHistory_PreviousScope(t *testing.T) {
	h := NewHistory()
	ev := event(10, 6440, 6454, 6430)
	ev.Previous = &model.RawTriplet{Reference: 6420, Upper: 6444, Lower: 6410}
	h.Append(ev)

	tr, ok := h.ReadTriplet(testFeed, model.ScopePrevious, 10)
	if !ok || tr.Reference != 6420 {
		t.Fatalf("previous scope: %+v ok=%v", tr, ok)
	}

	// A bar delivered without the previous-period study: scope unavailable.
	h.Append(event(11, 6442, 6456, 6432))
	if _, ok := h.ReadTriplet(testFeed, model.ScopePrevious, 11); ok {
		t.Error("missing previous scope must be not-available")
	}
}

func TestHistory_RedeliveryOverwritesFormingBar(t *testing.T) {
	h := NewHistory()
	h.Append(event(10, 6440, 6454, 6430))
	h.Append(event(10, 6441, 6455, 6431)) // host re-push of the forming bar

	tr, _ := h.ReadTriplet(testFeed, model.ScopeCurrent, 10)
	if tr.Reference != 6441 {
		t.Errorf("re-delivery must overwrite in place: %+v", tr)
	}
	if lo, hi, _ := h.Bounds(testFeed.Key()); lo != 10 || hi != 10 {
		t.Errorf("bounds after re-delivery: [%d,%d]", lo, hi)
	}
}

func TestHistory_LastPrice(t *testing.T) {
	h := NewHistory()
	ev := event(10, 6440, 6454, 6430)
	ev.LastPrice = 6445.25
	ev.HasPrice = true
	h.Append(ev)
	h.Append(event(11, 6442, 6456, 6432)) // no price on this push

	px, ok := h.LastPrice(testFeed)
	if !ok || px != 6445.25 {
		t.Errorf("last price: %v ok=%v", px, ok)
	}
}

func TestHistory_WindowBounded(t *testing.T) {
	h := NewHistory()
	h.maxBars = 8
	for i := 0; i < 20; i++ {
		h.Append(event(i, 6400+float64(i), 6454, 6330))
	}

	lo, hi, ok := h.Bounds(testFeed.Key())
	if !ok || hi != 19 || lo != 12 {
		t.Errorf("bounds: [%d,%d] ok=%v", lo, hi, ok)
	}
	// Evicted bars clamp to the oldest retained one.
	tr, ok := h.ReadTriplet(testFeed, model.ScopeCurrent, 0)
	if !ok || tr.Reference != 6412 {
		t.Errorf("evicted read: %+v ok=%v", tr, ok)
	}
}
