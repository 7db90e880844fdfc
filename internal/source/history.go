// Package source adapts host bar-close payloads into the triplet/price
// ports the engine consumes. The charting host owns the real study arrays;
// this package keeps a bounded in-memory window of them per feed so a
// supplied bar index can be clamped to known bounds instead of failing.
package source

import (
	"sync"

	"snapsig/internal/model"
)

// defaultMaxBars bounds the per-feed history window. One trading day of
// 30-minute bars is tiny; the default leaves ample room for second charts.
const defaultMaxBars = 4096

// barEntry is one stored bar's readings.
type barEntry struct {
	barIndex int
	current  model.RawTriplet
	previous *model.RawTriplet
	price    float64
	hasPrice bool
}

// feedHistory is the bounded per-feed bar window.
type feedHistory struct {
	mu   sync.RWMutex
	bars []barEntry // ascending bar index
}

// History stores recent bar events per feed and implements both
// model.TripletSource and model.PriceSource over them.
type History struct {
	mu      sync.RWMutex
	feeds   map[string]*feedHistory
	maxBars int
}

// NewHistory creates an empty History with the default window size.
func NewHistory() *History {
	return &History{
		feeds:   make(map[string]*feedHistory, 16),
		maxBars: defaultMaxBars,
	}
}

func (h *History) feed(key string) *feedHistory {
	h.mu.RLock()
	fh, ok := h.feeds[key]
	h.mu.RUnlock()
	if ok {
		return fh
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if fh, ok = h.feeds[key]; ok {
		return fh
	}
	fh = &feedHistory{}
	h.feeds[key] = fh
	return fh
}

// Append records one bar event. A re-delivery of the latest bar index
// overwrites that bar in place (the host re-pushes the forming bar);
// otherwise bars are expected in non-decreasing index order.
func (h *History) Append(ev model.BarEvent) {
	fh := h.feed(ev.Key())
	fh.mu.Lock()
	defer fh.mu.Unlock()

	entry := barEntry{
		barIndex: ev.BarIndex,
		current:  ev.Current,
		previous: ev.Previous,
		price:    ev.LastPrice,
		hasPrice: ev.HasPrice,
	}

	if n := len(fh.bars); n > 0 && fh.bars[n-1].barIndex == ev.BarIndex {
		fh.bars[n-1] = entry
		return
	}
	fh.bars = append(fh.bars, entry)
	if len(fh.bars) > h.maxBars {
		fh.bars = fh.bars[len(fh.bars)-h.maxBars:]
	}
}

// ReadTriplet returns the stored triplet for the given scope at barIndex,
// clamping barIndex to the known bounds. ok=false when the feed has no bars
// yet, or the requested scope was never delivered for that bar.
func (h *History) ReadTriplet(feed model.Feed, scope model.Scope, barIndex int) (model.RawTriplet, bool) {
	fh := h.feed(feed.Key())
	fh.mu.RLock()
	defer fh.mu.RUnlock()

	entry, ok := fh.at(barIndex)
	if !ok {
		return model.RawTriplet{}, false
	}

	switch scope {
	case model.ScopePrevious:
		if entry.previous == nil {
			return model.RawTriplet{}, false
		}
		return *entry.previous, true
	default:
		return entry.current, true
	}
}

// LastPrice returns the most recent trade price seen for the feed.
func (h *History) LastPrice(feed model.Feed) (float64, bool) {
	fh := h.feed(feed.Key())
	fh.mu.RLock()
	defer fh.mu.RUnlock()

	// Walk back to the newest bar that carried a price.
	for i := len(fh.bars) - 1; i >= 0; i-- {
		if fh.bars[i].hasPrice {
			return fh.bars[i].price, true
		}
	}
	return 0, false
}

// Bounds returns the lowest and highest stored bar index for a feed.
func (h *History) Bounds(feedKey string) (lo, hi int, ok bool) {
	fh := h.feed(feedKey)
	fh.mu.RLock()
	defer fh.mu.RUnlock()
	if len(fh.bars) == 0 {
		return 0, 0, false
	}
	return fh.bars[0].barIndex, fh.bars[len(fh.bars)-1].barIndex, true
}

// at locates a bar by index, clamped to [first, last]. Caller holds the lock.
func (fh *feedHistory) at(barIndex int) (*barEntry, bool) {
	n := len(fh.bars)
	if n == 0 {
		return nil, false
	}
	if barIndex <= fh.bars[0].barIndex {
		return &fh.bars[0], true
	}
	if barIndex >= fh.bars[n-1].barIndex {
		return &fh.bars[n-1], true
	}

	// Binary search; bars are kept ascending by index.
	lo, hi := 0, n-1
	for lo <= hi {
		mid := (lo + hi) / 2
		switch {
		case fh.bars[mid].barIndex == barIndex:
			return &fh.bars[mid], true
		case fh.bars[mid].barIndex < barIndex:
			lo = mid + 1
		default:
			hi = mid - 1
		}
	}
	// Not stored exactly (gap): clamp to the nearest older bar.
	return &fh.bars[hi], true
}
