// Package tracker owns the per-feed snapshot lineage: the last processed
// bar index (for duplicate suppression) and the last valid corrected
// snapshot (which becomes "previous" on the next genuinely new bar).
// Each feed has its own state cell with its own lock; feeds never contend
// with each other.
package tracker

import (
	"sync"

	"snapsig/internal/model"
)

// Outcome classifies what one Observe call did to feed state.
type Outcome int

const (
	// Advanced: a new bar index with a valid snapshot; state rotated.
	Advanced Outcome = iota
	// Suppressed: duplicate bar index; at most one transition per feed per bar.
	Suppressed
	// NoData: invalid/unavailable cycle; stale state deliberately preserved.
	NoData
)

func (o Outcome) String() string {
	switch o {
	case Advanced:
		return "advanced"
	case Suppressed:
		return "suppressed"
	case NoData:
		return "no-data"
	}
	return "unknown"
}

// Result reports the outcome of one Observe call. EmitPrevious, when
// non-nil, is the superseded snapshot that must be emitted with
// scope=previous BEFORE the new current snapshot.
type Result struct {
	Outcome      Outcome
	EmitPrevious *model.CorrectedSnapshot
}

// feedState is the per-feed lineage cell. Guarded by its own mutex so a
// multi-threaded host driver processing independent feeds never takes a
// global lock.
type feedState struct {
	mu sync.Mutex

	hasLast      bool
	lastBarIndex int
	previous     *model.CorrectedSnapshot
}

// Tracker maintains one feedState per feed key.
type Tracker struct {
	mu     sync.RWMutex
	states map[string]*feedState
}

// New creates an empty Tracker.
func New() *Tracker {
	return &Tracker{
		states: make(map[string]*feedState, 16),
	}
}

// cell returns the state cell for a feed, creating it on first sight.
func (t *Tracker) cell(feedKey string) *feedState {
	t.mu.RLock()
	st, ok := t.states[feedKey]
	t.mu.RUnlock()
	if ok {
		return st
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if st, ok = t.states[feedKey]; ok {
		return st
	}
	st = &feedState{}
	t.states[feedKey] = st
	return st
}

// Observe feeds one cycle's outcome into the tracker. snap == nil means the
// cycle produced no valid snapshot (unavailable or invalid input).
//
// Order of checks is part of the contract: duplicate suppression first, then
// the no-data check, then emit-old-previous-and-rotate. The superseded
// previous is only handed back for emission when it differs from the new
// current in at least one of reference/upper/lower.
func (t *Tracker) Observe(feedKey string, barIndex int, snap *model.CorrectedSnapshot) Result {
	st := t.cell(feedKey)
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.hasLast && barIndex == st.lastBarIndex {
		return Result{Outcome: Suppressed}
	}

	if snap == nil {
		return Result{Outcome: NoData}
	}

	var emitPrev *model.CorrectedSnapshot
	if st.previous != nil && !st.previous.SameBand(snap) {
		emitPrev = st.previous
	}

	cp := *snap // value copy; the tracker never aliases caller memory
	st.previous = &cp
	st.lastBarIndex = barIndex
	st.hasLast = true

	return Result{Outcome: Advanced, EmitPrevious: emitPrev}
}

// Previous returns the tracked previous snapshot for a feed, or nil.
func (t *Tracker) Previous(feedKey string) *model.CorrectedSnapshot {
	st := t.cell(feedKey)
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.previous == nil {
		return nil
	}
	cp := *st.previous
	return &cp
}

// LastBarIndex returns the last bar index that advanced state for a feed.
func (t *Tracker) LastBarIndex(feedKey string) (int, bool) {
	st := t.cell(feedKey)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.lastBarIndex, st.hasLast
}
