// Package engine runs the per-bar pipeline: read the raw triplet, normalize
// it, validate and correct it, thread it through the lineage tracker, derive
// the bias signal, and hand the resulting records to the emission sink.
//
// Every cycle is a synchronous, bounded computation. Nothing here is fatal:
// unavailable or invalid input becomes a diagnostic record, duplicate bars
// are silently suppressed, and invariant violations are corrected and
// emitted rather than rejected.
package engine

import (
	"time"

	"snapsig/internal/bias"
	"snapsig/internal/model"
	"snapsig/internal/normalize"
	"snapsig/internal/tracker"
	"snapsig/internal/validate"
)

// Engine wires the pipeline stages for a configured set of feeds.
// Feeds are registered at construction and immutable afterwards; per-feed
// mutable state lives in the tracker, which locks per feed, so a
// multi-threaded driver may run cycles for different feeds concurrently.
type Engine struct {
	feeds   map[string]model.Feed
	source  model.TripletSource
	prices  model.PriceSource
	tracker *tracker.Tracker
	sink    model.RecordSink
	runID   string

	// Metrics hooks (optional, set externally before first cycle)
	OnCorrection func(v model.ViolationKind)
	OnDiagnostic func(reason model.DiagReason)
	OnSuppressed func()
	OnSnapshot   func(scope model.Scope)
	OnBias       func(kind model.BiasKind)
	OnRescale    func()
}

// New creates an Engine over the given feeds and collaborators.
func New(feeds []model.Feed, source model.TripletSource, prices model.PriceSource,
	tr *tracker.Tracker, sink model.RecordSink, runID string) *Engine {

	m := make(map[string]model.Feed, len(feeds))
	for _, f := range feeds {
		m[f.Key()] = f
	}
	return &Engine{
		feeds:   m,
		source:  source,
		prices:  prices,
		tracker: tr,
		sink:    sink,
		runID:   runID,
	}
}

// Tracker exposes the lineage tracker for checkpointing.
func (e *Engine) Tracker() *tracker.Tracker { return e.tracker }

// Feed resolves a configured feed by key.
func (e *Engine) Feed(key string) (model.Feed, bool) {
	f, ok := e.feeds[key]
	return f, ok
}

// CycleEvent runs one cycle for the feed a bar event belongs to.
// Events for unconfigured feeds are ignored.
func (e *Engine) CycleEvent(ev model.BarEvent) {
	f, ok := e.feeds[ev.Key()]
	if !ok {
		return
	}
	e.Cycle(f, ev.BarIndex)
}

// Cycle runs the full pipeline for one feed at one bar index.
func (e *Engine) Cycle(feed model.Feed, barIndex int) {
	key := feed.Key()
	now := time.Now().UTC()

	raw, ok := e.source.ReadTriplet(feed, model.ScopeCurrent, barIndex)
	if !ok {
		e.diagnose(key, barIndex, model.ReasonUnavailable, "", now)
		// Unavailable input never advances lineage, but a duplicate bar
		// must still be suppressed rather than re-diagnosed downstream.
		e.tracker.Observe(key, barIndex, nil)
		return
	}

	norm, rescaled, ok := normalize.Triplet(feed, raw)
	if !ok {
		e.diagnose(key, barIndex, model.ReasonInvalidTriplet, "non-positive after normalization", now)
		e.tracker.Observe(key, barIndex, nil)
		return
	}

	snap, ok := validate.Correct(norm, barIndex)
	if !ok {
		e.diagnose(key, barIndex, model.ReasonInvalidTriplet, "non-positive triplet", now)
		e.tracker.Observe(key, barIndex, nil)
		return
	}

	res := e.tracker.Observe(key, barIndex, &snap)
	switch res.Outcome {
	case tracker.Suppressed:
		// Expected steady state between bar closes; not even a diagnostic.
		if e.OnSuppressed != nil {
			e.OnSuppressed()
		}
		return
	case tracker.NoData:
		return
	}

	// The mis-scaling heuristic is observable by contract: every advancing
	// bar it fired for leaves a diagnostic trail next to its snapshot.
	// Emitting it only after the duplicate check keeps suppressed cycles
	// fully silent.
	if rescaled {
		e.diagnose(key, barIndex, model.ReasonRescaled, "", now)
		if e.OnRescale != nil {
			e.OnRescale()
		}
	}

	if res.EmitPrevious != nil {
		e.emitSnapshot(key, res.EmitPrevious, model.ScopePrevious, now)
	}
	e.emitSnapshot(key, &snap, model.ScopeCurrent, now)

	lastPrice, ok := e.prices.LastPrice(feed)
	if !ok {
		e.diagnose(key, barIndex, model.ReasonPriceUnavailable, "", now)
		return
	}
	px, pok := normalize.Price(feed, lastPrice)
	if !pok {
		e.diagnose(key, barIndex, model.ReasonPriceUnavailable, "non-positive last price", now)
		return
	}
	if px.Rescaled {
		e.diagnose(key, barIndex, model.ReasonRescaled, "last price", now)
		if e.OnRescale != nil {
			e.OnRescale()
		}
	}

	sig := bias.Generate(snap, px.Price, feed.TickSize)
	e.sink.Emit(&model.BiasRecord{
		Type:       model.KindBias,
		Feed:       key,
		BarIndex:   barIndex,
		LastPrice:  px.Price,
		Bias:       sig.Kind,
		Primary:    sig.Primary,
		Secondary:  sig.Secondary,
		Confidence: sig.Confidence,
		RunID:      e.runID,
		TS:         now,
	})
	if e.OnBias != nil {
		e.OnBias(sig.Kind)
	}
}

func (e *Engine) emitSnapshot(feedKey string, snap *model.CorrectedSnapshot, scope model.Scope, now time.Time) {
	e.sink.Emit(&model.SnapshotRecord{
		Type:       model.KindSnapshot,
		Feed:       feedKey,
		BarIndex:   snap.BarIndex,
		Scope:      scope,
		Reference:  snap.Reference,
		Upper:      snap.Upper,
		Lower:      snap.Lower,
		Corrected:  snap.Corrected,
		Violations: snap.Violations,
		RunID:      e.runID,
		TS:         now,
	})
	if e.OnSnapshot != nil {
		e.OnSnapshot(scope)
	}
	if snap.Corrected && scope == model.ScopeCurrent {
		for _, v := range snap.Violations {
			if e.OnCorrection != nil {
				e.OnCorrection(v)
			}
		}
	}
}

func (e *Engine) diagnose(feedKey string, barIndex int, reason model.DiagReason, detail string, now time.Time) {
	e.sink.Emit(&model.DiagnosticRecord{
		Type:     model.KindDiagnostic,
		Feed:     feedKey,
		BarIndex: barIndex,
		Reason:   reason,
		Detail:   detail,
		RunID:    e.runID,
		TS:       now,
	})
	if e.OnDiagnostic != nil {
		e.OnDiagnostic(reason)
	}
}
