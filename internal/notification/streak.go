package notification

import (
	"context"
	"fmt"
	"log"
	"sync"

	"snapsig/internal/model"
)

// StreakWatcher raises an alert when a feed produces N consecutive
// data-unavailable diagnostics, which usually means the study chart is
// gone or the host bridge stopped publishing triplets for that feed.
// A healthy record (snapshot or bias) resets the streak and, if an
// alert was outstanding, sends a recovery notice.
type StreakWatcher struct {
	notifier  Notifier
	threshold int

	mu      sync.Mutex
	streaks map[string]int
	alerted map[string]bool
}

// NewStreakWatcher creates a watcher. threshold <= 0 defaults to 5.
func NewStreakWatcher(notifier Notifier, threshold int) *StreakWatcher {
	if threshold <= 0 {
		threshold = 5
	}
	return &StreakWatcher{
		notifier:  notifier,
		threshold: threshold,
		streaks:   make(map[string]int),
		alerted:   make(map[string]bool),
	}
}

// Run consumes records from ch until ctx is cancelled or ch closes.
// Intended to sit on its own sink bus subscription.
func (w *StreakWatcher) Run(ctx context.Context, ch <-chan model.Record) {
	log.Printf("[streak] watcher started (threshold=%d)", w.threshold)
	for {
		select {
		case <-ctx.Done():
			return
		case rec, ok := <-ch:
			if !ok {
				return
			}
			w.Observe(ctx, rec)
		}
	}
}

// Observe updates the per-feed streak for one record.
func (w *StreakWatcher) Observe(ctx context.Context, rec model.Record) {
	switch r := rec.(type) {
	case *model.DiagnosticRecord:
		if r.Reason == model.ReasonUnavailable || r.Reason == model.ReasonInvalidTriplet {
			w.bump(ctx, r.FeedKey())
		}
	case *model.SnapshotRecord:
		w.reset(ctx, r.FeedKey())
	case *model.BiasRecord:
		w.reset(ctx, r.FeedKey())
	}
}

func (w *StreakWatcher) bump(ctx context.Context, feed string) {
	w.mu.Lock()
	w.streaks[feed]++
	n := w.streaks[feed]
	fire := n >= w.threshold && !w.alerted[feed]
	if fire {
		w.alerted[feed] = true
	}
	w.mu.Unlock()

	if fire {
		w.notifier.Send(ctx, Alert{
			Level:   AlertWarning,
			Feed:    feed,
			Title:   "feed data outage",
			Message: fmt.Sprintf("%d consecutive bars without usable indicator data", n),
			Streak:  n,
		})
	}
}

func (w *StreakWatcher) reset(ctx context.Context, feed string) {
	w.mu.Lock()
	wasAlerted := w.alerted[feed]
	w.streaks[feed] = 0
	w.alerted[feed] = false
	w.mu.Unlock()

	if wasAlerted {
		w.notifier.Send(ctx, Alert{
			Level:   AlertInfo,
			Feed:    feed,
			Title:   "feed recovered",
			Message: "usable indicator data is flowing again",
		})
	}
}

// Streak returns the current consecutive-failure count for a feed.
func (w *StreakWatcher) Streak(feed string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.streaks[feed]
}
