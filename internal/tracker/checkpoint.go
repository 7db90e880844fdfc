package tracker

import (
	"encoding/json"
	"fmt"
	"time"

	"snapsig/internal/model"
)

// checkpointVersion is bumped when the serialized layout changes.
const checkpointVersion = 1

// FeedCheckpoint is the serialized lineage for one feed.
type FeedCheckpoint struct {
	FeedKey      string                   `json:"feed"`
	HasLast      bool                     `json:"has_last"`
	LastBarIndex int                      `json:"last_bar_index"`
	Previous     *model.CorrectedSnapshot `json:"previous,omitempty"`
}

// Checkpoint is a point-in-time serialization of the whole tracker, so
// lineage (the "previous" snapshot per feed) survives a process restart.
type Checkpoint struct {
	Version int              `json:"version"`
	TakenAt time.Time        `json:"taken_at"`
	Reason  string           `json:"reason"` // "periodic" or "shutdown"
	Feeds   []FeedCheckpoint `json:"feeds"`
}

// Checkpoint captures the current state of every tracked feed.
func (t *Tracker) Checkpoint(reason string) Checkpoint {
	t.mu.RLock()
	keys := make([]string, 0, len(t.states))
	for k := range t.states {
		keys = append(keys, k)
	}
	t.mu.RUnlock()

	cp := Checkpoint{
		Version: checkpointVersion,
		TakenAt: time.Now().UTC(),
		Reason:  reason,
		Feeds:   make([]FeedCheckpoint, 0, len(keys)),
	}
	for _, k := range keys {
		st := t.cell(k)
		st.mu.Lock()
		fc := FeedCheckpoint{
			FeedKey:      k,
			HasLast:      st.hasLast,
			LastBarIndex: st.lastBarIndex,
		}
		if st.previous != nil {
			prev := *st.previous
			fc.Previous = &prev
		}
		st.mu.Unlock()
		cp.Feeds = append(cp.Feeds, fc)
	}
	return cp
}

// MarshalJSON is provided on Checkpoint implicitly via struct tags; JSON
// returns the encoded checkpoint for stores that persist raw bytes.
func (cp *Checkpoint) JSON() ([]byte, error) {
	return json.Marshal(cp)
}

// Restore loads a checkpoint into the tracker, replacing any state for the
// feeds it names. A nil checkpoint is a no-op (cold start).
func (t *Tracker) Restore(cp *Checkpoint) error {
	if cp == nil {
		return nil
	}
	if cp.Version != checkpointVersion {
		return fmt.Errorf("tracker checkpoint version %d not supported", cp.Version)
	}
	for _, fc := range cp.Feeds {
		st := t.cell(fc.FeedKey)
		st.mu.Lock()
		st.hasLast = fc.HasLast
		st.lastBarIndex = fc.LastBarIndex
		st.previous = nil
		if fc.Previous != nil {
			prev := *fc.Previous
			st.previous = &prev
		}
		st.mu.Unlock()
	}
	return nil
}

// ParseCheckpoint decodes a checkpoint previously produced by JSON().
// Returns nil, nil for empty input (no checkpoint stored yet).
func ParseCheckpoint(data []byte) (*Checkpoint, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("parse tracker checkpoint: %w", err)
	}
	return &cp, nil
}
