package model

import (
	"encoding/json"
	"time"
)

// RecordKind discriminates the three record types handed to emission sinks.
type RecordKind string

const (
	KindSnapshot   RecordKind = "snapshot"
	KindBias       RecordKind = "bias"
	KindDiagnostic RecordKind = "diag"
)

// DiagReason enumerates why a cycle produced a diagnostic instead of data.
type DiagReason string

const (
	ReasonUnavailable      DiagReason = "unavailable"       // source returned no triplet
	ReasonInvalidTriplet   DiagReason = "invalid_triplet"   // non-positive values after normalization
	ReasonPriceUnavailable DiagReason = "price_unavailable" // no last trade price for bias
	ReasonRescaled         DiagReason = "rescaled"          // mis-scaling heuristic fired
)

// Record is the common surface the emission sinks consume. Records are
// plain structured values; sinks own serialization and persistence.
type Record interface {
	RecordKind() RecordKind
	FeedKey() string
	JSON() []byte
}

// SnapshotRecord is one validated (and possibly corrected) snapshot emission.
type SnapshotRecord struct {
	Type       RecordKind      `json:"type"`
	Feed       string          `json:"feed"` // feed key "symbol:chart"
	BarIndex   int             `json:"bar_index"`
	Scope      Scope           `json:"scope"`
	Reference  float64         `json:"reference"`
	Upper      float64         `json:"upper"`
	Lower      float64         `json:"lower"`
	Corrected  bool            `json:"corrected"`
	Violations []ViolationKind `json:"violations,omitempty"`
	RunID      string          `json:"run_id,omitempty"`
	TS         time.Time       `json:"ts"`
}

func (r *SnapshotRecord) RecordKind() RecordKind { return KindSnapshot }
func (r *SnapshotRecord) FeedKey() string        { return r.Feed }

// JSON returns the JSON-encoded record (ignoring errors for hot-path usage).
func (r *SnapshotRecord) JSON() []byte {
	b, _ := json.Marshal(r)
	return b
}

// StreamKey returns the Redis stream key: "rec:snapshot:{feed}".
func (r *SnapshotRecord) StreamKey() string {
	return "rec:snapshot:" + r.Feed
}

// BiasKind classifies the last trade price relative to the band.
type BiasKind string

const (
	InsideBand   BiasKind = "inside_band"
	BreakoutUp   BiasKind = "breakout_up"
	BreakoutDown BiasKind = "breakout_down"
)

// BiasRecord carries the directional bias derived from one corrected
// snapshot and the feed's latest trade price. Never mutated after creation.
type BiasRecord struct {
	Type       RecordKind `json:"type"`
	Feed       string     `json:"feed"`
	BarIndex   int        `json:"bar_index"`
	LastPrice  float64    `json:"last_price"`
	Bias       BiasKind   `json:"bias"`
	Primary    float64    `json:"primary"`   // first target: the band anchor
	Secondary  float64    `json:"secondary"` // retest level on breakouts
	Confidence float64    `json:"confidence"` // in [0,1]
	RunID      string     `json:"run_id,omitempty"`
	TS         time.Time  `json:"ts"`
}

func (r *BiasRecord) RecordKind() RecordKind { return KindBias }
func (r *BiasRecord) FeedKey() string        { return r.Feed }

func (r *BiasRecord) JSON() []byte {
	b, _ := json.Marshal(r)
	return b
}

// StreamKey returns the Redis stream key: "rec:bias:{feed}".
func (r *BiasRecord) StreamKey() string {
	return "rec:bias:" + r.Feed
}

// DiagnosticRecord reports a cycle that produced no snapshot (unavailable or
// invalid input) or a noteworthy normalization event. Downstream consumers
// may alert on repeated diagnostics for one feed.
type DiagnosticRecord struct {
	Type     RecordKind `json:"type"`
	Feed     string     `json:"feed"`
	BarIndex int        `json:"bar_index"`
	Reason   DiagReason `json:"reason"`
	Detail   string     `json:"detail,omitempty"`
	RunID    string     `json:"run_id,omitempty"`
	TS       time.Time  `json:"ts"`
}

func (r *DiagnosticRecord) RecordKind() RecordKind { return KindDiagnostic }
func (r *DiagnosticRecord) FeedKey() string        { return r.Feed }

func (r *DiagnosticRecord) JSON() []byte {
	b, _ := json.Marshal(r)
	return b
}

// StreamKey returns the Redis stream key: "rec:diag:{feed}".
func (r *DiagnosticRecord) StreamKey() string {
	return "rec:diag:" + r.Feed
}
