package model

// Scope marks whether a snapshot describes the currently-forming period
// or the immediately preceding one.
type Scope string

const (
	ScopeCurrent  Scope = "current"
	ScopePrevious Scope = "previous"
)

// ViolationKind enumerates the structural invariants a raw triplet can break.
type ViolationKind string

const (
	OrderInverted       ViolationKind = "order_inverted"        // upper < lower
	ReferenceBelowLower ViolationKind = "reference_below_lower" // reference < lower
	ReferenceAboveUpper ViolationKind = "reference_above_upper" // reference > upper
)

// RawTriplet is one per-bar indicator reading as delivered by the host:
// a central reference price and the high/low band around it
// (e.g. volume point of control plus value-area bounds).
// Ephemeral, produced once per read attempt.
type RawTriplet struct {
	Reference float64 `json:"reference"`
	Upper     float64 `json:"upper"`
	Lower     float64 `json:"lower"`
}

// CorrectedSnapshot is a triplet that passed validation, with any
// auto-corrections applied and recorded. For every snapshot that reaches
// the state tracker, lower <= reference <= upper holds.
type CorrectedSnapshot struct {
	Reference  float64         `json:"reference"`
	Upper      float64         `json:"upper"`
	Lower      float64         `json:"lower"`
	BarIndex   int             `json:"bar_index"`
	Corrected  bool            `json:"corrected"`
	Violations []ViolationKind `json:"violations,omitempty"` // in firing order
}

// SameBand reports whether two snapshots agree on reference/upper/lower.
// Used by the tracker to suppress redundant previous-scope emissions.
func (s *CorrectedSnapshot) SameBand(o *CorrectedSnapshot) bool {
	return s.Reference == o.Reference && s.Upper == o.Upper && s.Lower == o.Lower
}
