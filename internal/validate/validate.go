// Package validate enforces the structural invariants on normalized
// indicator triplets and auto-corrects violations with an audit trail.
// Corrections are never errors: a violating triplet is repaired, flagged
// and emitted; only non-positive inputs are discarded outright.
package validate

import (
	"snapsig/internal/model"
)

// containmentPull is the fraction of the band width the reference is moved
// inward when it falls outside the band. Pulling 10% in (instead of snapping
// to the midpoint) keeps the corrected reference near its original side of
// the band, so the bias generator still sees which edge it came from.
const containmentPull = 0.1

// Correct applies the ordering and containment invariants to a normalized
// triplet, in fixed order: (1) swap an inverted band, (2) pull an escaped
// reference back inside. ok=false means the triplet is invalid (a component
// is not strictly positive) — no correction is attempted and nothing should
// be emitted downstream beyond a diagnostic.
func Correct(raw model.RawTriplet, barIndex int) (model.CorrectedSnapshot, bool) {
	if raw.Reference <= 0 || raw.Upper <= 0 || raw.Lower <= 0 {
		return model.CorrectedSnapshot{}, false
	}

	snap := model.CorrectedSnapshot{
		Reference: raw.Reference,
		Upper:     raw.Upper,
		Lower:     raw.Lower,
		BarIndex:  barIndex,
	}

	// Order check first: containment is only meaningful once the band
	// bounds are the right way round.
	if snap.Upper < snap.Lower {
		snap.Upper, snap.Lower = snap.Lower, snap.Upper
		snap.Violations = append(snap.Violations, model.OrderInverted)
	}

	// Containment. The two cases are mutually exclusive for an ordered band.
	width := snap.Upper - snap.Lower
	if snap.Reference < snap.Lower {
		snap.Reference = snap.Lower + containmentPull*width
		snap.Violations = append(snap.Violations, model.ReferenceBelowLower)
	} else if snap.Reference > snap.Upper {
		snap.Reference = snap.Upper - containmentPull*width
		snap.Violations = append(snap.Violations, model.ReferenceAboveUpper)
	}

	snap.Corrected = len(snap.Violations) > 0
	return snap, true
}
