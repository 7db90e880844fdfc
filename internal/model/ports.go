package model

// ── External Port Interfaces ──
// These interfaces decouple the engine from the charting host and from
// concrete emission backends (Redis, SQLite, JSONL).

// TripletSource abstracts the host's indicator-array access.
// Implementations clamp barIndex to their reported bounds rather than fail;
// ok=false means the reading is not available right now (never an error).
type TripletSource interface {
	ReadTriplet(feed Feed, scope Scope, barIndex int) (RawTriplet, bool)
}

// PriceSource provides the latest trade price for a feed.
// ok=false means no price is available this cycle.
type PriceSource interface {
	LastPrice(feed Feed) (float64, bool)
}

// RecordSink consumes the structured records the engine produces.
// Emit must not block the calling cycle; buffering and persistence are the
// sink's concern.
type RecordSink interface {
	Emit(r Record)
}
