// Package model holds the canonical records shared between venue adapters
// and the detection pipeline.
package model

import "time"

// Venue identifies the exchange a trade or market came from.
type Venue string

const (
	VenuePolymarket Venue = "polymarket"
	VenueKalshi     Venue = "kalshi"
)

// Side is the direction of a trade.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Trade is the canonical, venue-normalized trade record. Immutable once
// produced by an adapter.
type Trade struct {
	// ID is globally unique across venues: the venue-native id with a
	// venue/source prefix, deterministic from stable fields so the same
	// event hashes to the same id whether it arrived via stream or poll.
	ID       string
	Venue    Venue
	MarketID string

	// TraderID is an opaque lower-cased address, or a venue sentinel
	// (e.g. "kalshi_anon") when the venue hides trader identity.
	TraderID string

	Outcome   string
	Side      Side
	Size      float64
	Price     float64 // normalized into [0,1]
	AmountUSD float64 // size * price
	Timestamp time.Time
	TxHash    string

	// SupportsTraderIdentity is declared by the adapter; identity-dependent
	// detectors are skipped when false.
	SupportsTraderIdentity bool
}

// Anonymous reports whether identity-dependent detectors must skip this trade.
func (t Trade) Anonymous() bool {
	return !t.SupportsTraderIdentity || t.TraderID == ""
}
