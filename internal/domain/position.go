package domain

import "time"

// Position represents the locally known holding on a futures symbol.
// Exactly one non-flat position per symbol is authoritative at any time;
// flat is a terminal row of its own, not an absent record, so closed
// positions remain as history.
type Position struct {
	ID          int64         // Unique identifier (from DB)
	Symbol      string        // Trading symbol (e.g., "BTCUSDT")
	Side        Side          // long, short, or flat
	Size        float64       // Net size, recomputed from fills, never drifted
	EntryPrice  float64       // Volume-weighted entry price (0 when flat)
	Leverage    int           // Leverage used for the position
	State       PositionState // flat, opening, open, closing
	OpenedAt    time.Time     // When the first entry fill was applied
	ClosedAt    time.Time     // When the position returned to flat (zero if not yet)
	Divergence  bool          // Reconciliation found a local/remote mismatch
	External    bool          // Adopted from the exchange, not opened by this process
	CloseReason CloseReason   // Why the position was closed (empty while open)
	RealizedPNL float64       // Realized profit and loss, set on close
}

// IsFlat reports whether the position holds no exposure.
func (p *Position) IsFlat() bool {
	return p.State == StateFlat
}

// IsOpen reports whether the position holds settled exposure.
func (p *Position) IsOpen() bool {
	return p.State == StateOpen
}

// NewFlatPosition returns the initial record created on first reference
// to a symbol.
func NewFlatPosition(symbol string) *Position {
	return &Position{
		Symbol: symbol,
		Side:   SideFlat,
		State:  StateFlat,
	}
}
