package domain

import "time"

// Fill is one execution reported by the exchange for an order intent.
// Fills are append-only; several may apply to a single intent.
type Fill struct {
	ID       int64     // Unique identifier (from DB)
	IntentID string    // Order intent this execution belongs to
	Symbol   string    // Trading symbol
	Side     OrderSide // BUY or SELL
	Size     float64   // Executed quantity, always positive
	Price    float64   // Execution price
	Fee      float64   // Commission charged, in quote currency
	TradeID  string    // Exchange execution id, used for dedupe
	Time     time.Time // Execution timestamp
}

// Signed returns the fill size with BUY positive and SELL negative.
func (f Fill) Signed() float64 {
	if f.Side == Sell {
		return -f.Size
	}
	return f.Size
}

// NetSize returns the signed net of a fill sequence. A positive result is
// a long position, negative short, zero flat.
func NetSize(fills []Fill) float64 {
	var net float64
	for _, f := range fills {
		net += f.Signed()
	}
	return net
}

// VWAP returns the volume-weighted average price of the fills matching
// the given side, or 0 when none match.
func VWAP(fills []Fill, side OrderSide) float64 {
	var qty, notional float64
	for _, f := range fills {
		if f.Side != side {
			continue
		}
		qty += f.Size
		notional += f.Size * f.Price
	}
	if qty == 0 {
		return 0
	}
	return notional / qty
}
