package domain

import (
	"math"
	"time"
)

// OrderState is the exchange-reported status of a single order, keyed by
// the client-order-id (which equals the originating intent ID).
type OrderState struct {
	ClientOrderID string
	Status        IntentStatus
	FilledSize    float64
	AvgPrice      float64
	UpdatedAt     time.Time
}

// ExchangeSnapshot is the exchange's view of one symbol at a point in
// time. It is compared against the local store during reconciliation and
// is never written to directly.
type ExchangeSnapshot struct {
	Symbol       string
	PositionSize float64 // Signed: positive long, negative short, zero flat
	EntryPrice   float64
	Leverage     int
	Orders       []OrderState
	Taken        time.Time
}

// IsFlat reports whether the exchange holds no exposure on the symbol.
func (s *ExchangeSnapshot) IsFlat() bool {
	return math.Abs(s.PositionSize) < sizeEpsilon
}

// Side derives the position side from the signed size.
func (s *ExchangeSnapshot) Side() Side {
	switch {
	case s.PositionSize > sizeEpsilon:
		return SideLong
	case s.PositionSize < -sizeEpsilon:
		return SideShort
	default:
		return SideFlat
	}
}

// AbsSize returns the unsigned position size.
func (s *ExchangeSnapshot) AbsSize() float64 {
	return math.Abs(s.PositionSize)
}

// Order looks up an order state by client-order-id.
func (s *ExchangeSnapshot) Order(clientOrderID string) (OrderState, bool) {
	for _, o := range s.Orders {
		if o.ClientOrderID == clientOrderID {
			return o, true
		}
	}
	return OrderState{}, false
}

// sizeEpsilon absorbs float dust left over from exchange-side rounding.
const sizeEpsilon = 1e-9

// SizesEqual compares two position sizes ignoring rounding dust.
func SizesEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-4
}
