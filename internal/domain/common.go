package domain

// Side represents the direction of a position (long, short, or flat).
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
	SideFlat  Side = "flat"
)

// Opposite returns the opposing position side. Flat has no opposite.
func (s Side) Opposite() Side {
	switch s {
	case SideLong:
		return SideShort
	case SideShort:
		return SideLong
	default:
		return SideFlat
	}
}

// PositionState represents where a symbol sits in the flip cycle.
type PositionState string

const (
	StateFlat    PositionState = "flat"
	StateOpening PositionState = "opening"
	StateOpen    PositionState = "open"
	StateClosing PositionState = "closing"
)

// IsTransitional reports whether the state is awaiting order resolution.
func (s PositionState) IsTransitional() bool {
	return s == StateOpening || s == StateClosing
}

// OrderSide represents the exchange-facing side of an order (BUY or SELL).
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// Opposite returns the opposing order side.
func (s OrderSide) Opposite() OrderSide {
	if s == Buy {
		return Sell
	}
	return Buy
}

// IntentKind classifies what an order intent is trying to do to the position.
type IntentKind string

const (
	KindOpen   IntentKind = "open"
	KindClose  IntentKind = "close"
	KindReduce IntentKind = "reduce"
)

// IntentStatus represents the lifecycle status of an order intent.
// Transitions move monotonically forward (pending, submitted,
// partially_filled, filled) with rejected and canceled as terminal branches.
type IntentStatus string

const (
	IntentPending         IntentStatus = "pending"
	IntentSubmitted       IntentStatus = "submitted"
	IntentPartiallyFilled IntentStatus = "partially_filled"
	IntentFilled          IntentStatus = "filled"
	IntentRejected        IntentStatus = "rejected"
	IntentCanceled        IntentStatus = "canceled"
)

// IsTerminal reports whether no further transition is allowed.
func (s IntentStatus) IsTerminal() bool {
	return s == IntentFilled || s == IntentRejected || s == IntentCanceled
}

// rank orders the non-terminal statuses for forward-only checks.
var intentStatusRank = map[IntentStatus]int{
	IntentPending:         0,
	IntentSubmitted:       1,
	IntentPartiallyFilled: 2,
	IntentFilled:          3,
}

// CanTransition reports whether moving from s to next is a legal forward step.
func (s IntentStatus) CanTransition(next IntentStatus) bool {
	if s.IsTerminal() || s == next {
		return false
	}
	if next == IntentRejected || next == IntentCanceled {
		return true
	}
	from, ok := intentStatusRank[s]
	if !ok {
		return false
	}
	to, ok := intentStatusRank[next]
	if !ok {
		return false
	}
	return to > from
}

// CloseReason indicates why a position was closed.
type CloseReason string

const (
	CloseReasonSignal     CloseReason = "SIGNAL"
	CloseReasonTakeProfit CloseReason = "TP"
	CloseReasonStopLoss   CloseReason = "SL"
	CloseReasonBreakEven  CloseReason = "BREAK_EVEN"
	CloseReasonTimeLimit  CloseReason = "TIME_LIMIT"
	CloseReasonManual     CloseReason = "MANUAL"
	CloseReasonPanic      CloseReason = "PANIC"
	CloseReasonDivergence CloseReason = "DIVERGENCE"
	CloseReasonUnknown    CloseReason = "UNKNOWN"
)

// Direction is a strategy's instruction for a symbol.
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

// PositionSide maps the instruction to the position side it opens.
func (d Direction) PositionSide() Side {
	if d == DirectionShort {
		return SideShort
	}
	return SideLong
}
