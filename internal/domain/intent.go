package domain

import (
	"time"

	"github.com/google/uuid"
)

// OrderIntent is a locally tracked request to place an order. Its ID is
// generated locally and reused as the exchange client-order-id on every
// submission attempt, so retried submissions are deduplicated exchange-side.
type OrderIntent struct {
	ID           string       // Idempotency key, unique process-wide
	PositionID   int64        // Position row this intent acts on
	Symbol       string       // Trading symbol
	Side         OrderSide    // BUY or SELL
	Kind         IntentKind   // open, close, or reduce
	Size         float64      // Requested quantity
	Price        float64      // Limit price, 0 for market orders
	ReduceOnly   bool         // Close/reduce orders never open exposure
	Status       IntentStatus // Lifecycle status
	Reason       string       // Rejection sub-reason ("unknown" after retry exhaustion)
	FilledSize   float64      // Accumulated across fills
	AvgFillPrice float64      // Volume-weighted across fills
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewOrderIntent creates a pending intent with a fresh idempotency key.
func NewOrderIntent(symbol string, side OrderSide, kind IntentKind, size float64) *OrderIntent {
	now := time.Now().UTC()
	return &OrderIntent{
		ID:         uuid.NewString(),
		Symbol:     symbol,
		Side:       side,
		Kind:       kind,
		Size:       size,
		ReduceOnly: kind != KindOpen,
		Status:     IntentPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// IsTerminal reports whether the intent can no longer change.
func (i *OrderIntent) IsTerminal() bool {
	return i.Status.IsTerminal()
}

// Remaining returns the unfilled quantity.
func (i *OrderIntent) Remaining() float64 {
	r := i.Size - i.FilledSize
	if r < 0 {
		return 0
	}
	return r
}

// ApplyFill accumulates one execution into the intent and advances the
// status to partially_filled or filled. Returns false if the fill cannot
// apply (terminal intent or wrong intent ID).
func (i *OrderIntent) ApplyFill(f Fill) bool {
	if f.IntentID != i.ID || i.IsTerminal() {
		return false
	}
	total := i.FilledSize + f.Size
	if total > 0 {
		i.AvgFillPrice = (i.AvgFillPrice*i.FilledSize + f.Price*f.Size) / total
	}
	i.FilledSize = total
	if i.FilledSize >= i.Size {
		i.Status = IntentFilled
	} else {
		i.Status = IntentPartiallyFilled
	}
	i.UpdatedAt = f.Time
	return true
}
