package domain

import "time"

// Flip summarizes one completed open/close cycle on a symbol, assembled
// from the closed position row and its fills. Used for history queries
// and CSV export.
type Flip struct {
	PositionID  int64
	Symbol      string
	Side        Side
	Size        float64
	EntryPrice  float64
	ExitPrice   float64
	Leverage    int
	PNL         float64
	Fees        float64
	OpenedAt    time.Time
	ClosedAt    time.Time
	CloseReason CloseReason
}

// Duration returns how long the position was held.
func (f *Flip) Duration() time.Duration {
	if f.ClosedAt.IsZero() || f.OpenedAt.IsZero() {
		return 0
	}
	return f.ClosedAt.Sub(f.OpenedAt)
}
