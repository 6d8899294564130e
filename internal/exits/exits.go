// Package exits decides when an open position must be closed: take
// profit, stop loss, break-even stop, or maximum hold time. The
// evaluator is pure; the per-position State it mutates is owned by the
// caller and is rebuilt from price action after a restart.
package exits

import (
	"context"
	"time"

	"flipperBot/internal/domain"
	"flipperBot/internal/ports"
)

// Config holds exit thresholds as percentages of the entry price. A zero
// value disables that exit.
type Config struct {
	TakeProfitPct float64
	StopLossPct   float64
	// BreakEvenTriggerPct arms the break-even stop once price has moved
	// this far in the position's favor.
	BreakEvenTriggerPct float64
	// BreakEvenOffsetPct places the armed stop this far beyond entry, so
	// a triggered position can no longer round-trip into a loss.
	BreakEvenOffsetPct float64
	// MaxHold closes the position after this duration regardless of price.
	MaxHold time.Duration
}

// Merge overlays per-pair thresholds onto the defaults.
func Merge(base Config, pair *domain.Pair) Config {
	if pair == nil {
		return base
	}
	if pair.TakeProfitPct > 0 {
		base.TakeProfitPct = pair.TakeProfitPct
	}
	if pair.StopLossPct > 0 {
		base.StopLossPct = pair.StopLossPct
	}
	return base
}

// State carries the mutable exit state of one open position. After a
// restart it starts zeroed; the break-even stop re-arms on the next tick
// that still satisfies the trigger.
type State struct {
	BreakEvenActive bool
}

// Decision is the evaluator's verdict for one tick.
type Decision struct {
	Reason domain.CloseReason
	// Price is the mark price the decision was made at.
	Price float64
}

// Evaluator applies one Config to position ticks.
type Evaluator struct {
	cfg    Config
	logger ports.Logger
}

// New creates an evaluator.
func New(cfg Config, logger ports.Logger) *Evaluator {
	return &Evaluator{cfg: cfg, logger: logger}
}

// TakeProfitPrice returns the configured target for the side, 0 if disabled.
func (e *Evaluator) TakeProfitPrice(side domain.Side, entry float64) float64 {
	if e.cfg.TakeProfitPct <= 0 || entry <= 0 {
		return 0
	}
	if side == domain.SideShort {
		return entry * (1 - e.cfg.TakeProfitPct/100)
	}
	return entry * (1 + e.cfg.TakeProfitPct/100)
}

// StopLossPrice returns the configured stop for the side, 0 if disabled.
func (e *Evaluator) StopLossPrice(side domain.Side, entry float64) float64 {
	if e.cfg.StopLossPct <= 0 || entry <= 0 {
		return 0
	}
	if side == domain.SideShort {
		return entry * (1 + e.cfg.StopLossPct/100)
	}
	return entry * (1 - e.cfg.StopLossPct/100)
}

func (e *Evaluator) breakEvenStopPrice(side domain.Side, entry float64) float64 {
	if side == domain.SideShort {
		return entry * (1 - e.cfg.BreakEvenOffsetPct/100)
	}
	return entry * (1 + e.cfg.BreakEvenOffsetPct/100)
}

func (e *Evaluator) breakEvenTriggerPrice(side domain.Side, entry float64) float64 {
	if side == domain.SideShort {
		return entry * (1 - e.cfg.BreakEvenTriggerPct/100)
	}
	return entry * (1 + e.cfg.BreakEvenTriggerPct/100)
}

// Evaluate checks one mark-price tick against the position and returns a
// close decision, or nil to keep holding. It may arm st.BreakEvenActive
// as a side effect.
func (e *Evaluator) Evaluate(ctx context.Context, pos *domain.Position, st *State, mark float64, now time.Time) *Decision {
	if pos == nil || !pos.IsOpen() || mark <= 0 {
		return nil
	}

	side := pos.Side
	entry := pos.EntryPrice

	if tp := e.TakeProfitPrice(side, entry); tp > 0 && crossed(side, mark, tp) {
		return &Decision{Reason: domain.CloseReasonTakeProfit, Price: mark}
	}

	if !st.BreakEvenActive && e.cfg.BreakEvenTriggerPct > 0 {
		if crossed(side, mark, e.breakEvenTriggerPrice(side, entry)) {
			st.BreakEvenActive = true
			if e.logger != nil {
				e.logger.Info(ctx, "break-even stop armed", map[string]interface{}{
					"symbol": pos.Symbol, "entry": entry, "mark": mark,
					"stop": e.breakEvenStopPrice(side, entry),
				})
			}
		}
	}

	if st.BreakEvenActive {
		if stop := e.breakEvenStopPrice(side, entry); crossed(side.Opposite(), mark, stop) {
			return &Decision{Reason: domain.CloseReasonBreakEven, Price: mark}
		}
	} else if sl := e.StopLossPrice(side, entry); sl > 0 && crossed(side.Opposite(), mark, sl) {
		return &Decision{Reason: domain.CloseReasonStopLoss, Price: mark}
	}

	if e.cfg.MaxHold > 0 && !pos.OpenedAt.IsZero() && now.Sub(pos.OpenedAt) >= e.cfg.MaxHold {
		return &Decision{Reason: domain.CloseReasonTimeLimit, Price: mark}
	}

	return nil
}

// crossed reports whether mark has reached the level in the profitable
// direction for the side: at-or-above for longs, at-or-below for shorts.
func crossed(side domain.Side, mark, level float64) bool {
	if side == domain.SideShort {
		return mark <= level
	}
	return mark >= level
}
