package ports

import (
	"context"

	"flipperBot/internal/domain"
)

// Strategy defines the interface for trading-signal evaluators. The
// engine core never depends on a concrete algorithm; anything that can
// turn recent klines into a direction plugs in here.
type Strategy interface {
	// RequiredDataPoints returns the minimum number of klines needed for
	// the strategy calculations.
	RequiredDataPoints() int

	// Evaluate inspects the most recent klines (oldest first, final
	// klines only) and returns the desired direction. ok is false when
	// the strategy has no signal.
	Evaluate(ctx context.Context, klines []*domain.Kline) (direction domain.Direction, ok bool)

	// Name identifies the evaluator in signals and logs.
	Name() string
}
