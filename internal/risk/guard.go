// Package risk holds the pre-trade checks applied to every proposed
// position open. The guard is stateless: every call receives the full
// context it needs and returns allow or deny, so the same inputs always
// produce the same verdict.
package risk

import (
	"context"
	"fmt"
	"time"

	"flipperBot/internal/ports"
)

// Config holds the limits enforced by the guard. A zero value disables
// the corresponding check.
type Config struct {
	// MaxPositionSize caps the base-asset quantity of a single open.
	MaxPositionSize float64
	// MaxNotional caps size * price in the quote asset.
	MaxNotional float64
	// MaxLeverage caps the leverage requested for the open.
	MaxLeverage int
}

// Request describes a proposed position open.
type Request struct {
	Symbol   string
	Size     float64
	Price    float64 // Reference price used for the notional check
	Leverage int
	// LastFlip is when the symbol's previous position closed; zero if the
	// symbol has never flipped.
	LastFlip time.Time
	// Cooldown is the per-symbol minimum gap between a close and the next
	// open; zero disables the check.
	Cooldown time.Duration
	Now      time.Time
}

// Guard validates proposed opens against configured limits.
type Guard struct {
	cfg    Config
	logger ports.Logger
}

// New creates a risk guard.
func New(cfg Config, logger ports.Logger) *Guard {
	return &Guard{cfg: cfg, logger: logger}
}

// Check returns nil when the open is allowed, or an error wrapping
// ports.ErrRiskDenied naming the violated limit. Closes are never checked;
// reducing exposure must always be possible.
func (g *Guard) Check(ctx context.Context, req Request) error {
	op := "Check"

	if req.Size <= 0 {
		return fmt.Errorf("%w: size %.8f is not positive", ports.ErrRiskDenied, req.Size)
	}

	if g.cfg.MaxPositionSize > 0 && req.Size > g.cfg.MaxPositionSize {
		g.deny(ctx, op, req, fmt.Sprintf("size %.8f exceeds max %.8f", req.Size, g.cfg.MaxPositionSize))
		return fmt.Errorf("%w: position size %.8f exceeds maximum allowed %.8f", ports.ErrRiskDenied, req.Size, g.cfg.MaxPositionSize)
	}

	if g.cfg.MaxNotional > 0 && req.Price > 0 {
		notional := req.Size * req.Price
		if notional > g.cfg.MaxNotional {
			g.deny(ctx, op, req, fmt.Sprintf("notional %.2f exceeds max %.2f", notional, g.cfg.MaxNotional))
			return fmt.Errorf("%w: notional %.2f exceeds maximum allowed %.2f", ports.ErrRiskDenied, notional, g.cfg.MaxNotional)
		}
	}

	if g.cfg.MaxLeverage > 0 && req.Leverage > g.cfg.MaxLeverage {
		g.deny(ctx, op, req, fmt.Sprintf("leverage %d exceeds max %d", req.Leverage, g.cfg.MaxLeverage))
		return fmt.Errorf("%w: leverage %d exceeds maximum allowed %d", ports.ErrRiskDenied, req.Leverage, g.cfg.MaxLeverage)
	}

	if req.Cooldown > 0 && !req.LastFlip.IsZero() {
		now := req.Now
		if now.IsZero() {
			now = time.Now().UTC()
		}
		elapsed := now.Sub(req.LastFlip)
		if elapsed < req.Cooldown {
			g.deny(ctx, op, req, fmt.Sprintf("cooldown active for another %s", (req.Cooldown-elapsed).Round(time.Second)))
			return fmt.Errorf("%w: cooldown active, %s remaining since last flip", ports.ErrRiskDenied, (req.Cooldown - elapsed).Round(time.Second))
		}
	}

	return nil
}

func (g *Guard) deny(ctx context.Context, op string, req Request, reason string) {
	if g.logger == nil {
		return
	}
	g.logger.Warn(ctx, op+": open denied", map[string]interface{}{
		"symbol": req.Symbol, "size": req.Size, "leverage": req.Leverage, "reason": reason,
	})
}
