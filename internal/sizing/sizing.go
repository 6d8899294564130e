// Package sizing converts account balance and margin settings into an
// order quantity that respects the instrument's trading filters. All
// arithmetic runs on decimals so repeated flips never accumulate float
// drift into the submitted quantity.
package sizing

import (
	"context"
	"fmt"

	"flipperBot/internal/domain"
	"flipperBot/internal/ports"

	"github.com/shopspring/decimal"
)

// Mode selects how the margin committed to one position is derived.
type Mode string

const (
	// ModePercent commits Value percent of the available balance.
	ModePercent Mode = "percent"
	// ModeFixed commits Value as an absolute quote amount.
	ModeFixed Mode = "fixed"
	// ModeFull commits the whole available balance minus Reserve.
	ModeFull Mode = "full"
)

// Config holds the margin settings.
type Config struct {
	Mode  Mode
	Value float64 // Percent for ModePercent, quote amount for ModeFixed
	// Reserve is a quote amount always held back from the balance.
	Reserve float64
	// Cap bounds the margin in the quote asset; 0 disables.
	Cap float64
}

// Calculator computes order quantities.
type Calculator struct {
	cfg    Config
	logger ports.Logger
}

// New validates the config and creates a calculator.
func New(cfg Config, logger ports.Logger) (*Calculator, error) {
	switch cfg.Mode {
	case ModePercent:
		if cfg.Value <= 0 || cfg.Value > 100 {
			return nil, fmt.Errorf("%w: percent mode requires a value in (0, 100], got %.4f", ports.ErrConfigurationError, cfg.Value)
		}
	case ModeFixed:
		if cfg.Value <= 0 {
			return nil, fmt.Errorf("%w: fixed mode requires a positive quote amount, got %.4f", ports.ErrConfigurationError, cfg.Value)
		}
	case ModeFull:
	default:
		return nil, fmt.Errorf("%w: unknown sizing mode %q", ports.ErrConfigurationError, cfg.Mode)
	}
	if cfg.Reserve < 0 || cfg.Cap < 0 {
		return nil, fmt.Errorf("%w: reserve and cap must not be negative", ports.ErrConfigurationError)
	}
	return &Calculator{cfg: cfg, logger: logger}, nil
}

// Margin returns the quote amount to commit for one position given the
// available balance.
func (c *Calculator) Margin(balance float64) (float64, error) {
	bal := decimal.NewFromFloat(balance)
	reserve := decimal.NewFromFloat(c.cfg.Reserve)
	usable := bal.Sub(reserve)
	if usable.LessThanOrEqual(decimal.Zero) {
		return 0, fmt.Errorf("%w: balance %.4f does not cover reserve %.4f", ports.ErrInsufficientFunds, balance, c.cfg.Reserve)
	}

	var margin decimal.Decimal
	switch c.cfg.Mode {
	case ModePercent:
		margin = usable.Mul(decimal.NewFromFloat(c.cfg.Value)).Div(decimal.NewFromInt(100))
	case ModeFixed:
		margin = decimal.NewFromFloat(c.cfg.Value)
		if margin.GreaterThan(usable) {
			return 0, fmt.Errorf("%w: fixed margin %.4f exceeds usable balance %.4f", ports.ErrInsufficientFunds, c.cfg.Value, usable.InexactFloat64())
		}
	case ModeFull:
		margin = usable
	}

	if c.cfg.Cap > 0 {
		capAmt := decimal.NewFromFloat(c.cfg.Cap)
		if margin.GreaterThan(capAmt) {
			margin = capAmt
		}
	}
	if margin.LessThanOrEqual(decimal.Zero) {
		return 0, fmt.Errorf("%w: computed margin is not positive", ports.ErrInsufficientFunds)
	}
	return margin.InexactFloat64(), nil
}

// Quantity returns the base-asset quantity to order: margin times
// leverage at the given price, floored to the instrument's step size and
// validated against its minimum quantity and notional filters.
func (c *Calculator) Quantity(ctx context.Context, balance, price float64, leverage int, inst *domain.Instrument) (float64, error) {
	op := "Quantity"

	if price <= 0 {
		return 0, fmt.Errorf("%w: price %.8f is not positive", ports.ErrInvalidRequest, price)
	}
	if leverage <= 0 {
		return 0, fmt.Errorf("%w: leverage %d is not positive", ports.ErrInvalidRequest, leverage)
	}

	margin, err := c.Margin(balance)
	if err != nil {
		return 0, err
	}

	qty := decimal.NewFromFloat(margin).
		Mul(decimal.NewFromInt(int64(leverage))).
		Div(decimal.NewFromFloat(price))

	if inst != nil && inst.StepSize > 0 {
		step := decimal.NewFromFloat(inst.StepSize)
		qty = qty.Div(step).Floor().Mul(step)
	} else if inst != nil && inst.QuantityPrecision >= 0 {
		qty = qty.RoundFloor(int32(inst.QuantityPrecision))
	}

	if qty.LessThanOrEqual(decimal.Zero) {
		return 0, fmt.Errorf("%w: margin %.4f yields zero quantity at price %.8f", ports.ErrInsufficientFunds, margin, price)
	}
	if inst != nil && inst.MinQty > 0 && qty.LessThan(decimal.NewFromFloat(inst.MinQty)) {
		return 0, fmt.Errorf("%w: quantity %s below instrument minimum %.8f", ports.ErrInsufficientFunds, qty.String(), inst.MinQty)
	}
	if inst != nil && inst.MinNotional > 0 {
		notional := qty.Mul(decimal.NewFromFloat(price))
		if notional.LessThan(decimal.NewFromFloat(inst.MinNotional)) {
			return 0, fmt.Errorf("%w: notional %s below instrument minimum %.4f", ports.ErrInsufficientFunds, notional.StringFixed(4), inst.MinNotional)
		}
	}

	result := qty.InexactFloat64()
	if c.logger != nil {
		c.logger.Debug(ctx, op+" computed", map[string]interface{}{
			"margin": margin, "price": price, "leverage": leverage, "quantity": result,
		})
	}
	return result, nil
}
