// Package strategy turns closed klines into directional signals. The
// evaluator composes independent condition blocks; a direction wins when
// every enabled block agrees (and mode) or when the weighted sum of
// passing blocks reaches the threshold (score mode). Longs and shorts
// are evaluated with mirrored conditions.
package strategy

import (
	"context"
	"fmt"
	"strings"

	"flipperBot/internal/domain"
	"flipperBot/internal/ports"
)

// Mode selects how block results combine into a signal.
type Mode string

const (
	// ModeAnd signals only when every enabled block passes.
	ModeAnd Mode = "and"
	// ModeScore signals when the weighted sum of passing blocks reaches
	// MinScore.
	ModeScore Mode = "score"
)

// Config holds parameters for the block evaluator.
type Config struct {
	Mode     Mode
	MinScore int

	TrendEMA         TrendEMAConfig
	ImpulseGate      ImpulseGateConfig
	VolumeFilter     VolumeFilterConfig
	PullbackEMA      PullbackEMAConfig
	BreakoutDonchian BreakoutDonchianConfig
	RSIFilter        RSIFilterConfig
}

// DefaultConfig returns the stock block set: every block enabled in and
// mode.
func DefaultConfig() Config {
	return Config{
		Mode:             ModeAnd,
		MinScore:         2,
		TrendEMA:         TrendEMAConfig{Enabled: true, Weight: 1, FastPeriod: 50, SlowPeriod: 200},
		ImpulseGate:      ImpulseGateConfig{Enabled: true, Weight: 1, Lookback: 5, MinPct: 0.25, ATRPeriod: 14},
		VolumeFilter:     VolumeFilterConfig{Enabled: true, Weight: 1, Lookback: 20, Mult: 1.2},
		PullbackEMA:      PullbackEMAConfig{Enabled: true, Weight: 1, Period: 21, ConfirmClose: true},
		BreakoutDonchian: BreakoutDonchianConfig{Enabled: true, Weight: 1, Lookback: 30},
		RSIFilter:        RSIFilterConfig{Enabled: true, Weight: 1, Period: 14, Min: 35, Max: 70},
	}
}

// Evaluator implements ports.Strategy over a set of condition blocks.
type Evaluator struct {
	cfg    Config
	blocks []Block
	logger ports.Logger
}

// New creates a block evaluator from the config.
func New(cfg Config, logger ports.Logger) (*Evaluator, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for strategy")
	}
	switch cfg.Mode {
	case ModeAnd, ModeScore:
	default:
		return nil, fmt.Errorf("unknown strategy mode %q", cfg.Mode)
	}
	if cfg.Mode == ModeScore && cfg.MinScore <= 0 {
		return nil, fmt.Errorf("score mode requires a positive min score, got %d", cfg.MinScore)
	}

	var blocks []Block
	if cfg.TrendEMA.Enabled {
		if cfg.TrendEMA.FastPeriod <= 0 || cfg.TrendEMA.SlowPeriod <= cfg.TrendEMA.FastPeriod {
			return nil, fmt.Errorf("trend_ema requires 0 < fast < slow, got fast=%d slow=%d", cfg.TrendEMA.FastPeriod, cfg.TrendEMA.SlowPeriod)
		}
		blocks = append(blocks, &trendEMA{cfg: cfg.TrendEMA})
	}
	if cfg.ImpulseGate.Enabled {
		if cfg.ImpulseGate.Lookback <= 0 {
			return nil, fmt.Errorf("impulse_gate requires a positive lookback, got %d", cfg.ImpulseGate.Lookback)
		}
		if cfg.ImpulseGate.ATRMult > 0 && cfg.ImpulseGate.ATRPeriod <= 0 {
			return nil, fmt.Errorf("impulse_gate with ATR normalization requires a positive ATR period")
		}
		blocks = append(blocks, &impulseGate{cfg: cfg.ImpulseGate})
	}
	if cfg.VolumeFilter.Enabled {
		if cfg.VolumeFilter.Lookback <= 0 || cfg.VolumeFilter.Mult <= 0 {
			return nil, fmt.Errorf("volume_filter requires positive lookback and mult")
		}
		blocks = append(blocks, &volumeFilter{cfg: cfg.VolumeFilter})
	}
	if cfg.PullbackEMA.Enabled {
		if cfg.PullbackEMA.Period <= 0 {
			return nil, fmt.Errorf("pullback_ema requires a positive period, got %d", cfg.PullbackEMA.Period)
		}
		blocks = append(blocks, &pullbackEMA{cfg: cfg.PullbackEMA})
	}
	if cfg.BreakoutDonchian.Enabled {
		if cfg.BreakoutDonchian.Lookback <= 0 {
			return nil, fmt.Errorf("breakout_donchian requires a positive lookback, got %d", cfg.BreakoutDonchian.Lookback)
		}
		blocks = append(blocks, &breakoutDonchian{cfg: cfg.BreakoutDonchian})
	}
	if cfg.RSIFilter.Enabled {
		if cfg.RSIFilter.Period <= 0 || cfg.RSIFilter.Min < 0 || cfg.RSIFilter.Max > 100 || cfg.RSIFilter.Min >= cfg.RSIFilter.Max {
			return nil, fmt.Errorf("rsi_filter requires a positive period and 0 <= min < max <= 100")
		}
		blocks = append(blocks, &rsiFilter{cfg: cfg.RSIFilter})
	}
	if len(blocks) == 0 {
		return nil, fmt.Errorf("at least one strategy block must be enabled")
	}

	return &Evaluator{cfg: cfg, blocks: blocks, logger: logger}, nil
}

// Name identifies the evaluator in signals and logs.
func (e *Evaluator) Name() string { return "blocks" }

// RequiredDataPoints returns the minimum number of klines needed for the
// strategy calculations.
func (e *Evaluator) RequiredDataPoints() int {
	required := 0
	for _, b := range e.blocks {
		if r := b.RequiredDataPoints(); r > required {
			required = r
		}
	}
	return required
}

// Evaluate inspects the klines and returns the direction to hold. Long
// conditions are tried first; a symbol satisfying both directions at
// once resolves long.
func (e *Evaluator) Evaluate(ctx context.Context, klines []*domain.Kline) (domain.Direction, bool) {
	required := e.RequiredDataPoints()
	if len(klines) < required {
		e.logger.Debug(ctx, "Not enough kline data for strategy evaluation",
			map[string]interface{}{"available": len(klines), "required": required})
		return "", false
	}

	for _, d := range []domain.Direction{domain.DirectionLong, domain.DirectionShort} {
		pass, score, reasons := e.evalDirection(ctx, klines, d)
		if pass {
			e.logger.Info(ctx, "Signal conditions met", map[string]interface{}{
				"direction": d, "score": score, "mode": e.cfg.Mode, "reasons": strings.Join(reasons, "; "),
			})
			return d, true
		}
		e.logger.Debug(ctx, "Signal conditions not met", map[string]interface{}{
			"direction": d, "score": score, "mode": e.cfg.Mode, "reasons": strings.Join(reasons, "; "),
		})
	}
	return "", false
}

func (e *Evaluator) evalDirection(ctx context.Context, klines []*domain.Kline, d domain.Direction) (bool, int, []string) {
	score := 0
	allPassed := true
	reasons := make([]string, 0, len(e.blocks))

	for _, b := range e.blocks {
		ok, detail, err := b.Evaluate(ctx, klines, d)
		if err != nil {
			e.logger.Error(ctx, err, "Strategy block evaluation failed", map[string]interface{}{"block": b.Name()})
			ok = false
			detail = "error"
		}
		if ok {
			score += b.Weight()
			reasons = append(reasons, fmt.Sprintf("%s:ok(%s)", b.Name(), detail))
		} else {
			allPassed = false
			reasons = append(reasons, fmt.Sprintf("%s:fail(%s)", b.Name(), detail))
		}
	}

	if e.cfg.Mode == ModeAnd {
		return allPassed, score, reasons
	}
	return score >= e.cfg.MinScore, score, reasons
}
