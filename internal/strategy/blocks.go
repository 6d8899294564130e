package strategy

import (
	"context"
	"fmt"
	"math"

	"flipperBot/internal/domain"
	"flipperBot/internal/strategy/indicators"
)

// Block is one composable strategy condition. Evaluate reports whether
// the condition holds for the requested direction; blocks that do not
// care about direction (volume) answer the same either way. The detail
// string feeds the signal log.
type Block interface {
	Name() string
	Weight() int
	RequiredDataPoints() int
	Evaluate(ctx context.Context, klines []*domain.Kline, d domain.Direction) (ok bool, detail string, err error)
}

// --- trend_ema ---

// TrendEMAConfig gates entries on EMA alignment: fast above slow for
// longs, below for shorts.
type TrendEMAConfig struct {
	Enabled    bool
	Weight     int
	FastPeriod int
	SlowPeriod int
}

type trendEMA struct {
	cfg TrendEMAConfig
}

func (b *trendEMA) Name() string { return "trend_ema" }
func (b *trendEMA) Weight() int  { return b.cfg.Weight }
func (b *trendEMA) RequiredDataPoints() int {
	return b.cfg.SlowPeriod + 1
}

func (b *trendEMA) Evaluate(ctx context.Context, klines []*domain.Kline, d domain.Direction) (bool, string, error) {
	fast, err := indicators.EMA(klines, b.cfg.FastPeriod)
	if err != nil {
		return false, "", err
	}
	slow, err := indicators.EMA(klines, b.cfg.SlowPeriod)
	if err != nil {
		return false, "", err
	}

	ok := fast > slow
	if d == domain.DirectionShort {
		ok = fast < slow
	}
	return ok, fmt.Sprintf("fast=%.6f slow=%.6f", fast, slow), nil
}

// --- impulse_gate ---

// ImpulseGateConfig requires a minimum percent move over the lookback
// bars in the trade direction. When ATRMult is set the absolute move must
// also exceed that multiple of the ATR, filtering noise in quiet markets.
type ImpulseGateConfig struct {
	Enabled   bool
	Weight    int
	Lookback  int
	MinPct    float64
	ATRPeriod int
	ATRMult   float64
}

type impulseGate struct {
	cfg ImpulseGateConfig
}

func (b *impulseGate) Name() string { return "impulse_gate" }
func (b *impulseGate) Weight() int  { return b.cfg.Weight }
func (b *impulseGate) RequiredDataPoints() int {
	required := b.cfg.Lookback + 1
	if b.cfg.ATRMult > 0 && b.cfg.ATRPeriod+1 > required {
		required = b.cfg.ATRPeriod + 1
	}
	return required
}

func (b *impulseGate) Evaluate(ctx context.Context, klines []*domain.Kline, d domain.Direction) (bool, string, error) {
	impulse, err := indicators.ImpulsePct(klines, b.cfg.Lookback)
	if err != nil {
		return false, "", err
	}

	ok := impulse >= b.cfg.MinPct
	if d == domain.DirectionShort {
		ok = impulse <= -b.cfg.MinPct
	}
	detail := fmt.Sprintf("impulse=%.4f min_pct=%.4f", impulse, b.cfg.MinPct)

	if ok && b.cfg.ATRMult > 0 {
		atr, err := indicators.ATR(klines, b.cfg.ATRPeriod)
		if err != nil {
			return false, "", err
		}
		start := klines[len(klines)-1-b.cfg.Lookback].Close
		end := klines[len(klines)-1].Close
		move := math.Abs(end - start)
		ok = move >= b.cfg.ATRMult*atr
		detail += fmt.Sprintf(" move=%.6f atr=%.6f mult=%.2f", move, atr, b.cfg.ATRMult)
	}
	return ok, detail, nil
}

// --- volume_filter ---

// VolumeFilterConfig requires the current bar's volume to exceed Mult
// times the average of the preceding Lookback bars.
type VolumeFilterConfig struct {
	Enabled  bool
	Weight   int
	Lookback int
	Mult     float64
}

type volumeFilter struct {
	cfg VolumeFilterConfig
}

func (b *volumeFilter) Name() string { return "volume_filter" }
func (b *volumeFilter) Weight() int  { return b.cfg.Weight }
func (b *volumeFilter) RequiredDataPoints() int {
	return b.cfg.Lookback + 1
}

func (b *volumeFilter) Evaluate(ctx context.Context, klines []*domain.Kline, d domain.Direction) (bool, string, error) {
	baseline, err := indicators.AvgVolume(klines, b.cfg.Lookback)
	if err != nil {
		return false, "", err
	}
	if baseline <= 0 {
		return false, "baseline_volume_zero", nil
	}

	ratio := klines[len(klines)-1].Volume / baseline
	return ratio >= b.cfg.Mult, fmt.Sprintf("ratio=%.4f min=%.4f", ratio, b.cfg.Mult), nil
}

// --- pullback_ema ---

// PullbackEMAConfig passes when price has pulled back to the EMA and,
// with ConfirmClose, the last bar resumed in the trade direction.
type PullbackEMAConfig struct {
	Enabled      bool
	Weight       int
	Period       int
	ConfirmClose bool
}

type pullbackEMA struct {
	cfg PullbackEMAConfig
}

func (b *pullbackEMA) Name() string { return "pullback_ema" }
func (b *pullbackEMA) Weight() int  { return b.cfg.Weight }
func (b *pullbackEMA) RequiredDataPoints() int {
	return b.cfg.Period + 1
}

func (b *pullbackEMA) Evaluate(ctx context.Context, klines []*domain.Kline, d domain.Direction) (bool, string, error) {
	ema, err := indicators.EMA(klines, b.cfg.Period)
	if err != nil {
		return false, "", err
	}

	last := klines[len(klines)-1].Close
	prev := klines[len(klines)-2].Close

	var nearEMA, confirmed bool
	if d == domain.DirectionShort {
		nearEMA = last >= ema*0.99
		confirmed = !b.cfg.ConfirmClose || last < prev
	} else {
		nearEMA = last <= ema*1.01
		confirmed = !b.cfg.ConfirmClose || last > prev
	}
	return nearEMA && confirmed, fmt.Sprintf("near_ema=%t confirmed=%t ema=%.6f", nearEMA, confirmed, ema), nil
}

// --- breakout_donchian ---

// BreakoutDonchianConfig passes when the close breaks the Donchian
// channel of the preceding Lookback bars: above the high for longs,
// below the low for shorts.
type BreakoutDonchianConfig struct {
	Enabled  bool
	Weight   int
	Lookback int
}

type breakoutDonchian struct {
	cfg BreakoutDonchianConfig
}

func (b *breakoutDonchian) Name() string { return "breakout_donchian" }
func (b *breakoutDonchian) Weight() int  { return b.cfg.Weight }
func (b *breakoutDonchian) RequiredDataPoints() int {
	return b.cfg.Lookback + 1
}

func (b *breakoutDonchian) Evaluate(ctx context.Context, klines []*domain.Kline, d domain.Direction) (bool, string, error) {
	high, low, err := indicators.Channel(klines, b.cfg.Lookback)
	if err != nil {
		return false, "", err
	}

	last := klines[len(klines)-1].Close
	if d == domain.DirectionShort {
		return last < low, fmt.Sprintf("close=%.6f channel_low=%.6f", last, low), nil
	}
	return last > high, fmt.Sprintf("close=%.6f channel_high=%.6f", last, high), nil
}

// --- rsi_filter ---

// RSIFilterConfig keeps longs inside [Min, Max] RSI; shorts use the
// mirrored band [100-Max, 100-Min].
type RSIFilterConfig struct {
	Enabled bool
	Weight  int
	Period  int
	Min     float64
	Max     float64
}

type rsiFilter struct {
	cfg RSIFilterConfig
}

func (b *rsiFilter) Name() string { return "rsi_filter" }
func (b *rsiFilter) Weight() int  { return b.cfg.Weight }
func (b *rsiFilter) RequiredDataPoints() int {
	return b.cfg.Period + 1
}

func (b *rsiFilter) Evaluate(ctx context.Context, klines []*domain.Kline, d domain.Direction) (bool, string, error) {
	rsi, err := indicators.RSI(klines, b.cfg.Period)
	if err != nil {
		return false, "", err
	}

	lo, hi := b.cfg.Min, b.cfg.Max
	if d == domain.DirectionShort {
		lo, hi = 100-b.cfg.Max, 100-b.cfg.Min
	}
	ok := rsi >= lo && rsi <= hi
	return ok, fmt.Sprintf("rsi=%.4f range=[%.1f, %.1f]", rsi, lo, hi), nil
}
