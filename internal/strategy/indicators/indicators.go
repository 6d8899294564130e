// Package indicators provides the technical calculations the strategy
// blocks are built from. All functions take klines ordered oldest first
// and report an error when the window is too short for the period.
package indicators

import (
	"fmt"
	"math"

	"flipperBot/internal/domain"
)

// SMA computes the Simple Moving Average of closing prices.
func SMA(klines []*domain.Kline, period int) (float64, error) {
	if period <= 0 {
		return 0, fmt.Errorf("SMA period must be positive, got %d", period)
	}
	if len(klines) < period {
		return 0, fmt.Errorf("not enough data (%d) to calculate SMA for period %d", len(klines), period)
	}

	total := 0.0
	for i := len(klines) - period; i < len(klines); i++ {
		total += klines[i].Close
	}
	return total / float64(period), nil
}

// EMA computes the Exponential Moving Average of closing prices, seeded
// with the SMA of the first period klines and smoothed across the rest.
func EMA(klines []*domain.Kline, period int) (float64, error) {
	if period <= 0 {
		return 0, fmt.Errorf("EMA period must be positive, got %d", period)
	}
	if len(klines) < period {
		return 0, fmt.Errorf("not enough data (%d) to calculate EMA for period %d", len(klines), period)
	}

	seed, err := SMA(klines[:period], period)
	if err != nil {
		return 0, fmt.Errorf("failed to calculate EMA seed: %w", err)
	}

	multiplier := 2.0 / float64(period+1)
	ema := seed
	for i := period; i < len(klines); i++ {
		ema = (klines[i].Close-ema)*multiplier + ema
	}
	return ema, nil
}

// RSI computes the Relative Strength Index using Wilder's smoothing.
func RSI(klines []*domain.Kline, period int) (float64, error) {
	if period <= 0 {
		return 0, fmt.Errorf("RSI period must be positive, got %d", period)
	}
	if len(klines) <= period {
		return 0, fmt.Errorf("not enough data (%d) to calculate RSI for period %d", len(klines), period)
	}

	changes := make([]float64, 0, len(klines)-1)
	for i := 1; i < len(klines); i++ {
		changes = append(changes, klines[i].Close-klines[i-1].Close)
	}

	var avgGain, avgLoss float64
	for i := 0; i < period; i++ {
		if changes[i] > 0 {
			avgGain += changes[i]
		} else {
			avgLoss -= changes[i]
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	for i := period; i < len(changes); i++ {
		if changes[i] > 0 {
			avgGain = (avgGain*float64(period-1) + changes[i]) / float64(period)
			avgLoss = (avgLoss * float64(period-1)) / float64(period)
		} else {
			avgGain = (avgGain * float64(period-1)) / float64(period)
			avgLoss = (avgLoss*float64(period-1) - changes[i]) / float64(period)
		}
	}

	if avgLoss == 0 {
		if avgGain == 0 {
			return 50, nil
		}
		return 100, nil
	}

	rs := avgGain / avgLoss
	rsi := 100 - (100 / (1 + rs))
	if rsi > 100 {
		rsi = 100
	} else if rsi < 0 {
		rsi = 0
	}
	return rsi, nil
}

// ATR computes the Average True Range using Wilder's smoothing.
func ATR(klines []*domain.Kline, period int) (float64, error) {
	if period <= 0 {
		return 0, fmt.Errorf("ATR period must be positive, got %d", period)
	}
	if len(klines) < period+1 {
		return 0, fmt.Errorf("not enough data (%d) to calculate ATR for period %d", len(klines), period)
	}

	trueRanges := make([]float64, len(klines))
	trueRanges[0] = klines[0].High - klines[0].Low
	for i := 1; i < len(klines); i++ {
		high := klines[i].High
		low := klines[i].Low
		prevClose := klines[i-1].Close

		tr := high - low
		if v := math.Abs(high - prevClose); v > tr {
			tr = v
		}
		if v := math.Abs(low - prevClose); v > tr {
			tr = v
		}
		trueRanges[i] = tr
	}

	atr := 0.0
	for i := 0; i < period; i++ {
		atr += trueRanges[i]
	}
	atr /= float64(period)

	for i := period; i < len(klines); i++ {
		atr = (atr*float64(period-1) + trueRanges[i]) / float64(period)
	}
	return atr, nil
}

// Channel returns the Donchian channel over the lookback bars preceding
// the most recent kline. The current bar is excluded so a close can
// actually break the channel high.
func Channel(klines []*domain.Kline, lookback int) (high, low float64, err error) {
	if lookback <= 0 {
		return 0, 0, fmt.Errorf("channel lookback must be positive, got %d", lookback)
	}
	if len(klines) < lookback+1 {
		return 0, 0, fmt.Errorf("not enough data (%d) to calculate channel for lookback %d", len(klines), lookback)
	}

	end := len(klines) - 1
	high = klines[end-lookback].High
	low = klines[end-lookback].Low
	for i := end - lookback + 1; i < end; i++ {
		if klines[i].High > high {
			high = klines[i].High
		}
		if klines[i].Low < low {
			low = klines[i].Low
		}
	}
	return high, low, nil
}

// ImpulsePct returns the percent change in close over the last lookback bars.
func ImpulsePct(klines []*domain.Kline, lookback int) (float64, error) {
	if lookback <= 0 {
		return 0, fmt.Errorf("impulse lookback must be positive, got %d", lookback)
	}
	if len(klines) <= lookback {
		return 0, fmt.Errorf("not enough data (%d) to calculate impulse for lookback %d", len(klines), lookback)
	}

	start := klines[len(klines)-1-lookback].Close
	end := klines[len(klines)-1].Close
	if start == 0 {
		return 0, fmt.Errorf("start close is zero, cannot compute percent change")
	}
	return ((end - start) / start) * 100.0, nil
}

// AvgVolume returns the mean volume of the lookback bars preceding the
// most recent kline.
func AvgVolume(klines []*domain.Kline, lookback int) (float64, error) {
	if lookback <= 0 {
		return 0, fmt.Errorf("volume lookback must be positive, got %d", lookback)
	}
	if len(klines) < lookback+1 {
		return 0, fmt.Errorf("not enough data (%d) to calculate average volume for lookback %d", len(klines), lookback)
	}

	total := 0.0
	end := len(klines) - 1
	for i := end - lookback; i < end; i++ {
		total += klines[i].Volume
	}
	return total / float64(lookback), nil
}
