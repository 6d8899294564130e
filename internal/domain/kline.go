package domain

import "time"

// Kline represents a single candlestick data point. The strategy
// evaluator only acts on final klines.
type Kline struct {
	OpenTime  time.Time // Start time of the interval
	CloseTime time.Time // End time of the interval
	Symbol    string    // Trading symbol
	Interval  string    // Kline interval (e.g., "1m", "1h")
	Open      float64   // Opening price
	High      float64   // Highest price
	Low       float64   // Lowest price
	Close     float64   // Closing price
	Volume    float64   // Trading volume
	IsFinal   bool      // Whether this kline is the final one for the interval
}

// BodyPct returns the candle body as a signed percent of the open price.
// Positive for bullish candles, negative for bearish.
func (k *Kline) BodyPct() float64 {
	if k.Open == 0 {
		return 0
	}
	return (k.Close - k.Open) / k.Open * 100
}

// Bullish reports whether the candle closed above its open.
func (k *Kline) Bullish() bool {
	return k.Close > k.Open
}
