package indicators

import (
	"math"
	"testing"
	"time"

	"flipperBot/internal/domain"
)

func closesToKlines(closes []float64) []*domain.Kline {
	now := time.Now()
	klines := make([]*domain.Kline, len(closes))
	for i, c := range closes {
		klines[i] = &domain.Kline{
			OpenTime: now.Add(time.Duration(i-len(closes)) * time.Hour),
			Open:     c,
			High:     c + 1.5,
			Low:      c - 1.5,
			Close:    c,
			Volume:   1000,
		}
	}
	return klines
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 0.0001
}

func TestSMA(t *testing.T) {
	klines := closesToKlines([]float64{100, 102, 101, 103, 102, 104})

	value, err := SMA(klines, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !almostEqual(value, 103.0) {
		t.Errorf("expected 103.0, got %f", value)
	}

	if _, err := SMA(klines, 7); err == nil {
		t.Error("expected error for insufficient data")
	}
	if _, err := SMA(klines, 0); err == nil {
		t.Error("expected error for zero period")
	}
}

func TestEMA(t *testing.T) {
	klines := closesToKlines([]float64{100, 102, 101, 103, 102, 104})

	// Seed SMA(3) over first three = 101, then smooth 103, 102, 104
	// with multiplier 0.5: 102, 102, 103.
	value, err := EMA(klines, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !almostEqual(value, 103.0) {
		t.Errorf("expected 103.0, got %f", value)
	}

	if _, err := EMA(klines, 10); err == nil {
		t.Error("expected error for insufficient data")
	}
}

func TestRSI(t *testing.T) {
	tests := []struct {
		name        string
		closes      []float64
		period      int
		expected    float64
		expectError bool
	}{
		{
			name:     "mixed gains and losses",
			closes:   []float64{100, 102, 101, 103, 102, 104},
			period:   3,
			expected: 77.272727,
		},
		{
			name:     "all gains",
			closes:   []float64{100, 102, 104, 106},
			period:   3,
			expected: 100.0,
		},
		{
			name:     "all losses",
			closes:   []float64{106, 104, 102, 100},
			period:   3,
			expected: 0.0,
		},
		{
			name:     "no movement",
			closes:   []float64{100, 100, 100, 100},
			period:   3,
			expected: 50.0,
		},
		{
			name:        "insufficient data",
			closes:      []float64{100, 102, 101},
			period:      7,
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			value, err := RSI(closesToKlines(tt.closes), tt.period)
			if tt.expectError {
				if err == nil {
					t.Error("expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !almostEqual(value, tt.expected) {
				t.Errorf("expected %f, got %f", tt.expected, value)
			}
		})
	}
}

func TestATR(t *testing.T) {
	// Constant 3.0 high-low range and single-step closes keep every true
	// range at 3.0, so the smoothed ATR must also be 3.0.
	klines := closesToKlines([]float64{100, 101, 102, 101, 102, 103})

	value, err := ATR(klines, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !almostEqual(value, 3.0) {
		t.Errorf("expected 3.0, got %f", value)
	}

	if _, err := ATR(klines[:3], 3); err == nil {
		t.Error("expected error for insufficient data")
	}
}

func TestChannel(t *testing.T) {
	klines := closesToKlines([]float64{100, 105, 103, 101, 110})

	// Channel over the 3 bars before the last: closes 105, 103, 101 with
	// +-1.5 wicks.
	high, low, err := Channel(klines, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !almostEqual(high, 106.5) {
		t.Errorf("expected channel high 106.5, got %f", high)
	}
	if !almostEqual(low, 99.5) {
		t.Errorf("expected channel low 99.5, got %f", low)
	}

	// The last bar's own high must not widen the channel it breaks.
	if klines[len(klines)-1].Close <= high {
		t.Errorf("test data should break the channel: close=%f high=%f", klines[len(klines)-1].Close, high)
	}

	if _, _, err := Channel(klines, 5); err == nil {
		t.Error("expected error for insufficient data")
	}
}

func TestImpulsePct(t *testing.T) {
	klines := closesToKlines([]float64{100, 101, 102, 103, 104, 102})

	value, err := ImpulsePct(klines, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !almostEqual(value, 2.0) {
		t.Errorf("expected 2.0, got %f", value)
	}

	if _, err := ImpulsePct(klines, 6); err == nil {
		t.Error("expected error for insufficient data")
	}
}

func TestAvgVolume(t *testing.T) {
	klines := closesToKlines([]float64{100, 101, 102, 103})
	klines[0].Volume = 500
	klines[1].Volume = 1500
	klines[2].Volume = 1000
	klines[3].Volume = 9000 // current bar, excluded from baseline

	value, err := AvgVolume(klines, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !almostEqual(value, 1000.0) {
		t.Errorf("expected 1000.0, got %f", value)
	}
}
