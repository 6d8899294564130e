package sizing

import (
	"context"
	"testing"

	"flipperBot/internal/domain"
	"flipperBot/internal/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_ValidatesConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "percent ok", cfg: Config{Mode: ModePercent, Value: 25}},
		{name: "percent over 100", cfg: Config{Mode: ModePercent, Value: 150}, wantErr: true},
		{name: "percent zero", cfg: Config{Mode: ModePercent, Value: 0}, wantErr: true},
		{name: "fixed ok", cfg: Config{Mode: ModeFixed, Value: 100}},
		{name: "fixed zero", cfg: Config{Mode: ModeFixed, Value: 0}, wantErr: true},
		{name: "full ok", cfg: Config{Mode: ModeFull}},
		{name: "unknown mode", cfg: Config{Mode: "martingale", Value: 1}, wantErr: true},
		{name: "negative reserve", cfg: Config{Mode: ModeFull, Reserve: -5}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg, nil)
			if tt.wantErr {
				assert.ErrorIs(t, err, ports.ErrConfigurationError)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCalculator_Margin(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		balance float64
		want    float64
		wantErr bool
	}{
		{
			name:    "percent of usable balance",
			cfg:     Config{Mode: ModePercent, Value: 25},
			balance: 1000,
			want:    250,
		},
		{
			name:    "percent applies reserve first",
			cfg:     Config{Mode: ModePercent, Value: 50, Reserve: 200},
			balance: 1000,
			want:    400,
		},
		{
			name:    "fixed amount",
			cfg:     Config{Mode: ModeFixed, Value: 150},
			balance: 1000,
			want:    150,
		},
		{
			name:    "fixed exceeding balance",
			cfg:     Config{Mode: ModeFixed, Value: 1500},
			balance: 1000,
			wantErr: true,
		},
		{
			name:    "full minus reserve",
			cfg:     Config{Mode: ModeFull, Reserve: 100},
			balance: 1000,
			want:    900,
		},
		{
			name:    "cap bounds the result",
			cfg:     Config{Mode: ModeFull, Cap: 300},
			balance: 1000,
			want:    300,
		},
		{
			name:    "reserve exhausts balance",
			cfg:     Config{Mode: ModeFull, Reserve: 1000},
			balance: 1000,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.cfg, nil)
			require.NoError(t, err)

			got, err := c.Margin(tt.balance)
			if tt.wantErr {
				assert.ErrorIs(t, err, ports.ErrInsufficientFunds)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestCalculator_Quantity(t *testing.T) {
	ctx := context.Background()
	btc := &domain.Instrument{
		Symbol:            "BTCUSDT",
		QuantityPrecision: 3,
		StepSize:          0.001,
		MinQty:            0.001,
		MinNotional:       100,
	}

	tests := []struct {
		name     string
		cfg      Config
		balance  float64
		price    float64
		leverage int
		inst     *domain.Instrument
		want     float64
		wantErr  error
	}{
		{
			name:     "floored to step size",
			cfg:      Config{Mode: ModeFixed, Value: 100},
			balance:  1000,
			price:    40000,
			leverage: 5,
			inst:     btc,
			// 100 * 5 / 40000 = 0.0125 -> 0.012
			want: 0.012,
		},
		{
			name:     "exact step multiple unchanged",
			cfg:      Config{Mode: ModeFixed, Value: 80},
			balance:  1000,
			price:    40000,
			leverage: 5,
			inst:     btc,
			// 80 * 5 / 40000 = 0.01
			want: 0.01,
		},
		{
			name:     "below min quantity",
			cfg:      Config{Mode: ModeFixed, Value: 4},
			balance:  1000,
			price:    40000,
			leverage: 5,
			inst:     btc,
			// 4 * 5 / 40000 = 0.0005 -> floored to 0
			wantErr: ports.ErrInsufficientFunds,
		},
		{
			name:     "below min notional",
			cfg:      Config{Mode: ModeFixed, Value: 10},
			balance:  1000,
			price:    40000,
			leverage: 5,
			inst:     btc,
			// 0.00125 -> 0.001, notional 40 < 100
			wantErr: ports.ErrInsufficientFunds,
		},
		{
			name:     "precision fallback without step",
			cfg:      Config{Mode: ModeFixed, Value: 100},
			balance:  1000,
			price:    3,
			leverage: 1,
			inst:     &domain.Instrument{Symbol: "XRPUSDT", QuantityPrecision: 1},
			// 100 / 3 = 33.333... -> 33.3
			want: 33.3,
		},
		{
			name:     "invalid price",
			cfg:      Config{Mode: ModeFixed, Value: 100},
			balance:  1000,
			price:    0,
			leverage: 5,
			inst:     btc,
			wantErr:  ports.ErrInvalidRequest,
		},
		{
			name:     "invalid leverage",
			cfg:      Config{Mode: ModeFixed, Value: 100},
			balance:  1000,
			price:    40000,
			leverage: 0,
			inst:     btc,
			wantErr:  ports.ErrInvalidRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.cfg, nil)
			require.NoError(t, err)

			got, err := c.Quantity(ctx, tt.balance, tt.price, tt.leverage, tt.inst)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestCalculator_QuantityNoFloatDrift(t *testing.T) {
	// Repeated percent sizing at an awkward price must always land on an
	// exact step multiple.
	c, err := New(Config{Mode: ModePercent, Value: 33.3}, nil)
	require.NoError(t, err)

	inst := &domain.Instrument{Symbol: "ETHUSDT", StepSize: 0.01, MinQty: 0.01}
	for i := 0; i < 100; i++ {
		qty, err := c.Quantity(context.Background(), 1234.56, 1999.99, 3, inst)
		require.NoError(t, err)
		steps := qty / 0.01
		assert.InDelta(t, steps, float64(int64(steps+0.5)), 1e-9, "quantity %v is not a step multiple", qty)
	}
}
