package exits

import (
	"context"
	"testing"
	"time"

	"flipperBot/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openPosition(side domain.Side, entry float64, openedAt time.Time) *domain.Position {
	return &domain.Position{
		ID:         1,
		Symbol:     "BTCUSDT",
		Side:       side,
		Size:       1,
		EntryPrice: entry,
		State:      domain.StateOpen,
		OpenedAt:   openedAt,
	}
}

func TestEvaluator_TakeProfitAndStopLoss(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	cfg := Config{TakeProfitPct: 1.0, StopLossPct: 0.5}

	tests := []struct {
		name string
		side domain.Side
		mark float64
		want domain.CloseReason
		hold bool
	}{
		{name: "long holds in range", side: domain.SideLong, mark: 40100, hold: true},
		{name: "long take profit", side: domain.SideLong, mark: 40400, want: domain.CloseReasonTakeProfit},
		{name: "long take profit exact", side: domain.SideLong, mark: 40400.0, want: domain.CloseReasonTakeProfit},
		{name: "long stop loss", side: domain.SideLong, mark: 39799, want: domain.CloseReasonStopLoss},
		{name: "short holds in range", side: domain.SideShort, mark: 39900, hold: true},
		{name: "short take profit", side: domain.SideShort, mark: 39600, want: domain.CloseReasonTakeProfit},
		{name: "short stop loss", side: domain.SideShort, mark: 40201, want: domain.CloseReasonStopLoss},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := New(cfg, nil)
			pos := openPosition(tt.side, 40000, now.Add(-time.Minute))
			st := &State{}

			d := e.Evaluate(context.Background(), pos, st, tt.mark, now)
			if tt.hold {
				assert.Nil(t, d)
				return
			}
			require.NotNil(t, d)
			assert.Equal(t, tt.want, d.Reason)
			assert.Equal(t, tt.mark, d.Price)
		})
	}
}

func TestEvaluator_BreakEven(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	cfg := Config{
		TakeProfitPct:       2.0,
		StopLossPct:         1.0,
		BreakEvenTriggerPct: 0.5,
		BreakEvenOffsetPct:  0.1,
	}
	e := New(cfg, nil)
	pos := openPosition(domain.SideLong, 40000, now.Add(-time.Minute))
	st := &State{}

	// Below trigger: ordinary stop applies, break-even stays unarmed.
	d := e.Evaluate(context.Background(), pos, st, 40100, now)
	assert.Nil(t, d)
	assert.False(t, st.BreakEvenActive)

	// Trigger touched at +0.5%.
	d = e.Evaluate(context.Background(), pos, st, 40200, now)
	assert.Nil(t, d)
	assert.True(t, st.BreakEvenActive)

	// Retrace to the offset stop at +0.1% closes as break-even, not SL.
	d = e.Evaluate(context.Background(), pos, st, 40040, now)
	require.NotNil(t, d)
	assert.Equal(t, domain.CloseReasonBreakEven, d.Reason)
}

func TestEvaluator_BreakEvenRearmsAfterRestart(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	cfg := Config{StopLossPct: 1.0, BreakEvenTriggerPct: 0.5, BreakEvenOffsetPct: 0.1}
	e := New(cfg, nil)
	pos := openPosition(domain.SideLong, 40000, now.Add(-time.Hour))

	// Fresh state, as after a process restart with price still beyond the
	// trigger: the same tick both re-arms and enforces the stop check.
	st := &State{}
	d := e.Evaluate(context.Background(), pos, st, 40250, now)
	assert.Nil(t, d)
	assert.True(t, st.BreakEvenActive)
}

func TestEvaluator_ShortBreakEven(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	cfg := Config{StopLossPct: 1.0, BreakEvenTriggerPct: 0.5, BreakEvenOffsetPct: 0.1}
	e := New(cfg, nil)
	pos := openPosition(domain.SideShort, 40000, now.Add(-time.Minute))
	st := &State{}

	d := e.Evaluate(context.Background(), pos, st, 39800, now)
	assert.Nil(t, d)
	assert.True(t, st.BreakEvenActive)

	// Short break-even stop sits below entry.
	d = e.Evaluate(context.Background(), pos, st, 39960, now)
	require.NotNil(t, d)
	assert.Equal(t, domain.CloseReasonBreakEven, d.Reason)
}

func TestEvaluator_TimeStop(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	cfg := Config{MaxHold: 30 * time.Minute}
	e := New(cfg, nil)
	st := &State{}

	young := openPosition(domain.SideLong, 40000, now.Add(-10*time.Minute))
	assert.Nil(t, e.Evaluate(context.Background(), young, st, 40000, now))

	old := openPosition(domain.SideLong, 40000, now.Add(-31*time.Minute))
	d := e.Evaluate(context.Background(), old, st, 40000, now)
	require.NotNil(t, d)
	assert.Equal(t, domain.CloseReasonTimeLimit, d.Reason)
}

func TestEvaluator_IgnoresNonOpenPositions(t *testing.T) {
	now := time.Now()
	e := New(Config{TakeProfitPct: 0.1}, nil)
	st := &State{}

	closing := openPosition(domain.SideLong, 40000, now.Add(-time.Minute))
	closing.State = domain.StateClosing
	assert.Nil(t, e.Evaluate(context.Background(), closing, st, 50000, now))

	flat := domain.NewFlatPosition("BTCUSDT")
	assert.Nil(t, e.Evaluate(context.Background(), flat, st, 50000, now))
}

func TestMerge_PairOverrides(t *testing.T) {
	base := Config{TakeProfitPct: 1.0, StopLossPct: 0.5, MaxHold: time.Hour}

	merged := Merge(base, &domain.Pair{Symbol: "ETHUSDT", TakeProfitPct: 2.5})
	assert.Equal(t, 2.5, merged.TakeProfitPct)
	assert.Equal(t, 0.5, merged.StopLossPct)
	assert.Equal(t, time.Hour, merged.MaxHold)

	assert.Equal(t, base, Merge(base, nil))
}
