package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"flipperBot/internal/adapters/sqlite"
	"flipperBot/internal/domain"
	"flipperBot/internal/exits"
	"flipperBot/internal/ports"
	"flipperBot/internal/risk"
	"flipperBot/internal/sizing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// mockGateway is a scriptable ports.Gateway. Fills are not generated
// automatically; tests deliver them through Engine.OnFill to control
// ordering exactly.
type mockGateway struct {
	mu        sync.Mutex
	submits   []domain.OrderIntent
	canceled  []string
	submitErr error
	cancelErr error
	price     float64
	balance   float64
}

func newMockGateway() *mockGateway {
	return &mockGateway{price: 100.0, balance: 10000.0}
}

func (g *mockGateway) SubmitOrder(ctx context.Context, intent *domain.OrderIntent) (*ports.SubmitAck, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.submitErr != nil {
		return nil, g.submitErr
	}
	g.submits = append(g.submits, *intent)
	return &ports.SubmitAck{
		IntentID:        intent.ID,
		ExchangeOrderID: int64(len(g.submits)),
		Symbol:          intent.Symbol,
		Status:          domain.IntentSubmitted,
		Timestamp:       time.Now().UTC(),
	}, nil
}

func (g *mockGateway) CancelOrder(ctx context.Context, symbol, intentID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cancelErr != nil {
		return g.cancelErr
	}
	g.canceled = append(g.canceled, intentID)
	return nil
}

func (g *mockGateway) FetchSnapshot(ctx context.Context, symbol string) (*domain.ExchangeSnapshot, error) {
	return &domain.ExchangeSnapshot{Symbol: symbol, Taken: time.Now().UTC()}, nil
}

func (g *mockGateway) StreamFills(ctx context.Context, handler func(domain.Fill), errHandler func(err error)) (chan struct{}, chan struct{}, error) {
	return make(chan struct{}), make(chan struct{}), nil
}

func (g *mockGateway) StreamKlines(ctx context.Context, symbol, interval string, handler func(kline *domain.Kline), errHandler func(err error)) (chan struct{}, chan struct{}, error) {
	return make(chan struct{}), make(chan struct{}), nil
}

func (g *mockGateway) GetKlines(ctx context.Context, symbol string, interval string, limit int) ([]*domain.Kline, error) {
	return nil, nil
}

func (g *mockGateway) GetMarkPrice(ctx context.Context, symbol string) (float64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.price, nil
}

func (g *mockGateway) GetBalance(ctx context.Context, asset string) (float64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.balance, nil
}

func (g *mockGateway) GetInstrument(ctx context.Context, symbol string) (*domain.Instrument, error) {
	return &domain.Instrument{Symbol: symbol, StepSize: 0.001, MinQty: 0.001, QuantityPrecision: 3}, nil
}

func (g *mockGateway) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	return nil
}

func (g *mockGateway) Ping(ctx context.Context) error { return nil }

func (g *mockGateway) submitCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.submits)
}

func (g *mockGateway) lastSubmit() domain.OrderIntent {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.submits[len(g.submits)-1]
}

type testRig struct {
	eng    *Engine
	gw     *mockGateway
	store  *sqlite.Store
	cancel context.CancelFunc
}

// newTestRig wires an engine against a real sqlite store and the mock
// gateway. Sizing is fixed so margin 100 at price 100 and leverage 1
// yields quantity 1.
func newTestRig(t *testing.T, guardCfg risk.Config) *testRig {
	t.Helper()
	log := &mockLogger{}

	store, err := sqlite.NewStore(sqlite.Config{
		DBPath: filepath.Join(t.TempDir(), "engine_test.db"),
		Logger: log,
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	gw := newMockGateway()
	guard := risk.New(guardCfg, log)
	sizer, err := sizing.New(sizing.Config{Mode: sizing.ModeFixed, Value: 100}, log)
	require.NoError(t, err)

	eng, err := New(Config{
		DefaultLeverage:      1,
		TransitionalTimeout:  time.Minute,
		StaleIntentTTL:       time.Minute,
		HousekeepingInterval: 50 * time.Millisecond,
		ExitDefaults:         exits.Config{TakeProfitPct: 5, StopLossPct: 2},
	}, Deps{
		Logger:  log,
		Gateway: gw,
		Store:   store,
		Guard:   guard,
		Sizer:   sizer,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	eng.Start(ctx)
	t.Cleanup(cancel)

	return &testRig{eng: eng, gw: gw, store: store, cancel: cancel}
}

func waitForState(t *testing.T, eng *Engine, symbol string, state domain.PositionState) *SymbolStatus {
	t.Helper()
	var last *SymbolStatus
	require.Eventually(t, func() bool {
		st, err := eng.Status(symbol)
		if err != nil || st.Position == nil {
			return false
		}
		last = st
		return st.Position.State == state
	}, 2*time.Second, 10*time.Millisecond, "symbol %s never reached state %s", symbol, state)
	return last
}

func fillFor(intent domain.OrderIntent, size, price float64, tradeID string) domain.Fill {
	return domain.Fill{
		IntentID: intent.ID,
		Symbol:   intent.Symbol,
		Side:     intent.Side,
		Size:     size,
		Price:    price,
		Fee:      0.05,
		TradeID:  tradeID,
		Time:     time.Now().UTC(),
	}
}

func TestEngine_OpenThenCloseCycle(t *testing.T) {
	rig := newTestRig(t, risk.Config{MaxPositionSize: 5})
	ctx := context.Background()
	require.NoError(t, rig.eng.Track("BTCUSD", true))

	require.NoError(t, rig.eng.OnSignal(ctx, domain.Signal{Symbol: "BTCUSD", Direction: domain.DirectionLong}))
	waitForState(t, rig.eng, "BTCUSD", domain.StateOpening)

	openIntent := rig.gw.lastSubmit()
	assert.Equal(t, domain.Buy, openIntent.Side)
	assert.Equal(t, domain.KindOpen, openIntent.Kind)
	assert.InDelta(t, 1.0, openIntent.Size, 1e-9)

	rig.eng.OnFill(ctx, fillFor(openIntent, 1.0, 100.0, "t1"))
	st := waitForState(t, rig.eng, "BTCUSD", domain.StateOpen)
	assert.Equal(t, domain.SideLong, st.Position.Side)
	assert.InDelta(t, 1.0, st.Position.Size, 1e-9)
	assert.InDelta(t, 100.0, st.Position.EntryPrice, 1e-9)
	assert.Nil(t, st.Intent)

	require.NoError(t, rig.eng.ForceFlatten(ctx, "BTCUSD", domain.CloseReasonManual))
	waitForState(t, rig.eng, "BTCUSD", domain.StateClosing)

	closeIntent := rig.gw.lastSubmit()
	assert.Equal(t, domain.Sell, closeIntent.Side)
	assert.Equal(t, domain.KindClose, closeIntent.Kind)
	assert.True(t, closeIntent.ReduceOnly)

	rig.eng.OnFill(ctx, fillFor(closeIntent, 1.0, 103.0, "t2"))
	st = waitForState(t, rig.eng, "BTCUSD", domain.StateFlat)
	assert.Equal(t, domain.CloseReasonManual, st.Position.CloseReason)
	assert.False(t, st.Position.ClosedAt.IsZero())
	// (103-100)*1 minus two 0.05 fees.
	assert.InDelta(t, 2.9, st.Position.RealizedPNL, 1e-9)

	// Net of all fills is zero once the cycle completes.
	fills, err := rig.store.FillsByPosition(ctx, st.Position.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, domain.NetSize(fills), 1e-9)
}

func TestEngine_RiskDeniedStaysFlat(t *testing.T) {
	rig := newTestRig(t, risk.Config{MaxPositionSize: 0.5})
	ctx := context.Background()
	require.NoError(t, rig.eng.Track("BTCUSD", true))

	require.NoError(t, rig.eng.OnSignal(ctx, domain.Signal{Symbol: "BTCUSD", Direction: domain.DirectionLong}))

	require.Eventually(t, func() bool {
		st, err := rig.eng.Status("BTCUSD")
		return err == nil && st.LastError != ""
	}, 2*time.Second, 10*time.Millisecond)

	st, err := rig.eng.Status("BTCUSD")
	require.NoError(t, err)
	assert.Equal(t, domain.StateFlat, st.Position.State)
	assert.Zero(t, rig.gw.submitCount(), "denied signal must not reach the exchange")

	outstanding, err := rig.store.OutstandingIntent(ctx, "BTCUSD")
	require.NoError(t, err)
	assert.Nil(t, outstanding)
}

func TestEngine_QueuedSignalLatestWins(t *testing.T) {
	rig := newTestRig(t, risk.Config{MaxPositionSize: 5})
	ctx := context.Background()
	require.NoError(t, rig.eng.Track("BTCUSD", true))

	require.NoError(t, rig.eng.OnSignal(ctx, domain.Signal{Symbol: "BTCUSD", Direction: domain.DirectionLong}))
	waitForState(t, rig.eng, "BTCUSD", domain.StateOpening)

	// Two signals land while opening: the short is superseded by the
	// long, so after the fill nothing new happens.
	require.NoError(t, rig.eng.OnSignal(ctx, domain.Signal{Symbol: "BTCUSD", Direction: domain.DirectionShort}))
	require.NoError(t, rig.eng.OnSignal(ctx, domain.Signal{Symbol: "BTCUSD", Direction: domain.DirectionLong}))

	require.Eventually(t, func() bool {
		st, err := rig.eng.Status("BTCUSD")
		return err == nil && st.QueuedSignal != nil && st.QueuedSignal.Direction == domain.DirectionLong
	}, 2*time.Second, 10*time.Millisecond)

	openIntent := rig.gw.lastSubmit()
	rig.eng.OnFill(ctx, fillFor(openIntent, 1.0, 100.0, "t1"))
	st := waitForState(t, rig.eng, "BTCUSD", domain.StateOpen)

	assert.Nil(t, st.QueuedSignal, "queue drains after the transition settles")
	assert.Equal(t, domain.SideLong, st.Position.Side)
	assert.Equal(t, 1, rig.gw.submitCount(), "superseded short must never submit")
}

func TestEngine_FlipOnOppositeSignal(t *testing.T) {
	rig := newTestRig(t, risk.Config{MaxPositionSize: 5})
	ctx := context.Background()
	require.NoError(t, rig.eng.Track("ETHUSD", true))

	require.NoError(t, rig.eng.OnSignal(ctx, domain.Signal{Symbol: "ETHUSD", Direction: domain.DirectionLong}))
	waitForState(t, rig.eng, "ETHUSD", domain.StateOpening)
	rig.eng.OnFill(ctx, fillFor(rig.gw.lastSubmit(), 1.0, 100.0, "f1"))
	waitForState(t, rig.eng, "ETHUSD", domain.StateOpen)

	// Opposite signal closes and queues the reopen.
	require.NoError(t, rig.eng.OnSignal(ctx, domain.Signal{Symbol: "ETHUSD", Direction: domain.DirectionShort}))
	waitForState(t, rig.eng, "ETHUSD", domain.StateClosing)
	rig.eng.OnFill(ctx, fillFor(rig.gw.lastSubmit(), 1.0, 101.0, "f2"))

	// The queued short opens a fresh position once flat.
	waitForState(t, rig.eng, "ETHUSD", domain.StateOpening)
	shortIntent := rig.gw.lastSubmit()
	assert.Equal(t, domain.Sell, shortIntent.Side)
	assert.Equal(t, domain.KindOpen, shortIntent.Kind)

	rig.eng.OnFill(ctx, fillFor(shortIntent, 1.0, 101.0, "f3"))
	st := waitForState(t, rig.eng, "ETHUSD", domain.StateOpen)
	assert.Equal(t, domain.SideShort, st.Position.Side)

	// The completed long cycle is retained as history.
	history, err := rig.store.PositionHistory(ctx, "ETHUSD", 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, domain.StateFlat, history[1].State)
	assert.Equal(t, domain.SideLong, history[1].Side)
}

func TestEngine_DuplicateFillAppliedOnce(t *testing.T) {
	rig := newTestRig(t, risk.Config{MaxPositionSize: 5})
	ctx := context.Background()
	require.NoError(t, rig.eng.Track("BTCUSD", true))

	require.NoError(t, rig.eng.OnSignal(ctx, domain.Signal{Symbol: "BTCUSD", Direction: domain.DirectionLong}))
	waitForState(t, rig.eng, "BTCUSD", domain.StateOpening)
	openIntent := rig.gw.lastSubmit()

	fill := fillFor(openIntent, 1.0, 100.0, "dup-1")
	rig.eng.OnFill(ctx, fill)
	waitForState(t, rig.eng, "BTCUSD", domain.StateOpen)

	// Replay of the same exchange trade must be a no-op.
	rig.eng.OnFill(ctx, fill)
	time.Sleep(100 * time.Millisecond)

	st, err := rig.eng.Status("BTCUSD")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, st.Position.Size, 1e-9)

	fills, err := rig.store.FillsByPosition(ctx, st.Position.ID)
	require.NoError(t, err)
	assert.Len(t, fills, 1)
}

func TestEngine_PartialFillsAccumulate(t *testing.T) {
	rig := newTestRig(t, risk.Config{MaxPositionSize: 5})
	ctx := context.Background()
	require.NoError(t, rig.eng.Track("BTCUSD", true))

	require.NoError(t, rig.eng.OnSignal(ctx, domain.Signal{Symbol: "BTCUSD", Direction: domain.DirectionLong}))
	waitForState(t, rig.eng, "BTCUSD", domain.StateOpening)
	openIntent := rig.gw.lastSubmit()

	rig.eng.OnFill(ctx, fillFor(openIntent, 0.4, 100.0, "p1"))
	require.Eventually(t, func() bool {
		st, err := rig.eng.Status("BTCUSD")
		return err == nil && st.Intent != nil && st.Intent.Status == domain.IntentPartiallyFilled
	}, 2*time.Second, 10*time.Millisecond)

	st, err := rig.eng.Status("BTCUSD")
	require.NoError(t, err)
	assert.Equal(t, domain.StateOpening, st.Position.State, "partial fill keeps the transitional state")
	assert.InDelta(t, 0.4, st.Position.Size, 1e-9)

	rig.eng.OnFill(ctx, fillFor(openIntent, 0.6, 110.0, "p2"))
	st = waitForState(t, rig.eng, "BTCUSD", domain.StateOpen)
	assert.InDelta(t, 1.0, st.Position.Size, 1e-9)
	// VWAP of 0.4@100 and 0.6@110.
	assert.InDelta(t, 106.0, st.Position.EntryPrice, 1e-9)
}

func TestEngine_ExitOnTakeProfit(t *testing.T) {
	rig := newTestRig(t, risk.Config{MaxPositionSize: 5})
	ctx := context.Background()
	require.NoError(t, rig.eng.Track("BTCUSD", true))

	require.NoError(t, rig.eng.OnSignal(ctx, domain.Signal{Symbol: "BTCUSD", Direction: domain.DirectionLong}))
	waitForState(t, rig.eng, "BTCUSD", domain.StateOpening)
	rig.eng.OnFill(ctx, fillFor(rig.gw.lastSubmit(), 1.0, 100.0, "t1"))
	waitForState(t, rig.eng, "BTCUSD", domain.StateOpen)

	// Take profit is 5 percent; a tick at 106 crosses it.
	rig.eng.OnMark("BTCUSD", 106.0, time.Now().UTC())
	waitForState(t, rig.eng, "BTCUSD", domain.StateClosing)

	rig.eng.OnFill(ctx, fillFor(rig.gw.lastSubmit(), 1.0, 106.0, "t2"))
	st := waitForState(t, rig.eng, "BTCUSD", domain.StateFlat)
	assert.Equal(t, domain.CloseReasonTakeProfit, st.Position.CloseReason)
}

func TestEngine_SubmissionUnknownForcesReconcile(t *testing.T) {
	rig := newTestRig(t, risk.Config{MaxPositionSize: 5})
	ctx := context.Background()
	require.NoError(t, rig.eng.Track("BTCUSD", true))

	rig.gw.mu.Lock()
	rig.gw.submitErr = fmt.Errorf("submit failed after retries: %w", ports.ErrSubmissionUnknown)
	rig.gw.mu.Unlock()

	require.NoError(t, rig.eng.OnSignal(ctx, domain.Signal{Symbol: "BTCUSD", Direction: domain.DirectionLong}))

	select {
	case symbol := <-rig.eng.ReconcileRequests():
		assert.Equal(t, "BTCUSD", symbol)
	case <-time.After(2 * time.Second):
		t.Fatal("no forced reconciliation request after unknown submission outcome")
	}

	st, err := rig.eng.Status("BTCUSD")
	require.NoError(t, err)
	assert.Equal(t, domain.StateOpening, st.Position.State, "state stays transitional until reconciliation resolves it")
	assert.Nil(t, st.Intent)

	intent, err := rig.store.OutstandingIntent(ctx, "BTCUSD")
	require.NoError(t, err)
	assert.Nil(t, intent, "intent must be terminal with the unknown sub-reason")
}

func TestEngine_RejectedSubmissionRevertsToFlat(t *testing.T) {
	rig := newTestRig(t, risk.Config{MaxPositionSize: 5})
	ctx := context.Background()
	require.NoError(t, rig.eng.Track("BTCUSD", true))

	rig.gw.mu.Lock()
	rig.gw.submitErr = fmt.Errorf("submit failed: %w", ports.ErrOrderRejected)
	rig.gw.mu.Unlock()

	require.NoError(t, rig.eng.OnSignal(ctx, domain.Signal{Symbol: "BTCUSD", Direction: domain.DirectionLong}))
	st := waitForState(t, rig.eng, "BTCUSD", domain.StateFlat)
	assert.Equal(t, domain.SideFlat, st.Position.Side)
	assert.NotEmpty(t, st.LastError)
}

func TestEngine_StopSymbolDropsSignals(t *testing.T) {
	rig := newTestRig(t, risk.Config{MaxPositionSize: 5})
	ctx := context.Background()
	require.NoError(t, rig.eng.Track("BTCUSD", true))

	require.NoError(t, rig.eng.StopSymbol(ctx, "BTCUSD"))
	require.Eventually(t, func() bool {
		st, err := rig.eng.Status("BTCUSD")
		return err == nil && !st.Accepting
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, rig.eng.OnSignal(ctx, domain.Signal{Symbol: "BTCUSD", Direction: domain.DirectionLong}))
	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, rig.gw.submitCount())

	require.NoError(t, rig.eng.StartSymbol(ctx, "BTCUSD"))
	require.NoError(t, rig.eng.OnSignal(ctx, domain.Signal{Symbol: "BTCUSD", Direction: domain.DirectionLong}))
	waitForState(t, rig.eng, "BTCUSD", domain.StateOpening)
}

func TestEngine_CorrectionMarkFlatSetsDivergence(t *testing.T) {
	rig := newTestRig(t, risk.Config{MaxPositionSize: 5})
	ctx := context.Background()
	require.NoError(t, rig.eng.Track("BTCUSD", true))

	require.NoError(t, rig.eng.OnSignal(ctx, domain.Signal{Symbol: "BTCUSD", Direction: domain.DirectionLong}))
	waitForState(t, rig.eng, "BTCUSD", domain.StateOpening)
	rig.eng.OnFill(ctx, fillFor(rig.gw.lastSubmit(), 1.0, 100.0, "t1"))
	waitForState(t, rig.eng, "BTCUSD", domain.StateOpen)

	submitsBefore := rig.gw.submitCount()
	err := rig.eng.ApplyCorrection(ctx, "BTCUSD", Correction{
		Kind:     CorrectionMarkFlat,
		Snapshot: &domain.ExchangeSnapshot{Symbol: "BTCUSD", Taken: time.Now().UTC()},
	})
	require.NoError(t, err)

	st, err := rig.eng.Status("BTCUSD")
	require.NoError(t, err)
	assert.Equal(t, domain.StateFlat, st.Position.State)
	assert.True(t, st.Position.Divergence)
	assert.Equal(t, domain.CloseReasonDivergence, st.Position.CloseReason)
	assert.Equal(t, submitsBefore, rig.gw.submitCount(), "corrections never submit orders")
}

func TestEngine_CorrectionAdoptExternal(t *testing.T) {
	rig := newTestRig(t, risk.Config{MaxPositionSize: 5})
	ctx := context.Background()
	require.NoError(t, rig.eng.Track("SOLUSD", true))
	waitForState(t, rig.eng, "SOLUSD", domain.StateFlat)

	err := rig.eng.ApplyCorrection(ctx, "SOLUSD", Correction{
		Kind: CorrectionAdoptExternal,
		Snapshot: &domain.ExchangeSnapshot{
			Symbol:       "SOLUSD",
			PositionSize: -3.0,
			EntryPrice:   42.0,
			Leverage:     5,
			Taken:        time.Now().UTC(),
		},
	})
	require.NoError(t, err)

	st, err := rig.eng.Status("SOLUSD")
	require.NoError(t, err)
	assert.Equal(t, domain.StateOpen, st.Position.State)
	assert.Equal(t, domain.SideShort, st.Position.Side)
	assert.InDelta(t, 3.0, st.Position.Size, 1e-9)
	assert.True(t, st.Position.External)
}

func TestEngine_PanicFlattenStopsIntake(t *testing.T) {
	rig := newTestRig(t, risk.Config{MaxPositionSize: 5})
	ctx := context.Background()
	require.NoError(t, rig.eng.Track("BTCUSD", true))
	require.NoError(t, rig.eng.Track("ETHUSD", true))

	require.NoError(t, rig.eng.OnSignal(ctx, domain.Signal{Symbol: "BTCUSD", Direction: domain.DirectionLong}))
	waitForState(t, rig.eng, "BTCUSD", domain.StateOpening)
	rig.eng.OnFill(ctx, fillFor(rig.gw.lastSubmit(), 1.0, 100.0, "p1"))
	waitForState(t, rig.eng, "BTCUSD", domain.StateOpen)

	require.NoError(t, rig.eng.FlattenAll(ctx, domain.CloseReasonPanic))
	waitForState(t, rig.eng, "BTCUSD", domain.StateClosing)

	closeIntent := rig.gw.lastSubmit()
	assert.Equal(t, domain.Sell, closeIntent.Side)
	assert.True(t, closeIntent.ReduceOnly)

	rig.eng.OnFill(ctx, fillFor(closeIntent, 1.0, 98.0, "p2"))
	st := waitForState(t, rig.eng, "BTCUSD", domain.StateFlat)
	assert.Equal(t, domain.CloseReasonPanic, st.Position.CloseReason)

	// A panic stop closes intake on every symbol, the flat one included.
	for _, sym := range []string{"BTCUSD", "ETHUSD"} {
		require.Eventually(t, func() bool {
			st, err := rig.eng.Status(sym)
			return err == nil && !st.Accepting
		}, 2*time.Second, 10*time.Millisecond, "intake still open on %s", sym)
	}

	submits := rig.gw.submitCount()
	require.NoError(t, rig.eng.OnSignal(ctx, domain.Signal{Symbol: "ETHUSD", Direction: domain.DirectionShort}))
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, submits, rig.gw.submitCount(), "stopped symbol must drop signals")
}

func TestEngine_ManualFlattenKeepsIntake(t *testing.T) {
	rig := newTestRig(t, risk.Config{MaxPositionSize: 5})
	ctx := context.Background()
	require.NoError(t, rig.eng.Track("BTCUSD", true))

	require.NoError(t, rig.eng.OnSignal(ctx, domain.Signal{Symbol: "BTCUSD", Direction: domain.DirectionLong}))
	waitForState(t, rig.eng, "BTCUSD", domain.StateOpening)
	rig.eng.OnFill(ctx, fillFor(rig.gw.lastSubmit(), 1.0, 100.0, "m1"))
	waitForState(t, rig.eng, "BTCUSD", domain.StateOpen)

	require.NoError(t, rig.eng.ForceFlatten(ctx, "BTCUSD", domain.CloseReasonManual))
	waitForState(t, rig.eng, "BTCUSD", domain.StateClosing)
	rig.eng.OnFill(ctx, fillFor(rig.gw.lastSubmit(), 1.0, 101.0, "m2"))
	waitForState(t, rig.eng, "BTCUSD", domain.StateFlat)

	st, err := rig.eng.Status("BTCUSD")
	require.NoError(t, err)
	assert.True(t, st.Accepting, "manual flatten leaves the symbol trading")

	require.NoError(t, rig.eng.OnSignal(ctx, domain.Signal{Symbol: "BTCUSD", Direction: domain.DirectionShort}))
	waitForState(t, rig.eng, "BTCUSD", domain.StateOpening)
}

func TestEngine_CorrectionMarkFlatUnfilledOpenIsClean(t *testing.T) {
	rig := newTestRig(t, risk.Config{MaxPositionSize: 5})
	ctx := context.Background()
	require.NoError(t, rig.eng.Track("BTCUSD", true))

	require.NoError(t, rig.eng.OnSignal(ctx, domain.Signal{Symbol: "BTCUSD", Direction: domain.DirectionLong}))
	waitForState(t, rig.eng, "BTCUSD", domain.StateOpening)
	intent := rig.gw.lastSubmit()

	// The exchange reports flat before any fill arrived: the open never
	// executed, so the revert carries no divergence.
	err := rig.eng.ApplyCorrection(ctx, "BTCUSD", Correction{
		Kind:     CorrectionMarkFlat,
		Snapshot: &domain.ExchangeSnapshot{Symbol: "BTCUSD", Taken: time.Now().UTC()},
	})
	require.NoError(t, err)

	st, err := rig.eng.Status("BTCUSD")
	require.NoError(t, err)
	assert.Equal(t, domain.StateFlat, st.Position.State)
	assert.False(t, st.Position.Divergence)
	assert.Empty(t, st.Position.CloseReason)
	assert.Nil(t, st.Intent)

	stored, err := rig.store.IntentByID(ctx, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.IntentRejected, stored.Status)
	assert.Equal(t, "never_executed", stored.Reason)

	outstanding, err := rig.store.OutstandingIntent(ctx, "BTCUSD")
	require.NoError(t, err)
	assert.Nil(t, outstanding)
}
