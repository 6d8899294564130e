package paperclient

import (
	"context"
	"testing"
	"time"

	"flipperBot/internal/domain"
	"flipperBot/internal/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Mocks ---

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

type mockMarket struct {
	markPrice float64
}

func (m *mockMarket) SubmitOrder(ctx context.Context, intent *domain.OrderIntent) (*ports.SubmitAck, error) {
	panic("not a private endpoint")
}
func (m *mockMarket) CancelOrder(ctx context.Context, symbol, intentID string) error {
	panic("not a private endpoint")
}
func (m *mockMarket) FetchSnapshot(ctx context.Context, symbol string) (*domain.ExchangeSnapshot, error) {
	panic("not a private endpoint")
}
func (m *mockMarket) StreamFills(ctx context.Context, handler func(domain.Fill), errHandler func(err error)) (chan struct{}, chan struct{}, error) {
	panic("not a private endpoint")
}
func (m *mockMarket) StreamKlines(ctx context.Context, symbol, interval string, handler func(kline *domain.Kline), errHandler func(err error)) (chan struct{}, chan struct{}, error) {
	return make(chan struct{}), make(chan struct{}), nil
}
func (m *mockMarket) GetKlines(ctx context.Context, symbol string, interval string, limit int) ([]*domain.Kline, error) {
	return nil, nil
}
func (m *mockMarket) GetMarkPrice(ctx context.Context, symbol string) (float64, error) {
	return m.markPrice, nil
}
func (m *mockMarket) GetBalance(ctx context.Context, asset string) (float64, error) {
	return 0, nil
}
func (m *mockMarket) GetInstrument(ctx context.Context, symbol string) (*domain.Instrument, error) {
	return &domain.Instrument{Symbol: symbol, StepSize: 0.001, MinQty: 0.001, MinNotional: 5}, nil
}
func (m *mockMarket) SetLeverage(ctx context.Context, symbol string, leverage int) error { return nil }
func (m *mockMarket) Ping(ctx context.Context) error                                     { return nil }

func setupPaperClient(t *testing.T, markPrice float64) (*Client, *mockMarket) {
	t.Helper()
	market := &mockMarket{markPrice: markPrice}
	client, err := New(Config{
		Market:         market,
		Logger:         &mockLogger{},
		InitialBalance: 10000,
		TakerFeeRate:   0.0004,
	})
	require.NoError(t, err)
	return client, market
}

func buyIntent(symbol string, size float64) *domain.OrderIntent {
	return domain.NewOrderIntent(symbol, domain.Buy, domain.KindOpen, size)
}

// --- Tests ---

func TestPaperClient_OpenCloseRoundTrip(t *testing.T) {
	ctx := context.Background()
	client, market := setupPaperClient(t, 40000)

	var fills []domain.Fill
	fillCh := make(chan domain.Fill, 4)
	_, stopCh, err := client.StreamFills(ctx, func(f domain.Fill) { fillCh <- f }, func(err error) {})
	require.NoError(t, err)
	defer close(stopCh)

	open := buyIntent("BTCUSDT", 0.5)
	ack, err := client.SubmitOrder(ctx, open)
	require.NoError(t, err)
	assert.Equal(t, domain.IntentFilled, ack.Status)
	assert.Equal(t, 0.5, ack.FilledSize)
	assert.Equal(t, 40000.0, ack.AvgPrice)

	snapshot, err := client.FetchSnapshot(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 0.5, snapshot.PositionSize)
	assert.Equal(t, 40000.0, snapshot.EntryPrice)

	market.markPrice = 40500
	closeIntent := domain.NewOrderIntent("BTCUSDT", domain.Sell, domain.KindClose, 0.5)
	ack, err = client.SubmitOrder(ctx, closeIntent)
	require.NoError(t, err)
	assert.Equal(t, domain.IntentFilled, ack.Status)

	snapshot, err = client.FetchSnapshot(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.True(t, snapshot.IsFlat())

	// 0.5 * 500 profit minus taker fees on both legs.
	openFee := 0.5 * 40000 * 0.0004
	closeFee := 0.5 * 40500 * 0.0004
	balance, err := client.GetBalance(ctx, "USDT")
	require.NoError(t, err)
	assert.InDelta(t, 10000+250-openFee-closeFee, balance, 1e-9)

	for i := 0; i < 2; i++ {
		select {
		case f := <-fillCh:
			fills = append(fills, f)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for simulated fill")
		}
	}
	assert.Equal(t, open.ID, fills[0].IntentID)
	assert.Equal(t, closeIntent.ID, fills[1].IntentID)
	assert.NotEqual(t, fills[0].TradeID, fills[1].TradeID)
}

func TestPaperClient_DuplicateIntentIDFillsOnce(t *testing.T) {
	ctx := context.Background()
	client, _ := setupPaperClient(t, 2000)

	intent := buyIntent("ETHUSDT", 2)
	first, err := client.SubmitOrder(ctx, intent)
	require.NoError(t, err)

	second, err := client.SubmitOrder(ctx, intent)
	require.NoError(t, err)
	assert.Equal(t, first.ExchangeOrderID, second.ExchangeOrderID)

	snapshot, err := client.FetchSnapshot(ctx, "ETHUSDT")
	require.NoError(t, err)
	assert.Equal(t, 2.0, snapshot.PositionSize, "resubmission must not double the position")
}

func TestPaperClient_ReduceOnlyRejectedWhenFlat(t *testing.T) {
	ctx := context.Background()
	client, _ := setupPaperClient(t, 40000)

	closeIntent := domain.NewOrderIntent("BTCUSDT", domain.Sell, domain.KindClose, 1)
	_, err := client.SubmitOrder(ctx, closeIntent)
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrOrderRejected)

	snapshot, err := client.FetchSnapshot(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.True(t, snapshot.IsFlat())
}

func TestPaperClient_ShortPositionPNL(t *testing.T) {
	ctx := context.Background()
	client, market := setupPaperClient(t, 100)

	short := domain.NewOrderIntent("SOLUSDT", domain.Sell, domain.KindOpen, 10)
	_, err := client.SubmitOrder(ctx, short)
	require.NoError(t, err)

	snapshot, err := client.FetchSnapshot(ctx, "SOLUSDT")
	require.NoError(t, err)
	assert.Equal(t, -10.0, snapshot.PositionSize)
	assert.Equal(t, domain.SideShort, snapshot.Side())

	market.markPrice = 90
	cover := domain.NewOrderIntent("SOLUSDT", domain.Buy, domain.KindClose, 10)
	_, err = client.SubmitOrder(ctx, cover)
	require.NoError(t, err)

	balance, err := client.GetBalance(ctx, "USDT")
	require.NoError(t, err)
	fees := 10*100*0.0004 + 10*90*0.0004
	assert.InDelta(t, 10000+100-fees, balance, 1e-9)
}

func TestPaperClient_CancelSemantics(t *testing.T) {
	ctx := context.Background()
	client, _ := setupPaperClient(t, 40000)

	err := client.CancelOrder(ctx, "BTCUSDT", "missing-intent")
	assert.ErrorIs(t, err, ports.ErrOrderNotFound)

	intent := buyIntent("BTCUSDT", 0.1)
	_, err = client.SubmitOrder(ctx, intent)
	require.NoError(t, err)

	err = client.CancelOrder(ctx, "BTCUSDT", intent.ID)
	assert.ErrorIs(t, err, ports.ErrOrderCancelFailed)
}

func TestPaperClient_LimitPriceUsedWhenGiven(t *testing.T) {
	ctx := context.Background()
	client, _ := setupPaperClient(t, 40000)

	limit := domain.NewOrderIntent("BTCUSDT", domain.Buy, domain.KindOpen, 0.2)
	limit.Price = 39950
	ack, err := client.SubmitOrder(ctx, limit)
	require.NoError(t, err)
	assert.Equal(t, 39950.0, ack.AvgPrice)

	snapshot, err := client.FetchSnapshot(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 39950.0, snapshot.EntryPrice)
}
