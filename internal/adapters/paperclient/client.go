// Package paperclient provides a simulated exchange gateway. Market data
// is delegated to a real gateway's public endpoints while the private
// surface (orders, fills, positions, balance) is simulated in memory.
// Orders fill immediately at the mark price; resting limits and partial
// fills are not simulated.
package paperclient

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"flipperBot/internal/domain"
	"flipperBot/internal/ports"
)

const (
	// defaultTakerFeeRate matches the Binance USD-M futures taker fee.
	defaultTakerFeeRate = 0.0004

	defaultInitialBalance = 10000.0
)

type paperPosition struct {
	size     float64 // signed, positive long
	entry    float64
	leverage int
}

type paperOrder struct {
	ack  ports.SubmitAck
	fill domain.Fill
}

// Client implements ports.Gateway against an in-memory account.
type Client struct {
	market ports.Gateway
	logger ports.Logger

	mu          sync.Mutex
	balance     float64
	feeRate     float64
	positions   map[string]*paperPosition
	orders      map[string]*paperOrder
	fillCh      chan domain.Fill
	nextTradeID int64
}

// Config holds configuration for the paper gateway.
type Config struct {
	// Market serves public data (klines, mark price, instruments). Required.
	Market ports.Gateway
	Logger ports.Logger
	// InitialBalance is the simulated account balance in the quote asset.
	InitialBalance float64
	// TakerFeeRate is charged on every simulated fill's notional.
	TakerFeeRate float64
}

// New creates a paper gateway backed by the given market-data gateway.
func New(cfg Config) (*Client, error) {
	if cfg.Market == nil {
		return nil, fmt.Errorf("market data gateway is required for paper trading: %w", ports.ErrConfigurationError)
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for paper trading: %w", ports.ErrConfigurationError)
	}
	balance := cfg.InitialBalance
	if balance <= 0 {
		balance = defaultInitialBalance
	}
	feeRate := cfg.TakerFeeRate
	if feeRate <= 0 {
		feeRate = defaultTakerFeeRate
	}

	return &Client{
		market:    cfg.Market,
		logger:    cfg.Logger,
		balance:   balance,
		feeRate:   feeRate,
		positions: make(map[string]*paperPosition),
		orders:    make(map[string]*paperOrder),
		fillCh:    make(chan domain.Fill, 64),
	}, nil
}

// SubmitOrder fills the order immediately at the current mark price (or
// the limit price when one is given). Resubmitting a known intent ID
// returns the original ack without filling again.
func (c *Client) SubmitOrder(ctx context.Context, intent *domain.OrderIntent) (*ports.SubmitAck, error) {
	op := "SubmitOrder"

	c.mu.Lock()
	if existing, ok := c.orders[intent.ID]; ok {
		ack := existing.ack
		c.mu.Unlock()
		c.logger.Debug(ctx, op+": duplicate intent id, returning original ack", map[string]interface{}{"intentID": intent.ID})
		return &ack, nil
	}
	c.mu.Unlock()

	price := intent.Price
	if price <= 0 {
		mark, err := c.market.GetMarkPrice(ctx, intent.Symbol)
		if err != nil {
			return nil, fmt.Errorf("%s: fetching mark price: %w", op, err)
		}
		price = mark
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	pos := c.position(intent.Symbol)
	if intent.ReduceOnly && !reduces(pos.size, intent.Side) {
		return nil, fmt.Errorf("%s failed: %w: reduce-only order does not reduce position", op, ports.ErrOrderRejected)
	}

	fee := intent.Size * price * c.feeRate
	c.applyFill(intent.Symbol, intent.Side, intent.Size, price, fee)

	c.nextTradeID++
	fill := domain.Fill{
		IntentID: intent.ID,
		Symbol:   intent.Symbol,
		Side:     intent.Side,
		Size:     intent.Size,
		Price:    price,
		Fee:      fee,
		TradeID:  "paper-" + strconv.FormatInt(c.nextTradeID, 10),
		Time:     time.Now().UTC(),
	}
	ack := ports.SubmitAck{
		IntentID:        intent.ID,
		ExchangeOrderID: c.nextTradeID,
		Symbol:          intent.Symbol,
		Status:          domain.IntentFilled,
		FilledSize:      intent.Size,
		AvgPrice:        price,
		Timestamp:       fill.Time,
	}
	c.orders[intent.ID] = &paperOrder{ack: ack, fill: fill}

	select {
	case c.fillCh <- fill:
	default:
		c.logger.Warn(ctx, op+": fill channel full, dropping simulated fill event", map[string]interface{}{"intentID": intent.ID})
	}

	c.logger.Info(ctx, op+" simulated", map[string]interface{}{
		"intentID": intent.ID, "symbol": intent.Symbol, "side": intent.Side,
		"size": intent.Size, "price": price, "fee": fee,
	})
	return &ack, nil
}

// CancelOrder always reports the order gone: simulated orders never rest.
func (c *Client) CancelOrder(ctx context.Context, symbol, intentID string) error {
	c.mu.Lock()
	_, known := c.orders[intentID]
	c.mu.Unlock()
	if !known {
		return fmt.Errorf("CancelOrder failed: %w: unknown intent %s", ports.ErrOrderNotFound, intentID)
	}
	return fmt.Errorf("CancelOrder failed: %w: simulated order already filled", ports.ErrOrderCancelFailed)
}

// FetchSnapshot reports the simulated account state for the symbol.
func (c *Client) FetchSnapshot(ctx context.Context, symbol string) (*domain.ExchangeSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	snapshot := &domain.ExchangeSnapshot{
		Symbol: symbol,
		Taken:  time.Now().UTC(),
	}
	if pos, ok := c.positions[symbol]; ok {
		snapshot.PositionSize = pos.size
		snapshot.EntryPrice = pos.entry
		snapshot.Leverage = pos.leverage
	}
	for _, o := range c.orders {
		if o.ack.Symbol != symbol {
			continue
		}
		snapshot.Orders = append(snapshot.Orders, domain.OrderState{
			ClientOrderID: o.ack.IntentID,
			Status:        o.ack.Status,
			FilledSize:    o.ack.FilledSize,
			AvgPrice:      o.ack.AvgPrice,
			UpdatedAt:     o.ack.Timestamp,
		})
	}
	return snapshot, nil
}

// StreamFills delivers simulated fills to the handler until stopped.
func (c *Client) StreamFills(ctx context.Context, handler func(domain.Fill), errHandler func(err error)) (doneCh chan struct{}, stopCh chan struct{}, err error) {
	doneCh = make(chan struct{})
	stopCh = make(chan struct{})

	go func() {
		defer close(doneCh)
		for {
			select {
			case fill := <-c.fillCh:
				handler(fill)
			case <-stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return doneCh, stopCh, nil
}

// StreamKlines delegates to the market data gateway.
func (c *Client) StreamKlines(ctx context.Context, symbol, interval string, handler func(kline *domain.Kline), errHandler func(err error)) (chan struct{}, chan struct{}, error) {
	return c.market.StreamKlines(ctx, symbol, interval, handler, errHandler)
}

// GetKlines delegates to the market data gateway.
func (c *Client) GetKlines(ctx context.Context, symbol string, interval string, limit int) ([]*domain.Kline, error) {
	return c.market.GetKlines(ctx, symbol, interval, limit)
}

// GetMarkPrice delegates to the market data gateway.
func (c *Client) GetMarkPrice(ctx context.Context, symbol string) (float64, error) {
	return c.market.GetMarkPrice(ctx, symbol)
}

// GetBalance reports the simulated balance regardless of asset.
func (c *Client) GetBalance(ctx context.Context, asset string) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balance, nil
}

// GetInstrument delegates to the market data gateway.
func (c *Client) GetInstrument(ctx context.Context, symbol string) (*domain.Instrument, error) {
	return c.market.GetInstrument(ctx, symbol)
}

// SetLeverage records the leverage for subsequent simulated opens.
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.position(symbol).leverage = leverage
	return nil
}

// Ping delegates to the market data gateway.
func (c *Client) Ping(ctx context.Context) error {
	return c.market.Ping(ctx)
}

// position returns the symbol's position record, creating a flat one.
// Callers must hold c.mu.
func (c *Client) position(symbol string) *paperPosition {
	pos, ok := c.positions[symbol]
	if !ok {
		pos = &paperPosition{}
		c.positions[symbol] = pos
	}
	return pos
}

// applyFill nets the signed fill into the position and settles realized
// PnL and fees against the balance. Callers must hold c.mu.
func (c *Client) applyFill(symbol string, side domain.OrderSide, size, price, fee float64) {
	pos := c.position(symbol)
	delta := size
	if side == domain.Sell {
		delta = -size
	}

	switch {
	case pos.size == 0 || sameSign(pos.size, delta):
		total := math.Abs(pos.size) + math.Abs(delta)
		pos.entry = (pos.entry*math.Abs(pos.size) + price*math.Abs(delta)) / total
		pos.size += delta
	default:
		closing := math.Min(math.Abs(delta), math.Abs(pos.size))
		direction := 1.0
		if pos.size < 0 {
			direction = -1.0
		}
		c.balance += closing * (price - pos.entry) * direction
		pos.size += delta
		if math.Abs(pos.size) < 1e-12 {
			pos.size = 0
			pos.entry = 0
		} else if !sameSign(pos.size, direction) {
			// Flipped through flat: the remainder opens at this price.
			pos.entry = price
		}
	}

	c.balance -= fee
}

func sameSign(a, b float64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}

// reduces reports whether an order on the given side shrinks the position.
func reduces(positionSize float64, side domain.OrderSide) bool {
	if positionSize > 0 {
		return side == domain.Sell
	}
	if positionSize < 0 {
		return side == domain.Buy
	}
	return false
}
