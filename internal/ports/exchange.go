package ports

import (
	"context"
	"time"

	"flipperBot/internal/domain"
)

// SubmitAck reports what the exchange acknowledged for one submission.
type SubmitAck struct {
	IntentID        string              // Client-order-id echoed back (equals the intent ID)
	ExchangeOrderID int64               // Exchange's own order ID
	Symbol          string              // Symbol for the order
	Status          domain.IntentStatus // Translated order status
	FilledSize      float64             // Quantity filled so far
	AvgPrice        float64             // Average filled price (0 until a fill lands)
	Timestamp       time.Time           // Time the ack was generated
}

// Gateway defines the interface for interacting with a futures exchange.
// Implementations own transport retries, client-order-id idempotency, and
// rate-limit compliance: transient transport errors are retried with
// backoff inside the gateway and never surface to callers of SubmitOrder.
type Gateway interface {
	// SubmitOrder places the order described by the intent, reusing
	// intent.ID as the exchange client-order-id on every attempt so the
	// exchange treats retried submissions as duplicates. When retries
	// are exhausted without a definitive answer the error wraps
	// ErrSubmissionUnknown and the caller must reconcile before acting.
	SubmitOrder(ctx context.Context, intent *domain.OrderIntent) (*SubmitAck, error)

	// CancelOrder cancels an open order by the client-order-id it was
	// submitted under.
	CancelOrder(ctx context.Context, symbol, intentID string) error

	// FetchSnapshot returns the exchange's current view of the symbol:
	// position and open/recent order statuses. Comparison input only.
	FetchSnapshot(ctx context.Context, symbol string) (*domain.ExchangeSnapshot, error)

	// StreamFills starts a stream of order executions for the account.
	// Fills are delivered to handler in arrival order. Returns channels
	// to observe (doneCh) and stop (stopCh) the stream.
	StreamFills(ctx context.Context, handler func(domain.Fill), errHandler func(err error)) (doneCh chan struct{}, stopCh chan struct{}, err error)

	// StreamKlines starts a candlestick stream for the symbol/interval,
	// feeding the strategy evaluator.
	StreamKlines(ctx context.Context, symbol, interval string, handler func(kline *domain.Kline), errHandler func(err error)) (doneCh chan struct{}, stopCh chan struct{}, err error)

	// GetKlines retrieves historical klines for strategy warmup.
	GetKlines(ctx context.Context, symbol string, interval string, limit int) ([]*domain.Kline, error)

	// GetMarkPrice retrieves the current mark price for a symbol.
	GetMarkPrice(ctx context.Context, symbol string) (float64, error)

	// GetBalance retrieves the available balance for an asset (e.g., "USDT").
	GetBalance(ctx context.Context, asset string) (float64, error)

	// GetInstrument retrieves the trading filters for a symbol.
	GetInstrument(ctx context.Context, symbol string) (*domain.Instrument, error)

	// SetLeverage sets the leverage for a symbol before opening.
	SetLeverage(ctx context.Context, symbol string, leverage int) error

	// Ping checks the connectivity to the exchange API.
	Ping(ctx context.Context) error
}
