package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"flipperBot/internal/domain"
	"flipperBot/internal/ports"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/dgraph-io/ristretto"
	"github.com/jpillora/backoff"
	"golang.org/x/time/rate"
)

const (
	// Base URLs
	baseURLProduction = "https://fapi.binance.com"
	baseURLTestnet    = "https://testnet.binancefuture.com"

	// instrumentCacheTTL bounds how long exchange filters are reused
	// before a fresh ExchangeInfo fetch.
	instrumentCacheTTL = time.Hour

	// listenKeyKeepalive is how often the user-data listen key is
	// refreshed; Binance expires it after 60 minutes idle.
	listenKeyKeepalive = 25 * time.Minute

	// snapshotOrderWindow is how far back FetchSnapshot looks for
	// terminal orders; local intents are far shorter-lived than this.
	snapshotOrderWindow = 24 * time.Hour
)

// Client implements the ports.Gateway interface using the go-binance library.
type Client struct {
	futuresClient        *futures.Client
	logger               ports.Logger
	limiter              *rate.Limiter
	instruments          *ristretto.Cache
	maxSubmitAttempts    int
	retryMinDelay        time.Duration
	retryMaxDelay        time.Duration
	reconnectDelay       time.Duration
	maxReconnectAttempts int
}

// Config holds configuration specific to the Binance gateway adapter.
type Config struct {
	APIKey               string
	SecretKey            string
	UseTestnet           bool
	Logger               ports.Logger
	MaxSubmitAttempts    int           // Bounded attempts per submission (includes the first)
	RetryMinDelay        time.Duration // First backoff delay between submit attempts
	RetryMaxDelay        time.Duration // Backoff ceiling
	OrderRateLimit       float64       // Order-entry calls per second
	OrderRateBurst       int           // Burst allowance
	ReconnectDelay       time.Duration // Stream reconnect delay (e.g., 1 * time.Second)
	MaxReconnectAttempts int           // Max stream attempts before giving up
}

// New creates a new Binance gateway adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance gateway")
	}
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		cfg.Logger.Warn(context.Background(), "APIKey or SecretKey is empty. Client will only work for public endpoints.")
	}

	client := futures.NewClient(cfg.APIKey, cfg.SecretKey)

	// Set BaseURL directly instead of using global futures.UseTestnet
	if cfg.UseTestnet {
		client.BaseURL = baseURLTestnet
		cfg.Logger.Info(context.Background(), "Binance gateway configured for Testnet", map[string]interface{}{"baseURL": client.BaseURL})
	} else {
		client.BaseURL = baseURLProduction
		cfg.Logger.Info(context.Background(), "Binance gateway configured for Production", map[string]interface{}{"baseURL": client.BaseURL})
	}

	maxSubmit := cfg.MaxSubmitAttempts
	if maxSubmit <= 0 {
		maxSubmit = 4
	}
	retryMin := cfg.RetryMinDelay
	if retryMin <= 0 {
		retryMin = 250 * time.Millisecond
	}
	retryMax := cfg.RetryMaxDelay
	if retryMax <= 0 {
		retryMax = 5 * time.Second
	}
	rateLimit := cfg.OrderRateLimit
	if rateLimit <= 0 {
		rateLimit = 5
	}
	rateBurst := cfg.OrderRateBurst
	if rateBurst <= 0 {
		rateBurst = 10
	}
	reconnectDelay := cfg.ReconnectDelay
	if reconnectDelay <= 0 {
		reconnectDelay = 1 * time.Second
	}
	maxReconnect := cfg.MaxReconnectAttempts
	if maxReconnect <= 0 {
		maxReconnect = 10
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e4,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create instrument cache: %w", err)
	}

	return &Client{
		futuresClient:        client,
		logger:               cfg.Logger,
		limiter:              rate.NewLimiter(rate.Limit(rateLimit), rateBurst),
		instruments:          cache,
		maxSubmitAttempts:    maxSubmit,
		retryMinDelay:        retryMin,
		retryMaxDelay:        retryMax,
		reconnectDelay:       reconnectDelay,
		maxReconnectAttempts: maxReconnect,
	}, nil
}

// handleError translates common Binance API errors into standardized ports errors.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message

		// Map specific Binance error codes to custom errors
		var mappedErr error
		switch apiErr.Code {
		case -1003: // Too many requests
			mappedErr = ports.ErrRateLimited
		case -1001, -1008: // Internal error / server busy
			mappedErr = ports.ErrExchangeUnavailable
		case -1007: // Timeout waiting for backend response; send status unknown
			mappedErr = ports.ErrNetworkTimeout
		case -1021: // Timestamp for this request is outside of the recvWindow
			mappedErr = ports.ErrNetworkTimeout
		case -1022: // Signature for this request is not valid
			mappedErr = ports.ErrAuthenticationFailed
		case -1101, -1102, -1103, -1104, -1105, -1106, -1111, -1115, -1116, -1117, -1120, -1121, -1125, -1127, -1128, -1130: // Parameter/Request format errors
			mappedErr = ports.ErrInvalidRequest
		case -2010: // New order rejected
			mappedErr = ports.ErrOrderRejected
		case -2011: // Cancel order rejected
			mappedErr = ports.ErrOrderCancelFailed
		case -2013: // Order does not exist
			mappedErr = ports.ErrOrderNotFound
		case -2014, -2015: // API-key format invalid / invalid key, IP, or permissions
			mappedErr = ports.ErrAuthenticationFailed
		case -2019: // Margin is insufficient
			mappedErr = ports.ErrInsufficientFunds
		case -2022: // ReduceOnly Order is rejected
			mappedErr = ports.ErrOrderRejected
		case -3005: // Insufficient balance
			mappedErr = ports.ErrInsufficientFunds
		case -3041: // Position is not sufficient
			mappedErr = ports.ErrInsufficientFunds
		case -4003, -4014, -4015: // Qty/price/leverage not within permissible range
			mappedErr = ports.ErrInvalidRequest
		case -4044: // Position not found
			mappedErr = ports.ErrPositionNotFound
		case -4047: // Exceeded the maximum allowable position at current leverage
			mappedErr = ports.ErrOrderRejected
		default:
			mappedErr = ports.ErrUnknown
		}
		finalErr := fmt.Errorf("%s failed: %w: %w", operation, mappedErr, err)
		c.logger.Error(ctx, err, fmt.Sprintf("%s failed with API error", operation), fields)
		return finalErr
	}

	// Handle non-API errors (network, context cancellation, etc.)
	var finalErr error
	if errors.Is(err, context.DeadlineExceeded) {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrNetworkTimeout, err)
	} else if errors.Is(err, context.Canceled) {
		finalErr = fmt.Errorf("%s operation canceled: %w: %w", operation, ports.ErrContextCanceled, err)
	} else if strings.Contains(err.Error(), "use of closed network connection") ||
		strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "connection reset by peer") ||
		strings.Contains(err.Error(), "i/o timeout") ||
		strings.Contains(err.Error(), "EOF") {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrConnectionFailed, err)
	} else {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrUnknown, err)
	}

	c.logger.Error(ctx, err, fmt.Sprintf("%s failed", operation), fields)
	return finalErr
}

// SubmitOrder places the order described by the intent. The intent ID is
// sent as the exchange client-order-id on every attempt, so a retry after
// an ambiguous failure can never double-place: if the first attempt
// landed, the exchange answers "duplicate" and the existing order's state
// is returned instead.
func (c *Client) SubmitOrder(ctx context.Context, intent *domain.OrderIntent) (*ports.SubmitAck, error) {
	op := "SubmitOrder"

	b := &backoff.Backoff{
		Min:    c.retryMinDelay,
		Max:    c.retryMaxDelay,
		Factor: 2,
		Jitter: true,
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxSubmitAttempts; attempt++ {
		if attempt > 1 {
			delay := b.Duration()
			SubmitRetries.WithLabelValues(intent.Symbol).Inc()
			c.logger.Warn(ctx, op+": transient failure, retrying with same client order id", map[string]interface{}{
				"intentID": intent.ID, "symbol": intent.Symbol, "attempt": attempt, "delay": delay.String(),
			})
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, c.handleError(ctx, ctx.Err(), op)
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, c.handleError(ctx, err, op)
		}

		started := time.Now()
		order, err := c.createOrder(ctx, intent)
		SubmitLatency.WithLabelValues(intent.Symbol).Observe(time.Since(started).Seconds())
		if err == nil {
			ack := translateAck(order)
			c.logger.Info(ctx, op+" successful", map[string]interface{}{
				"intentID": intent.ID, "symbol": intent.Symbol, "side": intent.Side,
				"size": intent.Size, "status": ack.Status, "exchangeOrderID": ack.ExchangeOrderID,
			})
			return ack, nil
		}

		herr := c.handleError(ctx, err, op)

		// A duplicate client-order-id means an earlier attempt landed.
		// Fetch the live order and report it as the ack.
		if isDuplicateClientOrderID(err) {
			existing, lookupErr := c.orderByClientID(ctx, intent.Symbol, intent.ID)
			if lookupErr == nil && existing != nil {
				c.logger.Info(ctx, op+": submission already accepted, returning existing order", map[string]interface{}{
					"intentID": intent.ID, "symbol": intent.Symbol,
				})
				return translateOrderAck(existing), nil
			}
			lastErr = herr
			continue
		}

		if !ports.IsTransient(herr) {
			return nil, herr
		}
		lastErr = herr
	}

	// Retries exhausted without a definitive answer: the order may or may
	// not exist exchange-side. Surface the unknown outcome; the caller
	// must reconcile before acting on this symbol again.
	return nil, fmt.Errorf("%s: retries exhausted for intent %s: %w: %w", op, intent.ID, ports.ErrSubmissionUnknown, lastErr)
}

// createOrder issues a single submission attempt.
func (c *Client) createOrder(ctx context.Context, intent *domain.OrderIntent) (*futures.CreateOrderResponse, error) {
	svc := c.futuresClient.NewCreateOrderService().
		Symbol(intent.Symbol).
		Side(futures.SideType(intent.Side)).
		Quantity(formatFloat(intent.Size)).
		NewClientOrderID(intent.ID)

	if intent.Price > 0 {
		svc = svc.Type(futures.OrderTypeLimit).
			Price(formatFloat(intent.Price)).
			TimeInForce(futures.TimeInForceTypeGTC)
	} else {
		svc = svc.Type(futures.OrderTypeMarket)
	}
	if intent.ReduceOnly {
		svc = svc.ReduceOnly(true)
	}

	return svc.Do(ctx)
}

// isDuplicateClientOrderID detects a resubmission of an already accepted
// client order id.
func isDuplicateClientOrderID(err error) bool {
	var apiErr *common.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.Code == -4116 { // Duplicated client order id
		return true
	}
	return strings.Contains(strings.ToLower(apiErr.Message), "duplicate")
}

// orderByClientID fetches the live state of an order by its client-order-id.
func (c *Client) orderByClientID(ctx context.Context, symbol, clientOrderID string) (*futures.Order, error) {
	order, err := c.futuresClient.NewGetOrderService().
		Symbol(symbol).
		OrigClientOrderID(clientOrderID).
		Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, "GetOrder")
	}
	return order, nil
}

// CancelOrder cancels an open order by the client-order-id it was
// submitted under.
func (c *Client) CancelOrder(ctx context.Context, symbol, intentID string) error {
	op := "CancelOrder"
	c.logger.Debug(ctx, "Attempting to cancel order", map[string]interface{}{"symbol": symbol, "intentID": intentID})

	if err := c.limiter.Wait(ctx); err != nil {
		return c.handleError(ctx, err, op)
	}

	_, err := c.futuresClient.NewCancelOrderService().
		Symbol(symbol).
		OrigClientOrderID(intentID).
		Do(ctx)
	if err != nil {
		return c.handleError(ctx, err, op)
	}

	c.logger.Info(ctx, op+" successful", map[string]interface{}{"symbol": symbol, "intentID": intentID})
	return nil
}

// FetchSnapshot returns the exchange's current view of the symbol:
// signed position plus open and recent order states keyed by
// client-order-id. Terminal orders stay visible long enough for
// reconciliation to learn the outcome of any local intent.
func (c *Client) FetchSnapshot(ctx context.Context, symbol string) (*domain.ExchangeSnapshot, error) {
	op := "FetchSnapshot"

	snapshot := &domain.ExchangeSnapshot{
		Symbol: symbol,
		Taken:  time.Now().UTC(),
	}

	positions, err := c.futuresClient.NewGetPositionRiskService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	for _, p := range positions {
		amt, parseErr := strconv.ParseFloat(p.PositionAmt, 64)
		if parseErr != nil {
			return nil, c.handleError(ctx, fmt.Errorf("could not parse position amount '%s': %w", p.PositionAmt, parseErr), op)
		}
		if amt == 0 {
			continue
		}
		entry, _ := strconv.ParseFloat(p.EntryPrice, 64)
		leverage, _ := strconv.Atoi(p.Leverage)
		snapshot.PositionSize = amt
		snapshot.EntryPrice = entry
		snapshot.Leverage = leverage
		break // One-way mode has a single entry per symbol
	}

	open, err := c.futuresClient.NewListOpenOrdersService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	recent, err := c.futuresClient.NewListOrdersService().
		Symbol(symbol).
		StartTime(time.Now().Add(-snapshotOrderWindow).UnixMilli()).
		Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	seen := make(map[string]int)
	for _, o := range append(recent, open...) {
		state := translateOrderState(o)
		if idx, ok := seen[state.ClientOrderID]; ok {
			if state.UpdatedAt.After(snapshot.Orders[idx].UpdatedAt) {
				snapshot.Orders[idx] = state
			}
			continue
		}
		seen[state.ClientOrderID] = len(snapshot.Orders)
		snapshot.Orders = append(snapshot.Orders, state)
	}

	c.logger.Debug(ctx, op+" complete", map[string]interface{}{
		"symbol": symbol, "positionSize": snapshot.PositionSize, "orders": len(snapshot.Orders),
	})
	return snapshot, nil
}

// StreamFills starts the user-data stream and delivers one Fill per trade
// execution. The listen key is acquired per connection attempt and kept
// alive while connected; disconnects reconnect with exponential backoff.
func (c *Client) StreamFills(ctx context.Context, handler func(domain.Fill), errHandler func(err error)) (doneCh chan struct{}, stopCh chan struct{}, err error) {
	op := "StreamFills"
	wsCtx, cancelWs := context.WithCancel(ctx)

	binanceHandler := func(event *futures.WsUserDataEvent) {
		if event == nil || event.Event != futures.UserDataEventTypeOrderTradeUpdate {
			return
		}
		update := event.OrderTradeUpdate
		if update.ExecutionType != futures.OrderExecutionTypeTrade {
			return
		}
		fill, terr := translateFill(update)
		if terr != nil {
			c.logger.Error(wsCtx, terr, op+": Failed to translate order trade update")
			return
		}
		handler(fill)
	}

	binanceErrHandler := func(err error) {
		translatedErr := c.handleError(wsCtx, err, op+" WebSocket")
		c.logger.Warn(wsCtx, op+": WebSocket error reported", map[string]interface{}{"error": translatedErr})
		errHandler(translatedErr)
	}

	// Reconnection loop; each attempt needs a fresh listen key.
	go func() {
		defer cancelWs()

		attempt := 0
		for {
			select {
			case <-wsCtx.Done():
				c.logger.Info(wsCtx, op+": Context cancelled, stopping connection attempts.")
				return
			default:
			}

			listenKey, keyErr := c.futuresClient.NewStartUserStreamService().Do(wsCtx)
			var innerDoneCh, innerStopCh chan struct{}
			connectErr := keyErr
			if connectErr == nil {
				c.logger.Info(wsCtx, op+": Attempting WebSocket connection...", map[string]interface{}{"attempt": attempt + 1})
				innerDoneCh, innerStopCh, connectErr = futures.WsUserDataServe(listenKey, binanceHandler, binanceErrHandler)
			}

			if connectErr != nil {
				c.handleError(wsCtx, connectErr, op+" connection attempt")
				attempt++
				if attempt >= c.maxReconnectAttempts {
					c.logger.Error(wsCtx, connectErr, op+": Max reconnection attempts exceeded, giving up.", map[string]interface{}{"maxAttempts": c.maxReconnectAttempts})
					return
				}
				delay := c.reconnectDelay * time.Duration(1<<uint(attempt-1))
				jitter := time.Duration(float64(delay) * 0.1)
				select {
				case <-time.After(delay + jitter):
					continue
				case <-wsCtx.Done():
					return
				}
			}

			StreamReconnects.Inc()
			c.logger.Info(wsCtx, op+": WebSocket connection established.")
			attempt = 0

			// Keep the listen key alive while this connection lasts.
			keepaliveCtx, stopKeepalive := context.WithCancel(wsCtx)
			go func() {
				ticker := time.NewTicker(listenKeyKeepalive)
				defer ticker.Stop()
				for {
					select {
					case <-ticker.C:
						if kerr := c.futuresClient.NewKeepaliveUserStreamService().ListenKey(listenKey).Do(keepaliveCtx); kerr != nil {
							c.logger.Warn(keepaliveCtx, op+": listen key keepalive failed", map[string]interface{}{"error": kerr.Error()})
						}
					case <-keepaliveCtx.Done():
						return
					}
				}
			}()

			select {
			case <-innerDoneCh:
				stopKeepalive()
				c.logger.Warn(wsCtx, op+": WebSocket connection closed unexpectedly. Reconnecting...")
			case <-wsCtx.Done():
				stopKeepalive()
				c.logger.Info(wsCtx, op+": Context cancelled, stopping WebSocket.")
				select {
				case innerStopCh <- struct{}{}:
				default:
				}
				return
			}
		}
	}()

	doneCh = make(chan struct{})
	stopCh = make(chan struct{})

	go func() {
		select {
		case <-stopCh:
			c.logger.Info(ctx, op+": Received external stop signal, cancelling WebSocket context.")
			cancelWs()
		case <-wsCtx.Done():
		}
	}()

	go func() {
		<-wsCtx.Done()
		close(doneCh)
	}()

	return doneCh, stopCh, nil
}

// StreamKlines starts a WebSocket stream for K-line/candlestick data.
func (c *Client) StreamKlines(ctx context.Context, symbol, interval string, handler func(kline *domain.Kline), errHandler func(err error)) (doneCh chan struct{}, stopCh chan struct{}, err error) {
	op := "StreamKlines"
	wsCtx, cancelWs := context.WithCancel(ctx)

	binanceHandler := func(event *futures.WsKlineEvent) {
		domainKline, terr := translateWsKline(event)
		if terr != nil {
			c.logger.Error(wsCtx, terr, op+": Failed to translate WebSocket kline event")
			return
		}
		handler(domainKline)
	}

	binanceErrHandler := func(err error) {
		translatedErr := c.handleError(wsCtx, err, op+" WebSocket")
		c.logger.Warn(wsCtx, op+": WebSocket error reported", map[string]interface{}{"error": translatedErr})
		errHandler(translatedErr)
	}

	// Reconnection loop
	go func() {
		defer cancelWs()

		attempt := 0
		for {
			select {
			case <-wsCtx.Done():
				c.logger.Info(wsCtx, op+": Context cancelled, stopping connection attempts.", map[string]interface{}{"symbol": symbol, "interval": interval})
				return
			default:
				c.logger.Info(wsCtx, op+": Attempting WebSocket connection...", map[string]interface{}{"symbol": symbol, "interval": interval, "attempt": attempt + 1})
				innerDoneCh, innerStopCh, connectErr := futures.WsKlineServe(symbol, interval, binanceHandler, binanceErrHandler)

				if connectErr != nil {
					c.handleError(wsCtx, connectErr, op+" connection attempt")
					attempt++
					if attempt >= c.maxReconnectAttempts {
						c.logger.Error(wsCtx, connectErr, op+": Max reconnection attempts exceeded, giving up.", map[string]interface{}{"symbol": symbol, "interval": interval, "maxAttempts": c.maxReconnectAttempts})
						return
					}

					delay := c.reconnectDelay * time.Duration(1<<uint(attempt-1))
					jitter := time.Duration(float64(delay) * 0.1)
					c.logger.Info(wsCtx, op+": Connection failed, retrying...", map[string]interface{}{"symbol": symbol, "interval": interval, "attempt": attempt + 1, "delay": (delay + jitter).String()})

					select {
					case <-time.After(delay + jitter):
						continue
					case <-wsCtx.Done():
						return
					}
				}

				StreamReconnects.Inc()
				c.logger.Info(wsCtx, op+": WebSocket connection established.", map[string]interface{}{"symbol": symbol, "interval": interval})
				attempt = 0

				select {
				case <-innerDoneCh:
					c.logger.Warn(wsCtx, op+": WebSocket connection closed unexpectedly. Reconnecting...", map[string]interface{}{"symbol": symbol, "interval": interval})
				case <-wsCtx.Done():
					c.logger.Info(wsCtx, op+": Context cancelled, stopping WebSocket.", map[string]interface{}{"symbol": symbol, "interval": interval})
					select {
					case innerStopCh <- struct{}{}:
					default:
					}
					return
				}
			}
		}
	}()

	doneCh = make(chan struct{})
	stopCh = make(chan struct{})

	go func() {
		select {
		case <-stopCh:
			c.logger.Info(ctx, op+": Received external stop signal, cancelling WebSocket context.", map[string]interface{}{"symbol": symbol})
			cancelWs()
		case <-wsCtx.Done():
		}
	}()

	go func() {
		<-wsCtx.Done()
		close(doneCh)
	}()

	return doneCh, stopCh, nil
}

// GetKlines retrieves historical klines/candlestick data for the given symbol.
func (c *Client) GetKlines(ctx context.Context, symbol string, interval string, limit int) ([]*domain.Kline, error) {
	op := "GetKlines"
	binanceKlines, err := c.futuresClient.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	domainKlines := make([]*domain.Kline, 0, len(binanceKlines))
	for _, bk := range binanceKlines {
		dk, err := translateBinanceKline(bk, symbol, interval)
		if err != nil {
			return nil, c.handleError(ctx, fmt.Errorf("failed to translate historical kline: %w", err), op)
		}
		domainKlines = append(domainKlines, dk)
	}

	return domainKlines, nil
}

// GetMarkPrice retrieves the current mark price for a given symbol.
func (c *Client) GetMarkPrice(ctx context.Context, symbol string) (float64, error) {
	op := "GetMarkPrice"
	tickers, err := c.futuresClient.NewPremiumIndexService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, c.handleError(ctx, err, op)
	}
	if len(tickers) == 0 {
		err := fmt.Errorf("no price data returned for symbol %s", symbol)
		return 0, c.handleError(ctx, err, op)
	}

	price, err := strconv.ParseFloat(tickers[0].MarkPrice, 64)
	if err != nil {
		parseErr := fmt.Errorf("could not parse price '%s': %w", tickers[0].MarkPrice, err)
		return 0, c.handleError(ctx, parseErr, op)
	}
	return price, nil
}

// GetBalance retrieves the available balance for a specific asset (e.g., "USDT").
func (c *Client) GetBalance(ctx context.Context, asset string) (float64, error) {
	op := "GetBalance"
	account, err := c.futuresClient.NewGetAccountService().Do(ctx)
	if err != nil {
		return 0, c.handleError(ctx, err, op)
	}

	for _, bal := range account.Assets {
		if bal.Asset == asset {
			// AvailableBalance excludes margin already committed to
			// open positions; sizing must not re-spend it.
			balance, err := strconv.ParseFloat(bal.AvailableBalance, 64)
			if err != nil {
				parseErr := fmt.Errorf("could not parse balance '%s' for asset %s: %w", bal.AvailableBalance, asset, err)
				return 0, c.handleError(ctx, parseErr, op)
			}
			return balance, nil
		}
	}

	err = fmt.Errorf("asset %s not found in account balance", asset)
	return 0, c.handleError(ctx, err, op)
}

// GetInstrument retrieves the trading filters for a symbol, cached with a
// TTL so sizing does not hammer ExchangeInfo.
func (c *Client) GetInstrument(ctx context.Context, symbol string) (*domain.Instrument, error) {
	op := "GetInstrument"

	if cached, ok := c.instruments.Get(symbol); ok {
		if inst, ok := cached.(*domain.Instrument); ok {
			return inst, nil
		}
	}

	info, err := c.futuresClient.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	var found *domain.Instrument
	for i := range info.Symbols {
		s := &info.Symbols[i]
		inst := translateInstrument(s)
		c.instruments.SetWithTTL(s.Symbol, inst, 1, instrumentCacheTTL)
		if s.Symbol == symbol {
			found = inst
		}
	}
	if found == nil {
		return nil, fmt.Errorf("%s: symbol %s not listed on exchange: %w", op, symbol, ports.ErrNotFound)
	}

	c.logger.Debug(ctx, op+" fetched", map[string]interface{}{
		"symbol": symbol, "stepSize": found.StepSize, "minQty": found.MinQty, "minNotional": found.MinNotional,
	})
	return found, nil
}

// SetLeverage sets the leverage for a specific symbol.
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	op := "SetLeverage"
	_, err := c.futuresClient.NewChangeLeverageService().
		Symbol(symbol).
		Leverage(leverage).
		Do(ctx)
	if err != nil {
		return c.handleError(ctx, err, op)
	}
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"symbol": symbol, "leverage": leverage})
	return nil
}

// Ping checks the connectivity to the exchange API.
func (c *Client) Ping(ctx context.Context) error {
	op := "Ping"
	err := c.futuresClient.NewPingService().Do(ctx)
	if err != nil {
		return c.handleError(ctx, fmt.Errorf("ping failed: %w", err), op)
	}
	c.logger.Debug(ctx, op+" successful")
	return nil
}

// SetServerTime synchronizes the client's time with the server's time.
func (c *Client) SetServerTime(ctx context.Context) error {
	op := "SetServerTime"
	_, err := c.futuresClient.NewSetServerTimeService().Do(ctx)
	if err != nil {
		return c.handleError(ctx, err, op)
	}
	c.logger.Debug(ctx, op+" successful")
	return nil
}

// --- Translation Helpers ---

func translateAck(order *futures.CreateOrderResponse) *ports.SubmitAck {
	if order == nil {
		return nil
	}
	avgPrice, _ := strconv.ParseFloat(order.AvgPrice, 64)
	execQty, _ := strconv.ParseFloat(order.ExecutedQuantity, 64)

	return &ports.SubmitAck{
		IntentID:        order.ClientOrderID,
		ExchangeOrderID: order.OrderID,
		Symbol:          order.Symbol,
		Status:          translateOrderStatus(order.Status),
		FilledSize:      execQty,
		AvgPrice:        avgPrice,
		Timestamp:       time.UnixMilli(order.UpdateTime),
	}
}

func translateOrderAck(order *futures.Order) *ports.SubmitAck {
	if order == nil {
		return nil
	}
	avgPrice, _ := strconv.ParseFloat(order.AvgPrice, 64)
	execQty, _ := strconv.ParseFloat(order.ExecutedQuantity, 64)

	return &ports.SubmitAck{
		IntentID:        order.ClientOrderID,
		ExchangeOrderID: order.OrderID,
		Symbol:          order.Symbol,
		Status:          translateOrderStatus(order.Status),
		FilledSize:      execQty,
		AvgPrice:        avgPrice,
		Timestamp:       time.UnixMilli(order.UpdateTime),
	}
}

func translateOrderState(order *futures.Order) domain.OrderState {
	avgPrice, _ := strconv.ParseFloat(order.AvgPrice, 64)
	execQty, _ := strconv.ParseFloat(order.ExecutedQuantity, 64)

	return domain.OrderState{
		ClientOrderID: order.ClientOrderID,
		Status:        translateOrderStatus(order.Status),
		FilledSize:    execQty,
		AvgPrice:      avgPrice,
		UpdatedAt:     time.UnixMilli(order.UpdateTime),
	}
}

// translateOrderStatus maps Binance order statuses onto intent statuses.
func translateOrderStatus(status futures.OrderStatusType) domain.IntentStatus {
	switch status {
	case futures.OrderStatusTypeNew:
		return domain.IntentSubmitted
	case futures.OrderStatusTypePartiallyFilled:
		return domain.IntentPartiallyFilled
	case futures.OrderStatusTypeFilled:
		return domain.IntentFilled
	case futures.OrderStatusTypeCanceled, futures.OrderStatusTypeExpired:
		return domain.IntentCanceled
	case futures.OrderStatusTypeRejected:
		return domain.IntentRejected
	default:
		return domain.IntentSubmitted
	}
}

func translateFill(update futures.WsOrderTradeUpdate) (domain.Fill, error) {
	size, err := strconv.ParseFloat(update.LastFilledQty, 64)
	if err != nil {
		return domain.Fill{}, fmt.Errorf("parsing filled quantity '%s': %w", update.LastFilledQty, err)
	}
	price, err := strconv.ParseFloat(update.LastFilledPrice, 64)
	if err != nil {
		return domain.Fill{}, fmt.Errorf("parsing filled price '%s': %w", update.LastFilledPrice, err)
	}
	fee := 0.0
	if update.Commission != "" {
		fee, err = strconv.ParseFloat(update.Commission, 64)
		if err != nil {
			return domain.Fill{}, fmt.Errorf("parsing commission '%s': %w", update.Commission, err)
		}
	}

	return domain.Fill{
		IntentID: update.ClientOrderID,
		Symbol:   update.Symbol,
		Side:     domain.OrderSide(update.Side),
		Size:     size,
		Price:    price,
		Fee:      fee,
		TradeID:  strconv.FormatInt(update.TradeID, 10),
		Time:     time.UnixMilli(update.TradeTime),
	}, nil
}

func translateInstrument(s *futures.Symbol) *domain.Instrument {
	inst := &domain.Instrument{
		Symbol:            s.Symbol,
		PricePrecision:    s.PricePrecision,
		QuantityPrecision: s.QuantityPrecision,
	}
	if lot := s.LotSizeFilter(); lot != nil {
		inst.StepSize, _ = strconv.ParseFloat(lot.StepSize, 64)
		inst.MinQty, _ = strconv.ParseFloat(lot.MinQuantity, 64)
	}
	if notional := s.MinNotionalFilter(); notional != nil {
		inst.MinNotional, _ = strconv.ParseFloat(notional.Notional, 64)
	}
	return inst
}

func translateWsKline(event *futures.WsKlineEvent) (*domain.Kline, error) {
	if event == nil {
		return nil, errors.New("received nil kline event")
	}
	k := event.Kline
	open, err := strconv.ParseFloat(k.Open, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing open price '%s': %w", k.Open, err)
	}
	high, err := strconv.ParseFloat(k.High, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing high price '%s': %w", k.High, err)
	}
	low, err := strconv.ParseFloat(k.Low, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing low price '%s': %w", k.Low, err)
	}
	cls, err := strconv.ParseFloat(k.Close, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing close price '%s': %w", k.Close, err)
	}
	vol, err := strconv.ParseFloat(k.Volume, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing volume '%s': %w", k.Volume, err)
	}

	return &domain.Kline{
		OpenTime:  time.UnixMilli(k.StartTime),
		CloseTime: time.UnixMilli(k.EndTime),
		Symbol:    k.Symbol,
		Interval:  k.Interval,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     cls,
		Volume:    vol,
		IsFinal:   k.IsFinal,
	}, nil
}

func translateBinanceKline(bk *futures.Kline, symbol, interval string) (*domain.Kline, error) {
	if bk == nil {
		return nil, errors.New("received nil historical kline")
	}
	open, err := strconv.ParseFloat(bk.Open, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing open price '%s': %w", bk.Open, err)
	}
	high, err := strconv.ParseFloat(bk.High, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing high price '%s': %w", bk.High, err)
	}
	low, err := strconv.ParseFloat(bk.Low, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing low price '%s': %w", bk.Low, err)
	}
	cls, err := strconv.ParseFloat(bk.Close, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing close price '%s': %w", bk.Close, err)
	}
	vol, err := strconv.ParseFloat(bk.Volume, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing volume '%s': %w", bk.Volume, err)
	}

	return &domain.Kline{
		OpenTime:  time.UnixMilli(bk.OpenTime),
		CloseTime: time.UnixMilli(bk.CloseTime),
		Symbol:    symbol,
		Interval:  interval,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     cls,
		Volume:    vol,
		IsFinal:   true, // Historical klines are always final
	}, nil
}

// formatFloat renders quantities/prices the way the REST API expects.
func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
