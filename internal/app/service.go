// Package app wires the runtime together: it bootstraps pair
// configuration, holds market data back until the startup
// reconciliation pass has converged, then feeds fills and klines into
// the engine until shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"flipperBot/config"
	"flipperBot/internal/control"
	"flipperBot/internal/domain"
	"flipperBot/internal/engine"
	"flipperBot/internal/ports"
	"flipperBot/internal/reconcile"
)

const (
	maxKlineCacheSize = 500 // Limit cache size to avoid memory issues
	streamStopTimeout = 5 * time.Second
)

// Deps collects the wired components the service orchestrates.
type Deps struct {
	Config   *config.Config
	Logger   ports.Logger
	Gateway  ports.Gateway
	Store    ports.Store
	Strategy ports.Strategy
	Engine   *engine.Engine
	Recon    *reconcile.Loop
	Control  *control.Server
}

// Service runs the trading process.
type Service struct {
	cfg      *config.Config
	logger   ports.Logger
	gateway  ports.Gateway
	store    ports.Store
	strategy ports.Strategy
	engine   *engine.Engine
	recon    *reconcile.Loop
	control  *control.Server

	mu     sync.Mutex // Protects klines
	klines map[string][]*domain.Kline
}

// New creates the application service.
func New(d Deps) (*Service, error) {
	if d.Config == nil || d.Logger == nil || d.Gateway == nil || d.Store == nil ||
		d.Strategy == nil || d.Engine == nil || d.Recon == nil || d.Control == nil {
		return nil, fmt.Errorf("missing required dependencies for service: %w", ports.ErrConfigurationError)
	}
	return &Service{
		cfg:      d.Config,
		logger:   d.Logger,
		gateway:  d.Gateway,
		store:    d.Store,
		strategy: d.Strategy,
		engine:   d.Engine,
		recon:    d.Recon,
		control:  d.Control,
		klines:   make(map[string][]*domain.Kline),
	}, nil
}

// Run starts all components and blocks until shutdown.
func (s *Service) Run(ctx context.Context) error {
	op := "Service.Run"
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Graceful shutdown on SIGINT/SIGTERM.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			s.logger.Info(ctx, op+": Received shutdown signal", map[string]interface{}{"signal": sig.String()})
			cancel()
		case <-ctx.Done():
		}
	}()

	// 1. Check exchange connectivity before anything persists state.
	if err := s.gateway.Ping(ctx); err != nil {
		return fmt.Errorf("%s: exchange unreachable: %w", op, err)
	}
	s.logger.Info(ctx, op+": Exchange connectivity verified")

	// 2. Ensure every configured symbol has a pair row.
	if err := s.bootstrapPairs(ctx); err != nil {
		return fmt.Errorf("%s: pair bootstrap failed: %w", op, err)
	}

	// 3. Register symbol workers. They start without accepting signals;
	// intake opens only after the startup reconciliation pass.
	s.engine.Start(ctx)
	tracked, err := s.trackPairs(ctx)
	if err != nil {
		return fmt.Errorf("%s: tracking symbols failed: %w", op, err)
	}

	// 4. Startup reconciliation. A process that cannot converge its
	// local state against the exchange must not trade.
	reconErrCh := make(chan error, 1)
	go func() { reconErrCh <- s.recon.Run(ctx) }()

	select {
	case <-s.recon.Ready():
		s.logger.Info(ctx, op+": Startup reconciliation converged")
	case err := <-reconErrCh:
		if err == nil {
			err = fmt.Errorf("reconciliation loop exited before startup pass completed")
		}
		return fmt.Errorf("%s: %w", op, err)
	case <-ctx.Done():
		return nil
	}

	// 5. Open intake for symbols whose pair is enabled.
	for _, symbol := range tracked {
		if err := s.engine.StartSymbol(ctx, symbol); err != nil {
			s.logger.Error(ctx, err, op+": Failed to open signal intake", map[string]interface{}{"symbol": symbol})
		}
	}

	// 6. Account fill stream.
	fillsDone, fillsStop, err := s.gateway.StreamFills(ctx, s.handleFill, s.handleStreamError)
	if err != nil {
		return fmt.Errorf("%s: starting fill stream: %w", op, err)
	}
	s.logger.Info(ctx, op+": Fill stream started")

	// 7. Per-symbol kline streams for the strategy and exit marks.
	klineDone := make([]chan struct{}, 0, len(tracked))
	klineStop := make([]chan struct{}, 0, len(tracked))
	for _, symbol := range tracked {
		done, stop, err := s.startKlineStream(ctx, symbol)
		if err != nil {
			return fmt.Errorf("%s: starting kline stream for %s: %w", op, symbol, err)
		}
		klineDone = append(klineDone, done)
		klineStop = append(klineStop, stop)
	}

	// 8. Control surface.
	controlErrCh := make(chan error, 1)
	go func() { controlErrCh <- s.control.Start() }()

	s.logger.Info(ctx, op+": All components running", map[string]interface{}{
		"symbols": tracked, "paperMode": s.cfg.PaperMode,
	})

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-reconErrCh:
		runErr = fmt.Errorf("reconciliation loop stopped: %w", err)
	case err := <-controlErrCh:
		runErr = fmt.Errorf("control server stopped: %w", err)
	case <-fillsDone:
		runErr = fmt.Errorf("fill stream closed unexpectedly")
	}
	cancel()

	s.shutdown(fillsDone, fillsStop, klineDone, klineStop)
	return runErr
}

// bootstrapPairs inserts default pair rows for configured symbols that
// have none yet. Existing rows are left alone so control-surface edits
// survive restarts.
func (s *Service) bootstrapPairs(ctx context.Context) error {
	op := "Service.bootstrapPairs"
	for _, symbol := range s.cfg.Symbols {
		existing, err := s.store.Pair(ctx, symbol)
		if err != nil {
			return fmt.Errorf("looking up pair %s: %w", symbol, err)
		}
		if existing != nil {
			continue
		}
		pair := &domain.Pair{
			Symbol:      symbol,
			Leverage:    s.cfg.DefaultLeverage,
			CooldownSec: s.cfg.DefaultCooldownSec,
			Enabled:     true,
		}
		if err := s.store.UpsertPair(ctx, pair); err != nil {
			return fmt.Errorf("bootstrapping pair %s: %w", symbol, err)
		}
		s.logger.Info(ctx, op+": Pair bootstrapped", map[string]interface{}{
			"symbol": symbol, "leverage": pair.Leverage, "cooldownSec": pair.CooldownSec,
		})
	}
	return nil
}

// trackPairs registers a worker per configured symbol and returns the
// symbols in play. Disabled pairs are tracked (so reconciliation covers
// them) but their intake stays closed.
func (s *Service) trackPairs(ctx context.Context) ([]string, error) {
	op := "Service.trackPairs"
	tracked := make([]string, 0, len(s.cfg.Symbols))
	for _, symbol := range s.cfg.Symbols {
		pair, err := s.store.Pair(ctx, symbol)
		if err != nil {
			return nil, fmt.Errorf("looking up pair %s: %w", symbol, err)
		}
		if err := s.engine.Track(symbol, false); err != nil {
			return nil, fmt.Errorf("tracking %s: %w", symbol, err)
		}
		if pair != nil && !pair.Enabled {
			s.logger.Warn(ctx, op+": Pair disabled, tracked without intake", map[string]interface{}{"symbol": symbol})
			continue
		}
		tracked = append(tracked, symbol)
	}
	return tracked, nil
}

// startKlineStream warms the strategy cache from history and starts the
// live candle stream for one symbol.
func (s *Service) startKlineStream(ctx context.Context, symbol string) (done, stop chan struct{}, err error) {
	op := "Service.startKlineStream"

	required := s.strategy.RequiredDataPoints()
	limit := s.cfg.KlineHistory
	if required > limit {
		limit = required
	}
	history, err := s.gateway.GetKlines(ctx, symbol, s.cfg.KlineInterval, limit)
	if err != nil {
		return nil, nil, fmt.Errorf("loading kline history: %w", err)
	}
	if len(history) < required {
		return nil, nil, fmt.Errorf("insufficient kline history for %s: have %d, strategy needs %d", symbol, len(history), required)
	}
	s.mu.Lock()
	s.klines[symbol] = history
	s.mu.Unlock()
	s.logger.Info(ctx, op+": Kline history loaded", map[string]interface{}{
		"symbol": symbol, "interval": s.cfg.KlineInterval, "count": len(history),
	})

	return s.gateway.StreamKlines(ctx, symbol, s.cfg.KlineInterval, s.handleKline, s.handleStreamError)
}

// handleFill routes account executions into the engine.
func (s *Service) handleFill(fill domain.Fill) {
	s.engine.OnFill(context.Background(), fill)
}

// handleKline feeds marks on every tick and evaluates the strategy on
// final candles only.
func (s *Service) handleKline(kline *domain.Kline) {
	ctx := context.Background()

	// Every tick moves the mark so exit rules see the live price.
	s.engine.OnMark(kline.Symbol, kline.Close, kline.CloseTime)

	if !kline.IsFinal {
		return
	}

	s.mu.Lock()
	cache := append(s.klines[kline.Symbol], kline)
	if len(cache) > maxKlineCacheSize {
		cache = cache[len(cache)-maxKlineCacheSize:]
	}
	s.klines[kline.Symbol] = cache
	window := make([]*domain.Kline, len(cache))
	copy(window, cache)
	s.mu.Unlock()

	direction, ok := s.strategy.Evaluate(ctx, window)
	if !ok {
		return
	}

	sig := domain.Signal{
		Symbol:    kline.Symbol,
		Direction: direction,
		Source:    s.strategy.Name(),
		At:        kline.CloseTime,
	}
	if err := s.engine.OnSignal(ctx, sig); err != nil {
		if errors.Is(err, ports.ErrSymbolStopped) {
			s.logger.Debug(ctx, "Signal dropped, intake stopped", map[string]interface{}{"symbol": kline.Symbol})
			return
		}
		s.logger.Error(ctx, err, "Signal rejected by engine", map[string]interface{}{
			"symbol": kline.Symbol, "direction": direction,
		})
	}
}

// handleStreamError surfaces stream-level errors. Reconnects happen
// inside the gateway; anything landing here survived those retries.
func (s *Service) handleStreamError(err error) {
	s.logger.Error(context.Background(), err, "Market data stream error")
}

// shutdown tears components down in dependency order: HTTP first, then
// the engine (which waits for in-flight worker events), then streams.
func (s *Service) shutdown(fillsDone, fillsStop chan struct{}, klineDone, klineStop []chan struct{}) {
	op := "Service.shutdown"
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := s.control.Shutdown(ctx); err != nil {
		s.logger.Error(ctx, err, op+": Control server shutdown failed")
	}
	if err := s.engine.Shutdown(ctx); err != nil {
		s.logger.Error(ctx, err, op+": Engine shutdown failed")
	}

	stopStream(fillsStop, fillsDone)
	for i := range klineStop {
		stopStream(klineStop[i], klineDone[i])
	}
	s.logger.Info(ctx, op+": Service stopped")
}

func stopStream(stop, done chan struct{}) {
	select {
	case stop <- struct{}{}:
	default:
	}
	select {
	case <-done:
	case <-time.After(streamStopTimeout):
	}
}
