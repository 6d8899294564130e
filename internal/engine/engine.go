// Package engine holds the per-symbol flip state machine. Every event
// that can mutate a symbol's position (strategy signals, fills, mark
// prices, control commands, reconciliation corrections) is routed
// through that symbol's single worker goroutine, so transitions are
// never interleaved. Symbols run fully in parallel.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"flipperBot/internal/domain"
	"flipperBot/internal/exits"
	"flipperBot/internal/ports"
	"flipperBot/internal/risk"
	"flipperBot/internal/sizing"
)

// Config holds the engine's timing and sizing knobs.
type Config struct {
	// DefaultLeverage applies when a pair does not set its own.
	DefaultLeverage int
	// QuoteAsset is the margin currency for balance lookups.
	QuoteAsset string
	// TransitionalTimeout is how long a symbol may sit in opening or
	// closing before a forced reconciliation is requested. A timeout
	// never resubmits the order.
	TransitionalTimeout time.Duration
	// StaleIntentTTL is the age past which an unfilled submitted intent
	// is canceled through the gateway.
	StaleIntentTTL time.Duration
	// HousekeepingInterval is the worker's internal tick for timeout and
	// stale-order checks.
	HousekeepingInterval time.Duration
	// SubmitTimeout bounds a single gateway submission (including its
	// internal retries).
	SubmitTimeout time.Duration
	// MailboxSize is the per-symbol event queue depth.
	MailboxSize int
	// RestartDelay is how long a worker waits before restarting after a
	// persistence failure.
	RestartDelay time.Duration
	// ExitDefaults hold the exit thresholds applied when a pair does not
	// override them.
	ExitDefaults exits.Config
}

func (c *Config) applyDefaults() {
	if c.DefaultLeverage <= 0 {
		c.DefaultLeverage = 1
	}
	if c.QuoteAsset == "" {
		c.QuoteAsset = "USDT"
	}
	if c.TransitionalTimeout <= 0 {
		c.TransitionalTimeout = 30 * time.Second
	}
	if c.StaleIntentTTL <= 0 {
		c.StaleIntentTTL = 2 * time.Minute
	}
	if c.HousekeepingInterval <= 0 {
		c.HousekeepingInterval = 5 * time.Second
	}
	if c.SubmitTimeout <= 0 {
		c.SubmitTimeout = 30 * time.Second
	}
	if c.MailboxSize <= 0 {
		c.MailboxSize = 64
	}
	if c.RestartDelay <= 0 {
		c.RestartDelay = 2 * time.Second
	}
}

// Deps are the collaborators every worker shares.
type Deps struct {
	Logger  ports.Logger
	Gateway ports.Gateway
	Store   ports.Store
	Guard   *risk.Guard
	Sizer   *sizing.Calculator
}

// SymbolStatus is the control surface's read model for one symbol. It is
// a copy maintained outside the worker loop so queries never block on
// in-flight gateway calls.
type SymbolStatus struct {
	Symbol        string
	Accepting     bool
	Position      *domain.Position
	Intent        *domain.OrderIntent
	QueuedSignal  *domain.Signal
	LastReconcile time.Time
	Divergence    bool
	LastError     string
}

// Engine owns the symbol workers and fans events out to them.
type Engine struct {
	cfg  Config
	deps Deps

	mu       sync.RWMutex
	workers  map[string]*worker
	statuses map[string]*SymbolStatus
	baseCtx  context.Context
	closed   bool

	reconcileCh chan string
	wg          sync.WaitGroup
}

// New creates an engine. Workers are started per symbol with Track.
func New(cfg Config, deps Deps) (*Engine, error) {
	if deps.Logger == nil || deps.Gateway == nil || deps.Store == nil || deps.Guard == nil || deps.Sizer == nil {
		return nil, fmt.Errorf("missing required dependencies for engine: %w", ports.ErrConfigurationError)
	}
	cfg.applyDefaults()
	return &Engine{
		cfg:         cfg,
		deps:        deps,
		workers:     make(map[string]*worker),
		statuses:    make(map[string]*SymbolStatus),
		reconcileCh: make(chan string, 32),
	}, nil
}

// Start binds the engine to its run context. Workers started afterwards
// live until this context is canceled.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.baseCtx = ctx
}

// Track starts a worker for the symbol if one is not already running.
// accepting controls whether strategy signals are consumed; corrections
// and fills are always processed.
func (e *Engine) Track(symbol string, accepting bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return fmt.Errorf("engine is shut down: %w", ports.ErrSymbolStopped)
	}
	if e.baseCtx == nil {
		return fmt.Errorf("engine not started: %w", ports.ErrConfigurationError)
	}
	ctx := e.baseCtx
	if _, ok := e.workers[symbol]; ok {
		return nil
	}

	w := newWorker(e, symbol, accepting)
	e.workers[symbol] = w
	e.statuses[symbol] = &SymbolStatus{Symbol: symbol, Accepting: accepting}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for {
			err := w.run(ctx)
			if err == nil || ctx.Err() != nil {
				return
			}
			// Persistence failures stop the worker; it restarts with
			// state reloaded from the store and a reconciliation pass
			// resolves whatever was in flight.
			e.deps.Logger.Error(ctx, err, "Worker stopped, restarting", map[string]interface{}{
				"symbol": symbol, "delay": e.cfg.RestartDelay.String(),
			})
			select {
			case <-ctx.Done():
				return
			case <-time.After(e.cfg.RestartDelay):
			}
			e.RequestReconcile(symbol)
		}
	}()
	return nil
}

// worker looks up the symbol's worker.
func (e *Engine) worker(symbol string) (*worker, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	w, ok := e.workers[symbol]
	if !ok {
		return nil, fmt.Errorf("symbol %s: %w", symbol, ports.ErrSymbolNotTracked)
	}
	return w, nil
}

// OnSignal hands a strategy signal to the symbol's worker. Non-blocking:
// a full mailbox drops the signal (the strategy will speak again).
func (e *Engine) OnSignal(ctx context.Context, sig domain.Signal) error {
	w, err := e.worker(sig.Symbol)
	if err != nil {
		return err
	}
	if sig.At.IsZero() {
		sig.At = time.Now().UTC()
	}
	if !w.enqueue(event{kind: evSignal, signal: &sig}) {
		SignalsDropped.WithLabelValues(sig.Symbol, "mailbox_full").Inc()
		return fmt.Errorf("mailbox full for symbol %s: %w", sig.Symbol, ports.ErrSymbolStopped)
	}
	return nil
}

// OnFill routes an exchange execution to its symbol's worker. Fills for
// untracked symbols trigger a reconciliation request instead of being
// applied blindly.
func (e *Engine) OnFill(ctx context.Context, fill domain.Fill) {
	w, err := e.worker(fill.Symbol)
	if err != nil {
		e.deps.Logger.Warn(ctx, "Fill received for untracked symbol, requesting reconciliation", map[string]interface{}{
			"symbol": fill.Symbol, "intentID": fill.IntentID,
		})
		e.RequestReconcile(fill.Symbol)
		return
	}
	if !w.enqueue(event{kind: evFill, fill: &fill}) {
		e.deps.Logger.Warn(ctx, "Mailbox full, fill deferred to reconciliation", map[string]interface{}{
			"symbol": fill.Symbol, "intentID": fill.IntentID,
		})
		e.RequestReconcile(fill.Symbol)
	}
}

// OnMark feeds a mark-price tick to the symbol's exit evaluation. Ticks
// are best-effort; a dropped tick is replaced by the next one.
func (e *Engine) OnMark(symbol string, price float64, at time.Time) {
	w, err := e.worker(symbol)
	if err != nil {
		return
	}
	w.enqueue(event{kind: evMark, mark: price, at: at})
}

// StartSymbol resumes signal intake for the symbol.
func (e *Engine) StartSymbol(ctx context.Context, symbol string) error {
	return e.command(ctx, symbol, cmdStart, "")
}

// StopSymbol pauses signal intake. In-flight intents keep processing and
// reconciliation continues.
func (e *Engine) StopSymbol(ctx context.Context, symbol string) error {
	return e.command(ctx, symbol, cmdStop, "")
}

// ForceFlatten closes the symbol's open position at market, regardless
// of strategy state.
func (e *Engine) ForceFlatten(ctx context.Context, symbol string, reason domain.CloseReason) error {
	return e.command(ctx, symbol, cmdFlatten, reason)
}

// FlattenAll force-flattens every tracked symbol. Errors are collected,
// not short-circuited: a panic stop must reach all symbols.
func (e *Engine) FlattenAll(ctx context.Context, reason domain.CloseReason) error {
	var firstErr error
	for _, symbol := range e.Symbols() {
		if err := e.ForceFlatten(ctx, symbol, reason); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (e *Engine) command(ctx context.Context, symbol string, c commandKind, reason domain.CloseReason) error {
	w, err := e.worker(symbol)
	if err != nil {
		return err
	}
	if !w.enqueue(event{kind: evCommand, command: c, closeReason: reason}) {
		return fmt.Errorf("mailbox full for symbol %s: %w", symbol, ports.ErrSymbolStopped)
	}
	return nil
}

// ApplyCorrection routes a reconciliation correction through the
// symbol's worker and waits for the outcome, so corrections never race a
// concurrent fill application. Untracked symbols are adopted into a
// non-accepting worker first.
func (e *Engine) ApplyCorrection(ctx context.Context, symbol string, c Correction) error {
	w, err := e.worker(symbol)
	if err != nil {
		if err := e.Track(symbol, false); err != nil {
			return err
		}
		if w, err = e.worker(symbol); err != nil {
			return err
		}
	}

	reply := make(chan error, 1)
	if !w.enqueue(event{kind: evCorrection, correction: &c, reply: reply}) {
		return fmt.Errorf("mailbox full for symbol %s: %w", symbol, ports.ErrSymbolStopped)
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return fmt.Errorf("correction for %s: %w: %w", symbol, ports.ErrContextCanceled, ctx.Err())
	}
}

// NoteReconciled records a completed reconciliation pass for status
// queries. Called by the reconciliation loop after each pass.
func (e *Engine) NoteReconciled(symbol string, at time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if st, ok := e.statuses[symbol]; ok {
		st.LastReconcile = at
	}
}

// RequestReconcile asks the reconciliation loop for an out-of-band pass
// on the symbol. Non-blocking; a full queue means a pass is imminent
// anyway.
func (e *Engine) RequestReconcile(symbol string) {
	select {
	case e.reconcileCh <- symbol:
	default:
	}
}

// ReconcileRequests exposes the forced-reconciliation queue consumed by
// the reconciliation loop.
func (e *Engine) ReconcileRequests() <-chan string {
	return e.reconcileCh
}

// Status returns a copy of the symbol's read model.
func (e *Engine) Status(symbol string) (*SymbolStatus, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st, ok := e.statuses[symbol]
	if !ok {
		return nil, fmt.Errorf("symbol %s: %w", symbol, ports.ErrSymbolNotTracked)
	}
	cp := *st
	return &cp, nil
}

// Statuses returns a copy of every tracked symbol's read model.
func (e *Engine) Statuses() []*SymbolStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*SymbolStatus, 0, len(e.statuses))
	for _, st := range e.statuses {
		cp := *st
		out = append(out, &cp)
	}
	return out
}

// Symbols lists the tracked symbols.
func (e *Engine) Symbols() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, len(e.workers))
	for s := range e.workers {
		out = append(out, s)
	}
	return out
}

// Shutdown stops signal intake and waits for workers to finish their
// current event, bounded by ctx. State is persisted as each event
// commits, so pending intents are left for the next run's startup
// reconciliation rather than being resolved in a hurry here.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("engine shutdown timed out: %w", ctx.Err())
	}
}

// publishStatus replaces the symbol's read model. Called by the worker
// after every state change.
func (e *Engine) publishStatus(symbol string, st SymbolStatus) {
	e.mu.Lock()
	defer e.mu.Unlock()
	prev, ok := e.statuses[symbol]
	if ok {
		st.LastReconcile = prev.LastReconcile
	}
	e.statuses[symbol] = &st

	var open float64
	for _, s := range e.statuses {
		if s.Position != nil && s.Position.IsOpen() {
			open++
		}
	}
	OpenPositions.Set(open)
}
