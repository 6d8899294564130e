// Package reconcile periodically aligns the local store with
// exchange-reported truth. It corrects records and surfaces divergence;
// it never submits an order and never fabricates a fill to make the
// numbers agree. The startup pass is mandatory: it is what recovers
// state after a crash or an unknown submission outcome.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"flipperBot/internal/domain"
	"flipperBot/internal/engine"
	"flipperBot/internal/ports"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	passes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flipper_reconcile_passes_total",
			Help: "Total number of per-symbol reconciliation passes",
		},
		[]string{"outcome"},
	)
)

// Corrector is the slice of the engine the loop drives. Corrections go
// through the engine so they share the symbol's serialization with
// concurrent fill applications.
type Corrector interface {
	Symbols() []string
	ApplyCorrection(ctx context.Context, symbol string, c engine.Correction) error
	NoteReconciled(symbol string, at time.Time)
	ReconcileRequests() <-chan string
}

// Config holds the loop's timing.
type Config struct {
	// Interval between full passes over all tracked symbols.
	Interval time.Duration
	// Timeout bounds one symbol's pass, snapshot fetch included.
	Timeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = 15 * time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 20 * time.Second
	}
}

// Loop compares store state against exchange snapshots.
type Loop struct {
	cfg     Config
	gateway ports.Gateway
	store   ports.Store
	eng     Corrector
	logger  ports.Logger
	ready   chan struct{}
}

// New creates a reconciliation loop.
func New(cfg Config, gateway ports.Gateway, store ports.Store, eng Corrector, logger ports.Logger) (*Loop, error) {
	if gateway == nil || store == nil || eng == nil || logger == nil {
		return nil, fmt.Errorf("missing required dependencies for reconciliation loop: %w", ports.ErrConfigurationError)
	}
	cfg.applyDefaults()
	return &Loop{cfg: cfg, gateway: gateway, store: store, eng: eng, logger: logger, ready: make(chan struct{})}, nil
}

// Ready is closed once the startup pass has converged, so callers can
// hold off market data until local state is trustworthy.
func (l *Loop) Ready() <-chan struct{} {
	return l.ready
}

// Run executes the mandatory startup pass, then alternates between the
// periodic ticker and forced per-symbol requests until ctx is canceled.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info(ctx, "Running startup reconciliation pass")
	if err := l.RunOnce(ctx); err != nil {
		return fmt.Errorf("startup reconciliation failed: %w", err)
	}
	close(l.ready)

	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := l.RunOnce(ctx); err != nil {
				l.logger.Error(ctx, err, "Periodic reconciliation pass failed")
			}
		case symbol := <-l.eng.ReconcileRequests():
			l.logger.Info(ctx, "Forced reconciliation requested", map[string]interface{}{"symbol": symbol})
			if err := l.ReconcileSymbol(ctx, symbol); err != nil {
				l.logger.Error(ctx, err, "Forced reconciliation failed", map[string]interface{}{"symbol": symbol})
			}
		}
	}
}

// RunOnce reconciles every tracked symbol. Per-symbol failures are
// logged and do not stop the pass, except persistence failures, which
// abort it.
func (l *Loop) RunOnce(ctx context.Context) error {
	for _, symbol := range l.eng.Symbols() {
		if err := l.ReconcileSymbol(ctx, symbol); err != nil {
			if ports.IsPersistence(err) {
				return err
			}
			l.logger.Error(ctx, err, "Symbol reconciliation failed", map[string]interface{}{"symbol": symbol})
		}
	}
	return nil
}

// ReconcileSymbol fetches the exchange snapshot for one symbol and
// resolves any divergence from the store:
//   - exchange reports fills the store missed: apply them;
//   - exchange reports the outstanding order terminal without fills:
//     resolve the intent and revert the transition;
//   - exchange flat where the store expects exposure: mark the position
//     flat with the divergence flag, never fabricate a fill;
//   - exchange holds a position the store never recorded: adopt it
//     flagged externally originated;
//   - both hold exposure but disagree: flag for manual review.
func (l *Loop) ReconcileSymbol(ctx context.Context, symbol string) error {
	ctx, cancel := context.WithTimeout(ctx, l.cfg.Timeout)
	defer cancel()

	snap, err := l.gateway.FetchSnapshot(ctx, symbol)
	if err != nil {
		passes.WithLabelValues("error").Inc()
		return fmt.Errorf("fetching snapshot for %s: %w", symbol, err)
	}

	if err := l.resolveIntent(ctx, symbol, snap); err != nil {
		passes.WithLabelValues("error").Inc()
		return err
	}
	if err := l.resolvePosition(ctx, symbol, snap); err != nil {
		passes.WithLabelValues("error").Inc()
		return err
	}

	l.eng.NoteReconciled(symbol, time.Now().UTC())
	passes.WithLabelValues("ok").Inc()
	return nil
}

// resolveIntent aligns the symbol's outstanding intent with the
// exchange's view of that client-order-id.
func (l *Loop) resolveIntent(ctx context.Context, symbol string, snap *domain.ExchangeSnapshot) error {
	intent, err := l.store.OutstandingIntent(ctx, symbol)
	if err != nil {
		return err
	}
	if intent == nil {
		return nil
	}

	state, known := snap.Order(intent.ID)
	if !known {
		// The exchange has no trace of the order: the submission never
		// landed. Resolve the intent; if the exchange nonetheless holds
		// exposure, the position comparison below adopts or flags it.
		return l.eng.ApplyCorrection(ctx, symbol, engine.Correction{
			Kind:         engine.CorrectionResolveIntent,
			IntentStatus: domain.IntentCanceled,
			Reason:       "order not found on exchange",
		})
	}

	if state.FilledSize > intent.FilledSize+1e-9 {
		// Fills the store missed: reconstruct the missing quantity from
		// the exchange-reported totals. This is applying exchange truth,
		// not fabrication.
		missing := domain.Fill{
			IntentID: intent.ID,
			Symbol:   symbol,
			Side:     intent.Side,
			Size:     state.FilledSize - intent.FilledSize,
			Price:    state.AvgPrice,
			TradeID:  fmt.Sprintf("recon-%s-%.8f", intent.ID, state.FilledSize),
			Time:     orderTime(state, snap),
		}
		l.logger.Warn(ctx, "Applying fill the store missed", map[string]interface{}{
			"symbol": symbol, "intentID": intent.ID, "size": missing.Size, "price": missing.Price,
		})
		if err := l.eng.ApplyCorrection(ctx, symbol, engine.Correction{
			Kind: engine.CorrectionApplyFill,
			Fill: &missing,
		}); err != nil {
			return err
		}
		return nil
	}

	if state.Status.IsTerminal() && state.Status != domain.IntentFilled {
		return l.eng.ApplyCorrection(ctx, symbol, engine.Correction{
			Kind:         engine.CorrectionResolveIntent,
			IntentStatus: state.Status,
			Reason:       "resolved from exchange order state",
		})
	}
	return nil
}

// resolvePosition compares exposure after intents have been settled.
func (l *Loop) resolvePosition(ctx context.Context, symbol string, snap *domain.ExchangeSnapshot) error {
	pos, err := l.store.CurrentPosition(ctx, symbol)
	if err != nil {
		return err
	}
	intent, err := l.store.OutstandingIntent(ctx, symbol)
	if err != nil {
		return err
	}

	localFlat := pos == nil || pos.IsFlat()
	switch {
	case localFlat && !snap.IsFlat():
		return l.eng.ApplyCorrection(ctx, symbol, engine.Correction{
			Kind:     engine.CorrectionAdoptExternal,
			Snapshot: snap,
		})

	case !localFlat && snap.IsFlat():
		if intent != nil && pos.State == domain.StateOpening {
			// Mid-open with the order still live exchange-side is not a
			// divergence, just latency.
			if _, known := snap.Order(intent.ID); known {
				return nil
			}
		}
		return l.eng.ApplyCorrection(ctx, symbol, engine.Correction{
			Kind:     engine.CorrectionMarkFlat,
			Snapshot: snap,
		})

	case !localFlat && !snap.IsFlat():
		if pos.Divergence {
			return nil // already surfaced, awaiting review
		}
		if pos.Side != snap.Side() || !domain.SizesEqual(pos.Size, snap.AbsSize()) {
			// Don't flag while a transition is legitimately in flight.
			if pos.State.IsTransitional() && intent != nil {
				return nil
			}
			return l.eng.ApplyCorrection(ctx, symbol, engine.Correction{
				Kind:     engine.CorrectionFlagDivergence,
				Snapshot: snap,
			})
		}
	}
	return nil
}

func orderTime(state domain.OrderState, snap *domain.ExchangeSnapshot) time.Time {
	if !state.UpdatedAt.IsZero() {
		return state.UpdatedAt
	}
	if !snap.Taken.IsZero() {
		return snap.Taken
	}
	return time.Now().UTC()
}
