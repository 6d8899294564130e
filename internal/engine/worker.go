package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"flipperBot/internal/domain"
	"flipperBot/internal/exits"
	"flipperBot/internal/ports"
	"flipperBot/internal/risk"
)

type eventKind int

const (
	evSignal eventKind = iota
	evFill
	evMark
	evCommand
	evCorrection
)

type commandKind int

const (
	cmdStart commandKind = iota
	cmdStop
	cmdFlatten
)

// event is one entry in a worker's mailbox. Exactly the fields for its
// kind are set.
type event struct {
	kind        eventKind
	signal      *domain.Signal
	fill        *domain.Fill
	mark        float64
	at          time.Time
	command     commandKind
	closeReason domain.CloseReason
	correction  *Correction
	reply       chan error
}

// worker serializes every mutation of one symbol's position. It owns the
// in-memory Position and outstanding OrderIntent; the store is written
// before the in-memory copies are swapped, so a persistence failure
// never leaves the worker ahead of disk.
type worker struct {
	e       *Engine
	symbol  string
	mailbox chan event

	accepting      bool
	pos            *domain.Position
	intent         *domain.OrderIntent
	queued         *domain.Signal
	pendingFlatten domain.CloseReason
	closeReason    domain.CloseReason
	exitEval       *exits.Evaluator
	exitState      exits.State
	lastErr        string
	lastForcedSync time.Time
}

func newWorker(e *Engine, symbol string, accepting bool) *worker {
	return &worker{
		e:         e,
		symbol:    symbol,
		mailbox:   make(chan event, e.cfg.MailboxSize),
		accepting: accepting,
	}
}

// enqueue offers an event to the mailbox without blocking.
func (w *worker) enqueue(ev event) bool {
	select {
	case w.mailbox <- ev:
		return true
	default:
		return false
	}
}

// run is the worker loop. It returns nil on context cancellation and an
// error on a persistence failure, in which case the engine restarts it;
// the restarted worker reloads state from the store and a forced
// reconciliation pass resolves anything left in flight.
func (w *worker) run(ctx context.Context) error {
	if err := w.loadState(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(w.e.cfg.HousekeepingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-w.mailbox:
			err := w.handle(ctx, ev)
			if ev.reply != nil {
				ev.reply <- err
			}
			if err != nil {
				if ports.IsPersistence(err) {
					return fmt.Errorf("worker %s: %w", w.symbol, err)
				}
				w.e.deps.Logger.Error(ctx, err, "Event handling failed", map[string]interface{}{"symbol": w.symbol})
				w.lastErr = err.Error()
				w.publish()
			}
		case <-ticker.C:
			if err := w.housekeeping(ctx); err != nil {
				return fmt.Errorf("worker %s: %w", w.symbol, err)
			}
		}
	}
}

// loadState rebuilds the worker's view from the store. The first
// reference to a symbol creates its flat position row.
func (w *worker) loadState(ctx context.Context) error {
	pos, err := w.e.deps.Store.CurrentPosition(ctx, w.symbol)
	if err != nil {
		return err
	}
	if pos == nil {
		pos = domain.NewFlatPosition(w.symbol)
		if _, err := w.e.deps.Store.CreatePosition(ctx, pos); err != nil {
			return err
		}
	}
	intent, err := w.e.deps.Store.OutstandingIntent(ctx, w.symbol)
	if err != nil {
		return err
	}
	w.pos = pos
	w.intent = intent
	w.publish()
	return nil
}

func (w *worker) handle(ctx context.Context, ev event) error {
	switch ev.kind {
	case evSignal:
		return w.handleSignal(ctx, *ev.signal)
	case evFill:
		return w.handleFill(ctx, *ev.fill)
	case evMark:
		return w.handleMark(ctx, ev.mark, ev.at)
	case evCommand:
		return w.handleCommand(ctx, ev.command, ev.closeReason)
	case evCorrection:
		return w.handleCorrection(ctx, *ev.correction)
	default:
		return fmt.Errorf("unknown event kind %d: %w", ev.kind, ports.ErrInvalidRequest)
	}
}

// handleSignal applies a strategy signal to the state machine. A signal
// arriving while a transition is in flight is queued at most one deep,
// latest wins.
func (w *worker) handleSignal(ctx context.Context, sig domain.Signal) error {
	if !w.accepting {
		SignalsDropped.WithLabelValues(w.symbol, "stopped").Inc()
		return nil
	}

	switch w.pos.State {
	case domain.StateFlat:
		return w.open(ctx, sig)
	case domain.StateOpening, domain.StateClosing:
		if w.queued != nil {
			SignalsDropped.WithLabelValues(w.symbol, "superseded").Inc()
			w.e.deps.Logger.Debug(ctx, "Queued signal superseded", map[string]interface{}{
				"symbol": w.symbol, "old": w.queued.Direction, "new": sig.Direction,
			})
		}
		w.queued = &sig
		w.publish()
		return nil
	case domain.StateOpen:
		if sig.Direction.PositionSide() == w.pos.Side {
			return nil // already positioned that way
		}
		// Flip: close now, queue the signal so the opposite side opens
		// once the close settles.
		w.queued = &sig
		return w.close(ctx, domain.CloseReasonSignal)
	default:
		return fmt.Errorf("position in unknown state %q: %w", w.pos.State, ports.ErrInvalidRequest)
	}
}

// open runs the flat -> opening transition: price the trade, size it,
// pass the risk guard, persist the intent, and submit.
func (w *worker) open(ctx context.Context, sig domain.Signal) error {
	d := w.e.deps
	now := time.Now().UTC()

	pair, err := d.Store.Pair(ctx, w.symbol)
	if err != nil {
		return err
	}
	leverage := w.e.cfg.DefaultLeverage
	var cooldown time.Duration
	if pair != nil {
		if !pair.Enabled {
			SignalsDropped.WithLabelValues(w.symbol, "pair_disabled").Inc()
			return nil
		}
		if pair.Leverage > 0 {
			leverage = pair.Leverage
		}
		cooldown = pair.Cooldown()
	}

	price, err := d.Gateway.GetMarkPrice(ctx, w.symbol)
	if err != nil {
		return w.dropSignal(ctx, "mark_price_unavailable", err)
	}
	balance, err := d.Gateway.GetBalance(ctx, w.e.cfg.QuoteAsset)
	if err != nil {
		return w.dropSignal(ctx, "balance_unavailable", err)
	}
	inst, err := d.Gateway.GetInstrument(ctx, w.symbol)
	if err != nil {
		return w.dropSignal(ctx, "instrument_unavailable", err)
	}
	qty, err := d.Sizer.Quantity(ctx, balance, price, leverage, inst)
	if err != nil {
		return w.dropSignal(ctx, "sizing_failed", err)
	}

	lastFlip, err := d.Store.LastFlipTime(ctx, w.symbol)
	if err != nil {
		return err
	}
	if err := d.Guard.Check(ctx, risk.Request{
		Symbol:   w.symbol,
		Size:     qty,
		Price:    price,
		Leverage: leverage,
		LastFlip: lastFlip,
		Cooldown: cooldown,
		Now:      now,
	}); err != nil {
		SignalsDropped.WithLabelValues(w.symbol, "risk_denied").Inc()
		w.lastErr = err.Error()
		w.e.deps.Logger.Warn(ctx, "Signal denied by risk guard", map[string]interface{}{
			"symbol": w.symbol, "direction": sig.Direction, "size": qty, "reason": err.Error(),
		})
		w.publish()
		return nil
	}

	if err := d.Gateway.SetLeverage(ctx, w.symbol, leverage); err != nil {
		d.Logger.Warn(ctx, "Failed to set leverage, continuing with exchange setting", map[string]interface{}{
			"symbol": w.symbol, "leverage": leverage, "error": err.Error(),
		})
	}

	side := sig.Direction.PositionSide()
	posCopy := *w.pos
	if !posCopy.ClosedAt.IsZero() || !posCopy.OpenedAt.IsZero() {
		// The current row records a completed cycle; start a fresh one.
		posCopy = domain.Position{Symbol: w.symbol}
	}
	posCopy.Side = side
	posCopy.Leverage = leverage
	posCopy.State = domain.StateOpening
	posCopy.Divergence = false
	posCopy.External = false
	posCopy.CloseReason = ""
	posCopy.RealizedPNL = 0

	if posCopy.ID == 0 {
		if _, err := d.Store.CreatePosition(ctx, &posCopy); err != nil {
			return err
		}
	} else if err := d.Store.UpdatePosition(ctx, &posCopy); err != nil {
		return err
	}

	intent := domain.NewOrderIntent(w.symbol, orderSide(side), domain.KindOpen, qty)
	intent.PositionID = posCopy.ID
	if err := d.Store.CreateIntent(ctx, intent); err != nil {
		if errors.Is(err, ports.ErrIntentOutstanding) {
			d.Logger.Error(ctx, err, "Refusing second outstanding intent", map[string]interface{}{"symbol": w.symbol})
			posCopy.State = domain.StateFlat
			posCopy.Side = domain.SideFlat
			if uerr := d.Store.UpdatePosition(ctx, &posCopy); uerr != nil {
				return uerr
			}
			w.pos = &posCopy
			w.publish()
			return nil
		}
		return err
	}

	w.pos = &posCopy
	w.intent = intent
	w.exitState = exits.State{}
	w.exitEval = exits.New(exits.Merge(w.e.cfg.ExitDefaults, pair), d.Logger)
	Transitions.WithLabelValues(w.symbol, string(domain.StateOpening)).Inc()
	d.Logger.Info(ctx, "Opening position", map[string]interface{}{
		"symbol": w.symbol, "side": side, "size": qty, "price": price, "leverage": leverage,
		"intentID": intent.ID, "source": sig.Source,
	})
	return w.submit(ctx)
}

// close runs the open -> closing transition with a reduce-only intent
// for the full position size.
func (w *worker) close(ctx context.Context, reason domain.CloseReason) error {
	if w.intent != nil || !w.pos.IsOpen() {
		return nil
	}
	d := w.e.deps

	posCopy := *w.pos
	posCopy.State = domain.StateClosing
	if err := d.Store.UpdatePosition(ctx, &posCopy); err != nil {
		return err
	}

	intent := domain.NewOrderIntent(w.symbol, orderSide(posCopy.Side).Opposite(), domain.KindClose, posCopy.Size)
	intent.PositionID = posCopy.ID
	if err := d.Store.CreateIntent(ctx, intent); err != nil {
		posCopy.State = domain.StateOpen
		if uerr := d.Store.UpdatePosition(ctx, &posCopy); uerr != nil {
			return uerr
		}
		w.pos = &posCopy
		return err
	}

	w.pos = &posCopy
	w.intent = intent
	w.closeReason = reason
	Transitions.WithLabelValues(w.symbol, string(domain.StateClosing)).Inc()
	d.Logger.Info(ctx, "Closing position", map[string]interface{}{
		"symbol": w.symbol, "side": posCopy.Side, "size": posCopy.Size,
		"reason": reason, "intentID": intent.ID,
	})
	return w.submit(ctx)
}

// submit sends the outstanding intent through the gateway. The gateway
// owns transient retries; what comes back here is definitive (submitted)
// or terminal (rejected, or unknown after retry exhaustion).
func (w *worker) submit(ctx context.Context) error {
	d := w.e.deps
	intentCopy := *w.intent

	sctx, cancel := context.WithTimeout(ctx, w.e.cfg.SubmitTimeout)
	defer cancel()
	_, err := d.Gateway.SubmitOrder(sctx, &intentCopy)

	now := time.Now().UTC()
	switch {
	case err == nil:
		if intentCopy.Status == domain.IntentPending {
			intentCopy.Status = domain.IntentSubmitted
		}
		intentCopy.UpdatedAt = now
		if uerr := d.Store.UpdateIntent(ctx, &intentCopy); uerr != nil {
			return uerr
		}
		w.intent = &intentCopy
		w.lastErr = ""
		w.publish()
		return nil

	case errors.Is(err, ports.ErrSubmissionUnknown):
		// True outcome unknown. The intent is closed out locally with
		// the distinguishable sub-reason and reconciliation learns what
		// the exchange actually did; the position stays transitional
		// until then. Never blind-resubmit here.
		intentCopy.Status = domain.IntentRejected
		intentCopy.Reason = "unknown"
		intentCopy.UpdatedAt = now
		if uerr := d.Store.UpdateIntent(ctx, &intentCopy); uerr != nil {
			return uerr
		}
		w.intent = nil
		w.lastErr = err.Error()
		d.Logger.Error(ctx, err, "Submission outcome unknown, forcing reconciliation", map[string]interface{}{
			"symbol": w.symbol, "intentID": intentCopy.ID,
		})
		w.requestForcedSync()
		w.publish()
		return nil

	default:
		intentCopy.Status = domain.IntentRejected
		intentCopy.Reason = err.Error()
		intentCopy.UpdatedAt = now
		if uerr := d.Store.UpdateIntent(ctx, &intentCopy); uerr != nil {
			return uerr
		}
		w.intent = nil
		w.lastErr = err.Error()
		d.Logger.Error(ctx, err, "Submission rejected", map[string]interface{}{
			"symbol": w.symbol, "intentID": intentCopy.ID, "kind": intentCopy.Kind,
		})
		return w.revertTransition(ctx)
	}
}

// revertTransition rolls the position back after a rejected or canceled
// intent: opening falls back to flat (or open, when partial fills left
// exposure), closing falls back to open.
func (w *worker) revertTransition(ctx context.Context) error {
	posCopy := *w.pos
	switch posCopy.State {
	case domain.StateOpening:
		if posCopy.Size > 0 {
			posCopy.State = domain.StateOpen
			if posCopy.OpenedAt.IsZero() {
				posCopy.OpenedAt = time.Now().UTC()
			}
		} else {
			posCopy.State = domain.StateFlat
			posCopy.Side = domain.SideFlat
		}
	case domain.StateClosing:
		posCopy.State = domain.StateOpen
	default:
		return nil
	}
	if err := w.e.deps.Store.UpdatePosition(ctx, &posCopy); err != nil {
		return err
	}
	w.pos = &posCopy
	w.closeReason = ""
	Transitions.WithLabelValues(w.symbol, string(posCopy.State)).Inc()
	w.publish()
	return w.processQueued(ctx)
}

// handleFill applies one execution: the fill row, the intent progress,
// and the recomputed position commit in a single store transaction.
// Position size is always recomputed from the net of all fills, never
// incremented, so replays and restarts converge to the same number.
func (w *worker) handleFill(ctx context.Context, fill domain.Fill) error {
	d := w.e.deps

	if w.intent == nil || fill.IntentID != w.intent.ID {
		d.Logger.Warn(ctx, "Fill does not match outstanding intent, requesting reconciliation", map[string]interface{}{
			"symbol": w.symbol, "fillIntentID": fill.IntentID,
		})
		w.requestForcedSync()
		return nil
	}

	intentCopy := *w.intent
	if !intentCopy.ApplyFill(fill) {
		d.Logger.Warn(ctx, "Fill could not be applied to intent", map[string]interface{}{
			"symbol": w.symbol, "intentID": intentCopy.ID, "status": intentCopy.Status,
		})
		return nil
	}

	prior, err := d.Store.FillsByPosition(ctx, w.pos.ID)
	if err != nil {
		return err
	}
	all := append(prior, fill)
	net := domain.NetSize(all)

	posCopy := *w.pos
	posCopy.Size = math.Abs(net)
	posCopy.EntryPrice = domain.VWAP(all, orderSide(posCopy.Side))

	if intentCopy.Status == domain.IntentFilled {
		switch intentCopy.Kind {
		case domain.KindOpen:
			posCopy.State = domain.StateOpen
			if posCopy.OpenedAt.IsZero() {
				posCopy.OpenedAt = all[0].Time
			}
		case domain.KindClose, domain.KindReduce:
			if domain.SizesEqual(net, 0) {
				reason := w.closeReason
				if reason == "" {
					reason = domain.CloseReasonSignal
				}
				posCopy.Size = 0
				posCopy.State = domain.StateFlat
				posCopy.ClosedAt = fill.Time
				posCopy.CloseReason = reason
				posCopy.RealizedPNL = realizedPNL(posCopy.Side, all)
			}
		}
	}

	if err := d.Store.ApplyFill(ctx, fill, &intentCopy, &posCopy); err != nil {
		if errors.Is(err, ports.ErrDuplicateEntry) {
			d.Logger.Debug(ctx, "Duplicate fill ignored", map[string]interface{}{
				"symbol": w.symbol, "tradeID": fill.TradeID,
			})
			return nil
		}
		return err
	}

	FillsApplied.WithLabelValues(w.symbol).Inc()
	w.pos = &posCopy
	if intentCopy.IsTerminal() {
		w.intent = nil
		w.closeReason = ""
		Transitions.WithLabelValues(w.symbol, string(posCopy.State)).Inc()
		d.Logger.Info(ctx, "Intent filled", map[string]interface{}{
			"symbol": w.symbol, "intentID": intentCopy.ID, "kind": intentCopy.Kind,
			"state": posCopy.State, "size": posCopy.Size, "pnl": posCopy.RealizedPNL,
		})
	} else {
		w.intent = &intentCopy
	}
	w.publish()

	if !w.pos.State.IsTransitional() {
		return w.processQueued(ctx)
	}
	return nil
}

// handleMark evaluates the exit rules against a mark-price tick. A
// triggered exit becomes an internal close signal with its reason.
func (w *worker) handleMark(ctx context.Context, price float64, at time.Time) error {
	if !w.pos.IsOpen() || w.intent != nil {
		return nil
	}
	if w.exitEval == nil {
		pair, err := w.e.deps.Store.Pair(ctx, w.symbol)
		if err != nil {
			return err
		}
		w.exitEval = exits.New(exits.Merge(w.e.cfg.ExitDefaults, pair), w.e.deps.Logger)
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}
	decision := w.exitEval.Evaluate(ctx, w.pos, &w.exitState, price, at)
	if decision == nil {
		return nil
	}
	w.e.deps.Logger.Info(ctx, "Exit triggered", map[string]interface{}{
		"symbol": w.symbol, "reason": decision.Reason, "mark": decision.Price,
	})
	return w.close(ctx, decision.Reason)
}

func (w *worker) handleCommand(ctx context.Context, c commandKind, reason domain.CloseReason) error {
	switch c {
	case cmdStart:
		w.accepting = true
		w.publish()
		return nil
	case cmdStop:
		w.accepting = false
		w.queued = nil
		w.publish()
		return nil
	case cmdFlatten:
		if reason == "" {
			reason = domain.CloseReasonManual
		}
		w.queued = nil
		// A panic stop also closes intake; manual flattening of one
		// symbol leaves it trading.
		if reason == domain.CloseReasonPanic {
			w.accepting = false
			w.publish()
		}
		if w.pos.IsOpen() && w.intent == nil {
			return w.close(ctx, reason)
		}
		if w.pos.State.IsTransitional() {
			// Can't interleave with the in-flight intent; flatten once
			// it settles.
			w.pendingFlatten = reason
			w.publish()
		}
		return nil
	default:
		return fmt.Errorf("unknown command %d: %w", c, ports.ErrInvalidRequest)
	}
}

// handleCorrection executes one reconciliation instruction inside the
// worker's serialization.
func (w *worker) handleCorrection(ctx context.Context, c Correction) error {
	d := w.e.deps

	switch c.Kind {
	case CorrectionApplyFill:
		if c.Fill == nil {
			return fmt.Errorf("apply_fill correction without fill: %w", ports.ErrInvalidRequest)
		}
		if w.intent == nil {
			intent, err := d.Store.IntentByID(ctx, c.Fill.IntentID)
			if err != nil {
				return err
			}
			if intent == nil || intent.IsTerminal() {
				return fmt.Errorf("correction fill references unknown or terminal intent %s: %w", c.Fill.IntentID, ports.ErrNotFound)
			}
			w.intent = intent
		}
		return w.handleFill(ctx, *c.Fill)

	case CorrectionResolveIntent:
		if w.intent == nil {
			return nil
		}
		intentCopy := *w.intent
		intentCopy.Status = c.IntentStatus
		intentCopy.Reason = c.Reason
		intentCopy.UpdatedAt = time.Now().UTC()
		if err := d.Store.UpdateIntent(ctx, &intentCopy); err != nil {
			return err
		}
		w.intent = nil
		d.Logger.Warn(ctx, "Intent resolved by reconciliation", map[string]interface{}{
			"symbol": w.symbol, "intentID": intentCopy.ID, "status": c.IntentStatus, "reason": c.Reason,
		})
		return w.revertTransition(ctx)

	case CorrectionMarkFlat:
		now := time.Now().UTC()
		// An opening position with no fills collapsing to flat is the
		// expected end of retry exhaustion, not a divergence.
		neverFilled := w.pos.State == domain.StateOpening && w.pos.Size == 0
		if w.intent != nil {
			intentCopy := *w.intent
			intentCopy.Status = domain.IntentRejected
			intentCopy.Reason = "divergence"
			if neverFilled {
				intentCopy.Reason = "never_executed"
			}
			intentCopy.UpdatedAt = now
			if err := d.Store.UpdateIntent(ctx, &intentCopy); err != nil {
				return err
			}
			w.intent = nil
		}
		if neverFilled {
			d.Logger.Info(ctx, "Unconfirmed open never reached the exchange, reverting to flat", map[string]interface{}{
				"symbol": w.symbol, "positionID": w.pos.ID,
			})
			return w.revertTransition(ctx)
		}
		posCopy := *w.pos
		posCopy.State = domain.StateFlat
		posCopy.Size = 0
		posCopy.Divergence = true
		posCopy.CloseReason = domain.CloseReasonDivergence
		if posCopy.ClosedAt.IsZero() {
			posCopy.ClosedAt = now
		}
		if err := d.Store.UpdatePosition(ctx, &posCopy); err != nil {
			return err
		}
		w.pos = &posCopy
		w.closeReason = ""
		Divergences.WithLabelValues(w.symbol, "flat_mismatch").Inc()
		d.Logger.Warn(ctx, "Exchange shows no position, local record marked flat with divergence", map[string]interface{}{
			"symbol": w.symbol, "positionID": posCopy.ID,
		})
		w.publish()
		return nil

	case CorrectionAdoptExternal:
		if c.Snapshot == nil {
			return fmt.Errorf("adopt_external correction without snapshot: %w", ports.ErrInvalidRequest)
		}
		if !w.pos.IsFlat() {
			return fmt.Errorf("cannot adopt external position over non-flat record for %s: %w", w.symbol, ports.ErrInvalidRequest)
		}
		leverage := c.Snapshot.Leverage
		if leverage <= 0 {
			leverage = 1
		}
		adopted := &domain.Position{
			Symbol:     w.symbol,
			Side:       c.Snapshot.Side(),
			Size:       c.Snapshot.AbsSize(),
			EntryPrice: c.Snapshot.EntryPrice,
			Leverage:   leverage,
			State:      domain.StateOpen,
			OpenedAt:   c.Snapshot.Taken,
			External:   true,
		}
		if _, err := d.Store.CreatePosition(ctx, adopted); err != nil {
			return err
		}
		w.pos = adopted
		w.exitState = exits.State{}
		Divergences.WithLabelValues(w.symbol, "external_position").Inc()
		d.Logger.Warn(ctx, "Adopted externally originated position", map[string]interface{}{
			"symbol": w.symbol, "side": adopted.Side, "size": adopted.Size, "entry": adopted.EntryPrice,
		})
		w.publish()
		return nil

	case CorrectionFlagDivergence:
		posCopy := *w.pos
		posCopy.Divergence = true
		if err := d.Store.UpdatePosition(ctx, &posCopy); err != nil {
			return err
		}
		w.pos = &posCopy
		Divergences.WithLabelValues(w.symbol, "size_mismatch").Inc()
		d.Logger.Warn(ctx, "Local and exchange positions disagree, flagged for review", map[string]interface{}{
			"symbol": w.symbol, "localSize": posCopy.Size,
		})
		w.publish()
		return nil

	default:
		return fmt.Errorf("unknown correction kind %q: %w", c.Kind, ports.ErrInvalidRequest)
	}
}

// processQueued drains the one-deep signal slot and any pending flatten
// after a transition settles.
func (w *worker) processQueued(ctx context.Context) error {
	if w.pendingFlatten != "" {
		reason := w.pendingFlatten
		w.pendingFlatten = ""
		w.queued = nil
		if w.pos.IsOpen() && w.intent == nil {
			return w.close(ctx, reason)
		}
		return nil
	}
	if w.queued == nil {
		return nil
	}
	sig := *w.queued
	w.queued = nil
	return w.handleSignal(ctx, sig)
}

// housekeeping handles the transitional timeout and the stale-order TTL.
// Timeouts force a reconciliation query, never a blind resubmit.
func (w *worker) housekeeping(ctx context.Context) error {
	now := time.Now().UTC()

	if w.pos.State.IsTransitional() {
		var ref time.Time
		if w.intent != nil {
			ref = w.intent.CreatedAt
		}
		if (ref.IsZero() || now.Sub(ref) > w.e.cfg.TransitionalTimeout) &&
			now.Sub(w.lastForcedSync) > w.e.cfg.TransitionalTimeout {
			w.e.deps.Logger.Warn(ctx, "Transitional state timed out, forcing reconciliation", map[string]interface{}{
				"symbol": w.symbol, "state": w.pos.State,
			})
			w.requestForcedSync()
		}
	}

	if w.intent != nil && now.Sub(w.intent.CreatedAt) > w.e.cfg.StaleIntentTTL {
		err := w.e.deps.Gateway.CancelOrder(ctx, w.symbol, w.intent.ID)
		switch {
		case err == nil:
			w.e.deps.Logger.Warn(ctx, "Canceled stale order", map[string]interface{}{
				"symbol": w.symbol, "intentID": w.intent.ID, "age": now.Sub(w.intent.CreatedAt).String(),
			})
			intentCopy := *w.intent
			intentCopy.Status = domain.IntentCanceled
			intentCopy.Reason = "stale"
			intentCopy.UpdatedAt = now
			if uerr := w.e.deps.Store.UpdateIntent(ctx, &intentCopy); uerr != nil {
				return uerr
			}
			w.intent = nil
			if rerr := w.revertTransition(ctx); rerr != nil {
				return rerr
			}
			// Confirm with the exchange that nothing filled in the gap.
			w.requestForcedSync()
		case errors.Is(err, ports.ErrOrderNotFound):
			// Already gone exchange-side: filled or canceled there.
			// Reconciliation learns which.
			w.requestForcedSync()
		default:
			w.e.deps.Logger.Warn(ctx, "Stale order cancel failed, will retry", map[string]interface{}{
				"symbol": w.symbol, "intentID": w.intent.ID, "error": err.Error(),
			})
		}
	}
	return nil
}

func (w *worker) requestForcedSync() {
	w.lastForcedSync = time.Now().UTC()
	w.e.RequestReconcile(w.symbol)
}

// dropSignal records a pre-trade failure and drops the signal without
// retry; the strategy will signal again if conditions persist.
func (w *worker) dropSignal(ctx context.Context, reason string, err error) error {
	SignalsDropped.WithLabelValues(w.symbol, reason).Inc()
	w.lastErr = err.Error()
	w.e.deps.Logger.Error(ctx, err, "Signal dropped", map[string]interface{}{
		"symbol": w.symbol, "reason": reason,
	})
	w.publish()
	return nil
}

// publish copies the worker's state into the engine's read model.
func (w *worker) publish() {
	st := SymbolStatus{
		Symbol:    w.symbol,
		Accepting: w.accepting,
		LastError: w.lastErr,
	}
	if w.pos != nil {
		cp := *w.pos
		st.Position = &cp
		st.Divergence = cp.Divergence
	}
	if w.intent != nil && !w.intent.IsTerminal() {
		cp := *w.intent
		st.Intent = &cp
	}
	if w.queued != nil {
		cp := *w.queued
		st.QueuedSignal = &cp
	}
	w.e.publishStatus(w.symbol, st)
}

// orderSide maps a position side to the order side that grows it.
func orderSide(s domain.Side) domain.OrderSide {
	if s == domain.SideShort {
		return domain.Sell
	}
	return domain.Buy
}

// realizedPNL nets the entry and exit executions of one completed cycle:
// signed notional difference minus fees.
func realizedPNL(side domain.Side, fills []domain.Fill) float64 {
	entry := orderSide(side)
	var entryQty, entryNotional, exitQty, exitNotional, fees float64
	for _, f := range fills {
		fees += f.Fee
		if f.Side == entry {
			entryQty += f.Size
			entryNotional += f.Size * f.Price
		} else {
			exitQty += f.Size
			exitNotional += f.Size * f.Price
		}
	}
	closed := math.Min(entryQty, exitQty)
	if closed <= 0 || entryQty <= 0 || exitQty <= 0 {
		return -fees
	}
	entryVWAP := entryNotional / entryQty
	exitVWAP := exitNotional / exitQty
	direction := 1.0
	if side == domain.SideShort {
		direction = -1.0
	}
	return (exitVWAP-entryVWAP)*closed*direction - fees
}
