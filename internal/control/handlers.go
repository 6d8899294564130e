package control

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"flipperBot/internal/domain"
	"flipperBot/internal/engine"
	"flipperBot/internal/ports"
	"flipperBot/internal/utils"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
)

type handlers struct {
	eng    Engine
	store  ports.Store
	logger ports.Logger
}

// statusDTO is the JSON view of a symbol's engine status. Position and
// intent are copies taken outside the worker, so serving them never
// blocks on exchange I/O.
type statusDTO struct {
	Symbol        string       `json:"symbol"`
	Accepting     bool         `json:"accepting"`
	State         string       `json:"state"`
	Position      *positionDTO `json:"position,omitempty"`
	Intent        *intentDTO   `json:"intent,omitempty"`
	QueuedSignal  *signalDTO   `json:"queued_signal,omitempty"`
	LastReconcile *time.Time   `json:"last_reconcile,omitempty"`
	Divergence    bool         `json:"divergence"`
	LastError     string       `json:"last_error,omitempty"`
}

type positionDTO struct {
	ID          int64   `json:"id"`
	Side        string  `json:"side"`
	Size        float64 `json:"size"`
	EntryPrice  float64 `json:"entry_price"`
	Leverage    int     `json:"leverage"`
	External    bool    `json:"external,omitempty"`
	OpenedAt    string  `json:"opened_at,omitempty"`
	RealizedPNL float64 `json:"realized_pnl,omitempty"`
}

type intentDTO struct {
	ID         string  `json:"id"`
	Side       string  `json:"side"`
	Kind       string  `json:"kind"`
	Size       float64 `json:"size"`
	FilledSize float64 `json:"filled_size"`
	Status     string  `json:"status"`
	Reason     string  `json:"reason,omitempty"`
	CreatedAt  string  `json:"created_at"`
}

type signalDTO struct {
	Direction string `json:"direction"`
	Source    string `json:"source"`
	At        string `json:"at"`
}

type pairDTO struct {
	Symbol        string  `json:"symbol"`
	Leverage      int     `json:"leverage"`
	TakeProfitPct float64 `json:"take_profit_pct"`
	StopLossPct   float64 `json:"stop_loss_pct"`
	CooldownSec   int     `json:"cooldown_sec"`
	Enabled       bool    `json:"enabled"`
}

type flipDTO struct {
	PositionID  int64   `json:"position_id"`
	Symbol      string  `json:"symbol"`
	Side        string  `json:"side"`
	Size        float64 `json:"size"`
	EntryPrice  float64 `json:"entry_price"`
	ExitPrice   float64 `json:"exit_price"`
	Leverage    int     `json:"leverage"`
	PNL         float64 `json:"pnl"`
	Fees        float64 `json:"fees"`
	OpenedAt    string  `json:"opened_at"`
	ClosedAt    string  `json:"closed_at"`
	DurationSec float64 `json:"duration_sec"`
	CloseReason string  `json:"close_reason"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type okResponse struct {
	Status string `json:"status"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ports.ErrNotFound), errors.Is(err, ports.ErrSymbolNotTracked):
		status = http.StatusNotFound
	case errors.Is(err, ports.ErrInvalidRequest):
		status = http.StatusBadRequest
	case errors.Is(err, ports.ErrSymbolStopped):
		status = http.StatusConflict
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func toStatusDTO(st *engine.SymbolStatus) *statusDTO {
	dto := &statusDTO{
		Symbol:     st.Symbol,
		Accepting:  st.Accepting,
		State:      string(domain.StateFlat),
		Divergence: st.Divergence,
		LastError:  st.LastError,
	}
	if !st.LastReconcile.IsZero() {
		t := st.LastReconcile
		dto.LastReconcile = &t
	}
	if p := st.Position; p != nil {
		dto.State = string(p.State)
		dto.Position = &positionDTO{
			ID:          p.ID,
			Side:        string(p.Side),
			Size:        p.Size,
			EntryPrice:  p.EntryPrice,
			Leverage:    p.Leverage,
			External:    p.External,
			RealizedPNL: p.RealizedPNL,
		}
		if !p.OpenedAt.IsZero() {
			dto.Position.OpenedAt = p.OpenedAt.UTC().Format(time.RFC3339)
		}
	}
	if in := st.Intent; in != nil {
		dto.Intent = &intentDTO{
			ID:         in.ID,
			Side:       string(in.Side),
			Kind:       string(in.Kind),
			Size:       in.Size,
			FilledSize: in.FilledSize,
			Status:     string(in.Status),
			Reason:     in.Reason,
			CreatedAt:  in.CreatedAt.UTC().Format(time.RFC3339),
		}
	}
	if sig := st.QueuedSignal; sig != nil {
		dto.QueuedSignal = &signalDTO{
			Direction: string(sig.Direction),
			Source:    sig.Source,
			At:        sig.At.UTC().Format(time.RFC3339),
		}
	}
	return dto
}

func toPairDTO(p *domain.Pair) pairDTO {
	return pairDTO{
		Symbol:        p.Symbol,
		Leverage:      p.Leverage,
		TakeProfitPct: p.TakeProfitPct,
		StopLossPct:   p.StopLossPct,
		CooldownSec:   p.CooldownSec,
		Enabled:       p.Enabled,
	}
}

func toFlipDTO(f *domain.Flip) flipDTO {
	return flipDTO{
		PositionID:  f.PositionID,
		Symbol:      f.Symbol,
		Side:        string(f.Side),
		Size:        f.Size,
		EntryPrice:  f.EntryPrice,
		ExitPrice:   f.ExitPrice,
		Leverage:    f.Leverage,
		PNL:         f.PNL,
		Fees:        f.Fees,
		OpenedAt:    f.OpenedAt.UTC().Format(time.RFC3339),
		ClosedAt:    f.ClosedAt.UTC().Format(time.RFC3339),
		DurationSec: f.Duration().Seconds(),
		CloseReason: string(f.CloseReason),
	}
}

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, okResponse{Status: "ok"})
}

func (h *handlers) listStatus(w http.ResponseWriter, _ *http.Request) {
	statuses := h.eng.Statuses()
	out := make([]*statusDTO, 0, len(statuses))
	for _, st := range statuses {
		out = append(out, toStatusDTO(st))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) symbolStatus(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	st, err := h.eng.Status(symbol)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStatusDTO(st))
}

func (h *handlers) startSymbol(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	if err := h.eng.StartSymbol(r.Context(), symbol); err != nil {
		// Symbols configured after boot are tracked on first start.
		if errors.Is(err, ports.ErrSymbolNotTracked) {
			if terr := h.eng.Track(symbol, true); terr != nil {
				writeError(w, terr)
				return
			}
		} else {
			writeError(w, err)
			return
		}
	}
	h.logger.Info(r.Context(), "Symbol intake started", map[string]interface{}{"symbol": symbol})
	writeJSON(w, http.StatusOK, okResponse{Status: "started"})
}

func (h *handlers) stopSymbol(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	if err := h.eng.StopSymbol(r.Context(), symbol); err != nil {
		writeError(w, err)
		return
	}
	h.logger.Info(r.Context(), "Symbol intake stopped", map[string]interface{}{"symbol": symbol})
	writeJSON(w, http.StatusOK, okResponse{Status: "stopped"})
}

func (h *handlers) flattenSymbol(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	if err := h.eng.ForceFlatten(r.Context(), symbol, domain.CloseReasonManual); err != nil {
		writeError(w, err)
		return
	}
	h.logger.Warn(r.Context(), "Manual flatten requested", map[string]interface{}{"symbol": symbol})
	writeJSON(w, http.StatusAccepted, okResponse{Status: "flattening"})
}

func (h *handlers) flattenAll(w http.ResponseWriter, r *http.Request) {
	if err := h.eng.FlattenAll(r.Context(), domain.CloseReasonPanic); err != nil {
		writeError(w, err)
		return
	}
	h.logger.Warn(r.Context(), "Panic flatten requested for all symbols")
	writeJSON(w, http.StatusAccepted, okResponse{Status: "flattening"})
}

func (h *handlers) listPairs(w http.ResponseWriter, r *http.Request) {
	pairs, err := h.store.ListPairs(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]pairDTO, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, toPairDTO(p))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) upsertPair(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	var req pairDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("decoding pair body: %w: %w", ports.ErrInvalidRequest, err))
		return
	}
	if req.Leverage <= 0 {
		writeError(w, fmt.Errorf("leverage must be positive: %w", ports.ErrInvalidRequest))
		return
	}
	if req.TakeProfitPct < 0 || req.StopLossPct < 0 || req.CooldownSec < 0 {
		writeError(w, fmt.Errorf("pair thresholds must be non-negative: %w", ports.ErrInvalidRequest))
		return
	}
	pair := &domain.Pair{
		Symbol:        symbol,
		Leverage:      req.Leverage,
		TakeProfitPct: req.TakeProfitPct,
		StopLossPct:   req.StopLossPct,
		CooldownSec:   req.CooldownSec,
		Enabled:       req.Enabled,
	}
	if err := h.store.UpsertPair(r.Context(), pair); err != nil {
		writeError(w, err)
		return
	}
	h.logger.Info(r.Context(), "Pair configuration updated", map[string]interface{}{
		"symbol": symbol, "leverage": req.Leverage, "enabled": req.Enabled,
	})
	writeJSON(w, http.StatusOK, toPairDTO(pair))
}

func (h *handlers) enablePair(w http.ResponseWriter, r *http.Request) {
	h.setPairEnabled(w, r, true)
}

func (h *handlers) disablePair(w http.ResponseWriter, r *http.Request) {
	h.setPairEnabled(w, r, false)
}

func (h *handlers) setPairEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	symbol := chi.URLParam(r, "symbol")
	if err := h.store.SetPairEnabled(r.Context(), symbol, enabled); err != nil {
		writeError(w, err)
		return
	}
	status := "disabled"
	if enabled {
		status = "enabled"
	}
	h.logger.Info(r.Context(), "Pair toggled", map[string]interface{}{"symbol": symbol, "enabled": enabled})
	writeJSON(w, http.StatusOK, okResponse{Status: status})
}

func (h *handlers) listFlips(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, fmt.Errorf("invalid limit %q: %w", raw, ports.ErrInvalidRequest))
			return
		}
		limit = n
	}
	flips, err := h.store.Flips(r.Context(), symbol, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]flipDTO, 0, len(flips))
	for _, f := range flips {
		out = append(out, toFlipDTO(f))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) exportFlips(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	flips, err := h.store.Flips(r.Context(), symbol, 0)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="flips.csv"`)
	if err := utils.WriteFlips(w, flips); err != nil {
		h.logger.Error(r.Context(), err, "Writing flip CSV export")
	}
}

func (h *handlers) totalPNL(w http.ResponseWriter, r *http.Request) {
	pnl, err := h.store.TotalPNL(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]float64{"total_pnl": pnl})
}
