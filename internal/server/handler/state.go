package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/polysniper/internal/domain"
	"github.com/alanyoungcy/polysniper/internal/engine"
)

// StateSource provides the latest dashboard payload.
type StateSource interface {
	Latest() (engine.DashboardPayload, bool)
}

// TradeSource lists closed trades, newest first.
type TradeSource interface {
	Recent(ctx context.Context, limit int) ([]domain.Trade, error)
}

// EngineHandler serves the paper-trading read endpoints.
type EngineHandler struct {
	state  StateSource
	trades TradeSource
	logger *slog.Logger
}

// NewEngineHandler creates an EngineHandler.
func NewEngineHandler(state StateSource, trades TradeSource, logger *slog.Logger) *EngineHandler {
	return &EngineHandler{state: state, trades: trades, logger: logger.With(slog.String("handler", "engine"))}
}

// State serves GET /api/state. It is 503 until the engine publishes its
// first snapshot.
func (h *EngineHandler) State(w http.ResponseWriter, r *http.Request) {
	p, ok := h.state.Latest()
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "no snapshot yet")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type tradeResponse struct {
	ID         string    `json:"id"`
	MarketID   string    `json:"market_id"`
	Asset      string    `json:"asset"`
	Action     string    `json:"action"`
	Side       string    `json:"side"`
	Size       float64   `json:"size"`
	EntryPrice float64   `json:"entry_price"`
	ExitPrice  float64   `json:"exit_price"`
	PnL        float64   `json:"pnl"`
	Reason     string    `json:"reason"`
	OpenedAt   time.Time `json:"opened_at"`
	ClosedAt   time.Time `json:"closed_at"`
}

// Trades serves GET /api/trades?limit=N (default 50, max 500).
func (h *EngineHandler) Trades(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 50, 500)
	trades, err := h.trades.Recent(r.Context(), limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list trades failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list trades")
		return
	}

	out := make([]tradeResponse, 0, len(trades))
	for _, t := range trades {
		out = append(out, tradeResponse{
			ID:         t.ID,
			MarketID:   t.MarketID,
			Asset:      t.Asset,
			Action:     t.Action,
			Side:       string(t.Side),
			Size:       t.Size,
			EntryPrice: t.EntryPrice,
			ExitPrice:  t.ExitPrice,
			PnL:        t.PnL,
			Reason:     string(t.Reason),
			OpenedAt:   t.OpenedAt,
			ClosedAt:   t.ClosedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": out, "count": len(out)})
}
