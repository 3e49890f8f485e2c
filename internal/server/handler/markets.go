package handler

import (
	"net/http"
	"time"

	"github.com/alanyoungcy/polysniper/internal/domain"
)

// MarketSource lists the registered markets in insertion order.
type MarketSource interface {
	Markets() []domain.Market
}

type marketResponse struct {
	ID          string    `json:"id"`
	Asset       string    `json:"asset"`
	Question    string    `json:"question,omitempty"`
	Slug        string    `json:"slug,omitempty"`
	UpToken     string    `json:"up_token"`
	DownToken   string    `json:"down_token"`
	EndTime     time.Time `json:"end_time"`
	TimeLeftSec float64   `json:"time_left_sec"`
}

// MarketHandler serves GET /api/markets.
type MarketHandler struct {
	source MarketSource
	now    func() time.Time
}

// NewMarketHandler creates a MarketHandler.
func NewMarketHandler(source MarketSource) *MarketHandler {
	return &MarketHandler{source: source, now: time.Now}
}

// ListMarkets returns the registry contents with the time left on each.
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	markets := h.source.Markets()
	out := make([]marketResponse, 0, len(markets))
	for _, m := range markets {
		out = append(out, marketResponse{
			ID:          m.ID,
			Asset:       m.Asset,
			Question:    m.Question,
			Slug:        m.Slug,
			UpToken:     m.Token(domain.SideUp),
			DownToken:   m.Token(domain.SideDown),
			EndTime:     m.EndTime,
			TimeLeftSec: m.TimeLeft(now).Seconds(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"markets": out, "count": len(out)})
}
