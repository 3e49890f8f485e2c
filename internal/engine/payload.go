package engine

import (
	"github.com/alanyoungcy/polysniper/internal/domain"
)

// PayloadVersion is bumped whenever the wire shape of the dashboard or
// trade payloads changes.
const PayloadVersion = 1

// DashboardPayload is the JSON form of a DashboardState.
type DashboardPayload struct {
	Version    int                        `json:"version"`
	Strategy   string                     `json:"strategy"`
	TotalPnL   float64                    `json:"total_pnl"`
	TradeCount int                        `json:"trade_count"`
	WinCount   int                        `json:"win_count"`
	Markets    map[string]MarketPayload   `json:"markets"`
	Positions  map[string]PositionPayload `json:"positions"`
	Timestamp  int64                      `json:"timestamp"`
}

// MarketPayload is one entry of DashboardPayload.Markets.
type MarketPayload struct {
	Asset       string  `json:"asset"`
	Prob        float64 `json:"prob"`
	TimeLeftMin float64 `json:"time_left_min"`
	Velocity    float64 `json:"velocity"`
}

// PositionPayload is one entry of DashboardPayload.Positions.
type PositionPayload struct {
	Side          string  `json:"side"`
	Size          float64 `json:"size"`
	EntryPrice    float64 `json:"entry_price"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
}

// NewDashboardPayload maps a DashboardState onto its wire form. Position
// sides are reported as UP or DOWN.
func NewDashboardPayload(st domain.DashboardState) DashboardPayload {
	p := DashboardPayload{
		Version:    PayloadVersion,
		Strategy:   st.Strategy,
		TotalPnL:   st.TotalPnL,
		TradeCount: st.TradeCount,
		WinCount:   st.WinCount,
		Markets:    make(map[string]MarketPayload, len(st.Markets)),
		Positions:  make(map[string]PositionPayload, len(st.Positions)),
		Timestamp:  st.At.Unix(),
	}
	for _, m := range st.Markets {
		p.Markets[m.MarketID] = MarketPayload{
			Asset:       m.Asset,
			Prob:        m.Prob,
			TimeLeftMin: m.TimeLeft.Minutes(),
			Velocity:    m.Velocity,
		}
	}
	for _, pos := range st.Positions {
		p.Positions[pos.MarketID] = PositionPayload{
			Side:          pos.Side.Label(),
			Size:          pos.Size,
			EntryPrice:    pos.EntryPrice,
			UnrealizedPnL: pos.UnrealizedPnL,
		}
	}
	return p
}

// TradePayload is the JSON form of a TradeEvent: (action, asset, size, pnl)
// plus identifying context. PnL is null for opens.
type TradePayload struct {
	Version   int      `json:"version"`
	ID        string   `json:"id"`
	Action    string   `json:"action"`
	Asset     string   `json:"asset"`
	MarketID  string   `json:"market_id"`
	Size      float64  `json:"size"`
	PnL       *float64 `json:"pnl"`
	Reason    string   `json:"reason,omitempty"`
	Timestamp int64    `json:"timestamp"`
}

// NewTradePayload maps a TradeEvent onto its wire form.
func NewTradePayload(ev domain.TradeEvent) TradePayload {
	return TradePayload{
		Version:   PayloadVersion,
		ID:        ev.ID,
		Action:    ev.Action,
		Asset:     ev.Asset,
		MarketID:  ev.MarketID,
		Size:      ev.Size,
		PnL:       ev.PnL,
		Reason:    string(ev.Reason),
		Timestamp: ev.Time.Unix(),
	}
}
