package domain

import "time"

// ExitReason records why a position was closed.
type ExitReason string

const (
	ExitTakeProfit ExitReason = "take_profit"
	ExitStopLoss   ExitReason = "stop_loss"
	ExitMaxHold    ExitReason = "max_hold"
	ExitSignal     ExitReason = "signal"
	ExitExpired    ExitReason = "expired"
	ExitForced     ExitReason = "force_close"
)

// TradeEvent is what the engine forwards to the trade sink for every open
// and every realized close. PnL is nil for opens.
type TradeEvent struct {
	ID         string
	Action     string // e.g. "BUY_MD", "CLOSE UP", "FORCE CLOSE DOWN"
	MarketID   string
	Asset      string
	Side       PositionSide
	Size       float64
	EntryPrice float64
	ExitPrice  float64
	PnL        *float64
	Reason     ExitReason
	OpenedAt   time.Time
	Time       time.Time
}

// Closed reports whether the event realized P&L.
func (e TradeEvent) Closed() bool {
	return e.PnL != nil
}

// Trade is a closed round trip as stored in the trade journal.
type Trade struct {
	ID         string
	MarketID   string
	Asset      string
	Action     string
	Side       PositionSide
	Size       float64
	EntryPrice float64
	ExitPrice  float64
	PnL        float64
	Reason     ExitReason
	OpenedAt   time.Time
	ClosedAt   time.Time
}

// TradeFromEvent converts a closing TradeEvent into a journal row. ok is
// false for opening events.
func TradeFromEvent(e TradeEvent) (Trade, bool) {
	if !e.Closed() {
		return Trade{}, false
	}
	return Trade{
		ID:         e.ID,
		MarketID:   e.MarketID,
		Asset:      e.Asset,
		Action:     e.Action,
		Side:       e.Side,
		Size:       e.Size,
		EntryPrice: e.EntryPrice,
		ExitPrice:  e.ExitPrice,
		PnL:        *e.PnL,
		Reason:     e.Reason,
		OpenedAt:   e.OpenedAt,
		ClosedAt:   e.Time,
	}, true
}
