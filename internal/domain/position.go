package domain

import "time"

// PositionSide is the direction of a paper position.
type PositionSide string

const (
	PositionNone     PositionSide = "NONE"
	PositionLongUp   PositionSide = "LONG_UP"
	PositionLongDown PositionSide = "LONG_DOWN"
)

// Outcome returns the outcome token held by the position side.
func (p PositionSide) Outcome() Side {
	if p == PositionLongDown {
		return SideDown
	}
	return SideUp
}

// Label returns the short side label used in trade actions ("UP" / "DOWN").
func (p PositionSide) Label() string {
	if p == PositionNone {
		return ""
	}
	return string(p.Outcome())
}

// Position is the single paper position a market may hold. Size > 0 exactly
// when Side != PositionNone; the price fields are meaningless while flat.
type Position struct {
	MarketID   string
	Asset      string
	Side       PositionSide
	Size       float64 // notional
	EntryPrice float64 // post-fee
	EntryTime  time.Time
	EntryProb  float64 // raw side price at entry
	TakeProfit float64
	StopLoss   float64
}

// IsOpen reports whether the position currently holds exposure.
func (p Position) IsOpen() bool {
	return p.Side != PositionNone && p.Size > 0
}

// PnLAt returns the P&L of the position if it were valued at price, computed
// on a shares-equivalent basis: (price - entry) * size / entry.
func (p Position) PnLAt(price float64) float64 {
	if !p.IsOpen() || p.EntryPrice <= 0 {
		return 0
	}
	return (price - p.EntryPrice) * p.Size / p.EntryPrice
}

// Flatten resets the position to flat, keeping its identity.
func (p *Position) Flatten() {
	*p = Position{MarketID: p.MarketID, Asset: p.Asset, Side: PositionNone}
}
