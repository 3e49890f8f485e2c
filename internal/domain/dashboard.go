package domain

import "time"

// MarketView is the dashboard view of one tradable market.
type MarketView struct {
	MarketID string
	Asset    string
	Prob     float64
	TimeLeft time.Duration
	Velocity float64
}

// PositionView is the dashboard view of one open position.
type PositionView struct {
	MarketID      string
	Asset         string
	Side          PositionSide
	Size          float64
	EntryPrice    float64
	UnrealizedPnL float64
}

// DashboardState is the consolidated snapshot pushed to the dashboard sink
// after every tick and every realized trade.
type DashboardState struct {
	Strategy   string
	TotalPnL   float64
	TradeCount int
	WinCount   int
	Positions  []PositionView
	Markets    []MarketView
	At         time.Time
}
