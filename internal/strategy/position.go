package strategy

import (
	"time"

	"github.com/alanyoungcy/polysniper/internal/domain"
)

// MachineConfig holds the execution model shared by every market.
type MachineConfig struct {
	// EntryFee and ExitFee are multiplicative execution costs: entries pay
	// price*(1+EntryFee), exits receive price*(1-ExitFee).
	EntryFee float64
	ExitFee  float64

	// TakeProfitK and StopLossK scale the average volatility into the
	// distance of the exit levels from the entry price.
	TakeProfitK float64
	StopLossK   float64

	// MaxHold closes a position after this long. Zero disables it.
	MaxHold time.Duration
	// Cooldown blocks new entries on a market after an exit.
	Cooldown time.Duration
	// MinHold is the minimum age before an opposite strategy action may
	// close a position. Level and max-hold exits ignore it.
	MinHold time.Duration

	// TradeSize is the notional of a size-1.0 action.
	TradeSize float64
}

// DefaultMachineConfig returns the paper-trading execution model.
func DefaultMachineConfig() MachineConfig {
	return MachineConfig{
		EntryFee:    0.01,
		ExitFee:     0.01,
		TakeProfitK: 1.3,
		StopLossK:   2.0,
		MaxHold:     5 * time.Minute,
		Cooldown:    30 * time.Second,
		MinHold:     30 * time.Second,
		TradeSize:   10,
	}
}

// Quote is the latest observable price of each outcome.
type Quote struct {
	Up      float64
	Down    float64
	HasDown bool
}

// Value returns the price of the outcome held by side. Without a DOWN book
// the DOWN value is the complement of the UP price.
func (q Quote) Value(side domain.PositionSide) float64 {
	if side == domain.PositionLongDown {
		if q.HasDown {
			return q.Down
		}
		return 1 - q.Up
	}
	return q.Up
}

// Fill is the result of a state transition.
type Fill struct {
	Action     string
	Side       domain.PositionSide
	Size       float64
	EntryPrice float64
	ExitPrice  float64
	PnL        float64
	Closed     bool
	Reason     domain.ExitReason
	OpenedAt   time.Time
	At         time.Time
}

// Win reports whether a closing fill realized a profit.
func (f Fill) Win() bool { return f.Closed && f.PnL > 0 }

// PositionMachine is the FLAT/OPEN state machine of one market. It is not
// safe for concurrent use.
type PositionMachine struct {
	cfg           MachineConfig
	pos           domain.Position
	cooldownUntil time.Time
}

// NewPositionMachine creates a flat machine for a market.
func NewPositionMachine(cfg MachineConfig, marketID, asset string) *PositionMachine {
	return &PositionMachine{
		cfg: cfg,
		pos: domain.Position{MarketID: marketID, Asset: asset, Side: domain.PositionNone},
	}
}

// Position returns a copy of the current position.
func (m *PositionMachine) Position() domain.Position { return m.pos }

// IsOpen reports whether the machine is OPEN.
func (m *PositionMachine) IsOpen() bool { return m.pos.IsOpen() }

// InCooldown reports whether entries are blocked at now.
func (m *PositionMachine) InCooldown(now time.Time) bool {
	return now.Before(m.cooldownUntil)
}

// TryEnter opens a position for act when the machine is FLAT, out of
// cooldown and ready. vol is the average volatility used to place the
// take-profit and stop-loss levels.
func (m *PositionMachine) TryEnter(act Action, q Quote, vol float64, ready bool, now time.Time) (Fill, bool) {
	if m.pos.IsOpen() || act.IsHold() || !ready || m.InCooldown(now) {
		return Fill{}, false
	}
	if act.SizeMultiplier <= 0 {
		return Fill{}, false
	}

	side := act.Direction.PositionSide()
	raw := q.Value(side)
	if raw <= 0 || raw >= 1 {
		return Fill{}, false
	}

	entry := raw * (1 + m.cfg.EntryFee)
	m.pos = domain.Position{
		MarketID:   m.pos.MarketID,
		Asset:      m.pos.Asset,
		Side:       side,
		Size:       m.cfg.TradeSize * act.SizeMultiplier,
		EntryPrice: entry,
		EntryTime:  now,
		EntryProb:  q.Up,
		TakeProfit: entry + m.cfg.TakeProfitK*vol,
		StopLoss:   entry - m.cfg.StopLossK*vol,
	}

	prefix := "BUY_"
	if act.Direction == Sell {
		prefix = "SELL_"
	}
	return Fill{
		Action:     prefix + act.SizeLabel(),
		Side:       side,
		Size:       m.pos.Size,
		EntryPrice: entry,
		OpenedAt:   now,
		At:         now,
	}, true
}

// CheckExit closes an OPEN position on the first satisfied condition among
// take-profit, stop-loss and max-hold, evaluated in that order against the
// value of the held outcome.
func (m *PositionMachine) CheckExit(q Quote, now time.Time) (Fill, bool) {
	if !m.pos.IsOpen() {
		return Fill{}, false
	}
	value := q.Value(m.pos.Side)

	switch {
	case value >= m.pos.TakeProfit:
		return m.close(value, domain.ExitTakeProfit, "CLOSE ", now), true
	case value <= m.pos.StopLoss:
		return m.close(value, domain.ExitStopLoss, "CLOSE ", now), true
	case m.cfg.MaxHold > 0 && now.Sub(m.pos.EntryTime) >= m.cfg.MaxHold:
		return m.close(value, domain.ExitMaxHold, "CLOSE ", now), true
	}
	return Fill{}, false
}

// CloseOnSignal closes an OPEN position when act points the other way and
// the position is at least MinHold old.
func (m *PositionMachine) CloseOnSignal(act Action, q Quote, now time.Time) (Fill, bool) {
	if !m.pos.IsOpen() || act.IsHold() {
		return Fill{}, false
	}
	if now.Sub(m.pos.EntryTime) < m.cfg.MinHold {
		return Fill{}, false
	}
	if act.Direction.PositionSide() == m.pos.Side {
		return Fill{}, false
	}
	return m.close(q.Value(m.pos.Side), domain.ExitSignal, "CLOSE ", now), true
}

// ForceClose closes an OPEN position unconditionally. Shutdown closes are
// labelled FORCE CLOSE; any other reason is a plain CLOSE.
func (m *PositionMachine) ForceClose(q Quote, reason domain.ExitReason, now time.Time) (Fill, bool) {
	if !m.pos.IsOpen() {
		return Fill{}, false
	}
	prefix := "CLOSE "
	if reason == domain.ExitForced {
		prefix = "FORCE CLOSE "
	}
	return m.close(q.Value(m.pos.Side), reason, prefix, now), true
}

func (m *PositionMachine) close(value float64, reason domain.ExitReason, prefix string, now time.Time) Fill {
	exit := value * (1 - m.cfg.ExitFee)
	pos := m.pos

	f := Fill{
		Action:     prefix + pos.Side.Label(),
		Side:       pos.Side,
		Size:       pos.Size,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  exit,
		PnL:        (exit - pos.EntryPrice) * pos.Size / pos.EntryPrice,
		Closed:     true,
		Reason:     reason,
		OpenedAt:   pos.EntryTime,
		At:         now,
	}

	m.pos.Flatten()
	m.cooldownUntil = now.Add(m.cfg.Cooldown)
	return f
}
