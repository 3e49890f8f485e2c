package strategy

import (
	"time"

	"github.com/alanyoungcy/polysniper/internal/domain"
)

// Direction is the side a strategy wants to be on.
type Direction int

const (
	// Hold keeps the current state.
	Hold Direction = iota
	// Buy favours the UP outcome.
	Buy
	// Sell favours the DOWN outcome.
	Sell
)

func (d Direction) String() string {
	switch d {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return "hold"
	}
}

// PositionSide returns the position a Direction opens.
func (d Direction) PositionSide() domain.PositionSide {
	switch d {
	case Buy:
		return domain.PositionLongUp
	case Sell:
		return domain.PositionLongDown
	default:
		return domain.PositionNone
	}
}

// Standard size multipliers.
const (
	SizeSmall  = 0.25
	SizeMedium = 0.5
	SizeLarge  = 1.0
)

// Action is a strategy decision.
type Action struct {
	Direction      Direction
	SizeMultiplier float64
}

// HoldAction is the zero decision.
var HoldAction = Action{}

// IsHold reports whether the action asks for nothing.
func (a Action) IsHold() bool { return a.Direction == Hold }

// SizeLabel maps the multiplier to the short label used in trade actions.
// Unknown multipliers are reported as MD.
func (a Action) SizeLabel() string {
	switch a.SizeMultiplier {
	case SizeSmall:
		return "SM"
	case SizeLarge:
		return "LG"
	default:
		return "MD"
	}
}

// MarketState is the per-tick view a Strategy decides on.
type MarketState struct {
	MarketID string
	Asset    string

	// Prob is the UP-token mid-price.
	Prob float64

	// Signal filter outputs. Smoothed, SlowMean and Volatility are only
	// meaningful when Ready is true.
	Ready      bool
	Smoothed   float64
	SlowMean   float64
	Volatility float64
	Velocity   float64

	TimeLeft time.Duration

	PositionSide domain.PositionSide
	PositionPnL  float64
}

// HasPosition reports whether the market currently holds exposure.
func (s MarketState) HasPosition() bool {
	return s.PositionSide != "" && s.PositionSide != domain.PositionNone
}

// Strategy maps a market state to an action. Implementations must be
// deterministic and free of side effects; the engine owns all state changes.
type Strategy interface {
	Name() string
	Act(state MarketState) Action
}
