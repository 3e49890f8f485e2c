package strategy

// MeanReversion fades stretched prices: when the smoothed UP price is above
// the upper bound it buys DOWN, when below the lower bound it buys UP.
type MeanReversion struct {
	policy ThresholdPolicy
	size   float64
}

// NewMeanReversion creates a MeanReversion strategy. size is the multiplier
// attached to every non-hold action.
func NewMeanReversion(policy ThresholdPolicy, size float64) *MeanReversion {
	return &MeanReversion{policy: policy, size: size}
}

// Name returns the strategy identifier.
func (mr *MeanReversion) Name() string { return "mean_reversion" }

// Act implements Strategy.
func (mr *MeanReversion) Act(s MarketState) Action {
	if !s.Ready {
		return HoldAction
	}
	lower, upper, ok := mr.policy.Bounds(s)
	if !ok {
		return HoldAction
	}
	switch {
	case s.Smoothed > upper:
		return Action{Direction: Sell, SizeMultiplier: mr.size}
	case s.Smoothed < lower:
		return Action{Direction: Buy, SizeMultiplier: mr.size}
	default:
		return HoldAction
	}
}

// Momentum follows stretched prices, the mirror image of MeanReversion.
type Momentum struct {
	policy ThresholdPolicy
	size   float64
}

// NewMomentum creates a Momentum strategy.
func NewMomentum(policy ThresholdPolicy, size float64) *Momentum {
	return &Momentum{policy: policy, size: size}
}

// Name returns the strategy identifier.
func (m *Momentum) Name() string { return "momentum" }

// Act implements Strategy.
func (m *Momentum) Act(s MarketState) Action {
	if !s.Ready {
		return HoldAction
	}
	lower, upper, ok := m.policy.Bounds(s)
	if !ok {
		return HoldAction
	}
	switch {
	case s.Smoothed > upper:
		return Action{Direction: Buy, SizeMultiplier: m.size}
	case s.Smoothed < lower:
		return Action{Direction: Sell, SizeMultiplier: m.size}
	default:
		return HoldAction
	}
}
