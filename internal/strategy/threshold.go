package strategy

// ThresholdPolicy supplies the entry band for a market. ok is false when
// the policy cannot produce bounds for the given state yet.
type ThresholdPolicy interface {
	Bounds(state MarketState) (lower, upper float64, ok bool)
}

// FixedThreshold is a constant band.
type FixedThreshold struct {
	Lower float64
	Upper float64
}

// Bounds implements ThresholdPolicy.
func (f FixedThreshold) Bounds(MarketState) (float64, float64, bool) {
	return f.Lower, f.Upper, true
}

// RelativeThreshold places the band Offset either side of the slow mean.
// The upper bound is clamped to [Min, Max] and the lower bound to the
// mirrored range [1-Max, 1-Min], so the band can never collapse onto the
// middle of the probability range or drift to the edges.
type RelativeThreshold struct {
	Offset float64
	Min    float64
	Max    float64
}

// Bounds implements ThresholdPolicy.
func (r RelativeThreshold) Bounds(state MarketState) (float64, float64, bool) {
	if !state.Ready {
		return 0, 0, false
	}
	upper := clamp(state.SlowMean+r.Offset, r.Min, r.Max)
	lower := clamp(state.SlowMean-r.Offset, 1-r.Max, 1-r.Min)
	return lower, upper, true
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
