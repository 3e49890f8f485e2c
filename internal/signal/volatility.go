package signal

import (
	"math"
	"sync"
)

// VolatilitySource supplies a short-horizon volatility reading for a market
// given its latest mid-price. ok is false when no reading is available.
type VolatilitySource interface {
	Volatility(marketID string, mid float64) (float64, bool)
}

// StaticVolatility returns the same reading for every market.
type StaticVolatility float64

// Volatility implements VolatilitySource.
func (s StaticVolatility) Volatility(string, float64) (float64, bool) {
	return float64(s), s > 0
}

// ChangeVolatility uses the absolute tick-to-tick change of the mid-price as
// the volatility reading. The first observation of a market has none.
type ChangeVolatility struct {
	mu   sync.Mutex
	last map[string]float64
}

// NewChangeVolatility creates an empty ChangeVolatility.
func NewChangeVolatility() *ChangeVolatility {
	return &ChangeVolatility{last: make(map[string]float64)}
}

// Volatility implements VolatilitySource.
func (c *ChangeVolatility) Volatility(marketID string, mid float64) (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev, ok := c.last[marketID]
	c.last[marketID] = mid
	if !ok {
		return 0, false
	}
	return math.Abs(mid - prev), true
}

// Forget drops per-market state for markets not in keep.
func (c *ChangeVolatility) Forget(keep map[string]struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id := range c.last {
		if _, ok := keep[id]; !ok {
			delete(c.last, id)
		}
	}
}
