package signal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{SmoothingWindow: 3, VolatilityWindow: 4, MinObservations: 3, VolatilityFloor: 0.001}
}

func TestFilter_ColdBuffersAreUndefined(t *testing.T) {
	f := NewFilter(testConfig())
	f.Observe(0.5, 0.01, true)
	f.Observe(0.6, 0.01, true)

	_, ok := f.Smoothed()
	assert.False(t, ok)
	_, ok = f.AvgVolatility()
	assert.False(t, ok)
	assert.False(t, f.Ready())

	f.Observe(0.7, 0.01, true)
	s, ok := f.Smoothed()
	require.True(t, ok)
	assert.InDelta(t, 0.6, s, 1e-9)
}

func TestFilter_SlidingWindowEvictsOldest(t *testing.T) {
	f := NewFilter(testConfig())
	for _, p := range []float64{0.1, 0.2, 0.3, 0.4, 0.5} {
		f.Observe(p, 0.01, true)
	}

	assert.Equal(t, 3, f.Len())
	s, _ := f.Smoothed()
	assert.InDelta(t, 0.4, s, 1e-9)

	slow, _ := f.SlowMean()
	assert.InDelta(t, 0.35, slow, 1e-9)

	assert.InDelta(t, 0.2, f.Velocity(), 1e-9)
	last, _ := f.Last()
	assert.Equal(t, 0.5, last)
}

func TestFilter_VolatilityFloor(t *testing.T) {
	f := NewFilter(testConfig())
	f.Observe(0.5, 0, false)
	f.Observe(0.5, 0.0001, true)
	f.Observe(0.5, 0.004, true)

	v, ok := f.AvgVolatility()
	require.True(t, ok)
	assert.InDelta(t, (0.001+0.001+0.004)/3, v, 1e-12)
}

func TestFilter_ResetSmoothing(t *testing.T) {
	f := NewFilter(testConfig())
	for i := 0; i < 4; i++ {
		f.Observe(0.5, 0.01, true)
	}
	f.ResetSmoothing()

	assert.Zero(t, f.Len())
	assert.False(t, f.Ready())
	assert.Zero(t, f.Velocity())
}

func TestChangeVolatility(t *testing.T) {
	c := NewChangeVolatility()

	_, ok := c.Volatility("m", 0.50)
	assert.False(t, ok)

	v, ok := c.Volatility("m", 0.53)
	assert.True(t, ok)
	assert.InDelta(t, 0.03, v, 1e-12)

	c.Forget(map[string]struct{}{})
	_, ok = c.Volatility("m", 0.53)
	assert.False(t, ok)
}

func TestStaticVolatility(t *testing.T) {
	v, ok := StaticVolatility(0.004).Volatility("any", 0.5)
	assert.True(t, ok)
	assert.Equal(t, 0.004, v)

	_, ok = StaticVolatility(0).Volatility("any", 0.5)
	assert.False(t, ok)
}
