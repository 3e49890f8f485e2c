// Package signal turns a raw mid-price stream into a smoothed signal and a
// volatility proxy over bounded sliding windows.
package signal

import (
	"github.com/markcheno/go-talib"
)

// Config sizes the filter windows.
type Config struct {
	// SmoothingWindow is K, the number of mid-prices averaged into the
	// smoothed signal.
	SmoothingWindow int
	// VolatilityWindow is M, the number of volatility observations averaged
	// into AvgVolatility. The slow mean uses a price window of the same length.
	VolatilityWindow int
	// MinObservations is how many ticks must be seen before any derived
	// value is defined.
	MinObservations int
	// VolatilityFloor replaces missing or non-positive volatility readings.
	VolatilityFloor float64
}

// DefaultConfig returns the windows used in paper trading.
func DefaultConfig() Config {
	return Config{
		SmoothingWindow:  8,
		VolatilityWindow: 25,
		MinObservations:  5,
		VolatilityFloor:  0.001,
	}
}

// Filter holds the signal buffers of one market. It is not safe for
// concurrent use; the engine owns one per market.
type Filter struct {
	cfg    Config
	prices *window // smoothing window, length K
	slow   *window // slow price window, length M
	vols   *window // volatility window, length M
}

// NewFilter creates an empty Filter.
func NewFilter(cfg Config) *Filter {
	if cfg.SmoothingWindow <= 0 {
		cfg.SmoothingWindow = 1
	}
	if cfg.VolatilityWindow <= 0 {
		cfg.VolatilityWindow = 1
	}
	return &Filter{
		cfg:    cfg,
		prices: newWindow(cfg.SmoothingWindow),
		slow:   newWindow(cfg.VolatilityWindow),
		vols:   newWindow(cfg.VolatilityWindow),
	}
}

// Observe appends one tick. vol is the external volatility reading; when ok
// is false or the reading is below the floor, the floor is used instead.
func (f *Filter) Observe(price, vol float64, ok bool) {
	if !ok || vol < f.cfg.VolatilityFloor {
		vol = f.cfg.VolatilityFloor
	}
	f.prices.push(price)
	f.slow.push(price)
	f.vols.push(vol)
}

// Len returns the number of observations currently in the smoothing window.
func (f *Filter) Len() int { return f.prices.len() }

// Ready reports whether enough observations have accumulated for decisions.
func (f *Filter) Ready() bool {
	return f.prices.len() >= f.cfg.MinObservations && f.vols.len() >= f.cfg.MinObservations
}

// Smoothed returns the mean of the smoothing window.
func (f *Filter) Smoothed() (float64, bool) {
	if !f.Ready() {
		return 0, false
	}
	return f.prices.mean(), true
}

// AvgVolatility returns the mean of the volatility window.
func (f *Filter) AvgVolatility() (float64, bool) {
	if !f.Ready() {
		return 0, false
	}
	return f.vols.mean(), true
}

// SlowMean returns the mean of the longer price window.
func (f *Filter) SlowMean() (float64, bool) {
	if !f.Ready() {
		return 0, false
	}
	return f.slow.mean(), true
}

// Last returns the most recent price.
func (f *Filter) Last() (float64, bool) {
	return f.prices.last()
}

// Velocity is the newest minus the oldest price in the smoothing window.
func (f *Filter) Velocity() float64 {
	first, ok := f.prices.first()
	if !ok {
		return 0
	}
	last, _ := f.prices.last()
	return last - first
}

// ResetSmoothing clears the smoothing window. The slow and volatility
// windows are kept, so the filter is cold again until K ticks refill it.
func (f *Filter) ResetSmoothing() {
	f.prices.reset()
}

// window is a bounded FIFO; pushing onto a full window evicts the oldest
// value.
type window struct {
	size int
	buf  []float64
}

func newWindow(size int) *window {
	return &window{size: size, buf: make([]float64, 0, size)}
}

func (w *window) push(v float64) {
	if len(w.buf) == w.size {
		copy(w.buf, w.buf[1:])
		w.buf = w.buf[:w.size-1]
	}
	w.buf = append(w.buf, v)
}

func (w *window) len() int { return len(w.buf) }

func (w *window) mean() float64 {
	n := len(w.buf)
	if n == 0 {
		return 0
	}
	sma := talib.Sma(w.buf, n)
	return sma[n-1]
}

func (w *window) first() (float64, bool) {
	if len(w.buf) == 0 {
		return 0, false
	}
	return w.buf[0], true
}

func (w *window) last() (float64, bool) {
	if len(w.buf) == 0 {
		return 0, false
	}
	return w.buf[len(w.buf)-1], true
}

func (w *window) reset() { w.buf = w.buf[:0] }
