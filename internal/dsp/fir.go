package dsp

import (
	"errors"
	"fmt"
	"math"
)

// MaxMatchedFilterSpan caps the matched filter length in taps to bound
// memory and latency.
const MaxMatchedFilterSpan = 1024

// ErrInvalidFilter reports filter design parameters that cannot produce taps.
var ErrInvalidFilter = errors.New("dsp: invalid filter parameters")

// ClampMatchedFilterSpan applies the span cap. It reports whether the span
// was truncated. Spans below one tap become one tap.
func ClampMatchedFilterSpan(span int) (int, bool) {
	if span < 1 {
		return 1, false
	}
	if span > MaxMatchedFilterSpan {
		return MaxMatchedFilterSpan, true
	}
	return span, false
}

// MatchedFilterSpan returns the unclamped tap count covering the given
// number of symbols at period samples per symbol.
func MatchedFilterSpan(period, symbols float64) int {
	if period <= 0 || math.IsNaN(period) || math.IsInf(period, 0) {
		return 1
	}
	return int(math.Ceil(period * symbols))
}

// RRCTaps designs a root-raised-cosine filter of n taps for a symbol period
// of period samples and roll-off beta. Taps are normalized to unit DC gain.
func RRCTaps(n int, period, beta float64) ([]float64, error) {
	if n < 1 {
		return nil, fmt.Errorf("%w: %d taps", ErrInvalidFilter, n)
	}
	if !(period > 0) || math.IsInf(period, 0) {
		return nil, fmt.Errorf("%w: period %g", ErrInvalidFilter, period)
	}
	if !(beta >= 0 && beta <= 1) {
		return nil, fmt.Errorf("%w: roll-off %g", ErrInvalidFilter, beta)
	}

	taps := make([]float64, n)
	sum := 0.0
	center := float64(n-1) / 2
	for i := range taps {
		t := (float64(i) - center) / period
		taps[i] = rrc(t, beta)
		sum += taps[i]
	}
	if math.Abs(sum) < 1e-12 || math.IsNaN(sum) {
		return nil, fmt.Errorf("%w: degenerate tap sum", ErrInvalidFilter)
	}
	for i := range taps {
		taps[i] /= sum
	}
	return taps, nil
}

// rrc evaluates the root-raised-cosine impulse response at t symbols.
func rrc(t, beta float64) float64 {
	if t == 0 {
		return 1 - beta + 4*beta/math.Pi
	}
	if beta > 0 && math.Abs(math.Abs(4*beta*t)-1) < 1e-9 {
		return beta / math.Sqrt2 * ((1+2/math.Pi)*math.Sin(math.Pi/(4*beta)) +
			(1-2/math.Pi)*math.Cos(math.Pi/(4*beta)))
	}
	num := math.Sin(math.Pi*t*(1-beta)) + 4*beta*t*math.Cos(math.Pi*t*(1+beta))
	den := math.Pi * t * (1 - (4*beta*t)*(4*beta*t))
	return num / den
}

// FIR is a complex-input, real-tap FIR filter.
type FIR struct {
	taps []float64
	line []complex128
	pos  int
}

// NewFIR builds a filter owning a copy of taps.
func NewFIR(taps []float64) *FIR {
	t := make([]float64, len(taps))
	copy(t, taps)
	return &FIR{taps: t, line: make([]complex128, len(t))}
}

// NewRRC designs and builds a root-raised-cosine matched filter.
func NewRRC(n int, period, beta float64) (*FIR, error) {
	taps, err := RRCTaps(n, period, beta)
	if err != nil {
		return nil, err
	}
	return NewFIR(taps), nil
}

// Feed pushes x through the filter and returns the output sample.
func (f *FIR) Feed(x complex128) complex128 {
	n := len(f.taps)
	if n == 0 {
		return x
	}
	f.line[f.pos] = x
	var acc complex128
	idx := f.pos
	for _, tap := range f.taps {
		acc += complex(tap, 0) * f.line[idx]
		idx--
		if idx < 0 {
			idx = n - 1
		}
	}
	f.pos++
	if f.pos == n {
		f.pos = 0
	}
	return acc
}

// Len returns the number of taps.
func (f *FIR) Len() int { return len(f.taps) }

// Taps returns a copy of the filter taps.
func (f *FIR) Taps() []float64 {
	out := make([]float64, len(f.taps))
	copy(out, f.taps)
	return out
}
