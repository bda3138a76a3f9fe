package dsp

import (
	"errors"
	"math/cmplx"
)

// EqualizerParams configures a CMA equalizer.
type EqualizerParams struct {
	Length  int
	Rate    float64
	Modulus float64
}

// DefaultEqualizerParams returns the length and learning rate used by a
// freshly created inspector.
func DefaultEqualizerParams() EqualizerParams {
	return EqualizerParams{Length: 20, Rate: 1e-3, Modulus: 1}
}

// Equalizer is a constant-modulus adaptive FIR equalizer.
type Equalizer struct {
	p    EqualizerParams
	taps []complex128
	line []complex128
	pos  int
}

// NewEqualizer builds an equalizer whose centre tap starts at one.
func NewEqualizer(p EqualizerParams) (*Equalizer, error) {
	if p.Length < 1 {
		return nil, errors.New("equalizer: length must be at least one")
	}
	if p.Rate < 0 {
		return nil, errors.New("equalizer: negative learning rate")
	}
	if p.Modulus <= 0 {
		p.Modulus = 1
	}
	e := &Equalizer{
		p:    p,
		taps: make([]complex128, p.Length),
		line: make([]complex128, p.Length),
	}
	e.Reset()
	return e, nil
}

// Reset restores the initial taps and clears the delay line.
func (e *Equalizer) Reset() {
	for i := range e.taps {
		e.taps[i] = 0
		e.line[i] = 0
	}
	e.taps[len(e.taps)/2] = 1
	e.pos = 0
}

// SetRate changes the learning rate. A zero rate freezes the taps.
func (e *Equalizer) SetRate(rate float64) {
	if rate < 0 {
		rate = 0
	}
	e.p.Rate = rate
}

func (e *Equalizer) Rate() float64 { return e.p.Rate }

// Feed filters x and, unless frozen, adapts the taps toward constant modulus.
func (e *Equalizer) Feed(x complex128) complex128 {
	n := len(e.taps)
	e.line[e.pos] = x

	var y complex128
	idx := e.pos
	for k := 0; k < n; k++ {
		y += e.taps[k] * e.line[idx]
		idx--
		if idx < 0 {
			idx = n - 1
		}
	}

	if e.p.Rate != 0 {
		mag := real(y)*real(y) + imag(y)*imag(y)
		errv := y * complex(mag-e.p.Modulus, 0)
		mu := complex(e.p.Rate, 0)
		idx = e.pos
		for k := 0; k < n; k++ {
			e.taps[k] -= mu * errv * cmplx.Conj(e.line[idx])
			idx--
			if idx < 0 {
				idx = n - 1
			}
		}
	}

	e.pos++
	if e.pos == n {
		e.pos = 0
	}
	return y
}

// Coefficients returns a copy of the current taps.
func (e *Equalizer) Coefficients() []complex128 {
	out := make([]complex128, len(e.taps))
	copy(out, e.taps)
	return out
}
