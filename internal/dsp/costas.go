package dsp

import (
	"fmt"
	"math"
	"math/cmplx"
)

const costasDamping = math.Sqrt2 / 2

// Costas is a carrier-phase tracking loop for M-PSK of order 2, 4 or 8.
// Bandwidths are normalized to the sample rate (cycles/sample).
type Costas struct {
	order int

	phase float64 // NCO phase, radians
	freq  float64 // NCO free-running frequency, rad/sample

	armAlpha float64
	z        complex128

	alpha, beta float64
	loopBW      float64
	lock        float64
}

// NewCostas builds a Costas loop. fhint is the initial frequency in
// rad/sample, armBW the arm filter bandwidth and loopBW the loop noise
// bandwidth.
func NewCostas(order int, fhint, armBW, loopBW float64) (*Costas, error) {
	switch order {
	case 2, 4, 8:
	default:
		return nil, fmt.Errorf("costas: unsupported order %d", order)
	}
	if loopBW <= 0 || loopBW >= 0.5 {
		return nil, fmt.Errorf("costas: loop bandwidth %g out of range", loopBW)
	}
	c := &Costas{order: order, freq: fhint}
	c.setArmBandwidth(armBW)
	c.SetLoopBandwidth(loopBW)
	return c, nil
}

func (c *Costas) setArmBandwidth(bw float64) {
	if bw <= 0 || bw >= 0.5 {
		c.armAlpha = 1
		return
	}
	c.armAlpha = 1 - math.Exp(-2*math.Pi*bw)
}

// SetLoopBandwidth recomputes the proportional and integral gains of the
// second-order loop filter.
func (c *Costas) SetLoopBandwidth(bw float64) {
	if bw <= 0 {
		return
	}
	c.loopBW = bw
	theta := bw / (costasDamping + 1/(4*costasDamping))
	d := 1 + 2*costasDamping*theta + theta*theta
	c.alpha = 4 * costasDamping * theta / d
	c.beta = 4 * theta * theta / d
}

// Feed de-rotates x by the loop's local carrier, updates the loop and
// returns the corrected sample.
func (c *Costas) Feed(x complex128) complex128 {
	rot := x * complex(math.Cos(-c.phase), math.Sin(-c.phase))
	c.z += complex(c.armAlpha, 0) * (rot - c.z)

	e := c.detect(c.z)
	c.lock += 0.001 * (math.Cos(float64(c.order)*cmplx.Phase(c.z)-c.lockRef()) - c.lock)

	c.freq += c.beta * e
	c.phase = wrapPhase(c.phase + c.freq + c.alpha*e)
	return c.z
}

func (c *Costas) detect(z complex128) float64 {
	m := cmplx.Abs(z)
	if m < 1e-12 {
		return 0
	}
	re, im := real(z)/m, imag(z)/m
	switch c.order {
	case 2:
		return -re * im
	case 4:
		return sign(re)*im - sign(im)*re
	default:
		const k = math.Sqrt2 - 1
		if math.Abs(re) >= math.Abs(im) {
			return sign(re)*im - k*sign(im)*re
		}
		return k*sign(re)*im - sign(im)*re
	}
}

// SetFrequency forces the loop's free-running frequency (rad/sample).
func (c *Costas) SetFrequency(freq float64) { c.freq = freq }

func (c *Costas) Frequency() float64     { return c.freq }
func (c *Costas) Phase() float64         { return c.phase }
func (c *Costas) Order() int             { return c.order }
func (c *Costas) LoopBandwidth() float64 { return c.loopBW }

// Lock is a smoothed lock indicator in [-1, 1]; values near 1 mean locked.
func (c *Costas) Lock() float64 { return c.lock }

// lockRef is the value of order*arg at the constellation points the
// detector settles on. Every order locks onto odd multiples of pi/order,
// the centres of the decision sectors.
func (c *Costas) lockRef() float64 { return math.Pi }

func sign(v float64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}
