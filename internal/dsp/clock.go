package dsp

import (
	"fmt"
	"math"
	"math/cmplx"
)

const clockQueueSize = 8

// ClockDetector recovers symbol timing with a Gardner timing-error
// detector. Baud is normalized to the sample rate (symbols per sample).
// A zero baud disables symbol output.
type ClockDetector struct {
	bnor        float64
	period      float64
	alpha, beta float64

	phase    float64 // samples elapsed since the last strobe
	prev     complex128
	mid      complex128
	midTaken bool
	last     complex128
	lastErr  float64

	queue [clockQueueSize]complex128
	head  int
	count int
}

// NewClockDetector builds a detector seeded with a nominal normalized baud.
func NewClockDetector(bnor, alpha, beta float64) (*ClockDetector, error) {
	if bnor < 0 || bnor > 1 || math.IsNaN(bnor) {
		return nil, fmt.Errorf("clock: normalized baud %g out of range", bnor)
	}
	c := &ClockDetector{}
	c.SetBaud(bnor)
	c.SetGains(alpha, beta)
	return c, nil
}

// SetBaud changes the nominal normalized baud.
func (c *ClockDetector) SetBaud(bnor float64) {
	if bnor <= 0 || bnor > 1 || math.IsNaN(bnor) {
		c.bnor, c.period = 0, 0
		return
	}
	c.bnor = bnor
	c.period = 1 / bnor
	if c.phase >= c.period {
		c.phase = math.Mod(c.phase, c.period)
	}
}

// SetGains changes the phase (alpha) and rate (beta) loop gains. Alpha is
// the strobe correction per unit error as a fraction of a symbol period;
// beta is the relative baud correction per unit error.
func (c *ClockDetector) SetGains(alpha, beta float64) {
	c.alpha, c.beta = alpha, beta
}

func (c *ClockDetector) Baud() float64  { return c.bnor }
func (c *ClockDetector) Error() float64 { return c.lastErr }

// interp returns the linear interpolation at elapsed time t, knowing that
// prev sits at c.phase-1 and x at c.phase.
func (c *ClockDetector) interp(x complex128, t float64) complex128 {
	mu := t - (c.phase - 1)
	if mu < 0 {
		mu = 0
	} else if mu > 1 {
		mu = 1
	}
	return c.prev + complex(mu, 0)*(x-c.prev)
}

// Feed pushes one sample. Recovered symbols become available through Read.
func (c *ClockDetector) Feed(x complex128) {
	if c.period <= 0 {
		c.prev = x
		return
	}
	c.phase++

	if !c.midTaken && c.phase >= c.period/2 {
		c.mid = c.interp(x, c.period/2)
		c.midTaken = true
	}

	if c.phase >= c.period {
		sym := c.interp(x, c.period)
		e := real((sym - c.last) * cmplx.Conj(c.mid))
		if e > 1 {
			e = 1
		} else if e < -1 {
			e = -1
		}
		c.lastErr = e
		c.last = sym
		c.midTaken = false

		c.phase -= c.period
		c.phase += c.alpha * e * c.period
		if c.beta != 0 {
			bnor := c.bnor + c.beta*e*c.bnor
			if bnor > 0 && bnor <= 1 {
				c.bnor = bnor
				c.period = 1 / bnor
			}
		}
		if c.phase < 0 {
			c.phase = 0
		}
		c.push(sym)
	}
	c.prev = x
}

func (c *ClockDetector) push(v complex128) {
	if c.count == clockQueueSize {
		c.head = (c.head + 1) % clockQueueSize
		c.count--
	}
	c.queue[(c.head+c.count)%clockQueueSize] = v
	c.count++
}

// Read pops the oldest recovered symbol, if any.
func (c *ClockDetector) Read() (complex128, bool) {
	if c.count == 0 {
		return 0, false
	}
	v := c.queue[c.head]
	c.head = (c.head + 1) % clockQueueSize
	c.count--
	return v, true
}
