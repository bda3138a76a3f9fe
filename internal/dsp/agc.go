package dsp

import (
	"errors"
	"math"
	"math/cmplx"
)

// AGCParams configures an AGC. Time constants are expressed in samples.
type AGCParams struct {
	DelayLineSize  int
	MagHistorySize int
	FastRiseT      float64
	FastFallT      float64
	SlowRiseT      float64
	SlowFallT      float64
	HangMax        int
	Target         float64
}

// AGCParamsForPeriod sizes an AGC for signals whose symbol period is tau samples.
func AGCParamsForPeriod(tau float64) AGCParams {
	if tau < 1 {
		tau = 1
	}
	return AGCParams{
		DelayLineSize:  int(math.Ceil(tau * 10)),
		MagHistorySize: int(math.Ceil(tau * 10)),
		FastRiseT:      tau * 2,
		FastFallT:      tau * 4,
		SlowRiseT:      tau * 20,
		SlowFallT:      tau * 40,
		HangMax:        int(math.Ceil(tau * 20)),
		Target:         1,
	}
}

// AGC normalizes signal amplitude using fast and slow peak followers over
// a magnitude history. Gain is applied to a delayed copy of the input so
// the gain reacts before a burst reaches the output.
type AGC struct {
	p AGCParams

	delay []complex128
	dpos  int

	mag    []float64
	mpos   int
	magSum float64

	fastRise, fastFall float64
	slowRise, slowFall float64
	fast, slow         float64
	hang               int
}

// NewAGC validates params and builds an AGC.
func NewAGC(p AGCParams) (*AGC, error) {
	if p.DelayLineSize < 1 || p.MagHistorySize < 1 {
		return nil, errors.New("agc: delay line and magnitude history must be at least one sample")
	}
	if p.FastRiseT <= 0 || p.FastFallT <= 0 || p.SlowRiseT <= 0 || p.SlowFallT <= 0 {
		return nil, errors.New("agc: time constants must be positive")
	}
	if p.Target <= 0 {
		p.Target = 1
	}
	return &AGC{
		p:        p,
		delay:    make([]complex128, p.DelayLineSize),
		mag:      make([]float64, p.MagHistorySize),
		fastRise: smoothing(p.FastRiseT),
		fastFall: smoothing(p.FastFallT),
		slowRise: smoothing(p.SlowRiseT),
		slowFall: smoothing(p.SlowFallT),
	}, nil
}

func smoothing(t float64) float64 { return 1 - math.Exp(-1/t) }

// Feed pushes one sample and returns the gain-corrected delayed sample.
func (a *AGC) Feed(x complex128) complex128 {
	m := cmplx.Abs(x)
	a.magSum += m - a.mag[a.mpos]
	a.mag[a.mpos] = m
	a.mpos = (a.mpos + 1) % len(a.mag)
	avg := a.magSum / float64(len(a.mag))
	if avg < 0 {
		avg = 0
	}

	if avg > a.fast {
		a.fast += (avg - a.fast) * a.fastRise
	} else {
		a.fast += (avg - a.fast) * a.fastFall
	}

	switch {
	case avg > a.slow:
		a.slow += (avg - a.slow) * a.slowRise
		a.hang = a.p.HangMax
	case a.hang > 0:
		a.hang--
	default:
		a.slow += (avg - a.slow) * a.slowFall
	}

	delayed := a.delay[a.dpos]
	a.delay[a.dpos] = x
	a.dpos = (a.dpos + 1) % len(a.delay)

	level := math.Max(a.fast, a.slow)
	if level < 1e-12 {
		return delayed
	}
	return delayed * complex(a.p.Target/level, 0)
}

// Gain returns the gain currently applied to the output.
func (a *AGC) Gain() float64 {
	level := math.Max(a.fast, a.slow)
	if level < 1e-12 {
		return 1
	}
	return a.p.Target / level
}
