package dsp

import "math"

// Oscillator is a numerically controlled local oscillator.
type Oscillator struct {
	phase float64 // radians
	freq  float64 // radians per sample
}

// NewOscillator creates an oscillator at freq rad/sample with an initial phase.
func NewOscillator(freq, phase float64) *Oscillator {
	return &Oscillator{freq: freq, phase: wrapPhase(phase)}
}

// Read returns exp(j*phase) and advances the phase by one sample.
func (o *Oscillator) Read() complex128 {
	v := complex(math.Cos(o.phase), math.Sin(o.phase))
	o.phase = wrapPhase(o.phase + o.freq)
	return v
}

func (o *Oscillator) SetFrequency(freq float64) { o.freq = freq }
func (o *Oscillator) Frequency() float64       { return o.freq }
func (o *Oscillator) SetPhase(phase float64)    { o.phase = wrapPhase(phase) }
func (o *Oscillator) Phase() float64            { return o.phase }

// HzToAngular converts a frequency in Hz to radians per sample.
func HzToAngular(hz, sampleRate float64) float64 {
	if sampleRate <= 0 {
		return 0
	}
	return 2 * math.Pi * hz / sampleRate
}

// wrapPhase folds a phase into [-pi, pi).
func wrapPhase(p float64) float64 {
	if p >= -math.Pi && p < math.Pi {
		return p
	}
	p = math.Mod(p+math.Pi, 2*math.Pi)
	if p < 0 {
		p += 2 * math.Pi
	}
	return p - math.Pi
}
