package inspector

import (
	"fmt"
	"math"
)

// Channel describes the signal an inspector is created for, as reported by
// a channel detector.
type Channel struct {
	Center    float64 `json:"center"`    // Hz
	Bandwidth float64 `json:"bandwidth"` // Hz
	Signal    float64 `json:"signal"`    // dB
	Noise     float64 `json:"noise"`     // dB
	Baud      float64 `json:"baud"`      // detected symbol rate, 0 if unknown
}

// SNR returns the signal-to-noise ratio in dB.
func (c Channel) SNR() float64 { return c.Signal - c.Noise }

// nominalBaud is the detected symbol rate, falling back to the bandwidth.
func (c Channel) nominalBaud() float64 {
	if c.Baud > 0 {
		return c.Baud
	}
	return c.Bandwidth
}

func (c Channel) validate(sampleRate float64) error {
	if !(sampleRate > 0) || math.IsInf(sampleRate, 0) {
		return fmt.Errorf("%w: sample rate %g", ErrInvalidChannel, sampleRate)
	}
	if !(c.Bandwidth > 0) || c.Bandwidth > sampleRate {
		return fmt.Errorf("%w: bandwidth %g at sample rate %g", ErrInvalidChannel, c.Bandwidth, sampleRate)
	}
	if c.Baud < 0 || c.Baud > sampleRate || math.IsNaN(c.Baud) {
		return fmt.Errorf("%w: baud %g at sample rate %g", ErrInvalidChannel, c.Baud, sampleRate)
	}
	return nil
}
