package dsp

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

// SmoothPSDParams configures a SmoothPSD.
type SmoothPSDParams struct {
	FFTSize     int
	SampleRate  float64
	RefreshRate float64
	Window      Window
}

// SmoothPSD averages half-overlapped windowed periodograms and hands the
// averaged, DC-centred spectrum to a callback RefreshRate times per second
// of input.
type SmoothPSD struct {
	p      SmoothPSDParams
	onPSD  func([]float64)
	win    []float64
	winPow float64
	fft    *fourier.CmplxFFT

	ring   []complex128
	pos    int
	filled int
	hop    int
	since  int

	scratch []complex128
	coeffs  []complex128
	acc     []float64
	nAcc    int

	interval  int
	sinceEmit int
}

// NewSmoothPSD validates params and builds the estimator.
func NewSmoothPSD(p SmoothPSDParams, onPSD func([]float64)) (*SmoothPSD, error) {
	if p.FFTSize < 2 {
		return nil, fmt.Errorf("psd: fft size %d too small", p.FFTSize)
	}
	if !(p.SampleRate > 0) {
		return nil, fmt.Errorf("psd: sample rate %g must be positive", p.SampleRate)
	}
	if onPSD == nil {
		return nil, errors.New("psd: nil spectrum callback")
	}
	win := p.Window.Coefficients(p.FFTSize)
	s := &SmoothPSD{
		p:       p,
		onPSD:   onPSD,
		win:     win,
		winPow:  windowPower(win),
		fft:     fourier.NewCmplxFFT(p.FFTSize),
		ring:    make([]complex128, p.FFTSize),
		hop:     p.FFTSize / 2,
		scratch: make([]complex128, p.FFTSize),
		coeffs:  make([]complex128, p.FFTSize),
		acc:     make([]float64, p.FFTSize),
	}
	if err := s.SetRefreshRate(p.RefreshRate); err != nil {
		return nil, err
	}
	return s, nil
}

// SetRefreshRate changes how many spectra are emitted per second of input.
func (s *SmoothPSD) SetRefreshRate(rate float64) error {
	if !(rate > 0) || math.IsInf(rate, 0) {
		return fmt.Errorf("psd: refresh rate %g must be positive", rate)
	}
	s.p.RefreshRate = rate
	s.interval = int(math.Round(s.p.SampleRate / rate))
	if s.interval < 1 {
		s.interval = 1
	}
	return nil
}

func (s *SmoothPSD) RefreshRate() float64 { return s.p.RefreshRate }
func (s *SmoothPSD) FFTSize() int         { return s.p.FFTSize }

// Feed consumes samples, emitting spectra as refresh intervals elapse.
func (s *SmoothPSD) Feed(samples []complex64) {
	n := len(s.ring)
	for _, x := range samples {
		s.ring[s.pos] = complex128(x)
		s.pos++
		if s.pos == n {
			s.pos = 0
		}
		if s.filled < n {
			s.filled++
		}
		s.since++
		s.sinceEmit++

		if s.filled == n && s.since >= s.hop {
			s.since = 0
			s.accumulate()
		}
		if s.sinceEmit >= s.interval && s.nAcc > 0 {
			s.sinceEmit = 0
			s.emit()
		}
	}
}

func (s *SmoothPSD) accumulate() {
	n := len(s.ring)
	for i := 0; i < n; i++ {
		s.scratch[i] = s.ring[(s.pos+i)%n] * complex(s.win[i], 0)
	}
	s.coeffs = s.fft.Coefficients(s.coeffs, s.scratch)
	norm := s.winPow
	if norm <= 0 {
		norm = 1
	}
	for i, c := range s.coeffs {
		s.acc[i] += (real(c)*real(c) + imag(c)*imag(c)) / norm
	}
	s.nAcc++
}

func (s *SmoothPSD) emit() {
	out := make([]float64, len(s.acc))
	inv := 1 / float64(s.nAcc)
	for i, v := range s.acc {
		out[i] = v * inv
		s.acc[i] = 0
	}
	s.nAcc = 0
	ShiftPower(out)
	s.onPSD(out)
}
