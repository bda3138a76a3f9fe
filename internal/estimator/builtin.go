package estimator

import (
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"

	"github.com/rjboer/GoInspect/internal/dsp"
)

// BaudField is the parameter key populated by the symbol-rate estimators.
const BaudField = "clock.baud"

const (
	acfBlockSize       = 4096
	nonlinearBlockSize = 8192
	// averaging turns exponential after this many blocks
	maxAveragedBlocks = 16
)

// Builtins returns the estimator classes registered at start-up.
func Builtins() []*Class {
	return []*Class{
		{
			Name:        "baud-acf",
			Description: "Symbol rate from the autocorrelation knee",
			Field:       BaudField,
			New:         newACFBaud,
		},
		{
			Name:        "baud-nonlinear",
			Description: "Symbol rate from the spectral line of the squared sample difference",
			Field:       BaudField,
			New:         newNonlinearBaud,
		},
	}
}

// RegisterBuiltins registers every built-in class with r.
func RegisterBuiltins(r *Registry) error {
	for _, c := range Builtins() {
		if err := r.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func checkRate(sampleRate float64) error {
	if !(sampleRate > 0) || math.IsInf(sampleRate, 0) {
		return fmt.Errorf("sample rate %g must be positive", sampleRate)
	}
	return nil
}

// blockAverager collects samples into fixed-size blocks.
type blockAverager struct {
	buf    []complex128
	n      int
	blocks int
}

func (b *blockAverager) push(samples []complex64, onBlock func([]complex128)) {
	for _, s := range samples {
		b.buf[b.n] = complex128(s)
		b.n++
		if b.n == len(b.buf) {
			b.n = 0
			if b.blocks < maxAveragedBlocks {
				b.blocks++
			}
			onBlock(b.buf)
		}
	}
}

// weight is the averaging weight for the newest block.
func (b *blockAverager) weight() float64 { return 1 / float64(b.blocks) }

// acfBaud measures the symbol period as the lag where the autocorrelation
// bends hardest: the end of the triangular main lobe produced by
// symbol-long pulses. Curvature is taken on the complex autocorrelation so
// a zero crossing of its real part does not look like a knee.
type acfBaud struct {
	fs    float64
	in    blockAverager
	fft   *fourier.CmplxFFT
	pad   []complex128
	power []complex128
	acf   []complex128
	avg   []complex128
	bend  []float64
}

func newACFBaud(sampleRate float64) (Estimator, error) {
	if err := checkRate(sampleRate); err != nil {
		return nil, err
	}
	n := 2 * acfBlockSize
	return &acfBaud{
		fs:    sampleRate,
		in:    blockAverager{buf: make([]complex128, acfBlockSize)},
		fft:   fourier.NewCmplxFFT(n),
		pad:   make([]complex128, n),
		power: make([]complex128, n),
		acf:   make([]complex128, n),
		avg:   make([]complex128, acfBlockSize/2),
		bend:  make([]float64, acfBlockSize/2),
	}, nil
}

func (e *acfBaud) Feed(samples []complex64) error {
	e.in.push(samples, e.block)
	return nil
}

func (e *acfBaud) block(x []complex128) {
	copy(e.pad, x)
	for i := len(x); i < len(e.pad); i++ {
		e.pad[i] = 0
	}
	e.power = e.fft.Coefficients(e.power, e.pad)
	for i, c := range e.power {
		e.power[i] = complex(real(c)*real(c)+imag(c)*imag(c), 0)
	}
	e.acf = e.fft.Sequence(e.acf, e.power)

	w := complex(e.in.weight(), 0)
	for i := range e.avg {
		e.avg[i] += w * (e.acf[i] - e.avg[i])
	}
}

func (e *acfBaud) Read() (float64, bool) {
	if e.in.blocks == 0 {
		return 0, false
	}
	r0 := cmplx.Abs(e.avg[0])
	if r0 == 0 {
		return 0, false
	}
	for k := 1; k < len(e.avg)-1; k++ {
		e.bend[k] = cmplx.Abs(e.avg[k+1]-2*e.avg[k]+e.avg[k-1]) / r0
	}
	lag := floats.MaxIdx(e.bend[1 : len(e.avg)-1]) + 1
	if !(e.bend[lag] > 0) {
		return 0, false
	}
	return e.fs / float64(lag), true
}

func (e *acfBaud) Close() {}

// nonlinearBaud squares the magnitude of the first difference, which
// pulses at every symbol transition, and finds the fundamental of the
// resulting spectral line series.
type nonlinearBaud struct {
	fs    float64
	in    blockAverager
	fft   *fourier.FFT
	win   []float64
	prev  complex128
	y     []float64
	coeff []complex128
	avg   []float64
}

func newNonlinearBaud(sampleRate float64) (Estimator, error) {
	if err := checkRate(sampleRate); err != nil {
		return nil, err
	}
	return &nonlinearBaud{
		fs:  sampleRate,
		in:  blockAverager{buf: make([]complex128, nonlinearBlockSize)},
		fft: fourier.NewFFT(nonlinearBlockSize),
		win: dsp.WindowHann.Coefficients(nonlinearBlockSize),
		y:   make([]float64, nonlinearBlockSize),
		avg: make([]float64, nonlinearBlockSize/2+1),
	}, nil
}

func (e *nonlinearBaud) Feed(samples []complex64) error {
	e.in.push(samples, e.block)
	return nil
}

func (e *nonlinearBaud) block(x []complex128) {
	for i, v := range x {
		d := v - e.prev
		e.prev = v
		e.y[i] = real(d)*real(d) + imag(d)*imag(d)
	}
	floats.AddConst(-floats.Sum(e.y)/float64(len(e.y)), e.y)
	floats.Mul(e.y, e.win)

	e.coeff = e.fft.Coefficients(e.coeff, e.y)
	w := e.in.weight()
	for i, c := range e.coeff {
		p := real(c)*real(c) + imag(c)*imag(c)
		e.avg[i] += w * (p - e.avg[i])
	}
}

func (e *nonlinearBaud) Read() (float64, bool) {
	if e.in.blocks == 0 {
		return 0, false
	}
	// bins 0 and 1 carry leakage from the removed mean
	const first = 2
	peak := floats.Max(e.avg[first:])
	if !(peak > 1e-6*floats.Sum(e.avg)) {
		return 0, false
	}
	threshold := 0.25 * peak
	for k := first; k < len(e.avg)-1; k++ {
		p := e.avg[k]
		if p < threshold || p < e.avg[k-1] || p < e.avg[k+1] {
			continue
		}
		freq := (float64(k) + parabolicOffset(e.avg[k-1], p, e.avg[k+1])) * e.fs / nonlinearBlockSize
		return freq, true
	}
	return 0, false
}

func (e *nonlinearBaud) Close() {}

// parabolicOffset returns the sub-bin position of a peak from its
// neighbours, in [-0.5, 0.5].
func parabolicOffset(a, b, c float64) float64 {
	den := a - 2*b + c
	if den == 0 {
		return 0
	}
	d := 0.5 * (a - c) / den
	return math.Max(-0.5, math.Min(0.5, d))
}
