// Package specsrc defines spectrum sources: transforms applied to the
// sample stream before its power spectrum is estimated, used to expose
// cyclostationary, FM, PM and carrier features.
package specsrc

import (
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/rjboer/GoInspect/internal/dsp"
	"github.com/rjboer/GoInspect/internal/registry"
)

// ErrClosed is returned when feeding a closed instance.
var ErrClosed = errors.New("specsrc: closed")

// throttleTolerance is the smallest throttle change that retunes the PSD.
const throttleTolerance = 1e-6

// Transform is the private per-instance state of a spectrum source.
type Transform interface {
	Close()
}

// Preprocessor is implemented by transforms that rewrite samples in place
// before spectral estimation. Transforms without it yield a plain PSD.
type Preprocessor interface {
	Preprocess(buf []complex64)
}

// Class describes a spectrum-source plugin.
type Class struct {
	Name        string
	Description string
	New         func(sampleRate float64) (Transform, error)
}

func (c *Class) validate() error {
	switch {
	case c == nil:
		return fmt.Errorf("%w: nil spectrum source class", registry.ErrInvalid)
	case c.Name == "":
		return fmt.Errorf("%w: spectrum source without a name", registry.ErrInvalid)
	case c.Description == "":
		return fmt.Errorf("%w: spectrum source %q has no description", registry.ErrInvalid, c.Name)
	case c.New == nil:
		return fmt.Errorf("%w: spectrum source %q has no constructor", registry.ErrInvalid, c.Name)
	}
	return nil
}

// Registry holds the spectrum-source classes known to the process.
type Registry struct {
	classes *registry.Registry[*Class]
}

func NewRegistry() *Registry {
	return &Registry{classes: registry.New("spectrum source", func(c *Class) string { return c.Name })}
}

// Register adds a class after checking its required fields.
func (r *Registry) Register(c *Class) error {
	if err := c.validate(); err != nil {
		return err
	}
	return r.classes.Register(c)
}

func (r *Registry) Lookup(name string) (*Class, error) { return r.classes.Lookup(name) }
func (r *Registry) At(i int) (*Class, error)          { return r.classes.At(i) }
func (r *Registry) IndexOf(name string) int           { return r.classes.IndexOf(name) }
func (r *Registry) Len() int                          { return r.classes.Len() }
func (r *Registry) List() []*Class                    { return r.classes.List() }

// Params configures an Instance.
type Params struct {
	SampleRate   float64
	SpectrumRate float64 // spectra per second before throttling
	Size         int     // transform size
	Window       dsp.Window
}

// Instance couples a spectrum source with the smoothed PSD estimator that
// consumes its output. It is not safe for concurrent use.
type Instance struct {
	id       uuid.UUID
	class    *Class
	t        Transform
	pre      Preprocessor
	scratch  []complex64
	psd      *dsp.SmoothPSD
	rate     float64
	throttle float64
	closed   bool
}

// NewInstance builds the source's private state and a PSD estimator that
// calls onSpectrum with each DC-centred spectrum. A scratch buffer is only
// allocated when the transform preprocesses samples.
func NewInstance(c *Class, p Params, onSpectrum func(psd []float64)) (*Instance, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}
	if !(p.SpectrumRate > 0) || math.IsInf(p.SpectrumRate, 0) {
		return nil, fmt.Errorf("spectrum source %q: spectrum rate %g must be positive", c.Name, p.SpectrumRate)
	}
	psd, err := dsp.NewSmoothPSD(dsp.SmoothPSDParams{
		FFTSize:     p.Size,
		SampleRate:  p.SampleRate,
		RefreshRate: p.SpectrumRate,
		Window:      p.Window,
	}, onSpectrum)
	if err != nil {
		return nil, fmt.Errorf("spectrum source %q: %w", c.Name, err)
	}
	t, err := c.New(p.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("spectrum source %q: %w", c.Name, err)
	}
	if t == nil {
		return nil, fmt.Errorf("%w: spectrum source %q constructor returned nil", registry.ErrInvalid, c.Name)
	}

	inst := &Instance{
		id:       uuid.New(),
		class:    c,
		t:        t,
		psd:      psd,
		rate:     p.SpectrumRate,
		throttle: 1,
	}
	if pre, ok := t.(Preprocessor); ok {
		inst.pre = pre
		inst.scratch = make([]complex64, p.Size)
	}
	return inst, nil
}

func (i *Instance) ID() uuid.UUID           { return i.id }
func (i *Instance) Class() *Class           { return i.class }
func (i *Instance) ThrottleFactor() float64 { return i.throttle }

// EffectiveRate is the current number of spectra per second of input.
func (i *Instance) EffectiveRate() float64 { return i.psd.RefreshRate() }

// Feed hands samples to the transform and the PSD estimator and returns how
// many were consumed. Sources with a preprocess step consume at most one
// transform size per call.
func (i *Instance) Feed(data []complex64) (int, error) {
	if i.closed {
		return 0, ErrClosed
	}
	if i.pre == nil {
		i.psd.Feed(data)
		return len(data), nil
	}
	n := copy(i.scratch, data)
	i.pre.Preprocess(i.scratch[:n])
	i.psd.Feed(i.scratch[:n])
	return n, nil
}

// FeedAll repeats Feed until every sample has been consumed.
func (i *Instance) FeedAll(data []complex64) error {
	for len(data) > 0 {
		n, err := i.Feed(data)
		if err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}

// SetThrottleFactor divides the configured spectrum rate by f. Values
// within tolerance of the current factor are ignored.
func (i *Instance) SetThrottleFactor(f float64) error {
	if !(f > 0) || math.IsInf(f, 0) {
		return fmt.Errorf("specsrc: throttle factor %g must be positive", f)
	}
	if math.Abs(f-i.throttle) < throttleTolerance {
		return nil
	}
	if err := i.psd.SetRefreshRate(i.rate / f); err != nil {
		return err
	}
	i.throttle = f
	return nil
}

// Close releases the transform state. It is safe to call twice.
func (i *Instance) Close() {
	if i.closed {
		return
	}
	i.closed = true
	i.t.Close()
}
