package inspector

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/rjboer/GoInspect/internal/dsp"
	"github.com/rjboer/GoInspect/internal/estimator"
	"github.com/rjboer/GoInspect/internal/logging"
	"github.com/rjboer/GoInspect/internal/specsrc"
)

// EstimatorReading is a snapshot of one attached estimator.
type EstimatorReading struct {
	ID      uuid.UUID `json:"id"`
	Name    string    `json:"name"`
	Field   string    `json:"field"`
	Enabled bool      `json:"enabled"`
	Value   float64   `json:"value"`
	Valid   bool      `json:"valid"`
}

// SpectrumInfo describes one attached spectrum source.
type SpectrumInfo struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	Rate     float64   `json:"rate"`
	Throttle float64   `json:"throttle"`
}

// AttachEstimator instantiates c at the inspector's sample rate. The new
// instance is disabled.
func (in *Inspector) AttachEstimator(c *estimator.Class) (uuid.UUID, error) {
	inst, err := estimator.NewInstance(c, in.fs)
	if err != nil {
		return uuid.Nil, err
	}
	in.aux.Lock()
	defer in.aux.Unlock()
	if in.State() == StateHalted {
		inst.Close()
		return uuid.Nil, ErrClosed
	}
	in.estimators = append(in.estimators, inst)
	in.log.Debug("estimator attached", logging.F("name", c.Name), logging.F("id", inst.ID().String()))
	return inst.ID(), nil
}

func (in *Inspector) findEstimator(id uuid.UUID) (int, error) {
	for i, e := range in.estimators {
		if e.ID() == id {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%w: estimator %s", ErrNotAttached, id)
}

// SetEstimatorEnabled controls whether an estimator's value is surfaced.
func (in *Inspector) SetEstimatorEnabled(id uuid.UUID, enabled bool) error {
	in.aux.Lock()
	defer in.aux.Unlock()
	i, err := in.findEstimator(id)
	if err != nil {
		return err
	}
	in.estimators[i].SetEnabled(enabled)
	return nil
}

// ReadEstimator returns an estimator's current value. ok is false while
// the estimator is disabled or has no estimate yet.
func (in *Inspector) ReadEstimator(id uuid.UUID) (value float64, ok bool, err error) {
	in.aux.Lock()
	defer in.aux.Unlock()
	i, err := in.findEstimator(id)
	if err != nil {
		return 0, false, err
	}
	value, ok = in.estimators[i].Read()
	return value, ok, nil
}

// Estimators reads every attached estimator in attachment order.
func (in *Inspector) Estimators() []EstimatorReading {
	in.aux.Lock()
	defer in.aux.Unlock()
	out := make([]EstimatorReading, 0, len(in.estimators))
	for _, e := range in.estimators {
		v, ok := e.Read()
		out = append(out, EstimatorReading{
			ID:      e.ID(),
			Name:    e.Class().Name,
			Field:   e.Class().Field,
			Enabled: e.Enabled(),
			Value:   v,
			Valid:   ok,
		})
	}
	return out
}

// DetachEstimator closes and removes an estimator.
func (in *Inspector) DetachEstimator(id uuid.UUID) error {
	in.aux.Lock()
	defer in.aux.Unlock()
	i, err := in.findEstimator(id)
	if err != nil {
		return err
	}
	in.estimators[i].Close()
	in.estimators = append(in.estimators[:i], in.estimators[i+1:]...)
	return nil
}

// AttachSpectrumSource instantiates c with a PSD of size bins refreshed
// rate times per second. onSpectrum runs on the feed goroutine and must
// not call back into the inspector's attachment methods.
func (in *Inspector) AttachSpectrumSource(c *specsrc.Class, size int, rate float64, window dsp.Window, onSpectrum func([]float64)) (uuid.UUID, error) {
	inst, err := specsrc.NewInstance(c, specsrc.Params{
		SampleRate:   in.fs,
		SpectrumRate: rate,
		Size:         size,
		Window:       window,
	}, onSpectrum)
	if err != nil {
		return uuid.Nil, err
	}
	in.aux.Lock()
	defer in.aux.Unlock()
	if in.State() == StateHalted {
		inst.Close()
		return uuid.Nil, ErrClosed
	}
	in.spectra = append(in.spectra, inst)
	in.log.Debug("spectrum source attached", logging.F("name", c.Name), logging.F("id", inst.ID().String()))
	return inst.ID(), nil
}

func (in *Inspector) findSpectrum(id uuid.UUID) (int, error) {
	for i, s := range in.spectra {
		if s.ID() == id {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%w: spectrum source %s", ErrNotAttached, id)
}

// SetSpectrumThrottle divides a spectrum source's refresh rate by f.
func (in *Inspector) SetSpectrumThrottle(id uuid.UUID, f float64) error {
	in.aux.Lock()
	defer in.aux.Unlock()
	i, err := in.findSpectrum(id)
	if err != nil {
		return err
	}
	return in.spectra[i].SetThrottleFactor(f)
}

// FeedSpectrumSource hands samples directly to one spectrum source.
func (in *Inspector) FeedSpectrumSource(id uuid.UUID, samples []complex64) error {
	in.aux.Lock()
	defer in.aux.Unlock()
	i, err := in.findSpectrum(id)
	if err != nil {
		return err
	}
	return in.spectra[i].FeedAll(samples)
}

// SpectrumSources lists the attached spectrum sources.
func (in *Inspector) SpectrumSources() []SpectrumInfo {
	in.aux.Lock()
	defer in.aux.Unlock()
	out := make([]SpectrumInfo, 0, len(in.spectra))
	for _, s := range in.spectra {
		out = append(out, SpectrumInfo{
			ID:       s.ID(),
			Name:     s.Class().Name,
			Rate:     s.EffectiveRate(),
			Throttle: s.ThrottleFactor(),
		})
	}
	return out
}

// DetachSpectrumSource closes and removes a spectrum source.
func (in *Inspector) DetachSpectrumSource(id uuid.UUID) error {
	in.aux.Lock()
	defer in.aux.Unlock()
	i, err := in.findSpectrum(id)
	if err != nil {
		return err
	}
	in.spectra[i].Close()
	in.spectra = append(in.spectra[:i], in.spectra[i+1:]...)
	return nil
}

// feedAttachments hands the consumed samples to every attachment. Failures
// degrade the attachment's output and are only logged.
func (in *Inspector) feedAttachments(samples []complex64) {
	if len(samples) == 0 {
		return
	}
	in.aux.Lock()
	defer in.aux.Unlock()
	for _, e := range in.estimators {
		if err := e.Feed(samples); err != nil {
			in.log.Warn("estimator feed failed", logging.F("name", e.Class().Name), logging.F("error", err))
		}
	}
	for _, s := range in.spectra {
		if err := s.FeedAll(samples); err != nil {
			in.log.Warn("spectrum source feed failed", logging.F("name", s.Class().Name), logging.F("error", err))
		}
	}
}
