// Package inspector turns a tuned, decimated baseband channel into
// phase-quantized symbols. An Inspector owns one instance of every filter
// stage and applies parameter changes requested from other goroutines at
// block boundaries.
package inspector

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"
	"sync"
	"sync/atomic"

	"github.com/rjboer/GoInspect/internal/dsp"
	"github.com/rjboer/GoInspect/internal/estimator"
	"github.com/rjboer/GoInspect/internal/logging"
	"github.com/rjboer/GoInspect/internal/specsrc"
)

var (
	ErrClosed         = errors.New("inspector: closed")
	ErrInvalidParams  = errors.New("inspector: invalid parameters")
	ErrInvalidChannel = errors.New("inspector: invalid channel")
	ErrNotAttached    = errors.New("inspector: no such attachment")
)

const (
	// OutputCapacity is the maximum number of symbols one Feed call emits.
	OutputCapacity = 512

	// outputScale keeps decided symbols inside the display window.
	outputScale = 0.75

	// matchedFilterSymbols is the matched filter length in symbol periods.
	matchedFilterSymbols = 6

	costasLoopFraction = 0.05
)

// State is the inspector lifecycle as seen by its owner.
type State int32

const (
	StateCreated State = iota
	StateRunning
	StateHalting
	StateHalted
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateHalting:
		return "halting"
	case StateHalted:
		return "halted"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Options carries optional collaborators.
type Options struct {
	Logger logging.Logger
}

// active is the parameter set the pipeline runs against together with
// everything derived from it. It is replaced as a whole, under mu, by
// assertParams on the feed goroutine; the feed loop reads it unlocked.
type active struct {
	params   Params
	gain     complex128
	phaseRef complex128
	period   float64 // samples per symbol for manual timing, 0 when stopped
	offset   float64 // symbol phase offset in samples
}

// Inspector is the per-channel signal conditioning pipeline.
//
// Feed must only be called from one goroutine. RequestParams,
// ResetEqualizer, ActiveParams, Halt and the attachment methods may be
// called from any goroutine.
type Inspector struct {
	fs  float64
	ch  Channel
	log logging.Logger

	agc    *dsp.AGC
	lo     *dsp.Oscillator
	costas [3]*dsp.Costas
	mf     *dsp.FIR
	clock  *dsp.ClockDetector
	eq     *dsp.Equalizer

	// owned by the feed goroutine
	cur      active
	symPhase float64
	prev     complex128
	out      []complex128

	// mu guards the active/requested pair and the equalizer.
	mu        sync.Mutex
	requested Params
	pending   atomic.Bool

	generation   atomic.Uint64
	mfGeneration atomic.Uint64
	mfFailures   atomic.Uint64
	state        atomic.Int32

	// aux guards the attachments.
	aux        sync.Mutex
	estimators []*estimator.Instance
	spectra    []*specsrc.Instance
}

// New builds an inspector for a channel observed at sampleRate. Either
// every stage is built or an error is returned.
func New(sampleRate float64, ch Channel, opts Options) (*Inspector, error) {
	if err := ch.validate(sampleRate); err != nil {
		return nil, err
	}
	log := opts.Logger
	if log == nil {
		log = logging.Default()
	}
	in := &Inspector{
		fs:  sampleRate,
		ch:  ch,
		log: log.With(logging.F("subsystem", "inspector")),
		out: make([]complex128, 0, OutputCapacity),
	}

	period := sampleRate / ch.nominalBaud()
	params := DefaultParams(ch)

	var err error
	if in.agc, err = dsp.NewAGC(dsp.AGCParamsForPeriod(period)); err != nil {
		return nil, fmt.Errorf("inspector: gain control: %w", err)
	}
	in.lo = dsp.NewOscillator(0, 0)

	armBW := ch.Bandwidth / (2 * sampleRate)
	for i, order := range []int{2, 4, 8} {
		if in.costas[i], err = dsp.NewCostas(order, 0, armBW, armBW*costasLoopFraction); err != nil {
			return nil, fmt.Errorf("inspector: costas-%d: %w", order, err)
		}
	}
	if in.mf, err = in.newMatchedFilter(period, params.RollOff); err != nil {
		return nil, fmt.Errorf("inspector: matched filter: %w", err)
	}
	if in.clock, err = dsp.NewClockDetector(ch.nominalBaud()/sampleRate, params.TimingAlpha, params.TimingBeta); err != nil {
		return nil, fmt.Errorf("inspector: clock detector: %w", err)
	}
	if in.eq, err = dsp.NewEqualizer(dsp.DefaultEqualizerParams()); err != nil {
		return nil, fmt.Errorf("inspector: equalizer: %w", err)
	}

	in.requested = params
	in.apply(params)
	return in, nil
}

func (in *Inspector) newMatchedFilter(period, rollOff float64) (*dsp.FIR, error) {
	want := dsp.MatchedFilterSpan(period, matchedFilterSymbols)
	span, truncated := dsp.ClampMatchedFilterSpan(want)
	if truncated {
		in.log.Warn("matched filter span truncated",
			logging.F("span", want), logging.F("max_span", dsp.MaxMatchedFilterSpan))
	}
	return dsp.NewRRC(span, period, rollOff)
}

func (in *Inspector) SampleRate() float64 { return in.fs }
func (in *Inspector) Channel() Channel     { return in.ch }
func (in *Inspector) State() State         { return State(in.state.Load()) }

// Generation counts parameter sets applied since creation. Requests equal
// to the active set are not counted.
func (in *Inspector) Generation() uint64 { return in.generation.Load() }

// MatchedFilterGeneration counts successful matched filter rebuilds.
func (in *Inspector) MatchedFilterGeneration() uint64 { return in.mfGeneration.Load() }

// MatchedFilterFailures counts rebuilds that failed and kept the old filter.
func (in *Inspector) MatchedFilterFailures() uint64 { return in.mfFailures.Load() }

// RequestParams queues p for the next Feed call. It never waits for the
// pipeline; a later request replaces an earlier one that was not applied
// yet.
func (in *Inspector) RequestParams(p Params) error {
	if err := p.Validate(); err != nil {
		return err
	}
	in.mu.Lock()
	in.requested = p
	in.pending.Store(true)
	in.mu.Unlock()
	return nil
}

// ActiveParams returns the parameter set the pipeline is running with.
func (in *Inspector) ActiveParams() Params {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.cur.params
}

// RequestedParams returns the most recently requested parameter set. It
// equals ActiveParams once the request has been applied.
func (in *Inspector) RequestedParams() Params {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.requested
}

// ResetEqualizer restores the equalizer's initial taps without touching
// any other stage.
func (in *Inspector) ResetEqualizer() {
	in.mu.Lock()
	in.eq.Reset()
	in.mu.Unlock()
}

// EqualizerCoefficients returns a copy of the equalizer taps.
func (in *Inspector) EqualizerCoefficients() []complex128 {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.eq.Coefficients()
}

// assertParams applies a pending request. It runs on the feed goroutine
// at the top of every Feed.
func (in *Inspector) assertParams() {
	if !in.pending.Load() {
		return
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	in.pending.Store(false)

	next := in.requested
	if next == in.cur.params {
		return
	}
	mfChanged := next.MatchedFilter != in.cur.params.MatchedFilter || next.RollOff != in.cur.params.RollOff
	in.apply(next)
	if mfChanged {
		in.rebuildMatchedFilter(next)
	}
	if next.CarrierMode == CarrierManual {
		for _, c := range in.costas {
			c.SetFrequency(0)
		}
	}
	in.generation.Add(1)
}

// apply installs p as the active set and recomputes the state derived
// from it. Callers hold mu, except New.
func (in *Inspector) apply(p Params) {
	a := active{
		params:   p,
		gain:     complex(p.Gain, 0),
		phaseRef: cmplx.Rect(1, p.CarrierPhase),
	}
	baud := 0.0
	if p.TimingRunning && p.Baud > 0 && p.Baud <= in.fs {
		baud = p.Baud
		a.period = in.fs / baud
		frac := p.SymbolPhase - math.Floor(p.SymbolPhase)
		a.offset = frac * a.period
		if in.symPhase >= a.period {
			in.symPhase = math.Mod(in.symPhase, a.period)
		}
	}
	in.cur = a

	in.lo.SetFrequency(dsp.HzToAngular(p.CarrierOffset, in.fs))
	in.clock.SetBaud(baud / in.fs)
	in.clock.SetGains(p.TimingAlpha, p.TimingBeta)
	if p.EqualizerLocked {
		in.eq.SetRate(0)
	} else {
		in.eq.SetRate(p.EqualizerRate)
	}
}

// rebuildMatchedFilter swaps in a filter for p. On failure the previous
// filter stays in place.
func (in *Inspector) rebuildMatchedFilter(p Params) {
	period := in.cur.period
	if period <= 0 {
		period = in.fs / in.ch.nominalBaud()
	}
	mf, err := in.newMatchedFilter(period, p.RollOff)
	if err != nil {
		in.mfFailures.Add(1)
		in.log.Error("matched filter rebuild failed, keeping previous filter",
			logging.F("roll_off", p.RollOff), logging.F("error", err))
		return
	}
	in.mf = mf
	in.mfGeneration.Add(1)
}

// Feed runs samples through the pipeline and returns the number of input
// samples consumed together with the symbols produced. Feed stops early
// once OutputCapacity symbols have been produced; the caller resumes from
// the consumed count. The returned slice is reused by the next call.
func (in *Inspector) Feed(samples []complex64) (int, []complex128, error) {
	switch State(in.state.Load()) {
	case StateCreated:
		in.state.CompareAndSwap(int32(StateCreated), int32(StateRunning))
	case StateHalting:
		in.state.CompareAndSwap(int32(StateHalting), int32(StateHalted))
		return 0, nil, ErrClosed
	case StateHalted:
		return 0, nil, ErrClosed
	}

	in.assertParams()
	a := &in.cur

	out := in.out[:0]
	consumed := 0
	for consumed < len(samples) && len(out) < OutputCapacity {
		x := complex128(samples[consumed])
		consumed++

		x *= cmplx.Conj(in.lo.Read()) * a.phaseRef

		switch a.params.GainMode {
		case GainAutomatic:
			x = in.agc.Feed(x)
		case GainManual:
			x *= a.gain
		}

		switch a.params.CarrierMode {
		case CarrierCostas2:
			x = in.costas[0].Feed(x)
		case CarrierCostas4:
			x = in.costas[1].Feed(x)
		case CarrierCostas8:
			x = in.costas[2].Feed(x)
		case CarrierManual:
		}

		if a.params.MatchedFilter == MatchedFilterRRC {
			x = in.mf.Feed(x)
		}

		y, ok := in.symbol(x)
		if !ok {
			continue
		}

		if a.params.EqualizerMode == EqualizerCMA {
			in.mu.Lock()
			y = in.eq.Feed(y)
			in.mu.Unlock()
		}
		out = append(out, y*outputScale)
	}
	in.out = out

	in.feedAttachments(samples[:consumed])
	return consumed, out, nil
}

// symbol runs timing recovery on one sample and reports whether a symbol
// instant was reached.
func (in *Inspector) symbol(x complex128) (complex128, bool) {
	a := &in.cur
	switch a.params.TimingMode {
	case TimingGardner:
		in.clock.Feed(x)
		return in.clock.Read()
	default:
		prev := in.prev
		in.prev = x
		if a.period <= 0 {
			return 0, false
		}
		in.symPhase++
		if in.symPhase >= a.period {
			in.symPhase -= a.period
		}
		d := in.symPhase - a.offset
		if d < 0 {
			d += a.period
		}
		if d >= 1 {
			return 0, false
		}
		// the symbol instant lies d samples before x
		return prev*complex(d, 0) + x*complex(1-d, 0), true
	}
}

// Halt asks the owner's feed goroutine to stop. The next Feed call moves
// the inspector to StateHalted and fails with ErrClosed.
func (in *Inspector) Halt() {
	for {
		s := in.state.Load()
		if s != int32(StateCreated) && s != int32(StateRunning) {
			return
		}
		if in.state.CompareAndSwap(s, int32(StateHalting)) {
			return
		}
	}
}

// Close releases the attachments. The owner must guarantee no Feed call is
// running or will follow.
func (in *Inspector) Close() {
	in.state.Store(int32(StateHalted))
	in.aux.Lock()
	defer in.aux.Unlock()
	for _, e := range in.estimators {
		e.Close()
	}
	for _, s := range in.spectra {
		s.Close()
	}
	in.estimators = nil
	in.spectra = nil
}
