package inspector

import (
	"fmt"
	"math"

	"github.com/rjboer/GoInspect/internal/config"
)

// GainMode selects the gain-control stage behaviour.
type GainMode int

const (
	GainManual GainMode = iota
	GainAutomatic
)

func (m GainMode) String() string {
	switch m {
	case GainManual:
		return "manual"
	case GainAutomatic:
		return "automatic"
	default:
		return fmt.Sprintf("GainMode(%d)", int(m))
	}
}

// CarrierMode selects manual carrier correction or one of the Costas loops.
type CarrierMode int

const (
	CarrierManual CarrierMode = iota
	CarrierCostas2
	CarrierCostas4
	CarrierCostas8
)

func (m CarrierMode) String() string {
	switch m {
	case CarrierManual:
		return "manual"
	case CarrierCostas2:
		return "costas-2"
	case CarrierCostas4:
		return "costas-4"
	case CarrierCostas8:
		return "costas-8"
	default:
		return fmt.Sprintf("CarrierMode(%d)", int(m))
	}
}

// Order returns the constellation order tracked by the mode, or 0 for
// manual control.
func (m CarrierMode) Order() int {
	switch m {
	case CarrierCostas2:
		return 2
	case CarrierCostas4:
		return 4
	case CarrierCostas8:
		return 8
	default:
		return 0
	}
}

func carrierModeForOrder(order int64) (CarrierMode, error) {
	switch order {
	case 0:
		return CarrierManual, nil
	case 2:
		return CarrierCostas2, nil
	case 4:
		return CarrierCostas4, nil
	case 8:
		return CarrierCostas8, nil
	default:
		return 0, fmt.Errorf("%w: costas order %d", ErrInvalidParams, order)
	}
}

// MatchedFilterMode selects whether the RRC matched filter is applied.
type MatchedFilterMode int

const (
	MatchedFilterBypass MatchedFilterMode = iota
	MatchedFilterRRC
)

func (m MatchedFilterMode) String() string {
	switch m {
	case MatchedFilterBypass:
		return "bypass"
	case MatchedFilterRRC:
		return "rrc"
	default:
		return fmt.Sprintf("MatchedFilterMode(%d)", int(m))
	}
}

// TimingMode selects how symbol instants are found.
type TimingMode int

const (
	TimingManual TimingMode = iota
	TimingGardner
)

func (m TimingMode) String() string {
	switch m {
	case TimingManual:
		return "manual"
	case TimingGardner:
		return "gardner"
	default:
		return fmt.Sprintf("TimingMode(%d)", int(m))
	}
}

// EqualizerMode selects whether the CMA equalizer is applied.
type EqualizerMode int

const (
	EqualizerBypass EqualizerMode = iota
	EqualizerCMA
)

func (m EqualizerMode) String() string {
	switch m {
	case EqualizerBypass:
		return "bypass"
	case EqualizerCMA:
		return "cma"
	default:
		return fmt.Sprintf("EqualizerMode(%d)", int(m))
	}
}

// Params is the desired mode and tunables of every pipeline stage. Tunables
// only matter while their stage is in a mode that uses them. Params is a
// plain value and is compared with ==.
type Params struct {
	GainMode GainMode
	Gain     float64

	CarrierMode   CarrierMode
	CarrierOffset float64 // Hz
	CarrierPhase  float64 // radians

	MatchedFilter MatchedFilterMode
	RollOff       float64

	EqualizerMode   EqualizerMode
	EqualizerRate   float64
	EqualizerLocked bool

	TimingMode    TimingMode
	Baud          float64 // symbols per second
	TimingAlpha   float64
	TimingBeta    float64
	SymbolPhase   float64 // fraction of a symbol period
	TimingRunning bool

	// SpectrumSource is 0 for none, n for the n-th registered source.
	SpectrumSource int
}

// DefaultParams returns the parameters a new inspector starts with for ch.
func DefaultParams(ch Channel) Params {
	return Params{
		GainMode:      GainAutomatic,
		Gain:          1,
		CarrierMode:   CarrierManual,
		MatchedFilter: MatchedFilterBypass,
		RollOff:       0.35,
		EqualizerMode: EqualizerBypass,
		EqualizerRate: 1e-3,
		TimingMode:    TimingManual,
		Baud:          ch.nominalBaud(),
		TimingAlpha:   0.05,
		TimingBeta:    5e-4,
	}
}

// Validate checks that every mode holds a known value and every tunable is
// finite. Finite tunables are not range-checked here; stages that cannot
// use them keep their previous configuration.
func (p Params) Validate() error {
	for _, f := range []struct {
		name string
		v    float64
	}{
		{KeyAGCGain, p.Gain},
		{KeyCarrierOffset, p.CarrierOffset},
		{KeyCarrierPhase, p.CarrierPhase},
		{KeyMFRollOff, p.RollOff},
		{KeyEqualizerRate, p.EqualizerRate},
		{KeyClockBaud, p.Baud},
		{KeyClockGain, p.TimingAlpha},
		{KeyClockBeta, p.TimingBeta},
		{KeyClockPhase, p.SymbolPhase},
	} {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) {
			return fmt.Errorf("%w: %s is %g", ErrInvalidParams, f.name, f.v)
		}
	}
	if p.GainMode < GainManual || p.GainMode > GainAutomatic {
		return fmt.Errorf("%w: %v", ErrInvalidParams, p.GainMode)
	}
	if p.CarrierMode < CarrierManual || p.CarrierMode > CarrierCostas8 {
		return fmt.Errorf("%w: %v", ErrInvalidParams, p.CarrierMode)
	}
	if p.MatchedFilter < MatchedFilterBypass || p.MatchedFilter > MatchedFilterRRC {
		return fmt.Errorf("%w: %v", ErrInvalidParams, p.MatchedFilter)
	}
	if p.EqualizerMode < EqualizerBypass || p.EqualizerMode > EqualizerCMA {
		return fmt.Errorf("%w: %v", ErrInvalidParams, p.EqualizerMode)
	}
	if p.TimingMode < TimingManual || p.TimingMode > TimingGardner {
		return fmt.Errorf("%w: %v", ErrInvalidParams, p.TimingMode)
	}
	if p.SpectrumSource < 0 {
		return fmt.Errorf("%w: spectrum source %d", ErrInvalidParams, p.SpectrumSource)
	}
	return nil
}

// Configuration keys used by ToConfig and ParamsFromConfig.
const (
	KeyAGCEnabled      = "agc.enabled"
	KeyAGCGain         = "agc.gain"
	KeyCostasOrder     = "afc.costas-order"
	KeyCarrierOffset   = "afc.offset"
	KeyCarrierPhase    = "afc.phase"
	KeyMFType          = "mf.type"
	KeyMFRollOff       = "mf.roll-off"
	KeyEqualizerType   = "equalizer.type"
	KeyEqualizerRate   = "equalizer.rate"
	KeyEqualizerLocked = "equalizer.locked"
	KeyClockType       = "clock.type"
	KeyClockBaud       = "clock.baud"
	KeyClockGain       = "clock.gain"
	KeyClockBeta       = "clock.beta"
	KeyClockPhase      = "clock.phase"
	KeyClockRunning    = "clock.running"
	KeySpectrumSource  = "spectrum.source"
)

// ToConfig writes every field to a flat configuration object.
func (p Params) ToConfig() *config.Object {
	o := config.New()
	o.SetBool(KeyAGCEnabled, p.GainMode == GainAutomatic)
	o.SetFloat(KeyAGCGain, p.Gain)
	o.SetInt(KeyCostasOrder, int64(p.CarrierMode.Order()))
	o.SetFloat(KeyCarrierOffset, p.CarrierOffset)
	o.SetFloat(KeyCarrierPhase, p.CarrierPhase)
	o.SetInt(KeyMFType, int64(p.MatchedFilter))
	o.SetFloat(KeyMFRollOff, p.RollOff)
	o.SetInt(KeyEqualizerType, int64(p.EqualizerMode))
	o.SetFloat(KeyEqualizerRate, p.EqualizerRate)
	o.SetBool(KeyEqualizerLocked, p.EqualizerLocked)
	o.SetInt(KeyClockType, int64(p.TimingMode))
	o.SetFloat(KeyClockBaud, p.Baud)
	o.SetFloat(KeyClockGain, p.TimingAlpha)
	o.SetFloat(KeyClockBeta, p.TimingBeta)
	o.SetFloat(KeyClockPhase, p.SymbolPhase)
	o.SetBool(KeyClockRunning, p.TimingRunning)
	o.SetInt(KeySpectrumSource, int64(p.SpectrumSource))
	return o
}

// paramsReader accumulates the first error so ParamsFromConfig can read
// every field in sequence.
type paramsReader struct {
	o   *config.Object
	err error
}

func (r *paramsReader) bool(key string) bool {
	if r.err != nil {
		return false
	}
	v, err := r.o.Bool(key)
	r.err = err
	return v
}

func (r *paramsReader) int(key string) int64 {
	if r.err != nil {
		return 0
	}
	v, err := r.o.Int(key)
	r.err = err
	return v
}

func (r *paramsReader) float(key string) float64 {
	if r.err != nil {
		return 0
	}
	v, err := r.o.Float(key)
	r.err = err
	return v
}

// ParamsFromConfig parses a configuration object. Every field must be
// present with the right type, and enum fields must hold a known value;
// otherwise the whole parse fails.
func ParamsFromConfig(o *config.Object) (Params, error) {
	r := &paramsReader{o: o}
	agc := r.bool(KeyAGCEnabled)
	gain := r.float(KeyAGCGain)
	order := r.int(KeyCostasOrder)
	offset := r.float(KeyCarrierOffset)
	phase := r.float(KeyCarrierPhase)
	mf := r.int(KeyMFType)
	rollOff := r.float(KeyMFRollOff)
	eq := r.int(KeyEqualizerType)
	eqRate := r.float(KeyEqualizerRate)
	eqLocked := r.bool(KeyEqualizerLocked)
	clock := r.int(KeyClockType)
	baud := r.float(KeyClockBaud)
	alpha := r.float(KeyClockGain)
	beta := r.float(KeyClockBeta)
	symPhase := r.float(KeyClockPhase)
	running := r.bool(KeyClockRunning)
	source := r.int(KeySpectrumSource)
	if r.err != nil {
		return Params{}, fmt.Errorf("inspector params: %w", r.err)
	}

	carrier, err := carrierModeForOrder(order)
	if err != nil {
		return Params{}, err
	}
	p := Params{
		GainMode:        GainManual,
		Gain:            gain,
		CarrierMode:     carrier,
		CarrierOffset:   offset,
		CarrierPhase:    phase,
		MatchedFilter:   MatchedFilterMode(mf),
		RollOff:         rollOff,
		EqualizerMode:   EqualizerMode(eq),
		EqualizerRate:   eqRate,
		EqualizerLocked: eqLocked,
		TimingMode:      TimingMode(clock),
		Baud:            baud,
		TimingAlpha:     alpha,
		TimingBeta:      beta,
		SymbolPhase:     symPhase,
		TimingRunning:   running,
		SpectrumSource:  int(source),
	}
	if agc {
		p.GainMode = GainAutomatic
	}
	if int64(p.MatchedFilter) != mf || int64(p.EqualizerMode) != eq ||
		int64(p.TimingMode) != clock || int64(p.SpectrumSource) != source {
		return Params{}, fmt.Errorf("%w: enum value out of range", ErrInvalidParams)
	}
	if err := p.Validate(); err != nil {
		return Params{}, err
	}
	return p, nil
}
