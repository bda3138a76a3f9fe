package inspector

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
	"pgregory.net/rapid"

	"github.com/rjboer/GoInspect/internal/config"
)

func genParams() *rapid.Generator[Params] {
	return rapid.Custom(func(t *rapid.T) Params {
		return Params{
			GainMode:        GainMode(rapid.IntRange(0, 1).Draw(t, "gain_mode")),
			Gain:            rapid.Float64Range(0.1, 10).Draw(t, "gain"),
			CarrierMode:     CarrierMode(rapid.IntRange(0, 3).Draw(t, "carrier_mode")),
			CarrierOffset:   rapid.Float64Range(-1000, 1000).Draw(t, "offset"),
			CarrierPhase:    rapid.Float64Range(-math.Pi, math.Pi).Draw(t, "phase"),
			MatchedFilter:   MatchedFilterMode(rapid.IntRange(0, 1).Draw(t, "mf")),
			RollOff:         rapid.Float64Range(0.05, 1).Draw(t, "roll_off"),
			EqualizerMode:   EqualizerMode(rapid.IntRange(0, 1).Draw(t, "eq")),
			EqualizerRate:   rapid.Float64Range(0, 0.01).Draw(t, "eq_rate"),
			EqualizerLocked: rapid.Bool().Draw(t, "eq_locked"),
			TimingMode:      TimingMode(rapid.IntRange(0, 1).Draw(t, "timing")),
			Baud:            rapid.Float64Range(100, 4800).Draw(t, "baud"),
			TimingAlpha:     rapid.Float64Range(0, 0.5).Draw(t, "alpha"),
			TimingBeta:      rapid.Float64Range(0, 1e-3).Draw(t, "beta"),
			SymbolPhase:     rapid.Float64Range(0, 1).Draw(t, "sym_phase"),
			TimingRunning:   rapid.Bool().Draw(t, "running"),
			SpectrumSource:  rapid.IntRange(0, 9).Draw(t, "spectrum"),
		}
	})
}

func TestParamsConfigRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		p := genParams().Draw(t, "params")
		got, err := ParamsFromConfig(p.ToConfig())
		require.NoError(t, err)
		require.Equal(t, p, got)
	})
}

func TestParamsSurviveYAML(t *testing.T) {
	p := DefaultParams(Channel{Bandwidth: 4800})
	p.CarrierMode = CarrierCostas4
	p.Gain = 2 // integral float must stay a float

	data, err := yaml.Marshal(p.ToConfig())
	require.NoError(t, err)

	obj := config.New()
	require.NoError(t, yaml.Unmarshal(data, obj))
	got, err := ParamsFromConfig(obj)
	require.NoError(t, err)
	assert.Equal(t, p, got)
}

func TestParamsFromConfigRequiresEveryField(t *testing.T) {
	full := DefaultParams(Channel{Bandwidth: 4800}).ToConfig()
	for _, key := range full.Keys() {
		partial := config.New()
		for _, k := range full.Keys() {
			if k == key {
				continue
			}
			v, _ := full.Lookup(k)
			switch v.Kind {
			case config.KindBool:
				b, _ := full.Bool(k)
				partial.SetBool(k, b)
			case config.KindInt:
				i, _ := full.Int(k)
				partial.SetInt(k, i)
			case config.KindFloat:
				f, _ := full.Float(k)
				partial.SetFloat(k, f)
			}
		}
		_, err := ParamsFromConfig(partial)
		assert.True(t, errors.Is(err, config.ErrMissingField), key)
	}
}

func TestParamsFromConfigRejectsWrongTypes(t *testing.T) {
	o := DefaultParams(Channel{Bandwidth: 4800}).ToConfig()
	o.SetInt(KeyAGCEnabled, 1)
	_, err := ParamsFromConfig(o)
	assert.True(t, errors.Is(err, config.ErrWrongType))

	o = DefaultParams(Channel{Bandwidth: 4800}).ToConfig()
	o.SetFloat(KeyCostasOrder, 2)
	_, err = ParamsFromConfig(o)
	assert.True(t, errors.Is(err, config.ErrWrongType))
}

func TestParamsFromConfigRejectsUnknownModes(t *testing.T) {
	for key, v := range map[string]int64{
		KeyCostasOrder:    3,
		KeyMFType:         2,
		KeyEqualizerType:  -1,
		KeyClockType:      7,
		KeySpectrumSource: -2,
	} {
		o := DefaultParams(Channel{Bandwidth: 4800}).ToConfig()
		o.SetInt(key, v)
		_, err := ParamsFromConfig(o)
		assert.True(t, errors.Is(err, ErrInvalidParams), key)
	}
}

func TestParamsValidate(t *testing.T) {
	assert.NoError(t, DefaultParams(Channel{Bandwidth: 1}).Validate())
	p := DefaultParams(Channel{Bandwidth: 1})
	p.CarrierMode = 9
	assert.True(t, errors.Is(p.Validate(), ErrInvalidParams))
	assert.Equal(t, "CarrierMode(9)", p.CarrierMode.String())
	assert.Equal(t, 8, CarrierCostas8.Order())
	assert.Equal(t, 0, CarrierManual.Order())
}

func TestParamsValidateRejectsNonFinite(t *testing.T) {
	fields := map[string]func(*Params, float64){
		"gain":        func(p *Params, v float64) { p.Gain = v },
		"offset":      func(p *Params, v float64) { p.CarrierOffset = v },
		"phase":       func(p *Params, v float64) { p.CarrierPhase = v },
		"roll-off":    func(p *Params, v float64) { p.RollOff = v },
		"eq rate":     func(p *Params, v float64) { p.EqualizerRate = v },
		"baud":        func(p *Params, v float64) { p.Baud = v },
		"alpha":       func(p *Params, v float64) { p.TimingAlpha = v },
		"beta":        func(p *Params, v float64) { p.TimingBeta = v },
		"sym phase":   func(p *Params, v float64) { p.SymbolPhase = v },
	}
	for name, set := range fields {
		for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
			p := DefaultParams(Channel{Bandwidth: 4800})
			set(&p, v)
			assert.True(t, errors.Is(p.Validate(), ErrInvalidParams), "%s = %g", name, v)
		}
	}
}
