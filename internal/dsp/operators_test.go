package dsp

import (
	"errors"
	"math"
	"math/cmplx"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOscillatorZeroFrequencyIsExactlyOne(t *testing.T) {
	o := NewOscillator(0, 0)
	for i := 0; i < 100; i++ {
		require.Equal(t, complex(1, 0), o.Read())
	}
}

func TestOscillatorAdvancesPhase(t *testing.T) {
	o := NewOscillator(math.Pi/2, 0)
	want := []complex128{1, 1i, -1, -1i, 1}
	for i, w := range want {
		got := o.Read()
		assert.InDelta(t, real(w), real(got), 1e-12, "sample %d", i)
		assert.InDelta(t, imag(w), imag(got), 1e-12, "sample %d", i)
	}
}

func TestWrapPhase(t *testing.T) {
	for _, p := range []float64{0, 3 * math.Pi, -3 * math.Pi, 100, -100} {
		w := wrapPhase(p)
		assert.GreaterOrEqual(t, w, -math.Pi)
		assert.Less(t, w, math.Pi)
		assert.InDelta(t, math.Cos(p), math.Cos(w), 1e-9)
	}
}

func TestAGCNormalizesAmplitude(t *testing.T) {
	agc, err := NewAGC(AGCParamsForPeriod(10))
	require.NoError(t, err)
	var out complex128
	for i := 0; i < 20000; i++ {
		out = agc.Feed(complex(0.01*math.Cos(0.1*float64(i)), 0.01*math.Sin(0.1*float64(i))))
	}
	assert.InDelta(t, 1.0, cmplx.Abs(out), 0.05)
}

func TestAGCRejectsBadParams(t *testing.T) {
	_, err := NewAGC(AGCParams{})
	assert.Error(t, err)
}

func TestCostasRejectsBadOrder(t *testing.T) {
	_, err := NewCostas(3, 0, 0, 0.01)
	assert.Error(t, err)
	_, err = NewCostas(2, 0, 0, 0)
	assert.Error(t, err)
}

func TestCostasTracksCarrierOffset(t *testing.T) {
	for _, order := range []int{2, 4, 8} {
		c, err := NewCostas(order, 0, 0, 0.01)
		require.NoError(t, err)
		offset := 0.002 // rad/sample
		rng := rand.New(rand.NewSource(int64(order)))
		sector := 2 * math.Pi / float64(order)
		for i := 0; i < 40000; i++ {
			angle := sector * float64(rng.Intn(order))
			if order > 2 {
				angle += math.Pi / float64(order)
			}
			sym := cmplx.Rect(1, angle)
			z := c.Feed(sym * cmplx.Rect(1, offset*float64(i)+0.3))
			if i >= 39000 {
				// settled outputs sit in the middle of a decision sector
				dev := math.Remainder(cmplx.Phase(z)-math.Pi/float64(order), sector)
				require.InDelta(t, 0, dev, 1e-2, "order %d sample %d", order, i)
			}
		}
		assert.InDelta(t, offset, c.Frequency(), 2e-4, "order %d", order)
		assert.Greater(t, c.Lock(), 0.8, "order %d", order)

		c.SetFrequency(0)
		assert.Equal(t, 0.0, c.Frequency())
	}
}

func TestClampMatchedFilterSpan(t *testing.T) {
	span, truncated := ClampMatchedFilterSpan(2000)
	assert.Equal(t, MaxMatchedFilterSpan, span)
	assert.True(t, truncated)

	span, truncated = ClampMatchedFilterSpan(40)
	assert.Equal(t, 40, span)
	assert.False(t, truncated)

	span, truncated = ClampMatchedFilterSpan(0)
	assert.Equal(t, 1, span)
	assert.False(t, truncated)
}

func TestRRCTapsSymmetricUnitGain(t *testing.T) {
	taps, err := RRCTaps(81, 10, 0.35)
	require.NoError(t, err)
	sum := 0.0
	for i := range taps {
		assert.InDelta(t, taps[i], taps[len(taps)-1-i], 1e-12)
		sum += taps[i]
	}
	assert.InDelta(t, 1.0, sum, 1e-9)

	peak := 0
	for i := range taps {
		if taps[i] > taps[peak] {
			peak = i
		}
	}
	assert.Equal(t, 40, peak)
}

func TestRRCRejectsInvalid(t *testing.T) {
	for _, tc := range []struct {
		n      int
		period float64
		beta   float64
	}{
		{0, 10, 0.35}, {10, 0, 0.35}, {10, math.NaN(), 0.35}, {10, 10, -0.1}, {10, 10, 1.5}, {10, 10, math.NaN()},
	} {
		_, err := NewRRC(tc.n, tc.period, tc.beta)
		assert.True(t, errors.Is(err, ErrInvalidFilter), "%+v", tc)
	}
}

func TestFIRImpulseResponse(t *testing.T) {
	f := NewFIR([]float64{0.5, 0.25, 0.125})
	got := []complex128{f.Feed(1), f.Feed(0), f.Feed(0), f.Feed(0)}
	assert.Equal(t, []complex128{0.5, 0.25, 0.125, 0}, got)
	assert.Equal(t, 3, f.Len())
}

func TestClockDetectorEmitsOneSymbolPerPeriod(t *testing.T) {
	c, err := NewClockDetector(1.0/40, 0.05, 0)
	require.NoError(t, err)
	rng := rand.New(rand.NewSource(7))
	emitted := 0
	for s := 0; s < 1000; s++ {
		v := complex(float64(2*rng.Intn(2)-1), 0)
		for k := 0; k < 40; k++ {
			c.Feed(v)
			for {
				if _, ok := c.Read(); !ok {
					break
				}
				emitted++
			}
		}
	}
	assert.InDelta(t, 1000, emitted, 2)
	assert.Equal(t, 1.0/40, c.Baud())
}

func TestClockDetectorPullsInBaudError(t *testing.T) {
	for _, nominal := range []float64{1.01 / 40, 0.99 / 40} {
		c, err := NewClockDetector(nominal, 0.05, 5e-4)
		require.NoError(t, err)
		rng := rand.New(rand.NewSource(11))
		settled := 0
		for s := 0; s < 2000; s++ {
			v := complex(float64(2*rng.Intn(2)-1), 0)
			for k := 0; k < 40; k++ {
				c.Feed(v)
				for {
					if _, ok := c.Read(); !ok {
						break
					}
					if s >= 1000 {
						settled++
					}
				}
			}
		}
		assert.InDelta(t, 1000, settled, 1, "nominal %g", nominal)
		assert.InDelta(t, 1.0/40, c.Baud(), 1e-4, "nominal %g", nominal)
	}
}

func TestClockDetectorDisabledAtZeroBaud(t *testing.T) {
	c, err := NewClockDetector(0, 0.1, 0)
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		c.Feed(1)
	}
	_, ok := c.Read()
	assert.False(t, ok)

	_, err = NewClockDetector(2, 0, 0)
	assert.Error(t, err)
}

func TestEqualizerFrozenAtZeroRate(t *testing.T) {
	e, err := NewEqualizer(DefaultEqualizerParams())
	require.NoError(t, err)
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 2000; i++ {
		e.Feed(complex(0.8*float64(2*rng.Intn(2)-1), 0.1))
	}
	e.SetRate(0)
	before := e.Coefficients()
	out := e.Feed(1)
	for i := 0; i < 500; i++ {
		e.Feed(complex(float64(2*rng.Intn(2)-1), 0))
	}
	assert.Equal(t, before, e.Coefficients())
	assert.NotEqual(t, complex128(0), out, "frozen equalizer still filters")
}

func TestEqualizerReset(t *testing.T) {
	e, err := NewEqualizer(EqualizerParams{Length: 5, Rate: 0.01})
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		e.Feed(complex(0.5, 0.5))
	}
	e.Reset()
	assert.Equal(t, []complex128{0, 0, 1, 0, 0}, e.Coefficients())

	_, err = NewEqualizer(EqualizerParams{Length: 0})
	assert.Error(t, err)
}

func TestEqualizerPullsTowardUnitModulus(t *testing.T) {
	e, err := NewEqualizer(EqualizerParams{Length: 1, Rate: 0.01, Modulus: 1})
	require.NoError(t, err)
	var y complex128
	for i := 0; i < 5000; i++ {
		y = e.Feed(complex(0.5, 0))
	}
	assert.InDelta(t, 1.0, cmplx.Abs(y), 0.01)
}
