package sdr

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math"
	"math/cmplx"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockRejectsBadConfig(t *testing.T) {
	for _, mutate := range []func(*MockConfig){
		func(c *MockConfig) { c.Order = 3 },
		func(c *MockConfig) { c.Baud = 0 },
		func(c *MockConfig) { c.Baud = 2 * c.SampleRate },
		func(c *MockConfig) { c.NumSamples = 0 },
	} {
		cfg := DefaultMockConfig()
		mutate(&cfg)
		m, err := NewMock(cfg)
		assert.Nil(t, m)
		assert.True(t, errors.Is(err, ErrInvalidConfig))
	}
}

func TestMockGeneratesConstellation(t *testing.T) {
	for _, order := range []int{2, 4, 8} {
		cfg := DefaultMockConfig()
		cfg.Order = order
		cfg.NumSamples = 2000
		m, err := NewMock(cfg)
		require.NoError(t, err)

		block, err := m.RX(context.Background())
		require.NoError(t, err)
		require.Len(t, block, cfg.NumSamples)

		sector := 2 * math.Pi / float64(order)
		for i, x := range block {
			c := complex128(x)
			assert.InDelta(t, 1, cmplx.Abs(c), 1e-5, "sample %d", i)
			off := math.Mod(cmplx.Phase(c)+2*math.Pi, sector)
			if order == 2 {
				off = math.Min(off, sector-off)
				assert.InDelta(t, 0, off, 1e-5)
				continue
			}
			assert.InDelta(t, sector/2, off, 1e-5)
		}
		// rectangular pulses hold for a full symbol period
		period := int(cfg.SampleRate / cfg.Baud)
		for s := 0; s+period <= len(block); s += period {
			for i := s + 1; i < s+period; i++ {
				assert.Equal(t, block[s], block[i])
			}
		}
	}
}

func TestMockIsDeterministic(t *testing.T) {
	cfg := DefaultMockConfig()
	cfg.NoiseStdDev = 0.1
	a, err := NewMock(cfg)
	require.NoError(t, err)
	b, err := NewMock(cfg)
	require.NoError(t, err)
	for range 3 {
		x, _ := a.RX(context.Background())
		y, _ := b.RX(context.Background())
		require.Equal(t, x, y)
	}
}

func TestMockCarrierOffset(t *testing.T) {
	cfg := DefaultMockConfig()
	cfg.NumSamples = 64
	m, err := NewMock(cfg)
	require.NoError(t, err)
	m.SetCarrierOffset(cfg.SampleRate / 16)
	assert.Equal(t, cfg.SampleRate/16, m.CarrierOffset())

	block, err := m.RX(context.Background())
	require.NoError(t, err)
	// squaring strips BPSK modulation and leaves twice the carrier step
	want := 2 * 2 * math.Pi / 16
	for i := 1; i < len(block); i++ {
		a := complex128(block[i] * block[i])
		b := complex128(block[i-1] * block[i-1])
		assert.InDelta(t, want, cmplx.Phase(a*cmplx.Conj(b)), 1e-4)
	}
}

func TestMockHonoursContext(t *testing.T) {
	m, err := NewMock(DefaultMockConfig())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = m.RX(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIQFileSourceCF32(t *testing.T) {
	want := []complex64{1 + 2i, -0.5 + 0.25i, 3, -1i, 0.125}
	var buf bytes.Buffer
	require.NoError(t, WriteCF32(&buf, want))

	src, err := NewIQFileSource(&buf, FormatCF32, 2)
	require.NoError(t, err)
	var got []complex64
	for {
		block, err := src.RX(context.Background())
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		assert.LessOrEqual(t, len(block), 2)
		got = append(got, block...)
	}
	assert.Equal(t, want, got)
	assert.NoError(t, src.Close())
}

func TestIQFileSourceU8(t *testing.T) {
	raw := []byte{255, 0, 127, 128, 0}
	src, err := NewIQFileSource(bytes.NewReader(raw), FormatU8, 8)
	require.NoError(t, err)
	block, err := src.RX(context.Background())
	require.NoError(t, err)
	require.Len(t, block, 2) // trailing odd byte is a torn sample
	assert.InDelta(t, 127.5/128, real(block[0]), 1e-6)
	assert.InDelta(t, -127.5/128, imag(block[0]), 1e-6)
	assert.InDelta(t, -0.5/128, real(block[1]), 1e-6)
	assert.InDelta(t, 0.5/128, imag(block[1]), 1e-6)

	_, err = src.RX(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}

func TestParseIQFormat(t *testing.T) {
	f, err := ParseIQFormat("CU8")
	require.NoError(t, err)
	assert.Equal(t, FormatU8, f)
	assert.Equal(t, "cf32", FormatCF32.String())
	_, err = ParseIQFormat("s16")
	assert.ErrorIs(t, err, ErrInvalidConfig)
	_, err = NewIQFileSource(bytes.NewReader(nil), FormatCF32, 0)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
