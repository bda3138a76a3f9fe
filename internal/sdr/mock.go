package sdr

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
)

// MockConfig describes the synthetic M-PSK signal produced by MockSource.
type MockConfig struct {
	SampleRate    float64
	Baud          float64
	Order         int     // 2, 4 or 8
	CarrierOffset float64 // Hz
	Phase         float64 // rad
	Amplitude     float64
	NoiseStdDev   float64
	NumSamples    int
	Seed          int64
}

// DefaultMockConfig returns a clean 1200 baud BPSK signal at 48 kHz.
func DefaultMockConfig() MockConfig {
	return MockConfig{
		SampleRate: 48000,
		Baud:       1200,
		Order:      2,
		Amplitude:  1,
		NumSamples: 4096,
		Seed:       1,
	}
}

func (c MockConfig) validate() error {
	switch c.Order {
	case 2, 4, 8:
	default:
		return fmt.Errorf("%w: constellation order %d", ErrInvalidConfig, c.Order)
	}
	if c.SampleRate <= 0 || c.Baud <= 0 || c.Baud > c.SampleRate {
		return fmt.Errorf("%w: baud %g at sample rate %g", ErrInvalidConfig, c.Baud, c.SampleRate)
	}
	if c.NumSamples <= 0 {
		return fmt.Errorf("%w: block size %d", ErrInvalidConfig, c.NumSamples)
	}
	return nil
}

// MockSource synthesizes rectangular-pulse M-PSK with a controllable
// carrier offset. Symbols and noise come from a seeded generator so runs
// are reproducible.
type MockSource struct {
	mu  sync.RWMutex
	cfg MockConfig

	rng      *rand.Rand
	carrier  float64 // rad
	symPhase float64 // samples into the current symbol
	symbol   complex128
}

// NewMock validates cfg and returns a source positioned at the start of a
// symbol.
func NewMock(cfg MockConfig) (*MockSource, error) {
	if cfg.Amplitude == 0 {
		cfg.Amplitude = 1
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	m := &MockSource{cfg: cfg, rng: rand.New(rand.NewSource(cfg.Seed)), carrier: cfg.Phase}
	m.symbol = m.nextSymbol()
	return m, nil
}

func (m *MockSource) Close() error { return nil }

// SetCarrierOffset moves the synthetic carrier while the source is running.
func (m *MockSource) SetCarrierOffset(hz float64) {
	m.mu.Lock()
	m.cfg.CarrierOffset = hz
	m.mu.Unlock()
}

// CarrierOffset returns the current carrier offset in Hz.
func (m *MockSource) CarrierOffset() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg.CarrierOffset
}

func (m *MockSource) nextSymbol() complex128 {
	k := m.rng.Intn(m.cfg.Order)
	angle := 2 * math.Pi * (float64(k) + 0.5) / float64(m.cfg.Order)
	if m.cfg.Order == 2 {
		angle = math.Pi * float64(k)
	}
	return complex(math.Cos(angle), math.Sin(angle))
}

func (m *MockSource) RX(ctx context.Context) ([]complex64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	cfg := m.cfg
	period := cfg.SampleRate / cfg.Baud
	step := 2 * math.Pi * cfg.CarrierOffset / cfg.SampleRate
	out := make([]complex64, cfg.NumSamples)
	for i := range out {
		if m.symPhase >= period {
			m.symPhase -= period
			m.symbol = m.nextSymbol()
		}
		lo := complex(math.Cos(m.carrier), math.Sin(m.carrier))
		x := complex(cfg.Amplitude, 0) * m.symbol * lo
		if cfg.NoiseStdDev > 0 {
			x += complex(m.rng.NormFloat64()*cfg.NoiseStdDev, m.rng.NormFloat64()*cfg.NoiseStdDev)
		}
		out[i] = complex64(x)
		m.symPhase++
		m.carrier = math.Mod(m.carrier+step, 2*math.Pi)
	}
	return out, nil
}
