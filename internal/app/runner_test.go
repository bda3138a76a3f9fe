package app

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math/rand"
	"sync"
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rjboer/GoInspect/internal/inspector"
	"github.com/rjboer/GoInspect/internal/logging"
	"github.com/rjboer/GoInspect/internal/sdr"
	"github.com/rjboer/GoInspect/internal/telemetry"
)

const testRate = 48000.0

var testChannel = inspector.Channel{Bandwidth: 4800, Baud: 1200}

type recordingReporter struct {
	mu        sync.Mutex
	batches   []telemetry.SymbolBatch
	spectra   []telemetry.SpectrumFrame
	estimates []telemetry.Estimate
	onBatch   func(n int)
}

func (r *recordingReporter) ReportSymbols(b telemetry.SymbolBatch) {
	r.mu.Lock()
	r.batches = append(r.batches, b)
	n := len(r.batches)
	r.mu.Unlock()
	if r.onBatch != nil {
		r.onBatch(n)
	}
}

func (r *recordingReporter) ReportSpectrum(f telemetry.SpectrumFrame) {
	r.mu.Lock()
	r.spectra = append(r.spectra, f)
	r.mu.Unlock()
}

func (r *recordingReporter) ReportEstimate(e telemetry.Estimate) {
	r.mu.Lock()
	r.estimates = append(r.estimates, e)
	r.mu.Unlock()
}

func (r *recordingReporter) symbols() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []int
	for _, b := range r.batches {
		out = append(out, b.Symbols...)
	}
	return out
}

func manualParams(baud float64) *inspector.Params {
	p := inspector.DefaultParams(testChannel)
	p.GainMode = inspector.GainManual
	p.Gain = 1
	p.CarrierMode = inspector.CarrierManual
	p.MatchedFilter = inspector.MatchedFilterBypass
	p.EqualizerMode = inspector.EqualizerBypass
	p.TimingMode = inspector.TimingManual
	p.Baud = baud
	p.TimingRunning = true
	return &p
}

func bpsk(n, sps int, seed int64) ([]int, []complex64) {
	rng := rand.New(rand.NewSource(seed))
	bits := make([]int, n)
	samples := make([]complex64, 0, n*sps)
	for i := range bits {
		bits[i] = rng.Intn(2)
		v := complex64(complex(float64(1-2*bits[i]), 0))
		for k := 0; k < sps; k++ {
			samples = append(samples, v)
		}
	}
	return bits, samples
}

func recording(t *testing.T, samples []complex64) sdr.Source {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, sdr.WriteCF32(&buf, samples))
	src, err := sdr.NewIQFileSource(&buf, sdr.FormatCF32, 4096)
	require.NoError(t, err)
	return src
}

func newRunner(t *testing.T, src sdr.Source, rep telemetry.Reporter, cfg Config) *Runner {
	t.Helper()
	if cfg.SampleRate == 0 {
		cfg.SampleRate = testRate
	}
	if cfg.Channel == (inspector.Channel{}) {
		cfg.Channel = testChannel
	}
	r := NewRunner(src, rep, logging.New(logging.Debug, logging.Text, io.Discard), cfg, nil)
	require.NoError(t, r.Init())
	return r
}

func counterValue(t *testing.T, m *telemetry.Metrics, name string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == name {
			return metricValue(f.GetMetric()[0])
		}
	}
	t.Fatalf("metric %s not found", name)
	return 0
}

func metricValue(m *dto.Metric) float64 {
	if m.GetCounter() != nil {
		return m.GetCounter().GetValue()
	}
	return m.GetGauge().GetValue()
}

func TestRunnerDecodesRecordedBPSK(t *testing.T) {
	bits, samples := bpsk(1200, 40, 11)
	rep := &recordingReporter{}
	r := newRunner(t, recording(t, samples), rep, Config{Params: manualParams(1200)})
	m := telemetry.NewMetrics()
	r.SetMetrics(m)

	require.NoError(t, r.Run(context.Background()))

	got := rep.symbols()
	require.InDelta(t, len(bits), len(got), 1)
	assert.Equal(t, bits[:len(got)], got)
	for _, b := range rep.batches {
		assert.Equal(t, 2, b.Order)
		assert.Len(t, b.Points, len(b.Symbols))
	}
	assert.Equal(t, float64(len(samples)), counterValue(t, m, "inspector_samples_consumed_total"))
	assert.Equal(t, float64(len(got)), counterValue(t, m, "inspector_symbols_emitted_total"))
	assert.Equal(t, 1.0, counterValue(t, m, "inspector_reconfigurations_total"))
	assert.Equal(t, 0.0, counterValue(t, m, "inspector_running"))
	assert.Equal(t, inspector.StateHalted, r.Inspector().State())
}

func TestRunnerResumesTruncatedFeeds(t *testing.T) {
	_, samples := bpsk(100, 82, 3) // 8200 samples, one symbol per sample below
	rep := &recordingReporter{}
	r := newRunner(t, recording(t, samples), rep, Config{Params: manualParams(testRate)})
	m := telemetry.NewMetrics()
	r.SetMetrics(m)

	require.NoError(t, r.Run(context.Background()))

	total := 0
	for _, b := range rep.batches {
		assert.LessOrEqual(t, len(b.Symbols), inspector.OutputCapacity)
		assert.Equal(t, b.Consumed, len(b.Symbols))
		total += b.Consumed
	}
	assert.Equal(t, len(samples), total)
	// 4096 = 8 * 512 for each full block
	assert.Equal(t, 16.0, counterValue(t, m, "inspector_truncated_feeds_total"))
}

func TestRunnerHaltStopsRun(t *testing.T) {
	src, err := sdr.NewMock(sdr.DefaultMockConfig())
	require.NoError(t, err)
	rep := &recordingReporter{}
	r := newRunner(t, src, rep, Config{Params: manualParams(1200)})
	rep.onBatch = func(n int) {
		if n == 3 {
			r.Halt()
		}
	}

	require.NoError(t, r.Run(context.Background()))
	assert.Equal(t, inspector.StateHalted, r.Inspector().State())
	rep.mu.Lock()
	defer rep.mu.Unlock()
	assert.GreaterOrEqual(t, len(rep.batches), 3)
}

func TestRunnerStopsOnCancel(t *testing.T) {
	src, err := sdr.NewMock(sdr.DefaultMockConfig())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rep := &recordingReporter{onBatch: func(n int) {
		if n == 5 {
			cancel()
		}
	}}
	r := newRunner(t, src, rep, Config{Params: manualParams(1200), WarmupBuffers: 2})

	assert.ErrorIs(t, r.Run(ctx), context.Canceled)
}

func TestRunnerRequiresInit(t *testing.T) {
	r := NewRunner(nil, nil, nil, Config{}, nil)
	assert.ErrorIs(t, r.Run(context.Background()), ErrNotInitialized)
	assert.ErrorIs(t, r.RequestParams(inspector.Params{}), ErrNotInitialized)
	assert.ErrorIs(t, r.SetSpectrumThrottle(2), ErrNotInitialized)

	bad := NewRunner(nil, nil, nil, Config{SampleRate: testRate, Channel: inspector.Channel{Bandwidth: -1}}, nil)
	assert.ErrorIs(t, bad.Init(), inspector.ErrInvalidChannel)

	unknown := NewRunner(nil, nil, nil, Config{SampleRate: testRate, Channel: testChannel, Estimators: []string{"nope"}}, nil)
	assert.Error(t, unknown.Init())
}

func TestRunnerSelectsAndThrottlesSpectrum(t *testing.T) {
	_, samples := bpsk(1200, 40, 5)
	p := manualParams(1200)
	p.SpectrumSource = 1 // psd
	rep := &recordingReporter{}
	r := newRunner(t, recording(t, samples), rep, Config{Params: p, SpectrumSize: 64, SpectrumRate: 10})
	require.NoError(t, r.SetSpectrumThrottle(2))
	assert.Error(t, r.SetSpectrumThrottle(0))

	require.NoError(t, r.Run(context.Background()))

	name, ok := r.SpectrumSource()
	assert.True(t, ok)
	assert.Equal(t, "psd", name)
	require.GreaterOrEqual(t, len(rep.spectra), 3)
	for _, f := range rep.spectra {
		assert.Equal(t, "psd", f.Source)
		assert.Equal(t, 5.0, f.Rate)
		assert.Len(t, f.Bins, 64)
	}
	assert.LessOrEqual(t, len(rep.spectra), 5)
}

func TestRunnerReportsEstimates(t *testing.T) {
	_, samples := bpsk(2400, 40, 7)
	rep := &recordingReporter{}
	r := newRunner(t, recording(t, samples), rep, Config{
		Params:        manualParams(1200),
		Estimators:    []string{"baud-acf"},
		EstimateEvery: 1,
	})
	m := telemetry.NewMetrics()
	r.SetMetrics(m)

	require.NoError(t, r.Run(context.Background()))

	require.NotEmpty(t, rep.estimates)
	last := rep.estimates[len(rep.estimates)-1]
	assert.Equal(t, "baud-acf", last.Name)
	assert.Equal(t, inspector.KeyClockBaud, last.Field)
	assert.InDelta(t, 1200, last.Value, 1)
	assert.InDelta(t, 1200, counterValue(t, m, "inspector_estimate"), 1)
}

func TestControllerAdaptsRunner(t *testing.T) {
	r := newRunner(t, nil, nil, Config{Estimators: []string{"baud-nonlinear"}})
	c := r.Controller()

	o := c.Params()
	o.SetFloat(inspector.KeyClockBaud, 2400)
	o.SetInt(inspector.KeyCostasOrder, 4)
	require.NoError(t, c.RequestParams(o))
	assert.Equal(t, 2400.0, r.Params().Baud)
	assert.Equal(t, inspector.CarrierCostas4, r.Params().CarrierMode)

	o.SetInt(inspector.KeyCostasOrder, 3)
	assert.True(t, errors.Is(c.RequestParams(o), inspector.ErrInvalidParams))
	o = c.Params()
	o.SetString(inspector.KeyAGCEnabled, "yes")
	assert.Error(t, c.RequestParams(o))

	ests := c.Estimators()
	require.Len(t, ests, 1)
	assert.Equal(t, "baud-nonlinear", ests[0].Name)
	assert.True(t, ests[0].Enabled)
	require.NoError(t, c.SetEstimatorEnabled(ests[0].ID, false))
	assert.False(t, c.Estimators()[0].Enabled)

	plugins := c.Plugins()
	assert.Len(t, plugins.Estimators, 2)
	assert.Len(t, plugins.SpectrumSources, 9)
	assert.Equal(t, "psd", plugins.SpectrumSources[0].Name)

	assert.NoError(t, c.ResetEqualizer())
	assert.Error(t, c.SetSpectrumThrottle(-1))
}
