package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rjboer/GoInspect/internal/dsp"
	"github.com/rjboer/GoInspect/internal/estimator"
	"github.com/rjboer/GoInspect/internal/inspector"
	"github.com/rjboer/GoInspect/internal/logging"
	"github.com/rjboer/GoInspect/internal/sdr"
	"github.com/rjboer/GoInspect/internal/specsrc"
	"github.com/rjboer/GoInspect/internal/telemetry"
)

var ErrNotInitialized = errors.New("runner: not initialized")

// Config captures application level configuration.
type Config struct {
	SampleRate float64
	Channel    inspector.Channel
	// Params replaces the channel defaults when non-nil.
	Params *inspector.Params

	// Estimators are attached and enabled by name during Init.
	Estimators []string

	SpectrumSize   int
	SpectrumRate   float64
	SpectrumWindow dsp.Window

	// DecisionOrder is the constellation order used for decisions while
	// carrier recovery is manual.
	DecisionOrder int

	WarmupBuffers int
	// EstimateEvery reports estimator readings once per this many blocks.
	EstimateEvery int
	// Interval paces RX calls; zero reads as fast as the source delivers.
	Interval time.Duration
}

// Plugins bundles the estimator and spectrum-source registries.
type Plugins struct {
	Estimators *estimator.Registry
	Spectra    *specsrc.Registry
}

// NewPlugins builds both registries with the built-in classes.
func NewPlugins() (*Plugins, error) {
	p := &Plugins{Estimators: estimator.NewRegistry(), Spectra: specsrc.NewRegistry()}
	if err := estimator.RegisterBuiltins(p.Estimators); err != nil {
		return nil, fmt.Errorf("register estimators: %w", err)
	}
	if err := specsrc.RegisterBuiltins(p.Spectra); err != nil {
		return nil, fmt.Errorf("register spectrum sources: %w", err)
	}
	return p, nil
}

// Runner owns one inspector and drives it from a sample source. Feed is
// only ever called from the goroutine running Run.
type Runner struct {
	source   sdr.Source
	reporter telemetry.Reporter
	metrics  *telemetry.Metrics
	logger   logging.Logger
	cfg      Config
	plugins  *Plugins

	in      *inspector.Inspector
	decided []int
	points  []telemetry.Point
	blocks  int

	// mu guards the selected spectrum source. Lock order is mu before the
	// inspector's attachment lock.
	mu        sync.Mutex
	specIndex int
	specID    uuid.UUID
	specName  string
	throttle  float64

	// specRate holds the float64 bits of the effective spectrum rate and is
	// read by the spectrum callback, which must not take mu.
	specRate atomic.Uint64
}

func NewRunner(source sdr.Source, reporter telemetry.Reporter, logger logging.Logger, cfg Config, plugins *Plugins) *Runner {
	if logger == nil {
		logger = logging.Default()
	}
	r := &Runner{
		source:   source,
		reporter: reporter,
		logger:   logger.With(logging.F("subsystem", "runner")),
		cfg:      cfg,
		plugins:  plugins,
		throttle: 1,
	}
	r.specRate.Store(math.Float64bits(cfg.SpectrumRate))
	return r
}

// SetMetrics attaches Prometheus collectors. Call before Run.
func (r *Runner) SetMetrics(m *telemetry.Metrics) { r.metrics = m }

// Init builds the inspector, applies the configured parameters and attaches
// the configured estimators.
func (r *Runner) Init() error {
	if r.cfg.SpectrumSize == 0 {
		r.cfg.SpectrumSize = 256
	}
	if r.cfg.SpectrumRate == 0 {
		r.cfg.SpectrumRate = 10
		r.specRate.Store(math.Float64bits(r.cfg.SpectrumRate / r.throttle))
	}
	if r.cfg.DecisionOrder == 0 {
		r.cfg.DecisionOrder = 2
	}
	if r.cfg.EstimateEvery == 0 {
		r.cfg.EstimateEvery = 8
	}
	if r.plugins == nil {
		p, err := NewPlugins()
		if err != nil {
			return err
		}
		r.plugins = p
	}

	in, err := inspector.New(r.cfg.SampleRate, r.cfg.Channel, inspector.Options{Logger: r.logger})
	if err != nil {
		return fmt.Errorf("create inspector: %w", err)
	}
	if r.cfg.Params != nil {
		if err := in.RequestParams(*r.cfg.Params); err != nil {
			in.Close()
			return fmt.Errorf("apply params: %w", err)
		}
	}
	for _, name := range r.cfg.Estimators {
		class, err := r.plugins.Estimators.Lookup(name)
		if err != nil {
			in.Close()
			return fmt.Errorf("estimator %q: %w", name, err)
		}
		id, err := in.AttachEstimator(class)
		if err != nil {
			in.Close()
			return fmt.Errorf("attach estimator %q: %w", name, err)
		}
		if err := in.SetEstimatorEnabled(id, true); err != nil {
			in.Close()
			return err
		}
	}
	r.in = in
	r.logger.Info("inspector created",
		logging.F("sample_rate", r.cfg.SampleRate),
		logging.F("bandwidth", r.cfg.Channel.Bandwidth),
		logging.F("baud", in.RequestedParams().Baud),
		logging.F("estimators", len(r.cfg.Estimators)),
	)
	return nil
}

// Inspector returns the owned inspector, nil before Init.
func (r *Runner) Inspector() *inspector.Inspector { return r.in }

// Run feeds the inspector until ctx is canceled, the source is drained or
// Halt is called. The inspector is closed on return.
func (r *Runner) Run(ctx context.Context) error {
	if r.in == nil {
		return ErrNotInitialized
	}
	defer r.close()

	if err := r.warmup(ctx); err != nil {
		return fmt.Errorf("warmup: %w", err)
	}
	if r.metrics != nil {
		r.metrics.SetRunning(true)
		defer r.metrics.SetRunning(false)
	}

	var tick <-chan time.Time
	if r.cfg.Interval > 0 {
		ticker := time.NewTicker(r.cfg.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		if tick != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-tick:
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}

		block, err := r.source.RX(ctx)
		if errors.Is(err, io.EOF) {
			r.logger.Info("source drained")
			return nil
		}
		if err != nil {
			return fmt.Errorf("receive samples: %w", err)
		}
		if len(block) == 0 {
			r.logger.Warn("received empty buffer")
			continue
		}

		if err := r.process(block); err != nil {
			if errors.Is(err, inspector.ErrClosed) {
				r.logger.Info("inspector halted")
				return nil
			}
			return err
		}
	}
}

// process feeds one source block, resuming after every truncated Feed until
// the whole block is consumed.
func (r *Runner) process(block []complex64) error {
	for len(block) > 0 {
		start := time.Now()
		n, symbols, err := r.in.Feed(block)
		if err != nil {
			return err
		}
		block = block[n:]

		params := r.in.ActiveParams()
		r.report(n, symbols, params)
		r.syncSpectrum(params)

		r.logger.Debug("feed complete",
			logging.F("consumed", n),
			logging.F("emitted", len(symbols)),
			logging.F("elapsed_ms", time.Since(start).Seconds()*1000),
		)
	}

	r.blocks++
	if r.blocks%r.cfg.EstimateEvery == 0 {
		r.reportEstimates()
	}
	return nil
}

func (r *Runner) decisionOrder(p inspector.Params) int {
	if order := p.CarrierMode.Order(); order > 0 {
		return order
	}
	return r.cfg.DecisionOrder
}

func (r *Runner) report(consumed int, symbols []complex128, params inspector.Params) {
	if r.metrics != nil {
		r.metrics.ObserveFeed(consumed, len(symbols), len(symbols) >= inspector.OutputCapacity)
		r.metrics.ObserveCounters(telemetry.Counters{
			Reconfigurations: r.in.Generation(),
			MFRebuilds:       r.in.MatchedFilterGeneration(),
			MFFailures:       r.in.MatchedFilterFailures(),
		})
	}
	if r.reporter == nil || len(symbols) == 0 {
		return
	}

	order := r.decisionOrder(params)
	r.decided = inspector.DecideBlock(r.decided, symbols, order)
	r.points = r.points[:0]
	for _, s := range symbols {
		r.points = append(r.points, telemetry.Point{I: real(s), Q: imag(s)})
	}
	// reporters may keep the batch, the scratch slices are reused
	r.reporter.ReportSymbols(telemetry.SymbolBatch{
		Timestamp:  time.Now(),
		Generation: r.in.Generation(),
		Consumed:   consumed,
		Order:      order,
		Points:     append([]telemetry.Point(nil), r.points...),
		Symbols:    append([]int(nil), r.decided...),
	})
}

func (r *Runner) reportEstimates() {
	for _, reading := range r.in.Estimators() {
		if !reading.Enabled || !reading.Valid {
			continue
		}
		est := telemetry.Estimate{
			Timestamp: time.Now(),
			ID:        reading.ID,
			Name:      reading.Name,
			Field:     reading.Field,
			Value:     reading.Value,
		}
		if r.metrics != nil {
			r.metrics.ObserveEstimate(est)
		}
		if r.reporter != nil {
			r.reporter.ReportEstimate(est)
		}
	}
}

// syncSpectrum keeps the attached spectrum source in line with the active
// spectrum.source parameter. Index n selects the n-th registered class and
// zero detaches.
func (r *Runner) syncSpectrum(p inspector.Params) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p.SpectrumSource == r.specIndex {
		return
	}
	if r.specID != uuid.Nil {
		if err := r.in.DetachSpectrumSource(r.specID); err != nil {
			r.logger.Warn("detach spectrum source", logging.F("error", err))
		}
		r.specID, r.specName = uuid.Nil, ""
	}
	r.specIndex = p.SpectrumSource
	if p.SpectrumSource == 0 {
		return
	}

	class, err := r.plugins.Spectra.At(p.SpectrumSource - 1)
	if err != nil {
		r.logger.Warn("unknown spectrum source", logging.F("index", p.SpectrumSource), logging.F("error", err))
		return
	}
	name := class.Name
	id, err := r.in.AttachSpectrumSource(class, r.cfg.SpectrumSize, r.cfg.SpectrumRate, r.cfg.SpectrumWindow, func(psd []float64) {
		r.reportSpectrum(name, psd)
	})
	if err != nil {
		r.logger.Warn("attach spectrum source", logging.F("name", name), logging.F("error", err))
		return
	}
	if r.throttle != 1 {
		if err := r.in.SetSpectrumThrottle(id, r.throttle); err != nil {
			r.logger.Warn("throttle spectrum source", logging.F("name", name), logging.F("error", err))
		}
	}
	r.specID, r.specName = id, name
	r.logger.Info("spectrum source selected", logging.F("name", name))
}

// reportSpectrum runs on the feed goroutine from inside the inspector's
// attachment lock and must not call back into the inspector.
func (r *Runner) reportSpectrum(name string, psd []float64) {
	if r.reporter == nil {
		return
	}
	r.reporter.ReportSpectrum(telemetry.SpectrumFrame{
		Timestamp: time.Now(),
		Source:    name,
		Rate:      math.Float64frombits(r.specRate.Load()),
		Bins:      psd,
	})
}

func (r *Runner) warmup(ctx context.Context) error {
	if r.cfg.WarmupBuffers <= 0 {
		return nil
	}
	for i := 0; i < r.cfg.WarmupBuffers; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		warmupStart := time.Now()
		if _, err := r.source.RX(ctx); err != nil {
			return fmt.Errorf("warmup RX buffer %d: %w", i, err)
		}
		r.logger.Debug("warmup buffer processed", logging.F("index", i), logging.F("duration_ms", time.Since(warmupStart).Seconds()*1000))
	}
	return nil
}

func (r *Runner) close() {
	r.in.Close()
	if err := r.source.Close(); err != nil {
		r.logger.Warn("close source", logging.F("error", err))
	}
}

// Halt asks Run to stop after the block in progress.
func (r *Runner) Halt() {
	if r.in != nil {
		r.in.Halt()
	}
}

// RequestParams queues a parameter set for the next block.
func (r *Runner) RequestParams(p inspector.Params) error {
	if r.in == nil {
		return ErrNotInitialized
	}
	if err := r.in.RequestParams(p); err != nil {
		return err
	}
	r.logger.Info("params requested",
		logging.F("carrier", p.CarrierMode.String()),
		logging.F("timing", p.TimingMode.String()),
		logging.F("baud", p.Baud),
	)
	return nil
}

// Params returns the most recently requested parameter set.
func (r *Runner) Params() inspector.Params {
	if r.in == nil {
		return inspector.DefaultParams(r.cfg.Channel)
	}
	return r.in.RequestedParams()
}

func (r *Runner) ResetEqualizer() error {
	if r.in == nil {
		return ErrNotInitialized
	}
	r.in.ResetEqualizer()
	return nil
}

func (r *Runner) Estimators() []inspector.EstimatorReading {
	if r.in == nil {
		return nil
	}
	return r.in.Estimators()
}

func (r *Runner) SetEstimatorEnabled(id uuid.UUID, enabled bool) error {
	if r.in == nil {
		return ErrNotInitialized
	}
	return r.in.SetEstimatorEnabled(id, enabled)
}

// SetSpectrumThrottle divides the spectrum refresh rate by factor. The
// factor also applies to sources selected later.
func (r *Runner) SetSpectrumThrottle(factor float64) error {
	if r.in == nil {
		return ErrNotInitialized
	}
	if factor <= 0 || math.IsNaN(factor) || math.IsInf(factor, 0) {
		return fmt.Errorf("runner: invalid throttle factor %g", factor)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.specID != uuid.Nil {
		if err := r.in.SetSpectrumThrottle(r.specID, factor); err != nil {
			return err
		}
	}
	r.throttle = factor
	r.specRate.Store(math.Float64bits(r.cfg.SpectrumRate / factor))
	return nil
}

// SpectrumSource returns the name of the attached spectrum source.
func (r *Runner) SpectrumSource() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.specName, r.specID != uuid.Nil
}
