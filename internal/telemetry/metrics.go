package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the inspector's Prometheus collectors. Each Metrics owns
// its registry so several runners or tests can coexist in one process.
type Metrics struct {
	registry *prometheus.Registry

	samplesConsumed prometheus.Counter
	symbolsEmitted  prometheus.Counter
	feedCalls       prometheus.Counter
	truncatedFeeds  prometheus.Counter // Feed calls stopped by the output capacity

	reconfigurations prometheus.Counter
	mfRebuilds       prometheus.Counter
	mfFailures       prometheus.Counter

	estimates *prometheus.GaugeVec // by estimator and field
	running   prometheus.Gauge

	mu   sync.Mutex
	last Counters
}

// Counters are the inspector's cumulative counts at one instant.
type Counters struct {
	Reconfigurations uint64
	MFRebuilds       uint64
	MFFailures       uint64
}

// NewMetrics registers every collector on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		samplesConsumed: f.NewCounter(prometheus.CounterOpts{
			Name: "inspector_samples_consumed_total",
			Help: "Baseband samples consumed by the inspector pipeline",
		}),
		symbolsEmitted: f.NewCounter(prometheus.CounterOpts{
			Name: "inspector_symbols_emitted_total",
			Help: "Symbols produced by timing recovery",
		}),
		feedCalls: f.NewCounter(prometheus.CounterOpts{
			Name: "inspector_feed_calls_total",
			Help: "Calls to the inspector feed operation",
		}),
		truncatedFeeds: f.NewCounter(prometheus.CounterOpts{
			Name: "inspector_truncated_feeds_total",
			Help: "Feed calls that stopped early because the symbol buffer filled",
		}),
		reconfigurations: f.NewCounter(prometheus.CounterOpts{
			Name: "inspector_reconfigurations_total",
			Help: "Parameter sets applied by the pipeline",
		}),
		mfRebuilds: f.NewCounter(prometheus.CounterOpts{
			Name: "inspector_matched_filter_rebuilds_total",
			Help: "Successful matched filter rebuilds",
		}),
		mfFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "inspector_matched_filter_rebuild_failures_total",
			Help: "Matched filter rebuilds that failed and kept the previous filter",
		}),
		estimates: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "inspector_estimate",
			Help: "Latest value reported by each enabled estimator",
		}, []string{"estimator", "field"}),
		running: f.NewGauge(prometheus.GaugeOpts{
			Name: "inspector_running",
			Help: "1 while the runner feeds the inspector",
		}),
	}
}

// ObserveFeed records one Feed call.
func (m *Metrics) ObserveFeed(consumed, symbols int, truncated bool) {
	m.feedCalls.Inc()
	m.samplesConsumed.Add(float64(consumed))
	m.symbolsEmitted.Add(float64(symbols))
	if truncated {
		m.truncatedFeeds.Inc()
	}
}

// ObserveCounters advances the reconfiguration counters to c. Counts lower
// than the previous observation are ignored.
func (m *Metrics) ObserveCounters(c Counters) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.Reconfigurations > m.last.Reconfigurations {
		m.reconfigurations.Add(float64(c.Reconfigurations - m.last.Reconfigurations))
		m.last.Reconfigurations = c.Reconfigurations
	}
	if c.MFRebuilds > m.last.MFRebuilds {
		m.mfRebuilds.Add(float64(c.MFRebuilds - m.last.MFRebuilds))
		m.last.MFRebuilds = c.MFRebuilds
	}
	if c.MFFailures > m.last.MFFailures {
		m.mfFailures.Add(float64(c.MFFailures - m.last.MFFailures))
		m.last.MFFailures = c.MFFailures
	}
}

// ObserveEstimate sets the gauge for one estimator.
func (m *Metrics) ObserveEstimate(est Estimate) {
	m.estimates.WithLabelValues(est.Name, est.Field).Set(est.Value)
}

// SetRunning flips the running gauge.
func (m *Metrics) SetRunning(running bool) {
	if running {
		m.running.Set(1)
		return
	}
	m.running.Set(0)
}

// Registry exposes the underlying registry for gathering in tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
