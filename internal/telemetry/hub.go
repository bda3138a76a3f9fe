package telemetry

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rjboer/GoInspect/internal/logging"
)

// Config represents the runtime configuration exposed by the telemetry hub.
type Config struct {
	HistoryLimit int `json:"historyLimit"`
	LiveBuffer   int `json:"liveBuffer"`
}

const (
	minHistoryLimit = 1
	maxHistoryLimit = 10_000
	minLiveBuffer   = 1
	maxLiveBuffer   = 1024
)

func defaultConfig() Config {
	return Config{
		HistoryLimit: 500,
		LiveBuffer:   16,
	}
}

func validateConfig(cfg Config, base Config) (Config, error) {
	if base.HistoryLimit == 0 || base.LiveBuffer == 0 {
		base = defaultConfig()
	}
	if cfg.HistoryLimit == 0 {
		cfg.HistoryLimit = base.HistoryLimit
	}
	if cfg.LiveBuffer == 0 {
		cfg.LiveBuffer = base.LiveBuffer
	}

	if cfg.HistoryLimit < minHistoryLimit || cfg.HistoryLimit > maxHistoryLimit {
		return Config{}, fmt.Errorf("history limit must be between %d and %d", minHistoryLimit, maxHistoryLimit)
	}
	if cfg.LiveBuffer < minLiveBuffer || cfg.LiveBuffer > maxLiveBuffer {
		return Config{}, fmt.Errorf("live buffer must be between %d and %d", minLiveBuffer, maxLiveBuffer)
	}
	return cfg, nil
}

// Point is one constellation point.
type Point struct {
	I float64 `json:"i"`
	Q float64 `json:"q"`
}

// SymbolBatch is the output of one Feed call.
type SymbolBatch struct {
	Timestamp  time.Time `json:"timestamp"`
	Generation uint64    `json:"generation"`
	Consumed   int       `json:"consumed"`
	Order      int       `json:"order"`
	Points     []Point   `json:"points"`
	Symbols    []int     `json:"symbols,omitempty"`
}

// SpectrumFrame is one averaged PSD produced by a spectrum source.
type SpectrumFrame struct {
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	Rate      float64   `json:"rate"`
	Bins      []float64 `json:"bins"`
}

// Estimate is one estimator reading.
type Estimate struct {
	Timestamp time.Time `json:"timestamp"`
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Field     string    `json:"field"`
	Value     float64   `json:"value"`
}

// Event is what live subscribers receive. Exactly one payload is set.
type Event struct {
	Kind     string         `json:"kind"`
	Symbols  *SymbolBatch   `json:"symbols,omitempty"`
	Spectrum *SpectrumFrame `json:"spectrum,omitempty"`
	Estimate *Estimate      `json:"estimate,omitempty"`
}

const (
	EventSymbols  = "symbols"
	EventSpectrum = "spectrum"
	EventEstimate = "estimate"
)

// Hub collects history and fans out telemetry updates to subscribers.
type Hub struct {
	mu          sync.RWMutex
	history     []SymbolBatch
	spectrum    *SpectrumFrame
	estimates   map[uuid.UUID]Estimate
	subscribers map[chan Event]struct{}
	config      Config

	controller Controller
	logger     logging.Logger
}

// NewHub builds a telemetry hub with the provided history limit.
func NewHub(historyLimit int, logger logging.Logger) *Hub {
	if logger == nil {
		logger = logging.Default()
	}
	cfg := defaultConfig()
	if historyLimit > 0 {
		cfg.HistoryLimit = historyLimit
	}
	cfg, err := validateConfig(cfg, defaultConfig())
	if err != nil {
		cfg = defaultConfig()
	}
	return &Hub{
		estimates:   make(map[uuid.UUID]Estimate),
		subscribers: make(map[chan Event]struct{}),
		config:      cfg,
		logger:      logger.With(logging.F("subsystem", "telemetry")),
	}
}

// SetController connects the control endpoints to a running inspector.
func (h *Hub) SetController(c Controller) {
	h.mu.Lock()
	h.controller = c
	h.mu.Unlock()
}

func (h *Hub) controllerSnapshot() Controller {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.controller
}

// publish must be called with mu held.
func (h *Hub) publish(ev Event) {
	for ch := range h.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}

// ReportSymbols implements Reporter and appends a batch to the history.
func (h *Hub) ReportSymbols(batch SymbolBatch) {
	if batch.Timestamp.IsZero() {
		batch.Timestamp = time.Now()
	}
	h.mu.Lock()
	h.history = append(h.history, batch)
	if len(h.history) > h.config.HistoryLimit {
		h.history = h.history[len(h.history)-h.config.HistoryLimit:]
	}
	h.publish(Event{Kind: EventSymbols, Symbols: &batch})
	h.mu.Unlock()
}

// ReportSpectrum implements Reporter and replaces the latest frame.
func (h *Hub) ReportSpectrum(frame SpectrumFrame) {
	if frame.Timestamp.IsZero() {
		frame.Timestamp = time.Now()
	}
	h.mu.Lock()
	h.spectrum = &frame
	h.publish(Event{Kind: EventSpectrum, Spectrum: &frame})
	h.mu.Unlock()
}

// ReportEstimate implements Reporter and records the latest reading per
// estimator instance.
func (h *Hub) ReportEstimate(est Estimate) {
	if est.Timestamp.IsZero() {
		est.Timestamp = time.Now()
	}
	h.mu.Lock()
	h.estimates[est.ID] = est
	h.publish(Event{Kind: EventEstimate, Estimate: &est})
	h.mu.Unlock()
}

// History returns a copy of stored symbol batches.
func (h *Hub) History() []SymbolBatch {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]SymbolBatch, len(h.history))
	copy(out, h.history)
	return out
}

// LatestSpectrum returns the most recent spectrum frame.
func (h *Hub) LatestSpectrum() (SpectrumFrame, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.spectrum == nil {
		return SpectrumFrame{}, false
	}
	return *h.spectrum, true
}

// LatestEstimates returns the most recent reading of every estimator.
func (h *Hub) LatestEstimates() map[uuid.UUID]Estimate {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[uuid.UUID]Estimate, len(h.estimates))
	for k, v := range h.estimates {
		out[k] = v
	}
	return out
}

// ConfigSnapshot returns the latest validated configuration.
func (h *Hub) ConfigSnapshot() Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.config
}

// Subscribe registers a listener for live updates.
func (h *Hub) Subscribe() (chan Event, func()) {
	h.mu.Lock()
	ch := make(chan Event, h.config.LiveBuffer)
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subscribers, ch)
			close(ch)
			h.mu.Unlock()
		})
	}
	return ch, cancel
}

func (h *Hub) applyConfig(cfg Config) {
	h.config = cfg
	if len(h.history) > cfg.HistoryLimit {
		h.history = h.history[len(h.history)-cfg.HistoryLimit:]
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Hub) handleHistory(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, h.History())
}

func (h *Hub) handleGetConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, h.ConfigSnapshot())
}

func (h *Hub) handleSetConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var incoming Config
	if err := json.NewDecoder(r.Body).Decode(&incoming); err != nil {
		http.Error(w, fmt.Sprintf("invalid config payload: %v", err), http.StatusBadRequest)
		return
	}

	h.mu.Lock()
	cfg, err := validateConfig(incoming, h.config)
	if err == nil {
		h.applyConfig(cfg)
	}
	h.mu.Unlock()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	h.logger.Info("telemetry config updated", logging.F("history_limit", cfg.HistoryLimit), logging.F("live_buffer", cfg.LiveBuffer))
	writeJSON(w, cfg)
}

func (h *Hub) handleSpectrum(w http.ResponseWriter, _ *http.Request) {
	frame, ok := h.LatestSpectrum()
	if !ok {
		http.Error(w, "no spectrum yet", http.StatusNotFound)
		return
	}
	writeJSON(w, frame)
}

func writeEvent(w http.ResponseWriter, ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, payload)
}

func (h *Hub) handleLive(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, cancel := h.Subscribe()
	defer cancel()

	// send existing history for immediate display
	for _, batch := range h.History() {
		writeEvent(w, Event{Kind: EventSymbols, Symbols: &batch})
	}
	if frame, ok := h.LatestSpectrum(); ok {
		writeEvent(w, Event{Kind: EventSpectrum, Spectrum: &frame})
	}
	flusher.Flush()

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			writeEvent(w, ev)
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
