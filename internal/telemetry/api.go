package telemetry

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/rjboer/GoInspect/internal/config"
	"github.com/rjboer/GoInspect/internal/logging"
)

// EstimatorStatus describes one attached estimator for the control API.
type EstimatorStatus struct {
	ID      uuid.UUID `json:"id"`
	Name    string    `json:"name"`
	Field   string    `json:"field"`
	Enabled bool      `json:"enabled"`
	Value   float64   `json:"value"`
	Valid   bool      `json:"valid"`
}

// PluginInfo names a registered plugin class.
type PluginInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Field       string `json:"field,omitempty"`
}

// PluginList is the content of both plugin registries in registration
// order. A spectrum.source value of n selects SpectrumSources[n-1].
type PluginList struct {
	Estimators      []PluginInfo `json:"estimators"`
	SpectrumSources []PluginInfo `json:"spectrumSources"`
}

// Controller is the inspector-facing side of the control endpoints.
type Controller interface {
	// Params returns the most recently requested parameters as a flat
	// key-value object.
	Params() *config.Object
	RequestParams(o *config.Object) error
	ResetEqualizer() error
	Estimators() []EstimatorStatus
	SetEstimatorEnabled(id uuid.UUID, enabled bool) error
	SetSpectrumThrottle(factor float64) error
	Plugins() PluginList
}

func (h *Hub) withController(w http.ResponseWriter) (Controller, bool) {
	c := h.controllerSnapshot()
	if c == nil {
		http.Error(w, "no inspector attached", http.StatusServiceUnavailable)
		return nil, false
	}
	return c, true
}

func (h *Hub) handleParams(w http.ResponseWriter, r *http.Request) {
	c, ok := h.withController(w)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, c.Params())
	case http.MethodPost:
		patch := config.New()
		if err := json.NewDecoder(r.Body).Decode(patch); err != nil {
			http.Error(w, fmt.Sprintf("invalid params payload: %v", err), http.StatusBadRequest)
			return
		}
		merged := c.Params()
		merged.Merge(patch)
		if err := c.RequestParams(merged); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.logger.Info("params requested", logging.F("fields", patch.Len()))
		writeJSON(w, merged)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Hub) handleResetEqualizer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	c, ok := h.withController(w)
	if !ok {
		return
	}
	if err := c.ResetEqualizer(); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Hub) handleEstimators(w http.ResponseWriter, _ *http.Request) {
	c, ok := h.withController(w)
	if !ok {
		return
	}
	writeJSON(w, c.Estimators())
}

type enableRequest struct {
	ID      uuid.UUID `json:"id"`
	Enabled bool      `json:"enabled"`
}

func (h *Hub) handleEnableEstimator(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	c, ok := h.withController(w)
	if !ok {
		return
	}
	var req enableRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
		return
	}
	if err := c.SetEstimatorEnabled(req.ID, req.Enabled); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, c.Estimators())
}

type throttleRequest struct {
	Factor float64 `json:"factor"`
}

func (h *Hub) handleSpectrumThrottle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	c, ok := h.withController(w)
	if !ok {
		return
	}
	var req throttleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
		return
	}
	if err := c.SetSpectrumThrottle(req.Factor); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Hub) handlePlugins(w http.ResponseWriter, _ *http.Request) {
	c, ok := h.withController(w)
	if !ok {
		return
	}
	writeJSON(w, c.Plugins())
}

// Routes registers every hub endpoint on mux.
func (h *Hub) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/api/history", h.handleHistory)
	mux.HandleFunc("/api/live", h.handleLive)
	mux.HandleFunc("/api/config", h.handleGetConfig)
	mux.HandleFunc("/api/config/update", h.handleSetConfig)
	mux.HandleFunc("/api/params", h.handleParams)
	mux.HandleFunc("/api/equalizer/reset", h.handleResetEqualizer)
	mux.HandleFunc("/api/estimators", h.handleEstimators)
	mux.HandleFunc("/api/estimators/enable", h.handleEnableEstimator)
	mux.HandleFunc("/api/spectrum", h.handleSpectrum)
	mux.HandleFunc("/api/spectrum/throttle", h.handleSpectrumThrottle)
	mux.HandleFunc("/api/plugins", h.handlePlugins)
}
