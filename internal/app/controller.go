package app

import (
	"github.com/google/uuid"

	"github.com/rjboer/GoInspect/internal/config"
	"github.com/rjboer/GoInspect/internal/inspector"
	"github.com/rjboer/GoInspect/internal/telemetry"
)

// controller exposes a Runner to the telemetry control endpoints, which
// speak flat key-value parameter objects.
type controller struct {
	r *Runner
}

// Controller adapts r for telemetry.Hub.SetController.
func (r *Runner) Controller() telemetry.Controller { return controller{r: r} }

func (c controller) Params() *config.Object { return c.r.Params().ToConfig() }

func (c controller) RequestParams(o *config.Object) error {
	p, err := inspector.ParamsFromConfig(o)
	if err != nil {
		return err
	}
	return c.r.RequestParams(p)
}

func (c controller) ResetEqualizer() error { return c.r.ResetEqualizer() }

func (c controller) Estimators() []telemetry.EstimatorStatus {
	readings := c.r.Estimators()
	out := make([]telemetry.EstimatorStatus, 0, len(readings))
	for _, e := range readings {
		out = append(out, telemetry.EstimatorStatus{
			ID:      e.ID,
			Name:    e.Name,
			Field:   e.Field,
			Enabled: e.Enabled,
			Value:   e.Value,
			Valid:   e.Valid,
		})
	}
	return out
}

func (c controller) SetEstimatorEnabled(id uuid.UUID, enabled bool) error {
	return c.r.SetEstimatorEnabled(id, enabled)
}

func (c controller) SetSpectrumThrottle(factor float64) error {
	return c.r.SetSpectrumThrottle(factor)
}

func (c controller) Plugins() telemetry.PluginList {
	var list telemetry.PluginList
	if c.r.plugins == nil {
		return list
	}
	for _, e := range c.r.plugins.Estimators.List() {
		list.Estimators = append(list.Estimators, telemetry.PluginInfo{Name: e.Name, Description: e.Description, Field: e.Field})
	}
	for _, s := range c.r.plugins.Spectra.List() {
		list.SpectrumSources = append(list.SpectrumSources, telemetry.PluginInfo{Name: s.Name, Description: s.Description})
	}
	return list
}
