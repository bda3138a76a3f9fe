package telemetry

import (
	"github.com/rjboer/GoInspect/internal/logging"
)

// Reporter captures telemetry events.
type Reporter interface {
	ReportSymbols(batch SymbolBatch)
	ReportSpectrum(frame SpectrumFrame)
	ReportEstimate(est Estimate)
}

// StdoutReporter prints inspector updates through a logger.
type StdoutReporter struct {
	logger logging.Logger
}

// NewStdoutReporter builds a stdout reporter with the provided logger.
func NewStdoutReporter(logger logging.Logger) StdoutReporter {
	if logger == nil {
		logger = logging.Default()
	}
	return StdoutReporter{logger: logger.With(logging.F("subsystem", "telemetry"))}
}

func (r StdoutReporter) ReportSymbols(batch SymbolBatch) {
	if len(batch.Symbols) == 0 {
		return
	}
	fields := []logging.Field{
		{Key: "symbols", Value: len(batch.Symbols)},
		{Key: "consumed", Value: batch.Consumed},
		{Key: "generation", Value: batch.Generation},
	}
	if batch.Order > 0 {
		fields = append(fields, logging.Field{Key: "order", Value: batch.Order})
	}
	r.logger.Info("symbol batch", fields...)
}

func (r StdoutReporter) ReportSpectrum(frame SpectrumFrame) {
	r.logger.Debug("spectrum frame",
		logging.F("source", frame.Source),
		logging.F("bins", len(frame.Bins)),
		logging.F("rate", frame.Rate),
	)
}

func (r StdoutReporter) ReportEstimate(est Estimate) {
	r.logger.Info("estimate",
		logging.F("estimator", est.Name),
		logging.F("field", est.Field),
		logging.F("value", est.Value),
	)
}

// MultiReporter fans out telemetry to multiple destinations.
type MultiReporter []Reporter

func (m MultiReporter) ReportSymbols(batch SymbolBatch) {
	for _, r := range m {
		if r != nil {
			r.ReportSymbols(batch)
		}
	}
}

func (m MultiReporter) ReportSpectrum(frame SpectrumFrame) {
	for _, r := range m {
		if r != nil {
			r.ReportSpectrum(frame)
		}
	}
}

func (m MultiReporter) ReportEstimate(est Estimate) {
	for _, r := range m {
		if r != nil {
			r.ReportEstimate(est)
		}
	}
}
