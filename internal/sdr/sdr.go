package sdr

import (
	"context"
	"errors"
)

// ErrInvalidConfig is returned when a source is configured with values it
// cannot synthesize or decode.
var ErrInvalidConfig = errors.New("sdr: invalid config")

// Source delivers blocks of complex baseband samples to the runner.
type Source interface {
	// RX returns the next block. io.EOF marks a finite source as drained.
	RX(ctx context.Context) ([]complex64, error)
	Close() error
}
