// Package estimator defines side-channel algorithms that derive one scalar
// quantity (for example a symbol rate) from an inspector's sample stream.
package estimator

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/rjboer/GoInspect/internal/registry"
)

// ErrClosed is returned when feeding an estimator that has been closed.
var ErrClosed = errors.New("estimator: closed")

// Estimator is the private per-instance state of an estimator class.
type Estimator interface {
	// Feed consumes a block of samples.
	Feed(samples []complex64) error
	// Read returns the current estimate, or false if none is available yet.
	Read() (float64, bool)
	Close()
}

// Class describes an estimator plugin.
type Class struct {
	Name        string
	Description string
	// Field is the parameter configuration key the estimate populates.
	Field string
	New   func(sampleRate float64) (Estimator, error)
}

func (c *Class) validate() error {
	switch {
	case c == nil:
		return fmt.Errorf("%w: nil estimator class", registry.ErrInvalid)
	case c.Name == "":
		return fmt.Errorf("%w: estimator class without a name", registry.ErrInvalid)
	case c.Description == "":
		return fmt.Errorf("%w: estimator %q has no description", registry.ErrInvalid, c.Name)
	case c.Field == "":
		return fmt.Errorf("%w: estimator %q populates no field", registry.ErrInvalid, c.Name)
	case c.New == nil:
		return fmt.Errorf("%w: estimator %q has no constructor", registry.ErrInvalid, c.Name)
	}
	return nil
}

// Registry holds the estimator classes known to the process.
type Registry struct {
	classes *registry.Registry[*Class]
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{classes: registry.New("estimator", func(c *Class) string { return c.Name })}
}

// Register adds a class after checking every required field is present.
func (r *Registry) Register(c *Class) error {
	if err := c.validate(); err != nil {
		return err
	}
	return r.classes.Register(c)
}

func (r *Registry) Lookup(name string) (*Class, error) { return r.classes.Lookup(name) }
func (r *Registry) At(i int) (*Class, error)          { return r.classes.At(i) }
func (r *Registry) Len() int                          { return r.classes.Len() }
func (r *Registry) List() []*Class                    { return r.classes.List() }

// Instance wraps an estimator with an enabled flag. Estimates are only
// surfaced while enabled, but Feed always runs so a freshly enabled
// instance has history to draw from.
//
// Feed, Read and Close belong to the goroutine that owns the instance;
// SetEnabled and Enabled are safe from any goroutine.
type Instance struct {
	id      uuid.UUID
	class   *Class
	est     Estimator
	enabled atomic.Bool
	closed  bool
}

// NewInstance constructs the class's private state. Instances start
// disabled.
func NewInstance(c *Class, sampleRate float64) (*Instance, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}
	est, err := c.New(sampleRate)
	if err != nil {
		return nil, fmt.Errorf("estimator %q: %w", c.Name, err)
	}
	if est == nil {
		return nil, fmt.Errorf("%w: estimator %q constructor returned nil", registry.ErrInvalid, c.Name)
	}
	return &Instance{id: uuid.New(), class: c, est: est}, nil
}

func (i *Instance) ID() uuid.UUID     { return i.id }
func (i *Instance) Class() *Class     { return i.class }
func (i *Instance) Enabled() bool     { return i.enabled.Load() }
func (i *Instance) SetEnabled(b bool) { i.enabled.Store(b) }

// Feed hands samples to the estimator regardless of the enabled flag.
func (i *Instance) Feed(samples []complex64) error {
	if i.closed {
		return ErrClosed
	}
	if len(samples) == 0 {
		return nil
	}
	return i.est.Feed(samples)
}

// Read returns the estimate if the instance is enabled and the estimator
// has one available.
func (i *Instance) Read() (float64, bool) {
	if i.closed || !i.enabled.Load() {
		return 0, false
	}
	return i.est.Read()
}

// Close releases the estimator state. It is safe to call twice.
func (i *Instance) Close() {
	if i.closed {
		return
	}
	i.closed = true
	i.est.Close()
}
