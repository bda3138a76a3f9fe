// Package registry holds named plugin classes in registration order.
package registry

import (
	"errors"
	"fmt"
	"sync"
)

var (
	ErrDuplicate = errors.New("registry: duplicate name")
	ErrNotFound  = errors.New("registry: not found")
	ErrInvalid   = errors.New("registry: invalid entry")
)

// Registry stores entries keyed by a unique name, preserving insertion
// order. Registration is expected once at start-up; lookups are safe
// from any goroutine.
type Registry[T any] struct {
	mu      sync.RWMutex
	kind    string
	entries []T
	index   map[string]int
	nameOf  func(T) string
}

// New creates an empty registry. kind names the entry type in errors;
// nameOf extracts an entry's name.
func New[T any](kind string, nameOf func(T) string) *Registry[T] {
	return &Registry[T]{kind: kind, index: make(map[string]int), nameOf: nameOf}
}

// Register adds entry. An empty or already registered name leaves the
// registry unchanged.
func (r *Registry[T]) Register(entry T) error {
	name := r.nameOf(entry)
	if name == "" {
		return fmt.Errorf("%w: %s without a name", ErrInvalid, r.kind)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.index[name]; ok {
		return fmt.Errorf("%w: %s %q", ErrDuplicate, r.kind, name)
	}
	r.index[name] = len(r.entries)
	r.entries = append(r.entries, entry)
	return nil
}

// Lookup returns the entry registered under name.
func (r *Registry[T]) Lookup(name string) (T, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.index[name]
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s %q", ErrNotFound, r.kind, name)
	}
	return r.entries[i], nil
}

// At returns the i-th registered entry.
func (r *Registry[T]) At(i int) (T, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if i < 0 || i >= len(r.entries) {
		var zero T
		return zero, fmt.Errorf("%w: %s index %d", ErrNotFound, r.kind, i)
	}
	return r.entries[i], nil
}

// IndexOf returns the registration index of name, or -1.
func (r *Registry[T]) IndexOf(name string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if i, ok := r.index[name]; ok {
		return i
	}
	return -1
}

// Len returns the number of registered entries.
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// List returns a copy of all entries in registration order.
func (r *Registry[T]) List() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]T, len(r.entries))
	copy(out, r.entries)
	return out
}
