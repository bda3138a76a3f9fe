package specsrc

import "math/cmplx"

// Builtins returns the spectrum sources registered at start-up, in the
// order they are presented to clients.
func Builtins() []*Class {
	return []*Class{
		{Name: "psd", Description: "Power spectrum", New: stateless(nil)},
		{Name: "cyclo", Description: "Cyclostationary analysis", New: withPrev(func(x, prev complex64) complex64 {
			return x * conj64(prev)
		})},
		{Name: "fmspect", Description: "FM spectrum", New: withPrev(func(x, prev complex64) complex64 {
			return complex(float32(cmplx.Phase(complex128(x*conj64(prev)))), 0)
		})},
		{Name: "pmspect", Description: "PM spectrum", New: stateless(func(x complex64) complex64 {
			return complex(float32(cmplx.Phase(complex128(x))), 0)
		})},
		{Name: "timediff", Description: "Time derivative spectrum", New: withPrev(func(x, prev complex64) complex64 {
			return x - prev
		})},
		{Name: "abstimediff", Description: "Time derivative of the magnitude", New: withPrev(func(x, prev complex64) complex64 {
			return complex(float32(cmplx.Abs(complex128(x))-cmplx.Abs(complex128(prev))), 0)
		})},
		{Name: "exp-2", Description: "Signal squared", New: stateless(power(2))},
		{Name: "exp-4", Description: "Signal to the 4th power", New: stateless(power(4))},
		{Name: "exp-8", Description: "Signal to the 8th power", New: stateless(power(8))},
	}
}

// RegisterBuiltins registers every built-in source with r.
func RegisterBuiltins(r *Registry) error {
	for _, c := range Builtins() {
		if err := r.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func conj64(x complex64) complex64 { return complex(real(x), -imag(x)) }

// power raises x to the n-th power while keeping its magnitude, so the
// spectral line appears at n times the carrier offset without blowing up
// the dynamic range.
func power(n int) func(complex64) complex64 {
	return func(x complex64) complex64 {
		z := complex128(x)
		m := cmplx.Abs(z)
		if m == 0 {
			return 0
		}
		return complex64(cmplx.Rect(m, float64(n)*cmplx.Phase(z)))
	}
}

type plain struct{}

func (plain) Close() {}

type mapper struct {
	fn func(complex64) complex64
}

func (m *mapper) Preprocess(buf []complex64) {
	for i, x := range buf {
		buf[i] = m.fn(x)
	}
}

func (m *mapper) Close() {}

// stateless returns a constructor for a per-sample map. A nil map yields
// a source without a preprocess step.
func stateless(fn func(complex64) complex64) func(float64) (Transform, error) {
	return func(float64) (Transform, error) {
		if fn == nil {
			return plain{}, nil
		}
		return &mapper{fn: fn}, nil
	}
}

// differ maps each sample together with its predecessor, carrying the
// last sample across calls.
type differ struct {
	fn   func(x, prev complex64) complex64
	prev complex64
}

func (d *differ) Preprocess(buf []complex64) {
	for i, x := range buf {
		buf[i] = d.fn(x, d.prev)
		d.prev = x
	}
}

func (d *differ) Close() {}

func withPrev(fn func(x, prev complex64) complex64) func(float64) (Transform, error) {
	return func(float64) (Transform, error) {
		return &differ{fn: fn}, nil
	}
}
