package dsp

import (
	"fmt"
	"math"
	"strings"
)

// Window selects the taper applied before a transform.
type Window int

const (
	WindowNone Window = iota
	WindowHamming
	WindowHann
	WindowBlackmanHarris
	WindowFlatTop
)

func (w Window) String() string {
	switch w {
	case WindowNone:
		return "none"
	case WindowHamming:
		return "hamming"
	case WindowHann:
		return "hann"
	case WindowBlackmanHarris:
		return "blackman-harris"
	case WindowFlatTop:
		return "flat-top"
	default:
		return "unknown"
	}
}

// ParseWindow converts a window name to a Window.
func ParseWindow(s string) (Window, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none", "rectangular", "":
		return WindowNone, nil
	case "hamming":
		return WindowHamming, nil
	case "hann", "hanning":
		return WindowHann, nil
	case "blackman-harris", "blackmanharris":
		return WindowBlackmanHarris, nil
	case "flat-top", "flattop":
		return WindowFlatTop, nil
	default:
		return WindowNone, fmt.Errorf("unsupported window %q", s)
	}
}

// Coefficients returns the n-point window.
func (w Window) Coefficients(n int) []float64 {
	switch w {
	case WindowHamming:
		return Hamming(n)
	case WindowHann:
		return cosineSum(n, 0.5, 0.5)
	case WindowBlackmanHarris:
		return cosineSum(n, 0.35875, 0.48829, 0.14128, 0.01168)
	case WindowFlatTop:
		return cosineSum(n, 0.21557895, 0.41663158, 0.277263158, 0.083578947, 0.006947368)
	default:
		if n <= 0 {
			return []float64{}
		}
		win := make([]float64, n)
		for i := range win {
			win[i] = 1
		}
		return win
	}
}

// Hamming returns a Hamming window of length n.
// If n is zero or negative, an empty slice is returned.
func Hamming(n int) []float64 {
	return cosineSum(n, 0.54, 0.46)
}

// cosineSum builds a generalized cosine window a0 - a1 cos + a2 cos2 - ...
func cosineSum(n int, a ...float64) []float64 {
	if n <= 0 {
		return []float64{}
	}
	win := make([]float64, n)
	if n == 1 {
		win[0] = 1
		return win
	}
	for i := 0; i < n; i++ {
		x := 2 * math.Pi * float64(i) / float64(n-1)
		sign := 1.0
		for k, ak := range a {
			win[i] += sign * ak * math.Cos(float64(k)*x)
			sign = -sign
		}
	}
	return win
}

// ApplyWindow multiplies the input complex samples with the provided window.
// The window length must match the input length.
func ApplyWindow(samples []complex64, window []float64) []complex128 {
	if len(samples) != len(window) {
		return []complex128{}
	}
	out := make([]complex128, len(samples))
	for i, v := range samples {
		out[i] = complex(float64(real(v))*window[i], float64(imag(v))*window[i])
	}
	return out
}
