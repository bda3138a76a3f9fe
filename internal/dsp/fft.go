package dsp

import (
	"gonum.org/v1/gonum/dsp/fourier"
)

// ShiftPower rotates a power spectrum in place so that DC is centered.
func ShiftPower(p []float64) {
	n := len(p)
	if n < 2 {
		return
	}
	half := n / 2
	tmp := make([]float64, half)
	copy(tmp, p[:half])
	copy(p, p[half:])
	copy(p[n-half:], tmp)
}

// PowerSpectrum returns |FFT(window*x)|^2 normalized by the window power,
// in natural (unshifted) bin order.
func PowerSpectrum(samples []complex64, window Window) []float64 {
	if len(samples) == 0 {
		return []float64{}
	}
	win := window.Coefficients(len(samples))
	coeffs := fourier.NewCmplxFFT(len(samples)).Coefficients(nil, ApplyWindow(samples, win))
	return powerOf(coeffs, windowPower(win))
}

func windowPower(win []float64) float64 {
	p := 0.0
	for _, w := range win {
		p += w * w
	}
	return p
}

func powerOf(coeffs []complex128, norm float64) []float64 {
	out := make([]float64, len(coeffs))
	if norm <= 0 {
		norm = 1
	}
	for i, c := range coeffs {
		out[i] = (real(c)*real(c) + imag(c)*imag(c)) / norm
	}
	return out
}
