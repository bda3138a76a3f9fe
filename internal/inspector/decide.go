package inspector

import (
	"math"
	"math/cmplx"
)

// NoSymbol is returned by Decide for unsupported constellation orders.
const NoSymbol = -1

// Decide maps the phase of x to one of order uniform sectors starting at
// zero radians. Orders other than 2, 4 and 8 and non-finite samples yield
// NoSymbol and false.
func Decide(x complex128, order int) (int, bool) {
	switch order {
	case 2, 4, 8:
	default:
		return NoSymbol, false
	}
	if cmplx.IsNaN(x) || cmplx.IsInf(x) {
		return NoSymbol, false
	}
	angle := math.Atan2(imag(x), real(x))
	if angle < 0 {
		angle += 2 * math.Pi
	}
	sym := int(angle / (2 * math.Pi / float64(order)))
	if sym >= order {
		sym = order - 1
	}
	return sym, true
}

// DecideBlock decides every sample of symbols into dst, which is grown as
// needed and returned.
func DecideBlock(dst []int, symbols []complex128, order int) []int {
	dst = dst[:0]
	for _, s := range symbols {
		v, _ := Decide(s, order)
		dst = append(dst, v)
	}
	return dst
}
