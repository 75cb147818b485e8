package utils

import (
	"math"

	"golang.org/x/exp/constraints"
)

// Clamp limits t to the closed interval spanned by min and max. The bounds may be passed in either order.
func Clamp[T constraints.Integer | constraints.Float](t, min, max T) T {
	if min > max {
		min, max = max, min
	}
	if t < min {
		return min
	}
	if t > max {
		return max
	}
	return t
}

// RoundTo rounds x half away from zero to the given number of decimal places.
func RoundTo(x float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(x*p) / p
}
