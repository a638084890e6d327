// Package mathx provides rounding to a fixed unit, as used when reporting
// luminance and chromaticity values with a fixed number of decimals.
package mathx

import "math"

// Round rounds a float to the nearest "unit" (0.1 for tenth, 0.01 for hundredth, and so on).
func Round(x, unit float64) float64 {
	return math.Round(x/unit) * unit
}

// Truncate drops everything finer than unit, rounding toward zero.
// The small bias absorbs representation error so Truncate(0.3, 0.001) is 0.3, not 0.299.
func Truncate(x, unit float64) float64 {
	q := x / unit
	if q >= 0 {
		return math.Floor(q+1e-9) * unit
	}
	return math.Ceil(q-1e-9) * unit
}
