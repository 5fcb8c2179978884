package utils

import "math"

// Clamp limits v to [lower, upper]. NaN maps to lower.
func Clamp(v, lower, upper float64) float64 {
	if math.IsNaN(v) {
		return lower
	}
	return math.Max(lower, math.Min(upper, v))
}

// Float64AlmostEqual reports whether a and b differ by less than epsilon.
func Float64AlmostEqual(a, b, epsilon float64) bool {
	return math.Abs(a-b) < epsilon
}
