package splat

import "math"

const (
	// MaxOpacity bounds the extended opacity of merged splats.
	MaxOpacity = 5.0
	// FootprintGrowth is the calibration constant k that widens the render footprint by
	// k·(D−1) standard deviations once D exceeds 1.
	FootprintGrowth = 0.7
)

// BaseFootprintStdDevs is the footprint of an ordinary splat, sqrt(8) standard deviations.
var BaseFootprintStdDevs = math.Sqrt(8)

// SmoothOpacity maps a raw weight-over-area ratio to an extended opacity. Ratios up to 1 are
// ordinary opacities. Larger ratios follow sqrt(1 + e·ln(raw)), which is continuous at 1 and
// grows slowly, and are clamped to MaxOpacity.
func SmoothOpacity(raw float64) float64 {
	switch {
	case math.IsNaN(raw) || raw <= 0:
		return 0
	case raw <= 1:
		return raw
	}
	d := math.Sqrt(1 + math.E*math.Log(raw))
	if math.IsInf(d, 0) || d > MaxOpacity {
		return MaxOpacity
	}
	return d
}
