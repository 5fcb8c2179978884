package spatialmath

import (
	"math"

	"github.com/golang/geo/r3"
)

// thomsenExponent is the exponent of Knud Thomsen's ellipsoid surface area approximation,
// accurate to within about 1% for all axis ratios.
const thomsenExponent = 1.6075

// EllipsoidSurfaceArea approximates the surface area of an ellipsoid with the given semi-axes.
// An ellipsoid with exactly one zero axis degenerates to a two-sided ellipse with a nonzero
// area; a zero area is only returned when at least two axes are zero.
func EllipsoidSurfaceArea(axes r3.Vector) float64 {
	a, b, c := math.Abs(axes.X), math.Abs(axes.Y), math.Abs(axes.Z)
	ab := math.Pow(a*b, thomsenExponent)
	ac := math.Pow(a*c, thomsenExponent)
	bc := math.Pow(b*c, thomsenExponent)
	return 4 * math.Pi * math.Pow((ab+ac+bc)/3, 1/thomsenExponent)
}

// MaxComponent returns the largest component of v.
func MaxComponent(v r3.Vector) float64 {
	return math.Max(v.X, math.Max(v.Y, v.Z))
}
