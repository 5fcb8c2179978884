// Package splat defines the anisotropic Gaussian splat record and an ordered collection of them.
package splat

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/splatlod/spatialmath"
)

// Splat is a 3D anisotropic Gaussian with an extended opacity.
type Splat struct {
	Center r3.Vector
	// Scale holds per-axis standard deviations. Exactly one zero axis makes a flat splat.
	Scale       r3.Vector
	Orientation quat.Number
	// Opacity is the extended opacity D. Values above 1 represent fused splats.
	Opacity float64
	// Color is linear RGB in [0, 1].
	Color r3.Vector
	// SH holds optional spherical harmonic coefficients, three values per coefficient.
	SH []float64
}

// New returns a validated splat with a normalized orientation.
func New(center, scale r3.Vector, orientation quat.Number, opacity float64, color r3.Vector) (Splat, error) {
	s := Splat{
		Center:      center,
		Scale:       scale,
		Orientation: spatialmath.Normalize(orientation),
		Opacity:     opacity,
		Color:       color,
	}
	if err := s.Validate(); err != nil {
		return Splat{}, err
	}
	return s, nil
}

// Validate returns an error if the splat breaks a record invariant.
func (s Splat) Validate() error {
	if !finite(s.Center) {
		return errors.Errorf("splat center is not finite: %v", s.Center)
	}
	if !finite(s.Scale) {
		return errors.Errorf("splat scale is not finite: %v", s.Scale)
	}
	if s.Scale.X < 0 || s.Scale.Y < 0 || s.Scale.Z < 0 {
		return errors.Errorf("splat scale must be non-negative, got %v", s.Scale)
	}
	if math.Abs(quat.Abs(s.Orientation)-1) > 1e-6 {
		return errors.Errorf("splat orientation must be unit length, got %v", s.Orientation)
	}
	if math.IsNaN(s.Opacity) || s.Opacity < 0 || s.Opacity > MaxOpacity {
		return errors.Errorf("splat opacity must be in [0, %v], got %v", MaxOpacity, s.Opacity)
	}
	if len(s.SH)%3 != 0 {
		return errors.Errorf("splat SH length must be a multiple of 3, got %d", len(s.SH))
	}
	return nil
}

// MaxScale returns the largest per-axis scale.
func (s Splat) MaxScale() float64 {
	return spatialmath.MaxComponent(s.Scale)
}

// Area returns the surface area of the splat's ellipsoid. Flat splats have a nonzero area.
func (s Splat) Area() float64 {
	return spatialmath.EllipsoidSurfaceArea(s.Scale)
}

// Weight is the merge weight of the splat, opacity times area.
func (s Splat) Weight() float64 {
	return s.Opacity * s.Area()
}

// FeatureSize is the diameter used to pick the splat's voxel level, grown by extended opacity.
func (s Splat) FeatureSize() float64 {
	return 2 * s.MaxScale() * math.Max(1, s.Opacity)
}

// FootprintStdDevs is how many standard deviations a renderer should rasterize for this splat.
func (s Splat) FootprintStdDevs() float64 {
	return BaseFootprintStdDevs + FootprintGrowth*math.Max(0, s.Opacity-1)
}

// Covariance returns the splat's 3x3 covariance matrix.
func (s Splat) Covariance() *mat.SymDense {
	return spatialmath.Covariance(s.Scale, s.Orientation)
}

// SHDegree returns the spherical harmonic degree implied by the SH coefficient count.
func (s Splat) SHDegree() int {
	return SHDegreeForCoefficients(len(s.SH) / 3)
}

// SHDegreeForCoefficients returns the degree whose non-DC coefficient count is n.
// Counts that do not match a degree round down.
func SHDegreeForCoefficients(n int) int {
	switch {
	case n >= 15:
		return 3
	case n >= 8:
		return 2
	case n >= 3:
		return 1
	default:
		return 0
	}
}

// SHCoefficientsForDegree returns the number of non-DC coefficients of the given degree.
func SHCoefficientsForDegree(degree int) int {
	return (degree+1)*(degree+1) - 1
}

func finite(v r3.Vector) bool {
	for _, f := range []float64{v.X, v.Y, v.Z} {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}
