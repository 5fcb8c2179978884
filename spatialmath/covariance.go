package spatialmath

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
)

// Covariance returns R·diag(scale²)·Rᵀ for a Gaussian with the given per-axis standard
// deviations and orientation.
func Covariance(scale r3.Vector, orientation quat.Number) *mat.SymDense {
	rm := QuatToRotationMatrix(orientation)
	variances := [3]float64{scale.X * scale.X, scale.Y * scale.Y, scale.Z * scale.Z}
	cov := mat.NewSymDense(3, nil)
	for i := 0; i < 3; i++ {
		for j := i; j < 3; j++ {
			var sum float64
			for k := 0; k < 3; k++ {
				sum += rm.At(i, k) * variances[k] * rm.At(j, k)
			}
			cov.SetSym(i, j, sum)
		}
	}
	return cov
}

// AddOuterProduct adds weight·d·dᵀ to cov in place.
func AddOuterProduct(cov *mat.SymDense, d r3.Vector, weight float64) {
	v := [3]float64{d.X, d.Y, d.Z}
	for i := 0; i < 3; i++ {
		for j := i; j < 3; j++ {
			cov.SetSym(i, j, cov.At(i, j)+weight*v[i]*v[j])
		}
	}
}

// DecomposeCovariance factors a symmetric 3x3 covariance into per-axis standard deviations
// and a unit orientation such that Covariance(scale, orientation) reproduces it. Eigenvalues
// are clamped from below to minVariance. If the matrix cannot be factored or contains
// non-finite values, ok is false and an isotropic fallback derived from the trace is returned.
func DecomposeCovariance(cov mat.Symmetric, minVariance float64) (scale r3.Vector, orientation quat.Number, ok bool) {
	if minVariance < 0 || math.IsNaN(minVariance) {
		minVariance = 0
	}
	trace := cov.At(0, 0) + cov.At(1, 1) + cov.At(2, 2)
	fallback := func() (r3.Vector, quat.Number, bool) {
		variance := trace / 3
		if math.IsNaN(variance) || math.IsInf(variance, 0) || variance < minVariance {
			variance = minVariance
		}
		s := math.Sqrt(variance)
		return r3.Vector{X: s, Y: s, Z: s}, IdentityQuaternion, false
	}
	for i := 0; i < 3; i++ {
		for j := i; j < 3; j++ {
			if v := cov.At(i, j); math.IsNaN(v) || math.IsInf(v, 0) {
				return fallback()
			}
		}
	}

	var eig mat.EigenSym
	if !eig.Factorize(cov, true) {
		return fallback()
	}
	values := eig.Values(nil)
	var vectors mat.Dense
	eig.VectorsTo(&vectors)

	axes := [3]r3.Vector{}
	for k := 0; k < 3; k++ {
		axes[k] = r3.Vector{X: vectors.At(0, k), Y: vectors.At(1, k), Z: vectors.At(2, k)}.Normalize()
	}
	rm := NewRotationMatrixFromColumns(axes[0], axes[1], axes[2])
	if rm.Det() < 0 {
		axes[2] = axes[2].Mul(-1)
		rm = NewRotationMatrixFromColumns(axes[0], axes[1], axes[2])
	}

	var stddev [3]float64
	for k, v := range values {
		if math.IsNaN(v) || v < minVariance {
			v = minVariance
		}
		stddev[k] = math.Sqrt(v)
	}
	orientation = rm.Quaternion()
	if math.IsNaN(orientation.Real) {
		return fallback()
	}
	return r3.Vector{X: stddev[0], Y: stddev[1], Z: stddev[2]}, orientation, true
}
