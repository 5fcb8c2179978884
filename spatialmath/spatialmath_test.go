package spatialmath

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
)

func TestQuaternionRoundTrip(t *testing.T) {
	for _, q := range []quat.Number{
		IdentityQuaternion,
		{Real: 0.7071067811865476, Kmag: 0.7071067811865476},
		{Real: 0.1, Imag: 0.9, Jmag: -0.3, Kmag: 0.2},
		{Real: -0.2, Imag: 0.1, Jmag: 0.5, Kmag: -0.8},
		{Imag: 1},
	} {
		got := QuatToRotationMatrix(q).Quaternion()
		test.That(t, QuaternionAlmostEqual(got, q, 1e-9), test.ShouldBeTrue)
		test.That(t, got.Real, test.ShouldBeGreaterThanOrEqualTo, 0)
	}
}

func TestNormalize(t *testing.T) {
	test.That(t, Normalize(quat.Number{}), test.ShouldResemble, IdentityQuaternion)
	q := Normalize(quat.Number{Real: 2})
	test.That(t, q.Real, test.ShouldAlmostEqual, 1)
}

func TestRotateVector(t *testing.T) {
	q := quat.Number{Real: math.Cos(math.Pi / 4), Kmag: math.Sin(math.Pi / 4)}
	v := RotateVector(q, r3.Vector{X: 1})
	test.That(t, v.X, test.ShouldAlmostEqual, 0)
	test.That(t, v.Y, test.ShouldAlmostEqual, 1)

	rm := QuatToRotationMatrix(q)
	test.That(t, rm.Col(0).Y, test.ShouldAlmostEqual, 1)
	test.That(t, rm.Det(), test.ShouldAlmostEqual, 1)
}

func TestCovarianceDecomposition(t *testing.T) {
	scale := r3.Vector{X: 0.5, Y: 2, Z: 1}
	orientation := Normalize(quat.Number{Real: 0.9, Imag: 0.2, Jmag: -0.3, Kmag: 0.1})
	cov := Covariance(scale, orientation)

	gotScale, gotOrientation, ok := DecomposeCovariance(cov, 0)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, gotOrientation.Real, test.ShouldBeGreaterThanOrEqualTo, 0)

	rebuilt := Covariance(gotScale, gotOrientation)
	test.That(t, mat.EqualApprox(cov, rebuilt, 1e-9), test.ShouldBeTrue)

	// eigenvalues come back ascending
	test.That(t, gotScale.X, test.ShouldAlmostEqual, 0.5, 1e-9)
	test.That(t, gotScale.Y, test.ShouldAlmostEqual, 1, 1e-9)
	test.That(t, gotScale.Z, test.ShouldAlmostEqual, 2, 1e-9)
}

func TestDecomposeCovarianceClampsAndFallsBack(t *testing.T) {
	flat := Covariance(r3.Vector{X: 1, Y: 1, Z: 0}, IdentityQuaternion)
	scale, _, ok := DecomposeCovariance(flat, 0.01)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, scale.X, test.ShouldAlmostEqual, 0.1, 1e-9)

	bad := mat.NewSymDense(3, []float64{math.NaN(), 0, 0, 0, 3, 0, 0, 0, 3})
	scale, orientation, ok := DecomposeCovariance(bad, 0.25)
	test.That(t, ok, test.ShouldBeFalse)
	test.That(t, orientation, test.ShouldResemble, IdentityQuaternion)
	test.That(t, scale.X, test.ShouldAlmostEqual, 0.5)
}

func TestAddOuterProduct(t *testing.T) {
	cov := mat.NewSymDense(3, nil)
	AddOuterProduct(cov, r3.Vector{X: 1, Y: 2}, 2)
	test.That(t, cov.At(0, 0), test.ShouldAlmostEqual, 2)
	test.That(t, cov.At(0, 1), test.ShouldAlmostEqual, 4)
	test.That(t, cov.At(1, 1), test.ShouldAlmostEqual, 8)
	test.That(t, cov.At(2, 2), test.ShouldAlmostEqual, 0)
}

func TestEllipsoidSurfaceArea(t *testing.T) {
	test.That(t, EllipsoidSurfaceArea(r3.Vector{X: 2, Y: 2, Z: 2}), test.ShouldAlmostEqual, 16*math.Pi, 1e-9)
	// a flat disc still covers area
	test.That(t, EllipsoidSurfaceArea(r3.Vector{X: 1, Y: 1}), test.ShouldBeGreaterThan, 0)
	test.That(t, EllipsoidSurfaceArea(r3.Vector{X: 1}), test.ShouldEqual, 0)
	test.That(t, MaxComponent(r3.Vector{X: 1, Y: 3, Z: 2}), test.ShouldEqual, 3)
}
