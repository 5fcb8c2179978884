package splat

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/splatlod/spatialmath"
)

func TestNewSplat(t *testing.T) {
	s, err := New(r3.Vector{X: 1}, r3.Vector{X: 1, Y: 2, Z: 3}, quat.Number{Real: 2}, 0.5, r3.Vector{X: 1})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, s.Orientation, test.ShouldResemble, spatialmath.IdentityQuaternion)
	test.That(t, s.MaxScale(), test.ShouldEqual, 3)
	test.That(t, s.FeatureSize(), test.ShouldEqual, 6)
	test.That(t, s.FootprintStdDevs(), test.ShouldAlmostEqual, math.Sqrt(8))

	_, err = New(r3.Vector{}, r3.Vector{X: -1}, quat.Number{Real: 1}, 0.5, r3.Vector{})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "non-negative")

	_, err = New(r3.Vector{X: math.NaN()}, r3.Vector{}, quat.Number{Real: 1}, 0.5, r3.Vector{})
	test.That(t, err, test.ShouldNotBeNil)

	_, err = New(r3.Vector{}, r3.Vector{}, quat.Number{Real: 1}, MaxOpacity+1, r3.Vector{})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestExtendedOpacity(t *testing.T) {
	s := Splat{Scale: r3.Vector{X: 1, Y: 1, Z: 1}, Orientation: spatialmath.IdentityQuaternion, Opacity: 3}
	test.That(t, s.FeatureSize(), test.ShouldEqual, 6)
	test.That(t, s.FootprintStdDevs(), test.ShouldAlmostEqual, math.Sqrt(8)+1.4)
	test.That(t, s.Weight(), test.ShouldAlmostEqual, 3*4*math.Pi, 1e-9)

	flat := Splat{Scale: r3.Vector{Y: 1, Z: 1}, Orientation: spatialmath.IdentityQuaternion, Opacity: 1}
	test.That(t, flat.Weight(), test.ShouldBeGreaterThan, 0)

	test.That(t, SmoothOpacity(0.25), test.ShouldEqual, 0.25)
	test.That(t, SmoothOpacity(1), test.ShouldEqual, 1)
	test.That(t, SmoothOpacity(math.E), test.ShouldAlmostEqual, math.Sqrt(1+math.E))
	test.That(t, SmoothOpacity(math.Inf(1)), test.ShouldEqual, MaxOpacity)
	test.That(t, SmoothOpacity(-1), test.ShouldEqual, 0)
	test.That(t, SmoothOpacity(4), test.ShouldBeGreaterThan, SmoothOpacity(2))
}

func TestSHDegree(t *testing.T) {
	for degree := 0; degree <= 3; degree++ {
		n := SHCoefficientsForDegree(degree)
		test.That(t, SHDegreeForCoefficients(n), test.ShouldEqual, degree)
	}
	s := Splat{SH: make([]float64, 9)}
	test.That(t, s.SHDegree(), test.ShouldEqual, 1)
}

func TestCloud(t *testing.T) {
	cloud := NewCloud()
	test.That(t, cloud.MetaData().Empty(), test.ShouldBeTrue)
	test.That(t, cloud.MetaData().Extent(), test.ShouldEqual, 0)

	for i := 0; i < 10; i++ {
		s := Splat{
			Center:      r3.Vector{X: float64(i), Y: -float64(i)},
			Scale:       r3.Vector{X: 1, Y: 1, Z: 1},
			Orientation: spatialmath.IdentityQuaternion,
			Opacity:     1,
		}
		test.That(t, cloud.Append(s), test.ShouldBeNil)
	}
	test.That(t, cloud.Append(Splat{}), test.ShouldNotBeNil)
	test.That(t, cloud.Len(), test.ShouldEqual, 10)

	meta := cloud.MetaData()
	test.That(t, meta.Min(), test.ShouldResemble, r3.Vector{X: 0, Y: -9})
	test.That(t, meta.Max(), test.ShouldResemble, r3.Vector{X: 9})
	test.That(t, meta.Extent(), test.ShouldEqual, 9)
	test.That(t, meta.Center(), test.ShouldResemble, r3.Vector{X: 4.5, Y: -4.5})

	var seen []int
	cloud.Iterate(3, 1, func(i int, s Splat) bool {
		seen = append(seen, i)
		return true
	})
	test.That(t, seen, test.ShouldResemble, []int{4, 5, 6, 7})

	count := 0
	cloud.Iterate(0, 0, func(i int, s Splat) bool {
		count++
		return count < 2
	})
	test.That(t, count, test.ShouldEqual, 2)

	copied, err := NewCloudFromSource(cloud)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, copied.Len(), test.ShouldEqual, 10)
	test.That(t, copied.At(3), test.ShouldResemble, cloud.At(3))
}
