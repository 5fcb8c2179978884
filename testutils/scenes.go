// Package testutils builds synthetic splat scenes for tests and the generate command.
package testutils

import (
	"math"
	"math/rand"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/splatlod/spatialmath"
	"go.viam.com/splatlod/splat"
)

// SphereScene places n equal splats on a Fibonacci lattice over a sphere of the given radius.
// Each splat is sized so the lattice is roughly covered.
func SphereScene(n int, radius float64) *splat.Cloud {
	cloud := splat.NewCloudWithPrealloc(n)
	if n <= 0 {
		return cloud
	}
	golden := math.Pi * (3 - math.Sqrt(5))
	size := radius * math.Sqrt(4/float64(n)) / 2
	for i := 0; i < n; i++ {
		y := 1 - 2*(float64(i)+0.5)/float64(n)
		r := math.Sqrt(1 - y*y)
		theta := golden * float64(i)
		p := r3.Vector{X: math.Cos(theta) * r, Y: y, Z: math.Sin(theta) * r}
		mustAppend(cloud, splat.Splat{
			Center:      p.Mul(radius),
			Scale:       r3.Vector{X: size, Y: size, Z: size / 4},
			Orientation: spatialmath.IdentityQuaternion,
			Opacity:     0.8,
			Color:       r3.Vector{X: (p.X + 1) / 2, Y: (p.Y + 1) / 2, Z: (p.Z + 1) / 2},
		})
	}
	return cloud
}

// RandomScene scatters n random splats inside a cube of the given half extent. The same seed
// always produces the same scene.
func RandomScene(n int, halfExtent float64, seed int64) *splat.Cloud {
	rng := rand.New(rand.NewSource(seed)) //nolint:gosec
	cloud := splat.NewCloudWithPrealloc(n)
	uniform := func(lo, hi float64) float64 { return lo + rng.Float64()*(hi-lo) }
	for i := 0; i < n; i++ {
		s := halfExtent * uniform(0.001, 0.02)
		mustAppend(cloud, splat.Splat{
			Center: r3.Vector{
				X: uniform(-halfExtent, halfExtent),
				Y: uniform(-halfExtent, halfExtent),
				Z: uniform(-halfExtent, halfExtent),
			},
			Scale: r3.Vector{X: s * uniform(0.2, 1), Y: s * uniform(0.2, 1), Z: s * uniform(0.2, 1)},
			Orientation: spatialmath.Normalize(quat.Number{
				Real: rng.NormFloat64(), Imag: rng.NormFloat64(), Jmag: rng.NormFloat64(), Kmag: rng.NormFloat64(),
			}),
			Opacity: uniform(0.1, 1),
			Color:   r3.Vector{X: rng.Float64(), Y: rng.Float64(), Z: rng.Float64()},
			SH:      randomSH(rng),
		})
	}
	return cloud
}

// randomSH returns degree one coefficients for three channels.
func randomSH(rng *rand.Rand) []float64 {
	sh := make([]float64, 9)
	for i := range sh {
		sh[i] = rng.Float64()*2 - 1
	}
	return sh
}

// CoincidentScene returns n identical splats at the origin.
func CoincidentScene(n int) *splat.Cloud {
	cloud := splat.NewCloudWithPrealloc(n)
	for i := 0; i < n; i++ {
		mustAppend(cloud, splat.Splat{
			Scale:       r3.Vector{X: 0.1, Y: 0.1, Z: 0.1},
			Orientation: spatialmath.IdentityQuaternion,
			Opacity:     0.5,
			Color:       r3.Vector{X: 1},
		})
	}
	return cloud
}

func mustAppend(cloud *splat.Cloud, s splat.Splat) {
	if err := cloud.Append(s); err != nil {
		panic(err)
	}
}
