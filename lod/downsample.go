package lod

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/splatlod/spatialmath"
	"go.viam.com/splatlod/splat"
)

const (
	// minScaleRatio bounds the smallest merged axis relative to the largest.
	minScaleRatio = 1e-3
	// minScale is the absolute floor for a merged axis.
	minScale = 1e-7
)

// Downsample merges splats into a single splat by moment matching. Each input is weighted by
// opacity times ellipsoid area. The merged covariance is the weighted mean of the input
// covariances plus the weighted spread of the input centers about the merged center, and the
// merged extended opacity is the total weight over the merged area, passed through
// splat.SmoothOpacity. The result is always finite.
func Downsample(splats []splat.Splat) (splat.Splat, error) {
	if len(splats) == 0 {
		return splat.Splat{}, ErrEmptyCloud
	}

	weights := make([]float64, len(splats))
	var opacityWeight float64
	for i, s := range splats {
		w := s.Weight()
		if !(w > 0) || math.IsInf(w, 0) {
			w = 0
		}
		weights[i] = w
		opacityWeight += w
	}
	mixWeight := opacityWeight
	if !(mixWeight > 0) || math.IsInf(mixWeight, 0) {
		// fully transparent inputs still need a sensible shape
		for i := range weights {
			weights[i] = 1
		}
		mixWeight = float64(len(weights))
		opacityWeight = 0
	}

	var center, color r3.Vector
	shLen := 0
	for i, s := range splats {
		center = center.Add(s.Center.Mul(weights[i]))
		color = color.Add(s.Color.Mul(weights[i]))
		if len(s.SH) > shLen {
			shLen = len(s.SH)
		}
	}
	center = center.Mul(1 / mixWeight)
	color = color.Mul(1 / mixWeight)

	var sh []float64
	if shLen > 0 {
		sh = make([]float64, shLen)
		for i, s := range splats {
			for k, v := range s.SH {
				sh[k] += weights[i] * v
			}
		}
		for k := range sh {
			sh[k] /= mixWeight
		}
	}

	cov := mat.NewSymDense(3, nil)
	for i, s := range splats {
		if weights[i] == 0 {
			continue
		}
		cov.AddSym(cov, scaledSym(s.Covariance(), weights[i]))
		spatialmath.AddOuterProduct(cov, s.Center.Sub(center), weights[i])
	}
	cov.ScaleSym(1/mixWeight, cov)

	trace := cov.At(0, 0) + cov.At(1, 1) + cov.At(2, 2)
	floor := minScale
	if !math.IsNaN(trace) && trace > 0 {
		floor = math.Max(floor, minScaleRatio*math.Sqrt(trace))
	}
	scale, orientation, _ := spatialmath.DecomposeCovariance(cov, floor*floor)

	merged := splat.Splat{
		Center:      center,
		Scale:       scale,
		Orientation: orientation,
		Color:       color,
		SH:          sh,
	}
	if area := merged.Area(); area > 0 {
		merged.Opacity = splat.SmoothOpacity(opacityWeight / area)
	}
	return merged, nil
}

func scaledSym(s *mat.SymDense, alpha float64) *mat.SymDense {
	s.ScaleSym(alpha, s)
	return s
}
