package traversal

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Region classifies a view space position against the view frustum.
type Region int

// The frustum regions of a node center.
const (
	InsideFrustum Region = iota
	OutsideFrustum
	BehindViewer
)

// View describes the camera. View space looks down -Z.
type View struct {
	// FovX and FovY are the full horizontal and vertical fields of view in radians.
	FovX, FovY float64
}

// Classify returns the frustum region of a view space point. Only the point is tested, not
// its extent.
func (v View) Classify(p mgl64.Vec3) Region {
	depth := -p.Z()
	if depth <= 0 {
		return BehindViewer
	}
	fovX := v.FovX
	if fovX <= 0 {
		fovX = v.FovY
	}
	if math.Abs(p.X()) > depth*math.Tan(fovX/2) || math.Abs(p.Y()) > depth*math.Tan(v.FovY/2) {
		return OutsideFrustum
	}
	return InsideFrustum
}

// PixelScale returns the apparent size of a sphere of the given view space radius centered at
// p, as a fraction of the screen height, multiplied by the foveation factor of its region.
// The perspective divide uses the radial distance from the viewer rather than depth so the
// value does not change as the camera rotates in place. A sphere at the viewer is infinitely
// large.
func (v View) PixelScale(p mgl64.Vec3, radius, outsideFoveate, behindFoveate float64) float64 {
	dist := p.Len()
	if dist == 0 {
		return math.Inf(1)
	}
	scale := radius / (dist * 2 * math.Tan(v.FovY/2))
	switch v.Classify(p) {
	case OutsideFrustum:
		scale *= outsideFoveate
	case BehindViewer:
		scale *= behindFoveate
	case InsideFrustum:
	}
	return scale
}

// PixelThreshold returns the pixel scale of one pixel on a screen heightPx pixels tall.
func PixelThreshold(heightPx int) float64 {
	if heightPx <= 0 {
		return 0
	}
	return 1 / float64(heightPx)
}
