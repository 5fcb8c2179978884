package splatfile

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/splatlod/spatialmath"
	"go.viam.com/splatlod/splat"
	"go.viam.com/splatlod/utils"
)

const (
	// Magic identifies a splat file.
	Magic uint32 = 0x5053474e
	// Version is the format version written by this package.
	Version uint32 = 2
	// FlagAntialiased marks splats trained with antialiasing.
	FlagAntialiased uint8 = 0x1
	// FlagLoD marks a file holding a laid out LoD tree.
	FlagLoD uint8 = 0x80
	// DefaultFractionalBits is the default position precision, 1/4096 units.
	DefaultFractionalBits = 12
	// MaxPoints bounds the point count a reader accepts.
	MaxPoints = 1 << 26

	maxLoDOpacity = 4.0
	scaleBias     = 10.0
	scaleStep     = 16.0
)

// Header is the fixed file header.
type Header struct {
	Magic          uint32
	Version        uint32
	NumPoints      uint32
	SHDegree       uint8
	FractionalBits uint8
	Flags          uint8
	Reserved       uint8
}

// HasLoD reports whether the file holds an LoD tree.
func (h Header) HasLoD() bool {
	return h.Flags&FlagLoD != 0
}

// Antialiased reports whether the splats were trained with antialiasing.
func (h Header) Antialiased() bool {
	return h.Flags&FlagAntialiased != 0
}

func clampByte(v float64) uint8 {
	return uint8(utils.Clamp(math.Round(v), 0, 255))
}

func encodeAlpha(opacity float64, lod bool) uint8 {
	if !lod {
		return clampByte(opacity * 255)
	}
	v := opacity / 2
	if opacity > 1 {
		v = 0.5 + (math.Min(opacity, maxLoDOpacity)-1)/6
	}
	return clampByte(v * 255)
}

func decodeAlpha(b uint8, lod bool) float64 {
	v := float64(b) / 255
	if !lod {
		return v
	}
	if v <= 0.5 {
		return 2 * v
	}
	return 1 + 6*(v-0.5)
}

func encodeScale(s float64) uint8 {
	if s <= 0 {
		return 0
	}
	return uint8(utils.Clamp(math.Round((math.Log(s)+scaleBias)*scaleStep), 1, 255))
}

func decodeScale(b uint8) float64 {
	if b == 0 {
		return 0
	}
	return math.Exp(float64(b)/scaleStep - scaleBias)
}

func encodeRotation(q quat.Number) [3]uint8 {
	q = spatialmath.Canonical(q)
	return [3]uint8{
		clampByte((q.Imag + 1) * 127.5),
		clampByte((q.Jmag + 1) * 127.5),
		clampByte((q.Kmag + 1) * 127.5),
	}
}

func decodeRotation(b [3]uint8) quat.Number {
	x := float64(b[0])/127.5 - 1
	y := float64(b[1])/127.5 - 1
	z := float64(b[2])/127.5 - 1
	w := math.Sqrt(math.Max(0, 1-x*x-y*y-z*z))
	return spatialmath.Normalize(quat.Number{Real: w, Imag: x, Jmag: y, Kmag: z})
}

func encodeSH(v float64) uint8 {
	return clampByte(v*128 + 128)
}

func decodeSH(b uint8) float64 {
	return (float64(b) - 128) / 128
}

func encodeColor(c r3.Vector) [3]uint8 {
	return [3]uint8{clampByte(c.X * 255), clampByte(c.Y * 255), clampByte(c.Z * 255)}
}

func decodeColor(b [3]uint8) r3.Vector {
	return r3.Vector{X: float64(b[0]) / 255, Y: float64(b[1]) / 255, Z: float64(b[2]) / 255}
}

// shValues returns the per-splat SH value count for a degree.
func shValues(degree uint8) int {
	return 3 * splat.SHCoefficientsForDegree(int(degree))
}
