package lod

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/x448/float16"
)

// RecordWords is the number of 32-bit words in an encoded node record.
const RecordWords = 4

// maxHalf is the largest finite half-precision value.
const maxHalf = 65504

// Record is the traversal metadata of one node packed into four words:
//
//	word 0: half(offset.x) | half(offset.y) << 16
//	word 1: half(offset.z) | half(radius) << 16
//	word 2: child count
//	word 3: index of the first child
//
// offset is the node center relative to the tree origin. Half precision keeps the render
// buffer small; offsets beyond ±65504 saturate, so selection works from Tree.Center and
// Tree.Radius instead.
type Record [RecordWords]uint32

// NewRecord packs a node record. The radius is rounded up so it never shrinks.
func NewRecord(offset r3.Vector, radius float64, childCount uint16, childStart uint32) Record {
	return Record{
		uint32(half(offset.X)) | uint32(half(offset.Y))<<16,
		uint32(half(offset.Z)) | uint32(halfCeil(radius))<<16,
		uint32(childCount),
		childStart,
	}
}

// Offset returns the node center relative to the tree origin.
func (r Record) Offset() r3.Vector {
	return r3.Vector{
		X: fromHalf(uint16(r[0])),
		Y: fromHalf(uint16(r[0] >> 16)),
		Z: fromHalf(uint16(r[1])),
	}
}

// Radius returns the node's feature radius.
func (r Record) Radius() float64 {
	return fromHalf(uint16(r[1] >> 16))
}

// ChildCount returns the number of children.
func (r Record) ChildCount() int {
	return int(r[2] & 0xffff)
}

// ChildStart returns the index of the first child.
func (r Record) ChildStart() int {
	return int(r[3])
}

func clampHalf(v float64) float32 {
	switch {
	case math.IsNaN(v):
		return 0
	case v > maxHalf:
		return maxHalf
	case v < -maxHalf:
		return -maxHalf
	}
	return float32(v)
}

func half(v float64) uint16 {
	return float16.Fromfloat32(clampHalf(v)).Bits()
}

func halfCeil(v float64) uint16 {
	v = math.Max(v, 0)
	bits := float16.Fromfloat32(clampHalf(v)).Bits()
	if float64(float16.Frombits(bits).Float32()) < v && bits < float16.Fromfloat32(maxHalf).Bits() {
		bits++
	}
	return bits
}

func fromHalf(bits uint16) float64 {
	return float64(float16.Frombits(bits).Float32())
}
