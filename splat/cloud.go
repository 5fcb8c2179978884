package splat

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// Source enumerates decoded splats. Decoders for the various splat formats implement it.
type Source interface {
	// Len returns the number of splats.
	Len() int
	// At returns the i'th splat.
	At(i int) Splat
}

// MetaData is data about what's stored in a cloud.
type MetaData struct {
	HasSH    bool
	SHDegree int

	MinX, MaxX float64
	MinY, MaxY float64
	MinZ, MaxZ float64
}

// NewMetaData returns an empty MetaData with inverted bounds.
func NewMetaData() MetaData {
	return MetaData{
		MinX: math.MaxFloat64,
		MinY: math.MaxFloat64,
		MinZ: math.MaxFloat64,
		MaxX: -math.MaxFloat64,
		MaxY: -math.MaxFloat64,
		MaxZ: -math.MaxFloat64,
	}
}

// Merge folds a splat into the metadata.
func (meta *MetaData) Merge(s Splat) {
	if len(s.SH) > 0 {
		meta.HasSH = true
		if d := s.SHDegree(); d > meta.SHDegree {
			meta.SHDegree = d
		}
	}
	v := s.Center
	meta.MinX = math.Min(meta.MinX, v.X)
	meta.MinY = math.Min(meta.MinY, v.Y)
	meta.MinZ = math.Min(meta.MinZ, v.Z)
	meta.MaxX = math.Max(meta.MaxX, v.X)
	meta.MaxY = math.Max(meta.MaxY, v.Y)
	meta.MaxZ = math.Max(meta.MaxZ, v.Z)
}

// Empty reports whether no splat has been merged.
func (meta MetaData) Empty() bool {
	return meta.MinX > meta.MaxX
}

// Min returns the minimum corner of the bounds.
func (meta MetaData) Min() r3.Vector {
	return r3.Vector{X: meta.MinX, Y: meta.MinY, Z: meta.MinZ}
}

// Max returns the maximum corner of the bounds.
func (meta MetaData) Max() r3.Vector {
	return r3.Vector{X: meta.MaxX, Y: meta.MaxY, Z: meta.MaxZ}
}

// Center returns the middle of the bounds.
func (meta MetaData) Center() r3.Vector {
	if meta.Empty() {
		return r3.Vector{}
	}
	return meta.Min().Add(meta.Max()).Mul(0.5)
}

// Extent returns the largest edge of the bounding box.
func (meta MetaData) Extent() float64 {
	if meta.Empty() {
		return 0
	}
	d := meta.Max().Sub(meta.Min())
	return math.Max(d.X, math.Max(d.Y, d.Z))
}

// Cloud is an ordered collection of splats.
type Cloud struct {
	splats []Splat
	meta   MetaData
}

// NewCloud returns an empty cloud.
func NewCloud() *Cloud {
	return NewCloudWithPrealloc(0)
}

// NewCloudWithPrealloc returns an empty cloud with room for size splats.
func NewCloudWithPrealloc(size int) *Cloud {
	return &Cloud{splats: make([]Splat, 0, size), meta: NewMetaData()}
}

// NewCloudFromSource copies every splat of src into a new cloud.
func NewCloudFromSource(src Source) (*Cloud, error) {
	cloud := NewCloudWithPrealloc(src.Len())
	for i := 0; i < src.Len(); i++ {
		if err := cloud.Append(src.At(i)); err != nil {
			return nil, errors.Wrapf(err, "splat %d", i)
		}
	}
	return cloud, nil
}

// Append validates and adds a splat.
func (c *Cloud) Append(s Splat) error {
	if err := s.Validate(); err != nil {
		return err
	}
	c.splats = append(c.splats, s)
	c.meta.Merge(s)
	return nil
}

// Len returns the number of splats.
func (c *Cloud) Len() int {
	return len(c.splats)
}

// At returns the i'th splat.
func (c *Cloud) At(i int) Splat {
	return c.splats[i]
}

// MetaData returns the cloud's metadata.
func (c *Cloud) MetaData() MetaData {
	return c.meta
}

// Iterate calls fn for each splat in order. If fn returns false, iteration stops.
// numBatches lets you divide up the work. 0 means don't divide;
// myBatch is used iff numBatches > 0 and is which batch you want.
func (c *Cloud) Iterate(numBatches, myBatch int, fn func(i int, s Splat) bool) {
	start, end := 0, len(c.splats)
	if numBatches > 0 {
		batchSize := (len(c.splats) + numBatches - 1) / numBatches
		start = myBatch * batchSize
		end = start + batchSize
		if end > len(c.splats) {
			end = len(c.splats)
		}
	}
	for i := start; i < end; i++ {
		if !fn(i, c.splats[i]) {
			return
		}
	}
}
