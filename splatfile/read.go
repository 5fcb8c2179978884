package splatfile

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"
	"os"

	"github.com/golang/geo/r3"
	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"go.viam.com/splatlod/lod"
	"go.viam.com/splatlod/splat"
)

// ErrMalformedTree is returned for LoD files whose child arrays are inconsistent.
var ErrMalformedTree = lod.ErrMalformedTree

// File is a decoded splat file.
type File struct {
	Header      Header
	Splats      []splat.Splat
	ChildCounts []uint16
	ChildStarts []uint32

	tree *lod.Tree
}

// Len returns the number of splats.
func (f *File) Len() int {
	return len(f.Splats)
}

// At returns the i'th splat.
func (f *File) At(i int) splat.Splat {
	return f.Splats[i]
}

// Tree returns the file's LoD tree, or nil for a flat file.
func (f *File) Tree() *lod.Tree {
	return f.tree
}

// Leaves returns the original splats of the file: every splat of a flat file, or only the
// leaf nodes of an LoD file in node order. Interior nodes are merges of their leaves and must
// not be fed back into a build.
func (f *File) Leaves() splat.Source {
	if f.tree == nil {
		return f
	}
	leaves := make(splats, 0, f.tree.LeafCount())
	for i, count := range f.ChildCounts {
		if count == 0 {
			leaves = append(leaves, f.Splats[i])
		}
	}
	return leaves
}

type splats []splat.Splat

func (s splats) Len() int {
	return len(s)
}

func (s splats) At(i int) splat.Splat {
	return s[i]
}

// ReadFile reads the splat file at path.
func ReadFile(path string) (_ *File, err error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	return Read(bufio.NewReader(f))
}

// Read decodes a splat file. A file whose LoD child arrays are inconsistent is rejected as a
// whole with an error wrapping ErrMalformedTree.
func Read(r io.Reader) (_ *File, err error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, errors.Wrap(err, "splat file is not gzip compressed")
	}
	defer func() {
		err = multierr.Combine(err, gz.Close())
	}()

	var header Header
	if err := binary.Read(gz, binary.LittleEndian, &header); err != nil {
		return nil, errors.Wrap(err, "reading header")
	}
	if header.Magic != Magic {
		return nil, errors.Errorf("bad magic %#x", header.Magic)
	}
	if header.Version < 1 || header.Version > Version {
		return nil, errors.Errorf("unsupported version %d", header.Version)
	}
	if header.NumPoints > MaxPoints {
		return nil, errors.Errorf("too many points: %d", header.NumPoints)
	}
	if header.SHDegree > 3 {
		return nil, errors.Errorf("unsupported SH degree %d", header.SHDegree)
	}
	if header.FractionalBits > 23 {
		return nil, errors.Errorf("unsupported fractional bits %d", header.FractionalBits)
	}

	n := int(header.NumPoints)
	isLoD := header.HasLoD()
	// sections grow with the bytes actually present so a forged point count cannot force a
	// large allocation
	readSection := func(name string, size int) ([]byte, error) {
		buf, err := io.ReadAll(io.LimitReader(gz, int64(size)))
		if err != nil {
			return nil, errors.Wrapf(err, "reading %s", name)
		}
		if len(buf) < size {
			return nil, errors.Wrapf(io.ErrUnexpectedEOF, "reading %s: have %d of %d bytes", name, len(buf), size)
		}
		return buf, nil
	}

	positions, err := readSection("positions", n*9)
	if err != nil {
		return nil, err
	}
	alphas, err := readSection("alphas", n)
	if err != nil {
		return nil, err
	}
	colors, err := readSection("colors", n*3)
	if err != nil {
		return nil, err
	}
	scales, err := readSection("scales", n*3)
	if err != nil {
		return nil, err
	}
	rotations, err := readSection("rotations", n*3)
	if err != nil {
		return nil, err
	}
	perSplat := shValues(header.SHDegree)
	sh, err := readSection("sh", n*perSplat)
	if err != nil {
		return nil, err
	}

	file := &File{Header: header, Splats: make([]splat.Splat, n)}
	unit := math.Ldexp(1, -int(header.FractionalBits))
	fixed := func(b []byte) float64 {
		v := int32(uint32(b[0])|uint32(b[1])<<8|uint32(b[2])<<16) << 8 >> 8
		return float64(v) * unit
	}
	for i := range file.Splats {
		p := positions[i*9 : i*9+9]
		s := splat.Splat{
			Center:      r3.Vector{X: fixed(p[0:3]), Y: fixed(p[3:6]), Z: fixed(p[6:9])},
			Scale:       r3.Vector{X: decodeScale(scales[i*3]), Y: decodeScale(scales[i*3+1]), Z: decodeScale(scales[i*3+2])},
			Orientation: decodeRotation([3]uint8(rotations[i*3 : i*3+3])),
			Opacity:     decodeAlpha(alphas[i], isLoD),
			Color:       decodeColor([3]uint8(colors[i*3 : i*3+3])),
		}
		if perSplat > 0 {
			s.SH = make([]float64, perSplat)
			for k := range s.SH {
				s.SH[k] = decodeSH(sh[i*perSplat+k])
			}
		}
		file.Splats[i] = s
	}

	if !isLoD {
		return file, nil
	}
	file.ChildCounts = make([]uint16, n)
	file.ChildStarts = make([]uint32, n)
	if err := binary.Read(gz, binary.LittleEndian, file.ChildCounts); err != nil {
		return nil, errors.Wrap(err, "reading child counts")
	}
	if err := binary.Read(gz, binary.LittleEndian, file.ChildStarts); err != nil {
		return nil, errors.Wrap(err, "reading child starts")
	}
	tree, err := lod.FromArrays(file.Splats, file.ChildCounts, file.ChildStarts)
	if err != nil {
		return nil, err
	}
	file.tree = tree
	return file, nil
}
