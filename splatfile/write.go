package splatfile

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"
	"os"

	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"go.viam.com/splatlod/lod"
	"go.viam.com/splatlod/splat"
)

// WriteOptions configure writing.
type WriteOptions struct {
	// FractionalBits is the position precision. Zero selects DefaultFractionalBits.
	FractionalBits int
	Antialiased    bool
	// SHDegree caps the SH degree written. Negative writes no SH.
	SHDegree int
}

// WriteCloud writes src as a flat splat file.
func WriteCloud(w io.Writer, src splat.Source, opts WriteOptions) error {
	return write(w, src, nil, nil, opts)
}

// WriteTree writes a laid out tree as an LoD splat file.
func WriteTree(w io.Writer, tree *lod.Tree, opts WriteOptions) error {
	counts, starts := tree.ChildArrays()
	return write(w, tree, counts, starts, opts)
}

// WriteFile writes a tree, or a flat cloud when tree is nil, to path.
func WriteFile(path string, src splat.Source, tree *lod.Tree, opts WriteOptions) (err error) {
	//nolint:gosec
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	bw := bufio.NewWriter(f)
	if tree != nil {
		err = WriteTree(bw, tree, opts)
	} else {
		err = WriteCloud(bw, src, opts)
	}
	if err != nil {
		return err
	}
	return bw.Flush()
}

func write(w io.Writer, src splat.Source, counts []uint16, starts []uint32, opts WriteOptions) (err error) {
	n := src.Len()
	if n > MaxPoints {
		return errors.Errorf("cannot write %d points, at most %d are supported", n, MaxPoints)
	}
	fractionalBits := opts.FractionalBits
	if fractionalBits == 0 {
		fractionalBits = DefaultFractionalBits
	}
	if fractionalBits < 0 || fractionalBits > 23 {
		return errors.Errorf("fractional bits must be in [0, 23], got %d", fractionalBits)
	}

	degree := 0
	for i := 0; i < n; i++ {
		if d := src.At(i).SHDegree(); d > degree {
			degree = d
		}
	}
	if opts.SHDegree < 0 {
		degree = 0
	} else if opts.SHDegree > 0 && degree > opts.SHDegree {
		degree = opts.SHDegree
	}

	isLoD := counts != nil
	header := Header{
		Magic:          Magic,
		Version:        Version,
		NumPoints:      uint32(n),
		SHDegree:       uint8(degree),
		FractionalBits: uint8(fractionalBits),
	}
	if opts.Antialiased {
		header.Flags |= FlagAntialiased
	}
	if isLoD {
		header.Flags |= FlagLoD
	}

	gz := gzip.NewWriter(w)
	defer func() {
		err = multierr.Combine(err, gz.Close())
	}()
	if err := binary.Write(gz, binary.LittleEndian, header); err != nil {
		return err
	}

	scale := math.Ldexp(1, fractionalBits)
	limit := float64(1<<23 - 1)
	positions := make([]byte, 0, n*9)
	for i := 0; i < n; i++ {
		c := src.At(i).Center
		for _, v := range []float64{c.X, c.Y, c.Z} {
			fixed := math.Round(v * scale)
			if fixed > limit || fixed < -limit {
				return errors.Errorf("point %d coordinate %v does not fit in 24 bits with %d fractional bits", i, v, fractionalBits)
			}
			u := uint32(int32(fixed))
			positions = append(positions, byte(u), byte(u>>8), byte(u>>16))
		}
	}
	if _, err := gz.Write(positions); err != nil {
		return err
	}

	section := make([]byte, 0, n*3)
	for i := 0; i < n; i++ {
		section = append(section, encodeAlpha(src.At(i).Opacity, isLoD))
	}
	if _, err := gz.Write(section); err != nil {
		return err
	}

	section = section[:0]
	for i := 0; i < n; i++ {
		c := encodeColor(src.At(i).Color)
		section = append(section, c[:]...)
	}
	if _, err := gz.Write(section); err != nil {
		return err
	}

	section = section[:0]
	for i := 0; i < n; i++ {
		s := src.At(i).Scale
		section = append(section, encodeScale(s.X), encodeScale(s.Y), encodeScale(s.Z))
	}
	if _, err := gz.Write(section); err != nil {
		return err
	}

	section = section[:0]
	for i := 0; i < n; i++ {
		r := encodeRotation(src.At(i).Orientation)
		section = append(section, r[:]...)
	}
	if _, err := gz.Write(section); err != nil {
		return err
	}

	if perSplat := shValues(uint8(degree)); perSplat > 0 {
		sh := make([]byte, 0, n*perSplat)
		for i := 0; i < n; i++ {
			values := src.At(i).SH
			for k := 0; k < perSplat; k++ {
				v := 0.0
				if k < len(values) {
					v = values[k]
				}
				sh = append(sh, encodeSH(v))
			}
		}
		if _, err := gz.Write(sh); err != nil {
			return err
		}
	}

	if isLoD {
		if err := binary.Write(gz, binary.LittleEndian, counts); err != nil {
			return err
		}
		if err := binary.Write(gz, binary.LittleEndian, starts); err != nil {
			return err
		}
	}
	return nil
}
