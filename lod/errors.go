package lod

import (
	"math"

	"github.com/pkg/errors"
)

// MaxChildren is the largest child count a node can carry in its 16-bit count field.
const MaxChildren = math.MaxUint16

var (
	// ErrEmptyCloud is returned when a tree is requested for zero splats.
	ErrEmptyCloud = errors.New("cannot build a tree from an empty splat set")
	// ErrTooManyChildren is returned when a single merge would exceed MaxChildren.
	ErrTooManyChildren = errors.Errorf("node would have more than %d children", MaxChildren)
	// ErrMalformedTree is returned when an encoded tree violates bounds or ordering.
	ErrMalformedTree = errors.New("malformed tree")
)
