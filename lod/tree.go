package lod

import (
	"slices"

	"github.com/golang/geo/r3"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"go.viam.com/splatlod/splat"
)

// Tree is a laid out, encoded LoD tree. Node 0 is the root and the children of node i are the
// contiguous range [ChildStart, ChildStart+ChildCount) of its record. A Tree is never mutated
// once published; rebuilding produces a new Tree.
type Tree struct {
	// ID identifies the logical splat collection the tree was built from.
	ID uuid.UUID
	// Generation increases each time the collection is rebuilt.
	Generation uint64
	// Origin is subtracted from node centers before they are packed into records.
	Origin r3.Vector

	records []uint32
	splats  []splat.Splat
	sources []int
}

// NewTree lays out h and encodes its records.
func NewTree(h *Hierarchy) (*Tree, error) {
	laid, err := Layout(h)
	if err != nil {
		return nil, err
	}
	n := len(laid.Nodes)
	t := &Tree{
		ID:      uuid.New(),
		Origin:  laid.Nodes[0].Splat.Center,
		records: make([]uint32, 0, n*RecordWords),
		splats:  make([]splat.Splat, n),
		sources: make([]int, n),
	}
	for i, node := range laid.Nodes {
		start := 0
		if len(node.Children) > 0 {
			start = node.Children[0]
		}
		t.splats[i] = node.Splat
		t.sources[i] = node.Source
		rec := NewRecord(node.Splat.Center.Sub(t.Origin), node.Splat.FeatureSize()/2, uint16(len(node.Children)), uint32(start))
		t.records = append(t.records, rec[:]...)
	}
	return t, nil
}

// FromArrays rebuilds a tree from a persisted layout: per-node splats plus child counts and
// child starts. The layout must be parent before child with contiguous children and every
// node other than the root must have exactly one parent; otherwise the whole input is
// rejected with ErrMalformedTree.
func FromArrays(splats []splat.Splat, childCounts []uint16, childStarts []uint32) (*Tree, error) {
	n := len(splats)
	if n == 0 {
		return nil, errors.Wrap(ErrMalformedTree, "no nodes")
	}
	if len(childCounts) != n || len(childStarts) != n {
		return nil, errors.Wrapf(ErrMalformedTree, "have %d splats, %d child counts and %d child starts",
			n, len(childCounts), len(childStarts))
	}
	parents := make([]int, n)
	for i := range splats {
		count, start := int(childCounts[i]), int(childStarts[i])
		if count == 0 {
			continue
		}
		if start <= i {
			return nil, errors.Wrapf(ErrMalformedTree, "node %d has children starting at %d", i, start)
		}
		if start+count > n {
			return nil, errors.Wrapf(ErrMalformedTree, "node %d children [%d, %d) exceed %d nodes", i, start, start+count, n)
		}
		for c := start; c < start+count; c++ {
			parents[c]++
		}
	}
	for i := 1; i < n; i++ {
		if parents[i] != 1 {
			return nil, errors.Wrapf(ErrMalformedTree, "node %d has %d parents", i, parents[i])
		}
	}

	t := &Tree{
		ID:      uuid.New(),
		Origin:  splats[0].Center,
		records: make([]uint32, 0, n*RecordWords),
		splats:  slices.Clone(splats),
		sources: make([]int, n),
	}
	for i, s := range t.splats {
		start := childStarts[i]
		if childCounts[i] == 0 {
			start = 0
		}
		t.sources[i] = -1
		rec := NewRecord(s.Center.Sub(t.Origin), s.FeatureSize()/2, childCounts[i], start)
		t.records = append(t.records, rec[:]...)
	}
	return t, nil
}

// Len returns the number of nodes.
func (t *Tree) Len() int {
	return len(t.splats)
}

// At returns the splat of node i.
func (t *Tree) At(i int) splat.Splat {
	return t.splats[i]
}

// Record returns the packed record of node i.
func (t *Tree) Record(i int) Record {
	var r Record
	copy(r[:], t.records[i*RecordWords:(i+1)*RecordWords])
	return r
}

// Words returns the packed record buffer. Callers must not modify it.
func (t *Tree) Words() []uint32 {
	return t.records
}

// Center returns the full precision center of node i. Record offsets are half precision and
// only meant for the render buffer.
func (t *Tree) Center(i int) r3.Vector {
	return t.splats[i].Center
}

// Radius returns the full precision feature radius of node i.
func (t *Tree) Radius(i int) float64 {
	return t.splats[i].FeatureSize() / 2
}

// Children returns the child index range of node i.
func (t *Tree) Children(i int) (start, count int) {
	r := t.Record(i)
	return r.ChildStart(), r.ChildCount()
}

// Source returns the input index of a leaf, or -1 if the node is merged or its origin unknown.
func (t *Tree) Source(i int) int {
	return t.sources[i]
}

// LeafCount returns the number of leaves.
func (t *Tree) LeafCount() int {
	count := 0
	for i := 0; i < t.Len(); i++ {
		if _, c := t.Children(i); c == 0 {
			count++
		}
	}
	return count
}

// ChildArrays returns the per-node child counts and child starts.
func (t *Tree) ChildArrays() ([]uint16, []uint32) {
	counts := make([]uint16, t.Len())
	starts := make([]uint32, t.Len())
	for i := range counts {
		r := t.Record(i)
		counts[i] = uint16(r.ChildCount())
		starts[i] = uint32(r.ChildStart())
	}
	return counts, starts
}

// Hierarchy converts the tree back into an arena rooted at node 0.
func (t *Tree) Hierarchy() *Hierarchy {
	h := &Hierarchy{Nodes: make([]Node, t.Len())}
	for i := range h.Nodes {
		start, count := t.Children(i)
		var children []int
		if count > 0 {
			children = make([]int, count)
			for c := range children {
				children[c] = start + c
			}
		}
		h.Nodes[i] = Node{Splat: t.splats[i], Children: children, Source: t.sources[i]}
	}
	return h
}
