package lod

import (
	"github.com/pkg/errors"

	"go.viam.com/splatlod/splat"
)

// Node is one entry of a Hierarchy arena. Children are indices into the same arena.
type Node struct {
	Splat    splat.Splat
	Children []int
	// Source is the input index of a leaf, or -1 for a merged node or an unknown origin.
	Source int
}

// IsLeaf reports whether the node has no children.
func (n Node) IsLeaf() bool {
	return len(n.Children) == 0
}

// Hierarchy is an arena of tree nodes. Leaves wrap input splats unmodified and interior nodes
// wrap the merge of their children.
type Hierarchy struct {
	Nodes []Node
	Root  int
}

// Len returns the number of nodes.
func (h *Hierarchy) Len() int {
	return len(h.Nodes)
}

// LeafCount returns the number of leaves reachable from the root.
func (h *Hierarchy) LeafCount() int {
	count := 0
	h.Walk(func(idx, depth int) bool {
		if h.Nodes[idx].IsLeaf() {
			count++
		}
		return true
	})
	return count
}

// Depth returns the number of levels below the root.
func (h *Hierarchy) Depth() int {
	maxDepth := 0
	h.Walk(func(idx, depth int) bool {
		if depth > maxDepth {
			maxDepth = depth
		}
		return true
	})
	return maxDepth
}

// Walk visits every node reachable from the root depth first, children in order. Returning
// false from fn skips the node's children.
func (h *Hierarchy) Walk(fn func(idx, depth int) bool) {
	if len(h.Nodes) == 0 {
		return
	}
	type frame struct{ idx, depth int }
	stack := []frame{{h.Root, 0}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !fn(f.idx, f.depth) {
			continue
		}
		children := h.Nodes[f.idx].Children
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, frame{children[i], f.depth + 1})
		}
	}
}

// Validate checks that the hierarchy is a tree: every node is reachable from the root exactly
// once through in-bounds child references, and no node exceeds MaxChildren.
func (h *Hierarchy) Validate() error {
	if len(h.Nodes) == 0 {
		return ErrEmptyCloud
	}
	if h.Root < 0 || h.Root >= len(h.Nodes) {
		return errors.Wrapf(ErrMalformedTree, "root %d out of range", h.Root)
	}
	seen := make([]bool, len(h.Nodes))
	seen[h.Root] = true
	queue := []int{h.Root}
	for len(queue) > 0 {
		idx := queue[0]
		queue = queue[1:]
		children := h.Nodes[idx].Children
		if len(children) > MaxChildren {
			return errors.Wrapf(ErrTooManyChildren, "node %d has %d children", idx, len(children))
		}
		for _, c := range children {
			if c < 0 || c >= len(h.Nodes) {
				return errors.Wrapf(ErrMalformedTree, "node %d references child %d out of range", idx, c)
			}
			if seen[c] {
				return errors.Wrapf(ErrMalformedTree, "node %d is referenced more than once", c)
			}
			seen[c] = true
			queue = append(queue, c)
		}
	}
	for idx, ok := range seen {
		if !ok {
			return errors.Wrapf(ErrMalformedTree, "node %d is unreachable from the root", idx)
		}
	}
	return nil
}
