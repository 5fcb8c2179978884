package lod

import (
	"slices"
)

// Layout re-indexes a hierarchy breadth first from its root. In the result the root is node 0,
// every child index is greater than its parent's, and the children of each node are
// contiguous and keep their order. Laying out an already laid out hierarchy is the identity.
func Layout(h *Hierarchy) (*Hierarchy, error) {
	if err := h.Validate(); err != nil {
		return nil, err
	}

	order := make([]int, 0, len(h.Nodes))
	order = append(order, h.Root)
	for head := 0; head < len(order); head++ {
		order = append(order, h.Nodes[order[head]].Children...)
	}

	newIndex := make([]int, len(h.Nodes))
	for newIdx, oldIdx := range order {
		newIndex[oldIdx] = newIdx
	}

	out := &Hierarchy{Nodes: make([]Node, len(order))}
	for newIdx, oldIdx := range order {
		node := h.Nodes[oldIdx]
		children := slices.Clone(node.Children)
		for i, c := range children {
			children[i] = newIndex[c]
		}
		out.Nodes[newIdx] = Node{Splat: node.Splat, Children: children, Source: node.Source}
	}
	return out, nil
}
