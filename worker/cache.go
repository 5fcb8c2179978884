package worker

import (
	"sync"

	"github.com/google/uuid"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"

	"go.viam.com/splatlod/lod"
)

// Summary describes the shape of one tree generation.
type Summary struct {
	ID         uuid.UUID
	Generation uint64

	Nodes  int
	Leaves int
	Depth  int
	// NodesPerLevel is indexed by depth, root first.
	NodesPerLevel []int

	MeanRadius   float64
	MedianRadius float64
	P95Radius    float64
	MaxRadius    float64
	MeanOpacity  float64
}

// Summarize computes the summary of tree.
func Summarize(tree *lod.Tree) (Summary, error) {
	n := tree.Len()
	if n == 0 {
		return Summary{}, errors.New("cannot summarize an empty tree")
	}
	sum := Summary{ID: tree.ID, Generation: tree.Generation, Nodes: n, Leaves: tree.LeafCount()}

	depth := make([]int, n)
	radii := make([]float64, n)
	opacities := make([]float64, n)
	for i := 0; i < n; i++ {
		radii[i] = tree.Radius(i)
		opacities[i] = tree.At(i).Opacity
		start, count := tree.Children(i)
		for c := start; c < start+count; c++ {
			depth[c] = depth[i] + 1
		}
		if depth[i] >= len(sum.NodesPerLevel) {
			sum.NodesPerLevel = append(sum.NodesPerLevel, 0)
		}
		sum.NodesPerLevel[depth[i]]++
	}
	sum.Depth = len(sum.NodesPerLevel) - 1

	var err error
	if sum.MeanRadius, err = stats.Mean(radii); err != nil {
		return Summary{}, err
	}
	if sum.MedianRadius, err = stats.Median(radii); err != nil {
		return Summary{}, err
	}
	if sum.P95Radius, err = stats.Percentile(radii, 95); err != nil {
		return Summary{}, err
	}
	if sum.MaxRadius, err = stats.Max(radii); err != nil {
		return Summary{}, err
	}
	if sum.MeanOpacity, err = stats.Mean(opacities); err != nil {
		return Summary{}, err
	}
	return sum, nil
}

type cacheKey struct {
	id         uuid.UUID
	generation uint64
}

// TreeCache memoizes summaries per tree generation. A rebuilt tree has a new generation so it
// never hits a stale entry; Invalidate drops the old ones.
type TreeCache struct {
	mu      sync.Mutex
	entries map[cacheKey]Summary
}

// NewTreeCache returns an empty cache.
func NewTreeCache() *TreeCache {
	return &TreeCache{entries: map[cacheKey]Summary{}}
}

// Summary returns the cached summary of tree, computing it on a miss.
func (c *TreeCache) Summary(tree *lod.Tree) (Summary, error) {
	key := cacheKey{tree.ID, tree.Generation}
	c.mu.Lock()
	defer c.mu.Unlock()
	if sum, ok := c.entries[key]; ok {
		return sum, nil
	}
	sum, err := Summarize(tree)
	if err != nil {
		return Summary{}, err
	}
	c.entries[key] = sum
	return sum, nil
}

// Invalidate drops every generation cached for id.
func (c *TreeCache) Invalidate(id uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.entries {
		if key.id == id {
			delete(c.entries, key)
		}
	}
}

// Len returns the number of cached summaries.
func (c *TreeCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
