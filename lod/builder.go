package lod

import (
	"cmp"
	"context"
	"math"
	"slices"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/samber/lo"

	"go.viam.com/splatlod/logging"
	"go.viam.com/splatlod/splat"
	"go.viam.com/splatlod/utils"
)

const (
	// DefaultBase is the default geometric growth between voxel levels.
	DefaultBase = 1.5
	// MinBase is the smallest accepted base.
	MinBase = 1.1
	// MaxBase is the largest accepted base.
	MaxBase = 2.0
	// DefaultMinSizeRatio floors zero-size splats at this fraction of the scene extent.
	DefaultMinSizeRatio = 1e-6
	// minFeatureSize floors splat sizes when the scene has no extent.
	minFeatureSize = 1e-9
)

// BuildOptions configure Build.
type BuildOptions struct {
	// Base is the voxel edge growth per level. Zero selects DefaultBase.
	Base float64
	// MinSizeRatio floors splat sizes relative to the scene extent. Zero selects DefaultMinSizeRatio.
	MinSizeRatio float64
	Logger       logging.Logger
}

// Validate ensures all parts of the options are valid.
func (opts BuildOptions) Validate() error {
	if opts.Base != 0 && (opts.Base < MinBase || opts.Base > MaxBase || math.IsNaN(opts.Base)) {
		return errors.Errorf("lod base must be in [%v, %v], got %v", MinBase, MaxBase, opts.Base)
	}
	if opts.MinSizeRatio < 0 || math.IsNaN(opts.MinSizeRatio) {
		return errors.Errorf("min size ratio must be non-negative, got %v", opts.MinSizeRatio)
	}
	return nil
}

func (opts BuildOptions) withDefaults() BuildOptions {
	if opts.Base == 0 {
		opts.Base = DefaultBase
	}
	if opts.MinSizeRatio == 0 {
		opts.MinSizeRatio = DefaultMinSizeRatio
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewBlankLogger("lod")
	}
	return opts
}

// VoxelCoords stores voxel coordinates at one level of the grid.
type VoxelCoords struct {
	I, J, K int64
}

// VoxelAt returns the coordinates of the voxel of edge length cell containing p.
func VoxelAt(p r3.Vector, cell float64) VoxelCoords {
	return VoxelCoords{
		I: int64(math.Floor(p.X / cell)),
		J: int64(math.Floor(p.Y / cell)),
		K: int64(math.Floor(p.Z / cell)),
	}
}

func compareVoxels(a, b VoxelCoords) int {
	if c := cmp.Compare(a.I, b.I); c != 0 {
		return c
	}
	if c := cmp.Compare(a.J, b.J); c != 0 {
		return c
	}
	return cmp.Compare(a.K, b.K)
}

// NaturalLevel returns the level L whose voxel edge base^L satisfies
// base^(L-1) < size <= base^L, which for base <= 2 implies 0.5·base^L <= size.
func NaturalLevel(size, base float64) int {
	return int(math.Ceil(math.Log(size) / math.Log(base)))
}

// Build constructs a hierarchy over every splat of src by bottom-up voxel merging.
//
// Each splat enters at its natural level, given by its feature size. Starting at the smallest
// occupied level, active nodes are hashed into voxels of edge base^L and every voxel holding
// more than one node is replaced by a single merged node whose children are the occupants.
// The level then grows by one. Once every splat has entered and the active nodes span at most
// two voxels per axis, the remaining nodes are merged into the root.
//
// Leaves occupy the first src.Len() arena slots in input order. The build is deterministic
// for a given input order.
func Build(ctx context.Context, src splat.Source, opts BuildOptions) (*Hierarchy, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()
	n := src.Len()
	if n == 0 {
		return nil, ErrEmptyCloud
	}

	h := &Hierarchy{Nodes: make([]Node, n, 2*n)}
	meta := splat.NewMetaData()
	for i := 0; i < n; i++ {
		s := src.At(i)
		h.Nodes[i] = Node{Splat: s, Source: i}
		meta.Merge(s)
	}
	if n == 1 {
		return h, nil
	}

	minSize := math.Max(meta.Extent()*opts.MinSizeRatio, minFeatureSize)
	levels := make([]int, n)
	if err := utils.GroupWorkParallel(ctx, n, nil, func(groupNum, groupSize, from, to int) (utils.MemberWorkFunc, utils.GroupWorkDoneFunc) {
		return func(memberNum, workNum int) {
			levels[workNum] = NaturalLevel(math.Max(h.Nodes[workNum].Splat.FeatureSize(), minSize), opts.Base)
		}, nil
	}); err != nil {
		return nil, err
	}

	pending := lo.GroupBy(lo.Range(n), func(i int) int { return levels[i] })
	pendingLevels := lo.Keys(pending)
	slices.Sort(pendingLevels)

	opts.Logger.Debugw("building lod tree", "splats", n, "base", opts.Base,
		"min_level", pendingLevels[0], "max_level", pendingLevels[len(pendingLevels)-1])

	var active []int
	next := 0
	for level := pendingLevels[0]; ; level++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for next < len(pendingLevels) && pendingLevels[next] <= level {
			active = append(active, pending[pendingLevels[next]]...)
			next++
		}
		slices.Sort(active)

		cell := math.Pow(opts.Base, float64(level))
		voxels := lo.GroupBy(active, func(idx int) VoxelCoords {
			return VoxelAt(h.Nodes[idx].Splat.Center, cell)
		})
		keys := lo.Keys(voxels)
		slices.SortFunc(keys, compareVoxels)

		merges := 0
		active = active[:0]
		for _, key := range keys {
			occupants := voxels[key]
			if len(occupants) == 1 {
				active = append(active, occupants[0])
				continue
			}
			idx, err := h.merge(occupants)
			if err != nil {
				return nil, errors.Wrapf(err, "merging voxel %v at level %d", key, level)
			}
			active = append(active, idx)
			merges++
		}
		opts.Logger.Debugw("lod level done", "level", level, "cell", cell, "merges", merges, "active", len(active))

		if next < len(pendingLevels) {
			continue
		}
		if len(active) == 1 {
			h.Root = active[0]
			break
		}
		if spansAtMostTwo(keysOf(h, active, cell)) {
			root, err := h.merge(active)
			if err != nil {
				return nil, errors.Wrap(err, "merging root")
			}
			h.Root = root
			break
		}
	}

	opts.Logger.Infow("built lod tree", "splats", n, "nodes", len(h.Nodes), "depth", h.Depth())
	return h, nil
}

func (h *Hierarchy) merge(children []int) (int, error) {
	if len(children) > MaxChildren {
		return 0, errors.Wrapf(ErrTooManyChildren, "%d occupants", len(children))
	}
	splats := make([]splat.Splat, len(children))
	for i, c := range children {
		splats[i] = h.Nodes[c].Splat
	}
	merged, err := Downsample(splats)
	if err != nil {
		return 0, err
	}
	h.Nodes = append(h.Nodes, Node{Splat: merged, Children: slices.Clone(children), Source: -1})
	return len(h.Nodes) - 1, nil
}

func keysOf(h *Hierarchy, nodes []int, cell float64) []VoxelCoords {
	return lo.Map(nodes, func(idx, _ int) VoxelCoords {
		return VoxelAt(h.Nodes[idx].Splat.Center, cell)
	})
}

func spansAtMostTwo(keys []VoxelCoords) bool {
	lower, upper := keys[0], keys[0]
	for _, k := range keys[1:] {
		lower = VoxelCoords{min(lower.I, k.I), min(lower.J, k.J), min(lower.K, k.K)}
		upper = VoxelCoords{max(upper.I, k.I), max(upper.J, k.J), max(upper.K, k.K)}
	}
	return upper.I-lower.I <= 1 && upper.J-lower.J <= 1 && upper.K-lower.K <= 1
}
