// Package traversal selects, per frame, a bounded frontier of LoD tree nodes across one or
// more tree instances.
package traversal

import (
	"container/heap"
	"context"
	"math"
	"slices"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/pkg/errors"

	"go.viam.com/splatlod/lod"
)

// pollInterval is how many queue pops happen between context checks.
const pollInterval = 1024

// Instance places a tree in view space for one traversal.
type Instance struct {
	Tree *lod.Tree
	// Transform maps tree coordinates to view space.
	Transform mgl64.Mat4
	// LodScale multiplies the pixel scale of every node. Zero means 1.
	LodScale float64
	// OutsideFoveate and BehindFoveate in (0, 1] coarsen nodes outside the frustum and behind
	// the viewer. Zero means 1.
	OutsideFoveate float64
	BehindFoveate  float64
}

// Request is one traversal over any number of instances sharing one budget.
type Request struct {
	// MaxSplats is the budget N. Zero or less selects nothing.
	MaxSplats int
	// PixelScaleLimit stops expansion once the largest queued node is smaller than this
	// fraction of the screen height.
	PixelScaleLimit float64
	View            View
	Instances       []Instance
}

// Validate ensures all parts of the request are valid.
func (r Request) Validate() error {
	if !(r.View.FovY > 0 && r.View.FovY < math.Pi) {
		return errors.Errorf("vertical field of view must be in (0, pi), got %v", r.View.FovY)
	}
	if r.View.FovX < 0 || r.View.FovX >= math.Pi || math.IsNaN(r.View.FovX) {
		return errors.Errorf("horizontal field of view must be in (0, pi), got %v", r.View.FovX)
	}
	if r.PixelScaleLimit < 0 || math.IsNaN(r.PixelScaleLimit) {
		return errors.Errorf("pixel scale limit must be non-negative, got %v", r.PixelScaleLimit)
	}
	for i, inst := range r.Instances {
		for name, v := range map[string]float64{
			"lod scale":       inst.LodScale,
			"outside foveate": inst.OutsideFoveate,
			"behind foveate":  inst.BehindFoveate,
		} {
			if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
				return errors.Errorf("instance %d %s must be non-negative, got %v", i, name, v)
			}
		}
		if inst.OutsideFoveate > 1 || inst.BehindFoveate > 1 {
			return errors.Errorf("instance %d foveation must be in (0, 1]", i)
		}
	}
	return nil
}

// Selection is the frontier of one instance, node indices in ascending order.
type Selection struct {
	Instance int
	Nodes    []uint32
}

// Frontier is the result of a traversal. Selections only lists instances with nodes.
type Frontier struct {
	Selections []Selection
	Total      int
}

// NodesFor returns the selected nodes of an instance.
func (f Frontier) NodesFor(instance int) []uint32 {
	for _, s := range f.Selections {
		if s.Instance == instance {
			return s.Nodes
		}
	}
	return nil
}

type preparedInstance struct {
	tree           *lod.Tree
	transform      mgl64.Mat4
	radiusScale    float64
	outsideFoveate float64
	behindFoveate  float64
}

func prepare(inst Instance) preparedInstance {
	orOne := func(v float64) float64 {
		if v == 0 {
			return 1
		}
		return v
	}
	axisScale := math.Max(inst.Transform.Col(0).Vec3().Len(),
		math.Max(inst.Transform.Col(1).Vec3().Len(), inst.Transform.Col(2).Vec3().Len()))
	return preparedInstance{
		tree:           inst.Tree,
		transform:      inst.Transform,
		radiusScale:    axisScale * orOne(inst.LodScale),
		outsideFoveate: orOne(inst.OutsideFoveate),
		behindFoveate:  orOne(inst.BehindFoveate),
	}
}

func (p preparedInstance) score(view View, node int) float64 {
	c := p.tree.Center(node)
	viewPos := p.transform.Mul4x1(mgl64.Vec4{c.X, c.Y, c.Z, 1}).Vec3()
	return view.PixelScale(viewPos, p.tree.Radius(node)*p.radiusScale, p.outsideFoveate, p.behindFoveate)
}

// Traverse selects at most MaxSplats nodes across all instances. The result for each instance
// is a cut through its tree: every leaf is covered by exactly one selected node.
//
// All instance roots seed one max-heap keyed by pixel scale. The largest node is repeatedly
// replaced by its children until the queue is empty, the largest node is below
// PixelScaleLimit, or an expansion would exceed the budget. Leaves popped on the way are
// emitted directly. If there are more instances than budget, only the MaxSplats largest roots
// are considered.
func Traverse(ctx context.Context, req Request) (Frontier, error) {
	if req.MaxSplats <= 0 || len(req.Instances) == 0 {
		return Frontier{}, nil
	}
	if err := req.Validate(); err != nil {
		return Frontier{}, err
	}

	instances := make([]preparedInstance, len(req.Instances))
	var queue frontierQueue
	var seq uint64
	for i, inst := range req.Instances {
		instances[i] = prepare(inst)
		if inst.Tree == nil || inst.Tree.Len() == 0 {
			continue
		}
		queue = append(queue, queueEntry{score: instances[i].score(req.View, 0), seq: seq, instance: i})
		seq++
	}
	if len(queue) > req.MaxSplats {
		slices.SortFunc(queue, func(a, b queueEntry) int {
			if before(a, b) {
				return -1
			}
			return 1
		})
		queue = queue[:req.MaxSplats]
	}
	heap.Init(&queue)

	selected := make([][]uint32, len(instances))
	emitted := 0
	emit := func(e queueEntry) {
		selected[e.instance] = append(selected[e.instance], e.node)
		emitted++
	}

	for pops := 0; queue.Len() > 0; pops++ {
		if pops%pollInterval == 0 {
			if err := ctx.Err(); err != nil {
				return Frontier{}, err
			}
		}
		if queue[0].score < req.PixelScaleLimit {
			break
		}
		e := heap.Pop(&queue).(queueEntry)
		tree := instances[e.instance].tree
		start, count := tree.Children(int(e.node))
		if count == 0 {
			emit(e)
			continue
		}
		if emitted+queue.Len()+count > req.MaxSplats {
			emit(e)
			break
		}
		for c := start; c < start+count; c++ {
			heap.Push(&queue, queueEntry{
				score:    instances[e.instance].score(req.View, c),
				seq:      seq,
				instance: e.instance,
				node:     uint32(c),
			})
			seq++
		}
	}
	for _, e := range queue {
		emit(e)
	}

	var frontier Frontier
	for i, nodes := range selected {
		if len(nodes) == 0 {
			continue
		}
		slices.Sort(nodes)
		frontier.Selections = append(frontier.Selections, Selection{Instance: i, Nodes: nodes})
		frontier.Total += len(nodes)
	}
	return frontier, nil
}
