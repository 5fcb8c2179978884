package worker

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/pkg/errors"

	"go.viam.com/splatlod/config"
	"go.viam.com/splatlod/logging"
	"go.viam.com/splatlod/traversal"
	"go.viam.com/splatlod/utils"
)

// TraversalRequest asks for one frontier across instances of registered trees.
type TraversalRequest struct {
	MaxSplats       int
	PixelScaleLimit float64
	FovX            float64
	FovY            float64
	Instances       []InstanceRequest
}

// InstanceRequest places one registered tree.
type InstanceRequest struct {
	// TreeID is the collection name.
	TreeID string
	// Transform holds the columns of the instance to view matrix.
	Transform      [16]float64
	LodScale       float64
	OutsideFoveate float64
	BehindFoveate  float64
}

// TraversalResponse holds the node indices selected per instance, in request order.
type TraversalResponse struct {
	Request TraversalRequest
	// Generations is the tree generation each instance was traversed at.
	Generations []uint64
	Indices     [][]uint32
	Total       int
	Err         error
}

// NewTraversalRequest builds a request from the traversal and instance config.
func NewTraversalRequest(cfg *config.Config) TraversalRequest {
	req := TraversalRequest{
		MaxSplats:       cfg.Traversal.MaxSplats,
		PixelScaleLimit: cfg.Traversal.PixelScaleLimit,
		FovX:            cfg.Traversal.FovX,
		FovY:            cfg.Traversal.FovY,
	}
	for _, ic := range cfg.Instances {
		req.Instances = append(req.Instances, InstanceRequest{
			TreeID:         ic.Tree,
			Transform:      [16]float64(ic.Matrix()),
			LodScale:       ic.LodScale,
			OutsideFoveate: ic.OutsideFoveate,
			BehindFoveate:  ic.BehindFoveate,
		})
	}
	return req
}

// Resolve snapshots the current trees of the registry into a traversal request.
func (req TraversalRequest) Resolve(registry *Registry) (traversal.Request, []uint64, error) {
	out := traversal.Request{
		MaxSplats:       req.MaxSplats,
		PixelScaleLimit: req.PixelScaleLimit,
		View:            traversal.View{FovX: req.FovX, FovY: req.FovY},
		Instances:       make([]traversal.Instance, len(req.Instances)),
	}
	generations := make([]uint64, len(req.Instances))
	for i, inst := range req.Instances {
		tree, err := registry.Tree(inst.TreeID)
		if err != nil {
			return traversal.Request{}, nil, errors.Wrapf(err, "instance %d", i)
		}
		out.Instances[i] = traversal.Instance{
			Tree:           tree,
			Transform:      mgl64.Mat4(inst.Transform),
			LodScale:       inst.LodScale,
			OutsideFoveate: inst.OutsideFoveate,
			BehindFoveate:  inst.BehindFoveate,
		}
		generations[i] = tree.Generation
	}
	return out, generations, nil
}

// A Traverser runs traversals on one background goroutine. Only the newest request matters:
// a pending request is replaced by a newer one and a running traversal is cancelled when a
// newer request arrives. Consecutive traversals start at least minInterval apart.
type Traverser struct {
	registry    *Registry
	clock       clock.Clock
	minInterval time.Duration
	logger      logging.Logger
	workers     utils.StoppableWorkers

	mailbox chan TraversalRequest
	results chan TraversalResponse

	mu            sync.Mutex
	cancelRunning context.CancelFunc
}

// NewTraverser starts a traverser over the trees of registry. A nil clk uses the wall clock.
func NewTraverser(registry *Registry, minInterval time.Duration, clk clock.Clock, logger logging.Logger) *Traverser {
	if clk == nil {
		clk = clock.New()
	}
	t := &Traverser{
		registry:    registry,
		clock:       clk,
		minInterval: minInterval,
		logger:      logger,
		mailbox:     make(chan TraversalRequest, 1),
		results:     make(chan TraversalResponse, 1),
	}
	t.workers = utils.NewStoppableWorkers(t.run)
	return t
}

// Submit queues req, replacing any request still waiting and cancelling the running one.
func (t *Traverser) Submit(req TraversalRequest) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancelRunning != nil {
		t.cancelRunning()
		t.cancelRunning = nil
	}
	select {
	case <-t.mailbox:
		traversalsSuperseded.Inc()
	default:
	}
	t.mailbox <- req
}

// Results delivers responses. Only the newest undelivered response is kept.
func (t *Traverser) Results() <-chan TraversalResponse {
	return t.results
}

// Close stops the background goroutine, abandoning any request in flight.
func (t *Traverser) Close() {
	t.workers.Stop()
}

func (t *Traverser) run(ctx context.Context) {
	var last time.Time
	for {
		var req TraversalRequest
		select {
		case <-ctx.Done():
			return
		case req = <-t.mailbox:
		}

		if !last.IsZero() {
			if wait := t.minInterval - t.clock.Since(last); wait > 0 {
				select {
				case <-ctx.Done():
					return
				case <-t.clock.After(wait):
				}
			}
		}

		t.mu.Lock()
		select {
		case newer := <-t.mailbox:
			traversalsSuperseded.Inc()
			req = newer
		default:
		}
		runCtx, cancel := context.WithCancel(ctx)
		t.cancelRunning = cancel
		t.mu.Unlock()

		last = t.clock.Now()
		resp := t.traverse(runCtx, req)
		cancel()

		if ctx.Err() != nil {
			return
		}
		if errors.Is(resp.Err, context.Canceled) {
			traversalsSuperseded.Inc()
			t.logger.Debug("traversal superseded")
			continue
		}
		t.deliver(resp)
	}
}

func (t *Traverser) traverse(ctx context.Context, req TraversalRequest) TraversalResponse {
	resp := TraversalResponse{Request: req}
	treq, generations, err := req.Resolve(t.registry)
	if err != nil {
		traversalErrors.Inc()
		resp.Err = err
		return resp
	}
	resp.Generations = generations

	start := time.Now()
	frontier, err := traversal.Traverse(ctx, treq)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			traversalErrors.Inc()
		}
		resp.Err = err
		return resp
	}
	instrumentTraversal(frontier.Total, time.Since(start))

	resp.Total = frontier.Total
	resp.Indices = make([][]uint32, len(req.Instances))
	for i := range req.Instances {
		resp.Indices[i] = frontier.NodesFor(i)
	}
	t.logger.Debugw("traversal complete", "instances", len(req.Instances), "total", frontier.Total)
	return resp
}

func (t *Traverser) deliver(resp TraversalResponse) {
	select {
	case t.results <- resp:
		return
	default:
	}
	select {
	case <-t.results:
	default:
	}
	t.results <- resp
}
