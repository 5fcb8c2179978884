// Package worker runs tree builds and frontier traversals off the caller's goroutine.
// Published trees are immutable and swapped atomically so readers never observe a
// partially built tree.
package worker

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"go.viam.com/splatlod/config"
	"go.viam.com/splatlod/fetch"
	"go.viam.com/splatlod/lod"
	"go.viam.com/splatlod/logging"
	"go.viam.com/splatlod/splat"
	"go.viam.com/splatlod/splatfile"
	"go.viam.com/splatlod/utils"
)

var (
	// ErrUnknownTree is returned when a name does not match any collection.
	ErrUnknownTree = errors.New("unknown tree")
	// ErrTreeNotReady is returned when a collection has not published a tree yet.
	ErrTreeNotReady = errors.New("tree not built yet")
	// ErrSuperseded is returned by a rebuild that finished after a newer one started.
	ErrSuperseded = errors.New("rebuild superseded by a newer one")
)

// A Collection is a named splat collection whose current tree can be rebuilt in the background.
type Collection struct {
	name    string
	id      uuid.UUID
	opts    lod.BuildOptions
	workers utils.StoppableWorkers
	logger  logging.Logger

	tree       atomic.Pointer[lod.Tree]
	generation atomic.Uint64

	mu          sync.Mutex
	seq         uint64
	cancelBuild context.CancelFunc
}

// Name returns the collection name.
func (c *Collection) Name() string {
	return c.name
}

// ID returns the id stamped on every tree the collection publishes.
func (c *Collection) ID() uuid.UUID {
	return c.id
}

// Tree returns the current tree, or nil before the first successful build.
func (c *Collection) Tree() *lod.Tree {
	return c.tree.Load()
}

// Generation returns the generation of the current tree. It is 0 before the first publish.
func (c *Collection) Generation() uint64 {
	return c.generation.Load()
}

// begin cancels any build in flight and returns the sequence number owning the next publish.
func (c *Collection) begin() (uint64, context.Context, context.CancelFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	if c.cancelBuild != nil {
		c.cancelBuild()
	}
	ctx, cancel := context.WithCancel(c.workers.Context())
	c.cancelBuild = cancel
	return c.seq, ctx, cancel
}

// publish stores tree if seq still owns the collection.
func (c *Collection) publish(seq uint64, tree *lod.Tree) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if seq != c.seq {
		return ErrSuperseded
	}
	tree.ID = c.id
	tree.Generation = c.generation.Add(1)
	c.tree.Store(tree)
	c.cancelBuild = nil
	return nil
}

// Rebuild builds a new tree from src on a background worker and publishes it once complete.
// The previous tree stays published if the build fails or is cancelled, either through ctx,
// a newer Rebuild, or the registry closing.
func (c *Collection) Rebuild(ctx context.Context, src splat.Source) (*lod.Tree, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()
	seq, buildCtx, cancel := c.begin()
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	type outcome struct {
		tree *lod.Tree
		err  error
	}
	done := make(chan outcome, 1)
	c.workers.AddWorkers(func(context.Context) {
		tree, err := c.build(buildCtx, src)
		done <- outcome{tree, err}
	})

	var out outcome
	select {
	case out = <-done:
	case <-buildCtx.Done():
		out.err = buildCtx.Err()
	}
	switch {
	case out.err == nil:
		out.err = c.publish(seq, out.tree)
	case errors.Is(out.err, context.Canceled) && ctx.Err() == nil && c.workers.Context().Err() == nil:
		out.err = ErrSuperseded
	}

	switch {
	case out.err == nil:
		instrumentBuild(c.name, resultSuccess, time.Since(start))
		c.logger.Infow("published tree",
			"collection", c.name, "generation", out.tree.Generation, "nodes", out.tree.Len(), "leaves", out.tree.LeafCount())
		return out.tree, nil
	case errors.Is(out.err, context.Canceled) || errors.Is(out.err, ErrSuperseded):
		instrumentBuild(c.name, resultCanceled, 0)
		c.logger.Debugw("rebuild abandoned", "collection", c.name, "error", out.err)
		return nil, out.err
	default:
		instrumentBuild(c.name, resultFailure, 0)
		c.logger.Warnw("rebuild failed, keeping previous tree", "collection", c.name, "error", out.err)
		return nil, errors.Wrapf(out.err, "rebuilding %q", c.name)
	}
}

func (c *Collection) build(ctx context.Context, src splat.Source) (*lod.Tree, error) {
	h, err := lod.Build(ctx, src, c.opts)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return lod.NewTree(h)
}

// Load fetches a splat file from src. A file that already carries a tree is published as is,
// otherwise a tree is built from its splats.
func (c *Collection) Load(ctx context.Context, src fetch.Source, opts fetch.Options) (*lod.Tree, error) {
	file, err := readFile(ctx, src, opts, c.logger)
	if err != nil {
		return nil, errors.Wrapf(err, "loading %q from %s", c.name, src.Name())
	}
	tree := file.Tree()
	if tree == nil {
		return c.Rebuild(ctx, file)
	}
	seq, _, cancel := c.begin()
	defer cancel()
	if err := c.publish(seq, tree); err != nil {
		return nil, err
	}
	c.logger.Infow("published persisted tree", "collection", c.name, "generation", tree.Generation, "nodes", tree.Len())
	return tree, nil
}

func readFile(ctx context.Context, src fetch.Source, opts fetch.Options, logger logging.Logger) (_ *splatfile.File, err error) {
	f, err := fetch.New(src, opts, logger)
	if err != nil {
		return nil, err
	}
	rc, err := f.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		err = multierr.Combine(err, rc.Close())
	}()
	return splatfile.Read(rc)
}

// A Registry owns named collections and the workers that build their trees.
type Registry struct {
	logger  logging.Logger
	workers utils.StoppableWorkers

	mu          sync.RWMutex
	collections map[string]*Collection
}

// NewRegistry returns an empty registry.
func NewRegistry(logger logging.Logger) *Registry {
	return &Registry{
		logger:      logger,
		workers:     utils.NewStoppableWorkers(),
		collections: map[string]*Collection{},
	}
}

// Add registers a new collection built with opts.
func (r *Registry) Add(name string, opts lod.BuildOptions) (*Collection, error) {
	if name == "" {
		return nil, errors.New("collection name must not be empty")
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.collections[name]; ok {
		return nil, errors.Errorf("collection %q already exists", name)
	}
	logger := r.logger.Sublogger(name)
	if opts.Logger == nil {
		opts.Logger = logger
	}
	c := &Collection{
		name:    name,
		id:      uuid.New(),
		opts:    opts,
		workers: r.workers,
		logger:  logger,
	}
	r.collections[name] = c
	return c, nil
}

// Collection returns the named collection.
func (r *Registry) Collection(name string) (*Collection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.collections[name]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownTree, "%q", name)
	}
	return c, nil
}

// Tree returns the current tree of the named collection.
func (r *Registry) Tree(name string) (*lod.Tree, error) {
	c, err := r.Collection(name)
	if err != nil {
		return nil, err
	}
	tree := c.Tree()
	if tree == nil {
		return nil, errors.Wrapf(ErrTreeNotReady, "%q", name)
	}
	return tree, nil
}

// Names returns the sorted collection names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := lo.Keys(r.collections)
	r.mu.RUnlock()
	slices.Sort(names)
	return names
}

// LoadConfig adds a collection per configured tree and loads them concurrently.
func (r *Registry) LoadConfig(ctx context.Context, cfg *config.Config) (err error) {
	var closers []func() error
	defer func() {
		for _, closeFn := range closers {
			err = multierr.Combine(err, closeFn())
		}
	}()

	sources := make([]fetch.Source, len(cfg.Trees))
	for i, tc := range cfg.Trees {
		if tc.IsRemote() {
			sources[i] = fetch.NewHTTPSource(tc.Source)
			continue
		}
		fs, err := fetch.NewFileSource(tc.Source)
		if err != nil {
			return err
		}
		closers = append(closers, fs.Close)
		sources[i] = fs
	}

	collections := make([]*Collection, len(cfg.Trees))
	for i, tc := range cfg.Trees {
		c, err := r.Add(tc.Name, cfg.LOD.BuildOptions(nil))
		if err != nil {
			return err
		}
		collections[i] = c
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, c := range collections {
		i, c := i, c
		g.Go(func() error {
			_, err := c.Load(gctx, sources[i], cfg.Fetch.Options())
			return err
		})
	}
	return g.Wait()
}

// Close cancels in-flight builds and waits for the workers to exit.
func (r *Registry) Close() {
	r.workers.Stop()
}
