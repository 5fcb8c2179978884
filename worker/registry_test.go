package worker

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.viam.com/test"

	"go.viam.com/splatlod/config"
	"go.viam.com/splatlod/fetch"
	"go.viam.com/splatlod/lod"
	"go.viam.com/splatlod/logging"
	"go.viam.com/splatlod/splat"
	"go.viam.com/splatlod/splatfile"
	"go.viam.com/splatlod/testutils"
)

// gatedSource blocks the first At call until the gate is closed.
type gatedSource struct {
	splat.Source
	entered chan struct{}
	gate    chan struct{}
}

func (g *gatedSource) At(i int) splat.Splat {
	if i == 0 {
		close(g.entered)
		<-g.gate
	}
	return g.Source.At(i)
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry(logging.NewTestLogger(t))
	t.Cleanup(r.Close)
	return r
}

func TestRegistryAdd(t *testing.T) {
	r := newTestRegistry(t)
	c, err := r.Add("room", lod.BuildOptions{})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, c.Name(), test.ShouldEqual, "room")
	test.That(t, c.Tree(), test.ShouldBeNil)
	test.That(t, c.Generation(), test.ShouldEqual, 0)

	_, err = r.Add("room", lod.BuildOptions{})
	test.That(t, err, test.ShouldNotBeNil)
	_, err = r.Add("", lod.BuildOptions{})
	test.That(t, err, test.ShouldNotBeNil)
	_, err = r.Add("chair", lod.BuildOptions{Base: 3})
	test.That(t, err, test.ShouldNotBeNil)

	_, err = r.Add("chair", lod.BuildOptions{})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, r.Names(), test.ShouldResemble, []string{"chair", "room"})

	_, err = r.Tree("room")
	test.That(t, err, test.ShouldWrap, ErrTreeNotReady)
	_, err = r.Tree("sofa")
	test.That(t, err, test.ShouldWrap, ErrUnknownTree)
}

func TestRebuildSwaps(t *testing.T) {
	r := newTestRegistry(t)
	c, err := r.Add("sphere", lod.BuildOptions{})
	test.That(t, err, test.ShouldBeNil)

	first, err := c.Rebuild(context.Background(), testutils.SphereScene(200, 1))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, first.ID, test.ShouldEqual, c.ID())
	test.That(t, first.Generation, test.ShouldEqual, 1)
	test.That(t, first.LeafCount(), test.ShouldEqual, 200)

	tree, err := r.Tree("sphere")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, tree, test.ShouldEqual, first)

	second, err := c.Rebuild(context.Background(), testutils.SphereScene(300, 1))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, second.Generation, test.ShouldEqual, 2)
	test.That(t, second.ID, test.ShouldEqual, first.ID)
	test.That(t, c.Tree(), test.ShouldEqual, second)
	// the previous tree is untouched
	test.That(t, first.LeafCount(), test.ShouldEqual, 200)
}

func TestRebuildFailureKeepsPrevious(t *testing.T) {
	r := newTestRegistry(t)
	c, err := r.Add("sphere", lod.BuildOptions{})
	test.That(t, err, test.ShouldBeNil)
	first, err := c.Rebuild(context.Background(), testutils.SphereScene(100, 1))
	test.That(t, err, test.ShouldBeNil)

	before := testutil.ToFloat64(builds.WithLabelValues("sphere", resultFailure))
	_, err = c.Rebuild(context.Background(), splat.NewCloud())
	test.That(t, err, test.ShouldWrap, lod.ErrEmptyCloud)
	test.That(t, c.Tree(), test.ShouldEqual, first)
	test.That(t, c.Generation(), test.ShouldEqual, 1)
	test.That(t, testutil.ToFloat64(builds.WithLabelValues("sphere", resultFailure)), test.ShouldEqual, before+1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Rebuild(ctx, testutils.SphereScene(100, 1))
	test.That(t, err, test.ShouldWrap, context.Canceled)
	test.That(t, c.Tree(), test.ShouldEqual, first)
}

func TestRebuildSuperseded(t *testing.T) {
	r := newTestRegistry(t)
	c, err := r.Add("sphere", lod.BuildOptions{})
	test.That(t, err, test.ShouldBeNil)

	gated := &gatedSource{
		Source:  testutils.SphereScene(100, 1),
		entered: make(chan struct{}),
		gate:    make(chan struct{}),
	}
	// registered after r.Close so it runs first and unblocks the stale build
	t.Cleanup(func() { close(gated.gate) })

	errCh := make(chan error, 1)
	go func() {
		_, err := c.Rebuild(context.Background(), gated)
		errCh <- err
	}()
	<-gated.entered

	tree, err := c.Rebuild(context.Background(), testutils.SphereScene(50, 1))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, tree.LeafCount(), test.ShouldEqual, 50)
	test.That(t, <-errCh, test.ShouldBeError, ErrSuperseded)
	test.That(t, c.Tree(), test.ShouldEqual, tree)
	test.That(t, c.Generation(), test.ShouldEqual, 1)
}

func TestRebuildAfterClose(t *testing.T) {
	r := NewRegistry(logging.NewTestLogger(t))
	c, err := r.Add("sphere", lod.BuildOptions{})
	test.That(t, err, test.ShouldBeNil)
	r.Close()
	_, err = c.Rebuild(context.Background(), testutils.SphereScene(10, 1))
	test.That(t, err, test.ShouldWrap, context.Canceled)
	test.That(t, c.Tree(), test.ShouldBeNil)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	cloud := testutils.SphereScene(150, 1)
	flatPath := filepath.Join(dir, "flat.spz")
	test.That(t, splatfile.WriteFile(flatPath, cloud, nil, splatfile.WriteOptions{}), test.ShouldBeNil)

	h, err := lod.Build(context.Background(), cloud, lod.BuildOptions{})
	test.That(t, err, test.ShouldBeNil)
	built, err := lod.NewTree(h)
	test.That(t, err, test.ShouldBeNil)
	lodPath := filepath.Join(dir, "lod.spz")
	test.That(t, splatfile.WriteFile(lodPath, nil, built, splatfile.WriteOptions{}), test.ShouldBeNil)

	r := newTestRegistry(t)
	t.Run("flat file is built", func(t *testing.T) {
		c, err := r.Add("flat", lod.BuildOptions{})
		test.That(t, err, test.ShouldBeNil)
		src, err := fetch.NewFileSource(flatPath)
		test.That(t, err, test.ShouldBeNil)
		defer src.Close()
		tree, err := c.Load(context.Background(), src, fetch.Options{ChunkSize: 512})
		test.That(t, err, test.ShouldBeNil)
		test.That(t, tree.LeafCount(), test.ShouldEqual, 150)
		test.That(t, tree.Generation, test.ShouldEqual, 1)
	})
	t.Run("lod file is published", func(t *testing.T) {
		c, err := r.Add("lod", lod.BuildOptions{})
		test.That(t, err, test.ShouldBeNil)
		src, err := fetch.NewFileSource(lodPath)
		test.That(t, err, test.ShouldBeNil)
		defer src.Close()
		tree, err := c.Load(context.Background(), src, fetch.Options{})
		test.That(t, err, test.ShouldBeNil)
		test.That(t, tree.Len(), test.ShouldEqual, built.Len())
		test.That(t, tree.ID, test.ShouldEqual, c.ID())
		test.That(t, c.Tree(), test.ShouldEqual, tree)
	})
	t.Run("missing file keeps nothing published", func(t *testing.T) {
		c, err := r.Add("missing", lod.BuildOptions{})
		test.That(t, err, test.ShouldBeNil)
		_, err = c.Load(context.Background(), fetch.NewHTTPSource("http://127.0.0.1:1/missing.spz"), fetch.Options{})
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, c.Tree(), test.ShouldBeNil)
	})
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scene.spz")
	test.That(t, splatfile.WriteFile(path, testutils.RandomScene(80, 2, 1), nil, splatfile.WriteOptions{}), test.ShouldBeNil)

	cfg := config.Default()
	cfg.Trees = []config.TreeConfig{{Name: "a", Source: path}, {Name: "b", Source: path}}

	r := newTestRegistry(t)
	test.That(t, r.LoadConfig(context.Background(), cfg), test.ShouldBeNil)
	for _, name := range []string{"a", "b"} {
		tree, err := r.Tree(name)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, tree.LeafCount(), test.ShouldEqual, 80)
	}

	cfg.Trees = []config.TreeConfig{{Name: "c", Source: filepath.Join(dir, "nope.spz")}}
	test.That(t, r.LoadConfig(context.Background(), cfg), test.ShouldNotBeNil)
}
