package worker

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.viam.com/test"

	"go.viam.com/splatlod/config"
	"go.viam.com/splatlod/lod"
	"go.viam.com/splatlod/logging"
	"go.viam.com/splatlod/testutils"
)

const resultTimeout = 10 * time.Second

func sphereRegistry(t *testing.T, names ...string) *Registry {
	t.Helper()
	r := newTestRegistry(t)
	for _, name := range names {
		c, err := r.Add(name, lod.BuildOptions{Base: 1.5})
		test.That(t, err, test.ShouldBeNil)
		_, err = c.Rebuild(context.Background(), testutils.SphereScene(1000, 1))
		test.That(t, err, test.ShouldBeNil)
	}
	return r
}

func sphereRequest(maxSplats int, names ...string) TraversalRequest {
	req := TraversalRequest{MaxSplats: maxSplats, FovX: math.Pi / 3, FovY: math.Pi / 3}
	for i, name := range names {
		req.Instances = append(req.Instances, InstanceRequest{
			TreeID:    name,
			Transform: [16]float64(mgl64.Translate3D(float64(i)*3, 0, -5)),
		})
	}
	return req
}

func waitResult(t *testing.T, tr *Traverser) TraversalResponse {
	t.Helper()
	select {
	case resp := <-tr.Results():
		return resp
	case <-time.After(resultTimeout):
		t.Fatal("timed out waiting for traversal")
		return TraversalResponse{}
	}
}

func TestTraverserBasic(t *testing.T) {
	r := sphereRegistry(t, "a", "b")
	tr := NewTraverser(r, 0, nil, logging.NewTestLogger(t))
	defer tr.Close()

	tr.Submit(sphereRequest(50, "a", "b"))
	resp := waitResult(t, tr)
	test.That(t, resp.Err, test.ShouldBeNil)
	test.That(t, resp.Total, test.ShouldBeLessThanOrEqualTo, 50)
	test.That(t, resp.Total, test.ShouldBeGreaterThan, 0)
	test.That(t, len(resp.Indices), test.ShouldEqual, 2)
	test.That(t, len(resp.Indices[0])+len(resp.Indices[1]), test.ShouldEqual, resp.Total)
	test.That(t, resp.Generations, test.ShouldResemble, []uint64{1, 1})

	tr.Submit(sphereRequest(50, "a", "missing"))
	resp = waitResult(t, tr)
	test.That(t, resp.Err, test.ShouldWrap, ErrUnknownTree)

	tr.Submit(sphereRequest(0, "a"))
	resp = waitResult(t, tr)
	test.That(t, resp.Err, test.ShouldBeNil)
	test.That(t, resp.Total, test.ShouldEqual, 0)
}

func TestTraverserSeesSwappedTree(t *testing.T) {
	r := sphereRegistry(t, "a")
	tr := NewTraverser(r, 0, nil, logging.NewTestLogger(t))
	defer tr.Close()

	c, err := r.Collection("a")
	test.That(t, err, test.ShouldBeNil)
	_, err = c.Rebuild(context.Background(), testutils.SphereScene(20, 1))
	test.That(t, err, test.ShouldBeNil)

	tr.Submit(sphereRequest(1000, "a"))
	resp := waitResult(t, tr)
	test.That(t, resp.Err, test.ShouldBeNil)
	test.That(t, resp.Generations, test.ShouldResemble, []uint64{2})
	test.That(t, resp.Total, test.ShouldEqual, 20)
}

func TestTraverserLatestWins(t *testing.T) {
	r := sphereRegistry(t, "a")
	tr := NewTraverser(r, 0, nil, logging.NewTestLogger(t))
	defer tr.Close()

	const last = 40
	for n := 1; n <= last; n++ {
		tr.Submit(sphereRequest(n, "a"))
	}

	seen := 0
	for {
		resp := waitResult(t, tr)
		test.That(t, resp.Err, test.ShouldBeNil)
		test.That(t, resp.Request.MaxSplats, test.ShouldBeGreaterThan, seen)
		seen = resp.Request.MaxSplats
		if seen == last {
			break
		}
	}
}

func TestTraverserMinInterval(t *testing.T) {
	r := sphereRegistry(t, "a")
	mock := clock.NewMock()
	tr := NewTraverser(r, time.Second, mock, logging.NewTestLogger(t))
	defer tr.Close()

	tr.Submit(sphereRequest(10, "a"))
	resp := waitResult(t, tr)
	test.That(t, resp.Request.MaxSplats, test.ShouldEqual, 10)

	tr.Submit(sphereRequest(20, "a"))
	select {
	case <-tr.Results():
		t.Fatal("traversal ran before the minimum interval elapsed")
	case <-time.After(100 * time.Millisecond):
	}
	// replaces the request waiting on the interval
	before := testutil.ToFloat64(traversalsSuperseded)
	tr.Submit(sphereRequest(30, "a"))

	mock.Add(time.Second)
	resp = waitResult(t, tr)
	test.That(t, resp.Request.MaxSplats, test.ShouldEqual, 30)
	test.That(t, testutil.ToFloat64(traversalsSuperseded), test.ShouldEqual, before+1)
}

func TestNewTraversalRequest(t *testing.T) {
	transform := mgl64.Translate3D(1, 2, 3)
	cfg := config.Default()
	cfg.Trees = []config.TreeConfig{{Name: "a", Source: "a.spz"}}
	cfg.Instances = []config.InstanceConfig{{
		Tree:           "a",
		Transform:      transform[:],
		LodScale:       2,
		OutsideFoveate: 0.5,
		BehindFoveate:  0.25,
	}}
	req := NewTraversalRequest(cfg)
	test.That(t, req.MaxSplats, test.ShouldEqual, config.DefaultMaxSplats)
	test.That(t, req.FovY, test.ShouldEqual, config.DefaultFovY)
	test.That(t, req.Instances, test.ShouldHaveLength, 1)
	test.That(t, req.Instances[0].Transform, test.ShouldResemble, [16]float64(transform))
	test.That(t, req.Instances[0].BehindFoveate, test.ShouldEqual, 0.25)

	r := sphereRegistry(t, "a")
	treq, generations, err := req.Resolve(r)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, generations, test.ShouldResemble, []uint64{1})
	test.That(t, treq.Instances[0].LodScale, test.ShouldEqual, 2.0)
	test.That(t, treq.Validate(), test.ShouldBeNil)
}
