package worker

import (
	"context"
	"testing"

	"go.viam.com/test"

	"go.viam.com/splatlod/lod"
	"go.viam.com/splatlod/testutils"
)

func TestSummarize(t *testing.T) {
	h, err := lod.Build(context.Background(), testutils.SphereScene(500, 1), lod.BuildOptions{})
	test.That(t, err, test.ShouldBeNil)
	tree, err := lod.NewTree(h)
	test.That(t, err, test.ShouldBeNil)

	sum, err := Summarize(tree)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, sum.Nodes, test.ShouldEqual, tree.Len())
	test.That(t, sum.Leaves, test.ShouldEqual, 500)
	test.That(t, sum.NodesPerLevel[0], test.ShouldEqual, 1)
	test.That(t, sum.Depth, test.ShouldEqual, h.Depth())
	total := 0
	for _, n := range sum.NodesPerLevel {
		total += n
	}
	test.That(t, total, test.ShouldEqual, sum.Nodes)
	test.That(t, sum.MaxRadius, test.ShouldBeGreaterThanOrEqualTo, tree.Radius(0))
	test.That(t, sum.MedianRadius, test.ShouldBeLessThanOrEqualTo, sum.P95Radius)
	test.That(t, sum.P95Radius, test.ShouldBeLessThanOrEqualTo, sum.MaxRadius)
	test.That(t, sum.MeanOpacity, test.ShouldBeGreaterThan, 0)
}

func TestTreeCache(t *testing.T) {
	r := newTestRegistry(t)
	c, err := r.Add("a", lod.BuildOptions{})
	test.That(t, err, test.ShouldBeNil)
	first, err := c.Rebuild(context.Background(), testutils.SphereScene(100, 1))
	test.That(t, err, test.ShouldBeNil)

	cache := NewTreeCache()
	sum, err := cache.Summary(first)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, sum.Generation, test.ShouldEqual, 1)
	test.That(t, cache.Len(), test.ShouldEqual, 1)
	again, err := cache.Summary(first)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, again, test.ShouldResemble, sum)
	test.That(t, cache.Len(), test.ShouldEqual, 1)

	second, err := c.Rebuild(context.Background(), testutils.SphereScene(50, 1))
	test.That(t, err, test.ShouldBeNil)
	sum, err = cache.Summary(second)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, sum.Leaves, test.ShouldEqual, 50)
	test.That(t, cache.Len(), test.ShouldEqual, 2)

	cache.Invalidate(c.ID())
	test.That(t, cache.Len(), test.ShouldEqual, 0)
}
