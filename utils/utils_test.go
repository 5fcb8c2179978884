package utils

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.viam.com/test"
	gutils "go.viam.com/utils"
)

func TestGroupWorkParallel(t *testing.T) {
	for _, size := range []int{1, 3, ParallelFactor, ParallelFactor*3 + 1, 1000} {
		seen := make([]int32, size)
		var groups int
		err := GroupWorkParallel(context.Background(), size, func(numGroups int) {
			groups = numGroups
		}, func(groupNum, groupSize, from, to int) (MemberWorkFunc, GroupWorkDoneFunc) {
			return func(memberNum, workNum int) {
				atomic.AddInt32(&seen[workNum], 1)
			}, nil
		})
		test.That(t, err, test.ShouldBeNil)
		test.That(t, groups, test.ShouldBeLessThanOrEqualTo, size)
		for _, count := range seen {
			test.That(t, count, test.ShouldEqual, 1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := GroupWorkParallel(ctx, 10, nil, func(groupNum, groupSize, from, to int) (MemberWorkFunc, GroupWorkDoneFunc) {
		return func(memberNum, workNum int) {}, nil
	})
	test.That(t, err, test.ShouldBeError, context.Canceled)
}

func TestRunInParallel(t *testing.T) {
	wait100ms := func(ctx context.Context) error {
		gutils.SelectContextOrWait(ctx, 100*time.Millisecond)
		return ctx.Err()
	}

	_, err := RunInParallel(context.Background(), []SimpleFunc{wait100ms, wait100ms})
	test.That(t, err, test.ShouldBeNil)

	errFunc := func(ctx context.Context) error {
		return errors.New("bad")
	}

	elapsed, err := RunInParallel(context.Background(), []SimpleFunc{wait100ms, wait100ms, errFunc})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, elapsed, test.ShouldBeLessThan, 90*time.Millisecond)

	panicFunc := func(ctx context.Context) error {
		panic(1)
	}

	_, err = RunInParallel(context.Background(), []SimpleFunc{panicFunc})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestStoppableWorkers(t *testing.T) {
	var mu sync.Mutex
	stopped := 0
	worker := func(ctx context.Context) {
		<-ctx.Done()
		mu.Lock()
		stopped++
		mu.Unlock()
	}
	sw := NewStoppableWorkers(worker, worker)
	sw.AddWorkers(worker)
	sw.Stop()
	test.That(t, stopped, test.ShouldEqual, 3)
	test.That(t, sw.Context().Err(), test.ShouldNotBeNil)

	// no-op after stop
	sw.AddWorkers(worker)
	sw.Stop()
	test.That(t, stopped, test.ShouldEqual, 3)

	parent, cancel := context.WithCancel(context.Background())
	sw = NewStoppableWorkersWithContext(parent, worker)
	cancel()
	sw.Stop()
	test.That(t, stopped, test.ShouldEqual, 4)
}

func TestClamp(t *testing.T) {
	test.That(t, Clamp(5, 0, 1), test.ShouldEqual, 1.0)
	test.That(t, Clamp(-5, 0, 1), test.ShouldEqual, 0.0)
	test.That(t, Clamp(0.25, 0, 1), test.ShouldEqual, 0.25)
	test.That(t, Clamp(math.NaN(), 2, 3), test.ShouldEqual, 2.0)
	test.That(t, Float64AlmostEqual(1, 1+1e-9, 1e-6), test.ShouldBeTrue)
	test.That(t, Float64AlmostEqual(1, 1.1, 1e-6), test.ShouldBeFalse)
}
