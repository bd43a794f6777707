package utils

import (
	"context"
	"math"
	"sync/atomic"
	"testing"

	"go.viam.com/test"
)

func TestGroupWorkParallel(t *testing.T) {
	for _, size := range []int{0, 1, 3, 17, 1000} {
		seen := make([]int32, size)
		var groups int
		err := GroupWorkParallel(
			context.Background(),
			size,
			func(numGroups int) {
				groups = numGroups
			},
			func(groupNum, groupSize, from, to int) (MemberWorkFunc, GroupWorkDoneFunc) {
				return func(memberNum, workNum int) {
					atomic.AddInt32(&seen[workNum], 1)
				}, nil
			},
		)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, groups, test.ShouldBeLessThanOrEqualTo, size)
		for _, count := range seen {
			test.That(t, count, test.ShouldEqual, 1)
		}
	}
}

func TestGroupWorkParallelMerge(t *testing.T) {
	const size = 257
	var partial []int
	err := GroupWorkParallel(
		context.Background(),
		size,
		func(numGroups int) {
			partial = make([]int, numGroups)
		},
		func(groupNum, groupSize, from, to int) (MemberWorkFunc, GroupWorkDoneFunc) {
			return func(memberNum, workNum int) {
				partial[groupNum] += workNum
			}, nil
		},
	)
	test.That(t, err, test.ShouldBeNil)
	total := 0
	for _, p := range partial {
		total += p
	}
	test.That(t, total, test.ShouldEqual, size*(size-1)/2)
}

func TestGroupWorkParallelCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := GroupWorkParallel(ctx, 10, func(int) { called = true }, nil)
	test.That(t, err, test.ShouldBeError, context.Canceled)
	test.That(t, called, test.ShouldBeFalse)
}

func TestIsFinite(t *testing.T) {
	test.That(t, IsFinite(1, 2, 3), test.ShouldBeTrue)
	test.That(t, IsFinite(), test.ShouldBeTrue)
	test.That(t, IsFinite(1, math.NaN(), 3), test.ShouldBeFalse)
	test.That(t, IsFinite(math.Inf(-1)), test.ShouldBeFalse)
}

func TestGroupWorkParallelPanic(t *testing.T) {
	var finished int32
	err := GroupWorkParallel(
		context.Background(),
		8,
		func(int) {},
		func(groupNum, groupSize, from, to int) (MemberWorkFunc, GroupWorkDoneFunc) {
			work := func(memberNum, workNum int) {
				if workNum == 0 {
					panic("bad work item")
				}
			}
			done := func() {
				atomic.AddInt32(&finished, 1)
			}
			return work, done
		},
	)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "bad work item")
	test.That(t, err.Error(), test.ShouldContainSubstring, "work group 0")
	// every group but the panicking one ran to completion before the error was returned
	test.That(t, atomic.LoadInt32(&finished), test.ShouldEqual, int32(numGroupsFor(8)-1))
}

func numGroupsFor(size int) int {
	if ParallelFactor < size {
		return ParallelFactor
	}
	return size
}
