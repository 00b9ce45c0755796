// Copyright 2015 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package fiber_test

import (
	"sync"
	"sync/atomic"

	"github.com/jacobsa/fiber"
	"github.com/jacobsa/fiber/fibertesting"
	. "github.com/jacobsa/ogletest"
	"golang.org/x/sync/errgroup"
)

////////////////////////////////////////////////////////////////////////
// Boilerplate
////////////////////////////////////////////////////////////////////////

type SchedulerTest struct {
}

func init() { RegisterTestSuite(&SchedulerTest{}) }

////////////////////////////////////////////////////////////////////////
// Test functions
////////////////////////////////////////////////////////////////////////

func (t *SchedulerTest) HijackedDispatchRunsFunctionsInOrder() {
	pool := fiber.NewWorkerPool(1, true, 1)
	defer pool.Stop()

	var r fibertesting.Recorder
	pool.ScheduleFunc(func() { r.Record("a") })
	pool.ScheduleFunc(func() { r.Record("b") })
	pool.ScheduleFunc(func() { r.Record("c") })

	pool.Dispatch()
	diff := r.Diff([]string{"a", "b", "c"})
	ExpectEq("", diff)
}

func (t *SchedulerTest) DispatchCanBeRepeated() {
	pool := fiber.NewWorkerPool(1, true, 1)
	defer pool.Stop()

	count := 0
	pool.ScheduleFunc(func() { count++ })
	pool.Dispatch()
	AssertEq(1, count)

	pool.ScheduleFunc(func() { count++ })
	pool.ScheduleFunc(func() { count++ })
	pool.Dispatch()
	ExpectEq(3, count)
}

func (t *SchedulerTest) ScheduleBatchRunsTasksInOrder() {
	pool := fiber.NewWorkerPool(1, true, 1)
	defer pool.Stop()

	var r fibertesting.Recorder
	tasks := []fiber.Task{
		{Fn: func() { r.Record("a") }},
		{Fn: func() { r.Record("b") }},
	}
	pool.ScheduleBatch(tasks)

	pool.Dispatch()
	ExpectEq("", r.Diff([]string{"a", "b"}))
}

func (t *SchedulerTest) GoschedInterleavesFibers() {
	pool := fiber.NewWorkerPool(1, true, 1)
	defer pool.Stop()

	var r fibertesting.Recorder
	pool.ScheduleFunc(func() {
		r.Record("a1")
		fiber.Gosched()
		r.Record("a2")
	})
	pool.ScheduleFunc(func() {
		r.Record("b1")
		fiber.Gosched()
		r.Record("b2")
	})

	pool.Dispatch()
	ExpectEq("", r.Diff([]string{"a1", "b1", "a2", "b2"}))
}

func (t *SchedulerTest) ParkedFiberRunsWhenRescheduled() {
	pool := fiber.NewWorkerPool(1, true, 1)
	defer pool.Stop()

	var seq fibertesting.Sequence
	f := fiber.New(func() {
		ExpectEq(1, seq.Next())
		fiber.Park()
		ExpectEq(3, seq.Next())
	})

	pool.Schedule(f)
	pool.Dispatch()
	ExpectEq(2, seq.Next())
	AssertEq(fiber.StateHold, f.State())

	pool.Schedule(f)
	pool.Dispatch()
	ExpectEq(4, seq.Next())
	ExpectEq(fiber.StateTerm, f.State())
}

func (t *SchedulerTest) SpawnedPoolStopDrainsWork() {
	pool := fiber.NewWorkerPool(2, false, 1)

	var count int64
	var wg sync.WaitGroup
	const numTasks = 64

	wg.Add(numTasks)
	for i := 0; i < numTasks; i++ {
		pool.ScheduleFunc(func() {
			atomic.AddInt64(&count, 1)
			wg.Done()
		})
	}

	wg.Wait()
	pool.Stop()
	ExpectEq(numTasks, atomic.LoadInt64(&count))
}

func (t *SchedulerTest) HijackedStopDrainsWork() {
	pool := fiber.NewWorkerPool(1, true, 1)

	count := 0
	pool.ScheduleFunc(func() { count++ })
	pool.ScheduleFunc(func() { count++ })

	pool.Stop()
	ExpectEq(2, count)
	ExpectTrue(fiber.CurrentScheduler() == nil)
}

func (t *SchedulerTest) StopClearsCurrentScheduler() {
	pool := fiber.NewWorkerPool(1, true, 1)
	AssertEq(pool.Scheduler, fiber.CurrentScheduler())

	pool.Stop()
	ExpectTrue(fiber.CurrentScheduler() == nil)

	// The thread can be hijacked again.
	again := fiber.NewWorkerPool(1, true, 1)
	AssertEq(again.Scheduler, fiber.CurrentScheduler())
	again.Stop()
	ExpectTrue(fiber.CurrentScheduler() == nil)
}

func (t *SchedulerTest) SwitchToMovesBetweenSchedulers() {
	poolA := fiber.NewWorkerPool(1, true, 1)
	poolB := fiber.NewWorkerPool(1, false, 1)

	AssertEq(poolA.Scheduler, fiber.CurrentScheduler())

	poolB.SwitchTo(fiber.AnyThread)
	ExpectEq(poolB.Scheduler, fiber.CurrentScheduler())

	poolA.SwitchTo(fiber.AnyThread)
	ExpectEq(poolA.Scheduler, fiber.CurrentScheduler())

	poolB.Stop()
	poolA.Stop()
	ExpectTrue(fiber.CurrentScheduler() == nil)
}

func (t *SchedulerTest) SwitchToSameSchedulerIsANoOp() {
	pool := fiber.NewWorkerPool(1, true, 1)
	defer pool.Stop()

	pool.SwitchTo(fiber.AnyThread)
	ExpectEq(pool.Scheduler, fiber.CurrentScheduler())
}

func (t *SchedulerTest) ThreadTargetedTasksRunOnTheirThread() {
	pool := fiber.NewWorkerPool(2, false, 1)
	defer pool.Stop()

	ids := pool.ThreadIDs()
	AssertEq(2, len(ids))

	var wg sync.WaitGroup
	var mu sync.Mutex
	ran := make(map[fiber.ThreadID]fiber.ThreadID)

	wg.Add(2)
	for _, id := range ids {
		id := id
		pool.ScheduleFuncPinned(func() {
			mu.Lock()
			ran[id] = fiber.CurrentThread()
			mu.Unlock()
			wg.Done()
		}, id)
	}

	wg.Wait()
	for _, id := range ids {
		ExpectEq(id, ran[id])
	}
}

func (t *SchedulerTest) SwitchToSpecificThread() {
	pool := fiber.NewWorkerPool(2, true, 1)
	defer pool.Stop()

	ids := pool.ThreadIDs()
	AssertEq(2, len(ids))

	// Migrate to the spawned worker and back to the root thread.
	pool.SwitchTo(ids[1])
	ExpectEq(ids[1], fiber.CurrentThread())

	pool.SwitchTo(ids[0])
	ExpectEq(ids[0], fiber.CurrentThread())
}

func (t *SchedulerTest) ThreadCounts() {
	pool := fiber.NewWorkerPool(2, false, 1)
	defer pool.Stop()

	AssertEq(2, pool.ThreadCount())

	pool.SetThreadCount(4)
	ExpectEq(4, pool.ThreadCount())
	ExpectEq(4, len(pool.ThreadIDs()))

	var wg sync.WaitGroup
	const numTasks = 32
	wg.Add(numTasks)
	for i := 0; i < numTasks; i++ {
		pool.ScheduleFunc(func() { wg.Done() })
	}
	wg.Wait()

	pool.SetThreadCount(1)
	ExpectEq(1, pool.ThreadCount())
}

func (t *SchedulerTest) ConcurrentScheduleFromManyThreads() {
	pool := fiber.NewWorkerPool(4, false, 2)
	defer pool.Stop()

	const producers = 8
	const perProducer = 250

	var count int64
	var wg sync.WaitGroup
	wg.Add(producers * perProducer)

	var group errgroup.Group
	for p := 0; p < producers; p++ {
		group.Go(func() error {
			for i := 0; i < perProducer; i++ {
				pool.ScheduleFunc(func() {
					atomic.AddInt64(&count, 1)
					wg.Done()
				})
			}
			return nil
		})
	}

	AssertEq(nil, group.Wait())
	wg.Wait()
	ExpectEq(producers*perProducer, atomic.LoadInt64(&count))
}

func (t *SchedulerTest) FiberMigratesThreadsButKeepsScheduler() {
	pool := fiber.NewWorkerPool(2, true, 1)
	defer pool.Stop()

	ids := pool.ThreadIDs()
	AssertEq(2, len(ids))

	s := fiber.CurrentScheduler()
	pool.SwitchTo(ids[1])
	ExpectEq(s, fiber.CurrentScheduler())
	pool.SwitchTo(ids[0])
	ExpectEq(s, fiber.CurrentScheduler())
}
