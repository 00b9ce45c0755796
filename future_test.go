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
	"github.com/jacobsa/fiber"
	. "github.com/jacobsa/ogletest"
)

////////////////////////////////////////////////////////////////////////
// Boilerplate
////////////////////////////////////////////////////////////////////////

type FutureTest struct {
}

func init() { RegisterTestSuite(&FutureTest{}) }

////////////////////////////////////////////////////////////////////////
// Test functions
////////////////////////////////////////////////////////////////////////

func (t *FutureTest) SynchronousSignalThenWait() {
	future := fiber.NewFuture[struct{}]()
	future.Signal()
	future.Wait()
}

func (t *FutureTest) AsynchronousSignal() {
	pool := fiber.NewWorkerPool(1, true, 1)
	defer pool.Stop()

	future := fiber.NewFuture[struct{}]()
	pool.ScheduleFunc(func() { future.Signal() })
	future.Wait()
}

func (t *FutureTest) ProducerConsumerValue() {
	pool := fiber.NewWorkerPool(1, true, 1)
	defer pool.Stop()

	future := fiber.NewFuture[int]()
	AssertEq(0, *future.Result())

	pool.ScheduleFunc(func() {
		*future.Result() = 1
		future.Signal()
	})

	ExpectEq(1, future.Wait())
}

func (t *FutureTest) SignalIsIdempotent() {
	pool := fiber.NewWorkerPool(1, true, 1)
	defer pool.Stop()

	future := fiber.NewFuture[int]()
	*future.Result() = 7
	future.Signal()
	future.Signal()
	ExpectEq(7, future.Wait())

	// Signalling after the wait has completed has no observable effect
	// either: nothing is scheduled, and the value is unchanged.
	future.Signal()
	pool.Dispatch()
	ExpectEq(7, future.Wait())
}

func (t *FutureTest) SynchronousCallback() {
	signalled := false
	future := fiber.NewFutureCallback(
		func(struct{}) { signalled = true }, nil)

	AssertFalse(signalled)
	future.Signal()
	ExpectTrue(signalled)
}

func (t *FutureTest) CallbackValue() {
	result := 0
	future := fiber.NewFutureCallback(func(v int) { result = v }, nil)

	AssertEq(0, result)
	*future.Result() = 1
	future.Signal()
	ExpectEq(1, result)
}

func (t *FutureTest) CallbackOnOtherScheduler() {
	pool := fiber.NewWorkerPool(1, false, 1)

	signalled := false
	future := fiber.NewFutureCallback(
		func(struct{}) {
			signalled = true
			ExpectEq(pool.Scheduler, fiber.CurrentScheduler())
		},
		pool.Scheduler)

	future.Signal()
	pool.Stop()
	ExpectTrue(signalled)
}

func (t *FutureTest) CallbackValueOnOtherScheduler() {
	pool := fiber.NewWorkerPool(1, false, 1)

	result := 0
	future := fiber.NewFutureCallback(
		func(v int) {
			result = v
			ExpectEq(pool.Scheduler, fiber.CurrentScheduler())
		},
		pool.Scheduler)

	*future.Result() = 1
	future.Signal()
	pool.Stop()
	ExpectEq(1, result)
}

func (t *FutureTest) Reset() {
	pool := fiber.NewWorkerPool(1, true, 1)
	defer pool.Stop()

	future := fiber.NewFuture[int]()
	*future.Result() = 1
	future.Signal()
	AssertEq(1, future.Wait())

	future.Reset()
	pool.ScheduleFunc(func() {
		*future.Result() = 2
		future.Signal()
	})
	ExpectEq(2, future.Wait())
}

func (t *FutureTest) WaitAllSynchronous() {
	pool := fiber.NewWorkerPool(1, true, 1)
	defer pool.Stop()

	futures := []*fiber.Future[struct{}]{
		fiber.NewFuture[struct{}](),
		fiber.NewFuture[struct{}](),
	}
	futures[0].Signal()
	futures[1].Signal()
	fiber.WaitAll(futures...)
}

func (t *FutureTest) WaitAllHalfSynchronous() {
	pool := fiber.NewWorkerPool(1, true, 1)
	defer pool.Stop()

	for _, signalledFirst := range []int{0, 1} {
		futures := []*fiber.Future[struct{}]{
			fiber.NewFuture[struct{}](),
			fiber.NewFuture[struct{}](),
		}

		futures[signalledFirst].Signal()
		other := 1 - signalledFirst
		pool.ScheduleFunc(func() { futures[other].Signal() })
		fiber.WaitAll(futures...)
	}
}

func (t *FutureTest) WaitAllAsynchronous() {
	pool := fiber.NewWorkerPool(1, true, 1)
	defer pool.Stop()

	futures := []*fiber.Future[struct{}]{
		fiber.NewFuture[struct{}](),
		fiber.NewFuture[struct{}](),
	}
	pool.ScheduleFunc(func() { futures[1].Signal() })
	pool.ScheduleFunc(func() { futures[0].Signal() })
	fiber.WaitAll(futures...)
}

func (t *FutureTest) WaitAnyFirstAlreadySignalled() {
	pool := fiber.NewWorkerPool(1, true, 1)
	defer pool.Stop()

	futures := []*fiber.Future[struct{}]{
		fiber.NewFuture[struct{}](),
		fiber.NewFuture[struct{}](),
	}
	futures[0].Signal()
	ExpectEq(0, fiber.WaitAny(futures...))
}

func (t *FutureTest) WaitAnyLaterAlreadySignalled() {
	pool := fiber.NewWorkerPool(1, true, 1)
	defer pool.Stop()

	futures := []*fiber.Future[struct{}]{
		fiber.NewFuture[struct{}](),
		fiber.NewFuture[struct{}](),
		fiber.NewFuture[struct{}](),
	}
	futures[2].Signal()
	ExpectEq(2, fiber.WaitAny(futures...))
}

func (t *FutureTest) WaitAnyAsynchronous() {
	pool := fiber.NewWorkerPool(1, true, 1)
	defer pool.Stop()

	futures := []*fiber.Future[struct{}]{
		fiber.NewFuture[struct{}](),
		fiber.NewFuture[struct{}](),
	}
	pool.ScheduleFunc(func() { futures[1].Signal() })
	ExpectEq(1, fiber.WaitAny(futures...))
}

func (t *FutureTest) WaitAnyMultipleSignalled() {
	pool := fiber.NewWorkerPool(1, true, 1)
	defer pool.Stop()

	futures := []*fiber.Future[struct{}]{
		fiber.NewFuture[struct{}](),
		fiber.NewFuture[struct{}](),
		fiber.NewFuture[struct{}](),
	}

	// Both later futures fire while the waiter is parked; the earliest in
	// iteration order wins, and the extra wake-up is drained.
	pool.ScheduleFunc(func() {
		futures[2].Signal()
		futures[1].Signal()
	})

	ExpectEq(1, fiber.WaitAny(futures...))
}

func (t *FutureTest) WaitAnyThenWaitRemaining() {
	pool := fiber.NewWorkerPool(1, true, 1)
	defer pool.Stop()

	futures := []*fiber.Future[int]{
		fiber.NewFuture[int](),
		fiber.NewFuture[int](),
	}

	pool.ScheduleFunc(func() {
		*futures[0].Result() = 1
		futures[0].Signal()
	})
	AssertEq(0, fiber.WaitAny(futures...))

	// The other future is still usable afterward.
	pool.ScheduleFunc(func() {
		*futures[1].Result() = 2
		futures[1].Signal()
	})
	ExpectEq(2, futures[1].Wait())
}
