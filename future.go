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

package fiber

import "sync/atomic"

// Bits of Future.word.
const (
	// The future has been signalled.
	futureSignalled int32 = 1 << 0

	// A fiber is parked in Wait (or installed by startWait).
	futureWaiting int32 = 1 << 1

	// A delivery callback is registered instead of a waiter.
	futureCallback int32 = 1 << 2
)

// A Future is a single-shot signalable value integrated with the scheduler:
// a consumer waiting on it parks its fiber rather than blocking a thread.
// Alternatively a future may be constructed with a delivery callback, which
// Signal runs (directly or on a chosen scheduler) instead of waking a
// waiter.
//
// At most one fiber may wait on a future at a time.
type Future[T any] struct {
	/////////////////////////
	// Constant data
	/////////////////////////

	dg      func(T)
	dgSched *Scheduler

	/////////////////////////
	// Mutable state
	/////////////////////////

	// The state word, combining the future* bits above. Manipulated with
	// compare-and-swap; this is the only synchronization the future has.
	word int32

	// The parked consumer and the scheduler it captured on its way into
	// Wait. Written before the waiting bit is published, read after the
	// signaller observes it.
	waiter      *Fiber
	waiterSched *Scheduler

	// The value handed from producer to consumer. Written only before
	// Signal.
	value T
}

// NewFuture creates an unsignalled future.
func NewFuture[T any]() *Future[T] {
	return &Future[T]{}
}

// NewFutureCallback creates a future that delivers its value to dg when
// signalled, instead of waking a waiter. If s is non-nil the callback is
// scheduled on s; otherwise it runs directly in the signaller.
func NewFutureCallback[T any](dg func(T), s *Scheduler) *Future[T] {
	if dg == nil {
		panic("fiber: NewFutureCallback with a nil callback")
	}

	return &Future[T]{
		dg:      dg,
		dgSched: s,
		word:    futureCallback,
	}
}

// Result returns a pointer through which the producer sets the value before
// calling Signal. Once signalled the value must not be modified further.
func (f *Future[T]) Result() *T {
	if atomic.LoadInt32(&f.word)&futureSignalled != 0 {
		panic("fiber: Result on a signalled future")
	}

	return &f.value
}

// Signal marks the future signalled, waking the parked waiter (on the
// scheduler it was waiting from) or delivering to the callback. Without a
// callback, signalling an already-signalled future has no effect.
func (f *Future[T]) Signal() {
	if atomic.LoadInt32(&f.word)&futureCallback != 0 {
		if f.dgSched != nil {
			dg := f.dg
			v := f.value
			f.dgSched.ScheduleFunc(func() { dg(v) })
			return
		}

		f.dg(f.value)
		return
	}

	var old int32
	for {
		old = atomic.LoadInt32(&f.word)
		if atomic.CompareAndSwapInt32(&f.word, old, old|futureSignalled) {
			break
		}
	}

	// Somebody was already waiting, and this was the signal that mattered.
	if old&futureSignalled == 0 && old&futureWaiting != 0 {
		f.waiterSched.Schedule(f.waiter)
	}
}

// Wait parks the current fiber until the future is signalled, then returns
// the value. Returns immediately if the future was already signalled.
func (f *Future[T]) Wait() T {
	if atomic.LoadInt32(&f.word)&futureCallback != 0 {
		panic("fiber: Wait on a callback future")
	}

	if !f.startWait() {
		Park()
		if atomic.LoadInt32(&f.word)&futureSignalled == 0 {
			panic("fiber: Future.Wait resumed without a signal")
		}
	}

	return f.value
}

// Reset returns the future to its unsignalled state so it can be used
// again. No one may be waiting.
func (f *Future[T]) Reset() {
	if w := atomic.LoadInt32(&f.word); w&futureWaiting != 0 && w&futureSignalled == 0 {
		panic("fiber: Reset on a future with a waiter")
	}

	f.waiter = nil
	f.waiterSched = nil
	if f.dg != nil {
		atomic.StoreInt32(&f.word, futureCallback)
		return
	}
	atomic.StoreInt32(&f.word, 0)
}

// Install the current fiber as the future's waiter without parking,
// reporting whether the future was already signalled (in which case nothing
// was installed). Used by WaitAll and WaitAny to park on many futures at
// once.
func (f *Future[T]) startWait() bool {
	if atomic.LoadInt32(&f.word)&futureCallback != 0 {
		panic("fiber: wait on a callback future")
	}

	cur := Current()
	f.waiter = cur
	f.waiterSched = cur.sched

	if atomic.CompareAndSwapInt32(&f.word, 0, futureWaiting) {
		if f.waiterSched == nil {
			panic("fiber: Future.Wait without a scheduler")
		}
		return false
	}

	f.waiter = nil
	f.waiterSched = nil
	if atomic.LoadInt32(&f.word)&futureSignalled == 0 {
		panic("fiber: a fiber is already waiting on this future")
	}

	return true
}

// Remove the current fiber as the future's pending waiter if it still is
// one, reporting whether the future was signalled in the meantime (in which
// case the signaller has scheduled the fiber, and the wake-up must be
// drained).
func (f *Future[T]) cancelWait() bool {
	if atomic.LoadInt32(&f.word)&futureSignalled != 0 {
		return true
	}

	if atomic.CompareAndSwapInt32(&f.word, futureWaiting, 0) {
		f.waiter = nil
		f.waiterSched = nil
		return false
	}

	return atomic.LoadInt32(&f.word)&futureSignalled != 0
}

// WaitAll parks the current fiber until every future in the list has been
// signalled.
func WaitAll[T any](futures ...*Future[T]) {
	if len(futures) == 0 {
		panic("fiber: WaitAll with no futures")
	}

	// Install a waiter everywhere, counting the futures that have not yet
	// fired. Each of those will schedule this fiber once, so park once per
	// pending future.
	pending := 0
	for _, f := range futures {
		if !f.startWait() {
			pending++
		}
	}

	for ; pending > 0; pending-- {
		Park()
	}
}

// WaitAny parks the current fiber until at least one future in the list has
// been signalled, and returns the index of one that did. When several fire,
// the earliest in iteration order wins; wake-ups generated by the others
// are drained before returning.
//
// The caller is responsible for resetting or discarding the remaining
// futures.
func WaitAny[T any](futures ...*Future[T]) int {
	if len(futures) == 0 {
		panic("fiber: WaitAny with no futures")
	}

	// Optimize the first one.
	if futures[0].startWait() {
		return 0
	}

	// Install waiters until one reports already-signalled or we run out.
	result := -1
	i := 1
	for ; i < len(futures); i++ {
		if futures[i].startWait() {
			result = i
			break
		}
	}

	// Each future that fires after installing its waiter schedules this
	// fiber once; yieldsNeeded counts those wake-ups as cancelWait discovers
	// them. One is consumed by the explicit Park below, if we parked.
	yieldsNeeded := 1
	if i == len(futures) {
		yieldsNeeded--
		Park()
		i--
	} else {
		i--
	}

	// Walk backwards tearing down the waiters, preferring the earliest
	// fired index.
	for ; i >= 0; i-- {
		if futures[i].cancelWait() {
			result = i
			yieldsNeeded++
		}
	}

	// Drain the extra wake-ups.
	for yieldsNeeded--; yieldsNeeded > 0; yieldsNeeded-- {
		Park()
	}

	if result < 0 {
		panic("fiber: WaitAny returned with nothing signalled")
	}

	return result
}
