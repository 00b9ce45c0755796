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

import (
	"flag"
	"fmt"
	"sync/atomic"

	"github.com/jacobsa/reqtrace"
	"golang.org/x/net/context"
)

var fTraceParallel = flag.Bool(
	"fiber.trace_parallel",
	false,
	"Enable a hacky mode that uses reqtrace to trace each functor run by "+
		"the parallel combinators.")

// Do executes the functions in parallel by scheduling one fiber per
// function on the current scheduler, and parks the caller until all of them
// have finished. Concurrency comes from the scheduler running on multiple
// threads, or from the functions yielding to the scheduler instead of
// blocking.
//
// If no scheduler is associated with the current thread, or there are fewer
// than two functions, they are simply executed sequentially.
//
// If any function panics, the first captured panic (in slot order) is
// re-raised in the caller once everything has finished; the rest are
// dropped.
func Do(fns []func()) {
	DoLimit(fns, 0)
}

// DoLimit is Do with at most parallelism functions running at a time
// (unlimited if parallelism is zero), enforced with a Semaphore.
func DoLimit(fns []func(), parallelism int) {
	if parallelism < 0 {
		panic("fiber: DoLimit with negative parallelism")
	}

	s := CurrentScheduler()
	if s == nil || len(fns) <= 1 {
		runSequentially(fns)
		return
	}

	fns, finish := maybeTrace("fiber.Do", fns)
	defer finish()

	var sem *Semaphore
	if parallelism > 0 {
		sem = NewSemaphore(parallelism)
	}

	caller := Current()
	var completed int32
	panics := make([]interface{}, len(fns))

	for i, fn := range fns {
		s.Schedule(New(doBody(
			fn, &completed, int32(len(fns)), &panics[i], s, caller, sem)))
	}

	Park()

	for _, p := range panics {
		if p != nil {
			panic(p)
		}
	}
}

// DoWithFibers is Do over a pre-allocated set of fibers, resetting one per
// function instead of allocating. There must be at least as many fibers as
// functions, each in a resettable state.
func DoWithFibers(fns []func(), fibers []*Fiber) {
	if len(fibers) < len(fns) {
		panic("fiber: DoWithFibers needs a fiber per function")
	}

	s := CurrentScheduler()
	if s == nil || len(fns) <= 1 {
		runSequentially(fns)
		return
	}

	fns, finish := maybeTrace("fiber.DoWithFibers", fns)
	defer finish()

	caller := Current()
	var completed int32
	panics := make([]interface{}, len(fns))

	for i, fn := range fns {
		fibers[i].Reset(doBody(
			fn, &completed, int32(len(fns)), &panics[i], s, caller, nil))
		s.Schedule(fibers[i])
	}

	Park()

	// Make sure every reused fiber has actually switched out, so the caller
	// can immediately Reset one without racing a worker that is still
	// running it.
	for i := range fns {
		for fibers[i].State() == StateExec {
			Gosched()
		}
	}

	for _, p := range panics {
		if p != nil {
			panic(p)
		}
	}
}

func runSequentially(fns []func()) {
	for _, fn := range fns {
		fn()
	}
}

func doBody(
	fn func(),
	completed *int32,
	total int32,
	pnc *interface{},
	s *Scheduler,
	caller *Fiber,
	sem *Semaphore) func() {
	return func() {
		if sem != nil {
			sem.Wait()
		}

		func() {
			defer func() { *pnc = recover() }()
			fn()
		}()

		if sem != nil {
			sem.Notify()
		}

		if atomic.AddInt32(completed, 1) == total {
			s.Schedule(caller)
		}
	}
}

// ForEach executes fn for each item in parallel, up to parallelism at a
// time (4 if parallelism is not positive), using a steady-state pipeline of
// worker fibers on the current scheduler. Items are handed out in order as
// workers free up.
//
// It returns false as soon as any invocation returns false, after draining
// the already-running workers, and re-raises the first captured panic. With
// no scheduler on the current thread, or parallelism of one, the items are
// processed sequentially.
func ForEach[T any](items []T, fn func(*T) bool, parallelism int) bool {
	if parallelism <= 0 {
		parallelism = 4
	}

	s := CurrentScheduler()
	if s == nil || parallelism == 1 {
		for i := range items {
			if !fn(&items[i]) {
				return false
			}
		}
		return true
	}

	if parallelism > len(items) {
		parallelism = len(items)
	}
	if parallelism == 0 {
		return true
	}

	caller := Current()
	current := make([]*T, parallelism)
	results := make([]bool, parallelism)
	panics := make([]interface{}, parallelism)
	fibers := make([]*Fiber, parallelism)

	for i := 0; i < parallelism; i++ {
		i := i
		fibers[i] = New(func() {
			results[i] = false
			func() {
				defer func() { panics[i] = recover() }()
				results[i] = fn(current[i])
			}()
			current[i] = nil
			s.Schedule(caller)
		})
	}

	// Fill the pipeline.
	next := 0
	for ; next < parallelism; next++ {
		current[next] = &items[next]
		s.Schedule(fibers[next])
	}

	// Steady state: each wake-up means some worker finished its item; hand
	// it the next one.
	ok := true
	for next < len(items) {
		Park()

		// Figure out who just finished and scheduled us.
		idx := -1
		for i := 0; i < parallelism; i++ {
			if current[i] == nil {
				idx = i
				break
			}
		}

		if !results[idx] {
			ok = false
			parallelism--
			break
		}

		// The fiber may still be switching out on another thread; don't
		// reset it until it has actually left EXEC.
		for fibers[idx].State() == StateExec {
			Gosched()
		}

		current[idx] = &items[next]
		fibers[idx].Reset(nil)
		s.Schedule(fibers[idx])
		next++
	}

	// Wait for everyone still running to finish.
	for ; parallelism > 0; parallelism-- {
		Park()
	}

	for _, p := range panics {
		if p != nil {
			panic(p)
		}
	}

	if !ok {
		return false
	}
	for _, r := range results {
		if !r {
			return false
		}
	}

	return true
}

// When enabled by the flag, wrap each function in a reqtrace span under one
// trace for the whole combinator call. Returns the (possibly wrapped)
// functions and a completion callback.
func maybeTrace(desc string, fns []func()) ([]func(), func()) {
	if !*fTraceParallel || !reqtrace.Enabled() {
		return fns, func() {}
	}

	ctx, report := reqtrace.Trace(context.Background(), desc)

	wrapped := make([]func(), len(fns))
	for i, fn := range fns {
		i, fn := i, fn
		wrapped[i] = func() {
			_, span := reqtrace.StartSpan(ctx, fmt.Sprintf("functor %d", i))
			defer span(nil)
			fn()
		}
	}

	return wrapped, func() { report(nil) }
}
