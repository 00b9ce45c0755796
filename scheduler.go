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
	"container/list"
	"fmt"
	"runtime"

	"github.com/jacobsa/syncutil"
)

// Hooks is the customization surface for schedulers. The default
// implementation is WorkerPool; I/O-multiplexing schedulers implement Hooks
// around their platform's readiness facility.
type Hooks interface {
	// Idle is run on a dedicated fiber whenever a worker has nothing to do.
	// It should call Yield whenever it believes new work may have arrived,
	// and must return once Stopping is true and no more work can arrive.
	Idle()

	// Tickle is called when work is scheduled, to make sure a sleeping Idle
	// wakes up.
	Tickle()
}

// A Task is one unit of work for a scheduler: either an existing fiber to
// resume or a function to run on a cached dispatch fiber. Exactly one of
// Fiber and Fn must be set. If Thread is not AnyThread, only the worker with
// that ID may execute the task.
type Task struct {
	Fiber  *Fiber
	Fn     func()
	Thread ThreadID
}

// One spawned worker thread.
type workerThread struct {
	id   ThreadID
	done chan struct{}
}

// A Scheduler cooperatively schedules fibers on a pool of worker threads,
// implementing an M-on-N threading model. A scheduler either hijacks the
// thread it was created on (useCaller), spawns threads of its own, or both.
//
// A hijacking scheduler begins processing work when something on the
// hijacked thread parks into it (Park, Dispatch, or any primitive that
// suspends), and must be stopped from that thread. Spawned-only schedulers
// are stopped from outside.
type Scheduler struct {
	/////////////////////////
	// Dependencies
	/////////////////////////

	hooks Hooks

	/////////////////////////
	// Constant data
	/////////////////////////

	batchSize int

	// The hijacked thread's ID and dispatch-loop fiber. Nil/zero when the
	// scheduler doesn't hijack.
	rootID    ThreadID
	rootFiber *Fiber

	/////////////////////////
	// Mutable state
	/////////////////////////

	mu syncutil.InvariantMutex

	// The work queue, in submission order.
	//
	// INVARIANT: Each element is a Task with exactly one of Fiber, Fn set
	tasks list.List // GUARDED_BY(mu)

	// Spawned workers and the target number of them (excluding the root
	// thread). len(threads) exceeding threadCount asks the excess workers
	// to exit.
	threads     []*workerThread // GUARDED_BY(mu)
	threadCount int             // GUARDED_BY(mu)

	// How many workers are currently executing tasks.
	//
	// INVARIANT: activeThreads >= 0
	activeThreads int // GUARDED_BY(mu)

	stopping bool // GUARDED_BY(mu)
	autoStop bool // GUARDED_BY(mu)

	// The fiber that parked into the root dispatch loop, to be resumed when
	// the loop winds down. Root-thread-confined.
	callingFiber *Fiber
}

// NewScheduler creates a scheduler running hooks with the given number of
// threads, of which the constructing thread is one if useCaller is set.
// batchSize caps how many tasks a worker dequeues per queue-lock
// acquisition.
//
// The scheduler does not process work until Start is called; WorkerPool
// does that for you.
func NewScheduler(hooks Hooks, threads int, useCaller bool, batchSize int) (s *Scheduler) {
	if threads < 1 {
		panic("fiber: NewScheduler needs at least one thread")
	}
	if batchSize < 1 {
		panic("fiber: NewScheduler needs a positive batch size")
	}

	s = &Scheduler{
		hooks:     hooks,
		batchSize: batchSize,
		stopping:  true,
	}
	s.mu = syncutil.NewInvariantMutex(s.checkInvariants)

	if useCaller {
		threads--

		cur := Current()
		if cur.sched != nil {
			panic("fiber: this thread already belongs to a scheduler")
		}

		s.rootID = nextThreadID()
		s.rootFiber = New(s.run)

		cur.sched = s
		cur.schedRun = s.rootFiber
		cur.tid = s.rootID
	}

	s.threadCount = threads
	return
}

// CurrentScheduler returns the scheduler controlling the calling fiber's
// thread, or nil if there is none.
func CurrentScheduler() *Scheduler {
	return Current().sched
}

func (s *Scheduler) checkInvariants() {
	// INVARIANT: activeThreads >= 0
	if s.activeThreads < 0 {
		panic(fmt.Sprintf("Negative active thread count: %d", s.activeThreads))
	}

	// INVARIANT: Each element is a Task with exactly one of Fiber, Fn set
	for e := s.tasks.Front(); e != nil; e = e.Next() {
		t := e.Value.(Task)
		if (t.Fiber == nil) == (t.Fn == nil) {
			panic("Task with both or neither of Fiber and Fn set")
		}
	}
}

// Start spawns the scheduler's worker threads if they are not yet running.
// It is safe to call Start on a started scheduler; it will be a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.stopping {
		return
	}
	s.stopping = false

	getLogger().Printf("Scheduler %p: starting %d threads", s, s.threadCount)
	if len(s.threads) != 0 {
		panic("fiber: Start with workers still running")
	}

	for i := 0; i < s.threadCount; i++ {
		s.threads = append(s.threads, s.startWorker())
	}
}

// LOCKS_REQUIRED(s.mu)
func (s *Scheduler) startWorker() (w *workerThread) {
	w = &workerThread{
		id:   nextThreadID(),
		done: make(chan struct{}),
	}
	go s.threadMain(w)
	return
}

func (s *Scheduler) threadMain(w *workerThread) {
	defer close(w.done)

	// Each worker is a real OS thread for its whole life.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	getLogger().Printf(
		"Scheduler %p: worker %d starting (kernel tid %d)",
		s,
		w.id,
		gettid())

	f := Current()
	f.sched = s
	f.schedRun = f
	f.tid = w.id
	defer unregisterCurrent()

	s.run()
}

// Stopping reports whether the scheduler has been asked to stop and has no
// work left: the queue is empty and no worker is executing a task. Hooks
// implementations consult it from their Idle routine.
func (s *Scheduler) Stopping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.stopping && s.tasks.Len() == 0 && s.activeThreads == 0
}

// Schedule appends a fiber to the work queue, to be resumed by any worker.
func (s *Scheduler) Schedule(f *Fiber) {
	s.scheduleTask(Task{Fiber: f})
}

// SchedulePinned appends a fiber to the work queue, to be resumed only by
// the worker whose ID is t (or by any worker, if t is AnyThread).
func (s *Scheduler) SchedulePinned(f *Fiber, t ThreadID) {
	s.scheduleTask(Task{Fiber: f, Thread: t})
}

// ScheduleFunc appends a function to the work queue, to be run on a cached
// dispatch fiber by any worker.
func (s *Scheduler) ScheduleFunc(fn func()) {
	s.scheduleTask(Task{Fn: fn})
}

// ScheduleFuncPinned is ScheduleFunc restricted to the worker whose ID is t.
func (s *Scheduler) ScheduleFuncPinned(fn func(), t ThreadID) {
	s.scheduleTask(Task{Fn: fn, Thread: t})
}

// ScheduleBatch appends several tasks in order under one lock acquisition,
// tickling at most once.
func (s *Scheduler) ScheduleBatch(tasks []Task) {
	tickle := false

	s.mu.Lock()
	for _, t := range tasks {
		tickle = s.scheduleLocked(t) || tickle
	}
	s.mu.Unlock()

	if tickle && currentSchedulerIfAny() != s {
		s.hooks.Tickle()
	}
}

func (s *Scheduler) scheduleTask(t Task) {
	s.mu.Lock()
	tickle := s.scheduleLocked(t)
	s.mu.Unlock()

	// A worker already inside this scheduler will pick the task up on its
	// next dispatch pass; only outsiders need to tickle.
	if tickle && currentSchedulerIfAny() != s {
		s.hooks.Tickle()
	}
}

// LOCKS_REQUIRED(s.mu)
func (s *Scheduler) scheduleLocked(t Task) (tickle bool) {
	if (t.Fiber == nil) == (t.Fn == nil) {
		panic("fiber: Schedule of a task with both or neither of Fiber and Fn")
	}
	if t.Thread != AnyThread && !s.ownsThreadLocked(t.Thread) {
		panic(fmt.Sprintf(
			"fiber: thread %d does not belong to this scheduler", t.Thread))
	}

	tickle = s.tasks.Len() == 0
	s.tasks.PushBack(t)
	return
}

// LOCKS_REQUIRED(s.mu)
func (s *Scheduler) ownsThreadLocked(t ThreadID) bool {
	if s.rootFiber != nil && t == s.rootID {
		return true
	}
	for _, w := range s.threads {
		if w.id == t {
			return true
		}
	}

	return false
}

// LOCKS_REQUIRED(s.mu)
func (s *Scheduler) totalThreadsLocked() (n int) {
	n = s.threadCount
	if s.rootFiber != nil {
		n++
	}
	return
}

// ThreadCount returns the number of threads in the scheduler, including a
// hijacked root thread.
func (s *Scheduler) ThreadCount() (n int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.totalThreadsLocked()
}

// SetThreadCount changes the number of threads. Growing spawns workers
// immediately (if the scheduler is started); shrinking asks the excess
// workers to exit once they next pass through their dispatch loop, aborting
// their idle fibers.
func (s *Scheduler) SetThreadCount(threads int) {
	if threads < 1 {
		panic("fiber: SetThreadCount needs at least one thread")
	}
	if s.rootFiber != nil {
		threads--
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if threads > s.threadCount && !s.stopping {
		for i := s.threadCount; i < threads; i++ {
			s.threads = append(s.threads, s.startWorker())
		}
	}
	s.threadCount = threads
}

// ThreadIDs returns the IDs of the scheduler's threads, the hijacked root
// thread first if there is one. Useful for pinning tasks.
func (s *Scheduler) ThreadIDs() (ids []ThreadID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rootFiber != nil {
		ids = append(ids, s.rootID)
	}
	for _, w := range s.threads {
		ids = append(ids, w.id)
	}
	return
}

// Park suspends the current fiber into its scheduler's dispatch loop
// without rescheduling it; someone else must Schedule it to run again. On a
// hijacked root thread whose dispatch loop is not yet running, Park starts
// the loop and records the current fiber to resume when the loop winds
// down.
func Park() {
	cur := Current()
	s := cur.sched
	if s == nil {
		panic("fiber: Park without a scheduler")
	}

	r := cur.schedRun
	if s.rootFiber != nil && cur.tid == s.rootID &&
		(r.State() == StateInit || r.State() == StateTerm) {
		s.callingFiber = cur
		s.yieldIntoLoop(true)
	} else {
		s.yieldIntoLoop(false)
	}
}

// Gosched reschedules the current fiber on its scheduler and parks, letting
// other work run on this thread.
func Gosched() {
	s := CurrentScheduler()
	if s == nil {
		panic("fiber: Gosched without a scheduler")
	}

	s.Schedule(Current())
	Park()
}

// SwitchTo migrates the current fiber to this scheduler, optionally pinned
// to the worker whose ID is t. A no-op when the fiber is already in the
// right place.
func (s *Scheduler) SwitchTo(t ThreadID) {
	cur := Current()
	if cur.sched == nil {
		panic("fiber: SwitchTo without a scheduler")
	}
	if cur.sched == s && (t == AnyThread || t == cur.tid) {
		return
	}

	getLogger().Printf("Scheduler %p: switching fiber to thread %d", s, t)
	s.scheduleTask(Task{Fiber: cur, Thread: t})
	Park()
}

// Dispatch forces a hijacking scheduler with no spawned threads to process
// scheduled work on the calling thread, returning once the queue drains.
func (s *Scheduler) Dispatch() {
	cur := Current()
	if s.rootFiber == nil || cur.tid != s.rootID {
		panic("fiber: Dispatch from outside the hijacked thread")
	}

	s.mu.Lock()
	if s.threadCount != 0 {
		s.mu.Unlock()
		panic("fiber: Dispatch on a scheduler with spawned threads")
	}
	s.stopping = true
	s.autoStop = true
	s.mu.Unlock()

	Park()

	s.mu.Lock()
	s.autoStop = false
	s.mu.Unlock()
}

// Transfer control from the current fiber into this thread's dispatch-loop
// fiber, restarting the loop if it previously wound down.
func (s *Scheduler) yieldIntoLoop(returnOnTerminate bool) {
	cur := Current()
	r := cur.schedRun

	if r.State() != StateHold {
		s.mu.Lock()
		s.stopping = s.autoStop || s.stopping
		s.mu.Unlock()
		r.Reset(nil)
	}

	r.YieldTo(returnOnTerminate)
}

// Stop requests shutdown and waits for all queued work and idle fibers to
// finish.
//
// A hijacking (or hybrid) scheduler must be stopped from within itself, on
// the hijacked thread; if called from another fiber it owns, Stop marks the
// scheduler stopping and returns immediately, and the fiber that created it
// resumes once the dispatch loops wind down. A spawned-only scheduler must
// be stopped from outside.
func (s *Scheduler) Stop() {
	// Already stopped?
	if s.rootFiber != nil {
		s.mu.Lock()
		spawned := s.threadCount
		s.mu.Unlock()

		if st := s.rootFiber.State(); spawned == 0 &&
			(st == StateTerm || st == StateInit) {
			getLogger().Printf("Scheduler %p: stopped", s)
			s.mu.Lock()
			s.stopping = true
			s.mu.Unlock()

			// A derived Hooks may inhibit stopping while it has work of its
			// own, so we can't break early unconditionally.
			if s.Stopping() {
				s.dropAssociation()
				return
			}
		}
	}

	cur := Current()
	exitOnThisFiber := false
	if s.rootFiber != nil {
		// A thread-hijacking scheduler must be stopped from within itself to
		// return control to the original thread.
		if cur.sched != s {
			panic("fiber: a hijacking scheduler must be stopped from its own thread")
		}
		if cur == s.callingFiber {
			exitOnThisFiber = true

			// First switch to the correct thread.
			getLogger().Printf("Scheduler %p: switching to root thread to stop", s)
			s.SwitchTo(s.rootID)
		}
		if s.callingFiber == nil {
			exitOnThisFiber = true
		}
	} else {
		// A spawned-threads-only scheduler cannot be stopped from within
		// itself... who would get control?
		if cur.sched == s {
			panic("fiber: a spawned-only scheduler cannot be stopped from within")
		}
	}

	s.mu.Lock()
	s.stopping = true
	spawned := s.threadCount
	live := len(s.threads)
	s.mu.Unlock()

	// One tickle per worker that might be asleep. After a shrink there may
	// be more live workers than the target count; the semaphore accumulates
	// the signals, so none is lost.
	if spawned > live {
		live = spawned
	}
	for i := 0; i < live; i++ {
		s.hooks.Tickle()
	}
	if s.rootFiber != nil && (spawned != 0 || cur.sched != s) {
		s.hooks.Tickle()
	}

	// Wait for all work to stop on this thread.
	if exitOnThisFiber {
		for !s.Stopping() {
			// Give this thread's dispatch loop a chance to kill itself off.
			getLogger().Printf("Scheduler %p: yielding to this thread to stop", s)
			s.yieldIntoLoop(true)
		}
	}

	// Wait for the other threads to stop.
	if exitOnThisFiber || cur.sched != s {
		var threads []*workerThread
		s.mu.Lock()
		threads, s.threads = s.threads, nil
		s.mu.Unlock()

		for _, w := range threads {
			<-w.done
		}
	}

	if !exitOnThisFiber && cur.sched == s {
		// Another fiber of this scheduler asked it to stop; the loops are
		// still winding down, so the association stays.
		return
	}

	getLogger().Printf("Scheduler %p: stopped", s)
	s.dropAssociation()
}

// Clear the calling fiber's association with this scheduler once it is
// fully stopped, so the thread can be hijacked again.
func (s *Scheduler) dropAssociation() {
	cur := Current()
	if cur.sched == s && s.rootFiber != nil && cur.tid == s.rootID {
		cur.sched = nil
		cur.schedRun = nil
		cur.tid = AnyThread
	}
}

// The dispatch loop, run by every worker thread and by the root fiber of a
// hijacking scheduler.
func (s *Scheduler) run() {
	self := Current()
	myTID := self.tid

	idle := New(s.hooks.Idle)
	var dispatch *Fiber
	batch := make([]Task, 0, s.batchSize)
	isActive := false

	for {
		batch = batch[:0]
		dontIdle := false
		tickleMe := false

		s.mu.Lock()

		// Kill ourselves off if the pool has shrunk.
		if len(s.threads) > s.threadCount && myTID != s.rootID {
			if isActive {
				s.activeThreads--
				isActive = false
			}
			for i, w := range s.threads {
				if w.id == myTID {
					s.threads = append(s.threads[:i], s.threads[i+1:]...)
					break
				}
			}
			excess := len(s.threads) > s.threadCount
			s.mu.Unlock()

			if excess {
				s.hooks.Tickle()
			}

			// Kill off the idle fiber.
			if st := idle.State(); st == StateInit || st == StateHold {
				idle.Inject(ErrAborted)
				func() {
					defer func() { _ = recover() }()
					idle.Call()
				}()
			}
			return
		}

		for e := s.tasks.Front(); e != nil; {
			// If we've met our batch size, and we're not checking whether we
			// need to tickle another thread, then stop scanning.
			if (tickleMe || s.activeThreads == s.totalThreadsLocked()) &&
				len(batch) == s.batchSize {
				break
			}

			t := e.Value.(Task)

			if t.Thread != AnyThread && t.Thread != myTID {
				// Wake up another thread to hopefully service this.
				tickleMe = true
				dontIdle = true
				e = e.Next()
				continue
			}

			// The fiber is still executing; probably just a race where it
			// needs to finish switching out on one thread before running on
			// another.
			if t.Fiber != nil && t.Fiber.State() == StateExec {
				dontIdle = true
				e = e.Next()
				continue
			}

			// We were just checking whether there is more work; there is, so
			// set the flag and don't actually take this piece of work.
			if len(batch) == s.batchSize {
				tickleMe = true
				break
			}

			batch = append(batch, t)
			next := e.Next()
			s.tasks.Remove(e)
			e = next

			if !isActive {
				s.activeThreads++
				isActive = true
			}
		}

		if len(batch) == 0 && isActive {
			s.activeThreads--
			isActive = false
		}

		s.mu.Unlock()

		if tickleMe {
			s.hooks.Tickle()
		}

		if len(batch) > 0 {
			for i, t := range batch {
				if r := s.runTask(t, &dispatch); r != nil {
					getLogger().Printf("Scheduler %p: fatal error from task: %v", s, r)

					// Push the un-executed remainder of the batch back on the
					// queue, and take this thread out of the active count
					// before dying.
					s.mu.Lock()
					for _, rest := range batch[i+1:] {
						s.tasks.PushBack(rest)
					}
					s.activeThreads--
					s.mu.Unlock()

					panic(r)
				}
			}
			continue
		}

		if dontIdle {
			continue
		}

		if idle.State() == StateTerm {
			if myTID == s.rootID {
				s.callingFiber = nil
			}

			// Unblock the next thread.
			if s.ThreadCount() > 1 {
				s.hooks.Tickle()
			}
			return
		}

		idle.Call()
	}
}

// Run one task, reporting any panic that escapes it rather than unwinding
// through the dispatch loop's bookkeeping.
func (s *Scheduler) runTask(t Task, dispatch **Fiber) (r interface{}) {
	defer func() { r = recover() }()

	if t.Fiber != nil {
		if t.Fiber.State() != StateTerm {
			t.Fiber.YieldTo(true)
		}
		return
	}

	// Run the function on a cached dispatch fiber, avoiding a fresh stack
	// per task.
	d := *dispatch
	if d == nil {
		d = New(t.Fn)
		*dispatch = d
	} else {
		d.Reset(t.Fn)
	}

	d.YieldTo(true)

	if d.State() != StateTerm {
		// Parked on some wait list; it belongs to whoever holds it now.
		*dispatch = nil
	}

	return
}
