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
	"sync"
	"sync/atomic"

	"github.com/petermattis/goid"
)

// The execution state of a Fiber.
type State int32

const (
	// Initialized, but not yet run.
	StateInit State = iota

	// Suspended at a suspension point.
	StateHold

	// Currently executing.
	StateExec

	// Terminated because of a panic.
	StateExcept

	// Terminated.
	StateTerm
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateHold:
		return "HOLD"
	case StateExec:
		return "EXEC"
	case StateExcept:
		return "EXCEPT"
	case StateTerm:
		return "TERM"
	}

	return "UNKNOWN"
}

// A map from goroutine ID to the fiber running on that goroutine. A non-root
// fiber gets a goroutine of its own each time it is run from StateInit; its
// entry is written when the goroutine starts and removed when it exits. A
// root fiber adopted by Current is removed only when a scheduler worker
// exits; other adopting goroutines keep their entries.
var gFibers sync.Map

// A Fiber is an independent thread of control with its own stack, resumed
// and suspended explicitly. Exactly one fiber per worker is executing at any
// instant; all others are suspended at a suspension point.
//
// Fibers are not safe for concurrent resumption: at most one party may
// attempt to resume a given fiber at a time. The scheduler and the
// synchronization primitives in this package maintain that discipline.
type Fiber struct {
	/////////////////////////
	// Constant data
	/////////////////////////

	// Does this fiber represent the native stack of an adopted goroutine?
	root bool

	/////////////////////////
	// Mutable state
	/////////////////////////

	// One of the State constants. Written by the fiber itself and by its
	// resumer around transfers of control; read by dispatch loops on other
	// threads, hence atomic.
	state int32

	// The function run by the entry trampoline.
	entry func()

	// Has the fiber's goroutine been started? Set by the resumer that starts
	// it (resumers are serialized by the single-resumer discipline) and
	// cleared by the fiber itself in exit, before its final hand-off.
	started bool

	// The wake-up channel. Sending a transfer resumes the fiber; the fiber
	// parks by receiving. A capacity of one lets a resumer hand off without
	// waiting for the fiber to finish switching out elsewhere.
	resume chan transfer

	// The fiber that resumed this one via Call, to which control returns on
	// Yield or termination. Consumed (cleared) when used.
	outer *Fiber

	// The fiber that resumed this one via YieldTo with returnOnTerminate
	// set, to which control returns on termination if there is no outer.
	// Non-owning back reference.
	transferee *Fiber

	// The fiber that most recently transferred control to this one.
	yielder *Fiber

	// The panic value captured by the entry trampoline, if any, and whether
	// it has been re-raised in a resumer yet.
	stored    interface{}
	delivered bool

	// A pending cancellation to raise at the next resume. Guarded by
	// injectMu because injectors may race with a releaser scheduling the
	// fiber from another thread.
	injectMu sync.Mutex
	injected error // GUARDED_BY(injectMu)

	// Modeled thread-locals: the scheduler owning the current chain of
	// control, that chain's dispatch-loop fiber, and its thread ID. Copied
	// from the source fiber on every transfer of control, which is exactly
	// what a thread-local does in a thread-per-chain implementation.
	sched    *Scheduler
	schedRun *Fiber
	tid      ThreadID

	// Fiber-local storage slots, indexed by Local key.
	fls []flsSlot
}

// A wake-up token: who is handing control to the receiving fiber.
type transfer struct {
	from *Fiber
}

// New creates a fiber that will run entry when first resumed.
//
// The fiber's stack is a goroutine stack, sized on demand by the runtime; it
// is not created until the fiber is first resumed.
func New(entry func()) *Fiber {
	return &Fiber{
		entry:  entry,
		resume: make(chan transfer, 1),
		state:  int32(StateInit),
	}
}

// Current returns the fiber executing on the calling goroutine.
//
// A goroutine not yet known to the package adopts a root fiber representing
// its native stack, in state StateExec; this is how the main goroutine and
// scheduler workers obtain a fiber identity.
func Current() *Fiber {
	id := goid.Get()
	if f, ok := gFibers.Load(id); ok {
		return f.(*Fiber)
	}

	f := &Fiber{
		root:   true,
		resume: make(chan transfer, 1),
		state:  int32(StateExec),
	}
	gFibers.Store(id, f)

	return f
}

// Drop the calling goroutine's adopted fiber, if any. Called by scheduler
// workers on their way out so the registry doesn't grow without bound.
func unregisterCurrent() {
	gFibers.Delete(goid.Get())
}

// Like CurrentScheduler, but without adopting a fiber for an unknown
// goroutine. Used on paths that outside goroutines (timers, producers) hit
// repeatedly.
func currentSchedulerIfAny() *Scheduler {
	if f, ok := gFibers.Load(goid.Get()); ok {
		return f.(*Fiber).sched
	}
	return nil
}

// State returns the fiber's current execution state.
func (f *Fiber) State() State {
	return State(atomic.LoadInt32(&f.state))
}

func (f *Fiber) setState(s State) {
	atomic.StoreInt32(&f.state, int32(s))
}

// Reset returns a terminated (or never-run) fiber to StateInit so it can be
// run again. If entry is non-nil it replaces the fiber's entry function.
//
// It is a programming error to reset a fiber in StateHold or StateExec; use
// Shutdown to unwind a suspended fiber first.
func (f *Fiber) Reset(entry func()) {
	if f.root {
		panic("fiber: Reset on a thread-adopting fiber")
	}
	switch f.State() {
	case StateInit, StateTerm, StateExcept:
	default:
		panic("fiber: Reset on fiber in state " + f.State().String())
	}

	if entry != nil {
		f.entry = entry
	}

	f.stored = nil
	f.delivered = false
	f.outer = nil
	f.transferee = nil
	f.yielder = nil

	f.injectMu.Lock()
	f.injected = nil
	f.injectMu.Unlock()

	f.setState(StateInit)
}

// Inject arranges for err to be raised (as a panic) inside the fiber the
// next time it is resumed, from the point where it suspended. Deferred
// functions along the fiber's stack run as the panic unwinds.
//
// The fiber must be in StateInit or StateHold.
func (f *Fiber) Inject(err error) {
	if err == nil {
		panic("fiber: Inject with a nil error")
	}
	switch f.State() {
	case StateInit, StateHold:
	default:
		panic("fiber: Inject on fiber in state " + f.State().String())
	}

	f.injectMu.Lock()
	f.injected = err
	f.injectMu.Unlock()
}

// Call resumes the fiber as a child of the current fiber. The current fiber
// remains in StateExec but is suspended until the callee calls Yield,
// returns, or panics. If the callee terminated with a panic, Call re-raises
// the panic value in the caller.
//
// The fiber must be in StateInit or StateHold.
func (f *Fiber) Call() {
	cur := Current()
	if cur == f {
		panic("fiber: Call on the current fiber")
	}
	switch f.State() {
	case StateInit, StateHold:
	default:
		panic("fiber: Call on fiber in state " + f.State().String())
	}

	f.outer = cur
	f.wake(cur)
	cur.park()
}

// Yield suspends the current fiber, transitioning it to StateHold, and
// returns control to the fiber that resumed it via Call. Yield returns when
// the fiber is next resumed.
//
// It is a programming error to call Yield on a fiber that was not resumed
// via Call.
func Yield() {
	cur := Current()
	out := cur.outer
	if out == nil {
		panic("fiber: Yield without a caller")
	}

	cur.outer = nil
	cur.setState(StateHold)
	out.wake(cur)
	cur.park()
}

// YieldTo resumes the fiber in place of the current fiber, which transitions
// to StateHold. If returnOnTerminate is set, the target records the current
// fiber and implicitly returns control to it when it terminates.
//
// YieldTo returns when another fiber transfers control back to the current
// one; the return value is the fiber that yielded back, which is not
// necessarily the target (chains of YieldTo may reorder). If the fiber that
// yielded back terminated with a panic, YieldTo re-raises the panic value.
//
// The fiber must be in StateInit or StateHold.
func (f *Fiber) YieldTo(returnOnTerminate bool) *Fiber {
	cur := Current()
	if cur == f {
		panic("fiber: YieldTo on the current fiber")
	}
	switch f.State() {
	case StateInit, StateHold:
	default:
		panic("fiber: YieldTo on fiber in state " + f.State().String())
	}

	if returnOnTerminate {
		f.transferee = cur
	}

	cur.setState(StateHold)
	f.wake(cur)
	cur.park()

	return cur.yielder
}

// Shutdown releases a fiber that is suspended mid-execution. It injects
// ErrAborted and resumes the fiber once so its stack unwinds; anything the
// unwinding raises is swallowed. A fiber in StateInit, StateTerm or
// StateExcept is left untouched.
//
// It is a programming error to shut down an executing fiber.
func (f *Fiber) Shutdown() {
	switch f.State() {
	case StateExec:
		panic("fiber: Shutdown on an executing fiber")
	case StateHold:
	default:
		return
	}

	f.Inject(ErrAborted)
	func() {
		defer func() { _ = recover() }()
		f.Call()
	}()
}

// Start the fiber's goroutine if it is not already running, then send it a
// wake-up token from cur.
func (f *Fiber) wake(cur *Fiber) {
	if !f.started {
		f.started = true
		go f.main()
	}
	f.resume <- transfer{from: cur}
}

// Park the current fiber until someone wakes it. On resume, adopt the
// source's modeled thread-locals, re-raise any panic a terminating fiber
// handed us, and raise any injected cancellation.
func (f *Fiber) park() {
	t := <-f.resume

	f.yielder = t.from
	if t.from != nil {
		f.sched = t.from.sched
		f.schedRun = t.from.schedRun
		f.tid = t.from.tid
	}
	f.setState(StateExec)

	f.injectMu.Lock()
	err := f.injected
	f.injected = nil
	f.injectMu.Unlock()
	if err != nil {
		panic(err)
	}

	if y := t.from; y != nil && y.State() == StateExcept && !y.delivered {
		y.delivered = true
		panic(y.stored)
	}
}

// The goroutine body backing a non-root fiber: wait to be resumed for the
// first time, run the entry trampoline, and hand control to whoever should
// receive it on termination. The goroutine exits once the fiber terminates;
// exit marks the fiber for a fresh goroutine on its next resume.
func (f *Fiber) main() {
	id := goid.Get()
	gFibers.Store(id, f)
	defer gFibers.Delete(id)

	final := StateTerm
	func() {
		defer func() {
			if r := recover(); r != nil {
				f.stored = r
				final = StateExcept
			}
		}()

		f.park()
		if f.entry != nil {
			f.entry()
		}
	}()

	f.exit(final)
}

// Transfer control away from a terminating fiber. Control goes to the fiber
// that called us if there is one, otherwise to the fiber we were last
// transferred from with returnOnTerminate; fibers that have themselves
// terminated in the meantime are walked past using the same rule.
func (f *Fiber) exit(final State) {
	target := f.outer
	f.outer = nil
	if target == nil {
		target = f.transferee
		f.transferee = nil
	}

	for target != nil &&
		(target.State() == StateTerm || target.State() == StateExcept) {
		next := target.outer
		if next == nil {
			next = target.transferee
		}
		target = next
	}

	if target == nil {
		panic("fiber: fiber terminated with no resumer")
	}

	// Order matters: the receiver may immediately Reset and re-run this
	// fiber, so our bookkeeping must be complete before the wake-up.
	f.started = false
	f.setState(final)
	target.resume <- transfer{from: f}
}
