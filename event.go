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

import "github.com/jacobsa/syncutil"

// An Event is a signalable flag for fibers, with strictly FIFO release of
// waiters. In auto-reset mode each Set releases exactly one waiter (or
// latches until the next Wait); in manual-reset mode Set latches the event
// and releases everyone until Reset.
type Event struct {
	/////////////////////////
	// Constant data
	/////////////////////////

	autoReset bool

	/////////////////////////
	// Mutable state
	/////////////////////////

	mu syncutil.InvariantMutex

	// INVARIANT: signalled implies len(waiters) == 0
	signalled bool     // GUARDED_BY(mu)
	waiters   []waiter // GUARDED_BY(mu)
}

// NewEvent creates an unsignalled event.
func NewEvent(autoReset bool) (e *Event) {
	e = &Event{autoReset: autoReset}
	e.mu = syncutil.NewInvariantMutex(e.checkInvariants)
	return
}

func (e *Event) checkInvariants() {
	// INVARIANT: signalled implies len(waiters) == 0
	if e.signalled && len(e.waiters) != 0 {
		panic("Signalled event with waiters")
	}
}

// Wait returns immediately if the event is signalled (consuming the signal
// in auto-reset mode); otherwise it parks the current fiber until Set
// releases it.
func (e *Event) Wait() {
	cur := Current()

	e.mu.Lock()
	if e.signalled {
		if e.autoReset {
			e.signalled = false
		}
		e.mu.Unlock()
		return
	}

	if cur.sched == nil {
		e.mu.Unlock()
		panic("fiber: Event.Wait without a scheduler")
	}

	e.waiters = append(e.waiters, waiter{cur.sched, cur})
	e.mu.Unlock()

	Park()
}

// Set signals the event. In auto-reset mode it wakes exactly one waiter if
// any, otherwise latches; in manual-reset mode it latches and wakes all
// waiters in arrival order.
func (e *Event) Set() {
	if e.autoReset {
		var next waiter

		e.mu.Lock()
		if len(e.waiters) == 0 {
			e.signalled = true
			e.mu.Unlock()
			return
		}
		next = e.waiters[0]
		e.waiters = e.waiters[1:]
		e.mu.Unlock()

		next.s.Schedule(next.f)
		return
	}

	var runnable []waiter
	e.mu.Lock()
	e.signalled = true
	runnable, e.waiters = e.waiters, nil
	e.mu.Unlock()

	for _, next := range runnable {
		next.s.Schedule(next.f)
	}
}

// Reset clears the signal.
func (e *Event) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.signalled = false
}
