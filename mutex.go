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

// A parked fiber and the scheduler it was running on when it parked. The
// fiber is always rescheduled on that scheduler, even if the releaser runs
// elsewhere.
type waiter struct {
	s *Scheduler
	f *Fiber
}

// A Mutex is a mutual exclusion lock for fibers that parks into the
// scheduler instead of blocking the thread when contended. Hand-off is
// strictly FIFO: fibers acquire the mutex in the order they called Lock.
//
// Note that a fiber may find itself on a different OS thread after Lock
// returns, though always on the same scheduler.
type Mutex struct {
	mu syncutil.InvariantMutex

	// INVARIANT: owner == nil implies len(waiters) == 0
	owner   *Fiber   // GUARDED_BY(mu)
	waiters []waiter // GUARDED_BY(mu)
}

// NewMutex creates an unlocked mutex.
func NewMutex() (m *Mutex) {
	m = &Mutex{}
	m.mu = syncutil.NewInvariantMutex(m.checkInvariants)
	return
}

func (m *Mutex) checkInvariants() {
	// INVARIANT: owner == nil implies len(waiters) == 0
	if m.owner == nil && len(m.waiters) != 0 {
		panic("Unowned mutex with waiters")
	}
}

// Lock acquires the mutex, parking the current fiber until it is handed
// ownership if the mutex is held.
//
// It is a programming error to lock a mutex the current fiber already owns;
// use RecursiveMutex for that. The current thread must have a scheduler.
func (m *Mutex) Lock() {
	cur := Current()
	if cur.sched == nil {
		panic("fiber: Mutex.Lock without a scheduler")
	}

	m.mu.Lock()
	if m.owner == cur {
		m.mu.Unlock()
		panic("fiber: recursive Mutex.Lock; use RecursiveMutex")
	}

	if m.owner == nil {
		m.owner = cur
		m.mu.Unlock()
		return
	}

	m.waiters = append(m.waiters, waiter{cur.sched, cur})
	m.mu.Unlock()

	Park()
}

// Unlock releases the mutex. If fibers are waiting, ownership transfers to
// the head of the wait list and that fiber is scheduled on the scheduler it
// was waiting from.
//
// The caller must own the mutex.
func (m *Mutex) Unlock() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.unlockLocked()
}

// UnlockIfNotUnique unlocks the mutex only if there is at least one waiter,
// and reports whether it did. Useful when there is extra work worth doing
// (such as flushing a buffer) only if no one else wants the lock.
//
// The caller must own the mutex.
func (m *Mutex) UnlockIfNotUnique() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.owner != Current() {
		panic("fiber: Mutex.UnlockIfNotUnique by non-owner")
	}

	if len(m.waiters) != 0 {
		m.unlockLocked()
		return true
	}

	return false
}

// LOCKS_REQUIRED(m.mu)
func (m *Mutex) unlockLocked() {
	if m.owner != Current() {
		panic("fiber: Mutex.Unlock by non-owner")
	}

	m.owner = nil
	if len(m.waiters) != 0 {
		next := m.waiters[0]
		m.waiters = m.waiters[1:]
		m.owner = next.f
		next.s.Schedule(next.f)
	}
}

// A RecursiveMutex is a Mutex that the owning fiber may lock again;
// ownership is released once Unlock has been called as many times as Lock.
type RecursiveMutex struct {
	mu syncutil.InvariantMutex

	// INVARIANT: owner == nil implies len(waiters) == 0
	// INVARIANT: (owner == nil) == (recursion == 0)
	owner     *Fiber   // GUARDED_BY(mu)
	recursion uint     // GUARDED_BY(mu)
	waiters   []waiter // GUARDED_BY(mu)
}

// NewRecursiveMutex creates an unlocked recursive mutex.
func NewRecursiveMutex() (m *RecursiveMutex) {
	m = &RecursiveMutex{}
	m.mu = syncutil.NewInvariantMutex(m.checkInvariants)
	return
}

func (m *RecursiveMutex) checkInvariants() {
	// INVARIANT: owner == nil implies len(waiters) == 0
	if m.owner == nil && len(m.waiters) != 0 {
		panic("Unowned mutex with waiters")
	}

	// INVARIANT: (owner == nil) == (recursion == 0)
	if (m.owner == nil) != (m.recursion == 0) {
		panic("Recursion count out of step with ownership")
	}
}

// Lock acquires the mutex, or deepens ownership if the current fiber
// already holds it. The current thread must have a scheduler.
func (m *RecursiveMutex) Lock() {
	cur := Current()
	if cur.sched == nil {
		panic("fiber: RecursiveMutex.Lock without a scheduler")
	}

	m.mu.Lock()
	if m.owner == cur {
		m.recursion++
		m.mu.Unlock()
		return
	}

	if m.owner == nil {
		m.owner = cur
		m.recursion = 1
		m.mu.Unlock()
		return
	}

	m.waiters = append(m.waiters, waiter{cur.sched, cur})
	m.mu.Unlock()

	Park()
}

// Unlock undoes one Lock, releasing the mutex (and handing it to the head
// waiter, if any) when the recursion count reaches zero.
//
// The caller must own the mutex.
func (m *RecursiveMutex) Unlock() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.owner != Current() {
		panic("fiber: RecursiveMutex.Unlock by non-owner")
	}

	m.recursion--
	if m.recursion == 0 {
		m.unlockLocked()
	}
}

// UnlockIfNotUnique undoes one Lock only if there is at least one waiter,
// and reports whether it did. Note that the mutex is not fully released if
// the current fiber holds it recursively.
func (m *RecursiveMutex) UnlockIfNotUnique() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.owner != Current() {
		panic("fiber: RecursiveMutex.UnlockIfNotUnique by non-owner")
	}

	if len(m.waiters) == 0 {
		return false
	}

	m.recursion--
	if m.recursion == 0 {
		m.unlockLocked()
	}

	return true
}

// LOCKS_REQUIRED(m.mu)
func (m *RecursiveMutex) unlockLocked() {
	m.owner = nil
	if len(m.waiters) != 0 {
		next := m.waiters[0]
		m.waiters = m.waiters[1:]
		m.owner = next.f
		m.recursion = 1
		next.s.Schedule(next.f)
	}
}
