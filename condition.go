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

// A Condition is a condition variable for fibers, associated with a Mutex.
// Waiters are released strictly in the order they arrived.
//
// Lock ordering: the condition's internal lock is always taken before the
// mutex's internal lock, and released after it.
type Condition struct {
	/////////////////////////
	// Dependencies
	/////////////////////////

	mutex *Mutex

	/////////////////////////
	// Mutable state
	/////////////////////////

	mu      syncutil.InvariantMutex
	waiters []waiter // GUARDED_BY(mu)
}

// NewCondition creates a condition variable associated with the given
// mutex.
func NewCondition(mutex *Mutex) (c *Condition) {
	c = &Condition{mutex: mutex}
	c.mu = syncutil.NewInvariantMutex(func() {})
	return
}

// Wait atomically releases the associated mutex and parks the current fiber
// until Signal or Broadcast releases it. When Wait returns, the fiber owns
// the mutex again.
//
// The caller must own the mutex, and the current thread must have a
// scheduler.
func (c *Condition) Wait() {
	cur := Current()
	if cur.sched == nil {
		panic("fiber: Condition.Wait without a scheduler")
	}

	// Parking on the condition and releasing the mutex must be one atomic
	// region under both internal locks, so that a concurrent Signal cannot
	// slip between them.
	c.mu.Lock()
	c.mutex.mu.Lock()
	if c.mutex.owner != cur {
		c.mutex.mu.Unlock()
		c.mu.Unlock()
		panic("fiber: Condition.Wait without holding the mutex")
	}

	c.waiters = append(c.waiters, waiter{cur.sched, cur})
	c.mutex.unlockLocked()
	c.mutex.mu.Unlock()
	c.mu.Unlock()

	Park()
}

// Signal releases the head waiter: if the mutex is currently unowned the
// waiter becomes its owner and is scheduled; otherwise the waiter is
// appended to the mutex's wait list and will be scheduled when it reaches
// the head.
func (c *Condition) Signal() {
	var next waiter

	c.mu.Lock()
	if len(c.waiters) == 0 {
		c.mu.Unlock()
		return
	}
	next = c.waiters[0]
	c.waiters = c.waiters[1:]
	c.mu.Unlock()

	c.mutex.mu.Lock()
	defer c.mutex.mu.Unlock()
	c.handOffLocked(next)
}

// Broadcast releases all waiters under one atomic region, in arrival order:
// the first to find the mutex unowned becomes its owner and is scheduled,
// the rest join the mutex's wait list.
func (c *Condition) Broadcast() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.waiters) == 0 {
		return
	}

	c.mutex.mu.Lock()
	defer c.mutex.mu.Unlock()

	for _, next := range c.waiters {
		c.handOffLocked(next)
	}
	c.waiters = nil
}

// Move one released waiter to the mutex, or hand it ownership outright.
//
// LOCKS_REQUIRED(c.mutex.mu)
func (c *Condition) handOffLocked(next waiter) {
	if c.mutex.owner == next.f {
		panic("fiber: condition waiter already owns the mutex")
	}

	if c.mutex.owner == nil {
		c.mutex.owner = next.f
		next.s.Schedule(next.f)
		return
	}

	c.mutex.waiters = append(c.mutex.waiters, next)
}
