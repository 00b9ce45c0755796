// Copyright 2015 Google Inc. All Rights Reserved.
// Author: jacobsa@google.com (Aaron Jacobs)

package fiber

import "github.com/jacobsa/syncutil"

// A Semaphore is a counting semaphore for fibers that parks into the
// scheduler instead of blocking the thread, with strictly FIFO wake-up of
// waiters.
type Semaphore struct {
	mu syncutil.InvariantMutex

	// INVARIANT: permits >= 0
	// INVARIANT: permits > 0 implies len(waiters) == 0
	permits int      // GUARDED_BY(mu)
	waiters []waiter // GUARDED_BY(mu)
}

// NewSemaphore creates a semaphore with the given number of permits.
func NewSemaphore(permits int) (s *Semaphore) {
	if permits < 0 {
		panic("fiber: NewSemaphore with negative permits")
	}

	s = &Semaphore{permits: permits}
	s.mu = syncutil.NewInvariantMutex(s.checkInvariants)
	return
}

func (s *Semaphore) checkInvariants() {
	// INVARIANT: permits >= 0
	if s.permits < 0 {
		panic("Negative permit count")
	}

	// INVARIANT: permits > 0 implies len(waiters) == 0
	if s.permits > 0 && len(s.waiters) != 0 {
		panic("Semaphore with both permits and waiters")
	}
}

// Wait takes a permit, parking the current fiber until Notify supplies one
// if none is available. The current thread must have a scheduler.
func (s *Semaphore) Wait() {
	cur := Current()
	if cur.sched == nil {
		panic("fiber: Semaphore.Wait without a scheduler")
	}

	s.mu.Lock()
	if s.permits > 0 {
		s.permits--
		s.mu.Unlock()
		return
	}

	s.waiters = append(s.waiters, waiter{cur.sched, cur})
	s.mu.Unlock()

	Park()
}

// Notify supplies a permit: the head waiter is woken if there is one,
// otherwise the permit count grows.
func (s *Semaphore) Notify() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.waiters) != 0 {
		next := s.waiters[0]
		s.waiters = s.waiters[1:]
		next.s.Schedule(next.f)
		return
	}

	s.permits++
}
