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

import "sync"

// A WorkerPool is a generic Scheduler that does nothing when there is no
// work to be done: its idle fiber sleeps on a native semaphore until
// tickled. The pool is started on construction.
type WorkerPool struct {
	*Scheduler

	sem nativeSemaphore
}

// NewWorkerPool creates and starts a worker pool. See NewScheduler for the
// meaning of the parameters.
func NewWorkerPool(threads int, useCaller bool, batchSize int) (p *WorkerPool) {
	p = &WorkerPool{}
	p.Scheduler = NewScheduler(p, threads, useCaller, batchSize)
	p.Start()
	return
}

// Idle loops waiting on the pool's semaphore, yielding whenever it is
// signalled, and returns once the pool is stopping or the idle fiber is
// aborted.
func (p *WorkerPool) Idle() {
	defer func() {
		if r := recover(); r != nil && !isAborted(r) {
			panic(r)
		}
	}()

	for {
		if p.Stopping() {
			return
		}
		p.sem.wait()
		Yield()
	}
}

// Tickle signals the semaphore so that a sleeping Idle yields.
func (p *WorkerPool) Tickle() {
	getLogger().Printf("WorkerPool %p: tickling", p)
	p.sem.notify()
}

// A counting semaphore over native thread blocking, for idle fibers to
// sleep on. Unlike the fiber-level Semaphore it suspends the whole worker
// thread, which is the point: an idle worker has nothing else to run.
// Signals may arrive before anyone waits; the count accumulates.
type nativeSemaphore struct {
	mu    sync.Mutex
	cond  *sync.Cond
	count int // GUARDED_BY(mu)
}

func (s *nativeSemaphore) wait() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cond == nil {
		s.cond = sync.NewCond(&s.mu)
	}
	for s.count == 0 {
		s.cond.Wait()
	}
	s.count--
}

func (s *nativeSemaphore) notify() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.count++
	if s.cond != nil {
		s.cond.Signal()
	}
}
