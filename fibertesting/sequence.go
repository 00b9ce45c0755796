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

// Package fibertesting provides small helpers for tests that assert strict
// orderings of events across fibers and threads.
package fibertesting

import (
	"sync"

	"github.com/kylelemons/godebug/pretty"
)

// A Sequence is a strictly increasing counter shared by the fibers of a
// test. Each interesting point in the test calls Next and asserts on the
// value it gets, pinning down the exact global order of execution.
//
// Safe for use from multiple threads.
type Sequence struct {
	mu   sync.Mutex
	next int // GUARDED_BY(mu)
}

// Next increments the counter and returns the new value. The first call
// returns 1.
func (s *Sequence) Next() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.next++
	return s.next
}

// Value returns the current counter value without incrementing.
func (s *Sequence) Value() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.next
}

// A Recorder accumulates named events in the order they happen, for
// comparison against an expected trace.
//
// Safe for use from multiple threads.
type Recorder struct {
	mu     sync.Mutex
	events []string // GUARDED_BY(mu)
}

// Record appends an event.
func (r *Recorder) Record(event string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, event)
}

// Events returns a copy of the events recorded so far.
func (r *Recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]string(nil), r.events...)
}

// Diff returns a human-readable diff between the expected trace and the
// recorded one, or the empty string if they match.
func (r *Recorder) Diff(expected []string) string {
	return pretty.Compare(expected, r.Events())
}
