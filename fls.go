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

// One fiber-local storage slot. The generation stamp distinguishes values
// written through a current Local from stale values left behind by a freed
// key occupying the same index.
type flsSlot struct {
	gen   uint64
	value interface{}
}

// The process-wide key registry.
var gFLS struct {
	mu sync.Mutex

	// Generation counter per key index, bumped on every allocation and
	// release of the index.
	//
	// INVARIANT: All elements of free are < len(gens)
	gens []uint64 // GUARDED_BY(mu)
	free []int    // GUARDED_BY(mu)
}

// A Local is a key into fiber-local storage: a value of type T per fiber,
// read and written for the currently executing fiber only. A fiber that has
// never set the value observes the zero value of T.
//
// Keys are allocated from a process-wide registry and may be freed; a
// freshly allocated key reads the zero value in every fiber, even if it
// reuses the index of a freed key.
type Local[T any] struct {
	key int
	gen uint64
}

// NewLocal allocates a fiber-local storage key.
func NewLocal[T any]() *Local[T] {
	gFLS.mu.Lock()
	defer gFLS.mu.Unlock()

	var k int
	if n := len(gFLS.free); n > 0 {
		k = gFLS.free[n-1]
		gFLS.free = gFLS.free[:n-1]
	} else {
		k = len(gFLS.gens)
		gFLS.gens = append(gFLS.gens, 0)
	}

	gFLS.gens[k]++
	return &Local[T]{key: k, gen: gFLS.gens[k]}
}

// Free returns the key to the registry for reuse. Get and Set on a freed
// Local read and write nothing useful; don't do that.
func (l *Local[T]) Free() {
	gFLS.mu.Lock()
	defer gFLS.mu.Unlock()

	gFLS.gens[l.key]++
	gFLS.free = append(gFLS.free, l.key)
}

// Get returns the current fiber's value for the key, or the zero value of T
// if the fiber has never set one.
func (l *Local[T]) Get() (t T) {
	f := Current()
	if l.key < len(f.fls) {
		if s := f.fls[l.key]; s.gen == l.gen && s.value != nil {
			t = s.value.(T)
		}
	}

	return
}

// Set records the current fiber's value for the key, extending the fiber's
// slot vector as needed.
func (l *Local[T]) Set(t T) {
	f := Current()
	for len(f.fls) <= l.key {
		f.fls = append(f.fls, flsSlot{})
	}

	f.fls[l.key] = flsSlot{gen: l.gen, value: t}
}
