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

// A Coroutine is a generator-style wrapper around a Fiber: the driver feeds
// it arguments of type A via Call and receives results of type R, and the
// coroutine body hands results back (and receives the next argument) via
// Yield.
//
// Use struct{} for R or A when a direction carries no data.
type Coroutine[R, A any] struct {
	f  *Fiber
	fn func(*Coroutine[R, A], A)

	arg    A
	result R
}

// NewCoroutine creates a coroutine running fn. fn receives the coroutine
// itself, for yielding, and the argument passed to the first Call.
func NewCoroutine[R, A any](fn func(*Coroutine[R, A], A)) (c *Coroutine[R, A]) {
	c = &Coroutine[R, A]{fn: fn}
	c.f = New(c.run)
	return
}

// Call resumes the coroutine with the given argument and returns the next
// result it yields. When the body returns instead of yielding, Call returns
// the zero value of R and State reports StateTerm.
func (c *Coroutine[R, A]) Call(arg A) R {
	c.arg = arg
	c.f.Call()
	return c.result
}

// Yield hands result to the driver and suspends until the next Call, whose
// argument it returns. Must be invoked from within the coroutine body.
func (c *Coroutine[R, A]) Yield(result R) A {
	c.result = result
	Yield()
	return c.arg
}

// State returns the state of the underlying fiber.
func (c *Coroutine[R, A]) State() State {
	return c.f.State()
}

// Reset aborts the coroutine if it is suspended mid-body, letting its stack
// unwind, and returns it to StateInit. If fn is non-nil it replaces the
// body for subsequent calls.
func (c *Coroutine[R, A]) Reset(fn func(*Coroutine[R, A], A)) {
	if c.f.State() == StateHold {
		c.f.Shutdown()
	}
	c.f.Reset(nil)

	if fn != nil {
		c.fn = fn
	}
}

func (c *Coroutine[R, A]) run() {
	defer func() {
		if r := recover(); r != nil && !isAborted(r) {
			panic(r)
		}
	}()

	c.fn(c, c.arg)

	var zero R
	c.result = zero
}
