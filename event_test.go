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

package fiber_test

import (
	"github.com/jacobsa/fiber"
	"github.com/jacobsa/fiber/fibertesting"
	. "github.com/jacobsa/ogletest"
)

////////////////////////////////////////////////////////////////////////
// Boilerplate
////////////////////////////////////////////////////////////////////////

type EventTest struct {
}

func init() { RegisterTestSuite(&EventTest{}) }

////////////////////////////////////////////////////////////////////////
// Test functions
////////////////////////////////////////////////////////////////////////

func (t *EventTest) AutoReset() {
	pool := fiber.NewWorkerPool(1, true, 1)
	defer pool.Stop()

	event := fiber.NewEvent(true)
	var seq fibertesting.Sequence

	pool.ScheduleFunc(func() {
		ExpectEq(2, seq.Next())
		event.Set()
	})

	ExpectEq(1, seq.Next())
	event.Wait()
	ExpectEq(3, seq.Next())

	// Each Set admits exactly one Wait.
	event.Set()
	event.Wait()
	ExpectEq(4, seq.Next())
}

func (t *EventTest) ManualReset() {
	pool := fiber.NewWorkerPool(1, true, 1)
	defer pool.Stop()

	event := fiber.NewEvent(false)
	var seq fibertesting.Sequence

	pool.ScheduleFunc(func() {
		ExpectEq(2, seq.Next())
		event.Set()
	})

	ExpectEq(1, seq.Next())
	event.Wait()
	ExpectEq(3, seq.Next())

	// It's manual reset; you can wait as many times as you want until it's
	// reset.
	event.Wait()
	event.Wait()

	event.Reset()
	pool.ScheduleFunc(func() { event.Set() })
	event.Wait()
}

func (t *EventTest) ManualResetMultipleWaiters() {
	pool := fiber.NewWorkerPool(1, true, 1)
	defer pool.Stop()

	event := fiber.NewEvent(false)
	var seq fibertesting.Sequence

	waitOnMe := func(expected int) func() {
		return func() {
			ExpectEq(expected+1, seq.Next())
			event.Wait()
			ExpectEq(expected+5, seq.Next())
		}
	}

	pool.ScheduleFunc(waitOnMe(1))
	pool.ScheduleFunc(waitOnMe(2))
	pool.ScheduleFunc(waitOnMe(3))

	ExpectEq(1, seq.Next())
	pool.Dispatch()
	ExpectEq(5, seq.Next())

	event.Set()
	pool.Dispatch()
	ExpectEq(9, seq.Next())

	event.Wait()
	event.Wait()
}

func (t *EventTest) AutoResetReleasesOnePerSet() {
	pool := fiber.NewWorkerPool(1, true, 1)
	defer pool.Stop()

	event := fiber.NewEvent(true)
	var r fibertesting.Recorder

	waiter := func(name string) func() {
		return func() {
			event.Wait()
			r.Record(name)
		}
	}

	pool.ScheduleFunc(waiter("a"))
	pool.ScheduleFunc(waiter("b"))
	pool.Dispatch()

	event.Set()
	pool.Dispatch()
	ExpectEq("", r.Diff([]string{"a"}))

	event.Set()
	pool.Dispatch()
	ExpectEq("", r.Diff([]string{"a", "b"}))
}
