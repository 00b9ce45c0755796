// Copyright 2015 Google Inc. All Rights Reserved.
// Author: jacobsa@google.com (Aaron Jacobs)

package fiber

import (
	"time"

	"github.com/jacobsa/timeutil"
)

// Sleep suspends the current fiber for at least d. With a scheduler on the
// current thread the fiber parks and is rescheduled by a timer, leaving the
// worker free; without one the thread simply sleeps.
func Sleep(d time.Duration) {
	if d <= 0 {
		return
	}

	s := CurrentScheduler()
	if s == nil {
		time.Sleep(d)
		return
	}

	cur := Current()
	time.AfterFunc(d, func() { s.Schedule(cur) })
	Park()
}

// SleepUntil suspends the current fiber until clock reads t, as Sleep does.
// Returns immediately if t is not in clock's future.
func SleepUntil(clock timeutil.Clock, t time.Time) {
	Sleep(t.Sub(clock.Now()))
}
