// Copyright 2015 Google Inc. All Rights Reserved.
// Author: jacobsa@google.com (Aaron Jacobs)

package fiber

import "sync/atomic"

// A ThreadID identifies one worker thread of a Scheduler, including the
// hijacked root thread of a scheduler constructed with useCaller. IDs are
// process-unique and never reused.
//
// Tasks scheduled with a specific ThreadID run only on that worker.
type ThreadID uint64

// AnyThread is the zero ThreadID, accepted anywhere a ThreadID is optional:
// the task may run on any worker of the scheduler.
const AnyThread ThreadID = 0

// CurrentThread returns the ID of the scheduler thread the calling fiber is
// running on, or AnyThread if the thread belongs to no scheduler.
func CurrentThread() ThreadID {
	return Current().tid
}

var gLastThreadID uint64

func nextThreadID() ThreadID {
	return ThreadID(atomic.AddUint64(&gLastThreadID, 1))
}
