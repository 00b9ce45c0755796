// Copyright 2015 Google Inc. All Rights Reserved.
// Author: jacobsa@google.com (Aaron Jacobs)

package fiber

import "errors"

// ErrAborted is delivered to a fiber to cancel whatever it is doing. It is
// injected by Shutdown, by schedulers winding down excess workers, and by
// Coroutine.Reset, and may be injected by timer services to implement
// timeouts. On the fiber's next resume it is thrown (as a panic) from the
// suspension point, so deferred cleanup along the fiber's stack runs.
//
// Fibers that want to survive cancellation should recover it at a meaningful
// boundary; use errors.Is to identify wrapped values.
var ErrAborted = errors.New("fiber: operation aborted")

// Does r, a recovered panic value, represent cancellation?
func isAborted(r interface{}) bool {
	err, ok := r.(error)
	return ok && errors.Is(err, ErrAborted)
}
