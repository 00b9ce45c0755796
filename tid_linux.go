// Copyright 2015 Google Inc. All Rights Reserved.
// Author: jacobsa@google.com (Aaron Jacobs)

package fiber

import "golang.org/x/sys/unix"

// The kernel's ID for the calling thread, for log messages. Meaningful only
// while the calling goroutine is locked to its OS thread.
func gettid() int {
	return unix.Gettid()
}
