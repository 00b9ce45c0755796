// Copyright 2015 Google Inc. All Rights Reserved.
// Author: jacobsa@google.com (Aaron Jacobs)

//go:build !linux
// +build !linux

package fiber

// The kernel's ID for the calling thread, for log messages. Not available
// on this platform.
func gettid() int {
	return 0
}
