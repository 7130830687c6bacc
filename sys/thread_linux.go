//go:build linux

package sys

import "golang.org/x/sys/unix"

// ThreadID returns the kernel id of the calling OS thread. It is only stable for
// a goroutine that has called runtime.LockOSThread.
func ThreadID() int {
	return unix.Gettid()
}
