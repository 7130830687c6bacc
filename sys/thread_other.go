//go:build !linux

package sys

import "os"

// ThreadID falls back to the process id where no thread id syscall is exposed.
func ThreadID() int {
	return os.Getpid()
}
