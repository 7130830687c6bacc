//go:build unix

package sys

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// ErrLocked is returned by TryLockFile when another holder owns the lock.
var ErrLocked = errors.New("file is locked by another holder")

// FileLock is an advisory exclusive flock held on a file.
type FileLock struct {
	f    *os.File
	path string
}

// TryLockFile creates path if needed and takes a non-blocking exclusive flock on
// it. The lock is released by Unlock or when the process exits.
func TryLockFile(path string) (*FileLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, ErrLocked
		}
		return nil, err
	}
	return &FileLock{f: f, path: path}, nil
}

// Path returns the lock file path.
func (l *FileLock) Path() string { return l.path }

// Unlock releases the lock. The lock file is left in place so that a concurrent
// TryLockFile never locks an unlinked inode.
func (l *FileLock) Unlock() error {
	if l == nil || l.f == nil {
		return nil
	}
	_ = unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	err := l.f.Close()
	l.f = nil
	return err
}
