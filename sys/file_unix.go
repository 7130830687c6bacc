//go:build unix

package sys

import (
	"os"
)

// unixFile implements File for Unix-like systems using the os package directly.
type unixFile struct{}

// NewFile returns the platform File implementation.
func NewFile() File {
	return &unixFile{}
}

// OpenFile simply calls os.OpenFile; unix allows removing files that are still mapped.
func (ufo *unixFile) OpenFile(name string, flag int, perm os.FileMode) (*os.File, error) {
	return os.OpenFile(name, flag, perm)
}

func (ufo *unixFile) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

func (ufo *unixFile) Remove(name string) error {
	err := os.Remove(name)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
