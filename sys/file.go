package sys

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"
)

// fileWrapper is a stable concrete type used to store the File interface
// inside an atomic.Value. atomic.Value requires that all stored values
// have the same concrete type.
type fileWrapper struct {
	f File
}

var defaultFile atomic.Value // stores fileWrapper
var debugMode atomic.Bool

// File abstracts the handful of filesystem calls the store makes so tests can
// observe or replace them.
type File interface {
	OpenFile(name string, flag int, perm os.FileMode) (*os.File, error)
	MkdirAll(path string, perm os.FileMode) error
	Remove(name string) error
}

// FileHandle is an open file backing a mapped region or a lock.
type FileHandle interface {
	io.ReadWriteCloser
	io.ReaderAt
	io.WriterAt

	Stat() (os.FileInfo, error)
	Sync() error
	Truncate(size int64) error
	Name() string
	Fd() uintptr
}

type OpenFileHandler func(name string, flag int, perm os.FileMode) (FileHandle, error)
type MkdirAllHandler func(path string, perm os.FileMode) error

func init() {
	debugMode.Store(false)
	defaultFile.Store(fileWrapper{f: NewFile()})
}

func SetDebugMode(mode bool) {
	debugMode.Store(mode)
}

func loadFile() (File, error) {
	p := defaultFile.Load()
	if p == nil {
		return nil, os.ErrInvalid
	}
	fw, ok := p.(fileWrapper)
	if !ok || fw.f == nil {
		return nil, os.ErrInvalid
	}
	return fw.f, nil
}

var OpenFile OpenFileHandler = (func(name string, flag int, perm os.FileMode) (FileHandle, error) {
	file, err := loadFile()
	if err != nil {
		return nil, err
	}
	if debugMode.Load() {
		return DOpenFile(file, name, flag, perm)
	}
	return ROpenFile(file, name, flag, perm)
})

var MkdirAll MkdirAllHandler = (func(path string, perm os.FileMode) error {
	file, err := loadFile()
	if err != nil {
		return err
	}
	return file.MkdirAll(path, perm)
})

// EnsureFile opens name read-write, creating it when absent, and grows it to at
// least size bytes. Existing content is never truncated. When preallocate is set
// the blocks are reserved up front so later stores through a mapping cannot fault
// on a full disk; filesystems without support are tolerated.
func EnsureFile(name string, size int64, preallocate bool) (FileHandle, error) {
	f, err := OpenFile(name, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", name, err)
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat %s: %w", name, err)
	}
	if stat.Size() < size {
		if err := f.Truncate(size); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to resize %s to %d bytes: %w", name, size, err)
		}
	}
	if preallocate {
		switch err := Preallocate(f, size); {
		case err == nil:
			preallocSuccessInc()
		case errors.Is(err, ErrPreallocNotSupported):
			preallocUnsupportedInc()
		default:
			preallocFailureInc()
			f.Close()
			return nil, err
		}
	}
	return f, nil
}
