//go:build unix

package sys

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Map maps size bytes of f shared and read-write. The mapping stays valid after
// f is closed.
func Map(f FileHandle, size int64) ([]byte, error) {
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap %s (%d bytes): %w", f.Name(), size, err)
	}
	// Best effort: the kernel may ignore the hint.
	_ = unix.Madvise(data, unix.MADV_WILLNEED)
	return data, nil
}

// Unmap releases a mapping returned by Map.
func Unmap(data []byte) error {
	if data == nil {
		return nil
	}
	return unix.Munmap(data)
}

// Msync flushes dirty pages of the mapping to its file.
func Msync(data []byte) error {
	return unix.Msync(data, unix.MS_SYNC)
}
