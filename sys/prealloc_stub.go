//go:build !linux

package sys

// Preallocate is unavailable off Linux; files are still sized with Truncate.
func Preallocate(f FileHandle, size int64) error {
	return ErrPreallocNotSupported
}
