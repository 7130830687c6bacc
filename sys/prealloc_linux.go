//go:build linux

package sys

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sys/unix"
)

// local filesystems where fallocate is known to behave
var preallocFilesystems = map[int64]bool{
	0xEF53:     true, // ext2/3/4
	0x58465342: true, // xfs
	0x9123683E: true, // btrfs
	0x01021994: true, // tmpfs
	0x794C7630: true, // overlayfs
	0xF2F52010: true, // f2fs
	0x2FC12FC1: true, // zfs
}

func unsupported(err error) bool {
	return errors.Is(err, unix.ENOSYS) || errors.Is(err, unix.EINVAL) ||
		errors.Is(err, unix.EOPNOTSUPP) || errors.Is(err, unix.ENOTTY)
}

// Preallocate reserves size bytes of disk blocks for f without changing its
// visible size. Decisions are cached per device so the fstatfs probe runs once
// per mount.
func Preallocate(f FileHandle, size int64) error {
	if size <= 0 {
		return nil
	}
	// WSL mounts of Windows drives reject fallocate.
	if strings.HasPrefix(f.Name(), "/mnt/") {
		return ErrPreallocNotSupported
	}
	fd := int(f.Fd())

	var stat unix.Stat_t
	var dev uint64
	if err := unix.Fstat(fd, &stat); err == nil {
		dev = uint64(stat.Dev)
		if allow, ok := preallocCacheLoad(dev); ok {
			preallocCacheHit()
			if !allow {
				return ErrPreallocNotSupported
			}
			return fallocate(fd, size, 0)
		}
		preallocCacheMiss()
	}

	var st unix.Statfs_t
	if err := unix.Fstatfs(fd, &st); err != nil || !preallocFilesystems[int64(st.Type)] {
		if dev != 0 {
			preallocCacheStore(dev, false)
		}
		return ErrPreallocNotSupported
	}

	err := fallocate(fd, size, dev)
	if dev != 0 && err == nil {
		preallocCacheStore(dev, true)
	}
	return err
}

func fallocate(fd int, size int64, dev uint64) error {
	err := unix.Fallocate(fd, unix.FALLOC_FL_KEEP_SIZE, 0, size)
	if err == nil {
		return nil
	}
	if unsupported(err) {
		if dev != 0 {
			preallocCacheStore(dev, false)
		}
		return ErrPreallocNotSupported
	}
	return fmt.Errorf("preallocation failed for fd=%d: %w", fd, err)
}
