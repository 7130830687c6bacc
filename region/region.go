// Package region maps fixed-size files into memory and exposes the ordered
// primitives writers and readers use to coordinate through them: fenced 32 and
// 64-bit loads and stores, a 64-bit compare-and-swap and a bounded cursor.
//
// All multi-byte atomics use native byte order through unsafe pointer casts; the
// files are therefore only portable between hosts of the same endianness.
package region

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"unsafe"

	"github.com/INLOpen/chronicle/sys"
)

// ErrReleased is returned when an operation needs a mapping that has already
// been dropped.
var ErrReleased = errors.New("region: released")

// Options configures Open.
type Options struct {
	Preallocate bool
	Logger      *slog.Logger
	// OnMap and OnUnmap observe mapping lifetime, for metrics.
	OnMap   func(r *Region)
	OnUnmap func(r *Region)
}

type Option func(*Options)

func WithPreallocate(on bool) Option { return func(o *Options) { o.Preallocate = on } }

func WithLogger(l *slog.Logger) Option { return func(o *Options) { o.Logger = l } }

func WithHooks(onMap, onUnmap func(r *Region)) Option {
	return func(o *Options) {
		o.OnMap = onMap
		o.OnUnmap = onUnmap
	}
}

// Region is one memory-mapped file. A Region starts with a single reference
// owned by whoever opened it; Retain adds references and the mapping is dropped
// when Release brings the count to zero. The file itself is never removed.
type Region struct {
	path     string
	size     int64
	index    int32
	data     []byte
	position atomic.Int64
	refs     atomic.Int32
	logger   *slog.Logger
	onUnmap  func(r *Region)
}

// Open creates path if it does not exist, grows it to at least size bytes and
// maps it read-write. Parent directories must already exist.
func Open(path string, size int64, index int32, opts ...Option) (*Region, error) {
	o := Options{}
	for _, opt := range opts {
		opt(&o)
	}
	if size <= 0 {
		return nil, fmt.Errorf("region %s: invalid size %d", path, size)
	}
	logger := o.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "Region")

	f, err := sys.EnsureFile(path, size, o.Preallocate)
	if err != nil {
		return nil, fmt.Errorf("region %s: %w", path, err)
	}
	data, err := sys.Map(f, size)
	closeErr := f.Close()
	if err != nil {
		return nil, fmt.Errorf("region %s: %w", path, err)
	}
	if closeErr != nil {
		_ = sys.Unmap(data)
		return nil, fmt.Errorf("region %s: close after map: %w", path, closeErr)
	}

	r := &Region{
		path:    path,
		size:    size,
		index:   index,
		data:    data,
		logger:  logger,
		onUnmap: o.OnUnmap,
	}
	r.refs.Store(1)
	logger.Debug("Region mapped", "path", path, "size", size, "index", index)
	if o.OnMap != nil {
		o.OnMap(r)
	}
	return r, nil
}

func (r *Region) Path() string { return r.path }
func (r *Region) Size() int64  { return r.size }
func (r *Region) Index() int32 { return r.index }

// Bytes returns the whole mapped extent. Plain reads and writes through it are
// unordered; publication must go through the fenced accessors.
func (r *Region) Bytes() []byte { return r.data }

func (r *Region) ptr32(off int64) *int32 {
	if off&3 != 0 {
		panic(fmt.Sprintf("region %s: unaligned 32-bit access at %d", r.path, off))
	}
	return (*int32)(unsafe.Pointer(&r.data[off]))
}

func (r *Region) ptr64(off int64) *int64 {
	if off&7 != 0 {
		panic(fmt.Sprintf("region %s: unaligned 64-bit access at %d", r.path, off))
	}
	return (*int64)(unsafe.Pointer(&r.data[off]))
}

// ReadFenced32 is an acquire load of the int32 at off.
func (r *Region) ReadFenced32(off int64) int32 { return atomic.LoadInt32(r.ptr32(off)) }

// ReadFenced64 is an acquire load of the int64 at off.
func (r *Region) ReadFenced64(off int64) int64 { return atomic.LoadInt64(r.ptr64(off)) }

// WriteFenced32 is a release store; every plain write made before it is visible
// to a reader whose ReadFenced32 of off observes v.
func (r *Region) WriteFenced32(off int64, v int32) { atomic.StoreInt32(r.ptr32(off), v) }

func (r *Region) CompareAndSwap64(off int64, old, new int64) bool {
	return atomic.CompareAndSwapInt64(r.ptr64(off), old, new)
}

func (r *Region) Position() int64 { return r.position.Load() }

// TrySetPosition moves the cursor to p if 0 <= p <= Size.
func (r *Region) TrySetPosition(p int64) bool {
	if p < 0 || p > r.size {
		return false
	}
	r.position.Store(p)
	return true
}

// AdvancePosition moves the cursor forward to p. A cursor already at or past p
// is left alone, so concurrent advances never move it backwards.
func (r *Region) AdvancePosition(p int64) bool {
	if p < 0 || p > r.size {
		return false
	}
	for {
		cur := r.position.Load()
		if cur >= p || r.position.CompareAndSwap(cur, p) {
			return true
		}
	}
}

// AlignPosition rounds the cursor up to a multiple of n, which must be a power
// of two. The result is capped at Size.
func (r *Region) AlignPosition(n int64) {
	for {
		cur := r.position.Load()
		next := (cur + n - 1) &^ (n - 1)
		if next > r.size {
			next = r.size
		}
		if next == cur || r.position.CompareAndSwap(cur, next) {
			return
		}
	}
}

func (r *Region) Remaining() int64 { return r.size - r.position.Load() }

// Retain adds a reference.
func (r *Region) Retain() *Region {
	r.refs.Add(1)
	return r
}

// Release drops a reference and unmaps the file once none remain.
func (r *Region) Release() error {
	n := r.refs.Add(-1)
	if n > 0 {
		return nil
	}
	if n < 0 {
		return ErrReleased
	}
	data := r.data
	r.data = nil
	r.logger.Debug("Region unmapped", "path", r.path)
	if r.onUnmap != nil {
		r.onUnmap(r)
	}
	if err := sys.Unmap(data); err != nil {
		return fmt.Errorf("region %s: unmap: %w", r.path, err)
	}
	return nil
}

// Sync flushes the mapping to disk.
func (r *Region) Sync() error {
	if r.refs.Load() <= 0 {
		return ErrReleased
	}
	return sys.Msync(r.data)
}

func (r *Region) String() string {
	return fmt.Sprintf("%s[%d] size=%d position=%d", r.path, r.index, r.size, r.Position())
}
