package chronicle

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/INLOpen/chronicle/sys"
)

// WritersDir is the directory under the chronicle path that holds writer id
// lock files.
const WritersDir = ".writers"

// ErrNoWriterID is returned when every writer id is claimed.
var ErrNoWriterID = errors.New("chronicle: no free writer id")

// WriterIdentity supplies the writer id stamped into index entries. Two live
// appenders must never share an id.
type WriterIdentity interface {
	WriterID() (int32, error)
	Release() error
}

// FixedIdentity is a caller-assigned writer id.
type FixedIdentity int32

func (f FixedIdentity) WriterID() (int32, error) { return int32(f), nil }
func (FixedIdentity) Release() error             { return nil }

// ThreadIdentity uses the kernel id of the calling thread. The goroutine must
// stay on its thread (runtime.LockOSThread) and the configured writer id bits
// must cover the system's thread ids.
type ThreadIdentity struct{}

func (ThreadIdentity) WriterID() (int32, error) { return int32(sys.ThreadID()), nil }
func (ThreadIdentity) Release() error           { return nil }

// ClaimedIdentity claims the lowest free writer id by taking an exclusive flock
// on <path>/.writers/<id>.lock. The claim is made on first use and held until
// Release or process exit, so ids are unique across processes sharing the
// directory.
type ClaimedIdentity struct {
	dir    string
	max    int64
	logger *slog.Logger

	mu   sync.Mutex
	lock *sys.FileLock
	id   int32
}

// NewClaimedIdentity prepares a claim over ids [0, settings.WriterIDMask()].
func NewClaimedIdentity(settings Settings, logger *slog.Logger) *ClaimedIdentity {
	if logger == nil {
		logger = slog.Default()
	}
	return &ClaimedIdentity{
		dir:    filepath.Join(settings.Path, WritersDir),
		max:    settings.WriterIDMask(),
		logger: logger.With("component", "ClaimedIdentity"),
		id:     -1,
	}
}

func (c *ClaimedIdentity) WriterID() (int32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lock != nil {
		return c.id, nil
	}
	if err := sys.MkdirAll(c.dir, 0755); err != nil {
		return -1, fmt.Errorf("failed to create writers directory %s: %w", c.dir, err)
	}
	for id := int64(0); id <= c.max; id++ {
		l, err := sys.TryLockFile(filepath.Join(c.dir, strconv.FormatInt(id, 10)+".lock"))
		if errors.Is(err, sys.ErrLocked) {
			continue
		}
		if err != nil {
			return -1, err
		}
		c.lock, c.id = l, int32(id)
		c.logger.Debug("Writer id claimed.", "writer", id)
		return c.id, nil
	}
	return -1, ErrNoWriterID
}

func (c *ClaimedIdentity) Release() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lock == nil {
		return nil
	}
	err := c.lock.Unlock()
	c.logger.Debug("Writer id released.", "writer", c.id)
	c.lock, c.id = nil, -1
	return err
}

// AppenderOption configures NewAppender.
type AppenderOption func(*appenderOptions)

type appenderOptions struct {
	identity WriterIdentity
}

// WithIdentity sets the writer identity. The appender releases it on Close.
func WithIdentity(id WriterIdentity) AppenderOption {
	return func(o *appenderOptions) { o.identity = id }
}

// WithWriterID is shorthand for WithIdentity(FixedIdentity(id)).
func WithWriterID(id int32) AppenderOption {
	return WithIdentity(FixedIdentity(id))
}
