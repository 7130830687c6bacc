package chronicle

import (
	"context"
	"errors"
	"fmt"

	"github.com/INLOpen/chronicle/core"
	"github.com/INLOpen/chronicle/region"
)

// maxExcerptSize bounds a payload so that its complemented length never has
// either of the two top bits set.
const maxExcerptSize = 1 << 30

// ErrDataExhausted is returned when a writer's next data file number no longer
// fits in the data offset bits of an index entry.
var ErrDataExhausted = errors.New("chronicle: data file numbers exhausted")

// session is what an Appender holds between excerpts: the coordinates it last
// wrote at and the regions it keeps mapped for them.
type session struct {
	valid     bool
	cycle     int64
	writer    int32
	indexFile int32
	dataFile  int32
	index     *region.Region
	data      *region.Region
}

// transition lists the handles a session must drop before writing at new
// coordinates.
type transition struct {
	dropIndex bool
	dropData  bool
	newCycle  bool
}

func (s *session) plan(cycle int64, writer int32) transition {
	switch {
	case !s.valid || cycle != s.cycle:
		return transition{dropIndex: true, dropData: true, newCycle: true}
	case writer != s.writer:
		return transition{dropData: true}
	}
	return transition{}
}

// Appender writes excerpts. It is not safe for concurrent use; give each
// goroutine its own.
type Appender struct {
	c        *Chronicle
	identity WriterIdentity
	session  session
	buf      Buffer

	open        bool
	closed      bool
	index       int64
	lastWritten int64
}

// NewAppender creates an appender. Without options the writer id is claimed
// from the chronicle directory on the first StartExcerpt.
func (c *Chronicle) NewAppender(opts ...AppenderOption) (*Appender, error) {
	o := appenderOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.identity == nil {
		o.identity = NewClaimedIdentity(c.settings, c.logger)
	}
	return &Appender{
		c:           c,
		identity:    o.identity,
		index:       -1,
		lastWritten: -1,
	}, nil
}

// StartExcerpt reserves room for a payload of up to capacity bytes in the
// current cycle and resets Buffer over it.
func (a *Appender) StartExcerpt(capacity int) error {
	return a.StartExcerptInCycle(capacity, a.c.cycleForNow())
}

// StartExcerptInCycle is StartExcerpt for an explicit cycle.
func (a *Appender) StartExcerptInCycle(capacity int, cycle int64) error {
	const op = "StartExcerpt"
	if a.closed {
		return core.NewContractError(op, "appender is closed")
	}
	// An excerpt left open is abandoned, even when this start fails.
	a.open = false
	block := a.c.settings.DataBlockSize
	if capacity < 0 || int64(capacity) > block-core.LengthPrefixSize || capacity >= maxExcerptSize {
		return core.NewContractError(op, "capacity %d does not fit a data block of %d bytes", capacity, block)
	}
	writer, err := a.identity.WriterID()
	if err != nil {
		return fmt.Errorf("failed to get writer id: %w", err)
	}
	if writer < 0 || int64(writer) > a.c.layout.writerMask {
		return core.NewContractError(op, "writer id %d does not fit in %d bits", writer, a.c.settings.WriterIDBits)
	}

	s := &a.session
	t := s.plan(cycle, writer)
	if t.dropIndex {
		a.releaseIndex()
	}
	if t.dropData {
		a.releaseData()
	}
	if t.newCycle {
		s.cycle = cycle
		s.indexFile = a.c.index.LastIndexFileNumber(cycle, 0)
	}
	s.writer = writer
	s.valid = true

	ctx := context.Background()
	if s.data == nil {
		s.dataFile = a.c.data.NextDataFileNumber(cycle, writer)
		if s.data, err = a.openData(ctx, s.dataFile); err != nil {
			return err
		}
	}
	// A payload must start strictly inside its file, or its global offset would
	// name the next file.
	if rem := s.data.Remaining(); rem < int64(capacity)+core.LengthPrefixSize || rem <= core.LengthPrefixSize {
		a.releaseData()
		next := s.dataFile + 1
		r, err := a.openData(ctx, next)
		if err != nil {
			return err
		}
		s.data, s.dataFile = r, next
		a.c.metrics.DataFileRotations.Add(1)
		a.c.logger.Debug("Data file rotated.", "cycle", cycle, "writer", writer, "file", next)
	}

	start := s.data.Position() + core.LengthPrefixSize
	end := start + int64(capacity)
	a.buf.reset(s.data.Bytes()[start:end:end])
	a.open = true
	return nil
}

func (a *Appender) openData(ctx context.Context, file int32) (*region.Region, error) {
	l := a.c.layout
	if (int64(file)+1)<<l.dataBlockBits-1 > l.offsetMask {
		return nil, fmt.Errorf("writer %d data file %d: %w", a.session.writer, file, ErrDataExhausted)
	}
	return a.c.data.RegionFor(ctx, a.session.cycle, a.session.writer, file, true)
}

// Buffer is the payload of the open excerpt. Writing past the capacity given to
// StartExcerpt panics.
func (a *Appender) Buffer() *Buffer { return &a.buf }

// Finish publishes the open excerpt: it stores the payload length, then claims
// the next index slot of the cycle. On error the excerpt stays open.
func (a *Appender) Finish() error {
	if !a.open {
		return core.NewContractError("Finish", "not started")
	}
	s := &a.session
	if s.data == nil {
		a.open = false
		return nil
	}
	used := int64(a.buf.Position())
	dataPos := s.data.Position()
	s.data.WriteFenced32(dataPos, ^int32(used))

	offset := int64(s.data.Index())*a.c.settings.DataBlockSize + dataPos + core.LengthPrefixSize
	value := a.c.layout.entryValue(s.writer, offset)

	pos := int64(-1)
	if s.index != nil {
		var retries int64
		pos, retries = appendValue(s.index, value)
		a.c.metrics.IndexCASRetries.Add(retries)
	}
	if pos < 0 {
		if s.index != nil {
			a.c.metrics.IndexFileRollovers.Add(1)
			s.indexFile = s.index.Index() + 1
			a.releaseIndex()
		}
		r, p, err := a.c.index.Append(context.Background(), s.cycle, value, s.indexFile)
		if err != nil {
			return err
		}
		s.index, s.indexFile, pos = r, r.Index(), p
	}

	idx := a.c.layout.logicalIndex(s.cycle, s.indexFile, pos)
	a.lastWritten = idx
	a.c.publish(idx)
	a.index = idx + 1

	s.data.TrySetPosition(dataPos + core.LengthPrefixSize + used)
	s.data.AlignPosition(core.LengthPrefixSize)
	a.open = false

	a.c.metrics.ExcerptsAppended.Add(1)
	a.c.metrics.BytesAppended.Add(used)
	return nil
}

// Index is one past the index of the last excerpt finished by this appender, or
// -1 before the first.
func (a *Appender) Index() int64 { return a.index }

// LastWrittenIndex is the index of the last excerpt finished by this appender,
// or -1.
func (a *Appender) LastWrittenIndex() int64 { return a.lastWritten }

// WriterID reports the id of the current session, or -1 before the first
// excerpt.
func (a *Appender) WriterID() int32 {
	if !a.session.valid {
		return -1
	}
	return a.session.writer
}

// Sync flushes the regions the appender currently holds to disk. Published
// excerpts are visible to other processes without it; it only matters for
// crash durability.
func (a *Appender) Sync() error {
	var errs []error
	if a.session.data != nil {
		errs = append(errs, a.session.data.Sync())
	}
	if a.session.index != nil {
		errs = append(errs, a.session.index.Sync())
	}
	return errors.Join(errs...)
}

func (a *Appender) releaseIndex() {
	if a.session.index == nil {
		return
	}
	if err := a.session.index.Release(); err != nil {
		a.c.logger.Warn("Failed to release index region.", "path", a.session.index.Path(), "error", err)
	}
	a.session.index = nil
}

func (a *Appender) releaseData() {
	if a.session.data == nil {
		return
	}
	if err := a.session.data.Release(); err != nil {
		a.c.logger.Warn("Failed to release data region.", "path", a.session.data.Path(), "error", err)
	}
	a.session.data = nil
}

// Close abandons an open excerpt, drops the appender's regions and releases its
// writer identity.
func (a *Appender) Close() error {
	if a.closed {
		return nil
	}
	a.closed = true
	a.open = false
	a.releaseIndex()
	a.releaseData()
	a.session.valid = false
	return a.identity.Release()
}
