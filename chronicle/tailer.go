package chronicle

import (
	"context"

	"github.com/INLOpen/chronicle/core"
	"github.com/INLOpen/chronicle/region"
)

// Tailer reads excerpts by logical index. It never blocks: when the next
// excerpt is not yet visible its methods report false and the caller polls.
// A Tailer is not safe for concurrent use.
type Tailer struct {
	c   *Chronicle
	buf Buffer

	positioned bool
	index      int64

	cycle     int64
	indexFile int32
	writer    int32
	dataFile  int32
	indexRgn  *region.Region
	dataRgn   *region.Region
}

func newTailer(c *Chronicle) *Tailer {
	return &Tailer{c: c, index: -1, writer: -1, dataFile: -1}
}

// Index is the logical index of the current excerpt. After ToStart it is one
// before the first excerpt of the first cycle.
func (t *Tailer) Index() int64 { return t.index }

// Buffer is the payload of the current excerpt.
func (t *Tailer) Buffer() *Buffer { return &t.buf }

// ToStart positions the tailer just before the first cycle on disk. With no
// cycle on disk it stays unpositioned and NextIndex will retry.
func (t *Tailer) ToStart() *Tailer {
	if first, ok := t.c.index.FindFirstCycle(); ok {
		t.index = first*t.c.settings.EntriesPerCycle - 1
		t.positioned = true
	}
	return t
}

// ToEnd positions the tailer on the last excerpt: the chronicle's high-water
// mark if this process wrote anything, else the last index on disk.
func (t *Tailer) ToEnd() (*Tailer, error) {
	last, ok := t.c.highWaterMark()
	if !ok {
		var err error
		if last, err = t.c.LastIndex(); err != nil {
			return t, err
		}
		if last == -1 {
			return t.ToStart(), nil
		}
	}
	if _, err := t.Seek(last); err != nil {
		return t, err
	}
	return t, nil
}

// NextIndex moves to the excerpt after the current one, skipping to later
// cycles when the current one has no more. It reports false when nothing new is
// visible yet.
func (t *Tailer) NextIndex() (bool, error) {
	if !t.positioned {
		if t.ToStart(); !t.positioned {
			t.c.metrics.TailerNotReady.Add(1)
			return false, nil
		}
	}
	now := t.c.cycleForNow()
	next := t.index + 1
	for {
		ok, err := t.Seek(next)
		if err != nil || ok {
			return ok, err
		}
		cycle := next >> t.c.layout.entriesBits
		if cycle > now {
			t.c.metrics.TailerNotReady.Add(1)
			return false, nil
		}
		later, ok := t.c.index.NextCycle(cycle)
		if !ok {
			t.c.metrics.TailerNotReady.Add(1)
			return false, nil
		}
		next = later * t.c.settings.EntriesPerCycle
	}
}

// Seek positions the tailer on the excerpt at index. It reports false when that
// excerpt is not visible yet, and a CorruptionError when its length prefix is
// invalid.
func (t *Tailer) Seek(index int64) (bool, error) {
	l := t.c.layout
	cycle, file, slot := l.split(index)

	indexChanged := false
	if t.indexRgn == nil || cycle != t.cycle || file != t.indexFile {
		t.releaseIndex()
		r, err := t.c.index.RegionFor(context.Background(), cycle, file, false)
		if err != nil || r == nil {
			return false, err
		}
		t.indexRgn, t.cycle, t.indexFile = r, cycle, file
		indexChanged = true
	}

	value := t.indexRgn.ReadFenced64(slot * core.IndexEntrySize)
	if value == 0 {
		return false, nil
	}
	writer, dataFile, offset := l.decodeEntry(value)

	if indexChanged || writer != t.writer || dataFile != t.dataFile {
		t.releaseData()
	}
	if t.dataRgn == nil {
		r, err := t.c.data.RegionFor(context.Background(), cycle, writer, dataFile, false)
		if err != nil || r == nil {
			return false, err
		}
		t.dataRgn, t.writer, t.dataFile = r, writer, dataFile
	}

	if offset < core.LengthPrefixSize {
		return false, &core.CorruptionError{Path: t.dataRgn.Path(), Offset: offset, Value: 0}
	}
	raw := t.dataRgn.ReadFenced32(offset - core.LengthPrefixSize)
	if raw == 0 {
		return false, nil
	}
	n := ^raw
	if n>>30 != 0 || offset+int64(n) > t.dataRgn.Size() {
		return false, &core.CorruptionError{Path: t.dataRgn.Path(), Offset: offset - core.LengthPrefixSize, Value: raw}
	}
	end := offset + int64(n)
	t.buf.reset(t.dataRgn.Bytes()[offset:end:end])
	t.index = index
	t.positioned = true
	return true, nil
}

// Position is the read cursor within the current excerpt.
func (t *Tailer) Position() int { return t.buf.Position() }

// SetPosition moves the read cursor; positions past the excerpt are rejected.
func (t *Tailer) SetPosition(p int) bool { return t.buf.SetPosition(p) }

func (t *Tailer) Limit() int     { return t.buf.Limit() }
func (t *Tailer) Remaining() int { return t.buf.Remaining() }

func (t *Tailer) releaseIndex() {
	if t.indexRgn == nil {
		return
	}
	if err := t.indexRgn.Release(); err != nil {
		t.c.logger.Warn("Failed to release index region.", "path", t.indexRgn.Path(), "error", err)
	}
	t.indexRgn = nil
}

func (t *Tailer) releaseData() {
	if t.dataRgn == nil {
		return
	}
	if err := t.dataRgn.Release(); err != nil {
		t.c.logger.Warn("Failed to release data region.", "path", t.dataRgn.Path(), "error", err)
	}
	t.dataRgn = nil
	t.writer, t.dataFile = -1, -1
}

// Close drops the tailer's regions. The buffer must not be used afterwards.
func (t *Tailer) Close() {
	t.releaseIndex()
	t.releaseData()
	t.buf.reset(nil)
}
