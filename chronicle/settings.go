package chronicle

import (
	"fmt"
	"math/bits"
	"strings"
	"time"

	"github.com/INLOpen/chronicle/core"
	"github.com/INLOpen/chronicle/cycle"
)

const (
	DefaultWriterIDBits    = 16
	DefaultEntriesPerCycle = int64(1) << 40
	DefaultIndexBlockSize  = int64(16) << 20
	DefaultDataBlockSize   = int64(64) << 20
	DefaultIndexCacheSize  = 8
	DefaultDataCacheSize   = 16

	// MinCycleLength is enforced unless WithUncheckedCycleLength is used.
	MinCycleLength = time.Hour

	IndexFilePrefix = "index-"
	DataFilePrefix  = "data-"

	minIndexBlockSize = int64(core.IndexEntrySize)
	minDataBlockSize  = int64(64)
	maxBlockSize      = int64(1) << 30
)

// Settings is the immutable configuration of a chronicle. Writers and readers of
// the same directory must agree on every field except the cache sizes; nothing
// on disk records them.
type Settings struct {
	Path            string
	CycleLength     time.Duration
	Formatter       cycle.Formatter
	EntriesPerCycle int64
	IndexBlockSize  int64
	DataBlockSize   int64
	WriterIDBits    int
	IndexCacheSize  int
	DataCacheSize   int
	// Preallocate reserves disk blocks for new region files.
	Preallocate bool
	// SkipCycleCheck allows cycles shorter than MinCycleLength.
	SkipCycleCheck bool
}

type SettingsOption func(*Settings)

// NewSettings returns daily-cycle defaults rooted at path.
func NewSettings(path string, opts ...SettingsOption) Settings {
	s := Settings{
		Path:            path,
		CycleLength:     24 * time.Hour,
		EntriesPerCycle: DefaultEntriesPerCycle,
		IndexBlockSize:  DefaultIndexBlockSize,
		DataBlockSize:   DefaultDataBlockSize,
		WriterIDBits:    DefaultWriterIDBits,
		IndexCacheSize:  DefaultIndexCacheSize,
		DataCacheSize:   DefaultDataCacheSize,
	}
	s.Formatter = cycle.NewDaily(s.CycleLength)
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// WithCycle sets the cycle formatter; the cycle length is taken from it.
func WithCycle(f cycle.Formatter) SettingsOption {
	return func(s *Settings) {
		s.Formatter = f
		s.CycleLength = f.Length()
	}
}

// WithUncheckedCycleLength disables the MinCycleLength sanity check.
func WithUncheckedCycleLength() SettingsOption {
	return func(s *Settings) { s.SkipCycleCheck = true }
}

func WithEntriesPerCycle(n int64) SettingsOption {
	return func(s *Settings) { s.EntriesPerCycle = n }
}

func WithIndexBlockSize(n int64) SettingsOption {
	return func(s *Settings) { s.IndexBlockSize = n }
}

func WithDataBlockSize(n int64) SettingsOption {
	return func(s *Settings) { s.DataBlockSize = n }
}

func WithWriterIDBits(n int) SettingsOption {
	return func(s *Settings) { s.WriterIDBits = n }
}

func WithIndexCacheSize(n int) SettingsOption {
	return func(s *Settings) { s.IndexCacheSize = n }
}

func WithDataCacheSize(n int) SettingsOption {
	return func(s *Settings) { s.DataCacheSize = n }
}

func WithPreallocate(on bool) SettingsOption {
	return func(s *Settings) { s.Preallocate = on }
}

func isPowerOfTwo(n int64) bool { return n > 0 && n&(n-1) == 0 }

func log2(n int64) int { return bits.TrailingZeros64(uint64(n)) }

// Validate checks the settings against the layout invariants.
func (s Settings) Validate() error {
	const op = "Settings"
	switch {
	case s.Path == "":
		return core.NewContractError(op, "path is required")
	case s.Formatter == nil:
		return core.NewContractError(op, "cycle formatter is required")
	case s.CycleLength.Milliseconds() <= 0:
		return core.NewContractError(op, "cycle length %s is not a positive number of milliseconds", s.CycleLength)
	case !s.SkipCycleCheck && s.CycleLength < MinCycleLength:
		return core.NewContractError(op, "cycle length %s can't be less than %s", s.CycleLength, MinCycleLength)
	case s.CycleLength != s.Formatter.Length():
		return core.NewContractError(op, "cycle length %s differs from the formatter's %s", s.CycleLength, s.Formatter.Length())
	case s.CycleLength%s.Formatter.Resolution() != 0:
		return core.NewContractError(op, "cycle length %s is not a multiple of the %s resolution %s",
			s.CycleLength, s.Formatter.Name(), s.Formatter.Resolution())
	case !isPowerOfTwo(s.EntriesPerCycle):
		return core.NewContractError(op, "entries per cycle %d is not a power of two", s.EntriesPerCycle)
	case !isPowerOfTwo(s.IndexBlockSize) || s.IndexBlockSize < minIndexBlockSize || s.IndexBlockSize > maxBlockSize:
		return core.NewContractError(op, "index block size %d must be a power of two in [%d, %d]", s.IndexBlockSize, minIndexBlockSize, maxBlockSize)
	case !isPowerOfTwo(s.DataBlockSize) || s.DataBlockSize < minDataBlockSize || s.DataBlockSize > maxBlockSize:
		return core.NewContractError(op, "data block size %d must be a power of two in [%d, %d]", s.DataBlockSize, minDataBlockSize, maxBlockSize)
	case s.IndexBlockSize/core.IndexEntrySize > s.EntriesPerCycle:
		return core.NewContractError(op, "index block of %d entries exceeds %d entries per cycle", s.IndexBlockSize/core.IndexEntrySize, s.EntriesPerCycle)
	case s.WriterIDBits < 1 || s.WriterIDBits > 31:
		return core.NewContractError(op, "writer id bits %d must be in [1, 31]", s.WriterIDBits)
	case s.WriterIDBits+log2(s.DataBlockSize) >= 64:
		return core.NewContractError(op, "writer id bits %d leave no room for data file numbers", s.WriterIDBits)
	case s.IndexCacheSize < 1 || s.DataCacheSize < 1:
		return core.NewContractError(op, "cache sizes must be positive (index=%d data=%d)", s.IndexCacheSize, s.DataCacheSize)
	}
	return nil
}

// WriterIDMask is the largest writer id that fits the configured bits.
func (s Settings) WriterIDMask() int64 { return int64(1)<<s.WriterIDBits - 1 }

// IndexDataOffsetBits is the number of low bits of an index entry holding the
// data offset.
func (s Settings) IndexDataOffsetBits() int { return 64 - s.WriterIDBits }

func (s Settings) IndexDataOffsetMask() int64 { return int64(1)<<s.IndexDataOffsetBits() - 1 }

func (s Settings) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "- path                   = %s\n", s.Path)
	fmt.Fprintf(&b, "- cycle_length           = %s\n", s.CycleLength)
	if s.Formatter != nil {
		fmt.Fprintf(&b, "- cycle_format           = %s\n", s.Formatter.Name())
	}
	fmt.Fprintf(&b, "- entries_per_cycle      = %d [%d bits]\n", s.EntriesPerCycle, log2(s.EntriesPerCycle))
	fmt.Fprintf(&b, "- index_block_size       = %d [%d bits]\n", s.IndexBlockSize, log2(s.IndexBlockSize))
	fmt.Fprintf(&b, "- data_block_size        = %d [%d bits]\n", s.DataBlockSize, log2(s.DataBlockSize))
	fmt.Fprintf(&b, "- writer_id_bits         = %d\n", s.WriterIDBits)
	fmt.Fprintf(&b, "- writer_id_mask         = 0x%x\n", s.WriterIDMask())
	fmt.Fprintf(&b, "- index_data_offset_bits = %d\n", s.IndexDataOffsetBits())
	fmt.Fprintf(&b, "- index_data_offset_mask = 0x%x\n", s.IndexDataOffsetMask())
	fmt.Fprintf(&b, "- index_cache_size       = %d\n", s.IndexCacheSize)
	fmt.Fprintf(&b, "- data_cache_size        = %d", s.DataCacheSize)
	return b.String()
}

// layout holds the bit widths and masks derived from Settings.
type layout struct {
	indexBlockBits int
	indexLongsBits int
	indexLongsMask int64
	dataBlockBits  int
	dataBlockMask  int64
	entriesBits    int
	entriesMask    int64
	offsetBits     int
	offsetMask     int64
	writerMask     int64
}

func newLayout(s Settings) layout {
	l := layout{
		indexBlockBits: log2(s.IndexBlockSize),
		dataBlockBits:  log2(s.DataBlockSize),
		entriesBits:    log2(s.EntriesPerCycle),
		offsetBits:     s.IndexDataOffsetBits(),
		offsetMask:     s.IndexDataOffsetMask(),
		writerMask:     s.WriterIDMask(),
	}
	l.indexLongsBits = l.indexBlockBits - 3
	l.indexLongsMask = int64(1)<<l.indexLongsBits - 1
	l.dataBlockMask = int64(1)<<l.dataBlockBits - 1
	l.entriesMask = int64(1)<<l.entriesBits - 1
	return l
}

// logicalIndex builds the index of the entry at byte offset slotOffset of index
// file fileNumber in cycle.
func (l layout) logicalIndex(cycle int64, fileNumber int32, slotOffset int64) int64 {
	return cycle<<l.entriesBits | int64(fileNumber)<<l.indexLongsBits | slotOffset>>3
}

// split decomposes a logical index into cycle, index file number and slot.
func (l layout) split(index int64) (cycle int64, fileNumber int32, slot int64) {
	cycle = index >> l.entriesBits
	fileNumber = int32((index & l.entriesMask) >> l.indexLongsBits)
	slot = index & l.indexLongsMask
	return
}

// entryValue packs a writer id and a global data offset into an index entry.
func (l layout) entryValue(writer int32, dataOffset int64) int64 {
	return int64(writer)<<l.offsetBits | dataOffset
}

// decodeEntry is the inverse of entryValue, with the data offset further split
// into data file number and in-file offset.
func (l layout) decodeEntry(v int64) (writer int32, dataFile int32, offset int64) {
	writer = int32(uint64(v) >> l.offsetBits)
	global := v & l.offsetMask
	dataFile = int32(global >> l.dataBlockBits)
	offset = global & l.dataBlockMask
	return
}
