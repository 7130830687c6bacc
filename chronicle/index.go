package chronicle

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/INLOpen/chronicle/core"
	"github.com/INLOpen/chronicle/region"
)

// maxIndexFiles bounds the search for a free index slot within one cycle.
const maxIndexFiles = 10000

// ErrIndexExhausted is returned when a cycle has no free index slot left: every
// index file its logical index range can address is full, or maxIndexFiles of
// them were searched.
var ErrIndexExhausted = errors.New("chronicle: index exhausted")

type indexKey struct {
	cycle int64
	file  int32
}

// IndexStore manages the index files of every cycle: fixed-size arrays of
// 8-byte entries, each mapping one logical index to a writer and data offset.
type IndexStore struct {
	storeBase
	blockSize int64
	// filesPerCycle is the number of index files one cycle can hold before its
	// logical indices would spill into the next cycle's range.
	filesPerCycle int32
	cache         *regionCache[indexKey]
}

func newIndexStore(base storeBase) *IndexStore {
	m := base.metrics
	perCycle := base.settings.EntriesPerCycle / (base.settings.IndexBlockSize / core.IndexEntrySize)
	return &IndexStore{
		storeBase:     base,
		blockSize:     base.settings.IndexBlockSize,
		filesPerCycle: int32(min(perCycle, maxIndexFiles)),
		cache: newRegionCache[indexKey](base.settings.IndexCacheSize, base.logger,
			m.IndexCacheHits, m.IndexCacheMisses, m.IndexCacheEvictions),
	}
}

// FindFirstCycle returns the earliest cycle with a directory on disk. The
// boolean is false when there is none.
func (s *IndexStore) FindFirstCycle() (int64, bool) {
	first, _, ok := s.cycleRange()
	return first, ok
}

// FindLastCycle returns the latest cycle with a directory on disk.
func (s *IndexStore) FindLastCycle() (int64, bool) {
	_, last, ok := s.cycleRange()
	return last, ok
}

// NextCycle returns the earliest cycle on disk after cycle.
func (s *IndexStore) NextCycle(cycle int64) (int64, bool) {
	next, found := int64(math.MaxInt64), false
	s.eachCycle(func(c int64) {
		if c > cycle && c <= next {
			next, found = c, true
		}
	})
	return next, found
}

// PreviousCycle returns the latest cycle on disk before cycle.
func (s *IndexStore) PreviousCycle(cycle int64) (int64, bool) {
	prev, found := int64(math.MinInt64), false
	s.eachCycle(func(c int64) {
		if c < cycle && c >= prev {
			prev, found = c, true
		}
	})
	return prev, found
}

func (s *IndexStore) cycleRange() (first, last int64, ok bool) {
	first, last = math.MaxInt64, math.MinInt64
	s.eachCycle(func(c int64) {
		first = min(first, c)
		last = max(last, c)
		ok = true
	})
	return first, last, ok
}

func (s *IndexStore) eachCycle(fn func(cycle int64)) {
	entries, err := os.ReadDir(s.settings.Path)
	if err != nil {
		return
	}
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		if !s.settings.Formatter.Valid(name) {
			s.logger.Warn("Ignoring directory with unparsable cycle name.", "name", name)
			continue
		}
		fn(s.settings.Formatter.CycleFromDate(name))
	}
}

// LastIndexFileNumber returns the highest index file number present for cycle,
// or def when there is none.
func (s *IndexStore) LastIndexFileNumber(cycle int64, def int32) int32 {
	n := highestSuffix(s.cycleDir(cycle), IndexFilePrefix)
	if n < 0 {
		return def
	}
	return int32(n)
}

// RegionFor returns a retained region for index file fileNumber of cycle. With
// appendMode false a missing file yields nil and nothing is created.
func (s *IndexStore) RegionFor(ctx context.Context, cycle int64, fileNumber int32, appendMode bool) (*region.Region, error) {
	return s.cache.get(indexKey{cycle, fileNumber}, func(k indexKey) (*region.Region, error) {
		return s.openRegion(ctx, "IndexStore.RegionFor", k.cycle,
			IndexFilePrefix+strconv.FormatInt(int64(k.file), 10), s.blockSize, k.file, appendMode)
	})
}

// AppendValue claims the first empty slot at or after the region's position by
// CAS and stores value there. It returns the slot's byte offset, or -1 when the
// region is full.
func AppendValue(r *region.Region, value int64) int64 {
	pos, _ := appendValue(r, value)
	return pos
}

func appendValue(r *region.Region, value int64) (pos int64, retries int64) {
	size := r.Size()
	for pos = r.Position(); size-pos >= core.IndexEntrySize; pos += core.IndexEntrySize {
		if r.CompareAndSwap64(pos, 0, value) {
			r.AdvancePosition(pos + core.IndexEntrySize)
			return pos, retries
		}
		retries++
	}
	return -1, retries
}

// FilesPerCycle is the number of index files a cycle may use.
func (s *IndexStore) FilesPerCycle() int32 { return s.filesPerCycle }

// Append stores value in the first free slot of cycle, starting at index file
// fromFile and moving to later files as they fill up. The returned region is
// retained for the caller.
func (s *IndexStore) Append(ctx context.Context, cycle int64, value int64, fromFile int32) (*region.Region, int64, error) {
	for n := fromFile; n < s.filesPerCycle; n++ {
		r, err := s.RegionFor(ctx, cycle, n, true)
		if err != nil {
			return nil, -1, err
		}
		if r == nil {
			continue
		}
		pos, retries := appendValue(r, value)
		s.metrics.IndexCASRetries.Add(retries)
		if pos >= 0 {
			return r, pos, nil
		}
		s.metrics.IndexFileRollovers.Add(1)
		s.logger.Debug("Index file full.", "cycle", cycle, "file", n)
		if err := r.Release(); err != nil {
			return nil, -1, err
		}
	}
	return nil, -1, fmt.Errorf("unable to write index value %d on cycle %d (%s): %w",
		value, cycle, s.settings.Formatter.DateFromCycle(cycle), ErrIndexExhausted)
}

// CountEntries counts the non-zero slots of r from its start up to the first
// empty one.
func CountEntries(r *region.Region) int64 {
	var n int64
	for off := int64(0); off+core.IndexEntrySize <= r.Size(); off += core.IndexEntrySize {
		if r.ReadFenced64(off) == 0 {
			break
		}
		n++
	}
	return n
}

// Close drops the store's references to every cached region.
func (s *IndexStore) Close() {
	s.cache.close()
}
