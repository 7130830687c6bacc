// Package audit checks that every writer's sequence numbers were read back
// exactly once, in ascending order and without gaps.
package audit

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/RoaringBitmap/roaring/roaring64"
)

// Audit collects the sequence numbers seen per writer. It is safe for
// concurrent use.
type Audit struct {
	mu         sync.Mutex
	seen       map[int32]*roaring64.Bitmap
	last       map[int32]uint64
	duplicates map[int32]uint64
	outOfOrder map[int32]uint64
}

func New() *Audit {
	return &Audit{
		seen:       make(map[int32]*roaring64.Bitmap),
		last:       make(map[int32]uint64),
		duplicates: make(map[int32]uint64),
		outOfOrder: make(map[int32]uint64),
	}
}

// Record marks seq as seen for writer. It reports false when seq was already
// recorded or arrives below a sequence number already seen for writer.
func (a *Audit) Record(writer int32, seq uint64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	bm, ok := a.seen[writer]
	if !ok {
		bm = roaring64.New()
		a.seen[writer] = bm
	}
	if !bm.CheckedAdd(seq) {
		a.duplicates[writer]++
		return false
	}
	if last, ok := a.last[writer]; ok && seq < last {
		a.outOfOrder[writer]++
		return false
	}
	a.last[writer] = seq
	return true
}

// WriterReport summarises one writer. Missing counts the holes in [0, Max].
type WriterReport struct {
	Writer     int32
	Count      uint64
	Max        uint64
	Missing    uint64
	Duplicates uint64
	// OutOfOrder counts sequence numbers read after a higher one.
	OutOfOrder uint64
	// FirstMissing holds up to ten missing sequence numbers.
	FirstMissing []uint64
}

// Complete reports whether the writer wrote exactly [0, want).
func (r WriterReport) Complete(want uint64) bool {
	return r.Count == want && r.Missing == 0 && r.Duplicates == 0 && r.OutOfOrder == 0 &&
		(want == 0 || r.Max == want-1)
}

// Report returns one entry per writer, ordered by writer id.
func (a *Audit) Report() []WriterReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]WriterReport, 0, len(a.seen))
	for w, bm := range a.seen {
		r := WriterReport{Writer: w, Count: bm.GetCardinality(), Duplicates: a.duplicates[w], OutOfOrder: a.outOfOrder[w]}
		if !bm.IsEmpty() {
			r.Max = bm.Maximum()
			holes := roaring64.New()
			holes.AddRange(0, r.Max+1)
			holes.AndNot(bm)
			r.Missing = holes.GetCardinality()
			it := holes.Iterator()
			for it.HasNext() && len(r.FirstMissing) < 10 {
				r.FirstMissing = append(r.FirstMissing, it.Next())
			}
		}
		out = append(out, r)
	}
	slices.SortFunc(out, func(x, y WriterReport) int { return int(x.Writer) - int(y.Writer) })
	return out
}

// Writers returns the number of distinct writers seen.
func (a *Audit) Writers() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.seen)
}

func (r WriterReport) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "writer=%d count=%d max=%d missing=%d duplicates=%d out_of_order=%d",
		r.Writer, r.Count, r.Max, r.Missing, r.Duplicates, r.OutOfOrder)
	if len(r.FirstMissing) > 0 {
		fmt.Fprintf(&b, " first_missing=%v", r.FirstMissing)
	}
	return b.String()
}
