package chronicle_test

import (
	"context"
	"expvar"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/INLOpen/chronicle/chronicle"
	"github.com/INLOpen/chronicle/core"
	"github.com/INLOpen/chronicle/cycle"
	"github.com/INLOpen/chronicle/internal/audit"
	"github.com/INLOpen/chronicle/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

var testNow = time.Date(2024, 1, 2, 12, 0, 0, 0, time.UTC)

func nowCycle() int64 { return cycle.ForNow(24*time.Hour, testNow) }

func openTest(t *testing.T, opts ...chronicle.SettingsOption) *chronicle.Chronicle {
	t.Helper()
	return testutil.OpenChronicle(t, testutil.SmallSettings(t, opts...), chronicle.WithClock(fixedClock{testNow}))
}

func newAppender(t *testing.T, c *chronicle.Chronicle, opts ...chronicle.AppenderOption) *chronicle.Appender {
	t.Helper()
	a, err := c.NewAppender(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

// drain reads every visible excerpt from the tailer's current position.
func drain(t *testing.T, tl *chronicle.Tailer, fn func(index int64, b *chronicle.Buffer)) int {
	t.Helper()
	n := 0
	for {
		ok, err := tl.NextIndex()
		require.NoError(t, err)
		if !ok {
			return n
		}
		fn(tl.Index(), tl.Buffer())
		n++
	}
}

func TestOpen_InvalidSettings(t *testing.T) {
	_, err := chronicle.Open(chronicle.NewSettings(t.TempDir(), chronicle.WithIndexBlockSize(1000)))
	require.Error(t, err)
	assert.True(t, core.IsContractError(err))
}

func TestEmptyChronicle(t *testing.T) {
	c := openTest(t)

	last, err := c.LastIndex()
	require.NoError(t, err)
	assert.Equal(t, int64(-1), last)
	assert.Equal(t, int64(-1), c.LastWrittenIndex())

	start := c.NewTailer().ToStart()
	end, err := c.NewTailer().ToEnd()
	require.NoError(t, err)
	assert.Equal(t, start.Index(), end.Index())

	ok, err := c.NewTailer().NextIndex()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAppender_RoundTrip(t *testing.T) {
	c := openTest(t)
	a := newAppender(t, c, chronicle.WithWriterID(1))
	assert.Equal(t, int64(-1), a.Index())
	assert.Equal(t, int32(-1), a.WriterID())

	const n = 2500
	var prev int64 = -1
	for i := uint32(0); i < n; i++ {
		require.NoError(t, testutil.WriteTestData(a, 1, i))
		if prev >= 0 {
			assert.Equal(t, prev+1, a.LastWrittenIndex(), "indices must be dense")
		}
		prev = a.LastWrittenIndex()
		assert.Equal(t, prev+1, a.Index())
	}
	assert.Equal(t, int32(1), a.WriterID())
	assert.Equal(t, prev, c.LastWrittenIndex())

	last, err := c.LastIndex()
	require.NoError(t, err)
	assert.Equal(t, prev, last)

	tl := c.NewTailer()
	defer tl.Close()
	var want uint32
	got := drain(t, tl, func(_ int64, b *chronicle.Buffer) {
		id, i, err := testutil.ReadTestData(b)
		require.NoError(t, err)
		assert.Equal(t, uint32(1), id)
		assert.Equal(t, want, i)
		want++
	})
	assert.Equal(t, n, got)
	assert.Equal(t, prev, tl.Index())

	// 2500 entries span three 1024-slot index files.
	files, err := testutil.ListFiles(c.Settings(), nowCycle(), chronicle.IndexFilePrefix)
	require.NoError(t, err)
	assert.Equal(t, []string{"index-0", "index-1", "index-2"}, files)

	m := c.Metrics()
	assert.Equal(t, int64(n), m.ExcerptsAppended.Value())
	assert.Equal(t, int64(n*testutil.TestDataSize), m.BytesAppended.Value())
	assert.Equal(t, int64(2), m.IndexFileRollovers.Value())
}

func TestAppender_ContractErrors(t *testing.T) {
	c := openTest(t)

	t.Run("FinishWithoutStart", func(t *testing.T) {
		a := newAppender(t, c, chronicle.WithWriterID(1))
		err := a.Finish()
		require.Error(t, err)
		assert.True(t, core.IsContractError(err))
	})

	t.Run("FinishTwice", func(t *testing.T) {
		a := newAppender(t, c, chronicle.WithWriterID(2))
		require.NoError(t, a.StartExcerpt(8))
		a.Buffer().WriteInt64(42)
		require.NoError(t, a.Finish())
		err := a.Finish()
		require.Error(t, err)
		assert.True(t, core.IsContractError(err))
	})

	t.Run("CapacityLargerThanBlock", func(t *testing.T) {
		a := newAppender(t, c, chronicle.WithWriterID(3))
		err := a.StartExcerpt(1 << 20)
		assert.True(t, core.IsContractError(err))
		err = a.StartExcerpt(-1)
		assert.True(t, core.IsContractError(err))
		require.NoError(t, a.StartExcerpt(1<<20-4))
	})

	t.Run("WriterIDOutOfRange", func(t *testing.T) {
		a := newAppender(t, c, chronicle.WithWriterID(1<<16))
		assert.True(t, core.IsContractError(a.StartExcerpt(8)))
		b := newAppender(t, c, chronicle.WithWriterID(-1))
		assert.True(t, core.IsContractError(b.StartExcerpt(8)))
	})

	t.Run("ClosedAppender", func(t *testing.T) {
		a := newAppender(t, c, chronicle.WithWriterID(4))
		require.NoError(t, a.Close())
		assert.True(t, core.IsContractError(a.StartExcerpt(8)))
	})

	t.Run("WriteBeyondCapacityPanics", func(t *testing.T) {
		a := newAppender(t, c, chronicle.WithWriterID(5))
		require.NoError(t, a.StartExcerpt(4))
		a.Buffer().WriteInt32(1)
		assert.Panics(t, func() { a.Buffer().WriteInt8(1) })
		_, err := a.Buffer().Writer().Write([]byte{1})
		assert.Error(t, err)
	})
}

func TestAppender_ConcurrentWriters(t *testing.T) {
	const writers, records = 8, 10000
	c := openTest(t)

	var g errgroup.Group
	for w := 0; w < writers; w++ {
		g.Go(func() error {
			a, err := c.NewAppender()
			if err != nil {
				return err
			}
			defer a.Close()
			for i := uint32(0); i < records; i++ {
				if err := a.StartExcerpt(testutil.TestDataCapacity); err != nil {
					return err
				}
				b := a.Buffer()
				b.WriteUint32(uint32(a.WriterID()))
				b.WriteUint32(i)
				b.WriteInt64(0x0123456789ABCDEF)
				for v := int32(1); v <= 5; v++ {
					b.WriteInt32(v)
				}
				if err := a.Finish(); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	last, err := c.LastIndex()
	require.NoError(t, err)
	assert.Equal(t, c.LastWrittenIndex(), last)

	au := audit.New()
	tl := c.NewTailer()
	defer tl.Close()
	var prev int64 = -1
	next := make(map[uint32]uint32)
	n := drain(t, tl, func(index int64, b *chronicle.Buffer) {
		if prev >= 0 {
			require.Equal(t, prev+1, index)
		}
		prev = index
		id, i, err := testutil.ReadTestData(b)
		require.NoError(t, err)
		require.Equal(t, next[id], i, "writer %d out of order at index %d", id, index)
		next[id]++
		assert.True(t, au.Record(int32(id), uint64(i)))
	})
	assert.Equal(t, writers*records, n)
	assert.Equal(t, last, prev)

	reports := au.Report()
	require.Len(t, reports, writers)
	for _, r := range reports {
		assert.True(t, r.Complete(records), r.String())
	}
}

func TestTailer_ReadsWhileWriting(t *testing.T) {
	const records = 10000
	c := openTest(t)

	done := make(chan error, 1)
	go func() {
		a, err := c.NewAppender(chronicle.WithWriterID(9))
		if err != nil {
			done <- err
			return
		}
		defer a.Close()
		for i := uint32(0); i < records; i++ {
			if err := testutil.WriteTestData(a, 9, i); err != nil {
				done <- err
				return
			}
			if i%1000 == 0 {
				runtime.Gosched()
			}
		}
		done <- nil
	}()

	tl := c.NewTailer()
	defer tl.Close()
	deadline := time.Now().Add(30 * time.Second)
	var want uint32
	for want < records {
		ok, err := tl.NextIndex()
		require.NoError(t, err)
		if !ok {
			require.True(t, time.Now().Before(deadline), "reader stalled at %d", want)
			runtime.Gosched()
			continue
		}
		id, i, err := testutil.ReadTestData(tl.Buffer())
		require.NoError(t, err)
		require.Equal(t, uint32(9), id)
		require.Equal(t, want, i)
		want++
	}
	require.NoError(t, <-done)
}

func TestTailer_WriterPausedMidExcerpt(t *testing.T) {
	c := openTest(t)
	tl := c.NewTailer()
	defer tl.Close()

	half := make(chan struct{})
	resume := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		a, err := c.NewAppender(chronicle.WithWriterID(4))
		if err != nil {
			close(half)
			done <- err
			return
		}
		defer a.Close()
		if err := testutil.WriteTestData(a, 4, 0); err != nil {
			close(half)
			done <- err
			return
		}
		if err := a.StartExcerpt(testutil.TestDataCapacity); err != nil {
			close(half)
			done <- err
			return
		}
		b := a.Buffer()
		b.WriteUint32(4)
		b.WriteUint32(1)
		close(half)
		<-resume
		b.WriteInt64(0x0123456789ABCDEF)
		for v := int32(1); v <= 5; v++ {
			b.WriteInt32(v)
		}
		done <- a.Finish()
	}()

	<-half
	ok, err := tl.NextIndex()
	require.NoError(t, err)
	require.True(t, ok)
	_, i, err := testutil.ReadTestData(tl.Buffer())
	require.NoError(t, err)
	require.Equal(t, uint32(0), i)
	first := tl.Index()

	for k := 0; k < 5; k++ {
		ok, err := tl.NextIndex()
		require.NoError(t, err)
		assert.False(t, ok, "half-written excerpt must stay invisible")
		time.Sleep(time.Millisecond)
	}
	assert.Equal(t, first, tl.Index())

	close(resume)
	require.NoError(t, <-done)

	ok, err = tl.NextIndex()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, first+1, tl.Index())
	assert.Equal(t, testutil.TestDataSize, tl.Limit())
	id, i, err := testutil.ReadTestData(tl.Buffer())
	require.NoError(t, err)
	assert.Equal(t, uint32(4), id)
	assert.Equal(t, uint32(1), i)
}

// rotatingIdentity hands out a different writer id on every call.
type rotatingIdentity struct {
	ids  []int32
	next int
}

func (r *rotatingIdentity) WriterID() (int32, error) {
	id := r.ids[r.next%len(r.ids)]
	r.next++
	return id, nil
}

func (r *rotatingIdentity) Release() error { return nil }

func TestAppender_WriterChangesBetweenExcerpts(t *testing.T) {
	c := openTest(t)
	a := newAppender(t, c, chronicle.WithIdentity(&rotatingIdentity{ids: []int32{3, 5, 7}}))
	for i := uint32(0); i < 30; i++ {
		require.NoError(t, testutil.WriteTestData(a, 0, i))
	}

	// Every change of writer starts a fresh data file for the new writer.
	files, err := testutil.ListFiles(c.Settings(), nowCycle(), chronicle.DataFilePrefix)
	require.NoError(t, err)
	assert.Len(t, files, 30)
	assert.Contains(t, files, "data-3-9")
	assert.Contains(t, files, "data-7-9")

	tl := c.NewTailer()
	defer tl.Close()
	var want uint32
	n := drain(t, tl, func(_ int64, b *chronicle.Buffer) {
		_, i, err := testutil.ReadTestData(b)
		require.NoError(t, err)
		assert.Equal(t, want, i)
		want++
	})
	assert.Equal(t, 30, n)
}

func TestAppender_SharedAcrossGoroutines(t *testing.T) {
	c := openTest(t, chronicle.WithWriterIDBits(22))
	a := newAppender(t, c, chronicle.WithIdentity(chronicle.ThreadIdentity{}))

	var mu sync.Mutex
	var seq uint32
	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runtime.LockOSThread()
			defer runtime.UnlockOSThread()
			for k := 0; k < 50; k++ {
				mu.Lock()
				err := testutil.WriteTestData(a, 0, seq)
				seq++
				mu.Unlock()
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	tl := c.NewTailer()
	defer tl.Close()
	var want uint32
	n := drain(t, tl, func(_ int64, b *chronicle.Buffer) {
		_, i, err := testutil.ReadTestData(b)
		require.NoError(t, err)
		assert.Equal(t, want, i)
		want++
	})
	assert.Equal(t, 200, n)
}

func TestAppender_OneAfterAnother(t *testing.T) {
	c := openTest(t)

	first := newAppender(t, c)
	for i := uint32(0); i < 10; i++ {
		require.NoError(t, testutil.WriteTestData(first, 0, i))
	}
	firstID := first.WriterID()
	require.NoError(t, first.Close())

	second := newAppender(t, c)
	for i := uint32(10); i < 20; i++ {
		require.NoError(t, testutil.WriteTestData(second, 0, i))
	}
	// The released id is claimed again, in a new data file.
	assert.Equal(t, firstID, second.WriterID())
	files, err := testutil.ListFiles(c.Settings(), nowCycle(), chronicle.DataFilePrefix)
	require.NoError(t, err)
	assert.Len(t, files, 2)

	tl := c.NewTailer()
	defer tl.Close()
	var want uint32
	n := drain(t, tl, func(_ int64, b *chronicle.Buffer) {
		_, i, err := testutil.ReadTestData(b)
		require.NoError(t, err)
		assert.Equal(t, want, i)
		want++
	})
	assert.Equal(t, 20, n)
}

func TestClaimedIdentity_Distinct(t *testing.T) {
	settings := testutil.SmallSettings(t)
	a := chronicle.NewClaimedIdentity(settings, nil)
	b := chronicle.NewClaimedIdentity(settings, nil)

	ida, err := a.WriterID()
	require.NoError(t, err)
	idb, err := b.WriterID()
	require.NoError(t, err)
	assert.Equal(t, int32(0), ida)
	assert.Equal(t, int32(1), idb)

	again, err := a.WriterID()
	require.NoError(t, err)
	assert.Equal(t, ida, again)

	require.NoError(t, a.Release())
	cid := chronicle.NewClaimedIdentity(settings, nil)
	idc, err := cid.WriterID()
	require.NoError(t, err)
	assert.Equal(t, int32(0), idc)
	require.NoError(t, b.Release())
	require.NoError(t, cid.Release())

	_, err = os.Stat(filepath.Join(settings.Path, chronicle.WritersDir, "0.lock"))
	assert.NoError(t, err)
}

func TestClaimedIdentity_Exhausted(t *testing.T) {
	settings := testutil.SmallSettings(t, chronicle.WithWriterIDBits(1))
	var held []*chronicle.ClaimedIdentity
	for i := 0; i < 2; i++ {
		id := chronicle.NewClaimedIdentity(settings, nil)
		_, err := id.WriterID()
		require.NoError(t, err)
		held = append(held, id)
	}
	_, err := chronicle.NewClaimedIdentity(settings, nil).WriterID()
	assert.ErrorIs(t, err, chronicle.ErrNoWriterID)
	for _, id := range held {
		require.NoError(t, id.Release())
	}
}

func TestAppender_DataFileRotation(t *testing.T) {
	c := openTest(t)
	a := newAppender(t, c, chronicle.WithWriterID(2))

	payload := make([]byte, 300<<10)
	for i := range payload {
		payload[i] = byte(i)
	}
	for i := 0; i < 7; i++ {
		require.NoError(t, a.StartExcerpt(len(payload)))
		payload[0] = byte(i)
		a.Buffer().WriteRaw(payload)
		require.NoError(t, a.Finish())
	}
	// Three 300 KiB excerpts fit a 1 MiB file.
	files, err := testutil.ListFiles(c.Settings(), nowCycle(), chronicle.DataFilePrefix)
	require.NoError(t, err)
	assert.Equal(t, []string{"data-2-0", "data-2-1", "data-2-2"}, files)
	assert.Equal(t, int64(2), c.Metrics().DataFileRotations.Value())

	tl := c.NewTailer()
	defer tl.Close()
	var k int
	drain(t, tl, func(_ int64, b *chronicle.Buffer) {
		raw := b.ReadRaw(len(payload))
		assert.Equal(t, byte(k), raw[0])
		assert.Equal(t, payload[1:], raw[1:])
		assert.Zero(t, b.Remaining())
		k++
	})
	assert.Equal(t, 7, k)
}

func TestAppender_EmptyExcerpts(t *testing.T) {
	c := openTest(t, chronicle.WithDataBlockSize(64))
	a := newAppender(t, c, chronicle.WithWriterID(1))
	for i := 0; i < 40; i++ {
		require.NoError(t, a.StartExcerpt(0))
		require.NoError(t, a.Finish())
	}

	tl := c.NewTailer()
	defer tl.Close()
	n := drain(t, tl, func(_ int64, b *chronicle.Buffer) {
		assert.Zero(t, b.Limit())
	})
	assert.Equal(t, 40, n)
}

func TestTailer_AcrossCycles(t *testing.T) {
	c := openTest(t)
	a := newAppender(t, c, chronicle.WithWriterID(1))
	now := nowCycle()
	cycles := []int64{now - 5, now - 4, now - 1}

	var written []int64
	for ci, cy := range cycles {
		for i := 0; i < 3; i++ {
			require.NoError(t, a.StartExcerptInCycle(8, cy))
			a.Buffer().WriteInt64(int64(ci*10 + i))
			require.NoError(t, a.Finish())
			written = append(written, a.LastWrittenIndex())
		}
	}
	assert.Equal(t, cycles[0]<<40, written[0])
	assert.Equal(t, cycles[2]<<40+2, written[len(written)-1])

	tl := c.NewTailer()
	defer tl.Close()
	var got []int64
	var values []int64
	drain(t, tl, func(index int64, b *chronicle.Buffer) {
		got = append(got, index)
		values = append(values, b.ReadInt64())
	})
	assert.Equal(t, written, got)
	assert.Equal(t, []int64{0, 1, 2, 10, 11, 12, 20, 21, 22}, values)

	// A second chronicle over the same directory only knows the disk.
	other := testutil.OpenChronicle(t, c.Settings(), chronicle.WithClock(fixedClock{testNow}))
	last, err := other.LastIndex()
	require.NoError(t, err)
	assert.Equal(t, written[len(written)-1], last)

	end, err := other.NewTailer().ToEnd()
	require.NoError(t, err)
	assert.Equal(t, last, end.Index())
	assert.Equal(t, int64(22), end.Buffer().ReadInt64())
	ok, err := end.NextIndex()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTailer_Seek(t *testing.T) {
	c := openTest(t)
	a := newAppender(t, c, chronicle.WithWriterID(1))
	for i := uint32(0); i < 50; i++ {
		require.NoError(t, testutil.WriteTestData(a, 1, i))
	}
	base := a.LastWrittenIndex() - 49

	tl := c.NewTailer()
	defer tl.Close()
	ok, err := tl.Seek(base + 17)
	require.NoError(t, err)
	require.True(t, ok)
	_, i, err := testutil.ReadTestData(tl.Buffer())
	require.NoError(t, err)
	assert.Equal(t, uint32(17), i)

	assert.True(t, tl.SetPosition(4))
	assert.Equal(t, uint32(17), tl.Buffer().ReadUint32())
	assert.False(t, tl.SetPosition(tl.Limit()+1))
	assert.True(t, tl.SetPosition(tl.Limit()))
	assert.Zero(t, tl.Remaining())

	ok, err = tl.Seek(base + 50)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, base+17, tl.Index())

	ok, err = tl.Seek((nowCycle() + 3) << 40)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTailer_CorruptLength(t *testing.T) {
	c := openTest(t)
	a := newAppender(t, c, chronicle.WithWriterID(1))
	require.NoError(t, testutil.WriteTestData(a, 1, 0))
	idx := a.LastWrittenIndex()

	dir := filepath.Join(c.Settings().Path, c.Settings().Formatter.DateFromCycle(nowCycle()))
	f, err := os.OpenFile(filepath.Join(dir, "data-1-0"), os.O_RDWR, 0)
	require.NoError(t, err)
	// A prefix whose complement has bit 30 set.
	_, err = f.WriteAt([]byte{0xFF, 0xFF, 0xFF, 0xBF}, 0)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	tl := c.NewTailer()
	defer tl.Close()
	_, err = tl.Seek(idx)
	require.Error(t, err)
	assert.True(t, core.IsCorruptionError(err))
}

func TestBuffer_PingRecord(t *testing.T) {
	c := openTest(t)
	a := newAppender(t, c, chronicle.WithWriterID(6))

	require.NoError(t, a.StartExcerpt(8192))
	b := a.Buffer()
	b.WriteInt32(6)
	b.WriteStopBit(123456789)
	b.WriteInt64(0x0badcafedeadbeef)
	b.WriteChars("FooBar")
	b.WriteChars("AnotherFooBar")
	b.WriteBool(true)
	b.WriteBool(false)
	b.WriteFloat64(3.5)
	b.WriteInt16(-2)
	b.Write(func(buf []byte, pos *int) {
		buf[*pos] = 0x42
		*pos++
	})
	written := b.Position()
	require.NoError(t, a.Finish())

	tl := c.NewTailer()
	defer tl.Close()
	ok, err := tl.NextIndex()
	require.NoError(t, err)
	require.True(t, ok)

	r := tl.Buffer()
	assert.Equal(t, written, r.Limit())
	assert.Equal(t, int32(6), r.ReadInt32())
	seq, err := r.ReadStopBit()
	require.NoError(t, err)
	assert.Equal(t, int64(123456789), seq)
	assert.Equal(t, int64(0x0badcafedeadbeef), r.ReadInt64())
	s, err := r.ReadChars()
	require.NoError(t, err)
	assert.Equal(t, "FooBar", s)
	s, err = r.ReadChars()
	require.NoError(t, err)
	assert.Equal(t, "AnotherFooBar", s)
	assert.True(t, r.ReadBool())
	assert.False(t, r.ReadBool())
	assert.Equal(t, 3.5, r.ReadFloat64())
	assert.Equal(t, int16(-2), r.ReadInt16())
	var custom byte
	r.Read(func(buf []byte, pos *int) {
		custom = buf[*pos]
		*pos++
	})
	assert.Equal(t, byte(0x42), custom)
	assert.Zero(t, r.Remaining())

	_, err = r.ReadStopBit()
	assert.Error(t, err)
}

func TestChronicle_CloseTwice(t *testing.T) {
	c, err := chronicle.Open(testutil.SmallSettings(t))
	require.NoError(t, err)
	require.NoError(t, c.Close())
	assert.Error(t, c.Close())
}

func TestChronicle_RegionsBalanced(t *testing.T) {
	settings := testutil.SmallSettings(t, chronicle.WithDataBlockSize(1<<12))
	metrics := chronicle.NewMetrics(false, "")
	c, err := chronicle.Open(settings, chronicle.WithMetrics(metrics), chronicle.WithClock(fixedClock{testNow}))
	require.NoError(t, err)

	a, err := c.NewAppender(chronicle.WithWriterID(1))
	require.NoError(t, err)
	for i := uint32(0); i < 300; i++ {
		require.NoError(t, testutil.WriteTestData(a, 1, i))
	}
	require.NoError(t, a.Sync())

	tl := c.NewTailer().ToStart()
	n := drain(t, tl, func(_ int64, b *chronicle.Buffer) {
		_, _, err := testutil.ReadTestData(b)
		require.NoError(t, err)
	})
	assert.Equal(t, 300, n)

	tl.Close()
	require.NoError(t, a.Close())
	require.NoError(t, c.Close())
	assert.Positive(t, metrics.RegionsMapped.Value())
	assert.Equal(t, metrics.RegionsMapped.Value(), metrics.RegionsUnmapped.Value())
}

func TestAppender_CycleCapacityExhausted(t *testing.T) {
	// 8 KiB index blocks hold 1024 entries, so one index file fills the cycle.
	c := openTest(t, chronicle.WithEntriesPerCycle(1024))
	require.Equal(t, int32(1), c.Index().FilesPerCycle())
	a := newAppender(t, c, chronicle.WithWriterID(1))

	now := nowCycle()
	for i := uint32(0); i < 1024; i++ {
		require.NoError(t, testutil.WriteTestData(a, 1, i))
	}
	last := a.LastWrittenIndex()
	require.Equal(t, now<<10+1023, last)

	err := testutil.WriteTestData(a, 1, 1024)
	require.ErrorIs(t, err, chronicle.ErrIndexExhausted)
	assert.Equal(t, last, c.LastWrittenIndex())
	assert.Equal(t, last+1, a.Index())

	// Nothing spilled into the range of the next cycle.
	tl := c.NewTailer()
	defer tl.Close()
	ok, err := tl.Seek((now + 1) << 10)
	require.NoError(t, err)
	assert.False(t, ok)
	files, err := testutil.ListFiles(c.Settings(), now, chronicle.IndexFilePrefix)
	require.NoError(t, err)
	assert.Equal(t, []string{"index-0"}, files)

	lastOnDisk, err := c.LastIndex()
	require.NoError(t, err)
	assert.Equal(t, last, lastOnDisk)

	// The next cycle still takes records.
	require.NoError(t, a.StartExcerptInCycle(8, now+1))
	a.Buffer().WriteInt64(7)
	require.NoError(t, a.Finish())
	assert.Equal(t, (now+1)<<10, a.LastWrittenIndex())

	reader := c.NewTailer()
	defer reader.Close()
	n := drain(t, reader, func(int64, *chronicle.Buffer) {})
	assert.Equal(t, 1025, n)
}

func TestAppender_FailedRestartLeavesIdle(t *testing.T) {
	c := openTest(t)
	a := newAppender(t, c, chronicle.WithWriterID(1))
	require.NoError(t, testutil.WriteTestData(a, 1, 0))

	// Abandon an excerpt, then make the rotation of the next start fail.
	require.NoError(t, a.StartExcerpt(64))
	dir := filepath.Join(c.Settings().Path, c.Settings().Formatter.DateFromCycle(nowCycle()))
	blocker := filepath.Join(dir, "data-1-1")
	require.NoError(t, os.Mkdir(blocker, 0755))
	require.Error(t, a.StartExcerpt(1<<20-4))

	var err error
	require.NotPanics(t, func() { err = a.Finish() })
	require.Error(t, err)
	assert.True(t, core.IsContractError(err))

	require.NoError(t, os.Remove(blocker))
	require.NoError(t, testutil.WriteTestData(a, 1, 1))

	tl := c.NewTailer()
	defer tl.Close()
	var want uint32
	n := drain(t, tl, func(_ int64, b *chronicle.Buffer) {
		_, i, err := testutil.ReadTestData(b)
		require.NoError(t, err)
		assert.Equal(t, want, i)
		want++
	})
	assert.Equal(t, 2, n)
}

func TestChronicle_LastIndexSkipsEmptyIndexFiles(t *testing.T) {
	c := openTest(t)
	a := newAppender(t, c, chronicle.WithWriterID(1))
	now := nowCycle()
	for i := uint32(0); i < 1024; i++ {
		require.NoError(t, testutil.WriteTestData(a, 1, i))
	}
	last := a.LastWrittenIndex()
	ctx := context.Background()

	// An empty file after a full one.
	r, err := c.Index().RegionFor(ctx, now, 1, true)
	require.NoError(t, err)
	require.NoError(t, r.Release())
	got, err := c.LastIndex()
	require.NoError(t, err)
	assert.Equal(t, last, got)

	// An empty first file of a later cycle.
	r, err = c.Index().RegionFor(ctx, now+1, 0, true)
	require.NoError(t, err)
	require.NoError(t, r.Release())
	got, err = c.LastIndex()
	require.NoError(t, err)
	assert.Equal(t, last, got)

	// A later cycle directory with no index file at all.
	require.NoError(t, os.MkdirAll(filepath.Join(c.Settings().Path, c.Settings().Formatter.DateFromCycle(now+2)), 0755))
	got, err = c.LastIndex()
	require.NoError(t, err)
	assert.Equal(t, last, got)
}

func TestTailer_PreEpochCycles(t *testing.T) {
	c := openTest(t)
	a := newAppender(t, c, chronicle.WithWriterID(1))

	var written []int64
	for _, cy := range []int64{-3, -2, -1} {
		for i := 0; i < 2; i++ {
			require.NoError(t, a.StartExcerptInCycle(8, cy))
			a.Buffer().WriteInt64(cy*10 + int64(i))
			require.NoError(t, a.Finish())
			written = append(written, a.LastWrittenIndex())
		}
	}
	assert.Equal(t, int64(-3)<<40, written[0])
	assert.Equal(t, written[len(written)-1], c.LastWrittenIndex())

	first, ok := c.Index().FindFirstCycle()
	require.True(t, ok)
	assert.Equal(t, int64(-3), first)

	tl := c.NewTailer().ToStart()
	defer tl.Close()
	var got []int64
	drain(t, tl, func(index int64, b *chronicle.Buffer) {
		got = append(got, index)
		assert.Equal(t, (index>>40)*10+index&1, b.ReadInt64())
	})
	assert.Equal(t, written, got)

	other := testutil.OpenChronicle(t, c.Settings(), chronicle.WithClock(fixedClock{testNow}))
	end, err := other.NewTailer().ToEnd()
	require.NoError(t, err)
	assert.Equal(t, written[len(written)-1], end.Index())
	assert.Equal(t, int64(-9), end.Buffer().ReadInt64())
}

func TestMetrics_PublishesCycleDateHitRate(t *testing.T) {
	metrics := chronicle.NewMetrics(true, "chronicle_test_hit_rate_")
	c := testutil.OpenChronicle(t, testutil.SmallSettings(t), chronicle.WithMetrics(metrics), chronicle.WithClock(fixedClock{testNow}))
	a := newAppender(t, c, chronicle.WithWriterID(1))
	for i := uint32(0); i < 10; i++ {
		require.NoError(t, testutil.WriteTestData(a, 1, i))
	}
	v := expvar.Get("chronicle_test_hit_rate_cycle_date_cache_hit_rate")
	require.NotNil(t, v)
	rate, err := strconv.ParseFloat(v.String(), 64)
	require.NoError(t, err)
	assert.Greater(t, rate, 0.0)
}
