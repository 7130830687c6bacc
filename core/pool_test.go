package core

import (
	"bytes"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferPool(t *testing.T) {
	t.Run("Get and Put", func(t *testing.T) {
		pool := NewBufferPool(0, 4)
		require.Empty(t, pool.items, "Pool should start empty")

		buf := pool.Get()
		require.NotNil(t, buf, "Get() should not return a nil buffer")

		testString := "hello world"
		buf.WriteString(testString)
		assert.Equal(t, testString, buf.String(), "Buffer content should match what was written")

		pool.Put(buf)
		require.Len(t, pool.items, 1)

		// Get another buffer, it should be the same one but reset
		buf2 := pool.Get()
		assert.Same(t, buf, buf2)
		assert.Equal(t, 0, buf2.Len(), "Reused buffer should be reset (length 0)")

		hits, misses, created, size := pool.GetMetrics()
		assert.Equal(t, uint64(1), hits)
		assert.Equal(t, uint64(1), misses)
		assert.Equal(t, uint64(1), created)
		assert.Equal(t, int64(0), size)
	})

	t.Run("Bounded idle buffers", func(t *testing.T) {
		pool := NewBufferPool(0, 2)
		bufs := []*bytes.Buffer{pool.Get(), pool.Get(), pool.Get()}
		for _, b := range bufs {
			pool.Put(b)
		}
		require.Len(t, pool.items, 2)
		_, _, _, size := pool.GetMetrics()
		assert.Equal(t, int64(2), size)
	})

	t.Run("With Initial Capacity", func(t *testing.T) {
		pool := NewBufferPool(128, 1)
		buf := pool.Get()
		assert.GreaterOrEqual(t, buf.Cap(), 128)
	})

	t.Run("Concurrent", func(t *testing.T) {
		pool := NewBufferPool(16, 8)
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 100; j++ {
					b := pool.Get()
					b.WriteString("x")
					pool.Put(b)
				}
			}()
		}
		wg.Wait()
		assert.LessOrEqual(t, len(pool.items), 8)
	})
}

func TestGenericPool(t *testing.T) {
	created := 0
	pool := NewGenericPool(func() *[]byte {
		created++
		b := make([]byte, 0, 8)
		return &b
	})
	b := pool.Get()
	require.NotNil(t, b)
	pool.Put(b)
	assert.GreaterOrEqual(t, created, 1)
}

func TestFileHeaderRoundTrip(t *testing.T) {
	h := NewFileHeader(DumpMagicNumber, CompressionZSTD)
	var buf bytes.Buffer
	n, err := h.WriteTo(&buf)
	require.NoError(t, err)
	assert.Equal(t, int64(14), n)
	assert.Equal(t, 14, buf.Len())

	got, err := ReadFileHeader(bytes.NewReader(buf.Bytes()), DumpMagicNumber)
	require.NoError(t, err)
	assert.Equal(t, h, got)

	_, err = ReadFileHeader(bytes.NewReader(buf.Bytes()), 0x1234)
	assert.ErrorContains(t, err, "bad magic number")

	_, err = ReadFileHeader(bytes.NewReader(buf.Bytes()[:5]), DumpMagicNumber)
	assert.Error(t, err)
}

func TestParseCompressionType(t *testing.T) {
	for _, ct := range []CompressionType{CompressionNone, CompressionSnappy, CompressionLZ4, CompressionZSTD} {
		got, err := ParseCompressionType(ct.String())
		require.NoError(t, err)
		assert.Equal(t, ct, got)
	}
	got, err := ParseCompressionType(" LZ4 ")
	require.NoError(t, err)
	assert.Equal(t, CompressionLZ4, got)
	_, err = ParseCompressionType("brotli")
	assert.Error(t, err)
}

func TestErrors(t *testing.T) {
	err := NewContractError("Finish", "not started")
	assert.True(t, IsContractError(err))
	assert.False(t, IsCorruptionError(err))
	assert.Equal(t, "contract violation in Finish: not started", err.Error())

	var c error = &CorruptionError{Path: "/x/data-1-0", Offset: 8, Value: -1}
	assert.True(t, IsCorruptionError(c))
	assert.Contains(t, c.Error(), "0xffffffff")
}
