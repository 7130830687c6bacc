package compressors

import (
	"bytes"
	"fmt"
	"io"
	"testing"

	"github.com/INLOpen/chronicle/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type frameRecord struct {
	index   int64
	payload []byte
}

func frameRecords(n int) []frameRecord {
	out := make([]frameRecord, n)
	for i := range out {
		out[i] = frameRecord{
			index:   int64(19000)<<32 | int64(i),
			payload: []byte(fmt.Sprintf("excerpt-%06d-%s", i, bytes.Repeat([]byte{'x'}, i%50))),
		}
	}
	out[n/2].payload = []byte{}
	return out
}

func TestFrameRoundTrip(t *testing.T) {
	records := frameRecords(2000)
	for _, c := range allCompressors(t) {
		t.Run(c.Type().String(), func(t *testing.T) {
			var stream bytes.Buffer
			fw, err := NewFrameWriter(&stream, c, 4096)
			require.NoError(t, err)
			for _, r := range records {
				require.NoError(t, fw.Append(r.index, r.payload))
			}
			require.NoError(t, fw.Close())
			require.NoError(t, fw.Close())

			stats := fw.Stats()
			assert.Equal(t, int64(len(records)), stats.Excerpts)
			assert.Greater(t, stats.Blocks, int64(1))

			fr, err := NewFrameReader(bytes.NewReader(stream.Bytes()))
			require.NoError(t, err)
			assert.Equal(t, c.Type(), fr.Header().CompressorType)
			assert.Equal(t, core.FormatVersion, fr.Header().Version)
			for _, want := range records {
				idx, payload, err := fr.Next()
				require.NoError(t, err)
				assert.Equal(t, want.index, idx)
				assert.Equal(t, want.payload, payload)
			}
			_, _, err = fr.Next()
			assert.ErrorIs(t, err, io.EOF)
		})
	}
}

func TestFrameEmptyStream(t *testing.T) {
	var stream bytes.Buffer
	fw, err := NewFrameWriter(&stream, &NoCompressionCompressor{}, 0)
	require.NoError(t, err)
	require.NoError(t, fw.Close())

	fr, err := NewFrameReader(&stream)
	require.NoError(t, err)
	_, _, err = fr.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestFrameAppendAfterClose(t *testing.T) {
	fw, err := NewFrameWriter(io.Discard, NewSnappyCompressor(), 0)
	require.NoError(t, err)
	require.NoError(t, fw.Close())
	assert.Error(t, fw.Append(1, []byte("late")))
}

func TestFrameBadMagic(t *testing.T) {
	_, err := NewFrameReader(bytes.NewReader(make([]byte, 32)))
	assert.ErrorContains(t, err, "bad magic number")
}

func TestFrameTruncated(t *testing.T) {
	var stream bytes.Buffer
	fw, err := NewFrameWriter(&stream, NewLz4Compressor(), 1<<20)
	require.NoError(t, err)
	for _, r := range frameRecords(100) {
		require.NoError(t, fw.Append(r.index, r.payload))
	}
	require.NoError(t, fw.Close())

	cut := stream.Bytes()[:stream.Len()-10]
	fr, err := NewFrameReader(bytes.NewReader(cut))
	require.NoError(t, err)
	_, _, err = fr.Next()
	assert.ErrorIs(t, err, ErrCorruptFrame)
}
