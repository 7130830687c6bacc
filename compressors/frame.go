package compressors

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/INLOpen/chronicle/codec"
	"github.com/INLOpen/chronicle/core"
)

// MaxFrameBlock bounds the raw and compressed size of a single block in a dump
// stream.
const MaxFrameBlock = 1 << 30

// ErrCorruptFrame is returned for a dump stream whose block structure does not
// parse.
var ErrCorruptFrame = errors.New("compressors: corrupt frame")

// FrameStats counts what a FrameWriter has written.
type FrameStats struct {
	Excerpts        int64
	Blocks          int64
	RawBytes        int64
	CompressedBytes int64
}

// FrameWriter writes a dump stream: a core.FileHeader followed by compressed
// blocks. Each block is [stop-bit raw length][stop-bit compressed length][bytes]
// and its raw form is a run of [stop-bit index][stop-bit length][payload].
type FrameWriter struct {
	w          io.Writer
	compressor core.Compressor
	blockSize  int

	raw   *bytes.Buffer
	out   *bytes.Buffer
	hdr   []byte
	stats FrameStats
}

// NewFrameWriter writes the stream header to w. Blocks are flushed once they
// reach blockSize raw bytes.
func NewFrameWriter(w io.Writer, compressor core.Compressor, blockSize int) (*FrameWriter, error) {
	if blockSize <= 0 || blockSize > MaxFrameBlock {
		blockSize = core.DefaultBlockSize
	}
	h := core.NewFileHeader(core.DumpMagicNumber, compressor.Type())
	if _, err := h.WriteTo(w); err != nil {
		return nil, err
	}
	return &FrameWriter{
		w:          w,
		compressor: compressor,
		blockSize:  blockSize,
		raw:        core.BufferPool.Get(),
		out:        core.BufferPool.Get(),
		hdr:        make([]byte, 0, 2*codec.MaxStopBitLen),
	}, nil
}

// Append adds one excerpt to the current block.
func (fw *FrameWriter) Append(index int64, payload []byte) error {
	if fw.raw == nil {
		return errors.New("compressors: frame writer is closed")
	}
	fw.hdr = codec.AppendStopBit(codec.AppendStopBit(fw.hdr[:0], index), int64(len(payload)))
	fw.raw.Write(fw.hdr)
	fw.raw.Write(payload)
	fw.stats.Excerpts++
	if fw.raw.Len() >= fw.blockSize {
		return fw.Flush()
	}
	return nil
}

// Flush compresses and writes the pending block, if any.
func (fw *FrameWriter) Flush() error {
	if fw.raw == nil || fw.raw.Len() == 0 {
		return nil
	}
	if err := fw.compressor.CompressTo(fw.out, fw.raw.Bytes()); err != nil {
		return fmt.Errorf("failed to compress block: %w", err)
	}
	fw.hdr = codec.AppendStopBit(codec.AppendStopBit(fw.hdr[:0], int64(fw.raw.Len())), int64(fw.out.Len()))
	if _, err := fw.w.Write(fw.hdr); err != nil {
		return fmt.Errorf("failed to write block header: %w", err)
	}
	if _, err := fw.w.Write(fw.out.Bytes()); err != nil {
		return fmt.Errorf("failed to write block: %w", err)
	}
	fw.stats.Blocks++
	fw.stats.RawBytes += int64(fw.raw.Len())
	fw.stats.CompressedBytes += int64(len(fw.hdr) + fw.out.Len())
	fw.raw.Reset()
	return nil
}

func (fw *FrameWriter) Stats() FrameStats { return fw.stats }

// Close flushes the last block and returns the writer's buffers to the pool.
// The underlying writer is left open.
func (fw *FrameWriter) Close() error {
	if fw.raw == nil {
		return nil
	}
	err := fw.Flush()
	core.BufferPool.Put(fw.raw)
	core.BufferPool.Put(fw.out)
	fw.raw, fw.out = nil, nil
	return err
}

// FrameReader reads a stream written by FrameWriter.
type FrameReader struct {
	r          *bufio.Reader
	header     core.FileHeader
	compressor core.Compressor

	comp  []byte
	block []byte
	pos   int
}

// NewFrameReader reads and checks the stream header and picks the matching
// compressor.
func NewFrameReader(r io.Reader) (*FrameReader, error) {
	br := bufio.NewReader(r)
	h, err := core.ReadFileHeader(br, core.DumpMagicNumber)
	if err != nil {
		return nil, err
	}
	c, err := New(h.CompressorType)
	if err != nil {
		return nil, err
	}
	return &FrameReader{r: br, header: h, compressor: c}, nil
}

func (fr *FrameReader) Header() core.FileHeader { return fr.header }

// Next returns the next excerpt. The payload is only valid until the following
// call. At the end of the stream it returns io.EOF.
func (fr *FrameReader) Next() (int64, []byte, error) {
	for fr.pos >= len(fr.block) {
		if err := fr.readBlock(); err != nil {
			return 0, nil, err
		}
	}
	index, off, err := codec.StopBit(fr.block, fr.pos)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: excerpt index: %v", ErrCorruptFrame, err)
	}
	n, off, err := codec.StopBit(fr.block, off)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: excerpt length: %v", ErrCorruptFrame, err)
	}
	if n < 0 || n > int64(len(fr.block)-off) {
		return 0, nil, fmt.Errorf("%w: excerpt length %d overruns block", ErrCorruptFrame, n)
	}
	end := off + int(n)
	fr.pos = end
	return index, fr.block[off:end:end], nil
}

func (fr *FrameReader) readBlock() error {
	rawLen, err := codec.ReadStopBit(fr.r)
	if err != nil {
		return err
	}
	compLen, err := codec.ReadStopBit(fr.r)
	if err != nil {
		return fmt.Errorf("%w: block header: %v", ErrCorruptFrame, err)
	}
	if rawLen < 0 || rawLen > MaxFrameBlock || compLen < 0 || compLen > MaxFrameBlock {
		return fmt.Errorf("%w: block lengths %d/%d", ErrCorruptFrame, rawLen, compLen)
	}
	if int64(cap(fr.comp)) < compLen {
		fr.comp = make([]byte, compLen)
	}
	fr.comp = fr.comp[:compLen]
	if _, err := io.ReadFull(fr.r, fr.comp); err != nil {
		return fmt.Errorf("%w: block body: %v", ErrCorruptFrame, err)
	}

	rc, err := fr.compressor.Decompress(fr.comp)
	if err != nil {
		return err
	}
	defer rc.Close()
	if int64(cap(fr.block)) < rawLen {
		fr.block = make([]byte, rawLen)
	}
	fr.block = fr.block[:rawLen]
	if _, err := io.ReadFull(rc, fr.block); err != nil {
		return fmt.Errorf("%w: decompressed block shorter than %d bytes: %v", ErrCorruptFrame, rawLen, err)
	}
	fr.pos = 0
	return nil
}
