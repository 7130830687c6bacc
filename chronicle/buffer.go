package chronicle

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/INLOpen/chronicle/codec"
)

// Buffer is a cursor over the payload of one excerpt. Fixed-width values use
// native byte order. Writing or reading past Limit panics; readers that may see
// foreign data use the error-returning variable-length readers.
type Buffer struct {
	data []byte
	pos  int
}

func (b *Buffer) reset(data []byte) {
	b.data = data
	b.pos = 0
}

func (b *Buffer) Position() int  { return b.pos }
func (b *Buffer) Limit() int     { return len(b.data) }
func (b *Buffer) Remaining() int { return len(b.data) - b.pos }

// Bytes returns the whole excerpt payload, independent of the position.
func (b *Buffer) Bytes() []byte { return b.data }

// SetPosition moves the cursor; it rejects positions outside [0, Limit()].
func (b *Buffer) SetPosition(p int) bool {
	if p < 0 || p > len(b.data) {
		return false
	}
	b.pos = p
	return true
}

func (b *Buffer) next(n int) []byte {
	s := b.data[b.pos : b.pos+n]
	b.pos += n
	return s
}

func (b *Buffer) WriteInt8(v int8)   { b.next(1)[0] = byte(v) }
func (b *Buffer) WriteInt16(v int16) { binary.NativeEndian.PutUint16(b.next(2), uint16(v)) }
func (b *Buffer) WriteInt32(v int32) { binary.NativeEndian.PutUint32(b.next(4), uint32(v)) }
func (b *Buffer) WriteInt64(v int64) { binary.NativeEndian.PutUint64(b.next(8), uint64(v)) }

func (b *Buffer) WriteUint32(v uint32) { binary.NativeEndian.PutUint32(b.next(4), v) }
func (b *Buffer) WriteUint64(v uint64) { binary.NativeEndian.PutUint64(b.next(8), v) }

func (b *Buffer) WriteFloat32(v float32) { b.WriteUint32(math.Float32bits(v)) }
func (b *Buffer) WriteFloat64(v float64) { b.WriteUint64(math.Float64bits(v)) }

// WriteBool writes 'Y' for true and 0 for false.
func (b *Buffer) WriteBool(v bool) { codec.PutBool(b.next(1), 0, v) }

func (b *Buffer) WriteRaw(p []byte) { copy(b.next(len(p)), p) }

func (b *Buffer) WriteStopBit(v int64) {
	codec.PutStopBit(b.next(codec.StopBitLen(v)), 0, v)
}

// WriteChars writes s as a stop-bit length followed by its bytes.
func (b *Buffer) WriteChars(s string) {
	codec.PutChars(b.next(codec.CharsLen(s)), 0, s)
}

// Write hands the payload and cursor to fn for custom encodings.
func (b *Buffer) Write(fn func(buf []byte, pos *int)) { fn(b.data, &b.pos) }

func (b *Buffer) ReadInt8() int8   { return int8(b.next(1)[0]) }
func (b *Buffer) ReadInt16() int16 { return int16(binary.NativeEndian.Uint16(b.next(2))) }
func (b *Buffer) ReadInt32() int32 { return int32(binary.NativeEndian.Uint32(b.next(4))) }
func (b *Buffer) ReadInt64() int64 { return int64(binary.NativeEndian.Uint64(b.next(8))) }

func (b *Buffer) ReadUint32() uint32 { return binary.NativeEndian.Uint32(b.next(4)) }
func (b *Buffer) ReadUint64() uint64 { return binary.NativeEndian.Uint64(b.next(8)) }

func (b *Buffer) ReadFloat32() float32 { return math.Float32frombits(b.ReadUint32()) }
func (b *Buffer) ReadFloat64() float64 { return math.Float64frombits(b.ReadUint64()) }

func (b *Buffer) ReadBool() bool {
	v, n := codec.Bool(b.data, b.pos)
	b.pos = n
	return v
}

// ReadRaw returns the next n bytes without copying; the slice aliases the
// mapped file and is only valid until the tailer moves.
func (b *Buffer) ReadRaw(n int) []byte { return b.next(n) }

func (b *Buffer) ReadStopBit() (int64, error) {
	v, n, err := codec.StopBit(b.data, b.pos)
	if err != nil {
		return 0, fmt.Errorf("stop bit at %d: %w", b.pos, err)
	}
	b.pos = n
	return v, nil
}

func (b *Buffer) ReadChars() (string, error) {
	s, n, err := codec.Chars(b.data, b.pos)
	if err != nil {
		return "", fmt.Errorf("chars at %d: %w", b.pos, err)
	}
	b.pos = n
	return s, nil
}

// Read hands the payload and cursor to fn for custom decodings.
func (b *Buffer) Read(fn func(buf []byte, pos *int)) { fn(b.data, &b.pos) }

var _ io.Writer = (*bufferWriter)(nil)

// bufferWriter adapts a Buffer to io.Writer, failing instead of panicking when
// the excerpt is full.
type bufferWriter struct{ b *Buffer }

func (w *bufferWriter) Write(p []byte) (int, error) {
	if len(p) > w.b.Remaining() {
		return 0, io.ErrShortBuffer
	}
	w.b.WriteRaw(p)
	return len(p), nil
}

// Writer returns an io.Writer appending at the cursor.
func (b *Buffer) Writer() io.Writer { return &bufferWriter{b} }
