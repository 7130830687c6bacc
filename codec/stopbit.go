// Package codec holds the small field encodings used inside excerpt payloads:
// stop-bit integers, length-prefixed character strings and OpenHFT booleans.
// They are wire compatible with Chronicle's Java encoders.
package codec

import (
	"errors"
	"io"
)

// MaxStopBitLen is the longest encoding of any int64.
const MaxStopBitLen = 10

var (
	ErrStopBitTooLongPositive = errors.New("codec: more than 9 stop-bit bytes in a positive value")
	ErrStopBitTooLongNegative = errors.New("codec: more than 10 stop-bit bytes in a negative value")
)

// StopBitLen returns the number of bytes PutStopBit writes for v.
func StopBitLen(v int64) int {
	if v&^0x7F == 0 {
		return 1
	}
	if v&^0x3FFF == 0 {
		return 2
	}
	n := 1
	if v < 0 {
		v = ^v
		n++
	}
	for u := uint64(v) >> 7; u != 0; u >>= 7 {
		n++
	}
	return n
}

// PutStopBit encodes v at buf[off:] and returns the offset after it. Each byte
// carries seven bits, low first, with the top bit set on every byte but the
// last. Negative values are stored complemented and terminated by a zero byte.
// buf must have room for StopBitLen(v) bytes.
func PutStopBit(buf []byte, off int, v int64) int {
	if v&^0x7F == 0 {
		buf[off] = byte(v)
		return off + 1
	}
	if v&^0x3FFF == 0 {
		buf[off] = byte(v&0x7F) | 0x80
		buf[off+1] = byte(v >> 7)
		return off + 2
	}
	neg := v < 0
	if neg {
		v = ^v
	}
	u := uint64(v)
	for u>>7 != 0 {
		buf[off] = byte(u) | 0x80
		off++
		u >>= 7
	}
	if !neg {
		buf[off] = byte(u)
		return off + 1
	}
	buf[off] = byte(u) | 0x80
	buf[off+1] = 0
	return off + 2
}

// AppendStopBit appends the encoding of v to dst.
func AppendStopBit(dst []byte, v int64) []byte {
	var tmp [MaxStopBitLen]byte
	n := PutStopBit(tmp[:], 0, v)
	return append(dst, tmp[:n]...)
}

// StopBit decodes a value at buf[off:] and returns it with the offset after it.
func StopBit(buf []byte, off int) (int64, int, error) {
	if off >= len(buf) {
		return 0, off, io.ErrUnexpectedEOF
	}
	l := int64(int8(buf[off]))
	off++
	if l >= 0 {
		return l, off, nil
	}
	l &= 0x7F
	count := 7
	var b int64
	for {
		if off >= len(buf) {
			return 0, off, io.ErrUnexpectedEOF
		}
		b = int64(int8(buf[off]))
		off++
		if b >= 0 {
			break
		}
		if count > 63 {
			return 0, off, ErrStopBitTooLongNegative
		}
		l |= (b & 0x7F) << count
		count += 7
	}
	if b != 0 {
		if count > 56 {
			return 0, off, ErrStopBitTooLongPositive
		}
		return l | b<<count, off, nil
	}
	if count > 63 {
		return 0, off, ErrStopBitTooLongNegative
	}
	return ^l, off, nil
}

// ReadStopBit decodes a value from r. A clean io.EOF is returned only when r is
// exhausted before the first byte.
func ReadStopBit(r io.ByteReader) (int64, error) {
	first, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	l := int64(int8(first))
	if l >= 0 {
		return l, nil
	}
	l &= 0x7F
	count := 7
	var b int64
	for {
		c, err := r.ReadByte()
		if err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return 0, err
		}
		b = int64(int8(c))
		if b >= 0 {
			break
		}
		if count > 63 {
			return 0, ErrStopBitTooLongNegative
		}
		l |= (b & 0x7F) << count
		count += 7
	}
	if b != 0 {
		if count > 56 {
			return 0, ErrStopBitTooLongPositive
		}
		return l | b<<count, nil
	}
	if count > 63 {
		return 0, ErrStopBitTooLongNegative
	}
	return ^l, nil
}
