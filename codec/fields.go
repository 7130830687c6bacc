package codec

import (
	"fmt"
	"io"
)

// CharsLen returns the encoded size of s.
func CharsLen(s string) int {
	return StopBitLen(int64(len(s))) + len(s)
}

// PutChars writes s as a stop-bit byte count followed by its bytes.
func PutChars(buf []byte, off int, s string) int {
	off = PutStopBit(buf, off, int64(len(s)))
	return off + copy(buf[off:], s)
}

// Chars reads a string written by PutChars.
func Chars(buf []byte, off int) (string, int, error) {
	n, off, err := StopBit(buf, off)
	if err != nil {
		return "", off, err
	}
	if n < 0 || n > int64(len(buf)-off) {
		return "", off, fmt.Errorf("codec: chars length %d exceeds %d remaining bytes: %w", n, len(buf)-off, io.ErrUnexpectedEOF)
	}
	end := off + int(n)
	return string(buf[off:end]), end, nil
}

// PutBool writes an OpenHFT boolean: 'Y' for true, 0 for false.
func PutBool(buf []byte, off int, v bool) int {
	if v {
		buf[off] = 'Y'
	} else {
		buf[off] = 0
	}
	return off + 1
}

// Bool reads an OpenHFT boolean; any non-zero byte is true.
func Bool(buf []byte, off int) (bool, int) {
	return buf[off] != 0, off + 1
}
