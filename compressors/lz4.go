package compressors

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/INLOpen/chronicle/core"
	lz4 "github.com/pierrec/lz4/v4"
)

// maxLZ4Block caps how far Decompress grows its output buffer, since the LZ4
// block format does not record the uncompressed size.
const maxLZ4Block = 64 * 1024 * 1024

// LZ4Compressor uses the LZ4 block format. Hash tables are pooled.
type LZ4Compressor struct {
	compressors *core.GenericPool[*lz4.Compressor]
}

var _ core.Compressor = (*LZ4Compressor)(nil)

func NewLz4Compressor() *LZ4Compressor {
	return &LZ4Compressor{
		compressors: core.NewGenericPool(func() *lz4.Compressor { return &lz4.Compressor{} }),
	}
}

func (c *LZ4Compressor) compressBlock(src, dst []byte) (int, error) {
	lc := c.compressors.Get()
	defer c.compressors.Put(lc)
	n, err := lc.CompressBlock(src, dst)
	if err != nil {
		return 0, fmt.Errorf("lz4 compress error: %w", err)
	}
	if n == 0 && len(src) > 0 {
		return 0, errors.New("lz4 compression resulted in zero bytes for non-empty input")
	}
	return n, nil
}

func (c *LZ4Compressor) Compress(data []byte) ([]byte, error) {
	dst := make([]byte, lz4.CompressBlockBound(len(data)))
	n, err := c.compressBlock(data, dst)
	if err != nil {
		return nil, err
	}
	return dst[:n], nil
}

func (c *LZ4Compressor) Decompress(data []byte) (io.ReadCloser, error) {
	if len(data) == 0 {
		return io.NopCloser(bytes.NewReader(nil)), nil
	}
	dstSize := len(data) * 3
	if dstSize < 1024 {
		dstSize = 1024
	}
	dst := make([]byte, dstSize)
	for {
		n, err := lz4.UncompressBlock(data, dst)
		if err == nil {
			return io.NopCloser(bytes.NewReader(dst[:n])), nil
		}
		if !errors.Is(err, lz4.ErrInvalidSourceShortBuffer) {
			return nil, fmt.Errorf("lz4 decompress error: %w", err)
		}
		if len(dst) >= maxLZ4Block {
			return nil, fmt.Errorf("lz4 decompression buffer grew beyond %d bytes", maxLZ4Block)
		}
		dst = make([]byte, len(dst)*2)
	}
}

func (c *LZ4Compressor) Type() core.CompressionType {
	return core.CompressionLZ4
}

// CompressTo compresses src into dst's spare capacity.
func (c *LZ4Compressor) CompressTo(dst *bytes.Buffer, src []byte) error {
	dst.Reset()
	bound := lz4.CompressBlockBound(len(src))
	dst.Grow(bound)
	scratch := dst.AvailableBuffer()[:bound]
	n, err := c.compressBlock(src, scratch)
	if err != nil {
		return err
	}
	_, err = dst.Write(scratch[:n])
	return err
}
