package compressors

import (
	"bytes"
	"fmt"
	"io"

	"github.com/INLOpen/chronicle/core"
	"github.com/klauspost/compress/zstd"
)

// ZstdCompressor keeps pools of encoders and decoders; both are costly to
// create.
type ZstdCompressor struct {
	encoders *core.GenericPool[*zstd.Encoder]
	decoders *core.GenericPool[*zstd.Decoder]
	newErr   error
}

type zstdReadCloser struct {
	*zstd.Decoder
	pool *core.GenericPool[*zstd.Decoder]
}

// Close returns the decoder to the pool. zstd.Decoder.Close would make it
// unusable.
func (zrc *zstdReadCloser) Close() error {
	zrc.pool.Put(zrc.Decoder)
	return nil
}

var _ core.Compressor = (*ZstdCompressor)(nil)
var _ io.ReadCloser = (*zstdReadCloser)(nil)

func NewZstdCompressor() *ZstdCompressor {
	c := &ZstdCompressor{}
	c.encoders = core.NewGenericPool(func() *zstd.Encoder {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault), zstd.WithZeroFrames(true))
		if err != nil {
			c.newErr = err
			return nil
		}
		return enc
	})
	c.decoders = core.NewGenericPool(func() *zstd.Decoder {
		dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(256*1024*1024))
		if err != nil {
			c.newErr = err
			return nil
		}
		return dec
	})
	return c
}

func (c *ZstdCompressor) encoder() (*zstd.Encoder, error) {
	enc := c.encoders.Get()
	if enc == nil {
		return nil, fmt.Errorf("zstd encoder: %w", c.newErr)
	}
	return enc, nil
}

func (c *ZstdCompressor) Compress(data []byte) ([]byte, error) {
	enc, err := c.encoder()
	if err != nil {
		return nil, err
	}
	defer c.encoders.Put(enc)
	return enc.EncodeAll(data, make([]byte, 0, len(data)/2+64)), nil
}

func (c *ZstdCompressor) Decompress(data []byte) (io.ReadCloser, error) {
	dec := c.decoders.Get()
	if dec == nil {
		return nil, fmt.Errorf("zstd decoder: %w", c.newErr)
	}
	if err := dec.Reset(bytes.NewReader(data)); err != nil {
		c.decoders.Put(dec)
		return nil, fmt.Errorf("zstd decoder reset error: %w", err)
	}
	return &zstdReadCloser{Decoder: dec, pool: c.decoders}, nil
}

func (c *ZstdCompressor) Type() core.CompressionType {
	return core.CompressionZSTD
}

// CompressTo streams src through a pooled encoder into dst.
func (c *ZstdCompressor) CompressTo(dst *bytes.Buffer, src []byte) error {
	enc, err := c.encoder()
	if err != nil {
		return err
	}
	defer c.encoders.Put(enc)

	dst.Reset()
	enc.Reset(dst)
	if _, err := enc.Write(src); err != nil {
		_ = enc.Close()
		return fmt.Errorf("zstd compress (to) write error: %w", err)
	}
	return enc.Close()
}
