// Package compressors implements the block compressors used by chronicle dump
// files, and the framed stream that carries excerpts through them.
package compressors

import (
	"fmt"

	"github.com/INLOpen/chronicle/core"
)

// New returns a compressor for ct.
func New(ct core.CompressionType) (core.Compressor, error) {
	switch ct {
	case core.CompressionNone:
		return &NoCompressionCompressor{}, nil
	case core.CompressionSnappy:
		return NewSnappyCompressor(), nil
	case core.CompressionLZ4:
		return NewLz4Compressor(), nil
	case core.CompressionZSTD:
		return NewZstdCompressor(), nil
	}
	return nil, fmt.Errorf("unsupported compression type %d", ct)
}

// ForName returns a compressor by its configuration name, e.g. "zstd".
func ForName(name string) (core.Compressor, error) {
	ct, err := core.ParseCompressionType(name)
	if err != nil {
		return nil, err
	}
	return New(ct)
}
