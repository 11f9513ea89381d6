package transfer

import (
	"errors"
	"io"
	"sync"

	"github.com/pierrec/lz4/v4"
)

var (
	ErrCompressionFailed   = errors.New("transfer: compression failed")
	ErrDecompressionFailed = errors.New("transfer: decompression failed")
)

// CompressionLevel controls the speed/ratio tradeoff.
type CompressionLevel int

const (
	CompressionFast    CompressionLevel = iota // Fastest, lower ratio
	CompressionDefault                         // Balanced
	CompressionBest                            // Best ratio, slower
)

// compressorPool reuses LZ4 writers to reduce allocations.
var compressorPool = sync.Pool{
	New: func() interface{} {
		return lz4.NewWriter(nil)
	},
}

// decompressorPool reuses LZ4 readers.
var decompressorPool = sync.Pool{
	New: func() interface{} {
		return lz4.NewReader(nil)
	},
}

// CompressWriter frames everything written to it as an LZ4 stream.
// Blocks are 64KB so the writer's footprint does not depend on the stream
// length. Close must be called to flush the final block; it does not close
// the underlying writer.
type CompressWriter struct {
	zw *lz4.Writer
}

// NewCompressWriter returns a pooled LZ4 writer on top of w.
func NewCompressWriter(w io.Writer, level CompressionLevel) *CompressWriter {
	zw := compressorPool.Get().(*lz4.Writer)
	zw.Reset(w)

	switch level {
	case CompressionFast:
		_ = zw.Apply(lz4.CompressionLevelOption(lz4.Fast), lz4.BlockSizeOption(lz4.Block64Kb))
	case CompressionBest:
		_ = zw.Apply(lz4.CompressionLevelOption(lz4.Level9), lz4.BlockSizeOption(lz4.Block64Kb))
	default:
		_ = zw.Apply(lz4.CompressionLevelOption(lz4.Level4), lz4.BlockSizeOption(lz4.Block64Kb))
	}
	return &CompressWriter{zw: zw}
}

func (c *CompressWriter) Write(p []byte) (int, error) {
	if c.zw == nil {
		return 0, ErrCompressionFailed
	}
	n, err := c.zw.Write(p)
	if err != nil {
		return n, errors.Join(ErrCompressionFailed, err)
	}
	return n, nil
}

// Close flushes the LZ4 frame and returns the writer to the pool.
func (c *CompressWriter) Close() error {
	if c.zw == nil {
		return nil
	}
	err := c.zw.Close()
	c.zw.Reset(nil)
	compressorPool.Put(c.zw)
	c.zw = nil
	if err != nil {
		return errors.Join(ErrCompressionFailed, err)
	}
	return nil
}

// DecompressReader decodes an LZ4 stream from an underlying reader.
type DecompressReader struct {
	zr *lz4.Reader
}

// NewDecompressReader returns a pooled LZ4 reader on top of r.
func NewDecompressReader(r io.Reader) *DecompressReader {
	zr := decompressorPool.Get().(*lz4.Reader)
	zr.Reset(r)
	return &DecompressReader{zr: zr}
}

func (d *DecompressReader) Read(p []byte) (int, error) {
	if d.zr == nil {
		return 0, ErrDecompressionFailed
	}
	n, err := d.zr.Read(p)
	if err != nil && err != io.EOF {
		return n, errors.Join(ErrDecompressionFailed, err)
	}
	return n, err
}

// Close returns the reader to the pool. The underlying reader is not closed.
func (d *DecompressReader) Close() error {
	if d.zr == nil {
		return nil
	}
	d.zr.Reset(nil)
	decompressorPool.Put(d.zr)
	d.zr = nil
	return nil
}
