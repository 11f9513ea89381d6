package transfer

import "sync"

// DefaultBufferSize is the default copy buffer capacity (32 KB).
const DefaultBufferSize = 32 * 1024

// BufferPool hands out fixed-size copy buffers. A buffer belongs to one
// transfer between Get and Put and is never shared while in use.
type BufferPool struct {
	pool sync.Pool
	size int
}

// NewBufferPool creates a pool of size-byte buffers.
func NewBufferPool(size int) *BufferPool {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &BufferPool{
		pool: sync.Pool{
			New: func() interface{} {
				buf := make([]byte, size)
				return &buf
			},
		},
		size: size,
	}
}

// Size returns the capacity of every buffer in the pool.
func (p *BufferPool) Size() int { return p.size }

// Get returns a buffer from the pool.
func (p *BufferPool) Get() *[]byte {
	return p.pool.Get().(*[]byte)
}

// Put returns a buffer to the pool.
func (p *BufferPool) Put(buf *[]byte) {
	if buf != nil && len(*buf) == p.size {
		p.pool.Put(buf)
	}
}
