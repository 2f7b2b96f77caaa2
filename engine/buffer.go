package engine

import (
	"sync"
)

// BufferPool hands out reusable part-sized byte buffers so concurrent part
// reads do not churn the garbage collector.
type BufferPool struct {
	pool sync.Pool
	size int64
}

// NewBufferPool creates a pool of buffers of the given size, typically the
// plan's chunk size.
func NewBufferPool(size int64) *BufferPool {
	return &BufferPool{
		size: size,
		pool: sync.Pool{
			New: func() any {
				b := make([]byte, size)
				return &b
			},
		},
	}
}

// Get retrieves a buffer. The caller should defer Put once finished.
func (bp *BufferPool) Get() *[]byte {
	return bp.pool.Get().(*[]byte)
}

// Put returns a buffer to the pool. The caller must not touch it afterwards.
func (bp *BufferPool) Put(b *[]byte) {
	if b != nil && int64(cap(*b)) >= bp.size {
		bp.pool.Put(b)
	}
}
