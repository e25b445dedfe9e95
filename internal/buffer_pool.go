package internal

import (
	"bytes"
	"sync"
)

// BufferPool recycles scratch byte buffers used to format wire lines,
// avoiding a fresh allocation per VALUE line on the server's hot path
// (adapted from the teacher's internal/buffer_pool.go; exported so
// wireformat.go outside this package can share one pool instance).
type BufferPool struct {
	pool sync.Pool
}

// NewBufferPool creates a BufferPool whose buffers start with initialSize
// bytes of backing capacity.
func NewBufferPool(initialSize int) *BufferPool {
	return &BufferPool{
		pool: sync.Pool{
			New: func() any {
				return bytes.NewBuffer(make([]byte, 0, initialSize))
			},
		},
	}
}

func (p *BufferPool) Get() *bytes.Buffer {
	return p.pool.Get().(*bytes.Buffer)
}

func (p *BufferPool) Put(buf *bytes.Buffer) {
	buf.Reset()
	p.pool.Put(buf)
}
