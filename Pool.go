package acebase

import (
	"sync"
	"sync/atomic"
)

// bufferPool hands out scratch byte slices for record/chunk encode-decode
// work, avoiding an allocation on every read or write. Grounded on the
// teacher's NodePool.go (a sync.Pool plus an explicit max-size counter and
// reset-on-return), repurposed here from pooling trie nodes to pooling plain
// byte buffers, since this format has no equivalent node struct outside the
// embedded B+tree's own node cache.
type bufferPool struct {
	pool    sync.Pool
	maxSize int64

	current int64
}

func newBufferPool(maxSize int) *bufferPool {
	return &bufferPool{
		maxSize: int64(maxSize),
		pool: sync.Pool{
			New: func() any {
				buf := make([]byte, 0, 256)
				return &buf
			},
		},
	}
}

// get returns a zero-length scratch buffer with at least the given capacity,
// decrementing the resident count (floored at 0, since a Get may return a
// freshly New()'d buffer rather than one that was ever Put back).
func (p *bufferPool) get(capHint int) []byte {
	ptr := p.pool.Get().(*[]byte)
	if atomic.LoadInt64(&p.current) > 0 {
		atomic.AddInt64(&p.current, -1)
	}

	buf := *ptr
	if cap(buf) < capHint {
		buf = make([]byte, 0, capHint)
	}
	return buf[:0]
}

// put returns buf to the pool, unless the pool is already at capacity, in
// which case buf is dropped for the garbage collector.
func (p *bufferPool) put(buf []byte) {
	if atomic.LoadInt64(&p.current) < p.maxSize {
		buf = buf[:0]
		p.pool.Put(&buf)
		atomic.AddInt64(&p.current, 1)
	}
}
