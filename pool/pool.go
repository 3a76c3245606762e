// Package pool implements the connection's scratch-buffer pooling,
// sharded across a fixed number of sync.Pool instances to avoid a single
// contended pool becoming a hot-path bottleneck under high connection
// counts.
package pool

import (
	"sync"
	"sync/atomic"
)

const shardCount = 16

// BufferPool hands out byte slices of a fixed capacity, reusing ones
// returned by Put. Each call picks a shard round-robin so concurrent
// Get/Put from many connection goroutines don't serialize on one
// sync.Pool's internal lock contention path.
type BufferPool struct {
	size   int
	shards [shardCount]sync.Pool
	next   atomic.Uint32
}

// New builds a pool handing out buffers of the given capacity.
func New(bufSize int) *BufferPool {
	p := &BufferPool{size: bufSize}
	for i := range p.shards {
		p.shards[i].New = func() any {
			return make([]byte, bufSize)
		}
	}
	return p
}

func (p *BufferPool) shard() *sync.Pool {
	i := p.next.Add(1) % shardCount
	return &p.shards[i]
}

// Get returns a buffer of the pool's configured capacity. Its contents
// are not zeroed.
func (p *BufferPool) Get() []byte {
	return p.shard().Get().([]byte)
}

// Put returns buf to the pool if it has the pool's configured capacity
// (anything else is discarded rather than risk handing out an
// undersized buffer later).
func (p *BufferPool) Put(buf []byte) {
	if cap(buf) != p.size {
		return
	}
	p.shard().Put(buf[:p.size])
}
