package pool

import (
	"bufio"
	"io"
	"sync"
	"sync/atomic"
)

// BufioPool hands out *bufio.Reader/*bufio.Writer pairs sized for one
// connection's header-parse and response-header buffers, sharded the
// same way BufferPool is to keep rent/return off one contended lock.
// Each connection rents a pair on start and returns it on close (Reset
// onto the new connection's stream, not reallocated).
type BufioPool struct {
	readerSize, writerSize int
	readers                [shardCount]sync.Pool
	writers                [shardCount]sync.Pool
	next                   atomic.Uint32
}

// NewBufio builds a pool for readers/writers of the given buffer sizes.
func NewBufio(readerSize, writerSize int) *BufioPool {
	p := &BufioPool{readerSize: readerSize, writerSize: writerSize}
	for i := range p.readers {
		p.readers[i].New = func() any { return bufio.NewReaderSize(nil, readerSize) }
		p.writers[i].New = func() any { return bufio.NewWriterSize(nil, writerSize) }
	}
	return p
}

func (p *BufioPool) shardIdx() uint32 {
	return p.next.Add(1) % shardCount
}

// GetReader rents a *bufio.Reader reset onto r.
func (p *BufioPool) GetReader(r io.Reader) *bufio.Reader {
	br := p.readers[p.shardIdx()].Get().(*bufio.Reader)
	br.Reset(r)
	return br
}

// PutReader returns br to the pool. Callers must not use br afterward.
func (p *BufioPool) PutReader(br *bufio.Reader) {
	br.Reset(nil)
	p.readers[p.shardIdx()].Put(br)
}

// GetWriter rents a *bufio.Writer reset onto w.
func (p *BufioPool) GetWriter(w io.Writer) *bufio.Writer {
	bw := p.writers[p.shardIdx()].Get().(*bufio.Writer)
	bw.Reset(w)
	return bw
}

// PutWriter returns bw to the pool. Callers must not use bw afterward.
func (p *BufioPool) PutWriter(bw *bufio.Writer) {
	bw.Reset(nil)
	p.writers[p.shardIdx()].Put(bw)
}
