package evslice

import (
	"fmt"
	"sync/atomic"
)

type listTag uint8

const (
	listNone listTag = iota
	listPool
	listQueue
)

// Buffer is a pool-owned byte region. Bytes [cursor, length) are the part
// still waiting to be consumed or flushed.
type Buffer struct {
	data   []byte
	length int
	cursor int
	list   listTag
}

func (b *Buffer) Cap() int {
	return len(b.data)
}

func (b *Buffer) Len() int {
	return b.length
}

func (b *Buffer) Cursor() int {
	return b.cursor
}

func (b *Buffer) Bytes() []byte {
	return b.data[:b.length]
}

func (b *Buffer) Unflushed() []byte {
	return b.data[b.cursor:b.length]
}

// Write appends as much of p as fits in the remaining capacity and
// returns the number of bytes copied.
func (b *Buffer) Write(p []byte) int {
	n := copy(b.data[b.length:], p)
	b.length += n
	return n
}

func (b *Buffer) Reset() {
	b.length = 0
	b.cursor = 0
}

// compact moves the unconsumed bytes to the front of the buffer.
func (b *Buffer) compact() {
	if b.cursor == 0 {
		return
	}
	b.length = copy(b.data, b.data[b.cursor:b.length])
	b.cursor = 0
}

// Linked reports whether the buffer is a member of the pool's free list or
// of a connection's write queue.
func (b *Buffer) Linked() bool {
	return b.list != listNone
}

func (b *Buffer) tail() []byte {
	return b.data[b.length:]
}

func (b *Buffer) free() int {
	return len(b.data) - b.length
}

// PoolMetrics counts pool traffic. New + Reused is the number of acquires,
// New + Reused - PutBack - Dropped the number of buffers still out.
type PoolMetrics struct {
	New     uint64
	Reused  uint64
	PutBack uint64
	Dropped uint64
}

func (m PoolMetrics) String() string {
	return fmt.Sprintf("[ %v|%v|%v|%v ]", m.New, m.Reused, m.PutBack, m.Dropped)
}

// BufferPool hands out buffers in multiples of the block size and retains
// up to maxRetained released ones for first-fit reuse. It is owned by the
// reactor goroutine; only Metrics is safe to call from elsewhere.
type BufferPool struct {
	blockSize   int
	maxRetained int
	free        []*Buffer

	nn, nr, np, nd uint64
}

func NewBufferPool(blockSize, maxRetained int) *BufferPool {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	if maxRetained < 0 {
		maxRetained = 0
	}
	return &BufferPool{
		blockSize:   blockSize,
		maxRetained: maxRetained,
	}
}

func (p *BufferPool) roundUp(n int) int {
	if n <= 0 {
		n = 1
	}
	return (n + p.blockSize - 1) / p.blockSize * p.blockSize
}

func (p *BufferPool) Acquire(min int) *Buffer {
	size := p.roundUp(min)
	for i, b := range p.free {
		if len(b.data) < size {
			continue
		}
		copy(p.free[i:], p.free[i+1:])
		p.free[len(p.free)-1] = nil
		p.free = p.free[:len(p.free)-1]
		b.list = listNone
		b.Reset()
		atomic.AddUint64(&p.nr, 1)
		return b
	}
	atomic.AddUint64(&p.nn, 1)
	return &Buffer{data: make([]byte, size)}
}

// Grow makes room for more bytes after the logical length. Content is
// preserved; the buffer must not be linked.
func (p *BufferPool) Grow(b *Buffer, more int) error {
	if b == nil || more < 0 {
		return opError("grow", ErrInvalidParam)
	}
	if b.length+more <= len(b.data) {
		return nil
	}
	if b.Linked() {
		return opError("grow", ErrBufferLinked)
	}
	data := make([]byte, p.roundUp(b.length+more))
	copy(data, b.data[:b.length])
	b.data = data
	return nil
}

func (p *BufferPool) Release(b *Buffer) error {
	if b == nil {
		return opError("release", ErrInvalidParam)
	}
	if b.Linked() {
		return opError("release", ErrBufferLinked)
	}
	if len(p.free) >= p.maxRetained {
		atomic.AddUint64(&p.nd, 1)
		return nil
	}
	b.Reset()
	b.list = listPool
	p.free = append(p.free, b)
	atomic.AddUint64(&p.np, 1)
	return nil
}

// Drain drops every retained buffer.
func (p *BufferPool) Drain() {
	for i, b := range p.free {
		b.list = listNone
		p.free[i] = nil
	}
	p.free = p.free[:0]
}

func (p *BufferPool) Len() int {
	return len(p.free)
}

func (p *BufferPool) MaxRetained() int {
	return p.maxRetained
}

func (p *BufferPool) BlockSize() int {
	return p.blockSize
}

func (p *BufferPool) Metrics() PoolMetrics {
	return PoolMetrics{
		New:     atomic.LoadUint64(&p.nn),
		Reused:  atomic.LoadUint64(&p.nr),
		PutBack: atomic.LoadUint64(&p.np),
		Dropped: atomic.LoadUint64(&p.nd),
	}
}
