// Package bufpool hands out reusable chunk buffers.
//
// Chunk sizes change from one iteration to the next as transfers start and
// finish, so buffers are pooled per size.
package bufpool

import (
	"sync"
)

// Pool provides byte buffers of one fixed size.
type Pool struct {
	pool    sync.Pool
	bufSize int
}

var pools sync.Map // map[int]*Pool

// New creates a pool of buffers of exactly bufSize bytes. Sizes below one are
// raised to one: a chunk buffer is never empty.
func New(bufSize int) *Pool {
	if bufSize < 1 {
		bufSize = 1
	}
	p := &Pool{bufSize: bufSize}
	p.pool.New = func() any {
		b := make([]byte, bufSize)
		return &b
	}
	return p
}

// For returns the shared pool for bufSize, creating it on first use.
func For(bufSize int) *Pool {
	if bufSize < 1 {
		bufSize = 1
	}
	if p, ok := pools.Load(bufSize); ok {
		return p.(*Pool)
	}
	p, _ := pools.LoadOrStore(bufSize, New(bufSize))
	return p.(*Pool)
}

// Get returns a buffer of exactly BufSize bytes.
func (p *Pool) Get() []byte {
	bp := p.pool.Get().(*[]byte)
	if cap(*bp) < p.bufSize {
		return make([]byte, p.bufSize)
	}
	return (*bp)[:p.bufSize]
}

// Put returns buf to the pool. Buffers smaller than BufSize are dropped.
func (p *Pool) Put(buf []byte) {
	if cap(buf) < p.bufSize {
		return
	}
	buf = buf[:p.bufSize]
	p.pool.Put(&buf)
}

// BufSize returns the size of buffers in this pool.
func (p *Pool) BufSize() int {
	return p.bufSize
}

// Get borrows a buffer of bufSize bytes from the shared pool for that size.
func Get(bufSize int) []byte {
	return For(bufSize).Get()
}

// Put returns a buffer obtained from Get to the shared pool for its length.
func Put(buf []byte) {
	if len(buf) == 0 {
		return
	}
	For(len(buf)).Put(buf)
}
