// Package membuf implements the module's memory tier: a pool of reference
// counted byte buffers used to assemble the contiguous header+path message
// images handed to provider transports.
//
// A buffer is acquired with GetBuf() (returned with one hold), passed around
// with Hold()/Release(), and returns to the pool on the final Release().
// Accessing a buffer after its final release is a bug; the reference count
// panics on underflow to surface it.
package membuf

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Buf is a reference counted memory buffer.
type Buf struct {
	pool    *BufPool
	refCnt  int32  // updated atomically
	origBuf []byte // original allocation
	Buf     []byte // current payload window
}

// Hold gets an additional hold on the buffer.
func (buf *Buf) Hold() {
	newCnt := atomic.AddInt32(&buf.refCnt, 1)
	if newCnt < 2 {
		panic(fmt.Sprintf("membuf.(*Buf).Hold(): buffer at %p was not held when called: newCnt %d", buf, newCnt))
	}
}

// Release drops a hold on the buffer, returning it to its pool when the
// count reaches zero.
func (buf *Buf) Release() {
	newCnt := atomic.AddInt32(&buf.refCnt, -1)
	if newCnt == 0 {
		buf.pool.put(buf)
	} else if newCnt < 0 {
		panic(fmt.Sprintf("membuf.(*Buf).Release(): buffer at %p was not held when called: newCnt %d", buf, newCnt))
	}
}

// BufPool is a pool of reference counted buffers of a single size.
type BufPool struct {
	bufPool sync.Pool
	bufSz   int
}

// NewBufPool creates a pool whose buffers start with capacity bufSz.
func NewBufPool(bufSz int) (pool *BufPool) {
	pool = &BufPool{bufSz: bufSz}
	pool.bufPool.New = func() interface{} {
		return &Buf{
			pool:    pool,
			origBuf: make([]byte, 0, bufSz),
		}
	}
	return
}

// GetBuf returns a buffer holding one reference, with an empty payload
// window.
func (pool *BufPool) GetBuf() (buf *Buf) {
	buf = pool.bufPool.Get().(*Buf)
	buf.Buf = buf.origBuf[:0]
	atomic.StoreInt32(&buf.refCnt, 1)
	return
}

// BufSize returns the pool's nominal buffer capacity.
func (pool *BufPool) BufSize() int {
	return pool.bufSz
}

func (pool *BufPool) put(buf *Buf) {
	buf.Buf = nil
	pool.bufPool.Put(buf)
}
