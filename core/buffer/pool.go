// Package buffer implements the PreservedBuffer contract's backing store: a
// size-classed, reference-counted slab pool. A Slab is the unit of pooled
// memory and carries its own reference count (Retain/Release). The channel
// package builds ReadableBuffer views and the refcounted PreservedBuffer
// handle on top of Slabs; this package only owns allocation and reuse.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package buffer

import (
	"sync"
	"sync/atomic"
)

// sizeClasses are the power-of-two buffer sizes the pool rounds requests up
// to, bounding fragmentation the way the teacher's manager does.
var sizeClasses = [...]int{
	256,
	1024,
	4 * 1024,
	16 * 1024,
	64 * 1024,
	256 * 1024,
	1024 * 1024,
}

func classFor(size int) int {
	for _, c := range sizeClasses {
		if size <= c {
			return c
		}
	}
	return size // oversized request: allocate exactly, don't pool it
}

// Slab is one pooled allocation. It is never mutated concurrently by more
// than one Buffer view at a time; callers coordinate that externally (the
// connection's write lock, the channel's single-reader discipline).
type Slab struct {
	data  []byte
	class int
	pool  *Pool // nil for oversized, unpooled slabs
	refs  int32
}

// Bytes returns the full underlying storage. Buffer views slice into this.
func (s *Slab) Bytes() []byte { return s.data }

// Retain adds one reference; every Retain must be matched by a Release.
func (s *Slab) Retain() {
	atomic.AddInt32(&s.refs, 1)
}

// Release drops one reference, returning the slab to its pool once the
// last reference is gone.
func (s *Slab) Release() {
	if atomic.AddInt32(&s.refs, -1) == 0 {
		if s.pool != nil {
			s.pool.put(s)
		}
	}
}

// Pool is a size-classed sync.Pool wrapper producing refcounted Slabs.
type Pool struct {
	classes map[int]*sync.Pool
}

// NewPool builds a pool with one empty subpool per size class; slabs
// inside each subpool are allocated on demand.
func NewPool() *Pool {
	p := &Pool{classes: make(map[int]*sync.Pool, len(sizeClasses))}
	for _, c := range sizeClasses {
		class := c
		p.classes[class] = &sync.Pool{New: func() any {
			return make([]byte, class)
		}}
	}
	return p
}

// Get returns a Slab sized to cover at least n bytes, with refcount 1. The
// caller owns that one reference and must call Release (directly, or via a
// channel.PreservedBuffer holding it) exactly once.
func (p *Pool) Get(n int) *Slab {
	class := classFor(n)
	sp, pooled := p.classes[class]
	var data []byte
	if pooled {
		data = sp.Get().([]byte)
	} else {
		data = make([]byte, class)
	}
	s := &Slab{data: data, class: class, refs: 1}
	if pooled {
		s.pool = p
	}
	return s
}

func (p *Pool) put(s *Slab) {
	sp, ok := p.classes[s.class]
	if !ok {
		return
	}
	sp.Put(s.data)
}

// Default is a process-wide pool shared by the transport layer so unrelated
// connections still reuse the same size-classed memory.
var Default = NewPool()
