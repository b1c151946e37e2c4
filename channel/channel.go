package channel

import (
	"io"
	"sync"

	"github.com/hioload/wsgate/core/buffer"
)

// readChunk is the number of bytes pulled from the underlying reader per
// ReadAsync call when the pending buffer needs growing.
const readChunk = 4096

// Channel implements the §6 byte-channel contract over any
// io.ReadWriteCloser: a segmented input side that grows across repeated
// ReadAsync calls until the caller Advances past consumed bytes, and an
// output side that accumulates a WritableBuffer before a single flush.
//
// This is the "buffer-pooled byte-channel runtime" the core spec names only
// by interface; transport/tcp wires a net.Conn underneath one.
type Channel struct {
	rw   io.ReadWriteCloser
	pool *buffer.Pool

	mu        sync.Mutex
	pending   []span
	completed bool
	err       error
}

// New wraps rw in a Channel backed by pool. A nil pool uses the shared
// process-wide default pool.
func New(rw io.ReadWriteCloser, pool *buffer.Pool) *Channel {
	if pool == nil {
		pool = buffer.Default
	}
	return &Channel{rw: rw, pool: pool}
}

// ReadAsync returns a view over everything buffered so far plus, if no
// error has previously completed the input, one more chunk read from the
// underlying reader. is_completed reports end-of-stream; once true, the
// returned buffer will never grow further. Repeated calls without an
// intervening Advance keep returning a buffer that has grown by one more
// chunk each time, matching the channel contract's unbounded-segmented-read
// semantics.
func (c *Channel) ReadAsync() (ReadableBuffer, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.completed {
		return ReadableBuffer{spans: c.pending}, true, c.err
	}

	slab := c.pool.Get(readChunk)
	n, err := c.rw.Read(slab.Bytes())
	if n > 0 {
		c.pending = append(c.pending, span{slab: slab, start: 0, end: n})
	} else {
		slab.Release()
	}
	if err != nil {
		c.completed = true
		if err != io.EOF {
			c.err = err
		}
	}
	return ReadableBuffer{spans: c.pending}, c.completed, c.err
}

// Advance releases n leading bytes from the pending buffer back to the
// pool, recycling any slab that becomes fully consumed. It is a
// programming error to advance past a partial line/frame the caller has
// not yet fully parsed; Advance only ever drops whole bytes the caller
// already confirmed it is done with.
func (c *Channel) Advance(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for n > 0 && len(c.pending) > 0 {
		s := &c.pending[0]
		l := s.len()
		if n < l {
			s.start += n
			n = 0
			break
		}
		n -= l
		s.slab.Release()
		c.pending = c.pending[1:]
	}
}

// Complete signals end-of-stream to readers; subsequent ReadAsync calls
// return the bytes still pending (if any) with is_completed true.
func (c *Channel) Complete(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.completed = true
	c.err = err
}

// Alloc returns a fresh WritableBuffer whose FlushAsync writes directly to
// the underlying writer.
func (c *Channel) Alloc() *WritableBuffer {
	return &WritableBuffer{flush: func(b []byte) error {
		_, err := c.rw.Write(b)
		return err
	}}
}

// CompleteOutput closes the underlying writer's write side by closing the
// whole connection; io.ReadWriteCloser has no half-close, so this mirrors
// the teacher's transport.Close semantics.
func (c *Channel) CompleteOutput(err error) error {
	return c.rw.Close()
}
