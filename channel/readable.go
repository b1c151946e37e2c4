// Package channel implements the streaming byte-channel contract of §6: a
// segmented, lazily-growing ReadableBuffer with cursor-based slicing and
// reference-counted preservation, and a WritableBuffer that accumulates an
// outbound frame before a single flush. Channel itself glues the two sides
// to an io.Reader/io.Writer (see Channel in channel.go); transport/tcp wires
// a net.Conn underneath it.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package channel

import (
	"unicode/utf8"

	"github.com/hioload/wsgate/core/buffer"
)

// span is one contiguous byte range backed by a pooled Slab.
type span struct {
	slab       *buffer.Slab
	start, end int // valid range within slab.Bytes()
}

func (s span) bytes() []byte { return s.slab.Bytes()[s.start:s.end] }
func (s span) len() int      { return s.end - s.start }

// ReadableBuffer is a read-only, zero-copy view over one or more spans
// currently buffered by a Channel. It does not own the spans; Preserve
// clones the view into a PreservedBuffer that does.
type ReadableBuffer struct {
	spans []span
}

// Len returns the total number of bytes in the view.
func (r ReadableBuffer) Len() int {
	n := 0
	for _, s := range r.spans {
		n += s.len()
	}
	return n
}

// Peek returns the first byte of the view, or -1 if the view is empty.
func (r ReadableBuffer) Peek() int {
	for _, s := range r.spans {
		if s.len() > 0 {
			return int(s.bytes()[0])
		}
	}
	return -1
}

// ForEachSpan iterates the view's contiguous spans in order. fn returning
// false stops iteration early.
func (r ReadableBuffer) ForEachSpan(fn func([]byte) bool) {
	for _, s := range r.spans {
		if s.len() == 0 {
			continue
		}
		if !fn(s.bytes()) {
			return
		}
	}
}

// ToArray copies the view into one contiguous slice.
func (r ReadableBuffer) ToArray() []byte {
	out := make([]byte, 0, r.Len())
	r.ForEachSpan(func(b []byte) bool {
		out = append(out, b...)
		return true
	})
	return out
}

// GetASCIIString returns the view decoded as ASCII (byte-for-byte, no
// validation beyond what the caller already expects from HTTP header text).
func (r ReadableBuffer) GetASCIIString() string {
	return string(r.ToArray())
}

// GetUTF8String decodes the view as UTF-8, reporting whether the bytes form
// valid UTF-8.
func (r ReadableBuffer) GetUTF8String() (string, bool) {
	b := r.ToArray()
	return string(b), utf8.Valid(b)
}

// Slice drops the first n bytes and returns the remaining view.
func (r ReadableBuffer) Slice(n int) ReadableBuffer {
	if n <= 0 {
		return r
	}
	out := make([]span, 0, len(r.spans))
	for _, s := range r.spans {
		l := s.len()
		if n >= l {
			n -= l
			continue
		}
		out = append(out, span{slab: s.slab, start: s.start + n, end: s.end})
		n = 0
	}
	return ReadableBuffer{spans: out}
}

// TrySliceTo scans for the first occurrence of the exact byte sequence
// delims. On success it returns the prefix up to (not including) the
// match, and the remaining view with its cursor positioned AT the match
// (Peek() returns delims[0]); ok is false if delims was not found in the
// currently buffered bytes, in which case the caller should read more data
// without advancing. The returned views are zero-copy; the search itself
// runs over a flattened copy of the whole view.
func (r ReadableBuffer) TrySliceTo(delims ...byte) (prefix ReadableBuffer, rest ReadableBuffer, ok bool) {
	if len(delims) == 0 {
		return r, r, true
	}
	flat := r.ToArray()
	idx := indexSeq(flat, delims)
	if idx < 0 {
		return ReadableBuffer{}, r, false
	}
	return r.sliceHead(idx), r.Slice(idx), true
}

// Head returns the first n bytes of the view as its own zero-copy view,
// for callers (e.g. the frame codec) that already know a sub-region's
// exact length and want to avoid copying the rest.
func (r ReadableBuffer) Head(n int) ReadableBuffer {
	return r.sliceHead(n)
}

// Take copies up to n bytes from the front of the view into a freshly
// allocated slice, useful for parsing small fixed-format regions (a frame
// header) without flattening a potentially large payload that follows.
func (r ReadableBuffer) Take(n int) []byte {
	if n > r.Len() {
		n = r.Len()
	}
	return r.Head(n).ToArray()
}

// sliceHead returns the first n bytes of the view as its own view.
func (r ReadableBuffer) sliceHead(n int) ReadableBuffer {
	if n <= 0 {
		return ReadableBuffer{}
	}
	out := make([]span, 0, len(r.spans))
	remaining := n
	for _, s := range r.spans {
		if remaining <= 0 {
			break
		}
		l := s.len()
		if remaining >= l {
			out = append(out, s)
			remaining -= l
			continue
		}
		out = append(out, span{slab: s.slab, start: s.start, end: s.start + remaining})
		remaining = 0
	}
	return ReadableBuffer{spans: out}
}

func indexSeq(haystack, needle []byte) int {
	if len(needle) == 0 {
		return 0
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		match := true
		for j, nb := range needle {
			if haystack[i+j] != nb {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

// TrimStart drops leading ASCII space/tab bytes from the view, zero-copy.
func (r ReadableBuffer) TrimStart() ReadableBuffer {
	n := 0
	for _, s := range r.spans {
		for _, c := range s.bytes() {
			if c != ' ' && c != '\t' {
				return r.Slice(n)
			}
			n++
		}
	}
	return r.Slice(n)
}

// Preserve clones the view into a PreservedBuffer, retaining an extra
// reference on every slab it touches. The returned handle keeps the
// underlying pool memory alive independently of the channel's own cursor;
// it must be Released exactly once.
func (r ReadableBuffer) Preserve() *PreservedBuffer {
	spans := make([]span, len(r.spans))
	for i, s := range r.spans {
		s.slab.Retain()
		spans[i] = s
	}
	return &PreservedBuffer{spans: spans}
}

// PreservedBuffer is a reference-counted handle over pool memory,
// independent of the owning Channel's read cursor. Every Preserve must be
// matched by exactly one Release.
type PreservedBuffer struct {
	spans    []span
	released bool
}

// Bytes returns the preserved view. In the common single-span case this is
// a true zero-copy slice into pool memory; multi-span views are flattened
// into a fresh copy.
func (p *PreservedBuffer) Bytes() []byte {
	if len(p.spans) == 1 {
		return p.spans[0].bytes()
	}
	rb := ReadableBuffer{spans: p.spans}
	return rb.ToArray()
}

// ForEachSpan iterates the preserved view's contiguous spans, giving
// masking and other hot-path code zero-copy, in-place access even in the
// multi-span case.
func (p *PreservedBuffer) ForEachSpan(fn func([]byte) bool) {
	ReadableBuffer{spans: p.spans}.ForEachSpan(fn)
}

// Len returns the number of preserved bytes.
func (p *PreservedBuffer) Len() int {
	return ReadableBuffer{spans: p.spans}.Len()
}

// Release returns every retained slab reference. Calling Release more than
// once is a programmer error but is made idempotent defensively, since a
// connection's failure paths may release along more than one code path.
func (p *PreservedBuffer) Release() {
	if p.released {
		return
	}
	p.released = true
	for _, s := range p.spans {
		s.slab.Release()
	}
}
