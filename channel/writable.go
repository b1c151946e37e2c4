package channel

// WritableBuffer accumulates outbound bytes for a single flush. It is not
// itself thread-safe; callers serialize access (the connection's egress
// write lock does this for WebSocket frames).
type WritableBuffer struct {
	buf   []byte
	flush func([]byte) error
}

// Append copies the readable view's bytes into the outbound buffer.
func (w *WritableBuffer) Append(r ReadableBuffer) {
	r.ForEachSpan(func(b []byte) bool {
		w.buf = append(w.buf, b...)
		return true
	})
}

// AppendBytes appends raw bytes directly, for callers that already have a
// contiguous slice (e.g. an encoded frame header).
func (w *WritableBuffer) AppendBytes(b []byte) {
	w.buf = append(w.buf, b...)
}

// FlushAsync writes the accumulated bytes out in one call and resets the
// buffer for reuse.
func (w *WritableBuffer) FlushAsync() error {
	if len(w.buf) == 0 {
		return nil
	}
	err := w.flush(w.buf)
	w.buf = w.buf[:0]
	return err
}
