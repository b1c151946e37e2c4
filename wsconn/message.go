// Package wsconn implements the §4.D per-connection state machine:
// handshake orchestration, the frame ingress loop with fragment
// reassembly and control-frame handling, and a single egress worker that
// serializes outbound frames per connection.
//
// Grounded on the teacher's protocol.WSConnection (inbox/outbox channel
// pair, atomic counters) and internal/websocket.Connection (read/write
// deadlines around a message loop), rebuilt around the channel package's
// ReadableBuffer/Channel contract instead of api.Transport/api.Buffer.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package wsconn

import (
	"sync"
	"unicode/utf8"

	"github.com/hioload/wsgate/channel"
	"github.com/hioload/wsgate/core/protocol"
)

// Message is a logical WebSocket message: either a single frame's payload
// (buffer_fragments == false) or every fragment of a reassembled message
// (buffer_fragments == true). A reassembled message always has IsFinal
// true; in the per-frame mode IsFinal mirrors the delivered frame's FIN
// bit, so the leading fragments of a message arrive with IsFinal false.
type Message struct {
	Opcode  protocol.Opcode
	IsFinal bool

	parts []*channel.PreservedBuffer

	decodeOnce sync.Once
	text       string
	textOK     bool
}

func newMessage(opcode protocol.Opcode, isFinal bool, parts ...*channel.PreservedBuffer) *Message {
	return &Message{Opcode: opcode, IsFinal: isFinal, parts: parts}
}

// Bytes copies every fragment into one contiguous slice.
func (m *Message) Bytes() []byte {
	total := 0
	for _, p := range m.parts {
		total += p.Len()
	}
	out := make([]byte, 0, total)
	for _, p := range m.parts {
		p.ForEachSpan(func(b []byte) bool {
			out = append(out, b...)
			return true
		})
	}
	return out
}

// Text lazily UTF-8 decodes the message payload and caches the result, so
// repeated calls on the same Message are idempotent and bytewise
// identical. ok is false when the payload is not valid UTF-8; validation
// failure is reported to the caller rather than causing a fatal error
// here, per the deferred-to-hook resolution in DESIGN.md.
func (m *Message) Text() (string, bool) {
	m.decodeOnce.Do(func() {
		b := m.Bytes()
		m.textOK = utf8.Valid(b)
		m.text = string(b)
	})
	return m.text, m.textOK
}

// Dispose releases every preserved buffer backing the message. The
// connection calls this once after a hook dispatch returns.
func (m *Message) Dispose() {
	for _, p := range m.parts {
		p.Release()
	}
}
