package wsconn

import (
	"log"
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"

	"github.com/hioload/wsgate/channel"
	"github.com/hioload/wsgate/core/protocol"
)

// defaultEgressQueueLimit bounds the per-connection outbound FIFO; a
// sender past this limit is treated as unresponsive and the connection is
// torn down rather than buffering unboundedly.
const defaultEgressQueueLimit = 256

type connState int32

const (
	stateHandshaking connState = iota
	stateStreaming
	stateClosing
)

// Hooks is the polymorphic, function-handle form of the four user hooks
// named in §6, plus OnPong for inbound Pong payloads; the hub constructs
// one set and shares it across every
// connection it accepts.
type Hooks struct {
	OnText              func(c *Connection, m *Message)
	OnBinary            func(c *Connection, m *Message)
	OnPong              func(c *Connection, payload []byte)
	Authenticate        func(c *Connection, headers map[string]string) bool
	OnHandshakeComplete func(c *Connection)
}

type outboundFrame struct {
	opcode  protocol.Opcode
	final   bool
	payload []byte
}

// Connection is the §4.D per-connection state machine: Handshaking,
// Streaming, Closing, in that order, with Closing terminal. Host, Origin,
// Protocol and RequestLine are populated by Handshake.
type Connection struct {
	ID uint64

	Host         string
	Origin       string
	Protocol     string
	RequestLine  string
	BufferFragments bool

	ch    *channel.Channel
	hooks Hooks

	state int32 // connState, accessed atomically

	mu      sync.Mutex
	closing bool

	accumOpen   bool
	accumOpcode protocol.Opcode
	accumParts  []*channel.PreservedBuffer

	egressMu    sync.Mutex
	egressQueue *queue.Queue
	egressWake  chan struct{}
	egressDone  chan struct{}
	egressLimit int
}

// New wraps ch in a Connection; callers must call Handshake before
// Serve. bufferFragments selects the fragmentation-delivery mode of §4.D.
func New(id uint64, ch *channel.Channel, hooks Hooks, bufferFragments bool) *Connection {
	return &Connection{
		ID:              id,
		ch:              ch,
		hooks:           hooks,
		BufferFragments: bufferFragments,
		egressQueue:     queue.New(),
		egressWake:      make(chan struct{}, 1),
		egressDone:      make(chan struct{}),
		egressLimit:     defaultEgressQueueLimit,
	}
}

// State reports the connection's current lifecycle stage.
func (c *Connection) State() connState {
	return connState(atomic.LoadInt32(&c.state))
}

// IsClosed reports whether the connection has begun (or finished)
// closing; the hub's broadcast uses this to skip dead targets.
func (c *Connection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closing
}

// Serve runs the ingress loop and the egress worker until the connection
// reaches Closing, then blocks until the egress side has fully drained.
// Callers run Serve on its own goroutine (the hub's per-connection task).
func (c *Connection) Serve() {
	atomic.StoreInt32(&c.state, int32(stateStreaming))
	go c.egressLoop()
	c.ingressLoop()
	<-c.egressDone
}

// SendText enqueues a Text frame. Per-connection ordering with any other
// send on this connection is preserved; it returns once enqueued, not
// once flushed.
func (c *Connection) SendText(s string) error {
	return c.send(protocol.OpcodeText, true, []byte(s))
}

// SendBinary enqueues a Binary frame.
func (c *Connection) SendBinary(b []byte) error {
	return c.send(protocol.OpcodeBinary, true, b)
}

// SendPing enqueues a Ping frame.
func (c *Connection) SendPing(payload []byte) error {
	return c.send(protocol.OpcodePing, true, payload)
}

// Close initiates a graceful close: a Close frame carrying code/reason is
// enqueued and no further external sends are accepted.
func (c *Connection) Close(code int, reason string) error {
	return c.beginClosing(protocol.EncodeClosePayload(code, reason))
}

func (c *Connection) send(opcode protocol.Opcode, final bool, payload []byte) error {
	c.mu.Lock()
	closing := c.closing
	c.mu.Unlock()
	if closing {
		return ErrConnectionClosed
	}
	return c.enqueue(opcode, final, payload)
}

func (c *Connection) enqueue(opcode protocol.Opcode, final bool, payload []byte) error {
	c.egressMu.Lock()
	if c.egressQueue.Length() >= c.egressLimit {
		c.egressMu.Unlock()
		c.beginClosing(nil)
		return ErrEgressOverflow
	}
	c.egressQueue.Add(&outboundFrame{opcode: opcode, final: final, payload: payload})
	c.egressMu.Unlock()
	select {
	case c.egressWake <- struct{}{}:
	default:
	}
	return nil
}

// beginClosing marks the connection as closing, optionally enqueueing one
// last frame (a Close echo) ahead of the cutoff, and wakes the egress
// worker so it can drain and complete the output side.
func (c *Connection) beginClosing(lastFrame []byte) error {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return nil
	}
	c.closing = true
	c.mu.Unlock()
	atomic.StoreInt32(&c.state, int32(stateClosing))

	if lastFrame != nil {
		c.egressMu.Lock()
		c.egressQueue.Add(&outboundFrame{opcode: protocol.OpcodeClose, final: true, payload: lastFrame})
		c.egressMu.Unlock()
	}
	select {
	case c.egressWake <- struct{}{}:
	default:
	}
	return nil
}

func (c *Connection) egressLoop() {
	for {
		c.egressMu.Lock()
		if c.egressQueue.Length() == 0 {
			c.egressMu.Unlock()
			c.mu.Lock()
			closing := c.closing
			c.mu.Unlock()
			if closing {
				c.ch.CompleteOutput(nil)
				close(c.egressDone)
				return
			}
			<-c.egressWake
			continue
		}
		f := c.egressQueue.Remove().(*outboundFrame)
		c.egressMu.Unlock()

		if err := c.writeFrame(f.opcode, f.final, f.payload); err != nil {
			c.mu.Lock()
			c.closing = true
			c.mu.Unlock()
			close(c.egressDone)
			return
		}
	}
}

func (c *Connection) writeFrame(opcode protocol.Opcode, final bool, payload []byte) error {
	hdr := protocol.EncodeHeader(opcode, final, len(payload))
	wb := c.ch.Alloc()
	wb.AppendBytes(hdr)
	wb.AppendBytes(payload)
	return wb.FlushAsync()
}

func (c *Connection) ingressLoop() {
	for {
		rb, completed, err := c.ch.ReadAsync()
		if err != nil {
			c.teardown()
			return
		}

		hdr, ok, err := protocol.DecodeHeader(rb)
		if err != nil {
			c.failProtocol()
			return
		}
		if !ok {
			if completed {
				c.teardown()
				return
			}
			continue
		}
		if !hdr.IsMasked {
			c.failProtocol()
			return
		}

		total := hdr.HeaderLen + int(hdr.PayloadLen)
		if rb.Len() < total {
			if completed {
				c.teardown()
				return
			}
			continue
		}

		payloadView := rb.Slice(hdr.HeaderLen).Head(int(hdr.PayloadLen))
		protocol.Unmask(hdr, payloadView)

		closeRequested, violation := c.handleFrame(hdr, payloadView)
		c.ch.Advance(total)
		if violation {
			c.failProtocol()
			return
		}
		if closeRequested {
			c.teardown()
			return
		}
	}
}

// handleFrame dispatches a decoded, unmasked frame. It returns
// closeRequested when a Close frame started teardown, and violation when
// the frame breaks a §4.D framing rule and the connection must be failed
// with Close 1002.
func (c *Connection) handleFrame(hdr protocol.FrameHeader, payload channel.ReadableBuffer) (closeRequested, violation bool) {
	if hdr.IsControl() {
		return c.handleControlFrame(hdr, payload)
	}
	return false, c.handleDataFrame(hdr, payload)
}

func (c *Connection) handleControlFrame(hdr protocol.FrameHeader, payload channel.ReadableBuffer) (closeRequested, violation bool) {
	switch hdr.Opcode {
	case protocol.OpcodePing:
		_ = c.send(protocol.OpcodePong, true, payload.ToArray())
		return false, false
	case protocol.OpcodePong:
		if c.hooks.OnPong != nil {
			c.safeHook(func() { c.hooks.OnPong(c, payload.ToArray()) })
		}
		return false, false
	case protocol.OpcodeClose:
		code := protocol.ParseCloseCode(payload.ToArray())
		_ = c.beginClosing(protocol.EncodeClosePayload(code, ""))
		return true, false
	default:
		return false, true
	}
}

func (c *Connection) handleDataFrame(hdr protocol.FrameHeader, payload channel.ReadableBuffer) (violation bool) {
	opcode := hdr.Opcode
	if opcode == protocol.OpcodeContinuation {
		if !c.accumOpen {
			return true
		}
	} else if c.accumOpen {
		return true
	}

	if !c.BufferFragments {
		deliverOpcode := opcode
		if opcode == protocol.OpcodeContinuation {
			deliverOpcode = c.accumOpcode
		} else {
			c.accumOpcode = opcode
		}
		c.accumOpen = !hdr.IsFinal
		msg := newMessage(deliverOpcode, hdr.IsFinal, payload.Preserve())
		c.dispatch(msg)
		return false
	}

	if opcode != protocol.OpcodeContinuation {
		c.accumOpcode = opcode
		c.accumOpen = true
		c.accumParts = nil
	}
	c.accumParts = append(c.accumParts, payload.Preserve())
	if hdr.IsFinal {
		msg := newMessage(c.accumOpcode, true, c.accumParts...)
		c.accumParts = nil
		c.accumOpen = false
		c.dispatch(msg)
	}
	return false
}

func (c *Connection) dispatch(msg *Message) {
	defer msg.Dispose()
	switch msg.Opcode {
	case protocol.OpcodeText:
		if c.hooks.OnText != nil {
			c.safeHook(func() { c.hooks.OnText(c, msg) })
		}
	case protocol.OpcodeBinary:
		if c.hooks.OnBinary != nil {
			c.safeHook(func() { c.hooks.OnBinary(c, msg) })
		}
	}
}

// safeHook runs a user hook, recovering a panic into a logged
// UserHookError per §7: the connection continues rather than tearing down.
func (c *Connection) safeHook(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("wsconn: connection %d: user hook panicked: %v", c.ID, r)
		}
	}()
	fn()
}

func (c *Connection) failProtocol() {
	_ = c.beginClosing(protocol.EncodeClosePayload(protocol.CloseProtocolError, ""))
	c.teardown()
}

// teardown waits for the egress worker to drain and complete the output
// side, and completes the input side. Safe to call once the ingress loop
// has decided to exit for any reason.
func (c *Connection) teardown() {
	c.beginClosing(nil)
	<-c.egressDone
	c.ch.Complete(nil)
}
