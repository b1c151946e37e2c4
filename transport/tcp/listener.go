package tcp

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/hioload/wsgate/core/buffer"
)

// ErrListenerClosed is returned by Accept once Close has been called.
var ErrListenerClosed = errors.New("tcp: listener closed")

// Listener wraps a net.Listener, binding a shared buffer pool every
// accepted connection's channel will draw from.
type Listener struct {
	ln   net.Listener
	pool *buffer.Pool

	mu     sync.Mutex
	closed bool
}

// Listen binds addr (e.g. ":9001") and returns a Listener ready to Accept.
// A nil pool uses buffer.Default.
func Listen(addr string, pool *buffer.Pool) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("tcp: listen on %s: %w", addr, err)
	}
	if pool == nil {
		pool = buffer.Default
	}
	return &Listener{ln: ln, pool: pool}, nil
}

// Addr returns the bound local address.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Accept blocks for the next inbound connection and returns it as a raw
// net.Conn; callers wrap it with NewChannel to get the §6 channel
// contract. Returns ErrListenerClosed once Close has run.
func (l *Listener) Accept() (net.Conn, error) {
	conn, err := l.ln.Accept()
	if err != nil {
		l.mu.Lock()
		closed := l.closed
		l.mu.Unlock()
		if closed {
			return nil, ErrListenerClosed
		}
		return nil, fmt.Errorf("tcp: accept: %w", err)
	}
	return conn, nil
}

// Pool returns the shared buffer pool new channels should be built with.
func (l *Listener) Pool() *buffer.Pool { return l.pool }

// Close stops accepting new connections. Safe to call more than once.
func (l *Listener) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()
	return l.ln.Close()
}
