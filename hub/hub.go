package hub

import (
	"log"
	"net"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/hioload/wsgate/affinity"
	"github.com/hioload/wsgate/control"
	"github.com/hioload/wsgate/core/buffer"
	"github.com/hioload/wsgate/core/protocol"
	"github.com/hioload/wsgate/transport/tcp"
	"github.com/hioload/wsgate/wsconn"
)

// Config carries the hub's handshake/delivery policy flags named in §6.
type Config struct {
	BufferFragments                      bool
	AllowClientsMissingConnectionHeaders bool
	SelectedProtocol                     string
	ShardCount                           int

	// AcceptCPU, when non-nil, pins the accept goroutine (via
	// affinity.SetAffinity) to this logical CPU for the lifetime of
	// Start. nil leaves the goroutine unpinned, the default.
	AcceptCPU *int
}

// Hub is the §4.E server hub: binds a listener, spawns one task per
// accepted connection, tracks them in a concurrent registry, and
// coordinates broadcast/close-all/shutdown.
type Hub struct {
	cfg   Config
	hooks wsconn.Hooks
	pool  *buffer.Pool

	registry *registry
	nextID   uint64

	ln *tcp.Listener

	metrics *control.MetricsRegistry
	debug   *control.DebugProbes
	config  *control.ConfigStore

	wg       sync.WaitGroup
	stopping atomic.Bool
}

// New builds a Hub; hooks are shared across every connection it accepts.
func New(cfg Config, hooks wsconn.Hooks) *Hub {
	h := &Hub{
		cfg:      cfg,
		hooks:    hooks,
		pool:     buffer.Default,
		registry: newRegistry(cfg.ShardCount),
		metrics:  control.NewMetricsRegistry(),
		debug:    control.NewDebugProbes(),
		config:   control.NewConfigStore(),
	}
	h.config.Set(control.HubConfig{
		ShardCount:                            cfg.ShardCount,
		BufferFragments:                       cfg.BufferFragments,
		AllowClientsMissingConnectionHeaders:  cfg.AllowClientsMissingConnectionHeaders,
		SelectedProtocol:                      cfg.SelectedProtocol,
		AcceptCPU:                             cfg.AcceptCPU,
	})
	h.debug.RegisterConnectionStats(func() control.ConnectionStats {
		return control.ConnectionStats{Active: h.registry.count(), Shards: h.registry.shardCount()}
	})
	h.debug.RegisterProbe("config", func() any { return h.config.Get() })
	control.RegisterPlatformProbes(h.debug)
	return h
}

// Config returns the hub's live configuration store, so callers can read
// or hot-update policy values (e.g. from a SIGHUP handler) without
// restarting the listener.
func (h *Hub) Config() *control.ConfigStore {
	return h.config
}

// RegisterDebugProbe exposes the hub's debug-probe table to callers (the
// CLI driver's admin surface, tests) that want to add their own probes.
func (h *Hub) RegisterDebugProbe(name string, fn func() any) {
	h.debug.RegisterProbe(name, fn)
}

// Stats returns a snapshot combining the hub's metrics registry with its
// registered debug probes.
func (h *Hub) Stats() map[string]any {
	out := h.metrics.GetSnapshot()
	for k, v := range h.debug.DumpState() {
		out[k] = v
	}
	return out
}

// Start binds addr and runs the accept loop until Stop is called. It
// returns an error only when binding fails; other accept errors are logged
// and the loop keeps accepting. Each accepted connection's handshake and serve loop
// runs on its own goroutine. If Config.AcceptCPU is set, the accept loop's
// goroutine is pinned to that CPU for the duration of Start.
func (h *Hub) Start(addr string) error {
	if h.cfg.AcceptCPU != nil {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		if err := affinity.SetAffinity(*h.cfg.AcceptCPU); err != nil {
			log.Printf("hub: accept goroutine affinity pin to cpu %d failed: %v", *h.cfg.AcceptCPU, err)
		}
	}

	ln, err := tcp.Listen(addr, h.pool)
	if err != nil {
		return err
	}
	h.ln = ln

	for {
		conn, err := ln.Accept()
		if err != nil {
			if err == tcp.ErrListenerClosed {
				return nil
			}
			log.Printf("hub: accept error: %v", err)
			continue
		}
		h.wg.Add(1)
		go h.serve(conn, ln)
	}
}

func (h *Hub) serve(conn net.Conn, ln *tcp.Listener) {
	defer h.wg.Done()
	ch := ln.NewChannel(conn)

	id := atomic.AddUint64(&h.nextID, 1)
	cfg := h.config.Get()
	c := wsconn.New(id, ch, h.hooks, cfg.BufferFragments)

	if err := c.Handshake(wsconn.HandshakeConfig{
		AllowClientsMissingConnectionHeaders: cfg.AllowClientsMissingConnectionHeaders,
		SelectedProtocol:                     cfg.SelectedProtocol,
	}); err != nil {
		conn.Close()
		return
	}

	h.registry.insert(c)
	h.metrics.Inc("connections_total", 1)
	h.metrics.Inc("connections_active", 1)
	defer func() {
		h.registry.remove(id)
		h.metrics.Inc("connections_active", -1)
	}()

	c.Serve()
}

// Stop stops the listener, sends a Close (1001) to every registered
// connection, and waits until every connection goroutine has returned.
// Idempotent: a second call is a no-op.
func (h *Hub) Stop() {
	if h.stopping.Swap(true) {
		return
	}
	if h.ln != nil {
		h.ln.Close()
	}
	h.CloseAll(protocol.CloseGoingAway, "server shutting down", nil)
	h.wg.Wait()
}

// ConnectionCount returns the number of connections currently registered
// (handshake-complete, not yet torn down).
func (h *Hub) ConnectionCount() int {
	return h.registry.count()
}

// BroadcastText sends s to every connection matching predicate (nil
// matches all), skipping closed connections, and returns how many sends
// succeeded.
func (h *Hub) BroadcastText(s string, predicate func(*wsconn.Connection) bool) int {
	return h.broadcast(predicate, func(c *wsconn.Connection) error {
		return c.SendText(s)
	})
}

// BroadcastBinary sends b to every matching connection.
func (h *Hub) BroadcastBinary(b []byte, predicate func(*wsconn.Connection) bool) int {
	return h.broadcast(predicate, func(c *wsconn.Connection) error {
		return c.SendBinary(b)
	})
}

// Ping sends a Ping frame carrying payload to every matching connection.
func (h *Hub) Ping(payload []byte, predicate func(*wsconn.Connection) bool) int {
	return h.broadcast(predicate, func(c *wsconn.Connection) error {
		return c.SendPing(payload)
	})
}

// CloseAll sends a Close frame with code/reason to every matching
// connection and returns the count attempted.
func (h *Hub) CloseAll(code int, reason string, predicate func(*wsconn.Connection) bool) int {
	return h.broadcast(predicate, func(c *wsconn.Connection) error {
		return c.Close(code, reason)
	})
}

func (h *Hub) broadcast(predicate func(*wsconn.Connection) bool, send func(*wsconn.Connection) error) int {
	succeeded := 0
	for _, c := range h.registry.snapshot() {
		if c.IsClosed() {
			continue
		}
		if predicate != nil && !predicate(c) {
			continue
		}
		if err := send(c); err != nil {
			continue
		}
		succeeded++
	}
	return succeeded
}
