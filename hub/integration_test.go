//go:build integration

package hub

import (
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hioload/wsgate/wsconn"
)

// TestIntegrationEchoRoundTrip drives a live Hub with a real
// gorilla/websocket client over a loopback TCP connection, exercising the
// full handshake, frame codec, and egress path end to end.
func TestIntegrationEchoRoundTrip(t *testing.T) {
	hooks := wsconn.Hooks{
		OnText: func(c *wsconn.Connection, m *wsconn.Message) {
			text, _ := m.Text()
			c.SendText(text)
		},
	}
	h := New(Config{BufferFragments: true}, hooks)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	started := make(chan error, 1)
	go func() { started <- h.Start(addr) }()
	defer h.Stop()

	var conn *websocket.Conn
	url := fmt.Sprintf("ws://%s/", addr)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		c, _, dialErr := websocket.DefaultDialer.Dial(url, nil)
		if dialErr == nil {
			conn = c
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if conn == nil {
		t.Fatal("could not dial hub within deadline")
	}
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte("hello")); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	kind, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if kind != websocket.TextMessage || string(payload) != "hello" {
		t.Fatalf("got (%d, %q), want (%d, %q)", kind, payload, websocket.TextMessage, "hello")
	}
}
