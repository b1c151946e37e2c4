package wsconn_test

import (
	"strings"
	"testing"

	"github.com/hioload/wsgate/channel"
	"github.com/hioload/wsgate/core/buffer"
	"github.com/hioload/wsgate/fake"
	"github.com/hioload/wsgate/wsconn"
)

const rfcHandshakeRequest = "GET /chat HTTP/1.1\r\n" +
	"Host: x\r\n" +
	"Upgrade: websocket\r\n" +
	"Connection: Upgrade\r\n" +
	"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n" +
	"Sec-WebSocket-Version: 13\r\n" +
	"\r\n"

func TestHandshakeAccepts(t *testing.T) {
	conn := fake.NewConn([]byte(rfcHandshakeRequest))
	ch := channel.New(conn, buffer.NewPool())

	var completed bool
	c := wsconn.New(1, ch, wsconn.Hooks{
		OnHandshakeComplete: func(c *wsconn.Connection) { completed = true },
	}, false)

	if err := c.Handshake(wsconn.HandshakeConfig{}); err != nil {
		t.Fatalf("handshake: %v", err)
	}
	if !completed {
		t.Fatal("on_handshake_complete not invoked")
	}
	if c.Host != "x" {
		t.Fatalf("host = %q", c.Host)
	}

	want := "HTTP/1.1 101 Switching Protocols\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Accept: s3pPLMBiTxaQ9kYGzzhZRbK+xOo=\r\n" +
		"\r\n"
	if got := string(conn.Written()); got != want {
		t.Fatalf("response = %q, want %q", got, want)
	}
}

func TestHandshakeRejectsUnsupportedVersion(t *testing.T) {
	req := "GET /chat HTTP/1.1\r\n" +
		"Host: x\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n" +
		"Sec-WebSocket-Version: 9\r\n" +
		"\r\n"
	conn := fake.NewConn([]byte(req))
	ch := channel.New(conn, buffer.NewPool())
	c := wsconn.New(1, ch, wsconn.Hooks{}, false)

	err := c.Handshake(wsconn.HandshakeConfig{})
	if err != wsconn.ErrUnsupportedVersion {
		t.Fatalf("err = %v", err)
	}
	resp := string(conn.Written())
	if !strings.HasPrefix(resp, "HTTP/1.1 400") {
		t.Fatalf("response = %q", resp)
	}
	if !strings.Contains(resp, "Sec-WebSocket-Version: 13") {
		t.Fatalf("response missing version header: %q", resp)
	}
}

func TestHandshakeRejectsFailedAuthentication(t *testing.T) {
	conn := fake.NewConn([]byte(rfcHandshakeRequest))
	ch := channel.New(conn, buffer.NewPool())
	c := wsconn.New(1, ch, wsconn.Hooks{
		Authenticate: func(c *wsconn.Connection, headers map[string]string) bool { return false },
	}, false)

	err := c.Handshake(wsconn.HandshakeConfig{})
	if err != wsconn.ErrHandshakeRejected {
		t.Fatalf("err = %v", err)
	}
	if len(conn.Written()) != 0 {
		t.Fatalf("expected no response written on rejection, got %q", conn.Written())
	}
}

func TestHandshakeRejectsMissingHost(t *testing.T) {
	req := "GET / HTTP/1.1\r\nUpgrade: websocket\r\nConnection: Upgrade\r\nSec-WebSocket-Key: x\r\nSec-WebSocket-Version: 13\r\n\r\n"
	conn := fake.NewConn([]byte(req))
	ch := channel.New(conn, buffer.NewPool())
	c := wsconn.New(1, ch, wsconn.Hooks{}, false)

	if err := c.Handshake(wsconn.HandshakeConfig{}); err != wsconn.ErrHandshakeMalformed {
		t.Fatalf("err = %v", err)
	}
}
