package httpupgrade_test

import (
	"testing"

	"github.com/hioload/wsgate/channel"
	"github.com/hioload/wsgate/core/buffer"
	"github.com/hioload/wsgate/fake"
	"github.com/hioload/wsgate/internal/httpupgrade"
)

const handshakeRequest = "GET /chat HTTP/1.1\r\n" +
	"Host: x\r\n" +
	"Upgrade: websocket\r\n" +
	"Connection: Upgrade\r\n" +
	"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n" +
	"Sec-WebSocket-Version: 13\r\n" +
	"\r\n"

func TestParseHandshakeRequestWholeStream(t *testing.T) {
	conn := fake.NewConn([]byte(handshakeRequest))
	ch := channel.New(conn, buffer.NewPool())

	req, err := httpupgrade.Parse(ch)
	if err != nil {
		t.Fatal(err)
	}
	defer req.Dispose()

	if req.MethodString() != "GET" || req.PathString() != "/chat" || req.VersionString() != "HTTP/1.1" {
		t.Fatalf("got method=%q path=%q version=%q", req.MethodString(), req.PathString(), req.VersionString())
	}
	if v, ok := req.Header("host"); !ok || v != "x" {
		t.Fatalf("host = %q, %v", v, ok)
	}
	if v, ok := req.Header("Sec-WebSocket-Key"); !ok || v != "dGhlIHNhbXBsZSBub25jZQ==" {
		t.Fatalf("key = %q, %v", v, ok)
	}
	if v, _ := req.Header("Connection"); v != "Upgrade" {
		t.Fatalf("connection = %q", v)
	}
}

func TestParseHandshakeRequestSegmented(t *testing.T) {
	conn := fake.NewConn([]byte(handshakeRequest))
	conn.SetChunkSize(7) // force the request to arrive across many small reads
	ch := channel.New(conn, buffer.NewPool())

	req, err := httpupgrade.Parse(ch)
	if err != nil {
		t.Fatal(err)
	}
	defer req.Dispose()

	if req.PathString() != "/chat" {
		t.Fatalf("path = %q", req.PathString())
	}
	if v, _ := req.Header("Sec-WebSocket-Version"); v != "13" {
		t.Fatalf("version header = %q", v)
	}
}

func TestParseLeavesTrailingBytesInChannel(t *testing.T) {
	trailing := []byte{0x82, 0x05, 'h', 'e', 'l', 'l', 'o'}
	conn := fake.NewConn(append([]byte(handshakeRequest), trailing...))
	ch := channel.New(conn, buffer.NewPool())

	req, err := httpupgrade.Parse(ch)
	if err != nil {
		t.Fatal(err)
	}
	req.Dispose()

	rb, _, err := ch.ReadAsync()
	if err != nil {
		t.Fatal(err)
	}
	if got := rb.ToArray(); string(got) != string(trailing) {
		t.Fatalf("leftover bytes = %v, want %v", got, trailing)
	}
}

func TestParseDuplicateHeaderReplaces(t *testing.T) {
	raw := "GET / HTTP/1.1\r\nX-Foo: first\r\nX-Foo: second\r\n\r\n"
	conn := fake.NewConn([]byte(raw))
	ch := channel.New(conn, buffer.NewPool())

	req, err := httpupgrade.Parse(ch)
	if err != nil {
		t.Fatal(err)
	}
	defer req.Dispose()

	if v, _ := req.Header("X-Foo"); v != "second" {
		t.Fatalf("X-Foo = %q", v)
	}
}

func TestParseUnexpectedEOFMidHeaders(t *testing.T) {
	raw := "GET / HTTP/1.1\r\nHost: x\r\n"
	conn := fake.NewConn([]byte(raw))
	ch := channel.New(conn, buffer.NewPool())

	_, err := httpupgrade.Parse(ch)
	if err != httpupgrade.ErrUnexpectedEOF {
		t.Fatalf("err = %v", err)
	}
}
