package channel_test

import (
	"testing"

	"github.com/hioload/wsgate/channel"
	"github.com/hioload/wsgate/core/buffer"
	"github.com/hioload/wsgate/fake"
)

func TestReadAsyncGrowsAcrossCalls(t *testing.T) {
	conn := fake.NewConn([]byte("GET /chat HTTP/1.1\r\n"))
	conn.SetChunkSize(5)
	ch := channel.New(conn, buffer.NewPool())

	var rb channel.ReadableBuffer
	for rb.Len() < len("GET /chat HTTP/1.1\r\n") {
		var completed bool
		var err error
		rb, completed, err = ch.ReadAsync()
		if err != nil {
			t.Fatal(err)
		}
		if completed && rb.Len() < len("GET /chat HTTP/1.1\r\n") {
			t.Fatal("stream completed before all bytes arrived")
		}
	}
	if got := rb.GetASCIIString(); got != "GET /chat HTTP/1.1\r\n" {
		t.Fatalf("got %q", got)
	}
}

func TestAdvanceRecyclesConsumedPrefix(t *testing.T) {
	conn := fake.NewConn([]byte("hello world"))
	ch := channel.New(conn, buffer.NewPool())

	rb, _, err := ch.ReadAsync()
	if err != nil {
		t.Fatal(err)
	}
	prefix, rest, ok := rb.TrySliceTo(' ')
	if !ok {
		t.Fatal("expected to find space")
	}
	if prefix.GetASCIIString() != "hello" {
		t.Fatalf("prefix = %q", prefix.GetASCIIString())
	}
	ch.Advance(prefix.Len() + 1) // consume "hello "
	rb2, _, err := ch.ReadAsync()
	if err != nil {
		t.Fatal(err)
	}
	if rb2.GetASCIIString() != "world" {
		t.Fatalf("remaining = %q", rb2.GetASCIIString())
	}
	_ = rest
}

func TestPreserveOutlivesAdvance(t *testing.T) {
	conn := fake.NewConn([]byte("payload-bytes"))
	ch := channel.New(conn, buffer.NewPool())

	rb, _, err := ch.ReadAsync()
	if err != nil {
		t.Fatal(err)
	}
	preserved := rb.Preserve()
	ch.Advance(rb.Len())

	if string(preserved.Bytes()) != "payload-bytes" {
		t.Fatalf("preserved bytes corrupted after advance: %q", preserved.Bytes())
	}
	preserved.Release()
}

func TestTrySliceToNotFoundRequestsMoreData(t *testing.T) {
	conn := fake.NewConn([]byte("no-delimiter-here"))
	ch := channel.New(conn, buffer.NewPool())
	rb, _, _ := ch.ReadAsync()

	_, _, ok := rb.TrySliceTo('\r', '\n')
	if ok {
		t.Fatal("expected not found")
	}
}

func TestEOFReportsCompleted(t *testing.T) {
	conn := fake.NewConn(nil)
	ch := channel.New(conn, buffer.NewPool())
	rb, completed, err := ch.ReadAsync()
	if err != nil {
		t.Fatal(err)
	}
	if !completed {
		t.Fatal("expected completed on empty EOF stream")
	}
	if rb.Len() != 0 {
		t.Fatal("expected empty buffer")
	}
}
