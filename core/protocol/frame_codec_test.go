package protocol_test

import (
	"bytes"
	"testing"

	"github.com/hioload/wsgate/channel"
	"github.com/hioload/wsgate/core/buffer"
	"github.com/hioload/wsgate/core/protocol"
	"github.com/hioload/wsgate/fake"
)

func readAll(t *testing.T, conn *fake.Conn) channel.ReadableBuffer {
	t.Helper()
	ch := channel.New(conn, buffer.NewPool())
	rb, _, err := ch.ReadAsync()
	if err != nil && err.Error() != "EOF" {
		t.Fatal(err)
	}
	return rb
}

func TestEncodeDecodeHeaderRoundTrip(t *testing.T) {
	payload := []byte("hello")
	hdr := protocol.EncodeHeader(protocol.OpcodeText, true, len(payload))
	wire := append(append([]byte{}, hdr...), payload...)

	conn := fake.NewConn(wire)
	rb := readAll(t, conn)

	got, ok, err := protocol.DecodeHeader(rb)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected enough data")
	}
	if got.Opcode != protocol.OpcodeText || !got.IsFinal || got.IsMasked {
		t.Fatalf("unexpected header: %+v", got)
	}
	if got.PayloadLen != int64(len(payload)) {
		t.Fatalf("payload len = %d", got.PayloadLen)
	}
	body := rb.Slice(got.HeaderLen).Head(int(got.PayloadLen)).ToArray()
	if !bytes.Equal(body, payload) {
		t.Fatalf("payload = %q", body)
	}
}

func TestDecodeHeaderPartialReturnsNotOK(t *testing.T) {
	conn := fake.NewConn([]byte{0x81}) // only 1 byte, need 2+
	rb := readAll(t, conn)

	_, ok, err := protocol.DecodeHeader(rb)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected not enough data")
	}
}

func TestDecodeHeaderRejectsReservedBits(t *testing.T) {
	conn := fake.NewConn([]byte{0x80 | 0x40 | byte(protocol.OpcodeText), 0x00})
	rb := readAll(t, conn)

	_, ok, err := protocol.DecodeHeader(rb)
	if !ok || err != protocol.ErrReservedBitsSet {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
}

func TestDecodeHeaderRejectsOversizedControlFrame(t *testing.T) {
	hdr := []byte{0x80 | byte(protocol.OpcodePing), 126, 0x00, 0xFF}
	conn := fake.NewConn(hdr)
	rb := readAll(t, conn)

	_, ok, err := protocol.DecodeHeader(rb)
	if !ok || err != protocol.ErrControlFrameTooLarge {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
}

func TestDecodeHeaderRejectsFragmentedControlFrame(t *testing.T) {
	hdr := []byte{byte(protocol.OpcodePing), 0x00} // FIN not set
	conn := fake.NewConn(hdr)
	rb := readAll(t, conn)

	_, ok, err := protocol.DecodeHeader(rb)
	if !ok || err != protocol.ErrControlFrameFragmented {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
}

func TestDecodeHeaderExtended16BitLength(t *testing.T) {
	payload := make([]byte, 300)
	hdr := protocol.EncodeHeader(protocol.OpcodeBinary, true, len(payload))
	wire := append(append([]byte{}, hdr...), payload...)
	conn := fake.NewConn(wire)
	conn.SetChunkSize(64)

	ch := channel.New(conn, buffer.NewPool())
	var rb channel.ReadableBuffer
	for {
		var err error
		rb, _, err = ch.ReadAsync()
		if err != nil {
			t.Fatal(err)
		}
		if rb.Len() >= len(wire) {
			break
		}
	}
	got, ok, err := protocol.DecodeHeader(rb)
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if got.PayloadLen != 300 || got.HeaderLen != 4 {
		t.Fatalf("unexpected header: %+v", got)
	}
}

func TestUnmaskIsInvolution(t *testing.T) {
	payload := []byte("the quick brown fox")
	key := [4]byte{0x11, 0x22, 0x33, 0x44}

	maskedHdr := []byte{0x80 | byte(protocol.OpcodeBinary), 0x80 | byte(len(payload))}
	maskedHdr = append(maskedHdr, key[:]...)
	masked := append([]byte{}, payload...)
	for i := range masked {
		masked[i] ^= key[i%4]
	}
	wire := append(maskedHdr, masked...)

	conn := fake.NewConn(wire)
	rb := readAll(t, conn)
	hdr, ok, err := protocol.DecodeHeader(rb)
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	body := rb.Slice(hdr.HeaderLen).Head(int(hdr.PayloadLen))
	protocol.Unmask(hdr, body)
	if got := body.ToArray(); !bytes.Equal(got, payload) {
		t.Fatalf("unmask result = %q, want %q", got, payload)
	}
}

func TestParseCloseCodeDefaultsWhenAbsent(t *testing.T) {
	if got := protocol.ParseCloseCode(nil); got != protocol.CloseNoStatusRcvd {
		t.Fatalf("got %d", got)
	}
}

func TestParseCloseCodeRoundTrip(t *testing.T) {
	payload := protocol.EncodeClosePayload(protocol.CloseProtocolError, "bad")
	if got := protocol.ParseCloseCode(payload); got != protocol.CloseProtocolError {
		t.Fatalf("got %d", got)
	}
}
