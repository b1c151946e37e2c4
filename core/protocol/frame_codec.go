package protocol

import (
	"encoding/binary"
	"errors"

	"github.com/hioload/wsgate/channel"
	"github.com/hioload/wsgate/core/mask"
)

// ErrFrameTooLarge is returned by DecodeHeader when a claimed payload
// length exceeds MaxFramePayload.
var ErrFrameTooLarge = errors.New("protocol: frame payload exceeds maximum allowed size")

// ErrControlFrameTooLarge is returned when a control opcode claims a
// payload longer than MaxControlPayloadLen.
var ErrControlFrameTooLarge = errors.New("protocol: control frame payload exceeds 125 bytes")

// ErrControlFrameFragmented is returned when a control frame does not
// carry IsFinal.
var ErrControlFrameFragmented = errors.New("protocol: control frame must not be fragmented")

// ErrReservedBitsSet is returned when any of RSV1-3 is set; this
// implementation negotiates no extensions, so all three must be zero.
var ErrReservedBitsSet = errors.New("protocol: reserved bits must be zero")

// ErrUnmaskedFrame names §4.B's server-role rule that client frames must
// be masked. DecodeHeader is role-agnostic and does not check it; the
// connection's ingress loop fails an unmasked frame with Close 1002 and
// does not return this value.
var ErrUnmaskedFrame = errors.New("protocol: server received unmasked client frame")

// FrameHeader is the decoded form of a frame's two-to-fourteen byte wire
// header, per §4.B. HeaderLen is how many bytes of wire data the header
// itself occupied, so the caller can slice the payload immediately after.
type FrameHeader struct {
	Opcode     Opcode
	IsFinal    bool
	Rsv1       bool
	Rsv2       bool
	Rsv3       bool
	IsMasked   bool
	MaskKey    [4]byte
	PayloadLen int64
	HeaderLen  int
}

// IsControl reports whether the frame carries a control opcode.
func (h FrameHeader) IsControl() bool { return h.Opcode.IsControl() }

// DecodeHeader parses a frame header from the front of r. It needs at
// least 2 bytes to begin, then 0/2/8 extended-length bytes, then 0/4 mask
// bytes, per §4.B. ok is false when r does not yet hold enough bytes to
// decide the full header shape; the caller should read more data without
// advancing. Reserved-bit and oversize-control violations are reported as
// errors immediately, since the header alone is enough to detect them.
func DecodeHeader(r channel.ReadableBuffer) (hdr FrameHeader, ok bool, err error) {
	if r.Len() < 2 {
		return FrameHeader{}, false, nil
	}
	base := r.Take(2)

	hdr.IsFinal = base[0]&FinBit != 0
	hdr.Rsv1 = base[0]&Rsv1Bit != 0
	hdr.Rsv2 = base[0]&Rsv2Bit != 0
	hdr.Rsv3 = base[0]&Rsv3Bit != 0
	hdr.Opcode = Opcode(base[0] & 0x0F)
	hdr.IsMasked = base[1]&MaskBit != 0
	shortLen := base[1] & 0x7F
	offset := 2

	switch {
	case shortLen <= 125:
		hdr.PayloadLen = int64(shortLen)
	case shortLen == 126:
		if r.Len() < offset+2 {
			return FrameHeader{}, false, nil
		}
		ext := r.Slice(offset).Take(2)
		hdr.PayloadLen = int64(binary.BigEndian.Uint16(ext))
		offset += 2
	default: // 127
		if r.Len() < offset+8 {
			return FrameHeader{}, false, nil
		}
		ext := r.Slice(offset).Take(8)
		hdr.PayloadLen = int64(binary.BigEndian.Uint64(ext))
		offset += 8
	}

	if hdr.Rsv1 || hdr.Rsv2 || hdr.Rsv3 {
		return hdr, true, ErrReservedBitsSet
	}
	if hdr.PayloadLen > MaxFramePayload {
		return hdr, true, ErrFrameTooLarge
	}
	if hdr.IsControl() {
		if hdr.PayloadLen > MaxControlPayloadLen {
			return hdr, true, ErrControlFrameTooLarge
		}
		if !hdr.IsFinal {
			return hdr, true, ErrControlFrameFragmented
		}
	}

	if hdr.IsMasked {
		if r.Len() < offset+4 {
			return FrameHeader{}, false, nil
		}
		copy(hdr.MaskKey[:], r.Slice(offset).Take(4))
		offset += 4
	}

	hdr.HeaderLen = offset
	return hdr, true, nil
}

// Unmask applies the frame's mask key to its payload view in place,
// following the involution and rotation contract of §4.A. It is a no-op
// when the frame is not masked.
func Unmask(hdr FrameHeader, payload channel.ReadableBuffer) {
	if !hdr.IsMasked {
		return
	}
	spans := make([][]byte, 0, 4)
	payload.ForEachSpan(func(b []byte) bool {
		spans = append(spans, b)
		return true
	})
	mask.ApplySpans(spans, hdr.MaskKey)
}

// EncodeHeader serializes a frame header for a payload of the given
// length. Server-originated frames MUST NOT be masked, so this package
// exposes no mask-key parameter: every frame this implementation emits
// has IsMasked false, matching §4.B's encode contract. Control opcodes
// must be final and within the control payload limit; callers are
// expected to have already enforced that upstream.
func EncodeHeader(opcode Opcode, isFinal bool, payloadLen int) []byte {
	b0 := byte(opcode) & 0x0F
	if isFinal {
		b0 |= FinBit
	}
	switch {
	case payloadLen <= 125:
		return []byte{b0, byte(payloadLen)}
	case payloadLen <= 0xFFFF:
		hdr := make([]byte, 4)
		hdr[0] = b0
		hdr[1] = 126
		binary.BigEndian.PutUint16(hdr[2:], uint16(payloadLen))
		return hdr
	default:
		hdr := make([]byte, 10)
		hdr[0] = b0
		hdr[1] = 127
		binary.BigEndian.PutUint64(hdr[2:], uint64(payloadLen))
		return hdr
	}
}
