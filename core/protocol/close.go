package protocol

import "encoding/binary"

// ParseCloseCode extracts the 2-byte status code RFC 6455 §5.5.1 places at
// the front of a Close frame's payload. It returns CloseNoStatusRcvd when
// the payload is empty (no code given) or too short to hold one; this
// implementation does not validate the code against the reserved/registered
// ranges, it only extracts what the peer sent.
func ParseCloseCode(payload []byte) int {
	if len(payload) < 2 {
		return CloseNoStatusRcvd
	}
	return int(binary.BigEndian.Uint16(payload[:2]))
}

// EncodeClosePayload builds a Close frame payload carrying code followed
// by an optional UTF-8 reason.
func EncodeClosePayload(code int, reason string) []byte {
	out := make([]byte, 2+len(reason))
	binary.BigEndian.PutUint16(out, uint16(code))
	copy(out[2:], reason)
	return out
}
