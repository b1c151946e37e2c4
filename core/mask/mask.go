// Package mask implements the RFC 6455 frame-masking XOR routine.
//
// A WebSocket mask is a 32-bit key applied byte-wise, cyclically, across a
// payload. Masking and unmasking are the same operation (XOR is its own
// inverse), and the routine here is built to run over a payload that may be
// split across several pooled buffer spans: each call threads a "rotated"
// mask key into the next call so that masking a discontiguous buffer one
// span at a time produces byte-identical output to masking the same bytes
// contiguously.
//
// Three tiers run widest first: a hardware-vectorized tier that consumes
// platform-SIMD-width blocks (width detected via golang.org/x/sys/cpu
// feature probes, no cgo/asm), an 8-byte word tier that XORs whole uint64
// words, and a tail tier that finishes the remainder with a small jump
// table of aligned 8/16/32-bit XORs.
package mask

import (
	"encoding/binary"

	"golang.org/x/sys/cpu"
)

// vectorWidth is the tier-1 block size in bytes, chosen once at package
// init from the running CPU's detected feature set. It is always a
// multiple of 8 so tier 1 never needs to rotate the mask key itself.
var vectorWidth = detectVectorWidth()

// detectVectorWidth picks the widest SIMD register width the running CPU
// actually has, falling back to 0 (tier 1 disabled, tier 2 handles
// everything) on architectures or CPUs x/sys/cpu reports no match for.
func detectVectorWidth() int {
	switch {
	case cpu.X86.HasAVX2:
		return 32
	case cpu.X86.HasSSE2, cpu.ARM64.HasASIMD:
		return 16
	default:
		return 0
	}
}

// Apply XORs buf in place with the rotating 4-byte mask key, returning the
// mask key rotated by len(buf) bytes so the caller can thread it into a
// following call over the next contiguous span of the same payload.
//
// Rotation rule: after consuming k bytes, the next byte to XOR is
// byte (k mod 4) of the original key. Key is pre-rotated internally as a
// little-endian uint32 so repeated XORs can consume whole words.
func Apply(buf []byte, key [4]byte) [4]byte {
	if key == [4]byte{} {
		return key
	}
	k := binary.LittleEndian.Uint32(key[:])
	consumed := applyVector(buf, k, vectorWidth)
	k = applyWords(buf[consumed:], k)
	var out [4]byte
	binary.LittleEndian.PutUint32(out[:], k)
	return out
}

// applyVector is tier 1: it XORs floor(len(buf)/w) w-byte blocks, each
// processed as w/8 whole words, and returns how many bytes it consumed.
// w is always a multiple of 8, so the mask key never needs rotating here;
// the leftover len(buf)%w bytes are left for applyWords.
func applyVector(buf []byte, k uint32, w int) int {
	if w == 0 || len(buf) < w {
		return 0
	}
	word := uint64(k) | uint64(k)<<32
	n := len(buf)
	consumed := 0
	for consumed+w <= n {
		block := buf[consumed : consumed+w]
		for i := 0; i+8 <= w; i += 8 {
			v := binary.LittleEndian.Uint64(block[i : i+8])
			binary.LittleEndian.PutUint64(block[i:i+8], v^word)
		}
		consumed += w
	}
	return consumed
}

// applyWords is tiers 2 and 3: it XORs 8-byte words first, then the len&7
// tail, returning the rotated 32-bit key for any subsequent span.
func applyWords(buf []byte, k uint32) uint32 {
	word := uint64(k) | uint64(k)<<32

	n := len(buf)
	i := 0
	for ; i+8 <= n; i += 8 {
		v := binary.LittleEndian.Uint64(buf[i : i+8])
		binary.LittleEndian.PutUint64(buf[i:i+8], v^word)
	}

	rem := n - i
	switch rem {
	case 0:
		// no tail; rotation is a no-op since 8 % 4 == 0
	case 1:
		buf[i] ^= byte(k)
		k = rotl32(k, 1)
	case 2:
		v := binary.LittleEndian.Uint16(buf[i : i+2])
		binary.LittleEndian.PutUint16(buf[i:i+2], v^uint16(k))
		k = rotl32(k, 2)
	case 3:
		v := binary.LittleEndian.Uint16(buf[i : i+2])
		binary.LittleEndian.PutUint16(buf[i:i+2], v^uint16(k))
		buf[i+2] ^= byte(k >> 16)
		k = rotl32(k, 3)
	case 4:
		v := binary.LittleEndian.Uint32(buf[i : i+4])
		binary.LittleEndian.PutUint32(buf[i:i+4], v^k)
		// rotation by 4 bytes is a no-op
	case 5:
		v := binary.LittleEndian.Uint32(buf[i : i+4])
		binary.LittleEndian.PutUint32(buf[i:i+4], v^k)
		buf[i+4] ^= byte(k)
		k = rotl32(k, 1)
	case 6:
		v := binary.LittleEndian.Uint32(buf[i : i+4])
		binary.LittleEndian.PutUint32(buf[i:i+4], v^k)
		v2 := binary.LittleEndian.Uint16(buf[i+4 : i+6])
		binary.LittleEndian.PutUint16(buf[i+4:i+6], v2^uint16(k))
		k = rotl32(k, 2)
	case 7:
		v := binary.LittleEndian.Uint32(buf[i : i+4])
		binary.LittleEndian.PutUint32(buf[i:i+4], v^k)
		v2 := binary.LittleEndian.Uint16(buf[i+4 : i+6])
		binary.LittleEndian.PutUint16(buf[i+4:i+6], v2^uint16(k))
		buf[i+6] ^= byte(k >> 16)
		k = rotl32(k, 3)
	}
	return k
}

// rotl32 rotates a little-endian-packed mask key left by n bytes, i.e. the
// byte that was at offset n becomes the new offset-0 byte.
func rotl32(k uint32, n uint) uint32 {
	n %= 4
	if n == 0 {
		return k
	}
	shift := n * 8
	return (k >> shift) | (k << (32 - shift))
}

// ApplySpans masks a discontiguous buffer given as an ordered slice of
// contiguous spans, threading the rotated mask key between spans so the
// result is identical to masking the concatenation of all spans at once.
// A zero key is a no-op and every span is skipped untouched.
func ApplySpans(spans [][]byte, key [4]byte) {
	if key == [4]byte{} {
		return
	}
	for _, s := range spans {
		if len(s) == 0 {
			continue
		}
		key = Apply(s, key)
	}
}
