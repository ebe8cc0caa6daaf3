package protocol

import (
	"fmt"
	"io"
)

// maxVarIntBytes is the longest legal VarInt encoding. Reading further
// than this means the peer is feeding us garbage (or trying to make us
// read forever).
const maxVarIntBytes = 5

// AppendVarInt appends the VarInt encoding of v to dst and returns the
// extended slice. Values are encoded as 7-bit groups, least-significant
// group first, with the high bit of each byte signalling continuation.
// Zero encodes to a single 0x00 byte.
func AppendVarInt(dst []byte, v int32) []byte {
	u := uint32(v)
	for {
		b := byte(u & 0x7f)
		u >>= 7
		if u == 0 {
			return append(dst, b)
		}
		dst = append(dst, b|0x80)
	}
}

// VarIntLen returns the number of bytes AppendVarInt would emit for v.
func VarIntLen(v int32) int {
	u := uint32(v)
	n := 1
	for u >= 0x80 {
		u >>= 7
		n++
	}
	return n
}

// ReadVarInt decodes a VarInt from r. It fails with ErrMalformedVarint if
// more than 5 bytes are consumed without the continuation bit clearing.
func ReadVarInt(r io.ByteReader) (int32, error) {
	var res uint32
	for i := 0; i < maxVarIntBytes; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		res |= uint32(b&0x7f) << (7 * i)
		if b&0x80 == 0 {
			return int32(res), nil
		}
	}
	return 0, fmt.Errorf("%w: exceeds %d bytes", ErrMalformedVarint, maxVarIntBytes)
}
