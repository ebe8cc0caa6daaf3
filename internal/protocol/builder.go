package protocol

import (
	"bytes"
	"encoding/binary"
)

// PacketBuilder constructs outbound packet bodies (packet id followed by
// the field sequence). The result is handed to a FrameWriter which applies
// length prefixing, compression and encryption.
type PacketBuilder struct {
	buf bytes.Buffer
}

// NewPacketBuilder starts a packet body with the given packet id.
func NewPacketBuilder(id int32) *PacketBuilder {
	b := &PacketBuilder{}
	b.WriteVarInt(id)
	return b
}

// WriteVarInt appends a VarInt field.
func (b *PacketBuilder) WriteVarInt(v int32) *PacketBuilder {
	b.buf.Write(AppendVarInt(nil, v))
	return b
}

// WriteString appends a VarInt-length-prefixed UTF-8 string.
func (b *PacketBuilder) WriteString(s string) *PacketBuilder {
	b.WriteVarInt(int32(len(s)))
	b.buf.WriteString(s)
	return b
}

// WriteByteArray appends a VarInt-length-prefixed byte array.
func (b *PacketBuilder) WriteByteArray(data []byte) *PacketBuilder {
	b.WriteVarInt(int32(len(data)))
	b.buf.Write(data)
	return b
}

// WriteUint16 appends a big-endian unsigned short.
func (b *PacketBuilder) WriteUint16(v uint16) *PacketBuilder {
	binary.Write(&b.buf, binary.BigEndian, v)
	return b
}

// WriteInt64 appends a big-endian signed long.
func (b *PacketBuilder) WriteInt64(v int64) *PacketBuilder {
	binary.Write(&b.buf, binary.BigEndian, v)
	return b
}

// WriteBool appends a single 0x00/0x01 byte.
func (b *PacketBuilder) WriteBool(v bool) *PacketBuilder {
	if v {
		b.buf.WriteByte(1)
	} else {
		b.buf.WriteByte(0)
	}
	return b
}

// WriteBytes appends raw bytes with no length prefix.
func (b *PacketBuilder) WriteBytes(data []byte) *PacketBuilder {
	b.buf.Write(data)
	return b
}

// Bytes returns the packet body: VarInt(id) followed by the fields.
func (b *PacketBuilder) Bytes() []byte {
	return b.buf.Bytes()
}
