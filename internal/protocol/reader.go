package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"unicode/utf8"
)

// PacketReader decodes the field sequence of a single packet payload.
// Every read is bounded by the payload that was already framed, so a
// hostile length prefix can never make it read past the packet.
type PacketReader struct {
	r *bytes.Reader
}

// NewPacketReader wraps a decoded packet payload.
func NewPacketReader(payload []byte) *PacketReader {
	return &PacketReader{r: bytes.NewReader(payload)}
}

// ReadVarInt reads a VarInt field.
func (p *PacketReader) ReadVarInt() (int32, error) {
	return ReadVarInt(p.r)
}

// ReadString reads a VarInt-length-prefixed UTF-8 string of at most max
// bytes. A negative or oversized prefix, or invalid UTF-8, is ErrProtocol.
func (p *PacketReader) ReadString(max int) (string, error) {
	n, err := p.ReadVarInt()
	if err != nil {
		return "", err
	}
	if n < 0 || int(n) > max {
		return "", fmt.Errorf("%w: string length %d out of range (max %d)", ErrProtocol, n, max)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(p.r, buf); err != nil {
		return "", fmt.Errorf("failed to read string body: %w", err)
	}
	if !utf8.Valid(buf) {
		return "", fmt.Errorf("%w: string is not valid UTF-8", ErrProtocol)
	}
	return string(buf), nil
}

// ReadByteArray reads a VarInt-length-prefixed byte array of at most max bytes.
func (p *PacketReader) ReadByteArray(max int) ([]byte, error) {
	n, err := p.ReadVarInt()
	if err != nil {
		return nil, err
	}
	if n < 0 || int(n) > max {
		return nil, fmt.Errorf("%w: array length %d out of range (max %d)", ErrProtocol, n, max)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(p.r, buf); err != nil {
		return nil, fmt.Errorf("failed to read array body: %w", err)
	}
	return buf, nil
}

// ReadUint16 reads a big-endian unsigned short.
func (p *PacketReader) ReadUint16() (uint16, error) {
	var v uint16
	if err := binary.Read(p.r, binary.BigEndian, &v); err != nil {
		return 0, err
	}
	return v, nil
}

// ReadInt64 reads a big-endian signed long.
func (p *PacketReader) ReadInt64() (int64, error) {
	var v int64
	if err := binary.Read(p.r, binary.BigEndian, &v); err != nil {
		return 0, err
	}
	return v, nil
}

// Remaining returns how many bytes of the payload are still unread.
func (p *PacketReader) Remaining() int {
	return p.r.Len()
}
