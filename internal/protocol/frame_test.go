package protocol

import (
	"bytes"
	"testing"

	"github.com/klauspost/compress/zlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTripUncompressed(t *testing.T) {
	var buf bytes.Buffer
	fw := NewFrameWriter(&buf)
	fr := NewFrameReader(&buf, 0)

	body := NewPacketBuilder(PktStatusRequest).Bytes()
	require.NoError(t, fw.WritePacket(body))

	pkt, err := fr.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, PktStatusRequest, pkt.ID)
	assert.Empty(t, pkt.Payload)
}

func TestFrameRoundTripWithFields(t *testing.T) {
	var buf bytes.Buffer
	fw := NewFrameWriter(&buf)
	fr := NewFrameReader(&buf, 0)

	body := NewPacketBuilder(PktHandshake).
		WriteVarInt(VersionNumber).
		WriteString("localhost").
		WriteUint16(25565).
		WriteVarInt(1).
		Bytes()
	require.NoError(t, fw.WritePacket(body))

	pkt, err := fr.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, PktHandshake, pkt.ID)

	r := NewPacketReader(pkt.Payload)
	version, err := r.ReadVarInt()
	require.NoError(t, err)
	assert.Equal(t, int32(VersionNumber), version)

	addr, err := r.ReadString(255)
	require.NoError(t, err)
	assert.Equal(t, "localhost", addr)

	port, err := r.ReadUint16()
	require.NoError(t, err)
	assert.Equal(t, uint16(25565), port)

	next, err := r.ReadVarInt()
	require.NoError(t, err)
	assert.Equal(t, int32(1), next)
	assert.Zero(t, r.Remaining())
}

func TestFrameCompressionBelowThreshold(t *testing.T) {
	const threshold = 64

	var buf bytes.Buffer
	fw := NewFrameWriter(&buf)
	fw.EnableCompression(threshold)
	fr := NewFrameReader(&buf, 0)
	fr.EnableCompression()

	// Body is one byte short of the threshold, so the inner data length
	// must be zero and the payload must travel as-is.
	payload := bytes.Repeat([]byte{0xAB}, threshold-1-VarIntLen(0x30))
	body := NewPacketBuilder(0x30).WriteBytes(payload).Bytes()
	require.Len(t, body, threshold-1)
	require.NoError(t, fw.WritePacket(body))

	wire := buf.Bytes()
	frameLen, err := ReadVarInt(bytes.NewReader(wire))
	require.NoError(t, err)
	// frame = VarInt(0) marker + body
	assert.Equal(t, int32(len(body)+1), frameLen)

	pkt, err := fr.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, int32(0x30), pkt.ID)
	assert.Equal(t, payload, pkt.Payload)
}

func TestFrameCompressionAtThreshold(t *testing.T) {
	const threshold = 64

	var buf bytes.Buffer
	fw := NewFrameWriter(&buf)
	fw.EnableCompression(threshold)
	fr := NewFrameReader(&buf, 0)
	fr.EnableCompression()

	payload := bytes.Repeat([]byte{0xCD}, threshold)
	body := NewPacketBuilder(0x31).WriteBytes(payload).Bytes()
	require.GreaterOrEqual(t, len(body), threshold)
	require.NoError(t, fw.WritePacket(body))

	// The inner data length must declare the uncompressed size.
	wire := bytes.NewReader(buf.Bytes())
	_, err := ReadVarInt(wire) // frame length
	require.NoError(t, err)
	dataLen, err := ReadVarInt(wire)
	require.NoError(t, err)
	assert.Equal(t, int32(len(body)), dataLen)

	pkt, err := fr.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, int32(0x31), pkt.ID)
	assert.Equal(t, payload, pkt.Payload)
}

func TestFrameCompressionAlwaysCompressesAboveThreshold(t *testing.T) {
	// Incompressible bodies still go through zlib once they reach the
	// threshold; the deflate output being larger than the input is fine.
	var seed byte
	payload := make([]byte, 128)
	for i := range payload {
		seed = seed*31 + byte(i) + 7
		payload[i] = seed
	}

	var buf bytes.Buffer
	fw := NewFrameWriter(&buf)
	fw.EnableCompression(16)
	fr := NewFrameReader(&buf, 0)
	fr.EnableCompression()

	body := NewPacketBuilder(0x32).WriteBytes(payload).Bytes()
	require.NoError(t, fw.WritePacket(body))

	wire := bytes.NewReader(buf.Bytes())
	_, err := ReadVarInt(wire)
	require.NoError(t, err)
	dataLen, err := ReadVarInt(wire)
	require.NoError(t, err)
	assert.NotZero(t, dataLen, "body at threshold must be compressed")

	pkt, err := fr.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, payload, pkt.Payload)
}

func TestFrameSizeMismatchRejected(t *testing.T) {
	// Hand-build a compressed frame whose declared data length is larger
	// than the actual inflated size.
	var z bytes.Buffer
	zw := zlib.NewWriter(&z)
	_, err := zw.Write([]byte{0x33, 0x01, 0x02})
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	inner := AppendVarInt(nil, 100) // lies: only 3 bytes inflate
	inner = append(inner, z.Bytes()...)
	frame := AppendVarInt(nil, int32(len(inner)))
	frame = append(frame, inner...)

	fr := NewFrameReader(bytes.NewReader(frame), 0)
	fr.EnableCompression()
	_, err = fr.ReadFrame()
	assert.ErrorIs(t, err, ErrCompression)
}

func TestFrameDeclaredTooShortRejected(t *testing.T) {
	var z bytes.Buffer
	zw := zlib.NewWriter(&z)
	_, err := zw.Write(bytes.Repeat([]byte{0x44}, 32))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	inner := AppendVarInt(nil, 8) // lies: 32 bytes inflate
	inner = append(inner, z.Bytes()...)
	frame := AppendVarInt(nil, int32(len(inner)))
	frame = append(frame, inner...)

	fr := NewFrameReader(bytes.NewReader(frame), 0)
	fr.EnableCompression()
	_, err = fr.ReadFrame()
	assert.ErrorIs(t, err, ErrCompression)
}

func TestFrameTooLargeRejected(t *testing.T) {
	frame := AppendVarInt(nil, 1024)
	frame = append(frame, bytes.Repeat([]byte{0}, 1024)...)

	fr := NewFrameReader(bytes.NewReader(frame), 512)
	_, err := fr.ReadFrame()
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestFrameZeroLengthRejected(t *testing.T) {
	fr := NewFrameReader(bytes.NewReader([]byte{0x00}), 0)
	_, err := fr.ReadFrame()
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestHTTPProbeDetected(t *testing.T) {
	fr := NewFrameReader(bytes.NewReader([]byte("GET / HTTP/1.1\r\n\r\n")), 0)
	_, err := fr.ReadFrame()
	assert.ErrorIs(t, err, ErrHTTPGet)
}

func TestProbeDetectionOnlyOnFirstFrame(t *testing.T) {
	var buf bytes.Buffer
	fw := NewFrameWriter(&buf)
	fr := NewFrameReader(&buf, 0)

	require.NoError(t, fw.WritePacket(NewPacketBuilder(0x00).WriteVarInt(42).Bytes()))
	require.NoError(t, fw.WritePacket(NewPacketBuilder(0x01).Bytes()))

	pkt, err := fr.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, int32(0x00), pkt.ID)

	pkt, err = fr.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, int32(0x01), pkt.ID)
}

func TestReadStringRejectsOversize(t *testing.T) {
	body := NewPacketBuilder(0x00).WriteString("toolongname").Bytes()
	r := NewPacketReader(body[VarIntLen(0x00):])
	_, err := r.ReadString(4)
	assert.ErrorIs(t, err, ErrProtocol)
}
