// Package protocol implements the binary wire protocol spoken by Minecraft
// clients: VarInt encoding, length-prefixed packet framing with optional
// zlib compression, and the packet readers/builders used during the
// handshake, status and login phases. All multi-byte fixed-width fields are
// big-endian; strings are VarInt-length-prefixed UTF-8.
package protocol

// Protocol version implemented by this server.
const (
	VersionName   = "1.15.2"
	VersionNumber = 578
)

// Packet ids for client -> server packets, grouped by connection phase.
const (
	// Handshaking
	PktHandshake int32 = 0x00

	// Status
	PktStatusRequest int32 = 0x00
	PktStatusPing    int32 = 0x01

	// Login
	PktLoginStart         int32 = 0x00
	PktEncryptionResponse int32 = 0x01
)

// Packet ids for server -> client packets.
const (
	// Status
	PktStatusResponse int32 = 0x00
	PktStatusPong     int32 = 0x01

	// Login
	PktLoginDisconnect   int32 = 0x00
	PktEncryptionRequest int32 = 0x01
	PktLoginSuccess      int32 = 0x02
	PktSetCompression    int32 = 0x03

	// Play
	PktPlayDisconnect int32 = 0x1B
)

// DefaultMaxFrameSize bounds the declared length of a single frame. A peer
// declaring anything larger is dropped before any allocation happens.
const DefaultMaxFrameSize = 2 * 1024 * 1024

// MaxStringLen is the default cap for length-prefixed strings where the
// packet definition doesn't impose a tighter one.
const MaxStringLen = 32767

// Packet is one decoded frame: a packet id and its opaque payload. Packets
// are never mutated after decode; payload semantics past the handshake
// belong to the play-state dispatcher.
type Packet struct {
	ID      int32
	Payload []byte
}
