package protocol

import "errors"

// Error taxonomy for the connection engine. Every one of these is fatal to
// the connection that raised it and never to the process; callers wrap them
// with fmt.Errorf("...: %w", ...) to attach state and packet id context so
// remotely-triggered failures stay diagnosable.
var (
	// ErrMalformedVarint is returned when a VarInt runs past 5 bytes
	// without terminating.
	ErrMalformedVarint = errors.New("malformed varint")

	// ErrFrameTooLarge is returned when a frame declares a length above
	// the configured maximum.
	ErrFrameTooLarge = errors.New("frame too large")

	// ErrCompression is returned when a compressed frame is corrupt or
	// inflates to a size other than its declared data length.
	ErrCompression = errors.New("compression error")

	// ErrUnexpectedPacket is returned when a packet id is not in the
	// legality whitelist for the connection's current state.
	ErrUnexpectedPacket = errors.New("unexpected packet")

	// ErrProtocol is returned when a packet is structurally valid but
	// carries an illegal field value (e.g. an unknown next-state).
	ErrProtocol = errors.New("protocol violation")

	// ErrAuthentication is returned on verify-token mismatch or rejection
	// by the session authentication service.
	ErrAuthentication = errors.New("authentication failed")

	// ErrTimeout is returned when the handshake or the external auth call
	// exceeds its time budget.
	ErrTimeout = errors.New("timed out")

	// ErrConnection is returned for underlying socket I/O failures.
	ErrConnection = errors.New("connection error")
)
