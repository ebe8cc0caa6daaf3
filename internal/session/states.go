// Package session implements the per-connection protocol state machine:
// which packets are legal in which phase, and the handshake algorithm that
// moves a connection from a raw socket to an authenticated play session.
package session

import "github.com/emberline-project/emberline/internal/protocol"

// State is the phase of a connection's life. Forward progress is only ever
// Handshaking -> {Status, Login} -> Play; Disconnected is reachable from
// every state and terminal.
type State int

const (
	StateHandshaking State = iota
	StateStatus
	StateLogin
	StatePlay
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateHandshaking:
		return "handshaking"
	case StateStatus:
		return "status"
	case StateLogin:
		return "login"
	case StatePlay:
		return "play"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// legalInbound is the strict whitelist of inbound packet ids per state.
// Anything not listed is rejected and kills the connection; Play accepts
// every id because its packets are opaque to the engine.
var legalInbound = map[State]map[int32]struct{}{
	StateHandshaking: {
		protocol.PktHandshake: {},
	},
	StateStatus: {
		protocol.PktStatusRequest: {},
		protocol.PktStatusPing:    {},
	},
	StateLogin: {
		protocol.PktLoginStart:         {},
		protocol.PktEncryptionResponse: {},
	},
}

// inboundLegal reports whether a packet id may arrive in a state.
func inboundLegal(s State, id int32) bool {
	if s == StatePlay {
		return true
	}
	_, ok := legalInbound[s][id]
	return ok
}

// Handshake next-state selectors, as sent on the wire.
const (
	nextStateStatus int32 = 1
	nextStateLogin  int32 = 2
)
