// Package events implements the asynchronous publish-subscribe backbone
// that carries connection lifecycle events from the protocol engine to the
// observers around it (admin API, telemetry, CLI).
package events

// EventType identifies the kind of event.
type EventType string

const (
	EventConnectionOpened EventType = "connection_opened"
	EventConnectionClosed EventType = "connection_closed"
	EventStatusPing       EventType = "status_ping"
	EventPlayerJoin       EventType = "player_join"
	EventPlayerQuit       EventType = "player_quit"
	EventLoginFailed      EventType = "login_failed"
	EventShutdown         EventType = "shutdown"
)

// Event is a single occurrence published on the bus.
type Event struct {
	Type    EventType
	Source  string
	Payload interface{}
}

// ConnectionPayload describes a raw TCP connection.
type ConnectionPayload struct {
	RemoteAddr string `json:"remote_addr"`
}

// PlayerPayload describes a player who completed or left a session.
type PlayerPayload struct {
	Name       string `json:"name"`
	UUID       string `json:"uuid"`
	RemoteAddr string `json:"remote_addr"`
}

// LoginFailurePayload describes a login attempt the engine rejected.
type LoginFailurePayload struct {
	Name       string `json:"name,omitempty"`
	RemoteAddr string `json:"remote_addr"`
	Reason     string `json:"reason"`
}
