// Package network implements the TCP listener and the per-connection
// bookkeeping for the protocol engine.
package network

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/emberline-project/emberline/internal/auth"
	"github.com/emberline-project/emberline/internal/events"
)

// ErrServerFull is returned to a login attempt when the player cap is
// reached. Its message is shown to the client.
var ErrServerFull = errors.New("The server is full.")

// ConnInfo describes one tracked connection for the admin surfaces.
type ConnInfo struct {
	RemoteAddr  string    `json:"remote_addr"`
	ConnectedAt time.Time `json:"connected_at"`
	PlayerName  string    `json:"player_name,omitempty"`
	PlayerUUID  string    `json:"player_uuid,omitempty"`
}

// Registry tracks the live connections of this process. It doubles as the
// session registrar (join/quit bookkeeping and the player cap) and as the
// online counter behind the status document.
type Registry struct {
	mu         sync.RWMutex
	maxPlayers int
	bus        *events.Bus
	conns      map[net.Conn]*ConnInfo
	players    int
}

// NewRegistry creates a Registry enforcing the given player cap.
func NewRegistry(maxPlayers int, bus *events.Bus) *Registry {
	return &Registry{
		maxPlayers: maxPlayers,
		bus:        bus,
		conns:      make(map[net.Conn]*ConnInfo),
	}
}

// Register adds a freshly accepted connection.
func (r *Registry) Register(conn net.Conn) {
	r.mu.Lock()
	r.conns[conn] = &ConnInfo{
		RemoteAddr:  conn.RemoteAddr().String(),
		ConnectedAt: time.Now(),
	}
	r.mu.Unlock()

	r.bus.Emit(context.Background(), events.Event{
		Type:    events.EventConnectionOpened,
		Source:  conn.RemoteAddr().String(),
		Payload: events.ConnectionPayload{RemoteAddr: conn.RemoteAddr().String()},
	})
}

// Unregister removes a connection after its session goroutine is done.
func (r *Registry) Unregister(conn net.Conn) {
	r.mu.Lock()
	info, ok := r.conns[conn]
	delete(r.conns, conn)
	r.mu.Unlock()

	if ok {
		r.bus.Emit(context.Background(), events.Event{
			Type:    events.EventConnectionClosed,
			Source:  info.RemoteAddr,
			Payload: events.ConnectionPayload{RemoteAddr: info.RemoteAddr},
		})
	}
}

// OnJoin records a completed login. It vetoes the join when the player
// cap is reached.
func (r *Registry) OnJoin(profile auth.Profile, remoteAddr string) error {
	r.mu.Lock()
	if r.players >= r.maxPlayers {
		r.mu.Unlock()
		return ErrServerFull
	}
	r.players++
	for _, info := range r.conns {
		if info.RemoteAddr == remoteAddr {
			info.PlayerName = profile.Name
			info.PlayerUUID = profile.UUID.String()
			break
		}
	}
	r.mu.Unlock()

	r.bus.Emit(context.Background(), events.Event{
		Type:   events.EventPlayerJoin,
		Source: remoteAddr,
		Payload: events.PlayerPayload{
			Name:       profile.Name,
			UUID:       profile.UUID.String(),
			RemoteAddr: remoteAddr,
		},
	})
	return nil
}

// OnQuit records a player leaving, however the session ended.
func (r *Registry) OnQuit(profile auth.Profile, remoteAddr string) {
	r.mu.Lock()
	if r.players > 0 {
		r.players--
	}
	r.mu.Unlock()

	r.bus.Emit(context.Background(), events.Event{
		Type:   events.EventPlayerQuit,
		Source: remoteAddr,
		Payload: events.PlayerPayload{
			Name:       profile.Name,
			UUID:       profile.UUID.String(),
			RemoteAddr: remoteAddr,
		},
	})
}

// PlayerCount returns how many sessions are in the Play state.
func (r *Registry) PlayerCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.players
}

// ConnectionCount returns how many sockets are currently tracked.
func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Snapshot returns a copy of the current connection table.
func (r *Registry) Snapshot() []ConnInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ConnInfo, 0, len(r.conns))
	for _, info := range r.conns {
		out = append(out, *info)
	}
	return out
}

// CloseAll force-closes every tracked socket. Each session goroutine then
// unwinds through its normal error path.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	conns := make([]net.Conn, 0, len(r.conns))
	for conn := range r.conns {
		conns = append(conns, conn)
	}
	r.mu.Unlock()

	for _, conn := range conns {
		conn.Close()
	}
	if len(conns) > 0 {
		log.Info().Int("count", len(conns)).Msg("all connections closed")
	}
}
