// Package status builds the server-list status document served during the
// status phase of a connection.
package status

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/emberline-project/emberline/internal/config"
	"github.com/emberline-project/emberline/internal/protocol"
	"github.com/emberline-project/emberline/internal/util"
)

// Document is the status JSON sent in a Status Response packet.
type Document struct {
	Version     Version     `json:"version"`
	Players     Players     `json:"players"`
	Description Description `json:"description"`
	Favicon     string      `json:"favicon,omitempty"`
}

// Version names the protocol implementation.
type Version struct {
	Name     string `json:"name"`
	Protocol int    `json:"protocol"`
}

// Players carries the occupancy counts.
type Players struct {
	Max    int `json:"max"`
	Online int `json:"online"`
}

// Description is the MOTD as a chat component.
type Description struct {
	Text string `json:"text"`
}

// OnlineCounter reports how many players are currently in the Play state.
// Satisfied by the connection registry.
type OnlineCounter interface {
	PlayerCount() int
}

// Provider answers status requests. It is a pure query: building the
// document never mutates anything.
type Provider struct {
	motd       string
	maxPlayers int
	favicon    string
	online     OnlineCounter
	logger     zerolog.Logger
}

// NewProvider creates a Provider from the game configuration. A configured
// favicon PNG is loaded once and embedded as a base64 data URI; a missing
// or unreadable file just drops the favicon from the document.
func NewProvider(cfg config.GameConfig, online OnlineCounter) *Provider {
	p := &Provider{
		motd:       cfg.MOTD,
		maxPlayers: cfg.MaxPlayers,
		online:     online,
		logger:     util.ComponentLogger("status"),
	}

	if cfg.FaviconPath != "" {
		data, err := os.ReadFile(cfg.FaviconPath)
		if err != nil {
			p.logger.Warn().Err(err).Str("path", cfg.FaviconPath).Msg("failed to load favicon")
		} else {
			p.favicon = "data:image/png;base64," + base64.StdEncoding.EncodeToString(data)
		}
	}

	return p
}

// Status returns the current status document.
func (p *Provider) Status() Document {
	online := 0
	if p.online != nil {
		online = p.online.PlayerCount()
	}
	return Document{
		Version:     Version{Name: protocol.VersionName, Protocol: protocol.VersionNumber},
		Players:     Players{Max: p.maxPlayers, Online: online},
		Description: Description{Text: p.motd},
		Favicon:     p.favicon,
	}
}

// StatusJSON returns the current status document serialized for the wire.
func (p *Provider) StatusJSON() (string, error) {
	doc := p.Status()
	data, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to marshal status document: %w", err)
	}
	return string(data), nil
}
