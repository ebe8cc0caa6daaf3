package status

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberline-project/emberline/internal/config"
	"github.com/emberline-project/emberline/internal/protocol"
)

type fixedCounter int

func (c fixedCounter) PlayerCount() int { return int(c) }

func TestStatusDocument(t *testing.T) {
	p := NewProvider(config.GameConfig{MOTD: "Welcome", MaxPlayers: 20}, fixedCounter(3))

	doc := p.Status()
	assert.Equal(t, protocol.VersionName, doc.Version.Name)
	assert.Equal(t, int(protocol.VersionNumber), doc.Version.Protocol)
	assert.Equal(t, 20, doc.Players.Max)
	assert.Equal(t, 3, doc.Players.Online)
	assert.Equal(t, "Welcome", doc.Description.Text)
	assert.Empty(t, doc.Favicon)
}

func TestStatusJSONOmitsEmptyFavicon(t *testing.T) {
	p := NewProvider(config.GameConfig{MOTD: "m", MaxPlayers: 1}, nil)

	out, err := p.StatusJSON()
	require.NoError(t, err)
	assert.NotContains(t, out, "favicon")

	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.Contains(t, doc, "version")
	assert.Contains(t, doc, "players")
	assert.Contains(t, doc, "description")
}

func TestFaviconEmbeddedAsDataURI(t *testing.T) {
	path := filepath.Join(t.TempDir(), "icon.png")
	require.NoError(t, os.WriteFile(path, []byte("\x89PNG\r\n\x1a\nfake"), 0644))

	p := NewProvider(config.GameConfig{MOTD: "m", MaxPlayers: 1, FaviconPath: path}, nil)
	doc := p.Status()
	assert.True(t, strings.HasPrefix(doc.Favicon, "data:image/png;base64,"))
}

func TestMissingFaviconIsDropped(t *testing.T) {
	p := NewProvider(config.GameConfig{MOTD: "m", MaxPlayers: 1, FaviconPath: "/does/not/exist.png"}, nil)
	assert.Empty(t, p.Status().Favicon)
}
