package auth

import (
	"context"
	"crypto/sha1"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/emberline-project/emberline/internal/util"
)

// DefaultSessionURL is Mojang's hasJoined endpoint.
const DefaultSessionURL = "https://sessionserver.mojang.com/session/minecraft/hasJoined"

// SessionVerifier validates logins against a Mojang-compatible session
// server. The client registers the shared secret with the service before
// sending its EncryptionResponse; we look the registration up by the
// protocol's server-id hash.
type SessionVerifier struct {
	baseURL string
	client  *http.Client
	logger  zerolog.Logger
}

// NewSessionVerifier creates a verifier against the given hasJoined URL
// (DefaultSessionURL when empty).
func NewSessionVerifier(baseURL string, timeout time.Duration) *SessionVerifier {
	if baseURL == "" {
		baseURL = DefaultSessionURL
	}
	return &SessionVerifier{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  util.ComponentLogger("session_verifier"),
	}
}

type hasJoinedResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Verify asks the session service whether username registered the given
// shared secret for this server's public key. Errors out on any non-200
// answer; the caller maps that to an authentication failure.
func (v *SessionVerifier) Verify(ctx context.Context, username string, sharedSecret, publicKeyDER []byte) (Profile, error) {
	hash := ServerIDHash("", sharedSecret, publicKeyDER)

	reqURL := fmt.Sprintf("%s?username=%s&serverId=%s",
		v.baseURL, url.QueryEscape(username), url.QueryEscape(hash))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return Profile{}, fmt.Errorf("failed to build session request: %w", err)
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return Profile{}, fmt.Errorf("session service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Profile{}, fmt.Errorf("session service rejected login for %s (status %d)", username, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return Profile{}, fmt.Errorf("failed to read session response: %w", err)
	}

	var parsed hasJoinedResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Profile{}, fmt.Errorf("failed to parse session response: %w", err)
	}

	id, err := uuid.Parse(parsed.ID)
	if err != nil {
		return Profile{}, fmt.Errorf("session service returned invalid uuid %q: %w", parsed.ID, err)
	}

	v.logger.Debug().
		Str("player", parsed.Name).
		Str("uuid", id.String()).
		Msg("session verified")

	return Profile{UUID: id, Name: parsed.Name}, nil
}

// ServerIDHash computes the protocol's login hash: the SHA-1 of
// serverID ++ sharedSecret ++ publicKeyDER rendered as a signed
// two's-complement hex integer with no leading zeros, the way Java's
// BigInteger prints it.
func ServerIDHash(serverID string, sharedSecret, publicKeyDER []byte) string {
	h := sha1.New()
	io.WriteString(h, serverID)
	h.Write(sharedSecret)
	h.Write(publicKeyDER)
	digest := h.Sum(nil)

	// Negative when the top bit is set: print the two's complement
	// magnitude with a minus sign.
	if digest[0]&0x80 == 0 {
		return new(big.Int).SetBytes(digest).Text(16)
	}
	for i := range digest {
		digest[i] = ^digest[i]
	}
	n := new(big.Int).SetBytes(digest)
	n.Add(n, big.NewInt(1))
	return "-" + n.Text(16)
}
