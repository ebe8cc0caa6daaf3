package session

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/emberline-project/emberline/internal/auth"
	"github.com/emberline-project/emberline/internal/config"
	"github.com/emberline-project/emberline/internal/crypto"
	"github.com/emberline-project/emberline/internal/events"
	"github.com/emberline-project/emberline/internal/protocol"
	"github.com/emberline-project/emberline/internal/util"
)

// verifyTokenLen is the size of the random challenge issued per handshake.
const verifyTokenLen = 16

// maxEncryptedLen bounds the RSA ciphertext fields of EncryptionResponse.
const maxEncryptedLen = 256

// maxUsernameLen is the protocol's username limit.
const maxUsernameLen = 16

// StatusSource supplies the status document for Status Request packets.
type StatusSource interface {
	StatusJSON() (string, error)
}

// PlayDispatcher receives post-handshake packets unparsed beyond id and
// payload. Its semantics are outside the engine.
type PlayDispatcher interface {
	Dispatch(packetID int32, payload []byte) error
}

// Registrar is notified when a session completes login or ends. OnJoin may
// veto the join (server full, banned mid-handshake); the returned error's
// message is shown to the player.
type Registrar interface {
	OnJoin(profile auth.Profile, remoteAddr string) error
	OnQuit(profile auth.Profile, remoteAddr string)
}

// BanChecker is consulted before a login is allowed to proceed.
type BanChecker interface {
	IsBanned(username string) (bool, string, error)
}

// pendingLogin exists only between LoginStart and the end of the
// handshake. The verify token is generated fresh per attempt and compared
// exactly once.
type pendingLogin struct {
	username    string
	verifyToken []byte
}

// Session drives one connection through the protocol state machine. It is
// owned by exactly one goroutine; nothing else mutates its state.
type Session struct {
	conn   net.Conn
	remote string

	sr *crypto.StreamReader
	sw *crypto.StreamWriter
	fr *protocol.FrameReader
	fw *protocol.FrameWriter

	cfg       *config.Config
	keys      *crypto.KeyMaterial
	status    StatusSource
	verifier  auth.Verifier
	play      PlayDispatcher
	registrar Registrar
	bans      BanChecker
	events    *events.Bus

	state           State
	protocolVersion int32
	username        string
	pending         *pendingLogin
	profile         *auth.Profile

	logger zerolog.Logger
}

// Deps bundles the collaborators a Session needs. Config and KeyMaterial
// are shared read-only across all sessions.
type Deps struct {
	Config    *config.Config
	Keys      *crypto.KeyMaterial
	Status    StatusSource
	Verifier  auth.Verifier
	Play      PlayDispatcher
	Registrar Registrar
	Bans      BanChecker

	// Events is optional; when set the session publishes status pings
	// and login failures for the observers.
	Events *events.Bus
}

// New wraps an accepted socket in a Session in the Handshaking state.
func New(conn net.Conn, deps Deps) *Session {
	sr := crypto.NewStreamReader(conn)
	sw := crypto.NewStreamWriter(conn)
	return &Session{
		conn:      conn,
		remote:    conn.RemoteAddr().String(),
		sr:        sr,
		sw:        sw,
		fr:        protocol.NewFrameReader(sr, deps.Config.Network.MaxFrameSize),
		fw:        protocol.NewFrameWriter(sw),
		cfg:       deps.Config,
		keys:      deps.Keys,
		status:    deps.Status,
		verifier:  deps.Verifier,
		play:      deps.Play,
		registrar: deps.Registrar,
		bans:      deps.Bans,
		events:    deps.Events,
		state:     StateHandshaking,
		logger: util.ComponentLogger("session").With().
			Str("remote", conn.RemoteAddr().String()).Logger(),
	}
}

// State returns the session's current phase.
func (s *Session) State() State {
	return s.state
}

// Profile returns the authenticated player, nil before login completes.
func (s *Session) Profile() *auth.Profile {
	return s.profile
}

// Run processes packets in strict arrival order until the connection ends.
// Every exit path closes the socket; the returned error (nil on a clean
// client disconnect) is for the caller to log.
func (s *Session) Run(ctx context.Context) error {
	defer s.conn.Close()
	defer s.leave()

	// The whole handshake shares one deadline; it is cleared on entering
	// Play. A handshake that stalls past it is discarded, half-built
	// state and all.
	handshakeTimeout := time.Duration(s.cfg.Network.HandshakeTimeoutSec) * time.Second
	if err := s.conn.SetDeadline(time.Now().Add(handshakeTimeout)); err != nil {
		return fmt.Errorf("%w: %v", protocol.ErrConnection, err)
	}

	for s.state != StateDisconnected {
		select {
		case <-ctx.Done():
			s.state = StateDisconnected
			return nil
		default:
		}

		pkt, err := s.fr.ReadFrame()
		if err != nil {
			return s.fail(s.classifyReadError(err))
		}

		if !inboundLegal(s.state, pkt.ID) {
			return s.fail(fmt.Errorf("%w: packet 0x%02X in state %s",
				protocol.ErrUnexpectedPacket, pkt.ID, s.state))
		}

		switch s.state {
		case StateHandshaking:
			err = s.handleHandshake(pkt)
		case StateStatus:
			err = s.handleStatus(pkt)
		case StateLogin:
			err = s.handleLogin(ctx, pkt)
		case StatePlay:
			err = s.play.Dispatch(pkt.ID, pkt.Payload)
		}
		if err != nil {
			return s.fail(err)
		}
	}
	return nil
}

// leave deregisters an authenticated player when the session ends.
func (s *Session) leave() {
	if s.profile != nil {
		s.registrar.OnQuit(*s.profile, s.remote)
		s.profile = nil
	}
}

// classifyReadError maps low-level read failures onto the engine's error
// taxonomy and handles the HTTP probe answer.
func (s *Session) classifyReadError(err error) error {
	switch {
	case errors.Is(err, protocol.ErrHTTPGet):
		s.logger.Debug().Msg("answering HTTP probe")
		io.WriteString(s.conn, "HTTP/1.1 200 OK\r\nConnection: close\r\n\r\n")
		s.state = StateDisconnected
		return nil
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		if s.state == StatePlay {
			// Clients just drop the socket when leaving.
			s.logger.Debug().Msg("client closed connection")
			s.state = StateDisconnected
			return nil
		}
		return fmt.Errorf("%w: peer closed during %s: %v", protocol.ErrConnection, s.state, err)
	default:
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return fmt.Errorf("%w: no handshake progress in state %s", protocol.ErrTimeout, s.state)
		}
		return err
	}
}

// fail terminates the session over err. When the state permits it the
// client is told why; in Handshaking and Status we just close.
func (s *Session) fail(err error) error {
	if err == nil {
		return nil
	}
	prior := s.state
	s.state = StateDisconnected

	// Disconnect packets exist in Login and Play; in Handshaking and
	// Status the socket just closes.
	switch prior {
	case StatePlay:
		s.writeDisconnect(protocol.PktPlayDisconnect, disconnectReason(err))
	case StateLogin:
		s.writeDisconnect(protocol.PktLoginDisconnect, disconnectReason(err))
		if s.events != nil {
			s.events.Emit(context.Background(), events.Event{
				Type:   events.EventLoginFailed,
				Source: s.remote,
				Payload: events.LoginFailurePayload{
					Name:       s.username,
					RemoteAddr: s.remote,
					Reason:     disconnectReason(err),
				},
			})
		}
	}
	return err
}

// writeDisconnect best-effort sends a Disconnect packet with a chat-JSON
// reason. Failures are ignored; the socket is closing either way.
func (s *Session) writeDisconnect(packetID int32, reason string) {
	body := protocol.NewPacketBuilder(packetID).WriteString(chatText(reason)).Bytes()
	if err := s.fw.WritePacket(body); err != nil {
		s.logger.Debug().Err(err).Msg("failed to send disconnect")
	}
}

// disconnectReason picks the human-readable reason shown to the client.
// Internal detail stays in the server log.
func disconnectReason(err error) string {
	switch {
	case errors.Is(err, errRejectedLogin):
		// The registrar/ban message is already player-facing.
		return loginRejectionMessage(err)
	case errors.Is(err, protocol.ErrAuthentication):
		return "Authentication failed."
	case errors.Is(err, protocol.ErrTimeout):
		return "Login timed out."
	case errors.Is(err, errUnsupportedVersion):
		return "Your client version is not supported."
	default:
		return "Protocol error."
	}
}

var (
	errUnsupportedVersion = errors.New("unsupported client version")
	errRejectedLogin      = errors.New("login rejected")
)

type rejectedLoginError struct {
	message string
}

func (e *rejectedLoginError) Error() string { return e.message }
func (e *rejectedLoginError) Is(target error) bool {
	return target == errRejectedLogin || target == protocol.ErrAuthentication
}

func loginRejectionMessage(err error) string {
	var rej *rejectedLoginError
	if errors.As(err, &rej) {
		return rej.message
	}
	return "Login rejected."
}

// handleHandshake consumes the sole Handshaking packet and selects the
// next phase. The server sends nothing in this state.
func (s *Session) handleHandshake(pkt *protocol.Packet) error {
	r := protocol.NewPacketReader(pkt.Payload)

	version, err := r.ReadVarInt()
	if err != nil {
		return fmt.Errorf("failed to parse handshake version: %w", err)
	}
	if _, err := r.ReadString(255); err != nil {
		return fmt.Errorf("failed to parse handshake address: %w", err)
	}
	if _, err := r.ReadUint16(); err != nil {
		return fmt.Errorf("failed to parse handshake port: %w", err)
	}
	next, err := r.ReadVarInt()
	if err != nil {
		return fmt.Errorf("failed to parse handshake next-state: %w", err)
	}

	switch next {
	case nextStateStatus:
		s.logger.Trace().Int32("version", version).Msg("handshake: status")
		s.state = StateStatus
	case nextStateLogin:
		s.logger.Trace().Int32("version", version).Msg("handshake: login")
		s.protocolVersion = version
		s.state = StateLogin
	default:
		return fmt.Errorf("%w: handshake next-state %d", protocol.ErrProtocol, next)
	}
	return nil
}

// handleStatus answers Request with the status document and Ping with an
// echoed Pong, after which the server closes the connection.
func (s *Session) handleStatus(pkt *protocol.Packet) error {
	switch pkt.ID {
	case protocol.PktStatusRequest:
		doc, err := s.status.StatusJSON()
		if err != nil {
			return fmt.Errorf("status provider failed: %w", err)
		}
		body := protocol.NewPacketBuilder(protocol.PktStatusResponse).WriteString(doc).Bytes()
		return s.fw.WritePacket(body)

	case protocol.PktStatusPing:
		payload, err := protocol.NewPacketReader(pkt.Payload).ReadInt64()
		if err != nil {
			return fmt.Errorf("failed to parse ping payload: %w", err)
		}
		body := protocol.NewPacketBuilder(protocol.PktStatusPong).WriteInt64(payload).Bytes()
		if err := s.fw.WritePacket(body); err != nil {
			return err
		}
		if s.events != nil {
			s.events.Emit(context.Background(), events.Event{
				Type:    events.EventStatusPing,
				Source:  s.remote,
				Payload: events.ConnectionPayload{RemoteAddr: s.remote},
			})
		}
		// Pong ends the exchange; the server closes the socket.
		s.state = StateDisconnected
		return nil
	}
	return fmt.Errorf("%w: packet 0x%02X in state %s", protocol.ErrUnexpectedPacket, pkt.ID, s.state)
}

// handleLogin runs the login sub-machine: LoginStart first, then - in
// online mode - exactly one EncryptionResponse for the challenge we issued.
func (s *Session) handleLogin(ctx context.Context, pkt *protocol.Packet) error {
	switch {
	case pkt.ID == protocol.PktLoginStart && s.pending == nil:
		return s.handleLoginStart(pkt)
	case pkt.ID == protocol.PktEncryptionResponse && s.pending != nil:
		return s.handleEncryptionResponse(ctx, pkt)
	default:
		return fmt.Errorf("%w: packet 0x%02X out of order in login", protocol.ErrUnexpectedPacket, pkt.ID)
	}
}

func (s *Session) handleLoginStart(pkt *protocol.Packet) error {
	username, err := protocol.NewPacketReader(pkt.Payload).ReadString(maxUsernameLen)
	if err != nil {
		return fmt.Errorf("failed to parse login username: %w", err)
	}
	s.username = username
	s.logger = s.logger.With().Str("player", username).Logger()
	s.logger.Debug().Int32("version", s.protocolVersion).Msg("login start")

	if s.protocolVersion != protocol.VersionNumber {
		return fmt.Errorf("%w: client speaks %d, server speaks %d",
			errUnsupportedVersion, s.protocolVersion, protocol.VersionNumber)
	}

	if s.bans != nil {
		banned, reason, err := s.bans.IsBanned(username)
		if err != nil {
			return fmt.Errorf("ban lookup failed: %w", err)
		}
		if banned {
			if reason == "" {
				reason = "You are banned from this server."
			}
			return &rejectedLoginError{message: reason}
		}
	}

	if !s.cfg.Security.OnlineMode {
		// Offline mode skips encryption entirely; the identity is
		// derived from the name and no cipher is ever activated.
		profile := auth.Profile{UUID: auth.OfflineUUID(username), Name: username}
		return s.finishLogin(profile)
	}

	token := make([]byte, verifyTokenLen)
	if _, err := rand.Read(token); err != nil {
		return fmt.Errorf("failed to generate verify token: %w", err)
	}

	body := protocol.NewPacketBuilder(protocol.PktEncryptionRequest).
		WriteString(""). // server id, obsolete
		WriteByteArray(s.keys.PublicDER()).
		WriteByteArray(token).
		Bytes()
	if err := s.fw.WritePacket(body); err != nil {
		return err
	}

	s.pending = &pendingLogin{username: username, verifyToken: token}
	return nil
}

func (s *Session) handleEncryptionResponse(ctx context.Context, pkt *protocol.Packet) error {
	pending := s.pending
	s.pending = nil // consumed either way; no retry within the handshake

	r := protocol.NewPacketReader(pkt.Payload)
	encryptedSecret, err := r.ReadByteArray(maxEncryptedLen)
	if err != nil {
		return fmt.Errorf("failed to parse encrypted shared secret: %w", err)
	}
	encryptedToken, err := r.ReadByteArray(maxEncryptedLen)
	if err != nil {
		return fmt.Errorf("failed to parse encrypted verify token: %w", err)
	}

	token, err := s.keys.Unwrap(encryptedToken)
	if err != nil {
		return fmt.Errorf("%w: verify token unwrap: %v", protocol.ErrAuthentication, err)
	}
	if subtle.ConstantTimeCompare(token, pending.verifyToken) != 1 {
		return fmt.Errorf("%w: verify token mismatch", protocol.ErrAuthentication)
	}

	secret, err := s.keys.Unwrap(encryptedSecret)
	if err != nil {
		return fmt.Errorf("%w: shared secret unwrap: %v", protocol.ErrAuthentication, err)
	}
	if len(secret) != crypto.SharedSecretLen {
		return fmt.Errorf("%w: shared secret is %d bytes, want %d",
			protocol.ErrAuthentication, len(secret), crypto.SharedSecretLen)
	}

	// Both directions key off the same secret but hold independent
	// cipher state. From here on every byte on the wire is enciphered,
	// including the remaining login packets.
	if err := s.enableEncryption(secret); err != nil {
		return err
	}
	s.logger.Debug().Msg("encryption enabled")

	authTimeout := time.Duration(s.cfg.Security.AuthTimeoutSec) * time.Second
	authCtx, cancel := context.WithTimeout(ctx, authTimeout)
	defer cancel()

	profile, err := s.verifier.Verify(authCtx, pending.username, secret, s.keys.PublicDER())
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: session verification: %v", protocol.ErrTimeout, err)
		}
		return fmt.Errorf("%w: session verification: %v", protocol.ErrAuthentication, err)
	}

	return s.finishLogin(profile)
}

// enableEncryption activates the read and write ciphers exactly once.
func (s *Session) enableEncryption(secret []byte) error {
	out, err := crypto.NewCFB8(secret, secret, false)
	if err != nil {
		return fmt.Errorf("failed to build write cipher: %w", err)
	}
	in, err := crypto.NewCFB8(secret, secret, true)
	if err != nil {
		return fmt.Errorf("failed to build read cipher: %w", err)
	}
	if err := s.sw.Activate(out); err != nil {
		return err
	}
	return s.sr.Activate(in)
}

// finishLogin registers the player, negotiates compression, sends
// LoginSuccess and enters Play.
func (s *Session) finishLogin(profile auth.Profile) error {
	if err := s.registrar.OnJoin(profile, s.remote); err != nil {
		return &rejectedLoginError{message: err.Error()}
	}
	s.profile = &profile

	if threshold := s.cfg.Network.CompressionThreshold; threshold >= 0 {
		body := protocol.NewPacketBuilder(protocol.PktSetCompression).
			WriteVarInt(int32(threshold)).
			Bytes()
		if err := s.fw.WritePacket(body); err != nil {
			return err
		}
		// SetCompression itself goes out uncompressed; everything after
		// it follows the compressed frame layout.
		s.fw.EnableCompression(threshold)
		s.fr.EnableCompression()
	}

	body := protocol.NewPacketBuilder(protocol.PktLoginSuccess).
		WriteString(profile.UUID.String()).
		WriteString(profile.Name).
		Bytes()
	if err := s.fw.WritePacket(body); err != nil {
		return err
	}

	s.state = StatePlay
	s.logger.Info().
		Str("uuid", profile.UUID.String()).
		Bool("encrypted", s.sw.Active()).
		Msg("player logged in")

	// Play packets are gameplay-paced; the handshake deadline no longer
	// applies. Clearing it fails only once the peer has already hung up,
	// and a hang-up after a completed login is a normal disconnect.
	if err := s.conn.SetDeadline(time.Time{}); err != nil {
		s.logger.Debug().Msg("client closed connection after login")
		s.state = StateDisconnected
	}
	return nil
}

// chatText wraps a plain string in the chat-component JSON shape used by
// Disconnect packets.
func chatText(text string) string {
	data, _ := json.Marshal(struct {
		Text string `json:"text"`
	}{Text: text})
	return string(data)
}
