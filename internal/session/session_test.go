package session

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberline-project/emberline/internal/auth"
	"github.com/emberline-project/emberline/internal/config"
	"github.com/emberline-project/emberline/internal/crypto"
	"github.com/emberline-project/emberline/internal/protocol"
)

type stubStatus struct{}

func (stubStatus) StatusJSON() (string, error) {
	return `{"version":{"name":"1.15.2","protocol":578},"players":{"max":10,"online":0},"description":{"text":"test"}}`, nil
}

type recordingPlay struct {
	mu      sync.Mutex
	packets []int32
}

func (r *recordingPlay) Dispatch(packetID int32, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.packets = append(r.packets, packetID)
	return nil
}

func (r *recordingPlay) ids() []int32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int32(nil), r.packets...)
}

type recordingRegistrar struct {
	mu     sync.Mutex
	joins  []auth.Profile
	quits  []auth.Profile
	reject error
}

func (r *recordingRegistrar) OnJoin(p auth.Profile, remote string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.reject != nil {
		return r.reject
	}
	r.joins = append(r.joins, p)
	return nil
}

func (r *recordingRegistrar) OnQuit(p auth.Profile, remote string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.quits = append(r.quits, p)
}

type stubBans struct {
	banned map[string]string
}

func (b *stubBans) IsBanned(username string) (bool, string, error) {
	if b == nil || b.banned == nil {
		return false, "", nil
	}
	reason, ok := b.banned[username]
	return ok, reason, nil
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Security.OnlineMode = false
	cfg.Network.CompressionThreshold = -1
	cfg.Network.HandshakeTimeoutSec = 5
	return cfg
}

// client bundles the test side of a net.Pipe conversation.
type client struct {
	conn net.Conn
	fr   *protocol.FrameReader
	fw   *protocol.FrameWriter
}

func newClient(conn net.Conn) *client {
	return &client{
		conn: conn,
		fr:   protocol.NewFrameReader(conn, 0),
		fw:   protocol.NewFrameWriter(conn),
	}
}

func (c *client) handshake(t *testing.T, version, next int32) {
	t.Helper()
	body := protocol.NewPacketBuilder(protocol.PktHandshake).
		WriteVarInt(version).
		WriteString("localhost").
		WriteUint16(25565).
		WriteVarInt(next).
		Bytes()
	require.NoError(t, c.fw.WritePacket(body))
}

func startSession(t *testing.T, deps Deps) (*client, chan error) {
	t.Helper()
	serverConn, clientConn := net.Pipe()

	sess := New(serverConn, deps)
	errCh := make(chan error, 1)
	go func() {
		errCh <- sess.Run(context.Background())
	}()

	t.Cleanup(func() { clientConn.Close() })
	return newClient(clientConn), errCh
}

func waitErr(t *testing.T, errCh chan error) error {
	t.Helper()
	select {
	case err := <-errCh:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("session did not finish")
		return nil
	}
}

func TestStatusPingExchange(t *testing.T) {
	reg := &recordingRegistrar{}
	c, errCh := startSession(t, Deps{
		Config:    testConfig(),
		Status:    stubStatus{},
		Play:      &recordingPlay{},
		Registrar: reg,
	})

	c.handshake(t, protocol.VersionNumber, 1)
	require.NoError(t, c.fw.WritePacket(protocol.NewPacketBuilder(protocol.PktStatusRequest).Bytes()))

	pkt, err := c.fr.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, protocol.PktStatusResponse, pkt.ID)

	doc, err := protocol.NewPacketReader(pkt.Payload).ReadString(protocol.MaxStringLen)
	require.NoError(t, err)
	var parsed map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(doc), &parsed))
	assert.Contains(t, parsed, "version")
	assert.Contains(t, parsed, "players")

	require.NoError(t, c.fw.WritePacket(protocol.NewPacketBuilder(protocol.PktStatusPing).WriteInt64(0x1122334455667788).Bytes()))
	pkt, err = c.fr.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, protocol.PktStatusPong, pkt.ID)
	echoed, err := protocol.NewPacketReader(pkt.Payload).ReadInt64()
	require.NoError(t, err)
	assert.Equal(t, int64(0x1122334455667788), echoed)

	assert.NoError(t, waitErr(t, errCh))
	assert.Empty(t, reg.joins, "status exchanges never register a player")
}

func TestOfflineLogin(t *testing.T) {
	reg := &recordingRegistrar{}
	play := &recordingPlay{}
	c, errCh := startSession(t, Deps{
		Config:    testConfig(),
		Status:    stubStatus{},
		Play:      play,
		Registrar: reg,
	})

	c.handshake(t, protocol.VersionNumber, 2)
	require.NoError(t, c.fw.WritePacket(protocol.NewPacketBuilder(protocol.PktLoginStart).WriteString("Alice").Bytes()))

	pkt, err := c.fr.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, protocol.PktLoginSuccess, pkt.ID)

	r := protocol.NewPacketReader(pkt.Payload)
	uuidStr, err := r.ReadString(36)
	require.NoError(t, err)
	assert.Equal(t, auth.OfflineUUID("Alice").String(), uuidStr)
	name, err := r.ReadString(16)
	require.NoError(t, err)
	assert.Equal(t, "Alice", name)

	// Play traffic flows to the dispatcher untouched.
	require.NoError(t, c.fw.WritePacket(protocol.NewPacketBuilder(0x0F).WriteInt64(7).Bytes()))
	require.NoError(t, c.fw.WritePacket(protocol.NewPacketBuilder(0x03).WriteString("hi").Bytes()))

	c.conn.Close()
	assert.NoError(t, waitErr(t, errCh))

	assert.Equal(t, []int32{0x0F, 0x03}, play.ids())
	require.Len(t, reg.joins, 1)
	assert.Equal(t, "Alice", reg.joins[0].Name)
	require.Len(t, reg.quits, 1, "closing the socket must deregister the player")
}

func TestCompressionNegotiatedDuringLogin(t *testing.T) {
	cfg := testConfig()
	cfg.Network.CompressionThreshold = 64

	c, errCh := startSession(t, Deps{
		Config:    cfg,
		Status:    stubStatus{},
		Play:      &recordingPlay{},
		Registrar: &recordingRegistrar{},
	})

	c.handshake(t, protocol.VersionNumber, 2)
	require.NoError(t, c.fw.WritePacket(protocol.NewPacketBuilder(protocol.PktLoginStart).WriteString("Bob").Bytes()))

	// SetCompression arrives uncompressed.
	pkt, err := c.fr.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, protocol.PktSetCompression, pkt.ID)
	threshold, err := protocol.NewPacketReader(pkt.Payload).ReadVarInt()
	require.NoError(t, err)
	assert.Equal(t, int32(64), threshold)

	// Everything after it follows the compressed layout.
	c.fr.EnableCompression()
	c.fw.EnableCompression(64)

	pkt, err = c.fr.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, protocol.PktLoginSuccess, pkt.ID)

	c.conn.Close()
	assert.NoError(t, waitErr(t, errCh))
}

func TestDisconnectRightAfterLoginIsClean(t *testing.T) {
	reg := &recordingRegistrar{}
	c, errCh := startSession(t, Deps{
		Config:    testConfig(),
		Status:    stubStatus{},
		Play:      &recordingPlay{},
		Registrar: reg,
	})

	c.handshake(t, protocol.VersionNumber, 2)
	require.NoError(t, c.fw.WritePacket(protocol.NewPacketBuilder(protocol.PktLoginStart).WriteString("Alice").Bytes()))

	pkt, err := c.fr.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, protocol.PktLoginSuccess, pkt.ID)

	// Hanging up the moment login completes is a normal disconnect, even
	// when the socket dies under the server's deadline bookkeeping.
	c.conn.Close()
	assert.NoError(t, waitErr(t, errCh))
	require.Len(t, reg.joins, 1)
	require.Len(t, reg.quits, 1)
}

func TestOnlineLoginRejectsBadVerifyToken(t *testing.T) {
	keys, err := crypto.LoadOrGenerateKeys(t.TempDir() + "/k.pem")
	require.NoError(t, err)

	cfg := testConfig()
	cfg.Security.OnlineMode = true

	c, errCh := startSession(t, Deps{
		Config:    cfg,
		Keys:      keys,
		Status:    stubStatus{},
		Play:      &recordingPlay{},
		Registrar: &recordingRegistrar{},
	})

	c.handshake(t, protocol.VersionNumber, 2)
	require.NoError(t, c.fw.WritePacket(protocol.NewPacketBuilder(protocol.PktLoginStart).WriteString("Mallory").Bytes()))

	pkt, err := c.fr.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, protocol.PktEncryptionRequest, pkt.ID)

	r := protocol.NewPacketReader(pkt.Payload)
	_, err = r.ReadString(20) // server id
	require.NoError(t, err)
	pubDER, err := r.ReadByteArray(1024)
	require.NoError(t, err)
	_, err = r.ReadByteArray(64) // verify token, deliberately ignored
	require.NoError(t, err)

	pub, err := x509.ParsePKIXPublicKey(pubDER)
	require.NoError(t, err)
	rsaPub := pub.(*rsa.PublicKey)

	secret := make([]byte, crypto.SharedSecretLen)
	_, err = rand.Read(secret)
	require.NoError(t, err)
	wrongToken := make([]byte, 16)
	_, err = rand.Read(wrongToken)
	require.NoError(t, err)

	encSecret, err := rsa.EncryptPKCS1v15(rand.Reader, rsaPub, secret)
	require.NoError(t, err)
	encToken, err := rsa.EncryptPKCS1v15(rand.Reader, rsaPub, wrongToken)
	require.NoError(t, err)

	body := protocol.NewPacketBuilder(protocol.PktEncryptionResponse).
		WriteByteArray(encSecret).
		WriteByteArray(encToken).
		Bytes()
	require.NoError(t, c.fw.WritePacket(body))

	// The refusal goes out before the cipher would have been activated,
	// so it is readable as plaintext.
	pkt, err = c.fr.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, protocol.PktLoginDisconnect, pkt.ID)

	err = waitErr(t, errCh)
	assert.ErrorIs(t, err, protocol.ErrAuthentication)
}

func TestUnsupportedVersionRejected(t *testing.T) {
	c, errCh := startSession(t, Deps{
		Config:    testConfig(),
		Status:    stubStatus{},
		Play:      &recordingPlay{},
		Registrar: &recordingRegistrar{},
	})

	c.handshake(t, 340, 2) // 1.12.2 client
	require.NoError(t, c.fw.WritePacket(protocol.NewPacketBuilder(protocol.PktLoginStart).WriteString("Old").Bytes()))

	pkt, err := c.fr.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, protocol.PktLoginDisconnect, pkt.ID)

	reason, err := protocol.NewPacketReader(pkt.Payload).ReadString(protocol.MaxStringLen)
	require.NoError(t, err)
	assert.Contains(t, reason, "version")

	assert.Error(t, waitErr(t, errCh))
}

func TestBannedPlayerRejected(t *testing.T) {
	c, errCh := startSession(t, Deps{
		Config:    testConfig(),
		Status:    stubStatus{},
		Play:      &recordingPlay{},
		Registrar: &recordingRegistrar{},
		Bans:      &stubBans{banned: map[string]string{"Grief": "No griefing."}},
	})

	c.handshake(t, protocol.VersionNumber, 2)
	require.NoError(t, c.fw.WritePacket(protocol.NewPacketBuilder(protocol.PktLoginStart).WriteString("Grief").Bytes()))

	pkt, err := c.fr.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, protocol.PktLoginDisconnect, pkt.ID)

	reason, err := protocol.NewPacketReader(pkt.Payload).ReadString(protocol.MaxStringLen)
	require.NoError(t, err)
	assert.Contains(t, reason, "No griefing.")

	assert.Error(t, waitErr(t, errCh))
}

func TestServerFullRejected(t *testing.T) {
	reg := &recordingRegistrar{reject: errors.New("The server is full.")}
	c, errCh := startSession(t, Deps{
		Config:    testConfig(),
		Status:    stubStatus{},
		Play:      &recordingPlay{},
		Registrar: reg,
	})

	c.handshake(t, protocol.VersionNumber, 2)
	require.NoError(t, c.fw.WritePacket(protocol.NewPacketBuilder(protocol.PktLoginStart).WriteString("Late").Bytes()))

	pkt, err := c.fr.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, protocol.PktLoginDisconnect, pkt.ID)

	reason, err := protocol.NewPacketReader(pkt.Payload).ReadString(protocol.MaxStringLen)
	require.NoError(t, err)
	assert.Contains(t, reason, "full")

	assert.Error(t, waitErr(t, errCh))
	assert.Empty(t, reg.quits, "a vetoed join must not produce a quit")
}

func TestStatusPacketInLoginStateRejected(t *testing.T) {
	c, errCh := startSession(t, Deps{
		Config:    testConfig(),
		Status:    stubStatus{},
		Play:      &recordingPlay{},
		Registrar: &recordingRegistrar{},
	})

	c.handshake(t, protocol.VersionNumber, 2)
	// Ping (0x01) aliases EncryptionResponse in Login, which is illegal
	// before a challenge was issued.
	require.NoError(t, c.fw.WritePacket(protocol.NewPacketBuilder(protocol.PktStatusPing).WriteInt64(1).Bytes()))

	pkt, err := c.fr.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, protocol.PktLoginDisconnect, pkt.ID)

	err = waitErr(t, errCh)
	assert.ErrorIs(t, err, protocol.ErrUnexpectedPacket)
}

func TestIllegalPacketInStatusClosesSilently(t *testing.T) {
	c, errCh := startSession(t, Deps{
		Config:    testConfig(),
		Status:    stubStatus{},
		Play:      &recordingPlay{},
		Registrar: &recordingRegistrar{},
	})

	c.handshake(t, protocol.VersionNumber, 1)
	require.NoError(t, c.fw.WritePacket(protocol.NewPacketBuilder(0x42).Bytes()))

	err := waitErr(t, errCh)
	assert.ErrorIs(t, err, protocol.ErrUnexpectedPacket)

	// No Disconnect packet exists in Status; the socket just closes.
	c.conn.SetReadDeadline(time.Now().Add(time.Second))
	_, err = c.fr.ReadFrame()
	assert.Error(t, err)
}
