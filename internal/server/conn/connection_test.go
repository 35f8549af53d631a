package conn

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"log/slog"
	stdnet "net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OCharnyshevich/mcproto-server/internal/server/auth"
	"github.com/OCharnyshevich/mcproto-server/internal/server/channel"
	"github.com/OCharnyshevich/mcproto-server/internal/server/config"
	mcnet "github.com/OCharnyshevich/mcproto-server/internal/server/net"
	"github.com/OCharnyshevich/mcproto-server/internal/server/packet"
	"github.com/OCharnyshevich/mcproto-server/internal/server/registry"
	"github.com/OCharnyshevich/mcproto-server/internal/server/text"
)

const testTimeout = 5 * time.Second

var (
	keyOnce sync.Once
	testKey *rsa.PrivateKey
	testDER []byte
	keyErr  error
)

func testKeys(t *testing.T) (*rsa.PrivateKey, []byte) {
	t.Helper()
	keyOnce.Do(func() {
		testKey, keyErr = rsa.GenerateKey(rand.Reader, 1024)
		if keyErr == nil {
			testDER, keyErr = x509.MarshalPKIXPublicKey(&testKey.PublicKey)
		}
	})
	require.NoError(t, keyErr)
	return testKey, testDER
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.OnlineMode = false
	return cfg
}

type harness struct {
	t      *testing.T
	cfg    *config.Config
	deps   *Deps
	client *mcnet.Stream
	raw    stdnet.Conn
	conn   *Connection
	done   chan struct{}
}

func newHarness(t *testing.T, cfg *config.Config, deps *Deps) *harness {
	t.Helper()
	cfg.PrivateKey, cfg.PublicKeyDER = testKeys(t)
	if deps.Registry == nil {
		deps.Registry = registry.New()
	}

	serverSide, clientSide := stdnet.Pipe()
	c := NewConnection(context.Background(), serverSide, 1, cfg, slog.New(slog.DiscardHandler), deps)

	client := mcnet.NewStream(clientSide)
	client.ReadTimeout = testTimeout

	h := &harness{t: t, cfg: cfg, deps: deps, client: client, raw: clientSide, conn: c, done: make(chan struct{})}
	go func() {
		c.Serve()
		close(h.done)
	}()
	t.Cleanup(func() {
		clientSide.Close()
		h.wait()
	})
	return h
}

func (h *harness) wait() {
	h.t.Helper()
	select {
	case <-h.done:
	case <-time.After(testTimeout):
		h.t.Fatal("connection did not shut down")
	}
}

func (h *harness) send(p mcnet.Packet) {
	h.t.Helper()
	require.NoError(h.t, h.client.Send(p))
}

func (h *harness) expect(id int32) []byte {
	h.t.Helper()
	p, err := h.client.ReadPacket()
	require.NoError(h.t, err)
	require.Equalf(h.t, id, p.ID, "got packet 0x%02X", p.ID)
	return p.Payload
}

func (h *harness) decode(id int32, p mcnet.Packet) {
	h.t.Helper()
	require.NoError(h.t, mcnet.Unmarshal(h.expect(id), p))
}

func (h *harness) handshake(protocol, intent int32) {
	h.send(&packet.Handshake{
		ProtocolVersion: protocol,
		ServerAddress:   "localhost",
		ServerPort:      25565,
		Intent:          intent,
	})
}

// startLogin sends the handshake and Login Start, then reads up to the
// encryption request.
func (h *harness) startLogin(name string) packet.EncryptionRequest {
	h.t.Helper()
	h.handshake(packet.ProtocolVersion, packet.IntentLogin)
	h.send(&packet.LoginStart{Name: name})

	var sc packet.SetCompression
	h.decode(0x03, &sc)
	assert.Equal(h.t, int32(h.cfg.CompressionThreshold), sc.Threshold)
	h.client.EnableCompression(int(sc.Threshold))

	var req packet.EncryptionRequest
	h.decode(0x01, &req)
	return req
}

// answerEncryption returns the shared secret it sent.
func (h *harness) answerEncryption(req packet.EncryptionRequest, token []byte) []byte {
	h.t.Helper()
	key, err := x509.ParsePKIXPublicKey(req.PublicKey)
	require.NoError(h.t, err)
	pub := key.(*rsa.PublicKey)

	secret := make([]byte, 16)
	_, err = rand.Read(secret)
	require.NoError(h.t, err)
	encSecret, err := rsa.EncryptPKCS1v15(rand.Reader, pub, secret)
	require.NoError(h.t, err)
	encToken, err := rsa.EncryptPKCS1v15(rand.Reader, pub, token)
	require.NoError(h.t, err)

	h.send(&packet.EncryptionResponse{SharedSecret: encSecret, VerifyToken: encToken})
	return secret
}

func (h *harness) login(name string) (packet.LoginSuccess, []byte) {
	h.t.Helper()
	req := h.startLogin(name)
	secret := h.answerEncryption(req, req.VerifyToken)
	require.NoError(h.t, h.client.EnableEncryption(secret))

	var success packet.LoginSuccess
	h.decode(0x02, &success)
	return success, secret
}

func (h *harness) expectLoginDisconnect(reason string) {
	h.t.Helper()
	var d packet.LoginDisconnect
	h.decode(0x00, &d)
	var msg text.Component
	require.NoError(h.t, json.Unmarshal([]byte(d.Reason), &msg))
	assert.Equal(h.t, reason, msg.Text)
	h.wait()
}

func (h *harness) expectConfigDisconnect(reason string) {
	h.t.Helper()
	var d packet.ConfigDisconnect
	h.decode(0x02, &d)
	assert.Equal(h.t, reason, d.Reason.Text)
	h.wait()
}

type fakeSessions struct {
	mu       sync.Mutex
	calls    int
	username string
	serverID string
	profile  *auth.Profile
	err      error
}

func (f *fakeSessions) HasJoined(_ context.Context, username, serverID string) (*auth.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.username, f.serverID = username, serverID
	return f.profile, f.err
}

func (f *fakeSessions) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakePlay struct {
	joined chan *Connection
}

func (f *fakePlay) Join(c *Connection) error {
	f.joined <- c
	return nil
}

func (f *fakePlay) HandlePacket(*Connection, mcnet.RawPacket) error { return nil }

type fakeContent struct {
	packs []packet.KnownPack
}

func (f *fakeContent) SyncRegistries(_ *Connection, packs []packet.KnownPack) error {
	f.packs = packs
	return nil
}

func TestStatus(t *testing.T) {
	for _, intent := range []int32{packet.IntentStatus, 7} {
		cfg := testConfig()
		cfg.MOTD = "hello there"
		h := newHarness(t, cfg, &Deps{Favicon: "data:image/png;base64,AAAA"})

		h.handshake(packet.ProtocolVersion, intent)
		h.send(&packet.StatusRequest{})

		var resp packet.StatusResponse
		h.decode(0x00, &resp)
		var status statusResponse
		require.NoError(t, json.Unmarshal([]byte(resp.Status), &status))
		assert.Equal(t, packet.ProtocolVersion, status.Version.Protocol)
		assert.Equal(t, packet.VersionName, status.Version.Name)
		assert.Equal(t, 20, status.Players.Max)
		assert.Equal(t, 0, status.Players.Online)
		assert.Equal(t, "hello there", status.Description.Text)
		assert.Equal(t, "data:image/png;base64,AAAA", status.Favicon)
		assert.False(t, status.EnforcesSecureChat)

		h.send(&packet.PingRequest{Time: 42})
		var pong packet.PongResponse
		h.decode(0x01, &pong)
		assert.Equal(t, int64(42), pong.Time)

		require.NoError(t, h.client.WritePacket(0x09, []byte{1, 2, 3}))
		assert.Equal(t, []byte{1, 2, 3}, h.expect(0x09))
		assert.Equal(t, StateStatus, h.conn.State())
	}
}

func TestHandshakeRejectsOtherPackets(t *testing.T) {
	h := newHarness(t, testConfig(), &Deps{})
	require.NoError(t, h.client.WritePacket(0x05, nil))
	_, err := h.client.ReadPacket()
	require.Error(t, err)
	h.wait()
}

func TestLoginRefused(t *testing.T) {
	tests := []struct {
		name     string
		protocol int32
		intent   int32
		username string
		setup    func(*config.Config, *Connection)
		reason   string
	}{
		{
			name:   "rate limited",
			setup:  func(_ *config.Config, c *Connection) { c.Reject(registry.RejectRateLimited) },
			reason: ReasonRateLimited,
		},
		{
			name:   "too many accounts",
			setup:  func(_ *config.Config, c *Connection) { c.Reject(registry.RejectTooManyAccounts) },
			reason: ReasonTooManyAccounts,
		},
		{
			name:   "server full",
			setup:  func(cfg *config.Config, _ *Connection) { cfg.MaxPlayers = 0 },
			reason: ReasonServerFull,
		},
		{
			name:     "outdated client",
			protocol: packet.ProtocolVersion - 1,
			reason:   "Outdated client! Please use 1.21.1",
		},
		{
			name:     "outdated server",
			protocol: packet.ProtocolVersion + 1,
			reason:   "Outdated server! I'm still on 1.21.1",
		},
		{
			name:     "name too long",
			username: strings.Repeat("a", 17),
			reason:   ReasonNameTooLong,
		},
		{
			name:   "transfers disabled",
			intent: packet.IntentTransfer,
			reason: ReasonTransfersDisabled,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			h := newHarness(t, cfg, &Deps{})
			if tt.setup != nil {
				tt.setup(cfg, h.conn)
			}
			protocol, intent, username := tt.protocol, tt.intent, tt.username
			if protocol == 0 {
				protocol = packet.ProtocolVersion
			}
			if intent == 0 {
				intent = packet.IntentLogin
			}
			if username == "" {
				username = "Steve"
			}

			h.handshake(protocol, intent)
			h.send(&packet.LoginStart{Name: username})
			h.expectLoginDisconnect(tt.reason)

			assert.Contains(t, []State{StateLogin, StateTransfer}, h.conn.State())
			assert.Nil(t, h.conn.verifyToken)
			assert.False(t, h.conn.Compressed())
			assert.False(t, h.conn.LoginFinished())
		})
	}
}

func TestEncryptionTokenMismatch(t *testing.T) {
	h := newHarness(t, testConfig(), &Deps{})
	req := h.startLogin("Steve")

	wrong := append([]byte(nil), req.VerifyToken...)
	wrong[0] ^= 0xFF
	h.answerEncryption(req, wrong)

	// Still plaintext: the cipher was never enabled.
	h.expectLoginDisconnect(ReasonInvalidEncryption)
	assert.False(t, h.conn.Encrypted())
	assert.False(t, h.conn.successSent)
}

func TestEncryptionResponseWithoutToken(t *testing.T) {
	h := newHarness(t, testConfig(), &Deps{})
	h.handshake(packet.ProtocolVersion, packet.IntentLogin)
	h.send(&packet.EncryptionResponse{SharedSecret: []byte{1}, VerifyToken: []byte{2}})
	h.expectLoginDisconnect(ReasonInvalidEncryption)
}

func TestDisconnectFromOtherGoroutineDuringLogin(t *testing.T) {
	h := newHarness(t, testConfig(), &Deps{})

	stop := make(chan struct{})
	logged := make(chan struct{})
	go func() {
		defer close(logged)
		for {
			select {
			case <-stop:
				return
			default:
				h.conn.logger().Debug("watching", "state", h.conn.State())
			}
		}
	}()

	h.startLogin("Steve")
	close(stop)
	<-logged

	// Pipe writes block until read.
	go h.conn.Disconnect("Server closed")
	h.expectLoginDisconnect("Server closed")
}

func TestLoginAckBeforeSuccess(t *testing.T) {
	reg := registry.New()
	h := newHarness(t, testConfig(), &Deps{Registry: reg})
	h.handshake(packet.ProtocolVersion, packet.IntentLogin)
	h.send(&packet.LoginAcknowledged{})
	h.expectLoginDisconnect(ReasonInvalidPacket)
	assert.Equal(t, 0, reg.Online())
}

func TestOfflineLoginReachesPlay(t *testing.T) {
	reg := registry.New()
	sessions := &fakeSessions{}
	play := &fakePlay{joined: make(chan *Connection, 1)}
	content := &fakeContent{}

	delivered := make(chan channel.Message, 1)
	mailbox := channel.NewDispatcher(context.Background(), channel.MailboxFunc(func(_ context.Context, m channel.Message) error {
		delivered <- m
		return nil
	}), 1, 4, nil)
	t.Cleanup(func() { mailbox.Close() })

	cfg := testConfig()
	h := newHarness(t, cfg, &Deps{
		Registry: reg,
		Sessions: sessions,
		Play:     play,
		Content:  content,
		Mailbox:  mailbox,
	})

	success, _ := h.login("Steve")
	assert.Equal(t, auth.OfflineUUID("Steve"), success.UUID)
	assert.Equal(t, "Steve", success.Username)
	assert.Empty(t, success.Properties)
	assert.False(t, success.StrictErrorHandling)

	h.send(&packet.LoginAcknowledged{})
	h.send(&packet.ClientInformation{
		Locale:              "en_us",
		ViewDistance:        40,
		ChatMode:            packet.ChatEnabled,
		ChatColors:          true,
		SkinParts:           0x7F,
		MainHand:            1,
		AllowServerListings: true,
	})

	var packs packet.KnownPacks
	h.decode(0x0E, &packs)
	assert.Equal(t, []packet.KnownPack{packet.CorePack}, packs.Packs)
	var ka packet.ConfigKeepAlive
	h.decode(0x04, &ka)
	assert.InDelta(t, time.Now().UnixMilli(), ka.KeepAliveID, float64(time.Minute.Milliseconds()))
	var ping packet.ConfigPing
	h.decode(0x05, &ping)

	brand := mcnet.NewBuffer()
	brand.WriteString("vanilla")
	h.send(&packet.ConfigPluginMessageServerbound{Channel: channel.BrandChannel, Data: brand.Bytes()})
	h.send(&packet.ConfigPluginMessageServerbound{Channel: "test:bridge", Data: []byte{1, 2}})

	h.send(&packet.KnownPacksServerbound{KnownPacks: packet.KnownPacks{Packs: []packet.KnownPack{packet.CorePack}}})
	h.send(&packet.ConfigKeepAliveServerbound{KeepAliveID: ka.KeepAliveID})
	h.send(&packet.ConfigPong{ID: ping.ID})
	h.expect(0x03)
	h.send(&packet.FinishConfigAck{})

	select {
	case c := <-play.joined:
		assert.Same(t, h.conn, c)
	case <-time.After(testTimeout):
		t.Fatal("player never joined")
	}

	select {
	case m := <-delivered:
		assert.Equal(t, "test:bridge", m.Channel)
		assert.Equal(t, "Steve", m.Username)
		assert.Equal(t, []byte{1, 2}, m.Payload)
	case <-time.After(testTimeout):
		t.Fatal("plugin message never reached the mailbox")
	}

	assert.Equal(t, StatePlay, h.conn.State())
	assert.True(t, h.conn.LoginFinished())
	assert.True(t, h.conn.Encrypted())
	assert.True(t, h.conn.Compressed())
	assert.Equal(t, "vanilla", h.conn.Brand())
	assert.Equal(t, int8(cfg.ViewDistance), h.conn.Settings().ViewDistance)
	assert.Equal(t, []packet.KnownPack{packet.CorePack}, content.packs)
	assert.Equal(t, 0, sessions.Calls())
	assert.Equal(t, 1, reg.Online())

	h.raw.Close()
	h.wait()
	assert.Equal(t, 0, reg.Online())
	assert.Equal(t, 0, reg.Len())
}

func TestOnlineLoginUsesSessionProfile(t *testing.T) {
	id := uuid.MustParse("069a79f4-44e9-4726-a5be-fca90e38aaf5")
	sessions := &fakeSessions{profile: &auth.Profile{
		ID:   id,
		Name: "Notch",
		Properties: []auth.Property{
			{Name: "textures", Value: "abc", Signature: "sig"},
			{Name: "unsigned", Value: "def"},
		},
	}}
	cfg := testConfig()
	cfg.OnlineMode = true
	h := newHarness(t, cfg, &Deps{Sessions: sessions})

	req := h.startLogin("notch")
	assert.True(t, req.ShouldAuthenticate)
	assert.Equal(t, "", req.ServerID)
	assert.Len(t, req.VerifyToken, verifyTokenSize)

	secret := h.answerEncryption(req, req.VerifyToken)
	require.NoError(t, h.client.EnableEncryption(secret))

	var success packet.LoginSuccess
	h.decode(0x02, &success)
	assert.Equal(t, id, success.UUID)
	assert.Equal(t, "Notch", success.Username)
	require.Len(t, success.Properties, 2)
	require.NotNil(t, success.Properties[0].Signature)
	assert.Equal(t, "sig", *success.Properties[0].Signature)
	assert.Nil(t, success.Properties[1].Signature)

	assert.Equal(t, 1, sessions.Calls())
	assert.Equal(t, "notch", sessions.username)
	assert.Equal(t, auth.ServerHash("", secret, cfg.PublicKeyDER), sessions.serverID)
	assert.Equal(t, "Notch", h.conn.Username())
}

func TestOnlineLoginVerifyFails(t *testing.T) {
	cfg := testConfig()
	cfg.OnlineMode = true
	h := newHarness(t, cfg, &Deps{Sessions: &fakeSessions{err: auth.ErrNotAuthenticated}})

	req := h.startLogin("Steve")
	secret := h.answerEncryption(req, req.VerifyToken)
	require.NoError(t, h.client.EnableEncryption(secret))
	h.expectLoginDisconnect(ReasonFailedVerify)
	assert.False(t, h.conn.LoginFinished())
}

func TestLoginPluginQueries(t *testing.T) {
	received := make(chan []byte, 1)
	channels := channel.NewRegistry(nil)
	channels.Handle("test:hello", func(payload []byte, p channel.Peer) error {
		assert.Equal(t, "Steve", p.Username())
		received <- payload
		return nil
	})
	channels.OnLogin(func(q channel.Querier) error {
		return q.SendLoginQuery("test:hello", []byte("hi"))
	})

	h := newHarness(t, testConfig(), &Deps{Channels: channels})
	h.startLogin("Steve")

	var req packet.LoginPluginRequest
	h.decode(0x04, &req)
	assert.Equal(t, "test:hello", req.Channel)
	assert.Equal(t, []byte("hi"), req.Data)

	h.send(&packet.LoginPluginResponse{MessageID: req.MessageID, Data: []byte{9}})
	select {
	case got := <-received:
		assert.Equal(t, []byte{9}, got)
	case <-time.After(testTimeout):
		t.Fatal("handler not called")
	}

	// The id was consumed by the first response.
	h.send(&packet.LoginPluginResponse{MessageID: req.MessageID})
	h.expectLoginDisconnect(ReasonInvalidChannel)
}

func TestLoginCookies(t *testing.T) {
	received := make(chan []byte, 1)
	channels := channel.NewRegistry(nil)
	channels.Handle("test:session", func(payload []byte, _ channel.Peer) error {
		received <- payload
		return nil
	})
	channels.OnLogin(func(q channel.Querier) error {
		return q.RequestCookie("test:session")
	})

	h := newHarness(t, testConfig(), &Deps{Channels: channels})
	h.startLogin("Steve")

	var req packet.LoginCookieRequest
	h.decode(0x05, &req)
	assert.Equal(t, "test:session", req.Key)

	h.send(&packet.LoginCookieResponse{CookieResponse: packet.CookieResponse{Key: "test:session", Payload: []byte("abc")}})
	select {
	case got := <-received:
		assert.Equal(t, []byte("abc"), got)
	case <-time.After(testTimeout):
		t.Fatal("handler not called")
	}

	h.send(&packet.LoginCookieResponse{CookieResponse: packet.CookieResponse{Key: "test:other"}})
	h.expectLoginDisconnect(ReasonInvalidChannel)
}

func TestConfigRejectsWrongKeepAlive(t *testing.T) {
	h := newHarness(t, testConfig(), &Deps{})
	h.login("Steve")
	h.send(&packet.LoginAcknowledged{})
	h.send(&packet.ClientInformation{Locale: "en_us", ViewDistance: 8})

	h.expect(0x0E)
	var ka packet.ConfigKeepAlive
	h.decode(0x04, &ka)
	h.expect(0x05)

	h.send(&packet.ConfigKeepAliveServerbound{KeepAliveID: ka.KeepAliveID + 1})
	h.expectConfigDisconnect(ReasonInvalidKeepAlive)
}

func TestConfigRejectsWrongPong(t *testing.T) {
	h := newHarness(t, testConfig(), &Deps{})
	h.login("Steve")
	h.send(&packet.LoginAcknowledged{})
	h.send(&packet.ClientInformation{Locale: "en_us", ViewDistance: 8})

	h.expect(0x0E)
	h.expect(0x04)
	var ping packet.ConfigPing
	h.decode(0x05, &ping)

	h.send(&packet.ConfigPong{ID: ping.ID ^ 1})
	h.expectConfigDisconnect(ReasonInvalidPong)
}

func TestConfigAckBeforeFinish(t *testing.T) {
	h := newHarness(t, testConfig(), &Deps{})
	h.login("Steve")
	h.send(&packet.LoginAcknowledged{})
	h.send(&packet.FinishConfigAck{})
	h.expectConfigDisconnect(ReasonInvalidPacket)
	assert.Equal(t, StateConfig, h.conn.State())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "config", StateConfig.String())
	assert.Equal(t, "State(42)", State(42).String())
}

func TestKickError(t *testing.T) {
	k := &Kick{Reason: ReasonInvalidChannel, Err: auth.ErrNotAuthenticated}
	assert.ErrorIs(t, k, auth.ErrNotAuthenticated)
	assert.Equal(t, "Invalid channel.: player has not joined", k.Error())
	assert.Equal(t, ReasonInvalidChannel, (&Kick{Reason: ReasonInvalidChannel}).Error())
}
