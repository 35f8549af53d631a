package conn

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/OCharnyshevich/mcproto-server/internal/server/auth"
	mcnet "github.com/OCharnyshevich/mcproto-server/internal/server/net"
	"github.com/OCharnyshevich/mcproto-server/internal/server/packet"
	"github.com/OCharnyshevich/mcproto-server/internal/server/registry"
)

const (
	maxNameLength   = 16
	verifyTokenSize = 4
)

func (c *Connection) handleLogin(p mcnet.RawPacket) error {
	switch p.ID {
	case 0x00: // Login Start
		return c.handleLoginStart(p.Payload)
	case 0x01: // Encryption Response
		return c.handleEncryptionResponse(p.Payload)
	case 0x02: // Login Plugin Response
		return c.handleLoginPluginResponse(p.Payload)
	case 0x03: // Login Acknowledged
		return c.handleLoginAck()
	case 0x04: // Cookie Response
		var resp packet.LoginCookieResponse
		if err := mcnet.Unmarshal(p.Payload, &resp); err != nil {
			return fmt.Errorf("unmarshal cookie response: %w", err)
		}
		return c.handleCookie(resp.CookieResponse)
	default:
		return fmt.Errorf("unexpected login packet 0x%02X", p.ID)
	}
}

func (c *Connection) handleLoginStart(data []byte) error {
	if c.loginStart {
		return errors.New("duplicate login start")
	}
	c.loginStart = true

	var login packet.LoginStart
	if err := mcnet.Unmarshal(data, &login); err != nil {
		return fmt.Errorf("unmarshal login start: %w", err)
	}

	c.logger().Info("login start", "username", login.Name, "transfer", c.State() == StateTransfer)

	if reason := c.loginRefusal(login.Name); reason != "" {
		c.logger().Warn("login refused", "username", login.Name, "reason", reason)
		c.deps.Metrics.Login("refused")
		return &Kick{Reason: reason}
	}

	id := login.UUID
	if id == uuid.Nil {
		id = auth.OfflineUUID(login.Name)
	}
	c.mu.Lock()
	c.username = login.Name
	c.id = id
	c.mu.Unlock()
	c.log.Store(c.logger().With("username", login.Name))

	if t := c.cfg.CompressionThreshold; t >= 0 {
		if err := c.stream.Send(&packet.SetCompression{Threshold: int32(t)}); err != nil {
			return fmt.Errorf("write set compression: %w", err)
		}
		c.stream.EnableCompression(t)
	}

	token := make([]byte, verifyTokenSize)
	if _, err := rand.Read(token); err != nil {
		return fmt.Errorf("generate verify token: %w", err)
	}
	c.verifyToken = token

	if err := c.stream.Send(&packet.EncryptionRequest{
		ServerID:           "",
		PublicKey:          c.cfg.PublicKeyDER,
		VerifyToken:        token,
		ShouldAuthenticate: c.cfg.OnlineMode,
	}); err != nil {
		return fmt.Errorf("write encryption request: %w", err)
	}

	if err := c.deps.Channels.RunLoginHooks(c); err != nil {
		return err
	}
	return nil
}

// loginRefusal returns the reason a Login Start must be refused, or "".
func (c *Connection) loginRefusal(name string) string {
	c.mu.Lock()
	reject, state := c.reject, c.state
	c.mu.Unlock()

	switch reject {
	case registry.RejectRateLimited:
		return ReasonRateLimited
	case registry.RejectTooManyAccounts:
		return ReasonTooManyAccounts
	}
	if c.deps.Registry.Online() >= c.cfg.MaxPlayers {
		return ReasonServerFull
	}
	switch {
	case c.protocol < packet.ProtocolVersion:
		return "Outdated client! Please use " + packet.VersionName
	case c.protocol > packet.ProtocolVersion:
		return "Outdated server! I'm still on " + packet.VersionName
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return ReasonNameTooLong
	}
	if state == StateTransfer && !c.cfg.AcceptTransfers {
		return ReasonTransfersDisabled
	}
	return ""
}

func (c *Connection) handleEncryptionResponse(data []byte) error {
	var resp packet.EncryptionResponse
	if err := mcnet.Unmarshal(data, &resp); err != nil {
		return fmt.Errorf("unmarshal encryption response: %w", err)
	}

	expected := c.verifyToken
	c.verifyToken = nil
	if expected == nil {
		return &Kick{Reason: ReasonInvalidEncryption, Err: errors.New("no verify token issued")}
	}

	sharedSecret, err := rsa.DecryptPKCS1v15(rand.Reader, c.cfg.PrivateKey, resp.SharedSecret)
	if err != nil {
		return &Kick{Reason: ReasonInvalidEncryption, Err: fmt.Errorf("decrypt shared secret: %w", err)}
	}
	verifyToken, err := rsa.DecryptPKCS1v15(rand.Reader, c.cfg.PrivateKey, resp.VerifyToken)
	if err != nil {
		return &Kick{Reason: ReasonInvalidEncryption, Err: fmt.Errorf("decrypt verify token: %w", err)}
	}
	if subtle.ConstantTimeCompare(verifyToken, expected) != 1 {
		return &Kick{Reason: ReasonInvalidEncryption, Err: errors.New("verify token mismatch")}
	}

	// The response itself arrived in plaintext; everything after it,
	// LoginSuccess included, is encrypted.
	if err := c.stream.EnableEncryption(sharedSecret); err != nil {
		return &Kick{Reason: ReasonInvalidEncryption, Err: fmt.Errorf("enable encryption: %w", err)}
	}

	if c.cfg.OnlineMode {
		if err := c.verifySession(sharedSecret); err != nil {
			return err
		}
	}

	c.mu.Lock()
	success := &packet.LoginSuccess{
		UUID:     c.id,
		Username: c.username,
	}
	for _, p := range c.properties {
		prop := packet.Property{Name: p.Name, Value: p.Value}
		if p.Signature != "" {
			sig := p.Signature
			prop.Signature = &sig
		}
		success.Properties = append(success.Properties, prop)
	}
	c.mu.Unlock()

	if err := c.stream.Send(success); err != nil {
		return fmt.Errorf("write login success: %w", err)
	}
	c.successSent = true
	c.logger().Info("login success", "uuid", success.UUID, "online", c.cfg.OnlineMode)
	return nil
}

// verifySession asks the session service whether the player joined with
// this shared secret and adopts the profile it returns.
func (c *Connection) verifySession(sharedSecret []byte) error {
	if c.deps.Sessions == nil {
		return &Kick{Reason: ReasonFailedVerify, Err: errors.New("no session service configured")}
	}
	serverHash := auth.ServerHash("", sharedSecret, c.cfg.PublicKeyDER)

	start := time.Now()
	profile, err := c.deps.Sessions.HasJoined(c.ctx, c.Username(), serverHash)
	c.deps.Metrics.SessionVerified(time.Since(start))
	if err != nil {
		c.deps.Metrics.Login("unverified")
		return &Kick{Reason: ReasonFailedVerify, Err: err}
	}

	c.mu.Lock()
	c.username = profile.Name
	c.id = profile.ID
	c.properties = profile.Properties
	c.mu.Unlock()
	return nil
}

func (c *Connection) handleLoginPluginResponse(data []byte) error {
	var resp packet.LoginPluginResponse
	if err := mcnet.Unmarshal(data, &resp); err != nil {
		return fmt.Errorf("unmarshal login plugin response: %w", err)
	}
	ch, ok := c.takeQuery(resp.MessageID)
	if !ok {
		return &Kick{Reason: ReasonInvalidChannel, Err: fmt.Errorf("unknown message id %d", resp.MessageID)}
	}
	return c.deps.Channels.Dispatch(ch, resp.Data, c)
}

func (c *Connection) handleLoginAck() error {
	if !c.successSent {
		return errors.New("login acknowledged before login success")
	}
	c.successSent = false

	if err := c.deps.Registry.FinishLogin(c.handle); err != nil {
		c.logger().Error("finish login", "error", err)
		return err
	}
	c.mu.Lock()
	c.state = StateConfig
	c.loginFinished = true
	c.mu.Unlock()
	c.deps.Metrics.Login("success")

	c.logger().Info("entering configuration")
	return nil
}
