package conn

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/OCharnyshevich/mcproto-server/internal/server/channel"
	mcnet "github.com/OCharnyshevich/mcproto-server/internal/server/net"
	"github.com/OCharnyshevich/mcproto-server/internal/server/packet"
)

const (
	minViewDistance = 2
	maxBrandLength  = 128
)

func (c *Connection) handleConfig(p mcnet.RawPacket) error {
	switch p.ID {
	case 0x00: // Client Information
		return c.handleClientInformation(p.Payload)
	case 0x01: // Cookie Response
		var resp packet.ConfigCookieResponse
		if err := mcnet.Unmarshal(p.Payload, &resp); err != nil {
			return fmt.Errorf("unmarshal cookie response: %w", err)
		}
		return c.handleCookie(resp.CookieResponse)
	case 0x02: // Plugin Message
		return c.handleConfigPluginMessage(p.Payload)
	case 0x03: // Acknowledge Finish Configuration
		return c.handleFinishConfigAck()
	case 0x04: // Keep Alive
		var ka packet.ConfigKeepAliveServerbound
		if err := mcnet.Unmarshal(p.Payload, &ka); err != nil {
			return fmt.Errorf("unmarshal keep alive: %w", err)
		}
		if !c.configStarted || c.keepAliveOK || ka.KeepAliveID != c.keepAliveID {
			return &Kick{Reason: ReasonInvalidKeepAlive, Err: fmt.Errorf("keep alive %d, sent %d", ka.KeepAliveID, c.keepAliveID)}
		}
		c.keepAliveOK = true
		return c.maybeFinishConfig()
	case 0x05: // Pong
		var pong packet.ConfigPong
		if err := mcnet.Unmarshal(p.Payload, &pong); err != nil {
			return fmt.Errorf("unmarshal pong: %w", err)
		}
		if !c.configStarted || c.pongOK || pong.ID != c.pingID {
			return &Kick{Reason: ReasonInvalidPong, Err: fmt.Errorf("pong %d, sent %d", pong.ID, c.pingID)}
		}
		c.pongOK = true
		return c.maybeFinishConfig()
	case 0x06: // Resource Pack Response
		var rp packet.ResourcePackResponse
		if err := mcnet.Unmarshal(p.Payload, &rp); err != nil {
			return fmt.Errorf("unmarshal resource pack response: %w", err)
		}
		c.logger().Debug("resource pack response", "pack", rp.UUID, "result", rp.Result)
		return nil
	case 0x07: // Known Packs
		return c.handleKnownPacks(p.Payload)
	default:
		return fmt.Errorf("unexpected config packet 0x%02X", p.ID)
	}
}

func (c *Connection) handleClientInformation(data []byte) error {
	var info packet.ClientInformation
	if err := mcnet.Unmarshal(data, &info); err != nil {
		return fmt.Errorf("unmarshal client information: %w", err)
	}
	info.ViewDistance = int8(min(max(int(info.ViewDistance), minViewDistance), c.cfg.ViewDistance))

	c.mu.Lock()
	c.settings = info
	c.mu.Unlock()
	c.logger().Debug("client information", "locale", info.Locale, "viewDistance", info.ViewDistance)

	if c.configStarted {
		return nil
	}
	c.configStarted = true

	if err := c.stream.Send(&packet.KnownPacks{Packs: []packet.KnownPack{packet.CorePack}}); err != nil {
		return fmt.Errorf("write known packs: %w", err)
	}
	c.keepAliveID = time.Now().UnixMilli()
	if err := c.stream.Send(&packet.ConfigKeepAlive{KeepAliveID: c.keepAliveID}); err != nil {
		return fmt.Errorf("write keep alive: %w", err)
	}
	c.pingID = rand.Int32()
	if err := c.stream.Send(&packet.ConfigPing{ID: c.pingID}); err != nil {
		return fmt.Errorf("write ping: %w", err)
	}
	return nil
}

func (c *Connection) handleKnownPacks(data []byte) error {
	if !c.configStarted || c.knownPacks != nil {
		return errors.New("unexpected known packs")
	}
	var resp packet.KnownPacksServerbound
	if err := mcnet.Unmarshal(data, &resp); err != nil {
		return fmt.Errorf("unmarshal known packs: %w", err)
	}
	c.knownPacks = append([]packet.KnownPack{}, resp.Packs...)
	c.logger().Debug("known packs", "count", len(c.knownPacks))

	if c.deps.Content != nil {
		if err := c.deps.Content.SyncRegistries(c, c.knownPacks); err != nil {
			return fmt.Errorf("sync registries: %w", err)
		}
	}
	return c.maybeFinishConfig()
}

// maybeFinishConfig sends Finish Configuration once the keep-alive, the
// ping and the known packs have all been answered.
func (c *Connection) maybeFinishConfig() error {
	if c.finishSent || !c.keepAliveOK || !c.pongOK || c.knownPacks == nil {
		return nil
	}
	if err := c.stream.Send(&packet.FinishConfig{}); err != nil {
		return fmt.Errorf("write finish configuration: %w", err)
	}
	c.finishSent = true
	return nil
}

func (c *Connection) handleFinishConfigAck() error {
	if !c.finishSent {
		return errors.New("finish configuration acknowledged before it was sent")
	}
	c.finishSent = false
	c.setState(StatePlay)
	c.logger().Info("entering play")

	if c.deps.Play != nil {
		if err := c.deps.Play.Join(c); err != nil {
			return fmt.Errorf("join play: %w", err)
		}
	}
	return nil
}

func (c *Connection) handleConfigPluginMessage(data []byte) error {
	var msg packet.ConfigPluginMessageServerbound
	if err := mcnet.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("unmarshal plugin message: %w", err)
	}

	if msg.Channel == channel.BrandChannel {
		brand, err := mcnet.NewBufferFrom(msg.Data).ReadString(maxBrandLength)
		if err != nil {
			return fmt.Errorf("read brand: %w", err)
		}
		c.mu.Lock()
		c.brand = brand
		c.mu.Unlock()
		c.logger().Debug("client brand", "brand", brand)
		return nil
	}

	if err := c.deps.Channels.Dispatch(msg.Channel, msg.Data, c); err != nil {
		return err
	}
	if c.deps.Mailbox != nil {
		err := c.deps.Mailbox.Post(channel.Message{
			Channel:  msg.Channel,
			Player:   c.UUID(),
			Username: c.Username(),
			Payload:  msg.Data,
		})
		if err != nil {
			c.logger().Warn("plugin message dropped", "channel", msg.Channel, "error", err)
		}
	}
	return nil
}
