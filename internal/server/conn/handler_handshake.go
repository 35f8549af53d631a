package conn

import (
	"fmt"

	mcnet "github.com/OCharnyshevich/mcproto-server/internal/server/net"
	"github.com/OCharnyshevich/mcproto-server/internal/server/packet"
)

func (c *Connection) handleHandshake(p mcnet.RawPacket) error {
	if p.ID != 0x00 {
		return fmt.Errorf("expected handshake packet 0x00, got 0x%02X", p.ID)
	}

	var hs packet.Handshake
	if err := mcnet.Unmarshal(p.Payload, &hs); err != nil {
		return fmt.Errorf("unmarshal handshake: %w", err)
	}

	c.logger().Debug("handshake received",
		"protocol", hs.ProtocolVersion,
		"server", hs.ServerAddress,
		"port", hs.ServerPort,
		"intent", hs.Intent,
	)
	c.protocol = hs.ProtocolVersion

	switch hs.Intent {
	case packet.IntentLogin:
		c.setState(StateLogin)
	case packet.IntentTransfer:
		c.setState(StateTransfer)
	default:
		// Unknown intents fall back to a status query.
		c.setState(StateStatus)
	}
	return nil
}
