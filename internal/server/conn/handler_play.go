package conn

import (
	"fmt"

	mcnet "github.com/OCharnyshevich/mcproto-server/internal/server/net"
)

func (c *Connection) handlePlay(p mcnet.RawPacket) error {
	if c.deps.Play == nil {
		c.logger().Debug("dropping play packet", "packet", fmt.Sprintf("0x%02X", p.ID), "bytes", len(p.Payload))
		return nil
	}
	return c.deps.Play.HandlePacket(c, p)
}
