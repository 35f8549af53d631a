package conn

import (
	"encoding/json"
	"fmt"

	mcnet "github.com/OCharnyshevich/mcproto-server/internal/server/net"
	"github.com/OCharnyshevich/mcproto-server/internal/server/packet"
	"github.com/OCharnyshevich/mcproto-server/internal/server/text"
)

type statusResponse struct {
	Version            statusVersion  `json:"version"`
	Players            statusPlayers  `json:"players"`
	Description        text.Component `json:"description"`
	Favicon            string         `json:"favicon,omitempty"`
	EnforcesSecureChat bool           `json:"enforcesSecureChat"`
}

type statusVersion struct {
	Name     string `json:"name"`
	Protocol int32  `json:"protocol"`
}

type statusPlayers struct {
	Max    int `json:"max"`
	Online int `json:"online"`
}

func (c *Connection) handleStatus(p mcnet.RawPacket) error {
	if p.ID != (packet.StatusRequest{}).PacketID() {
		// Ping and anything else goes back as sent.
		return c.stream.WritePacket(p.ID, p.Payload)
	}

	resp := statusResponse{
		Version: statusVersion{
			Name:     packet.VersionName,
			Protocol: packet.ProtocolVersion,
		},
		Players: statusPlayers{
			Max:    c.cfg.MaxPlayers,
			Online: c.deps.Registry.Online(),
		},
		Description: text.Plain(c.cfg.MOTD),
		Favicon:     c.deps.Favicon,
	}

	jsonBytes, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("marshal status response: %w", err)
	}
	return c.stream.Send(&packet.StatusResponse{Status: string(jsonBytes)})
}
