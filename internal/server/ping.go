package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"time"

	mcnet "github.com/OCharnyshevich/mcproto-server/internal/server/net"
	"github.com/OCharnyshevich/mcproto-server/internal/server/packet"
	"github.com/OCharnyshevich/mcproto-server/internal/server/text"
)

// Status is what a server reports in the server list.
type Status struct {
	Version struct {
		Name     string `json:"name"`
		Protocol int32  `json:"protocol"`
	} `json:"version"`
	Players struct {
		Max    int `json:"max"`
		Online int `json:"online"`
	} `json:"players"`
	Description        text.Component `json:"description"`
	Favicon            string         `json:"favicon,omitempty"`
	EnforcesSecureChat bool           `json:"enforcesSecureChat"`

	// Latency is the ping round trip, measured by the client.
	Latency time.Duration `json:"-"`
}

// Ping performs a status query against addr ("host:port").
func Ping(ctx context.Context, addr string) (*Status, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("parse address %q: %w", addr, err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return nil, fmt.Errorf("parse port %q: %w", portStr, err)
	}

	var d net.Dialer
	c, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	defer c.Close()
	if deadline, ok := ctx.Deadline(); ok {
		if err := c.SetDeadline(deadline); err != nil {
			return nil, fmt.Errorf("set deadline: %w", err)
		}
	}

	stream := mcnet.NewStream(c)
	if err := stream.Send(&packet.Handshake{
		ProtocolVersion: packet.ProtocolVersion,
		ServerAddress:   host,
		ServerPort:      uint16(port),
		Intent:          packet.IntentStatus,
	}); err != nil {
		return nil, err
	}
	if err := stream.Send(&packet.StatusRequest{}); err != nil {
		return nil, err
	}

	var resp packet.StatusResponse
	if err := readPacket(stream, &resp); err != nil {
		return nil, err
	}
	var st Status
	if err := json.Unmarshal([]byte(resp.Status), &st); err != nil {
		return nil, fmt.Errorf("parse status response: %w", err)
	}

	sent := time.Now()
	if err := stream.Send(&packet.PingRequest{Time: sent.UnixMilli()}); err != nil {
		return nil, err
	}
	var pong packet.PongResponse
	if err := readPacket(stream, &pong); err != nil {
		return nil, err
	}
	if pong.Time != sent.UnixMilli() {
		return nil, fmt.Errorf("pong payload %d, sent %d", pong.Time, sent.UnixMilli())
	}
	st.Latency = time.Since(sent)
	return &st, nil
}

func readPacket(s *mcnet.Stream, p mcnet.Packet) error {
	raw, err := s.ReadPacket()
	if err != nil {
		return fmt.Errorf("read packet: %w", err)
	}
	if raw.ID != p.PacketID() {
		return fmt.Errorf("expected packet 0x%02X, got 0x%02X", p.PacketID(), raw.ID)
	}
	if err := mcnet.Unmarshal(raw.Payload, p); err != nil {
		return fmt.Errorf("unmarshal packet 0x%02X: %w", raw.ID, err)
	}
	return nil
}
