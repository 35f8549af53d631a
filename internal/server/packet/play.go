package packet

import "github.com/OCharnyshevich/mcproto-server/internal/server/text"

// PlayDisconnect carries a text component tag (clientbound 0x1D in Play).
type PlayDisconnect struct {
	Reason text.Component `mc:"encoder"`
}

func (PlayDisconnect) PacketID() int32 { return 0x1D }

// PlayKeepAlive challenges the client (clientbound 0x26 in Play).
type PlayKeepAlive struct {
	KeepAliveID int64 `mc:"i64"`
}

func (PlayKeepAlive) PacketID() int32 { return 0x26 }

// PlayKeepAliveServerbound echoes PlayKeepAlive (serverbound 0x18 in Play).
type PlayKeepAliveServerbound struct {
	KeepAliveID int64 `mc:"i64"`
}

func (PlayKeepAliveServerbound) PacketID() int32 { return 0x18 }
