package packet

// StatusRequest asks for the server list entry (serverbound 0x00 in Status).
type StatusRequest struct{}

func (StatusRequest) PacketID() int32 { return 0x00 }

// StatusResponse carries the server list entry as JSON (clientbound 0x00).
type StatusResponse struct {
	Status string `mc:"string"`
}

func (StatusResponse) PacketID() int32 { return 0x00 }

// PingRequest carries an opaque value, usually the client clock in
// milliseconds (serverbound 0x01).
type PingRequest struct {
	Time int64 `mc:"i64"`
}

func (PingRequest) PacketID() int32 { return 0x01 }

// PongResponse returns the PingRequest value unchanged (clientbound 0x01).
type PongResponse struct {
	Time int64 `mc:"i64"`
}

func (PongResponse) PacketID() int32 { return 0x01 }
