package packet

// Protocol version spoken by this server.
const (
	ProtocolVersion int32 = 767
	VersionName           = "1.21.1"
)

// Handshake intents.
const (
	IntentStatus   int32 = 1
	IntentLogin    int32 = 2
	IntentTransfer int32 = 3
)

// Handshake is sent by the client to begin a connection (serverbound 0x00).
type Handshake struct {
	ProtocolVersion int32  `mc:"varint"`
	ServerAddress   string `mc:"string"`
	ServerPort      uint16 `mc:"u16"`
	Intent          int32  `mc:"varint"`
}

func (Handshake) PacketID() int32 { return 0x00 }
