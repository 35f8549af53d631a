package packet

import (
	"fmt"

	"github.com/google/uuid"

	mcnet "github.com/OCharnyshevich/mcproto-server/internal/server/net"
	"github.com/OCharnyshevich/mcproto-server/internal/server/text"
)

// Chat modes sent in ClientInformation.
const (
	ChatEnabled      int32 = 0
	ChatCommandsOnly int32 = 1
	ChatHidden       int32 = 2
)

// MaxKnownPacks bounds the pack list a client may declare.
const MaxKnownPacks = 64

// ClientInformation carries the client's settings (serverbound 0x00 in Config).
type ClientInformation struct {
	Locale              string `mc:"string"`
	ViewDistance        int8   `mc:"i8"`
	ChatMode            int32  `mc:"varint"`
	ChatColors          bool   `mc:"bool"`
	SkinParts           uint8  `mc:"u8"`
	MainHand            int32  `mc:"varint"`
	TextFiltering       bool   `mc:"bool"`
	AllowServerListings bool   `mc:"bool"`
}

func (ClientInformation) PacketID() int32 { return 0x00 }

// ConfigCookieRequest is CookieRequest in the Config state (clientbound 0x00).
type ConfigCookieRequest struct {
	CookieRequest
}

func (ConfigCookieRequest) PacketID() int32 { return 0x00 }

// ConfigCookieResponse is CookieResponse in the Config state (serverbound 0x01).
type ConfigCookieResponse struct {
	CookieResponse
}

func (ConfigCookieResponse) PacketID() int32 { return 0x01 }

// ConfigPluginMessage is a custom channel message (clientbound 0x01).
type ConfigPluginMessage struct {
	Channel string `mc:"string"`
	Data    []byte `mc:"rest"`
}

func (ConfigPluginMessage) PacketID() int32 { return 0x01 }

// ConfigPluginMessageServerbound is a custom channel message (serverbound 0x02).
type ConfigPluginMessageServerbound struct {
	Channel string `mc:"string"`
	Data    []byte `mc:"rest"`
}

func (ConfigPluginMessageServerbound) PacketID() int32 { return 0x02 }

// ConfigDisconnect carries a text component tag (clientbound 0x02).
type ConfigDisconnect struct {
	Reason text.Component `mc:"encoder"`
}

func (ConfigDisconnect) PacketID() int32 { return 0x02 }

// FinishConfig ends the Config state (clientbound 0x03).
type FinishConfig struct{}

func (FinishConfig) PacketID() int32 { return 0x03 }

// FinishConfigAck confirms FinishConfig and moves to Play (serverbound 0x03).
type FinishConfigAck struct{}

func (FinishConfigAck) PacketID() int32 { return 0x03 }

// ConfigKeepAlive challenges the client (clientbound 0x04).
type ConfigKeepAlive struct {
	KeepAliveID int64 `mc:"i64"`
}

func (ConfigKeepAlive) PacketID() int32 { return 0x04 }

// ConfigKeepAliveServerbound echoes ConfigKeepAlive (serverbound 0x04).
type ConfigKeepAliveServerbound struct {
	KeepAliveID int64 `mc:"i64"`
}

func (ConfigKeepAliveServerbound) PacketID() int32 { return 0x04 }

// ConfigPing carries a nonce the client must return (clientbound 0x05).
type ConfigPing struct {
	ID int32 `mc:"i32"`
}

func (ConfigPing) PacketID() int32 { return 0x05 }

// ConfigPong returns a ConfigPing nonce (serverbound 0x05).
type ConfigPong struct {
	ID int32 `mc:"i32"`
}

func (ConfigPong) PacketID() int32 { return 0x05 }

// Resource pack results.
const (
	PackLoaded         int32 = 0
	PackDeclined       int32 = 1
	PackFailedDownload int32 = 2
	PackAccepted       int32 = 3
)

// ResourcePackResponse reports a resource pack result (serverbound 0x06).
type ResourcePackResponse struct {
	UUID   uuid.UUID `mc:"uuid"`
	Result int32     `mc:"varint"`
}

func (ResourcePackResponse) PacketID() int32 { return 0x06 }

// StoreCookie asks the client to keep a cookie across transfers (clientbound 0x0A).
type StoreCookie struct {
	Key     string `mc:"string"`
	Payload []byte `mc:"bytearray"`
}

func (StoreCookie) PacketID() int32 { return 0x0A }

// KnownPack identifies a data pack both sides may already have.
type KnownPack struct {
	Namespace string
	ID        string
	Version   string
}

// CorePack is the vanilla data pack for this protocol version.
var CorePack = KnownPack{Namespace: "minecraft", ID: "core", Version: VersionName}

func (k KnownPack) String() string {
	return k.Namespace + ":" + k.ID + "@" + k.Version
}

func writeKnownPack(b *mcnet.Buffer, k KnownPack) {
	b.WriteString(k.Namespace)
	b.WriteString(k.ID)
	b.WriteString(k.Version)
}

func readKnownPack(b *mcnet.Buffer) (KnownPack, error) {
	var (
		k   KnownPack
		err error
	)
	if k.Namespace, err = b.ReadString(mcnet.MaxStringLength); err != nil {
		return k, err
	}
	if k.ID, err = b.ReadString(mcnet.MaxStringLength); err != nil {
		return k, err
	}
	k.Version, err = b.ReadString(mcnet.MaxStringLength)
	return k, err
}

// KnownPacks lists packs the server offers (clientbound 0x0E).
type KnownPacks struct {
	Packs []KnownPack
}

func (KnownPacks) PacketID() int32 { return 0x0E }

func (p KnownPacks) Encode(b *mcnet.Buffer) error {
	mcnet.WriteArray(b, p.Packs, writeKnownPack)
	return nil
}

func (p *KnownPacks) Decode(b *mcnet.Buffer) error {
	packs, err := mcnet.ReadArray(b, readKnownPack, MaxKnownPacks)
	if err != nil {
		return fmt.Errorf("known packs: %w", err)
	}
	p.Packs = packs
	return nil
}

// KnownPacksServerbound lists the packs the client has (serverbound 0x07).
type KnownPacksServerbound struct {
	KnownPacks
}

func (KnownPacksServerbound) PacketID() int32 { return 0x07 }
