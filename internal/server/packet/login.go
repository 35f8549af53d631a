package packet

import (
	"fmt"

	"github.com/google/uuid"

	mcnet "github.com/OCharnyshevich/mcproto-server/internal/server/net"
)

// Bounds applied when reading login payloads.
const (
	MaxPluginPayload = 1 << 20
	MaxCookiePayload = 5120
	maxProperties    = 16
)

// LoginStart carries the client's declared name and offline UUID (serverbound 0x00).
type LoginStart struct {
	Name string    `mc:"string"`
	UUID uuid.UUID `mc:"uuid"`
}

func (LoginStart) PacketID() int32 { return 0x00 }

// EncryptionRequest starts the key exchange (clientbound 0x01).
type EncryptionRequest struct {
	ServerID           string `mc:"string"`
	PublicKey          []byte `mc:"bytearray"`
	VerifyToken        []byte `mc:"bytearray"`
	ShouldAuthenticate bool   `mc:"bool"`
}

func (EncryptionRequest) PacketID() int32 { return 0x01 }

// EncryptionResponse carries the RSA-encrypted shared secret and verify token (serverbound 0x01).
type EncryptionResponse struct {
	SharedSecret []byte `mc:"bytearray"`
	VerifyToken  []byte `mc:"bytearray"`
}

func (EncryptionResponse) PacketID() int32 { return 0x01 }

// Property is a signed profile property such as the skin texture.
type Property struct {
	Name      string
	Value     string
	Signature *string
}

func writeProperty(b *mcnet.Buffer, p Property) {
	b.WriteString(p.Name)
	b.WriteString(p.Value)
	mcnet.WriteOptional(b, p.Signature, (*mcnet.Buffer).WriteString)
}

func readProperty(b *mcnet.Buffer) (Property, error) {
	var (
		p   Property
		err error
	)
	if p.Name, err = b.ReadString(64); err != nil {
		return p, fmt.Errorf("property name: %w", err)
	}
	if p.Value, err = b.ReadString(mcnet.MaxStringLength); err != nil {
		return p, fmt.Errorf("property value: %w", err)
	}
	if p.Signature, err = mcnet.ReadOptional(b, mcnet.Bounded((*mcnet.Buffer).ReadString, 1024)); err != nil {
		return p, fmt.Errorf("property signature: %w", err)
	}
	return p, nil
}

// LoginSuccess completes login (clientbound 0x02).
type LoginSuccess struct {
	UUID                uuid.UUID
	Username            string
	Properties          []Property
	StrictErrorHandling bool
}

func (LoginSuccess) PacketID() int32 { return 0x02 }

func (p LoginSuccess) Encode(b *mcnet.Buffer) error {
	b.WriteUUID(p.UUID)
	b.WriteString(p.Username)
	mcnet.WriteArray(b, p.Properties, writeProperty)
	b.WriteBool(p.StrictErrorHandling)
	return nil
}

func (p *LoginSuccess) Decode(b *mcnet.Buffer) error {
	var err error
	if p.UUID, err = b.ReadUUID(); err != nil {
		return fmt.Errorf("uuid: %w", err)
	}
	if p.Username, err = b.ReadString(16); err != nil {
		return fmt.Errorf("username: %w", err)
	}
	if p.Properties, err = mcnet.ReadArray(b, readProperty, maxProperties); err != nil {
		return fmt.Errorf("properties: %w", err)
	}
	if p.StrictErrorHandling, err = b.ReadBool(); err != nil {
		return fmt.Errorf("strict error handling: %w", err)
	}
	return nil
}

// SetCompression tells the client to enable compression (clientbound 0x03).
type SetCompression struct {
	Threshold int32 `mc:"varint"`
}

func (SetCompression) PacketID() int32 { return 0x03 }

// LoginDisconnect carries a JSON text component (clientbound 0x00).
type LoginDisconnect struct {
	Reason string `mc:"string"`
}

func (LoginDisconnect) PacketID() int32 { return 0x00 }

// LoginPluginRequest asks the client about a custom channel (clientbound 0x04).
type LoginPluginRequest struct {
	MessageID int32  `mc:"varint"`
	Channel   string `mc:"string"`
	Data      []byte `mc:"rest"`
}

func (LoginPluginRequest) PacketID() int32 { return 0x04 }

// LoginPluginResponse answers a LoginPluginRequest (serverbound 0x02). Data
// is nil when the client did not understand the channel.
type LoginPluginResponse struct {
	MessageID int32
	Data      []byte
}

func (LoginPluginResponse) PacketID() int32 { return 0x02 }

func (p LoginPluginResponse) Encode(b *mcnet.Buffer) error {
	b.WriteVarInt(p.MessageID)
	b.WriteBool(p.Data != nil)
	b.WriteRest(p.Data)
	return nil
}

func (p *LoginPluginResponse) Decode(b *mcnet.Buffer) error {
	var err error
	if p.MessageID, err = b.ReadVarInt(); err != nil {
		return fmt.Errorf("message id: %w", err)
	}
	ok, err := b.ReadBool()
	if err != nil {
		return fmt.Errorf("successful flag: %w", err)
	}
	p.Data = nil
	if !ok {
		return nil
	}
	if b.Len() > MaxPluginPayload {
		return fmt.Errorf("plugin payload of %d bytes: %w", b.Len(), mcnet.ErrBadLength)
	}
	p.Data, err = b.ReadRest()
	return err
}

// LoginAcknowledged confirms LoginSuccess and moves to Config (serverbound 0x03).
type LoginAcknowledged struct{}

func (LoginAcknowledged) PacketID() int32 { return 0x03 }

// CookieRequest asks the client for a stored cookie.
type CookieRequest struct {
	Key string
}

func (p CookieRequest) Encode(b *mcnet.Buffer) error {
	b.WriteString(p.Key)
	return nil
}

func (p *CookieRequest) Decode(b *mcnet.Buffer) error {
	var err error
	p.Key, err = b.ReadString(mcnet.MaxStringLength)
	return err
}

// CookieResponse carries a cookie payload, nil when the client has none.
type CookieResponse struct {
	Key     string
	Payload []byte
}

func (p CookieResponse) Encode(b *mcnet.Buffer) error {
	b.WriteString(p.Key)
	var payload *[]byte
	if p.Payload != nil {
		payload = &p.Payload
	}
	mcnet.WriteOptional(b, payload, (*mcnet.Buffer).WriteByteArray)
	return nil
}

func (p *CookieResponse) Decode(b *mcnet.Buffer) error {
	var err error
	if p.Key, err = b.ReadString(mcnet.MaxStringLength); err != nil {
		return fmt.Errorf("cookie key: %w", err)
	}
	payload, err := mcnet.ReadOptional(b, mcnet.Bounded((*mcnet.Buffer).ReadByteArray, MaxCookiePayload))
	if err != nil {
		return fmt.Errorf("cookie payload: %w", err)
	}
	p.Payload = nil
	if payload != nil {
		p.Payload = *payload
	}
	return nil
}

// LoginCookieRequest is CookieRequest in the Login state (clientbound 0x05).
type LoginCookieRequest struct {
	CookieRequest
}

func (LoginCookieRequest) PacketID() int32 { return 0x05 }

// LoginCookieResponse is CookieResponse in the Login state (serverbound 0x04).
type LoginCookieResponse struct {
	CookieResponse
}

func (LoginCookieResponse) PacketID() int32 { return 0x04 }
