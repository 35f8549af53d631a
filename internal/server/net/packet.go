package net

import (
	"fmt"

	"github.com/google/uuid"
)

// IncompleteID marks a RawPacket whose frame has not fully arrived yet.
const IncompleteID int32 = -1

// Packet is a typed packet that knows its protocol ID.
type Packet interface {
	PacketID() int32
}

// Encoder is implemented by packets and field types whose wire form
// cannot be described with mc struct tags.
type Encoder interface {
	Encode(b *Buffer) error
}

// Decoder is the read-side counterpart of Encoder.
type Decoder interface {
	Decode(b *Buffer) error
}

// RawPacket is a decoded frame: the packet ID and its undecoded payload.
type RawPacket struct {
	ID      int32
	Payload []byte
}

// Incomplete reports whether the frame is still waiting for bytes.
func (p RawPacket) Incomplete() bool { return p.ID == IncompleteID }

// Limits applied to fields read through struct tags.
const (
	maxTaggedByteArray = 1 << 16
)

// WriteField writes val according to an mc struct tag.
func WriteField(b *Buffer, tag string, val any) error {
	switch tag {
	case "varint":
		b.WriteVarInt(val.(int32))
	case "varlong":
		b.WriteVarLong(val.(int64))
	case "i8":
		b.WriteInt8(val.(int8))
	case "u8":
		b.WriteUint8(val.(uint8))
	case "i16":
		b.WriteInt16(val.(int16))
	case "u16":
		b.WriteUint16(val.(uint16))
	case "i32":
		b.WriteInt32(val.(int32))
	case "i64":
		b.WriteInt64(val.(int64))
	case "f32":
		b.WriteFloat32(val.(float32))
	case "f64":
		b.WriteFloat64(val.(float64))
	case "bool":
		b.WriteBool(val.(bool))
	case "string":
		b.WriteString(val.(string))
	case "uuid":
		b.WriteUUID(val.(uuid.UUID))
	case "bytearray":
		b.WriteByteArray(val.([]byte))
	case "rest":
		b.WriteRest(val.([]byte))
	default:
		return fmt.Errorf("unknown field tag: %q", tag)
	}
	return nil
}

// ReadField reads one value according to an mc struct tag.
func ReadField(b *Buffer, tag string) (any, error) {
	switch tag {
	case "varint":
		return b.ReadVarInt()
	case "varlong":
		return b.ReadVarLong()
	case "i8":
		return b.ReadInt8()
	case "u8":
		return b.ReadUint8()
	case "i16":
		return b.ReadInt16()
	case "u16":
		return b.ReadUint16()
	case "i32":
		return b.ReadInt32()
	case "i64":
		return b.ReadInt64()
	case "f32":
		return b.ReadFloat32()
	case "f64":
		return b.ReadFloat64()
	case "bool":
		return b.ReadBool()
	case "string":
		return b.ReadString(MaxStringLength)
	case "uuid":
		return b.ReadUUID()
	case "bytearray":
		return b.ReadByteArray(maxTaggedByteArray)
	case "rest":
		return b.ReadRest()
	default:
		return nil, fmt.Errorf("unknown field tag: %q", tag)
	}
}
