package nbt

import (
	"errors"
	"fmt"
	"math"

	mcnet "github.com/OCharnyshevich/mcproto-server/internal/server/net"
)

// Mode selects the wire encoding of lengths, names and integers.
type Mode int

const (
	// Disk is the file format: fixed-width big-endian integers and
	// uint16-length strings.
	Disk Mode = iota
	// Network uses VarInt-length strings and zig-zag VarInt integers and
	// lengths.
	Network
)

func (m Mode) String() string {
	switch m {
	case Disk:
		return "disk"
	case Network:
		return "network"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

var (
	ErrListTypeMismatch = errors.New("list items have mixed tag types")
	ErrStringTooLong    = errors.New("string too long")
	ErrNilTag           = errors.New("nil tag")
)

// Encoder writes tag trees. With Nameless set the root name is omitted,
// which is how trees are embedded in protocol packets.
type Encoder struct {
	Mode     Mode
	Nameless bool
}

// Encode writes the root tag t called name. A nil t writes a lone End byte,
// which readers take as an absent tree.
func (e Encoder) Encode(b *mcnet.Buffer, name string, t Tag) error {
	if t == nil {
		_ = b.WriteByte(TagEnd)
		return nil
	}
	_ = b.WriteByte(t.ID())
	if !e.Nameless {
		if err := e.writeString(b, name); err != nil {
			return fmt.Errorf("root name: %w", err)
		}
	}
	return e.writePayload(b, t)
}

// Marshal encodes t into a fresh byte slice.
func (e Encoder) Marshal(name string, t Tag) ([]byte, error) {
	b := mcnet.NewBuffer()
	if err := e.Encode(b, name, t); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

func (e Encoder) writeString(b *mcnet.Buffer, s string) error {
	if len(s) > math.MaxUint16 {
		return fmt.Errorf("%w: %d bytes", ErrStringTooLong, len(s))
	}
	if e.Mode == Network {
		b.WriteString(s)
		return nil
	}
	b.WriteUint16(uint16(len(s)))
	b.WriteRest([]byte(s))
	return nil
}

func (e Encoder) writeLen(b *mcnet.Buffer, n int) {
	if e.Mode == Network {
		b.WriteZigZag32(int32(n))
		return
	}
	b.WriteInt32(int32(n))
}

func (e Encoder) writeInt(b *mcnet.Buffer, v int32) {
	if e.Mode == Network {
		b.WriteZigZag32(v)
		return
	}
	b.WriteInt32(v)
}

func (e Encoder) writeLong(b *mcnet.Buffer, v int64) {
	if e.Mode == Network {
		b.WriteZigZag64(v)
		return
	}
	b.WriteInt64(v)
}

func (e Encoder) writePayload(b *mcnet.Buffer, t Tag) error {
	switch v := t.(type) {
	case Byte:
		b.WriteInt8(int8(v))
	case Short:
		b.WriteInt16(int16(v))
	case Int:
		e.writeInt(b, int32(v))
	case Long:
		e.writeLong(b, int64(v))
	case Float:
		b.WriteFloat32(float32(v))
	case Double:
		b.WriteFloat64(float64(v))
	case ByteArray:
		e.writeLen(b, len(v))
		b.WriteRest(v)
	case String:
		return e.writeString(b, string(v))
	case IntArray:
		e.writeLen(b, len(v))
		for _, x := range v {
			e.writeInt(b, x)
		}
	case LongArray:
		e.writeLen(b, len(v))
		for _, x := range v {
			e.writeLong(b, x)
		}
	case *List:
		return e.writeList(b, v)
	case Compound:
		return e.writeCompound(b, v)
	default:
		return fmt.Errorf("encode %T: unsupported tag", t)
	}
	return nil
}

func (e Encoder) writeList(b *mcnet.Buffer, l *List) error {
	if l == nil || len(l.Items) == 0 {
		_ = b.WriteByte(TagEnd)
		e.writeLen(b, 0)
		return nil
	}
	elem := l.Elem
	if elem == TagEnd && l.Items[0] != nil {
		elem = l.Items[0].ID()
	}
	for i, item := range l.Items {
		if item == nil || item.ID() != elem {
			return fmt.Errorf("list item %d: %w: want %s", i, ErrListTypeMismatch, TagName(elem))
		}
	}
	_ = b.WriteByte(elem)
	e.writeLen(b, len(l.Items))
	for i, item := range l.Items {
		if err := e.writePayload(b, item); err != nil {
			return fmt.Errorf("list item %d: %w", i, err)
		}
	}
	return nil
}

func (e Encoder) writeCompound(b *mcnet.Buffer, c Compound) error {
	for _, f := range c {
		if f.Value == nil {
			return fmt.Errorf("compound field %q: %w", f.Name, ErrNilTag)
		}
		_ = b.WriteByte(f.Value.ID())
		if err := e.writeString(b, f.Name); err != nil {
			return fmt.Errorf("compound field name: %w", err)
		}
		if err := e.writePayload(b, f.Value); err != nil {
			return fmt.Errorf("compound field %q: %w", f.Name, err)
		}
	}
	_ = b.WriteByte(TagEnd)
	return nil
}
