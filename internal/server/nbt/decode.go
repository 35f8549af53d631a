package nbt

import (
	"errors"
	"fmt"
	"math"

	mcnet "github.com/OCharnyshevich/mcproto-server/internal/server/net"
)

// DefaultMaxDepth bounds compound and list nesting when Decoder.MaxDepth is zero.
const DefaultMaxDepth = 512

var (
	ErrTooDeep    = errors.New("tree nested too deeply")
	ErrBadLength  = errors.New("bad length")
	ErrUnknownTag = errors.New("unknown tag type")
)

// Decoder reads tag trees written by an Encoder with the same Mode and
// Nameless settings.
type Decoder struct {
	Mode     Mode
	Nameless bool
	MaxDepth int
}

// Decode reads one root tag. A lone End byte decodes to a nil Tag.
func (d Decoder) Decode(b *mcnet.Buffer) (string, Tag, error) {
	id, err := b.ReadByte()
	if err != nil {
		return "", nil, fmt.Errorf("read root tag type: %w", err)
	}
	if id == TagEnd {
		return "", nil, nil
	}
	var name string
	if !d.Nameless {
		if name, err = d.readString(b); err != nil {
			return "", nil, fmt.Errorf("read root name: %w", err)
		}
	}
	t, err := d.readPayload(b, id, 0)
	if err != nil {
		return "", nil, err
	}
	return name, t, nil
}

// Unmarshal decodes a root tag from data.
func (d Decoder) Unmarshal(data []byte) (string, Tag, error) {
	return d.Decode(mcnet.NewBufferFrom(data))
}

func (d Decoder) maxDepth() int {
	if d.MaxDepth > 0 {
		return d.MaxDepth
	}
	return DefaultMaxDepth
}

func (d Decoder) readString(b *mcnet.Buffer) (string, error) {
	if d.Mode == Network {
		return b.ReadString(math.MaxUint16)
	}
	n, err := b.ReadUint16()
	if err != nil {
		return "", err
	}
	if int(n) > b.Len() {
		return "", fmt.Errorf("%w: string of %d bytes, %d left", ErrBadLength, n, b.Len())
	}
	data, err := b.Next(int(n))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// readLen reads a length prefix for elements at least elemSize bytes wide
// and rejects lengths that cannot fit in the rest of b.
func (d Decoder) readLen(b *mcnet.Buffer, elemSize int) (int, error) {
	var (
		n   int32
		err error
	)
	if d.Mode == Network {
		n, err = b.ReadZigZag32()
	} else {
		n, err = b.ReadInt32()
	}
	if err != nil {
		return 0, err
	}
	if n < 0 || int64(n)*int64(elemSize) > int64(b.Len()) {
		return 0, fmt.Errorf("%w: %d elements, %d bytes left", ErrBadLength, n, b.Len())
	}
	return int(n), nil
}

func (d Decoder) readInt(b *mcnet.Buffer) (int32, error) {
	if d.Mode == Network {
		return b.ReadZigZag32()
	}
	return b.ReadInt32()
}

func (d Decoder) readLong(b *mcnet.Buffer) (int64, error) {
	if d.Mode == Network {
		return b.ReadZigZag64()
	}
	return b.ReadInt64()
}

// Minimum encoded widths of int and long elements.
func (d Decoder) intWidths() (int, int) {
	if d.Mode == Network {
		return 1, 1
	}
	return 4, 8
}

func (d Decoder) readPayload(b *mcnet.Buffer, id byte, depth int) (Tag, error) {
	switch id {
	case TagByte:
		v, err := b.ReadInt8()
		return Byte(v), err
	case TagShort:
		v, err := b.ReadInt16()
		return Short(v), err
	case TagInt:
		v, err := d.readInt(b)
		return Int(v), err
	case TagLong:
		v, err := d.readLong(b)
		return Long(v), err
	case TagFloat:
		v, err := b.ReadFloat32()
		return Float(v), err
	case TagDouble:
		v, err := b.ReadFloat64()
		return Double(v), err
	case TagByteArray:
		n, err := d.readLen(b, 1)
		if err != nil {
			return nil, fmt.Errorf("byte array: %w", err)
		}
		data, err := b.Next(n)
		return ByteArray(data), err
	case TagString:
		s, err := d.readString(b)
		return String(s), err
	case TagIntArray:
		w, _ := d.intWidths()
		n, err := d.readLen(b, w)
		if err != nil {
			return nil, fmt.Errorf("int array: %w", err)
		}
		out := make(IntArray, n)
		for i := range out {
			if out[i], err = d.readInt(b); err != nil {
				return nil, fmt.Errorf("int array element %d: %w", i, err)
			}
		}
		return out, nil
	case TagLongArray:
		_, w := d.intWidths()
		n, err := d.readLen(b, w)
		if err != nil {
			return nil, fmt.Errorf("long array: %w", err)
		}
		out := make(LongArray, n)
		for i := range out {
			if out[i], err = d.readLong(b); err != nil {
				return nil, fmt.Errorf("long array element %d: %w", i, err)
			}
		}
		return out, nil
	case TagList:
		return d.readList(b, depth+1)
	case TagCompound:
		return d.readCompound(b, depth+1)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownTag, id)
	}
}

func (d Decoder) readList(b *mcnet.Buffer, depth int) (Tag, error) {
	if depth > d.maxDepth() {
		return nil, ErrTooDeep
	}
	elem, err := b.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("list element type: %w", err)
	}
	n, err := d.readLen(b, 1)
	if err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}
	if elem == TagEnd {
		if n != 0 {
			return nil, fmt.Errorf("%w: %d End elements", ErrBadLength, n)
		}
		return &List{Elem: TagEnd}, nil
	}
	if elem > TagLongArray {
		return nil, fmt.Errorf("list element: %w: %d", ErrUnknownTag, elem)
	}
	l := &List{Elem: elem, Items: make([]Tag, 0, n)}
	for i := range n {
		item, err := d.readPayload(b, elem, depth)
		if err != nil {
			return nil, fmt.Errorf("list item %d: %w", i, err)
		}
		l.Items = append(l.Items, item)
	}
	return l, nil
}

func (d Decoder) readCompound(b *mcnet.Buffer, depth int) (Tag, error) {
	if depth > d.maxDepth() {
		return nil, ErrTooDeep
	}
	c := Compound{}
	for {
		id, err := b.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("compound field type: %w", err)
		}
		if id == TagEnd {
			return c, nil
		}
		name, err := d.readString(b)
		if err != nil {
			return nil, fmt.Errorf("compound field name: %w", err)
		}
		v, err := d.readPayload(b, id, depth)
		if err != nil {
			return nil, fmt.Errorf("compound field %q: %w", name, err)
		}
		c = append(c, Field{Name: name, Value: v})
	}
}
