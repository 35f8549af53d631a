// Package nbt implements the named binary tag format in its disk and network
// encodings.
package nbt

import "fmt"

// Tag type IDs.
const (
	TagEnd       byte = 0
	TagByte      byte = 1
	TagShort     byte = 2
	TagInt       byte = 3
	TagLong      byte = 4
	TagFloat     byte = 5
	TagDouble    byte = 6
	TagByteArray byte = 7
	TagString    byte = 8
	TagList      byte = 9
	TagCompound  byte = 10
	TagIntArray  byte = 11
	TagLongArray byte = 12
)

var tagNames = [...]string{
	TagEnd:       "End",
	TagByte:      "Byte",
	TagShort:     "Short",
	TagInt:       "Int",
	TagLong:      "Long",
	TagFloat:     "Float",
	TagDouble:    "Double",
	TagByteArray: "ByteArray",
	TagString:    "String",
	TagList:      "List",
	TagCompound:  "Compound",
	TagIntArray:  "IntArray",
	TagLongArray: "LongArray",
}

// TagName returns the display name of a tag ID.
func TagName(id byte) string {
	if int(id) < len(tagNames) {
		return tagNames[id]
	}
	return fmt.Sprintf("Unknown(%d)", id)
}

// Tag is one value in a tree. End is only a terminator on the wire and has
// no Tag type.
type Tag interface {
	ID() byte
}

type (
	Byte      int8
	Short     int16
	Int       int32
	Long      int64
	Float     float32
	Double    float64
	ByteArray []byte
	String    string
	IntArray  []int32
	LongArray []int64
)

func (Byte) ID() byte      { return TagByte }
func (Short) ID() byte     { return TagShort }
func (Int) ID() byte       { return TagInt }
func (Long) ID() byte      { return TagLong }
func (Float) ID() byte     { return TagFloat }
func (Double) ID() byte    { return TagDouble }
func (ByteArray) ID() byte { return TagByteArray }
func (String) ID() byte    { return TagString }
func (IntArray) ID() byte  { return TagIntArray }
func (LongArray) ID() byte { return TagLongArray }

// List holds items that all share the tag ID Elem. An empty list has Elem
// TagEnd.
type List struct {
	Elem  byte
	Items []Tag
}

func (*List) ID() byte { return TagList }

// NewList builds a list whose element type is taken from the first item.
// Mismatched items are reported when the list is encoded.
func NewList(items ...Tag) *List {
	l := &List{Elem: TagEnd, Items: items}
	if len(items) > 0 && items[0] != nil {
		l.Elem = items[0].ID()
	}
	return l
}

// Len returns the number of items.
func (l *List) Len() int {
	if l == nil {
		return 0
	}
	return len(l.Items)
}

// Field is a named child of a Compound.
type Field struct {
	Name  string
	Value Tag
}

// Compound is an ordered set of named children. Names are expected to be
// unique; Set maintains that.
type Compound []Field

func (Compound) ID() byte { return TagCompound }

// Get returns the child called name.
func (c Compound) Get(name string) (Tag, bool) {
	for _, f := range c {
		if f.Name == name {
			return f.Value, true
		}
	}
	return nil, false
}

// Set replaces the child called name, or appends it.
func (c *Compound) Set(name string, t Tag) {
	for i := range *c {
		if (*c)[i].Name == name {
			(*c)[i].Value = t
			return
		}
	}
	*c = append(*c, Field{Name: name, Value: t})
}
