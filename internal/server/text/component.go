// Package text models the chat components used for disconnect reasons and
// the server list description.
package text

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/OCharnyshevich/mcproto-server/internal/server/nbt"
	mcnet "github.com/OCharnyshevich/mcproto-server/internal/server/net"
)

// Component is a styled run of text with optional children.
type Component struct {
	Text   string      `json:"text"`
	Color  string      `json:"color,omitempty"`
	Bold   bool        `json:"bold,omitempty"`
	Italic bool        `json:"italic,omitempty"`
	Extra  []Component `json:"extra,omitempty"`
}

// Plain returns an unstyled component.
func Plain(s string) Component {
	return Component{Text: s}
}

// Colored returns a component in the named color.
func Colored(s, color string) Component {
	return Component{Text: s, Color: color}
}

// String flattens the component and its children into plain text.
func (c Component) String() string {
	var sb strings.Builder
	c.flatten(&sb)
	return sb.String()
}

func (c Component) flatten(sb *strings.Builder) {
	sb.WriteString(c.Text)
	for _, e := range c.Extra {
		e.flatten(sb)
	}
}

// JSON returns the component's JSON form.
func (c Component) JSON() string {
	data, err := json.Marshal(c)
	if err != nil {
		// Only strings, bools and nested components; cannot fail.
		panic(fmt.Sprintf("marshal text component: %v", err))
	}
	return string(data)
}

// UnmarshalJSON accepts both the object form and a bare JSON string.
func (c *Component) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*c = Plain(s)
		return nil
	}
	type component Component
	var v component
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal text component: %w", err)
	}
	*c = Component(v)
	return nil
}

// Tag returns the component as a compound tag.
func (c Component) Tag() nbt.Compound {
	tag := nbt.Compound{{Name: "text", Value: nbt.String(c.Text)}}
	if c.Color != "" {
		tag.Set("color", nbt.String(c.Color))
	}
	if c.Bold {
		tag.Set("bold", nbt.Byte(1))
	}
	if c.Italic {
		tag.Set("italic", nbt.Byte(1))
	}
	if len(c.Extra) > 0 {
		items := make([]nbt.Tag, 0, len(c.Extra))
		for _, e := range c.Extra {
			items = append(items, e.Tag())
		}
		tag.Set("extra", nbt.NewList(items...))
	}
	return tag
}

// FromTag rebuilds a component from its compound form. A bare string tag is
// read as plain text.
func FromTag(t nbt.Tag) (Component, error) {
	switch v := t.(type) {
	case nbt.String:
		return Plain(string(v)), nil
	case nbt.Compound:
		var c Component
		if s, ok := v.Get("text"); ok {
			str, ok := s.(nbt.String)
			if !ok {
				return Component{}, fmt.Errorf("text field is %s, not String", nbt.TagName(s.ID()))
			}
			c.Text = string(str)
		}
		if s, ok := v.Get("color"); ok {
			if str, ok := s.(nbt.String); ok {
				c.Color = string(str)
			}
		}
		c.Bold = flag(v, "bold")
		c.Italic = flag(v, "italic")
		if e, ok := v.Get("extra"); ok {
			l, ok := e.(*nbt.List)
			if !ok {
				return Component{}, fmt.Errorf("extra field is %s, not List", nbt.TagName(e.ID()))
			}
			for i, item := range l.Items {
				child, err := FromTag(item)
				if err != nil {
					return Component{}, fmt.Errorf("extra %d: %w", i, err)
				}
				c.Extra = append(c.Extra, child)
			}
		}
		return c, nil
	case nil:
		return Component{}, fmt.Errorf("decode text component: %w", nbt.ErrNilTag)
	default:
		return Component{}, fmt.Errorf("decode text component: unexpected %s tag", nbt.TagName(t.ID()))
	}
}

func flag(c nbt.Compound, name string) bool {
	v, ok := c.Get(name)
	if !ok {
		return false
	}
	b, ok := v.(nbt.Byte)
	return ok && b != 0
}

var wire = nbt.Encoder{Mode: nbt.Disk, Nameless: true}

// Encode writes the component as a nameless tag, the form used inside
// packets after login.
func (c Component) Encode(b *mcnet.Buffer) error {
	return wire.Encode(b, "", c.Tag())
}

// Decode reads a component written by Encode.
func (c *Component) Decode(b *mcnet.Buffer) error {
	_, t, err := nbt.Decoder{Mode: nbt.Disk, Nameless: true}.Decode(b)
	if err != nil {
		return fmt.Errorf("decode text component: %w", err)
	}
	v, err := FromTag(t)
	if err != nil {
		return err
	}
	*c = v
	return nil
}
