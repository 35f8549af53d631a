package text

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OCharnyshevich/mcproto-server/internal/server/nbt"
	mcnet "github.com/OCharnyshevich/mcproto-server/internal/server/net"
)

func TestJSON(t *testing.T) {
	tests := []struct {
		name string
		c    Component
		want string
	}{
		{"plain", Plain("Name too long."), `{"text":"Name too long."}`},
		{"colored", Colored("hi", "red"), `{"text":"hi","color":"red"}`},
		{
			"extra",
			Component{Text: "a", Bold: true, Extra: []Component{Plain("b")}},
			`{"text":"a","bold":true,"extra":[{"text":"b"}]}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.JSONEq(t, tt.want, tt.c.JSON())
		})
	}
}

func TestUnmarshalJSON(t *testing.T) {
	var c Component
	require.NoError(t, json.Unmarshal([]byte(`"A Minecraft Server"`), &c))
	assert.Equal(t, Plain("A Minecraft Server"), c)

	require.NoError(t, json.Unmarshal([]byte(`{"text":"x","extra":[{"text":"y"},"z"]}`), &c))
	assert.Equal(t, "xyz", c.String())

	assert.Error(t, json.Unmarshal([]byte(`42`), &c))
}

func TestTagRoundTrip(t *testing.T) {
	c := Component{
		Text:   "Outdated client! ",
		Color:  "red",
		Italic: true,
		Extra:  []Component{Plain("Please use 1.21.1")},
	}

	b := mcnet.NewBuffer()
	require.NoError(t, c.Encode(b))

	var got Component
	require.NoError(t, got.Decode(b))
	assert.Equal(t, c, got)
	assert.Zero(t, b.Len())
}

func TestEncodeLayout(t *testing.T) {
	b := mcnet.NewBuffer()
	require.NoError(t, Plain("x").Encode(b))
	want := []byte{
		nbt.TagCompound,
		nbt.TagString, 0, 4, 't', 'e', 'x', 't', 0, 1, 'x',
		nbt.TagEnd,
	}
	assert.Equal(t, want, b.Bytes())
}

func TestFromTag(t *testing.T) {
	c, err := FromTag(nbt.String("bare"))
	require.NoError(t, err)
	assert.Equal(t, Plain("bare"), c)

	_, err = FromTag(nbt.Compound{{Name: "text", Value: nbt.Int(1)}})
	assert.Error(t, err)

	_, err = FromTag(nbt.Int(5))
	assert.Error(t, err)

	_, err = FromTag(nil)
	assert.ErrorIs(t, err, nbt.ErrNilTag)
}
