package nbt

import (
	"math"
	"slices"
)

// Equal reports whether a and b hold the same tag types and payloads.
// Compound children are compared in order by value; their names are ignored.
// Floats compare by bit pattern, so NaN equals an identical NaN.
func Equal(a, b Tag) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.ID() != b.ID() {
		return false
	}
	switch x := a.(type) {
	case Float:
		return math.Float32bits(float32(x)) == math.Float32bits(float32(b.(Float)))
	case Double:
		return math.Float64bits(float64(x)) == math.Float64bits(float64(b.(Double)))
	case ByteArray:
		return slices.Equal(x, b.(ByteArray))
	case IntArray:
		return slices.Equal(x, b.(IntArray))
	case LongArray:
		return slices.Equal(x, b.(LongArray))
	case *List:
		return listEqual(x, b.(*List))
	case Compound:
		y := b.(Compound)
		return slices.EqualFunc(x, y, func(f, g Field) bool {
			return Equal(f.Value, g.Value)
		})
	default:
		return a == b
	}
}

func listEqual(x, y *List) bool {
	if x.Len() == 0 || y.Len() == 0 {
		return x.Len() == y.Len()
	}
	return slices.EqualFunc(x.Items, y.Items, Equal)
}
