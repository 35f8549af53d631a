package net

import (
	"fmt"
	"math/bits"
)

// WriteFunc writes one value of T. Method expressions such as
// (*Buffer).WriteUUID satisfy it.
type WriteFunc[T any] func(*Buffer, T)

// ReadFunc reads one value of T. Method expressions such as
// (*Buffer).ReadUUID satisfy it.
type ReadFunc[T any] func(*Buffer) (T, error)

// WriteArray writes a VarInt count followed by each element.
func WriteArray[T any](b *Buffer, vs []T, write WriteFunc[T]) {
	b.WriteVarInt(int32(len(vs)))
	for _, v := range vs {
		write(b, v)
	}
}

// ReadArray reads a VarInt count of at most max elements. Every element
// occupies at least one byte, so counts above the unread size are rejected
// before any allocation.
func ReadArray[T any](b *Buffer, read ReadFunc[T], max int) ([]T, error) {
	n, err := b.ReadVarInt()
	if err != nil {
		return nil, fmt.Errorf("read array length: %w", err)
	}
	if n < 0 || int(n) > max || int(n) > b.Len() {
		return nil, fmt.Errorf("array length %d: %w", n, ErrBadLength)
	}
	vs := make([]T, 0, n)
	for i := range int(n) {
		v, err := read(b)
		if err != nil {
			return nil, fmt.Errorf("read array element %d: %w", i, err)
		}
		vs = append(vs, v)
	}
	return vs, nil
}

// WriteOptional writes a presence flag and, when v is non-nil, the value.
func WriteOptional[T any](b *Buffer, v *T, write WriteFunc[T]) {
	b.WriteBool(v != nil)
	if v != nil {
		write(b, *v)
	}
}

// ReadOptional reads a presence flag and, if set, one value. A nil result
// means absent, which is distinct from a present zero value.
func ReadOptional[T any](b *Buffer, read ReadFunc[T]) (*T, error) {
	present, err := b.ReadBool()
	if err != nil {
		return nil, fmt.Errorf("read optional flag: %w", err)
	}
	if !present {
		return nil, nil
	}
	v, err := read(b)
	if err != nil {
		return nil, fmt.Errorf("read optional value: %w", err)
	}
	return &v, nil
}

// Bounded adapts a reader that takes a size limit into a ReadFunc.
func Bounded[T any](read func(*Buffer, int) (T, error), max int) ReadFunc[T] {
	return func(b *Buffer) (T, error) {
		return read(b, max)
	}
}

// BitSet is a growable set of bits stored in 64-bit words.
type BitSet []uint64

func (s *BitSet) Set(i int) {
	w := i / 64
	for len(*s) <= w {
		*s = append(*s, 0)
	}
	(*s)[w] |= 1 << (i % 64)
}

func (s BitSet) Clear(i int) {
	if w := i / 64; w < len(s) {
		s[w] &^= 1 << (i % 64)
	}
}

func (s BitSet) Test(i int) bool {
	w := i / 64
	return w < len(s) && s[w]&(1<<(i%64)) != 0
}

// Len returns one past the highest set bit, or 0 if no bit is set.
func (s BitSet) Len() int {
	for w := len(s) - 1; w >= 0; w-- {
		if s[w] != 0 {
			return w*64 + bits.Len64(s[w])
		}
	}
	return 0
}

// Equal reports whether both sets contain the same bits, ignoring trailing zero words.
func (s BitSet) Equal(o BitSet) bool {
	n := (s.Len() + 63) / 64
	if n != (o.Len()+63)/64 {
		return false
	}
	for i := range n {
		if s[i] != o[i] {
			return false
		}
	}
	return true
}

// WriteBitSet writes the words up to the highest set bit, VarInt-prefixed.
func (b *Buffer) WriteBitSet(s BitSet) {
	words := (s.Len() + 63) / 64
	b.WriteVarInt(int32(words))
	for _, w := range s[:words] {
		b.WriteUint64(w)
	}
}

func (b *Buffer) ReadBitSet() (BitSet, error) {
	n, err := b.ReadVarInt()
	if err != nil {
		return nil, fmt.Errorf("read bitset length: %w", err)
	}
	if n < 0 || int(n)*8 > b.Len() {
		return nil, fmt.Errorf("bitset length %d: %w", n, ErrBadLength)
	}
	s := make(BitSet, n)
	for i := range s {
		if s[i], err = b.ReadUint64(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// WriteFixedBitSet writes exactly ceil(size/8) bytes; bit i lives in byte i/8.
func (b *Buffer) WriteFixedBitSet(s BitSet, size int) {
	out := make([]byte, (size+7)/8)
	for i := range size {
		if s.Test(i) {
			out[i/8] |= 1 << (i % 8)
		}
	}
	b.writeBytes(out)
}

func (b *Buffer) ReadFixedBitSet(size int) (BitSet, error) {
	if size < 0 {
		return nil, fmt.Errorf("fixed bitset size %d: %w", size, ErrBadLength)
	}
	raw, err := b.Next((size + 7) / 8)
	if err != nil {
		return nil, fmt.Errorf("read fixed bitset: %w", err)
	}
	var s BitSet
	for i := range size {
		if raw[i/8]&(1<<(i%8)) != 0 {
			s.Set(i)
		}
	}
	return s, nil
}
