package net

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/google/uuid"
)

// MaxStringLength is the protocol's upper bound on string length in characters.
const MaxStringLength = 32767

var (
	ErrVarIntTooLong  = errors.New("VarInt too long")
	ErrVarLongTooLong = errors.New("VarLong too long")
)

// WriteVarInt appends value using 7 data bits per byte, low bits first.
func (b *Buffer) WriteVarInt(value int32) {
	var buf [5]byte
	n := PutVarInt(buf[:], value)
	b.writeBytes(buf[:n])
}

// PutVarInt encodes value into buf and returns the number of bytes used.
func PutVarInt(buf []byte, value int32) int {
	val := uint32(value)
	n := 0
	for {
		c := byte(val & 0x7F)
		val >>= 7
		if val != 0 {
			c |= 0x80
		}
		buf[n] = c
		n++
		if val == 0 {
			break
		}
	}
	return n
}

// VarIntSize returns the encoded size of value in bytes.
func VarIntSize(value int32) int {
	val := uint32(value)
	size := 0
	for {
		size++
		val >>= 7
		if val == 0 {
			break
		}
	}
	return size
}

// ReadVarInt decodes a VarInt. On error the read cursor is left unchanged.
func (b *Buffer) ReadVarInt() (int32, error) {
	start := b.r
	var result uint32
	for numRead := 0; ; numRead++ {
		if numRead == 5 {
			b.r = start
			return 0, ErrVarIntTooLong
		}
		c, err := b.ReadByte()
		if err != nil {
			b.r = start
			return 0, err
		}
		result |= uint32(c&0x7F) << (7 * numRead)
		if c&0x80 == 0 {
			return int32(result), nil
		}
	}
}

func (b *Buffer) WriteVarLong(value int64) {
	var buf [10]byte
	val := uint64(value)
	n := 0
	for {
		c := byte(val & 0x7F)
		val >>= 7
		if val != 0 {
			c |= 0x80
		}
		buf[n] = c
		n++
		if val == 0 {
			break
		}
	}
	b.writeBytes(buf[:n])
}

func (b *Buffer) ReadVarLong() (int64, error) {
	start := b.r
	var result uint64
	for numRead := 0; ; numRead++ {
		if numRead == 10 {
			b.r = start
			return 0, ErrVarLongTooLong
		}
		c, err := b.ReadByte()
		if err != nil {
			b.r = start
			return 0, err
		}
		result |= uint64(c&0x7F) << (7 * numRead)
		if c&0x80 == 0 {
			return int64(result), nil
		}
	}
}

// WriteZigZag32 maps value so that small negatives stay short, then writes it as a VarInt.
func (b *Buffer) WriteZigZag32(value int32) {
	b.WriteVarInt(int32(uint32(value<<1) ^ uint32(value>>31)))
}

func (b *Buffer) ReadZigZag32() (int32, error) {
	v, err := b.ReadVarInt()
	if err != nil {
		return 0, err
	}
	u := uint32(v)
	return int32(u>>1) ^ -int32(u&1), nil
}

func (b *Buffer) WriteZigZag64(value int64) {
	b.WriteVarLong(int64(uint64(value<<1) ^ uint64(value>>63)))
}

func (b *Buffer) ReadZigZag64() (int64, error) {
	v, err := b.ReadVarLong()
	if err != nil {
		return 0, err
	}
	u := uint64(v)
	return int64(u>>1) ^ -int64(u&1), nil
}

// WriteString writes a VarInt byte length followed by UTF-8 bytes.
func (b *Buffer) WriteString(s string) {
	b.WriteVarInt(int32(len(s)))
	b.writeBytes([]byte(s))
}

// ReadString reads a string of at most maxChars characters.
func (b *Buffer) ReadString(maxChars int) (string, error) {
	start := b.r
	length, err := b.ReadVarInt()
	if err != nil {
		return "", fmt.Errorf("read string length: %w", err)
	}
	if length < 0 || int(length) > maxChars*utf8.UTFMax {
		b.r = start
		return "", fmt.Errorf("string length %d: %w", length, ErrBadLength)
	}
	data, err := b.Next(int(length))
	if err != nil {
		b.r = start
		return "", fmt.Errorf("read string data: %w", err)
	}
	if !utf8.Valid(data) {
		return "", fmt.Errorf("string is not valid UTF-8: %w", ErrBadLength)
	}
	s := string(data)
	if n := utf8.RuneCountInString(s); n > maxChars {
		return "", fmt.Errorf("string has %d characters, max %d: %w", n, maxChars, ErrBadLength)
	}
	return s, nil
}

// WriteByteArray writes a VarInt length followed by the bytes.
func (b *Buffer) WriteByteArray(data []byte) {
	b.WriteVarInt(int32(len(data)))
	b.writeBytes(data)
}

// ReadByteArray reads a length-prefixed byte array of at most max bytes.
func (b *Buffer) ReadByteArray(max int) ([]byte, error) {
	start := b.r
	length, err := b.ReadVarInt()
	if err != nil {
		return nil, fmt.Errorf("read byte array length: %w", err)
	}
	if length < 0 || int(length) > max {
		b.r = start
		return nil, fmt.Errorf("byte array length %d: %w", length, ErrBadLength)
	}
	data, err := b.Next(int(length))
	if err != nil {
		b.r = start
		return nil, fmt.Errorf("read byte array data: %w", err)
	}
	return data, nil
}

// WriteRest appends raw bytes with no prefix; the reader consumes everything left.
func (b *Buffer) WriteRest(data []byte) { b.writeBytes(data) }

// ReadRest consumes all unread bytes.
func (b *Buffer) ReadRest() ([]byte, error) {
	return b.Next(b.Len())
}

func (b *Buffer) WriteUUID(id uuid.UUID) { b.writeBytes(id[:]) }

func (b *Buffer) ReadUUID() (uuid.UUID, error) {
	var id uuid.UUID
	if err := b.readBytes(id[:]); err != nil {
		return uuid.Nil, err
	}
	return id, nil
}
