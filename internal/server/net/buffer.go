package net

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// chunkSize is the allocation unit of a Buffer. Growth appends chunks
// instead of reallocating and copying the written bytes.
const chunkSize = 4096

var (
	// ErrShortBuffer is returned when a read needs more bytes than have been written.
	ErrShortBuffer = errors.New("read past end of buffer")
	// ErrBadLength is returned when a length or count prefix is negative or out of bounds.
	ErrBadLength = errors.New("length out of range")
	// ErrBadPosition is returned by SetReadPos for positions outside the readable window.
	ErrBadPosition = errors.New("read position out of range")
)

// Buffer is a growable byte buffer with sequential read and write cursors.
// The read cursor never passes the write cursor. A Buffer is not safe for
// concurrent use.
type Buffer struct {
	chunks [][]byte
	base   int // absolute offset of chunks[0]
	r, w   int // absolute read and write cursors
	order  binary.ByteOrder
}

// BufferOption configures a Buffer.
type BufferOption func(*Buffer)

// WithByteOrder sets the byte order used for fixed-width numbers.
func WithByteOrder(order binary.ByteOrder) BufferOption {
	return func(b *Buffer) {
		b.order = order
	}
}

// NewBuffer returns an empty big-endian Buffer.
func NewBuffer(opts ...BufferOption) *Buffer {
	b := &Buffer{order: binary.BigEndian}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// NewBufferFrom returns a Buffer holding a copy of p, ready to be read.
func NewBufferFrom(p []byte, opts ...BufferOption) *Buffer {
	b := NewBuffer(opts...)
	b.writeBytes(p)
	return b
}

// Len returns the number of unread bytes.
func (b *Buffer) Len() int { return b.w - b.r }

// ReadPos returns the absolute read cursor.
func (b *Buffer) ReadPos() int { return b.r }

// WritePos returns the absolute write cursor.
func (b *Buffer) WritePos() int { return b.w }

// SetReadPos moves the read cursor. The position must not precede
// recycled data nor pass the write cursor.
func (b *Buffer) SetReadPos(pos int) error {
	if pos < b.base || pos > b.w {
		return fmt.Errorf("%w: %d not in [%d, %d]", ErrBadPosition, pos, b.base, b.w)
	}
	b.r = pos
	return nil
}

// Reset discards all data and keeps the first chunk for reuse.
func (b *Buffer) Reset() {
	if len(b.chunks) > 1 {
		b.chunks = b.chunks[:1]
	}
	b.base, b.r, b.w = 0, 0, 0
}

// Recycle releases fully consumed leading chunks. Positions before the
// first retained chunk can no longer be rewound to.
func (b *Buffer) Recycle() {
	if b.r == b.w {
		b.Reset()
		return
	}
	drop := (b.r - b.base) / chunkSize
	if drop == 0 {
		return
	}
	for i := 0; i < drop; i++ {
		b.chunks[i] = nil
	}
	b.chunks = b.chunks[drop:]
	b.base += drop * chunkSize
}

func (b *Buffer) writeBytes(p []byte) {
	for len(p) > 0 {
		idx, off := (b.w-b.base)/chunkSize, (b.w-b.base)%chunkSize
		if idx == len(b.chunks) {
			b.chunks = append(b.chunks, make([]byte, chunkSize))
		}
		n := copy(b.chunks[idx][off:], p)
		b.w += n
		p = p[n:]
	}
}

// readBytes fills p entirely or fails without moving the cursor.
func (b *Buffer) readBytes(p []byte) error {
	if len(p) > b.Len() {
		return ErrShortBuffer
	}
	pos := b.r
	for n := 0; n < len(p); {
		idx, off := (pos-b.base)/chunkSize, (pos-b.base)%chunkSize
		c := copy(p[n:], b.chunks[idx][off:])
		n += c
		pos += c
	}
	b.r = pos
	return nil
}

// Write appends p. It never fails.
func (b *Buffer) Write(p []byte) (int, error) {
	b.writeBytes(p)
	return len(p), nil
}

// Read implements io.Reader over the unread bytes.
func (b *Buffer) Read(p []byte) (int, error) {
	if b.Len() == 0 {
		if len(p) == 0 {
			return 0, nil
		}
		return 0, io.EOF
	}
	n := min(len(p), b.Len())
	_ = b.readBytes(p[:n])
	return n, nil
}

// Next consumes and returns the next n bytes.
func (b *Buffer) Next(n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: %d", ErrBadLength, n)
	}
	p := make([]byte, n)
	if err := b.readBytes(p); err != nil {
		return nil, err
	}
	return p, nil
}

// Bytes returns a copy of the unread bytes without consuming them.
func (b *Buffer) Bytes() []byte {
	p := make([]byte, b.Len())
	pos := b.r
	_ = b.readBytes(p)
	b.r = pos
	return p
}

// WriteByte appends a single byte. The error is always nil.
func (b *Buffer) WriteByte(v byte) error {
	b.writeBytes([]byte{v})
	return nil
}

// ReadByte consumes a single byte.
func (b *Buffer) ReadByte() (byte, error) {
	var buf [1]byte
	if err := b.readBytes(buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}

func (b *Buffer) WriteBool(v bool) {
	if v {
		_ = b.WriteByte(1)
		return
	}
	_ = b.WriteByte(0)
}

func (b *Buffer) ReadBool() (bool, error) {
	v, err := b.ReadByte()
	return v != 0, err
}

func (b *Buffer) WriteInt8(v int8)   { _ = b.WriteByte(byte(v)) }
func (b *Buffer) WriteUint8(v uint8) { _ = b.WriteByte(v) }

func (b *Buffer) ReadInt8() (int8, error) {
	v, err := b.ReadByte()
	return int8(v), err
}

func (b *Buffer) ReadUint8() (uint8, error) { return b.ReadByte() }

func (b *Buffer) WriteUint16(v uint16) {
	var buf [2]byte
	b.order.PutUint16(buf[:], v)
	b.writeBytes(buf[:])
}

func (b *Buffer) WriteUint32(v uint32) {
	var buf [4]byte
	b.order.PutUint32(buf[:], v)
	b.writeBytes(buf[:])
}

func (b *Buffer) WriteUint64(v uint64) {
	var buf [8]byte
	b.order.PutUint64(buf[:], v)
	b.writeBytes(buf[:])
}

func (b *Buffer) WriteInt16(v int16)     { b.WriteUint16(uint16(v)) }
func (b *Buffer) WriteInt32(v int32)     { b.WriteUint32(uint32(v)) }
func (b *Buffer) WriteInt64(v int64)     { b.WriteUint64(uint64(v)) }
func (b *Buffer) WriteFloat32(v float32) { b.WriteUint32(math.Float32bits(v)) }
func (b *Buffer) WriteFloat64(v float64) { b.WriteUint64(math.Float64bits(v)) }

func (b *Buffer) ReadUint16() (uint16, error) {
	var buf [2]byte
	if err := b.readBytes(buf[:]); err != nil {
		return 0, err
	}
	return b.order.Uint16(buf[:]), nil
}

func (b *Buffer) ReadUint32() (uint32, error) {
	var buf [4]byte
	if err := b.readBytes(buf[:]); err != nil {
		return 0, err
	}
	return b.order.Uint32(buf[:]), nil
}

func (b *Buffer) ReadUint64() (uint64, error) {
	var buf [8]byte
	if err := b.readBytes(buf[:]); err != nil {
		return 0, err
	}
	return b.order.Uint64(buf[:]), nil
}

func (b *Buffer) ReadInt16() (int16, error) {
	v, err := b.ReadUint16()
	return int16(v), err
}

func (b *Buffer) ReadInt32() (int32, error) {
	v, err := b.ReadUint32()
	return int32(v), err
}

func (b *Buffer) ReadInt64() (int64, error) {
	v, err := b.ReadUint64()
	return int64(v), err
}

func (b *Buffer) ReadFloat32() (float32, error) {
	v, err := b.ReadUint32()
	return math.Float32frombits(v), err
}

func (b *Buffer) ReadFloat64() (float64, error) {
	v, err := b.ReadUint64()
	return math.Float64frombits(v), err
}
