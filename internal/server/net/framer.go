package net

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
)

const (
	// MaxFrameLength bounds the declared length of a single frame.
	MaxFrameLength = 1<<21 - 1
	// MaxUncompressedLength bounds the inflated size of a compressed frame.
	MaxUncompressedLength = 1 << 23
)

var (
	ErrBadFrameLength = errors.New("bad frame length")
	ErrFrameTooLarge  = errors.New("frame too large")
	ErrBadCompression = errors.New("badly compressed frame")
)

// Framer converts packets to and from length-prefixed wire frames,
// optionally zlib-compressing bodies once compression is enabled.
// Encryption is applied by the caller over whole encoded frames.
type Framer struct {
	threshold int
}

// NewFramer returns a Framer with compression disabled.
func NewFramer() *Framer {
	return &Framer{threshold: -1}
}

// EnableCompression switches to the compressed frame format. Payloads of
// threshold bytes or more are deflated. A negative threshold disables
// compression again.
func (f *Framer) EnableCompression(threshold int) {
	f.threshold = threshold
}

// Threshold returns the compression threshold, or -1 when disabled.
func (f *Framer) Threshold() int { return f.threshold }

// Compressed reports whether the compressed frame format is in use.
func (f *Framer) Compressed() bool { return f.threshold >= 0 }

// Encode builds the wire frame for one packet.
func (f *Framer) Encode(id int32, payload []byte) ([]byte, error) {
	bodyLen := VarIntSize(id) + len(payload)
	out := NewBuffer()

	if !f.Compressed() {
		if bodyLen > MaxFrameLength {
			return nil, fmt.Errorf("encode packet 0x%02X: %d bytes: %w", id, bodyLen, ErrFrameTooLarge)
		}
		out.WriteVarInt(int32(bodyLen))
		out.WriteVarInt(id)
		out.WriteRest(payload)
		return out.Bytes(), nil
	}

	if len(payload) < f.threshold {
		frameLen := VarIntSize(0) + bodyLen
		if frameLen > MaxFrameLength {
			return nil, fmt.Errorf("encode packet 0x%02X: %d bytes: %w", id, frameLen, ErrFrameTooLarge)
		}
		out.WriteVarInt(int32(frameLen))
		out.WriteVarInt(0)
		out.WriteVarInt(id)
		out.WriteRest(payload)
		return out.Bytes(), nil
	}

	if bodyLen > MaxUncompressedLength {
		return nil, fmt.Errorf("encode packet 0x%02X: %d bytes uncompressed: %w", id, bodyLen, ErrFrameTooLarge)
	}
	var z bytes.Buffer
	zw := zlib.NewWriter(&z)
	var idBuf [5]byte
	if _, err := zw.Write(idBuf[:PutVarInt(idBuf[:], id)]); err != nil {
		return nil, fmt.Errorf("compress packet 0x%02X: %w", id, err)
	}
	if _, err := zw.Write(payload); err != nil {
		return nil, fmt.Errorf("compress packet 0x%02X: %w", id, err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("compress packet 0x%02X: %w", id, err)
	}

	frameLen := VarIntSize(int32(bodyLen)) + z.Len()
	if frameLen > MaxFrameLength {
		return nil, fmt.Errorf("encode packet 0x%02X: %d bytes compressed: %w", id, frameLen, ErrFrameTooLarge)
	}
	out.WriteVarInt(int32(frameLen))
	out.WriteVarInt(int32(bodyLen))
	out.WriteRest(z.Bytes())
	return out.Bytes(), nil
}

// Decode takes one complete frame off in. When the frame has not fully
// arrived it returns a packet with IncompleteID and leaves in untouched,
// so a later call sees the same bytes plus whatever arrived since.
func (f *Framer) Decode(in *Buffer) (RawPacket, error) {
	incomplete := RawPacket{ID: IncompleteID}
	start := in.ReadPos()

	length, err := in.ReadVarInt()
	if errors.Is(err, ErrShortBuffer) {
		return incomplete, nil
	}
	if err != nil {
		return RawPacket{}, fmt.Errorf("read frame length: %w", err)
	}
	if length <= 0 || length > MaxFrameLength {
		return RawPacket{}, fmt.Errorf("%w: %d", ErrBadFrameLength, length)
	}
	if in.Len() < int(length) {
		if err := in.SetReadPos(start); err != nil {
			return RawPacket{}, err
		}
		return incomplete, nil
	}

	frame, err := in.Next(int(length))
	if err != nil {
		return RawPacket{}, err
	}
	body := NewBufferFrom(frame)

	if f.Compressed() {
		if body, err = f.inflate(body); err != nil {
			return RawPacket{}, err
		}
	}

	id, err := body.ReadVarInt()
	if err != nil {
		return RawPacket{}, fmt.Errorf("read packet ID: %w", err)
	}
	return RawPacket{ID: id, Payload: body.Bytes()}, nil
}

func (f *Framer) inflate(body *Buffer) (*Buffer, error) {
	dataLen, err := body.ReadVarInt()
	if err != nil {
		return nil, fmt.Errorf("read data length: %w", err)
	}
	if dataLen == 0 {
		return body, nil
	}
	if dataLen < 0 || int(dataLen) < f.threshold || dataLen > MaxUncompressedLength {
		return nil, fmt.Errorf("%w: data length %d, threshold %d", ErrBadCompression, dataLen, f.threshold)
	}

	zr, err := zlib.NewReader(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadCompression, err)
	}
	defer zr.Close()

	data := make([]byte, dataLen)
	if _, err := io.ReadFull(zr, data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadCompression, err)
	}
	var extra [1]byte
	if n, _ := zr.Read(extra[:]); n != 0 {
		return nil, fmt.Errorf("%w: inflated past declared length %d", ErrBadCompression, dataLen)
	}
	return NewBufferFrom(data), nil
}
