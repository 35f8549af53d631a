package net

import (
	"crypto/cipher"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

// ErrEncryptionActive is returned when encryption is enabled a second time.
var ErrEncryptionActive = errors.New("encryption already enabled")

type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

// Stream reads and writes framed packets over a byte stream. Reads must
// come from a single goroutine; writes may come from any goroutine.
type Stream struct {
	rw      io.ReadWriter
	framer  *Framer
	in      *Buffer
	scratch []byte

	// ReadTimeout, when positive, is applied before each socket read if the
	// underlying stream supports read deadlines.
	ReadTimeout time.Duration

	wmu     sync.Mutex
	encrypt cipher.Stream
	decrypt cipher.Stream
}

// NewStream wraps rw with compression and encryption disabled.
func NewStream(rw io.ReadWriter) *Stream {
	return &Stream{
		rw:      rw,
		framer:  NewFramer(),
		in:      NewBuffer(),
		scratch: make([]byte, chunkSize),
	}
}

// ReadPacket blocks until one complete packet has been framed off the wire.
func (s *Stream) ReadPacket() (RawPacket, error) {
	for {
		p, err := s.framer.Decode(s.in)
		if err != nil {
			return RawPacket{}, err
		}
		if !p.Incomplete() {
			s.in.Recycle()
			return p, nil
		}
		if err := s.fill(); err != nil {
			return RawPacket{}, err
		}
	}
}

// fill reads whatever the socket has and decrypts it as it arrives. The
// cipher is a byte stream, so decrypting on arrival equals decrypting
// each complete frame.
func (s *Stream) fill() error {
	if d, ok := s.rw.(readDeadliner); ok && s.ReadTimeout > 0 {
		if err := d.SetReadDeadline(time.Now().Add(s.ReadTimeout)); err != nil {
			return fmt.Errorf("set read deadline: %w", err)
		}
	}
	n, err := s.rw.Read(s.scratch)
	if n > 0 {
		data := s.scratch[:n]
		if s.decrypt != nil {
			s.decrypt.XORKeyStream(data, data)
		}
		s.in.WriteRest(data)
	}
	if err != nil {
		return err
	}
	return nil
}

// WritePacket frames, optionally encrypts, and writes one packet.
func (s *Stream) WritePacket(id int32, payload []byte) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	frame, err := s.framer.Encode(id, payload)
	if err != nil {
		return err
	}
	if s.encrypt != nil {
		s.encrypt.XORKeyStream(frame, frame)
	}
	if _, err := s.rw.Write(frame); err != nil {
		return fmt.Errorf("write packet 0x%02X: %w", id, err)
	}
	return nil
}

// Send marshals and writes a typed packet.
func (s *Stream) Send(p Packet) error {
	data, err := MarshalBytes(p)
	if err != nil {
		return fmt.Errorf("marshal packet 0x%02X: %w", p.PacketID(), err)
	}
	return s.WritePacket(p.PacketID(), data)
}

// EnableCompression applies threshold to both directions. Frames already
// buffered but not yet decoded are read in the new format.
func (s *Stream) EnableCompression(threshold int) {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	s.framer.EnableCompression(threshold)
}

// Compressed reports whether the compressed frame format is in use.
func (s *Stream) Compressed() bool {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return s.framer.Compressed()
}

// EnableEncryption derives both cipher directions from secret. It may be
// called once; later calls fail with ErrEncryptionActive.
func (s *Stream) EnableEncryption(secret []byte) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if s.encrypt != nil {
		return ErrEncryptionActive
	}
	enc, dec, err := NewCipherPair(secret)
	if err != nil {
		return err
	}
	s.encrypt, s.decrypt = enc, dec
	if s.in.Len() > 0 {
		// Bytes that arrived after the last plaintext frame are ciphertext.
		pending := s.in.Bytes()
		s.in.Reset()
		dec.XORKeyStream(pending, pending)
		s.in.WriteRest(pending)
	}
	return nil
}

// Encrypted reports whether the cipher is active.
func (s *Stream) Encrypted() bool {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return s.encrypt != nil
}
