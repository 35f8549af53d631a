package net

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
)

// cfb8Stream is AES in CFB mode with a one-byte segment. Each output byte
// costs one block encryption of the register; the register always takes in
// the ciphertext byte, whichever direction the stream runs.
type cfb8Stream struct {
	block   cipher.Block
	iv      []byte
	tmp     []byte
	encrypt bool
}

// NewCFB8Encrypter returns a cipher.Stream encrypting with 8-bit cipher feedback.
func NewCFB8Encrypter(block cipher.Block, iv []byte) cipher.Stream {
	return newCFB8(block, iv, true)
}

// NewCFB8Decrypter returns a cipher.Stream decrypting with 8-bit cipher feedback.
func NewCFB8Decrypter(block cipher.Block, iv []byte) cipher.Stream {
	return newCFB8(block, iv, false)
}

func newCFB8(block cipher.Block, iv []byte, encrypt bool) *cfb8Stream {
	s := &cfb8Stream{
		block:   block,
		iv:      make([]byte, block.BlockSize()),
		tmp:     make([]byte, block.BlockSize()),
		encrypt: encrypt,
	}
	copy(s.iv, iv)
	return s
}

func (s *cfb8Stream) XORKeyStream(dst, src []byte) {
	for i, b := range src {
		s.block.Encrypt(s.tmp, s.iv)
		out := b ^ s.tmp[0]

		// src and dst may alias, so take the ciphertext byte before writing.
		ct := b
		if s.encrypt {
			ct = out
		}
		dst[i] = out
		s.shiftIn(ct)
	}
}

// shiftIn drops the oldest register byte and appends b.
func (s *cfb8Stream) shiftIn(b byte) {
	copy(s.iv, s.iv[1:])
	s.iv[len(s.iv)-1] = b
}

// NewCipherPair builds the two directional AES/CFB8 streams for a shared
// secret. The secret is both key and IV; each direction keeps its own
// feedback register.
func NewCipherPair(secret []byte) (encrypt, decrypt cipher.Stream, err error) {
	encBlock, err := aes.NewCipher(secret)
	if err != nil {
		return nil, nil, fmt.Errorf("create AES cipher: %w", err)
	}
	decBlock, err := aes.NewCipher(secret)
	if err != nil {
		return nil, nil, fmt.Errorf("create AES cipher: %w", err)
	}
	return NewCFB8Encrypter(encBlock, secret), NewCFB8Decrypter(decBlock, secret), nil
}
