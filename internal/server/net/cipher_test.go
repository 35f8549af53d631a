package net

import (
	"bytes"
	"crypto/aes"
	"crypto/rand"
	"testing"
)

func TestCFB8RoundTrip(t *testing.T) {
	key := make([]byte, 16)
	if _, err := rand.Read(key); err != nil {
		t.Fatal(err)
	}
	iv := make([]byte, 16)
	copy(iv, key) // the protocol uses key=IV

	plaintext := []byte("Hello, encryption test! This sentence spans several AES blocks of feedback.")

	blockEnc, _ := aes.NewCipher(key)
	enc := NewCFB8Encrypter(blockEnc, iv)
	ciphertext := make([]byte, len(plaintext))
	enc.XORKeyStream(ciphertext, plaintext)

	if bytes.Equal(ciphertext, plaintext) {
		t.Error("ciphertext equals plaintext")
	}

	blockDec, _ := aes.NewCipher(key)
	dec := NewCFB8Decrypter(blockDec, iv)
	recovered := make([]byte, len(ciphertext))
	dec.XORKeyStream(recovered, ciphertext)

	if !bytes.Equal(recovered, plaintext) {
		t.Errorf("decrypted text does not match plaintext\ngot:  %x\nwant: %x", recovered, plaintext)
	}
}

func TestCFB8ByteAtATime(t *testing.T) {
	key := make([]byte, 16)
	if _, err := rand.Read(key); err != nil {
		t.Fatal(err)
	}

	plaintext := []byte("byte-at-a-time test")

	blockEnc, _ := aes.NewCipher(key)
	enc := NewCFB8Encrypter(blockEnc, key)
	cipherAll := make([]byte, len(plaintext))
	enc.XORKeyStream(cipherAll, plaintext)

	blockEnc2, _ := aes.NewCipher(key)
	enc2 := NewCFB8Encrypter(blockEnc2, key)
	cipherByByte := make([]byte, len(plaintext))
	for i := range plaintext {
		enc2.XORKeyStream(cipherByByte[i:i+1], plaintext[i:i+1])
	}

	if !bytes.Equal(cipherAll, cipherByByte) {
		t.Errorf("byte-at-a-time encryption differs from batch\nbatch:  %x\nbyte:   %x", cipherAll, cipherByByte)
	}
}

func TestCFB8InPlaceDecrypt(t *testing.T) {
	key := bytes.Repeat([]byte{0x42}, 16)
	plaintext := bytes.Repeat([]byte("frame"), 20)

	enc, dec, err := NewCipherPair(key)
	if err != nil {
		t.Fatal(err)
	}
	data := make([]byte, len(plaintext))
	enc.XORKeyStream(data, plaintext)
	dec.XORKeyStream(data, data)

	if !bytes.Equal(data, plaintext) {
		t.Errorf("in-place decrypt = %x, want %x", data, plaintext)
	}
}

func TestCipherPairRejectsBadKey(t *testing.T) {
	if _, _, err := NewCipherPair([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected error for 3-byte key")
	}
}
