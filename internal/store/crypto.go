package store

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const (
	nonceSize = 12
	tagSize   = 16
)

// ErrCorrupt is returned when a value has the shape of an encrypted envelope
// but fails authentication.
var ErrCorrupt = errors.New("store: encrypted value failed authentication")

// Codec transforms free-text columns on their way in and out of the database.
type Codec interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(stored string) (string, error)
}

// AESCodec seals values with AES-256-GCM. The stored form is
// hex(nonce):hex(tag):hex(ciphertext).
//
// Values that do not parse as that envelope are returned unchanged by
// Decrypt, so rows written before encryption was enabled stay readable.
type AESCodec struct {
	aead cipher.AEAD
}

func NewAESCodec(key []byte) (*AESCodec, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("store: encryption key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCMWithTagSize(block, tagSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create gcm: %w", err)
	}
	return &AESCodec{aead: aead}, nil
}

func (c *AESCodec) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nil, nonce, []byte(plaintext), nil)
	ciphertext, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]
	return hex.EncodeToString(nonce) + ":" + hex.EncodeToString(tag) + ":" + hex.EncodeToString(ciphertext), nil
}

func (c *AESCodec) Decrypt(stored string) (string, error) {
	nonce, tag, ciphertext, ok := splitEnvelope(stored)
	if !ok {
		return stored, nil
	}
	plain, err := c.aead.Open(nil, nonce, append(ciphertext, tag...), nil)
	if err != nil {
		return "", ErrCorrupt
	}
	return string(plain), nil
}

func splitEnvelope(stored string) (nonce, tag, ciphertext []byte, ok bool) {
	parts := strings.Split(stored, ":")
	if len(parts) != 3 {
		return nil, nil, nil, false
	}
	var err error
	if nonce, err = hex.DecodeString(parts[0]); err != nil || len(nonce) != nonceSize {
		return nil, nil, nil, false
	}
	if tag, err = hex.DecodeString(parts[1]); err != nil || len(tag) != tagSize {
		return nil, nil, nil, false
	}
	if ciphertext, err = hex.DecodeString(parts[2]); err != nil {
		return nil, nil, nil, false
	}
	return nonce, tag, ciphertext, true
}
