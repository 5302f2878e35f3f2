package codec

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

// KeySize is the required size for the sealing key (32 bytes for AES-256).
const KeySize = 32

var (
	ErrInvalidKeySize = errors.New("invalid key size: must be 32 bytes for AES-256")
)

// Codec is the payload codec contract shared with the session package.
type Codec interface {
	Encode(data map[string]any) ([]byte, error)
	Decode(b []byte) (map[string]any, error)
}

// Sealed wraps another codec and encrypts its output with AES-256-GCM.
// The stored blob is nonce || ciphertext.
type Sealed struct {
	inner Codec
	aead  cipher.AEAD
}

// NewSealed returns a codec sealing inner's output under key.
func NewSealed(inner Codec, key []byte) (*Sealed, error) {
	if inner == nil {
		inner = CBOR{}
	}
	if len(key) != KeySize {
		return nil, ErrInvalidKeySize
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &Sealed{inner: inner, aead: aead}, nil
}

// ParseKey decodes a hex-encoded sealing key.
func ParseKey(s string) ([]byte, error) {
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("failed to decode key: %w", err)
	}
	if len(key) != KeySize {
		return nil, ErrInvalidKeySize
	}
	return key, nil
}

// Encode encodes data with the inner codec and seals the result.
func (s *Sealed) Encode(data map[string]any) ([]byte, error) {
	plain, err := s.inner.Encode(data)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(plain)+s.aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("%w: failed to generate nonce: %w", ErrEncode, err)
	}
	return s.aead.Seal(nonce, nonce, plain, nil), nil
}

// Decode opens a sealed blob and decodes it with the inner codec. A wrong key
// or tampered blob is reported as ErrDecode.
func (s *Sealed) Decode(b []byte) (map[string]any, error) {
	n := s.aead.NonceSize()
	if len(b) < n+s.aead.Overhead() {
		return nil, fmt.Errorf("%w: sealed payload too short", ErrDecode)
	}

	plain, err := s.aead.Open(nil, b[:n], b[n:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decrypt: %w", ErrDecode, err)
	}
	return s.inner.Decode(plain)
}
