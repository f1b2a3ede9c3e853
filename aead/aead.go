// Package aead seals and opens payloads with AES-256-GCM or
// ChaCha20-Poly1305.
//
// Both algorithms use a 32-byte key, a 12-byte nonce and a 16-byte tag that is
// appended to the ciphertext. Open fails closed: any failure to authenticate
// is reported as ErrAuthenticationFailed and no plaintext is returned.
package aead

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

// Algorithm identifies an AEAD construction.
type Algorithm uint8

const (
	// AESGCM is AES-256 in Galois/Counter Mode.
	AESGCM Algorithm = 0x01
	// ChaCha20Poly1305 is the RFC 8439 construction.
	ChaCha20Poly1305 Algorithm = 0x02
)

const (
	KeySize   = 32
	NonceSize = 12
	TagSize   = 16
)

var (
	ErrUnsupportedAlgorithm = errors.New("aead: unsupported algorithm")
	ErrInvalidKeySize       = errors.New("aead: invalid key size")
	ErrInvalidNonceSize     = errors.New("aead: invalid nonce size")
	ErrAuthenticationFailed = errors.New("aead: authentication failed")
)

func (a Algorithm) String() string {
	switch a {
	case AESGCM:
		return "aes-gcm"
	case ChaCha20Poly1305:
		return "chacha20-poly1305"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(a))
	}
}

// ParseAlgorithm maps a configuration name to an Algorithm.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch name {
	case "aes-gcm", "aes256-gcm":
		return AESGCM, nil
	case "chacha20-poly1305", "chacha20":
		return ChaCha20Poly1305, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, name)
	}
}

// Cipher is a keyed AEAD instance.
type Cipher struct {
	alg  Algorithm
	aead cipher.AEAD
}

// NewCipher creates a cipher for alg keyed with key.
func NewCipher(alg Algorithm, key []byte) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeySize
	}

	var (
		c   cipher.AEAD
		err error
	)
	switch alg {
	case AESGCM:
		var block cipher.Block
		block, err = aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("failed to create AES cipher: %w", err)
		}
		c, err = cipher.NewGCM(block)
		if err != nil {
			return nil, fmt.Errorf("failed to create GCM: %w", err)
		}
	case ChaCha20Poly1305:
		c, err = chacha20poly1305.New(key)
		if err != nil {
			return nil, fmt.Errorf("failed to create ChaCha20-Poly1305 cipher: %w", err)
		}
	default:
		return nil, ErrUnsupportedAlgorithm
	}
	return &Cipher{alg: alg, aead: c}, nil
}

func (c *Cipher) Algorithm() Algorithm { return c.alg }

// Seal returns ciphertext‖tag.
func (c *Cipher) Seal(nonce, plaintext, aad []byte) ([]byte, error) {
	if len(nonce) != NonceSize {
		return nil, ErrInvalidNonceSize
	}
	return c.aead.Seal(nil, nonce, plaintext, aad), nil
}

// Open authenticates and decrypts ciphertext‖tag.
func (c *Cipher) Open(nonce, sealed, aad []byte) ([]byte, error) {
	if len(nonce) != NonceSize || len(sealed) < TagSize {
		return nil, ErrAuthenticationFailed
	}
	plaintext, err := c.aead.Open(nil, nonce, sealed, aad)
	if err != nil {
		return nil, ErrAuthenticationFailed
	}
	return plaintext, nil
}

// Seal is a one-shot NewCipher + Seal.
func Seal(alg Algorithm, key, nonce, plaintext, aad []byte) ([]byte, error) {
	c, err := NewCipher(alg, key)
	if err != nil {
		return nil, err
	}
	return c.Seal(nonce, plaintext, aad)
}

// Open is a one-shot NewCipher + Open.
func Open(alg Algorithm, key, nonce, sealed, aad []byte) ([]byte, error) {
	c, err := NewCipher(alg, key)
	if err != nil {
		return nil, err
	}
	return c.Open(nonce, sealed, aad)
}

// RandomNonce reads a fresh nonce from r, or from crypto/rand when r is nil.
func RandomNonce(r io.Reader) ([]byte, error) {
	if r == nil {
		r = rand.Reader
	}
	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(r, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return nonce, nil
}
