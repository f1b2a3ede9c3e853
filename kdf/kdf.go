// Package kdf derives fixed-length symmetric keys from passphrases using
// Argon2id, PBKDF2 or scrypt.
package kdf

import (
	"crypto/sha256"
	"crypto/sha512"
	"errors"
	"fmt"
	"hash"
	"runtime"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/crypto/scrypt"
)

// Algorithm identifies a key derivation family.
type Algorithm uint8

const (
	Argon2id Algorithm = 0x01
	PBKDF2   Algorithm = 0x02
	Scrypt   Algorithm = 0x03
)

// Hash selects the HMAC hash used by PBKDF2.
type Hash uint8

const (
	SHA512 Hash = 0x01
	SHA256 Hash = 0x02
)

const (
	KeyLen  = 32
	SaltLen = 16
)

var (
	ErrInvalidParams        = errors.New("kdf: invalid parameters")
	ErrUnsupportedAlgorithm = errors.New("kdf: unsupported algorithm")
)

// Params is a closed tagged variant: Algorithm selects which of the
// family-specific fields are meaningful.
type Params struct {
	Algorithm Algorithm
	KeyLen    uint32

	// Argon2id
	Time      uint32
	MemoryKiB uint32
	Threads   uint8

	// PBKDF2
	Iterations uint32
	Hash       Hash

	// scrypt
	N uint32
	R uint32
	P uint32
}

func DefaultArgon2id() Params {
	return Params{Algorithm: Argon2id, Time: 3, MemoryKiB: 64 * 1024, Threads: 4, KeyLen: KeyLen}
}

func DefaultPBKDF2() Params {
	return Params{Algorithm: PBKDF2, Iterations: 210000, Hash: SHA512, KeyLen: KeyLen}
}

func DefaultScrypt() Params {
	return Params{Algorithm: Scrypt, N: 1 << 17, R: 8, P: 1, KeyLen: KeyLen}
}

// SaltLen returns the salt length generated for this family.
func (p Params) SaltLen() int {
	return SaltLen
}

func (a Algorithm) String() string {
	switch a {
	case Argon2id:
		return "argon2id"
	case PBKDF2:
		return "pbkdf2"
	case Scrypt:
		return "scrypt"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(a))
	}
}

func (h Hash) String() string {
	switch h {
	case SHA512:
		return "sha512"
	case SHA256:
		return "sha256"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(h))
	}
}

// ParseAlgorithm maps a configuration name to an Algorithm.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch name {
	case "argon2id", "argon2":
		return Argon2id, nil
	case "pbkdf2":
		return PBKDF2, nil
	case "scrypt":
		return Scrypt, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, name)
	}
}

// ParseHash maps a configuration name to a PBKDF2 Hash.
func ParseHash(name string) (Hash, error) {
	switch name {
	case "sha512", "sha-512":
		return SHA512, nil
	case "sha256", "sha-256":
		return SHA256, nil
	default:
		return 0, fmt.Errorf("%w: hash %q", ErrInvalidParams, name)
	}
}

// Default returns the default parameters for the given family.
func Default(a Algorithm) (Params, error) {
	switch a {
	case Argon2id:
		return DefaultArgon2id(), nil
	case PBKDF2:
		return DefaultPBKDF2(), nil
	case Scrypt:
		return DefaultScrypt(), nil
	default:
		return Params{}, ErrUnsupportedAlgorithm
	}
}

// Derive stretches passphrase into a key of p.KeyLen bytes. The passphrase is
// zeroed before Derive returns, whether or not derivation succeeded.
func Derive(passphrase, salt []byte, p Params) ([]byte, error) {
	defer Zero(passphrase)

	if err := p.Validate(); err != nil {
		return nil, err
	}
	if len(salt) == 0 {
		return nil, fmt.Errorf("%w: empty salt", ErrInvalidParams)
	}

	switch p.Algorithm {
	case Argon2id:
		return argon2.IDKey(passphrase, salt, p.Time, p.MemoryKiB, p.Threads, p.KeyLen), nil
	case PBKDF2:
		return pbkdf2.Key(passphrase, salt, int(p.Iterations), int(p.KeyLen), p.Hash.newFunc()), nil
	case Scrypt:
		key, err := scrypt.Key(passphrase, salt, int(p.N), int(p.R), int(p.P), int(p.KeyLen))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidParams, err)
		}
		return key, nil
	default:
		return nil, ErrUnsupportedAlgorithm
	}
}

// WithKey derives a key, hands it to fn and wipes it on every exit path.
func WithKey(passphrase, salt []byte, p Params, fn func(key []byte) error) error {
	key, err := Derive(passphrase, salt, p)
	if err != nil {
		return err
	}
	defer Zero(key)
	return fn(key)
}

// Zero overwrites b with zeros.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
	runtime.KeepAlive(b)
}

func (h Hash) newFunc() func() hash.Hash {
	if h == SHA256 {
		return sha256.New
	}
	return sha512.New
}
