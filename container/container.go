// Package container seals a payload into a base64 envelope keyed by a
// passphrase.
//
// The binary envelope is nonce ‖ salt ‖ ciphertext‖tag. FormatV1 prefixes it
// with a header naming the KDF, its parameters and the cipher; the header is
// authenticated as associated data. FormatLegacy omits the header, so the
// reader must be told which KDF and cipher were used.
package container

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"unicode"

	"github.com/fahmaliyi/csvault/aead"
	"github.com/fahmaliyi/csvault/kdf"
)

// Format selects the envelope layout written by Encode.
type Format uint8

const (
	FormatLegacy Format = 0x00
	FormatV1     Format = 0x01
)

func (f Format) String() string {
	switch f {
	case FormatLegacy:
		return "legacy"
	case FormatV1:
		return "v1"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(f))
	}
}

// ParseFormat maps a configuration name to a Format.
func ParseFormat(name string) (Format, error) {
	switch name {
	case "v1", "":
		return FormatV1, nil
	case "legacy":
		return FormatLegacy, nil
	default:
		return 0, fmt.Errorf("container: unknown format %q", name)
	}
}

var (
	// ErrAuthenticationFailed covers a wrong passphrase as well as a tampered
	// or corrupted ciphertext. The two are deliberately indistinguishable.
	ErrAuthenticationFailed = aead.ErrAuthenticationFailed

	// ErrMalformed reports a blob that is structurally invalid.
	ErrMalformed = errors.New("container: malformed")
)

// Codec encodes and decodes envelopes. KDF and Cipher are used for writing
// and, when AllowLegacy is set, for reading headerless blobs.
type Codec struct {
	KDF         kdf.Params
	Cipher      aead.Algorithm
	Format      Format
	AllowLegacy bool

	// Rand supplies salts and nonces; crypto/rand when nil.
	Rand io.Reader
}

// New returns a codec writing FormatV1 with Argon2id and AES-256-GCM.
func New() *Codec {
	return &Codec{
		KDF:    kdf.DefaultArgon2id(),
		Cipher: aead.AESGCM,
		Format: FormatV1,
	}
}

func (c *Codec) rand() io.Reader {
	if c.Rand != nil {
		return c.Rand
	}
	return rand.Reader
}

// Encode seals plaintext and returns the base64 text envelope. The
// passphrase is wiped before Encode returns.
func (c *Codec) Encode(plaintext, passphrase []byte) ([]byte, error) {
	defer kdf.Zero(passphrase)

	if err := c.KDF.Validate(); err != nil {
		return nil, err
	}
	if c.KDF.KeyLen != aead.KeySize {
		return nil, fmt.Errorf("%w: key length %d, cipher needs %d", kdf.ErrInvalidParams, c.KDF.KeyLen, aead.KeySize)
	}

	salt := make([]byte, c.KDF.SaltLen())
	if _, err := io.ReadFull(c.rand(), salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	nonce, err := aead.RandomNonce(c.rand())
	if err != nil {
		return nil, err
	}

	var hdr []byte
	switch c.Format {
	case FormatV1:
		hdr, err = encodeHeader(header{KDF: c.KDF, Cipher: c.Cipher, SaltLen: uint8(len(salt))})
		if err != nil {
			return nil, err
		}
	case FormatLegacy:
	default:
		return nil, fmt.Errorf("container: unknown format %d", c.Format)
	}

	var sealed []byte
	err = kdf.WithKey(passphrase, salt, c.KDF, func(key []byte) error {
		var sealErr error
		sealed, sealErr = aead.Seal(c.Cipher, key, nonce, plaintext, hdr)
		return sealErr
	})
	if err != nil {
		return nil, err
	}

	blob := make([]byte, 0, len(hdr)+len(nonce)+len(salt)+len(sealed))
	blob = append(blob, hdr...)
	blob = append(blob, nonce...)
	blob = append(blob, salt...)
	blob = append(blob, sealed...)

	out := make([]byte, base64.StdEncoding.EncodedLen(len(blob)))
	base64.StdEncoding.Encode(out, blob)
	return out, nil
}

// Decode opens a text envelope. It returns only ErrMalformed or
// ErrAuthenticationFailed on failure. The passphrase is wiped before Decode
// returns.
func (c *Codec) Decode(text, passphrase []byte) ([]byte, error) {
	defer kdf.Zero(passphrase)

	env, err := c.split(text)
	if err != nil {
		return nil, err
	}

	var plaintext []byte
	err = kdf.WithKey(passphrase, env.salt, env.kdf, func(key []byte) error {
		var openErr error
		plaintext, openErr = aead.Open(env.cipher, key, env.nonce, env.sealed, env.aad)
		return openErr
	})
	switch {
	case err == nil:
		return plaintext, nil
	case errors.Is(err, aead.ErrAuthenticationFailed):
		return nil, ErrAuthenticationFailed
	default:
		return nil, ErrMalformed
	}
}

// Info describes an envelope without opening it.
type Info struct {
	Format Format
	// KDF and Cipher are only known for self-describing formats.
	KDF    kdf.Params
	Cipher aead.Algorithm
	Nonce  []byte
	Salt   []byte
	// SealedLen is the length of ciphertext‖tag.
	SealedLen int
}

// Inspect reports the structure of a text envelope. Headerless blobs are
// reported as FormatLegacy using the codec's configured KDF for the salt
// length.
func (c *Codec) Inspect(text []byte) (Info, error) {
	env, err := c.splitWith(text, true)
	if err != nil {
		return Info{}, err
	}
	info := Info{
		Format:    env.format,
		Nonce:     env.nonce,
		Salt:      env.salt,
		SealedLen: len(env.sealed),
	}
	if env.format == FormatV1 {
		info.KDF = env.kdf
		info.Cipher = env.cipher
	}
	return info, nil
}

type envelope struct {
	format Format
	kdf    kdf.Params
	cipher aead.Algorithm
	aad    []byte
	nonce  []byte
	salt   []byte
	sealed []byte
}

func (c *Codec) split(text []byte) (envelope, error) {
	return c.splitWith(text, c.AllowLegacy)
}

func (c *Codec) splitWith(text []byte, allowLegacy bool) (envelope, error) {
	var env envelope

	clean := bytes.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, text)
	blob := make([]byte, base64.StdEncoding.DecodedLen(len(clean)))
	n, err := base64.StdEncoding.Decode(blob, clean)
	if err != nil {
		return env, ErrMalformed
	}
	blob = blob[:n]

	saltLen := c.KDF.SaltLen()
	if h, hdrLen, ok := parseHeader(blob); ok {
		env.format = FormatV1
		env.kdf = h.KDF
		env.cipher = h.Cipher
		env.aad = blob[:hdrLen]
		saltLen = int(h.SaltLen)
		blob = blob[hdrLen:]
	} else {
		// A legacy nonce may start with Magic by chance.
		if !allowLegacy {
			return env, ErrMalformed
		}
		env.format = FormatLegacy
		env.kdf = c.KDF
		env.cipher = c.Cipher
	}

	if saltLen == 0 || len(blob) < aead.NonceSize+saltLen {
		return env, ErrMalformed
	}
	env.nonce = blob[:aead.NonceSize]
	env.salt = blob[aead.NonceSize : aead.NonceSize+saltLen]
	env.sealed = blob[aead.NonceSize+saltLen:]
	return env, nil
}

// parseHeader reports whether blob starts with a well-formed V1 header whose
// KDF parameters are within bounds. Params come from the file, so they are
// validated before any derivation is attempted.
func parseHeader(blob []byte) (header, int, bool) {
	if !bytes.HasPrefix(blob, []byte(Magic)) {
		return header{}, 0, false
	}
	h, n, err := decodeHeader(blob)
	if err != nil || h.KDF.Validate() != nil {
		return header{}, 0, false
	}
	return h, n, true
}
