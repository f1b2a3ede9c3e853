package container

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"

	"github.com/fahmaliyi/csvault/aead"
	"github.com/fahmaliyi/csvault/kdf"
)

const (
	Magic   = "CSVT"
	Version = 0x01
)

type header struct {
	KDF     kdf.Params
	Cipher  aead.Algorithm
	SaltLen uint8
}

func encodeHeader(h header) ([]byte, error) {
	buf := &bytes.Buffer{}

	buf.WriteString(Magic)
	buf.WriteByte(Version)
	buf.WriteByte(byte(h.KDF.Algorithm))

	var fields []any
	switch h.KDF.Algorithm {
	case kdf.Argon2id:
		fields = []any{h.KDF.Time, h.KDF.MemoryKiB, h.KDF.Threads, h.KDF.KeyLen}
	case kdf.PBKDF2:
		fields = []any{h.KDF.Iterations, uint8(h.KDF.Hash), h.KDF.KeyLen}
	case kdf.Scrypt:
		fields = []any{h.KDF.N, h.KDF.R, h.KDF.P, h.KDF.KeyLen}
	default:
		return nil, kdf.ErrUnsupportedAlgorithm
	}
	for _, f := range fields {
		if err := binary.Write(buf, binary.BigEndian, f); err != nil {
			return nil, err
		}
	}

	buf.WriteByte(byte(h.Cipher))
	buf.WriteByte(h.SaltLen)

	return buf.Bytes(), nil
}

var errShortHeader = errors.New("container: short header")

// decodeHeader parses a versioned header and returns it with its encoded
// length. The caller has already matched Magic.
func decodeHeader(raw []byte) (header, int, error) {
	var h header
	r := bytes.NewReader(raw)

	magic := make([]byte, len(Magic))
	if _, err := io.ReadFull(r, magic); err != nil || string(magic) != Magic {
		return h, 0, errShortHeader
	}

	var version, alg uint8
	if err := readAll(r, &version, &alg); err != nil {
		return h, 0, err
	}
	if version != Version {
		return h, 0, errors.New("container: unsupported version")
	}

	h.KDF.Algorithm = kdf.Algorithm(alg)
	switch h.KDF.Algorithm {
	case kdf.Argon2id:
		if err := readAll(r, &h.KDF.Time, &h.KDF.MemoryKiB, &h.KDF.Threads, &h.KDF.KeyLen); err != nil {
			return h, 0, err
		}
	case kdf.PBKDF2:
		var hash uint8
		if err := readAll(r, &h.KDF.Iterations, &hash, &h.KDF.KeyLen); err != nil {
			return h, 0, err
		}
		h.KDF.Hash = kdf.Hash(hash)
	case kdf.Scrypt:
		if err := readAll(r, &h.KDF.N, &h.KDF.R, &h.KDF.P, &h.KDF.KeyLen); err != nil {
			return h, 0, err
		}
	default:
		return h, 0, kdf.ErrUnsupportedAlgorithm
	}

	var cipherID uint8
	if err := readAll(r, &cipherID, &h.SaltLen); err != nil {
		return h, 0, err
	}
	h.Cipher = aead.Algorithm(cipherID)

	return h, len(raw) - r.Len(), nil
}

func readAll(r io.Reader, dst ...any) error {
	for _, d := range dst {
		if err := binary.Read(r, binary.BigEndian, d); err != nil {
			return errShortHeader
		}
	}
	return nil
}
