package kdf

import (
	"fmt"

	validation "github.com/jellydator/validation"
)

// Upper bounds applied to every parameter set, including ones read back from
// a container header. MaxMemoryBytes caps what a single derivation may
// allocate.
const (
	MaxMemoryBytes uint64 = 1 << 30

	MaxArgon2Time      uint32 = 64
	MaxArgon2MemoryKiB uint32 = uint32(MaxMemoryBytes / 1024)
	MaxArgon2Threads   uint8  = 64
	MaxIterations      uint32 = 10_000_000
	MaxScryptN         uint32 = 1 << 22
	MaxScryptR         uint32 = 1 << 10
	MaxScryptP         uint32 = 16
	MaxKeyLen          uint32 = 1024
)

var powerOfTwo = validation.By(func(value interface{}) error {
	n, ok := value.(uint32)
	if !ok {
		return validation.NewError("validation_kdf_type", "must be an uint32")
	}
	if n < 2 || n&(n-1) != 0 {
		return validation.NewError("validation_kdf_power_of_two", "must be a power of two greater than 1")
	}
	return nil
})

// Validate checks the parameters of the selected family. Every failure wraps
// ErrInvalidParams.
func (p Params) Validate() error {
	var err error
	switch p.Algorithm {
	case Argon2id:
		err = validation.ValidateStruct(&p,
			validation.Field(&p.Time, validation.Required, validation.Max(MaxArgon2Time)),
			validation.Field(&p.MemoryKiB, validation.Required, validation.Max(MaxArgon2MemoryKiB)),
			validation.Field(&p.Threads, validation.Required, validation.Max(MaxArgon2Threads)),
			validation.Field(&p.KeyLen, validation.Required, validation.Max(MaxKeyLen)),
		)
	case PBKDF2:
		err = validation.ValidateStruct(&p,
			validation.Field(&p.Iterations, validation.Required, validation.Max(MaxIterations)),
			validation.Field(&p.Hash, validation.Required, validation.In(SHA512, SHA256)),
			validation.Field(&p.KeyLen, validation.Required, validation.Max(MaxKeyLen)),
		)
	case Scrypt:
		err = validation.ValidateStruct(&p,
			validation.Field(&p.N, validation.Required, validation.Max(MaxScryptN), powerOfTwo),
			validation.Field(&p.R, validation.Required, validation.Max(MaxScryptR)),
			validation.Field(&p.P, validation.Required, validation.Max(MaxScryptP)),
			validation.Field(&p.KeyLen, validation.Required, validation.Max(MaxKeyLen)),
		)
	default:
		return ErrUnsupportedAlgorithm
	}
	if err == nil && p.MemoryBytes() > MaxMemoryBytes {
		err = fmt.Errorf("memory cost of %d bytes exceeds %d", p.MemoryBytes(), MaxMemoryBytes)
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidParams, p.Algorithm, err)
	}
	return nil
}

// MemoryBytes estimates the memory a derivation with p allocates.
func (p Params) MemoryBytes() uint64 {
	switch p.Algorithm {
	case Argon2id:
		return uint64(p.MemoryKiB) * 1024
	case Scrypt:
		// V holds N blocks of 128·r bytes, B holds p of them.
		return 128 * uint64(p.R) * (uint64(p.N) + uint64(p.P))
	default:
		return 0
	}
}
