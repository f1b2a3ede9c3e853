// Package config loads csvault settings from environment variables, reading
// a .env file from the working directory or any of its parents first.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/allisson/go-env"
	"github.com/joho/godotenv"

	"github.com/fahmaliyi/csvault/aead"
	"github.com/fahmaliyi/csvault/container"
	"github.com/fahmaliyi/csvault/csvcodec"
	"github.com/fahmaliyi/csvault/kdf"
)

type Config struct {
	// VaultFile is the default vault path; empty means ~/.csvault/vault.csv.
	VaultFile string

	KDF               string
	Argon2Time        int
	Argon2MemoryKiB   int
	Argon2Threads     int
	PBKDF2Iterations  int
	PBKDF2Hash        string
	ScryptN           int
	ScryptR           int
	ScryptP           int
	Cipher            string
	Format            string
	AllowLegacyDecode bool

	CSVDelimiter string
	CSVNullValue string
	CSVStrict    bool

	LogLevel string

	MetricsEnabled   bool
	MetricsNamespace string
}

// Load reads the configuration from the environment.
func Load() *Config {
	loadDotEnv()

	return &Config{
		VaultFile: env.GetString("VAULT_FILE", ""),

		KDF:               env.GetString("VAULT_KDF", "argon2id"),
		Argon2Time:        env.GetInt("VAULT_ARGON2_TIME", 3),
		Argon2MemoryKiB:   env.GetInt("VAULT_ARGON2_MEMORY_KIB", 64*1024),
		Argon2Threads:     env.GetInt("VAULT_ARGON2_THREADS", 4),
		PBKDF2Iterations:  env.GetInt("VAULT_PBKDF2_ITERATIONS", 210000),
		PBKDF2Hash:        env.GetString("VAULT_PBKDF2_HASH", "sha512"),
		ScryptN:           env.GetInt("VAULT_SCRYPT_N", 1<<17),
		ScryptR:           env.GetInt("VAULT_SCRYPT_R", 8),
		ScryptP:           env.GetInt("VAULT_SCRYPT_P", 1),
		Cipher:            env.GetString("VAULT_CIPHER", "aes-gcm"),
		Format:            env.GetString("VAULT_FORMAT", "v1"),
		AllowLegacyDecode: env.GetBool("VAULT_LEGACY_DECODE", false),

		CSVDelimiter: env.GetString("CSV_DELIMITER", ","),
		CSVNullValue: env.GetString("CSV_NULL_VALUE", ""),
		CSVStrict:    env.GetBool("CSV_STRICT", true),

		LogLevel: env.GetString("LOG_LEVEL", "info"),

		MetricsEnabled:   env.GetBool("METRICS_ENABLED", false),
		MetricsNamespace: env.GetString("METRICS_NAMESPACE", "csvault"),
	}
}

// KDFParams builds validated key derivation parameters for the configured
// family. Settings of the other families are ignored.
func (c *Config) KDFParams() (kdf.Params, error) {
	alg, err := kdf.ParseAlgorithm(strings.ToLower(c.KDF))
	if err != nil {
		return kdf.Params{}, err
	}

	p := kdf.Params{Algorithm: alg, KeyLen: kdf.KeyLen}
	switch alg {
	case kdf.Argon2id:
		if c.Argon2Threads < 0 || c.Argon2Threads > math.MaxUint8 {
			return kdf.Params{}, fmt.Errorf("%w: argon2 threads %d", kdf.ErrInvalidParams, c.Argon2Threads)
		}
		if p.Time, err = toUint32("VAULT_ARGON2_TIME", c.Argon2Time); err != nil {
			return kdf.Params{}, err
		}
		if p.MemoryKiB, err = toUint32("VAULT_ARGON2_MEMORY_KIB", c.Argon2MemoryKiB); err != nil {
			return kdf.Params{}, err
		}
		p.Threads = uint8(c.Argon2Threads)
	case kdf.PBKDF2:
		if p.Iterations, err = toUint32("VAULT_PBKDF2_ITERATIONS", c.PBKDF2Iterations); err != nil {
			return kdf.Params{}, err
		}
		if p.Hash, err = kdf.ParseHash(strings.ToLower(c.PBKDF2Hash)); err != nil {
			return kdf.Params{}, err
		}
	case kdf.Scrypt:
		if p.N, err = toUint32("VAULT_SCRYPT_N", c.ScryptN); err != nil {
			return kdf.Params{}, err
		}
		if p.R, err = toUint32("VAULT_SCRYPT_R", c.ScryptR); err != nil {
			return kdf.Params{}, err
		}
		if p.P, err = toUint32("VAULT_SCRYPT_P", c.ScryptP); err != nil {
			return kdf.Params{}, err
		}
	}

	if err := p.Validate(); err != nil {
		return kdf.Params{}, err
	}
	return p, nil
}

// Codec builds the container codec used to seal and open vault files.
func (c *Config) Codec() (*container.Codec, error) {
	params, err := c.KDFParams()
	if err != nil {
		return nil, err
	}
	cipher, err := aead.ParseAlgorithm(strings.ToLower(c.Cipher))
	if err != nil {
		return nil, err
	}
	format, err := container.ParseFormat(strings.ToLower(c.Format))
	if err != nil {
		return nil, err
	}
	return &container.Codec{
		KDF:         params,
		Cipher:      cipher,
		Format:      format,
		AllowLegacy: c.AllowLegacyDecode,
	}, nil
}

// Dialect builds the CSV dialect for vault payloads and plaintext exports.
// A non-empty CSV_NULL_VALUE enables the null sentinel.
func (c *Config) Dialect() (csvcodec.Dialect, error) {
	d := csvcodec.DefaultDialect()

	if c.CSVDelimiter == `\t` {
		d.Delimiter = '\t'
	} else {
		r, size := utf8.DecodeRuneInString(c.CSVDelimiter)
		if size == 0 || size != len(c.CSVDelimiter) {
			return d, fmt.Errorf("%w: CSV_DELIMITER must be a single character, got %q", csvcodec.ErrInvalidDialect, c.CSVDelimiter)
		}
		d.Delimiter = r
	}

	if c.CSVNullValue != "" {
		d.UseNull = true
		d.NullValue = c.CSVNullValue
	}
	d.StrictQuotes = c.CSVStrict

	if err := d.Validate(); err != nil {
		return d, err
	}
	return d, nil
}

// Logger returns a JSON logger writing to w at the configured level.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

func toUint32(name string, v int) (uint32, error) {
	if v < 0 || int64(v) > math.MaxUint32 {
		return 0, fmt.Errorf("%w: %s out of range: %d", kdf.ErrInvalidParams, name, v)
	}
	return uint32(v), nil
}

// loadDotEnv loads the first .env found walking up from the working
// directory. Variables already set in the environment win.
func loadDotEnv() {
	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	dir := cwd
	for {
		envPath := filepath.Join(dir, ".env")
		if _, err := os.Stat(envPath); err == nil {
			_ = godotenv.Load(envPath)
			return
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
}
