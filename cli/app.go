// Package cli implements the vault command line: one-shot commands over a
// vault file and an interactive terminal browser.
package cli

import (
	"bufio"
	"bytes"
	"errors"
	"log/slog"
	"os"

	"github.com/fahmaliyi/csvault/config"
	"github.com/fahmaliyi/csvault/csvcodec"
	"github.com/fahmaliyi/csvault/kdf"
	"github.com/fahmaliyi/csvault/metrics"
	"github.com/fahmaliyi/csvault/vault"
)

var errPassphraseMismatch = errors.New("passphrases do not match")

// App carries what every command needs. Path and Plaintext are set from
// global flags before a command runs.
type App struct {
	Config  *config.Config
	Logger  *slog.Logger
	Metrics metrics.BusinessMetrics
	IO      IOTuple

	Path      string
	Plaintext bool

	// ReadSecret prompts without echo; ReadEntrySecret echoes a mask.
	ReadSecret      SecretReader
	ReadEntrySecret SecretReader
}

func NewApp(cfg *config.Config, logger *slog.Logger, m metrics.BusinessMetrics, streams IOTuple) *App {
	lines := bufio.NewReader(streams.Reader)
	return &App{
		Config:          cfg,
		Logger:          logger,
		Metrics:         m,
		IO:              streams,
		ReadSecret:      newSecretReader(streams, lines, ReadPassword),
		ReadEntrySecret: newSecretReader(streams, lines, ReadPasswordMasked),
	}
}

func (a *App) vaultPath() (string, error) {
	path := a.Path
	if path == "" {
		path = a.Config.VaultFile
	}
	return GetVaultPath(path)
}

func (a *App) dialect() (csvcodec.Dialect, error) {
	return a.Config.Dialect()
}

func (a *App) options() ([]vault.Option, error) {
	codec, err := a.Config.Codec()
	if err != nil {
		return nil, err
	}
	d, err := a.dialect()
	if err != nil {
		return nil, err
	}
	return []vault.Option{
		vault.WithCodec(codec),
		vault.WithDialect(d),
		vault.WithLogger(a.Logger),
		vault.WithMetrics(a.Metrics),
	}, nil
}

func (a *App) session() (*vault.Vault, error) {
	path, err := a.vaultPath()
	if err != nil {
		return nil, err
	}
	opts, err := a.options()
	if err != nil {
		return nil, err
	}
	return vault.New(path, opts...), nil
}

// masterPassphrase returns nil in plaintext mode, the VAULT_PASSPHRASE value
// when set, and prompts otherwise.
func (a *App) masterPassphrase(prompt string) ([]byte, error) {
	if a.Plaintext {
		return nil, nil
	}
	if p, ok := os.LookupEnv(PassphraseEnv); ok {
		return []byte(p), nil
	}
	return a.ReadSecret(prompt)
}

// newPassphrase asks twice unless the passphrase comes from the environment.
func (a *App) newPassphrase(prompt string) ([]byte, error) {
	if _, ok := os.LookupEnv(PassphraseEnv); ok || a.Plaintext {
		return a.masterPassphrase(prompt)
	}
	p, err := a.ReadSecret(prompt)
	if err != nil {
		return nil, err
	}
	confirm, err := a.ReadSecret("Confirm passphrase: ")
	if err != nil {
		return nil, err
	}
	defer kdf.Zero(confirm)
	if !bytes.Equal(p, confirm) {
		kdf.Zero(p)
		return nil, errPassphraseMismatch
	}
	return p, nil
}

// open opens the session's vault file with the master passphrase.
func (a *App) open() (*vault.Vault, error) {
	v, err := a.session()
	if err != nil {
		return nil, err
	}
	pass, err := a.masterPassphrase("Master passphrase: ")
	if err != nil {
		return nil, err
	}
	if err := v.Open(pass); err != nil {
		return nil, err
	}
	return v, nil
}
