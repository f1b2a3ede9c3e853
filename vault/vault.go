// Package vault opens and saves password vaults: a delimited-text record
// table, optionally sealed in a passphrase-keyed container.
package vault

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/awnumar/memguard"
	"github.com/google/uuid"
)

type State int

const (
	Closed State = iota
	Unlocked
	Locked
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Unlocked:
		return "unlocked"
	case Locked:
		return "locked"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Vault is an editing session over one vault file. While unlocked the
// passphrase is kept only inside an encrypted memguard enclave so the table
// can be resealed on Save. A Vault is not safe for concurrent use.
type Vault struct {
	Filename string

	opts      options
	state     State
	plaintext bool
	enclave   *memguard.Enclave
	table     *Table
}

func New(filename string, opts ...Option) *Vault {
	return &Vault{Filename: filename, opts: newOptions(opts)}
}

func (v *Vault) State() State { return v.state }

// Plaintext reports whether the session saves without encryption.
func (v *Vault) Plaintext() bool { return v.plaintext }

// Create starts a new empty entry table and writes it to Filename,
// replacing any existing file. A nil passphrase creates a plaintext vault.
// A locked session must be unlocked or closed first.
func (v *Vault) Create(passphrase []byte) error {
	if v.state == Locked {
		memguard.WipeBytes(passphrase)
		return ErrLocked
	}
	if err := v.setPassphrase(passphrase); err != nil {
		return err
	}
	if err := ensureDir(v.Filename); err != nil {
		v.reset()
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	v.table = NewTable()
	v.state = Unlocked
	if err := v.Save(); err != nil {
		v.reset()
		return err
	}
	v.opts.logger.Info("vault created", slog.String("path", v.Filename), slog.Bool("encrypted", !v.plaintext))
	return nil
}

// Open loads Filename. On failure the session is left closed. A locked
// session returns ErrLocked and keeps its table; use Unlock instead.
func (v *Vault) Open(passphrase []byte) error {
	start := time.Now()
	err := v.open(passphrase)
	v.opts.observe("open", start, err)
	return err
}

func (v *Vault) open(passphrase []byte) error {
	if v.state == Locked {
		memguard.WipeBytes(passphrase)
		return ErrLocked
	}
	v.reset()
	var verify []byte
	if passphrase != nil {
		verify = append([]byte{}, passphrase...)
	}
	if err := v.setPassphrase(passphrase); err != nil {
		return err
	}
	t, err := v.opts.load(v.Filename, verify)
	if err != nil {
		v.reset()
		return err
	}
	v.table = t
	v.state = Unlocked
	return nil
}

// Save writes the table to Filename, sealing it with the session
// passphrase unless the vault is plaintext.
func (v *Vault) Save() error {
	if err := v.check(); err != nil {
		return err
	}
	start := time.Now()
	pass, err := v.passphrase()
	if err == nil {
		err = v.opts.store(v.Filename, v.table, pass)
	}
	v.opts.observe("save", start, err)
	return err
}

// Lock drops the passphrase. The table stays in memory but is unreachable
// until Unlock.
func (v *Vault) Lock() error {
	if err := v.check(); err != nil {
		return err
	}
	v.enclave = nil
	v.state = Locked
	v.opts.logger.Info("vault locked", slog.String("path", v.Filename))
	return nil
}

// Unlock re-verifies passphrase by decoding the file on disk. The in-memory
// table, including unsaved edits, is kept whether or not it succeeds; on
// failure the session stays locked.
func (v *Vault) Unlock(passphrase []byte) error {
	start := time.Now()
	err := v.unlock(passphrase)
	v.opts.observe("unlock", start, err)
	return err
}

func (v *Vault) unlock(passphrase []byte) error {
	switch v.state {
	case Closed:
		return ErrClosed
	case Unlocked:
		memguard.WipeBytes(passphrase)
		return nil
	}

	if v.plaintext != (passphrase == nil) {
		memguard.WipeBytes(passphrase)
		return ErrWrongPassword
	}
	var keep []byte
	if passphrase != nil {
		keep = append([]byte{}, passphrase...)
	}
	if _, err := v.opts.load(v.Filename, passphrase); err != nil {
		memguard.WipeBytes(keep)
		v.opts.logger.Warn("vault unlock failed", slog.String("path", v.Filename))
		return err
	}
	if err := v.setPassphrase(keep); err != nil {
		return err
	}
	v.state = Unlocked
	v.opts.logger.Info("vault unlocked", slog.String("path", v.Filename))
	return nil
}

// Close ends the session and drops the table and passphrase.
func (v *Vault) Close() error {
	if v.state == Closed {
		return ErrClosed
	}
	v.reset()
	return nil
}

// ChangePassphrase reseals the vault under newPassphrase. A nil
// newPassphrase turns the vault into a plaintext file.
func (v *Vault) ChangePassphrase(newPassphrase []byte) error {
	if err := v.check(); err != nil {
		memguard.WipeBytes(newPassphrase)
		return err
	}
	oldEnclave, oldPlaintext := v.enclave, v.plaintext
	if err := v.setPassphrase(newPassphrase); err != nil {
		return err
	}
	if err := v.Save(); err != nil {
		v.enclave, v.plaintext = oldEnclave, oldPlaintext
		return err
	}
	v.opts.logger.Info("vault passphrase changed", slog.String("path", v.Filename), slog.Bool("encrypted", !v.plaintext))
	return nil
}

// Table returns the live table. Changes to it are persisted by Save.
func (v *Vault) Table() (*Table, error) {
	if err := v.check(); err != nil {
		return nil, err
	}
	return v.table, nil
}

func (v *Vault) List() ([]Entry, error) {
	if err := v.check(); err != nil {
		return nil, err
	}
	return v.table.Entries()
}

// Add appends e, assigning a random UUID when e.ID is empty, and returns the
// stored entry.
func (v *Vault) Add(e Entry) (Entry, error) {
	if err := v.checkEntries(); err != nil {
		return Entry{}, err
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	v.table.Records = append(v.table.Records, e.record())
	return e, nil
}

func (v *Vault) Get(id string) (*Entry, error) {
	if err := v.checkEntries(); err != nil {
		return nil, err
	}
	i := v.table.find(id)
	if i < 0 {
		return nil, ErrNotFound
	}
	e := entryFromRecord(v.table.Records[i])
	return &e, nil
}

// Update replaces the entry with the same ID.
func (v *Vault) Update(e Entry) error {
	if err := v.checkEntries(); err != nil {
		return err
	}
	i := v.table.find(e.ID)
	if i < 0 {
		return ErrNotFound
	}
	v.table.Records[i] = e.record()
	return nil
}

func (v *Vault) Delete(id string) error {
	if err := v.checkEntries(); err != nil {
		return err
	}
	i := v.table.find(id)
	if i < 0 {
		return ErrNotFound
	}
	v.table.Records = append(v.table.Records[:i], v.table.Records[i+1:]...)
	return nil
}

// DeleteAt removes the entry at position i in List order and returns it.
// Unlike Delete it is unambiguous when imported rows share an ID.
func (v *Vault) DeleteAt(i int) (Entry, error) {
	if err := v.checkEntries(); err != nil {
		return Entry{}, err
	}
	if i < 0 || i >= len(v.table.Records) {
		return Entry{}, ErrNotFound
	}
	e := entryFromRecord(v.table.Records[i])
	v.table.Records = append(v.table.Records[:i], v.table.Records[i+1:]...)
	return e, nil
}

func (v *Vault) check() error {
	switch v.state {
	case Closed:
		return ErrClosed
	case Locked:
		return ErrLocked
	}
	return nil
}

func (v *Vault) checkEntries() error {
	if err := v.check(); err != nil {
		return err
	}
	if v.table.Custom {
		return ErrCustomHeader
	}
	return nil
}

// setPassphrase moves passphrase into a fresh enclave, wiping the caller's
// copy. nil selects plaintext mode.
func (v *Vault) setPassphrase(passphrase []byte) error {
	if passphrase == nil {
		v.plaintext = true
		v.enclave = nil
		return nil
	}
	if len(passphrase) == 0 {
		return ErrEmptyPassphrase
	}
	v.plaintext = false
	v.enclave = memguard.NewEnclave(passphrase)
	return nil
}

// passphrase returns a copy of the session passphrase for one seal. The
// copy is wiped by the codec.
func (v *Vault) passphrase() ([]byte, error) {
	if v.plaintext {
		return nil, nil
	}
	if v.enclave == nil {
		return nil, ErrLocked
	}
	buf, err := v.enclave.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open passphrase enclave: %w", err)
	}
	defer buf.Destroy()
	return append([]byte{}, buf.Bytes()...), nil
}

func (v *Vault) reset() {
	v.state = Closed
	v.enclave = nil
	v.plaintext = false
	v.table = nil
}
