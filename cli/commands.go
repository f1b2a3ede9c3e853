package cli

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/fahmaliyi/csvault/container"
	"github.com/fahmaliyi/csvault/kdf"
	"github.com/fahmaliyi/csvault/vault"
)

var ErrVaultExists = errors.New("vault file already exists")

// EntryFields are the values accepted by RunAdd. An empty Password is
// prompted for.
type EntryFields struct {
	Group    string
	Title    string
	URL      string
	Username string
	Password string
	Notes    string
}

// RunInit creates an empty vault. It refuses to overwrite an existing file.
func (a *App) RunInit() error {
	v, err := a.session()
	if err != nil {
		return err
	}
	if _, err := os.Stat(v.Filename); err == nil {
		return fmt.Errorf("%w: %s", ErrVaultExists, v.Filename)
	}

	pass, err := a.newPassphrase("New master passphrase: ")
	if err != nil {
		return err
	}
	if err := v.Create(pass); err != nil {
		return fmt.Errorf("failed to create vault: %w", err)
	}
	fmt.Fprintf(a.IO.Writer, "Vault created at %s\n", v.Filename)
	return nil
}

// RunList prints entries numbered from 1. Custom tables print their header
// and raw rows.
func (a *App) RunList() error {
	v, err := a.open()
	if err != nil {
		return err
	}
	defer v.Close()

	table, err := v.Table()
	if err != nil {
		return err
	}
	if table.Custom {
		fmt.Fprintln(a.IO.Writer, strings.Join(table.Header, " | "))
		for i, r := range table.Records {
			fmt.Fprintf(a.IO.Writer, "%d) %s\n", i+1, strings.Join(r.Values(), " | "))
		}
		return nil
	}

	entries, err := v.List()
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(a.IO.Writer, "Vault is empty.")
		return nil
	}
	for i, e := range entries {
		fmt.Fprintf(a.IO.Writer, "%d) Title: %s | Username: %s | Group: %s\n", i+1, e.Title, e.Username, e.Group)
	}
	return nil
}

// RunShow prints entry n. The password is masked unless reveal is set.
func (a *App) RunShow(n string, reveal bool) error {
	v, err := a.open()
	if err != nil {
		return err
	}
	defer v.Close()

	e, err := entryAt(v, n)
	if err != nil {
		return err
	}
	password := "********"
	if reveal {
		password = e.Password
	}
	writeEntry(a.IO.Writer, e, password)
	return nil
}

func (a *App) RunAdd(f EntryFields) error {
	v, err := a.open()
	if err != nil {
		return err
	}
	defer v.Close()

	if f.Title == "" {
		return errors.New("title is required")
	}
	if f.Password == "" {
		secret, err := a.ReadEntrySecret("Password: ")
		if err != nil {
			return err
		}
		f.Password = string(secret)
		kdf.Zero(secret)
	}

	e, err := v.Add(vault.Entry{
		Group:    f.Group,
		Title:    f.Title,
		URL:      f.URL,
		Username: f.Username,
		Password: f.Password,
		Notes:    f.Notes,
	})
	if err != nil {
		return err
	}
	if err := v.Save(); err != nil {
		return fmt.Errorf("error saving vault: %w", err)
	}
	fmt.Fprintf(a.IO.Writer, "Entry added! (%s)\n", e.ID)
	return nil
}

func (a *App) RunRemove(n string) error {
	v, err := a.open()
	if err != nil {
		return err
	}
	defer v.Close()

	i, err := entryIndex(v, n)
	if err != nil {
		return err
	}
	e, err := v.DeleteAt(i)
	if err != nil {
		return err
	}
	if err := v.Save(); err != nil {
		return fmt.Errorf("error saving vault: %w", err)
	}
	fmt.Fprintf(a.IO.Writer, "Entry %q deleted!\n", e.Title)
	return nil
}

// RunImport appends the rows of a plaintext CSV file and saves.
func (a *App) RunImport(file string) error {
	if file == "" {
		return errors.New("import: missing file argument")
	}
	d, err := a.dialect()
	if err != nil {
		return err
	}
	v, err := a.open()
	if err != nil {
		return err
	}
	defer v.Close()

	n, err := v.Import(file, d)
	if err != nil {
		return err
	}
	if err := v.Save(); err != nil {
		return fmt.Errorf("error saving vault: %w", err)
	}
	fmt.Fprintf(a.IO.Writer, "Imported %d entries from %s\n", n, file)
	return nil
}

// RunExport writes the vault as plaintext CSV.
func (a *App) RunExport(file string) error {
	if file == "" {
		return errors.New("export: missing file argument")
	}
	d, err := a.dialect()
	if err != nil {
		return err
	}
	v, err := a.open()
	if err != nil {
		return err
	}
	defer v.Close()

	if err := v.Export(file, d); err != nil {
		return err
	}
	a.Logger.Warn("vault exported in plaintext", slog.String("path", file))
	fmt.Fprintf(a.IO.Writer, "Exported to %s (plaintext)\n", file)
	return nil
}

// RunPasswd reseals the vault under a new passphrase, or stores it in
// plaintext when decrypt is set.
func (a *App) RunPasswd(decrypt bool) error {
	v, err := a.open()
	if err != nil {
		return err
	}
	defer v.Close()

	var next []byte
	if !decrypt {
		next, err = a.ReadSecret("New master passphrase: ")
		if err != nil {
			return err
		}
		confirm, err := a.ReadSecret("Confirm passphrase: ")
		if err != nil {
			kdf.Zero(next)
			return err
		}
		match := bytes.Equal(next, confirm)
		kdf.Zero(confirm)
		if !match {
			kdf.Zero(next)
			return errPassphraseMismatch
		}
	}
	if err := v.ChangePassphrase(next); err != nil {
		return err
	}
	if decrypt {
		fmt.Fprintln(a.IO.Writer, "Vault is now stored in plaintext.")
	} else {
		fmt.Fprintln(a.IO.Writer, "Passphrase changed.")
	}
	return nil
}

// RunInfo describes the container of the vault file without decrypting it.
func (a *App) RunInfo() error {
	path, err := a.vaultPath()
	if err != nil {
		return err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return vault.ErrUnreadable
	}
	codec, err := a.Config.Codec()
	if err != nil {
		return err
	}

	w := a.IO.Writer
	fmt.Fprintf(w, "File: %s\n", path)
	info, err := codec.Inspect(raw)
	if err != nil {
		fmt.Fprintln(w, "Format: plaintext")
		return nil
	}
	fmt.Fprintf(w, "Format: %s\n", info.Format)
	if info.Format == container.FormatV1 {
		fmt.Fprintf(w, "KDF: %s\n", describeKDF(info.KDF))
		fmt.Fprintf(w, "Cipher: %s\n", info.Cipher)
	}
	fmt.Fprintf(w, "Nonce: %d bytes\n", len(info.Nonce))
	fmt.Fprintf(w, "Salt: %d bytes\n", len(info.Salt))
	fmt.Fprintf(w, "Ciphertext: %d bytes\n", info.SealedLen)
	return nil
}

// RunBrowse opens the vault in the terminal browser.
func (a *App) RunBrowse() error {
	v, err := a.open()
	if err != nil {
		return err
	}
	defer v.Close()
	return RunTUI(v)
}

func describeKDF(p kdf.Params) string {
	switch p.Algorithm {
	case kdf.Argon2id:
		return fmt.Sprintf("%s (time=%d, memory=%dKiB, threads=%d)", p.Algorithm, p.Time, p.MemoryKiB, p.Threads)
	case kdf.PBKDF2:
		return fmt.Sprintf("%s (iterations=%d, hash=%s)", p.Algorithm, p.Iterations, p.Hash)
	case kdf.Scrypt:
		return fmt.Sprintf("%s (N=%d, r=%d, p=%d)", p.Algorithm, p.N, p.R, p.P)
	default:
		return p.Algorithm.String()
	}
}

// entryIndex resolves a 1-based item number as printed by RunList to a
// position in the entry list.
func entryIndex(v *vault.Vault, n string) (int, error) {
	entries, err := v.List()
	if err != nil {
		return 0, err
	}
	return itemIndex(n, len(entries))
}

func entryAt(v *vault.Vault, n string) (vault.Entry, error) {
	entries, err := v.List()
	if err != nil {
		return vault.Entry{}, err
	}
	i, err := itemIndex(n, len(entries))
	if err != nil {
		return vault.Entry{}, err
	}
	return entries[i], nil
}

func itemIndex(n string, count int) (int, error) {
	num, err := strconv.Atoi(n)
	if err != nil || num < 1 || num > count {
		return 0, fmt.Errorf("invalid item number %q", n)
	}
	return num - 1, nil
}

func writeEntry(w io.Writer, e vault.Entry, password string) {
	fmt.Fprintf(w, "Title: %s\nGroup: %s\nURL: %s\nUsername: %s\nPassword: %s\nNotes: %s\nID: %s\n",
		e.Title, e.Group, e.URL, e.Username, password, e.Notes, e.ID)
}
