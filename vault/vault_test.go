package vault

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fahmaliyi/csvault/aead"
	"github.com/fahmaliyi/csvault/container"
	"github.com/fahmaliyi/csvault/csvcodec"
	"github.com/fahmaliyi/csvault/kdf"
)

func fastCodec() *container.Codec {
	return &container.Codec{
		KDF:    kdf.Params{Algorithm: kdf.PBKDF2, Iterations: 1, Hash: kdf.SHA256, KeyLen: kdf.KeyLen},
		Cipher: aead.ChaCha20Poly1305,
		Format: container.FormatV1,
	}
}

// pw returns a fresh passphrase buffer; every call site's copy gets wiped.
func pw(s string) []byte { return []byte(s) }

type recordedOp struct {
	operation, status string
}

type fakeMetrics struct {
	mu  sync.Mutex
	ops []recordedOp
}

func (f *fakeMetrics) RecordOperation(_ context.Context, domain, operation, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, recordedOp{operation, status})
}

func (f *fakeMetrics) RecordDuration(context.Context, string, string, time.Duration, string) {}

func sampleTable() *Table {
	t := NewTable()
	t.Append("6f1c1f5e-1b7e-4a4e-9d1c-0a4f4e3b2c1d", "Mail", "Work, primary", "https://mail.example.com", "jdoe",
		`p"ss,word`, "line one\nline two")
	t.Append("", "", "", "", "", "", "")
	t.Append("b", "Bank", " padded ", "", "acct", "1234", "")
	return t
}

func newPath(t *testing.T) string {
	return filepath.Join(t.TempDir(), "vault.csv")
}

func TestSaveOpen_RoundTrip(t *testing.T) {
	for _, passphrase := range []string{"correct horse", ""} {
		var pass func() []byte
		if passphrase == "" {
			pass = func() []byte { return nil }
		} else {
			pass = func() []byte { return pw(passphrase) }
		}

		path := newPath(t)
		in := sampleTable()
		require.NoError(t, SaveVault(path, in, pass(), WithCodec(fastCodec())))

		out, err := OpenVault(path, pass(), WithCodec(fastCodec()))
		require.NoError(t, err)
		assert.False(t, out.Custom)
		assert.Equal(t, DisplayHeader(), out.Header)
		require.Len(t, out.Records, len(in.Records))
		for i := range in.Records {
			assert.Equal(t, in.Records[i].Values(), out.Records[i].Values())
		}
	}
}

func TestSaveVault_PlaintextLayout(t *testing.T) {
	path := newPath(t)
	table := NewTable()
	table.Append("id1", "g", "t", "https://x", "u", "p", "n")

	require.NoError(t, SaveVault(path, table, nil))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "uuid,group,title,url,user,password,notes\nid1,g,t,https://x,u,p,n\n", string(raw))
}

func TestSaveVault_Encrypted(t *testing.T) {
	path := newPath(t)
	require.NoError(t, SaveVault(path, sampleTable(), pw("secret"), WithCodec(fastCodec())))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "uuid")

	info, err := fastCodec().Inspect(raw)
	require.NoError(t, err)
	assert.Equal(t, container.FormatV1, info.Format)
	assert.Equal(t, aead.ChaCha20Poly1305, info.Cipher)
}

func TestSaveVault_AtomicWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vault.csv")

	require.NoError(t, os.WriteFile(path, []byte("old"), 0o644))
	require.NoError(t, SaveVault(path, sampleTable(), pw("secret"), WithCodec(fastCodec())))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "no temp files are left behind")
	assert.Equal(t, "vault.csv", entries[0].Name())

	st, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), st.Mode().Perm())
}

func TestSaveVault_DirectorySyncFailure(t *testing.T) {
	orig := syncDir
	t.Cleanup(func() { syncDir = orig })
	syncDir = func(string) error { return errors.New("sync not supported") }

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	path := newPath(t)
	require.NoError(t, SaveVault(path, sampleTable(), nil, WithLogger(logger)))
	assert.Contains(t, logs.String(), "vault saved without directory sync")
	assert.Contains(t, logs.String(), "sync not supported")

	table, err := OpenVault(path, nil)
	require.NoError(t, err)
	assert.Len(t, table.Records, 3)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestSaveVault_WriteFailed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "vault.csv")
	err := SaveVault(path, sampleTable(), nil)
	assert.ErrorIs(t, err, ErrWriteFailed)
}

func TestSaveOpen_WipesPassphrase(t *testing.T) {
	path := newPath(t)

	p := pw("secret")
	require.NoError(t, SaveVault(path, sampleTable(), p, WithCodec(fastCodec())))
	assert.Equal(t, make([]byte, len(p)), p)

	p = pw("secret")
	_, err := OpenVault(path, p, WithCodec(fastCodec()))
	require.NoError(t, err)
	assert.Equal(t, make([]byte, len(p)), p)

	p = pw("wrong")
	_, err = OpenVault(path, p, WithCodec(fastCodec()))
	require.Error(t, err)
	assert.Equal(t, make([]byte, len(p)), p)
}

func TestOpenVault_Errors(t *testing.T) {
	dir := t.TempDir()
	encrypted := filepath.Join(dir, "enc.csv")
	require.NoError(t, SaveVault(encrypted, sampleTable(), pw("secret"), WithCodec(fastCodec())))

	tampered := filepath.Join(dir, "tampered.csv")
	raw, err := os.ReadFile(encrypted)
	require.NoError(t, err)
	blob := []byte(string(raw))
	i := len(blob) - 8
	if blob[i] == 'A' {
		blob[i] = 'B'
	} else {
		blob[i] = 'A'
	}
	require.NoError(t, os.WriteFile(tampered, blob, 0o600))

	garbage := filepath.Join(dir, "garbage.csv")
	require.NoError(t, os.WriteFile(garbage, []byte("not base64 at all!"), 0o600))

	badCSV := filepath.Join(dir, "bad.csv")
	require.NoError(t, os.WriteFile(badCSV, []byte("a,b\n\"open,c\n"), 0o600))

	tests := []struct {
		name       string
		path       string
		passphrase []byte
		want       error
	}{
		{"wrong passphrase", encrypted, pw("nope"), ErrWrongPassword},
		{"tampered file", tampered, pw("secret"), ErrWrongPassword},
		{"missing file", filepath.Join(dir, "absent.csv"), pw("secret"), ErrUnreadable},
		{"directory", dir, nil, ErrUnreadable},
		{"not an envelope", garbage, pw("secret"), ErrUnrecognized},
		{"malformed plaintext", badCSV, nil, ErrUnrecognized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table, err := OpenVault(tt.path, tt.passphrase, WithCodec(fastCodec()))
			assert.Nil(t, table)
			assert.Equal(t, tt.want, err, "open errors are returned unwrapped")
		})
	}
}

func TestOpenVault_CustomHeader(t *testing.T) {
	path := newPath(t)
	content := "site;login\nexample.com;\"a;b\"\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	d := csvcodec.DefaultDialect()
	d.Delimiter = ';'

	table, err := OpenVault(path, nil, WithDialect(d))
	require.NoError(t, err)
	assert.True(t, table.Custom)
	assert.Equal(t, []string{"site", "login"}, table.Header)
	v, ok := table.Value(0, "login")
	assert.True(t, ok)
	assert.Equal(t, "a;b", v)

	_, err = table.Entries()
	assert.ErrorIs(t, err, ErrCustomHeader)

	require.NoError(t, SaveVault(path, table, nil, WithDialect(d)))
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, content, string(raw))
}

func TestOpenVault_EmptyPlaintext(t *testing.T) {
	path := newPath(t)
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	table, err := OpenVault(path, nil)
	require.NoError(t, err)
	assert.False(t, table.Custom)
	assert.Equal(t, DisplayHeader(), table.Header)
	assert.Empty(t, table.Records)
}

func TestOpenVault_Metrics(t *testing.T) {
	path := newPath(t)
	m := &fakeMetrics{}
	require.NoError(t, SaveVault(path, sampleTable(), nil, WithMetrics(m)))
	_, err := OpenVault(path, nil, WithMetrics(m))
	require.NoError(t, err)
	_, err = OpenVault(filepath.Join(t.TempDir(), "nope"), nil, WithMetrics(m))
	require.Error(t, err)

	assert.Equal(t, []recordedOp{
		{"save", "success"},
		{"open", "success"},
		{"open", "error"},
	}, m.ops)
}

func TestVault_Lifecycle(t *testing.T) {
	path := newPath(t)
	v := New(path, WithCodec(fastCodec()))
	assert.Equal(t, Closed, v.State())

	_, err := v.List()
	assert.ErrorIs(t, err, ErrClosed)

	require.NoError(t, v.Create(pw("secret")))
	assert.Equal(t, Unlocked, v.State())
	assert.False(t, v.Plaintext())

	e, err := v.Add(Entry{Title: "Mail", Username: "jdoe", Password: "hunter2"})
	require.NoError(t, err)
	require.NoError(t, v.Save())

	require.NoError(t, v.Lock())
	assert.Equal(t, Locked, v.State())
	_, err = v.List()
	assert.ErrorIs(t, err, ErrLocked)
	assert.ErrorIs(t, v.Save(), ErrLocked)
	_, err = v.Table()
	assert.ErrorIs(t, err, ErrLocked)

	require.NoError(t, v.Unlock(pw("secret")))
	assert.Equal(t, Unlocked, v.State())
	got, err := v.Get(e.ID)
	require.NoError(t, err)
	assert.Equal(t, e, *got)

	require.NoError(t, v.Close())
	assert.Equal(t, Closed, v.State())
	assert.ErrorIs(t, v.Close(), ErrClosed)
	assert.ErrorIs(t, v.Unlock(pw("secret")), ErrClosed)

	require.NoError(t, v.Open(pw("secret")))
	entries, err := v.List()
	require.NoError(t, err)
	assert.Equal(t, []Entry{e}, entries)
}

func TestVault_FailedUnlockKeepsTable(t *testing.T) {
	path := newPath(t)
	v := New(path, WithCodec(fastCodec()))
	require.NoError(t, v.Create(pw("secret")))

	saved, err := v.Add(Entry{Title: "saved"})
	require.NoError(t, err)
	require.NoError(t, v.Save())
	unsaved, err := v.Add(Entry{Title: "unsaved"})
	require.NoError(t, err)

	require.NoError(t, v.Lock())
	assert.Equal(t, ErrWrongPassword, v.Unlock(pw("wrong")))
	assert.Equal(t, Locked, v.State())
	assert.Equal(t, ErrWrongPassword, v.Unlock(nil), "a plaintext unlock of an encrypted vault fails")
	assert.Equal(t, Locked, v.State())

	require.NoError(t, v.Unlock(pw("secret")))
	entries, err := v.List()
	require.NoError(t, err)
	assert.Equal(t, []Entry{saved, unsaved}, entries)
}

func TestVault_OpenWhileLockedKeepsTable(t *testing.T) {
	path := newPath(t)
	v := New(path, WithCodec(fastCodec()))
	require.NoError(t, v.Create(pw("secret")))
	unsaved, err := v.Add(Entry{Title: "unsaved"})
	require.NoError(t, err)
	require.NoError(t, v.Lock())

	wrong := pw("wrong")
	assert.ErrorIs(t, v.Open(wrong), ErrLocked)
	assert.Equal(t, []byte{0, 0, 0, 0, 0}, wrong)
	assert.Equal(t, Locked, v.State())
	assert.ErrorIs(t, v.Open(pw("secret")), ErrLocked)
	assert.ErrorIs(t, v.Create(pw("secret")), ErrLocked)
	assert.Equal(t, Locked, v.State())

	require.NoError(t, v.Unlock(pw("secret")))
	entries, err := v.List()
	require.NoError(t, err)
	assert.Equal(t, []Entry{unsaved}, entries)
}

func TestVault_OpenFailureLeavesClosed(t *testing.T) {
	path := newPath(t)
	require.NoError(t, SaveVault(path, sampleTable(), pw("secret"), WithCodec(fastCodec())))

	v := New(path, WithCodec(fastCodec()))
	assert.Equal(t, ErrWrongPassword, v.Open(pw("wrong")))
	assert.Equal(t, Closed, v.State())

	assert.ErrorIs(t, v.Open(pw("")), ErrEmptyPassphrase)
	assert.Equal(t, Closed, v.State())

	require.NoError(t, v.Open(pw("secret")))
	table, err := v.Table()
	require.NoError(t, err)
	assert.Len(t, table.Records, 3)
}

func TestVault_Plaintext(t *testing.T) {
	path := newPath(t)
	v := New(path)
	require.NoError(t, v.Create(nil))
	assert.True(t, v.Plaintext())

	_, err := v.Add(Entry{ID: "x", Title: "t"})
	require.NoError(t, err)
	require.NoError(t, v.Save())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "uuid,group,title,url,user,password,notes\nx,,t,,,,\n", string(raw))

	require.NoError(t, v.Lock())
	require.NoError(t, v.Unlock(nil))
}

func TestVault_ChangePassphrase(t *testing.T) {
	path := newPath(t)
	v := New(path, WithCodec(fastCodec()))
	require.NoError(t, v.Create(pw("old")))
	_, err := v.Add(Entry{Title: "t"})
	require.NoError(t, err)

	require.NoError(t, v.ChangePassphrase(pw("new")))
	_, err = OpenVault(path, pw("old"), WithCodec(fastCodec()))
	assert.Equal(t, ErrWrongPassword, err)
	table, err := OpenVault(path, pw("new"), WithCodec(fastCodec()))
	require.NoError(t, err)
	assert.Len(t, table.Records, 1)

	assert.ErrorIs(t, v.ChangePassphrase(pw("")), ErrEmptyPassphrase)

	require.NoError(t, v.ChangePassphrase(nil))
	assert.True(t, v.Plaintext())
	table, err = OpenVault(path, nil)
	require.NoError(t, err)
	assert.Len(t, table.Records, 1)

	require.NoError(t, v.Lock())
	assert.ErrorIs(t, v.ChangePassphrase(pw("again")), ErrLocked)
}

func TestVault_CRUD(t *testing.T) {
	v := New(newPath(t))
	require.NoError(t, v.Create(nil))

	a, err := v.Add(Entry{Title: "a"})
	require.NoError(t, err)
	_, err = uuid.Parse(a.ID)
	assert.NoError(t, err, "generated IDs are UUIDs")

	b, err := v.Add(Entry{ID: "fixed", Title: "b"})
	require.NoError(t, err)
	assert.Equal(t, "fixed", b.ID)

	b.Password = "changed"
	require.NoError(t, v.Update(b))
	got, err := v.Get("fixed")
	require.NoError(t, err)
	assert.Equal(t, "changed", got.Password)

	require.NoError(t, v.Delete(a.ID))
	entries, err := v.List()
	require.NoError(t, err)
	assert.Equal(t, []Entry{b}, entries)

	_, err = v.Get(a.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, v.Delete(a.ID), ErrNotFound)
	assert.ErrorIs(t, v.Update(Entry{ID: "missing"}), ErrNotFound)
}

func TestVault_DeleteAtWithDuplicateIDs(t *testing.T) {
	v := New(newPath(t))
	require.NoError(t, v.Create(nil))

	for _, title := range []string{"first", "second", "third"} {
		_, err := v.Add(Entry{ID: "dup", Title: title})
		require.NoError(t, err)
	}

	removed, err := v.DeleteAt(1)
	require.NoError(t, err)
	assert.Equal(t, "second", removed.Title)

	entries, err := v.List()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "first", entries[0].Title)
	assert.Equal(t, "third", entries[1].Title)

	_, err = v.DeleteAt(2)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = v.DeleteAt(-1)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, v.Lock())
	_, err = v.DeleteAt(0)
	assert.ErrorIs(t, err, ErrLocked)
}

func TestVault_CustomHeaderRejectsEntries(t *testing.T) {
	path := newPath(t)
	require.NoError(t, os.WriteFile(path, []byte("a,b\n1,2\n"), 0o600))

	v := New(path)
	require.NoError(t, v.Open(nil))

	_, err := v.Add(Entry{Title: "x"})
	assert.ErrorIs(t, err, ErrCustomHeader)
	_, err = v.List()
	assert.ErrorIs(t, err, ErrCustomHeader)

	table, err := v.Table()
	require.NoError(t, err)
	table.Append("3", "4")
	require.NoError(t, v.Save())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "a,b\n1,2\n3,4\n", string(raw))
}

func TestVault_ImportExport(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "import.csv")
	require.NoError(t, os.WriteFile(src, []byte(strings.Join([]string{
		"Title,USER,password,extra",
		"Mail,jdoe,\"p,w\",dropped",
		"Bank,acct",
	}, "\n")+"\n"), 0o600))

	v := New(filepath.Join(dir, "vault.csv"), WithCodec(fastCodec()))
	require.NoError(t, v.Create(pw("secret")))

	n, err := v.Import(src, csvcodec.DefaultDialect())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	entries, err := v.List()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "Mail", entries[0].Title)
	assert.Equal(t, "jdoe", entries[0].Username)
	assert.Equal(t, "p,w", entries[0].Password)
	assert.Equal(t, "", entries[0].Notes)
	assert.Equal(t, "acct", entries[1].Username)
	assert.Equal(t, "", entries[1].Password)
	assert.NotEmpty(t, entries[0].ID)
	assert.NotEqual(t, entries[0].ID, entries[1].ID)

	out := filepath.Join(dir, "export.csv")
	d := csvcodec.DefaultDialect()
	d.Delimiter = ';'
	require.NoError(t, v.Export(out, d))

	exported, err := OpenVault(out, nil, WithDialect(d))
	require.NoError(t, err)
	assert.False(t, exported.Custom)
	got, err := exported.Entries()
	require.NoError(t, err)
	assert.Equal(t, entries, got)

	other := New(filepath.Join(dir, "other.csv"))
	require.NoError(t, other.Create(nil))
	_, err = other.Import(out, d)
	require.NoError(t, err)
	again, err := other.List()
	require.NoError(t, err)
	assert.Equal(t, entries, again, "existing IDs are kept on import")
}

func TestVault_ImportErrors(t *testing.T) {
	dir := t.TempDir()
	v := New(filepath.Join(dir, "vault.csv"))
	require.NoError(t, v.Create(nil))

	_, err := v.Import(filepath.Join(dir, "absent.csv"), csvcodec.DefaultDialect())
	assert.ErrorIs(t, err, ErrUnreadable)

	bad := filepath.Join(dir, "bad.csv")
	require.NoError(t, os.WriteFile(bad, []byte("title\na\"b\n"), 0o600))
	_, err = v.Import(bad, csvcodec.DefaultDialect())
	assert.ErrorIs(t, err, csvcodec.ErrBareQuote)

	entries, err := v.List()
	require.NoError(t, err)
	assert.Empty(t, entries, "a failed import adds nothing")

	require.NoError(t, v.Lock())
	_, err = v.Import(bad, csvcodec.DefaultDialect())
	assert.ErrorIs(t, err, ErrLocked)
	assert.ErrorIs(t, v.Export(filepath.Join(dir, "out.csv"), csvcodec.DefaultDialect()), ErrLocked)
}
