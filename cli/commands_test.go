package cli

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fahmaliyi/csvault/config"
	"github.com/fahmaliyi/csvault/metrics"
	"github.com/fahmaliyi/csvault/vault"
)

func testConfig(path string) *config.Config {
	return &config.Config{
		VaultFile:        path,
		KDF:              "pbkdf2",
		PBKDF2Iterations: 1,
		PBKDF2Hash:       "sha256",
		Cipher:           "aes-gcm",
		Format:           "v1",
		CSVDelimiter:     ",",
		CSVStrict:        true,
		LogLevel:         "error",
		MetricsNamespace: "csvault",
	}
}

func newTestApp(path, input string) (*App, *bytes.Buffer) {
	out := &bytes.Buffer{}
	app := NewApp(
		testConfig(path),
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		metrics.NewNoOpBusinessMetrics(),
		IOTuple{Reader: strings.NewReader(input), Writer: out},
	)
	return app, out
}

func withPassphrase(t *testing.T, p string) {
	t.Setenv(PassphraseEnv, p)
}

func withoutPassphrase(t *testing.T) {
	t.Setenv(PassphraseEnv, "")
	require.NoError(t, os.Unsetenv(PassphraseEnv))
}

func initVault(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vault.csv")
	app, _ := newTestApp(path, "")
	require.NoError(t, app.RunInit())
	return path
}

func TestRunInit(t *testing.T) {
	t.Run("passphrase from environment", func(t *testing.T) {
		withPassphrase(t, "secret")
		path := filepath.Join(t.TempDir(), "vault.csv")

		app, out := newTestApp(path, "")
		require.NoError(t, app.RunInit())
		assert.Contains(t, out.String(), "Vault created at "+path)

		codec, err := app.Config.Codec()
		require.NoError(t, err)
		_, err = vault.OpenVault(path, []byte("secret"), vault.WithCodec(codec))
		require.NoError(t, err)

		app, _ = newTestApp(path, "")
		assert.ErrorIs(t, app.RunInit(), ErrVaultExists)
	})

	t.Run("prompted passphrase is confirmed", func(t *testing.T) {
		withoutPassphrase(t)
		path := filepath.Join(t.TempDir(), "vault.csv")

		app, _ := newTestApp(path, "one\ntwo\n")
		assert.ErrorIs(t, app.RunInit(), errPassphraseMismatch)
		assert.NoFileExists(t, path)

		app, out := newTestApp(path, "same\nsame\n")
		require.NoError(t, app.RunInit())
		assert.Contains(t, out.String(), "New master passphrase: ")
		assert.Contains(t, out.String(), "Confirm passphrase: ")
	})

	t.Run("plaintext", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "vault.csv")
		app, _ := newTestApp(path, "")
		app.Plaintext = true
		require.NoError(t, app.RunInit())

		raw, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "uuid,group,title,url,user,password,notes\n", string(raw))
	})
}

func TestRunAddListShowRemove(t *testing.T) {
	withPassphrase(t, "secret")
	path := initVault(t)

	app, out := newTestApp(path, "")
	require.NoError(t, app.RunAdd(EntryFields{Title: "Mail", Username: "jdoe", Group: "Work", Password: "p,w\"1"}))
	assert.Contains(t, out.String(), "Entry added!")

	app, _ = newTestApp(path, "hunter2\n")
	require.NoError(t, app.RunAdd(EntryFields{Title: "Bank", URL: "https://bank.example"}))

	app, out = newTestApp(path, "")
	require.NoError(t, app.RunList())
	assert.Equal(t,
		"1) Title: Mail | Username: jdoe | Group: Work\n2) Title: Bank | Username:  | Group: \n",
		out.String())

	app, out = newTestApp(path, "")
	require.NoError(t, app.RunShow("1", false))
	assert.Contains(t, out.String(), "Password: ********")
	assert.NotContains(t, out.String(), "p,w")

	app, out = newTestApp(path, "")
	require.NoError(t, app.RunShow("2", true))
	assert.Contains(t, out.String(), "Password: hunter2\n")
	assert.Contains(t, out.String(), "URL: https://bank.example\n")

	for _, n := range []string{"0", "3", "x"} {
		app, _ = newTestApp(path, "")
		assert.ErrorContains(t, app.RunShow(n, false), "invalid item number")
	}

	app, _ = newTestApp(path, "")
	assert.ErrorContains(t, app.RunAdd(EntryFields{}), "title is required")

	app, out = newTestApp(path, "")
	require.NoError(t, app.RunRemove("1"))
	assert.Contains(t, out.String(), `Entry "Mail" deleted!`)

	app, out = newTestApp(path, "")
	require.NoError(t, app.RunList())
	assert.Equal(t, "1) Title: Bank | Username:  | Group: \n", out.String())
}

func TestRunRemove_DuplicateIDs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.csv")
	content := "uuid,group,title,url,user,password,notes\n" +
		"dup,,first,,,,\n" +
		"dup,,second,,,,\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	app, out := newTestApp(path, "")
	app.Plaintext = true
	require.NoError(t, app.RunRemove("2"))
	assert.Contains(t, out.String(), `Entry "second" deleted!`)

	app, out = newTestApp(path, "")
	app.Plaintext = true
	require.NoError(t, app.RunList())
	assert.Equal(t, "1) Title: first | Username:  | Group: \n", out.String())
}

func TestRun_WrongPassphrase(t *testing.T) {
	withPassphrase(t, "secret")
	path := initVault(t)

	withPassphrase(t, "other")
	app, _ := newTestApp(path, "")
	err := app.RunList()
	assert.Equal(t, vault.ErrWrongPassword, err)
	assert.EqualError(t, err, "wrong password or corrupted file")
}

func TestRun_MissingVault(t *testing.T) {
	withPassphrase(t, "secret")
	app, _ := newTestApp(filepath.Join(t.TempDir(), "absent.csv"), "")
	assert.Equal(t, vault.ErrUnreadable, app.RunList())
	assert.Equal(t, vault.ErrUnreadable, app.RunInfo())
}

func TestRunList_CustomHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.csv")
	require.NoError(t, os.WriteFile(path, []byte("site,login\nexample.com,me\n"), 0o600))

	app, out := newTestApp(path, "")
	app.Plaintext = true
	require.NoError(t, app.RunList())
	assert.Equal(t, "site | login\n1) example.com | me\n", out.String())

	app, _ = newTestApp(path, "")
	app.Plaintext = true
	assert.ErrorIs(t, app.RunAdd(EntryFields{Title: "x", Password: "y"}), vault.ErrCustomHeader)
}

func TestRunImportExport(t *testing.T) {
	withPassphrase(t, "secret")
	path := initVault(t)
	dir := filepath.Dir(path)

	src := filepath.Join(dir, "in.csv")
	require.NoError(t, os.WriteFile(src, []byte("title,user,password\nMail,jdoe,pw1\nBank,acct,pw2\n"), 0o600))

	app, out := newTestApp(path, "")
	require.NoError(t, app.RunImport(src))
	assert.Contains(t, out.String(), "Imported 2 entries")

	dst := filepath.Join(dir, "out.csv")
	app, out = newTestApp(path, "")
	require.NoError(t, app.RunExport(dst))
	assert.Contains(t, out.String(), "(plaintext)")

	raw, err := os.ReadFile(dst)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(raw), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "uuid,group,title,url,user,password,notes", lines[0])
	assert.True(t, strings.HasSuffix(lines[1], ",,Mail,,jdoe,pw1,"), lines[1])

	app, _ = newTestApp(path, "")
	assert.Error(t, app.RunImport(""))
	app, _ = newTestApp(path, "")
	assert.Error(t, app.RunExport(""))
}

func TestRunPasswd(t *testing.T) {
	withPassphrase(t, "old")
	path := initVault(t)

	app, _ := newTestApp(path, "new\nnope\n")
	assert.ErrorIs(t, app.RunPasswd(false), errPassphraseMismatch)

	app, out := newTestApp(path, "new\nnew\n")
	require.NoError(t, app.RunPasswd(false))
	assert.Contains(t, out.String(), "Passphrase changed.")

	app, _ = newTestApp(path, "")
	assert.Equal(t, vault.ErrWrongPassword, app.RunList())

	withPassphrase(t, "new")
	app, _ = newTestApp(path, "")
	require.NoError(t, app.RunList())

	app, out = newTestApp(path, "")
	require.NoError(t, app.RunPasswd(true))
	assert.Contains(t, out.String(), "plaintext")

	app, out = newTestApp(path, "")
	app.Plaintext = true
	require.NoError(t, app.RunList())
	assert.Contains(t, out.String(), "Vault is empty.")
}

func TestRunInfo(t *testing.T) {
	withPassphrase(t, "secret")
	path := initVault(t)

	app, out := newTestApp(path, "")
	require.NoError(t, app.RunInfo())
	assert.Contains(t, out.String(), "Format: v1\n")
	assert.Contains(t, out.String(), "KDF: pbkdf2 (iterations=1, hash=sha256)\n")
	assert.Contains(t, out.String(), "Cipher: aes-gcm\n")
	assert.Contains(t, out.String(), "Nonce: 12 bytes\n")
	assert.Contains(t, out.String(), "Salt: 16 bytes\n")

	plain := filepath.Join(t.TempDir(), "plain.csv")
	require.NoError(t, os.WriteFile(plain, []byte("uuid,group,title,url,user,password,notes\n"), 0o600))
	app, out = newTestApp(plain, "")
	require.NoError(t, app.RunInfo())
	assert.Contains(t, out.String(), "Format: plaintext\n")
}

func TestGetVaultPath(t *testing.T) {
	path, err := GetVaultPath("/tmp/explicit.csv")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/explicit.csv", path)

	home := t.TempDir()
	t.Setenv("HOME", home)
	path, err = GetVaultPath("")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".csvault", "vault.csv"), path)
	assert.DirExists(t, filepath.Join(home, ".csvault"))
}
