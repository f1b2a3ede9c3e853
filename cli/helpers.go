package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"golang.org/x/term"
)

// PassphraseEnv names the variable consulted before prompting for the
// master passphrase.
const PassphraseEnv = "VAULT_PASSPHRASE"

// IOTuple holds the streams commands read from and write to.
type IOTuple struct {
	Reader io.Reader
	Writer io.Writer
}

func DefaultIO() IOTuple {
	return IOTuple{
		Reader: os.Stdin,
		Writer: os.Stdout,
	}
}

// GetVaultPath returns path, or ~/.csvault/vault.csv when path is empty.
func GetVaultPath(path string) (string, error) {
	if path != "" {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	dir := filepath.Join(home, ".csvault")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}

	return filepath.Join(dir, "vault.csv"), nil
}

// SecretReader reads one secret per call.
type SecretReader func(prompt string) ([]byte, error)

// newSecretReader reads through terminal when streams.Reader is a terminal
// and one line at a time from lines otherwise.
func newSecretReader(streams IOTuple, lines *bufio.Reader, terminal func(io.Writer, *os.File, string) ([]byte, error)) SecretReader {
	if f, ok := streams.Reader.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return func(prompt string) ([]byte, error) {
			return terminal(streams.Writer, f, prompt)
		}
	}
	return func(prompt string) ([]byte, error) {
		fmt.Fprint(streams.Writer, prompt)
		line, err := lines.ReadString('\n')
		if err != nil && (!errors.Is(err, io.EOF) || line == "") {
			return nil, fmt.Errorf("failed to read input: %w", err)
		}
		fmt.Fprintln(streams.Writer)
		return []byte(strings.TrimRight(line, "\r\n")), nil
	}
}

func ReadPassword(w io.Writer, f *os.File, prompt string) ([]byte, error) {
	fmt.Fprint(w, prompt)
	pw, err := term.ReadPassword(int(f.Fd()))
	fmt.Fprintln(w)

	return pw, err
}

// ReadPasswordMasked reads a line in raw mode, echoing '*' per character.
func ReadPasswordMasked(w io.Writer, f *os.File, prompt string) ([]byte, error) {
	fmt.Fprint(w, prompt)
	fd := int(f.Fd())
	state, err := term.MakeRaw(fd)
	if err != nil {
		return nil, err
	}
	defer term.Restore(fd, state)

	var input []byte
	var buf [1]byte
	for {
		if _, err := f.Read(buf[:]); err != nil {
			return nil, err
		}

		switch c := buf[0]; c {
		case 13, 10: // Enter
			fmt.Fprint(w, "\r\n")
			return input, nil
		case 3: // Ctrl+C
			fmt.Fprint(w, "\r\n")
			return nil, errors.New("interrupted")
		case 127, 8: // Backspace
			if len(input) > 0 {
				_, size := utf8.DecodeLastRune(input)
				input = input[:len(input)-size]
				fmt.Fprint(w, "\b \b")
			}
		default:
			input = append(input, c)
			// One star per rune: continuation bytes of UTF-8 are silent.
			if c&0xC0 != 0x80 {
				fmt.Fprint(w, "*")
			}
		}
	}
}
