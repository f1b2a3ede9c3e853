package vault

import (
	"errors"
	"slices"

	"github.com/fahmaliyi/csvault/csvcodec"
)

// Open failures are reduced to exactly one of these three so callers can show
// them verbatim without leaking why decoding failed.
var (
	ErrWrongPassword = errors.New("wrong password or corrupted file")
	ErrUnreadable    = errors.New("file not readable")
	ErrUnrecognized  = errors.New("file format not recognized")
)

var (
	ErrWriteFailed     = errors.New("vault: write failed")
	ErrLocked          = errors.New("vault: locked")
	ErrClosed          = errors.New("vault: closed")
	ErrEmptyPassphrase = errors.New("vault: empty passphrase")
	ErrCustomHeader    = errors.New("vault: table has a custom header")
	ErrNotFound        = errors.New("vault: entry not found")
)

var (
	canonicalHeader = []string{"uuid", "group", "title", "url", "user", "password", "notes"}
	displayHeader   = []string{"UUID", "Group", "Title", "URL", "User", "Password", "Notes"}
)

const (
	colID = iota
	colGroup
	colTitle
	colURL
	colUser
	colPassword
	colNotes
)

// CanonicalHeader is the header line written to disk for entry tables.
func CanonicalHeader() []string { return slices.Clone(canonicalHeader) }

// DisplayHeader is the header an entry table carries in memory.
func DisplayHeader() []string { return slices.Clone(displayHeader) }

type Entry struct {
	ID       string
	Group    string
	Title    string
	URL      string
	Username string
	Password string
	Notes    string
}

func entryFromRecord(r csvcodec.Record) Entry {
	return Entry{
		ID:       r.Value(colID),
		Group:    r.Value(colGroup),
		Title:    r.Value(colTitle),
		URL:      r.Value(colURL),
		Username: r.Value(colUser),
		Password: r.Value(colPassword),
		Notes:    r.Value(colNotes),
	}
}

func (e Entry) record() csvcodec.Record {
	return csvcodec.NewRecord(e.ID, e.Group, e.Title, e.URL, e.Username, e.Password, e.Notes)
}

// Table is a decrypted record set. Entry tables hold DisplayHeader; a file
// whose first line is anything other than the canonical header is kept as a
// custom table with that line verbatim.
type Table struct {
	csvcodec.Table
	Custom bool
}

// NewTable returns an empty entry table.
func NewTable() *Table {
	return &Table{Table: csvcodec.Table{Header: DisplayHeader()}}
}

func tableFromCSV(t *csvcodec.Table) *Table {
	if len(t.Header) == 0 {
		nt := NewTable()
		nt.Records = t.Records
		return nt
	}
	if slices.Equal(t.Header, canonicalHeader) {
		t.Header = DisplayHeader()
		return &Table{Table: *t}
	}
	return &Table{Table: *t, Custom: true}
}

// csv returns the table as it is written to disk.
func (t *Table) csv() *csvcodec.Table {
	header := t.Header
	if !t.Custom {
		header = canonicalHeader
	}
	return &csvcodec.Table{Header: header, Records: t.Records}
}

// Entries returns the rows of an entry table.
func (t *Table) Entries() ([]Entry, error) {
	if t.Custom {
		return nil, ErrCustomHeader
	}
	entries := make([]Entry, len(t.Records))
	for i, r := range t.Records {
		entries[i] = entryFromRecord(r)
	}
	return entries, nil
}

func (t *Table) find(id string) int {
	for i, r := range t.Records {
		if r.Value(colID) == id {
			return i
		}
	}
	return -1
}
