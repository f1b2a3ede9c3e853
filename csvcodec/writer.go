package csvcodec

import (
	"bufio"
	"bytes"
	"io"
	"strings"
)

// Writer renders records in a Dialect. Every field is escaped on its own and
// the last field of a record is terminated by the line break, not by a
// delimiter.
type Writer struct {
	d Dialect
	w *bufio.Writer
}

func NewWriter(w io.Writer, d Dialect) *Writer {
	return &Writer{d: d, w: bufio.NewWriter(w)}
}

// Render encodes the header followed by every record.
func Render(t *Table, d Dialect) ([]byte, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := NewWriter(&buf, d).WriteAll(t); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteAll writes the header (when present) and all records, then flushes.
func (w *Writer) WriteAll(t *Table) error {
	if len(t.Header) > 0 {
		if err := w.WriteValues(t.Header...); err != nil {
			return err
		}
	}
	for _, r := range t.Records {
		if err := w.Write(r); err != nil {
			return err
		}
	}
	return w.Flush()
}

func (w *Writer) WriteValues(values ...string) error {
	return w.Write(NewRecord(values...))
}

func (w *Writer) Write(r Record) error {
	for i, f := range r.Fields {
		if i > 0 {
			if _, err := w.w.WriteRune(w.d.Delimiter); err != nil {
				return err
			}
		}

		if f.Null && w.d.UseNull {
			if _, err := w.w.WriteString(w.d.NullValue); err != nil {
				return err
			}
			continue
		}

		quote := w.fieldNeedsQuotes(f.Value) ||
			(w.d.UseNull && f.Value == w.d.NullValue) ||
			(len(r.Fields) == 1 && f.Value == "")
		if !quote {
			if _, err := w.w.WriteString(f.Value); err != nil {
				return err
			}
			continue
		}

		if err := w.writeQuoted(f.Value); err != nil {
			return err
		}
	}

	var err error
	if w.d.UseCRLF {
		_, err = w.w.WriteString("\r\n")
	} else {
		err = w.w.WriteByte('\n')
	}
	return err
}

func (w *Writer) writeQuoted(v string) error {
	q := string(w.d.Quote)
	if _, err := w.w.WriteString(q); err != nil {
		return err
	}
	if _, err := w.w.WriteString(strings.ReplaceAll(v, q, q+q)); err != nil {
		return err
	}
	_, err := w.w.WriteString(q)
	return err
}

func (w *Writer) Flush() error {
	return w.w.Flush()
}

// fieldNeedsQuotes reports whether v must be quoted. Commas and edge
// whitespace are quoted even when the delimiter is something else so the
// output stays portable across tools. Edge whitespace also keeps a sole
// field of spaces and tabs from being read back as a blank line.
func (w *Writer) fieldNeedsQuotes(v string) bool {
	if v == "" {
		return false
	}
	if strings.ContainsRune(v, w.d.Delimiter) || strings.ContainsRune(v, w.d.Quote) ||
		strings.ContainsAny(v, ",\r\n") {
		return true
	}
	return isSpaceOrTab(v[0]) || isSpaceOrTab(v[len(v)-1])
}

func isSpaceOrTab(c byte) bool {
	return c == ' ' || c == '\t'
}
