package vault

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fahmaliyi/csvault/csvcodec"
)

// Import appends the rows of a plaintext delimited file. Columns are
// matched to the current header by name, ignoring case; columns the table
// does not have are dropped and missing ones are left empty. Imported entry
// rows without an ID get a fresh UUID. It returns the number of rows added.
func (v *Vault) Import(path string, d csvcodec.Dialect) (int, error) {
	start := time.Now()
	n, err := v.importFile(path, d)
	v.opts.observe("import", start, err)
	return n, err
}

func (v *Vault) importFile(path string, d csvcodec.Dialect) (int, error) {
	if err := v.check(); err != nil {
		return 0, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	src, err := csvcodec.ParseTable(raw, d)
	if err != nil {
		return 0, fmt.Errorf("import %s: %w", path, err)
	}
	for _, w := range src.Warnings() {
		v.opts.logger.Warn("import parse warning", slog.String("path", path), slog.Int("line", w.Line),
			slog.Int("field", w.Field), slog.Any("error", w.Err))
	}

	// mapping[i] is the source column feeding destination column i.
	mapping := make([]int, len(v.table.Header))
	for i, name := range v.table.Header {
		mapping[i] = -1
		for j, srcName := range src.Header {
			if strings.EqualFold(strings.TrimSpace(srcName), name) {
				mapping[i] = j
				break
			}
		}
	}

	for _, rec := range src.Records {
		fields := make([]csvcodec.Field, len(mapping))
		for i, j := range mapping {
			if j >= 0 && j < len(rec.Fields) {
				f := rec.Fields[j]
				fields[i] = csvcodec.Field{Value: f.Value, Empty: f.Empty, Null: f.Null}
			} else {
				fields[i] = csvcodec.Text("")
			}
		}
		if !v.table.Custom && fields[colID].Value == "" {
			fields[colID] = csvcodec.Text(uuid.NewString())
		}
		v.table.Records = append(v.table.Records, csvcodec.Record{Fields: fields})
	}

	v.opts.logger.Info("vault import", slog.String("path", path), slog.Int("records", len(src.Records)))
	return len(src.Records), nil
}

// Export writes the table as plaintext delimited text. Entry tables are
// written with the canonical header so the file can be imported or opened
// as a plaintext vault.
func (v *Vault) Export(path string, d csvcodec.Dialect) error {
	start := time.Now()
	err := v.export(path, d)
	v.opts.observe("export", start, err)
	return err
}

func (v *Vault) export(path string, d csvcodec.Dialect) error {
	if err := v.check(); err != nil {
		return err
	}
	out, err := csvcodec.Render(v.table.csv(), d)
	if err != nil {
		return err
	}
	if err := atomicWriteFile(path, out, 0o600); err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	v.opts.logger.Info("vault export", slog.String("path", path), slog.Int("records", len(v.table.Records)))
	return nil
}
