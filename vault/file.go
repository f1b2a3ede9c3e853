package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/fahmaliyi/csvault/container"
	"github.com/fahmaliyi/csvault/csvcodec"
	"github.com/fahmaliyi/csvault/kdf"
	"github.com/fahmaliyi/csvault/metrics"
)

const metricsDomain = "vault"

type options struct {
	codec   *container.Codec
	dialect csvcodec.Dialect
	logger  *slog.Logger
	metrics metrics.BusinessMetrics
}

type Option func(*options)

// WithCodec sets the container codec used for sealing and opening.
func WithCodec(c *container.Codec) Option {
	return func(o *options) { o.codec = c }
}

// WithDialect sets the dialect of the payload text.
func WithDialect(d csvcodec.Dialect) Option {
	return func(o *options) { o.dialect = d }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

func WithMetrics(m metrics.BusinessMetrics) Option {
	return func(o *options) { o.metrics = m }
}

func newOptions(opts []Option) options {
	o := options{
		codec:   container.New(),
		dialect: csvcodec.DefaultDialect(),
		logger:  slog.New(slog.DiscardHandler),
		metrics: metrics.NewNoOpBusinessMetrics(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o *options) observe(operation string, start time.Time, err error) {
	metrics.Observe(context.Background(), o.metrics, metricsDomain, operation, start, err)
}

// OpenVault reads and decodes the vault at path. A nil passphrase reads the
// file as plaintext delimited text. The passphrase is wiped. Failures are
// always ErrWrongPassword, ErrUnreadable or ErrUnrecognized.
func OpenVault(path string, passphrase []byte, opts ...Option) (*Table, error) {
	o := newOptions(opts)
	start := time.Now()
	t, err := o.load(path, passphrase)
	o.observe("open", start, err)
	return t, err
}

// SaveVault encodes t and atomically replaces the file at path. A nil
// passphrase writes plaintext. The passphrase is wiped.
func SaveVault(path string, t *Table, passphrase []byte, opts ...Option) error {
	o := newOptions(opts)
	start := time.Now()
	err := o.store(path, t, passphrase)
	o.observe("save", start, err)
	return err
}

func (o *options) load(path string, passphrase []byte) (*Table, error) {
	defer kdf.Zero(passphrase)

	raw, err := os.ReadFile(path)
	if err != nil {
		o.logger.Debug("vault read failed", slog.String("path", path), slog.Any("error", err))
		return nil, ErrUnreadable
	}

	text := raw
	if passphrase != nil {
		text, err = o.codec.Decode(raw, passphrase)
		switch {
		case errors.Is(err, container.ErrAuthenticationFailed):
			return nil, ErrWrongPassword
		case err != nil:
			o.logger.Debug("vault decode failed", slog.String("path", path), slog.Any("error", err))
			return nil, ErrUnrecognized
		}
		defer kdf.Zero(text)
	}

	parsed, err := csvcodec.ParseTable(text, o.dialect)
	if err != nil {
		o.logger.Debug("vault parse failed", slog.String("path", path), slog.Any("error", err))
		return nil, ErrUnrecognized
	}
	for _, w := range parsed.Warnings() {
		o.logger.Warn("vault parse warning", slog.String("path", path), slog.Int("line", w.Line),
			slog.Int("field", w.Field), slog.Any("error", w.Err))
	}

	t := tableFromCSV(parsed)
	o.logger.Debug("vault opened", slog.String("path", path), slog.Int("records", len(t.Records)),
		slog.Bool("custom_header", t.Custom), slog.Bool("encrypted", passphrase != nil))
	return t, nil
}

func (o *options) store(path string, t *Table, passphrase []byte) error {
	defer kdf.Zero(passphrase)

	out, err := csvcodec.Render(t.csv(), o.dialect)
	if err != nil {
		return err
	}
	if passphrase != nil {
		plain := out
		out, err = o.codec.Encode(plain, passphrase)
		kdf.Zero(plain)
		if err != nil {
			return err
		}
	}

	err = atomicWriteFile(path, out, 0o600)
	switch {
	case errors.Is(err, errNotDurable):
		o.logger.Warn("vault saved without directory sync", slog.String("path", path), slog.Any("error", err))
	case err != nil:
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	o.logger.Debug("vault saved", slog.String("path", path), slog.Int("records", len(t.Records)),
		slog.Bool("encrypted", passphrase != nil))
	return nil
}
