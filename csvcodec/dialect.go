package csvcodec

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	validation "github.com/jellydator/validation"
)

var ErrInvalidDialect = errors.New("csv: invalid dialect")

// Dialect configures both parsing and rendering.
type Dialect struct {
	Delimiter rune
	Quote     rune

	// BufferSize is the initial capacity of the per-field buffer.
	BufferSize int
	// MaxFieldSize bounds the decoded size of a field in bytes; 0 means no
	// limit. Exceeding it is always fatal.
	MaxFieldSize int

	// NullValue is the sentinel recognised when UseNull is set. Only an
	// unquoted field whose raw text equals it is null. It must not be empty:
	// a record holding a single null field would render as an empty line.
	NullValue string
	UseNull   bool

	// SkipEmptyLines drops lines with no fields at all.
	SkipEmptyLines bool
	// SkipBlankLines drops lines made only of spaces and tabs.
	SkipBlankLines bool

	// StrictQuotes rejects quotes that are neither opening, closing nor
	// doubled. AllowUnescapedQuotes overrides it and records a warning on the
	// field instead.
	StrictQuotes         bool
	AllowUnescapedQuotes bool

	// UseCRLF terminates rendered records with \r\n instead of \n.
	UseCRLF bool
}

// DefaultDialect is comma separated, double-quote quoted, strict, and skips
// empty lines.
func DefaultDialect() Dialect {
	return Dialect{
		Delimiter:      ',',
		Quote:          '"',
		BufferSize:     1024,
		SkipEmptyLines: true,
		StrictQuotes:   true,
	}
}

// Tolerant reports whether quoting anomalies become field warnings rather
// than fatal errors.
func (d Dialect) Tolerant() bool {
	return !d.StrictQuotes || d.AllowUnescapedQuotes
}

var specialRune = validation.By(func(value interface{}) error {
	r, ok := value.(rune)
	if !ok {
		return validation.NewError("validation_csv_rune_type", "must be a rune")
	}
	if r == '\r' || r == '\n' || r == utf8.RuneError || !utf8.ValidRune(r) {
		return validation.NewError("validation_csv_rune", "must be a valid rune other than CR or LF")
	}
	return nil
})

// Validate checks that the dialect is unambiguous.
func (d Dialect) Validate() error {
	err := validation.ValidateStruct(&d,
		validation.Field(&d.Delimiter, validation.Required, specialRune),
		validation.Field(&d.Quote, validation.Required, specialRune, validation.NotIn(d.Delimiter)),
		validation.Field(&d.BufferSize, validation.Min(0)),
		validation.Field(&d.MaxFieldSize, validation.Min(0)),
		validation.Field(&d.NullValue, validation.By(func(value interface{}) error {
			s, _ := value.(string)
			if d.UseNull && s == "" {
				return validation.NewError("validation_csv_null_empty", "must not be empty when nulls are enabled")
			}
			if strings.ContainsAny(s, "\r\n") || strings.ContainsRune(s, d.Delimiter) || strings.ContainsRune(s, d.Quote) {
				return validation.NewError("validation_csv_null", "must not contain the delimiter, the quote or a newline")
			}
			return nil
		})),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDialect, err)
	}
	return nil
}
