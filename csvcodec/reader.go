// Package csvcodec parses and renders delimited text (CSV and its dialects)
// with per-field metadata and a strict or tolerant quoting policy.
package csvcodec

import (
	"bytes"
	"errors"
	"fmt"
	"unicode/utf8"
)

var (
	ErrBareQuote     = errors.New("bare quote in non-quoted field")
	ErrQuote         = errors.New("extraneous or missing quote in quoted field")
	ErrUnterminated  = errors.New("unterminated quoted field")
	ErrFieldTooLarge = errors.New("field too large")
)

// ParseError locates a parse anomaly. Returned from Parse it is fatal;
// attached to a Field or Record it is a warning.
type ParseError struct {
	Line   int // 1-based physical line
	Field  int // 0-based field index within the record
	Offset int // byte offset in the input
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("csv: line %d, field %d, offset %d: %v", e.Line, e.Field, e.Offset, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

type state int

const (
	stateFieldStart state = iota
	stateInField
	stateInQuotedField
	stateQuoteInQuotedField
)

var bom = []byte{0xEF, 0xBB, 0xBF}

type parser struct {
	d        Dialect
	tolerant bool
	data     []byte
	pos      int
	line     int

	records []Record
	rec     Record
	started bool

	buf        []byte
	fieldStart int
	fieldLine  int
	quoted     bool
	fieldErrs  []*ParseError
}

// Parse decodes data into records. A *ParseError is returned for structural
// violations: quoting errors in strict mode, an unterminated quoted field in
// strict mode and oversize fields in any mode.
func Parse(data []byte, d Dialect) ([]Record, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	p := &parser{
		d:        d,
		tolerant: d.Tolerant(),
		data:     data,
		line:     1,
		buf:      make([]byte, 0, d.BufferSize),
	}
	if bytes.HasPrefix(data, bom) {
		p.pos = len(bom)
	}
	if err := p.run(); err != nil {
		return nil, err
	}
	return p.records, nil
}

// ParseTable parses data and uses the first record as the header.
func ParseTable(data []byte, d Dialect) (*Table, error) {
	records, err := Parse(data, d)
	if err != nil {
		return nil, err
	}
	t := &Table{}
	if len(records) > 0 {
		t.Header = records[0].Values()
		t.HeaderErrors = records[0].Errors
		t.Records = records[1:]
	}
	return t, nil
}

func (p *parser) run() error {
	st := stateFieldStart
	p.beginRecord()

	for p.pos < len(p.data) {
		at := p.pos
		r, size := utf8.DecodeRune(p.data[at:])
		p.pos += size

		switch st {
		case stateFieldStart:
			switch {
			case r == p.d.Quote:
				p.startField(at)
				p.quoted = true
				st = stateInQuotedField
			case r == p.d.Delimiter:
				p.startField(at)
				p.endField(at)
			case r == '\r' || r == '\n':
				if p.started {
					p.startField(at)
					p.endField(at)
				}
				p.endLine(r)
			default:
				p.startField(at)
				if err := p.appendRaw(at, size); err != nil {
					return err
				}
				st = stateInField
			}

		case stateInField:
			switch {
			case r == p.d.Delimiter:
				p.endField(at)
				st = stateFieldStart
			case r == '\r' || r == '\n':
				p.endField(at)
				p.endLine(r)
				st = stateFieldStart
			case r == p.d.Quote:
				if !p.tolerant {
					return p.errorAt(at, ErrBareQuote)
				}
				p.warn(at, ErrBareQuote)
				if err := p.appendRaw(at, size); err != nil {
					return err
				}
			default:
				if err := p.appendRaw(at, size); err != nil {
					return err
				}
			}

		case stateInQuotedField:
			switch {
			case r == p.d.Quote:
				st = stateQuoteInQuotedField
			default:
				if err := p.appendRaw(at, size); err != nil {
					return err
				}
				if r == '\n' || (r == '\r' && !p.peekLF()) {
					p.line++
				}
			}

		case stateQuoteInQuotedField:
			switch {
			case r == p.d.Quote:
				if err := p.appendRaw(at, size); err != nil {
					return err
				}
				st = stateInQuotedField
			case r == p.d.Delimiter:
				p.endField(at)
				st = stateFieldStart
			case r == '\r' || r == '\n':
				p.endField(at)
				p.endLine(r)
				st = stateFieldStart
			default:
				if !p.tolerant {
					return p.errorAt(at, ErrQuote)
				}
				// The closing quote was not a closing quote: keep it and
				// continue the field unquoted.
				p.warn(at-utf8.RuneLen(p.d.Quote), ErrQuote)
				if err := p.appendRune(p.d.Quote); err != nil {
					return err
				}
				if err := p.appendRaw(at, size); err != nil {
					return err
				}
				st = stateInField
			}
		}
	}

	end := len(p.data)
	switch st {
	case stateInQuotedField:
		if !p.tolerant {
			return &ParseError{Line: p.fieldLine, Field: len(p.rec.Fields), Offset: p.fieldStart, Err: ErrUnterminated}
		}
		p.warn(end, ErrUnterminated)
		p.endField(end)
		p.endRecord()
	case stateInField, stateQuoteInQuotedField:
		p.endField(end)
		p.endRecord()
	case stateFieldStart:
		if p.started {
			p.startField(end)
			p.endField(end)
			p.endRecord()
		}
	}
	return nil
}

func (p *parser) peekLF() bool {
	return p.pos < len(p.data) && p.data[p.pos] == '\n'
}

func (p *parser) beginRecord() {
	p.rec = Record{Line: p.line}
	p.started = false
}

func (p *parser) startField(at int) {
	p.fieldStart = at
	p.fieldLine = p.line
	p.started = true
}

func (p *parser) appendRaw(at, size int) error {
	p.buf = append(p.buf, p.data[at:at+size]...)
	return p.checkSize(at)
}

func (p *parser) appendRune(r rune) error {
	p.buf = utf8.AppendRune(p.buf, r)
	return p.checkSize(p.pos)
}

func (p *parser) checkSize(at int) error {
	if p.d.MaxFieldSize > 0 && len(p.buf) > p.d.MaxFieldSize {
		return p.errorAt(at, ErrFieldTooLarge)
	}
	return nil
}

func (p *parser) endField(end int) {
	f := Field{
		Value:  string(p.buf),
		Quoted: p.quoted,
		Start:  p.fieldStart,
		End:    end,
		Errors: p.fieldErrs,
	}
	if p.d.UseNull && !f.Quoted && f.Value == p.d.NullValue {
		f.Null = true
		f.Value = ""
	}
	f.Empty = f.Value == "" && !f.Null

	p.rec.Fields = append(p.rec.Fields, f)
	p.rec.Errors = append(p.rec.Errors, p.fieldErrs...)

	p.buf = p.buf[:0]
	p.quoted = false
	p.fieldErrs = nil
}

// endLine consumes the LF of a CRLF pair, closes the record and advances
// the physical line counter.
func (p *parser) endLine(r rune) {
	if r == '\r' && p.peekLF() {
		p.pos++
	}
	p.endRecord()
	p.line++
	p.beginRecord()
}

func (p *parser) endRecord() {
	rec := p.rec
	switch {
	case len(rec.Fields) == 0:
		if p.d.SkipEmptyLines {
			return
		}
	case p.d.SkipBlankLines && isBlank(rec):
		return
	}
	p.records = append(p.records, rec)
}

func isBlank(rec Record) bool {
	if len(rec.Fields) != 1 || rec.Fields[0].Quoted || rec.Fields[0].Value == "" {
		return false
	}
	for _, c := range rec.Fields[0].Value {
		if c != ' ' && c != '\t' {
			return false
		}
	}
	return true
}

func (p *parser) warn(at int, err error) {
	p.fieldErrs = append(p.fieldErrs, &ParseError{Line: p.line, Field: len(p.rec.Fields), Offset: at, Err: err})
}

func (p *parser) errorAt(at int, err error) *ParseError {
	return &ParseError{Line: p.line, Field: len(p.rec.Fields), Offset: at, Err: err}
}
