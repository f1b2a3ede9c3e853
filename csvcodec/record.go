package csvcodec

// Field is one decoded value with the metadata the parser derived for it.
type Field struct {
	Value  string
	Empty  bool
	Null   bool
	Quoted bool

	// Start and End are byte offsets of the raw field text in the input,
	// quotes included. End is exclusive.
	Start, End int

	// Errors holds non-fatal anomalies found while parsing this field.
	Errors []*ParseError
}

// Text returns a plain field holding v.
func Text(v string) Field {
	return Field{Value: v, Empty: v == ""}
}

// Null returns a null field.
func Null() Field {
	return Field{Null: true}
}

// Record is one logical line. Fields are addressed by position.
type Record struct {
	// Line is the 1-based physical line the record starts on.
	Line   int
	Fields []Field
	// Errors aggregates the Errors of every field.
	Errors []*ParseError
}

// NewRecord builds a record of plain text fields.
func NewRecord(values ...string) Record {
	fields := make([]Field, len(values))
	for i, v := range values {
		fields[i] = Text(v)
	}
	return Record{Fields: fields}
}

func (r Record) Len() int { return len(r.Fields) }

// Value returns the value at i, or "" when i is out of range.
func (r Record) Value(i int) string {
	if i < 0 || i >= len(r.Fields) {
		return ""
	}
	return r.Fields[i].Value
}

func (r Record) Values() []string {
	values := make([]string, len(r.Fields))
	for i, f := range r.Fields {
		values[i] = f.Value
	}
	return values
}

// Table is an ordered set of records sharing one header.
type Table struct {
	Header  []string
	Records []Record

	// HeaderErrors holds warnings raised while parsing the header line.
	HeaderErrors []*ParseError
}

// Index returns the position of the first column named name, or -1.
func (t *Table) Index(name string) int {
	for i, h := range t.Header {
		if h == name {
			return i
		}
	}
	return -1
}

// Value returns the named column of the row-th record.
func (t *Table) Value(row int, name string) (string, bool) {
	i := t.Index(name)
	if i < 0 || row < 0 || row >= len(t.Records) || i >= len(t.Records[row].Fields) {
		return "", false
	}
	return t.Records[row].Fields[i].Value, true
}

// Append adds a record of plain values.
func (t *Table) Append(values ...string) {
	t.Records = append(t.Records, NewRecord(values...))
}

// Warnings returns every non-fatal parse error in the table, header first.
func (t *Table) Warnings() []*ParseError {
	var out []*ParseError
	out = append(out, t.HeaderErrors...)
	for _, r := range t.Records {
		out = append(out, r.Errors...)
	}
	return out
}
