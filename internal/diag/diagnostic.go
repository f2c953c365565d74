package diag

import (
	"errors"
	"strconv"
	"strings"
)

// NoPosition marks an absent line or column.
const NoPosition = -1

// ErrEmptyMessage is returned when a diagnostic is built without a message.
var ErrEmptyMessage = errors.New("diag: diagnostic message must not be empty")

// Diagnostic is one finding or fault of a validation run. The zero value is
// not a valid diagnostic; use New, MustNew or Internal.
type Diagnostic struct {
	severity Severity
	code     string
	file     string
	line     int
	column   int
	message  string
}

// New builds a diagnostic. Non-positive line/column values are treated as
// absent. An empty message is rejected.
func New(sev Severity, file string, line, column int, msg string) (Diagnostic, error) {
	if msg == "" {
		return Diagnostic{}, ErrEmptyMessage
	}
	if line < 1 {
		line = NoPosition
	}
	if column < 1 || line == NoPosition {
		column = NoPosition
	}
	return Diagnostic{
		severity: sev,
		file:     file,
		line:     line,
		column:   column,
		message:  msg,
	}, nil
}

// MustNew is like New but panics on an empty message.
func MustNew(sev Severity, file string, line, column int, msg string) Diagnostic {
	d, err := New(sev, file, line, column, msg)
	if err != nil {
		panic(err)
	}
	return d
}

// Internal builds a location-less SevInternalError diagnostic.
func Internal(msg string) Diagnostic {
	return MustNew(SevInternalError, "", NoPosition, NoPosition, msg)
}

// WithCode returns a copy carrying the validator's message id.
func (d Diagnostic) WithCode(code string) Diagnostic {
	d.code = code
	return d
}

func (d Diagnostic) Severity() Severity { return d.severity }
func (d Diagnostic) Code() string       { return d.code }
func (d Diagnostic) File() string       { return d.file }
func (d Diagnostic) HasFile() bool      { return d.file != "" }
func (d Diagnostic) Line() int          { return d.line }
func (d Diagnostic) HasLine() bool      { return d.line > 0 }
func (d Diagnostic) Column() int        { return d.column }
func (d Diagnostic) HasColumn() bool    { return d.column > 0 }
func (d Diagnostic) Message() string    { return d.message }

// String renders `[SEVERITY]message - file (line:col)`, dropping the parts
// that are absent.
func (d Diagnostic) String() string {
	var b strings.Builder
	b.WriteByte('[')
	b.WriteString(d.severity.Label())
	b.WriteByte(']')
	b.WriteString(d.message)
	if d.HasFile() {
		b.WriteString(" - ")
		b.WriteString(d.file)
		if d.HasLine() {
			b.WriteString(" (")
			b.WriteString(strconv.Itoa(d.line))
			if d.HasColumn() {
				b.WriteByte(':')
				b.WriteString(strconv.Itoa(d.column))
			}
			b.WriteByte(')')
		}
	}
	return b.String()
}

// Record is the serialisable form of a Diagnostic (cache, JSON output).
type Record struct {
	Severity Severity `json:"severity" msgpack:"severity"`
	Code     string   `json:"code,omitempty" msgpack:"code"`
	File     string   `json:"file,omitempty" msgpack:"file"`
	Line     int      `json:"line,omitempty" msgpack:"line"`
	Column   int      `json:"column,omitempty" msgpack:"column"`
	Message  string   `json:"message" msgpack:"message"`
}

// ToRecord exports the diagnostic. Absent positions become 0 so that they are
// omitted from JSON.
func (d Diagnostic) ToRecord() Record {
	r := Record{
		Severity: d.severity,
		Code:     d.code,
		File:     d.file,
		Message:  d.message,
	}
	if d.HasLine() {
		r.Line = d.line
	}
	if d.HasColumn() {
		r.Column = d.column
	}
	return r
}

// FromRecord rebuilds a diagnostic, enforcing the same invariants as New.
func FromRecord(r Record) (Diagnostic, error) {
	d, err := New(r.Severity, r.File, r.Line, r.Column, r.Message)
	if err != nil {
		return Diagnostic{}, err
	}
	return d.WithCode(r.Code), nil
}
