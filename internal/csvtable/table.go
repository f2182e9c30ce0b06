// Package csvtable parses supplier CSV files into a header list plus a lazy
// sequence of records keyed by header.
//
// Headers are kept verbatim, including empty and duplicate names. Lookups by
// header name resolve to the first column carrying that name.
//
// A malformed row (for example a stray quote inside an unquoted field) is
// reported as a *ParseError for that row only; the caller may keep reading.
package csvtable

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"
)

// ErrNoHeader is returned when the input has no header line.
var ErrNoHeader = errors.New("csv has no header row")

// ParseError reports a row that could not be parsed.
type ParseError struct {
	Line int // 1-indexed line where the row starts
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error on line %d: %v", e.Line, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Header is the ordered header list of a table.
type Header struct {
	names []string
	index map[string]int
}

// NewHeader builds a header with first-wins name lookup.
func NewHeader(names []string) *Header {
	h := &Header{
		names: append([]string(nil), names...),
		index: make(map[string]int, len(names)),
	}
	for i, n := range h.names {
		if _, dup := h.index[n]; !dup {
			h.index[n] = i
		}
	}
	return h
}

// Names returns the header strings in file order.
func (h *Header) Names() []string {
	return append([]string(nil), h.names...)
}

// Len returns the number of header columns.
func (h *Header) Len() int { return len(h.names) }

// Index returns the position of the first column named name.
func (h *Header) Index(name string) (int, bool) {
	i, ok := h.index[name]
	return i, ok
}

// Has reports whether a column named name exists.
func (h *Header) Has(name string) bool {
	_, ok := h.index[name]
	return ok
}

// Record is one data row of a table.
type Record struct {
	Line   int
	Values []string
	header *Header
}

// NewRecord builds a record over an existing header.
func NewRecord(h *Header, values []string) Record {
	return Record{Values: values, header: h}
}

// Get returns the value under the named header. Missing trailing cells read
// as empty strings.
func (r Record) Get(name string) (string, bool) {
	if r.header == nil {
		return "", false
	}
	i, ok := r.header.Index(name)
	if !ok {
		return "", false
	}
	if i >= len(r.Values) {
		return "", true
	}
	return r.Values[i], true
}

// Value is Get without the presence flag.
func (r Record) Value(name string) string {
	v, _ := r.Get(name)
	return v
}

// Map returns the record as header -> value, first column wins on duplicates.
func (r Record) Map() map[string]string {
	if r.header == nil {
		return map[string]string{}
	}
	m := make(map[string]string, r.header.Len())
	for i, n := range r.header.names {
		if _, seen := m[n]; seen {
			continue
		}
		if i < len(r.Values) {
			m[n] = r.Values[i]
		} else {
			m[n] = ""
		}
	}
	return m
}

// IsEmpty reports whether every cell is blank.
func (r Record) IsEmpty() bool {
	for _, v := range r.Values {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// Options controls how a table is read.
type Options struct {
	// Encoding is the source text encoding (default UTF-8).
	Encoding string

	// Size is the raw input size in bytes, used for progress (0 if unknown).
	Size int64

	// LazyQuotes tolerates quotes inside unquoted fields instead of
	// reporting them as row errors.
	LazyQuotes bool
}

// Table is a forward-only reader over CSV records. It is not restartable;
// open the source again to re-read it.
type Table struct {
	header  *Header
	reader  *csv.Reader
	counter *CountingReader
	done    bool
}

// Open reads the header line of r using default options.
func Open(r io.Reader) (*Table, error) {
	return OpenWithOptions(r, Options{})
}

// OpenWithOptions reads the header line of r and prepares lazy row reading.
func OpenWithOptions(r io.Reader, opts Options) (*Table, error) {
	decoded, counter, err := Decode(r, opts.Encoding, opts.Size)
	if err != nil {
		return nil, err
	}

	cr := csv.NewReader(decoded)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = opts.LazyQuotes

	names, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrNoHeader
		}
		return nil, fmt.Errorf("read header: %w", err)
	}

	return &Table{
		header:  NewHeader(names),
		reader:  cr,
		counter: counter,
	}, nil
}

// Header returns the parsed header.
func (t *Table) Header() *Header { return t.header }

// BytesRead returns the number of raw bytes consumed so far.
func (t *Table) BytesRead() int64 { return t.counter.BytesRead }

// Progress returns byte-based read progress (0-100), 0 if size is unknown.
func (t *Table) Progress() int { return t.counter.Progress() }

// Next returns the next record. It returns io.EOF when the input is
// exhausted and a *ParseError for a malformed row; reading may continue
// after a *ParseError.
func (t *Table) Next() (Record, error) {
	if t.done {
		return Record{}, io.EOF
	}

	values, err := t.reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			t.done = true
			return Record{}, io.EOF
		}
		var pe *csv.ParseError
		if errors.As(err, &pe) {
			return Record{}, &ParseError{Line: pe.StartLine, Err: pe.Err}
		}
		t.done = true
		return Record{}, fmt.Errorf("read row: %w", err)
	}

	line, _ := t.reader.FieldPos(0)
	return Record{Line: line, Values: values, header: t.header}, nil
}

// Records yields the remaining records lazily. Row-level parse errors are
// yielded with an empty record; other read errors end the sequence after
// being yielded once.
func (t *Table) Records() iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		for {
			rec, err := t.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if !yield(rec, err) {
				return
			}
			if err != nil && !isRowError(err) {
				return
			}
		}
	}
}

func isRowError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}

// ReadHeader returns only the first line of r as a header list. Used for
// template files where the data rows are irrelevant.
func ReadHeader(r io.Reader) ([]string, error) {
	t, err := Open(r)
	if err != nil {
		return nil, err
	}
	return t.header.Names(), nil
}
