package export

import (
	"bytes"
	"fmt"
	"io"
	"regexp"
	"time"

	"github.com/shopspring/decimal"

	"github.com/JonMunkholm/pricesync/internal/csvtable"
)

var unsafeFilename = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// Document is a complete export ready to serialize.
type Document struct {
	Headers   []string
	Rows      [][]string
	ItemRows  int
	EOLRows   int
	Warnings  []string
	Generated time.Time
}

// Build assembles the export: one row per item in the given order, then one
// EOL row per reference row no longer present. snap may be nil.
func Build(headers []string, items []Item, snap *Snapshot, markup decimal.Decimal) *Document {
	b := NewRowBuilder(headers, markup)
	doc := &Document{Headers: b.Headers()}

	for _, it := range items {
		doc.Rows = append(doc.Rows, b.Values(b.Build(it)))
	}
	doc.ItemRows = len(items)

	for _, ref := range FindEOL(snap, CurrentKeys(items)) {
		doc.Rows = append(doc.Rows, b.Values(b.BuildEOL(ref)))
		doc.EOLRows++
	}
	if snap != nil && snap.Skipped > 0 {
		doc.Warnings = append(doc.Warnings, fmt.Sprintf("%d reference rows could not be parsed", snap.Skipped))
	}
	return doc
}

// WriteTo writes the header row followed by all rows.
func (d *Document) WriteTo(w io.Writer) (int64, error) {
	cw := &countingWriter{w: w}
	out := csvtable.NewWriter(cw)
	if err := out.Write(d.Headers); err != nil {
		return cw.n, err
	}
	for _, row := range d.Rows {
		if err := out.Write(row); err != nil {
			return cw.n, err
		}
	}
	err := out.Flush()
	return cw.n, err
}

// Bytes serializes the document.
func (d *Document) Bytes() []byte {
	var buf bytes.Buffer
	_, _ = d.WriteTo(&buf)
	return buf.Bytes()
}

// Filename returns Catalogue-Export-{supplier}-{YYYY-MM-DD}.csv with the
// supplier name reduced to [A-Za-z0-9_-].
func Filename(supplierName string, date time.Time) string {
	name := unsafeFilename.ReplaceAllString(supplierName, "-")
	if name == "" {
		name = "supplier"
	}
	return fmt.Sprintf("Catalogue-Export-%s-%s.csv", name, date.Format(time.DateOnly))
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
