package csvtable

import (
	"bufio"
	"io"
	"strings"
)

// Writer serializes rows as comma-separated text. A field is quoted only when
// it contains a comma, a double quote, CR or LF; embedded quotes are doubled.
// encoding/csv also quotes fields with leading spaces, which would break
// byte-for-byte parity with the export template, hence this writer.
type Writer struct {
	w *bufio.Writer
}

// NewWriter creates a Writer on top of w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

// Write writes a single row terminated by "\n".
func (w *Writer) Write(fields []string) error {
	for i, f := range fields {
		if i > 0 {
			if err := w.w.WriteByte(','); err != nil {
				return err
			}
		}
		if _, err := w.w.WriteString(EscapeField(f)); err != nil {
			return err
		}
	}
	return w.w.WriteByte('\n')
}

// WriteAll writes all rows and flushes.
func (w *Writer) WriteAll(rows [][]string) error {
	for _, row := range rows {
		if err := w.Write(row); err != nil {
			return err
		}
	}
	return w.Flush()
}

// Flush writes any buffered data to the underlying writer.
func (w *Writer) Flush() error {
	return w.w.Flush()
}

// EscapeField applies the quoting rule to a single field.
func EscapeField(f string) string {
	if !strings.ContainsAny(f, ",\"\r\n") {
		return f
	}
	return `"` + strings.ReplaceAll(f, `"`, `""`) + `"`
}
