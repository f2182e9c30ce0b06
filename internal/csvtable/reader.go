package csvtable

// reader.go builds the decoding chain applied to raw upload bytes before they
// reach the CSV parser:
//
//   - source decoding (UTF-8 with optional BOM, or a single-byte code page)
//   - invalid UTF-8 replacement with U+FFFD
//   - byte counting for progress reporting
//
// Every stage is a streaming io.Reader, so memory stays bounded by the
// parser's buffer regardless of file size.

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Supported source encodings. Supplier price lists exported from older
// spreadsheet tools are frequently Windows-1252.
const (
	EncodingUTF8        = "utf-8"
	EncodingWindows1252 = "windows-1252"
	EncodingLatin1      = "iso-8859-1"
)

// decoderFor returns the transformer that converts the named source encoding
// into valid UTF-8. The UTF-8 decoder strips a leading BOM and replaces
// invalid sequences with U+FFFD.
func decoderFor(encoding string) (transform.Transformer, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", EncodingUTF8, "utf8":
		return unicode.UTF8BOM.NewDecoder(), nil
	case EncodingWindows1252, "cp1252":
		return charmap.Windows1252.NewDecoder(), nil
	case EncodingLatin1, "latin1", "latin-1":
		return charmap.ISO8859_1.NewDecoder(), nil
	default:
		return nil, fmt.Errorf("unsupported source encoding %q", encoding)
	}
}

// CheckEncoding reports whether encoding names a supported source encoding.
func CheckEncoding(encoding string) error {
	_, err := decoderFor(encoding)
	return err
}

// CountingReader wraps an io.Reader to track bytes consumed.
type CountingReader struct {
	reader    io.Reader
	BytesRead int64
	Total     int64 // 0 if unknown
}

// NewCountingReader creates a counting reader with an optional total size.
func NewCountingReader(r io.Reader, total int64) *CountingReader {
	return &CountingReader{reader: r, Total: total}
}

// Read implements io.Reader.
func (r *CountingReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	r.BytesRead += int64(n)
	return n, err
}

// Progress returns the read progress as a percentage (0-100).
// Returns 0 if total is unknown.
func (r *CountingReader) Progress() int {
	if r.Total <= 0 {
		return 0
	}
	p := int(r.BytesRead * 100 / r.Total)
	if p > 100 {
		return 100
	}
	return p
}

// Decode wraps r so that it yields sanitized UTF-8 text from the given
// source encoding. The byte counter sits below the decoder so progress is
// measured against the raw file size.
func Decode(r io.Reader, encoding string, total int64) (io.Reader, *CountingReader, error) {
	dec, err := decoderFor(encoding)
	if err != nil {
		return nil, nil, err
	}
	counter := NewCountingReader(r, total)
	return transform.NewReader(counter, dec), counter, nil
}
