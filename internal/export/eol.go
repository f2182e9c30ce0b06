package export

import (
	"errors"
	"fmt"
	"io"

	"github.com/JonMunkholm/pricesync/internal/csvtable"
	"github.com/JonMunkholm/pricesync/internal/keynorm"
)

// ReferenceRow is a previous-export row reduced to what reconciliation needs.
type ReferenceRow struct {
	Line           int
	Key            string // keynorm.MatchKey of MPN, else SKU
	MPN            string
	SKU            string
	Description    string
	Manufacturer   string
	Classification map[Field]string
	Values         map[string]string
}

// Snapshot is a parsed reference export.
type Snapshot struct {
	Headers []string
	Rows    []ReferenceRow

	// Skipped counts rows that failed to parse.
	Skipped int
}

// ReadSnapshot parses a reference export. Headers are discovered from the
// file; malformed rows are skipped and counted.
func ReadSnapshot(r io.Reader) (*Snapshot, error) {
	table, err := csvtable.Open(r)
	if err != nil {
		return nil, fmt.Errorf("read reference snapshot: %w", err)
	}

	headers := table.Header().Names()
	cols := ResolveHeaders(headers, OutputFields)
	mpnCol := ResolveHeaders(headers, []FieldVariants{referenceMPNField})[referenceMPNField.Field]
	skuCol := ResolveHeaders(headers, []FieldVariants{referenceSKUField})[referenceSKUField.Field]

	snap := &Snapshot{Headers: headers}
	for rec, err := range table.Records() {
		if err != nil {
			var pe *csvtable.ParseError
			if errors.As(err, &pe) {
				snap.Skipped++
				continue
			}
			return nil, fmt.Errorf("read reference snapshot: %w", err)
		}
		if rec.IsEmpty() {
			continue
		}

		row := ReferenceRow{
			Line:           rec.Line,
			MPN:            valueOf(rec, mpnCol),
			SKU:            valueOf(rec, skuCol),
			Description:    valueOf(rec, cols[FieldDescription]),
			Manufacturer:   valueOf(rec, cols[FieldManufacturer]),
			Classification: make(map[Field]string),
			Values:         rec.Map(),
		}
		row.Key = ItemKey(row.MPN, row.SKU)
		for _, f := range classificationFields {
			if h, ok := cols[f]; ok {
				row.Classification[f] = rec.Value(h)
			}
		}
		snap.Rows = append(snap.Rows, row)
	}
	return snap, nil
}

func valueOf(rec csvtable.Record, header string) string {
	if header == "" {
		return ""
	}
	return rec.Value(header)
}

// ItemKey is the reconciliation key: the match key of mpn, falling back
// to sku. Empty means the row cannot be matched.
func ItemKey(mpn, sku string) string {
	return keynorm.FirstKey(mpn, sku)
}

// CurrentKeys returns the key set of the items being exported.
func CurrentKeys(items []Item) map[string]struct{} {
	keys := make(map[string]struct{}, len(items))
	for _, it := range items {
		if k := ItemKey(it.MPN, it.SKU); k != "" {
			keys[k] = struct{}{}
		}
	}
	return keys
}

// FindEOL returns reference rows whose key is non-empty and absent from
// current, in snapshot order. Repeated keys yield one candidate.
func FindEOL(snap *Snapshot, current map[string]struct{}) []ReferenceRow {
	if snap == nil {
		return nil
	}
	seen := make(map[string]bool)
	var out []ReferenceRow
	for _, row := range snap.Rows {
		if row.Key == "" || seen[row.Key] {
			continue
		}
		if _, ok := current[row.Key]; ok {
			continue
		}
		seen[row.Key] = true
		out = append(out, row)
	}
	return out
}
