package mapping

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/JonMunkholm/pricesync/internal/csvtable"
	"github.com/JonMunkholm/pricesync/internal/keynorm"
)

// numericPattern validates a cleaned price string.
var numericPattern = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)$`)

// Row is a supplier record resolved onto canonical fields with defaults applied.
type Row struct {
	SKU         string
	MPN         string
	SearchKey   string
	Description string
	Brand       string
	UOM         string
	PackSize    int
	Price       decimal.Decimal
}

// Apply resolves rec through m. Unmapped optional fields take their
// defaults: brand is the supplier's display name, UOM is "ea" and pack size
// is 1.
func Apply(rec csvtable.Record, m Mapping, supplierName string) (Row, error) {
	get := func(f Field) string {
		h, ok := m[f]
		if !ok || h == "" {
			return ""
		}
		return CleanCell(rec.Value(h))
	}

	for _, spec := range Fields {
		if spec.Required && !spec.AllowEmpty && get(spec.Field) == "" {
			return Row{}, fmt.Errorf("empty required field %q", spec.Field)
		}
	}

	price, err := ParsePrice(get(FieldPrice))
	if err != nil {
		return Row{}, fmt.Errorf("invalid number for %q: %w", FieldPrice, err)
	}

	row := Row{
		SKU:         get(FieldSKU),
		MPN:         get(FieldMPN),
		Description: get(FieldDescription),
		Brand:       get(FieldBrand),
		UOM:         get(FieldUOM),
		PackSize:    DefaultPackSize,
		Price:       price,
	}
	row.SearchKey = keynorm.Normalize(row.MPN)

	if row.Brand == "" {
		row.Brand = strings.TrimSpace(supplierName)
	}
	if row.UOM == "" {
		row.UOM = DefaultUOM
	}
	if raw := get(FieldPackSize); raw != "" {
		n, err := strconv.Atoi(strings.ReplaceAll(raw, ",", ""))
		if err != nil || n <= 0 {
			return Row{}, fmt.Errorf("invalid number for %q: %q", FieldPackSize, raw)
		}
		row.PackSize = n
	}

	return row, nil
}

// ParsePrice converts a supplier price cell to a decimal. It accepts
// currency symbols, thousands separators and accounting negatives "(1.50)".
func ParsePrice(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("empty value")
	}
	raw := s

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}

	for _, sym := range []string{"AUD", "A$", "$", "€", "£", ","} {
		s = strings.ReplaceAll(s, sym, "")
	}
	s = strings.TrimSpace(s)

	if !numericPattern.MatchString(s) {
		return decimal.Zero, fmt.Errorf("not a number: %q", raw)
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("not a number: %q", raw)
	}
	if negative {
		d = d.Neg()
	}
	return d, nil
}

// CleanCell removes common spreadsheet artifacts from a cell: surrounding
// whitespace and the Excel text-formula wrapper ="...".
func CleanCell(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, `="`) && strings.HasSuffix(s, `"`) && len(s) >= 3 {
		s = s[2 : len(s)-1]
	}
	return s
}
