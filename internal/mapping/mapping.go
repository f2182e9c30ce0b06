// Package mapping resolves a user-supplied canonical field -> CSV header
// mapping against a parsed supplier file and turns raw records into
// canonical catalogue rows.
package mapping

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/JonMunkholm/pricesync/internal/csvtable"
)

// Field is a canonical catalogue field, independent of any CSV's header text.
type Field string

const (
	FieldSKU         Field = "supplier_sku"
	FieldMPN         Field = "mpn"
	FieldDescription Field = "description"
	FieldPrice       Field = "price_ex_gst"
	FieldBrand       Field = "brand"
	FieldUOM         Field = "uom"
	FieldPackSize    Field = "pack_size"
)

// Defaults applied to optional fields that are unmapped or blank.
const (
	DefaultUOM      = "ea"
	DefaultPackSize = 1
)

// FieldSpec describes a canonical field.
type FieldSpec struct {
	Field      Field
	Label      string
	Required   bool // must be mapped before submission
	AllowEmpty bool // a mapped required field may hold blank cells
}

// Fields lists every canonical field in display order.
var Fields = []FieldSpec{
	{Field: FieldSKU, Label: "Supplier SKU", Required: true},
	{Field: FieldMPN, Label: "Manufacturer Part Number", Required: true, AllowEmpty: true},
	{Field: FieldDescription, Label: "Product Description", Required: true, AllowEmpty: true},
	{Field: FieldPrice, Label: "Price ex GST", Required: true},
	{Field: FieldBrand, Label: "Brand"},
	{Field: FieldUOM, Label: "Unit of Measure"},
	{Field: FieldPackSize, Label: "Pack Size"},
}

// Spec returns the FieldSpec for f.
func Spec(f Field) (FieldSpec, bool) {
	for _, s := range Fields {
		if s.Field == f {
			return s, true
		}
	}
	return FieldSpec{}, false
}

// ErrMappingIncomplete is matched by errors.Is for any *IncompleteError.
var ErrMappingIncomplete = errors.New("mapping incomplete")

// IncompleteError names the required fields that have no usable header.
type IncompleteError struct {
	Missing []Field
}

func (e *IncompleteError) Error() string {
	names := make([]string, len(e.Missing))
	for i, f := range e.Missing {
		names[i] = string(f)
	}
	return fmt.Sprintf("mapping incomplete: missing required fields: %s", strings.Join(names, ", "))
}

func (e *IncompleteError) Is(target error) bool {
	return target == ErrMappingIncomplete
}

// Labels returns the human-readable labels of the missing fields.
func (e *IncompleteError) Labels() []string {
	out := make([]string, 0, len(e.Missing))
	for _, f := range e.Missing {
		if s, ok := Spec(f); ok {
			out = append(out, s.Label)
		}
	}
	return out
}

// Mapping maps canonical fields to literal source header strings.
type Mapping map[Field]string

// Parse converts a wire mapping (as sent by the UI) into a Mapping,
// rejecting unknown canonical names.
func Parse(raw map[string]string) (Mapping, error) {
	m := make(Mapping, len(raw))
	var unknown []string
	for k, v := range raw {
		f := Field(k)
		if _, ok := Spec(f); !ok {
			unknown = append(unknown, k)
			continue
		}
		m[f] = v
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("unknown canonical fields: %s", strings.Join(unknown, ", "))
	}
	return m, nil
}

// Wire returns only the mapped entries, keyed by canonical name.
// Unmapped (empty) entries never go over the wire.
func (m Mapping) Wire() map[string]string {
	out := make(map[string]string, len(m))
	for f, h := range m {
		if h != "" {
			out[string(f)] = h
		}
	}
	return out
}

// Verify checks that every required field maps to a header present in
// headers. Matching is exact and case-sensitive. Optional fields mapped to
// an absent header are ignored and fall back to their defaults.
func Verify(headers []string, m Mapping) error {
	present := make(map[string]bool, len(headers))
	for _, h := range headers {
		present[h] = true
	}

	var missing []Field
	for _, spec := range Fields {
		if !spec.Required {
			continue
		}
		h, ok := m[spec.Field]
		if !ok || h == "" || !present[h] {
			missing = append(missing, spec.Field)
		}
	}

	if len(missing) > 0 {
		return &IncompleteError{Missing: missing}
	}
	return nil
}

// VerifyTable is Verify against a parsed table's header.
func VerifyTable(t *csvtable.Table, m Mapping) error {
	return Verify(t.Header().Names(), m)
}
