package export

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Fixed values written into every export row.
const (
	DescriptionSeparator = " • "
	DefaultTaxCode       = "Default"
	DefaultUOM           = "ea"
	EOLPrefix            = "EOL - "
)

// DefaultMarkup is the tier 1 markup percentage.
var DefaultMarkup = decimal.NewFromInt(25)

// Item is a catalogue item with its resolved current price.
type Item struct {
	ID          int64
	SKU         string
	MPN         string
	Brand       string
	Description string
	Price       *decimal.Decimal // nil when no price is in force
}

// Row is one output record keyed by template header.
type Row map[string]string

// RowBuilder shapes items into rows spanning every template header.
type RowBuilder struct {
	headers []string
	cols    map[Field]string
	markup  decimal.Decimal
}

// NewRowBuilder resolves the output fields against headers.
func NewRowBuilder(headers []string, markup decimal.Decimal) *RowBuilder {
	return &RowBuilder{
		headers: copyHeaders(headers),
		cols:    ResolveHeaders(headers, OutputFields),
		markup:  markup,
	}
}

// Headers returns the template headers in order.
func (b *RowBuilder) Headers() []string { return copyHeaders(b.headers) }

func (b *RowBuilder) blank() Row {
	row := make(Row, len(b.headers))
	for _, h := range b.headers {
		row[h] = ""
	}
	return row
}

func (b *RowBuilder) set(row Row, f Field, v string) {
	if h, ok := b.cols[f]; ok {
		row[h] = v
	}
}

// Build returns the export row for item.
func (b *RowBuilder) Build(item Item) Row {
	row := b.blank()

	price := decimal.Zero
	if item.Price != nil {
		price = *item.Price
	}

	b.set(row, FieldDescription, JoinDescription(item.Brand, item.MPN, item.Description))
	b.set(row, FieldUPC, item.MPN)
	for _, f := range priceFields {
		b.set(row, f, price.String())
	}
	b.set(row, FieldPurchaseTax, DefaultTaxCode)
	b.set(row, FieldSalesTax, DefaultTaxCode)
	b.set(row, FieldManufacturer, item.Brand)
	b.set(row, FieldSupplierPart, item.SKU)
	b.set(row, FieldPartNumber, item.SKU)
	b.set(row, FieldUOM, DefaultUOM)
	b.set(row, FieldMarkupTier1, b.markup.String())
	return row
}

// BuildEOL returns the end-of-life row for a reference snapshot row.
func (b *RowBuilder) BuildEOL(ref ReferenceRow) Row {
	row := b.blank()

	desc := ref.Description
	if desc == "" {
		desc = ref.Key
	}
	b.set(row, FieldDescription, EOLPrefix+desc)
	b.set(row, FieldUPC, ref.MPN)
	for _, f := range priceFields {
		b.set(row, f, "0")
	}
	b.set(row, FieldPurchaseTax, DefaultTaxCode)
	b.set(row, FieldSalesTax, DefaultTaxCode)
	b.set(row, FieldManufacturer, ref.Manufacturer)
	b.set(row, FieldSupplierPart, ref.SKU)
	b.set(row, FieldPartNumber, ref.SKU)
	b.set(row, FieldUOM, DefaultUOM)
	for _, f := range classificationFields {
		if v, ok := ref.Classification[f]; ok {
			b.set(row, f, v)
		}
	}
	return row
}

// Values returns row in header order.
func (b *RowBuilder) Values(row Row) []string {
	out := make([]string, len(b.headers))
	for i, h := range b.headers {
		out[i] = row[h]
	}
	return out
}

// JoinDescription joins the non-empty parts with DescriptionSeparator.
func JoinDescription(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, DescriptionSeparator)
}
