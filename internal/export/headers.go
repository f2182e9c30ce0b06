// Package export builds catalogue CSV exports in a third-party import
// template and flags end-of-life items against a previous export.
package export

import (
	"strings"
)

// Field is a semantic column of the export template.
type Field string

const (
	FieldDescription  Field = "description"
	FieldUPC          Field = "upc"
	FieldTrade        Field = "trade"
	FieldCost         Field = "cost"
	FieldSplitPrice   Field = "split_price"
	FieldSplitCost    Field = "split_cost"
	FieldPurchaseTax  Field = "purchase_tax"
	FieldSalesTax     Field = "sales_tax"
	FieldManufacturer Field = "manufacturer"
	FieldSupplierPart Field = "supplier_part"
	FieldPartNumber   Field = "part_number"
	FieldUOM          Field = "uom"
	FieldMarkupTier1  Field = "markup_tier1"
	FieldGroup        Field = "group"
	FieldSubgroup1    Field = "subgroup1"
	FieldSubgroup2    Field = "subgroup2"
	FieldSubgroup3    Field = "subgroup3"
)

// FieldVariants lists the header names accepted for a field, in priority order.
type FieldVariants struct {
	Field    Field
	Variants []string
}

// OutputFields are the template columns the exporter populates.
var OutputFields = []FieldVariants{
	{FieldDescription, []string{"Description", "Supplier Description"}},
	{FieldUPC, []string{"Universal Product Code"}},
	{FieldTrade, []string{"Trade Price"}},
	{FieldCost, []string{"Cost Price"}},
	{FieldSplitPrice, []string{"Split Price"}},
	{FieldSplitCost, []string{"Split Cost Price"}},
	{FieldPurchaseTax, []string{"Purchase Tax Code"}},
	{FieldSalesTax, []string{"Sales Tax Code"}},
	{FieldManufacturer, []string{"Manufacturer"}},
	{FieldSupplierPart, []string{"Supplier Part Number", "Part Number"}},
	{FieldPartNumber, []string{"Part Number"}},
	{FieldUOM, []string{"Unit of Measurement"}},
	{FieldMarkupTier1, []string{"Markup (Tier 1 Name)"}},
	{FieldGroup, []string{"Group (Ignored for Updates)", "Group"}},
	{FieldSubgroup1, []string{"Subgroup 1 (Ignored for Updates)", "Subgroup 1"}},
	{FieldSubgroup2, []string{"Subgroup 2 (Ignored for Updates)", "Subgroup 2"}},
	{FieldSubgroup3, []string{"Subgroup 3 (Ignored for Updates)", "Subgroup 3"}},
}

// Reference snapshot key columns. The MPN columns are tried first, then
// the supplier part columns.
var (
	referenceMPNField = FieldVariants{FieldUPC, []string{"Universal Product Code", "MPN", "Manufacturer Part Number"}}
	referenceSKUField = FieldVariants{FieldSupplierPart, []string{"Supplier Part Number", "Part Number", "SKU", "Supplier SKU", "Part"}}
)

// priceFields receive the current price (or 0).
var priceFields = []Field{FieldTrade, FieldCost, FieldSplitPrice, FieldSplitCost}

// classificationFields are copied from a reference row onto EOL rows.
var classificationFields = []Field{FieldGroup, FieldSubgroup1, FieldSubgroup2, FieldSubgroup3}

// DefaultHeaders is the built-in template used when the configured one
// cannot be read.
var DefaultHeaders = []string{
	"Group (Ignored for Updates)",
	"Subgroup 1 (Ignored for Updates)",
	"Subgroup 2 (Ignored for Updates)",
	"Subgroup 3 (Ignored for Updates)",
	"Part Number",
	"Description",
	"Universal Product Code",
	"Country of Origin",
	"Trade Price",
	"Cost Price",
	"Split Price",
	"Split Cost Price",
	"Purchase Tax Code",
	"Sales Tax Code",
	"Trade Split Quantity",
	"Minimum Pack Quantity",
	"Manufacturer",
	"Supplier Part Number",
	"Favourite",
	"Search Terms",
	"Purchase Stage",
	"Inventory Item",
	"Notes",
	"Unit of Measurement",
	"Add-on Enabled",
	"Markup (Tier 1 Name)",
	"Sell Price (Tier 1 Name)",
	"Add-on Markup (Tier 1 Name)",
	"Add-on Sell Price (Tier 1 Name)",
	"Markup (Tier 2 Name)",
	"Sell Price (Tier 2 Name)",
	"Add-on Markup (Tier 2 Name)",
	"Add-on Sell Price (Tier 2 Name)",
}

// ResolveHeaders maps each field to the first template header matching one
// of its variants. Variants are tried in order; matching is exact but
// case-insensitive. Fields with no match are absent from the result.
func ResolveHeaders(headers []string, fields []FieldVariants) map[Field]string {
	lower := make(map[string]string, len(headers))
	for _, h := range headers {
		key := strings.ToLower(h)
		if _, dup := lower[key]; !dup {
			lower[key] = h
		}
	}

	out := make(map[Field]string, len(fields))
	for _, f := range fields {
		for _, v := range f.Variants {
			if h, ok := lower[strings.ToLower(v)]; ok {
				out[f.Field] = h
				break
			}
		}
	}
	return out
}
