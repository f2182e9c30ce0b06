package store

import (
	"context"
	"fmt"

	"github.com/JonMunkholm/pricesync/internal/keynorm"
)

// Item search paging defaults.
const (
	DefaultPageSize = 50
	MaxPageSize     = 500
)

// ItemQuery selects a page of a supplier's catalogue.
type ItemQuery struct {
	SupplierID int64
	Brand      string
	Search     string
	Page       int
	PageSize   int
}

// ItemPage is one page of search results.
type ItemPage struct {
	Items      []CatalogItem `json:"items"`
	Total      int64         `json:"total"`
	Page       int           `json:"page"`
	PageSize   int           `json:"page_size"`
	TotalPages int           `json:"total_pages"`
}

func (q ItemQuery) normalized() ItemQuery {
	if q.PageSize <= 0 {
		q.PageSize = DefaultPageSize
	}
	if q.PageSize > MaxPageSize {
		q.PageSize = MaxPageSize
	}
	if q.Page < 1 {
		q.Page = 1
	}
	return q
}

// itemSearchWhere builds the filter for q. Search text matches SKU,
// description or MPN as a substring, or the MPN match key exactly.
func itemSearchWhere(q ItemQuery) *whereBuilder {
	wb := newWhereBuilder()
	wb.add("supplier_id", q.SupplierID)
	wb.addRaw("active")
	if q.Brand != "" {
		wb.add("brand", q.Brand)
	}
	if key := keynorm.MatchKey(q.Search); key != "" {
		wb.addSearch(q.Search, []string{"supplier_sku", "supplier_description", "mpn"},
			fmt.Sprintf("upper(search_key) = $%d", wb.nextArgIndex()+1))
		wb.args = append(wb.args, key)
		wb.argIndex++
	} else {
		wb.addSearch(q.Search, []string{"supplier_sku", "supplier_description", "mpn"})
	}
	return wb
}

// SearchItems returns one page of a supplier's active items ordered by SKU.
func (s *Store) SearchItems(ctx context.Context, q ItemQuery) (ItemPage, error) {
	q = q.normalized()
	wb := itemSearchWhere(q)
	where, args := wb.build()

	var total int64
	if err := s.db.QueryRow(ctx, "SELECT COUNT(*) FROM supplier_product"+where, args...).Scan(&total); err != nil {
		return ItemPage{}, fmt.Errorf("count items: %w", err)
	}

	totalPages := int((total + int64(q.PageSize) - 1) / int64(q.PageSize))
	if totalPages < 1 {
		totalPages = 1
	}
	if q.Page > totalPages {
		q.Page = totalPages
	}

	n := wb.nextArgIndex()
	query := fmt.Sprintf(`
		SELECT supplier_product_id, supplier_id, supplier_sku, brand, mpn, search_key,
		       supplier_description, uom, pack_size, active
		FROM supplier_product%s
		ORDER BY supplier_sku, supplier_product_id
		LIMIT $%d OFFSET $%d`, where, n, n+1)
	args = append(args, q.PageSize, (q.Page-1)*q.PageSize)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return ItemPage{}, fmt.Errorf("search items: %w", err)
	}
	defer rows.Close()

	page := ItemPage{
		Items:      []CatalogItem{},
		Total:      total,
		Page:       q.Page,
		PageSize:   q.PageSize,
		TotalPages: totalPages,
	}
	for rows.Next() {
		var it CatalogItem
		if err := rows.Scan(&it.ID, &it.SupplierID, &it.SKU, &it.Brand, &it.MPN, &it.SearchKey,
			&it.Description, &it.UOM, &it.PackSize, &it.Active); err != nil {
			return ItemPage{}, fmt.Errorf("scan item: %w", err)
		}
		page.Items = append(page.Items, it)
	}
	return page, rows.Err()
}
