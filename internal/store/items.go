package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/JonMunkholm/pricesync/internal/mapping"
	"github.com/JonMunkholm/pricesync/internal/pricing"
)

// CatalogItem is a supplier product row.
type CatalogItem struct {
	ID          int64  `json:"supplier_product_id"`
	SupplierID  int64  `json:"supplier_id"`
	SKU         string `json:"supplier_sku"`
	Brand       string `json:"brand"`
	MPN         string `json:"mpn"`
	SearchKey   string `json:"search_key"`
	Description string `json:"supplier_description"`
	UOM         string `json:"uom"`
	PackSize    int    `json:"pack_size"`
	Active      bool   `json:"active"`
}

// UpsertItems writes rows keyed by (supplier, SKU) and records each price
// from effective onward, all in one transaction. Re-applying the same rows
// changes nothing.
func (s *Store) UpsertItems(ctx context.Context, supplierID int64, rows []mapping.Row, effective time.Time) (int, error) {
	start := dateOf(effective)
	written := 0

	err := s.withTx(ctx, func(tx pgx.Tx) error {
		for _, r := range rows {
			var itemID int64
			err := tx.QueryRow(ctx, `
				INSERT INTO supplier_product
					(supplier_id, supplier_sku, brand, mpn, search_key, supplier_description, uom, pack_size, active, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, true, now())
				ON CONFLICT (supplier_id, supplier_sku) DO UPDATE SET
					brand = EXCLUDED.brand,
					mpn = EXCLUDED.mpn,
					search_key = EXCLUDED.search_key,
					supplier_description = EXCLUDED.supplier_description,
					uom = EXCLUDED.uom,
					pack_size = EXCLUDED.pack_size,
					active = true,
					updated_at = now()
				RETURNING supplier_product_id`,
				supplierID, r.SKU, r.Brand, r.MPN, r.SearchKey, r.Description, r.UOM, r.PackSize,
			).Scan(&itemID)
			if err != nil {
				return fmt.Errorf("upsert item %q: %w", r.SKU, mapErr(err))
			}

			if err := writePrice(ctx, tx, itemID, r.Price, start); err != nil {
				return fmt.Errorf("record price for %q: %w", r.SKU, err)
			}
			written++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return written, nil
}

// writePrice applies pricing.PlanWrite against the item's windows that have
// not ended by start.
func writePrice(ctx context.Context, tx pgx.Tx, itemID int64, amount decimal.Decimal, start time.Time) error {
	rows, err := tx.Query(ctx, `
		SELECT price_id, supplier_product_id, price_ex_gst::text, lower(effective), upper(effective)
		FROM price_history
		WHERE supplier_product_id = $1
		  AND (upper_inf(effective) OR upper(effective) > $2::date)
		FOR UPDATE`, itemID, start)
	if err != nil {
		return fmt.Errorf("load price windows: %w", err)
	}
	existing, err := scanPriceRecords(rows)
	if err != nil {
		return err
	}

	plan := pricing.PlanWrite(existing, amount, start)
	switch {
	case plan.Noop:
		return nil
	case plan.UpdateID != 0:
		_, err := tx.Exec(ctx, `UPDATE price_history SET price_ex_gst = $2::numeric WHERE price_id = $1`,
			plan.UpdateID, amount.String())
		return err
	}

	if plan.CloseID != 0 {
		if _, err := tx.Exec(ctx, `
			UPDATE price_history SET effective = daterange(lower(effective), $2::date, '[)')
			WHERE price_id = $1`, plan.CloseID, start); err != nil {
			return fmt.Errorf("close price window: %w", err)
		}
	}

	var end pgtype.Date
	if plan.End != nil {
		end = pgtype.Date{Time: *plan.End, Valid: true}
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO price_history (supplier_product_id, price_ex_gst, effective)
		VALUES ($1, $2::numeric, daterange($3::date, $4::date, '[)'))`,
		itemID, amount.String(), start, end)
	if err != nil {
		return fmt.Errorf("insert price window: %w", err)
	}
	return nil
}

// PricesOverlapping implements pricing.Store.
func (s *Store) PricesOverlapping(ctx context.Context, itemIDs []int64, from, to time.Time) ([]pricing.Record, error) {
	if len(itemIDs) == 0 {
		return nil, nil
	}
	rows, err := s.db.Query(ctx, `
		SELECT price_id, supplier_product_id, price_ex_gst::text, lower(effective), upper(effective)
		FROM price_history
		WHERE supplier_product_id = ANY($1)
		  AND effective && daterange($2::date, $3::date, '[)')`,
		itemIDs, dateOf(from), dateOf(to))
	if err != nil {
		return nil, fmt.Errorf("query prices: %w", err)
	}
	return scanPriceRecords(rows)
}

func scanPriceRecords(rows pgx.Rows) ([]pricing.Record, error) {
	defer rows.Close()

	var out []pricing.Record
	for rows.Next() {
		var (
			rec    pricing.Record
			amount string
			lower  pgtype.Date
			upper  pgtype.Date
		)
		if err := rows.Scan(&rec.ID, &rec.ItemID, &amount, &lower, &upper); err != nil {
			return nil, fmt.Errorf("scan price: %w", err)
		}
		d, err := decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("parse price %q: %w", amount, err)
		}
		rec.Amount = d
		if lower.Valid {
			rec.Start = lower.Time
		}
		if upper.Valid && upper.InfinityModifier == pgtype.Finite {
			end := upper.Time
			rec.End = &end
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ListItems returns a supplier's active items ordered by SKU. A non-empty
// brands list restricts the result to those brands.
func (s *Store) ListItems(ctx context.Context, supplierID int64, brands []string) ([]CatalogItem, error) {
	var brandFilter []string
	if len(brands) > 0 {
		brandFilter = brands
	}
	rows, err := s.db.Query(ctx, `
		SELECT supplier_product_id, supplier_id, supplier_sku, brand, mpn, search_key,
		       supplier_description, uom, pack_size, active
		FROM supplier_product
		WHERE supplier_id = $1
		  AND active
		  AND ($2::text[] IS NULL OR brand = ANY($2))
		ORDER BY supplier_sku, supplier_product_id`, supplierID, brandFilter)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	var out []CatalogItem
	for rows.Next() {
		var it CatalogItem
		if err := rows.Scan(&it.ID, &it.SupplierID, &it.SKU, &it.Brand, &it.MPN, &it.SearchKey,
			&it.Description, &it.UOM, &it.PackSize, &it.Active); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// ListBrands returns the distinct non-empty brands of a supplier's items.
func (s *Store) ListBrands(ctx context.Context, supplierID int64) ([]string, error) {
	rows, err := s.db.Query(ctx, `
		SELECT DISTINCT brand FROM supplier_product
		WHERE supplier_id = $1 AND active AND brand <> ''
		ORDER BY brand`, supplierID)
	if err != nil {
		return nil, fmt.Errorf("list brands: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// dateOf truncates t to its calendar date in UTC.
func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
