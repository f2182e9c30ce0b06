package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// ResetResult counts the rows a reset removed.
type ResetResult struct {
	Prices  int64 `json:"prices"`
	Items   int64 `json:"items"`
	Uploads int64 `json:"uploads"`
}

// ResetSupplier deletes a supplier's price history, catalogue items and
// upload records in one transaction. The supplier row and its saved
// mappings are kept, so the next upload starts from an empty catalogue.
func (s *Store) ResetSupplier(ctx context.Context, supplierID int64) (ResetResult, error) {
	var res ResetResult
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var exists bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM supplier WHERE supplier_id = $1)`, supplierID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("lookup supplier: %w", err)
		}
		if !exists {
			return fmt.Errorf("supplier %d: %w", supplierID, ErrNotFound)
		}

		steps := []struct {
			name  string
			sql   string
			count *int64
		}{
			{"prices", `
				DELETE FROM price_history ph
				USING supplier_product sp
				WHERE ph.supplier_product_id = sp.supplier_product_id AND sp.supplier_id = $1`, &res.Prices},
			{"items", `DELETE FROM supplier_product WHERE supplier_id = $1`, &res.Items},
			{"uploads", `DELETE FROM upload WHERE supplier_id = $1`, &res.Uploads},
		}
		for _, step := range steps {
			tag, err := tx.Exec(ctx, step.sql, supplierID)
			if err != nil {
				return fmt.Errorf("reset %s: %w", step.name, err)
			}
			*step.count = tag.RowsAffected()
		}
		return nil
	})
	if err != nil {
		return ResetResult{}, err
	}
	return res, nil
}
