// Package admin provides administrative operations on the catalogue.
package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/JonMunkholm/pricesync/internal/store"
)

// ResetTimeout is the maximum duration of one reset.
const ResetTimeout = 30 * time.Second

// ErrNotConfirmed is returned when a destructive operation is not confirmed.
var ErrNotConfirmed = errors.New("reset not confirmed")

// Catalog is the store surface the resetter needs.
type Catalog interface {
	GetSupplier(ctx context.Context, id int64) (store.Supplier, error)
	ResetSupplier(ctx context.Context, supplierID int64) (store.ResetResult, error)
}

// Resetter clears supplier catalogues.
type Resetter struct {
	Catalog Catalog
	Logger  *slog.Logger
}

// ResetSuppliers clears each supplier in turn and stops at the first
// failure. This is destructive: prices and items cannot be recovered.
// confirm must equal the name of every supplier being reset, or "all"
// when more than one is given.
func (r *Resetter) ResetSuppliers(ctx context.Context, confirm string, ids ...int64) (map[int64]store.ResetResult, error) {
	ctx, cancel := context.WithTimeout(ctx, ResetTimeout)
	defer cancel()

	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}

	suppliers := make([]store.Supplier, 0, len(ids))
	for _, id := range ids {
		sup, err := r.Catalog.GetSupplier(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("supplier %d: %w", id, err)
		}
		suppliers = append(suppliers, sup)
	}
	if !confirmed(confirm, suppliers) {
		return nil, ErrNotConfirmed
	}

	out := make(map[int64]store.ResetResult, len(suppliers))
	for _, sup := range suppliers {
		res, err := r.Catalog.ResetSupplier(ctx, sup.ID)
		if err != nil {
			return out, fmt.Errorf("reset supplier %d: %w", sup.ID, err)
		}
		logger.Warn("supplier catalogue reset",
			"supplier_id", sup.ID,
			"supplier", sup.Name,
			"prices", res.Prices,
			"items", res.Items,
			"uploads", res.Uploads,
		)
		out[sup.ID] = res
	}
	return out, nil
}

func confirmed(confirm string, suppliers []store.Supplier) bool {
	switch len(suppliers) {
	case 0:
		return false
	case 1:
		return confirm == suppliers[0].Name
	default:
		return confirm == "all"
	}
}
