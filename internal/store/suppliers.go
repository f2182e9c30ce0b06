package store

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Supplier is a price-list source.
type Supplier struct {
	ID        int64     `json:"supplier_id"`
	Name      string    `json:"name"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// ListSuppliers returns suppliers ordered by name.
func (s *Store) ListSuppliers(ctx context.Context, activeOnly bool) ([]Supplier, error) {
	rows, err := s.db.Query(ctx, `
		SELECT supplier_id, name, active, created_at
		FROM supplier
		WHERE active OR NOT $1
		ORDER BY name, supplier_id`, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("list suppliers: %w", err)
	}
	defer rows.Close()

	var out []Supplier
	for rows.Next() {
		var sup Supplier
		if err := rows.Scan(&sup.ID, &sup.Name, &sup.Active, &sup.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan supplier: %w", err)
		}
		out = append(out, sup)
	}
	return out, rows.Err()
}

// GetSupplier returns one supplier.
func (s *Store) GetSupplier(ctx context.Context, id int64) (Supplier, error) {
	var sup Supplier
	err := s.db.QueryRow(ctx, `
		SELECT supplier_id, name, active, created_at
		FROM supplier WHERE supplier_id = $1`, id).
		Scan(&sup.ID, &sup.Name, &sup.Active, &sup.CreatedAt)
	if err != nil {
		return Supplier{}, fmt.Errorf("get supplier %d: %w", id, mapErr(err))
	}
	return sup, nil
}

// CreateSupplier inserts an active supplier.
func (s *Store) CreateSupplier(ctx context.Context, name string) (Supplier, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Supplier{}, fmt.Errorf("create supplier: name is required")
	}

	sup := Supplier{Name: name, Active: true}
	err := s.db.QueryRow(ctx, `
		INSERT INTO supplier (name) VALUES ($1)
		RETURNING supplier_id, created_at`, name).
		Scan(&sup.ID, &sup.CreatedAt)
	if err != nil {
		return Supplier{}, fmt.Errorf("create supplier %q: %w", name, mapErr(err))
	}
	return sup, nil
}

// SupplierName returns the display name used as the default brand.
func (s *Store) SupplierName(ctx context.Context, id int64) (string, error) {
	sup, err := s.GetSupplier(ctx, id)
	if err != nil {
		return "", err
	}
	return sup.Name, nil
}
