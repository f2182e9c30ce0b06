package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SavedMapping is a named column mapping for one supplier, together with
// the headers of the file it was built against.
type SavedMapping struct {
	ID         uuid.UUID         `json:"mapping_id"`
	SupplierID int64             `json:"supplier_id"`
	Name       string            `json:"name"`
	Mapping    map[string]string `json:"mapping"`
	Headers    []string          `json:"csv_headers"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// SaveMapping inserts or replaces the supplier's mapping called m.Name.
func (s *Store) SaveMapping(ctx context.Context, m SavedMapping) (SavedMapping, error) {
	m.Name = strings.TrimSpace(m.Name)
	if m.Name == "" {
		return SavedMapping{}, fmt.Errorf("save mapping: name is required")
	}
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}

	mappingJSON, err := json.Marshal(m.Mapping)
	if err != nil {
		return SavedMapping{}, fmt.Errorf("marshal mapping: %w", err)
	}
	headersJSON, err := json.Marshal(m.Headers)
	if err != nil {
		return SavedMapping{}, fmt.Errorf("marshal headers: %w", err)
	}

	err = s.db.QueryRow(ctx, `
		INSERT INTO supplier_mapping (mapping_id, supplier_id, name, mapping, csv_headers)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (supplier_id, name) DO UPDATE SET
			mapping = EXCLUDED.mapping,
			csv_headers = EXCLUDED.csv_headers,
			updated_at = now()
		RETURNING mapping_id, created_at, updated_at`,
		m.ID, m.SupplierID, m.Name, mappingJSON, headersJSON,
	).Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return SavedMapping{}, fmt.Errorf("save mapping %q: %w", m.Name, mapErr(err))
	}
	return m, nil
}

// ListMappings returns a supplier's saved mappings ordered by name.
func (s *Store) ListMappings(ctx context.Context, supplierID int64) ([]SavedMapping, error) {
	rows, err := s.db.Query(ctx, `
		SELECT mapping_id, supplier_id, name, mapping, csv_headers, created_at, updated_at
		FROM supplier_mapping
		WHERE supplier_id = $1
		ORDER BY name`, supplierID)
	if err != nil {
		return nil, fmt.Errorf("list mappings: %w", err)
	}
	defer rows.Close()

	out := []SavedMapping{}
	for rows.Next() {
		var m SavedMapping
		var mappingJSON, headersJSON []byte
		if err := rows.Scan(&m.ID, &m.SupplierID, &m.Name, &mappingJSON, &headersJSON, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan mapping: %w", err)
		}
		if err := json.Unmarshal(mappingJSON, &m.Mapping); err != nil {
			return nil, fmt.Errorf("unmarshal mapping %s: %w", m.ID, err)
		}
		if err := json.Unmarshal(headersJSON, &m.Headers); err != nil {
			return nil, fmt.Errorf("unmarshal headers %s: %w", m.ID, err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// DeleteMapping removes a saved mapping.
func (s *Store) DeleteMapping(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM supplier_mapping WHERE mapping_id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete mapping %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete mapping %s: %w", id, ErrNotFound)
	}
	return nil
}
