package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/JonMunkholm/pricesync/internal/upload"
)

const uploadColumns = `upload_id, supplier_id, filename, sha256, size_bytes, storage_path, parsed_ok, created_at`

func scanUpload(row interface{ Scan(...any) error }) (upload.Record, error) {
	var rec upload.Record
	err := row.Scan(&rec.ID, &rec.SupplierID, &rec.Filename, &rec.Digest,
		&rec.Size, &rec.StoragePath, &rec.ParsedOK, &rec.CreatedAt)
	return rec, err
}

// CreateUpload implements upload.MetadataStore.
func (s *Store) CreateUpload(ctx context.Context, rec upload.Record) (upload.Record, error) {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	row := s.db.QueryRow(ctx, `
		INSERT INTO upload (upload_id, supplier_id, filename, sha256, size_bytes, storage_path, parsed_ok)
		VALUES ($1, $2, $3, $4, $5, $6, false)
		RETURNING `+uploadColumns,
		rec.ID, rec.SupplierID, rec.Filename, rec.Digest, rec.Size, rec.StoragePath)

	created, err := scanUpload(row)
	if err != nil {
		return upload.Record{}, fmt.Errorf("create upload: %w", mapErr(err))
	}
	created.PriorAttempts = rec.PriorAttempts
	return created, nil
}

// GetUpload implements upload.MetadataStore.
func (s *Store) GetUpload(ctx context.Context, id uuid.UUID) (upload.Record, error) {
	rec, err := scanUpload(s.db.QueryRow(ctx,
		`SELECT `+uploadColumns+` FROM upload WHERE upload_id = $1`, id))
	if err != nil {
		err = mapErr(err)
		if errors.Is(err, ErrNotFound) {
			return upload.Record{}, fmt.Errorf("get upload %s: %w", id, upload.ErrNotFound)
		}
		return upload.Record{}, fmt.Errorf("get upload %s: %w", id, err)
	}
	return rec, nil
}

// FindUploadsByDigest implements upload.MetadataStore.
func (s *Store) FindUploadsByDigest(ctx context.Context, supplierID int64, digest string) ([]upload.Record, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+uploadColumns+`
		FROM upload
		WHERE supplier_id = $1 AND sha256 = $2
		ORDER BY created_at, upload_id`, supplierID, digest)
	if err != nil {
		return nil, fmt.Errorf("find uploads by digest: %w", err)
	}
	defer rows.Close()

	var out []upload.Record
	for rows.Next() {
		rec, err := scanUpload(rows)
		if err != nil {
			return nil, fmt.Errorf("scan upload: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// MarkParsed implements upload.MetadataStore.
func (s *Store) MarkParsed(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `UPDATE upload SET parsed_ok = true WHERE upload_id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark upload %s parsed: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("mark upload %s parsed: %w", id, upload.ErrNotFound)
	}
	return nil
}
