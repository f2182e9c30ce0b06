package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/pricesync/internal/csvtable"
	"github.com/JonMunkholm/pricesync/internal/mapping"
	"github.com/JonMunkholm/pricesync/internal/upload"
)

// maxReportedErrors caps the row errors echoed back per chunk.
const maxReportedErrors = 20

// ErrInvalidChunk marks a request the processor cannot act on (bad id,
// date, mapping or window). Retrying it will not help.
var ErrInvalidChunk = errors.New("invalid chunk request")

// Uploads is the part of the upload store the processor reads.
type Uploads interface {
	Get(ctx context.Context, id uuid.UUID) (upload.Record, error)
	OpenContent(ctx context.Context, rec upload.Record) (io.ReadCloser, error)
	MarkParsed(ctx context.Context, id uuid.UUID) error
}

// Catalog receives canonical rows.
type Catalog interface {
	SupplierName(ctx context.Context, supplierID int64) (string, error)

	// UpsertItems writes rows keyed by (supplier, SKU) and records each
	// price from effective onward. Applying the same rows twice must leave
	// the catalogue unchanged.
	UpsertItems(ctx context.Context, supplierID int64, rows []mapping.Row, effective time.Time) (int, error)
}

// Processor applies one window of an uploaded file to the catalogue.
// It implements Endpoint, so the coordinator can call it in-process.
type Processor struct {
	uploads  Uploads
	catalog  Catalog
	encoding string
	logger   *slog.Logger
}

// NewProcessor creates a processor. encoding is the source text encoding
// of uploaded files ("" for UTF-8).
func NewProcessor(uploads Uploads, catalog Catalog, encoding string, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{uploads: uploads, catalog: catalog, encoding: encoding, logger: logger}
}

// ProcessChunk implements Endpoint.
//
// Row offsets count non-blank data rows, including rows that fail to parse,
// so a window always covers the same rows of a given file. Rows that fail
// mapping are skipped and reported; they do not fail the chunk.
func (p *Processor) ProcessChunk(ctx context.Context, req ChunkRequest) (ChunkResponse, error) {
	id, err := uuid.Parse(req.UploadID)
	if err != nil {
		return ChunkResponse{}, fmt.Errorf("%w: upload_id: %v", ErrInvalidChunk, err)
	}
	effective, err := time.ParseInLocation(EffectiveDateLayout, req.EffectiveDate, time.UTC)
	if err != nil {
		return ChunkResponse{}, fmt.Errorf("%w: effective_date_ddmmyyyy: %v", ErrInvalidChunk, err)
	}
	if req.Offset < 0 || req.Limit <= 0 {
		return ChunkResponse{}, fmt.Errorf("%w: offset %d limit %d", ErrInvalidChunk, req.Offset, req.Limit)
	}
	m, err := mapping.Parse(req.Mapping)
	if err != nil {
		return ChunkResponse{}, fmt.Errorf("%w: %v", ErrInvalidChunk, err)
	}

	rec, err := p.uploads.Get(ctx, id)
	if err != nil {
		return ChunkResponse{}, fmt.Errorf("get upload %s: %w", id, err)
	}
	supplierName, err := p.catalog.SupplierName(ctx, rec.SupplierID)
	if err != nil {
		return ChunkResponse{}, fmt.Errorf("get supplier %d: %w", rec.SupplierID, err)
	}

	content, err := p.uploads.OpenContent(ctx, rec)
	if err != nil {
		return ChunkResponse{}, fmt.Errorf("open upload %s: %w", id, err)
	}
	defer content.Close()

	table, err := csvtable.OpenWithOptions(content, csvtable.Options{Encoding: p.encoding, Size: rec.Size})
	if err != nil {
		return ChunkResponse{}, fmt.Errorf("read upload %s: %w", id, err)
	}
	if err := mapping.VerifyTable(table, m); err != nil {
		return ChunkResponse{}, fmt.Errorf("%w: %w", ErrInvalidChunk, err)
	}

	var (
		rows      []mapping.Row
		rowErrors []string
		processed int
		skipped   int
		slot      int
	)
	end := req.Offset + req.Limit

	for r, readErr := range table.Records() {
		if readErr == nil && r.IsEmpty() {
			continue
		}
		if readErr != nil {
			var pe *csvtable.ParseError
			if !errors.As(readErr, &pe) {
				return ChunkResponse{}, fmt.Errorf("read upload %s: %w", id, readErr)
			}
		}

		if slot >= req.Offset && slot < end {
			processed++
			if readErr != nil {
				skipped++
				rowErrors = appendCapped(rowErrors, readErr.Error())
			} else if row, err := mapping.Apply(r, m, supplierName); err != nil {
				skipped++
				rowErrors = appendCapped(rowErrors, fmt.Sprintf("line %d: %v", r.Line, err))
			} else {
				rows = append(rows, row)
			}
		}
		slot++
	}
	total := slot

	if len(rows) > 0 {
		if _, err := p.catalog.UpsertItems(ctx, rec.SupplierID, rows, effective); err != nil {
			return ChunkResponse{}, fmt.Errorf("upsert items for upload %s: %w", id, err)
		}
	}

	next := req.Offset + processed
	done := next >= total
	resp := ChunkResponse{
		OK:        true,
		Processed: processed,
		TotalRows: &total,
		Done:      done,
		Skipped:   skipped,
		Errors:    rowErrors,
	}
	if !done {
		resp.NextOffset = &next
	}

	if done {
		if err := p.uploads.MarkParsed(ctx, id); err != nil {
			return ChunkResponse{}, fmt.Errorf("mark upload %s parsed: %w", id, err)
		}
	}

	p.logger.Debug("chunk processed",
		"upload_id", id,
		"offset", req.Offset,
		"processed", processed,
		"skipped", skipped,
		"total_rows", total,
		"done", done,
	)
	return resp, nil
}

func appendCapped(errs []string, msg string) []string {
	if len(errs) >= maxReportedErrors {
		return errs
	}
	return append(errs, msg)
}
