package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/pricesync/internal/csvtable"
	"github.com/JonMunkholm/pricesync/internal/export"
)

// ExportRequest selects what to export.
type ExportRequest struct {
	SupplierID int64
	Brands     []string

	// Reference is a previously exported snapshot used to flag EOL items.
	// Optional.
	Reference io.Reader

	// AsOf is the price date; zero means today.
	AsOf time.Time
}

// ExportResult is a rendered export.
type ExportResult struct {
	Filename string
	Document *export.Document
	Warnings []string
}

// Export builds the catalogue export for a supplier. The template, the
// priced items and the reference snapshot are loaded concurrently. A
// template that cannot be loaded falls back to the built-in headers with a
// warning.
func (s *Service) Export(ctx context.Context, req ExportRequest) (*ExportResult, error) {
	sup, err := s.GetSupplier(ctx, req.SupplierID)
	if err != nil {
		return nil, err
	}
	asOf := req.AsOf
	if asOf.IsZero() {
		asOf = time.Now()
	}
	start := time.Now()

	var (
		headers  []string
		items    []export.Item
		snap     *export.Snapshot
		warnings []string
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		h, err := s.templates.Headers(gctx)
		if err != nil {
			if !errors.Is(err, export.ErrTemplateUnavailable) {
				return err
			}
			s.logger.Warn("export template unavailable, using built-in headers", "error", err)
			warnings = append(warnings, FormatUserError(err))
		}
		headers = h
		return nil
	})

	g.Go(func() error {
		var err error
		items, err = s.pricedItems(gctx, req.SupplierID, req.Brands, asOf)
		return err
	})

	if req.Reference != nil {
		g.Go(func() error {
			var err error
			snap, err = export.ReadSnapshot(req.Reference)
			if errors.Is(err, csvtable.ErrNoHeader) {
				snap = nil
				return nil
			}
			return err
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	doc := export.Build(headers, items, snap, s.markup)
	doc.Generated = time.Now().UTC()
	doc.Warnings = append(warnings, doc.Warnings...)

	s.logger.Info("export built",
		"supplier_id", sup.ID,
		"brands", len(req.Brands),
		"items", doc.ItemRows,
		"eol", doc.EOLRows,
		"warnings", len(doc.Warnings),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return &ExportResult{
		Filename: export.Filename(sup.Name, asOf),
		Document: doc,
		Warnings: doc.Warnings,
	}, nil
}

// pricedItems loads a supplier's items and attaches the price in force on
// asOf.
func (s *Service) pricedItems(ctx context.Context, supplierID int64, brands []string, asOf time.Time) ([]export.Item, error) {
	rows, err := s.catalog.ListItems(ctx, supplierID, brands)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}

	prices, err := s.resolver.ResolveCurrentPrices(ctx, ids, asOf)
	if err != nil {
		return nil, fmt.Errorf("resolve prices: %w", err)
	}

	items := make([]export.Item, len(rows))
	for i, r := range rows {
		items[i] = export.Item{
			ID:          r.ID,
			SKU:         r.SKU,
			MPN:         r.MPN,
			Brand:       r.Brand,
			Description: r.Description,
		}
		if p, ok := prices[r.ID]; ok {
			items[i].Price = &p
		}
	}
	return items, nil
}
