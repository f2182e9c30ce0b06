package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/JonMunkholm/pricesync/internal/csvtable"
	"github.com/JonMunkholm/pricesync/internal/mapping"
)

// DefaultPreviewRows is how many raw rows a preview returns.
const DefaultPreviewRows = 100

// Sample limits
const (
	maxRowSamples       = 10
	maxErrorSamples     = 20
	maxDuplicateSamples = 10
)

// PreviewSummary counts what an ingestion of the file would do.
type PreviewSummary struct {
	TotalRows       int `json:"totalRows"`
	ValidRows       int `json:"validRows"`
	ErrorRows       int `json:"errorRows"`
	DuplicateInFile int `json:"duplicateInFile"`
}

// RowPreview is a row resolved onto canonical fields.
type RowPreview struct {
	LineNumber int               `json:"lineNumber"`
	SKU        string            `json:"sku"`
	Values     map[string]string `json:"values"`
}

// ErrorPreview is a row that would be skipped.
type ErrorPreview struct {
	LineNumber int      `json:"lineNumber"`
	Values     []string `json:"values,omitempty"`
	Error      string   `json:"error"`
}

// DuplicatePreview lists lines sharing a supplier SKU. The last one wins.
type DuplicatePreview struct {
	SKU         string `json:"sku"`
	LineNumbers []int  `json:"lineNumbers"`
}

// PreviewResponse describes a file before it is submitted. Headers and Rows
// are always filled; the analysis fields only when the mapping is complete.
type PreviewResponse struct {
	Headers []string   `json:"headers"`
	Rows    [][]string `json:"rows"`

	// Missing lists labels of required fields without a usable header.
	Missing []string `json:"missing,omitempty"`

	// Suggestions are saved mappings built against similar headers.
	Suggestions []MappingMatch `json:"suggestions"`

	Summary          PreviewSummary     `json:"summary"`
	RowSamples       []RowPreview       `json:"rowSamples"`
	ErrorSamples     []ErrorPreview     `json:"errorSamples"`
	DuplicateSamples []DuplicatePreview `json:"duplicateSamples"`
	ProcessingTimeMs int64              `json:"processingTimeMs"`
}

// PreviewUpload reads a supplier file without storing it. It returns the
// header and the first limit rows, and when m is complete, a dry run of
// the mapping over every row.
func (s *Service) PreviewUpload(ctx context.Context, supplierID int64, r io.Reader, m mapping.Mapping, limit int) (*PreviewResponse, error) {
	startTime := time.Now()
	if limit <= 0 {
		limit = DefaultPreviewRows
	}

	sup, err := s.GetSupplier(ctx, supplierID)
	if err != nil {
		return nil, err
	}

	tbl, err := csvtable.OpenWithOptions(r, csvtable.Options{Encoding: s.encoding})
	if err != nil {
		return nil, fmt.Errorf("parse CSV: %w", err)
	}

	resp := &PreviewResponse{
		Headers:          tbl.Header().Names(),
		Rows:             [][]string{},
		RowSamples:       []RowPreview{},
		ErrorSamples:     []ErrorPreview{},
		DuplicateSamples: []DuplicatePreview{},
	}

	resp.Suggestions, err = s.MatchMappings(ctx, supplierID, resp.Headers)
	if err != nil {
		s.logger.Warn("match saved mappings", "supplier_id", supplierID, "error", err)
		resp.Suggestions = []MappingMatch{}
	}

	analyze := len(m) > 0
	if analyze {
		if err := mapping.VerifyTable(tbl, m); err != nil {
			var inc *mapping.IncompleteError
			if !errors.As(err, &inc) {
				return nil, err
			}
			resp.Missing = inc.Labels()
			analyze = false
		}
	}

	seen := make(map[string][]int)
	for rec, err := range tbl.Records() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err != nil {
			var pe *csvtable.ParseError
			if !errors.As(err, &pe) {
				return nil, fmt.Errorf("parse CSV: %w", err)
			}
			resp.Summary.TotalRows++
			resp.Summary.ErrorRows++
			resp.addError(ErrorPreview{LineNumber: pe.Line, Error: pe.Error()})
			continue
		}
		if rec.IsEmpty() {
			continue
		}
		resp.Summary.TotalRows++
		if len(resp.Rows) < limit {
			resp.Rows = append(resp.Rows, rec.Values)
		}
		if !analyze {
			continue
		}

		row, err := mapping.Apply(rec, m, sup.Name)
		if err != nil {
			resp.Summary.ErrorRows++
			resp.addError(ErrorPreview{LineNumber: rec.Line, Values: rec.Values, Error: err.Error()})
			continue
		}
		resp.Summary.ValidRows++
		seen[row.SKU] = append(seen[row.SKU], rec.Line)
		if len(resp.RowSamples) < maxRowSamples {
			resp.RowSamples = append(resp.RowSamples, RowPreview{
				LineNumber: rec.Line,
				SKU:        row.SKU,
				Values:     canonicalValues(row),
			})
		}
	}

	dupKeys := make([]string, 0)
	for sku, lines := range seen {
		if len(lines) > 1 {
			resp.Summary.DuplicateInFile += len(lines) - 1
			dupKeys = append(dupKeys, sku)
		}
	}
	sort.Strings(dupKeys)
	for _, sku := range dupKeys {
		if len(resp.DuplicateSamples) >= maxDuplicateSamples {
			break
		}
		resp.DuplicateSamples = append(resp.DuplicateSamples, DuplicatePreview{SKU: sku, LineNumbers: seen[sku]})
	}

	resp.ProcessingTimeMs = time.Since(startTime).Milliseconds()
	return resp, nil
}

func (p *PreviewResponse) addError(e ErrorPreview) {
	if len(p.ErrorSamples) < maxErrorSamples {
		p.ErrorSamples = append(p.ErrorSamples, e)
	}
}

// canonicalValues renders a row keyed by canonical field name.
func canonicalValues(r mapping.Row) map[string]string {
	return map[string]string{
		string(mapping.FieldSKU):         r.SKU,
		string(mapping.FieldMPN):         r.MPN,
		string(mapping.FieldDescription): r.Description,
		string(mapping.FieldPrice):       r.Price.StringFixed(2),
		string(mapping.FieldBrand):       r.Brand,
		string(mapping.FieldUOM):         r.UOM,
		string(mapping.FieldPackSize):    fmt.Sprint(r.PackSize),
	}
}
