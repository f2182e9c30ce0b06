package web

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/JonMunkholm/pricesync/internal/core"
	"github.com/JonMunkholm/pricesync/internal/ingest"
	"github.com/JonMunkholm/pricesync/internal/logging"
)

// handleExport renders a supplier's catalogue in the export template.
//
// Query: brand (repeatable), as_of (YYYY-MM-DD). A POST may attach the
// previous export as multipart field "reference" to flag EOL items.
// Warnings go out in X-Export-Warnings.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	supplierID, err := supplierIDParam(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	req := core.ExportRequest{SupplierID: supplierID}
	for _, b := range r.URL.Query()["brand"] {
		if b = strings.TrimSpace(b); b != "" {
			req.Brands = append(req.Brands, b)
		}
	}
	if raw := r.URL.Query().Get("as_of"); raw != "" {
		asOf, err := time.ParseInLocation(time.DateOnly, raw, time.UTC)
		if err != nil {
			respondError(w, r, badRequest("invalid as_of %q: use YYYY-MM-DD", raw))
			return
		}
		req.AsOf = asOf
	}

	if r.Method == http.MethodPost && strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := s.parseUploadForm(w, r); err != nil {
			respondError(w, r, err)
			return
		}
		defer r.MultipartForm.RemoveAll()

		if file, _, err := r.FormFile("reference"); err == nil {
			defer file.Close()
			req.Reference = file
		}
		for _, b := range r.MultipartForm.Value["brand"] {
			if b = strings.TrimSpace(b); b != "" {
				req.Brands = append(req.Brands, b)
			}
		}
	}

	result, err := s.service.Export(r.Context(), req)
	if err != nil {
		respondError(w, r, err)
		return
	}

	log := logging.WithFields(r.Context(), "supplier_id", supplierID, "file", result.Filename)
	if len(result.Warnings) > 0 {
		log.Warn("export completed with warnings", "warnings", result.Warnings)
		w.Header().Set("X-Export-Warnings", sanitizeHeader(strings.Join(result.Warnings, "; ")))
	}

	body := result.Document.Bytes()
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, result.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		log.Warn("export write failed", "error", err)
		return
	}
	log.Info("export served", "bytes", len(body), "brands", req.Brands)
}

// sanitizeHeader drops characters that cannot appear in a header value.
func sanitizeHeader(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return ' '
		}
		return r
	}, s)
}

// handleIngestChunk serves the chunk endpoint the coordinator calls.
// Errors are returned as non-2xx JSON payloads.
func (s *Server) handleIngestChunk(w http.ResponseWriter, r *http.Request) {
	var req ingest.ChunkRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	resp, err := s.service.Processor().ProcessChunk(r.Context(), req)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, resp)
}
