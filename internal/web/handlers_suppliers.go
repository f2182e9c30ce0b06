package web

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/JonMunkholm/pricesync/internal/mapping"
	"github.com/JonMunkholm/pricesync/internal/store"
)

// maxJSONBody bounds JSON request bodies.
const maxJSONBody = 1 << 20

// supplierIDParam parses the {supplierID} path parameter.
func supplierIDParam(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "supplierID")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, badRequest("invalid supplier id %q", raw)
	}
	return id, nil
}

// parseIntParam parses a positive integer query parameter.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	i, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil || i < 1 {
		return defaultVal
	}
	return i
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return badRequest("invalid request body: %v", err)
	}
	return nil
}

func (s *Server) handleListSuppliers(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("all") != "true"
	suppliers, err := s.service.ListSuppliers(r.Context(), activeOnly)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if suppliers == nil {
		suppliers = []store.Supplier{}
	}
	writeJSON(w, suppliers)
}

func (s *Server) handleCreateSupplier(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		respondError(w, r, badRequest("name is required"))
		return
	}

	sup, err := s.service.CreateSupplier(withRequestMetadata(r), strings.TrimSpace(req.Name))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, sup)
}

func (s *Server) handleGetSupplier(w http.ResponseWriter, r *http.Request) {
	id, err := supplierIDParam(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	sup, err := s.service.GetSupplier(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, sup)
}

func (s *Server) handleListBrands(w http.ResponseWriter, r *http.Request) {
	id, err := supplierIDParam(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	brands, err := s.service.ListBrands(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if brands == nil {
		brands = []string{}
	}
	writeJSON(w, brands)
}

// handleSearchItems returns one page of a supplier's catalogue.
// Query: q, brand, page, page_size.
func (s *Server) handleSearchItems(w http.ResponseWriter, r *http.Request) {
	id, err := supplierIDParam(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	q := r.URL.Query()
	page, err := s.service.SearchItems(r.Context(), store.ItemQuery{
		SupplierID: id,
		Brand:      q.Get("brand"),
		Search:     strings.TrimSpace(q.Get("q")),
		Page:       parseIntParam(r, "page", 1),
		PageSize:   parseIntParam(r, "page_size", store.DefaultPageSize),
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, page)
}

type hashResponse struct {
	SHA256 string `json:"sha256"`
	Size   int64  `json:"size"`
}

// handleHash returns the content digest of an uploaded file without
// storing it. It accepts a multipart "file" field or a raw body.
func (s *Server) handleHash(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Ingest.MaxFileSize)

	var src io.Reader = r.Body
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		mr, err := r.MultipartReader()
		if err != nil {
			respondError(w, r, badRequest("invalid form: %v", err))
			return
		}
		for {
			part, err := mr.NextPart()
			if err != nil {
				if err == io.EOF {
					respondError(w, r, badRequest("no file provided"))
				} else {
					respondError(w, r, err)
				}
				return
			}
			if part.FormName() == "file" {
				src = part
				break
			}
		}
	}

	digest, size, err := s.service.HashContent(src)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, hashResponse{SHA256: digest, Size: size})
}

func (s *Server) handleListMappings(w http.ResponseWriter, r *http.Request) {
	id, err := supplierIDParam(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	saved, err := s.service.ListMappings(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, saved)
}

type saveMappingRequest struct {
	Name    string            `json:"name"`
	Mapping map[string]string `json:"mapping"`
	Headers []string          `json:"headers"`
}

func (s *Server) handleSaveMapping(w http.ResponseWriter, r *http.Request) {
	id, err := supplierIDParam(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	var req saveMappingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	m, err := mapping.Parse(req.Mapping)
	if err != nil {
		respondError(w, r, badRequestError{err})
		return
	}
	if len(m.Wire()) == 0 {
		respondError(w, r, badRequest("mapping is required"))
		return
	}

	saved, err := s.service.SaveMapping(withRequestMetadata(r), id, req.Name, m, req.Headers)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, saved)
}

// handleMatchMappings scores saved mappings against the headers given as
// repeated "header" query parameters.
func (s *Server) handleMatchMappings(w http.ResponseWriter, r *http.Request) {
	id, err := supplierIDParam(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	headers := r.URL.Query()["header"]
	if len(headers) == 0 {
		respondError(w, r, badRequest("missing header parameters"))
		return
	}
	matches, err := s.service.MatchMappings(r.Context(), id, headers)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, matches)
}

func (s *Server) handleDeleteMapping(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "mappingID"))
	if err != nil {
		respondError(w, r, badRequest("invalid mapping id"))
		return
	}
	if err := s.service.DeleteMapping(withRequestMetadata(r), id); err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, map[string]string{"status": "deleted"})
}
