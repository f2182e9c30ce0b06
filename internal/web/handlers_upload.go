package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/JonMunkholm/pricesync/internal/core"
	"github.com/JonMunkholm/pricesync/internal/ingest"
	"github.com/JonMunkholm/pricesync/internal/logging"
	"github.com/JonMunkholm/pricesync/internal/mapping"
	"github.com/JonMunkholm/pricesync/internal/upload"
)

const (
	// multipartMemory is kept in memory before form files spill to disk.
	multipartMemory = 8 << 20

	// multipartOverhead allows for form fields around the file.
	multipartOverhead = 1 << 20

	sseHeartbeat = 15 * time.Second
)

// parseUploadForm limits the body and parses a multipart form.
func (s *Server) parseUploadForm(w http.ResponseWriter, r *http.Request) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Ingest.MaxFileSize+multipartOverhead)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return err
		}
		return badRequest("file too large or invalid form: %v", err)
	}
	return nil
}

// formFile returns the named file, rejecting missing and empty files.
func formFile(r *http.Request, name string) (multipart.File, *multipart.FileHeader, error) {
	file, header, err := r.FormFile(name)
	if err != nil {
		return nil, nil, badRequest("no file provided")
	}
	if header.Size == 0 {
		file.Close()
		return nil, nil, badRequest("empty file")
	}
	return file, header, nil
}

// parseMappingJSON decodes a canonical field -> header object. Empty input
// yields a nil mapping.
func parseMappingJSON(raw string) (mapping.Mapping, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var wire map[string]string
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		return nil, badRequest("invalid mapping format: %v", err)
	}
	return parseMapping(wire)
}

func parseMapping(wire map[string]string) (mapping.Mapping, error) {
	m, err := mapping.Parse(wire)
	if err != nil {
		return nil, badRequestError{err}
	}
	return m, nil
}

// parseEffectiveDate accepts YYYY-MM-DD or DD-MM-YYYY. Empty means today
// (UTC).
func parseEffectiveDate(raw string, now time.Time) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		y, m, d := now.UTC().Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
	}
	for _, layout := range []string{time.DateOnly, ingest.EffectiveDateLayout} {
		if t, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, badRequest("invalid effective_date %q: use YYYY-MM-DD", raw)
}

func parseSupplierID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, badRequest("invalid supplier_id %q", raw)
	}
	return id, nil
}

type uploadResponse struct {
	UploadID      uuid.UUID     `json:"upload_id"`
	RunID         string        `json:"run_id"`
	PriorAttempts int           `json:"prior_attempts"`
	Upload        upload.Record `json:"upload"`
}

func newUploadResponse(started *core.IngestStarted) uploadResponse {
	return uploadResponse{
		UploadID:      started.Upload.ID,
		RunID:         started.RunID,
		PriorAttempts: started.Upload.PriorAttempts,
		Upload:        started.Upload,
	}
}

// handleUpload stores a supplier file and starts an ingestion run.
// Form fields: file, supplier_id, mapping (JSON), effective_date.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := s.parseUploadForm(w, r); err != nil {
		respondError(w, r, err)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := formFile(r, "file")
	if err != nil {
		respondError(w, r, err)
		return
	}
	defer file.Close()

	supplierID, err := parseSupplierID(r.FormValue("supplier_id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	m, err := parseMappingJSON(r.FormValue("mapping"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	effective, err := parseEffectiveDate(r.FormValue("effective_date"), time.Now())
	if err != nil {
		respondError(w, r, err)
		return
	}

	started, err := s.service.StartIngest(withRequestMetadata(r), core.IngestRequest{
		SupplierID:    supplierID,
		Filename:      header.Filename,
		Content:       file,
		Mapping:       m,
		EffectiveDate: effective,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusAccepted, newUploadResponse(started))
}

// handlePreview returns the first rows of a file and, when a mapping is
// given, a dry run of it.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	if err := s.parseUploadForm(w, r); err != nil {
		respondError(w, r, err)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, _, err := formFile(r, "file")
	if err != nil {
		respondError(w, r, err)
		return
	}
	defer file.Close()

	supplierID, err := parseSupplierID(r.FormValue("supplier_id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	m, err := parseMappingJSON(r.FormValue("mapping"))
	if err != nil {
		respondError(w, r, err)
		return
	}

	limit := s.cfg.Ingest.PreviewRows
	if n, err := strconv.Atoi(r.FormValue("limit")); err == nil && n > 0 {
		limit = n
	}

	preview, err := s.service.PreviewUpload(r.Context(), supplierID, file, m, limit)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, preview)
}

type restartRequest struct {
	Mapping       map[string]string `json:"mapping"`
	EffectiveDate string            `json:"effective_date"`
}

// handleRestartRun ingests a stored upload again.
func (s *Server) handleRestartRun(w http.ResponseWriter, r *http.Request) {
	uploadID, err := uuid.Parse(chi.URLParam(r, "uploadID"))
	if err != nil {
		respondError(w, r, badRequest("invalid upload id"))
		return
	}
	var req restartRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	m, err := parseMapping(req.Mapping)
	if err != nil {
		respondError(w, r, err)
		return
	}
	effective, err := parseEffectiveDate(req.EffectiveDate, time.Now())
	if err != nil {
		respondError(w, r, err)
		return
	}

	started, err := s.service.RestartIngest(withRequestMetadata(r), uploadID, m, effective)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusAccepted, newUploadResponse(started))
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.service.ListRuns())
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	p, err := s.service.GetRun(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, p)
}

func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	if err := s.service.CancelRun(runID); err != nil {
		respondError(w, r, err)
		return
	}
	logging.WithFields(r.Context(), "run_id", runID).Info("run cancel requested")
	writeJSON(w, map[string]string{"status": "cancelling", "run_id": runID})
}

// handleRunProgress streams run progress as Server-Sent Events. The event
// ID is the percentage, so a reconnecting client that sends Last-Event-ID
// (or ?lastEventId=) skips updates it has already seen. A final "complete"
// event carries the terminal state.
func (s *Server) handleRunProgress(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	updates, unsubscribe, err := s.service.SubscribeProgress(runID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	defer unsubscribe()

	lastSeen := -1
	if v := r.Header.Get("Last-Event-ID"); v != "" {
		lastSeen, _ = strconv.Atoi(v)
	} else if v := r.URL.Query().Get("lastEventId"); v != "" {
		lastSeen, _ = strconv.Atoi(v)
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()

	var last core.RunProgress
	for {
		select {
		case p, ok := <-updates:
			if !ok {
				writeEvent(w, "complete", "", last)
				rc.Flush()
				return
			}
			last = p
			if p.Percent <= lastSeen && !p.State.IsTerminal() {
				continue
			}
			writeEvent(w, "progress", strconv.Itoa(p.Percent), p)
			if err := rc.Flush(); err != nil {
				return
			}

		case <-heartbeat.C:
			io.WriteString(w, ": ping\n\n")
			if err := rc.Flush(); err != nil {
				return
			}

		case <-r.Context().Done():
			return
		}
	}
}

func writeEvent(w io.Writer, event, id string, v any) {
	data, _ := json.Marshal(v)
	if id != "" {
		fmt.Fprintf(w, "id: %s\n", id)
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}
