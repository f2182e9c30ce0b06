package web

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/JonMunkholm/pricesync/internal/core"
	"github.com/JonMunkholm/pricesync/internal/csvtable"
	"github.com/JonMunkholm/pricesync/internal/ingest"
	"github.com/JonMunkholm/pricesync/internal/logging"
	"github.com/JonMunkholm/pricesync/internal/mapping"
	"github.com/JonMunkholm/pricesync/internal/store"
	"github.com/JonMunkholm/pricesync/internal/upload"
)

// ErrorResponse is the JSON body of every API error.
type ErrorResponse struct {
	Error   string   `json:"error"`
	Message string   `json:"message"`
	Action  string   `json:"action,omitempty"`
	Code    string   `json:"code"`
	Missing []string `json:"missing,omitempty"`
}

// badRequestError marks malformed client input that has no core sentinel.
type badRequestError struct{ err error }

func (e badRequestError) Error() string { return e.err.Error() }
func (e badRequestError) Unwrap() error { return e.err }

func badRequest(format string, args ...any) error {
	return badRequestError{fmt.Errorf(format, args...)}
}

// statusFor picks the HTTP status for err.
func statusFor(err error) int {
	var (
		parseErr *csvtable.ParseError
		bodyErr  *http.MaxBytesError
		badReq   badRequestError
	)
	switch {
	case errors.As(err, &bodyErr):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, mapping.ErrMappingIncomplete):
		return http.StatusUnprocessableEntity
	case errors.Is(err, core.ErrSupplierNotFound),
		errors.Is(err, core.ErrRunNotFound),
		errors.Is(err, upload.ErrNotFound),
		errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrConflict),
		errors.Is(err, core.ErrSupplierBusy):
		return http.StatusConflict
	case errors.Is(err, core.ErrTooManyRuns):
		return http.StatusServiceUnavailable
	case errors.As(err, &badReq),
		errors.As(err, &parseErr),
		errors.Is(err, core.ErrInvalidRequest),
		errors.Is(err, ingest.ErrInvalidChunk),
		errors.Is(err, csvtable.ErrNoHeader):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// respondError logs err with the request ID and writes the mapped user
// message.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := core.MapError(err)

	log := logging.FromContext(r.Context())
	attrs := []any{
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", msg.Code,
	}
	if status >= http.StatusInternalServerError {
		log.Error("request error", attrs...)
	} else {
		log.Warn("request rejected", attrs...)
	}

	resp := ErrorResponse{
		Error:   msg.Message,
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
	}
	var incomplete *mapping.IncompleteError
	if errors.As(err, &incomplete) {
		resp.Missing = incomplete.Labels()
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "30")
	}
	writeJSONStatus(w, status, resp)
}
