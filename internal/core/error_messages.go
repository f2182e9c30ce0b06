package core

// error_messages.go maps technical errors to user-facing messages with codes
// support staff can look up.
//
// Sentinel errors are matched first with errors.Is; anything else falls back
// to case-insensitive substring patterns, first match wins.
//
//	MAP001  required canonical fields are not mapped
//	MAP002  mapping names an unknown canonical field
//	CSV001  a row could not be parsed
//	CSV002  the file has no header row
//	CSV003  unsupported source encoding
//	ING001  the chunk endpoint failed twice
//	ING002  a chunk request timed out twice
//	ING003  the chunk endpoint stopped advancing
//	ING004  the chunk request was rejected
//	UPL001  run cancelled
//	UPL002  too many concurrent runs
//	UPL003  upload not found
//	UPL004  run not found
//	UPL005  empty or missing file
//	UPL006  file over the size limit
//	REQ001  missing supplier, file or effective date
//	SUP001  supplier not found
//	SUP002  supplier already exists
//	SUP003  supplier has a run in progress
//	EXP001  export template unavailable (built-in headers used)
//	DB004   database connection refused
//	DB006   database timeout
//	RATE001 rate limited
//	ERR000  anything else

import (
	"errors"
	"fmt"
	"strings"

	"github.com/JonMunkholm/pricesync/internal/csvtable"
	"github.com/JonMunkholm/pricesync/internal/export"
	"github.com/JonMunkholm/pricesync/internal/ingest"
	"github.com/JonMunkholm/pricesync/internal/mapping"
	"github.com/JonMunkholm/pricesync/internal/store"
	"github.com/JonMunkholm/pricesync/internal/upload"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string `json:"message"`
	Action  string `json:"action"`
	Code    string `json:"code"`
}

var (
	msgMappingIncomplete = UserMessage{"Required columns are not mapped", "Map supplier SKU, MPN, description and price to columns in your file", "MAP001"}
	msgParseError        = UserMessage{"A row in the file could not be read", "Check for unbalanced quotes near the reported line", "CSV001"}
	msgNoHeader          = UserMessage{"The file has no header row", "Upload a CSV whose first line names the columns", "CSV002"}
	msgTransport         = UserMessage{"The ingestion endpoint failed", "The run stopped at the reported offset; start it again to resume", "ING001"}
	msgTimeout           = UserMessage{"The ingestion endpoint timed out", "Try again later or use a smaller batch size", "ING002"}
	msgNoProgress        = UserMessage{"The ingestion endpoint stopped advancing", "Contact support with the run ID", "ING003"}
	msgInvalidChunk      = UserMessage{"The ingestion request was rejected", "Check the mapping and effective date", "ING004"}
	msgCancelled         = UserMessage{"The run was cancelled", "Start a new upload when ready", "UPL001"}
	msgTooManyRuns       = UserMessage{"System is busy processing other uploads", "Please wait a moment and try again", "UPL002"}
	msgUploadNotFound    = UserMessage{"Upload not found", "The upload may have been removed. Please upload the file again", "UPL003"}
	msgRunNotFound       = UserMessage{"Run not found", "The run may have expired. Please start a new upload", "UPL004"}
	msgSupplierNotFound  = UserMessage{"Supplier not found", "Select an existing supplier", "SUP001"}
	msgSupplierExists    = UserMessage{"A supplier with this name already exists", "Choose a different name", "SUP002"}
	msgSupplierBusy      = UserMessage{"This supplier already has an upload in progress", "Wait for it to finish, then try again", "SUP003"}
	msgInvalidRequest    = UserMessage{"The request is incomplete", "Provide a supplier, a CSV file and an effective date", "REQ001"}
	msgTemplate          = UserMessage{"The export template could not be loaded", "The built-in template was used instead", "EXP001"}
)

// sentinelMessages is checked in order with errors.Is.
var sentinelMessages = []struct {
	err error
	msg UserMessage
}{
	{mapping.ErrMappingIncomplete, msgMappingIncomplete},
	{csvtable.ErrNoHeader, msgNoHeader},
	{ErrRunCancelled, msgCancelled},
	{ErrTooManyRuns, msgTooManyRuns},
	{ErrRunNotFound, msgRunNotFound},
	{upload.ErrNotFound, msgUploadNotFound},
	{ErrSupplierNotFound, msgSupplierNotFound},
	{ErrSupplierBusy, msgSupplierBusy},
	{ErrInvalidRequest, msgInvalidRequest},
	{store.ErrConflict, msgSupplierExists},
	{ingest.ErrInvalidChunk, msgInvalidChunk},
	{ingest.ErrNoProgress, msgNoProgress},
	{ingest.ErrTimeout, msgTimeout},
	{ingest.ErrTransport, msgTransport},
	{export.ErrTemplateUnavailable, msgTemplate},
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns are matched case-insensitively with strings.Contains.
// Order matters: specific before general.
var errorPatterns = []errorPattern{
	{"mapping incomplete", msgMappingIncomplete},
	{"unknown canonical fields", UserMessage{"The mapping names an unknown field", "Use only supplier_sku, mpn, description, price_ex_gst, brand, uom and pack_size", "MAP002"}},
	{"parse error on line", msgParseError},
	{"unsupported source encoding", UserMessage{"The file encoding is not supported", "Save the file as UTF-8 or Windows-1252", "CSV003"}},
	{"no file provided", UserMessage{"No file was selected", "Please select a CSV file to upload", "UPL005"}},
	{"empty file", UserMessage{"The uploaded file is empty", "Please upload a CSV file with data rows", "UPL005"}},
	{"request body too large", UserMessage{"The file is too large", "Split the price list or raise UPLOAD_MAX_FILE_SIZE", "UPL006"}},
	{"connection refused", UserMessage{"Unable to connect to database", "Please try again in a few moments", "DB004"}},
	{"context deadline exceeded", UserMessage{"Operation timed out", "Please try again later", "DB006"}},
	{"timeout", UserMessage{"Operation timed out", "Please try again later", "DB006"}},
	{"rate limit", UserMessage{"Too many requests", "Please wait a moment before trying again", "RATE001"}},
}

// defaultMessage is returned when nothing matches (ERR000). Check the logs
// for the original error.
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	for _, sm := range sentinelMessages {
		if errors.Is(err, sm.err) {
			msg := sm.msg
			var inc *mapping.IncompleteError
			if errors.As(err, &inc) {
				msg.Message = fmt.Sprintf("%s: %s", msg.Message, strings.Join(inc.Labels(), ", "))
			}
			return msg
		}
	}

	var pe *csvtable.ParseError
	if errors.As(err, &pe) {
		return msgParseError
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}
