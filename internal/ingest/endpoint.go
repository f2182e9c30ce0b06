package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// EffectiveDateLayout is the wire format of the effective date (DD-MM-YYYY).
const EffectiveDateLayout = "02-01-2006"

var (
	// ErrTransport covers network failures, non-2xx responses and
	// undecodable bodies from the chunk endpoint.
	ErrTransport = errors.New("chunk endpoint transport error")

	// ErrTimeout is returned when a single chunk request exceeds its deadline.
	ErrTimeout = errors.New("chunk request timed out")
)

// ChunkRequest asks the endpoint to apply rows [Offset, Offset+Limit) of an upload.
type ChunkRequest struct {
	UploadID      string            `json:"upload_id"`
	EffectiveDate string            `json:"effective_date_ddmmyyyy"`
	Offset        int               `json:"offset"`
	Limit         int               `json:"limit"`
	Mapping       map[string]string `json:"mapping"`
}

// ChunkResponse is the endpoint's answer for one window.
type ChunkResponse struct {
	OK         bool     `json:"ok"`
	Processed  int      `json:"processed"`
	NextOffset *int     `json:"nextOffset"`
	TotalRows  *int     `json:"totalRows"`
	Done       bool     `json:"done"`
	Skipped    int      `json:"skipped,omitempty"`
	Errors     []string `json:"errors,omitempty"`
}

// Endpoint processes one chunk of an upload. Implementations must apply a
// given (offset, limit) window idempotently.
type Endpoint interface {
	ProcessChunk(ctx context.Context, req ChunkRequest) (ChunkResponse, error)
}

// StatusError is a non-2xx answer from the endpoint.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return fmt.Sprintf("chunk endpoint returned %d: %s", e.StatusCode, body)
}

func (e *StatusError) Unwrap() error { return ErrTransport }

// HTTPEndpoint calls a remote chunk endpoint with a JSON POST.
type HTTPEndpoint struct {
	URL    string
	Token  string // optional bearer token
	Client *http.Client
}

// NewHTTPEndpoint creates an endpoint client. Per-request deadlines come
// from the caller's context, so the client itself has no timeout.
func NewHTTPEndpoint(url, token string) *HTTPEndpoint {
	return &HTTPEndpoint{URL: url, Token: token, Client: &http.Client{}}
}

// ProcessChunk implements Endpoint.
func (e *HTTPEndpoint) ProcessChunk(ctx context.Context, req ChunkRequest) (ChunkResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return ChunkResponse{}, fmt.Errorf("marshal chunk request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.URL, bytes.NewReader(body))
	if err != nil {
		return ChunkResponse{}, fmt.Errorf("build chunk request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if e.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+e.Token)
	}

	client := e.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ChunkResponse{}, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return ChunkResponse{}, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ChunkResponse{}, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return ChunkResponse{}, fmt.Errorf("%w: read body: %v", ErrTransport, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return ChunkResponse{}, &StatusError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	var out ChunkResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return ChunkResponse{}, fmt.Errorf("%w: decode response: %v", ErrTransport, err)
	}
	return out, nil
}
