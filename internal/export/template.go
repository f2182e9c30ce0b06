package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/JonMunkholm/pricesync/internal/csvtable"
)

// ErrTemplateUnavailable means the configured template could not be read
// and DefaultHeaders were used instead.
var ErrTemplateUnavailable = errors.New("export template unavailable")

// TemplateSource loads the template header row from a URL or a file.
// Successful loads are cached for TTL; concurrent loads share one fetch.
type TemplateSource struct {
	URL    string
	Path   string
	TTL    time.Duration
	Client *http.Client

	logger *slog.Logger
	group  singleflight.Group

	mu       sync.Mutex
	cached   []string
	loadedAt time.Time
}

// NewTemplateSource creates a source. With neither url nor path set every
// load returns DefaultHeaders without a warning.
func NewTemplateSource(url, path string, ttl time.Duration, logger *slog.Logger) *TemplateSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &TemplateSource{
		URL:    url,
		Path:   path,
		TTL:    ttl,
		Client: &http.Client{Timeout: 15 * time.Second},
		logger: logger,
	}
}

// Headers returns the template header list. When a reload fails after the
// TTL the last loaded headers are returned. If nothing was ever loaded it
// returns DefaultHeaders together with an error wrapping
// ErrTemplateUnavailable; callers should treat that error as a warning.
func (s *TemplateSource) Headers(ctx context.Context) ([]string, error) {
	if s.URL == "" && s.Path == "" {
		return copyHeaders(DefaultHeaders), nil
	}

	s.mu.Lock()
	if s.cached != nil && (s.TTL <= 0 || time.Since(s.loadedAt) < s.TTL) {
		h := copyHeaders(s.cached)
		s.mu.Unlock()
		return h, nil
	}
	s.mu.Unlock()

	v, err, _ := s.group.Do("template", func() (any, error) {
		return s.load(ctx)
	})
	if err != nil {
		s.mu.Lock()
		stale := copyHeaders(s.cached)
		s.mu.Unlock()
		if len(stale) > 0 {
			s.logger.Warn("export template unavailable, using last loaded headers",
				"url", s.URL,
				"path", s.Path,
				"error", err,
			)
			return stale, nil
		}
		s.logger.Warn("export template unavailable, using built-in headers",
			"url", s.URL,
			"path", s.Path,
			"error", err,
		)
		return copyHeaders(DefaultHeaders), fmt.Errorf("%w: %v", ErrTemplateUnavailable, err)
	}

	headers := v.([]string)
	s.mu.Lock()
	s.cached = headers
	s.loadedAt = time.Now()
	s.mu.Unlock()
	return copyHeaders(headers), nil
}

// Refresh reloads the template regardless of the cache. On failure the
// previously cached headers stay in place.
func (s *TemplateSource) Refresh(ctx context.Context) ([]string, error) {
	if s.URL == "" && s.Path == "" {
		return copyHeaders(DefaultHeaders), nil
	}
	v, err, _ := s.group.Do("template", func() (any, error) {
		return s.load(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTemplateUnavailable, err)
	}

	headers := v.([]string)
	s.mu.Lock()
	s.cached = headers
	s.loadedAt = time.Now()
	s.mu.Unlock()
	return copyHeaders(headers), nil
}

func (s *TemplateSource) load(ctx context.Context) ([]string, error) {
	var (
		rc  io.ReadCloser
		err error
	)
	if s.URL != "" {
		rc, err = s.fetch(ctx)
	} else {
		rc, err = os.Open(s.Path)
	}
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	headers, err := csvtable.ReadHeader(rc)
	if err != nil {
		return nil, fmt.Errorf("read template header: %w", err)
	}
	if len(headers) == 0 || (len(headers) == 1 && headers[0] == "") {
		return nil, errors.New("template header row is empty")
	}
	return headers, nil
}

func (s *TemplateSource) fetch(ctx context.Context) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build template request: %w", err)
	}
	req.Header.Set("Cache-Control", "no-store")

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch template: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("fetch template: status %d", resp.StatusCode)
	}
	return resp.Body, nil
}

func copyHeaders(h []string) []string {
	return append([]string(nil), h...)
}
