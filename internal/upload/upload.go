// Package upload stores raw supplier files under a content-addressed path and
// records one metadata row per submission.
//
// The content digest is a hex SHA-256 of the full byte stream. The object
// path is derived from (supplier, digest), so re-submitting identical bytes
// for the same supplier overwrites the same object. Metadata is not
// deduplicated: every submission creates its own record so the history of
// attempts stays auditable. Lookups by (supplier, digest) expose earlier
// attempts for the same content.
package upload

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when an upload or object does not exist.
var ErrNotFound = errors.New("upload not found")

// Record is the metadata of one submitted file.
type Record struct {
	ID          uuid.UUID `json:"upload_id"`
	SupplierID  int64     `json:"supplier_id"`
	Filename    string    `json:"filename"`
	Digest      string    `json:"sha256"`
	Size        int64     `json:"size"`
	StoragePath string    `json:"storage_path"`
	ParsedOK    bool      `json:"parsed_ok"`
	CreatedAt   time.Time `json:"created_at"`

	// PriorAttempts counts earlier submissions of the same content for the
	// same supplier. Not persisted.
	PriorAttempts int `json:"prior_attempts"`
}

// ObjectStore holds raw file bytes. Put overwrites any existing object.
type ObjectStore interface {
	Put(ctx context.Context, path string, r io.Reader, contentType string) error
	Open(ctx context.Context, path string) (io.ReadCloser, error)
}

// MetadataStore persists upload records.
type MetadataStore interface {
	CreateUpload(ctx context.Context, rec Record) (Record, error)
	GetUpload(ctx context.Context, id uuid.UUID) (Record, error)
	FindUploadsByDigest(ctx context.Context, supplierID int64, digest string) ([]Record, error)
	MarkParsed(ctx context.Context, id uuid.UUID) error
}

// ObjectPath returns the content-addressed storage path for a file.
func ObjectPath(supplierID int64, digest string) string {
	return fmt.Sprintf("%d/%s.csv", supplierID, strings.ToLower(digest))
}

// Digest computes the hex SHA-256 of r by streaming it.
func Digest(r io.Reader) (string, int64, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, fmt.Errorf("hash content: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// Store is the content-addressed upload store.
type Store struct {
	objects ObjectStore
	meta    MetadataStore
	tempDir string
	now     func() time.Time
}

// NewStore creates a Store. tempDir is where submissions are spooled while
// the digest is computed ("" uses the OS default).
func NewStore(objects ObjectStore, meta MetadataStore, tempDir string) *Store {
	return &Store{
		objects: objects,
		meta:    meta,
		tempDir: tempDir,
		now:     time.Now,
	}
}

// Submit streams r once through the hasher and a spool file, writes the
// bytes to ObjectPath(supplierID, digest) and creates a metadata record.
func (s *Store) Submit(ctx context.Context, supplierID int64, r io.Reader, filename string) (*Record, error) {
	if supplierID <= 0 {
		return nil, fmt.Errorf("invalid supplier id %d", supplierID)
	}

	spool, err := os.CreateTemp(s.tempDir, "upload-*.csv")
	if err != nil {
		return nil, fmt.Errorf("create spool file: %w", err)
	}
	defer func() {
		spool.Close()
		os.Remove(spool.Name())
	}()

	h := sha256.New()
	size, err := io.Copy(io.MultiWriter(spool, h), r)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	digest := hex.EncodeToString(h.Sum(nil))

	if _, err := spool.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind spool file: %w", err)
	}

	path := ObjectPath(supplierID, digest)
	if err := s.objects.Put(ctx, path, spool, "text/csv"); err != nil {
		return nil, fmt.Errorf("store object %s: %w", path, err)
	}

	prior, err := s.meta.FindUploadsByDigest(ctx, supplierID, digest)
	if err != nil {
		return nil, fmt.Errorf("lookup previous uploads: %w", err)
	}

	rec, err := s.meta.CreateUpload(ctx, Record{
		ID:          uuid.New(),
		SupplierID:  supplierID,
		Filename:    filename,
		Digest:      digest,
		Size:        size,
		StoragePath: path,
		CreatedAt:   s.now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("create upload record: %w", err)
	}
	rec.PriorAttempts = len(prior)

	slog.Info("upload stored",
		"upload_id", rec.ID,
		"supplier_id", supplierID,
		"file", filename,
		"sha256", digest,
		"bytes", size,
		"prior_attempts", rec.PriorAttempts,
	)

	return &rec, nil
}

// Get returns an upload record.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (Record, error) {
	return s.meta.GetUpload(ctx, id)
}

// OpenContent opens the stored bytes of an upload.
func (s *Store) OpenContent(ctx context.Context, rec Record) (io.ReadCloser, error) {
	path := rec.StoragePath
	if path == "" {
		path = ObjectPath(rec.SupplierID, rec.Digest)
	}
	return s.objects.Open(ctx, path)
}

// MarkParsed flags an upload as fully ingested.
func (s *Store) MarkParsed(ctx context.Context, id uuid.UUID) error {
	return s.meta.MarkParsed(ctx, id)
}
