package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/JonMunkholm/pricesync/internal/export"
	"github.com/JonMunkholm/pricesync/internal/ingest"
	"github.com/JonMunkholm/pricesync/internal/pricing"
	"github.com/JonMunkholm/pricesync/internal/store"
	"github.com/JonMunkholm/pricesync/internal/upload"
)

// Defaults for run bookkeeping.
const (
	DefaultRunTimeout   = 2 * time.Hour
	DefaultRunRetention = 30 * time.Minute
)

var (
	// ErrRunNotFound is returned for unknown or expired run IDs.
	ErrRunNotFound = errors.New("run not found")

	// ErrRunCancelled is the error of a run stopped by CancelRun.
	ErrRunCancelled = errors.New("run cancelled")

	// ErrSupplierNotFound is returned for unknown supplier IDs.
	ErrSupplierNotFound = errors.New("supplier not found")

	// ErrInvalidRequest wraps missing or malformed request fields.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrSupplierBusy is returned when another instance is ingesting for
	// the same supplier.
	ErrSupplierBusy = errors.New("supplier has an ingestion run in progress")
)

// CatalogStore is the persistence the service needs.
type CatalogStore interface {
	ingest.Catalog
	pricing.Store

	ListSuppliers(ctx context.Context, activeOnly bool) ([]store.Supplier, error)
	GetSupplier(ctx context.Context, id int64) (store.Supplier, error)
	CreateSupplier(ctx context.Context, name string) (store.Supplier, error)
	ListItems(ctx context.Context, supplierID int64, brands []string) ([]store.CatalogItem, error)
	SearchItems(ctx context.Context, q store.ItemQuery) (store.ItemPage, error)
	ListBrands(ctx context.Context, supplierID int64) ([]string, error)
}

// Options wires a Service. Uploads, Catalog and Templates are required.
type Options struct {
	Uploads   *upload.Store
	Catalog   CatalogStore
	Templates *export.TemplateSource

	// Endpoint processes chunks; nil runs them in-process.
	Endpoint ingest.Endpoint

	// Mirror receives run progress; nil disables mirroring.
	Mirror ProgressMirror

	// Mappings stores saved column mappings; nil disables them.
	Mappings MappingStore

	// Locker serialises runs per supplier; nil skips locking.
	Locker SupplierLocker

	Ingest         ingest.Config
	SourceEncoding string

	MaxConcurrentRuns int
	RunWait           time.Duration
	RunTimeout        time.Duration
	RunRetention      time.Duration

	PriceChunkSize int
	Markup         *decimal.Decimal

	Logger *slog.Logger
}

// Service provides ingestion and export operations.
type Service struct {
	uploads     *upload.Store
	catalog     CatalogStore
	processor   *ingest.Processor
	coordinator *ingest.Coordinator
	resolver    *pricing.Resolver
	templates   *export.TemplateSource
	mirror      ProgressMirror
	mappings    MappingStore
	locker      SupplierLocker
	limiter     *RunLimiter

	encoding     string
	markup       decimal.Decimal
	runTimeout   time.Duration
	runRetention time.Duration
	logger       *slog.Logger

	mu   sync.RWMutex
	runs map[string]*activeRun
}

// NewService creates a Service.
func NewService(opts Options) (*Service, error) {
	if opts.Uploads == nil || opts.Catalog == nil || opts.Templates == nil {
		return nil, errors.New("core: uploads, catalog and templates are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	processor := ingest.NewProcessor(opts.Uploads, opts.Catalog, opts.SourceEncoding, logger)
	endpoint := opts.Endpoint
	if endpoint == nil {
		endpoint = processor
	}

	markup := export.DefaultMarkup
	if opts.Markup != nil {
		markup = *opts.Markup
	}
	runTimeout := opts.RunTimeout
	if runTimeout <= 0 {
		runTimeout = DefaultRunTimeout
	}
	retention := opts.RunRetention
	if retention <= 0 {
		retention = DefaultRunRetention
	}

	return &Service{
		uploads:      opts.Uploads,
		catalog:      opts.Catalog,
		processor:    processor,
		coordinator:  ingest.NewCoordinator(endpoint, opts.Ingest, logger),
		resolver:     pricing.NewResolver(opts.Catalog, opts.PriceChunkSize, logger),
		templates:    opts.Templates,
		mirror:       opts.Mirror,
		mappings:     opts.Mappings,
		locker:       opts.Locker,
		limiter:      NewRunLimiter(opts.MaxConcurrentRuns, opts.RunWait),
		encoding:     opts.SourceEncoding,
		markup:       markup,
		runTimeout:   runTimeout,
		runRetention: retention,
		logger:       logger,
		runs:         make(map[string]*activeRun),
	}, nil
}

// Processor returns the chunk processor serving the ingest endpoint.
func (s *Service) Processor() *ingest.Processor { return s.processor }

// ListSuppliers returns suppliers ordered by name.
func (s *Service) ListSuppliers(ctx context.Context, activeOnly bool) ([]store.Supplier, error) {
	return s.catalog.ListSuppliers(ctx, activeOnly)
}

// CreateSupplier adds a supplier.
func (s *Service) CreateSupplier(ctx context.Context, name string) (store.Supplier, error) {
	sup, err := s.catalog.CreateSupplier(ctx, name)
	if err != nil {
		return store.Supplier{}, err
	}
	s.logger.Info("supplier created", "supplier_id", sup.ID, "name", sup.Name)
	return sup, nil
}

// GetSupplier returns a supplier or ErrSupplierNotFound.
func (s *Service) GetSupplier(ctx context.Context, id int64) (store.Supplier, error) {
	sup, err := s.catalog.GetSupplier(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Supplier{}, fmt.Errorf("%w: %d", ErrSupplierNotFound, id)
		}
		return store.Supplier{}, err
	}
	return sup, nil
}

// ListBrands returns the distinct brands of a supplier's items.
func (s *Service) ListBrands(ctx context.Context, supplierID int64) ([]string, error) {
	if _, err := s.GetSupplier(ctx, supplierID); err != nil {
		return nil, err
	}
	return s.catalog.ListBrands(ctx, supplierID)
}

// SearchItems pages through a supplier's catalogue.
func (s *Service) SearchItems(ctx context.Context, q store.ItemQuery) (store.ItemPage, error) {
	if _, err := s.GetSupplier(ctx, q.SupplierID); err != nil {
		return store.ItemPage{}, err
	}
	return s.catalog.SearchItems(ctx, q)
}

// HashContent streams r through SHA-256.
func (s *Service) HashContent(r io.Reader) (string, int64, error) {
	return upload.Digest(r)
}

// WaitForRuns blocks until all runs finish or ctx is done.
func (s *Service) WaitForRuns(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}

// RunLimiterStatus returns the run limiter state.
func (s *Service) RunLimiterStatus() RunLimiterStatus {
	return s.limiter.Status()
}
