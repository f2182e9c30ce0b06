package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/JonMunkholm/pricesync/internal/export"
	"github.com/JonMunkholm/pricesync/internal/ingest"
	"github.com/JonMunkholm/pricesync/internal/mapping"
	"github.com/JonMunkholm/pricesync/internal/pricing"
	"github.com/JonMunkholm/pricesync/internal/store"
	"github.com/JonMunkholm/pricesync/internal/upload"
)

// memCatalog is an in-memory CatalogStore.
type memCatalog struct {
	*pricing.MemoryStore

	mu        sync.Mutex
	suppliers map[int64]store.Supplier
	items     map[string]*store.CatalogItem // supplier/sku
	nextID    int64
}

func newMemCatalog() *memCatalog {
	return &memCatalog{
		MemoryStore: pricing.NewMemoryStore(),
		suppliers: map[int64]store.Supplier{
			1: {ID: 1, Name: "Acme Supply", Active: true},
		},
		items: make(map[string]*store.CatalogItem),
	}
}

func (c *memCatalog) SupplierName(ctx context.Context, id int64) (string, error) {
	sup, err := c.GetSupplier(ctx, id)
	return sup.Name, err
}

func (c *memCatalog) UpsertItems(_ context.Context, supplierID int64, rows []mapping.Row, effective time.Time) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range rows {
		key := fmt.Sprintf("%d/%s", supplierID, r.SKU)
		it, ok := c.items[key]
		if !ok {
			c.nextID++
			it = &store.CatalogItem{ID: c.nextID, SupplierID: supplierID, SKU: r.SKU, Active: true}
			c.items[key] = it
		}
		it.Brand, it.MPN, it.SearchKey, it.Description = r.Brand, r.MPN, r.SearchKey, r.Description
		it.UOM, it.PackSize = r.UOM, r.PackSize
		c.Add(it.ID, r.Price, effective)
	}
	return len(rows), nil
}

func (c *memCatalog) ListSuppliers(context.Context, bool) ([]store.Supplier, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]store.Supplier, 0, len(c.suppliers))
	for _, s := range c.suppliers {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (c *memCatalog) GetSupplier(_ context.Context, id int64) (store.Supplier, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.suppliers[id]
	if !ok {
		return store.Supplier{}, store.ErrNotFound
	}
	return s, nil
}

func (c *memCatalog) CreateSupplier(_ context.Context, name string) (store.Supplier, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.suppliers {
		if s.Name == name {
			return store.Supplier{}, store.ErrConflict
		}
	}
	s := store.Supplier{ID: int64(len(c.suppliers) + 1), Name: name, Active: true}
	c.suppliers[s.ID] = s
	return s, nil
}

func (c *memCatalog) ListItems(_ context.Context, supplierID int64, brands []string) ([]store.CatalogItem, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []store.CatalogItem
	for _, it := range c.items {
		if it.SupplierID != supplierID {
			continue
		}
		if len(brands) > 0 && !contains(brands, it.Brand) {
			continue
		}
		out = append(out, *it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SKU < out[j].SKU })
	return out, nil
}

func (c *memCatalog) SearchItems(ctx context.Context, q store.ItemQuery) (store.ItemPage, error) {
	items, _ := c.ListItems(ctx, q.SupplierID, nil)
	page := store.ItemPage{Items: []store.CatalogItem{}, Page: 1, PageSize: len(items), TotalPages: 1}
	for _, it := range items {
		if q.Search == "" || strings.Contains(strings.ToLower(it.SKU+" "+it.Description), strings.ToLower(q.Search)) {
			page.Items = append(page.Items, it)
		}
	}
	page.Total = int64(len(page.Items))
	return page, nil
}

func (c *memCatalog) ListBrands(ctx context.Context, supplierID int64) ([]string, error) {
	items, _ := c.ListItems(ctx, supplierID, nil)
	seen := map[string]bool{}
	var out []string
	for _, it := range items {
		if !seen[it.Brand] {
			seen[it.Brand] = true
			out = append(out, it.Brand)
		}
	}
	sort.Strings(out)
	return out, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// memMirror records published progress.
type memMirror struct {
	mu   sync.Mutex
	runs map[string]RunProgress
	n    int
}

func (m *memMirror) Publish(_ context.Context, p RunProgress) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.runs == nil {
		m.runs = make(map[string]RunProgress)
	}
	m.runs[p.RunID] = p
	m.n++
	return nil
}

func (m *memMirror) Load(_ context.Context, runID string) (RunProgress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.runs[runID]
	if !ok {
		return RunProgress{}, ErrRunNotFound
	}
	return p, nil
}

const priceList = "Code,Part,Desc,Cost,Make\n" +
	"A1,X 100,Widget,\"$1,200.50\",Bosch\n" +
	"A2,X-200,Gadget,3,Makita\n" +
	"A3,,Thing,4.25,\n"

var priceListMapping = mapping.Mapping{
	mapping.FieldSKU:         "Code",
	mapping.FieldMPN:         "Part",
	mapping.FieldDescription: "Desc",
	mapping.FieldPrice:       "Cost",
	mapping.FieldBrand:       "Make",
}

var effective = time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)

type fixture struct {
	svc     *Service
	catalog *memCatalog
	uploads *upload.Store
	mirror  *memMirror
}

func newFixture(t *testing.T, endpoint ingest.Endpoint) *fixture {
	t.Helper()
	f := &fixture{
		catalog: newMemCatalog(),
		uploads: upload.NewStore(upload.NewMemoryObjectStore(), upload.NewMemoryMetadataStore(), t.TempDir()),
		mirror:  &memMirror{},
	}
	svc, err := NewService(Options{
		Uploads:   f.uploads,
		Catalog:   f.catalog,
		Templates: export.NewTemplateSource("", "", 0, nil),
		Endpoint:  endpoint,
		Mirror:    f.mirror,
		Ingest:    ingest.Config{BatchSize: 2, RetryBackoff: time.Millisecond},
	})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	f.svc = svc
	return f
}

func (f *fixture) ingest(t *testing.T, csv string) (*IngestStarted, RunProgress, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	started, err := f.svc.StartIngest(ctx, IngestRequest{
		SupplierID:    1,
		Filename:      "prices.csv",
		Content:       strings.NewReader(csv),
		Mapping:       priceListMapping,
		EffectiveDate: effective,
	})
	if err != nil {
		t.Fatalf("StartIngest() error = %v", err)
	}
	final, runErr := f.svc.WaitRun(ctx, started.RunID)
	return started, final, runErr
}

func TestNewService_RequiresDependencies(t *testing.T) {
	if _, err := NewService(Options{}); err == nil {
		t.Error("NewService(Options{}) should fail")
	}
}

func TestStartIngest_EndToEnd(t *testing.T) {
	f := newFixture(t, nil)
	started, final, err := f.ingest(t, priceList)
	if err != nil {
		t.Fatalf("run error = %v", err)
	}

	if final.State != ingest.StateCompleted {
		t.Errorf("State = %s, want completed", final.State)
	}
	if final.Processed != 3 || final.CompletedBatches != 2 || final.Percent != 100 {
		t.Errorf("final = processed %d batches %d percent %d", final.Processed, final.CompletedBatches, final.Percent)
	}
	if final.UserError != nil {
		t.Errorf("UserError = %+v, want nil", final.UserError)
	}

	rec, err := f.uploads.Get(context.Background(), started.Upload.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !rec.ParsedOK {
		t.Error("upload should be marked parsed")
	}

	items, _ := f.catalog.ListItems(context.Background(), 1, nil)
	if len(items) != 3 {
		t.Fatalf("catalog has %d items, want 3", len(items))
	}
	if items[2].Brand != "Acme Supply" {
		t.Errorf("blank brand = %q, want supplier name", items[2].Brand)
	}

	if got := f.svc.RunLimiterStatus().Active; got != 0 {
		t.Errorf("limiter Active = %d after run, want 0", got)
	}

	mirrored, err := f.mirror.Load(context.Background(), started.RunID)
	if err != nil {
		t.Fatalf("mirror Load() error = %v", err)
	}
	if mirrored.State != ingest.StateCompleted {
		t.Errorf("mirrored State = %s, want completed", mirrored.State)
	}
}

func TestStartIngest_Rejections(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	tests := []struct {
		name string
		req  IngestRequest
		want error
	}{
		{
			name: "missing effective date",
			req:  IngestRequest{SupplierID: 1, Content: strings.NewReader(priceList), Mapping: priceListMapping},
			want: ErrInvalidRequest,
		},
		{
			name: "unknown supplier",
			req:  IngestRequest{SupplierID: 99, Content: strings.NewReader(priceList), Mapping: priceListMapping, EffectiveDate: effective},
			want: ErrSupplierNotFound,
		},
		{
			name: "mapping incomplete",
			req: IngestRequest{SupplierID: 1, Content: strings.NewReader(priceList), EffectiveDate: effective,
				Mapping: mapping.Mapping{mapping.FieldSKU: "Code", mapping.FieldPrice: "Price"}},
			want: mapping.ErrMappingIncomplete,
		},
		{
			name: "no file",
			req:  IngestRequest{SupplierID: 1, Mapping: priceListMapping, EffectiveDate: effective},
			want: ErrInvalidRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.StartIngest(ctx, tt.req)
			if !errors.Is(err, tt.want) {
				t.Errorf("StartIngest() error = %v, want %v", err, tt.want)
			}
		})
	}

	if got := f.svc.RunLimiterStatus().Active; got != 0 {
		t.Errorf("limiter Active = %d, want 0", got)
	}
	if runs := f.svc.ListRuns(); len(runs) != 0 {
		t.Errorf("ListRuns() = %d runs, want 0", len(runs))
	}
}

func TestSubscribeProgress_EndsWithTerminalState(t *testing.T) {
	f := newFixture(t, nil)
	started, err := f.svc.StartIngest(context.Background(), IngestRequest{
		SupplierID: 1, Filename: "prices.csv", Content: strings.NewReader(priceList),
		Mapping: priceListMapping, EffectiveDate: effective,
	})
	if err != nil {
		t.Fatalf("StartIngest() error = %v", err)
	}

	ch, unsubscribe, err := f.svc.SubscribeProgress(started.RunID)
	if err != nil {
		t.Fatalf("SubscribeProgress() error = %v", err)
	}
	defer unsubscribe()

	var last RunProgress
	timeout := time.After(5 * time.Second)
	for done := false; !done; {
		select {
		case p, ok := <-ch:
			if !ok {
				done = true
				break
			}
			if p.RunID != started.RunID {
				t.Errorf("RunID = %q, want %q", p.RunID, started.RunID)
			}
			last = p
		case <-timeout:
			t.Fatal("progress channel never closed")
		}
	}
	if last.State != ingest.StateCompleted {
		t.Errorf("last State = %s, want completed", last.State)
	}

	// A finished run still answers with its final state.
	ch, _, err = f.svc.SubscribeProgress(started.RunID)
	if err != nil {
		t.Fatalf("SubscribeProgress() after finish error = %v", err)
	}
	if p := <-ch; p.State != ingest.StateCompleted {
		t.Errorf("replayed State = %s, want completed", p.State)
	}
	if _, ok := <-ch; ok {
		t.Error("channel of finished run should be closed")
	}
}

func TestSubscribeProgress_UnknownRun(t *testing.T) {
	f := newFixture(t, nil)
	if _, _, err := f.svc.SubscribeProgress("nope"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("error = %v, want ErrRunNotFound", err)
	}
	if err := f.svc.CancelRun("nope"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("CancelRun error = %v, want ErrRunNotFound", err)
	}
}

// gateEndpoint blocks its first call until released.
type gateEndpoint struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
}

func (g *gateEndpoint) ProcessChunk(_ context.Context, req ingest.ChunkRequest) (ingest.ChunkResponse, error) {
	if g.calls.Add(1) == 1 {
		close(g.started)
		<-g.release
	}
	next := req.Offset + req.Limit
	total := 1000
	return ingest.ChunkResponse{OK: true, Processed: req.Limit, NextOffset: &next, TotalRows: &total}, nil
}

func TestCancelRun_FinishesInFlightBatch(t *testing.T) {
	gate := &gateEndpoint{started: make(chan struct{}), release: make(chan struct{})}
	f := newFixture(t, gate)

	started, err := f.svc.StartIngest(context.Background(), IngestRequest{
		SupplierID: 1, Filename: "prices.csv", Content: strings.NewReader(priceList),
		Mapping: priceListMapping, EffectiveDate: effective,
	})
	if err != nil {
		t.Fatalf("StartIngest() error = %v", err)
	}

	<-gate.started
	if err := f.svc.CancelRun(started.RunID); err != nil {
		t.Fatalf("CancelRun() error = %v", err)
	}
	close(gate.release)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	final, err := f.svc.WaitRun(ctx, started.RunID)
	if !errors.Is(err, ErrRunCancelled) {
		t.Errorf("run error = %v, want ErrRunCancelled", err)
	}
	if final.State != ingest.StateCancelled {
		t.Errorf("State = %s, want cancelled", final.State)
	}
	if final.Processed != 2 {
		t.Errorf("Processed = %d, want the in-flight batch (2)", final.Processed)
	}
	if final.UserError == nil || final.UserError.Code != "UPL001" {
		t.Errorf("UserError = %+v, want UPL001", final.UserError)
	}
	if n := gate.calls.Load(); n != 1 {
		t.Errorf("endpoint called %d times, want 1", n)
	}
}

func TestGetRun_FallsBackToMirror(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	want := RunProgress{RunID: "old-run", RunState: ingest.RunState{State: ingest.StateCompleted}}
	_ = f.mirror.Publish(ctx, want)

	got, err := f.svc.GetRun(ctx, "old-run")
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if got.State != ingest.StateCompleted {
		t.Errorf("State = %s, want completed", got.State)
	}
	if _, err := f.svc.GetRun(ctx, "missing"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("GetRun(missing) error = %v, want ErrRunNotFound", err)
	}
}

func TestRestartIngest(t *testing.T) {
	f := newFixture(t, nil)
	started, _, err := f.ingest(t, priceList)
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	again, err := f.svc.RestartIngest(ctx, started.Upload.ID, priceListMapping, effective)
	if err != nil {
		t.Fatalf("RestartIngest() error = %v", err)
	}
	if again.RunID == started.RunID {
		t.Error("restart should create a new run")
	}
	final, err := f.svc.WaitRun(ctx, again.RunID)
	if err != nil || final.State != ingest.StateCompleted {
		t.Fatalf("restarted run = %s, %v", final.State, err)
	}

	items, _ := f.catalog.ListItems(ctx, 1, nil)
	if len(items) != 3 {
		t.Errorf("catalog has %d items after restart, want 3", len(items))
	}
	if runs := f.svc.ListRuns(); len(runs) != 2 {
		t.Errorf("ListRuns() = %d, want 2", len(runs))
	}
}

func TestExport_WithReferenceSnapshot(t *testing.T) {
	f := newFixture(t, nil)
	if _, _, err := f.ingest(t, priceList); err != nil {
		t.Fatal(err)
	}

	reference := "Part Number,Universal Product Code,Description,Group\n" +
		"A1,X-100,Widget,Tools\n" +
		"OLD9,Z-9,Old thing,Garden\n"

	res, err := f.svc.Export(context.Background(), ExportRequest{
		SupplierID: 1,
		Reference:  strings.NewReader(reference),
		AsOf:       effective.AddDate(0, 0, 1),
	})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}

	if res.Filename != "Catalogue-Export-Acme-Supply-2024-07-02.csv" {
		t.Errorf("Filename = %q", res.Filename)
	}
	doc := res.Document
	if doc.ItemRows != 3 || doc.EOLRows != 1 {
		t.Fatalf("rows = %d items, %d EOL; want 3, 1", doc.ItemRows, doc.EOLRows)
	}

	col := func(name string) int {
		for i, h := range doc.Headers {
			if h == name {
				return i
			}
		}
		t.Fatalf("header %q missing", name)
		return -1
	}
	first := doc.Rows[0]
	if first[col("Part Number")] != "A1" {
		t.Errorf("first row part = %q, want A1", first[col("Part Number")])
	}
	if first[col("Trade Price")] != "1200.5" {
		t.Errorf("first row trade price = %q, want 1200.5", first[col("Trade Price")])
	}
	if first[col("Description")] != "Bosch • X 100 • Widget" {
		t.Errorf("first row description = %q", first[col("Description")])
	}

	eol := doc.Rows[3]
	if eol[col("Description")] != "EOL - Old thing" || eol[col("Trade Price")] != "0" {
		t.Errorf("EOL row = %v", eol)
	}
	if got := eol[col("Group (Ignored for Updates)")]; got != "Garden" {
		t.Errorf("EOL group = %q, want Garden", got)
	}
}

func TestExport_BrandFilterAndNoPrice(t *testing.T) {
	f := newFixture(t, nil)
	if _, _, err := f.ingest(t, priceList); err != nil {
		t.Fatal(err)
	}

	// Before the effective date nothing is priced.
	res, err := f.svc.Export(context.Background(), ExportRequest{
		SupplierID: 1,
		Brands:     []string{"Makita"},
		AsOf:       effective.AddDate(0, 0, -1),
	})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if res.Document.ItemRows != 1 {
		t.Fatalf("ItemRows = %d, want 1", res.Document.ItemRows)
	}
	row := res.Document.Rows[0]
	if row[8] != "0" {
		t.Errorf("unpriced trade price = %q, want 0", row[8])
	}
}

func TestExport_UnknownSupplier(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.svc.Export(context.Background(), ExportRequest{SupplierID: 42})
	if !errors.Is(err, ErrSupplierNotFound) {
		t.Errorf("error = %v, want ErrSupplierNotFound", err)
	}
}

func TestPreviewUpload(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	csv := priceList + "A2,X-200,Gadget again,3.10,Makita\n" + "A4,X-400,No price,,\n"

	t.Run("raw rows without mapping", func(t *testing.T) {
		resp, err := f.svc.PreviewUpload(ctx, 1, strings.NewReader(csv), nil, 2)
		if err != nil {
			t.Fatalf("PreviewUpload() error = %v", err)
		}
		if len(resp.Headers) != 5 || len(resp.Rows) != 2 {
			t.Errorf("headers %d rows %d, want 5 and 2", len(resp.Headers), len(resp.Rows))
		}
		if resp.Summary.TotalRows != 5 || resp.Summary.ValidRows != 0 {
			t.Errorf("Summary = %+v", resp.Summary)
		}
	})

	t.Run("incomplete mapping lists labels", func(t *testing.T) {
		resp, err := f.svc.PreviewUpload(ctx, 1, strings.NewReader(csv), mapping.Mapping{mapping.FieldSKU: "Code"}, 0)
		if err != nil {
			t.Fatalf("PreviewUpload() error = %v", err)
		}
		want := []string{"Manufacturer Part Number", "Product Description", "Price ex GST"}
		if strings.Join(resp.Missing, "|") != strings.Join(want, "|") {
			t.Errorf("Missing = %v, want %v", resp.Missing, want)
		}
	})

	t.Run("dry run", func(t *testing.T) {
		resp, err := f.svc.PreviewUpload(ctx, 1, strings.NewReader(csv), priceListMapping, 0)
		if err != nil {
			t.Fatalf("PreviewUpload() error = %v", err)
		}
		s := resp.Summary
		if s.TotalRows != 5 || s.ValidRows != 4 || s.ErrorRows != 1 || s.DuplicateInFile != 1 {
			t.Errorf("Summary = %+v", s)
		}
		if len(resp.ErrorSamples) != 1 || resp.ErrorSamples[0].LineNumber != 6 {
			t.Errorf("ErrorSamples = %+v", resp.ErrorSamples)
		}
		if len(resp.DuplicateSamples) != 1 || resp.DuplicateSamples[0].SKU != "A2" {
			t.Errorf("DuplicateSamples = %+v", resp.DuplicateSamples)
		}
		if got := resp.RowSamples[0].Values["price_ex_gst"]; got != "1200.50" {
			t.Errorf("sample price = %q, want 1200.50", got)
		}
	})

	t.Run("unknown supplier", func(t *testing.T) {
		_, err := f.svc.PreviewUpload(ctx, 9, strings.NewReader(csv), nil, 0)
		if !errors.Is(err, ErrSupplierNotFound) {
			t.Errorf("error = %v, want ErrSupplierNotFound", err)
		}
	})
}

func TestSupplierPassthroughs(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if _, err := f.svc.CreateSupplier(ctx, "Acme Supply"); !errors.Is(err, store.ErrConflict) {
		t.Errorf("duplicate CreateSupplier error = %v, want ErrConflict", err)
	}
	sup, err := f.svc.CreateSupplier(ctx, "Bolt Co")
	if err != nil {
		t.Fatalf("CreateSupplier() error = %v", err)
	}
	list, _ := f.svc.ListSuppliers(ctx, true)
	if len(list) != 2 || list[1].ID != sup.ID {
		t.Errorf("ListSuppliers() = %+v", list)
	}
	if _, err := f.svc.ListBrands(ctx, 77); !errors.Is(err, ErrSupplierNotFound) {
		t.Errorf("ListBrands(77) error = %v, want ErrSupplierNotFound", err)
	}

	digest, n, err := f.svc.HashContent(strings.NewReader("abc"))
	if err != nil || n != 3 || digest != "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad" {
		t.Errorf("HashContent() = %q, %d, %v", digest, n, err)
	}
}

func TestMarkupOption(t *testing.T) {
	m := decimal.NewFromInt(40)
	svc, err := NewService(Options{
		Uploads:   upload.NewStore(upload.NewMemoryObjectStore(), upload.NewMemoryMetadataStore(), t.TempDir()),
		Catalog:   newMemCatalog(),
		Templates: export.NewTemplateSource("", "", 0, nil),
		Markup:    &m,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !svc.markup.Equal(m) {
		t.Errorf("markup = %s, want 40", svc.markup)
	}
}
