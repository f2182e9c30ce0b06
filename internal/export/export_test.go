package export

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/JonMunkholm/pricesync/internal/csvtable"
)

func price(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func TestDefaultHeaders(t *testing.T) {
	if len(DefaultHeaders) != 33 {
		t.Errorf("len(DefaultHeaders) = %d, want 33", len(DefaultHeaders))
	}
	cols := ResolveHeaders(DefaultHeaders, OutputFields)
	for _, f := range OutputFields {
		if _, ok := cols[f.Field]; !ok {
			t.Errorf("field %s not resolved against DefaultHeaders", f.Field)
		}
	}
	if cols[FieldSupplierPart] != "Supplier Part Number" || cols[FieldPartNumber] != "Part Number" {
		t.Errorf("part columns = %q, %q", cols[FieldSupplierPart], cols[FieldPartNumber])
	}
}

func TestResolveHeaders(t *testing.T) {
	tests := []struct {
		name    string
		headers []string
		field   FieldVariants
		want    string
		found   bool
	}{
		{"exact", []string{"Trade Price"}, FieldVariants{FieldTrade, []string{"Trade Price"}}, "Trade Price", true},
		{"case-insensitive keeps literal", []string{"TRADE price"}, FieldVariants{FieldTrade, []string{"Trade Price"}}, "TRADE price", true},
		{"no partial match", []string{"Trade Price (AUD)"}, FieldVariants{FieldTrade, []string{"Trade Price"}}, "", false},
		{"variant order wins over header order", []string{"Part Number", "Supplier Part Number"},
			FieldVariants{FieldSupplierPart, []string{"Supplier Part Number", "Part Number"}}, "Supplier Part Number", true},
		{"second variant", []string{"Part Number"},
			FieldVariants{FieldSupplierPart, []string{"Supplier Part Number", "Part Number"}}, "Part Number", true},
		{"absent", []string{"Other"}, FieldVariants{FieldUOM, []string{"Unit of Measurement"}}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ResolveHeaders(tt.headers, []FieldVariants{tt.field})[tt.field.Field]
			if got != tt.want || ok != tt.found {
				t.Errorf("resolved = %q, %v; want %q, %v", got, ok, tt.want, tt.found)
			}
		})
	}
}

func TestRowBuilder_Build(t *testing.T) {
	b := NewRowBuilder(DefaultHeaders, DefaultMarkup)
	row := b.Build(Item{SKU: "S-1", MPN: "X100", Brand: "Acme", Description: "Widget", Price: price("12.50")})

	if len(row) != len(DefaultHeaders) {
		t.Errorf("row has %d columns, want %d", len(row), len(DefaultHeaders))
	}
	want := map[string]string{
		"Description":            "Acme • X100 • Widget",
		"Universal Product Code": "X100",
		"Trade Price":            "12.5",
		"Cost Price":             "12.5",
		"Split Price":            "12.5",
		"Split Cost Price":       "12.5",
		"Purchase Tax Code":      "Default",
		"Sales Tax Code":         "Default",
		"Manufacturer":           "Acme",
		"Supplier Part Number":   "S-1",
		"Part Number":            "S-1",
		"Unit of Measurement":    "ea",
		"Markup (Tier 1 Name)":   "25",
		"Country of Origin":      "",
		"Notes":                  "",
	}
	for h, w := range want {
		if row[h] != w {
			t.Errorf("row[%q] = %q, want %q", h, row[h], w)
		}
	}

	noPrice := b.Build(Item{SKU: "S-2"})
	if noPrice["Trade Price"] != "0" || noPrice["Description"] != "" {
		t.Errorf("no-price row = %v", noPrice)
	}
}

func TestJoinDescription(t *testing.T) {
	if got := JoinDescription("Acme", "", " Widget "); got != "Acme • Widget" {
		t.Errorf("JoinDescription() = %q", got)
	}
	if got := JoinDescription("", ""); got != "" {
		t.Errorf("JoinDescription() = %q, want empty", got)
	}
}

func TestFindEOL_Example(t *testing.T) {
	snap, err := ReadSnapshot(strings.NewReader("part\nA1\nB2\n"))
	if err != nil {
		t.Fatalf("ReadSnapshot() error = %v", err)
	}
	current := map[string]struct{}{"A1": {}}

	eol := FindEOL(snap, current)
	if len(eol) != 1 || eol[0].Key != "B2" {
		t.Errorf("FindEOL() = %+v, want single B2", eol)
	}
}

func TestFindEOL_Normalization(t *testing.T) {
	ref := "Group (Ignored for Updates),Part Number,Description,Universal Product Code\n" +
		"Cables,S-1,\"Acme • cat 6 & rj45\",cat 6 & rj45\n" +
		"Tools,S-2,Old drill,DR 200\n" +
		"Tools,S-2b,Old drill again,dr-200\n" +
		"Misc,,Unkeyed,\n" +
		"Misc,S-9,Only SKU,\n"
	snap, err := ReadSnapshot(strings.NewReader(ref))
	if err != nil {
		t.Fatalf("ReadSnapshot() error = %v", err)
	}

	items := []Item{{SKU: "NEW-1", MPN: "CAT-6,RJ45"}}
	eol := FindEOL(snap, CurrentKeys(items))

	var keys []string
	for _, r := range eol {
		keys = append(keys, r.Key)
	}
	if strings.Join(keys, "|") != "DR-200|S-9" {
		t.Errorf("EOL keys = %v, want [DR-200 S-9]", keys)
	}
	if eol[0].Classification[FieldGroup] != "Tools" {
		t.Errorf("classification = %v", eol[0].Classification)
	}
}

func TestBuild_WithEOLRows(t *testing.T) {
	ref := "Group (Ignored for Updates),Subgroup 1 (Ignored for Updates),Part Number,Description,Universal Product Code,Trade Price\n" +
		"Tools,Drills,S-2,Old drill,DR-200,99\n" +
		"Cables,,S-1,Cable,X100,5\n"
	snap, err := ReadSnapshot(strings.NewReader(ref))
	if err != nil {
		t.Fatalf("ReadSnapshot() error = %v", err)
	}

	items := []Item{{SKU: "S-1", MPN: "x100", Brand: "Acme", Price: price("5")}}
	doc := Build(DefaultHeaders, items, snap, DefaultMarkup)

	if doc.ItemRows != 1 || doc.EOLRows != 1 || len(doc.Rows) != 2 {
		t.Fatalf("ItemRows = %d, EOLRows = %d, rows = %d", doc.ItemRows, doc.EOLRows, len(doc.Rows))
	}

	b := NewRowBuilder(DefaultHeaders, DefaultMarkup)
	cell := func(row []string, h string) string {
		for i, name := range b.Headers() {
			if name == h {
				return row[i]
			}
		}
		return ""
	}
	eol := doc.Rows[1]
	checks := map[string]string{
		"Description":                      "EOL - Old drill",
		"Trade Price":                      "0",
		"Split Cost Price":                 "0",
		"Group (Ignored for Updates)":      "Tools",
		"Subgroup 1 (Ignored for Updates)": "Drills",
		"Part Number":                      "S-2",
		"Universal Product Code":           "DR-200",
	}
	for h, want := range checks {
		if got := cell(eol, h); got != want {
			t.Errorf("EOL %q = %q, want %q", h, got, want)
		}
	}
	for _, row := range doc.Rows {
		if len(row) != len(DefaultHeaders) {
			t.Errorf("row width = %d, want %d", len(row), len(DefaultHeaders))
		}
	}
}

func TestDocument_ByteStable(t *testing.T) {
	items := []Item{
		{SKU: "S-1", MPN: "M1", Brand: "Acme", Description: "Cable, 2m", Price: price("1.10")},
		{SKU: "S-2", MPN: "M2", Description: `12" ruler`},
	}
	first := Build(DefaultHeaders, items, nil, DefaultMarkup).Bytes()
	second := Build(DefaultHeaders, items, nil, DefaultMarkup).Bytes()
	if !bytes.Equal(first, second) {
		t.Error("identical inputs produced different bytes")
	}

	tbl, err := csvtable.Open(bytes.NewReader(first))
	if err != nil {
		t.Fatalf("re-read export: %v", err)
	}
	if tbl.Header().Len() != len(DefaultHeaders) {
		t.Errorf("header width = %d", tbl.Header().Len())
	}
	rec, err := tbl.Next()
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if got := rec.Value("Description"); got != "Acme • M1 • Cable, 2m" {
		t.Errorf("Description = %q", got)
	}
	rec, _ = tbl.Next()
	if got := rec.Value("Description"); got != `M2 • 12" ruler` {
		t.Errorf("Description = %q", got)
	}
}

func TestFilename(t *testing.T) {
	date := time.Date(2024, 7, 1, 9, 0, 0, 0, time.UTC)
	tests := []struct{ name, want string }{
		{"Acme Supply Co.", "Catalogue-Export-Acme-Supply-Co--2024-07-01.csv"},
		{"under_score-ok", "Catalogue-Export-under_score-ok-2024-07-01.csv"},
		{"", "Catalogue-Export-supplier-2024-07-01.csv"},
	}
	for _, tt := range tests {
		if got := Filename(tt.name, date); got != tt.want {
			t.Errorf("Filename(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestTemplateSource_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "template.csv")
	if err := os.WriteFile(path, []byte("Part Number,Description,Trade Price\nignored,row,1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	src := NewTemplateSource("", path, time.Minute, nil)
	got, err := src.Headers(context.Background())
	if err != nil {
		t.Fatalf("Headers() error = %v", err)
	}
	if strings.Join(got, "|") != "Part Number|Description|Trade Price" {
		t.Errorf("Headers() = %v", got)
	}
}

func TestTemplateSource_FallbackOnFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	src := NewTemplateSource(srv.URL, "", time.Minute, nil)
	got, err := src.Headers(context.Background())
	if !errors.Is(err, ErrTemplateUnavailable) {
		t.Errorf("error = %v, want ErrTemplateUnavailable", err)
	}
	if len(got) != len(DefaultHeaders) {
		t.Errorf("fallback headers = %d, want %d", len(got), len(DefaultHeaders))
	}
}

func TestTemplateSource_SharedFetch(t *testing.T) {
	var hits atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
		_, _ = w.Write([]byte("A,B,C\n"))
	}))
	defer srv.Close()

	src := NewTemplateSource(srv.URL, "", time.Hour, nil)
	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if h, err := src.Headers(context.Background()); err != nil || len(h) != 3 {
				t.Errorf("Headers() = %v, %v", h, err)
			}
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if _, err := src.Headers(context.Background()); err != nil {
		t.Fatalf("cached Headers() error = %v", err)
	}
	if n := hits.Load(); n != 1 {
		t.Errorf("template fetched %d times, want 1", n)
	}
}

func TestTemplateSource_ExpiredCacheSurvivesFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "template.csv")
	if err := os.WriteFile(path, []byte("A,B\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	src := NewTemplateSource("", path, time.Millisecond, nil)
	if _, err := src.Headers(context.Background()); err != nil {
		t.Fatalf("Headers() error = %v", err)
	}

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	time.Sleep(10 * time.Millisecond)

	got, err := src.Headers(context.Background())
	if err != nil {
		t.Fatalf("Headers() after expiry error = %v", err)
	}
	if strings.Join(got, "|") != "A|B" {
		t.Errorf("Headers() = %v, want last loaded A|B", got)
	}
}

func TestTemplateSource_RefreshKeepsCacheOnFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "template.csv")
	if err := os.WriteFile(path, []byte("A,B\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	src := NewTemplateSource("", path, time.Hour, nil)
	if _, err := src.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	if _, err := src.Refresh(context.Background()); !errors.Is(err, ErrTemplateUnavailable) {
		t.Errorf("Refresh() after removal error = %v, want ErrTemplateUnavailable", err)
	}

	got, err := src.Headers(context.Background())
	if err != nil {
		t.Fatalf("Headers() error = %v", err)
	}
	if strings.Join(got, "|") != "A|B" {
		t.Errorf("Headers() = %v, want cached A|B", got)
	}
}
