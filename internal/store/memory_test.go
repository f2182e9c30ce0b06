package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/JonMunkholm/pricesync/internal/mapping"
)

func TestMemory_Suppliers(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if _, err := m.CreateSupplier(ctx, "  "); err == nil {
		t.Error("blank name should be rejected")
	}
	acme, err := m.CreateSupplier(ctx, " Acme ")
	if err != nil || acme.Name != "Acme" || !acme.Active {
		t.Fatalf("CreateSupplier() = %+v, %v", acme, err)
	}
	if _, err := m.CreateSupplier(ctx, "ACME"); !errors.Is(err, ErrConflict) {
		t.Errorf("duplicate error = %v, want ErrConflict", err)
	}
	if _, err := m.GetSupplier(ctx, 42); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetSupplier(42) error = %v, want ErrNotFound", err)
	}
	if name, _ := m.SupplierName(ctx, acme.ID); name != "Acme" {
		t.Errorf("SupplierName() = %q", name)
	}
}

func TestMemory_SearchItems(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	sup, _ := m.CreateSupplier(ctx, "Acme")

	rows := []mapping.Row{
		{SKU: "B2", MPN: "AB 12", SearchKey: "AB-12", Description: "Drill bit", Brand: "Bosch", Price: decimal.NewFromInt(4)},
		{SKU: "A1", MPN: "ZZ-9", SearchKey: "ZZ-9", Description: "Hammer", Brand: "Stanley", Price: decimal.NewFromInt(9)},
		{SKU: "C3", MPN: "", Description: "Drill case", Brand: "Bosch", Price: decimal.NewFromInt(2)},
	}
	if n, err := m.UpsertItems(ctx, sup.ID, rows, time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)); err != nil || n != 3 {
		t.Fatalf("UpsertItems() = %d, %v", n, err)
	}

	tests := []struct {
		name     string
		q        ItemQuery
		wantSKUs []string
		total    int64
	}{
		{"all sorted by sku", ItemQuery{SupplierID: sup.ID}, []string{"A1", "B2", "C3"}, 3},
		{"description substring", ItemQuery{SupplierID: sup.ID, Search: "drill"}, []string{"B2", "C3"}, 2},
		{"match key", ItemQuery{SupplierID: sup.ID, Search: "ab-12"}, []string{"B2"}, 1},
		{"brand filter", ItemQuery{SupplierID: sup.ID, Brand: "Stanley"}, []string{"A1"}, 1},
		{"second page", ItemQuery{SupplierID: sup.ID, Page: 2, PageSize: 2}, []string{"C3"}, 3},
		{"page past end clamps", ItemQuery{SupplierID: sup.ID, Page: 9, PageSize: 2}, []string{"C3"}, 3},
		{"other supplier", ItemQuery{SupplierID: 99}, nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := m.SearchItems(ctx, tt.q)
			if err != nil {
				t.Fatal(err)
			}
			if page.Total != tt.total {
				t.Errorf("Total = %d, want %d", page.Total, tt.total)
			}
			var got []string
			for _, it := range page.Items {
				got = append(got, it.SKU)
			}
			if len(got) != len(tt.wantSKUs) {
				t.Fatalf("SKUs = %v, want %v", got, tt.wantSKUs)
			}
			for i := range got {
				if got[i] != tt.wantSKUs[i] {
					t.Errorf("SKUs = %v, want %v", got, tt.wantSKUs)
					break
				}
			}
		})
	}

	brands, _ := m.ListBrands(ctx, sup.ID)
	if len(brands) != 2 || brands[0] != "Bosch" || brands[1] != "Stanley" {
		t.Errorf("ListBrands() = %v", brands)
	}
}

func TestMemory_Mappings(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	first, err := m.SaveMapping(ctx, SavedMapping{SupplierID: 1, Name: "default", Mapping: map[string]string{"supplier_sku": "Code"}})
	if err != nil {
		t.Fatal(err)
	}
	second, err := m.SaveMapping(ctx, SavedMapping{SupplierID: 1, Name: "default", Mapping: map[string]string{"supplier_sku": "SKU"}})
	if err != nil {
		t.Fatal(err)
	}
	if second.ID != first.ID || second.Mapping["supplier_sku"] != "SKU" {
		t.Errorf("same name should replace in place: %+v", second)
	}

	list, _ := m.ListMappings(ctx, 1)
	if len(list) != 1 {
		t.Errorf("ListMappings() = %d, want 1", len(list))
	}
	if empty, _ := m.ListMappings(ctx, 2); empty == nil || len(empty) != 0 {
		t.Errorf("ListMappings(other) = %#v, want empty non-nil", empty)
	}

	if err := m.DeleteMapping(ctx, first.ID); err != nil {
		t.Fatal(err)
	}
	if err := m.DeleteMapping(ctx, first.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete error = %v, want ErrNotFound", err)
	}
}

func TestMemory_ResetSupplier(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	sup, _ := m.CreateSupplier(ctx, "Acme")
	rows := []mapping.Row{{SKU: "A1", Price: decimal.NewFromInt(1)}}
	m.UpsertItems(ctx, sup.ID, rows, time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC))

	res, err := m.ResetSupplier(ctx, sup.ID)
	if err != nil || res.Items != 1 || res.Prices != 1 {
		t.Fatalf("ResetSupplier() = %+v, %v", res, err)
	}
	prices, _ := m.PricesOverlapping(ctx, []int64{1}, time.Time{}, time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC))
	if len(prices) != 0 {
		t.Errorf("prices left after reset: %d", len(prices))
	}
	if _, err := m.ResetSupplier(ctx, 99); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown supplier error = %v, want ErrNotFound", err)
	}
}
