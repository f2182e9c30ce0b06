package store

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/pricesync/internal/keynorm"
	"github.com/JonMunkholm/pricesync/internal/mapping"
	"github.com/JonMunkholm/pricesync/internal/pricing"
)

// Memory is an in-process catalogue with the same query semantics as
// Store. Prices go through pricing.MemoryStore.
type Memory struct {
	*pricing.MemoryStore

	mu           sync.Mutex
	suppliers    map[int64]Supplier
	items        map[string]*CatalogItem // "supplier/sku"
	mappings     map[uuid.UUID]SavedMapping
	nextSupplier int64
	nextItem     int64
	now          func() time.Time
}

// NewMemory creates an empty in-memory catalogue.
func NewMemory() *Memory {
	return &Memory{
		MemoryStore: pricing.NewMemoryStore(),
		suppliers:   make(map[int64]Supplier),
		items:       make(map[string]*CatalogItem),
		mappings:    make(map[uuid.UUID]SavedMapping),
		now:         time.Now,
	}
}

func (m *Memory) CreateSupplier(_ context.Context, name string) (Supplier, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Supplier{}, fmt.Errorf("create supplier: name is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.suppliers {
		if strings.EqualFold(s.Name, name) {
			return Supplier{}, fmt.Errorf("create supplier %q: %w", name, ErrConflict)
		}
	}
	m.nextSupplier++
	s := Supplier{ID: m.nextSupplier, Name: name, Active: true, CreatedAt: m.now().UTC()}
	m.suppliers[s.ID] = s
	return s, nil
}

func (m *Memory) ListSuppliers(_ context.Context, activeOnly bool) ([]Supplier, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Supplier, 0, len(m.suppliers))
	for _, s := range m.suppliers {
		if activeOnly && !s.Active {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) GetSupplier(_ context.Context, id int64) (Supplier, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.suppliers[id]
	if !ok {
		return Supplier{}, ErrNotFound
	}
	return s, nil
}

func (m *Memory) SupplierName(ctx context.Context, id int64) (string, error) {
	s, err := m.GetSupplier(ctx, id)
	if err != nil {
		return "", fmt.Errorf("supplier %d: %w", id, err)
	}
	return s.Name, nil
}

func (m *Memory) UpsertItems(_ context.Context, supplierID int64, rows []mapping.Row, effective time.Time) (int, error) {
	start := dateOf(effective)
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range rows {
		key := fmt.Sprintf("%d/%s", supplierID, r.SKU)
		it, ok := m.items[key]
		if !ok {
			m.nextItem++
			it = &CatalogItem{ID: m.nextItem, SupplierID: supplierID, SKU: r.SKU}
			m.items[key] = it
		}
		it.Brand, it.MPN, it.SearchKey, it.Description = r.Brand, r.MPN, r.SearchKey, r.Description
		it.UOM, it.PackSize, it.Active = r.UOM, r.PackSize, true
		m.Add(it.ID, r.Price, start)
	}
	return len(rows), nil
}

// activeItems returns a supplier's active items ordered by SKU. Callers
// hold m.mu.
func (m *Memory) activeItems(supplierID int64) []CatalogItem {
	var out []CatalogItem
	for _, it := range m.items {
		if it.SupplierID == supplierID && it.Active {
			out = append(out, *it)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SKU != out[j].SKU {
			return out[i].SKU < out[j].SKU
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (m *Memory) ListItems(_ context.Context, supplierID int64, brands []string) ([]CatalogItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := m.activeItems(supplierID)
	if len(brands) == 0 {
		return items, nil
	}
	out := items[:0]
	for _, it := range items {
		if slices.Contains(brands, it.Brand) {
			out = append(out, it)
		}
	}
	return out, nil
}

func (m *Memory) ListBrands(_ context.Context, supplierID int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, it := range m.activeItems(supplierID) {
		if it.Brand != "" && !slices.Contains(out, it.Brand) {
			out = append(out, it.Brand)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) SearchItems(_ context.Context, q ItemQuery) (ItemPage, error) {
	q = q.normalized()
	needle := strings.ToLower(q.Search)
	key := keynorm.MatchKey(q.Search)

	m.mu.Lock()
	var matched []CatalogItem
	for _, it := range m.activeItems(q.SupplierID) {
		if q.Brand != "" && it.Brand != q.Brand {
			continue
		}
		if needle != "" &&
			!strings.Contains(strings.ToLower(it.SKU), needle) &&
			!strings.Contains(strings.ToLower(it.Description), needle) &&
			!strings.Contains(strings.ToLower(it.MPN), needle) &&
			(key == "" || strings.ToUpper(it.SearchKey) != key) {
			continue
		}
		matched = append(matched, it)
	}
	m.mu.Unlock()

	total := len(matched)
	totalPages := max((total+q.PageSize-1)/q.PageSize, 1)
	q.Page = min(q.Page, totalPages)

	from := min((q.Page-1)*q.PageSize, total)
	to := min(from+q.PageSize, total)
	items := append([]CatalogItem{}, matched[from:to]...)

	return ItemPage{
		Items:      items,
		Total:      int64(total),
		Page:       q.Page,
		PageSize:   q.PageSize,
		TotalPages: totalPages,
	}, nil
}

func (m *Memory) SaveMapping(_ context.Context, sm SavedMapping) (SavedMapping, error) {
	sm.Name = strings.TrimSpace(sm.Name)
	if sm.Name == "" {
		return SavedMapping{}, fmt.Errorf("save mapping: name is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().UTC()
	for id, existing := range m.mappings {
		if existing.SupplierID == sm.SupplierID && existing.Name == sm.Name {
			sm.ID, sm.CreatedAt, sm.UpdatedAt = id, existing.CreatedAt, now
			m.mappings[id] = sm
			return sm, nil
		}
	}
	if sm.ID == uuid.Nil {
		sm.ID = uuid.New()
	}
	sm.CreatedAt, sm.UpdatedAt = now, now
	m.mappings[sm.ID] = sm
	return sm, nil
}

func (m *Memory) ListMappings(_ context.Context, supplierID int64) ([]SavedMapping, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []SavedMapping{}
	for _, sm := range m.mappings {
		if sm.SupplierID == supplierID {
			out = append(out, sm)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) DeleteMapping(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.mappings[id]; !ok {
		return ErrNotFound
	}
	delete(m.mappings, id)
	return nil
}

// ResetSupplier drops a supplier's items and prices. Memory keeps no
// upload records, so Uploads is always zero.
func (m *Memory) ResetSupplier(_ context.Context, supplierID int64) (ResetResult, error) {
	m.mu.Lock()
	if _, ok := m.suppliers[supplierID]; !ok {
		m.mu.Unlock()
		return ResetResult{}, fmt.Errorf("supplier %d: %w", supplierID, ErrNotFound)
	}
	var ids []int64
	for key, it := range m.items {
		if it.SupplierID == supplierID {
			ids = append(ids, it.ID)
			delete(m.items, key)
		}
	}
	m.mu.Unlock()

	prices := m.Remove(ids...)
	return ResetResult{Prices: int64(prices), Items: int64(len(ids))}, nil
}
