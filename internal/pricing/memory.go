package pricing

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// MemoryStore is an in-process Store. Windows written through Add never
// overlap; Insert stores records verbatim.
type MemoryStore struct {
	mu      sync.Mutex
	nextID  int64
	records []Record
	queries [][]int64
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Add records amount for itemID from start onward using PlanWrite.
func (m *MemoryStore) Add(itemID int64, amount decimal.Decimal, start time.Time) Record {
	m.mu.Lock()
	defer m.mu.Unlock()

	var existing []Record
	for _, r := range m.records {
		if r.ItemID == itemID {
			existing = append(existing, r)
		}
	}

	plan := PlanWrite(existing, amount, start)
	for i := range m.records {
		r := &m.records[i]
		switch r.ID {
		case plan.UpdateID:
			r.Amount = amount
			return *r
		case plan.CloseID:
			end := start
			r.End = &end
		}
	}
	if !plan.Insert {
		for _, r := range existing {
			if !r.Start.After(start) && (r.End == nil || r.End.After(start)) {
				return r
			}
		}
		return Record{}
	}

	m.nextID++
	rec := Record{ID: m.nextID, ItemID: itemID, Amount: amount, Start: start, End: plan.End}
	m.records = append(m.records, rec)
	return rec
}

// Insert stores rec verbatim, assigning an ID if it has none.
func (m *MemoryStore) Insert(rec Record) Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.ID == 0 {
		m.nextID++
		rec.ID = m.nextID
	} else if rec.ID > m.nextID {
		m.nextID = rec.ID
	}
	m.records = append(m.records, rec)
	return rec
}

// PricesOverlapping implements Store.
func (m *MemoryStore) PricesOverlapping(_ context.Context, itemIDs []int64, from, to time.Time) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.queries = append(m.queries, append([]int64(nil), itemIDs...))
	want := make(map[int64]bool, len(itemIDs))
	for _, id := range itemIDs {
		want[id] = true
	}
	var out []Record
	for _, r := range m.records {
		if want[r.ItemID] && r.Overlaps(from, to) {
			out = append(out, r)
		}
	}
	return out, nil
}

// Queries returns the id batches passed to PricesOverlapping.
func (m *MemoryStore) Queries() [][]int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]int64(nil), m.queries...)
}

// Remove deletes every record of the given items and returns how many
// were dropped.
func (m *MemoryStore) Remove(itemIDs ...int64) int {
	drop := make(map[int64]bool, len(itemIDs))
	for _, id := range itemIDs {
		drop[id] = true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.records[:0]
	for _, r := range m.records {
		if !drop[r.ItemID] {
			kept = append(kept, r)
		}
	}
	n := len(m.records) - len(kept)
	m.records = kept
	return n
}
