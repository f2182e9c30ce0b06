package pricing

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestRecord_Overlaps(t *testing.T) {
	from, to := day(2024, 5, 10), day(2024, 5, 11)
	end := func(t time.Time) *time.Time { return &t }

	tests := []struct {
		name string
		rec  Record
		want bool
	}{
		{"open from before", Record{Start: day(2024, 1, 1)}, true},
		{"open from today", Record{Start: from}, true},
		{"starts tomorrow", Record{Start: to}, false},
		{"ended today at midnight", Record{Start: day(2024, 1, 1), End: end(from)}, false},
		{"ends tomorrow", Record{Start: day(2024, 1, 1), End: end(to)}, true},
		{"intraday start", Record{Start: from.Add(6 * time.Hour)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.rec.Overlaps(from, to); got != tt.want {
				t.Errorf("Overlaps() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSelect_TieBreak(t *testing.T) {
	from, to := DayWindow(day(2024, 5, 10))
	recs := []Record{
		{ID: 1, Amount: dec("10"), Start: day(2024, 1, 1)},
		{ID: 3, Amount: dec("12"), Start: day(2024, 5, 1)},
		{ID: 2, Amount: dec("11"), Start: day(2024, 5, 1)},
		{ID: 9, Amount: dec("99"), Start: day(2024, 6, 1)},
	}

	got, ok := Select(recs, from, to)
	if !ok {
		t.Fatal("Select() found nothing")
	}
	if got.ID != 3 {
		t.Errorf("Select() = id %d, want 3 (latest start, highest id)", got.ID)
	}

	// Input order must not matter.
	reversed := []Record{recs[3], recs[2], recs[1], recs[0]}
	if again, _ := Select(reversed, from, to); again.ID != got.ID {
		t.Errorf("Select() on reversed input = id %d, want %d", again.ID, got.ID)
	}

	if _, ok := Select(nil, from, to); ok {
		t.Error("Select(nil) should find nothing")
	}
}

func TestResolveCurrentPrices(t *testing.T) {
	store := NewMemoryStore()
	store.Add(1, dec("10.00"), day(2024, 1, 1))
	store.Add(1, dec("12.50"), day(2024, 5, 1))
	store.Add(2, dec("7"), day(2024, 5, 11)) // future only
	store.Add(3, dec("3.30"), day(2023, 1, 1))

	r := NewResolver(store, 0, nil)
	got, err := r.ResolveCurrentPrices(context.Background(), []int64{1, 2, 3, 4}, time.Date(2024, 5, 10, 15, 30, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("ResolveCurrentPrices() error = %v", err)
	}

	if !got[1].Equal(dec("12.50")) {
		t.Errorf("item 1 = %s, want 12.50", got[1])
	}
	if _, ok := got[2]; ok {
		t.Error("item 2 has only a future price and should be absent")
	}
	if !got[3].Equal(dec("3.30")) {
		t.Errorf("item 3 = %s, want 3.30", got[3])
	}
	if _, ok := got[4]; ok {
		t.Error("item 4 has no price and should be absent")
	}
}

func TestResolveCurrentPrices_OverlapIsDeterministic(t *testing.T) {
	store := NewMemoryStore()
	store.Insert(Record{ID: 5, ItemID: 1, Amount: dec("5"), Start: day(2024, 1, 1)})
	store.Insert(Record{ID: 8, ItemID: 1, Amount: dec("8"), Start: day(2024, 1, 1)})

	r := NewResolver(store, 0, nil)
	for range 3 {
		got, err := r.ResolveCurrentPrices(context.Background(), []int64{1}, day(2024, 2, 1))
		if err != nil {
			t.Fatalf("ResolveCurrentPrices() error = %v", err)
		}
		if !got[1].Equal(dec("8")) {
			t.Fatalf("item 1 = %s, want 8", got[1])
		}
	}
}

func TestResolveCurrentPrices_Chunking(t *testing.T) {
	store := NewMemoryStore()
	ids := make([]int64, 0, 901)
	for i := int64(1); i <= 900; i++ {
		ids = append(ids, i)
		store.Add(i, decimal.NewFromInt(i), day(2024, 1, 1))
	}
	ids = append(ids, 1) // duplicate

	r := NewResolver(store, 400, nil)
	got, err := r.ResolveCurrentPrices(context.Background(), ids, day(2024, 2, 1))
	if err != nil {
		t.Fatalf("ResolveCurrentPrices() error = %v", err)
	}
	if len(got) != 900 {
		t.Errorf("resolved %d prices, want 900", len(got))
	}

	queries := store.Queries()
	wantSizes := []int{400, 400, 100}
	if len(queries) != len(wantSizes) {
		t.Fatalf("queries = %d, want %d", len(queries), len(wantSizes))
	}
	for i, q := range queries {
		if len(q) != wantSizes[i] {
			t.Errorf("query %d size = %d, want %d", i, len(q), wantSizes[i])
		}
	}
}

func TestMemoryStore_AddClosesOpenWindow(t *testing.T) {
	store := NewMemoryStore()
	first := store.Add(1, dec("1"), day(2024, 1, 1))
	store.Add(1, dec("2"), day(2024, 3, 1))

	recs, _ := store.PricesOverlapping(context.Background(), []int64{1}, day(2024, 1, 15), day(2024, 1, 16))
	if len(recs) != 1 || recs[0].ID != first.ID {
		t.Fatalf("records in January = %+v", recs)
	}
	if recs[0].End == nil || !recs[0].End.Equal(day(2024, 3, 1)) {
		t.Errorf("first window End = %v, want 2024-03-01", recs[0].End)
	}
}

func TestPlanWrite(t *testing.T) {
	jan, mar, jun := day(2024, 1, 1), day(2024, 3, 1), day(2024, 6, 1)
	open := func(id int64, amount string, start time.Time) Record {
		return Record{ID: id, ItemID: 1, Amount: dec(amount), Start: start}
	}
	closed := func(id int64, amount string, start, end time.Time) Record {
		r := open(id, amount, start)
		r.End = &end
		return r
	}

	tests := []struct {
		name     string
		existing []Record
		amount   string
		start    time.Time
		want     WritePlan
	}{
		{"first price", nil, "10", mar, WritePlan{Insert: true}},
		{"same price already in force", []Record{open(1, "10.00", jan)}, "10", mar, WritePlan{Noop: true}},
		{"new price closes open window", []Record{open(1, "10", jan)}, "12", mar, WritePlan{Insert: true, CloseID: 1}},
		{"same start replaces amount", []Record{open(1, "10", mar)}, "12", mar, WritePlan{UpdateID: 1}},
		{"same start same amount", []Record{open(1, "10", mar)}, "10", mar, WritePlan{Noop: true}},
		{"backdated before future window", []Record{open(2, "15", jun)}, "12", mar, WritePlan{Insert: true, End: &jun}},
		{"between windows", []Record{closed(1, "10", jan, jun), open(2, "15", jun)}, "12", mar,
			WritePlan{Insert: true, CloseID: 1, End: &jun}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PlanWrite(tt.existing, dec(tt.amount), tt.start)
			if got.Noop != tt.want.Noop || got.UpdateID != tt.want.UpdateID ||
				got.CloseID != tt.want.CloseID || got.Insert != tt.want.Insert {
				t.Errorf("PlanWrite() = %+v, want %+v", got, tt.want)
			}
			if (got.End == nil) != (tt.want.End == nil) || (got.End != nil && !got.End.Equal(*tt.want.End)) {
				t.Errorf("End = %v, want %v", got.End, tt.want.End)
			}
		})
	}
}

func TestMemoryStore_AddIsIdempotent(t *testing.T) {
	store := NewMemoryStore()
	store.Add(1, dec("10"), day(2024, 1, 1))
	store.Add(1, dec("10"), day(2024, 1, 1))
	store.Add(1, dec("10"), day(2024, 2, 1))

	recs, _ := store.PricesOverlapping(context.Background(), []int64{1}, day(2000, 1, 1), day(2100, 1, 1))
	if len(recs) != 1 {
		t.Errorf("records = %d, want 1", len(recs))
	}
}
