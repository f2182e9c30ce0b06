// Package pricing selects the price in force for catalogue items on a day.
package pricing

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultChunkSize bounds the number of item ids per store query.
const DefaultChunkSize = 400

// Record is one price window [Start, End) for an item. A nil End is open.
type Record struct {
	ID     int64
	ItemID int64
	Amount decimal.Decimal
	Start  time.Time
	End    *time.Time
}

// Overlaps reports whether the record intersects [from, to).
func (r Record) Overlaps(from, to time.Time) bool {
	if !r.Start.Before(to) {
		return false
	}
	return r.End == nil || r.End.After(from)
}

// Store returns price records for the given items whose window intersects
// [from, to).
type Store interface {
	PricesOverlapping(ctx context.Context, itemIDs []int64, from, to time.Time) ([]Record, error)
}

// Resolver looks up current prices in bounded chunks.
type Resolver struct {
	store     Store
	chunkSize int
	logger    *slog.Logger
}

// NewResolver creates a resolver. chunkSize <= 0 uses DefaultChunkSize.
func NewResolver(store Store, chunkSize int, logger *slog.Logger) *Resolver {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{store: store, chunkSize: chunkSize, logger: logger}
}

// DayWindow returns [midnight of asOf, next midnight) in asOf's location.
func DayWindow(asOf time.Time) (time.Time, time.Time) {
	y, m, d := asOf.Date()
	from := time.Date(y, m, d, 0, 0, 0, 0, asOf.Location())
	return from, from.AddDate(0, 0, 1)
}

// ResolveCurrentPrices returns the amount in force on asOf's day for each
// item that has one. Items without a price are absent from the result.
func (r *Resolver) ResolveCurrentPrices(ctx context.Context, itemIDs []int64, asOf time.Time) (map[int64]decimal.Decimal, error) {
	from, to := DayWindow(asOf)
	ids := uniqueIDs(itemIDs)
	byItem := make(map[int64][]Record, len(ids))

	for start := 0; start < len(ids); start += r.chunkSize {
		end := min(start+r.chunkSize, len(ids))
		recs, err := r.store.PricesOverlapping(ctx, ids[start:end], from, to)
		if err != nil {
			return nil, fmt.Errorf("load prices (ids %d-%d): %w", start, end-1, err)
		}
		for _, rec := range recs {
			byItem[rec.ItemID] = append(byItem[rec.ItemID], rec)
		}
	}

	out := make(map[int64]decimal.Decimal, len(byItem))
	for itemID, recs := range byItem {
		chosen, ok := Select(recs, from, to)
		if !ok {
			continue
		}
		if len(recs) > 1 {
			r.logger.Warn("overlapping price windows",
				"item_id", itemID,
				"windows", len(recs),
				"chosen_id", chosen.ID,
				"as_of", from.Format(time.DateOnly),
			)
		}
		out[itemID] = chosen.Amount
	}
	return out, nil
}

// Select picks the record in force over [from, to): the latest Start wins,
// ties go to the highest ID.
func Select(recs []Record, from, to time.Time) (Record, bool) {
	var best Record
	found := false
	for _, rec := range recs {
		if !rec.Overlaps(from, to) {
			continue
		}
		if !found || rec.Start.After(best.Start) || (rec.Start.Equal(best.Start) && rec.ID > best.ID) {
			best = rec
			found = true
		}
	}
	return best, found
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
