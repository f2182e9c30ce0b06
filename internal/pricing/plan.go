package pricing

import (
	"time"

	"github.com/shopspring/decimal"
)

// WritePlan describes how to record a price from a start date without
// creating overlapping windows for the item.
type WritePlan struct {
	// Noop is set when the price already in force from start is amount.
	Noop bool

	// UpdateID is a window starting exactly at start whose amount is replaced.
	UpdateID int64

	// CloseID is the window covering start, to be ended at start.
	CloseID int64

	// Insert adds [start, End). End is the next later window's start, nil if none.
	Insert bool
	End    *time.Time
}

// PlanWrite decides how to record amount from start given the item's
// existing windows. Writing the same amount at the same start twice yields
// a Noop the second time.
func PlanWrite(existing []Record, amount decimal.Decimal, start time.Time) WritePlan {
	var (
		covering  *Record
		nextStart *time.Time
	)
	for i := range existing {
		r := existing[i]
		switch {
		case r.Start.Equal(start):
			if r.Amount.Equal(amount) {
				return WritePlan{Noop: true}
			}
			return WritePlan{UpdateID: r.ID}
		case r.Start.Before(start):
			if r.End == nil || r.End.After(start) {
				if covering == nil || r.Start.After(covering.Start) || (r.Start.Equal(covering.Start) && r.ID > covering.ID) {
					covering = &existing[i]
				}
			}
		default:
			if nextStart == nil || r.Start.Before(*nextStart) {
				s := r.Start
				nextStart = &s
			}
		}
	}

	if covering != nil && covering.Amount.Equal(amount) {
		return WritePlan{Noop: true}
	}

	plan := WritePlan{Insert: true, End: nextStart}
	if covering != nil {
		plan.CloseID = covering.ID
	}
	return plan
}
