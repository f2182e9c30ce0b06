package ingest

import (
	"time"
)

// State is the lifecycle phase of an ingestion run.
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// IsTerminal returns true if no further transition will happen.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// RunState is the observable progress of a run. A new value is produced
// after every batch; values are never mutated once handed out.
type RunState struct {
	UploadID  string `json:"upload_id"`
	State     State  `json:"state"`
	BatchSize int    `json:"batch_size"`

	// Offset is the next row offset to request.
	Offset    int `json:"offset"`
	Processed int `json:"processed"`
	Skipped   int `json:"skipped"`
	Retries   int `json:"retries"`

	CompletedBatches int  `json:"completed_batches"`
	TotalRows        *int `json:"total_rows,omitempty"`
	TotalBatches     *int `json:"total_batches,omitempty"`

	LastBatch time.Duration  `json:"last_batch_ns"`
	Elapsed   time.Duration  `json:"elapsed_ns"`
	AvgBatch  time.Duration  `json:"avg_batch_ns"`
	ETA       *time.Duration `json:"eta_ns,omitempty"`

	StartedAt time.Time `json:"started_at"`
	Error     string    `json:"error,omitempty"`
}

// Percent returns completed batches over total batches (0-100), 0 while
// the total is unknown.
func (s RunState) Percent() int {
	if s.TotalBatches == nil || *s.TotalBatches == 0 {
		return 0
	}
	p := s.CompletedBatches * 100 / *s.TotalBatches
	if p > 100 {
		return 100
	}
	return p
}

// totalBatches is max(1, ceil(totalRows/batchSize)).
func totalBatches(totalRows, batchSize int) int {
	if batchSize <= 0 {
		return 1
	}
	n := (totalRows + batchSize - 1) / batchSize
	if n < 1 {
		return 1
	}
	return n
}

// afterBatch folds one successful response into the state. batch is the
// wall time of the batch including retries, elapsed the time since the run
// started.
func (s RunState) afterBatch(resp ChunkResponse, batch, elapsed time.Duration) RunState {
	next := s
	next.CompletedBatches++
	next.Processed += resp.Processed
	next.Skipped += resp.Skipped
	next.LastBatch = batch
	next.Elapsed = elapsed
	next.AvgBatch = elapsed / time.Duration(next.CompletedBatches)

	if resp.NextOffset != nil {
		next.Offset = *resp.NextOffset
	} else {
		next.Offset = s.Offset + resp.Processed
	}

	if resp.TotalRows != nil {
		total := *resp.TotalRows
		batches := totalBatches(total, s.BatchSize)
		next.TotalRows = &total
		next.TotalBatches = &batches
	}

	if next.TotalBatches != nil {
		remaining := *next.TotalBatches - next.CompletedBatches
		if remaining < 0 {
			remaining = 0
		}
		eta := time.Duration(remaining) * next.AvgBatch
		next.ETA = &eta
	}

	return next
}
