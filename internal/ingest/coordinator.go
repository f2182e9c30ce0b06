// Package ingest drives chunked loading of an uploaded price list into the
// catalogue.
//
// The Coordinator walks an upload in fixed-size windows, calling an Endpoint
// for each (offset, limit) pair until the endpoint reports completion. The
// Processor is the server side of that contract.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/pricesync/internal/mapping"
)

// Defaults for the batch loop.
const (
	DefaultBatchSize      = 70
	DefaultRequestTimeout = 140 * time.Second
	DefaultRetryBackoff   = 800 * time.Millisecond
)

// ErrNoProgress is returned when the endpoint hands back an offset that does
// not move forward.
var ErrNoProgress = errors.New("chunk endpoint made no progress")

// Config tunes the batch loop. Zero values take the defaults.
type Config struct {
	BatchSize      int
	RequestTimeout time.Duration
	RetryBackoff   time.Duration
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = DefaultRetryBackoff
	}
	return c
}

// Request identifies what a run ingests.
type Request struct {
	UploadID      uuid.UUID
	EffectiveDate time.Time
	Mapping       mapping.Mapping
}

// Observer receives every state the run passes through, in order.
type Observer func(RunState)

// Coordinator runs ingestion loops against an Endpoint. A single Coordinator
// may serve many concurrent runs; batches within one run are sequential.
type Coordinator struct {
	endpoint Endpoint
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
}

// NewCoordinator creates a coordinator.
func NewCoordinator(endpoint Endpoint, cfg Config, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		endpoint: endpoint,
		cfg:      cfg.withDefaults(),
		logger:   logger,
		now:      time.Now,
	}
}

// BatchSize returns the configured window size.
func (c *Coordinator) BatchSize() int { return c.cfg.BatchSize }

// Run ingests the upload from offset 0 until the endpoint reports done.
//
// Cancelling ctx stops the loop before the next batch starts; a request
// already in flight runs to completion. A batch that fails twice in a row
// ends the run in StateFailed with Offset at the failing window.
func (c *Coordinator) Run(ctx context.Context, req Request, observe Observer) (RunState, error) {
	if observe == nil {
		observe = func(RunState) {}
	}

	started := c.now()
	state := RunState{
		UploadID:  req.UploadID.String(),
		State:     StateIdle,
		BatchSize: c.cfg.BatchSize,
		StartedAt: started,
	}
	observe(state)

	wireMapping := req.Mapping.Wire()
	effective := req.EffectiveDate.Format(EffectiveDateLayout)

	log := c.logger.With("upload_id", state.UploadID)
	log.Info("ingestion started", "batch_size", c.cfg.BatchSize, "effective_date", effective)

	state.State = StateRunning
	observe(state)

	for {
		if err := ctx.Err(); err != nil {
			return c.finish(log, state, StateCancelled, err, observe)
		}

		chunk := ChunkRequest{
			UploadID:      state.UploadID,
			EffectiveDate: effective,
			Offset:        state.Offset,
			Limit:         c.cfg.BatchSize,
			Mapping:       wireMapping,
		}

		batchStart := c.now()
		resp, attempts, err := c.callWithRetry(ctx, log, chunk)
		state.Retries += attempts - 1
		if err != nil {
			if errors.Is(err, context.Canceled) ||
				(errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil) {
				return c.finish(log, state, StateCancelled, err, observe)
			}
			return c.finish(log, state, StateFailed,
				fmt.Errorf("batch at offset %d: %w", state.Offset, err), observe)
		}

		now := c.now()
		prev := state.Offset
		state = state.afterBatch(resp, now.Sub(batchStart), now.Sub(started))

		if resp.Done || resp.NextOffset == nil {
			state.ETA = durationPtr(0)
			return c.finish(log, state, StateCompleted, nil, observe)
		}
		if state.Offset <= prev {
			state.Offset = prev
			return c.finish(log, state, StateFailed,
				fmt.Errorf("batch at offset %d: %w (next offset %d)", prev, ErrNoProgress, *resp.NextOffset), observe)
		}

		observe(state)
		log.Debug("batch complete",
			"offset", prev,
			"processed", resp.Processed,
			"batch_ms", state.LastBatch.Milliseconds(),
			"completed_batches", state.CompletedBatches,
		)
	}
}

func (c *Coordinator) finish(log *slog.Logger, state RunState, final State, err error, observe Observer) (RunState, error) {
	state.State = final
	if err != nil {
		state.Error = err.Error()
	}
	observe(state)

	switch final {
	case StateCompleted:
		log.Info("ingestion completed",
			"processed", state.Processed,
			"skipped", state.Skipped,
			"batches", state.CompletedBatches,
			"retries", state.Retries,
			"elapsed", state.Elapsed,
		)
	case StateCancelled:
		log.Warn("ingestion cancelled", "offset", state.Offset, "processed", state.Processed)
	default:
		log.Error("ingestion failed", "offset", state.Offset, "error", err)
	}
	return state, err
}

// callWithRetry sends one window, retrying per nextAttempt. It returns the
// number of calls made.
func (c *Coordinator) callWithRetry(ctx context.Context, log *slog.Logger, chunk ChunkRequest) (ChunkResponse, int, error) {
	for attempt := 1; ; attempt++ {
		resp, err := c.call(ctx, chunk)
		if err == nil {
			return resp, attempt, nil
		}
		if !nextAttempt(attempt, err) {
			return ChunkResponse{}, attempt, err
		}

		log.Warn("batch failed, retrying",
			"offset", chunk.Offset,
			"attempt", attempt,
			"backoff", c.cfg.RetryBackoff,
			"error", err,
		)

		timer := time.NewTimer(c.cfg.RetryBackoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ChunkResponse{}, attempt, ctx.Err()
		case <-timer.C:
		}
	}
}

// call performs a single request. The request context is detached from the
// caller's cancellation so an in-flight batch is never cut short; only the
// per-request timeout applies.
func (c *Coordinator) call(ctx context.Context, chunk ChunkRequest) (ChunkResponse, error) {
	reqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.RequestTimeout)
	defer cancel()

	resp, err := c.endpoint.ProcessChunk(reqCtx, chunk)
	if err != nil {
		if errors.Is(err, ErrTimeout) {
			return ChunkResponse{}, err
		}
		if errors.Is(reqCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
			return ChunkResponse{}, fmt.Errorf("%w after %s: %v", ErrTimeout, c.cfg.RequestTimeout, err)
		}
		return ChunkResponse{}, err
	}
	if !resp.OK {
		msg := "endpoint reported ok=false"
		if len(resp.Errors) > 0 {
			msg += ": " + resp.Errors[0]
		}
		return ChunkResponse{}, fmt.Errorf("%w: %s", ErrTransport, msg)
	}
	return resp, nil
}

func durationPtr(d time.Duration) *time.Duration { return &d }
