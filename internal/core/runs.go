package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/pricesync/internal/csvtable"
	"github.com/JonMunkholm/pricesync/internal/ingest"
	"github.com/JonMunkholm/pricesync/internal/mapping"
	"github.com/JonMunkholm/pricesync/internal/upload"
)

// RunProgress is the progress of one ingestion run as seen by subscribers.
type RunProgress struct {
	RunID      string `json:"run_id"`
	SupplierID int64  `json:"supplier_id"`
	Filename   string `json:"filename"`
	Percent    int    `json:"percent"`

	ingest.RunState

	UserError *UserMessage `json:"user_error,omitempty"`
}

// IngestRequest starts ingestion of a new supplier file.
type IngestRequest struct {
	SupplierID    int64
	Filename      string
	Content       io.ReadSeeker
	Mapping       mapping.Mapping
	EffectiveDate time.Time
}

// IngestStarted is returned once the file is stored and the run queued.
type IngestStarted struct {
	RunID  string        `json:"run_id"`
	Upload upload.Record `json:"upload"`
}

// activeRun tracks a run in memory and fans progress out to listeners.
type activeRun struct {
	id     string
	upload upload.Record
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	progress  RunProgress
	listeners []chan RunProgress
	finished  bool
	err       error
}

// publish stores p and sends it to every listener. Slow listeners miss
// intermediate updates but always see the terminal one, since it is sent
// before the channels close.
func (r *activeRun) publish(p RunProgress) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.progress = p
	for _, ch := range r.listeners {
		select {
		case ch <- p:
		default:
			if p.State.IsTerminal() {
				// make room for the final state
				select {
				case <-ch:
				default:
				}
				select {
				case ch <- p:
				default:
				}
			}
		}
	}
}

func (r *activeRun) finish(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.err = err
	r.finished = true
	for _, ch := range r.listeners {
		close(ch)
	}
	r.listeners = nil
	close(r.done)
}

func (r *activeRun) snapshot() RunProgress {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.progress
}

// StartIngest validates the mapping against the file header, stores the
// file and starts a background run. The returned run ID is used with
// SubscribeProgress, GetRun and CancelRun.
func (s *Service) StartIngest(ctx context.Context, req IngestRequest) (*IngestStarted, error) {
	if req.Content == nil {
		return nil, fmt.Errorf("%w: empty file", ErrInvalidRequest)
	}
	if req.EffectiveDate.IsZero() {
		return nil, fmt.Errorf("%w: effective date is required", ErrInvalidRequest)
	}
	if _, err := s.GetSupplier(ctx, req.SupplierID); err != nil {
		return nil, err
	}

	tbl, err := csvtable.OpenWithOptions(req.Content, csvtable.Options{Encoding: s.encoding})
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if err := mapping.VerifyTable(tbl, req.Mapping); err != nil {
		return nil, err
	}
	if _, err := req.Content.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind upload: %w", err)
	}

	unlock, err := s.acquire(ctx, req.SupplierID)
	if err != nil {
		return nil, err
	}

	rec, err := s.uploads.Submit(ctx, req.SupplierID, req.Content, req.Filename)
	if err != nil {
		unlock()
		return nil, err
	}

	runID := s.launch(*rec, req.Mapping, req.EffectiveDate, unlock)
	s.logStarted(ctx, runID, *rec, false)
	return &IngestStarted{RunID: runID, Upload: *rec}, nil
}

// RestartIngest runs ingestion again for a stored upload. Chunk windows are
// idempotent, so a failed or cancelled run can be repeated from the start.
func (s *Service) RestartIngest(ctx context.Context, uploadID uuid.UUID, m mapping.Mapping, effective time.Time) (*IngestStarted, error) {
	if effective.IsZero() {
		return nil, fmt.Errorf("%w: effective date is required", ErrInvalidRequest)
	}
	rec, err := s.uploads.Get(ctx, uploadID)
	if err != nil {
		return nil, err
	}

	content, err := s.uploads.OpenContent(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("open upload %s: %w", uploadID, err)
	}
	tbl, err := csvtable.OpenWithOptions(content, csvtable.Options{Encoding: s.encoding})
	if err == nil {
		err = mapping.VerifyTable(tbl, m)
	}
	content.Close()
	if err != nil {
		return nil, err
	}

	unlock, err := s.acquire(ctx, rec.SupplierID)
	if err != nil {
		return nil, err
	}

	runID := s.launch(rec, m, effective, unlock)
	s.logStarted(ctx, runID, rec, true)
	return &IngestStarted{RunID: runID, Upload: rec}, nil
}

// acquire takes a limiter slot and, with a locker configured, the
// supplier lock. The returned func releases both.
func (s *Service) acquire(ctx context.Context, supplierID int64) (func(), error) {
	if err := s.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	if s.locker == nil {
		return s.limiter.Release, nil
	}
	unlock, err := s.locker.Lock(ctx, supplierID)
	if err != nil {
		s.limiter.Release()
		return nil, err
	}
	return func() {
		unlock()
		s.limiter.Release()
	}, nil
}

// launch registers a run and drives it in the background. release is
// called when the run ends.
func (s *Service) launch(rec upload.Record, m mapping.Mapping, effective time.Time, release func()) string {
	runID := uuid.New().String()
	runCtx, cancel := context.WithTimeout(context.Background(), s.runTimeout)

	run := &activeRun{
		id:     runID,
		upload: rec,
		cancel: cancel,
		done:   make(chan struct{}),
		progress: RunProgress{
			RunID:      runID,
			SupplierID: rec.SupplierID,
			Filename:   rec.Filename,
			RunState: ingest.RunState{
				UploadID:  rec.ID.String(),
				State:     ingest.StateIdle,
				BatchSize: s.coordinator.BatchSize(),
			},
		},
	}

	s.mu.Lock()
	s.runs[runID] = run
	s.mu.Unlock()

	go func() {
		defer release()
		defer cancel()

		var runErr error
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("panic in ingestion run", "run_id", runID, "upload_id", rec.ID, "panic", r)
				runErr = fmt.Errorf("internal error: %v", r)
				p := run.snapshot()
				p.State = ingest.StateFailed
				p.Error = runErr.Error()
				s.report(run, p, runErr)
			}
			run.finish(runErr)
			s.cleanup(runID, s.runRetention)
		}()

		progressOf := func(st ingest.RunState) RunProgress {
			return RunProgress{
				RunID:      runID,
				SupplierID: rec.SupplierID,
				Filename:   rec.Filename,
				RunState:   st,
			}
		}

		// The terminal state is reported after Run returns so the user
		// message is mapped from the real error rather than its text.
		final, err := s.coordinator.Run(runCtx, ingest.Request{
			UploadID:      rec.ID,
			EffectiveDate: effective,
			Mapping:       m,
		}, func(st ingest.RunState) {
			if st.State.IsTerminal() {
				return
			}
			s.report(run, progressOf(st), nil)
		})
		runErr = err
		if errors.Is(runErr, context.Canceled) {
			runErr = fmt.Errorf("%w: %w", ErrRunCancelled, runErr)
		}
		s.report(run, progressOf(final), runErr)

		s.logger.Info("ingestion run finished",
			"run_id", runID,
			"upload_id", rec.ID,
			"state", run.snapshot().State,
			"error", runErr,
		)
	}()

	return runID
}

func (s *Service) logStarted(ctx context.Context, runID string, rec upload.Record, restart bool) {
	s.logger.Info("ingestion run started",
		"run_id", runID,
		"upload_id", rec.ID,
		"supplier_id", rec.SupplierID,
		"file", rec.Filename,
		"restart", restart,
		"client_ip", ClientIPFromContext(ctx),
		"user_agent", UserAgentFromContext(ctx),
	)
}

// report fills in derived fields, fans p out and mirrors it.
func (s *Service) report(run *activeRun, p RunProgress, err error) {
	p.Percent = p.RunState.Percent()
	if p.State == ingest.StateCompleted {
		p.Percent = 100
	}
	switch {
	case p.State == ingest.StateCancelled:
		msg := msgCancelled
		p.UserError = &msg
	case err != nil:
		msg := MapError(err)
		p.UserError = &msg
	}

	run.publish(p)

	if s.mirror == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.mirror.Publish(ctx, p); err != nil {
		s.logger.Warn("mirror run progress", "run_id", p.RunID, "error", err)
	}
}

// cleanup forgets a finished run after delay.
func (s *Service) cleanup(runID string, delay time.Duration) {
	time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.runs, runID)
		s.mu.Unlock()
	})
}

func (s *Service) lookup(runID string) (*activeRun, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	return run, ok
}

// SubscribeProgress returns a channel receiving progress updates for a run.
// The current progress is sent immediately; the channel is closed once the
// run ends. Call unsubscribe to stop listening early.
func (s *Service) SubscribeProgress(runID string) (<-chan RunProgress, func(), error) {
	run, ok := s.lookup(runID)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}

	ch := make(chan RunProgress, 16)

	run.mu.Lock()
	ch <- run.progress
	if run.finished {
		close(ch)
		run.mu.Unlock()
		return ch, func() {}, nil
	}
	run.listeners = append(run.listeners, ch)
	run.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			run.mu.Lock()
			defer run.mu.Unlock()
			for i, l := range run.listeners {
				if l == ch {
					run.listeners = append(run.listeners[:i], run.listeners[i+1:]...)
					close(ch)
					return
				}
			}
		})
	}
	return ch, unsubscribe, nil
}

// CancelRun stops a run after its in-flight batch.
func (s *Service) CancelRun(runID string) error {
	run, ok := s.lookup(runID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	run.cancel()
	s.logger.Info("ingestion run cancel requested", "run_id", runID)
	return nil
}

// GetRun returns the latest progress of a run. Runs no longer held in
// memory are looked up in the progress mirror when one is configured.
func (s *Service) GetRun(ctx context.Context, runID string) (RunProgress, error) {
	if run, ok := s.lookup(runID); ok {
		return run.snapshot(), nil
	}
	if s.mirror != nil {
		return s.mirror.Load(ctx, runID)
	}
	return RunProgress{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
}

// WaitRun blocks until a run finishes and returns its final progress and
// error.
func (s *Service) WaitRun(ctx context.Context, runID string) (RunProgress, error) {
	run, ok := s.lookup(runID)
	if !ok {
		return RunProgress{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	select {
	case <-run.done:
	case <-ctx.Done():
		return run.snapshot(), ctx.Err()
	}
	run.mu.Lock()
	defer run.mu.Unlock()
	return run.progress, run.err
}

// ListRuns returns the runs held in memory, newest first.
func (s *Service) ListRuns() []RunProgress {
	s.mu.RLock()
	out := make([]RunProgress, 0, len(s.runs))
	for _, run := range s.runs {
		out = append(out, run.snapshot())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.After(out[j].StartedAt)
		}
		return out[i].RunID < out[j].RunID
	})
	return out
}
