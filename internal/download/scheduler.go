package download

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type EventKind string

const (
	EventProgress  EventKind = "progress"
	EventCompleted EventKind = "completed"
)

type Event struct {
	Kind     EventKind
	Progress Progress // set for EventProgress
	Summary  Summary  // set for EventCompleted
}

type Progress struct {
	Index   int
	Status  Status
	Path    string
	Attempt int
	Size    int64
	Err     string
}

type Summary struct {
	Success   int
	Skipped   int
	Failed    int
	Cancelled int
	Total     int
}

// Fetcher is the single-download operation; satisfied by *Engine.
type Fetcher interface {
	FetchToFile(ctx context.Context, sourceURL, targetPath string) (FetchResult, error)
}

const (
	maxDownloadWorkers = 16
	defaultMaxRetries  = 3
	defaultBaseDelay   = 500 * time.Millisecond
)

// Scheduler drives a manifest through a bounded worker pool, retrying each
// entry independently. One entry's failures never block others.
type Scheduler struct {
	engine         Fetcher
	maxConnections int
	maxRetries     int
	baseDelay      time.Duration
}

func NewScheduler(engine Fetcher, maxConnections int) *Scheduler {
	if maxConnections < 1 {
		maxConnections = 1
	}
	if maxConnections > maxDownloadWorkers {
		maxConnections = maxDownloadWorkers
	}
	return &Scheduler{
		engine:         engine,
		maxConnections: maxConnections,
		maxRetries:     defaultMaxRetries,
		baseDelay:      defaultBaseDelay,
	}
}

// Run is the state of one download batch. Unlike a scan it is never
// implicitly superseded; stopping it requires an explicit Cancel.
type Run struct {
	ID string

	events chan Event
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	summary Summary
}

// Start dispatches the manifest and returns immediately; progress streams on
// Events until the terminal completed event.
func (s *Scheduler) Start(manifest []*Entry) *Run {
	ctx, cancel := context.WithCancel(context.Background())
	run := &Run{
		ID:     uuid.NewString(),
		events: make(chan Event, len(manifest)*(s.maxRetries+2)+2),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	run.summary.Total = len(manifest)

	workers := s.maxConnections
	if len(manifest) < workers {
		workers = len(manifest)
	}
	if workers < 1 {
		workers = 1
	}
	log.Info().Str("op", "download/scheduler").Str("run", run.ID).
		Msgf("Starting download of %d files using %d workers", len(manifest), workers)

	entries := make(chan *Entry, len(manifest))
	for _, entry := range manifest {
		entries <- entry
	}
	close(entries)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for entry := range entries {
				s.process(run, entry)
			}
		}()
	}
	go func() {
		wg.Wait()
		run.finish()
	}()
	return run
}

// process runs one manifest entry through the retry loop. The cancellation
// flag is checked before every attempt and before every backoff sleep; an
// in-progress attempt observes it through the run context and unwinds
// without leaving a partial file.
func (s *Scheduler) process(run *Run, entry *Entry) {
	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if run.cancelled() {
			run.report(entry, StatusCancelled, attempt, lastErr)
			return
		}
		if attempt > 0 {
			entry.Status = StatusRetrying
			entry.Retries = attempt
			run.emit(Progress{Index: entry.Index, Status: StatusRetrying, Path: entry.Path, Attempt: attempt, Err: errString(lastErr)})
			select {
			case <-run.ctx.Done():
				run.report(entry, StatusCancelled, attempt, lastErr)
				return
			case <-time.After(s.baseDelay * time.Duration(attempt)):
			}
			if run.cancelled() {
				run.report(entry, StatusCancelled, attempt, lastErr)
				return
			}
		}
		result, err := s.engine.FetchToFile(run.ctx, entry.URL, entry.Path)
		if err == nil {
			entry.Path = result.Path
			entry.Size = result.Size
			run.report(entry, result.Status, attempt, nil)
			return
		}
		if run.cancelled() || errors.Is(err, context.Canceled) {
			run.report(entry, StatusCancelled, attempt, err)
			return
		}
		lastErr = err
		log.Warn().Str("op", "download/scheduler").Str("url", entry.URL).Err(err).
			Msgf("Download attempt %d/%d failed", attempt+1, s.maxRetries+1)
	}
	run.report(entry, StatusFailed, s.maxRetries, lastErr)
}

// Events streams per-entry progress (including retrying substatus) followed
// by one completed event carrying the summary, then closes.
func (r *Run) Events() <-chan Event {
	return r.events
}

// Cancel stops dispatching and lets in-flight attempts unwind promptly.
// Idempotent.
func (r *Run) Cancel() {
	r.cancel()
}

// Wait blocks until the run finishes and returns the summary.
func (r *Run) Wait() Summary {
	<-r.done
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.summary
}

func (r *Run) cancelled() bool {
	return r.ctx.Err() != nil
}

func (r *Run) report(entry *Entry, status Status, attempt int, err error) {
	entry.Status = status
	r.mu.Lock()
	switch status {
	case StatusSuccess:
		r.summary.Success++
	case StatusSkipped:
		r.summary.Skipped++
	case StatusFailed:
		r.summary.Failed++
	case StatusCancelled:
		r.summary.Cancelled++
	}
	r.mu.Unlock()
	r.emit(Progress{Index: entry.Index, Status: status, Path: entry.Path, Attempt: attempt, Size: entry.Size, Err: errString(err)})
}

func (r *Run) emit(p Progress) {
	r.events <- Event{Kind: EventProgress, Progress: p}
}

func (r *Run) finish() {
	r.cancel()
	r.mu.Lock()
	summary := r.summary
	r.mu.Unlock()
	r.events <- Event{Kind: EventCompleted, Summary: summary}
	close(r.events)
	close(r.done)
	log.Info().Str("op", "download/scheduler").Str("run", r.ID).
		Msgf("Download run finished: %d success, %d skipped, %d failed, %d cancelled of %d",
			summary.Success, summary.Skipped, summary.Failed, summary.Cancelled, summary.Total)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
