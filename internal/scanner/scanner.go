package scanner

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/pixreaper/internal/resolver"
)

// Resolver resolves one viewer link; satisfied by *resolver.Engine.
type Resolver interface {
	Resolve(ctx context.Context, link string) resolver.Result
}

const (
	// Hard cap on scan workers regardless of configuration.
	maxScanWorkers     = 16
	defaultItemTimeout = 8 * time.Second
)

// Scanner dispatches batches of viewer links to a bounded worker pool. A new
// scan supersedes any still-active one (most-recent-request-wins): the old
// run is cancelled before the new run's first result can be emitted.
type Scanner struct {
	resolver       Resolver
	maxConnections int
	itemTimeout    time.Duration

	mu      sync.Mutex
	current *Run
}

func New(res Resolver, maxConnections int, itemTimeout time.Duration) *Scanner {
	if itemTimeout <= 0 {
		itemTimeout = defaultItemTimeout
	}
	return &Scanner{
		resolver:       res,
		maxConnections: maxConnections,
		itemTimeout:    itemTimeout,
	}
}

// Start begins resolving the given links and returns the new run. Any
// previous active run is cancelled first.
func (s *Scanner) Start(links []string) *Run {
	run := newRun(links)
	s.mu.Lock()
	if s.current != nil {
		s.current.Cancel()
	}
	s.current = run
	s.mu.Unlock()

	workers := s.poolSize(len(links))
	log.Info().Str("op", "scanner").Str("scan", run.ID).
		Msgf("Starting scan for %d links using %d workers", len(links), workers)

	if len(links) == 0 {
		run.mu.Lock()
		run.maybeComplete()
		run.mu.Unlock()
		return run
	}
	for i := 0; i < workers; i++ {
		go s.work(run)
	}
	return run
}

// Cancel cancels the current run, if any. Idempotent.
func (s *Scanner) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		s.current.Cancel()
	}
}

func (s *Scanner) poolSize(queued int) int {
	size := s.maxConnections
	if cpus := runtime.NumCPU(); cpus < size {
		size = cpus
	}
	if size > maxScanWorkers {
		size = maxScanWorkers
	}
	if size < 1 {
		size = 1
	}
	if queued > 0 && queued < size {
		size = queued
	}
	return size
}

// work is one persistent worker: it pulls the next unresolved link, resolves
// it under a per-item timeout, and reports back until the queue drains or
// the run is cancelled.
func (s *Scanner) work(run *Run) {
	for {
		item, ok := run.next()
		if !ok {
			return
		}
		itemCtx, cancel := context.WithTimeout(run.ctx, s.itemTimeout)
		result := s.resolver.Resolve(itemCtx, item.link)
		cancel()
		run.finish(item.index, result)
	}
}
