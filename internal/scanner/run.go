package scanner

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/tanq16/pixreaper/internal/resolver"
)

type EventKind string

const (
	EventProgress  EventKind = "progress"
	EventCompleted EventKind = "completed"
	EventCancelled EventKind = "cancelled"
)

// Result pairs a resolution outcome with the link's position in the
// submitted batch. Completion order is not submission order; consumers that
// need a stable order re-sort by Index.
type Result struct {
	Index int
	resolver.Result
}

type Event struct {
	Kind    EventKind
	Result  Result   // set for EventProgress
	Results []Result // set for EventCompleted
}

type runState int

const (
	runActive runState = iota
	runCompleted
	runCancelled
)

type queueItem struct {
	index int
	link  string
}

// Run is the state of one scan: the work queue, in-flight count, accumulated
// results and an explicit active/completed/cancelled lifecycle. At most one
// Run is active per Scanner.
type Run struct {
	ID string

	mu       sync.Mutex
	state    runState
	queue    []queueItem
	inFlight int
	results  []Result
	events   chan Event
	ctx      context.Context
	cancel   context.CancelFunc
}

func newRun(links []string) *Run {
	ctx, cancel := context.WithCancel(context.Background())
	queue := make([]queueItem, len(links))
	for i, link := range links {
		queue[i] = queueItem{index: i, link: link}
	}
	return &Run{
		ID:     uuid.NewString(),
		queue:  queue,
		events: make(chan Event, len(links)+2),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Events streams per-link progress followed by exactly one terminal event
// (completed or cancelled), after which the channel is closed.
func (r *Run) Events() <-chan Event {
	return r.events
}

// Results returns a snapshot of the results accumulated so far.
func (r *Run) Results() []Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Result, len(r.results))
	copy(out, r.results)
	return out
}

// Cancel terminates the run: the remaining queue is emptied, in-flight
// completions are ignored, and a single cancelled event is emitted.
// Cancelling a finished or already-cancelled run is a no-op.
func (r *Run) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != runActive {
		return
	}
	r.state = runCancelled
	r.queue = nil
	r.cancel()
	r.events <- Event{Kind: EventCancelled}
	close(r.events)
	log.Info().Str("op", "scanner").Str("scan", r.ID).Msg("Scan cancelled")
}

func (r *Run) next() (queueItem, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != runActive || len(r.queue) == 0 {
		return queueItem{}, false
	}
	item := r.queue[0]
	r.queue = r.queue[1:]
	r.inFlight++
	return item, true
}

func (r *Run) finish(index int, res resolver.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inFlight > 0 {
		r.inFlight--
	}
	if r.state != runActive {
		return
	}
	result := Result{Index: index, Result: res}
	r.results = append(r.results, result)
	r.events <- Event{Kind: EventProgress, Result: result}
	r.maybeComplete()
}

// maybeComplete finishes the run when the queue is drained and nothing is in
// flight. Caller must hold r.mu.
func (r *Run) maybeComplete() {
	if r.state != runActive || len(r.queue) > 0 || r.inFlight > 0 {
		return
	}
	r.state = runCompleted
	r.cancel()
	results := make([]Result, len(r.results))
	copy(results, r.results)
	r.events <- Event{Kind: EventCompleted, Results: results}
	close(r.events)
	log.Info().Str("op", "scanner").Str("scan", r.ID).Msgf("Completed all %d links", len(results))
}
