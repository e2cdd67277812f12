// Package scheduler implements the work queue of a crawl session.
//
// The Scheduler owns a FIFO of work items and a dispatch loop that hands
// items to a Handler on goroutines. It bounds the number of in-flight
// handlers, keeps a minimum delay between two dispatches to the same
// domain and re-enqueues failed items through retry timers. The loop ends
// when nothing is queued, in flight or waiting on a retry timer, or when
// the session is deactivated.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nao1215/politecrawl/internal/model"
	"github.com/nao1215/politecrawl/internal/progress"
	"github.com/nao1215/politecrawl/internal/state"
)

// Loop timing.
const (
	// IdleInterval is the sleep between passes when nothing was deferred.
	IdleInterval = 100 * time.Millisecond

	// MinDeferredInterval is the shortest sleep after a domain-delay deferral.
	MinDeferredInterval = 50 * time.Millisecond

	// SweepInterval is how often stale domain entries are removed.
	SweepInterval = 30 * time.Second

	// StaleAfter is the age past its next allowed time at which a domain
	// entry is removed.
	StaleAfter = 5 * time.Minute
)

var (
	// ErrNoHandler is returned by Start when no handler was bound.
	ErrNoHandler = errors.New("scheduler has no handler")

	// ErrHandlerPanic wraps a panic recovered from a handler.
	ErrHandlerPanic = errors.New("handler panicked")
)

// Handler processes one work item. A returned error is logged and counted
// as a failure; it never stops the scheduler.
type Handler interface {
	Handle(ctx context.Context, item model.WorkItem) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, item model.WorkItem) error

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, item model.WorkItem) error {
	return f(ctx, item)
}

// Scheduler is the per-session work queue.
type Scheduler struct {
	state         *state.State
	maxConcurrent int
	crawlDelay    time.Duration
	sessionID     string
	sink          progress.Sink
	logger        *slog.Logger
	idleFn        func()

	// mu guards every field below up to handler.
	mu          sync.Mutex
	queue       []model.WorkItem
	pending     map[string]struct{} // queued or in flight
	retrying    map[string]struct{} // waiting on a retry timer
	retries     map[*retryTimer]struct{}
	nextAllowed map[string]time.Time
	active      int
	lastSweep   time.Time
	handler     Handler

	wg        sync.WaitGroup
	wake      chan struct{}
	done      chan struct{}
	startOnce sync.Once
	started   atomic.Bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithSink sets the progress sink that receives a snapshot after every pass.
func WithSink(sink progress.Sink) Option {
	return func(s *Scheduler) {
		s.sink = sink
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// WithSessionID sets the session ID put on snapshots and log events.
func WithSessionID(id string) Option {
	return func(s *Scheduler) {
		s.sessionID = id
	}
}

// WithIdleFunc sets the function called when the loop ends on its own
// while the session is still active.
func WithIdleFunc(fn func()) Option {
	return func(s *Scheduler) {
		s.idleFn = fn
	}
}

// New creates a Scheduler over st that runs at most maxConcurrent handlers
// at once. The crawl delay used for deferral sleeps is st.DefaultDelay().
func New(st *state.State, maxConcurrent int, opts ...Option) *Scheduler {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	s := &Scheduler{
		state:         st,
		maxConcurrent: maxConcurrent,
		crawlDelay:    st.DefaultDelay(),
		pending:       make(map[string]struct{}),
		retrying:      make(map[string]struct{}),
		retries:       make(map[*retryTimer]struct{}),
		nextAllowed:   make(map[string]time.Time),
		lastSweep:     time.Now(),
		wake:          make(chan struct{}, 1),
		done:          make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.sink == nil {
		s.sink = progress.Discard
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	return s
}

// Handle binds the handler. It must be called before Start.
func (s *Scheduler) Handle(h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

// Enqueue appends item to the queue. It is a no-op, returning false, when
// the URL is already visited, already queued or in flight, waiting on a
// retry timer, or when the session is no longer active.
func (s *Scheduler) Enqueue(item model.WorkItem) bool {
	s.mu.Lock()
	ok := s.enqueueLocked(item, false)
	s.mu.Unlock()

	if ok {
		s.signal()
	}
	return ok
}

func (s *Scheduler) enqueueLocked(item model.WorkItem, fromRetry bool) bool {
	if !s.state.IsActive() || s.state.IsVisited(item.URL) {
		return false
	}
	if _, ok := s.pending[item.URL]; ok {
		return false
	}
	if _, ok := s.retrying[item.URL]; ok && !fromRetry {
		return false
	}
	s.pending[item.URL] = struct{}{}
	s.queue = append(s.queue, item)
	return true
}

// Start launches the dispatch loop. Later calls return the same channel,
// which is closed when the loop has exited and every handler returned.
func (s *Scheduler) Start(ctx context.Context) (<-chan struct{}, error) {
	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()
	if h == nil {
		return nil, ErrNoHandler
	}

	s.startOnce.Do(func() {
		s.started.Store(true)
		go s.run(ctx)
	})
	return s.done, nil
}

// Done returns a channel closed when the loop has exited.
func (s *Scheduler) Done() <-chan struct{} {
	return s.done
}

// AwaitIdle blocks until the dispatch loop has exited or ctx is done.
// It returns immediately when the loop was never started.
func (s *Scheduler) AwaitIdle(ctx context.Context) error {
	if !s.started.Load() {
		return nil
	}
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wake interrupts the loop's sleep so it re-evaluates its exit condition.
func (s *Scheduler) Wake() {
	s.signal()
}

// Len returns the number of queued items.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Active returns the number of handlers in flight.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// run is the dispatch loop.
func (s *Scheduler) run(ctx context.Context) {
	timer := time.NewTimer(IdleInterval)
	defer timer.Stop()

	for {
		s.mu.Lock()
		if !s.state.IsActive() || (len(s.queue) == 0 && s.active == 0 && len(s.retries) == 0) {
			s.mu.Unlock()
			break
		}

		wait, deferred := s.dispatchLocked(ctx)
		s.sweepLocked(time.Now())
		snapshot := s.snapshotLocked()
		s.mu.Unlock()

		s.sink.EmitStats(snapshot)

		sleep := IdleInterval
		if deferred {
			sleep = max(min(wait, s.crawlDelay), MinDeferredInterval)
		}
		timer.Reset(sleep)
		select {
		case <-timer.C:
		case <-s.wake:
			timer.Stop()
		}
	}

	s.wg.Wait()
	close(s.done)

	if s.state.IsActive() && s.idleFn != nil {
		s.idleFn()
	}
}

// dispatchLocked runs one dispatch pass. It returns the shortest wait of a
// deferred item and whether any item was deferred.
func (s *Scheduler) dispatchLocked(ctx context.Context) (time.Duration, bool) {
	if s.state.PageLimitReached() {
		s.dropLocked()
		return 0, false
	}

	for s.active < s.maxConcurrent && len(s.queue) > 0 && s.state.IsActive() {
		item := s.queue[0]
		s.queue[0] = model.WorkItem{}
		s.queue = s.queue[1:]

		if s.state.IsVisited(item.URL) {
			delete(s.pending, item.URL)
			continue
		}

		now := time.Now()
		domain := item.Domain()
		if next, ok := s.nextAllowed[domain]; ok && now.Before(next) {
			// Domain delay is a throttle, not a failure: the item goes
			// back to the tail and the pass ends.
			s.queue = append(s.queue, item)
			return next.Sub(now), true
		}

		s.nextAllowed[domain] = now.Add(s.state.DomainDelay(domain))
		s.active++
		s.wg.Add(1)
		go s.invoke(ctx, item)
	}
	return 0, false
}

// dropLocked discards queued items and pending retries once no further
// page can be fetched.
func (s *Scheduler) dropLocked() {
	if len(s.queue) == 0 && len(s.retries) == 0 {
		return
	}
	s.logger.Debug("page limit reached, dropping queued work",
		"queued", len(s.queue), "retries", len(s.retries))
	for _, item := range s.queue {
		delete(s.pending, item.URL)
	}
	s.queue = nil
	for rt := range s.retries {
		s.disarmLocked(rt)
	}
}

// invoke runs the handler for item and records its completion.
func (s *Scheduler) invoke(ctx context.Context, item model.WorkItem) {
	defer s.wg.Done()
	defer s.complete(item)

	if err := s.safeHandle(ctx, item); err != nil {
		s.state.IncFailure()
		s.logger.Error("pipeline failed", "url", item.URL, "error", err)
		s.sink.EmitLog(model.LogEvent{
			SessionID: s.sessionID,
			Level:     model.LogError,
			Message:   fmt.Sprintf("failed to process %s: %v", item.URL, err),
			URL:       item.URL,
			Time:      time.Now(),
		})
	}
}

func (s *Scheduler) safeHandle(ctx context.Context, item model.WorkItem) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()

	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()

	return h.Handle(ctx, item)
}

func (s *Scheduler) complete(item model.WorkItem) {
	s.mu.Lock()
	s.active--
	delete(s.pending, item.URL)
	s.mu.Unlock()
	s.signal()
}

// sweepLocked drops domain entries whose next allowed time passed long ago.
func (s *Scheduler) sweepLocked(now time.Time) {
	if now.Sub(s.lastSweep) < SweepInterval {
		return
	}
	s.lastSweep = now
	for domain, next := range s.nextAllowed {
		if now.Sub(next) > StaleAfter {
			delete(s.nextAllowed, domain)
		}
	}
}

func (s *Scheduler) snapshotLocked() model.StatsSnapshot {
	counters := s.state.Counters()
	elapsed := s.state.Elapsed()
	return model.StatsSnapshot{
		SessionID:      s.sessionID,
		Counters:       counters,
		Active:         s.active,
		Queued:         len(s.queue),
		PendingRetries: len(s.retries),
		Elapsed:        elapsed,
		PagesPerSecond: model.PagesPerSecond(counters.PagesScanned, elapsed),
	}
}
