// Package session is the composition root of a crawl.
//
// A Session wires the shared state, the robots cache, the render engine,
// the scheduler and the page pipeline together and owns their lifecycle.
// It ends either when Stop is called or when the work queue drains, and
// in both cases it goes through the same shutdown path exactly once:
// the state is deactivated, pending retries are cancelled, in-flight
// pages are allowed to finish, the browser is closed, the report is
// saved and a single session-end event is emitted.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nao1215/politecrawl/internal/analyzer"
	"github.com/nao1215/politecrawl/internal/config"
	"github.com/nao1215/politecrawl/internal/crawler"
	"github.com/nao1215/politecrawl/internal/model"
	"github.com/nao1215/politecrawl/internal/pipeline"
	"github.com/nao1215/politecrawl/internal/progress"
	"github.com/nao1215/politecrawl/internal/render"
	"github.com/nao1215/politecrawl/internal/robots"
	"github.com/nao1215/politecrawl/internal/scheduler"
	"github.com/nao1215/politecrawl/internal/state"
)

// saveTimeout bounds the final write of the session report.
const saveTimeout = 10 * time.Second

// Session is one crawl from a single seed URL.
type Session struct {
	id   string
	opts config.SessionOptions

	store      Store
	analyze    analyzer.Func
	sink       progress.Sink
	logger     *slog.Logger
	profile    *config.File
	renderer   Renderer
	renderOpts []render.Option
	fetcher    pipeline.Fetcher
	client     *http.Client

	state     *state.State
	robots    *robots.Cache
	scheduler *scheduler.Scheduler
	processor *pipeline.Processor
	pages     *pageCollector

	startOnce sync.Once
	stopOnce  sync.Once
	idle      atomic.Bool
	done      chan struct{}

	mu     sync.Mutex
	report *model.SessionReport
	final  *model.FinalStats
}

// New validates opts and builds a session. The only error is an unusable
// target URL; every other option is clamped to its bounds.
func New(opts config.SessionOptions, options ...Option) (*Session, error) {
	opts, err := opts.Normalize()
	if err != nil {
		return nil, err
	}

	s := &Session{
		id:   uuid.NewString(),
		opts: opts,
		done: make(chan struct{}),
	}
	for _, o := range options {
		o(s)
	}

	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("session", s.id)
	if s.sink == nil {
		s.sink = progress.Discard
	}
	if s.profile == nil {
		s.profile = config.DefaultFile()
	}
	if s.analyze == nil {
		s.analyze = analyzer.New(opts.Method).Func()
	}
	if s.client == nil {
		s.client = crawler.NewHTTPClient()
	}
	if s.fetcher == nil {
		s.fetcher = crawler.NewFetcher(
			crawler.WithHTTPClient(s.client),
			crawler.WithUserAgent(opts.UserAgent),
			crawler.WithMaxBodySize(opts.MaxBodySize),
			crawler.WithTimeout(opts.RequestTimeout),
			crawler.WithLogger(s.logger),
		)
	}
	if opts.DynamicRender && s.renderer == nil {
		s.renderer = render.NewEngine(append([]render.Option{render.WithLogger(s.logger)}, s.renderOpts...)...)
	}

	s.pages = newPageCollector()
	sink := progress.Multi(s.sink, s.pages)

	robotsOpts := []robots.Option{
		robots.WithHTTPClient(s.client),
		robots.WithUserAgent(opts.UserAgent),
		robots.WithStrict(opts.StrictRobots),
		robots.WithLogger(s.logger),
	}
	if s.store != nil {
		robotsOpts = append(robotsOpts, robots.WithStore(s.store))
	}
	s.robots = robots.New(robotsOpts...)

	s.state = state.New(opts.CrawlDelay, opts.MaxPages)
	s.scheduler = scheduler.New(s.state, opts.MaxConcurrentRequests,
		scheduler.WithSink(sink),
		scheduler.WithLogger(s.logger),
		scheduler.WithSessionID(s.id),
		scheduler.WithIdleFunc(s.onIdle),
	)

	deps := pipeline.Deps{
		State:   s.state,
		Queue:   s.scheduler,
		Fetcher: s.fetcher,
		Robots:  s.robots,
		Analyze: s.analyze,
		Sink:    sink,
		Profile: s.profile,
		Logger:  s.logger,
	}
	if s.renderer != nil && opts.DynamicRender {
		deps.Renderer = s.renderer
	}
	if s.store != nil {
		deps.Store = s.store
	}
	s.processor = pipeline.NewProcessor(s.id, opts, deps)
	s.scheduler.Handle(s.processor)

	s.report = model.NewSessionReport(s.id, opts.TargetURL)
	s.report.Options = optionsView(opts)

	return s, nil
}

// StartSession builds a session and starts it.
func StartSession(ctx context.Context, opts config.SessionOptions, options ...Option) (*Session, error) {
	s, err := New(opts, options...)
	if err != nil {
		return nil, err
	}
	if err := s.Start(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Options returns the normalized options.
func (s *Session) Options() config.SessionOptions {
	return s.opts
}

// IsActive reports whether the session still accepts work.
func (s *Session) IsActive() bool {
	return s.state.IsActive()
}

// Start seeds the queue and starts the dispatch loop. It returns once the
// loop is running. Cancelling ctx stops the session; pages already in
// flight are allowed to finish.
func (s *Session) Start(ctx context.Context) error {
	if !s.state.IsActive() {
		return ErrStopped
	}

	err := ErrAlreadyStarted
	s.startOnce.Do(func() {
		err = s.start(ctx)
	})
	return err
}

func (s *Session) start(ctx context.Context) error {
	s.mu.Lock()
	s.report.StartedAt = s.state.StartedAt()
	s.mu.Unlock()

	s.emitLog(model.LogInfo, "session started", s.opts.TargetURL)

	if s.renderer != nil && s.opts.DynamicRender {
		if ok, notice := s.renderer.Initialize(ctx); !ok {
			s.mu.Lock()
			s.report.RenderNotice = notice
			s.mu.Unlock()
			s.emitLog(model.LogWarn, notice, "")
		}
	}

	if s.opts.RespectRobots {
		s.resolveTargetRobots(ctx)
	}

	if !s.scheduler.Enqueue(model.NewSeed(s.opts.TargetURL)) {
		s.Stop()
		return fmt.Errorf("failed to enqueue %s", s.opts.TargetURL)
	}

	// Pages in flight must not see the caller's cancellation.
	if _, err := s.scheduler.Start(context.WithoutCancel(ctx)); err != nil {
		s.Stop()
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-s.done:
		}
	}()

	return nil
}

// resolveTargetRobots installs the target's robots crawl-delay before the
// seed is dispatched.
func (s *Session) resolveTargetRobots(ctx context.Context) {
	u, err := url.Parse(s.opts.TargetURL)
	if err != nil {
		return
	}
	domain := s.opts.TargetHost()
	rules := s.robots.Get(ctx, u.Host)
	s.state.ObserveDomain(domain)
	if delay := rules.CrawlDelay(config.DefaultRobotsAgent); delay > s.opts.CrawlDelay {
		s.state.SetDomainDelay(domain, delay)
		s.logger.Info("using robots.txt crawl-delay", "domain", domain, "delay", delay)
	}
	if !rules.Allowed(s.opts.TargetURL, config.DefaultRobotsAgent) {
		s.emitLog(model.LogWarn, "robots.txt disallows the target; crawling it because it was requested explicitly", s.opts.TargetURL)
	}
}

// onIdle is called by the scheduler when the queue drained on its own.
func (s *Session) onIdle() {
	s.idle.Store(true)
	s.Stop()
}

// Stop ends the session. It blocks until in-flight pages have finished
// and the session-end event has been emitted. Calling Stop more than once,
// or concurrently, is safe; only the first call does the work.
func (s *Session) Stop() {
	s.stopOnce.Do(s.shutdown)
}

func (s *Session) shutdown() {
	s.state.Deactivate()
	s.scheduler.ClearRetries()
	s.scheduler.Wake()
	if err := s.scheduler.AwaitIdle(context.Background()); err != nil {
		s.logger.Warn("failed waiting for in-flight pages", "error", err)
	}

	if s.renderer != nil {
		s.renderer.Close()
	}

	stats := s.state.FinalStats()

	s.mu.Lock()
	s.final = &stats
	s.report.FinishedAt = time.Now()
	s.report.StoppedEarly = !s.idle.Load()
	s.report.Stats = stats
	s.report.Pages = s.pages.Summaries()
	report := *s.report
	s.mu.Unlock()

	if s.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		if err := s.store.SaveSession(ctx, &report); err != nil {
			s.logger.Warn("failed to save session", "error", err)
			s.emitLog(model.LogWarn, fmt.Sprintf("failed to save session: %v", err), "")
		}
		cancel()
	}

	s.emitLog(model.LogInfo, fmt.Sprintf("session finished: %d pages, %d failures", stats.PagesScanned, stats.FailureCount), "")
	s.sink.EmitSessionEnd(s.id, stats)
	close(s.done)
}

// Done returns a channel closed when the session has ended.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the session has ended or ctx is done.
func (s *Session) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FinalStats returns the end-of-session statistics. Before the session
// has ended it returns the statistics as of now.
func (s *Session) FinalStats() model.FinalStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.final != nil {
		return *s.final
	}
	return s.state.FinalStats()
}

// Report returns a copy of the session report. It is complete once the
// session has ended.
func (s *Session) Report() *model.SessionReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := *s.report
	if s.final == nil {
		r.Stats = s.state.FinalStats()
		r.Pages = s.pages.Summaries()
	}
	return &r
}

func (s *Session) emitLog(level model.LogLevel, msg, rawURL string) {
	s.sink.EmitLog(model.LogEvent{
		SessionID: s.id,
		Level:     level,
		Message:   msg,
		URL:       rawURL,
		Time:      time.Now(),
	})
}

// optionsView is the free-form options map stored in the report.
func optionsView(o config.SessionOptions) map[string]any {
	return map[string]any{
		"maxDepth":              o.MaxDepth,
		"maxPages":              o.MaxPages,
		"crawlDelay":            o.CrawlDelay.String(),
		"method":                string(o.Method),
		"maxConcurrentRequests": o.MaxConcurrentRequests,
		"retryLimit":            o.RetryLimit,
		"dynamicRender":         o.DynamicRender,
		"respectRobots":         o.RespectRobots,
		"strictRobots":          o.StrictRobots,
		"duplicateFilter":       o.DuplicateFilter,
		"saveMedia":             o.SaveMedia,
		"metadataOnly":          o.MetadataOnly,
		"userAgent":             o.UserAgent,
	}
}
