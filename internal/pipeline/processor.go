package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nao1215/politecrawl/internal/analyzer"
	"github.com/nao1215/politecrawl/internal/config"
	"github.com/nao1215/politecrawl/internal/model"
	"github.com/nao1215/politecrawl/internal/progress"
	"github.com/nao1215/politecrawl/internal/render"
	"github.com/nao1215/politecrawl/internal/robots"
	"github.com/nao1215/politecrawl/internal/scheduler"
	"github.com/nao1215/politecrawl/internal/state"
)

// errFetch marks a failed fetch. It triggers the retry policy.
var errFetch = errors.New("fetch failed")

// Queue is the part of the scheduler the pipeline feeds.
type Queue interface {
	Enqueue(item model.WorkItem) bool
	ScheduleRetry(item model.WorkItem, delay time.Duration) scheduler.RetryHandle
}

// Fetcher performs a static GET.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, site config.SiteConfig) (*model.FetchResult, error)
}

// Renderer loads a page in a headless browser. A nil result with a nil
// error means the renderer had nothing to offer.
type Renderer interface {
	Render(ctx context.Context, req render.Request) (*model.FetchResult, error)
}

// RobotsResolver returns the robots rules of a domain.
type RobotsResolver interface {
	Get(ctx context.Context, domain string) *robots.Rules
}

// Store persists crawl facts.
type Store interface {
	UpsertPage(ctx context.Context, page *model.PageRecord) (int64, error)
	InsertLinksIfAbsent(ctx context.Context, pageID int64, links []model.Link) (int, error)
	InsertMediaIfAbsent(ctx context.Context, pageID int64, media []model.Media) (int, error)
	SetDomainAllowed(ctx context.Context, domain string, allowed bool) error
}

// Deps are the collaborators of a Processor. State, Queue and Fetcher are
// required; the rest may be nil.
type Deps struct {
	State    *state.State
	Queue    Queue
	Fetcher  Fetcher
	Renderer Renderer
	Robots   RobotsResolver
	Store    Store
	Analyze  analyzer.Func
	Sink     progress.Sink
	Profile  *config.File
	Logger   *slog.Logger
}

// Processor is the page pipeline. It implements scheduler.Handler.
type Processor struct {
	sessionID string
	opts      config.SessionOptions
	deps      Deps
	pipeline  *Pipeline
	logger    *slog.Logger
}

// NewProcessor builds the page pipeline for one session.
func NewProcessor(sessionID string, opts config.SessionOptions, deps Deps) *Processor {
	if deps.Sink == nil {
		deps.Sink = progress.Discard
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Profile == nil {
		deps.Profile = config.DefaultFile()
	}
	if deps.Analyze == nil {
		deps.Analyze = analyzer.New(opts.Method).Func()
	}

	p := &Processor{
		sessionID: sessionID,
		opts:      opts,
		deps:      deps,
		logger:    deps.Logger,
	}

	p.pipeline = New(WithLogger(deps.Logger))
	p.pipeline.AddSteps(
		&gateStep{state: deps.State},
		&fetchStep{opts: opts, fetcher: deps.Fetcher, renderer: deps.Renderer, profile: deps.Profile, logger: deps.Logger},
		&markStep{state: deps.State, duplicateFilter: opts.DuplicateFilter},
		&analyzeStep{analyze: deps.Analyze, logger: deps.Logger},
		&persistStep{p: p},
		&linksStep{p: p, workers: DefaultLinkWorkers},
		&emitStep{p: p},
	)

	return p
}

// StepNames returns the pipeline step names in order.
func (p *Processor) StepNames() []string {
	return p.pipeline.StepNames()
}

// Handle processes one work item. Fetch failures are counted and retried
// here; other errors are returned to the scheduler.
func (p *Processor) Handle(ctx context.Context, item model.WorkItem) error {
	job := NewJob(item, p.deps.Profile.Match(item.URL))

	err := p.pipeline.Execute(ctx, job)
	switch {
	case err == nil, IsSkip(err):
		return nil
	case errors.Is(err, errFetch):
		p.fetchFailed(job, err)
		return nil
	default:
		if job.reserved {
			p.deps.State.ReleaseFetch()
		}
		return err
	}
}

// fetchFailed applies the retry policy to a failed fetch.
func (p *Processor) fetchFailed(job *Job, err error) {
	st := p.deps.State
	if job.reserved {
		st.ReleaseFetch()
		job.reserved = false
	}
	st.IncFailure()

	item := job.Item
	if item.RetryCount < p.opts.RetryLimit && st.IsActive() {
		delay := scheduler.BackoffDelay(item.RetryCount)
		p.deps.Queue.ScheduleRetry(item.Retry(), delay)
		p.logger.Warn("fetch failed, retry scheduled",
			"url", item.URL,
			"retry", item.RetryCount+1,
			"delay", delay,
			"error", err,
		)
		p.emitLog(model.LogWarn, item.URL, fmt.Sprintf("fetch failed for %s, retry %d/%d in %s: %v",
			item.URL, item.RetryCount+1, p.opts.RetryLimit, delay, err))
		return
	}

	p.logger.Error("fetch failed, giving up", "url", item.URL, "retries", item.RetryCount, "error", err)
	p.emitLog(model.LogError, item.URL, fmt.Sprintf("fetch failed for %s after %d retries: %v",
		item.URL, item.RetryCount, err))
}

func (p *Processor) emitLog(level model.LogLevel, url, msg string) {
	p.deps.Sink.EmitLog(model.LogEvent{
		SessionID: p.sessionID,
		Level:     level,
		Message:   msg,
		URL:       url,
		Time:      time.Now(),
	})
}
