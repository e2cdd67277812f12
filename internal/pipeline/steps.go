package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nao1215/politecrawl/internal/analyzer"
	"github.com/nao1215/politecrawl/internal/config"
	"github.com/nao1215/politecrawl/internal/crawler"
	"github.com/nao1215/politecrawl/internal/model"
	"github.com/nao1215/politecrawl/internal/render"
	"github.com/nao1215/politecrawl/internal/state"
)

// gateStep reserves a slot of the page budget. Items of an inactive
// session, already visited URLs and items past the budget are skipped.
type gateStep struct {
	state *state.State
}

// Name returns the step name.
func (s *gateStep) Name() string {
	return "gate"
}

// Do executes the gate step.
func (s *gateStep) Do(_ context.Context, job *Job) error {
	if !s.state.IsActive() || s.state.IsVisited(job.Item.URL) {
		return errSkip
	}
	if !s.state.ReserveFetch() {
		return errSkip
	}
	job.reserved = true
	return nil
}

// fetchStep loads the page, through the renderer first when dynamic
// rendering is enabled. A non-2xx status from either path is a failure.
type fetchStep struct {
	opts     config.SessionOptions
	fetcher  Fetcher
	renderer Renderer
	profile  *config.File
	logger   *slog.Logger
}

// Name returns the step name.
func (s *fetchStep) Name() string {
	return "fetch"
}

// Do executes the fetch step.
func (s *fetchStep) Do(ctx context.Context, job *Job) error {
	url := job.Item.URL

	if s.opts.DynamicRender && s.renderer != nil {
		res, err := s.renderer.Render(ctx, render.Request{
			URL:       url,
			UserAgent: s.opts.UserAgent,
			Site:      job.Site,
			Cookies:   s.profile.CookiesFor(url),
		})
		switch {
		case err != nil:
			// Recoverable browser errors arrive as a nil result.
			return fmt.Errorf("%w: %w", errFetch, err)
		case res != nil:
			if !crawler.IsSuccess(res.StatusCode) {
				return fmt.Errorf("%w: %w", errFetch, &crawler.StatusError{URL: url, StatusCode: res.StatusCode})
			}
			job.Result = backfill(res)
			return nil
		}
		s.logger.Debug("no render result, using static fetch", "url", url)
	}

	res, err := s.fetcher.Fetch(ctx, url, job.Site)
	if err != nil {
		return fmt.Errorf("%w: %w", errFetch, err)
	}
	job.Result = backfill(res)
	return nil
}

// backfill fills a missing title or description from the HTML.
func backfill(res *model.FetchResult) *model.FetchResult {
	if res != nil && res.IsHTML() {
		crawler.BackfillMeta(res)
	}
	return res
}

// markStep records a successful fetch. With the duplicate filter, a body
// already seen under another URL ends the job as skipped.
type markStep struct {
	state           *state.State
	duplicateFilter bool
}

// Name returns the step name.
func (s *markStep) Name() string {
	return "mark"
}

// Do executes the mark step.
func (s *markStep) Do(_ context.Context, job *Job) error {
	if !s.state.MarkVisited(job.Item.URL) {
		s.state.ReleaseFetch()
		job.reserved = false
		return errSkip
	}

	if s.duplicateFilter && s.state.SeenContent(model.HashContent(job.Result.Content)) {
		s.state.ReleaseFetch()
		job.reserved = false
		s.state.IncSkipped()
		return errSkip
	}

	s.state.CommitFetch(job.Result.ContentLength)
	job.reserved = false
	return nil
}

// analyzeStep sanitizes the content and runs the analysis. A failing or
// panicking analysis is replaced by the fallback result.
type analyzeStep struct {
	analyze analyzer.Func
	logger  *slog.Logger
}

// Name returns the step name.
func (s *analyzeStep) Name() string {
	return "analyze"
}

// Do executes the analyze step.
func (s *analyzeStep) Do(ctx context.Context, job *Job) error {
	res := job.Result
	job.Content = res.Content
	if res.IsHTML() {
		clean, err := crawler.Sanitize(res.Content)
		if err != nil {
			s.logger.Debug("sanitize failed, using raw content", "url", job.Item.URL, "error", err)
		} else {
			job.Content = clean
		}
	}

	in := analyzer.Input{
		Content:     job.Content,
		URL:         job.Item.URL,
		ContentType: res.ContentType,
		Title:       res.Title,
		Description: res.Description,
	}

	analysis, err := s.safeAnalyze(ctx, in)
	if err != nil {
		s.logger.Warn("analysis failed", "url", job.Item.URL, "error", err)
		analysis = analyzer.Fallback(err)
	}
	job.Analysis = analysis
	return nil
}

func (s *analyzeStep) safeAnalyze(ctx context.Context, in analyzer.Input) (res model.AnalysisResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("analysis panicked: %v", r)
		}
	}()
	return s.analyze(ctx, in)
}

// persistStep builds the page record and stores it with its links and
// media. Storage errors are logged and do not fail the page.
type persistStep struct {
	p *Processor
}

// Name returns the step name.
func (s *persistStep) Name() string {
	return "persist"
}

// Do executes the persist step.
func (s *persistStep) Do(ctx context.Context, job *Job) error {
	p := s.p
	page := model.NewPageRecord(p.sessionID, job.Item, job.Result, time.Now().UTC())
	page.Analysis = job.Analysis
	if p.opts.MetadataOnly {
		page.Content = ""
	}
	job.Page = page

	links := job.Analysis.Links
	media := job.Analysis.Media
	p.deps.State.AddLinks(len(links))
	if p.opts.SaveMedia {
		p.deps.State.AddMedia(len(media))
	}

	store := p.deps.Store
	if store == nil {
		return nil
	}

	id, err := store.UpsertPage(ctx, page)
	if err != nil {
		p.storeFailed(job.Item.URL, "page", err)
		return nil
	}
	page.ID = id

	if len(links) > 0 {
		if _, err := store.InsertLinksIfAbsent(ctx, id, links); err != nil {
			p.storeFailed(job.Item.URL, "links", err)
		}
	}
	if p.opts.SaveMedia && len(media) > 0 {
		if _, err := store.InsertMediaIfAbsent(ctx, id, media); err != nil {
			p.storeFailed(job.Item.URL, "media", err)
		}
	}
	return nil
}

func (p *Processor) storeFailed(url, what string, err error) {
	p.logger.Warn("failed to store "+what, "url", url, "error", err)
	p.emitLog(model.LogWarn, url, fmt.Sprintf("failed to store %s for %s: %v", what, url, err))
}

// emitStep sends the progress snapshot and the page event.
type emitStep struct {
	p *Processor
}

// Name returns the step name.
func (s *emitStep) Name() string {
	return "emit"
}

// Do executes the emit step.
func (s *emitStep) Do(_ context.Context, job *Job) error {
	p := s.p
	st := p.deps.State
	summary := job.Page.Summary()
	counters := st.Counters()
	elapsed := st.Elapsed()

	p.deps.Sink.EmitStats(model.StatsSnapshot{
		SessionID:      p.sessionID,
		Counters:       counters,
		Elapsed:        elapsed,
		PagesPerSecond: model.PagesPerSecond(counters.PagesScanned, elapsed),
		Message:        fmt.Sprintf("processed %s (%d links queued)", job.Item.URL, job.Enqueued),
		LastProcessed:  &summary,
	})
	p.deps.Sink.EmitPage(model.PageEnvelope{SessionID: p.sessionID, Page: job.Page})

	p.logger.Debug("page processed",
		"url", job.Item.URL,
		"depth", job.Item.Depth,
		"dynamic", job.Page.IsDynamic,
		"links", len(job.Analysis.Links),
		"enqueued", job.Enqueued,
		"took", time.Since(job.startedAt),
	)
	return nil
}
