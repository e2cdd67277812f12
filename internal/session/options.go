package session

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/nao1215/politecrawl/internal/analyzer"
	"github.com/nao1215/politecrawl/internal/config"
	"github.com/nao1215/politecrawl/internal/model"
	"github.com/nao1215/politecrawl/internal/pipeline"
	"github.com/nao1215/politecrawl/internal/progress"
	"github.com/nao1215/politecrawl/internal/render"
	"github.com/nao1215/politecrawl/internal/robots"
)

// Store is the persistence a session needs: pages, links and media for
// the pipeline, robots bodies for the robots cache, and the final report.
// *database.CrawlDB implements it.
type Store interface {
	pipeline.Store
	robots.Store
	SaveSession(ctx context.Context, report *model.SessionReport) error
}

// Renderer is a headless browser owned by the session.
// *render.Engine implements it.
type Renderer interface {
	Initialize(ctx context.Context) (bool, string)
	Render(ctx context.Context, req render.Request) (*model.FetchResult, error)
	Close()
}

// Option configures a Session.
type Option func(*Session)

// WithStore persists pages, robots bodies and the session report.
// Without a store nothing is persisted.
func WithStore(store Store) Option {
	return func(s *Session) {
		s.store = store
	}
}

// WithAnalyzer replaces the content analyzer.
func WithAnalyzer(fn analyzer.Func) Option {
	return func(s *Session) {
		s.analyze = fn
	}
}

// WithSink sets the progress sink. Defaults to progress.Discard.
func WithSink(sink progress.Sink) Option {
	return func(s *Session) {
		s.sink = sink
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// WithProfile sets the site profile. Defaults to config.DefaultFile().
func WithProfile(profile *config.File) Option {
	return func(s *Session) {
		s.profile = profile
	}
}

// WithRenderer replaces the headless browser. It is only used when
// DynamicRender is set, and the session closes it on stop.
func WithRenderer(r Renderer) Option {
	return func(s *Session) {
		s.renderer = r
	}
}

// WithRenderOptions passes options to the default render engine.
func WithRenderOptions(opts ...render.Option) Option {
	return func(s *Session) {
		s.renderOpts = append(s.renderOpts, opts...)
	}
}

// WithFetcher replaces the static fetcher.
func WithFetcher(f pipeline.Fetcher) Option {
	return func(s *Session) {
		s.fetcher = f
	}
}

// WithHTTPClient sets the client used for static fetches and robots.txt.
func WithHTTPClient(client *http.Client) Option {
	return func(s *Session) {
		s.client = client
	}
}
