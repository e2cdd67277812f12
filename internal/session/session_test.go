package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nao1215/politecrawl/internal/config"
	"github.com/nao1215/politecrawl/internal/database"
	"github.com/nao1215/politecrawl/internal/model"
	"github.com/nao1215/politecrawl/internal/progress"
	"github.com/nao1215/politecrawl/internal/render"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func page(title string, links ...string) string {
	body := fmt.Sprintf("<html><head><title>%s</title></head><body><h1>%s</h1><p>Text about %s.</p>", title, title, title)
	for _, l := range links {
		body += fmt.Sprintf(`<a href="%s">%s</a>`, l, l)
	}
	return body + "</body></html>"
}

// siteServer serves pages keyed by path. robots is served as /robots.txt
// when non-empty.
func siteServer(t *testing.T, pages map[string]string, robots string) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			if robots == "" {
				http.NotFound(w, r)
				return
			}
			_, _ = io.WriteString(w, robots)
			return
		}
		body, ok := pages[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testOptions(target string) config.SessionOptions {
	opts := config.DefaultSessionOptions()
	opts.TargetURL = target
	opts.CrawlDelay = 0
	opts.MaxDepth = 2
	opts.MaxConcurrentRequests = 2
	opts.RetryLimit = 0
	return opts
}

// offlineOptions never touch the network: the fetcher is faked and
// robots.txt is not consulted.
func offlineOptions() config.SessionOptions {
	opts := testOptions("https://example.com/")
	opts.RespectRobots = false
	return opts
}

func waitSession(t *testing.T, s *Session) {
	t.Helper()
	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("session did not end: %v", err)
	}
}

// blockingFetcher blocks every fetch until release is closed.
type blockingFetcher struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func newBlockingFetcher() *blockingFetcher {
	return &blockingFetcher{started: make(chan struct{}), release: make(chan struct{})}
}

func (f *blockingFetcher) Fetch(_ context.Context, rawURL string, _ config.SiteConfig) (*model.FetchResult, error) {
	f.once.Do(func() { close(f.started) })
	<-f.release
	body := page("Blocked", "/next")
	return &model.FetchResult{
		Content:       body,
		StatusCode:    http.StatusOK,
		ContentType:   "text/html",
		ContentLength: int64(len(body)),
	}, nil
}

// fakeRenderer never renders anything.
type fakeRenderer struct {
	ok     bool
	notice string
	closed atomic.Int32
}

func (r *fakeRenderer) Initialize(context.Context) (bool, string) { return r.ok, r.notice }

func (r *fakeRenderer) Render(context.Context, render.Request) (*model.FetchResult, error) {
	return nil, nil
}

func (r *fakeRenderer) Close() { r.closed.Add(1) }

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("rejects missing target", func(t *testing.T) {
		t.Parallel()

		_, err := New(config.SessionOptions{})
		if !errors.Is(err, config.ErrNoTarget) {
			t.Errorf("expected ErrNoTarget, got %v", err)
		}
	})

	t.Run("rejects invalid target", func(t *testing.T) {
		t.Parallel()

		_, err := New(config.SessionOptions{TargetURL: "ftp://example.com"})
		if !errors.Is(err, config.ErrInvalidTarget) {
			t.Errorf("expected ErrInvalidTarget, got %v", err)
		}
	})

	t.Run("clamps options", func(t *testing.T) {
		t.Parallel()

		opts := config.SessionOptions{TargetURL: "example.com", MaxDepth: 99, MaxConcurrentRequests: 100}
		s, err := New(opts, WithLogger(discardLogger()))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		got := s.Options()
		if got.MaxDepth != config.MaxDepth || got.MaxConcurrentRequests != config.MaxConcurrentRequests {
			t.Errorf("options not clamped: %+v", got)
		}
		if got.TargetURL != "https://example.com/" {
			t.Errorf("unexpected target %q", got.TargetURL)
		}
		if s.ID() == "" {
			t.Error("expected a session id")
		}
	})

	t.Run("ids are unique", func(t *testing.T) {
		t.Parallel()

		a, _ := New(config.SessionOptions{TargetURL: "example.com"}, WithLogger(discardLogger()))
		b, _ := New(config.SessionOptions{TargetURL: "example.com"}, WithLogger(discardLogger()))
		if a.ID() == b.ID() {
			t.Error("expected distinct session ids")
		}
	})
}

func TestSessionCrawl(t *testing.T) {
	t.Parallel()

	srv := siteServer(t, map[string]string{
		"/":  page("Home", "/a", "/b"),
		"/a": page("A", "/", "/c"),
		"/b": page("B", "/missing"),
		"/c": page("C"),
	}, "")

	recorder := progress.NewRecorder()
	s, err := StartSession(t.Context(), testOptions(srv.URL),
		WithSink(recorder),
		WithLogger(discardLogger()),
		WithHTTPClient(srv.Client()),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitSession(t, s)

	stats := s.FinalStats()
	if stats.PagesScanned != 4 {
		t.Errorf("expected 4 pages, got %d", stats.PagesScanned)
	}
	// /missing returns 404 and is not retried.
	if stats.FailureCount != 1 {
		t.Errorf("expected 1 failure, got %d", stats.FailureCount)
	}
	if s.IsActive() {
		t.Error("session should be inactive after idle")
	}

	report := s.Report()
	if report.StoppedEarly {
		t.Error("natural idle is not an early stop")
	}
	if len(report.Pages) != 4 {
		t.Errorf("expected 4 page summaries, got %d", len(report.Pages))
	}
	if report.FinishedAt.IsZero() {
		t.Error("expected finish time")
	}

	ends := recorder.SessionEnds()
	if len(ends) != 1 {
		t.Fatalf("expected 1 session end, got %d", len(ends))
	}
	if ends[0].SessionID != s.ID() {
		t.Errorf("unexpected session id %q", ends[0].SessionID)
	}
	if len(recorder.Pages()) != 4 {
		t.Errorf("expected 4 page events, got %d", len(recorder.Pages()))
	}
}

func TestSessionPageLimit(t *testing.T) {
	t.Parallel()

	links := make([]string, 0, 15)
	pages := map[string]string{}
	for i := range 15 {
		path := fmt.Sprintf("/p%d", i)
		links = append(links, path)
		pages[path] = page(path)
	}
	pages["/"] = page("Home", links...)
	srv := siteServer(t, pages, "")

	opts := testOptions(srv.URL)
	opts.MaxPages = 1
	opts.CrawlDelay = 300 * time.Millisecond
	opts.RespectRobots = false

	start := time.Now()
	s, err := StartSession(t.Context(), opts,
		WithLogger(discardLogger()),
		WithHTTPClient(srv.Client()),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitSession(t, s)

	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("expected the session to end once the page limit was reached, took %v", elapsed)
	}
	stats := s.FinalStats()
	if stats.PagesScanned != 1 {
		t.Errorf("expected 1 page, got %d", stats.PagesScanned)
	}
	if s.Report().StoppedEarly {
		t.Error("reaching the page limit is a natural end")
	}
}

func TestSessionStop(t *testing.T) {
	t.Parallel()

	t.Run("stop is idempotent", func(t *testing.T) {
		t.Parallel()

		srv := siteServer(t, map[string]string{"/": page("Home")}, "")
		recorder := progress.NewRecorder()
		s, err := StartSession(t.Context(), testOptions(srv.URL),
			WithSink(recorder),
			WithLogger(discardLogger()),
			WithHTTPClient(srv.Client()),
		)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		waitSession(t, s)

		first := s.FinalStats()
		s.Stop()
		s.Stop()

		if got := s.FinalStats(); got != first {
			t.Errorf("final stats changed after repeated stop: %+v vs %+v", got, first)
		}
		if n := len(recorder.SessionEnds()); n != 1 {
			t.Errorf("expected exactly 1 session end, got %d", n)
		}
	})

	t.Run("concurrent stops emit one session end", func(t *testing.T) {
		t.Parallel()

		fetcher := newBlockingFetcher()
		recorder := progress.NewRecorder()
		s, err := StartSession(t.Context(), offlineOptions(),
			WithSink(recorder),
			WithLogger(discardLogger()),
			WithFetcher(fetcher),
		)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		<-fetcher.started

		var wg sync.WaitGroup
		for range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				s.Stop()
			}()
		}
		close(fetcher.release)
		wg.Wait()

		if n := len(recorder.SessionEnds()); n != 1 {
			t.Errorf("expected exactly 1 session end, got %d", n)
		}
	})

	t.Run("in-flight page drains before stop returns", func(t *testing.T) {
		t.Parallel()

		fetcher := newBlockingFetcher()
		recorder := progress.NewRecorder()
		s, err := StartSession(t.Context(), offlineOptions(),
			WithSink(recorder),
			WithLogger(discardLogger()),
			WithFetcher(fetcher),
		)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		<-fetcher.started

		stopped := make(chan struct{})
		go func() {
			s.Stop()
			close(stopped)
		}()

		select {
		case <-stopped:
			t.Fatal("stop returned while a page was in flight")
		case <-time.After(100 * time.Millisecond):
		}
		if s.IsActive() {
			t.Error("session should be inactive once stop began")
		}

		close(fetcher.release)
		select {
		case <-stopped:
		case <-time.After(5 * time.Second):
			t.Fatal("stop did not return")
		}

		stats := s.FinalStats()
		if stats.PagesScanned != 1 {
			t.Errorf("expected the in-flight page to complete, got %d pages", stats.PagesScanned)
		}
		if !s.Report().StoppedEarly {
			t.Error("expected an early stop")
		}
		if len(recorder.Pages()) != 1 {
			t.Errorf("expected 1 page event, got %d", len(recorder.Pages()))
		}
	})

	t.Run("context cancellation stops the session", func(t *testing.T) {
		t.Parallel()

		fetcher := newBlockingFetcher()
		ctx, cancel := context.WithCancel(t.Context())
		s, err := StartSession(ctx, offlineOptions(),
			WithLogger(discardLogger()),
			WithFetcher(fetcher),
		)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		<-fetcher.started

		cancel()
		close(fetcher.release)
		waitSession(t, s)

		if !s.Report().StoppedEarly {
			t.Error("expected an early stop")
		}
	})

	t.Run("stop before start", func(t *testing.T) {
		t.Parallel()

		recorder := progress.NewRecorder()
		s, err := New(offlineOptions(), WithSink(recorder), WithLogger(discardLogger()))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		s.Stop()

		if err := s.Start(t.Context()); !errors.Is(err, ErrStopped) {
			t.Errorf("expected ErrStopped, got %v", err)
		}
		if n := len(recorder.SessionEnds()); n != 1 {
			t.Errorf("expected 1 session end, got %d", n)
		}
	})
}

func TestSessionStartTwice(t *testing.T) {
	t.Parallel()

	fetcher := newBlockingFetcher()
	s, err := StartSession(t.Context(), offlineOptions(),
		WithLogger(discardLogger()),
		WithFetcher(fetcher),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	<-fetcher.started

	if err := s.Start(t.Context()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("expected ErrAlreadyStarted, got %v", err)
	}

	close(fetcher.release)
	s.Stop()
}

func TestSessionRenderer(t *testing.T) {
	t.Parallel()

	srv := siteServer(t, map[string]string{"/": page("Home")}, "")
	renderer := &fakeRenderer{ok: false, notice: "dynamic rendering disabled: no browser"}
	recorder := progress.NewRecorder()

	opts := testOptions(srv.URL)
	opts.DynamicRender = true

	s, err := StartSession(t.Context(), opts,
		WithSink(recorder),
		WithLogger(discardLogger()),
		WithHTTPClient(srv.Client()),
		WithRenderer(renderer),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitSession(t, s)

	if got := s.Report().RenderNotice; got != renderer.notice {
		t.Errorf("expected render notice, got %q", got)
	}
	if renderer.closed.Load() != 1 {
		t.Errorf("expected renderer to be closed once, got %d", renderer.closed.Load())
	}
	if s.FinalStats().PagesScanned != 1 {
		t.Error("expected the static fallback to fetch the page")
	}

	warned := false
	for _, e := range recorder.Logs() {
		if e.Level == model.LogWarn && e.Message == renderer.notice {
			warned = true
		}
	}
	if !warned {
		t.Error("expected the notice to be emitted as a warning")
	}
}

func TestSessionTargetRobots(t *testing.T) {
	t.Parallel()

	srv := siteServer(t, map[string]string{"/": page("Home")}, "User-agent: *\nCrawl-delay: 2\n")

	s, err := StartSession(t.Context(), testOptions(srv.URL),
		WithLogger(discardLogger()),
		WithHTTPClient(srv.Client()),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitSession(t, s)

	if got := s.state.DomainDelay(s.opts.TargetHost()); got != 2*time.Second {
		t.Errorf("expected robots crawl-delay of 2s, got %v", got)
	}
}

func TestSessionPersistence(t *testing.T) {
	t.Parallel()

	db, err := database.Open(t.TempDir(), database.DefaultOptions())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	srv := siteServer(t, map[string]string{
		"/":  page("Home", "/a"),
		"/a": page("A"),
	}, "User-agent: *\nAllow: /\n")

	s, err := StartSession(t.Context(), testOptions(srv.URL),
		WithStore(db),
		WithLogger(discardLogger()),
		WithHTTPClient(srv.Client()),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitSession(t, s)

	ctx := t.Context()
	saved, err := db.GetSession(ctx, s.ID())
	if err != nil {
		t.Fatalf("failed to load session: %v", err)
	}
	if saved == nil {
		t.Fatal("expected the session to be saved")
	}
	if saved.Stats.PagesScanned != 2 {
		t.Errorf("expected 2 pages in saved report, got %d", saved.Stats.PagesScanned)
	}

	pages, err := db.ListPages(ctx, s.ID())
	if err != nil {
		t.Fatalf("failed to list pages: %v", err)
	}
	if len(pages) != 2 {
		t.Errorf("expected 2 stored pages, got %d", len(pages))
	}

	if _, found, err := db.GetRobotsRecord(ctx, srv.Listener.Addr().String()); err != nil || !found {
		t.Errorf("expected the target robots.txt to be stored (found=%v, err=%v)", found, err)
	}
}
