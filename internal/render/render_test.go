package render

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-rod/rod/lib/proto"

	"github.com/nao1215/politecrawl/internal/config"
	"github.com/nao1215/politecrawl/internal/model"
)

// fakeBrowser is an in-memory Browser.
type fakeBrowser struct {
	t        *testing.T
	renderFn func(req Request) (*model.FetchResult, error)
	delay    time.Duration
	closeErr error

	inflight atomic.Int32
	renders  atomic.Int32
	closed   atomic.Bool
}

func (b *fakeBrowser) Render(_ context.Context, req Request, _ Navigation) (*model.FetchResult, error) {
	if b.closed.Load() {
		b.t.Error("render on closed browser")
	}
	b.inflight.Add(1)
	defer b.inflight.Add(-1)
	b.renders.Add(1)
	if b.delay > 0 {
		time.Sleep(b.delay)
	}
	if b.renderFn != nil {
		return b.renderFn(req)
	}
	return &model.FetchResult{Content: "<html></html>", StatusCode: 200, ContentType: "text/html"}, nil
}

func (b *fakeBrowser) Close() error {
	if n := b.inflight.Load(); n != 0 {
		b.t.Errorf("browser closed with %d renders in flight", n)
	}
	b.closed.Store(true)
	return b.closeErr
}

// fakeLauncher hands out browsers built by newBrowser and records them.
type fakeLauncher struct {
	mu         sync.Mutex
	browsers   []*fakeBrowser
	newBrowser func() *fakeBrowser
	err        error
	lastOpts   LaunchOptions
}

func (l *fakeLauncher) launch(_ context.Context, opts LaunchOptions) (Browser, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastOpts = opts
	if l.err != nil {
		return nil, l.err
	}
	b := l.newBrowser()
	l.browsers = append(l.browsers, b)
	return b, nil
}

func (l *fakeLauncher) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.browsers)
}

func plentyOfMemory() (MemInfo, error) {
	return MemInfo{Total: 16 << 30, Available: 8 << 30}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(t *testing.T, l *fakeLauncher, opts ...Option) *Engine {
	t.Helper()
	base := []Option{
		WithLauncher(l.launch),
		WithMemoryProbe(plentyOfMemory),
		WithEnvironment(Environment{}),
		WithLogger(discardLogger()),
	}
	return NewEngine(append(base, opts...)...)
}

// TestEngineInitialize tests engine start-up.
func TestEngineInitialize(t *testing.T) {
	t.Parallel()

	t.Run("launches browser", func(t *testing.T) {
		t.Parallel()

		l := &fakeLauncher{newBrowser: func() *fakeBrowser { return &fakeBrowser{t: t} }}
		e := newTestEngine(t, l,
			WithEnvironment(Environment{Isolated: true, Constrained: true}),
			WithBrowserBin("/opt/chromium/chrome"),
			WithProxy("socks5://127.0.0.1:9050"),
		)

		ok, notice := e.Initialize(context.Background())
		if !ok || notice != "" {
			t.Fatalf("expected successful initialization, got %v %q", ok, notice)
		}
		if e.State() != StateReady {
			t.Errorf("expected ready, got %v", e.State())
		}
		if !l.lastOpts.NoSandbox {
			t.Error("expected sandbox to be disabled in isolated environment")
		}
		if l.lastOpts.Bin != "/opt/chromium/chrome" || l.lastOpts.Proxy != "socks5://127.0.0.1:9050" {
			t.Errorf("unexpected launch options %+v", l.lastOpts)
		}
		if e.threshold != constrainedRecycleThreshold {
			t.Errorf("expected constrained threshold, got %d", e.threshold)
		}

		ok, _ = e.Initialize(context.Background())
		if !ok || l.count() != 1 {
			t.Errorf("expected second initialize to be a no-op, got %v with %d launches", ok, l.count())
		}
	})

	t.Run("low memory disables", func(t *testing.T) {
		t.Parallel()

		l := &fakeLauncher{newBrowser: func() *fakeBrowser { return &fakeBrowser{t: t} }}
		e := newTestEngine(t, l, WithMemoryProbe(func() (MemInfo, error) {
			return MemInfo{Total: 1 << 30, Available: 100 << 20}, nil
		}))

		ok, notice := e.Initialize(context.Background())
		if ok {
			t.Fatal("expected initialization to fail")
		}
		if !strings.Contains(notice, "memory") {
			t.Errorf("expected memory notice, got %q", notice)
		}
		if e.State() != StateDisabled {
			t.Errorf("expected disabled, got %v", e.State())
		}
		if l.count() != 0 {
			t.Error("expected no launch")
		}

		res, err := e.Render(context.Background(), Request{URL: "https://example.com/"})
		if res != nil || err != nil {
			t.Errorf("expected no result, got %v %v", res, err)
		}
	})

	t.Run("launch failure disables", func(t *testing.T) {
		t.Parallel()

		l := &fakeLauncher{err: errors.New("chromium not found")}
		e := newTestEngine(t, l)

		ok, notice := e.Initialize(context.Background())
		if ok || !strings.Contains(notice, "chromium not found") {
			t.Errorf("expected failure notice, got %v %q", ok, notice)
		}
		if e.Notice() != notice {
			t.Errorf("expected stored notice %q, got %q", notice, e.Notice())
		}

		ok, again := e.Initialize(context.Background())
		if ok || again != notice {
			t.Error("expected disabled state to be absorbing")
		}
	})

	t.Run("probe failure is ignored", func(t *testing.T) {
		t.Parallel()

		l := &fakeLauncher{newBrowser: func() *fakeBrowser { return &fakeBrowser{t: t} }}
		e := newTestEngine(t, l, WithMemoryProbe(func() (MemInfo, error) {
			return MemInfo{}, errNoMeminfo
		}))

		if ok, _ := e.Initialize(context.Background()); !ok {
			t.Error("expected initialization to succeed without memory information")
		}
	})
}

// TestEngineRender tests rendering and fallback decisions.
func TestEngineRender(t *testing.T) {
	t.Parallel()

	t.Run("uninitialized yields no result", func(t *testing.T) {
		t.Parallel()

		l := &fakeLauncher{newBrowser: func() *fakeBrowser { return &fakeBrowser{t: t} }}
		e := newTestEngine(t, l)

		res, err := e.Render(context.Background(), Request{URL: "https://example.com/"})
		if res != nil || err != nil {
			t.Errorf("expected no result, got %v %v", res, err)
		}
	})

	t.Run("marks result dynamic", func(t *testing.T) {
		t.Parallel()

		l := &fakeLauncher{newBrowser: func() *fakeBrowser { return &fakeBrowser{t: t} }}
		e := newTestEngine(t, l)
		e.Initialize(context.Background())

		res, err := e.Render(context.Background(), Request{URL: "https://example.com/"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res == nil || !res.IsDynamic {
			t.Fatalf("expected dynamic result, got %+v", res)
		}
		if e.State() != StateReady {
			t.Errorf("expected ready after render, got %v", e.State())
		}
		if e.PagesSinceLaunch() != 1 {
			t.Errorf("expected 1 page, got %d", e.PagesSinceLaunch())
		}
	})

	t.Run("recoverable error falls back and relaunches", func(t *testing.T) {
		t.Parallel()

		var calls atomic.Int32
		l := &fakeLauncher{newBrowser: func() *fakeBrowser {
			return &fakeBrowser{t: t, renderFn: func(Request) (*model.FetchResult, error) {
				if calls.Add(1) == 1 {
					return nil, errors.New("cdp: target closed")
				}
				return &model.FetchResult{StatusCode: 200}, nil
			}}
		}}
		e := newTestEngine(t, l)
		e.Initialize(context.Background())

		res, err := e.Render(context.Background(), Request{URL: "https://example.com/"})
		if res != nil || err != nil {
			t.Fatalf("expected no result, got %v %v", res, err)
		}

		res, err = e.Render(context.Background(), Request{URL: "https://example.com/"})
		if err != nil || res == nil {
			t.Fatalf("expected result after relaunch, got %v %v", res, err)
		}
		if l.count() != 2 {
			t.Errorf("expected broken browser to be relaunched, got %d launches", l.count())
		}
	})

	t.Run("other errors propagate", func(t *testing.T) {
		t.Parallel()

		l := &fakeLauncher{newBrowser: func() *fakeBrowser {
			return &fakeBrowser{t: t, renderFn: func(Request) (*model.FetchResult, error) {
				return nil, errors.New("net::ERR_NAME_NOT_RESOLVED")
			}}
		}}
		e := newTestEngine(t, l)
		e.Initialize(context.Background())

		_, err := e.Render(context.Background(), Request{URL: "https://example.com/"})
		if err == nil || !strings.Contains(err.Error(), "ERR_NAME_NOT_RESOLVED") {
			t.Errorf("expected propagated error, got %v", err)
		}
	})

	t.Run("recycles after threshold", func(t *testing.T) {
		t.Parallel()

		l := &fakeLauncher{newBrowser: func() *fakeBrowser {
			return &fakeBrowser{t: t, closeErr: errors.New("already gone")}
		}}
		e := newTestEngine(t, l, WithRecycleThreshold(2))
		e.Initialize(context.Background())

		for range 5 {
			if _, err := e.Render(context.Background(), Request{URL: "https://example.com/"}); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		}

		if l.count() != 3 {
			t.Errorf("expected 3 launches, got %d", l.count())
		}
		if !l.browsers[0].closed.Load() || !l.browsers[1].closed.Load() {
			t.Error("expected recycled browsers to be closed")
		}
	})

	t.Run("recycle waits for in-flight renders", func(t *testing.T) {
		t.Parallel()

		started := make(chan struct{})
		release := make(chan struct{})
		l := &fakeLauncher{newBrowser: func() *fakeBrowser {
			return &fakeBrowser{t: t, renderFn: func(req Request) (*model.FetchResult, error) {
				if strings.HasSuffix(req.URL, "/slow") {
					close(started)
					<-release
				}
				return &model.FetchResult{StatusCode: 200}, nil
			}}
		}}
		e := newTestEngine(t, l, WithRecycleThreshold(2))
		e.Initialize(context.Background())

		if _, err := e.Render(context.Background(), Request{URL: "https://example.com/1"}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		slowDone := make(chan struct{})
		go func() {
			defer close(slowDone)
			if _, err := e.Render(context.Background(), Request{URL: "https://example.com/slow"}); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
		<-started

		// Reaches the threshold while the slow render is still running.
		if _, err := e.Render(context.Background(), Request{URL: "https://example.com/2"}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		recycled := make(chan struct{})
		go func() {
			defer close(recycled)
			if _, err := e.Render(context.Background(), Request{URL: "https://example.com/3"}); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()

		select {
		case <-recycled:
			t.Fatal("recycle must wait for the in-flight render")
		case <-time.After(50 * time.Millisecond):
		}
		if l.count() != 1 {
			t.Fatalf("expected no relaunch while a render is in flight, got %d launches", l.count())
		}

		close(release)
		<-slowDone
		select {
		case <-recycled:
		case <-time.After(2 * time.Second):
			t.Fatal("render after the recycle did not finish")
		}

		if l.count() != 2 {
			t.Errorf("expected one recycle, got %d launches", l.count())
		}
		if !l.browsers[0].closed.Load() {
			t.Error("expected the first browser to be closed")
		}
	})

	t.Run("relaunch failure disables", func(t *testing.T) {
		t.Parallel()

		l := &fakeLauncher{newBrowser: func() *fakeBrowser { return &fakeBrowser{t: t} }}
		e := newTestEngine(t, l, WithRecycleThreshold(1))
		e.Initialize(context.Background())
		if _, err := e.Render(context.Background(), Request{URL: "https://example.com/"}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		l.mu.Lock()
		l.err = errors.New("out of memory")
		l.mu.Unlock()

		res, err := e.Render(context.Background(), Request{URL: "https://example.com/"})
		if res != nil || err != nil {
			t.Errorf("expected no result, got %v %v", res, err)
		}
		if e.State() != StateDisabled {
			t.Errorf("expected disabled, got %v", e.State())
		}
	})
}

// TestEngineClose tests shutdown.
func TestEngineClose(t *testing.T) {
	t.Parallel()

	l := &fakeLauncher{newBrowser: func() *fakeBrowser {
		return &fakeBrowser{t: t, closeErr: errors.New("browser already exited")}
	}}
	e := newTestEngine(t, l)
	e.Initialize(context.Background())

	e.Close()
	e.Close()

	if e.State() != StateClosed {
		t.Errorf("expected closed, got %v", e.State())
	}
	if !l.browsers[0].closed.Load() {
		t.Error("expected browser to be closed")
	}

	res, err := e.Render(context.Background(), Request{URL: "https://example.com/"})
	if res != nil || err != nil {
		t.Errorf("expected no result after close, got %v %v", res, err)
	}
}

// TestNavigationFor tests navigation strategy selection.
func TestNavigationFor(t *testing.T) {
	t.Parallel()

	nav := NavigationFor(config.SiteConfig{})
	if nav.WaitNetworkIdle || nav.Timeout != DOMReadyTimeout || nav.Settle != SettleDelay {
		t.Errorf("unexpected default navigation: %+v", nav)
	}

	nav = NavigationFor(config.SiteConfig{JSHeavy: true, WaitSelector: "#app"})
	if !nav.WaitNetworkIdle || nav.Timeout != NetworkIdleTimeout {
		t.Errorf("unexpected JS-heavy navigation: %+v", nav)
	}
	if nav.WaitSelector != "#app" || nav.SelectorTimeout != SelectorTimeout {
		t.Errorf("unexpected selector wait: %+v", nav)
	}
}

// TestIsRecoverable tests the transient error allow-list.
func TestIsRecoverable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("{-32000 Session closed.}"), true},
		{errors.New("Target closed"), true},
		{errors.New("frame was detached"), true},
		{errors.New("Execution context was destroyed, most likely because of a navigation"), true},
		{context.DeadlineExceeded, true},
		{errors.New("navigation timeout"), true},
		{errors.New("net::ERR_CONNECTION_REFUSED"), false},
		{errors.New("eval: TypeError"), false},
	}

	for _, tt := range tests {
		if got := IsRecoverable(tt.err); got != tt.want {
			t.Errorf("IsRecoverable(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

// TestEnvironment tests deployment detection.
func TestEnvironment(t *testing.T) {
	t.Parallel()

	none := func(string) bool { return false }
	noEnv := func(string) string { return "" }

	tests := []struct {
		name   string
		exists func(string) bool
		getenv func(string) string
		total  uint64
		want   Environment
	}{
		{"plain host", none, noEnv, 16 << 30, Environment{}},
		{"docker", func(p string) bool { return p == "/.dockerenv" }, noEnv, 16 << 30, Environment{Isolated: true, Constrained: true}},
		{"kubernetes", none, func(k string) string {
			if k == "KUBERNETES_SERVICE_HOST" {
				return "10.0.0.1"
			}
			return ""
		}, 16 << 30, Environment{Isolated: true, Constrained: true}},
		{"small host", none, noEnv, 1 << 30, Environment{Constrained: true}},
		{"unknown memory", none, noEnv, 0, Environment{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := detectEnvironment(tt.exists, tt.getenv, tt.total); got != tt.want {
				t.Errorf("expected %+v, got %+v", tt.want, got)
			}
		})
	}

	if (Environment{}).RecycleThreshold() != recycleThreshold {
		t.Error("unexpected default threshold")
	}
}

// TestReadMeminfo tests reading meminfo from a proc mount.
func TestReadMeminfo(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		want    MemInfo
		wantErr bool
	}{
		{
			name:    "total and available",
			content: "MemTotal:       16314720 kB\nMemFree:         1234 kB\nMemAvailable:    8157360 kB\n",
			want:    MemInfo{Total: 16314720 * 1024, Available: 8157360 * 1024},
		},
		{
			name:    "missing available",
			content: "MemTotal: 1 kB\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			dir := t.TempDir()
			if err := os.WriteFile(filepath.Join(dir, "meminfo"), []byte(tt.content), 0600); err != nil {
				t.Fatalf("write meminfo: %v", err)
			}

			info, err := readMeminfo(dir)
			if tt.wantErr {
				if !errors.Is(err, errNoMeminfo) {
					t.Errorf("expected errNoMeminfo, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if info != tt.want {
				t.Errorf("expected %+v, got %+v", tt.want, info)
			}
		})
	}

	t.Run("missing mount point", func(t *testing.T) {
		t.Parallel()

		if _, err := readMeminfo(filepath.Join(t.TempDir(), "nope")); !errors.Is(err, errNoMeminfo) {
			t.Errorf("expected errNoMeminfo, got %v", err)
		}
	})
}

// TestCookieParams tests cookie conversion for the browser.
func TestCookieParams(t *testing.T) {
	t.Parallel()

	req := Request{
		URL:     "https://www.youtube.com/watch",
		Site:    config.SiteConfig{Cookie: "a=1; b=2; broken"},
		Cookies: []config.Cookie{{Name: "CONSENT", Value: "YES+cb", Domain: ".youtube.com", Path: "/"}},
	}

	params := cookieParams(req)
	if len(params) != 3 {
		t.Fatalf("expected 3 cookies, got %d", len(params))
	}
	if params[0].Domain != ".youtube.com" || params[0].URL != "" {
		t.Errorf("unexpected table cookie: %+v", params[0])
	}
	if params[1].Name != "a" || params[1].Value != "1" || params[1].URL != req.URL {
		t.Errorf("unexpected header cookie: %+v", params[1])
	}

	headers := proto.NetworkHeaders{}
	if headerValue(headers, "Last-Modified") != "" {
		t.Error("expected empty header value")
	}
}
