package render

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/nao1215/politecrawl/internal/config"
	"github.com/nao1215/politecrawl/internal/model"
)

// extractScript returns HTML, title and description in one round trip,
// which keeps the window for a detached-frame race small.
const extractScript = `() => {
	const meta = document.querySelector('meta[name="description"]') ||
		document.querySelector('meta[property="og:description"]');
	return {
		html: document.documentElement ? document.documentElement.outerHTML : '',
		title: document.title || '',
		description: meta ? (meta.getAttribute('content') || '') : '',
	};
}`

const (
	viewportWidth  = 1366
	viewportHeight = 768
)

// rodBrowser is a Browser backed by a Chromium process controlled through rod.
type rodBrowser struct {
	browser  *rod.Browser
	launcher *launcher.Launcher
	logger   *slog.Logger
}

// RodLauncher returns a Launcher that starts headless Chromium with a
// hardened flag set.
func RodLauncher(logger *slog.Logger) Launcher {
	return func(_ context.Context, opts LaunchOptions) (Browser, error) {
		l := launcher.New().
			Headless(true).
			Set("disable-gpu").
			Set("disable-extensions").
			Set("disable-background-networking").
			Set("disable-dev-shm-usage").
			Set("disable-default-apps").
			Set("mute-audio").
			NoSandbox(opts.NoSandbox)
		if opts.Bin != "" {
			l = l.Bin(opts.Bin)
		}
		if opts.Proxy != "" {
			l = l.Proxy(opts.Proxy)
		}

		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("launch headless browser: %w", err)
		}

		browser := rod.New().ControlURL(u)
		if err := browser.Connect(); err != nil {
			l.Kill()
			return nil, fmt.Errorf("connect to headless browser: %w", err)
		}

		return &rodBrowser{browser: browser, launcher: l, logger: logger}, nil
	}
}

// Render implements Browser.
func (b *rodBrowser) Render(ctx context.Context, req Request, nav Navigation) (*model.FetchResult, error) {
	pageCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	page, err := stealth.Page(b.browser)
	if err != nil {
		return nil, fmt.Errorf("create tab: %w", err)
	}
	defer func() {
		if err := page.Close(); err != nil {
			b.logger.Debug("failed to close tab", "error", err)
		}
	}()
	page = page.Context(pageCtx)

	if err := b.prepare(page, req); err != nil {
		return nil, err
	}

	if err := (proto.NetworkEnable{}).Call(page); err != nil {
		return nil, fmt.Errorf("enable network events: %w", err)
	}

	var (
		mu       sync.Mutex
		document *proto.NetworkResponse
	)
	wait := page.EachEvent(
		func(_ *proto.PageJavascriptDialogOpening) {
			go func() {
				_ = proto.PageHandleJavaScriptDialog{Accept: false}.Call(page) //nolint:errcheck
			}()
		},
		func(e *proto.NetworkResponseReceived) {
			if e.Type != proto.NetworkResourceTypeDocument || e.FrameID != page.FrameID {
				return
			}
			mu.Lock()
			document = e.Response
			mu.Unlock()
		},
	)
	go wait()

	event := proto.PageLifecycleEventNameDOMContentLoaded
	if nav.WaitNetworkIdle {
		event = proto.PageLifecycleEventNameNetworkIdle
	}
	navPage := page.Timeout(nav.Timeout)
	waitNavigation := navPage.WaitNavigation(event)
	if err := navPage.Navigate(req.URL); err != nil {
		return nil, fmt.Errorf("navigate to %s: %w", req.URL, err)
	}
	waitNavigation()

	if nav.WaitSelector != "" {
		if _, err := page.Timeout(nav.SelectorTimeout).Element(nav.WaitSelector); err != nil {
			b.logger.Debug("wait selector not found", "url", req.URL, "selector", nav.WaitSelector, "error", err)
		}
	}

	if nav.Settle > 0 {
		select {
		case <-pageCtx.Done():
			return nil, pageCtx.Err()
		case <-time.After(nav.Settle):
		}
	}

	obj, err := page.Eval(extractScript)
	if err != nil {
		return nil, fmt.Errorf("extract content of %s: %w", req.URL, err)
	}

	content := obj.Value.Get("html").Str()
	result := &model.FetchResult{
		Content:       content,
		StatusCode:    200,
		ContentType:   "text/html",
		ContentLength: int64(len(content)),
		Title:         strings.TrimSpace(obj.Value.Get("title").Str()),
		Description:   strings.TrimSpace(obj.Value.Get("description").Str()),
	}

	mu.Lock()
	if document != nil {
		result.StatusCode = document.Status
		if document.MIMEType != "" {
			result.ContentType = document.MIMEType
		}
		result.LastModified = headerValue(document.Headers, "Last-Modified")
		if document.URL != "" && document.URL != req.URL {
			result.FinalURL = document.URL
		}
	}
	mu.Unlock()

	return result, nil
}

// prepare applies the browser profile, headers and cookies to page.
func (b *rodBrowser) prepare(page *rod.Page, req Request) error {
	if req.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
			UserAgent:      req.UserAgent,
			AcceptLanguage: "en-US,en;q=0.9",
		}); err != nil {
			return fmt.Errorf("set user agent: %w", err)
		}
	}

	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             viewportWidth,
		Height:            viewportHeight,
		DeviceScaleFactor: 1,
	}); err != nil {
		return fmt.Errorf("set viewport: %w", err)
	}

	if len(req.Site.Headers) > 0 {
		kv := make([]string, 0, 2*len(req.Site.Headers))
		for k, v := range req.Site.Headers {
			kv = append(kv, k, v)
		}
		if _, err := page.SetExtraHeaders(kv); err != nil {
			return fmt.Errorf("set extra headers: %w", err)
		}
	}

	cookies := cookieParams(req)
	if len(cookies) > 0 {
		if err := page.SetCookies(cookies); err != nil {
			return fmt.Errorf("set cookies: %w", err)
		}
	}
	return nil
}

// Close implements Browser.
func (b *rodBrowser) Close() error {
	err := b.browser.Close()
	b.launcher.Kill()
	b.launcher.Cleanup()
	return err
}

// cookieParams converts the profile cookies of req to CDP cookie parameters.
// The site cookie header is split into individual cookies scoped to the URL.
func cookieParams(req Request) []*proto.NetworkCookieParam {
	params := make([]*proto.NetworkCookieParam, 0, len(req.Cookies))
	for _, c := range req.Cookies {
		params = append(params, cookieParam(req.URL, c))
	}
	for _, part := range strings.Split(req.Site.Cookie, ";") {
		name, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || name == "" {
			continue
		}
		params = append(params, cookieParam(req.URL, config.Cookie{Name: name, Value: value}))
	}
	return params
}

func cookieParam(pageURL string, c config.Cookie) *proto.NetworkCookieParam {
	p := &proto.NetworkCookieParam{
		Name:   c.Name,
		Value:  c.Value,
		Domain: c.Domain,
		Path:   c.Path,
	}
	if c.Domain == "" {
		p.URL = pageURL
	}
	return p
}

// headerValue looks a response header up case-insensitively.
func headerValue(headers proto.NetworkHeaders, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v.Str()
		}
	}
	return ""
}
