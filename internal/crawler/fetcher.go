package crawler

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"golang.org/x/net/html/charset"
	"golang.org/x/net/publicsuffix"

	"github.com/nao1215/politecrawl/internal/config"
	"github.com/nao1215/politecrawl/internal/model"
)

// Fetcher performs static HTTP fetches of single pages.
// A Fetcher is safe for concurrent use.
type Fetcher struct {
	// client performs the requests. Its cookie jar is shared by all fetches
	// of the session so consent and session cookies set by a site stick.
	client *http.Client

	// userAgent is the User-Agent header to use.
	userAgent string

	// maxBodySize limits the size of response bodies to read.
	maxBodySize int64

	// timeout bounds a single fetch including reading the body.
	timeout time.Duration

	logger *slog.Logger
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithHTTPClient sets the HTTP client. The client's own timeout, if any,
// applies in addition to the fetch timeout.
func WithHTTPClient(client *http.Client) FetcherOption {
	return func(f *Fetcher) {
		f.client = client
	}
}

// WithUserAgent sets a custom User-Agent header.
func WithUserAgent(ua string) FetcherOption {
	return func(f *Fetcher) {
		f.userAgent = ua
	}
}

// WithMaxBodySize sets the maximum response body size.
func WithMaxBodySize(size int64) FetcherOption {
	return func(f *Fetcher) {
		f.maxBodySize = size
	}
}

// WithTimeout sets the per-fetch timeout.
func WithTimeout(d time.Duration) FetcherOption {
	return func(f *Fetcher) {
		f.timeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) FetcherOption {
	return func(f *Fetcher) {
		f.logger = logger
	}
}

// NewFetcher creates a Fetcher. Without WithHTTPClient it builds a client
// with a cookie jar scoped by the public suffix list.
func NewFetcher(opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		userAgent:   config.DefaultUserAgent,
		maxBodySize: config.DefaultMaxBodySize,
		timeout:     config.DefaultRequestTimeout,
	}

	for _, opt := range opts {
		opt(f)
	}

	if f.client == nil {
		f.client = NewHTTPClient()
	}
	if f.logger == nil {
		f.logger = slog.Default()
	}

	return f
}

// NewHTTPClient returns an HTTP client with a public-suffix aware cookie jar.
func NewHTTPClient() *http.Client {
	client := &http.Client{}
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err == nil {
		client.Jar = jar
	}
	return client
}

// Client returns the underlying HTTP client.
func (f *Fetcher) Client() *http.Client {
	return f.client
}

// Fetch performs a GET of rawURL with the headers and cookie of site.
//
// The body is read up to the size limit and decoded to UTF-8 using the
// declared or sniffed charset. A non-2xx status yields a *StatusError.
// Missing title and description are filled from the HTML.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, site config.SiteConfig) (*model.FetchResult, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")
	if site.Cookie != "" {
		req.Header.Set("Cookie", site.Cookie)
	}
	for k, v := range site.Headers {
		req.Header.Set(k, v)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if !IsSuccess(resp.StatusCode) {
		// Drain a little so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096)) //nolint:errcheck
		return nil, &StatusError{URL: rawURL, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read body of %s: %w", rawURL, err)
	}

	contentType := resp.Header.Get("Content-Type")
	result := &model.FetchResult{
		Content:       decodeBody(body, contentType),
		StatusCode:    resp.StatusCode,
		ContentType:   contentType,
		ContentLength: int64(len(body)),
		LastModified:  resp.Header.Get("Last-Modified"),
	}
	if resp.Request != nil && resp.Request.URL != nil {
		if final := resp.Request.URL.String(); final != rawURL {
			result.FinalURL = final
		}
	}

	if result.IsHTML() {
		BackfillMeta(result)
	}

	f.logger.Debug("fetched page",
		"url", rawURL,
		"status", resp.StatusCode,
		"bytes", result.ContentLength,
	)

	return result, nil
}

// decodeBody converts body to UTF-8. Non-text bodies and bodies whose
// charset cannot be determined are returned as-is.
func decodeBody(body []byte, contentType string) string {
	if len(body) == 0 {
		return ""
	}
	if !model.IsHTMLContentType(contentType) && !strings.HasPrefix(strings.ToLower(contentType), "text/") {
		return string(body)
	}
	r, err := charset.NewReader(bytes.NewReader(body), contentType)
	if err != nil {
		return string(body)
	}
	decoded, err := io.ReadAll(r)
	if err != nil {
		return string(body)
	}
	return string(decoded)
}
