package config

import (
	"net/url"
	"strings"
	"time"
)

// CrawlMethod selects what the content analysis extracts from each page.
type CrawlMethod string

// Crawl methods.
const (
	// MethodLinks extracts links and page metadata only.
	MethodLinks CrawlMethod = "links"
	// MethodContent adds the main text of each page.
	MethodContent CrawlMethod = "content"
	// MethodMedia adds images, video and audio references.
	MethodMedia CrawlMethod = "media"
	// MethodFull extracts everything.
	MethodFull CrawlMethod = "full"
)

// Valid reports whether m is one of the known crawl methods.
func (m CrawlMethod) Valid() bool {
	switch m {
	case MethodLinks, MethodContent, MethodMedia, MethodFull:
		return true
	default:
		return false
	}
}

// WantsContent reports whether text extraction is part of the method.
func (m CrawlMethod) WantsContent() bool {
	return m == MethodContent || m == MethodFull
}

// WantsMedia reports whether media extraction is part of the method.
func (m CrawlMethod) WantsMedia() bool {
	return m == MethodMedia || m == MethodFull
}

// Bounds applied by Normalize.
const (
	MinDepth              = 1
	MaxDepth              = 5
	MinPages              = 1
	MaxPages              = 10000
	MaxCrawlDelay         = 60 * time.Second
	MinConcurrentRequests = 1
	MaxConcurrentRequests = 10
	MaxRetryLimit         = 5
	MinRequestTimeout     = 1 * time.Second
	MaxRequestTimeout     = 120 * time.Second
	MinBodySize           = 1024
	MaxBodySize           = 50 * 1024 * 1024
)

// SessionOptions is the validated configuration of one crawl session.
// A value returned by Normalize is always within bounds; the session never
// sees caller input that has not been clamped.
type SessionOptions struct {
	// TargetURL is the seed URL.
	TargetURL string `json:"targetUrl"`

	// MaxDepth is the number of link hops followed from the seed.
	MaxDepth int `json:"maxDepth"`

	// MaxPages is the page budget. Once reached no new fetch is started.
	MaxPages int `json:"maxPages"`

	// CrawlDelay is the minimum delay between two requests to one host.
	CrawlDelay time.Duration `json:"crawlDelay"`

	// Method selects what the analyzer extracts.
	Method CrawlMethod `json:"method"`

	// MaxConcurrentRequests bounds in-flight pipeline invocations.
	MaxConcurrentRequests int `json:"maxConcurrentRequests"`

	// RetryLimit is how many times a failed fetch is rescheduled.
	RetryLimit int `json:"retryLimit"`

	// DynamicRender tries the headless browser before the static fetch.
	DynamicRender bool `json:"dynamicRender"`

	// RespectRobots checks robots.txt before following a link to another host.
	RespectRobots bool `json:"respectRobots"`

	// StrictRobots treats an unreachable or malformed robots.txt as a disallow.
	StrictRobots bool `json:"strictRobots"`

	// DuplicateFilter skips pages whose content was already seen under another URL.
	DuplicateFilter bool `json:"duplicateFilter"`

	// SaveMedia persists media references found on each page.
	SaveMedia bool `json:"saveMedia"`

	// MetadataOnly stores page metadata without the page content.
	MetadataOnly bool `json:"metadataOnly"`

	// UserAgent is sent with every request.
	UserAgent string `json:"userAgent"`

	// RequestTimeout bounds a single static fetch.
	RequestTimeout time.Duration `json:"requestTimeout"`

	// MaxBodySize bounds the number of bytes read from a response.
	MaxBodySize int64 `json:"maxBodySize"`
}

// DefaultSessionOptions returns options with every field at its default.
func DefaultSessionOptions() SessionOptions {
	return SessionOptions{
		MaxDepth:              DefaultMaxDepth,
		MaxPages:              DefaultMaxPages,
		CrawlDelay:            DefaultCrawlDelay,
		Method:                MethodFull,
		MaxConcurrentRequests: DefaultMaxConcurrentRequests,
		RetryLimit:            DefaultRetryLimit,
		DynamicRender:         false,
		RespectRobots:         true,
		DuplicateFilter:       true,
		UserAgent:             DefaultUserAgent,
		RequestTimeout:        DefaultRequestTimeout,
		MaxBodySize:           DefaultMaxBodySize,
	}
}

// Normalize returns a copy of o with every field clamped to its bounds.
// The only error is an unusable target URL.
func (o SessionOptions) Normalize() (SessionOptions, error) {
	target, err := NormalizeTarget(o.TargetURL)
	if err != nil {
		return SessionOptions{}, err
	}
	o.TargetURL = target

	o.MaxDepth = clampInt(o.MaxDepth, MinDepth, MaxDepth)
	o.MaxPages = clampInt(o.MaxPages, MinPages, MaxPages)
	o.MaxConcurrentRequests = clampInt(o.MaxConcurrentRequests, MinConcurrentRequests, MaxConcurrentRequests)
	o.RetryLimit = clampInt(o.RetryLimit, 0, MaxRetryLimit)

	if o.CrawlDelay < 0 {
		o.CrawlDelay = 0
	}
	if o.CrawlDelay > MaxCrawlDelay {
		o.CrawlDelay = MaxCrawlDelay
	}

	if o.RequestTimeout == 0 {
		o.RequestTimeout = DefaultRequestTimeout
	}
	if o.RequestTimeout < MinRequestTimeout {
		o.RequestTimeout = MinRequestTimeout
	}
	if o.RequestTimeout > MaxRequestTimeout {
		o.RequestTimeout = MaxRequestTimeout
	}

	if o.MaxBodySize == 0 {
		o.MaxBodySize = DefaultMaxBodySize
	}
	if o.MaxBodySize < MinBodySize {
		o.MaxBodySize = MinBodySize
	}
	if o.MaxBodySize > MaxBodySize {
		o.MaxBodySize = MaxBodySize
	}

	o.Method = CrawlMethod(strings.ToLower(string(o.Method)))
	if !o.Method.Valid() {
		o.Method = MethodFull
	}

	o.UserAgent = strings.TrimSpace(o.UserAgent)
	if o.UserAgent == "" {
		o.UserAgent = DefaultUserAgent
	}

	// Strict mode only has a meaning when robots.txt is honoured.
	if !o.RespectRobots {
		o.StrictRobots = false
	}

	return o, nil
}

// TargetHost returns the lower-cased host of the normalized target URL.
func (o SessionOptions) TargetHost() string {
	u, err := url.Parse(o.TargetURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// NormalizeTarget validates a seed URL and returns its canonical form.
// A missing scheme defaults to https.
func NormalizeTarget(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrNoTarget
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", ErrInvalidTarget
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", ErrInvalidTarget
	}
	if u.Hostname() == "" {
		return "", ErrInvalidTarget
	}
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String(), nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
