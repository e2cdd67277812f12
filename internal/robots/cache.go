// Package robots resolves and caches robots.txt policies per domain.
//
// A lookup goes through an in-memory expiring LRU, then persistent storage,
// then the network. Concurrent lookups of the same domain share one fetch.
// A failed lookup never blocks the crawl: it yields permissive rules, or
// rules that allow nothing in strict mode.
package robots

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/nao1215/politecrawl/internal/config"
)

// Defaults for a Cache.
const (
	DefaultCacheSize = 1024
	DefaultTTL       = 24 * time.Hour
	DefaultTimeout   = 5 * time.Second
	MaxBodySize      = 512 * 1024
)

// ErrUnavailable is returned when robots.txt could not be fetched or parsed.
var ErrUnavailable = errors.New("robots.txt unavailable")

// Store persists robots.txt bodies so a warm cache survives restarts.
type Store interface {
	// GetRobotsRecord returns the stored body for domain. found is false
	// when nothing is stored.
	GetRobotsRecord(ctx context.Context, domain string) (body string, found bool, err error)

	// PutRobotsRecord stores the body for domain.
	PutRobotsRecord(ctx context.Context, domain, body string) error
}

// Cache resolves robots.txt rules per domain.
type Cache struct {
	client    *http.Client
	store     Store
	userAgent string
	strict    bool
	timeout   time.Duration
	scheme    string
	logger    *slog.Logger

	size int
	ttl  time.Duration

	lru   *expirable.LRU[string, *Rules]
	group singleflight.Group
}

// Option configures a Cache.
type Option func(*Cache)

// WithStore sets the persistent store.
func WithStore(s Store) Option {
	return func(c *Cache) {
		c.store = s
	}
}

// WithHTTPClient sets the HTTP client used to fetch robots.txt.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Cache) {
		c.client = client
	}
}

// WithUserAgent sets the User-Agent header of robots.txt requests.
func WithUserAgent(ua string) Option {
	return func(c *Cache) {
		c.userAgent = ua
	}
}

// WithStrict makes failed lookups yield rules that allow nothing.
func WithStrict(strict bool) Option {
	return func(c *Cache) {
		c.strict = strict
	}
}

// WithTimeout sets the robots.txt fetch timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Cache) {
		c.timeout = d
	}
}

// WithCacheSize sets the number of domains kept in memory.
func WithCacheSize(n int) Option {
	return func(c *Cache) {
		c.size = n
	}
}

// WithTTL sets how long an in-memory entry lives.
func WithTTL(d time.Duration) Option {
	return func(c *Cache) {
		c.ttl = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

// New creates a Cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		userAgent: config.DefaultUserAgent,
		timeout:   DefaultTimeout,
		scheme:    "http",
		size:      DefaultCacheSize,
		ttl:       DefaultTTL,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.client == nil {
		c.client = &http.Client{}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.size <= 0 {
		c.size = DefaultCacheSize
	}
	c.lru = expirable.NewLRU[string, *Rules](c.size, nil, c.ttl)

	return c
}

// Strict reports whether failed lookups disallow everything.
func (c *Cache) Strict() bool {
	return c.strict
}

// Get returns the rules for domain. domain is a host name, optionally
// with a port. Get never fails; see the package documentation.
func (c *Cache) Get(ctx context.Context, domain string) *Rules {
	if rules, ok := c.lru.Get(domain); ok {
		return rules
	}

	v, _, _ := c.group.Do(domain, func() (any, error) { //nolint:errcheck // the loader never fails
		if rules, ok := c.lru.Get(domain); ok {
			return rules, nil
		}
		rules := c.load(ctx, domain)
		c.lru.Add(domain, rules)
		return rules, nil
	})
	return v.(*Rules) //nolint:forcetypeassert
}

// Len returns the number of domains held in memory.
func (c *Cache) Len() int {
	return c.lru.Len()
}

// load resolves domain from storage, then the network.
func (c *Cache) load(ctx context.Context, domain string) *Rules {
	if c.store != nil {
		body, found, err := c.store.GetRobotsRecord(ctx, domain)
		switch {
		case err != nil:
			c.logger.Warn("failed to read stored robots.txt", "domain", domain, "error", err)
		case found:
			if rules, err := Parse(domain, []byte(body)); err == nil {
				return rules
			}
		}
	}

	body, err := c.fetch(ctx, domain)
	if err != nil {
		c.logger.Debug("robots.txt lookup failed", "domain", domain, "strict", c.strict, "error", err)
		return c.fallback(domain)
	}

	rules, err := Parse(domain, body)
	if err != nil {
		c.logger.Debug("robots.txt is malformed", "domain", domain, "error", err)
		return c.fallback(domain)
	}

	if c.store != nil {
		if err := c.store.PutRobotsRecord(ctx, domain, string(body)); err != nil {
			c.logger.Warn("failed to store robots.txt", "domain", domain, "error", err)
		}
	}
	return rules
}

func (c *Cache) fallback(domain string) *Rules {
	if c.strict {
		return Unknown(domain)
	}
	return Permissive(domain)
}

// fetch downloads robots.txt for domain. Only a 200 response counts.
// The fetch is detached from the caller's cancellation since its result is
// shared with every concurrent caller for the same domain.
func (c *Cache) fetch(ctx context.Context, domain string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	robotsURL := fmt.Sprintf("%s://%s/robots.txt", c.scheme, domain)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodySize))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return body, nil
}
