package config

import "errors"

// Configuration validation errors.
// These are returned by Config.Validate and SessionOptions.Normalize so that
// callers can branch with errors.Is.
var (
	// ErrNoTarget is returned when no seed URL is specified.
	ErrNoTarget = errors.New("no target specified: provide a seed URL")

	// ErrInvalidTarget is returned when the seed URL cannot be parsed,
	// has no host, or uses a scheme other than http or https.
	ErrInvalidTarget = errors.New("invalid target: must be an http or https URL with a host")

	// ErrInvalidDepth is returned when the crawl depth is negative.
	ErrInvalidDepth = errors.New("invalid depth: must be non-negative")

	// ErrInvalidMaxPages is returned when the page budget is negative.
	ErrInvalidMaxPages = errors.New("invalid max pages: must be non-negative")

	// ErrInvalidTimeout is returned when the request timeout is negative.
	ErrInvalidTimeout = errors.New("invalid timeout: must be non-negative")

	// ErrInvalidCrawlDelay is returned when the crawl delay is negative.
	ErrInvalidCrawlDelay = errors.New("invalid crawl delay: must be non-negative")

	// ErrInvalidMaxBodySize is returned when the max body size is negative.
	ErrInvalidMaxBodySize = errors.New("invalid max body size: must be non-negative")

	// ErrInvalidMethod is returned for a crawl method outside links, content, media and full.
	ErrInvalidMethod = errors.New("invalid crawl method: must be one of links, content, media, full")

	// ErrConflictingReportFormats is returned when both --json and --markdown are set.
	ErrConflictingReportFormats = errors.New("conflicting report formats: --json and --markdown cannot be used together")

	// ErrNoDBDir is returned when persistence is enabled without a database directory.
	ErrNoDBDir = errors.New("no database directory: set --db-dir or use --no-db")
)
