package config

import (
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
)

// Default configuration values.
const (
	// AppName is the application name used for XDG directory paths.
	AppName = "politecrawl"

	// DefaultMaxDepth keeps a default crawl to the seed page and two levels of links.
	DefaultMaxDepth = 2

	// DefaultMaxPages caps the number of successfully fetched pages per session.
	DefaultMaxPages = 100

	// DefaultCrawlDelay is the minimum gap between two requests to the same host.
	// Hosts that publish a larger robots.txt Crawl-delay get the larger value.
	DefaultCrawlDelay = 1 * time.Second

	// DefaultMaxConcurrentRequests is the number of pages processed at once.
	DefaultMaxConcurrentRequests = 3

	// DefaultRetryLimit is how many times a failed fetch is rescheduled.
	DefaultRetryLimit = 3

	// DefaultRequestTimeout bounds a single static HTTP fetch.
	DefaultRequestTimeout = 30 * time.Second

	// DefaultMaxBodySize limits the response body read by the static fetcher.
	DefaultMaxBodySize = 10 * 1024 * 1024 // 10MB

	// DefaultUserAgent identifies the crawler in HTTP requests and robots.txt lookups.
	DefaultUserAgent = "politecrawl/1.0 (+https://github.com/nao1215/politecrawl)"

	// DefaultRobotsAgent is the product token matched against robots.txt groups.
	DefaultRobotsAgent = "politecrawl"
)

// Config holds the command line configuration for a crawl.
// It embeds the session options and adds everything that only matters to
// the CLI: where reports go, where the database lives, and which optional
// sinks are enabled.
type Config struct {
	// Session holds the options handed to the crawl session.
	Session SessionOptions

	// Verbose enables debug level logging.
	Verbose bool

	// ConfigFilePath is the path to the site profile file.
	// If empty, .politecrawl is searched in the current and home directories.
	ConfigFilePath string

	// Profile holds the site profile loaded from ConfigFilePath.
	Profile *File

	// JSONReport selects the JSON report format. Mutually exclusive with MarkdownReport.
	JSONReport bool

	// MarkdownReport selects the Markdown report format. Mutually exclusive with JSONReport.
	MarkdownReport bool

	// ReportFile is the output file path for the final report.
	// When empty, the report is written to stdout.
	ReportFile string

	// DBDir is the directory holding the SQLite database.
	// Defaults to the XDG data directory.
	DBDir string

	// SaveToDB disables persistence when false. Pages are then kept in memory only.
	SaveToDB bool

	// EventsFile receives the progress stream as JSON lines when set.
	// "-" means stdout.
	EventsFile string

	// MetricsAddr exposes Prometheus metrics on this address when set.
	MetricsAddr string

	// BrowserBin overrides the Chromium binary used for dynamic rendering.
	BrowserBin string

	// Proxy routes static fetches, robots.txt lookups and the headless
	// browser through a SOCKS5 or HTTP proxy when set.
	Proxy string
}

// NewConfig creates a new Config with default values.
func NewConfig() *Config {
	return &Config{
		Session:  DefaultSessionOptions(),
		SaveToDB: true,
		DBDir:    XDGDataDir(),
	}
}

// XDGDataDir returns the XDG data directory for politecrawl.
// On Linux: ~/.local/share/politecrawl
func XDGDataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// XDGConfigDir returns the XDG config directory for politecrawl.
func XDGConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// XDGCacheDir returns the XDG cache directory for politecrawl.
func XDGCacheDir() string {
	return filepath.Join(xdg.CacheHome, AppName)
}

// Validate checks the raw CLI values before they are clamped into a session.
// Out-of-range numbers are clamped later; only values that cannot be given
// any sensible meaning are rejected here.
func (c *Config) Validate() error {
	if c.Session.TargetURL == "" {
		return ErrNoTarget
	}
	if c.Session.MaxDepth < 0 {
		return ErrInvalidDepth
	}
	if c.Session.MaxPages < 0 {
		return ErrInvalidMaxPages
	}
	if c.Session.CrawlDelay < 0 {
		return ErrInvalidCrawlDelay
	}
	if c.Session.MaxBodySize < 0 {
		return ErrInvalidMaxBodySize
	}
	if c.Session.RequestTimeout < 0 {
		return ErrInvalidTimeout
	}
	if !c.Session.Method.Valid() && c.Session.Method != "" {
		return ErrInvalidMethod
	}
	if c.JSONReport && c.MarkdownReport {
		return ErrConflictingReportFormats
	}
	if c.SaveToDB && c.DBDir == "" {
		return ErrNoDBDir
	}
	return nil
}
