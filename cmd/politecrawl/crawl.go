package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nao1215/politecrawl/internal/config"
	"github.com/nao1215/politecrawl/internal/crawler"
	"github.com/nao1215/politecrawl/internal/database"
	"github.com/nao1215/politecrawl/internal/log"
	"github.com/nao1215/politecrawl/internal/model"
	"github.com/nao1215/politecrawl/internal/progress"
	"github.com/nao1215/politecrawl/internal/render"
	"github.com/nao1215/politecrawl/internal/report"
	"github.com/nao1215/politecrawl/internal/session"
)

const (
	// statsLogInterval throttles the periodic statistics log line.
	statsLogInterval = 10 * time.Second

	// metricsShutdownTimeout bounds the shutdown of the metrics server.
	metricsShutdownTimeout = 5 * time.Second

	// stdoutName selects stdout for --events.
	stdoutName = "-"
)

// NewCrawlCmd creates the crawl command.
func NewCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl <url>",
		Short: "Crawl a website from a seed URL",
		Long: `Crawl fetches the seed URL and follows its links breadth first.

Requests to one host are spaced by --delay, or by the host's robots.txt
Crawl-delay when that is larger. Failed fetches are retried with
exponential backoff. With --dynamic, pages are rendered in a headless
Chromium first and fall back to a static fetch when the browser is
unavailable or loses the page.

Pages, links, media and the final report are stored in a SQLite database
under the XDG data directory unless --no-db is given. Use
'politecrawl history' to list stored sessions.

Examples:
  # Crawl a site with the defaults (depth 2, 100 pages, 1s delay)
  politecrawl crawl https://example.com

  # Crawl deeper, only collecting links
  politecrawl crawl --depth 4 --method links https://example.com

  # Render JavaScript-heavy pages in a headless browser
  politecrawl crawl --dynamic https://example.com

  # Stream progress as JSON lines and expose Prometheus metrics
  politecrawl crawl --events - --metrics-addr :9090 https://example.com

  # Write a Markdown report to a file
  politecrawl crawl --markdown -o report.md https://example.com`,
		Args: cobra.ExactArgs(1),
		RunE: runCrawlCmd,
	}

	defaults := config.DefaultSessionOptions()

	// Crawl scope flags
	cmd.Flags().IntP("depth", "d", defaults.MaxDepth,
		fmt.Sprintf("Maximum link depth from the seed (%d-%d)", config.MinDepth, config.MaxDepth))
	cmd.Flags().IntP("max-pages", "p", defaults.MaxPages,
		fmt.Sprintf("Maximum number of pages to fetch (up to %d)", config.MaxPages))
	cmd.Flags().StringP("method", "M", string(defaults.Method),
		"What to extract from each page: links, content, media or full")

	// Politeness flags
	cmd.Flags().Duration("delay", defaults.CrawlDelay,
		"Minimum delay between two requests to the same host")
	cmd.Flags().IntP("concurrency", "n", defaults.MaxConcurrentRequests,
		"Number of pages processed at once")
	cmd.Flags().IntP("retries", "r", defaults.RetryLimit,
		"How many times a failed fetch is retried")
	cmd.Flags().Bool("respect-robots", defaults.RespectRobots,
		"Honour robots.txt when following links")
	cmd.Flags().Bool("strict-robots", defaults.StrictRobots,
		"Treat an unreachable robots.txt as disallowing everything")
	cmd.Flags().StringP("user-agent", "A", defaults.UserAgent,
		"User-Agent sent with every request")

	// Fetch flags
	cmd.Flags().DurationP("timeout", "t", defaults.RequestTimeout,
		"Timeout for each static request")
	cmd.Flags().Int64("max-body-size", defaults.MaxBodySize,
		"Maximum number of bytes read from a response")
	cmd.Flags().Bool("dynamic", defaults.DynamicRender,
		"Render pages in a headless browser before falling back to a static fetch")
	cmd.Flags().String("browser-bin", "",
		"Chromium binary used with --dynamic (default: downloaded automatically)")
	cmd.Flags().String("proxy", "",
		"Route all requests through a proxy (host:port for SOCKS5, or socks5://, http:// URL)")

	// Content flags
	cmd.Flags().Bool("duplicate-filter", defaults.DuplicateFilter,
		"Skip pages whose content was already seen under another URL")
	cmd.Flags().Bool("save-media", defaults.SaveMedia,
		"Store media references found on each page")
	cmd.Flags().Bool("metadata-only", defaults.MetadataOnly,
		"Store page metadata without the page content")

	// Configuration file
	cmd.Flags().StringP("config", "c", "",
		"Site profile path (default: .politecrawl in current or home directory)")

	// Storage flags
	cmd.Flags().String("db-dir", config.XDGDataDir(),
		"Directory holding the crawl database")
	cmd.Flags().Bool("no-db", false,
		"Do not persist pages or the session report")

	// Report flags
	cmd.Flags().BoolP("json", "j", false,
		"Output JSON report (mutually exclusive with --markdown)")
	cmd.Flags().BoolP("markdown", "m", false,
		"Output Markdown report (mutually exclusive with --json)")
	cmd.Flags().StringP("output", "o", "",
		"Write report to specified file path (creates directories if needed)")

	// Progress flags
	cmd.Flags().String("events", "",
		"Write progress events as JSON lines to this file (- for stdout)")
	cmd.Flags().String("metrics-addr", "",
		"Serve Prometheus metrics on this address (e.g. :9090)")

	return cmd
}

// runCrawlCmd executes the crawl command.
func runCrawlCmd(cmd *cobra.Command, args []string) error {
	v, err := newViper(cmd)
	if err != nil {
		return err
	}

	// Build config from flags and environment
	cfg, err := buildConfig(v, args)
	if err != nil {
		return err
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	// Set up structured logging
	logger := log.NewSecureLogger(cmd.ErrOrStderr(), cfg.Verbose)
	slog.SetDefault(logger)

	// Set up context with signal handling for graceful shutdown
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	// Handle interrupt signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			logger.Warn("received shutdown signal, stopping crawl...")
			cancel()
		case <-ctx.Done():
		}
	}()

	return runCrawl(ctx, cfg, logger, cmd.OutOrStdout(), cmd.ErrOrStderr())
}

// buildConfig creates a Config from flag and environment values.
func buildConfig(v *viper.Viper, args []string) (*config.Config, error) {
	cfg := config.NewConfig()

	if len(args) > 0 {
		cfg.Session.TargetURL = args[0]
	}

	cfg.Verbose = v.GetBool("verbose")

	cfg.Session.MaxDepth = v.GetInt("depth")
	cfg.Session.MaxPages = v.GetInt("max-pages")
	cfg.Session.Method = config.CrawlMethod(strings.ToLower(strings.TrimSpace(v.GetString("method"))))
	cfg.Session.CrawlDelay = v.GetDuration("delay")
	cfg.Session.MaxConcurrentRequests = v.GetInt("concurrency")
	cfg.Session.RetryLimit = v.GetInt("retries")
	cfg.Session.RespectRobots = v.GetBool("respect-robots")
	cfg.Session.StrictRobots = v.GetBool("strict-robots")
	cfg.Session.UserAgent = v.GetString("user-agent")
	cfg.Session.RequestTimeout = v.GetDuration("timeout")
	cfg.Session.MaxBodySize = v.GetInt64("max-body-size")
	cfg.Session.DynamicRender = v.GetBool("dynamic")
	cfg.Session.DuplicateFilter = v.GetBool("duplicate-filter")
	cfg.Session.SaveMedia = v.GetBool("save-media")
	cfg.Session.MetadataOnly = v.GetBool("metadata-only")

	cfg.BrowserBin = v.GetString("browser-bin")
	cfg.Proxy = v.GetString("proxy")
	cfg.DBDir = v.GetString("db-dir")
	cfg.SaveToDB = !v.GetBool("no-db")
	cfg.JSONReport = v.GetBool("json")
	cfg.MarkdownReport = v.GetBool("markdown")
	cfg.ReportFile = v.GetString("output")
	cfg.EventsFile = v.GetString("events")
	cfg.MetricsAddr = v.GetString("metrics-addr")
	cfg.ConfigFilePath = v.GetString("config")

	profile, err := loadProfile(cfg.ConfigFilePath)
	if err != nil {
		return nil, err
	}
	cfg.Profile = profile

	return cfg, nil
}

// loadProfile loads the site profile and merges it over the built-in one.
// If the user explicitly specified a path, a missing file is an error.
// If no path was specified and no file is found, the built-in profile is used.
func loadProfile(path string) (*config.File, error) {
	explicitConfigPath := path != ""
	configPath := config.FindConfigFile(path)

	if configPath == "" {
		if explicitConfigPath {
			return nil, fmt.Errorf("configuration file not found: %s", path)
		}
		return config.DefaultFile(), nil
	}

	loaded, err := config.LoadConfigFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
	}
	return config.DefaultFile().Merge(loaded), nil
}

// runCrawl executes the crawl and writes the report.
func runCrawl(ctx context.Context, cfg *config.Config, logger *slog.Logger, stdout, stderr io.Writer) error {
	logger.Info("starting crawl",
		"target", cfg.Session.TargetURL,
		"depth", cfg.Session.MaxDepth,
		"maxPages", cfg.Session.MaxPages,
		"dynamic", cfg.Session.DynamicRender,
		"saveToDB", cfg.SaveToDB,
	)

	sinks := []progress.Sink{progress.NewLogSink(logger, statsLogInterval)}

	if cfg.EventsFile != "" {
		w, closeEvents, err := openEventsFile(cfg.EventsFile, stdout)
		if err != nil {
			return err
		}
		defer closeEvents()
		sinks = append(sinks, progress.NewJSONLinesSink(w, logger))
	}

	if cfg.MetricsAddr != "" {
		metricsSink, shutdown, err := startMetricsServer(cfg.MetricsAddr, logger)
		if err != nil {
			return err
		}
		defer shutdown()
		sinks = append(sinks, metricsSink)
	}

	options := []session.Option{
		session.WithLogger(logger),
		session.WithProfile(cfg.Profile),
		session.WithSink(progress.Multi(sinks...)),
	}
	if cfg.BrowserBin != "" {
		options = append(options, session.WithRenderOptions(render.WithBrowserBin(cfg.BrowserBin)))
	}

	if cfg.Proxy != "" {
		proxyOptions, err := setupProxy(ctx, cfg.Proxy, logger)
		if err != nil {
			return err
		}
		options = append(options, proxyOptions...)
	}

	// Open database connection if saving is enabled
	if cfg.SaveToDB {
		db, err := database.Open(cfg.DBDir, database.DefaultOptions())
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer db.Close()
		logger.Info("database opened", "dir", cfg.DBDir)
		options = append(options, session.WithStore(db))
	}

	s, err := session.StartSession(ctx, cfg.Session, options...)
	if err != nil {
		return fmt.Errorf("failed to start crawl: %w", err)
	}

	fmt.Fprintf(stderr, "Crawling %s (session %s)...\n", s.Options().TargetURL, s.ID())

	if err := s.Wait(context.Background()); err != nil {
		return err
	}

	r := s.Report()
	fmt.Fprintf(stderr, "Crawl %s in %s\n\n", r.Status(), r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))

	if err := outputReport(cfg, r, stdout); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

// setupProxy verifies the proxy and returns the session options that route
// the static fetcher and the browser through it.
func setupProxy(ctx context.Context, raw string, logger *slog.Logger) ([]session.Option, error) {
	proxyURL, err := crawler.ParseProxy(raw)
	if err != nil {
		return nil, err
	}

	if status := crawler.CheckProxy(ctx, proxyURL); status != crawler.ProxyStatusOK {
		return nil, fmt.Errorf("proxy check failed: %s (make sure the proxy is running at %s): %w",
			status, proxyURL.Host, status.Err())
	}

	client, err := crawler.NewProxyHTTPClient(proxyURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create proxy client: %w", err)
	}
	logger.Info("proxy connection verified", "proxy", proxyURL.Redacted())

	return []session.Option{
		session.WithHTTPClient(client),
		session.WithRenderOptions(render.WithProxy(browserProxy(proxyURL))),
	}, nil
}

// browserProxy returns the --proxy-server value for Chromium, which takes
// neither credentials nor the socks5h scheme.
func browserProxy(u *url.URL) string {
	scheme := u.Scheme
	if scheme == "socks5h" {
		scheme = "socks5"
	}
	return scheme + "://" + u.Host
}

// openEventsFile opens the JSON lines destination. "-" selects stdout.
func openEventsFile(path string, stdout io.Writer) (io.Writer, func(), error) {
	if path == stdoutName {
		return stdout, func() {}, nil
	}

	if err := ensureDir(path); err != nil {
		return nil, nil, err
	}
	f, err := os.OpenFile(filepath.Clean(path), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create events file: %w", err)
	}
	return f, func() { _ = f.Close() }, nil //nolint:errcheck // Best effort close
}

// startMetricsServer serves a fresh registry on addr and returns the sink
// that feeds it. The returned function shuts the server down.
func startMetricsServer(addr string, logger *slog.Logger) (*progress.MetricsSink, func(), error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	sink, err := progress.NewMetricsSink(reg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", ln.Addr().String())

	shutdown := func() {
		ctx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn("failed to stop metrics server", "error", err)
		}
	}
	return sink, shutdown, nil
}

// ensureDir creates the parent directory of path.
func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	return nil
}

// outputReport outputs the session report in the requested format.
func outputReport(cfg *config.Config, r *model.SessionReport, stdout io.Writer) error {
	output := stdout
	if cfg.ReportFile != "" {
		if err := ensureDir(cfg.ReportFile); err != nil {
			return err
		}

		// Reports list every crawled URL, so only the owner may read them.
		f, err := os.OpenFile(filepath.Clean(cfg.ReportFile), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		output = f
	}

	_, err := newReportWriter(output, cfg.JSONReport, cfg.MarkdownReport, cfg.Verbose).Write(r)
	return err
}

// newReportWriter picks the report writer for the requested format.
func newReportWriter(w io.Writer, jsonOutput, markdownOutput, verbose bool) report.Writer {
	switch {
	case jsonOutput:
		return report.NewFullJSONWriter(w, getVersion(), report.WithPrettyPrint())
	case markdownOutput:
		return report.NewMarkdownWriter(w)
	default:
		return report.NewSimpleWriter(w, report.WithVerbose(verbose))
	}
}
