package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nao1215/politecrawl/internal/config"
	"github.com/nao1215/politecrawl/internal/crawler"
	"github.com/nao1215/politecrawl/internal/database"
	"github.com/nao1215/politecrawl/internal/report"
)

// TestNewCrawlCmd tests the crawl command creation.
func TestNewCrawlCmd(t *testing.T) {
	t.Parallel()

	cmd := NewCrawlCmd()

	t.Run("has correct use", func(t *testing.T) {
		t.Parallel()
		if cmd.Use != "crawl <url>" {
			t.Errorf("expected use 'crawl <url>', got %q", cmd.Use)
		}
	})

	t.Run("requires exactly one argument", func(t *testing.T) {
		t.Parallel()
		if cmd.Args == nil {
			t.Fatal("expected Args validator")
		}
		if err := cmd.Args(cmd, []string{}); err == nil {
			t.Error("expected error without arguments")
		}
		if err := cmd.Args(cmd, []string{"a", "b"}); err == nil {
			t.Error("expected error with two arguments")
		}
	})

	flags := []struct {
		name      string
		shorthand string
		defValue  string
	}{
		{name: "depth", shorthand: "d", defValue: fmt.Sprint(config.DefaultMaxDepth)},
		{name: "max-pages", shorthand: "p", defValue: fmt.Sprint(config.DefaultMaxPages)},
		{name: "method", shorthand: "M", defValue: string(config.MethodFull)},
		{name: "delay", defValue: config.DefaultCrawlDelay.String()},
		{name: "concurrency", shorthand: "n", defValue: fmt.Sprint(config.DefaultMaxConcurrentRequests)},
		{name: "retries", shorthand: "r", defValue: fmt.Sprint(config.DefaultRetryLimit)},
		{name: "respect-robots", defValue: "true"},
		{name: "strict-robots", defValue: "false"},
		{name: "user-agent", shorthand: "A", defValue: config.DefaultUserAgent},
		{name: "timeout", shorthand: "t", defValue: config.DefaultRequestTimeout.String()},
		{name: "dynamic", defValue: "false"},
		{name: "duplicate-filter", defValue: "true"},
		{name: "save-media", defValue: "false"},
		{name: "metadata-only", defValue: "false"},
		{name: "config", shorthand: "c", defValue: ""},
		{name: "no-db", defValue: "false"},
		{name: "json", shorthand: "j", defValue: "false"},
		{name: "markdown", shorthand: "m", defValue: "false"},
		{name: "output", shorthand: "o", defValue: ""},
		{name: "events", defValue: ""},
		{name: "metrics-addr", defValue: ""},
		{name: "browser-bin", defValue: ""},
		{name: "proxy", defValue: ""},
	}
	for _, tt := range flags {
		t.Run("has "+tt.name+" flag", func(t *testing.T) {
			t.Parallel()
			flag := cmd.Flags().Lookup(tt.name)
			if flag == nil {
				t.Fatalf("expected %s flag", tt.name)
			}
			if flag.Shorthand != tt.shorthand {
				t.Errorf("expected shorthand %q, got %q", tt.shorthand, flag.Shorthand)
			}
			if flag.DefValue != tt.defValue {
				t.Errorf("expected default %q, got %q", tt.defValue, flag.DefValue)
			}
		})
	}
}

// TestBuildConfig tests building the configuration from flags.
func TestBuildConfig(t *testing.T) {
	t.Parallel()

	build := func(t *testing.T, args ...string) (*config.Config, error) {
		t.Helper()
		cmd := NewCrawlCmd()
		if err := cmd.ParseFlags(args); err != nil {
			t.Fatalf("failed to parse flags: %v", err)
		}
		v, err := newViper(cmd)
		if err != nil {
			t.Fatalf("failed to bind flags: %v", err)
		}
		return buildConfig(v, cmd.Flags().Args())
	}

	t.Run("reads flags", func(t *testing.T) {
		t.Parallel()

		profile := filepath.Join(t.TempDir(), "profile.yaml")
		if err := os.WriteFile(profile, []byte("sites:\n  example.com:\n    cookie: \"a=1\"\n"), 0600); err != nil {
			t.Fatal(err)
		}

		cfg, err := build(t,
			"--depth", "4",
			"--max-pages", "50",
			"--method", "LINKS",
			"--delay", "250ms",
			"--concurrency", "5",
			"--retries", "1",
			"--respect-robots=false",
			"--strict-robots",
			"--dynamic",
			"--save-media",
			"--no-db",
			"--json",
			"--events", "-",
			"--config", profile,
			"https://example.com/",
		)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		s := cfg.Session
		if s.TargetURL != "https://example.com/" {
			t.Errorf("unexpected target %q", s.TargetURL)
		}
		if s.MaxDepth != 4 || s.MaxPages != 50 {
			t.Errorf("unexpected depth/pages %d/%d", s.MaxDepth, s.MaxPages)
		}
		if s.Method != config.MethodLinks {
			t.Errorf("expected method links, got %q", s.Method)
		}
		if s.CrawlDelay != 250*time.Millisecond {
			t.Errorf("unexpected delay %s", s.CrawlDelay)
		}
		if s.MaxConcurrentRequests != 5 || s.RetryLimit != 1 {
			t.Errorf("unexpected concurrency/retries %d/%d", s.MaxConcurrentRequests, s.RetryLimit)
		}
		if s.RespectRobots || !s.StrictRobots || !s.DynamicRender || !s.SaveMedia {
			t.Errorf("unexpected boolean options %+v", s)
		}
		if cfg.SaveToDB {
			t.Error("expected --no-db to disable persistence")
		}
		if !cfg.JSONReport || cfg.EventsFile != "-" {
			t.Errorf("unexpected report options %+v", cfg)
		}
		if got := cfg.Profile.GetSiteConfig("example.com").Cookie; got != "a=1" {
			t.Errorf("expected profile cookie, got %q", got)
		}
		if !cfg.Profile.Match("https://x.com/home").JSHeavy {
			t.Error("expected built-in profile entries to survive the merge")
		}
	})

	t.Run("missing explicit profile is an error", func(t *testing.T) {
		t.Parallel()

		_, err := build(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "https://example.com/")
		if err == nil {
			t.Fatal("expected error")
		}
		if !strings.Contains(err.Error(), "not found") {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("conflicting formats fail validation", func(t *testing.T) {
		t.Parallel()

		profile := filepath.Join(t.TempDir(), "profile.yaml")
		if err := os.WriteFile(profile, []byte("sites: {}\n"), 0600); err != nil {
			t.Fatal(err)
		}
		cfg, err := build(t, "--json", "--markdown", "--config", profile, "https://example.com/")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := cfg.Validate(); err == nil {
			t.Error("expected validation error")
		}
	})
}

// newTestSite serves a tiny site with three linked pages.
func newTestSite(t *testing.T) *httptest.Server {
	t.Helper()

	pages := map[string]string{
		"/":  `<html><head><title>Home</title></head><body><a href="/a">A</a> <a href="/b">B</a></body></html>`,
		"/a": `<html><head><title>A</title></head><body><p>alpha page</p><a href="/">home</a></body></html>`,
		"/b": `<html><head><title>B</title></head><body><p>beta page</p></body></html>`,
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := pages[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// emptyProfile writes a profile so tests never pick up a user's .politecrawl.
func emptyProfile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "profile.yaml")
	if err := os.WriteFile(path, []byte("sites: {}\n"), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

// TestCrawlCommand runs complete crawls through the root command.
// Subtests are sequential because the command installs the default logger.
func TestCrawlCommand(t *testing.T) {
	srv := newTestSite(t)

	t.Run("json report without database", func(t *testing.T) {
		var stdout, stderr bytes.Buffer
		root := NewRootCmd()
		root.SetOut(&stdout)
		root.SetErr(&stderr)
		root.SetArgs([]string{"crawl",
			"--no-db", "--json", "--delay", "0s", "--retries", "0",
			"--config", emptyProfile(t),
			srv.URL + "/",
		})

		if err := root.Execute(); err != nil {
			t.Fatalf("unexpected error: %v (stderr: %s)", err, stderr.String())
		}

		var got report.JSONReport
		if err := json.Unmarshal(stdout.Bytes(), &got); err != nil {
			t.Fatalf("invalid JSON report: %v\n%s", err, stdout.String())
		}
		if got.Status != "complete" {
			t.Errorf("expected complete status, got %q", got.Status)
		}
		if got.Report == nil || len(got.Report.Pages) != 3 {
			t.Fatalf("expected 3 pages, got %+v", got.Report)
		}
		if !strings.Contains(stderr.String(), "Crawling") {
			t.Errorf("expected progress line on stderr, got %q", stderr.String())
		}
	})

	t.Run("persists session and writes events", func(t *testing.T) {
		dir := t.TempDir()
		dbDir := filepath.Join(dir, "db")
		eventsPath := filepath.Join(dir, "events", "events.jsonl")
		reportPath := filepath.Join(dir, "out", "report.md")

		root := NewRootCmd()
		root.SetOut(&bytes.Buffer{})
		root.SetErr(&bytes.Buffer{})
		root.SetArgs([]string{"crawl",
			"--db-dir", dbDir, "--markdown", "-o", reportPath,
			"--events", eventsPath, "--delay", "0s", "--retries", "0",
			"--config", emptyProfile(t),
			srv.URL + "/",
		})
		if err := root.Execute(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		md, err := os.ReadFile(reportPath)
		if err != nil {
			t.Fatalf("report not written: %v", err)
		}
		if !strings.Contains(string(md), "# Crawl Report") {
			t.Errorf("unexpected markdown report:\n%s", md)
		}

		events, err := os.ReadFile(eventsPath)
		if err != nil {
			t.Fatalf("events not written: %v", err)
		}
		lines := strings.Split(strings.TrimSpace(string(events)), "\n")
		if len(lines) < 3 {
			t.Fatalf("expected several events, got %d", len(lines))
		}
		for _, line := range lines {
			if !json.Valid([]byte(line)) {
				t.Errorf("invalid event line %q", line)
			}
		}

		db, err := database.Open(dbDir, database.DefaultOptions())
		if err != nil {
			t.Fatal(err)
		}
		defer db.Close()
		sessions, err := db.ListSessions(t.Context(), 0)
		if err != nil {
			t.Fatal(err)
		}
		if len(sessions) != 1 || sessions[0].PagesScanned != 3 {
			t.Errorf("unexpected stored sessions %+v", sessions)
		}
	})

	t.Run("rejects invalid target", func(t *testing.T) {
		root := NewRootCmd()
		root.SetOut(&bytes.Buffer{})
		root.SetErr(&bytes.Buffer{})
		root.SetArgs([]string{"crawl", "--no-db", "--config", emptyProfile(t), "ftp://example.com/"})
		if err := root.Execute(); err == nil {
			t.Error("expected error for an ftp target")
		}
	})
}

// TestSetupProxy tests proxy validation before a crawl.
func TestSetupProxy(t *testing.T) {
	t.Parallel()

	t.Run("invalid address", func(t *testing.T) {
		t.Parallel()

		_, err := setupProxy(t.Context(), "not a proxy", discardLogger())
		if !errors.Is(err, crawler.ErrInvalidProxy) {
			t.Errorf("expected ErrInvalidProxy, got %v", err)
		}
	})

	t.Run("unreachable proxy", func(t *testing.T) {
		t.Parallel()

		ln, err := net.Listen("tcp", "127.0.0.1:0") //nolint:noctx // test code
		if err != nil {
			t.Fatal(err)
		}
		addr := ln.Addr().String()
		_ = ln.Close() //nolint:errcheck // test code

		_, err = setupProxy(t.Context(), addr, discardLogger())
		if !errors.Is(err, crawler.ErrProxyCannotConnect) {
			t.Errorf("expected ErrProxyCannotConnect, got %v", err)
		}
	})
}

// TestBrowserProxy tests the Chromium proxy-server value.
func TestBrowserProxy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw  string
		want string
	}{
		{"127.0.0.1:9050", "socks5://127.0.0.1:9050"},
		{"socks5h://user:pw@proxy.local:1080", "socks5://proxy.local:1080"},
		{"http://proxy.local:3128", "http://proxy.local:3128"},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			t.Parallel()

			u, err := crawler.ParseProxy(tt.raw)
			if err != nil {
				t.Fatal(err)
			}
			if got := browserProxy(u); got != tt.want {
				t.Errorf("browserProxy() = %q, want %q", got, tt.want)
			}
		})
	}
}
