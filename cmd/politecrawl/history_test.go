package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/nao1215/politecrawl/internal/database"
	"github.com/nao1215/politecrawl/internal/model"
	"github.com/nao1215/politecrawl/internal/report"
)

// seedHistory stores two sessions and returns the database directory.
func seedHistory(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	db, err := database.Open(dir, database.DefaultOptions())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, target := range []string{"https://a.example/", "https://b.example/"} {
		r := model.NewSessionReport("session-"+string(rune('a'+i)), target)
		r.StartedAt = start.Add(time.Duration(i) * time.Hour)
		r.FinishedAt = r.StartedAt.Add(90 * time.Second)
		r.Stats.PagesScanned = int64(10 * (i + 1))
		r.Stats.SuccessCount = r.Stats.PagesScanned
		r.Pages = []model.PageSummary{{URL: target, Title: "Home", StatusCode: 200}}
		if err := db.SaveSession(t.Context(), r); err != nil {
			t.Fatalf("failed to save session: %v", err)
		}
	}
	return dir
}

// TestNewHistoryCmd tests the history command creation.
func TestNewHistoryCmd(t *testing.T) {
	t.Parallel()

	cmd := NewHistoryCmd()
	if cmd.Use != "history [session-id]" {
		t.Errorf("unexpected use %q", cmd.Use)
	}
	for _, name := range []string{"limit", "db-dir", "json", "markdown"} {
		if cmd.Flags().Lookup(name) == nil {
			t.Errorf("expected %s flag", name)
		}
	}
}

// TestRunHistoryCmd tests listing and showing stored sessions.
func TestRunHistoryCmd(t *testing.T) {
	t.Parallel()

	dbDir := seedHistory(t)

	run := func(t *testing.T, args ...string) (string, error) {
		t.Helper()
		var out bytes.Buffer
		cmd := NewHistoryCmd()
		cmd.SetOut(&out)
		cmd.SetErr(&bytes.Buffer{})
		cmd.SetArgs(append([]string{"--db-dir", dbDir}, args...))
		err := cmd.Execute()
		return out.String(), err
	}

	t.Run("lists newest first", func(t *testing.T) {
		t.Parallel()

		out, err := run(t)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(out, "Crawl sessions (2)") {
			t.Errorf("unexpected header:\n%s", out)
		}
		a := strings.Index(out, "session-a")
		b := strings.Index(out, "session-b")
		if a < 0 || b < 0 || b > a {
			t.Errorf("expected session-b before session-a:\n%s", out)
		}
		if !strings.Contains(out, "1m30s") {
			t.Errorf("expected duration in listing:\n%s", out)
		}
	})

	t.Run("respects limit", func(t *testing.T) {
		t.Parallel()

		out, err := run(t, "--limit", "1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if strings.Contains(out, "session-a") || !strings.Contains(out, "session-b") {
			t.Errorf("unexpected listing:\n%s", out)
		}
	})

	t.Run("shows one session as JSON", func(t *testing.T) {
		t.Parallel()

		out, err := run(t, "--json", "session-a")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		var got report.JSONReport
		if err := json.Unmarshal([]byte(out), &got); err != nil {
			t.Fatalf("invalid JSON: %v\n%s", err, out)
		}
		if got.Report.Target != "https://a.example/" {
			t.Errorf("unexpected target %q", got.Report.Target)
		}
	})

	t.Run("shows one session as text", func(t *testing.T) {
		t.Parallel()

		out, err := run(t, "session-b")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(out, "POLITECRAWL REPORT") || !strings.Contains(out, "https://b.example/") {
			t.Errorf("unexpected report:\n%s", out)
		}
	})

	t.Run("unknown session", func(t *testing.T) {
		t.Parallel()

		_, err := run(t, "nope")
		if err == nil || !strings.Contains(err.Error(), "not found") {
			t.Errorf("expected not found error, got %v", err)
		}
	})

	t.Run("conflicting formats", func(t *testing.T) {
		t.Parallel()

		if _, err := run(t, "--json", "--markdown", "session-a"); err == nil {
			t.Error("expected error")
		}
	})
}

// TestRunHistoryCmd_Empty tests the message for an empty database.
func TestRunHistoryCmd_Empty(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	cmd := NewHistoryCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--db-dir", t.TempDir()})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out.String(), "No crawl sessions found") {
		t.Errorf("unexpected output %q", out.String())
	}
}

// TestFormatDuration tests session duration formatting.
func TestFormatDuration(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name     string
		finished time.Time
		want     string
	}{
		{name: "finished", finished: start.Add(75 * time.Second), want: "1m15s"},
		{name: "unfinished", finished: time.Time{}, want: "-"},
		{name: "clock skew", finished: start.Add(-time.Second), want: "-"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := formatDuration(start, tt.finished); got != tt.want {
				t.Errorf("formatDuration() = %q, want %q", got, tt.want)
			}
		})
	}
}
