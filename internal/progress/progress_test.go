package progress

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/nao1215/politecrawl/internal/model"
)

func testPage() model.PageEnvelope {
	return model.PageEnvelope{
		SessionID: "s1",
		Page: &model.PageRecord{
			URL:        "https://example.com/",
			StatusCode: 200,
			IsDynamic:  true,
		},
	}
}

// TestMulti tests event fan-out.
func TestMulti(t *testing.T) {
	t.Parallel()

	a, b := NewRecorder(), NewRecorder()
	sink := Multi(a, nil, b)

	sink.EmitStats(model.StatsSnapshot{SessionID: "s1"})
	sink.EmitPage(testPage())
	sink.EmitLog(model.LogEvent{Message: "hello"})
	sink.EmitSessionEnd("s1", model.FinalStats{PagesScanned: 3})

	for name, r := range map[string]*Recorder{"a": a, "b": b} {
		if len(r.Stats()) != 1 || len(r.Pages()) != 1 || len(r.Logs()) != 1 {
			t.Errorf("%s: expected one event of each kind", name)
		}
		ends := r.SessionEnds()
		if len(ends) != 1 || ends[0].SessionID != "s1" || ends[0].Stats.PagesScanned != 3 {
			t.Errorf("%s: unexpected session end %+v", name, ends)
		}
	}

	// Discard accepts everything.
	Discard.EmitStats(model.StatsSnapshot{})
	Discard.EmitSessionEnd("", model.FinalStats{})
}

// TestLogSink tests the slog sink.
func TestLogSink(t *testing.T) {
	t.Parallel()

	t.Run("throttles stats lines", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		sink := NewLogSink(slog.New(slog.NewTextHandler(&buf, nil)), time.Hour)

		for range 5 {
			sink.EmitStats(model.StatsSnapshot{SessionID: "s1", Active: 1})
		}

		if got := strings.Count(buf.String(), "crawl progress"); got != 1 {
			t.Errorf("expected 1 progress line, got %d", got)
		}
	})

	t.Run("always logs messages", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		sink := NewLogSink(slog.New(slog.NewTextHandler(&buf, nil)), time.Hour)

		sink.EmitStats(model.StatsSnapshot{Message: "processed https://example.com/a"})
		sink.EmitStats(model.StatsSnapshot{Message: "processed https://example.com/b"})

		if got := strings.Count(buf.String(), "processed"); got != 2 {
			t.Errorf("expected 2 message lines, got %d", got)
		}
	})

	t.Run("maps log levels", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		sink := NewLogSink(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})), 0)

		sink.EmitLog(model.LogEvent{Level: model.LogError, Message: "fetch failed", URL: "https://example.com/"})
		sink.EmitLog(model.LogEvent{Level: model.LogWarn, Message: "retrying"})
		sink.EmitPage(testPage())
		sink.EmitSessionEnd("s1", model.FinalStats{})

		out := buf.String()
		for _, want := range []string{"level=ERROR", "level=WARN", "page processed", "session finished"} {
			if !strings.Contains(out, want) {
				t.Errorf("expected %q in output: %s", want, out)
			}
		}
	})
}

// TestMetricsSink tests Prometheus export.
func TestMetricsSink(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewMetricsSink(reg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sink.EmitStats(model.StatsSnapshot{
		Counters: model.Counters{PagesScanned: 4, LinksFound: 10},
		Active:   2,
		Queued:   7,
	})
	sink.EmitPage(testPage())
	sink.EmitLog(model.LogEvent{Level: model.LogError})

	if got := testutil.ToFloat64(sink.Counters.WithLabelValues("pages_scanned")); got != 4 {
		t.Errorf("expected 4 pages, got %v", got)
	}
	if got := testutil.ToFloat64(sink.QueueLength); got != 7 {
		t.Errorf("expected queue length 7, got %v", got)
	}
	if got := testutil.ToFloat64(sink.Pages.WithLabelValues("true", "200")); got != 1 {
		t.Errorf("expected 1 dynamic page, got %v", got)
	}
	if got := testutil.ToFloat64(sink.LogEvents.WithLabelValues("error")); got != 1 {
		t.Errorf("expected 1 error event, got %v", got)
	}

	sink.EmitSessionEnd("s1", model.FinalStats{PagesScanned: 5})
	if got := testutil.ToFloat64(sink.ActiveRequests); got != 0 {
		t.Errorf("expected active requests reset, got %v", got)
	}
	if got := testutil.ToFloat64(sink.Sessions); got != 1 {
		t.Errorf("expected 1 finished session, got %v", got)
	}

	if _, err := NewMetricsSink(reg); err == nil {
		t.Error("expected duplicate registration to fail")
	}
}

// failingWriter fails every write.
type failingWriter struct{ writes int }

func (w *failingWriter) Write([]byte) (int, error) {
	w.writes++
	return 0, errors.New("broken pipe")
}

// TestJSONLinesSink tests the JSON event stream.
func TestJSONLinesSink(t *testing.T) {
	t.Parallel()

	t.Run("writes one event per line", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		sink := NewJSONLinesSink(&buf, nil)

		sink.EmitStats(model.StatsSnapshot{SessionID: "s1"})
		sink.EmitPage(testPage())
		sink.EmitLog(model.LogEvent{SessionID: "s1", Message: "hi"})
		sink.EmitSessionEnd("s1", model.FinalStats{PagesScanned: 1})

		var types []string
		sc := bufio.NewScanner(&buf)
		for sc.Scan() {
			var e struct {
				Type      string          `json:"type"`
				SessionID string          `json:"sessionId"`
				Data      json.RawMessage `json:"data"`
			}
			if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
				t.Fatalf("invalid line %q: %v", sc.Text(), err)
			}
			if e.SessionID != "s1" {
				t.Errorf("expected session s1, got %q", e.SessionID)
			}
			types = append(types, e.Type)
		}

		want := []string{EventStats, EventPage, EventLog, EventSessionEnd}
		if strings.Join(types, ",") != strings.Join(want, ",") {
			t.Errorf("expected %v, got %v", want, types)
		}
	})

	t.Run("stops after write error", func(t *testing.T) {
		t.Parallel()

		w := &failingWriter{}
		sink := NewJSONLinesSink(w, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
		sink.EmitLog(model.LogEvent{})
		sink.EmitLog(model.LogEvent{})

		if w.writes != 1 {
			t.Errorf("expected 1 write attempt, got %d", w.writes)
		}
	})
}
