package progress

import (
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/nao1215/politecrawl/internal/model"
)

// DefaultStatsInterval is the minimum gap between two logged stats lines.
const DefaultStatsInterval = 2 * time.Second

// LogSink writes events to a slog.Logger.
// Stats snapshots arrive several times a second, so only one per interval
// is logged. Snapshots carrying a message are always logged.
type LogSink struct {
	logger    *slog.Logger
	sometimes *rate.Sometimes
}

// NewLogSink creates a LogSink. A non-positive interval uses DefaultStatsInterval.
func NewLogSink(logger *slog.Logger, interval time.Duration) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = DefaultStatsInterval
	}
	return &LogSink{
		logger:    logger,
		sometimes: &rate.Sometimes{First: 1, Interval: interval},
	}
}

// EmitStats implements Sink.
func (l *LogSink) EmitStats(s model.StatsSnapshot) {
	if s.Message != "" {
		l.logger.Info(s.Message,
			"scanned", s.Counters.PagesScanned,
			"failed", s.Counters.FailureCount,
			"skipped", s.Counters.SkippedCount,
		)
		return
	}
	l.sometimes.Do(func() {
		l.logger.Info("crawl progress",
			"session", s.SessionID,
			"scanned", s.Counters.PagesScanned,
			"links", s.Counters.LinksFound,
			"active", s.Active,
			"queued", s.Queued,
			"retries", s.PendingRetries,
			"pages_per_second", s.PagesPerSecond,
		)
	})
}

// EmitPage implements Sink.
func (l *LogSink) EmitPage(p model.PageEnvelope) {
	if p.Page == nil {
		return
	}
	l.logger.Debug("page processed",
		"url", p.Page.URL,
		"status", p.Page.StatusCode,
		"depth", p.Page.Depth,
		"dynamic", p.Page.IsDynamic,
		"links", len(p.Page.Analysis.Links),
	)
}

// EmitLog implements Sink.
func (l *LogSink) EmitLog(e model.LogEvent) {
	attrs := []any{"session", e.SessionID}
	if e.URL != "" {
		attrs = append(attrs, "url", e.URL)
	}
	switch e.Level {
	case model.LogError:
		l.logger.Error(e.Message, attrs...)
	case model.LogWarn:
		l.logger.Warn(e.Message, attrs...)
	default:
		l.logger.Info(e.Message, attrs...)
	}
}

// EmitSessionEnd implements Sink.
func (l *LogSink) EmitSessionEnd(id string, stats model.FinalStats) {
	l.logger.Info("session finished",
		"session", id,
		"scanned", stats.PagesScanned,
		"success", stats.SuccessCount,
		"failed", stats.FailureCount,
		"skipped", stats.SkippedCount,
		"success_rate", stats.SuccessRate,
		"elapsed", stats.ElapsedTime.Duration().String(),
	)
}
