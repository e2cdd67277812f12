package progress

import (
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/nao1215/politecrawl/internal/model"
)

// Event types written by JSONLinesSink.
const (
	EventStats      = "stats"
	EventPage       = "page"
	EventLog        = "log"
	EventSessionEnd = "session-end"
)

// Event is one line of the JSON event stream.
type Event struct {
	Type      string    `json:"type"`
	SessionID string    `json:"sessionId,omitempty"`
	Time      time.Time `json:"time"`
	Data      any       `json:"data"`
}

// JSONLinesSink writes one JSON object per event to w.
// Write errors are logged once and further events are dropped.
type JSONLinesSink struct {
	mu     sync.Mutex
	enc    *json.Encoder
	logger *slog.Logger
	failed bool
}

// NewJSONLinesSink creates a JSONLinesSink.
func NewJSONLinesSink(w io.Writer, logger *slog.Logger) *JSONLinesSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &JSONLinesSink{enc: json.NewEncoder(w), logger: logger}
}

// EmitStats implements Sink.
func (j *JSONLinesSink) EmitStats(s model.StatsSnapshot) {
	j.write(Event{Type: EventStats, SessionID: s.SessionID, Data: s})
}

// EmitPage implements Sink.
func (j *JSONLinesSink) EmitPage(p model.PageEnvelope) {
	j.write(Event{Type: EventPage, SessionID: p.SessionID, Data: p.Page})
}

// EmitLog implements Sink.
func (j *JSONLinesSink) EmitLog(e model.LogEvent) {
	j.write(Event{Type: EventLog, SessionID: e.SessionID, Data: e})
}

// EmitSessionEnd implements Sink.
func (j *JSONLinesSink) EmitSessionEnd(id string, stats model.FinalStats) {
	j.write(Event{Type: EventSessionEnd, SessionID: id, Data: stats})
}

func (j *JSONLinesSink) write(e Event) {
	e.Time = time.Now().UTC()

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.failed {
		return
	}
	if err := j.enc.Encode(e); err != nil {
		j.failed = true
		j.logger.Warn("event stream closed", "error", err)
	}
}
