// Package progress delivers live crawl events to consumers.
//
// Delivery is fire-and-forget: a Sink must not block the crawl and has no
// way to report failure back. Several sinks can be combined with Multi.
package progress

import (
	"sync"

	"github.com/nao1215/politecrawl/internal/model"
)

// Sink receives session events. Implementations must be safe for
// concurrent use.
type Sink interface {
	// EmitStats delivers a statistics snapshot.
	EmitStats(snapshot model.StatsSnapshot)

	// EmitPage delivers a fully processed page.
	EmitPage(page model.PageEnvelope)

	// EmitLog delivers a human readable log line.
	EmitLog(event model.LogEvent)

	// EmitSessionEnd delivers the final statistics. It is sent once per session.
	EmitSessionEnd(sessionID string, stats model.FinalStats)
}

// Discard is a Sink that drops every event.
var Discard Sink = discard{}

type discard struct{}

func (discard) EmitStats(model.StatsSnapshot) {}
func (discard) EmitPage(model.PageEnvelope) {}
func (discard) EmitLog(model.LogEvent) {}
func (discard) EmitSessionEnd(string, model.FinalStats) {}

// Multi fans every event out to sinks in order. Nil sinks are skipped.
func Multi(sinks ...Sink) Sink {
	out := make(multi, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

type multi []Sink

func (m multi) EmitStats(s model.StatsSnapshot) {
	for _, sink := range m {
		sink.EmitStats(s)
	}
}

func (m multi) EmitPage(p model.PageEnvelope) {
	for _, sink := range m {
		sink.EmitPage(p)
	}
}

func (m multi) EmitLog(e model.LogEvent) {
	for _, sink := range m {
		sink.EmitLog(e)
	}
}

func (m multi) EmitSessionEnd(id string, stats model.FinalStats) {
	for _, sink := range m {
		sink.EmitSessionEnd(id, stats)
	}
}

// SessionEnd is a recorded session-end event.
type SessionEnd struct {
	SessionID string
	Stats     model.FinalStats
}

// Recorder keeps every event in memory.
type Recorder struct {
	mu    sync.Mutex
	stats []model.StatsSnapshot
	pages []model.PageEnvelope
	logs  []model.LogEvent
	ends  []SessionEnd
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// EmitStats implements Sink.
func (r *Recorder) EmitStats(s model.StatsSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats = append(r.stats, s)
}

// EmitPage implements Sink.
func (r *Recorder) EmitPage(p model.PageEnvelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pages = append(r.pages, p)
}

// EmitLog implements Sink.
func (r *Recorder) EmitLog(e model.LogEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, e)
}

// EmitSessionEnd implements Sink.
func (r *Recorder) EmitSessionEnd(id string, stats model.FinalStats) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ends = append(r.ends, SessionEnd{SessionID: id, Stats: stats})
}

// Stats returns the recorded snapshots.
func (r *Recorder) Stats() []model.StatsSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.StatsSnapshot(nil), r.stats...)
}

// Pages returns the recorded pages.
func (r *Recorder) Pages() []model.PageEnvelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.PageEnvelope(nil), r.pages...)
}

// Logs returns the recorded log events.
func (r *Recorder) Logs() []model.LogEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.LogEvent(nil), r.logs...)
}

// SessionEnds returns the recorded session-end events.
func (r *Recorder) SessionEnds() []SessionEnd {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]SessionEnd(nil), r.ends...)
}
