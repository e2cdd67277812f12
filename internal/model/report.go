package model

import "time"

// SessionReport is the final report of one crawl session.
// It is written by the report package and stored in the sessions table.
type SessionReport struct {
	// SessionID is the unique session identifier.
	SessionID string `json:"sessionId"`

	// Target is the normalized seed URL.
	Target string `json:"target"`

	// StartedAt is when the session started.
	StartedAt time.Time `json:"startedAt"`

	// FinishedAt is when the session ended.
	FinishedAt time.Time `json:"finishedAt"`

	// StoppedEarly is true when the session was stopped before the queue drained.
	StoppedEarly bool `json:"stoppedEarly"`

	// RenderNotice explains why dynamic rendering was unavailable, if it was.
	RenderNotice string `json:"renderNotice,omitempty"`

	// Options is a free-form view of the session options.
	Options map[string]any `json:"options,omitempty"`

	// Stats holds the final statistics.
	Stats FinalStats `json:"stats"`

	// Pages lists the pages fetched in this session.
	Pages []PageSummary `json:"pages,omitempty"`
}

// NewSessionReport creates an empty report for a session.
func NewSessionReport(sessionID, target string) *SessionReport {
	return &SessionReport{
		SessionID: sessionID,
		Target:    target,
		StartedAt: time.Now(),
		Pages:     make([]PageSummary, 0),
	}
}

// Status returns a short description of how the session ended.
func (r *SessionReport) Status() string {
	switch {
	case r.StoppedEarly:
		return "stopped"
	case r.Stats.FailureCount > 0 && r.Stats.SuccessCount == 0:
		return "failed"
	default:
		return "complete"
	}
}
