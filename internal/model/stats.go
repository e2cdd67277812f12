package model

import (
	"math"
	"time"
)

// Counters are the running statistics of a session.
// Every counter only ever grows.
type Counters struct {
	PagesScanned int64 `json:"pagesScanned"`
	LinksFound   int64 `json:"linksFound"`
	MediaFiles   int64 `json:"mediaFiles"`
	SuccessCount int64 `json:"successCount"`
	FailureCount int64 `json:"failureCount"`
	SkippedCount int64 `json:"skippedCount"`
	TotalBytes   int64 `json:"totalBytes"`
}

// StatsSnapshot is a point-in-time view of a running session.
type StatsSnapshot struct {
	SessionID      string        `json:"sessionId"`
	Counters       Counters      `json:"stats"`
	Active         int           `json:"active"`
	Queued         int           `json:"queued"`
	PendingRetries int           `json:"pendingRetries"`
	Elapsed        time.Duration `json:"elapsed"`
	PagesPerSecond float64       `json:"pagesPerSecond"`

	// Message is a human readable progress line. Empty for scheduler ticks.
	Message string `json:"message,omitempty"`

	// LastProcessed summarizes the page that produced this snapshot.
	LastProcessed *PageSummary `json:"lastProcessed,omitempty"`
}

// LogLevel is the severity of a LogEvent.
type LogLevel string

// Log levels.
const (
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// LogEvent is a human readable line sent to progress consumers.
type LogEvent struct {
	SessionID string    `json:"sessionId"`
	Level     LogLevel  `json:"level"`
	Message   string    `json:"message"`
	URL       string    `json:"url,omitempty"`
	Time      time.Time `json:"time"`
}

// ElapsedTime is a duration split into hours, minutes and seconds.
type ElapsedTime struct {
	Hours   int `json:"hours"`
	Minutes int `json:"minutes"`
	Seconds int `json:"seconds"`
}

// NewElapsedTime splits d, truncated to whole seconds.
func NewElapsedTime(d time.Duration) ElapsedTime {
	total := int(d / time.Second)
	return ElapsedTime{
		Hours:   total / 3600,
		Minutes: (total % 3600) / 60,
		Seconds: total % 60,
	}
}

// Duration returns the elapsed time as a time.Duration.
func (e ElapsedTime) Duration() time.Duration {
	return time.Duration(e.Hours)*time.Hour +
		time.Duration(e.Minutes)*time.Minute +
		time.Duration(e.Seconds)*time.Second
}

// FinalStats is the end-of-session statistics shape.
type FinalStats struct {
	PagesScanned   int64       `json:"pagesScanned"`
	LinksFound     int64       `json:"linksFound"`
	TotalData      float64     `json:"totalData"` // kilobytes
	MediaFiles     int64       `json:"mediaFiles"`
	SuccessCount   int64       `json:"successCount"`
	FailureCount   int64       `json:"failureCount"`
	SkippedCount   int64       `json:"skippedCount"`
	ElapsedTime    ElapsedTime `json:"elapsedTime"`
	PagesPerSecond float64     `json:"pagesPerSecond"`
	SuccessRate    float64     `json:"successRate"` // percent
}

// NewFinalStats computes the final statistics from counters and elapsed time.
func NewFinalStats(c Counters, elapsed time.Duration) FinalStats {
	attempts := c.SuccessCount + c.FailureCount
	var rate float64
	if attempts > 0 {
		rate = round2(float64(c.SuccessCount) / float64(attempts) * 100)
	}
	return FinalStats{
		PagesScanned:   c.PagesScanned,
		LinksFound:     c.LinksFound,
		TotalData:      round2(float64(c.TotalBytes) / 1024),
		MediaFiles:     c.MediaFiles,
		SuccessCount:   c.SuccessCount,
		FailureCount:   c.FailureCount,
		SkippedCount:   c.SkippedCount,
		ElapsedTime:    NewElapsedTime(elapsed),
		PagesPerSecond: PagesPerSecond(c.PagesScanned, elapsed),
		SuccessRate:    rate,
	}
}

// PagesPerSecond returns the throughput rounded to four decimals, so a
// slow crawl of a few pages per hour still reports a non-zero rate.
func PagesPerSecond(pages int64, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return roundTo(float64(pages)/elapsed.Seconds(), 4)
}

func round2(v float64) float64 {
	return roundTo(v, 2)
}

func roundTo(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}
