package model

import "time"

// AnalysisResult is the output of the content analysis function.
// Every section is optional; a zero value is a valid "nothing extracted" result.
type AnalysisResult struct {
	ExtractedData ExtractedData `json:"extractedData"`
	Metadata      Metadata      `json:"metadata"`
	Analysis      Analysis      `json:"analysis"`
	Media         []Media       `json:"media,omitempty"`
	Links         []Link        `json:"links,omitempty"`
	Errors        []string      `json:"errors,omitempty"`
}

// ExtractedData holds the main content of a page.
type ExtractedData struct {
	Text     string   `json:"text,omitempty"`
	Headings []string `json:"headings,omitempty"`
}

// Metadata holds document level metadata.
type Metadata struct {
	Title       string    `json:"title,omitempty"`
	Description string    `json:"description,omitempty"`
	Author      string    `json:"author,omitempty"`
	SiteName    string    `json:"siteName,omitempty"`
	Language    string    `json:"language,omitempty"`
	Canonical   string    `json:"canonical,omitempty"`
	Published   time.Time `json:"published,omitzero"`
}

// Analysis holds derived text metrics.
type Analysis struct {
	WordCount   int     `json:"wordCount"`
	ReadingTime int     `json:"readingTimeSeconds"`
	Sentiment   float64 `json:"sentiment"`
	Quality     int     `json:"quality"`
}

// MediaType classifies a media reference.
type MediaType string

// Media types.
const (
	MediaImage MediaType = "image"
	MediaVideo MediaType = "video"
	MediaAudio MediaType = "audio"
)

// Media is a media reference found on a page.
type Media struct {
	URL  string    `json:"url"`
	Type MediaType `json:"type"`
	Alt  string    `json:"alt,omitempty"`
}

// Link is an outbound link found on a page.
type Link struct {
	URL      string `json:"url"`
	Text     string `json:"text,omitempty"`
	Rel      string `json:"rel,omitempty"`
	Internal bool   `json:"internal"`
}
