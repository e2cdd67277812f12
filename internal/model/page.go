package model

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// FetchResult is the outcome of fetching one URL, either through the
// headless renderer or a static HTTP GET.
type FetchResult struct {
	// Content is the HTML or text body, decoded to UTF-8.
	Content string `json:"content"`

	// StatusCode is the HTTP status of the main document.
	StatusCode int `json:"statusCode"`

	// ContentType is the MIME type reported by the server.
	ContentType string `json:"contentType"`

	// ContentLength is the number of body bytes read.
	ContentLength int64 `json:"contentLength"`

	// Title is the document title.
	Title string `json:"title,omitempty"`

	// Description is the meta description.
	Description string `json:"description,omitempty"`

	// LastModified is the Last-Modified response header, verbatim.
	LastModified string `json:"lastModified,omitempty"`

	// FinalURL is the URL after redirects. Empty when unchanged.
	FinalURL string `json:"finalUrl,omitempty"`

	// IsDynamic is true when the content came from the headless renderer.
	IsDynamic bool `json:"isDynamic"`
}

// IsHTML reports whether the result carries an HTML document.
func (r *FetchResult) IsHTML() bool {
	return IsHTMLContentType(r.ContentType)
}

// IsHTMLContentType reports whether a Content-Type header denotes HTML.
// An empty content type is treated as HTML since most servers that omit
// it serve pages.
func IsHTMLContentType(contentType string) bool {
	ct := strings.ToLower(contentType)
	return ct == "" || strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml")
}

// PageRecord is the persisted crawl fact for one URL.
// Records are upserted by URL, so re-crawling a page updates it in place.
type PageRecord struct {
	// ID is the database identifier, set after persistence.
	ID int64 `json:"id,omitempty"`

	// SessionID is the session that last wrote this record.
	SessionID string `json:"sessionId"`

	URL           string `json:"url"`
	ParentURL     string `json:"parentUrl,omitempty"`
	Depth         int    `json:"depth"`
	StatusCode    int    `json:"statusCode"`
	ContentType   string `json:"contentType"`
	ContentLength int64  `json:"contentLength"`
	Title         string `json:"title,omitempty"`
	Description   string `json:"description,omitempty"`
	LastModified  string `json:"lastModified,omitempty"`
	IsDynamic     bool   `json:"isDynamic"`

	// Content is the raw fetched body. Empty in metadata-only sessions.
	Content string `json:"content,omitempty"`

	// ContentHash is the SHA-256 of the fetched body.
	ContentHash string `json:"contentHash"`

	// Analysis is the content analysis output, or its fallback.
	Analysis AnalysisResult `json:"analysis"`

	// CrawledAt is when the page was fetched.
	CrawledAt time.Time `json:"crawledAt"`
}

// NewPageRecord builds a record from a fetch result.
func NewPageRecord(sessionID string, item WorkItem, res *FetchResult, crawledAt time.Time) *PageRecord {
	return &PageRecord{
		SessionID:     sessionID,
		URL:           item.URL,
		ParentURL:     item.ParentURL,
		Depth:         item.Depth,
		StatusCode:    res.StatusCode,
		ContentType:   res.ContentType,
		ContentLength: res.ContentLength,
		Title:         res.Title,
		Description:   res.Description,
		LastModified:  res.LastModified,
		IsDynamic:     res.IsDynamic,
		Content:       res.Content,
		ContentHash:   HashContent(res.Content),
		CrawledAt:     crawledAt,
	}
}

// HashContent returns the hex encoded SHA-256 of content.
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// PageSummary is the short form of a page used by progress events and reports.
type PageSummary struct {
	URL        string `json:"url"`
	Title      string `json:"title,omitempty"`
	StatusCode int    `json:"statusCode"`
	Depth      int    `json:"depth"`
	Links      int    `json:"links"`
	WordCount  int    `json:"wordCount"`
	IsDynamic  bool   `json:"isDynamic"`
}

// Summary returns the short form of the record.
func (p *PageRecord) Summary() PageSummary {
	return PageSummary{
		URL:        p.URL,
		Title:      p.Title,
		StatusCode: p.StatusCode,
		Depth:      p.Depth,
		Links:      len(p.Analysis.Links),
		WordCount:  p.Analysis.Analysis.WordCount,
		IsDynamic:  p.IsDynamic,
	}
}

// PageEnvelope is the full page event sent to progress consumers.
type PageEnvelope struct {
	SessionID string      `json:"sessionId"`
	Page      *PageRecord `json:"page"`
}
