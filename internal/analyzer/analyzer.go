// Package analyzer extracts text, metadata, media and links from a
// fetched page and derives simple text metrics from them.
//
// Main text extraction uses go-trafilatura, falling back to the visible
// body text when trafilatura finds no article. What is extracted depends on
// the crawl method: links and metadata are always produced, text only for
// the content and full methods, and media only for the media and full
// methods.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/markusmobius/go-trafilatura"

	"github.com/nao1215/politecrawl/internal/config"
	"github.com/nao1215/politecrawl/internal/crawler"
	"github.com/nao1215/politecrawl/internal/model"
)

// ErrEmptyContent is returned when there is nothing to analyze.
var ErrEmptyContent = errors.New("empty content")

// Input is what the analysis function receives for one page.
type Input struct {
	// Content is the sanitized page body.
	Content string

	// URL is the page URL, used to resolve relative references.
	URL string

	// ContentType is the response MIME type.
	ContentType string

	// Title and Description come from the fetch and win over extracted values.
	Title       string
	Description string
}

// Func analyzes one page. It is the shape the pipeline calls.
type Func func(ctx context.Context, in Input) (model.AnalysisResult, error)

// Analyzer is the default content analysis.
type Analyzer struct {
	method config.CrawlMethod
}

// New returns an Analyzer for the given crawl method.
func New(method config.CrawlMethod) *Analyzer {
	if !method.Valid() {
		method = config.MethodFull
	}
	return &Analyzer{method: method}
}

// Func returns the analyzer as a Func.
func (a *Analyzer) Func() Func {
	return a.Analyze
}

// Analyze runs the analysis. Non-HTML content only gets text metrics.
func (a *Analyzer) Analyze(ctx context.Context, in Input) (model.AnalysisResult, error) {
	var result model.AnalysisResult
	if strings.TrimSpace(in.Content) == "" {
		return result, ErrEmptyContent
	}
	if err := ctx.Err(); err != nil {
		return result, err
	}

	if !model.IsHTMLContentType(in.ContentType) {
		if a.method.WantsContent() {
			result.ExtractedData.Text = strings.TrimSpace(in.Content)
		}
		result.Metadata.Title = in.Title
		result.Analysis = Metrics(in.Content)
		return result, nil
	}

	parser, err := crawler.NewParser(in.URL)
	if err != nil {
		return result, fmt.Errorf("failed to create parser: %w", err)
	}
	parsed, err := parser.Parse(strings.NewReader(in.Content))
	if err != nil {
		return result, fmt.Errorf("failed to parse page: %w", err)
	}

	result.Links = parsed.Links
	result.Metadata = model.Metadata{
		Title:       firstNonEmpty(in.Title, parsed.Title),
		Description: firstNonEmpty(in.Description, parsed.Description),
		Language:    parsed.Language,
		Canonical:   parsed.Canonical,
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(in.Content))
	if err != nil {
		return result, fmt.Errorf("failed to parse page: %w", err)
	}

	text, meta := extractMain(in)
	if meta != nil {
		result.Metadata.Author = meta.Author
		result.Metadata.SiteName = meta.Sitename
		result.Metadata.Published = meta.Date
		if result.Metadata.Language == "" {
			result.Metadata.Language = meta.Language
		}
		if result.Metadata.Title == "" {
			result.Metadata.Title = meta.Title
		}
		if result.Metadata.Description == "" {
			result.Metadata.Description = meta.Description
		}
	}
	if text == "" {
		text = visibleText(doc)
	}

	if a.method.WantsContent() {
		result.ExtractedData.Text = text
		result.ExtractedData.Headings = Headings(doc)
	}
	if a.method.WantsMedia() {
		result.Media = parsed.Media
	}

	result.Analysis = Metrics(text)
	result.Analysis.Quality = Quality(result, len(parsed.Links))
	return result, nil
}

// extractMain runs trafilatura over the page. A failed extraction yields
// empty text so the caller can fall back to the visible body text.
func extractMain(in Input) (string, *trafilatura.Metadata) {
	opts := trafilatura.Options{}
	if u, err := url.Parse(in.URL); err == nil {
		opts.OriginalURL = u
	}

	res, err := trafilatura.Extract(strings.NewReader(in.Content), opts)
	if err != nil || res == nil {
		return "", nil
	}
	return strings.TrimSpace(res.ContentText), &res.Metadata
}

// Headings returns the text of every h1-h3 element in document order.
func Headings(doc *goquery.Document) []string {
	var out []string
	doc.Find("h1, h2, h3").Each(func(_ int, s *goquery.Selection) {
		if text := strings.Join(strings.Fields(s.Text()), " "); text != "" {
			out = append(out, text)
		}
	})
	return out
}

func visibleText(doc *goquery.Document) string {
	body := doc.Find("body")
	if body.Length() == 0 {
		body = doc.Selection
	}
	body.Find("script, style, noscript, template").Remove()
	return strings.Join(strings.Fields(body.Text()), " ")
}

// Fallback returns the zero analysis carrying err. The pipeline stores it
// when the analysis fails or panics.
func Fallback(err error) model.AnalysisResult {
	var result model.AnalysisResult
	if err != nil {
		result.Errors = []string{err.Error()}
	}
	return result
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
